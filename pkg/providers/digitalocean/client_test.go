package digitalocean

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-token", WithBaseURL(srv.URL)), srv
}

func TestClientSendsBearerToken(t *testing.T) {
	var gotAuth string
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	})

	if err := client.ValidateToken(context.Background()); err != nil {
		t.Fatalf("ValidateToken() failed: %v", err)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestValidateTokenRejected(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	if err := client.ValidateToken(context.Background()); err == nil {
		t.Fatal("ValidateToken() accepted a rejected token")
	}
}

func TestUploadSSHKey(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/account/keys" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if body["public_key"] == "" {
			t.Error("public_key missing from request")
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"ssh_key": map[string]interface{}{"id": 12345},
		})
	})

	id, err := client.UploadSSHKey(context.Background(), "wgforge-key", "ssh-ed25519 AAAA...")
	if err != nil {
		t.Fatalf("UploadSSHKey() failed: %v", err)
	}
	if id != 12345 {
		t.Errorf("id = %d, want 12345", id)
	}
}

func TestCreateDroplet(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["image"] != "ubuntu-22-04-x64" {
			t.Errorf("image = %v", body["image"])
		}
		if body["region"] != "nyc1" {
			t.Errorf("region = %v", body["region"])
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"droplet": map[string]interface{}{"id": 777, "status": "new"},
		})
	})

	id, err := client.CreateDroplet(context.Background(), "wgforge-server", "nyc1", "s-1vcpu-1gb", 12345)
	if err != nil {
		t.Fatalf("CreateDroplet() failed: %v", err)
	}
	if id != 777 {
		t.Errorf("id = %d, want 777", id)
	}
}

func TestGetDropletPublicIP(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"droplet": map[string]interface{}{
				"id":     777,
				"status": "active",
				"networks": map[string]interface{}{
					"v4": []map[string]interface{}{
						{"ip_address": "10.10.0.5", "type": "private"},
						{"ip_address": "203.0.113.30", "type": "public"},
					},
				},
			},
		})
	})

	d, err := client.GetDroplet(context.Background(), 777)
	if err != nil {
		t.Fatalf("GetDroplet() failed: %v", err)
	}
	if d.Status != "active" {
		t.Errorf("Status = %q", d.Status)
	}
	if d.PublicIP != "203.0.113.30" {
		t.Errorf("PublicIP = %q, want the public v4 address", d.PublicIP)
	}
}

func TestDeleteMissingResource(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	err := client.DeleteDroplet(context.Background(), 999)
	if err == nil {
		t.Fatal("DeleteDroplet() of missing droplet returned nil")
	}
	ok, err := client.FirewallExists(context.Background(), "fw-x")
	if err != nil {
		t.Fatalf("FirewallExists() failed: %v", err)
	}
	if ok {
		t.Error("FirewallExists() = true for a 404")
	}
}

func TestCreateFirewallRules(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			InboundRules []struct {
				Protocol string `json:"protocol"`
				Ports    string `json:"ports"`
			} `json:"inbound_rules"`
			DropletIDs []uint64 `json:"droplet_ids"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if len(body.InboundRules) != 2 {
			t.Errorf("got %d inbound rules, want 2", len(body.InboundRules))
		} else {
			if body.InboundRules[0].Protocol != "tcp" || body.InboundRules[0].Ports != "22" {
				t.Errorf("rule 0 = %+v, want tcp/22", body.InboundRules[0])
			}
			if body.InboundRules[1].Protocol != "udp" || body.InboundRules[1].Ports != "51820" {
				t.Errorf("rule 1 = %+v, want udp/51820", body.InboundRules[1])
			}
		}
		if len(body.DropletIDs) != 1 || body.DropletIDs[0] != 777 {
			t.Errorf("droplet_ids = %v", body.DropletIDs)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"firewall": map[string]interface{}{"id": "fw-uuid"},
		})
	})

	id, err := client.CreateFirewall(context.Background(), "wgforge-firewall", 777, 51820)
	if err != nil {
		t.Fatalf("CreateFirewall() failed: %v", err)
	}
	if id != "fw-uuid" {
		t.Errorf("id = %q", id)
	}
}
