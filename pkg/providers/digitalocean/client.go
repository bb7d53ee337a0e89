package digitalocean

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultBaseURL is the public DigitalOcean API endpoint.
const DefaultBaseURL = "https://api.digitalocean.com/v2"

const dropletImage = "ubuntu-22-04-x64"

// Client is a minimal DigitalOcean REST client covering the endpoints the
// pipeline uses.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// ClientOption customizes the client.
type ClientOption func(*Client)

// WithBaseURL overrides the API endpoint; used in tests.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client authenticated with the given API token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    DefaultBaseURL,
		token:      token,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("API error %d on %s %s: %s", resp.StatusCode, method, path, raw)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// ValidateToken checks the token against the account endpoint.
func (c *Client) ValidateToken(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "/account", nil, nil); err != nil {
		return fmt.Errorf("token validation failed: %w", err)
	}
	return nil
}

type sshKeyEnvelope struct {
	SSHKey struct {
		ID uint64 `json:"id"`
	} `json:"ssh_key"`
}

// UploadSSHKey registers a public key and returns its ID.
func (c *Client) UploadSSHKey(ctx context.Context, name, publicKey string) (uint64, error) {
	body := map[string]string{"name": name, "public_key": publicKey}
	var out sshKeyEnvelope
	if err := c.do(ctx, http.MethodPost, "/account/keys", body, &out); err != nil {
		return 0, fmt.Errorf("failed to upload SSH key: %w", err)
	}
	return out.SSHKey.ID, nil
}

// DeleteSSHKey removes an uploaded key.
func (c *Client) DeleteSSHKey(ctx context.Context, id uint64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/account/keys/%d", id), nil, nil)
}

// SSHKeyExists reports whether the key is still registered.
func (c *Client) SSHKeyExists(ctx context.Context, id uint64) (bool, error) {
	return c.exists(ctx, fmt.Sprintf("/account/keys/%d", id))
}

type dropletEnvelope struct {
	Droplet struct {
		ID       uint64 `json:"id"`
		Status   string `json:"status"`
		Networks struct {
			V4 []struct {
				IPAddress string `json:"ip_address"`
				Type      string `json:"type"`
			} `json:"v4"`
		} `json:"networks"`
	} `json:"droplet"`
}

// CreateDroplet launches an Ubuntu droplet.
func (c *Client) CreateDroplet(ctx context.Context, name, region, size string, sshKeyID uint64) (uint64, error) {
	body := map[string]interface{}{
		"name":     name,
		"region":   region,
		"size":     size,
		"image":    dropletImage,
		"ssh_keys": []uint64{sshKeyID},
	}
	var out dropletEnvelope
	if err := c.do(ctx, http.MethodPost, "/droplets", body, &out); err != nil {
		return 0, fmt.Errorf("failed to create droplet: %w", err)
	}
	return out.Droplet.ID, nil
}

// GetDroplet fetches droplet status and public IPv4.
func (c *Client) GetDroplet(ctx context.Context, id uint64) (*Droplet, error) {
	var out dropletEnvelope
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/droplets/%d", id), nil, &out); err != nil {
		return nil, err
	}
	d := &Droplet{ID: out.Droplet.ID, Status: out.Droplet.Status}
	for _, net := range out.Droplet.Networks.V4 {
		if net.Type == "public" {
			d.PublicIP = net.IPAddress
			break
		}
	}
	return d, nil
}

// DeleteDroplet destroys the droplet.
func (c *Client) DeleteDroplet(ctx context.Context, id uint64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/droplets/%d", id), nil, nil)
}

type firewallEnvelope struct {
	Firewall struct {
		ID string `json:"id"`
	} `json:"firewall"`
}

// CreateFirewall creates the inbound SSH + tunnel firewall attached to the
// droplet.
func (c *Client) CreateFirewall(ctx context.Context, name string, dropletID uint64, wireguardPort int) (string, error) {
	allAddrs := []string{"0.0.0.0/0", "::/0"}
	sources := map[string]interface{}{"addresses": allAddrs}
	destinations := map[string]interface{}{"addresses": allAddrs}

	body := map[string]interface{}{
		"name": name,
		"inbound_rules": []map[string]interface{}{
			{"protocol": "tcp", "ports": "22", "sources": sources},
			{"protocol": "udp", "ports": fmt.Sprintf("%d", wireguardPort), "sources": sources},
		},
		"outbound_rules": []map[string]interface{}{
			{"protocol": "tcp", "ports": "all", "destinations": destinations},
			{"protocol": "udp", "ports": "all", "destinations": destinations},
			{"protocol": "icmp", "destinations": destinations},
		},
		"droplet_ids": []uint64{dropletID},
	}
	var out firewallEnvelope
	if err := c.do(ctx, http.MethodPost, "/firewalls", body, &out); err != nil {
		return "", fmt.Errorf("failed to create firewall: %w", err)
	}
	return out.Firewall.ID, nil
}

// DeleteFirewall removes the firewall.
func (c *Client) DeleteFirewall(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/firewalls/"+id, nil, nil)
}

// FirewallExists reports whether the firewall still exists.
func (c *Client) FirewallExists(ctx context.Context, id string) (bool, error) {
	return c.exists(ctx, "/firewalls/"+id)
}

func (c *Client) exists(ctx context.Context, path string) (bool, error) {
	err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}
