package digitalocean

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/wgforge/wgforge/pkg/provider"
	"github.com/wgforge/wgforge/pkg/state"
	sshx "github.com/wgforge/wgforge/pkg/transports/ssh"
)

type fakeAPI struct {
	calls []string

	tokenErr  error
	keys      map[uint64]bool
	droplets  map[uint64]*Droplet
	firewalls map[string]bool
	nextID    uint64

	// activateAfter is how many GetDroplet polls happen before the
	// droplet reports active.
	activateAfter int
	polls         int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		keys:      make(map[uint64]bool),
		droplets:  make(map[uint64]*Droplet),
		firewalls: make(map[string]bool),
	}
}

func (f *fakeAPI) ValidateToken(ctx context.Context) error {
	f.calls = append(f.calls, "ValidateToken")
	return f.tokenErr
}

func (f *fakeAPI) UploadSSHKey(ctx context.Context, name, publicKey string) (uint64, error) {
	f.calls = append(f.calls, "UploadSSHKey")
	f.nextID++
	f.keys[f.nextID] = true
	return f.nextID, nil
}

func (f *fakeAPI) DeleteSSHKey(ctx context.Context, id uint64) error {
	f.calls = append(f.calls, "DeleteSSHKey")
	if !f.keys[id] {
		return ErrNotFound
	}
	delete(f.keys, id)
	return nil
}

func (f *fakeAPI) SSHKeyExists(ctx context.Context, id uint64) (bool, error) {
	return f.keys[id], nil
}

func (f *fakeAPI) CreateDroplet(ctx context.Context, name, region, size string, sshKeyID uint64) (uint64, error) {
	f.calls = append(f.calls, fmt.Sprintf("CreateDroplet %s %s", region, size))
	f.nextID++
	f.droplets[f.nextID] = &Droplet{ID: f.nextID, Status: "new"}
	return f.nextID, nil
}

func (f *fakeAPI) GetDroplet(ctx context.Context, id uint64) (*Droplet, error) {
	d, ok := f.droplets[id]
	if !ok {
		return nil, ErrNotFound
	}
	f.polls++
	if f.polls > f.activateAfter {
		d.Status = "active"
		d.PublicIP = "203.0.113.20"
	}
	return d, nil
}

func (f *fakeAPI) DeleteDroplet(ctx context.Context, id uint64) error {
	f.calls = append(f.calls, "DeleteDroplet")
	if _, ok := f.droplets[id]; !ok {
		return ErrNotFound
	}
	delete(f.droplets, id)
	return nil
}

func (f *fakeAPI) CreateFirewall(ctx context.Context, name string, dropletID uint64, wireguardPort int) (string, error) {
	f.calls = append(f.calls, fmt.Sprintf("CreateFirewall %d", wireguardPort))
	id := fmt.Sprintf("fw-%d", len(f.firewalls)+1)
	f.firewalls[id] = true
	return id, nil
}

func (f *fakeAPI) DeleteFirewall(ctx context.Context, id string) error {
	f.calls = append(f.calls, "DeleteFirewall")
	if !f.firewalls[id] {
		return ErrNotFound
	}
	delete(f.firewalls, id)
	return nil
}

func (f *fakeAPI) FirewallExists(ctx context.Context, id string) (bool, error) {
	return f.firewalls[id], nil
}

type fakeSession struct{}

func (fakeSession) Execute(ctx context.Context, command string) (string, error) {
	if strings.Contains(command, "wg pubkey") {
		return base64.StdEncoding.EncodeToString(make([]byte, 32)), nil
	}
	if strings.Contains(command, "wg show wg0") {
		return "interface: wg0", nil
	}
	return "", nil
}

func (fakeSession) Upload(ctx context.Context, remotePath string, content []byte) error {
	return nil
}

func (fakeSession) Close() error { return nil }

func setupProvider(t *testing.T, api *fakeAPI) *Provider {
	t.Helper()

	old := activeWaitInterval
	activeWaitInterval = time.Millisecond
	t.Cleanup(func() { activeWaitInterval = old })

	p, err := New(Config{
		NewAPI: func(ctx context.Context) (API, error) { return api, nil },
		Dial: func(ctx context.Context, cfg *sshx.Config) (provider.Session, error) {
			return fakeSession{}, nil
		},
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return p
}

func runSteps(t *testing.T, steps []provider.Step, rec *state.Record) error {
	t.Helper()
	for _, step := range steps {
		if err := step.Run(context.Background(), rec); err != nil {
			return fmt.Errorf("%s: %w", step.Name, err)
		}
	}
	return nil
}

func doRequest() provider.Request {
	return provider.Request{Provider: state.ProviderDigitalOcean, Region: "nyc1"}
}

func TestDeployPipeline(t *testing.T) {
	api := newFakeAPI()
	api.activateAfter = 2
	p := setupProvider(t, api)

	steps, err := p.Steps(doRequest())
	if err != nil {
		t.Fatalf("Steps() failed: %v", err)
	}
	if len(steps) != 7 {
		t.Fatalf("got %d steps, want 7", len(steps))
	}

	rec := state.NewRecord()
	if err := runSteps(t, steps, rec); err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}

	if rec.SSHKeyID == 0 || rec.DropletID == 0 || rec.FirewallID == "" {
		t.Errorf("missing handles: %+v", rec)
	}
	if rec.PublicIP != "203.0.113.20" {
		t.Errorf("PublicIP = %q", rec.PublicIP)
	}
	if rec.SSHUser != "root" {
		t.Errorf("SSHUser = %q, want root", rec.SSHUser)
	}
	if !strings.Contains(rec.ClientConfig, "Endpoint = 203.0.113.20:51820") {
		t.Errorf("client config missing endpoint:\n%s", rec.ClientConfig)
	}
}

func TestDeployInvalidToken(t *testing.T) {
	api := newFakeAPI()
	api.tokenErr = errors.New("401 unauthorized")
	p := setupProvider(t, api)

	steps, err := p.Steps(doRequest())
	if err != nil {
		t.Fatal(err)
	}
	rec := state.NewRecord()
	if err := steps[0].Run(context.Background(), rec); err == nil {
		t.Fatal("token validation step passed with a bad token")
	}
	if rec.HasResources() {
		t.Errorf("resources created despite bad token: %+v", rec)
	}
}

func TestDeployResumeReusesDroplet(t *testing.T) {
	api := newFakeAPI()
	p := setupProvider(t, api)

	steps, err := p.Steps(doRequest())
	if err != nil {
		t.Fatal(err)
	}
	rec := state.NewRecord()
	if err := runSteps(t, steps, rec); err != nil {
		t.Fatal(err)
	}
	droplet := rec.DropletID

	api.calls = nil
	steps, err = p.Steps(doRequest())
	if err != nil {
		t.Fatal(err)
	}
	if err := runSteps(t, steps, rec); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if rec.DropletID != droplet {
		t.Errorf("resume recreated droplet: %d -> %d", droplet, rec.DropletID)
	}
	for _, call := range api.calls {
		if strings.HasPrefix(call, "Create") || strings.HasPrefix(call, "Upload") {
			t.Errorf("resume issued %s", call)
		}
	}
}

func TestTeardown(t *testing.T) {
	api := newFakeAPI()
	p := setupProvider(t, api)

	rec := state.NewRecord()
	steps, err := p.Steps(doRequest())
	if err != nil {
		t.Fatal(err)
	}
	if err := runSteps(t, steps, rec); err != nil {
		t.Fatal(err)
	}

	api.calls = nil
	if err := runSteps(t, p.TeardownSteps(), rec); err != nil {
		t.Fatalf("teardown failed: %v", err)
	}

	want := []string{"DeleteFirewall", "DeleteDroplet", "DeleteSSHKey"}
	if len(api.calls) != len(want) {
		t.Fatalf("teardown calls = %v, want %v", api.calls, want)
	}
	for i := range want {
		if api.calls[i] != want[i] {
			t.Errorf("call %d = %s, want %s", i, api.calls[i], want[i])
		}
	}
	if rec.HasResources() {
		t.Errorf("handles remain: %+v", rec)
	}
}

func TestTeardownTolerantOfMissingResources(t *testing.T) {
	api := newFakeAPI()
	p := setupProvider(t, api)

	rec := state.NewRecord()
	rec.FirewallID = "fw-gone"
	rec.DropletID = 4242
	rec.SSHKeyID = 17

	if err := runSteps(t, p.TeardownSteps(), rec); err != nil {
		t.Fatalf("teardown of missing resources failed: %v", err)
	}
	if rec.HasResources() {
		t.Errorf("handles remain: %+v", rec)
	}
}
