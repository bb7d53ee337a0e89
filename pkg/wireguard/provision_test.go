package wireguard

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

// fakeRemote records every command and upload and answers key derivation
// and interface verification the way a provisioned host would.
type fakeRemote struct {
	commands []string
	uploads  map[string]string

	serverPublicKey string
	failCommand     string
}

func newFakeRemote() *fakeRemote {
	pub := base64.StdEncoding.EncodeToString(make([]byte, 32))
	return &fakeRemote{
		uploads:         make(map[string]string),
		serverPublicKey: pub,
	}
}

func (f *fakeRemote) Execute(ctx context.Context, command string) (string, error) {
	f.commands = append(f.commands, command)
	if f.failCommand != "" && strings.Contains(command, f.failCommand) {
		return "", errors.New("command failed")
	}
	if strings.Contains(command, "wg pubkey") {
		return f.serverPublicKey + "\n", nil
	}
	if strings.Contains(command, "wg show wg0") {
		return "interface: wg0\n  public key: " + f.serverPublicKey, nil
	}
	return "", nil
}

func (f *fakeRemote) Upload(ctx context.Context, remotePath string, content []byte) error {
	f.uploads[remotePath] = string(content)
	return nil
}

func (f *fakeRemote) sawCommand(substr string) bool {
	for _, c := range f.commands {
		if strings.Contains(c, substr) {
			return true
		}
	}
	return false
}

func TestProvision(t *testing.T) {
	remote := newFakeRemote()

	pub, err := Provision(context.Background(), remote, 51820, "CLIENT_PUB")
	if err != nil {
		t.Fatalf("Provision() failed: %v", err)
	}
	if pub != remote.serverPublicKey {
		t.Errorf("server public key = %q, want %q", pub, remote.serverPublicKey)
	}

	for _, cmd := range []string{
		"cloud-init status --wait",
		"apt-get install -y wireguard",
		"net.ipv4.ip_forward=1",
		"wg genkey",
		"systemctl enable wg-quick@wg0",
		"systemctl restart wg-quick@wg0",
		"wg show wg0",
	} {
		if !remote.sawCommand(cmd) {
			t.Errorf("provisioning never ran %q", cmd)
		}
	}
}

func TestProvisionKeyNeverLeavesHost(t *testing.T) {
	remote := newFakeRemote()

	if _, err := Provision(context.Background(), remote, 51820, "CLIENT_PUB"); err != nil {
		t.Fatalf("Provision() failed: %v", err)
	}

	// The uploaded config carries the placeholder; the real key is spliced
	// in on the host.
	cfg, ok := remote.uploads["/tmp/wg0.conf"]
	if !ok {
		t.Fatal("server config was never uploaded")
	}
	if !strings.Contains(cfg, privateKeyToken) {
		t.Error("uploaded config does not use the private key placeholder")
	}
	if !remote.sawCommand("sed -i") {
		t.Error("key was never substituted on the host")
	}
}

func TestProvisionInstallFailure(t *testing.T) {
	remote := newFakeRemote()
	remote.failCommand = "apt-get install"

	if _, err := Provision(context.Background(), remote, 51820, "CLIENT_PUB"); err == nil {
		t.Fatal("Provision() succeeded despite install failure")
	}
}

func TestProvisionRejectsMalformedServerKey(t *testing.T) {
	remote := newFakeRemote()
	remote.serverPublicKey = "garbage"

	if _, err := Provision(context.Background(), remote, 51820, "CLIENT_PUB"); err == nil {
		t.Fatal("Provision() accepted a malformed server public key")
	}
}

func TestDeprovision(t *testing.T) {
	remote := newFakeRemote()

	if err := Deprovision(context.Background(), remote); err != nil {
		t.Fatalf("Deprovision() failed: %v", err)
	}
	if !remote.sawCommand("systemctl stop wg-quick@wg0") {
		t.Error("tunnel service was never stopped")
	}
	if !remote.sawCommand("rm -f /etc/wireguard/wg0.conf") {
		t.Error("tunnel config was never removed")
	}
}
