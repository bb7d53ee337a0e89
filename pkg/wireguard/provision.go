package wireguard

import (
	"context"
	"fmt"
	"strings"
)

// Remote is the command surface a provisioner needs on the target host.
// The SSH transport satisfies it; tests use an in-memory fake.
type Remote interface {
	// Execute runs a shell command and returns its combined output.
	Execute(ctx context.Context, command string) (string, error)

	// Upload writes content to a path the SSH user can write directly.
	Upload(ctx context.Context, remotePath string, content []byte) error
}

const (
	serverKeyPath    = "/etc/wireguard/server_private.key"
	serverPubKeyPath = "/etc/wireguard/server_public.key"
	serverConfigPath = "/etc/wireguard/wg0.conf"

	// privateKeyToken stands in for the server private key in the locally
	// rendered config; the real key is substituted on the host so it never
	// crosses the wire.
	privateKeyToken = "__WG_SERVER_PRIVATE_KEY__"
)

// Provision installs and starts the tunnel on the remote host. The server
// key pair is generated on the host itself: only the public key comes back.
// Provisioning is idempotent, so a resumed deploy reuses the existing
// server key and simply rewrites the config and restarts the service.
func Provision(ctx context.Context, remote Remote, listenPort int, clientPublicKey string) (string, error) {
	// cloud-init holds the apt lock for minutes on first boot. BYO hosts
	// may not have it at all.
	if _, err := remote.Execute(ctx,
		"command -v cloud-init >/dev/null 2>&1 && sudo cloud-init status --wait || true"); err != nil {
		return "", fmt.Errorf("failed waiting for cloud-init: %w", err)
	}

	if _, err := remote.Execute(ctx,
		"sudo DEBIAN_FRONTEND=noninteractive apt-get update -y"); err != nil {
		return "", fmt.Errorf("failed to update package index: %w", err)
	}
	if _, err := remote.Execute(ctx,
		"sudo DEBIAN_FRONTEND=noninteractive apt-get install -y wireguard wireguard-tools"); err != nil {
		return "", fmt.Errorf("failed to install wireguard: %w", err)
	}

	if _, err := remote.Execute(ctx,
		"echo 'net.ipv4.ip_forward=1' | sudo tee /etc/sysctl.d/99-vpn.conf && sudo sysctl -p /etc/sysctl.d/99-vpn.conf"); err != nil {
		return "", fmt.Errorf("failed to enable IP forwarding: %w", err)
	}

	// Generate the server key on the host, only if one does not exist yet.
	if _, err := remote.Execute(ctx, fmt.Sprintf(
		"sudo test -s %[1]s || (umask 077 && wg genkey | sudo tee %[1]s >/dev/null && sudo chmod 600 %[1]s)",
		serverKeyPath)); err != nil {
		return "", fmt.Errorf("failed to generate server key: %w", err)
	}

	pubOut, err := remote.Execute(ctx,
		fmt.Sprintf("sudo cat %s | wg pubkey | sudo tee %s", serverKeyPath, serverPubKeyPath))
	if err != nil {
		return "", fmt.Errorf("failed to derive server public key: %w", err)
	}
	serverPublicKey := strings.TrimSpace(pubOut)
	if !ValidKey(serverPublicKey) {
		return "", fmt.Errorf("remote host returned malformed server public key %q", serverPublicKey)
	}

	// The config is rendered locally with a placeholder and the key is
	// spliced in on the host.
	config := RenderServerConfig(privateKeyToken, clientPublicKey, listenPort)
	if err := remote.Upload(ctx, "/tmp/wg0.conf", []byte(config)); err != nil {
		return "", fmt.Errorf("failed to upload server config: %w", err)
	}
	if _, err := remote.Execute(ctx, fmt.Sprintf(
		"sudo install -m 600 /tmp/wg0.conf %[1]s && rm -f /tmp/wg0.conf && sudo sed -i \"s|%[2]s|$(sudo cat %[3]s)|\" %[1]s",
		serverConfigPath, privateKeyToken, serverKeyPath)); err != nil {
		return "", fmt.Errorf("failed to install server config: %w", err)
	}

	if _, err := remote.Execute(ctx,
		"sudo systemctl enable wg-quick@wg0 && sudo systemctl restart wg-quick@wg0"); err != nil {
		return "", fmt.Errorf("failed to start wireguard service: %w", err)
	}

	out, err := remote.Execute(ctx, "sudo wg show wg0")
	if err != nil {
		return "", fmt.Errorf("failed to verify wireguard: %w", err)
	}
	if !strings.Contains(out, "interface: wg0") {
		return "", fmt.Errorf("wireguard verification failed, wg show output: %s", out)
	}

	return serverPublicKey, nil
}

// Deprovision stops and disables the tunnel on the remote host. Errors are
// returned but callers treat them as best-effort: a host that is about to
// be terminated does not need a clean shutdown.
func Deprovision(ctx context.Context, remote Remote) error {
	if _, err := remote.Execute(ctx,
		"sudo systemctl stop wg-quick@wg0 || true; sudo systemctl disable wg-quick@wg0 || true"); err != nil {
		return fmt.Errorf("failed to stop wireguard service: %w", err)
	}
	if _, err := remote.Execute(ctx, fmt.Sprintf(
		"sudo rm -f %s %s %s", serverConfigPath, serverKeyPath, serverPubKeyPath)); err != nil {
		return fmt.Errorf("failed to remove wireguard state: %w", err)
	}
	return nil
}
