package tunnel

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// WGQuick is a Transport backed by the wg-quick tool. The client
// configuration is written to a file under the data directory before the
// interface is brought up.
type WGQuick struct {
	// Interface is the WireGuard interface name, e.g. "wg0".
	Interface string

	// ConfigPath is where the client configuration is written before
	// bringing the interface up.
	ConfigPath string
}

// NewWGQuick creates a wg-quick transport writing its configuration under
// the given data directory.
func NewWGQuick(dataDir string) *WGQuick {
	return &WGQuick{
		Interface:  "wg0",
		ConfigPath: filepath.Join(dataDir, "wg0.conf"),
	}
}

// Up writes the configuration and brings the interface up.
func (w *WGQuick) Up(ctx context.Context, clientConfig string) error {
	if err := os.MkdirAll(filepath.Dir(w.ConfigPath), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(w.ConfigPath, []byte(clientConfig), 0o600); err != nil {
		return fmt.Errorf("failed to write tunnel config: %w", err)
	}

	cmd := exec.CommandContext(ctx, "wg-quick", "up", w.ConfigPath)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("wg-quick up failed: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Down tears the interface down.
func (w *WGQuick) Down(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "wg-quick", "down", w.ConfigPath)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("wg-quick down failed: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Active reports whether the interface is currently up.
func (w *WGQuick) Active() bool {
	output, err := exec.Command("wg", "show", "interfaces").Output()
	if err != nil {
		return false
	}
	for _, name := range strings.Fields(string(output)) {
		if name == w.Interface {
			return true
		}
	}
	return false
}
