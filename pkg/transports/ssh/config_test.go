package ssh

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("203.0.113.5", "ubuntu", "key-pem")

	if cfg.Port != 22 {
		t.Errorf("Port = %d, want 22", cfg.Port)
	}
	if cfg.ConnectDeadline < time.Minute {
		t.Errorf("ConnectDeadline = %v, want at least a minute for instance boot", cfg.ConnectDeadline)
	}
	if cfg.Address() != "203.0.113.5:22" {
		t.Errorf("Address() = %s", cfg.Address())
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing host", func(c *Config) { c.Host = "" }, true},
		{"missing user", func(c *Config) { c.User = "" }, true},
		{"missing key", func(c *Config) { c.PrivateKey = "" }, true},
		{"bad port", func(c *Config) { c.Port = 70000 }, true},
		{"zero port", func(c *Config) { c.Port = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("host", "user", "key")
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBuildClientConfig(t *testing.T) {
	kp, err := GenerateKeyPair("test")
	if err != nil {
		t.Fatalf("GenerateKeyPair() failed: %v", err)
	}

	cfg := DefaultConfig("host", "root", kp.PrivateKeyPEM)
	clientConfig, err := cfg.BuildClientConfig()
	if err != nil {
		t.Fatalf("BuildClientConfig() failed: %v", err)
	}
	if clientConfig.User != "root" {
		t.Errorf("User = %s, want root", clientConfig.User)
	}
	if len(clientConfig.Auth) != 1 {
		t.Errorf("len(Auth) = %d, want 1", len(clientConfig.Auth))
	}
}

func TestBuildClientConfigBadKey(t *testing.T) {
	cfg := DefaultConfig("host", "root", "not a pem key")
	if _, err := cfg.BuildClientConfig(); err == nil {
		t.Fatal("BuildClientConfig() accepted a malformed key")
	}
}
