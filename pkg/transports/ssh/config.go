package ssh

import (
	"fmt"
	"time"

	"golang.org/x/crypto/ssh"
)

// Config holds SSH connection configuration. Authentication is always
// key-based: the private key comes from the deployment record (cloud
// providers) or the caller (bring-your-own hosts), never from disk.
type Config struct {
	// Host is the remote hostname or IP address
	Host string

	// Port is the SSH port (default: 22)
	Port int

	// User is the SSH username
	User string

	// PrivateKey is the PEM-encoded private key used for authentication
	PrivateKey string

	// ConnectionTimeout is the timeout for a single connect attempt
	ConnectionTimeout time.Duration

	// ConnectRetryInterval is the pause between connect attempts
	ConnectRetryInterval time.Duration

	// ConnectDeadline bounds the whole retry loop. A new cloud instance
	// can take a couple of minutes before sshd accepts connections.
	ConnectDeadline time.Duration

	// CommandTimeout is the default timeout for command execution
	CommandTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults for a freshly
// provisioned host.
func DefaultConfig(host, user, privateKey string) *Config {
	return &Config{
		Host:                 host,
		Port:                 22,
		User:                 user,
		PrivateKey:           privateKey,
		ConnectionTimeout:    15 * time.Second,
		ConnectRetryInterval: 5 * time.Second,
		ConnectDeadline:      3 * time.Minute,
		CommandTimeout:       5 * time.Minute,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.PrivateKey == "" {
		return fmt.Errorf("private key is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	return nil
}

// Address returns the host:port dial address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BuildClientConfig constructs the ssh.ClientConfig for this transport.
// Host key verification is disabled: the target is an instance this
// process created moments ago, so there is no prior known-hosts entry to
// verify against.
func (c *Config) BuildClientConfig() (*ssh.ClientConfig, error) {
	signer, err := ssh.ParsePrivateKey([]byte(c.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec
		Timeout:         c.ConnectionTimeout,
	}, nil
}
