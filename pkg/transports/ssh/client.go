package ssh

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// Client is an SSH connection to the VPN host. It satisfies the remote
// command surface the provisioner needs (Execute and Upload).
type Client struct {
	config *Config

	connMu      sync.RWMutex
	client      *ssh.Client
	isConnected bool
}

// NewClient creates an unconnected client.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Client{config: config}, nil
}

// Dial creates a client and connects it, retrying until the host accepts
// the connection or the retry deadline passes.
func Dial(ctx context.Context, config *Config) (*Client, error) {
	c, err := NewClient(config)
	if err != nil {
		return nil, err
	}
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Connect establishes the SSH connection. A freshly launched instance
// refuses connections until cloud-init brings sshd up, so connection
// failures are retried until ConnectDeadline.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.isConnected && c.client != nil {
		if c.healthCheckInternal() == nil {
			return nil
		}
		log.Warn().Msg("existing connection is dead, reconnecting")
		_ = c.client.Close()
		c.client = nil
		c.isConnected = false
	}

	clientConfig, err := c.config.BuildClientConfig()
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	deadline := time.Now().Add(c.config.ConnectDeadline)
	address := c.config.Address()
	log.Debug().Str("address", address).Msg("establishing SSH connection")

	var lastErr error
	for attempt := 1; ; attempt++ {
		client, err := c.dialOnce(ctx, address, clientConfig)
		if err == nil {
			c.client = client
			c.isConnected = true
			log.Info().Str("address", address).Int("attempt", attempt).
				Msg("SSH connection established")
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return &TransportError{Op: "connect", Err: ctx.Err(), IsTemporary: true}
		}
		if time.Now().After(deadline) {
			break
		}

		log.Debug().Err(err).Int("attempt", attempt).Str("address", address).
			Msg("SSH connect attempt failed, retrying")
		select {
		case <-ctx.Done():
			return &TransportError{Op: "connect", Err: ctx.Err(), IsTemporary: true}
		case <-time.After(c.config.ConnectRetryInterval):
		}
	}

	return &TransportError{Op: "connect", Err: lastErr, IsTemporary: true}
}

func (c *Client) dialOnce(ctx context.Context, address string, clientConfig *ssh.ClientConfig) (*ssh.Client, error) {
	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)

	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- client
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-errChan:
		return nil, err
	case client := <-connChan:
		return client, nil
	}
}

// Execute runs a shell command on the remote host and returns its combined
// output. The command is bounded by ctx and the configured CommandTimeout.
func (c *Client) Execute(ctx context.Context, command string) (string, error) {
	client, err := c.getClient()
	if err != nil {
		return "", err
	}

	session, err := client.NewSession()
	if err != nil {
		return "", &TransportError{Op: "exec", Err: err, IsTemporary: true}
	}
	defer session.Close()

	var output bytes.Buffer
	session.Stdout = &output
	session.Stderr = &output

	timeout := c.config.CommandTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-execCtx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return output.String(), &TransportError{
			Op:          "exec",
			Err:         fmt.Errorf("command %q: %w", command, execCtx.Err()),
			IsTemporary: true,
		}
	case err := <-done:
		if err != nil {
			return output.String(), &TransportError{
				Op:  "exec",
				Err: fmt.Errorf("command %q failed: %w: %s", command, err, output.String()),
			}
		}
		return output.String(), nil
	}
}

// Upload writes content to remotePath over SFTP with 0600 permissions.
// Parent directories must already exist or be creatable by the SSH user.
func (c *Client) Upload(ctx context.Context, remotePath string, content []byte) error {
	client, err := c.getClient()
	if err != nil {
		return err
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return &TransportError{Op: "upload", Err: err, IsTemporary: true}
	}
	defer sftpClient.Close()

	if dir := path.Dir(remotePath); dir != "/" && dir != "." {
		// MkdirAll is a no-op for existing directories.
		if err := sftpClient.MkdirAll(dir); err != nil {
			return &TransportError{Op: "upload", Err: fmt.Errorf("failed to create %s: %w", dir, err)}
		}
	}

	f, err := sftpClient.Create(remotePath)
	if err != nil {
		return &TransportError{Op: "upload", Err: err}
	}

	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		return &TransportError{Op: "upload", Err: err, IsTemporary: true}
	}
	if err := f.Close(); err != nil {
		return &TransportError{Op: "upload", Err: err, IsTemporary: true}
	}
	if err := sftpClient.Chmod(remotePath, 0o600); err != nil {
		return &TransportError{Op: "upload", Err: err}
	}

	log.Debug().Str("path", remotePath).Int("bytes", len(content)).Msg("uploaded file")
	return nil
}

// HealthCheck verifies the connection is still alive and responsive.
func (c *Client) HealthCheck(ctx context.Context) error {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	if !c.isConnected || c.client == nil {
		return &TransportError{Op: "healthcheck", Err: fmt.Errorf("not connected")}
	}
	return c.healthCheckInternal()
}

func (c *Client) healthCheckInternal() error {
	session, err := c.client.NewSession()
	if err != nil {
		return &TransportError{Op: "healthcheck", Err: err, IsTemporary: true}
	}
	defer session.Close()

	if err := session.Run("true"); err != nil {
		return &TransportError{Op: "healthcheck", Err: err, IsTemporary: true}
	}
	return nil
}

// IsConnected returns true if the client has an active connection.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.isConnected
}

// Close shuts the connection down.
func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.isConnected || c.client == nil {
		return nil
	}

	err := c.client.Close()
	c.client = nil
	c.isConnected = false
	if err != nil {
		return &TransportError{Op: "disconnect", Err: err}
	}
	return nil
}

func (c *Client) getClient() (*ssh.Client, error) {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	if !c.isConnected || c.client == nil {
		return nil, &TransportError{Op: "exec", Err: fmt.Errorf("not connected")}
	}
	return c.client, nil
}
