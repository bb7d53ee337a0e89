// Package tunnel controls the local VPN connection. The controller is a
// small state machine over disconnected/connecting/connected that
// serializes connect and disconnect requests; actual interface activation
// is delegated to a Transport.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Status is the local connection state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// ErrBusy is returned when a connect or disconnect is already in flight.
var ErrBusy = errors.New("a connection operation is already in progress")

// Transport activates the tunnel interface on the local machine.
type Transport interface {
	// Up brings the interface up with the given client configuration.
	Up(ctx context.Context, clientConfig string) error

	// Down tears the interface down.
	Down(ctx context.Context) error

	// Active reports whether the interface is currently up.
	Active() bool
}

// Controller serializes connect/disconnect and reports current status.
type Controller struct {
	transport Transport
	logger    zerolog.Logger

	mu     sync.Mutex
	status Status
	// inFlight blocks a second operation while one is running without
	// holding mu across the transport call.
	inFlight bool
}

// NewController creates a controller over the given transport.
func NewController(transport Transport, logger zerolog.Logger) (*Controller, error) {
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	status := StatusDisconnected
	if transport.Active() {
		status = StatusConnected
	}
	return &Controller{
		transport: transport,
		logger:    logger,
		status:    status,
	}, nil
}

// Status returns the current connection state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Connect brings the tunnel up with the given client configuration.
// Connecting while already connected is a no-op; a concurrent operation
// returns ErrBusy.
func (c *Controller) Connect(ctx context.Context, clientConfig string) error {
	if clientConfig == "" {
		return errors.New("no client configuration available")
	}

	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.status == StatusConnected {
		c.mu.Unlock()
		return nil
	}
	c.inFlight = true
	c.status = StatusConnecting
	c.mu.Unlock()

	err := c.transport.Up(ctx, clientConfig)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = false
	if err != nil {
		c.status = StatusDisconnected
		return fmt.Errorf("failed to bring tunnel up: %w", err)
	}
	c.status = StatusConnected
	c.logger.Info().Msg("tunnel connected")
	return nil
}

// Disconnect tears the tunnel down. Disconnecting while already
// disconnected is a no-op; a concurrent operation returns ErrBusy.
func (c *Controller) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.status == StatusDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.inFlight = true
	c.mu.Unlock()

	err := c.transport.Down(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = false
	if err != nil {
		// The interface state is unknown; trust the transport.
		if c.transport.Active() {
			c.status = StatusConnected
		} else {
			c.status = StatusDisconnected
		}
		return fmt.Errorf("failed to bring tunnel down: %w", err)
	}
	c.status = StatusDisconnected
	c.logger.Info().Msg("tunnel disconnected")
	return nil
}
