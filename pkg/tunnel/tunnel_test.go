package tunnel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeTransport struct {
	mu       sync.Mutex
	active   bool
	upCalls  int
	downCall int
	lastConf string

	upErr   error
	downErr error
	// upStarted / upRelease let a test hold Up in flight.
	upStarted chan struct{}
	upRelease chan struct{}
}

func (f *fakeTransport) Up(_ context.Context, conf string) error {
	f.mu.Lock()
	f.upCalls++
	f.lastConf = conf
	started := f.upStarted
	release := f.upRelease
	f.mu.Unlock()

	if started != nil {
		close(started)
	}
	if release != nil {
		<-release
	}
	if f.upErr != nil {
		return f.upErr
	}
	f.mu.Lock()
	f.active = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Down(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downCall++
	if f.downErr != nil {
		return f.downErr
	}
	f.active = false
	return nil
}

func (f *fakeTransport) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func newController(t *testing.T, transport Transport) *Controller {
	t.Helper()
	ctrl, err := NewController(transport, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return ctrl
}

func TestConnectDisconnect(t *testing.T) {
	transport := &fakeTransport{}
	ctrl := newController(t, transport)

	if got := ctrl.Status(); got != StatusDisconnected {
		t.Fatalf("initial status = %q, want %q", got, StatusDisconnected)
	}

	if err := ctrl.Connect(context.Background(), "[Interface]\n"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := ctrl.Status(); got != StatusConnected {
		t.Fatalf("status after connect = %q, want %q", got, StatusConnected)
	}
	if transport.lastConf != "[Interface]\n" {
		t.Fatalf("transport received config %q", transport.lastConf)
	}

	if err := ctrl.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if got := ctrl.Status(); got != StatusDisconnected {
		t.Fatalf("status after disconnect = %q, want %q", got, StatusDisconnected)
	}
}

func TestConnectIdempotent(t *testing.T) {
	transport := &fakeTransport{}
	ctrl := newController(t, transport)

	if err := ctrl.Connect(context.Background(), "conf"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := ctrl.Connect(context.Background(), "conf"); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if transport.upCalls != 1 {
		t.Fatalf("transport Up called %d times, want 1", transport.upCalls)
	}
}

func TestDisconnectWhenDisconnected(t *testing.T) {
	transport := &fakeTransport{}
	ctrl := newController(t, transport)

	if err := ctrl.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if transport.downCall != 0 {
		t.Fatalf("transport Down called %d times, want 0", transport.downCall)
	}
}

func TestConcurrentConnectRejected(t *testing.T) {
	transport := &fakeTransport{
		upStarted: make(chan struct{}),
		upRelease: make(chan struct{}),
	}
	ctrl := newController(t, transport)

	done := make(chan error, 1)
	go func() {
		done <- ctrl.Connect(context.Background(), "conf")
	}()

	select {
	case <-transport.upStarted:
	case <-time.After(time.Second):
		t.Fatal("transport Up never started")
	}

	if got := ctrl.Status(); got != StatusConnecting {
		t.Fatalf("status during connect = %q, want %q", got, StatusConnecting)
	}
	if err := ctrl.Connect(context.Background(), "conf"); !errors.Is(err, ErrBusy) {
		t.Fatalf("concurrent Connect error = %v, want ErrBusy", err)
	}
	if err := ctrl.Disconnect(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("concurrent Disconnect error = %v, want ErrBusy", err)
	}

	close(transport.upRelease)
	if err := <-done; err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := ctrl.Status(); got != StatusConnected {
		t.Fatalf("status after connect = %q, want %q", got, StatusConnected)
	}
}

func TestConnectFailureReturnsToDisconnected(t *testing.T) {
	transport := &fakeTransport{upErr: errors.New("permission denied")}
	ctrl := newController(t, transport)

	err := ctrl.Connect(context.Background(), "conf")
	if err == nil {
		t.Fatal("expected Connect error")
	}
	if got := ctrl.Status(); got != StatusDisconnected {
		t.Fatalf("status after failed connect = %q, want %q", got, StatusDisconnected)
	}
}

func TestConnectRequiresConfig(t *testing.T) {
	ctrl := newController(t, &fakeTransport{})
	if err := ctrl.Connect(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty config")
	}
}

func TestStartsConnectedWhenInterfaceActive(t *testing.T) {
	transport := &fakeTransport{active: true}
	ctrl := newController(t, transport)
	if got := ctrl.Status(); got != StatusConnected {
		t.Fatalf("initial status = %q, want %q", got, StatusConnected)
	}
}

func TestDisconnectFailureKeepsTransportState(t *testing.T) {
	transport := &fakeTransport{active: true, downErr: errors.New("busy")}
	ctrl := newController(t, transport)

	if err := ctrl.Disconnect(context.Background()); err == nil {
		t.Fatal("expected Disconnect error")
	}
	if got := ctrl.Status(); got != StatusConnected {
		t.Fatalf("status after failed disconnect = %q, want %q", got, StatusConnected)
	}
}
