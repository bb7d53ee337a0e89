package settings

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/wgforge/wgforge/pkg/state"
)

func TestDefaults(t *testing.T) {
	got := Default()
	want := Settings{
		Region:        "us-east-1",
		InstanceType:  "t2.micro",
		DropletSize:   "s-1vcpu-1gb",
		WireGuardPort: 51820,
	}
	if got != want {
		t.Fatalf("Default() = %+v, want %+v", got, want)
	}
	if err := got.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{"valid", func(s *Settings) {}, false},
		{"missing region", func(s *Settings) { s.Region = "" }, true},
		{"missing instance type", func(s *Settings) { s.InstanceType = "" }, true},
		{"missing droplet size", func(s *Settings) { s.DropletSize = "" }, true},
		{"port zero", func(s *Settings) { s.WireGuardPort = 0 }, true},
		{"port too high", func(s *Settings) { s.WireGuardPort = 70000 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			tt.mutate(&s)
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()

	store, err := NewStore(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if got := store.Get(); got != Default() {
		t.Fatalf("fresh store Get() = %+v, want defaults", got)
	}

	updated := Default()
	updated.Region = "eu-central-1"
	updated.WireGuardPort = 4500
	if err := store.Save(updated); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reopened, err := NewStore(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore (reopen): %v", err)
	}
	if got := reopened.Get(); got != updated {
		t.Fatalf("reopened Get() = %+v, want %+v", got, updated)
	}
}

func TestStoreSaveRejectsInvalid(t *testing.T) {
	store, err := NewStore(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	bad := Default()
	bad.WireGuardPort = 0
	if err := store.Save(bad); err == nil {
		t.Fatal("expected validation error")
	}
	if got := store.Get(); got != Default() {
		t.Fatalf("Get() after rejected save = %+v, want defaults", got)
	}
}

func TestStorePartialFileGetsDefaults(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("region: eu-west-2\n"), 0o600); err != nil {
		t.Fatalf("writing settings file: %v", err)
	}

	store, err := NewStore(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	got := store.Get()
	if got.Region != "eu-west-2" {
		t.Fatalf("Region = %q, want eu-west-2", got.Region)
	}
	if got.WireGuardPort != 51820 {
		t.Fatalf("WireGuardPort = %d, want default 51820", got.WireGuardPort)
	}
}

func TestWatchPicksUpExternalEdit(t *testing.T) {
	dir := t.TempDir()

	store, err := NewStore(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan Settings, 1)
	if err := store.Watch(ctx, func(s Settings) { changes <- s }); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	edited := Default()
	edited.Region = "ap-south-1"
	data := "region: ap-south-1\ninstance_type: t2.micro\ndroplet_size: s-1vcpu-1gb\nwireguard_port: 51820\n"
	if err := os.WriteFile(store.Path(), []byte(data), 0o600); err != nil {
		t.Fatalf("writing settings file: %v", err)
	}

	select {
	case got := <-changes:
		if got != edited {
			t.Fatalf("onChange got %+v, want %+v", got, edited)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for settings reload")
	}

	if got := store.Get(); got != edited {
		t.Fatalf("Get() after reload = %+v, want %+v", got, edited)
	}
}

func TestRegions(t *testing.T) {
	aws := Regions(state.ProviderAWS)
	if len(aws) == 0 {
		t.Fatal("no AWS regions")
	}
	if aws[0].Code != "us-east-1" {
		t.Fatalf("first AWS region = %q, want us-east-1", aws[0].Code)
	}

	do := Regions(state.ProviderDigitalOcean)
	if len(do) == 0 {
		t.Fatal("no DigitalOcean regions")
	}

	if got := Regions(state.ProviderBYO); got != nil {
		t.Fatalf("BYO regions = %v, want nil", got)
	}
}
