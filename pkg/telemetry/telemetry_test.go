package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"missing service name", func(c *Config) { c.ServiceName = "" }, true},
		{"missing version", func(c *Config) { c.ServiceVersion = "" }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"bad exporter", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "zipkin"
		}, true},
		{"bad sampling rate", func(c *Config) { c.Tracing.SamplingRate = 1.5 }, true},
		{"metrics without address", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.ListenAddress = ""
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMetricsDisabledIsNoOp(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	// None of these should panic on a disabled instance.
	m.RecordDeployStarted("aws")
	m.RecordDeployCompleted("aws", "success", time.Second)
	m.RecordTeardownStarted("aws")
	m.RecordTeardownCompleted("aws", "success")
	m.RecordStep("create-vpc", "success", time.Second)
	m.RecordProviderCall("aws", "CreateVpc")
	m.RecordProviderError("aws", "CreateVpc")
	m.RecordAutoDestroy("success")
	m.SetTunnelConnected(true)
}

func TestMetricsHandlerExposesCounters(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{
		Enabled:       true,
		ListenAddress: ":0",
		Path:          "/metrics",
		Namespace:     "wgforge",
	})
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	m.RecordDeployStarted("aws")
	m.RecordDeployCompleted("aws", "success", 90*time.Second)
	m.RecordStep("create-vpc", "success", 2*time.Second)
	m.SetTunnelConnected(true)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}

	for _, want := range []string{
		"wgforge_deploys_started_total",
		"wgforge_deploy_duration_seconds",
		"wgforge_steps_executed_total",
		"wgforge_tunnel_connected 1",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestNewTelemetryWithDefaults(t *testing.T) {
	tel, err := NewTelemetry(DefaultConfig())
	if err != nil {
		t.Fatalf("NewTelemetry: %v", err)
	}
	if tel.Logger == nil || tel.Tracer == nil || tel.Metrics == nil {
		t.Fatal("telemetry components not initialized")
	}
}

func TestComponentLogger(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{Level: "info", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	child := logger.NewComponentLogger("orchestrator")
	if child == nil {
		t.Fatal("NewComponentLogger returned nil")
	}
}
