package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "amroute.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Service.Mode != ServiceModeSingle {
		t.Fatalf("default mode = %q, want %q", cfg.Service.Mode, ServiceModeSingle)
	}
	if cfg.Ingest.HTTPListen != ":8080" {
		t.Fatalf("default http_listen = %q", cfg.Ingest.HTTPListen)
	}
	if cfg.Dispatch.MaxRetries != 10 {
		t.Fatalf("default max_retries = %d, want 10", cfg.Dispatch.MaxRetries)
	}
	if got := cfg.Dispatch.RetryInitialDelay().Milliseconds(); got != 200 {
		t.Fatalf("default retry initial delay = %dms, want 200ms", got)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, `
[service]
mode = "nats"

[ingest.nats]
enabled = true
subject = "alerts.incoming"

[store.nats]
url = ["nats://10.0.0.1:4222"]
allow_create_buckets = true

[dispatch]
max_retries = 3
flush_page_size = 25
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !cfg.Ingest.NATS.Enabled || cfg.Ingest.NATS.Subject != "alerts.incoming" {
		t.Fatalf("nats ingest overrides not applied: %+v", cfg.Ingest.NATS)
	}
	if cfg.Store.NATS.URL[0] != "nats://10.0.0.1:4222" || !cfg.Store.NATS.AllowCreateBuckets {
		t.Fatalf("nats store overrides not applied: %+v", cfg.Store.NATS)
	}
	if cfg.Dispatch.MaxRetries != 3 || cfg.Dispatch.FlushPageSize != 25 {
		t.Fatalf("dispatch overrides not applied: %+v", cfg.Dispatch)
	}
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
	}{
		{"unknown mode", "[service]\nmode = \"cluster\"\n"},
		{"bad log level", "[log]\nlevel = \"trace\"\n"},
		{"bad log format", "[log]\nconsole_format = \"xml\"\n"},
		{"nats ingest in single mode", "[ingest.nats]\nenabled = true\n"},
		{"bucket collision", "[store.nats]\ndata_bucket = \"same\"\nalarm_bucket = \"same\"\n"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Load(writeConfig(t, tc.body)); err == nil {
				t.Fatalf("Load accepted invalid config:\n%s", tc.body)
			}
		})
	}
}
