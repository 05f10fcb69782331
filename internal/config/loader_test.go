package config

import (
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
storage:
  backend: file
  data_dir: /var/lib/halcyon
session:
  ttl: 15m
  history_limit: 25
nlp:
  confidence_threshold: 0.5
services:
  - name: audio
    kind: rpc
    host: localhost
    port: 8765
    capabilities: [play_music, control_volume]
  - name: files
    kind: http
    host: localhost
    port: 8100
`

func TestLoadFromReader(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != LogDebug {
		t.Errorf("log_level = %q", cfg.Server.LogLevel)
	}
	if cfg.Session.TTL != 15*time.Minute {
		t.Errorf("ttl = %v", cfg.Session.TTL)
	}
	if cfg.Session.HistoryLimit != 25 {
		t.Errorf("history_limit = %d", cfg.Session.HistoryLimit)
	}
	if cfg.NLP.ConfidenceThreshold != 0.5 {
		t.Errorf("confidence_threshold = %v", cfg.NLP.ConfidenceThreshold)
	}
	if len(cfg.Services) != 2 {
		t.Fatalf("services = %d, want 2", len(cfg.Services))
	}
	if cfg.Services[0].Kind != KindRPC || cfg.Services[1].Kind != KindHTTP {
		t.Errorf("service kinds = %q, %q", cfg.Services[0].Kind, cfg.Services[1].Kind)
	}

	// Unset sections pick up defaults.
	if cfg.Client.CallTimeout != 30*time.Second {
		t.Errorf("call_timeout default = %v", cfg.Client.CallTimeout)
	}
	if cfg.Maintenance.HealthCheckInterval != 60*time.Second {
		t.Errorf("health_check_interval default = %v", cfg.Maintenance.HealthCheckInterval)
	}
}

func TestLoadFromReader_EmptyGetsDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("listen_addr = %q, want :8080", cfg.Server.ListenAddr)
	}
	if cfg.Storage.Backend != StorageFile {
		t.Errorf("backend = %q, want file", cfg.Storage.Backend)
	}
	if cfg.Session.TTL != 30*time.Minute {
		t.Errorf("ttl = %v, want 30m", cfg.Session.TTL)
	}
	if cfg.NLP.ConfidenceThreshold != 0.3 {
		t.Errorf("confidence_threshold = %v, want 0.3", cfg.NLP.ConfidenceThreshold)
	}
	if cfg.Client.MaxReconnectAttempts != 3 {
		t.Errorf("max_reconnect_attempts = %d, want 3", cfg.Client.MaxReconnectAttempts)
	}
}

func TestLoadFromReader_RejectsUnknownFields(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("server:\n  listen_adr: \":8080\"\n"))
	if err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
	if !strings.Contains(err.Error(), "listen_adr") {
		t.Errorf("error does not name the offending field: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvListenAddr, ":7777")
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvDataDir, "/tmp/halcyon")
	t.Setenv(EnvHistoryMax, "10")

	cfg, err := LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":7777" {
		t.Errorf("listen_addr = %q, env override lost", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != LogWarn {
		t.Errorf("log_level = %q, env override lost", cfg.Server.LogLevel)
	}
	if cfg.Storage.DataDir != "/tmp/halcyon" {
		t.Errorf("data_dir = %q, env override lost", cfg.Storage.DataDir)
	}
	if cfg.Session.HistoryLimit != 10 {
		t.Errorf("history_limit = %d, env override lost", cfg.Session.HistoryLimit)
	}
}

func TestApplyEnv_BadHistoryLimit(t *testing.T) {
	t.Setenv(EnvHistoryMax, "lots")
	if _, err := LoadFromReader(strings.NewReader("")); err == nil {
		t.Fatal("expected non-numeric history limit to fail")
	}
	t.Setenv(EnvHistoryMax, "-3")
	if _, err := LoadFromReader(strings.NewReader("")); err == nil {
		t.Fatal("expected negative history limit to fail")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		yaml string
		want string // substring of the validation error
	}{
		{
			name: "bad log level",
			yaml: "server:\n  log_level: verbose\n",
			want: "log_level",
		},
		{
			name: "bad backend",
			yaml: "storage:\n  backend: sqlite\n",
			want: "storage.backend",
		},
		{
			name: "postgres without dsn",
			yaml: "storage:\n  backend: postgres\n",
			want: "postgres_dsn",
		},
		{
			name: "threshold out of range",
			yaml: "nlp:\n  confidence_threshold: 1.5\n",
			want: "confidence_threshold",
		},
		{
			name: "service without name",
			yaml: "services:\n  - kind: rpc\n    host: localhost\n    port: 80\n",
			want: "name is required",
		},
		{
			name: "duplicate service name",
			yaml: "services:\n  - {name: audio, kind: rpc, host: a, port: 1}\n  - {name: audio, kind: http, host: b, port: 2}\n",
			want: "duplicate",
		},
		{
			name: "bad service kind",
			yaml: "services:\n  - {name: audio, kind: grpc, host: a, port: 1}\n",
			want: "kind",
		},
		{
			name: "port out of range",
			yaml: "services:\n  - {name: audio, kind: rpc, host: a, port: 99999}\n",
			want: "port",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := &Config{}
			if err := decodeYAML(t, tc.yaml, cfg); err != nil {
				t.Fatalf("decode: %v", err)
			}
			cfg.Defaults()
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation to fail")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	cfg.Defaults()
	cfg.Server.LogLevel = "verbose"
	cfg.NLP.ConfidenceThreshold = 2
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation to fail")
	}
	msg := err.Error()
	if !strings.Contains(msg, "log_level") || !strings.Contains(msg, "confidence_threshold") {
		t.Errorf("joined error missing a failure: %v", err)
	}
}
