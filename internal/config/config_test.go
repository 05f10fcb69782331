package config

import (
	"reflect"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

// decodeYAML parses raw into cfg without applying env overrides or
// validation, so tests can build deliberately broken configs.
func decodeYAML(t *testing.T, raw string, cfg *Config) error {
	t.Helper()
	dec := yaml.NewDecoder(strings.NewReader(raw))
	dec.KnownFields(true)
	return dec.Decode(cfg)
}

func TestDefaults_Idempotent(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	cfg.Defaults()
	before := *cfg
	cfg.Defaults()
	if !reflect.DeepEqual(*cfg, before) {
		t.Error("second Defaults call changed the config")
	}
}

func TestDefaults_PreservesExplicitValues(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	cfg.Server.ListenAddr = ":1234"
	cfg.Session.HistoryLimit = 7
	cfg.Defaults()
	if cfg.Server.ListenAddr != ":1234" {
		t.Errorf("listen_addr = %q, explicit value overwritten", cfg.Server.ListenAddr)
	}
	if cfg.Session.HistoryLimit != 7 {
		t.Errorf("history_limit = %d, explicit value overwritten", cfg.Session.HistoryLimit)
	}
}

func TestEnums(t *testing.T) {
	t.Parallel()

	for _, l := range []LogLevel{LogDebug, LogInfo, LogWarn, LogError} {
		if !l.IsValid() {
			t.Errorf("%q reported invalid", l)
		}
	}
	if LogLevel("trace").IsValid() {
		t.Error("trace reported valid")
	}
	if !KindRPC.IsValid() || !KindHTTP.IsValid() || ServiceKind("grpc").IsValid() {
		t.Error("service kind validity wrong")
	}
	if !StorageFile.IsValid() || !StoragePostgres.IsValid() || StorageBackend("redis").IsValid() {
		t.Error("storage backend validity wrong")
	}
}
