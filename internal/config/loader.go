package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Environment variables recognised by [ApplyEnv]. They win over the YAML
// file, which makes containerised deployments configurable without mounting
// an edited config.
const (
	EnvListenAddr  = "HALCYON_LISTEN_ADDR"
	EnvLogLevel    = "HALCYON_LOG_LEVEL"
	EnvDataDir     = "HALCYON_DATA_DIR"
	EnvPostgresDSN = "HALCYON_POSTGRES_DSN"
	EnvHistoryMax  = "HALCYON_HISTORY_LIMIT"
)

// Load reads the YAML configuration file at path, applies environment
// overrides, and returns a validated [Config] with defaults filled in.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment
// overrides, fills defaults, and validates the result. Useful in tests
// where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Defaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg fields from the process environment.
func ApplyEnv(cfg *Config) error {
	if v := os.Getenv(EnvListenAddr); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Server.LogLevel = LogLevel(v)
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv(EnvPostgresDSN); v != "" {
		cfg.Storage.PostgresDSN = v
	}
	if v := os.Getenv(EnvHistoryMax); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("config: %s %q is not a positive integer", EnvHistoryMax, v)
		}
		cfg.Session.HistoryLimit = n
	}
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if !cfg.Storage.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("storage.backend %q is invalid; valid values: file, postgres", cfg.Storage.Backend))
	}
	if cfg.Storage.Backend == StoragePostgres && cfg.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("storage.postgres_dsn is required when storage.backend is postgres"))
	}
	if cfg.NLP.ConfidenceThreshold < 0 || cfg.NLP.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("nlp.confidence_threshold %.2f is out of range [0, 1]", cfg.NLP.ConfidenceThreshold))
	}
	if cfg.Session.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("session.history_limit %d must not be negative", cfg.Session.HistoryLimit))
	}
	if cfg.Client.MaxReconnectAttempts < 0 {
		errs = append(errs, fmt.Errorf("client.max_reconnect_attempts %d must not be negative", cfg.Client.MaxReconnectAttempts))
	}

	namesSeen := make(map[string]int, len(cfg.Services))
	for i, svc := range cfg.Services {
		prefix := fmt.Sprintf("services[%d]", i)
		if svc.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := namesSeen[svc.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of services[%d]", prefix, svc.Name, prev))
			}
			namesSeen[svc.Name] = i
		}
		if !svc.Kind.IsValid() {
			errs = append(errs, fmt.Errorf("%s.kind %q is invalid; valid values: rpc, http", prefix, svc.Kind))
		}
		if svc.Host == "" {
			errs = append(errs, fmt.Errorf("%s.host is required", prefix))
		}
		if svc.Port <= 0 || svc.Port > 65535 {
			errs = append(errs, fmt.Errorf("%s.port %d is out of range [1, 65535]", prefix, svc.Port))
		}
	}

	return errors.Join(errs...)
}
