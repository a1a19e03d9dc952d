package app

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/specialistvlad/audiogrid/internal/device"
	"gopkg.in/yaml.v3"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// DocumentPath is a graph document or a directory searched for one. When
	// empty the last graph is restored from the snapshot store.
	DocumentPath string `yaml:"document"`
	// SaveDocument, when set, receives the graph as a document on exit.
	SaveDocument string `yaml:"save_document"`

	SnapshotPath string `yaml:"snapshot_db"`
	SnapshotName string `yaml:"snapshot_name"`
	SnapshotKeep int    `yaml:"snapshot_keep"`

	RemoteURL       string `yaml:"remote_url"`
	RemoteNamespace string `yaml:"remote_namespace"`
	RemoteInsecure  bool   `yaml:"remote_insecure"`

	Device       device.Config `yaml:"device"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// RunFor stops the application after the given duration. Zero runs
	// until the context is cancelled.
	RunFor time.Duration `yaml:"run_for"`

	LogFormat       string `yaml:"log_format"`
	LogLevel        string `yaml:"log_level"`
	HealthcheckPort int    `yaml:"healthcheck_port"`
}

// DefaultConfig returns the configuration used when neither a file nor a
// flag sets a value.
func DefaultConfig() Config {
	return Config{
		SnapshotName: "last",
		SnapshotKeep: 10,
		Device:       device.DefaultConfig(),
		PollInterval: 50 * time.Millisecond,
		LogFormat:    "text",
		LogLevel:     "info",
	}
}

// LoadConfigFile overlays the YAML file at path onto cfg. Unknown keys are
// rejected.
func LoadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func NewConfig(cfg Config) (*Config, error) {
	if err := cfg.Device.Validate(); err != nil {
		return nil, err
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return nil, fmt.Errorf("invalid log format %q: must be 'text' or 'json'", cfg.LogFormat)
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.LogLevel)
	}
	if cfg.PollInterval <= 0 {
		return nil, errors.New("poll interval must be positive")
	}
	if cfg.RunFor < 0 {
		return nil, errors.New("run duration must not be negative")
	}
	if cfg.SnapshotPath != "" && cfg.SnapshotName == "" {
		return nil, errors.New("snapshot name is required when a snapshot database is configured")
	}
	if cfg.HealthcheckPort < 0 || cfg.HealthcheckPort > 65535 {
		return nil, fmt.Errorf("invalid health check port %d", cfg.HealthcheckPort)
	}
	return &cfg, nil
}
