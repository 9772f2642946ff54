package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/blkops/snapmerge/internal/bytesize"
)

// Default values applied to unset fields.
const (
	DefaultLogLevel  = "INFO"
	DefaultLogFormat = "text"
	DefaultLogOutput = "stderr"

	DefaultMetricsListen = "127.0.0.1:9535"

	DefaultScratchPath    = "/var/lib/snapmerge/scratch.dat"
	DefaultCheckpointPath = "/var/lib/snapmerge/checkpoint.json"
)

// DefaultScratchDataSize is the default per-window staging capacity.
const DefaultScratchDataSize = 8 * bytesize.MiB

// ApplyDefaults fills unset fields with defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = DefaultLogOutput
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = DefaultMetricsListen
	}
	if cfg.Scratch.Path == "" {
		cfg.Scratch.Path = DefaultScratchPath
	}
	if cfg.Scratch.CheckpointPath == "" {
		cfg.Scratch.CheckpointPath = DefaultCheckpointPath
	}
	if cfg.Scratch.DataSize == 0 {
		cfg.Scratch.DataSize = DefaultScratchDataSize
	}
}

// Default returns a fully defaulted configuration.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// sampleConfig is the commented configuration written by "snapmerge init".
const sampleConfig = `# snapmerge configuration

logging:
  # DEBUG, INFO, WARN, ERROR
  level: INFO
  # text or json
  format: text
  # stdout, stderr, or a file path
  output: stderr

metrics:
  # Expose Prometheus metrics while a merge is running.
  enabled: false
  listen: 127.0.0.1:9535

scratch:
  # Persistent staging region. Must survive restarts of the same merge;
  # keep it on the same durable storage as the checkpoint.
  path: /var/lib/snapmerge/scratch.dat
  checkpoint_path: /var/lib/snapmerge/checkpoint.json
  # Per-window staging capacity; a multiple of the 4096-byte block size.
  data_size: 8Mi
`

// WriteSample writes the commented sample configuration to path.
func WriteSample(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
