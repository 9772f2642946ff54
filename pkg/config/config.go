// Package config loads and validates snapmerge configuration.
//
// Configuration sources, highest precedence first:
//  1. Environment variables (SNAPMERGE_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/blkops/snapmerge/internal/bytesize"
)

// Config is the snapmerge configuration.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Metrics configures the optional Prometheus scrape endpoint.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Scratch configures the persistent staging region that makes the
	// merge crash-safe and resumable.
	Scratch ScratchConfig `mapstructure:"scratch" yaml:"scratch"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is one of DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level" validate:"omitempty,oneof=DEBUG INFO WARN ERROR" yaml:"level"`

	// Format is "text" or "json".
	Format string `mapstructure:"format" validate:"omitempty,oneof=text json" yaml:"format"`

	// Output is "stdout", "stderr", or a file path.
	Output string `mapstructure:"output" yaml:"output"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled turns the scrape endpoint on.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Listen is the host:port the endpoint binds to.
	Listen string `mapstructure:"listen" validate:"required_if=Enabled true,omitempty,hostname_port" yaml:"listen"`
}

// ScratchConfig configures the scratch region and checkpoint.
type ScratchConfig struct {
	// Path is the scratch region file. It must survive restarts of the
	// same merge for crash recovery to work.
	Path string `mapstructure:"path" validate:"required" yaml:"path"`

	// CheckpointPath is the durable merge-progress file.
	CheckpointPath string `mapstructure:"checkpoint_path" validate:"required" yaml:"checkpoint_path"`

	// DataSize bounds one read-ahead window's resolved data. Must be a
	// multiple of the 4096-byte block size.
	DataSize bytesize.ByteSize `mapstructure:"data_size" validate:"required" yaml:"data_size"`
}

// Load loads configuration from the given file (or defaults when path is
// empty and no file exists), applies environment overrides, fills in
// defaults, and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("SNAPMERGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("snapmerge")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if configPath != "" {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(byteSizeDecodeHook())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration invalid: %w", err)
	}
	return &cfg, nil
}

// Validate checks struct tags plus the cross-field rules the tags cannot
// express.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return err
	}
	if cfg.Scratch.DataSize%4096 != 0 {
		return fmt.Errorf("scratch.data_size %d is not a multiple of the block size", cfg.Scratch.DataSize)
	}
	return nil
}

// byteSizeDecodeHook converts strings and integers to bytesize.ByteSize so
// config files can say "64Mi" or a plain number of bytes.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.Parse(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML numbers often arrive as float64.
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}
