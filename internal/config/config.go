// Package config loads imstool settings from a YAML file, IMSTOOL_*
// environment variables and built-in defaults, in that order of priority
// after explicit flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. IMSTOOL_LOGGER_LEVEL.
const EnvPrefix = "IMSTOOL"

// Config is the full tool configuration.
type Config struct {
	Logger LoggerConfig `mapstructure:"logger" yaml:"logger"`
	Buffer BufferConfig `mapstructure:"buffer" yaml:"buffer"`
	Reader ReaderConfig `mapstructure:"reader" yaml:"reader"`
	Stream StreamConfig `mapstructure:"stream" yaml:"stream"`
}

// LoggerConfig selects log verbosity and destination.
type LoggerConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	// File enables a rotating log file instead of stderr.
	File       string `mapstructure:"file" yaml:"file,omitempty"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`   // days
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

// BufferConfig configures out-of-core buffers.
type BufferConfig struct {
	// Root is the buffer directory; empty selects ~/.go-imaris/buffers.
	Root        string        `mapstructure:"root" yaml:"root,omitempty"`
	Codec       string        `mapstructure:"codec" yaml:"codec"`
	CacheChunks int           `mapstructure:"cache_chunks" yaml:"cache_chunks"`
	Workers     int           `mapstructure:"workers" yaml:"workers"`
	SweepAge    time.Duration `mapstructure:"sweep_age" yaml:"sweep_age"`
}

// ReaderConfig configures Imaris readers.
type ReaderConfig struct {
	ChunkCache   int `mapstructure:"chunk_cache" yaml:"chunk_cache"`
	OpenDatasets int `mapstructure:"open_datasets" yaml:"open_datasets"`
}

// StreamConfig configures streamed transforms.
type StreamConfig struct {
	Workers       int    `mapstructure:"workers" yaml:"workers"`
	Interpolation string `mapstructure:"interpolation" yaml:"interpolation"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:      "info",
			Format:     "console",
			MaxSize:    100,
			MaxAge:     28,
			MaxBackups: 3,
		},
		Buffer: BufferConfig{
			Codec:       "zstd",
			CacheChunks: 32,
			Workers:     4,
			SweepAge:    7 * 24 * time.Hour,
		},
		Reader: ReaderConfig{
			ChunkCache:   64,
			OpenDatasets: 256,
		},
		Stream: StreamConfig{
			Workers:       1,
			Interpolation: "linear",
		},
	}
}

// DefaultPath returns ~/.config/imstool/config.yaml.
func DefaultPath() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "imstool", "config.yaml"), nil
}

// NewViper returns a viper instance carrying the defaults and environment
// bindings. Flags may be bound to it before Load.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := Default()
	v.SetDefault("logger.level", d.Logger.Level)
	v.SetDefault("logger.format", d.Logger.Format)
	v.SetDefault("logger.file", d.Logger.File)
	v.SetDefault("logger.max_size", d.Logger.MaxSize)
	v.SetDefault("logger.max_age", d.Logger.MaxAge)
	v.SetDefault("logger.max_backups", d.Logger.MaxBackups)
	v.SetDefault("buffer.root", d.Buffer.Root)
	v.SetDefault("buffer.codec", d.Buffer.Codec)
	v.SetDefault("buffer.cache_chunks", d.Buffer.CacheChunks)
	v.SetDefault("buffer.workers", d.Buffer.Workers)
	v.SetDefault("buffer.sweep_age", d.Buffer.SweepAge)
	v.SetDefault("reader.chunk_cache", d.Reader.ChunkCache)
	v.SetDefault("reader.open_datasets", d.Reader.OpenDatasets)
	v.SetDefault("stream.workers", d.Stream.Workers)
	v.SetDefault("stream.interpolation", d.Stream.Interpolation)
	return v
}

// Load reads path into v and decodes the result. An empty path tries
// DefaultPath and silently skips it when absent; an explicit path must
// exist.
func Load(v *viper.Viper, path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		_, statErr := os.Stat(path)
		if explicit || !os.IsNotExist(statErr) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values viper cannot type-check.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Logger.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("logger.format: %q is neither json nor console", c.Logger.Format)
	}
	if c.Buffer.Workers < 1 || c.Stream.Workers < 1 {
		return fmt.Errorf("workers must be positive")
	}
	if c.Buffer.CacheChunks < 0 || c.Reader.ChunkCache < 0 || c.Reader.OpenDatasets < 1 {
		return fmt.Errorf("cache sizes must not be negative")
	}
	return nil
}

// Write stores c as YAML at path, creating parent directories.
func Write(path string, c *Config) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
