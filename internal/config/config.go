// Package config loads and validates mirror configuration via Viper.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	localstorage "github.com/JakeFAU/xkcd-mirror/internal/storage/local"
)

// MetadataFileName is the default name of the persisted metadata list.
const MetadataFileName = "xkcd_metadata.json"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Source   SourceConfig   `mapstructure:"source"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Metadata MetadataConfig `mapstructure:"metadata"`
	Database DatabaseConfig `mapstructure:"database"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// SyncConfig controls synchronization runs.
type SyncConfig struct {
	OnStartup bool `mapstructure:"on_startup"`
}

// SourceConfig configures the upstream xkcd client.
type SourceConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	UserAgent         string  `mapstructure:"user_agent"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	MaxImageBytes     int     `mapstructure:"max_image_bytes"`
}

// StorageConfig selects where comic images are kept.
type StorageConfig struct {
	Backend     string              `mapstructure:"backend"`
	Local       localstorage.Config `mapstructure:"local"`
	Bucket      string              `mapstructure:"bucket"`
	Prefix      string              `mapstructure:"prefix"`
	ContentType string              `mapstructure:"content_type"`
}

// MetadataConfig selects where comic records are persisted.
type MetadataConfig struct {
	Backend string `mapstructure:"backend"`
	File    string `mapstructure:"file"`
}

// DatabaseConfig controls access to the optional Postgres metadata store.
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for update notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("XKCD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("sync.on_startup", true)
	v.SetDefault("source.base_url", "https://xkcd.com")
	v.SetDefault("source.user_agent", "xkcd-mirror/0.1")
	v.SetDefault("source.timeout_seconds", 0)
	v.SetDefault("source.requests_per_second", 0)
	v.SetDefault("source.burst", 1)
	v.SetDefault("source.max_image_bytes", 10*1024*1024)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local.base_dir", "xkcd_comics")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.content_type", "image/png")
	v.SetDefault("metadata.backend", "file")
	v.SetDefault("metadata.file", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.table", "comics")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if strings.TrimSpace(c.Source.BaseURL) == "" {
		return fmt.Errorf("source.base_url is required")
	}
	if c.Source.TimeoutSeconds < 0 {
		return fmt.Errorf("source.timeout_seconds must be >= 0")
	}
	if c.Source.RequestsPerSecond < 0 {
		return fmt.Errorf("source.requests_per_second must be >= 0")
	}
	switch c.Storage.Backend {
	case "local":
		if strings.TrimSpace(c.Storage.Local.BaseDir) == "" {
			return fmt.Errorf("storage.local.base_dir is required for the local backend")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the gcs backend")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.backend must be one of local, memory, gcs; got %q", c.Storage.Backend)
	}
	switch c.Metadata.Backend {
	case "file":
		if c.MetadataPath() == "" {
			return fmt.Errorf("metadata.file is required when storage.local.base_dir is empty")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres metadata backend")
		}
	default:
		return fmt.Errorf("metadata.backend must be one of file, postgres; got %q", c.Metadata.Backend)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// MetadataPath returns the metadata file location; it defaults to the image directory.
func (c Config) MetadataPath() string {
	if c.Metadata.File != "" {
		return c.Metadata.File
	}
	if strings.TrimSpace(c.Storage.Local.BaseDir) == "" {
		return ""
	}
	return filepath.Join(c.Storage.Local.BaseDir, MetadataFileName)
}

// SourceTimeout converts the upstream timeout; zero means no timeout.
func (c Config) SourceTimeout() time.Duration {
	return time.Duration(c.Source.TimeoutSeconds) * time.Second
}
