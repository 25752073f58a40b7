package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if !cfg.Sync.OnStartup {
		t.Fatalf("expected sync.on_startup to default to true")
	}
	if cfg.Storage.Backend != "local" || cfg.Metadata.Backend != "file" {
		t.Fatalf("expected local/file backends, got %q/%q", cfg.Storage.Backend, cfg.Metadata.Backend)
	}
	if got := cfg.MetadataPath(); got != filepath.Join("xkcd_comics", MetadataFileName) {
		t.Fatalf("unexpected metadata path %q", got)
	}
	if got := cfg.SourceTimeout(); got != 0 {
		t.Fatalf("expected no upstream timeout by default, got %v", got)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
sync:
  on_startup: false
source:
  base_url: http://127.0.0.1:9999
  user_agent: test-agent
  timeout_seconds: 20
  requests_per_second: 2.5
  burst: 3
storage:
  backend: gcs
  bucket: comics-bucket
  prefix: images
metadata:
  backend: postgres
database:
  dsn: postgres://localhost/xkcd
  table: mirror_comics
  max_conns: 8
pubsub:
  project_id: proj
  topic_name: comics-updated
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Sync.OnStartup {
		t.Fatalf("expected startup sync disabled")
	}
	if cfg.Source.UserAgent != "test-agent" || cfg.Source.RequestsPerSecond != 2.5 || cfg.Source.Burst != 3 {
		t.Fatalf("expected source overrides to apply: %+v", cfg.Source)
	}
	if got := cfg.SourceTimeout(); got != 20*time.Second {
		t.Fatalf("expected timeout 20s, got %v", got)
	}
	if cfg.Storage.Bucket != "comics-bucket" || cfg.Storage.Prefix != "images" {
		t.Fatalf("expected storage overrides to apply: %+v", cfg.Storage)
	}
	if cfg.Database.Table != "mirror_comics" || cfg.Database.MaxConns != 8 {
		t.Fatalf("expected database overrides to apply: %+v", cfg.Database)
	}
	if cfg.PubSub.TopicName != "comics-updated" || cfg.Logging.Development {
		t.Fatalf("expected pubsub and logging overrides to apply")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestMetadataPathExplicitFile(t *testing.T) {
	t.Parallel()

	cfg := Config{Metadata: MetadataConfig{File: "/var/lib/xkcd/meta.json"}}
	if got := cfg.MetadataPath(); got != "/var/lib/xkcd/meta.json" {
		t.Fatalf("unexpected metadata path %q", got)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:   ServerConfig{Port: 8080},
		Source:   SourceConfig{BaseURL: "https://xkcd.com"},
		Storage:  StorageConfig{Backend: "memory"},
		Metadata: MetadataConfig{Backend: "file", File: "meta.json"},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("expected base config to be valid, got %v", err)
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "missing base url",
			cfg: func() Config {
				c := base
				c.Source.BaseURL = " "
				return c
			}(),
			want: "source.base_url",
		},
		{
			name: "negative timeout",
			cfg: func() Config {
				c := base
				c.Source.TimeoutSeconds = -1
				return c
			}(),
			want: "source.timeout_seconds",
		},
		{
			name: "negative rps",
			cfg: func() Config {
				c := base
				c.Source.RequestsPerSecond = -1
				return c
			}(),
			want: "source.requests_per_second",
		},
		{
			name: "unknown storage backend",
			cfg: func() Config {
				c := base
				c.Storage.Backend = "s3"
				return c
			}(),
			want: "storage.backend",
		},
		{
			name: "gcs without bucket",
			cfg: func() Config {
				c := base
				c.Storage.Backend = "gcs"
				return c
			}(),
			want: "storage.bucket",
		},
		{
			name: "local without base dir",
			cfg: func() Config {
				c := base
				c.Storage.Backend = "local"
				return c
			}(),
			want: "storage.local.base_dir",
		},
		{
			name: "postgres without dsn",
			cfg: func() Config {
				c := base
				c.Metadata.Backend = "postgres"
				return c
			}(),
			want: "database.dsn",
		},
		{
			name: "unknown metadata backend",
			cfg: func() Config {
				c := base
				c.Metadata.Backend = "sqlite"
				return c
			}(),
			want: "metadata.backend",
		},
		{
			name: "topic without project",
			cfg: func() Config {
				c := base
				c.PubSub.TopicName = "comics"
				return c
			}(),
			want: "pubsub.project_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
