package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/unalkalkan/pronounce/pkg/types"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test.yaml")

	configContent := `
server:
  host: "localhost"
  port: 9090
  read_timeout: 10
  write_timeout: 10

storage:
  adapter: "local"
  local:
    base_path: "/tmp/test"

jobs:
  role: "all"
  workers: 2
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Host != "localhost" {
		t.Errorf("Expected host 'localhost', got '%s'", cfg.Server.Host)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Storage.Adapter != "local" {
		t.Errorf("Expected adapter 'local', got '%s'", cfg.Storage.Adapter)
	}
	if cfg.Storage.Local.BasePath != "/tmp/test" {
		t.Errorf("Expected base_path '/tmp/test', got '%s'", cfg.Storage.Local.BasePath)
	}
	if cfg.Jobs.Workers != 2 {
		t.Errorf("Expected jobs.workers 2, got %d", cfg.Jobs.Workers)
	}
	if cfg.Resolver.PhonemeMode != "espeak" {
		t.Errorf("Expected default phoneme_mode 'espeak', got '%s'", cfg.Resolver.PhonemeMode)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*types.Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			modify:  func(c *types.Config) {},
			wantErr: false,
		},
		{
			name: "invalid port",
			modify: func(c *types.Config) {
				c.Server.Port = 0
			},
			wantErr: true,
		},
		{
			name: "invalid storage adapter",
			modify: func(c *types.Config) {
				c.Storage.Adapter = "invalid"
			},
			wantErr: true,
		},
		{
			name: "missing local base path",
			modify: func(c *types.Config) {
				c.Storage.Adapter = "local"
				c.Storage.Local.BasePath = ""
			},
			wantErr: true,
		},
		{
			name: "missing s3 bucket",
			modify: func(c *types.Config) {
				c.Storage.Adapter = "s3"
				c.Storage.S3.Bucket = ""
			},
			wantErr: true,
		},
		{
			name: "invalid jobs role",
			modify: func(c *types.Config) {
				c.Jobs.Role = "bogus"
			},
			wantErr: true,
		},
		{
			name: "zero max concurrent segments",
			modify: func(c *types.Config) {
				c.Jobs.MaxConcurrentSegments = 0
			},
			wantErr: true,
		},
		{
			name: "invalid phoneme mode",
			modify: func(c *types.Config) {
				c.Resolver.PhonemeMode = "klingon"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefault()
			tt.modify(cfg)
			err := Validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test.yaml")

	configContent := `
server:
  host: "localhost"
  port: 8080
storage:
  adapter: "local"
  local:
    base_path: "/tmp/test"
jobs:
  workers: 2
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	os.Setenv("PX_SERVER_PORT", "9999")
	os.Setenv("PX_STORAGE_LOCAL_BASE_PATH", "/tmp/override")
	os.Setenv("PX_REDIS_URL", "redis://localhost:6379/0")
	defer func() {
		os.Unsetenv("PX_SERVER_PORT")
		os.Unsetenv("PX_STORAGE_LOCAL_BASE_PATH")
		os.Unsetenv("PX_REDIS_URL")
	}()

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Expected port 9999 from env override, got %d", cfg.Server.Port)
	}
	if cfg.Storage.Local.BasePath != "/tmp/override" {
		t.Errorf("Expected base_path '/tmp/override' from env override, got '%s'", cfg.Storage.Local.BasePath)
	}
	if cfg.Redis.URL != "redis://localhost:6379/0" {
		t.Errorf("Expected redis.url override, got '%s'", cfg.Redis.URL)
	}
}

func TestGetDefault(t *testing.T) {
	cfg := GetDefault()
	if cfg == nil {
		t.Fatal("GetDefault() returned nil")
	}
	if cfg.Server.Port <= 0 {
		t.Error("Default config has invalid port")
	}
	if cfg.Storage.Adapter == "" {
		t.Error("Default config has empty storage adapter")
	}
	if cfg.Jobs.MaxConcurrentSegments <= 0 {
		t.Error("Default config has invalid jobs.max_concurrent_segments")
	}
}
