package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/unalkalkan/pronounce/pkg/types"
	"gopkg.in/yaml.v3"
)

// Load reads and parses the configuration file
// It also supports environment variable overrides with PX_ prefix
func Load(configPath string) (*types.Config, error) {
	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var cfg types.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	// Apply environment variable overrides
	applyEnvOverrides(&cfg)

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks if the configuration is valid
func Validate(cfg *types.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	if cfg.Storage.Adapter != "local" && cfg.Storage.Adapter != "s3" {
		return fmt.Errorf("invalid storage adapter: %s (must be 'local' or 's3')", cfg.Storage.Adapter)
	}

	if cfg.Storage.Adapter == "local" {
		if cfg.Storage.Local.BasePath == "" {
			return fmt.Errorf("local storage base_path is required")
		}
		if !filepath.IsAbs(cfg.Storage.Local.BasePath) {
			return fmt.Errorf("local storage base_path must be absolute: %s", cfg.Storage.Local.BasePath)
		}
	}

	if cfg.Storage.Adapter == "s3" {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("s3 bucket is required")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("s3 region is required")
		}
	}

	switch cfg.Jobs.Role {
	case "all", "api", "worker":
	default:
		return fmt.Errorf("invalid jobs role: %s (must be 'all', 'api', or 'worker')", cfg.Jobs.Role)
	}

	if cfg.Jobs.MaxConcurrentSegments <= 0 {
		return fmt.Errorf("jobs.max_concurrent_segments must be positive")
	}
	if cfg.Jobs.SegmentMaxRetries < 0 {
		return fmt.Errorf("jobs.segment_max_retries must not be negative")
	}
	if cfg.Chunk.TargetChars <= 0 || cfg.Chunk.MaxChars < cfg.Chunk.TargetChars {
		return fmt.Errorf("chunk.chunk_target_chars/chunk_max_chars misconfigured")
	}
	if cfg.Resolver.PhonemeMode != "espeak" && cfg.Resolver.PhonemeMode != "ipa" {
		return fmt.Errorf("invalid resolver phoneme_mode: %s", cfg.Resolver.PhonemeMode)
	}

	return nil
}

// applyDefaults fills in zero-valued knobs that Load callers should not
// have to spell out for every deployment.
func applyDefaults(cfg *types.Config) {
	if cfg.Jobs.Role == "" {
		cfg.Jobs.Role = "all"
	}
	if cfg.Jobs.Workers <= 0 {
		cfg.Jobs.Workers = 4
	}
	if cfg.Jobs.JobWorkers <= 0 {
		cfg.Jobs.JobWorkers = 2
	}
	if cfg.Jobs.MaxConcurrentSegments <= 0 {
		cfg.Jobs.MaxConcurrentSegments = 1
	}
	if cfg.Jobs.MinSegmentChars <= 0 {
		cfg.Jobs.MinSegmentChars = 60
	}
	if cfg.Jobs.MaxTextChars <= 0 {
		cfg.Jobs.MaxTextChars = 20000
	}
	if cfg.Jobs.MaxSegments <= 0 {
		cfg.Jobs.MaxSegments = 120
	}
	if cfg.Jobs.MaxActiveJobs <= 0 {
		cfg.Jobs.MaxActiveJobs = 20
	}
	if cfg.Jobs.JobsTTLSeconds <= 0 {
		cfg.Jobs.JobsTTLSeconds = 86400
	}
	if cfg.Jobs.SegmentMaxRetries <= 0 {
		cfg.Jobs.SegmentMaxRetries = 2
	}
	if cfg.Jobs.SegmentStaleSeconds <= 0 {
		cfg.Jobs.SegmentStaleSeconds = 300
	}
	if cfg.Jobs.MergeLockWaitSeconds <= 0 {
		cfg.Jobs.MergeLockWaitSeconds = 30
	}
	if cfg.Jobs.JobsDir == "" {
		cfg.Jobs.JobsDir = "jobs"
	}
	if cfg.Jobs.SegmentsDir == "" {
		cfg.Jobs.SegmentsDir = "segments"
	}
	if cfg.Chunk.TargetChars <= 0 {
		cfg.Chunk.TargetChars = 300
	}
	if cfg.Chunk.MaxChars <= 0 {
		cfg.Chunk.MaxChars = 500
	}
	if cfg.Resolver.PhonemeMode == "" {
		cfg.Resolver.PhonemeMode = "espeak"
	}
	if cfg.Resolver.CompilerVersion == "" {
		cfg.Resolver.CompilerVersion = "1"
	}
	if cfg.Resolver.AutolearnMinLen <= 0 {
		cfg.Resolver.AutolearnMinLen = 2
	}
	if cfg.Resolver.AutolearnFlushSecs <= 0 {
		cfg.Resolver.AutolearnFlushSecs = 5
	}
	if cfg.Cache.MaxMB <= 0 {
		cfg.Cache.MaxMB = 4096
	}
	if cfg.Providers.Codec.SampleRate <= 0 {
		cfg.Providers.Codec.SampleRate = 24000
	}
	if cfg.Providers.Codec.Channels <= 0 {
		cfg.Providers.Codec.Channels = 1
	}
	if cfg.Providers.Codec.BitrateBps <= 0 {
		cfg.Providers.Codec.BitrateBps = 32000
	}
}

// applyEnvOverrides applies environment variable overrides.
// Environment variables are prefixed with PX_.
func applyEnvOverrides(cfg *types.Config) {
	if val := os.Getenv("PX_SERVER_HOST"); val != "" {
		cfg.Server.Host = val
	}
	if val := os.Getenv("PX_SERVER_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &cfg.Server.Port)
	}

	if val := os.Getenv("PX_STORAGE_ADAPTER"); val != "" {
		cfg.Storage.Adapter = val
	}
	if val := os.Getenv("PX_STORAGE_LOCAL_BASE_PATH"); val != "" {
		cfg.Storage.Local.BasePath = val
	}
	if val := os.Getenv("PX_STORAGE_S3_BUCKET"); val != "" {
		cfg.Storage.S3.Bucket = val
	}
	if val := os.Getenv("PX_STORAGE_S3_REGION"); val != "" {
		cfg.Storage.S3.Region = val
	}
	if val := os.Getenv("PX_STORAGE_S3_ENDPOINT"); val != "" {
		cfg.Storage.S3.Endpoint = val
	}
	if val := os.Getenv("PX_STORAGE_S3_ACCESS_KEY_ID"); val != "" {
		cfg.Storage.S3.AccessKeyID = val
	}
	if val := os.Getenv("PX_STORAGE_S3_SECRET_ACCESS_KEY"); val != "" {
		cfg.Storage.S3.SecretAccessKey = val
	}

	if val := os.Getenv("PX_JOBS_ROLE"); val != "" {
		cfg.Jobs.Role = val
	}
	if val := os.Getenv("PX_JOBS_WORKERS"); val != "" {
		fmt.Sscanf(val, "%d", &cfg.Jobs.Workers)
	}
	if val := os.Getenv("PX_REDIS_URL"); val != "" {
		cfg.Redis.URL = val
	}

	applyProviderEnvOverrides(cfg)
}

// applyProviderEnvOverrides applies provider-specific env vars
func applyProviderEnvOverrides(cfg *types.Config) {
	for i := range cfg.Providers.TTS {
		prefix := fmt.Sprintf("PX_TTS_%s_", strings.ToUpper(cfg.Providers.TTS[i].Name))
		if val := os.Getenv(prefix + "API_KEY"); val != "" {
			cfg.Providers.TTS[i].APIKey = val
		}
		if val := os.Getenv(prefix + "ENDPOINT"); val != "" {
			cfg.Providers.TTS[i].Endpoint = val
		}
	}

	if val := os.Getenv("PX_PHONEMIZER_API_KEY"); val != "" {
		cfg.Providers.Phonemizer.APIKey = val
	}
	if val := os.Getenv("PX_PHONEMIZER_ENDPOINT"); val != "" {
		cfg.Providers.Phonemizer.Endpoint = val
	}
}

// GetDefault returns a default configuration
func GetDefault() *types.Config {
	cfg := &types.Config{
		Server: types.ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15,
			WriteTimeout: 15,
		},
		Storage: types.StorageConfig{
			Adapter: "local",
			Local: types.LocalStorageOpts{
				BasePath: "/var/lib/pronounce/storage",
			},
		},
		Resolver: types.ResolverConfig{
			DictDir:     "/var/lib/pronounce/dicts",
			CompiledDir: "/var/lib/pronounce/dicts/compiled",
			PhonemeMode: "espeak",
		},
		Cache: types.CacheConfig{
			CacheDir: "/var/lib/pronounce/cache",
			MaxMB:    4096,
		},
		Jobs: types.JobsConfig{
			Role:                  "all",
			Workers:               4,
			JobWorkers:            2,
			MaxConcurrentSegments: 1,
			JobsDir:               "jobs",
			SegmentsDir:           "segments",
		},
		Chunk: types.ChunkConfig{
			TargetChars: 300,
			MaxChars:    500,
		},
	}
	applyDefaults(cfg)
	return cfg
}
