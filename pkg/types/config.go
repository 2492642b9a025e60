package types

// Config represents the overall application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Providers ProvidersConfig `yaml:"providers" json:"providers"`
	Resolver  ResolverConfig  `yaml:"resolver" json:"resolver"`
	Cache     CacheConfig     `yaml:"cache" json:"cache"`
	Jobs      JobsConfig      `yaml:"jobs" json:"jobs"`
	Chunk     ChunkConfig     `yaml:"chunk" json:"chunk"`
	Redis     RedisConfig     `yaml:"redis" json:"redis"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string `yaml:"host" json:"host"`
	Port         int    `yaml:"port" json:"port"`
	ReadTimeout  int    `yaml:"read_timeout" json:"read_timeout"`   // seconds
	WriteTimeout int    `yaml:"write_timeout" json:"write_timeout"` // seconds
}

// StorageConfig defines storage adapter settings. The same adapter backs
// the segment cache and the merged-audio store; dictionary packs are read
// from local disk directly.
type StorageConfig struct {
	Adapter string            `yaml:"adapter" json:"adapter"` // "local" or "s3"
	Local   LocalStorageOpts  `yaml:"local" json:"local"`
	S3      S3StorageOpts     `yaml:"s3" json:"s3"`
	Options map[string]string `yaml:"options" json:"options"` // Additional adapter-specific options
}

// LocalStorageOpts configures the local filesystem adapter
type LocalStorageOpts struct {
	BasePath string `yaml:"base_path" json:"base_path"`
}

// S3StorageOpts configures the S3-compatible adapter
type S3StorageOpts struct {
	Endpoint        string `yaml:"endpoint" json:"endpoint"`
	Region          string `yaml:"region" json:"region"`
	Bucket          string `yaml:"bucket" json:"bucket"`
	AccessKeyID     string `yaml:"access_key_id" json:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" json:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl" json:"use_ssl"`
}

// ProvidersConfig holds the Synthesizer and Phonemizer capability bindings.
type ProvidersConfig struct {
	TTS        []TTSProviderConfig `yaml:"tts" json:"tts"`
	Phonemizer PhonemizerConfig    `yaml:"phonemizer" json:"phonemizer"`
	Codec      CodecConfig         `yaml:"codec" json:"codec"`
	ModelAllowlist []string        `yaml:"model_allowlist" json:"model_allowlist"`
}

// TTSProviderConfig configures a Synthesizer binding
type TTSProviderConfig struct {
	Name         string            `yaml:"name" json:"name"`
	Enabled      bool              `yaml:"enabled" json:"enabled"`
	Endpoint     string            `yaml:"endpoint" json:"endpoint"`
	APIKey       string            `yaml:"api_key" json:"api_key"`
	Model        string            `yaml:"model" json:"model"`
	Concurrency  int               `yaml:"concurrency" json:"concurrency"`
	RateLimitQPS float64           `yaml:"rate_limit_qps" json:"rate_limit_qps"`
	Options      map[string]string `yaml:"options" json:"options"`
}

// PhonemizerConfig configures the eSpeak-compatible fallback phonemizer.
type PhonemizerConfig struct {
	Name     string `yaml:"name" json:"name"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	APIKey   string `yaml:"api_key" json:"api_key"`
}

// CodecConfig configures the AudioCodec capability (PCM->OGG/Opus, concat).
type CodecConfig struct {
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`
	Channels   int `yaml:"channels" json:"channels"`
	BitrateBps int `yaml:"bitrate_bps" json:"bitrate_bps"`
}

// ResolverConfig configures the pronunciation resolver's dictionary stack.
type ResolverConfig struct {
	DictDir              string `yaml:"dict_dir" json:"dict_dir"`
	CompiledDir          string `yaml:"compiled_dir" json:"compiled_dir"`
	PhonemeMode          string `yaml:"phoneme_mode" json:"phoneme_mode"` // default "espeak"
	Autolearn            bool   `yaml:"autolearn" json:"autolearn"`
	AutolearnOnMiss      bool   `yaml:"autolearn_on_miss" json:"autolearn_on_miss"`
	AutolearnPath        string `yaml:"autolearn_path" json:"autolearn_path"`
	AutolearnFlushSecs   int    `yaml:"autolearn_flush_seconds" json:"autolearn_flush_seconds"`
	AutolearnMinLen      int    `yaml:"autolearn_min_len" json:"autolearn_min_len"`
	CompilerVersion      string `yaml:"compiler_version" json:"compiler_version"`
}

// CacheConfig configures the segment audio cache.
type CacheConfig struct {
	CacheDir  string `yaml:"cache_dir" json:"cache_dir"`
	MaxMB     int64  `yaml:"cache_max_mb" json:"cache_max_mb"`
}

// JobsConfig configures admission, scheduling, and retry behavior.
type JobsConfig struct {
	Role                   string  `yaml:"role" json:"role"` // "all", "api", "worker"
	Workers                int     `yaml:"workers" json:"workers"`
	JobWorkers             int     `yaml:"job_workers" json:"job_workers"`
	MaxConcurrentSegments  int     `yaml:"max_concurrent_segments" json:"max_concurrent_segments"`
	MinSegmentChars        int     `yaml:"min_segment_chars" json:"min_segment_chars"`
	MaxTextChars           int     `yaml:"max_text_chars" json:"max_text_chars"`
	MaxSegments            int     `yaml:"max_segments" json:"max_segments"`
	MaxActiveJobs           int    `yaml:"max_active_jobs" json:"max_active_jobs"`
	RequireWorkers          bool   `yaml:"require_workers" json:"require_workers"`
	JobsTTLSeconds          int    `yaml:"jobs_ttl_seconds" json:"jobs_ttl_seconds"`
	SegmentMaxRetries       int    `yaml:"segment_max_retries" json:"segment_max_retries"`
	SegmentStaleSeconds     int    `yaml:"segment_stale_seconds" json:"segment_stale_seconds"`
	RateLimitPerMin         int    `yaml:"rate_limit_per_min" json:"rate_limit_per_min"`
	MergeLockWaitSeconds    int    `yaml:"merge_lock_wait_seconds" json:"merge_lock_wait_seconds"`
	JobsDir                 string `yaml:"jobs_dir" json:"jobs_dir"`
	SegmentsDir             string `yaml:"segments_dir" json:"segments_dir"`
}

// ChunkConfig configures text normalization and chunking thresholds.
type ChunkConfig struct {
	TargetChars int `yaml:"chunk_target_chars" json:"chunk_target_chars"`
	MaxChars    int `yaml:"chunk_max_chars" json:"chunk_max_chars"`
}

// RedisConfig, when URL is non-empty, switches the job store and queue
// into distributed mode.
type RedisConfig struct {
	URL string `yaml:"url" json:"url"`
}
