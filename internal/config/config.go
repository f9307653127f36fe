package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration for the pipeline service.
type Config struct {
	Env      string
	HTTPPort string

	PostgresDSN   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string

	// Generation core.
	MaxRetries          int
	GenerationTimeout   time.Duration
	BackoffBase         time.Duration
	BackoffMax          time.Duration
	ConcurrentFragments bool

	// Shared rate limiter for outbound model calls.
	RequestsPerWindow int
	WindowDuration    time.Duration

	// Response cache.
	CacheTTL time.Duration

	// Job lifecycle.
	JobTimeout        time.Duration
	MaxConcurrentJobs int64
	StrictValidation  bool

	// Artifact sink.
	ArtifactDir      string
	ArtifactS3Bucket string
	AWSRegion        string

	// Extraction.
	MaxUploadBytes int64
	OCRMaxImageDim int
}

// Load reads configuration from environment variables with sane defaults for
// local development, then overlays an optional YAML file pointed to by
// PIPELINE_CONFIG.
func Load() (Config, error) {
	cfg := Config{
		Env:      getEnv("APP_ENV", "dev"),
		HTTPPort: getEnv("HTTP_PORT", "8080"),

		PostgresDSN:   getEnv("POSTGRES_DSN", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiModel:   getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		GeminiBaseURL: getEnv("GEMINI_BASE_URL", ""),

		MaxRetries:          getEnvInt("GENERATION_MAX_RETRIES", 3),
		GenerationTimeout:   getEnvDuration("GENERATION_TIMEOUT", 30*time.Second),
		BackoffBase:         getEnvDuration("BACKOFF_BASE", time.Second),
		BackoffMax:          getEnvDuration("BACKOFF_MAX", 30*time.Second),
		ConcurrentFragments: getEnvBool("CONCURRENT_FRAGMENTS", true),

		RequestsPerWindow: getEnvInt("REQUESTS_PER_WINDOW", 15),
		WindowDuration:    getEnvDuration("WINDOW_DURATION", time.Minute),

		CacheTTL: getEnvDuration("CACHE_TTL", time.Hour),

		JobTimeout:        getEnvDuration("JOB_TIMEOUT", 5*time.Minute),
		MaxConcurrentJobs: int64(getEnvInt("MAX_CONCURRENT_JOBS", 8)),
		StrictValidation:  getEnvBool("STRICT_VALIDATION", false),

		ArtifactDir:      getEnv("ARTIFACT_DIR", "./artifacts"),
		ArtifactS3Bucket: getEnv("ARTIFACT_S3_BUCKET", ""),
		AWSRegion:        getEnv("AWS_REGION", ""),

		MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_BYTES", 10<<20)),
		OCRMaxImageDim: getEnvInt("OCR_MAX_IMAGE_DIM", 2048),
	}

	if path := os.Getenv("PIPELINE_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

// fileConfig mirrors Config for the YAML overlay. Durations are strings in
// Go syntax ("30s", "5m"); pointer fields distinguish "absent" from zero.
type fileConfig struct {
	Env      *string `yaml:"env"`
	HTTPPort *string `yaml:"http_port"`

	PostgresDSN   *string `yaml:"postgres_dsn"`
	RedisAddr     *string `yaml:"redis_addr"`
	RedisPassword *string `yaml:"redis_password"`
	RedisDB       *int    `yaml:"redis_db"`

	GeminiAPIKey  *string `yaml:"gemini_api_key"`
	GeminiModel   *string `yaml:"gemini_model"`
	GeminiBaseURL *string `yaml:"gemini_base_url"`

	MaxRetries          *int    `yaml:"max_retries"`
	GenerationTimeout   *string `yaml:"generation_timeout"`
	BackoffBase         *string `yaml:"backoff_base"`
	BackoffMax          *string `yaml:"backoff_max"`
	ConcurrentFragments *bool   `yaml:"concurrent_fragments"`

	RequestsPerWindow *int    `yaml:"requests_per_window"`
	WindowDuration    *string `yaml:"window_duration"`

	CacheTTL *string `yaml:"cache_ttl"`

	JobTimeout        *string `yaml:"job_timeout"`
	MaxConcurrentJobs *int64  `yaml:"max_concurrent_jobs"`
	StrictValidation  *bool   `yaml:"strict_validation"`

	ArtifactDir      *string `yaml:"artifact_dir"`
	ArtifactS3Bucket *string `yaml:"artifact_s3_bucket"`
	AWSRegion        *string `yaml:"aws_region"`

	MaxUploadBytes *int64 `yaml:"max_upload_bytes"`
	OCRMaxImageDim *int   `yaml:"ocr_max_image_dim"`
}

// applyFile overlays YAML settings on top of the env-derived config. Only
// fields present in the file are touched.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&c.Env, fc.Env)
	setString(&c.HTTPPort, fc.HTTPPort)
	setString(&c.PostgresDSN, fc.PostgresDSN)
	setString(&c.RedisAddr, fc.RedisAddr)
	setString(&c.RedisPassword, fc.RedisPassword)
	if fc.RedisDB != nil {
		c.RedisDB = *fc.RedisDB
	}
	setString(&c.GeminiAPIKey, fc.GeminiAPIKey)
	setString(&c.GeminiModel, fc.GeminiModel)
	setString(&c.GeminiBaseURL, fc.GeminiBaseURL)
	if fc.MaxRetries != nil {
		c.MaxRetries = *fc.MaxRetries
	}
	if err := setDuration(&c.GenerationTimeout, fc.GenerationTimeout); err != nil {
		return err
	}
	if err := setDuration(&c.BackoffBase, fc.BackoffBase); err != nil {
		return err
	}
	if err := setDuration(&c.BackoffMax, fc.BackoffMax); err != nil {
		return err
	}
	if fc.ConcurrentFragments != nil {
		c.ConcurrentFragments = *fc.ConcurrentFragments
	}
	if fc.RequestsPerWindow != nil {
		c.RequestsPerWindow = *fc.RequestsPerWindow
	}
	if err := setDuration(&c.WindowDuration, fc.WindowDuration); err != nil {
		return err
	}
	if err := setDuration(&c.CacheTTL, fc.CacheTTL); err != nil {
		return err
	}
	if err := setDuration(&c.JobTimeout, fc.JobTimeout); err != nil {
		return err
	}
	if fc.MaxConcurrentJobs != nil {
		c.MaxConcurrentJobs = *fc.MaxConcurrentJobs
	}
	if fc.StrictValidation != nil {
		c.StrictValidation = *fc.StrictValidation
	}
	setString(&c.ArtifactDir, fc.ArtifactDir)
	setString(&c.ArtifactS3Bucket, fc.ArtifactS3Bucket)
	setString(&c.AWSRegion, fc.AWSRegion)
	if fc.MaxUploadBytes != nil {
		c.MaxUploadBytes = *fc.MaxUploadBytes
	}
	if fc.OCRMaxImageDim != nil {
		c.OCRMaxImageDim = *fc.OCRMaxImageDim
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *string) error {
	if src == nil {
		return nil
	}
	d, err := time.ParseDuration(*src)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", *src, err)
	}
	*dst = d
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
