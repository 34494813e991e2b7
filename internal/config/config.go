// Package config loads process settings from the environment and .env.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"

	apperrors "github.com/tendant/simple-image-forensics/internal/errors"
)

type Config struct {
	// HTTP listen address of the API server, e.g. ":8080"
	HTTPAddr string `env:"FORENSICS_HTTP_ADDR" envDefault:":8080"`
	// HTTP listen address of the async worker
	WorkerHTTPAddr string `env:"WORKER_HTTP_ADDR" envDefault:":8081"`
	// Base used when rendering thumbnail URLs in responses
	PublicBaseURL string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
	// Allowed CORS origins
	CORSOrigins []string `env:"CORS_ALLOW_ORIGINS" envSeparator:"," envDefault:"*"`

	// SQLite file for image records
	DBPath string `env:"FORENSICS_DB_PATH" envDefault:"forensics.db"`
	// Uploads larger than this are rejected before decoding
	MaxUploadBytes int64 `env:"MAX_UPLOAD_BYTES" envDefault:"33554432"`
	// JPEG quality used for jpeg thumbnails
	JPEGQuality int `env:"THUMBNAIL_JPEG_QUALITY" envDefault:"90"`

	// simple-content settings for the async worker
	ContentAPIURL string `env:"CONTENT_API_URL"`
	StorageDir    string `env:"STORAGE_DIR" envDefault:"./dev-data"`

	Log     LogConfig
	Caption CaptionConfig
	Dedupe  DedupeConfig
	DBOS    DBOSConfig
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"console"` // console | json
	// Optional processing log file, appended to in addition to stdout
	File string `env:"LOG_FILE"`
}

type CaptionConfig struct {
	APIKey    string        `env:"OPENAI_API_KEY"`
	BaseURL   string        `env:"OPENAI_BASE_URL"`
	Model     string        `env:"CAPTION_MODEL" envDefault:"gpt-4o-mini"`
	Prompt    string        `env:"CAPTION_PROMPT"`
	MaxTokens int           `env:"CAPTION_MAX_TOKENS" envDefault:"60"`
	Timeout   time.Duration `env:"CAPTION_TIMEOUT" envDefault:"30s"`
	// Static caption used when no API key is configured
	Static string `env:"CAPTION_STATIC"`
}

type DedupeConfig struct {
	Backend       string `env:"DEDUPE_BACKEND" envDefault:"memory"` // memory | redis | postgres
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisKey      string `env:"REDIS_DEDUPE_KEY" envDefault:"forensics:dedupe"`
	DatabaseURL   string `env:"DEDUPE_DATABASE_URL"`
}

type DBOSConfig struct {
	DatabaseURL        string `env:"DBOS_SYSTEM_DATABASE_URL"`
	AppName            string `env:"DBOS_APP_NAME" envDefault:"forensics-worker"`
	QueueName          string `env:"DBOS_QUEUE_NAME" envDefault:"default"`
	Concurrency        int    `env:"DBOS_CONCURRENCY" envDefault:"4"`
	ApplicationVersion string `env:"DBOS_APP_VERSION"`
}

// Load loads .env (if present) and parses environment variables into Config.
func Load() (Config, error) {
	// Load .env if available; ignore error if file does not exist
	_ = godotenv.Load()
	return parse(env.Options{})
}

// FromMap parses settings from m instead of the process environment.
func FromMap(m map[string]string) (Config, error) {
	return parse(env.Options{Environment: m})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, apperrors.Wrap(apperrors.KindConfig, "config.parse", "parse env", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	fail := func(format string, args ...any) error {
		return apperrors.New(apperrors.KindConfig, "config.validate", fmt.Sprintf(format, args...))
	}

	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fail("THUMBNAIL_JPEG_QUALITY must be within 1..100, got %d", c.JPEGQuality)
	}
	if c.MaxUploadBytes <= 0 {
		return fail("MAX_UPLOAD_BYTES must be positive")
	}
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		return fail("LOG_FORMAT must be console or json, got %q", c.Log.Format)
	}
	switch c.Dedupe.Backend {
	case "memory", "redis":
	case "postgres":
		if c.Dedupe.DatabaseURL == "" {
			return fail("DEDUPE_DATABASE_URL is required for the postgres dedupe backend")
		}
	default:
		return fail("DEDUPE_BACKEND must be memory, redis or postgres, got %q", c.Dedupe.Backend)
	}
	if c.Caption.Timeout <= 0 {
		return fail("CAPTION_TIMEOUT must be positive")
	}
	if c.DBOS.Concurrency < 0 {
		return fail("DBOS_CONCURRENCY must not be negative")
	}
	return nil
}
