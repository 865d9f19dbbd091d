package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Counter backends.
const (
	CounterNone     = "none"
	CounterSQLite   = "sqlite"
	CounterPostgres = "postgres"
	CounterRedis    = "redis"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Worker    WorkerConfig    `yaml:"worker"`
	Counter   CounterConfig   `yaml:"counter"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Artwork   ArtworkConfig   `yaml:"artwork"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string        `yaml:"host" envconfig:"SERVER_HOST"`
	Port         int           `yaml:"port" envconfig:"SERVER_PORT"`
	APIKey       string        `yaml:"api_key" envconfig:"API_KEY"`
	ReadTimeout  time.Duration `yaml:"read_timeout" envconfig:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"SERVER_WRITE_TIMEOUT"`
	CORSOrigins  []string      `yaml:"cors_origins" envconfig:"CORS_ORIGINS"`
	FormatsLimit int           `yaml:"formats_limit" envconfig:"FORMATS_LIMIT"`
}

// StorageConfig holds temp-file configuration.
type StorageConfig struct {
	TempPath     string `yaml:"temp_path" envconfig:"STORAGE_TEMP_PATH"`
	MinFreeBytes int64  `yaml:"min_free_bytes" envconfig:"STORAGE_MIN_FREE_BYTES"`
}

// ExtractorConfig holds the extraction engine settings and download defaults.
type ExtractorConfig struct {
	BinaryPath   string        `yaml:"binary_path" envconfig:"YTDLP_PATH"`
	AutoInstall  bool          `yaml:"auto_install" envconfig:"YTDLP_AUTO_INSTALL"`
	FFmpegPath   string        `yaml:"ffmpeg_path" envconfig:"FFMPEG_LOCATION"`
	Timeout      time.Duration `yaml:"timeout" envconfig:"EXTRACTOR_TIMEOUT"`
	Verbose      bool          `yaml:"verbose" envconfig:"EXTRACTOR_VERBOSE"`
	VideoFormat  string        `yaml:"video_format" envconfig:"DEFAULT_VIDEO_FORMAT"`
	MergeFormat  string        `yaml:"merge_format" envconfig:"DEFAULT_MERGE_FORMAT"`
	AudioFormat  string        `yaml:"audio_format" envconfig:"DEFAULT_AUDIO_FORMAT"`
	AudioCodec   string        `yaml:"audio_codec" envconfig:"DEFAULT_AUDIO_CODEC"`
	AudioQuality string        `yaml:"audio_quality" envconfig:"DEFAULT_AUDIO_QUALITY"`
	TagAudio     bool          `yaml:"tag_audio" envconfig:"TAG_AUDIO"`
}

// WorkerConfig holds extraction pool and janitor configuration.
type WorkerConfig struct {
	Count          int           `yaml:"count" envconfig:"WORKER_COUNT"`
	QueueSize      int           `yaml:"queue_size" envconfig:"WORKER_QUEUE_SIZE"`
	SweepInterval  time.Duration `yaml:"sweep_interval" envconfig:"WORKER_SWEEP_INTERVAL"`
	MaxArtifactAge time.Duration `yaml:"max_artifact_age" envconfig:"WORKER_MAX_ARTIFACT_AGE"`
}

// CounterConfig selects and configures the usage counter backend.
// Credentials have no defaults and must come from the file or environment.
type CounterConfig struct {
	Driver        string `yaml:"driver" envconfig:"COUNTER_DRIVER"`
	DSN           string `yaml:"dsn" envconfig:"COUNTER_DSN"`
	SQLitePath    string `yaml:"sqlite_path" envconfig:"COUNTER_SQLITE_PATH"`
	RedisAddr     string `yaml:"redis_addr" envconfig:"REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" envconfig:"REDIS_DB"`
	AutoIncrement bool   `yaml:"auto_increment" envconfig:"COUNTER_AUTO_INCREMENT"`
}

// RateLimitConfig holds per-client limits for the download routes.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" envconfig:"RATE_LIMIT_RPS"`
	Burst             int     `yaml:"burst" envconfig:"RATE_LIMIT_BURST"`
}

// ArtworkConfig controls fetching thumbnails to embed as cover art in
// tagged audio files.
type ArtworkConfig struct {
	Enabled    bool          `yaml:"enabled" envconfig:"ARTWORK_ENABLED"`
	Timeout    time.Duration `yaml:"timeout" envconfig:"ARTWORK_TIMEOUT"`
	UserAgent  string        `yaml:"user_agent" envconfig:"ARTWORK_USER_AGENT"`
	MaxBytes   int64         `yaml:"max_bytes" envconfig:"ARTWORK_MAX_BYTES"`
	RetryDelay time.Duration `yaml:"retry_delay" envconfig:"ARTWORK_RETRY_DELAY"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values; unset fields get defaults.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// Load from YAML file if provided
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	// Override with environment variables
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	setString(&c.Server.Host, "0.0.0.0")
	setInt(&c.Server.Port, 8000)
	setDuration(&c.Server.ReadTimeout, 30*time.Second)
	setDuration(&c.Server.WriteTimeout, 30*time.Minute)
	setInt(&c.Server.FormatsLimit, 10)
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}

	setString(&c.Storage.TempPath, os.TempDir())

	setDuration(&c.Extractor.Timeout, 30*time.Minute)
	setString(&c.Extractor.VideoFormat, "137+251")
	setString(&c.Extractor.MergeFormat, "mp4")
	setString(&c.Extractor.AudioFormat, "bestaudio/best")
	setString(&c.Extractor.AudioCodec, "mp3")
	setString(&c.Extractor.AudioQuality, "192")

	setInt(&c.Worker.Count, 4)
	setInt(&c.Worker.QueueSize, 64)
	setDuration(&c.Worker.SweepInterval, 10*time.Minute)
	setDuration(&c.Worker.MaxArtifactAge, time.Hour)

	c.Counter.Driver = strings.ToLower(strings.TrimSpace(c.Counter.Driver))
	setString(&c.Counter.Driver, CounterNone)
	setString(&c.Counter.SQLitePath, "vidfetch.db")

	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 1
	}

	setDuration(&c.Artwork.Timeout, 15*time.Second)
	setString(&c.Artwork.UserAgent, "vidfetch/1.0")
	if c.Artwork.MaxBytes == 0 {
		c.Artwork.MaxBytes = 5 << 20
	}
	setDuration(&c.Artwork.RetryDelay, time.Second)
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.Storage.TempPath == "" {
		return fmt.Errorf("STORAGE_TEMP_PATH is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535")
	}
	if c.Worker.Count <= 0 {
		return fmt.Errorf("WORKER_COUNT must be positive")
	}

	switch c.Counter.Driver {
	case CounterNone:
	case CounterSQLite:
		if c.Counter.SQLitePath == "" {
			return fmt.Errorf("COUNTER_SQLITE_PATH is required for the sqlite counter")
		}
	case CounterPostgres:
		if c.Counter.DSN == "" {
			return fmt.Errorf("COUNTER_DSN is required for the postgres counter")
		}
	case CounterRedis:
		if c.Counter.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis counter")
		}
	default:
		return fmt.Errorf("unknown COUNTER_DRIVER %q", c.Counter.Driver)
	}

	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS cannot be negative")
	}
	if c.Artwork.MaxBytes < 0 {
		return fmt.Errorf("ARTWORK_MAX_BYTES cannot be negative")
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func setString(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if *dst == 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if *dst == 0 {
		*dst = v
	}
}
