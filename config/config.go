package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds the server settings. Values come from an optional YAML file
// and are overridden by environment variables.
type Config struct {
	HTTPAddr string `yaml:"http_addr" env:"HTTP_ADDR" env-default:":8444" validate:"required"`
	CertFile string `yaml:"cert_file" env:"CERT_FILE" validate:"required_with=KeyFile"`
	KeyFile  string `yaml:"key_file" env:"KEY_FILE" validate:"required_with=CertFile"`

	// JWTSecret verifies caller bearer tokens.
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET" validate:"required"`

	// DatabaseDSN is sqlite://path or a postgres:// URL.
	DatabaseDSN string `yaml:"database_dsn" env:"DATABASE_DSN" env-default:"sqlite://voxnote.db" validate:"required"`

	Blob     BlobConfig     `yaml:"blob"`
	Gemini   GeminiConfig   `yaml:"gemini"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Redis    RedisConfig    `yaml:"redis"`

	// Dispatch picks how uploads hand jobs to analysis workers.
	Dispatch   string `yaml:"dispatch" env:"DISPATCH" env-default:"local" validate:"oneof=local redis http"`
	TriggerURL string `yaml:"trigger_url" env:"TRIGGER_URL" validate:"required_if=Dispatch http"`

	// InboxDir enables the drop folder watcher when set.
	InboxDir string `yaml:"inbox_dir" env:"INBOX_DIR"`

	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info" validate:"oneof=debug info warn error"`
}

type BlobConfig struct {
	Backend  string `yaml:"backend" env:"BLOB_BACKEND" env-default:"fs" validate:"oneof=fs s3"`
	Dir      string `yaml:"dir" env:"BLOB_DIR" env-default:"recordings" validate:"required_if=Backend fs"`
	Bucket   string `yaml:"bucket" env:"S3_BUCKET" validate:"required_if=Backend s3"`
	Region   string `yaml:"region" env:"S3_REGION" env-default:"us-east-1"`
	Endpoint string `yaml:"endpoint" env:"S3_ENDPOINT"`
}

type GeminiConfig struct {
	APIKey  string `yaml:"api_key" env:"GEMINI_API_KEY" validate:"required"`
	Model   string `yaml:"model" env:"GEMINI_MODEL" env-default:"gemini-1.5-flash" validate:"required"`
	BaseURL string `yaml:"base_url" env:"GEMINI_BASE_URL"`
}

type AnalysisConfig struct {
	Timeout   time.Duration `yaml:"timeout" env:"ANALYSIS_TIMEOUT" env-default:"5m"`
	Workers   int           `yaml:"workers" env:"WORKERS" env-default:"2" validate:"min=1"`
	QueueSize int           `yaml:"queue_size" env:"QUEUE_SIZE" env-default:"100" validate:"min=1"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	Queue    string `yaml:"queue" env:"REDIS_QUEUE" env-default:"voxnote:analysis"`
}

// Load reads path when given, then the environment, and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Usage describes every environment variable the server reads.
func Usage() string {
	var cfg Config
	desc, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return ""
	}
	return desc
}
