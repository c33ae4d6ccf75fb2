package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig `yaml:"server"`
	Database DBConfig     `yaml:"database"`
	Redis    RedisConfig  `yaml:"redis"`
	Broker   BrokerConfig `yaml:"broker"`
	Upload   UploadConfig `yaml:"upload"`

	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	APIPrefix string `yaml:"api_prefix"`
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig holds the progress-store Redis settings.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// BrokerConfig holds the task-queue broker settings.
type BrokerConfig struct {
	URL         string        `yaml:"url"`
	ResultTTL   time.Duration `yaml:"result_ttl"`
	WorkerCount int           `yaml:"worker_count"`
}

// UploadConfig holds upload handling settings.
type UploadConfig struct {
	TmpDir    string `yaml:"tmp_dir"`
	MaxSizeMB int    `yaml:"max_size_mb"`
}

// Load reads configuration from an optional yaml file and the environment.
// Environment variables always win over file values. A .env file in the
// working directory is loaded first if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Redis.URL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.Broker.URL == "" {
		cfg.Broker.URL = cfg.Redis.URL
	}
	switch cfg.Environment {
	case "development", "staging", "production":
	default:
		return nil, fmt.Errorf("invalid environment %q", cfg.Environment)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      8080,
			APIPrefix: "/api",
		},
		Database: DBConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Broker: BrokerConfig{
			ResultTTL:   time.Hour,
			WorkerCount: 4,
		},
		Upload: UploadConfig{
			TmpDir:    filepath.Join(os.TempDir(), "imports"),
			MaxSizeMB: 512,
		},
		Environment: "development",
		LogLevel:    "info",
	}
}

func applyEnv(cfg *Config) {
	setString(&cfg.Database.URL, "DATABASE_URL")
	setString(&cfg.Redis.URL, "REDIS_URL")
	setString(&cfg.Broker.URL, "BROKER_URL")
	setString(&cfg.Upload.TmpDir, "UPLOAD_TMP_DIR")
	setString(&cfg.Server.APIPrefix, "API_PREFIX")
	setString(&cfg.Server.Host, "HOST")
	setString(&cfg.Environment, "ENVIRONMENT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setInt(&cfg.Server.Port, "PORT")
	setInt(&cfg.Upload.MaxSizeMB, "MAX_UPLOAD_SIZE_MB")
	setInt(&cfg.Broker.WorkerCount, "WORKER_COUNT")
	setDuration(&cfg.Broker.ResultTTL, "RESULT_TTL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
