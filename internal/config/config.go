// Package config loads settings from defaults, an optional config file and
// KG_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const EnvPrefix = "KG"

type Config struct {
	API    APIConfig
	Server ServerConfig
	Redis  RedisConfig
	NATS   NATSConfig
	Log    LogConfig
}

type APIConfig struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64
}

type ServerConfig struct {
	Port string
}

// RedisConfig enables persistence when URL is set.
type RedisConfig struct {
	URL        string
	Expiration time.Duration
}

// NATSConfig enables the event bridge when URL is set.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	Codec         string
}

type LogConfig struct {
	Level  string
	Format string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://localhost:5050")
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("api.rate_limit", 0)
	v.SetDefault("server.port", "8080")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.expiration", 24*time.Hour)
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "kg")
	v.SetDefault("nats.codec", "json")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// New returns a viper instance with defaults and env binding applied. When
// file is non-empty it is read as well.
func New(file string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config %s: %w", file, err)
			}
		}
	}
	return v, nil
}

func Load(file string) (*Config, error) {
	v, err := New(file)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

func FromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		API: APIConfig{
			BaseURL:   strings.TrimRight(v.GetString("api.base_url"), "/"),
			Timeout:   v.GetDuration("api.timeout"),
			RateLimit: v.GetFloat64("api.rate_limit"),
		},
		Server: ServerConfig{
			Port: v.GetString("server.port"),
		},
		Redis: RedisConfig{
			URL:        v.GetString("redis.url"),
			Expiration: v.GetDuration("redis.expiration"),
		},
		NATS: NATSConfig{
			URL:           v.GetString("nats.url"),
			SubjectPrefix: v.GetString("nats.subject_prefix"),
			Codec:         v.GetString("nats.codec"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if cfg.API.BaseURL == "" {
		return nil, fmt.Errorf("api.base_url must not be empty")
	}
	if cfg.API.Timeout <= 0 {
		return nil, fmt.Errorf("api.timeout must be positive, got %s", cfg.API.Timeout)
	}
	if cfg.API.RateLimit < 0 {
		return nil, fmt.Errorf("api.rate_limit must not be negative")
	}
	switch cfg.NATS.Codec {
	case "json", "msgpack":
	default:
		return nil, fmt.Errorf("unknown nats.codec %q", cfg.NATS.Codec)
	}
	return cfg, nil
}

// NewLogger builds the process logger from the log settings.
func NewLogger(cfg LogConfig) (*logrus.Logger, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log.level: %w", err)
	}
	logger.SetLevel(level)

	switch cfg.Format {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log.format %q", cfg.Format)
	}
	return logger, nil
}
