package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

type Config struct {
	Storage Storage
	Limits  Limits
	Relay   Relay
	Logging Logging
}

type Storage struct {
	Backend      string
	DataFile     string
	SaveDebounce time.Duration
	Postgres     Postgres
}

type Postgres struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

type Limits struct {
	MaxChannels          int
	MaxMembersPerChannel int
	MaxChannelsPerPlayer int
}

type Relay struct {
	Enabled       bool
	ServerName    string
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int
	RedisChannel  string
	ProxyWSURL    string
}

type Logging struct {
	Level string
	File  string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Storage: Storage{
			Backend:      getEnv("STORAGE_BACKEND", BackendFile),
			DataFile:     getEnv("DATA_FILE", "data/channels.json"),
			SaveDebounce: time.Duration(getEnvInt("SAVE_DEBOUNCE_SECONDS", 3)) * time.Second,
			Postgres: Postgres{
				Host:     getEnv("POSTGRES_HOST", "localhost"),
				Port:     getEnvInt("POSTGRES_PORT", 5432),
				User:     getEnv("POSTGRES_USER", "chatcore"),
				Password: getEnv("POSTGRES_PASSWORD", ""),
				Database: getEnv("POSTGRES_DB", "chatcore"),
			},
		},
		Limits: Limits{
			MaxChannels:          getEnvInt("MAX_CHANNELS", 100),
			MaxMembersPerChannel: getEnvInt("MAX_MEMBERS_PER_CHANNEL", 50),
			MaxChannelsPerPlayer: getEnvInt("MAX_CHANNELS_PER_PLAYER", 10),
		},
		Relay: Relay{
			Enabled:       getEnvBool("RELAY_ENABLED", false),
			ServerName:    getEnv("RELAY_SERVER_NAME", "server-1"),
			RedisHost:     getEnv("REDIS_HOST", "localhost"),
			RedisPort:     getEnvInt("REDIS_PORT", 6379),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("REDIS_DB", 0),
			RedisChannel:  getEnv("RELAY_REDIS_CHANNEL", "chatcore:relay"),
			ProxyWSURL:    getEnv("RELAY_PROXY_WS_URL", ""),
		},
		Logging: Logging{
			Level: getEnv("LOG_LEVEL", "info"),
			File:  getEnv("LOG_FILE", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendFile:
		if c.Storage.DataFile == "" {
			return fmt.Errorf("DATA_FILE is required for the file backend")
		}
	case BackendPostgres:
		if c.Storage.Postgres.Host == "" {
			return fmt.Errorf("POSTGRES_HOST is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend)
	}
	if c.Limits.MaxChannels <= 0 {
		return fmt.Errorf("MAX_CHANNELS must be positive")
	}
	if c.Limits.MaxMembersPerChannel <= 0 {
		return fmt.Errorf("MAX_MEMBERS_PER_CHANNEL must be positive")
	}
	if c.Limits.MaxChannelsPerPlayer <= 0 {
		return fmt.Errorf("MAX_CHANNELS_PER_PLAYER must be positive")
	}
	if c.Relay.Enabled && c.Relay.ServerName == "" {
		return fmt.Errorf("RELAY_SERVER_NAME is required when the relay is enabled")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
