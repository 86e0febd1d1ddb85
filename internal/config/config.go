package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `yaml:"port"`
	Interface    string        `yaml:"interface"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// Addr returns the listen address for the HTTP server
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Interface, s.Port)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
}

// PostgresConfig holds PostgreSQL configuration
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Addr returns the Redis host:port address
func (r RedisConfig) Addr() string {
	return net.JoinHostPort(r.Host, r.Port)
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret            string `yaml:"secret"`
	ExpirationSeconds int    `yaml:"expiration_seconds"`
}

// WebSocketConfig holds collaborative editing configuration
type WebSocketConfig struct {
	// SendBufferSize is the per-connection outbound message buffer
	SendBufferSize int `yaml:"send_buffer_size"`
	// SaveDelay is the debounce interval before a diagram mutation is persisted
	SaveDelay time.Duration `yaml:"save_delay"`
	// SnapshotCacheTTL bounds how long a cached diagram snapshot is served
	SnapshotCacheTTL time.Duration `yaml:"snapshot_cache_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`
	IsDev      bool   `yaml:"is_dev"`
	Dir        string `yaml:"dir"`
	MaxAgeDays int    `yaml:"max_age_days"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	Console    bool   `yaml:"console"`
}

// Default returns the baseline configuration before file and env overrides
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			Interface:    "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     "5432",
				User:     "postgres",
				Database: "archboard",
				SSLMode:  "disable",
			},
			Redis: RedisConfig{
				Port: "6379",
			},
		},
		Auth: AuthConfig{
			JWT: JWTConfig{
				ExpirationSeconds: 86400,
			},
		},
		WebSocket: WebSocketConfig{
			SendBufferSize:   256,
			SaveDelay:        5 * time.Second,
			SnapshotCacheTTL: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Console:    true,
			MaxAgeDays: 7,
			MaxSizeMB:  100,
			MaxBackups: 10,
		},
	}
}

// Load builds the configuration from defaults, an optional yaml file, and
// environment variable overrides, in that order
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 - path comes from operator config
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Server.Port, "SERVER_PORT")
	setString(&c.Server.Interface, "SERVER_INTERFACE")
	setDuration(&c.Server.ReadTimeout, "SERVER_READ_TIMEOUT")
	setDuration(&c.Server.WriteTimeout, "SERVER_WRITE_TIMEOUT")
	setDuration(&c.Server.IdleTimeout, "SERVER_IDLE_TIMEOUT")

	setString(&c.Database.Postgres.Host, "POSTGRES_HOST")
	setString(&c.Database.Postgres.Port, "POSTGRES_PORT")
	setString(&c.Database.Postgres.User, "POSTGRES_USER")
	setString(&c.Database.Postgres.Password, "POSTGRES_PASSWORD")
	setString(&c.Database.Postgres.Database, "POSTGRES_DATABASE")
	setString(&c.Database.Postgres.SSLMode, "POSTGRES_SSL_MODE")

	setString(&c.Database.Redis.Host, "REDIS_HOST")
	setString(&c.Database.Redis.Port, "REDIS_PORT")
	setString(&c.Database.Redis.Password, "REDIS_PASSWORD")
	setInt(&c.Database.Redis.DB, "REDIS_DB")

	setString(&c.Auth.JWT.Secret, "JWT_SECRET")
	setInt(&c.Auth.JWT.ExpirationSeconds, "JWT_EXPIRATION_SECONDS")

	setInt(&c.WebSocket.SendBufferSize, "WS_SEND_BUFFER_SIZE")
	setDuration(&c.WebSocket.SaveDelay, "WS_SAVE_DELAY")
	setDuration(&c.WebSocket.SnapshotCacheTTL, "WS_SNAPSHOT_CACHE_TTL")

	setString(&c.Logging.Level, "LOG_LEVEL")
	setBool(&c.Logging.IsDev, "LOG_IS_DEV")
	setString(&c.Logging.Dir, "LOG_DIR")
	setBool(&c.Logging.Console, "LOG_CONSOLE")
}

// Validate checks the configuration for values the server cannot run without
func (c *Config) Validate() error {
	if c.Auth.JWT.Secret == "" {
		return fmt.Errorf("auth.jwt.secret is required (set JWT_SECRET)")
	}
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if c.WebSocket.SaveDelay <= 0 {
		return fmt.Errorf("websocket.save_delay must be positive")
	}
	return nil
}

func setString(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func setInt(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func setBool(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

func setDuration(target *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*target = d
		}
	}
}
