package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/storefront/authsession/internal/duration"
)

const (
	DefaultAccessTTL  = "15m"
	DefaultRefreshTTL = "7d"
)

var ErrMissingSecret = errors.New("missing signing secret")

type Config struct {
	Server   ServerConfig
	DynamoDB DynamoDBConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Session  SessionConfig
}

type ServerConfig struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	AllowedOrigins string
	LogLevel       string
	// AdminDir, when set, is served under /admin behind the navigation guard.
	AdminDir string
}

type DynamoDBConfig struct {
	Endpoint  string
	Region    string
	TableName string
}

type PostgresConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Endpoint string
	Password string
	DB       int
}

// JWTConfig holds the signing parameters. TTLs are duration strings
// ("15m", "7d") and are parsed when a token is signed.
type JWTConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     string
	RefreshTTL    string
	Audience      string
	Issuer        string
}

type SessionConfig struct {
	// UserStore selects the user lookup backend: "dynamodb" or "postgres".
	UserStore  string
	LoginRoute string
}

func Load() (*Config, error) {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			AllowedOrigins: getEnv("ALLOWED_ORIGINS", "*"),
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AdminDir:       getEnv("ADMIN_DIR", ""),
		},
		DynamoDB: DynamoDBConfig{
			Endpoint:  getEnv("DYNAMODB_ENDPOINT", ""),
			Region:    getEnv("DYNAMODB_REGION", "us-east-1"),
			TableName: getEnv("DYNAMODB_TABLE_NAME", "AuthSessionTable"),
		},
		Postgres: PostgresConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Endpoint: getEnv("REDIS_ENDPOINT", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			AccessSecret:  getEnv("JWT_ACCESS_SECRET", ""),
			RefreshSecret: getEnv("JWT_REFRESH_SECRET", ""),
			AccessTTL:     getEnv("JWT_ACCESS_TTL", DefaultAccessTTL),
			RefreshTTL:    getEnv("JWT_REFRESH_TTL", DefaultRefreshTTL),
			Audience:      getEnv("JWT_AUDIENCE", ""),
			Issuer:        getEnv("JWT_ISSUER", ""),
		},
		Session: SessionConfig{
			UserStore:  getEnv("USER_STORE", "dynamodb"),
			LoginRoute: getEnv("LOGIN_ROUTE", "/login"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if err := c.JWT.Validate(); err != nil {
		return err
	}

	switch c.Session.UserStore {
	case "dynamodb":
	case "postgres":
		if c.Postgres.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when USER_STORE=postgres")
		}
	default:
		return fmt.Errorf("unknown USER_STORE %q", c.Session.UserStore)
	}

	return nil
}

func (c *JWTConfig) Validate() error {
	if c.AccessSecret == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET environment variable is required: %w", ErrMissingSecret)
	}
	if c.RefreshSecret == "" {
		return fmt.Errorf("JWT_REFRESH_SECRET environment variable is required: %w", ErrMissingSecret)
	}
	if _, err := duration.Parse(c.AccessTTL); err != nil {
		return fmt.Errorf("JWT_ACCESS_TTL: %w", err)
	}
	if _, err := duration.Parse(c.RefreshTTL); err != nil {
		return fmt.Errorf("JWT_REFRESH_TTL: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := duration.ParseDuration(value); err == nil {
			return d
		}
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
