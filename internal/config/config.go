package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Database DatabaseConfig `yaml:"database"`
	JWT      JWTConfig      `yaml:"jwt"`
	OAuth    OAuthConfig    `yaml:"oauth"`
	Cache    CacheConfig    `yaml:"cache"`
	Session  SessionConfig  `yaml:"session"`
	Log      LogConfig      `yaml:"log"`
	Admin    AdminConfig    `yaml:"admin"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port            string        `yaml:"port"`
	BaseURL         string        `yaml:"base_url"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig selects the persistence backend: "memory" or "postgres"
type StorageConfig struct {
	Driver string `yaml:"driver"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
}

// DSN returns a postgres connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

// JWTConfig holds JWT-related configuration
type JWTConfig struct {
	// PrivateKeyPath is the PEM signing key. When empty an ephemeral key is generated.
	PrivateKeyPath string `yaml:"private_key_path"`
	// FallbackPublicKeyPaths are retired keys still published in the JWKS.
	FallbackPublicKeyPaths []string `yaml:"fallback_public_key_paths"`
	Issuer                 string   `yaml:"issuer"`
}

// OAuthConfig holds OAuth-specific configuration
type OAuthConfig struct {
	AccessTokenTTL       time.Duration `yaml:"access_token_ttl"`
	IDTokenTTL           time.Duration `yaml:"id_token_ttl"`
	RefreshTokenTTL      time.Duration `yaml:"refresh_token_ttl"`
	AuthorizationCodeTTL time.Duration `yaml:"authorization_code_ttl"`
	ConsentRequestTTL    time.Duration `yaml:"consent_request_ttl"`
	SupportedScopes      []string      `yaml:"supported_scopes"`
}

// CacheConfig configures the store for pending consent requests
type CacheConfig struct {
	Driver        string `yaml:"driver"` // "memory" | "redis"
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	Prefix        string `yaml:"prefix"`
}

// SessionConfig configures the end-user session cookie set by the login application
type SessionConfig struct {
	CookieName string `yaml:"cookie_name"`
	Secret     string `yaml:"secret"`
}

// LogConfig configures the zap logger
type LogConfig struct {
	Env   string `yaml:"env"`
	Level string `yaml:"level"`
}

// AdminConfig lists the users allowed to run the client approval workflow
type AdminConfig struct {
	UserIDs []string `yaml:"user_ids"`
}

// Load returns a new Config populated from environment variables.
// A .env file in the working directory is loaded first when present.
func Load() *Config {
	_ = godotenv.Load()
	return applyEnv(defaults())
}

// LoadFile reads a YAML config file and then applies environment overrides
func LoadFile(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return applyEnv(cfg), nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			BaseURL:         "http://localhost:8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Storage: StorageConfig{Driver: "memory"},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "oauth",
			DBName:   "tiny_oidc",
			SSLMode:  "disable",
			MaxConns: 10,
		},
		JWT: JWTConfig{
			Issuer: "http://localhost:8080",
		},
		OAuth: OAuthConfig{
			AccessTokenTTL:       15 * time.Minute,
			IDTokenTTL:           15 * time.Minute,
			RefreshTokenTTL:      30 * 24 * time.Hour,
			AuthorizationCodeTTL: 10 * time.Minute,
			ConsentRequestTTL:    10 * time.Minute,
			SupportedScopes:      []string{"openid", "profile", "email", "offline_access"},
		},
		Cache: CacheConfig{
			Driver:    "memory",
			RedisAddr: "localhost:6379",
			Prefix:    "tiny-oidc",
		},
		Session: SessionConfig{
			CookieName: "tiny_oidc_session",
		},
		Log: LogConfig{
			Env:   "dev",
			Level: "info",
		},
	}
}

func applyEnv(cfg *Config) *Config {
	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Server.BaseURL = getEnv("BASE_URL", cfg.Server.BaseURL)
	cfg.Server.ShutdownTimeout = getEnvAsDuration("SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)

	cfg.Storage.Driver = getEnv("STORAGE_DRIVER", cfg.Storage.Driver)

	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvAsInt("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.DBName = getEnv("DB_NAME", cfg.Database.DBName)
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", cfg.Database.SSLMode)
	cfg.Database.MaxConns = getEnvAsInt("DB_MAX_CONNS", cfg.Database.MaxConns)

	cfg.JWT.PrivateKeyPath = getEnv("JWT_PRIVATE_KEY_PATH", cfg.JWT.PrivateKeyPath)
	cfg.JWT.FallbackPublicKeyPaths = getEnvAsList("JWT_FALLBACK_PUBLIC_KEY_PATHS", cfg.JWT.FallbackPublicKeyPaths)
	cfg.JWT.Issuer = getEnv("JWT_ISSUER", cfg.JWT.Issuer)

	cfg.OAuth.AccessTokenTTL = getEnvAsDuration("ACCESS_TOKEN_TTL", cfg.OAuth.AccessTokenTTL)
	cfg.OAuth.IDTokenTTL = getEnvAsDuration("ID_TOKEN_TTL", cfg.OAuth.IDTokenTTL)
	cfg.OAuth.RefreshTokenTTL = getEnvAsDuration("REFRESH_TOKEN_TTL", cfg.OAuth.RefreshTokenTTL)
	cfg.OAuth.AuthorizationCodeTTL = getEnvAsDuration("AUTHORIZATION_CODE_TTL", cfg.OAuth.AuthorizationCodeTTL)
	cfg.OAuth.ConsentRequestTTL = getEnvAsDuration("CONSENT_REQUEST_TTL", cfg.OAuth.ConsentRequestTTL)
	cfg.OAuth.SupportedScopes = getEnvAsList("SUPPORTED_SCOPES", cfg.OAuth.SupportedScopes)

	cfg.Cache.Driver = getEnv("CACHE_DRIVER", cfg.Cache.Driver)
	cfg.Cache.RedisAddr = getEnv("REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = getEnv("REDIS_PASSWORD", cfg.Cache.RedisPassword)
	cfg.Cache.RedisDB = getEnvAsInt("REDIS_DB", cfg.Cache.RedisDB)
	cfg.Cache.Prefix = getEnv("CACHE_PREFIX", cfg.Cache.Prefix)

	cfg.Session.CookieName = getEnv("SESSION_COOKIE_NAME", cfg.Session.CookieName)
	cfg.Session.Secret = getEnv("SESSION_SECRET", cfg.Session.Secret)

	cfg.Log.Env = getEnv("APP_ENV", cfg.Log.Env)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)

	cfg.Admin.UserIDs = getEnvAsList("ADMIN_USER_IDS", cfg.Admin.UserIDs)

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated variable, dropping empty items
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
