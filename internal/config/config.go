// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// ストアのバックエンド種別
const (
	StoreBackendMemory = "memory"
	StoreBackendRedis  = "redis"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Identity provider
	FacebookClientID        string        `env:"FACEBOOK_CLIENT_ID" validate:"required"`
	FacebookRedirectURL     string        `env:"FACEBOOK_REDIRECT_URL" validate:"required,url"`
	OIDCIssuer              string        `env:"OIDC_ISSUER" validate:"required,url"`
	OIDCAllowPrivateNetwork bool          `env:"OIDC_ALLOW_PRIVATE_NETWORK"`
	OIDCTimeout             time.Duration `env:"OIDC_HTTP_TIMEOUT" validate:"gt=0"`

	// Login / Session
	LoginStateTTL time.Duration `env:"LOGIN_STATE_TTL" validate:"gt=0"`
	SessionTTL    time.Duration `env:"SESSION_TTL" validate:"gt=0"`

	// Storage
	StoreBackend  string        `env:"STORE_BACKEND" validate:"oneof=memory redis"`
	RedisURL      string        `env:"REDIS_URL" validate:"required_if=StoreBackend redis"`
	DatabaseURL   string        `env:"DATABASE_URL"`
	AutoMigrate   bool          `env:"AUTO_MIGRATE"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" validate:"gt=0"`

	// Rate Limit（req/min/IP）
	RateLimitLogin int `env:"RATE_LIMIT_LOGIN" validate:"gte=1"`

	// Server
	ServerPort        string `env:"APP_PORT" validate:"required,numeric"`
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
}

// UsePostgres はユーザーをPostgreSQLに保存するかどうかを返す。
func (c *Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// LoadEnvFile はENV_FILE（未指定時は.env）が存在すれば環境変数として読み込む。
// 既に設定済みの環境変数は上書きしない。
func LoadEnvFile() error {
	path := getEnvString("ENV_FILE", ".env")
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat env file %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Load は環境変数からConfigを読み込み、検証する。
// 必須環境変数の未設定や不正な値がある場合はエラーを返す。
func Load() (*Config, error) {
	if err := LoadEnvFile(); err != nil {
		return nil, err
	}

	cfg := &Config{
		FacebookClientID:        os.Getenv("FACEBOOK_CLIENT_ID"),
		FacebookRedirectURL:     os.Getenv("FACEBOOK_REDIRECT_URL"),
		OIDCIssuer:              getEnvString("OIDC_ISSUER", "https://www.facebook.com"),
		OIDCAllowPrivateNetwork: getEnvBool("OIDC_ALLOW_PRIVATE_NETWORK", false),
		OIDCTimeout:             getEnvDuration("OIDC_HTTP_TIMEOUT", 10*time.Second),
		LoginStateTTL:           getEnvDuration("LOGIN_STATE_TTL", 15*time.Minute),
		SessionTTL:              getEnvDuration("SESSION_TTL", 24*time.Hour),
		StoreBackend:            strings.ToLower(getEnvString("STORE_BACKEND", StoreBackendMemory)),
		RedisURL:                os.Getenv("REDIS_URL"),
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		AutoMigrate:             getEnvBool("AUTO_MIGRATE", false),
		SweepInterval:           getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
		RateLimitLogin:          getEnvInt("RATE_LIMIT_LOGIN", 30),
		ServerPort:              getEnvString("APP_PORT", getEnvString("SERVER_PORT", "8080")),
		CORSAllowedOrigin:       os.Getenv("CORS_ALLOWED_ORIGIN"),
		LogLevel:                strings.ToLower(getEnvString("LOG_LEVEL", "info")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate は設定値を検証する。エラーメッセージには環境変数名を含める。
func (c *Config) Validate() error {
	err := newValidator().Struct(c)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("invalid config: %w", err)
	}

	messages := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		messages = append(messages, fmt.Sprintf("%s (%s)", fe.Field(), describeRule(fe)))
	}
	return fmt.Errorf("invalid environment variables: %s", strings.Join(messages, ", "))
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// フィールド名の代わりに環境変数名をエラーに使う
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if name := fld.Tag.Get("env"); name != "" {
			return name
		}
		return fld.Name
	})
	return v
}

func describeRule(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "url":
		return "must be a valid URL"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "numeric":
		return "must be numeric"
	case "gt", "gte":
		return "must be positive"
	default:
		return "failed " + fe.Tag()
	}
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
