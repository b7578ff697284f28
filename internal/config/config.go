package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// dotEnvFile は起動時に読み込むローカル用の環境変数ファイル。
const dotEnvFile = ".env"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Cognito
	UserPoolID      string        `env:"AWS_USER_POOL_ID"`
	ClientID        string        `env:"AWS_CLIENT_ID"`
	ClientSecret    string        `env:"AWS_CLIENT_SECRET"`
	Region          string        `env:"AWS_REGION"`
	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`

	// Database
	DatabaseURL string `env:"DATABASE_URL"`
	DBHost      string `env:"DB_HOST" envDefault:"localhost"`
	DBPort      string `env:"DB_PORT" envDefault:"5432"`
	DBName      string `env:"DB_DATABASE"`
	DBUser      string `env:"DB_USER"`
	DBPassword  string `env:"DB_PASSWORD"`
	DBSSLMode   string `env:"DB_SSLMODE" envDefault:"disable"`

	// Connection pool
	DBPoolMax     int           `env:"DB_POOL_MAX" envDefault:"10"`
	DBPoolMin     int           `env:"DB_POOL_MIN" envDefault:"1"`
	DBPoolIdle    time.Duration `env:"DB_POOL_IDLE" envDefault:"10s"`
	DBPoolAcquire time.Duration `env:"DB_POOL_ACQUIRE" envDefault:"30s"`

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral      int `env:"RATE_LIMIT_GENERAL" envDefault:"60"`
	RateLimitCodeDelivery int `env:"RATE_LIMIT_CODE_DELIVERY" envDefault:"5"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`

	// CORS
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN" envDefault:"*"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はまとめてエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(dotEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", dotEnvFile, err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	// Required fields
	var missing []string

	if cfg.UserPoolID == "" {
		missing = append(missing, "AWS_USER_POOL_ID")
	}
	if cfg.ClientID == "" {
		missing = append(missing, "AWS_CLIENT_ID")
	}
	if cfg.DatabaseURL == "" && cfg.DBName == "" {
		missing = append(missing, "DATABASE_URL or DB_DATABASE")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if cfg.Region == "" {
		cfg.Region = RegionFromUserPoolID(cfg.UserPoolID)
		if cfg.Region == "" {
			return nil, fmt.Errorf("AWS_REGION is not set and cannot be derived from AWS_USER_POOL_ID %q", cfg.UserPoolID)
		}
	}

	if cfg.DBPoolMin > cfg.DBPoolMax {
		cfg.DBPoolMin = cfg.DBPoolMax
	}

	return cfg, nil
}

// DatabaseDSN はPostgreSQLの接続文字列を返す。
// DATABASE_URLが設定されていればそれを優先し、なければDB_*から組み立てる。
func (c *Config) DatabaseDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}

	u := &url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": {c.DBSSLMode}}.Encode(),
	}
	switch {
	case c.DBUser != "" && c.DBPassword != "":
		u.User = url.UserPassword(c.DBUser, c.DBPassword)
	case c.DBUser != "":
		u.User = url.User(c.DBUser)
	}
	return u.String()
}

// RegionFromUserPoolID はユーザープールID（例: us-east-1_AbCdEf）からリージョンを取り出す。
// 形式が不正な場合は空文字列を返す。
func RegionFromUserPoolID(userPoolID string) string {
	region, _, ok := strings.Cut(userPoolID, "_")
	if !ok {
		return ""
	}
	return region
}
