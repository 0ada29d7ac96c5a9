package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

// 利用可能なストレージの種類
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageMongo    = "mongo"
	StorageBadger   = "badger"
)

var (
	ErrUnknownStorage  = errors.New("unknown storage type")
	ErrMissingDatabase = errors.New("DATABASE_URL or DB_HOST/DB_USERNAME/DB_PASSWORD/DB_NAME is required when STORAGE_TYPE=postgres")
	ErrInvalidDuration = errors.New("durations must be positive")
	ErrInvalidRetries  = errors.New("STORE_MAX_RETRIES must not be negative")
)

// Config はサーバーの設定
type Config struct {
	Port        int    `env:"PORT,default=8080"`
	StorageType string `env:"STORAGE_TYPE,default=memory"`
	LogLevel    string `env:"LOG_LEVEL,default=INFO"`

	DatabaseURL string `env:"DATABASE_URL"`
	DBHost      string `env:"DB_HOST"`
	DBPort      string `env:"DB_PORT,default=5432"`
	DBUsername  string `env:"DB_USERNAME"`
	DBPassword  string `env:"DB_PASSWORD"`
	DBName      string `env:"DB_NAME"`

	MongoURI      string `env:"MONGO_URI,default=mongodb://localhost:27017"`
	MongoDatabase string `env:"MONGO_DATABASE,default=chat"`

	BadgerFilepath string `env:"BADGER_FILEPATH,default=data/badger"`

	StaleAfter      time.Duration `env:"STALE_AFTER,default=10s"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL,default=15s"`
	StoreMaxRetries int           `env:"STORE_MAX_RETRIES,default=3"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=5s"`
}

// Load は環境変数から設定を読み込んで検証する
func Load() (Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate は設定値の整合性を確認する
func (c Config) Validate() error {
	switch c.StorageType {
	case "", StorageMemory, StorageMongo, StorageBadger:
	case StoragePostgres:
		if c.PostgresURL() == "" {
			return ErrMissingDatabase
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStorage, c.StorageType)
	}
	if c.StaleAfter <= 0 || c.SweepInterval <= 0 || c.ShutdownTimeout <= 0 {
		return ErrInvalidDuration
	}
	if c.StoreMaxRetries < 0 {
		return ErrInvalidRetries
	}
	return nil
}

// PostgresURL は接続先URLを返す
// DATABASE_URL が無い場合は個別の環境変数から組み立てる（ECS + Secrets Manager対応）
func (c Config) PostgresURL() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	if c.DBHost == "" || c.DBUsername == "" || c.DBPassword == "" || c.DBName == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=require",
		c.DBUsername, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// Addr はHTTPサーバーの待ち受けアドレスを返す
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
