package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App struct {
		Port     string `envconfig:"APP_PORT" default:"8080"`
		LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	}
	Backend struct {
		BaseURL   string        `envconfig:"BACKEND_URL" required:"true"`
		APIKey    string        `envconfig:"BACKEND_API_KEY"`
		APISecret string        `envconfig:"BACKEND_API_SECRET"`
		Timeout   time.Duration `envconfig:"BACKEND_TIMEOUT" default:"15s"`
	}
	Store struct {
		Backend   string `envconfig:"STORE_BACKEND" default:"memory"`
		PebbleDir string `envconfig:"STORE_PEBBLE_DIR" default:"./data/tabs"`
	}
	Postgres struct {
		Host            string        `envconfig:"DB_HOST" default:"localhost"`
		Port            string        `envconfig:"DB_PORT" default:"5432"`
		User            string        `envconfig:"DB_USER"`
		Password        string        `envconfig:"DB_PASSWORD"`
		DBName          string        `envconfig:"DB_NAME"`
		SSLMode         string        `envconfig:"DB_SSLMODE" default:"disable"`
		MaxConns        int32         `envconfig:"DB_MAX_CONNS" default:"10"`
		MinConns        int32         `envconfig:"DB_MIN_CONNS" default:"2"`
		MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"1h"`
		MigrationsPath  string        `envconfig:"DB_MIGRATIONS_PATH" default:"migrations"`
	}
	Kafka struct {
		Brokers string `envconfig:"KAFKA_BROKERS"`
		Topic   string `envconfig:"KAFKA_TOPIC" default:"pos.order-lifecycle"`
	}
	ProfilePath string `envconfig:"POS_PROFILE" default:"profile.yaml"`
}

var ErrUnknownStoreBackend = errors.New("unknown store backend")

const (
	StoreMemory   = "memory"
	StorePebble   = "pebble"
	StorePostgres = "postgres"
)

// Load reads an optional .env file and then the environment. A missing .env
// file is not an error.
func Load(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	switch cfg.Store.Backend {
	case StoreMemory, StorePebble:
	case StorePostgres:
		if cfg.Postgres.User == "" || cfg.Postgres.DBName == "" {
			return nil, errors.New("DB_USER and DB_NAME are required for the postgres store")
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStoreBackend, cfg.Store.Backend)
	}

	return cfg, nil
}

// PostgresDSN builds the connection URL used by pgx and migrate.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.Postgres.User, c.Postgres.Password, c.Postgres.Host, c.Postgres.Port, c.Postgres.DBName, c.Postgres.SSLMode)
}
