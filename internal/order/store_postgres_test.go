package order

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/ecommerce-microservices/pos-client/internal/config"
	"github.com/vasiliy-maslov/ecommerce-microservices/pos-client/internal/db"
)

var (
	pgOnce sync.Once
	pgConn *db.Postgres
	pgErr  error
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// testPostgres connects to the database named by DB_HOST_TEST and friends and
// migrates it once per run. Without DB_HOST_TEST the caller gets nil.
func testPostgres(t *testing.T) *db.Postgres {
	t.Helper()
	if os.Getenv("DB_HOST_TEST") == "" {
		return nil
	}

	pgOnce.Do(func() {
		cfg := &config.Config{}
		cfg.Postgres.Host = os.Getenv("DB_HOST_TEST")
		cfg.Postgres.Port = envOr("DB_PORT_TEST", "5432")
		cfg.Postgres.User = envOr("DB_USER_TEST", "postgres")
		cfg.Postgres.Password = envOr("DB_PASSWORD_TEST", "postgres")
		cfg.Postgres.DBName = envOr("DB_NAME_TEST", "pos_test")
		cfg.Postgres.SSLMode = envOr("DB_SSLMODE_TEST", "disable")
		cfg.Postgres.MaxConns = 5
		cfg.Postgres.MinConns = 1
		cfg.Postgres.MaxConnLifetime = time.Minute

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		pgConn, pgErr = db.New(ctx, cfg)
		if pgErr != nil {
			return
		}
		pgErr = pgConn.Migrate(filepath.Join("..", "..", "migrations"))
	})
	require.NoError(t, pgErr)

	_, err := pgConn.Pool.Exec(context.Background(), `TRUNCATE pos.tabs`)
	require.NoError(t, err)
	return pgConn
}

func TestPostgresStore_RejectsUnknownStatus(t *testing.T) {
	pg := testPostgres(t)
	if pg == nil {
		t.Skip("DB_HOST_TEST not set")
	}
	store := NewPostgresStore(pg.Pool)

	o := newTab(t)
	o.Status = OrderStatus("VOID")
	err := store.Put(context.Background(), o)

	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
}
