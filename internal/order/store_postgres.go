package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

var ErrStoreNotMigrated = errors.New("tab store schema is missing, run the migrate command")

// DB is the subset of pgxpool.Pool the postgres store needs.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore shares tabs between client processes on one till.
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func mapPgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UndefinedTable, pgerrcode.InvalidSchemaName:
			return ErrStoreNotMigrated
		case pgerrcode.CheckViolation:
			return fmt.Errorf("store: %s: %w: %s", op, ErrInvalidStatusTransition, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("store: %s: %w", op, err)
}

func (s *PostgresStore) Get(ctx context.Context, tabID uuid.UUID) (*Order, error) {
	query := `SELECT data FROM pos.tabs WHERE tab_id = $1`

	var data []byte
	err := s.db.QueryRow(ctx, query, tabID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTabNotFound
	}
	if err != nil {
		log.Error().Err(err).Stringer("tab_id", tabID).Msg("store: failed to load tab")
		return nil, mapPgError("get tab", err)
	}

	var o Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("store: decode tab %s: %w", tabID, err)
	}
	return &o, nil
}

func (s *PostgresStore) Put(ctx context.Context, o *Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("store: encode tab %s: %w", o.TabID, err)
	}

	query := `
		INSERT INTO pos.tabs (tab_id, order_id, status, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tab_id) DO UPDATE
		SET order_id = EXCLUDED.order_id,
			status = EXCLUDED.status,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at
	`
	_, err = s.db.Exec(ctx, query, o.TabID, o.ID, o.Status.String(), data, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		log.Error().Err(err).Stringer("tab_id", o.TabID).Msg("store: failed to save tab")
		return mapPgError("put tab", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, tabID uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM pos.tabs WHERE tab_id = $1`, tabID)
	if err != nil {
		return mapPgError("delete tab", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTabNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*Order, error) {
	rows, err := s.db.Query(ctx, `SELECT data FROM pos.tabs ORDER BY created_at, tab_id`)
	if err != nil {
		return nil, mapPgError("list tabs", err)
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, mapPgError("scan tab", err)
		}
		var o Order
		if err := json.Unmarshal(data, &o); err != nil {
			return nil, fmt.Errorf("store: decode tab: %w", err)
		}
		out = append(out, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPgError("list tabs", err)
	}
	return out, nil
}
