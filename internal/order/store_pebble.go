package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/cockroachdb/pebble"
	"github.com/gofrs/uuid"
)

var tabKeyPrefix = []byte("tab/")

// PebbleStore keeps tabs on local disk so drafts survive a restart.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("store: pebble open: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

func (p *PebbleStore) Close() error { return p.db.Close() }

func tabKey(tabID uuid.UUID) []byte {
	return append(append([]byte(nil), tabKeyPrefix...), tabID.String()...)
}

func (p *PebbleStore) Get(_ context.Context, tabID uuid.UUID) (*Order, error) {
	v, closer, err := p.db.Get(tabKey(tabID))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrTabNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: pebble get: %w", err)
	}
	defer closer.Close()

	var o Order
	if err := json.Unmarshal(v, &o); err != nil {
		return nil, fmt.Errorf("store: decode tab %s: %w", tabID, err)
	}
	return &o, nil
}

func (p *PebbleStore) Put(_ context.Context, o *Order) error {
	b, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("store: encode tab %s: %w", o.TabID, err)
	}
	if err := p.db.Set(tabKey(o.TabID), b, pebble.Sync); err != nil {
		return fmt.Errorf("store: pebble set: %w", err)
	}
	return nil
}

func (p *PebbleStore) Delete(ctx context.Context, tabID uuid.UUID) error {
	if _, err := p.Get(ctx, tabID); err != nil {
		return err
	}
	if err := p.db.Delete(tabKey(tabID), pebble.Sync); err != nil {
		return fmt.Errorf("store: pebble delete: %w", err)
	}
	return nil
}

func (p *PebbleStore) List(_ context.Context) ([]*Order, error) {
	upper := append(append([]byte(nil), tabKeyPrefix[:len(tabKeyPrefix)-1]...), tabKeyPrefix[len(tabKeyPrefix)-1]+1)
	it, err := p.db.NewIter(&pebble.IterOptions{LowerBound: tabKeyPrefix, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("store: pebble iter: %w", err)
	}
	defer it.Close()

	var out []*Order
	for it.First(); it.Valid(); it.Next() {
		var o Order
		if err := json.Unmarshal(it.Value(), &o); err != nil {
			return nil, fmt.Errorf("store: decode %s: %w", it.Key(), err)
		}
		out = append(out, &o)
	}
	sortTabs(out)
	return out, nil
}
