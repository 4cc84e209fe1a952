package order

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid"
	"golang.org/x/sync/errgroup"
)

const stockLookupConcurrency = 4

// FindShortages checks every cart line against live stock and reports the
// lines whose default warehouse cannot cover the quantity.
func (s *service) FindShortages(ctx context.Context, tabID uuid.UUID) ([]Shortage, error) {
	o, err := s.tabs.Get(ctx, tabID)
	if err != nil {
		return nil, err
	}

	found := make([]*Shortage, len(o.Items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(stockLookupConcurrency)

	for i, item := range o.Items {
		if len(item.Allocations) > 0 {
			continue
		}
		g.Go(func() error {
			stock, err := s.gateway.StockAvailability(gctx, item.ItemCode)
			if err != nil {
				return fmt.Errorf("service: stock availability for %s: %w", item.ItemCode, err)
			}

			have := nonNegative(onHand(stock, item.Warehouse))
			if have.GreaterThanOrEqual(item.Qty) {
				return nil
			}

			total := have
			for _, st := range stock {
				if st.Warehouse != item.Warehouse {
					total = total.Add(nonNegative(st.Available))
				}
			}
			found[i] = &Shortage{
				Index:     i,
				ItemCode:  item.ItemCode,
				Required:  item.Qty,
				OnHand:    have,
				Available: total,
				Stock:     stock,
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Shortage, 0)
	for _, sh := range found {
		if sh != nil {
			out = append(out, *sh)
		}
	}
	return out, nil
}
