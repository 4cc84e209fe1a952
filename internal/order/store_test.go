package order

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var decimalEqual = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

func newTab(t *testing.T) *Order {
	t.Helper()
	return &Order{
		TabID:    uuid.Must(uuid.NewV4()),
		Customer: "Walk-In Customer",
		Items:    []OrderItem{{ItemCode: "ABC-1", Qty: dec("2"), Rate: dec("100"), UOM: "Nos"}},
		TaxRate:  dec("15"),
		Status:   StatusUnsaved,
	}
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	pebbleStore, err := NewPebbleStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pebbleStore.Close() })

	out := map[string]Store{
		"memory": NewInMemoryStore(),
		"pebble": pebbleStore,
	}
	if pg := testPostgres(t); pg != nil {
		out["postgres"] = NewPostgresStore(pg.Pool)
	}
	return out
}

func TestStore_CRUD(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			tabs := NewTabs(store, func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) })

			first := newTab(t)
			second := newTab(t)
			require.NoError(t, tabs.Create(ctx, first))
			require.NoError(t, tabs.Create(ctx, second))

			got, err := tabs.Get(ctx, first.TabID)
			require.NoError(t, err)
			if diff := cmp.Diff(first, got, decimalEqual); diff != "" {
				t.Errorf("Get() mismatch (-want +got):\n%s", diff)
			}

			list, err := tabs.List(ctx)
			require.NoError(t, err)
			assert.Len(t, list, 2)

			require.NoError(t, tabs.Delete(ctx, first.TabID))
			_, err = tabs.Get(ctx, first.TabID)
			assert.ErrorIs(t, err, ErrTabNotFound)
			assert.ErrorIs(t, tabs.Delete(ctx, first.TabID), ErrTabNotFound)
		})
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	o := newTab(t)
	require.NoError(t, store.Put(ctx, o))

	got, err := store.Get(ctx, o.TabID)
	require.NoError(t, err)
	got.Items[0].Qty = dec("99")

	again, err := store.Get(ctx, o.TabID)
	require.NoError(t, err)
	assert.True(t, again.Items[0].Qty.Equal(dec("2")))
}

func TestTabs_Mutators(t *testing.T) {
	ctx := context.Background()
	tabs := NewTabs(NewInMemoryStore(), nil)
	o := newTab(t)
	require.NoError(t, tabs.Create(ctx, o))

	_, err := tabs.SetOrderID(ctx, o.TabID, "SO-0001")
	require.NoError(t, err)
	_, err = tabs.SetStatus(ctx, o.TabID, StatusDraft)
	require.NoError(t, err)
	_, err = tabs.MarkEdited(ctx, o.TabID, true)
	require.NoError(t, err)
	got, err := tabs.SetInvoice(ctx, o.TabID, "SINV-0001", "Paid", ReturnStatusFull)
	require.NoError(t, err)

	assert.Equal(t, "SO-0001", got.ID)
	assert.Equal(t, StatusDraft, got.Status)
	assert.True(t, got.Edited)
	assert.Equal(t, "SINV-0001", got.InvoiceNumber)
	assert.True(t, got.FullyReturned)

	_, err = tabs.SetStatus(ctx, o.TabID, StatusPaid)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	unchanged, err := tabs.Get(ctx, o.TabID)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, unchanged.Status)
}

func TestApplySnapshot(t *testing.T) {
	rounded := dec("230")
	snap := &Snapshot{
		ID:         "SO-0001",
		Customer:   "Jane Doe",
		CustomerID: "CUST-0001",
		DocStatus:  DocStatusSubmitted,
		Items: []OrderItem{
			{ItemCode: "ABC-1", Qty: dec("2"), Rate: dec("100"), UOM: "Nos"},
		},
		RoundedTotal: &rounded,
		Invoices: []InvoiceSummary{
			{Name: "SINV-0001", Status: "Unpaid", OutstandingAmount: dec("230"), GrandTotal: dec("230")},
		},
	}

	t.Run("unedited_takes_everything", func(t *testing.T) {
		o := newTab(t)
		o.ID = "SO-0001"
		o.Status = StatusDraft
		o.Items[0].Allocations = []WarehouseAllocation{{Warehouse: "Stores", Available: dec("5"), Allocated: dec("2"), Selected: true}}

		applySnapshot(o, snap)

		assert.Equal(t, "CUST-0001", o.CustomerID)
		assert.Equal(t, StatusConfirmed, o.Status)
		assert.Equal(t, "SINV-0001", o.InvoiceNumber)
		assert.Equal(t, "Unpaid", o.InvoiceStatus)
		require.Len(t, o.Items, 1)
		assert.Len(t, o.Items[0].Allocations, 1, "local allocations survive a matching row")
		out, ok := o.Outstanding()
		assert.True(t, ok)
		assert.True(t, out.Equal(dec("230")))
	})

	t.Run("edited_keeps_cart", func(t *testing.T) {
		o := newTab(t)
		o.ID = "SO-0001"
		o.Status = StatusDraft
		o.Edited = true
		o.Items = append(o.Items, OrderItem{ItemCode: "NEW-1", Qty: dec("1"), Rate: dec("5")})

		applySnapshot(o, &Snapshot{ID: "SO-0001", Items: snap.Items, RoundedTotal: &rounded})

		assert.Len(t, o.Items, 2)
		assert.Equal(t, "Walk-In Customer", o.Customer)
		assert.Equal(t, StatusDraft, o.Status)
		require.NotNil(t, o.RoundedTotal)
	})

	t.Run("fully_returned_is_sticky", func(t *testing.T) {
		o := newTab(t)
		o.ID = "SO-0001"
		o.Status = StatusPaid
		o.FullyReturned = true

		applySnapshot(o, snap)

		assert.True(t, o.FullyReturned)
		assert.Equal(t, StatusPaid, o.Status)
	})
}

func TestTabs_DeleteWaitsForUpdate(t *testing.T) {
	ctx := context.Background()
	tabs := NewTabs(NewInMemoryStore(), nil)
	o := newTab(t)
	require.NoError(t, tabs.Create(ctx, o))

	entered := make(chan struct{})
	release := make(chan struct{})
	updated := make(chan error, 1)
	go func() {
		_, err := tabs.Update(ctx, o.TabID, func(cur *Order) error {
			close(entered)
			<-release
			cur.Customer = "Jane Doe"
			return nil
		})
		updated <- err
	}()
	<-entered

	deleted := make(chan error, 1)
	go func() { deleted <- tabs.Delete(ctx, o.TabID) }()

	select {
	case err := <-deleted:
		t.Fatalf("Delete returned %v while an update held the tab", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-updated)
	require.NoError(t, <-deleted)

	_, err := tabs.Get(ctx, o.TabID)
	assert.ErrorIs(t, err, ErrTabNotFound)

	tabs.mu.Lock()
	assert.Empty(t, tabs.locks)
	tabs.mu.Unlock()

	assert.ErrorIs(t, tabs.Delete(ctx, o.TabID), ErrTabNotFound)
	tabs.mu.Lock()
	assert.Empty(t, tabs.locks)
	tabs.mu.Unlock()
}
