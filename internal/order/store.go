package order

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

// Store holds one Order per open tab. Implementations return copies; callers
// write changes back with Put.
type Store interface {
	Get(ctx context.Context, tabID uuid.UUID) (*Order, error)
	Put(ctx context.Context, o *Order) error
	Delete(ctx context.Context, tabID uuid.UUID) error
	List(ctx context.Context) ([]*Order, error)
}

type InMemoryStore struct {
	mu   sync.RWMutex
	tabs map[uuid.UUID]*Order
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{tabs: make(map[uuid.UUID]*Order)}
}

func (s *InMemoryStore) Get(_ context.Context, tabID uuid.UUID) (*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.tabs[tabID]
	if !ok {
		return nil, ErrTabNotFound
	}
	return o.Clone(), nil
}

func (s *InMemoryStore) Put(_ context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tabs[o.TabID] = o.Clone()
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, tabID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tabs[tabID]; !ok {
		return ErrTabNotFound
	}
	delete(s.tabs, tabID)
	return nil
}

func (s *InMemoryStore) List(_ context.Context) ([]*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Order, 0, len(s.tabs))
	for _, o := range s.tabs {
		out = append(out, o.Clone())
	}
	sortTabs(out)
	return out, nil
}

func sortTabs(tabs []*Order) {
	sort.Slice(tabs, func(i, j int) bool {
		if !tabs[i].CreatedAt.Equal(tabs[j].CreatedAt) {
			return tabs[i].CreatedAt.Before(tabs[j].CreatedAt)
		}
		return tabs[i].TabID.String() < tabs[j].TabID.String()
	})
}

// Tabs wraps a Store with the read-modify-write mutators the orchestrator
// uses. Writes to one tab are serialized.
type Tabs struct {
	store Store
	now   func() time.Time

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func NewTabs(store Store, now func() time.Time) *Tabs {
	if now == nil {
		now = time.Now
	}
	return &Tabs{store: store, now: now, locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (t *Tabs) lock(tabID uuid.UUID) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[tabID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[tabID] = l
	}
	return l
}

func (t *Tabs) Get(ctx context.Context, tabID uuid.UUID) (*Order, error) {
	return t.store.Get(ctx, tabID)
}

func (t *Tabs) List(ctx context.Context) ([]*Order, error) {
	return t.store.List(ctx)
}

func (t *Tabs) Create(ctx context.Context, o *Order) error {
	now := t.now().UTC()
	o.CreatedAt, o.UpdatedAt = now, now
	return t.store.Put(ctx, o)
}

// Delete removes the tab under its own lock, so it waits for a running
// Update and the lock entry is dropped only once nobody holds it.
func (t *Tabs) Delete(ctx context.Context, tabID uuid.UUID) error {
	l := t.lock(tabID)
	l.Lock()
	defer l.Unlock()

	err := t.store.Delete(ctx, tabID)

	t.mu.Lock()
	if t.locks[tabID] == l {
		delete(t.locks, tabID)
	}
	t.mu.Unlock()
	return err
}

// Update applies fn to the stored order and writes it back. If fn fails
// nothing is written.
func (t *Tabs) Update(ctx context.Context, tabID uuid.UUID, fn func(o *Order) error) (*Order, error) {
	l := t.lock(tabID)
	l.Lock()
	defer l.Unlock()

	o, err := t.store.Get(ctx, tabID)
	if err != nil {
		return nil, err
	}
	if err := fn(o); err != nil {
		return nil, err
	}
	o.UpdatedAt = t.now().UTC()
	if err := t.store.Put(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (t *Tabs) SetOrderID(ctx context.Context, tabID uuid.UUID, id string) (*Order, error) {
	return t.Update(ctx, tabID, func(o *Order) error {
		o.ID = id
		return nil
	})
}

func (t *Tabs) SetStatus(ctx context.Context, tabID uuid.UUID, status OrderStatus) (*Order, error) {
	return t.Update(ctx, tabID, func(o *Order) error {
		return transition(o, status)
	})
}

func (t *Tabs) MarkEdited(ctx context.Context, tabID uuid.UUID, edited bool) (*Order, error) {
	return t.Update(ctx, tabID, func(o *Order) error {
		o.Edited = edited
		return nil
	})
}

func (t *Tabs) SetSnapshot(ctx context.Context, tabID uuid.UUID, snap *Snapshot) (*Order, error) {
	return t.Update(ctx, tabID, func(o *Order) error {
		applySnapshot(o, snap)
		return nil
	})
}

func (t *Tabs) SetInvoice(ctx context.Context, tabID uuid.UUID, number, status, returnStatus string) (*Order, error) {
	return t.Update(ctx, tabID, func(o *Order) error {
		o.InvoiceNumber = number
		o.InvoiceStatus = status
		o.ReturnStatus = returnStatus
		if returnStatus == ReturnStatusFull {
			o.FullyReturned = true
		}
		return nil
	})
}

// ReturnStatusFull is the invoice return status once every line came back.
const ReturnStatusFull = "Fully Returned"

// applySnapshot folds the backend's view into the tab. While the cart has
// local edits only server-owned fields are taken, so unsaved work survives.
func applySnapshot(o *Order, snap *Snapshot) {
	if snap.ID != "" {
		o.ID = snap.ID
	}
	o.DocStatus = snap.DocStatus
	o.GrandTotal = copyDecimal(snap.GrandTotal)
	o.RoundedTotal = copyDecimal(snap.RoundedTotal)
	o.Invoices = append([]InvoiceSummary(nil), snap.Invoices...)

	if !o.Edited {
		if snap.Customer != "" {
			o.Customer = snap.Customer
		}
		if snap.CustomerID != "" {
			o.CustomerID = snap.CustomerID
		}
		if snap.Items != nil {
			o.Items = mergeItems(o.Items, snap.Items)
		}
		o.DiscountPercent = snap.DiscountPercent
		if snap.TaxRate != nil {
			o.TaxRate = *snap.TaxRate
		}
		if !snap.PostingDate.IsZero() {
			o.PostingDate = snap.PostingDate
		}
	}

	if inv := o.invoice(); inv != nil {
		o.InvoiceNumber = inv.Name
		o.InvoiceStatus = inv.Status
		o.ReturnStatus = inv.ReturnStatus
		if inv.ReturnStatus == ReturnStatusFull {
			o.FullyReturned = true
		}
	}

	switch {
	case o.DocStatus == DocStatusSubmitted && (o.Status == StatusUnsaved || o.Status == StatusDraft):
		o.Status = StatusConfirmed
	case o.Status == StatusUnsaved && o.ID != "":
		o.Status = StatusDraft
	}
}

func copyDecimal(v *decimal.Decimal) *decimal.Decimal {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// mergeItems takes the server rows and keeps local warehouse allocations for
// rows that still line up by position and item code.
func mergeItems(local, remote []OrderItem) []OrderItem {
	out := make([]OrderItem, len(remote))
	for i, item := range remote {
		out[i] = item
		if item.Allocations == nil && i < len(local) && local[i].ItemCode == item.ItemCode && local[i].Qty.Equal(item.Qty) {
			out[i].Allocations = local[i].Allocations
		}
	}
	return out
}
