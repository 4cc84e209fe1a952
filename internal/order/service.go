package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/ecommerce-microservices/pos-client/internal/config"
	"github.com/vasiliy-maslov/ecommerce-microservices/pos-client/internal/events"
)

var allowedTransitions = map[OrderStatus]map[OrderStatus]bool{
	StatusUnsaved: {
		StatusDraft: true,
	},
	StatusDraft: {
		StatusConfirmed: true,
	},
	StatusConfirmed: {
		StatusPaid: true,
	},
	StatusPaid: {},
}

var (
	ErrRefreshFailed   = errors.New("order details could not be re-fetched")
	errStaleResponse   = errors.New("stale order details response")
	maxDiscountPercent = decimal.NewFromInt(100)
)

// transition moves o to the next status. Staying in place is always allowed.
func transition(o *Order, to OrderStatus) error {
	if o.Status == to {
		return nil
	}
	if next, ok := allowedTransitions[o.Status]; !ok || !next[to] {
		return fmt.Errorf("%w: from %s to %s", ErrInvalidStatusTransition, o.Status, to)
	}
	o.Status = to
	return nil
}

// ItemUpdate carries the fields of a cart line the operator changed.
type ItemUpdate struct {
	Qty             *decimal.Decimal
	Rate            *decimal.Decimal
	DiscountPercent *decimal.Decimal
	Warehouse       *string
}

type Service interface {
	OpenTab(ctx context.Context) (*Order, error)
	CloseTab(ctx context.Context, tabID uuid.UUID) error
	Tab(ctx context.Context, tabID uuid.UUID) (*Order, error)
	Tabs(ctx context.Context) ([]*Order, error)

	SetCustomer(ctx context.Context, tabID uuid.UUID, name string) (*Order, error)
	AddItem(ctx context.Context, tabID uuid.UUID, item OrderItem) (*Order, error)
	UpdateItem(ctx context.Context, tabID uuid.UUID, idx int, upd ItemUpdate) (*Order, error)
	RemoveItem(ctx context.Context, tabID uuid.UUID, idx int) (*Order, error)
	SetDiscount(ctx context.Context, tabID uuid.UUID, percent decimal.Decimal) (*Order, error)
	Totals(ctx context.Context, tabID uuid.UUID) (Totals, error)

	FindShortages(ctx context.Context, tabID uuid.UUID) ([]Shortage, error)
	PrepareAllocation(ctx context.Context, tabID uuid.UUID, idx int) (*Allocation, error)
	ApplyAllocation(ctx context.Context, tabID uuid.UUID, idx int, a *Allocation) (*Order, error)

	Save(ctx context.Context, tabID uuid.UUID) (*Order, error)
	Confirm(ctx context.Context, tabID uuid.UUID) (*Order, error)
	Pay(ctx context.Context, tabID uuid.UUID, p PaymentAttempt) (*Order, error)
	ConfirmAndPay(ctx context.Context, tabID uuid.UUID, p PaymentAttempt) (*Order, error)

	OpenReturn(ctx context.Context, tabID uuid.UUID) (*ReturnSession, error)
	SelectReturnLine(ctx context.Context, tabID uuid.UUID, ref string, selected bool) (*ReturnSession, error)
	SetReturnQuantity(ctx context.Context, tabID uuid.UUID, ref string, qty decimal.Decimal) (*ReturnSession, error)
	CommitReturnQuantity(ctx context.Context, tabID uuid.UUID, ref string) (*ReturnSession, error)
	SubmitReturn(ctx context.Context, tabID uuid.UUID) (*Order, error)

	RefreshOrder(ctx context.Context, tabID uuid.UUID) (*Order, error)
	CustomerInsights(ctx context.Context, tabID uuid.UUID) (*CustomerInsights, error)
}

type EventDispatcher interface {
	Dispatch(ctx context.Context, e events.Event) error
}

// Recorder receives action outcomes for metrics.
type Recorder interface {
	ObserveAction(action, result string, d time.Duration)
	RefreshOutcome(discarded, failed bool)
	ErrorClassified(kind string)
	TabsOpen(n int)
}

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(context.Context, events.Event) error { return nil }

type nopRecorder struct{}

func (nopRecorder) ObserveAction(string, string, time.Duration) {}
func (nopRecorder) RefreshOutcome(bool, bool)                   {}
func (nopRecorder) ErrorClassified(string)                      {}
func (nopRecorder) TabsOpen(int)                                {}

type Option func(*service)

func WithDispatcher(d EventDispatcher) Option {
	return func(s *service) { s.dispatcher = d }
}

func WithRecorder(r Recorder) Option {
	return func(s *service) { s.recorder = r }
}

func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

type service struct {
	gateway    Gateway
	tabs       *Tabs
	profile    *config.Profile
	dispatcher EventDispatcher
	recorder   Recorder
	now        func() time.Time

	mu       sync.Mutex
	inFlight map[uuid.UUID]string
	issued   map[uuid.UUID]uint64
	returns  map[uuid.UUID]*ReturnSession
	insights map[uuid.UUID]*CustomerInsights
}

func NewService(gateway Gateway, store Store, profile *config.Profile, opts ...Option) Service {
	s := &service{
		gateway:    gateway,
		profile:    profile,
		dispatcher: nopDispatcher{},
		recorder:   nopRecorder{},
		now:        time.Now,
		inFlight:   make(map[uuid.UUID]string),
		issued:     make(map[uuid.UUID]uint64),
		returns:    make(map[uuid.UUID]*ReturnSession),
		insights:   make(map[uuid.UUID]*CustomerInsights),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tabs = NewTabs(store, s.now)
	return s
}

// sequence is one lifecycle transition against the backend. prepare
// validates and resolves without mutating the backend, call performs the
// mutation, and settle runs on the re-fetched order once call succeeded.
type sequence struct {
	action     string
	prepare    func(ctx context.Context, o *Order) error
	call       func(ctx context.Context, o *Order) error
	settle     func(o *Order) error
	needsFresh bool
}

// run executes seq and re-fetches the order afterwards whether or not the
// call succeeded, as long as the backend knows the order.
func (s *service) run(ctx context.Context, tabID uuid.UUID, seq sequence) (*Order, error) {
	o, err := s.tabs.Get(ctx, tabID)
	if err != nil {
		return nil, err
	}

	if seq.prepare != nil {
		if err := seq.prepare(ctx, o); err != nil {
			log.Warn().Err(err).Stringer("tab_id", tabID).Str("action", seq.action).Msg("service: action refused")
			return nil, err
		}
	}

	callErr := seq.call(ctx, o)
	_, refreshErr := s.refreshAfter(ctx, tabID)

	if callErr != nil {
		return nil, callErr
	}
	if refreshErr != nil && seq.needsFresh {
		return nil, fmt.Errorf("service: %s: %w: %v", seq.action, ErrRefreshFailed, refreshErr)
	}
	if seq.settle == nil {
		return s.tabs.Get(ctx, tabID)
	}
	return s.tabs.Update(ctx, tabID, seq.settle)
}

func (s *service) acquire(tabID uuid.UUID, action string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, busy := s.inFlight[tabID]; busy {
		log.Warn().Stringer("tab_id", tabID).Str("action", action).Str("in_flight", current).Msg("service: action refused while another is in flight")
		return fmt.Errorf("%w: %s", ErrActionInFlight, current)
	}
	s.inFlight[tabID] = action
	return nil
}

func (s *service) release(tabID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, tabID)
}

// guarded allows one mutating action per tab. A concurrent second action is
// refused, not queued.
func (s *service) guarded(tabID uuid.UUID, action string, fn func() (*Order, error)) (*Order, error) {
	if err := s.acquire(tabID, action); err != nil {
		return nil, err
	}
	defer s.release(tabID)

	start := time.Now()
	o, err := fn()
	s.recorder.ObserveAction(action, resultLabel(err), time.Since(start))
	return o, err
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Result.Kind.String()
	}
	return "rejected"
}

func (s *service) actionError(tabID uuid.UUID, action string, err error) error {
	ae := classify(action, err)
	s.recorder.ErrorClassified(ae.Result.Kind.String())
	log.Error().Err(err).Stringer("tab_id", tabID).Str("action", action).Str("kind", ae.Result.Kind.String()).Msg("service: backend rejected action")
	return ae
}

func (s *service) dispatch(ctx context.Context, e events.Event) {
	if err := s.dispatcher.Dispatch(ctx, e); err != nil {
		log.Warn().Err(err).Str("event", e.Type()).Msg("service: failed to dispatch event")
	}
}

func (s *service) today() time.Time {
	y, m, d := s.now().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (s *service) postingDate(o *Order) time.Time {
	if s.profile.PostingDate == config.PostingDateOrder && !o.PostingDate.IsZero() {
		return o.PostingDate
	}
	return s.today()
}

func (s *service) OpenTab(ctx context.Context) (*Order, error) {
	tabID, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("service: failed to generate tab id: %w", err)
	}

	o := &Order{
		TabID:           tabID,
		Customer:        s.profile.WalkInCustomer,
		Items:           []OrderItem{},
		TaxRate:         s.profile.TaxRate,
		RoundingEnabled: s.profile.Rounding,
		Status:          StatusUnsaved,
		PostingDate:     s.today(),
	}
	if err := s.tabs.Create(ctx, o); err != nil {
		log.Error().Err(err).Msg("service: failed to create tab")
		return nil, fmt.Errorf("service: failed to open tab: %w", err)
	}
	s.countTabs(ctx)

	log.Info().Stringer("tab_id", tabID).Msg("service: tab opened")
	return o, nil
}

func (s *service) CloseTab(ctx context.Context, tabID uuid.UUID) error {
	if err := s.acquire(tabID, "close"); err != nil {
		return err
	}
	defer s.release(tabID)

	if err := s.tabs.Delete(ctx, tabID); err != nil {
		if errors.Is(err, ErrTabNotFound) {
			return ErrTabNotFound
		}
		return fmt.Errorf("service: failed to close tab: %w", err)
	}

	s.mu.Lock()
	delete(s.issued, tabID)
	delete(s.returns, tabID)
	delete(s.insights, tabID)
	s.mu.Unlock()
	s.countTabs(ctx)

	log.Info().Stringer("tab_id", tabID).Msg("service: tab closed")
	return nil
}

func (s *service) countTabs(ctx context.Context) {
	tabs, err := s.tabs.List(ctx)
	if err != nil {
		return
	}
	s.recorder.TabsOpen(len(tabs))
}

func (s *service) Tab(ctx context.Context, tabID uuid.UUID) (*Order, error) {
	return s.tabs.Get(ctx, tabID)
}

func (s *service) Tabs(ctx context.Context) ([]*Order, error) {
	tabs, err := s.tabs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list tabs: %w", err)
	}
	return tabs, nil
}

// edit applies a cart change. Edits of a saved order mark it edited, which
// re-enables Save and blocks Confirm until the next save.
func (s *service) edit(ctx context.Context, tabID uuid.UUID, action string, fn func(o *Order) error) (*Order, error) {
	return s.guarded(tabID, action, func() (*Order, error) {
		return s.tabs.Update(ctx, tabID, func(o *Order) error {
			if o.Confirmed() || o.Status == StatusConfirmed || o.Status == StatusPaid {
				return ErrOrderLocked
			}
			if err := fn(o); err != nil {
				return err
			}
			o.Edited = o.Saved()
			return nil
		})
	})
}

func validateItem(item OrderItem) error {
	switch {
	case strings.TrimSpace(item.ItemCode) == "":
		return fmt.Errorf("%w: item code is required", ErrInvalidItem)
	case !item.Qty.IsPositive():
		return fmt.Errorf("%w: quantity of %s must be positive", ErrInvalidItem, item.ItemCode)
	case item.Rate.IsNegative():
		return fmt.Errorf("%w: rate of %s cannot be negative", ErrInvalidItem, item.ItemCode)
	case item.DiscountPercent.IsNegative() || item.DiscountPercent.GreaterThan(maxDiscountPercent):
		return fmt.Errorf("%w: %s: %w", ErrInvalidItem, item.ItemCode, ErrInvalidDiscount)
	}
	return nil
}

func validateAllocations(item OrderItem) error {
	if len(item.Allocations) == 0 {
		return nil
	}
	total := decimal.Zero
	for _, a := range item.Allocations {
		if a.Allocated.GreaterThan(a.Available) {
			return fmt.Errorf("%w: %s from %s", ErrOverAllocation, item.ItemCode, a.Warehouse)
		}
		if a.Selected {
			total = total.Add(a.Allocated)
		}
	}
	if total.LessThan(item.Qty) {
		return fmt.Errorf("%w: item %s needs %s, allocated %s", ErrInsufficientAllocation, item.ItemCode, item.Qty, total)
	}
	return nil
}

func itemAt(o *Order, idx int) (*OrderItem, error) {
	if idx < 0 || idx >= len(o.Items) {
		return nil, fmt.Errorf("%w: %d", ErrItemIndex, idx)
	}
	return &o.Items[idx], nil
}

func (s *service) SetCustomer(ctx context.Context, tabID uuid.UUID, name string) (*Order, error) {
	name = strings.TrimSpace(name)
	o, err := s.edit(ctx, tabID, "set-customer", func(o *Order) error {
		if name == "" {
			name = s.profile.WalkInCustomer
		}
		if name != o.Customer {
			o.Customer = name
			o.CustomerID = ""
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.forgetInsights(tabID)
	return o, nil
}

func (s *service) AddItem(ctx context.Context, tabID uuid.UUID, item OrderItem) (*Order, error) {
	if err := validateItem(item); err != nil {
		return nil, err
	}
	if item.Warehouse == "" {
		item.Warehouse = s.profile.Warehouse
	}
	item.Allocations = nil

	return s.edit(ctx, tabID, "add-item", func(o *Order) error {
		o.Items = append(o.Items, item)
		return nil
	})
}

func (s *service) UpdateItem(ctx context.Context, tabID uuid.UUID, idx int, upd ItemUpdate) (*Order, error) {
	return s.edit(ctx, tabID, "update-item", func(o *Order) error {
		current, err := itemAt(o, idx)
		if err != nil {
			return err
		}

		next := *current
		if upd.Qty != nil {
			next.Qty = *upd.Qty
		}
		if upd.Rate != nil {
			next.Rate = *upd.Rate
		}
		if upd.DiscountPercent != nil {
			next.DiscountPercent = *upd.DiscountPercent
		}
		if upd.Warehouse != nil {
			next.Warehouse = *upd.Warehouse
		}
		if err := validateItem(next); err != nil {
			return err
		}

		// A split allocation only holds for the quantity and warehouse it was made for.
		if !next.Qty.Equal(current.Qty) || next.Warehouse != current.Warehouse {
			next.Allocations = nil
		}
		*current = next
		return nil
	})
}

func (s *service) RemoveItem(ctx context.Context, tabID uuid.UUID, idx int) (*Order, error) {
	return s.edit(ctx, tabID, "remove-item", func(o *Order) error {
		if _, err := itemAt(o, idx); err != nil {
			return err
		}
		o.Items = append(o.Items[:idx], o.Items[idx+1:]...)
		return nil
	})
}

func (s *service) SetDiscount(ctx context.Context, tabID uuid.UUID, percent decimal.Decimal) (*Order, error) {
	if percent.IsNegative() || percent.GreaterThan(maxDiscountPercent) {
		return nil, ErrInvalidDiscount
	}
	return s.edit(ctx, tabID, "set-discount", func(o *Order) error {
		o.DiscountPercent = percent
		return nil
	})
}

func (s *service) Totals(ctx context.Context, tabID uuid.UUID) (Totals, error) {
	o, err := s.tabs.Get(ctx, tabID)
	if err != nil {
		return Totals{}, err
	}
	return CalculateTotals(TotalsFor(o)), nil
}

func (s *service) PrepareAllocation(ctx context.Context, tabID uuid.UUID, idx int) (*Allocation, error) {
	o, err := s.tabs.Get(ctx, tabID)
	if err != nil {
		return nil, err
	}
	item, err := itemAt(o, idx)
	if err != nil {
		return nil, err
	}

	stock, err := s.gateway.StockAvailability(ctx, item.ItemCode)
	if err != nil {
		log.Error().Err(err).Str("item_code", item.ItemCode).Msg("service: failed to fetch stock availability")
		return nil, fmt.Errorf("service: stock availability for %s: %w", item.ItemCode, err)
	}

	a := NewAllocation(item.ItemCode, item.UOM, item.Qty, item.Warehouse, onHand(stock, item.Warehouse), stock)
	if len(item.Allocations) > 0 {
		for i := range a.Lines {
			a.Lines[i].Selected = false
			a.Lines[i].Allocated = decimal.Zero
		}
		for _, prev := range item.Allocations {
			// Availability may have dropped since the last allocation; keep what still fits.
			if err := a.Set(prev.Warehouse, prev.Allocated); err != nil {
				log.Debug().Err(err).Str("item_code", item.ItemCode).Msg("service: previous allocation no longer fits")
			}
		}
	}
	return a, nil
}

func (s *service) ApplyAllocation(ctx context.Context, tabID uuid.UUID, idx int, a *Allocation) (*Order, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return s.edit(ctx, tabID, "allocate", func(o *Order) error {
		item, err := itemAt(o, idx)
		if err != nil {
			return err
		}
		if item.ItemCode != a.ItemCode || !item.Qty.Equal(a.Required) {
			return fmt.Errorf("%w: row %d holds %s x %s", ErrAllocationMismatch, idx+1, item.ItemCode, item.Qty)
		}
		item.Allocations = a.Records()
		return nil
	})
}

func (s *service) resolveCustomer(ctx context.Context, tabID uuid.UUID, o *Order) error {
	if o.CustomerID != "" {
		return nil
	}
	name := strings.TrimSpace(o.Customer)
	if name == "" {
		name = s.profile.WalkInCustomer
		o.Customer = name
	}

	customers, err := s.gateway.FindCustomers(ctx, name)
	if err != nil {
		return s.actionError(tabID, "customer-lookup", err)
	}
	for _, c := range customers {
		if strings.EqualFold(c.Name, name) || c.ID == name {
			o.CustomerID = c.ID
			return nil
		}
	}
	if s.profile.IsWalkIn(name) {
		o.CustomerID = name
		return nil
	}
	return fmt.Errorf("%w: no customer matches %q", ErrCustomerNotFound, name)
}

func (s *service) payload(o *Order) OrderPayload {
	return OrderPayload{
		CustomerID:      o.CustomerID,
		Company:         s.profile.Company,
		Warehouse:       s.profile.Warehouse,
		PostingDate:     s.postingDate(o),
		DiscountPercent: o.DiscountPercent,
		TaxRate:         o.TaxRate,
		Items:           o.Items,
		StockSources:    BuildStockSources(o.Items),
	}
}

func (s *service) Save(ctx context.Context, tabID uuid.UUID) (*Order, error) {
	var created bool
	o, err := s.guarded(tabID, "save", func() (*Order, error) {
		return s.run(ctx, tabID, sequence{
			action: "save",
			prepare: func(ctx context.Context, o *Order) error {
				if !s.profile.Privileges.Save {
					return ErrNotPermitted
				}
				if o.Confirmed() || o.Status == StatusConfirmed || o.Status == StatusPaid {
					return ErrOrderLocked
				}
				if len(o.Items) == 0 {
					return ErrEmptyOrder
				}
				for i, item := range o.Items {
					if err := validateItem(item); err != nil {
						return fmt.Errorf("row %d: %w", i+1, err)
					}
					if err := validateAllocations(item); err != nil {
						return fmt.Errorf("row %d: %w", i+1, err)
					}
				}
				return s.resolveCustomer(ctx, tabID, o)
			},
			call: func(ctx context.Context, o *Order) error {
				created = !o.Saved()
				var id string
				var err error
				if created {
					id, err = s.gateway.CreateOrder(ctx, s.payload(o))
				} else {
					id, err = s.gateway.EditOrder(ctx, o.ID, s.payload(o))
				}
				if err != nil {
					return s.actionError(tabID, "save", err)
				}
				if id == "" {
					id = o.ID
				}
				if id == "" {
					return s.actionError(tabID, "save", errors.New("backend returned no order id"))
				}

				_, err = s.tabs.Update(ctx, tabID, func(cur *Order) error {
					cur.ID = id
					cur.Customer = o.Customer
					cur.CustomerID = o.CustomerID
					cur.Edited = false
					if cur.Status == StatusUnsaved {
						return transition(cur, StatusDraft)
					}
					return nil
				})
				return err
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.dispatch(ctx, events.OrderSaved{
		TabID:    tabID,
		OrderID:  o.ID,
		Customer: o.CustomerID,
		Total:    CalculateTotals(TotalsFor(o)).Total,
		Created:  created,
	})
	log.Info().Stringer("tab_id", tabID).Str("order_id", o.ID).Bool("created", created).Msg("service: order saved")
	return o, nil
}

func (s *service) confirmSequence(tabID uuid.UUID) sequence {
	return sequence{
		action:     "confirm",
		needsFresh: true,
		prepare: func(_ context.Context, o *Order) error {
			if !s.profile.Privileges.Confirm {
				return ErrNotPermitted
			}
			if !o.Saved() {
				return ErrNotSaved
			}
			if o.Edited {
				return ErrUnsavedChanges
			}
			if s.profile.Operator == "" || s.profile.Name == "" {
				return ErrIdentityUnresolved
			}
			if next := allowedTransitions[o.Status]; !next[StatusConfirmed] {
				return fmt.Errorf("%w: from %s to %s", ErrInvalidStatusTransition, o.Status, StatusConfirmed)
			}
			return nil
		},
		call: func(ctx context.Context, o *Order) error {
			req := ConfirmRequest{
				OrderID:  o.ID,
				Profile:  s.profile.Name,
				Operator: s.profile.Operator,
				Payments: []PaymentAttempt{{
					ModeOfPayment: s.profile.DefaultPaymentMode,
					Amount:        decimal.Zero,
					PostingDate:   s.postingDate(o),
				}},
			}
			if err := s.gateway.ConfirmOrder(ctx, req); err != nil {
				return s.actionError(tabID, "confirm", err)
			}
			return nil
		},
		settle: func(o *Order) error {
			if !o.Confirmed() {
				return fmt.Errorf("%w: docstatus is %d", ErrConfirmationRejected, o.DocStatus)
			}
			return transition(o, StatusConfirmed)
		},
	}
}

func (s *service) Confirm(ctx context.Context, tabID uuid.UUID) (*Order, error) {
	o, err := s.guarded(tabID, "confirm", func() (*Order, error) {
		return s.run(ctx, tabID, s.confirmSequence(tabID))
	})
	if err != nil {
		return nil, err
	}
	s.confirmed(ctx, o)
	return o, nil
}

func (s *service) confirmed(ctx context.Context, o *Order) {
	s.dispatch(ctx, events.OrderConfirmed{TabID: o.TabID, OrderID: o.ID, InvoiceNumber: o.InvoiceNumber})
	log.Info().Stringer("tab_id", o.TabID).Str("order_id", o.ID).Str("invoice", o.InvoiceNumber).Msg("service: order confirmed")
}

func (s *service) normalizePayment(p PaymentAttempt) (PaymentAttempt, error) {
	if p.ModeOfPayment == "" {
		p.ModeOfPayment = s.profile.DefaultPaymentMode
	}
	if !s.profile.AllowsPaymentMode(p.ModeOfPayment) {
		return p, fmt.Errorf("%w: mode of payment %q is not enabled", ErrInvalidPayment, p.ModeOfPayment)
	}
	if p.Amount.IsNegative() {
		return p, fmt.Errorf("%w: amount cannot be negative", ErrInvalidPayment)
	}
	return p, nil
}

func (s *service) paySequence(tabID uuid.UUID, p PaymentAttempt) sequence {
	return sequence{
		action: "pay",
		prepare: func(_ context.Context, o *Order) error {
			if o.Status != StatusConfirmed && o.Status != StatusPaid {
				return fmt.Errorf("%w: status is %s", ErrNotConfirmed, o.Status)
			}
			if o.InvoiceNumber == "" {
				return ErrNoInvoice
			}
			if o.CustomerID == "" {
				return ErrCustomerUnresolved
			}
			if !p.Amount.IsPositive() {
				return fmt.Errorf("%w: amount must be positive", ErrInvalidPayment)
			}
			if out, ok := o.Outstanding(); !ok || !out.IsPositive() {
				return ErrNothingOutstanding
			}
			return nil
		},
		call: func(ctx context.Context, o *Order) error {
			if p.PostingDate.IsZero() {
				p.PostingDate = s.postingDate(o)
			}
			_, err := s.gateway.CreatePaymentEntry(ctx, PaymentEntryRequest{
				InvoiceNumber: o.InvoiceNumber,
				CustomerID:    o.CustomerID,
				Company:       s.profile.Company,
				Payment:       p,
			})
			if err != nil {
				return s.actionError(tabID, "pay", err)
			}
			s.forgetInsights(tabID)
			return nil
		},
		settle: func(o *Order) error {
			return transition(o, StatusPaid)
		},
	}
}

func (s *service) Pay(ctx context.Context, tabID uuid.UUID, p PaymentAttempt) (*Order, error) {
	p, err := s.normalizePayment(p)
	if err != nil {
		return nil, err
	}

	o, err := s.guarded(tabID, "pay", func() (*Order, error) {
		return s.run(ctx, tabID, s.paySequence(tabID, p))
	})
	if err != nil {
		return nil, err
	}
	s.paid(ctx, o, p)
	return o, nil
}

func (s *service) paid(ctx context.Context, o *Order, p PaymentAttempt) {
	s.dispatch(ctx, events.PaymentRecorded{
		TabID:         o.TabID,
		OrderID:       o.ID,
		InvoiceNumber: o.InvoiceNumber,
		ModeOfPayment: p.ModeOfPayment,
		Amount:        p.Amount,
	})
	log.Info().Stringer("tab_id", o.TabID).Str("invoice", o.InvoiceNumber).Str("amount", p.Amount.StringFixed(2)).Msg("service: payment recorded")
}

// ConfirmAndPay records the payment in one action. An order that is already
// confirmed is paid directly; otherwise it is confirmed first and paid only
// when the backend confirmed it and the amount is positive.
func (s *service) ConfirmAndPay(ctx context.Context, tabID uuid.UUID, p PaymentAttempt) (*Order, error) {
	p, err := s.normalizePayment(p)
	if err != nil {
		return nil, err
	}

	var didConfirm, didPay bool
	o, err := s.guarded(tabID, "confirm-and-pay", func() (*Order, error) {
		cur, err := s.tabs.Get(ctx, tabID)
		if err != nil {
			return nil, err
		}
		if (cur.Status == StatusConfirmed || cur.Status == StatusPaid) && cur.Confirmed() {
			paidOrder, err := s.run(ctx, tabID, s.paySequence(tabID, p))
			if err != nil {
				return nil, err
			}
			didPay = true
			return paidOrder, nil
		}

		o, err := s.run(ctx, tabID, s.confirmSequence(tabID))
		if err != nil {
			return nil, err
		}
		didConfirm = true

		if !p.Amount.IsPositive() || !o.Confirmed() {
			return o, nil
		}
		if out, ok := o.Outstanding(); !ok || !out.IsPositive() {
			log.Info().Stringer("tab_id", tabID).Msg("service: nothing outstanding after confirmation, skipping payment")
			return o, nil
		}

		paidOrder, err := s.run(ctx, tabID, s.paySequence(tabID, p))
		if err != nil {
			return nil, err
		}
		didPay = true
		return paidOrder, nil
	})

	if didConfirm {
		current := o
		if current == nil {
			current, _ = s.tabs.Get(ctx, tabID)
		}
		if current != nil {
			s.confirmed(ctx, current)
		}
	}
	if err != nil {
		return nil, err
	}
	if didPay {
		s.paid(ctx, o, p)
	}
	return o, nil
}

func (s *service) openReturnCheck(o *Order) error {
	if !s.profile.Privileges.Return {
		return ErrNotPermitted
	}
	if o.Status != StatusConfirmed && o.Status != StatusPaid {
		return fmt.Errorf("%w: status is %s", ErrNotConfirmed, o.Status)
	}
	if o.FullyReturned {
		return ErrFullyReturned
	}
	if o.InvoiceNumber == "" {
		return ErrNoInvoice
	}
	return nil
}

// OpenReturn fetches the returnable quantities from the backend and starts a
// fresh return session, replacing any earlier one.
func (s *service) OpenReturn(ctx context.Context, tabID uuid.UUID) (*ReturnSession, error) {
	o, err := s.tabs.Get(ctx, tabID)
	if err != nil {
		return nil, err
	}
	if err := s.openReturnCheck(o); err != nil {
		return nil, err
	}

	lines, err := s.gateway.ReturnableItems(ctx, o.InvoiceNumber)
	if err != nil {
		return nil, s.actionError(tabID, "open-return", err)
	}

	rs := newReturnSession(o.InvoiceNumber, lines)
	s.mu.Lock()
	s.returns[tabID] = rs
	s.mu.Unlock()

	return rs.clone(), nil
}

func (s *service) withReturn(tabID uuid.UUID, fn func(rs *ReturnSession) error) (*ReturnSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.returns[tabID]
	if !ok {
		return nil, ErrReturnNotOpened
	}
	if err := fn(rs); err != nil {
		return nil, err
	}
	return rs.clone(), nil
}

func (s *service) SelectReturnLine(_ context.Context, tabID uuid.UUID, ref string, selected bool) (*ReturnSession, error) {
	return s.withReturn(tabID, func(rs *ReturnSession) error {
		if selected {
			return rs.Select(ref)
		}
		return rs.Deselect(ref)
	})
}

func (s *service) SetReturnQuantity(_ context.Context, tabID uuid.UUID, ref string, qty decimal.Decimal) (*ReturnSession, error) {
	return s.withReturn(tabID, func(rs *ReturnSession) error {
		return rs.SetRequested(ref, qty)
	})
}

func (s *service) CommitReturnQuantity(_ context.Context, tabID uuid.UUID, ref string) (*ReturnSession, error) {
	return s.withReturn(tabID, func(rs *ReturnSession) error {
		return rs.Commit(ref)
	})
}

func (s *service) SubmitReturn(ctx context.Context, tabID uuid.UUID) (*Order, error) {
	var submitted *ReturnSession
	var items []ReturnItem
	var returnID string

	o, err := s.guarded(tabID, "return", func() (*Order, error) {
		return s.run(ctx, tabID, sequence{
			action: "return",
			prepare: func(_ context.Context, o *Order) error {
				if err := s.openReturnCheck(o); err != nil {
					return err
				}
				rs, err := s.withReturn(tabID, func(rs *ReturnSession) error {
					rs.CommitAll()
					return nil
				})
				if err != nil {
					return err
				}
				if rs.InvoiceNumber != o.InvoiceNumber {
					return fmt.Errorf("%w: return was opened for %s", ErrReturnNotOpened, rs.InvoiceNumber)
				}
				items = rs.Items()
				if len(items) == 0 {
					return ErrNothingReturnable
				}
				submitted = rs
				return nil
			},
			call: func(ctx context.Context, o *Order) error {
				id, err := s.gateway.ReturnOrder(ctx, ReturnRequest{
					InvoiceNumber: o.InvoiceNumber,
					OrderID:       o.ID,
					CustomerID:    o.CustomerID,
					Items:         items,
				})
				if err != nil {
					return s.actionError(tabID, "return", err)
				}
				returnID = id

				s.mu.Lock()
				delete(s.returns, tabID)
				delete(s.insights, tabID)
				s.mu.Unlock()

				_, err = s.tabs.Update(ctx, tabID, func(cur *Order) error {
					cur.ReturnCount++
					if submitted.ReturnsEverything() {
						cur.FullyReturned = true
					}
					return nil
				})
				return err
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.dispatch(ctx, events.ReturnSubmitted{
		TabID:         tabID,
		OrderID:       o.ID,
		InvoiceNumber: o.InvoiceNumber,
		ReturnID:      returnID,
		Lines:         len(items),
		FullyReturned: o.FullyReturned,
	})
	log.Info().Stringer("tab_id", tabID).Str("invoice", o.InvoiceNumber).Int("lines", len(items)).Msg("service: return submitted")
	return o, nil
}

// RefreshOrder re-fetches the order from the backend. Responses for requests
// older than the latest one issued for the tab are dropped.
func (s *service) RefreshOrder(ctx context.Context, tabID uuid.UUID) (*Order, error) {
	return s.refresh(ctx, tabID)
}

func (s *service) issue(tabID uuid.UUID) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued[tabID]++
	return s.issued[tabID]
}

func (s *service) latest(tabID uuid.UUID) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issued[tabID]
}

func (s *service) refresh(ctx context.Context, tabID uuid.UUID) (*Order, error) {
	o, err := s.tabs.Get(ctx, tabID)
	if err != nil {
		return nil, err
	}
	if !o.Saved() {
		return o, nil
	}

	seq := s.issue(tabID)
	snap, err := s.gateway.OrderDetails(ctx, o.ID)
	if err != nil {
		s.recorder.RefreshOutcome(false, true)
		log.Warn().Err(err).Stringer("tab_id", tabID).Str("order_id", o.ID).Msg("service: failed to re-fetch order details")
		return nil, fmt.Errorf("service: refresh %s: %w", o.ID, err)
	}

	updated, err := s.tabs.Update(ctx, tabID, func(cur *Order) error {
		if seq < s.latest(tabID) {
			return errStaleResponse
		}
		applySnapshot(cur, snap)
		return nil
	})
	if errors.Is(err, errStaleResponse) {
		s.recorder.RefreshOutcome(true, false)
		log.Debug().Stringer("tab_id", tabID).Uint64("seq", seq).Msg("service: discarded stale order details")
		return s.tabs.Get(ctx, tabID)
	}
	if err != nil {
		return nil, err
	}
	s.recorder.RefreshOutcome(false, false)
	return updated, nil
}

// refreshAfter is the trailing re-fetch of every lifecycle action. Failures
// are logged and never undo the action.
func (s *service) refreshAfter(ctx context.Context, tabID uuid.UUID) (*Order, error) {
	o, err := s.refresh(ctx, tabID)
	if err != nil {
		log.Warn().Err(err).Stringer("tab_id", tabID).Msg("service: post-action refresh failed")
		return nil, err
	}
	return o, nil
}

func (s *service) forgetInsights(tabID uuid.UUID) {
	s.mu.Lock()
	delete(s.insights, tabID)
	s.mu.Unlock()
}

// CustomerInsights returns the customer's financial figures, cached per tab
// until a payment, return or customer change invalidates them.
func (s *service) CustomerInsights(ctx context.Context, tabID uuid.UUID) (*CustomerInsights, error) {
	s.mu.Lock()
	if ci, ok := s.insights[tabID]; ok {
		c := *ci
		s.mu.Unlock()
		return &c, nil
	}
	s.mu.Unlock()

	o, err := s.tabs.Get(ctx, tabID)
	if err != nil {
		return nil, err
	}
	if o.CustomerID == "" {
		return nil, ErrCustomerUnresolved
	}

	ci, err := s.gateway.CustomerInsights(ctx, o.CustomerID)
	if err != nil {
		log.Error().Err(err).Str("customer_id", o.CustomerID).Msg("service: failed to fetch customer insights")
		return nil, fmt.Errorf("service: customer insights: %w", err)
	}

	ci.EstimatedDue = ci.AmountDue
	if o.Confirmed() && o.GrandTotal != nil {
		ci.EstimatedDue = nonNegative(ci.AmountDue.Sub(*o.GrandTotal))
	}

	s.mu.Lock()
	s.insights[tabID] = ci
	s.mu.Unlock()

	c := *ci
	return &c, nil
}
