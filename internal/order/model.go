package order

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusUnsaved   OrderStatus = "UNSAVED"
	StatusDraft     OrderStatus = "DRAFT"
	StatusConfirmed OrderStatus = "CONFIRMED"
	StatusPaid      OrderStatus = "PAID"
)

func (os OrderStatus) String() string {
	return string(os)
}

// DocStatusSubmitted is the backend docstatus of a confirmed order.
const DocStatusSubmitted = 1

type WarehouseAllocation struct {
	Warehouse string          `json:"warehouse"`
	Available decimal.Decimal `json:"available"`
	Allocated decimal.Decimal `json:"allocated"`
	Selected  bool            `json:"selected"`
}

type OrderItem struct {
	ItemCode        string                `json:"item_code"`
	Qty             decimal.Decimal       `json:"qty"`
	Rate            decimal.Decimal       `json:"rate"`
	DiscountPercent decimal.Decimal       `json:"discount_percentage"`
	UOM             string                `json:"uom"`
	Warehouse       string                `json:"warehouse,omitempty"`
	Allocations     []WarehouseAllocation `json:"allocations,omitempty"`
}

type InvoiceSummary struct {
	Name              string          `json:"name"`
	Status            string          `json:"status"`
	OutstandingAmount decimal.Decimal `json:"outstanding_amount"`
	GrandTotal        decimal.Decimal `json:"grand_total"`
	ReturnStatus      string          `json:"return_status,omitempty"`
}

// Order is the state of one POS tab. ID stays empty until the backend
// assigns a name on the first save.
type Order struct {
	TabID           uuid.UUID        `json:"tab_id"`
	ID              string           `json:"id,omitempty"`
	Customer        string           `json:"customer"`
	CustomerID      string           `json:"customer_id,omitempty"`
	Items           []OrderItem      `json:"items"`
	DiscountPercent decimal.Decimal  `json:"discount_percentage"`
	TaxRate         decimal.Decimal  `json:"tax_rate"`
	RoundingEnabled bool             `json:"rounding_enabled"`
	Status          OrderStatus      `json:"status"`
	Edited          bool             `json:"edited"`
	DocStatus       int              `json:"docstatus"`
	GrandTotal      *decimal.Decimal `json:"grand_total,omitempty"`
	RoundedTotal    *decimal.Decimal `json:"rounded_total,omitempty"`
	Invoices        []InvoiceSummary `json:"invoices,omitempty"`
	InvoiceNumber   string           `json:"invoice_number,omitempty"`
	InvoiceStatus   string           `json:"invoice_status,omitempty"`
	ReturnStatus    string           `json:"return_status,omitempty"`
	ReturnCount     int              `json:"return_count"`
	FullyReturned   bool             `json:"fully_returned"`
	PostingDate     time.Time        `json:"posting_date"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Saved reports whether the backend already knows this order.
func (o *Order) Saved() bool {
	return o.ID != ""
}

// Confirmed reports whether the backend submitted the order.
func (o *Order) Confirmed() bool {
	return o.DocStatus == DocStatusSubmitted
}

// Outstanding returns the outstanding amount of the linked invoice, if any.
func (o *Order) Outstanding() (decimal.Decimal, bool) {
	inv := o.invoice()
	if inv == nil {
		return decimal.Zero, false
	}
	return inv.OutstandingAmount, true
}

func (o *Order) invoice() *InvoiceSummary {
	if len(o.Invoices) == 0 {
		return nil
	}
	if o.InvoiceNumber != "" {
		for i := range o.Invoices {
			if o.Invoices[i].Name == o.InvoiceNumber {
				return &o.Invoices[i]
			}
		}
	}
	return &o.Invoices[0]
}

// Clone returns a deep copy so callers never share item slices with the store.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = make([]OrderItem, len(o.Items))
	for i, item := range o.Items {
		c.Items[i] = item
		if item.Allocations != nil {
			c.Items[i].Allocations = append([]WarehouseAllocation(nil), item.Allocations...)
		}
	}
	if o.Invoices != nil {
		c.Invoices = append([]InvoiceSummary(nil), o.Invoices...)
	}
	if o.GrandTotal != nil {
		v := *o.GrandTotal
		c.GrandTotal = &v
	}
	if o.RoundedTotal != nil {
		v := *o.RoundedTotal
		c.RoundedTotal = &v
	}
	return &c
}

type PaymentAttempt struct {
	ModeOfPayment string          `json:"mode_of_payment"`
	Amount        decimal.Decimal `json:"amount"`
	PostingDate   time.Time       `json:"posting_date"`
}

// ReturnLine is one returnable row of the original invoice. Requested holds
// the raw operator input until it is committed.
type ReturnLine struct {
	ItemRef     string          `json:"item_ref"`
	ItemCode    string          `json:"item_code"`
	UOM         string          `json:"uom,omitempty"`
	Rate        decimal.Decimal `json:"rate"`
	OriginalQty decimal.Decimal `json:"original_qty"`
	ReturnedQty decimal.Decimal `json:"returned_qty"`
	Requested   decimal.Decimal `json:"requested"`
	Selected    bool            `json:"selected"`
}

// Returnable is the server-reported ceiling for this line.
func (l ReturnLine) Returnable() decimal.Decimal {
	r := l.OriginalQty.Sub(l.ReturnedQty)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

type Customer struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CustomerInsights holds customer-level financial figures. EstimatedDue is a
// display estimate; invoice outstanding stays authoritative for confirmed orders.
type CustomerInsights struct {
	CustomerID      string          `json:"customer_id"`
	TotalUnpaid     decimal.Decimal `json:"total_unpaid"`
	AmountDue       decimal.Decimal `json:"amount_due"`
	EstimatedDue    decimal.Decimal `json:"estimated_due"`
	LoyaltyPoints   decimal.Decimal `json:"loyalty_points"`
	LastPurchasedAt *time.Time      `json:"last_purchased_at,omitempty"`
}

// Snapshot is the canonical, normalized order detail reported by the backend.
type Snapshot struct {
	ID              string
	Customer        string
	CustomerID      string
	DocStatus       int
	Items           []OrderItem
	DiscountPercent decimal.Decimal
	TaxRate         *decimal.Decimal
	GrandTotal      *decimal.Decimal
	RoundedTotal    *decimal.Decimal
	PostingDate     time.Time
	Invoices        []InvoiceSummary
}
