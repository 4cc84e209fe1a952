package events

import (
	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

// Event is a lifecycle fact emitted after the backend accepted a mutation.
type Event interface {
	Type() string
	Key() string
}

type OrderSaved struct {
	TabID    uuid.UUID       `json:"tab_id"`
	OrderID  string          `json:"order_id"`
	Customer string          `json:"customer"`
	Total    decimal.Decimal `json:"total"`
	Created  bool            `json:"created"`
}

func (e OrderSaved) Type() string { return "OrderSaved" }
func (e OrderSaved) Key() string  { return e.TabID.String() }

type OrderConfirmed struct {
	TabID         uuid.UUID `json:"tab_id"`
	OrderID       string    `json:"order_id"`
	InvoiceNumber string    `json:"invoice_number"`
}

func (e OrderConfirmed) Type() string { return "OrderConfirmed" }
func (e OrderConfirmed) Key() string  { return e.TabID.String() }

type PaymentRecorded struct {
	TabID         uuid.UUID       `json:"tab_id"`
	OrderID       string          `json:"order_id"`
	InvoiceNumber string          `json:"invoice_number"`
	ModeOfPayment string          `json:"mode_of_payment"`
	Amount        decimal.Decimal `json:"amount"`
}

func (e PaymentRecorded) Type() string { return "PaymentRecorded" }
func (e PaymentRecorded) Key() string  { return e.TabID.String() }

type ReturnSubmitted struct {
	TabID         uuid.UUID `json:"tab_id"`
	OrderID       string    `json:"order_id"`
	InvoiceNumber string    `json:"invoice_number"`
	ReturnID      string    `json:"return_id,omitempty"`
	Lines         int       `json:"lines"`
	FullyReturned bool      `json:"fully_returned"`
}

func (e ReturnSubmitted) Type() string { return "ReturnSubmitted" }
func (e ReturnSubmitted) Key() string  { return e.TabID.String() }
