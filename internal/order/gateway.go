package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OrderPayload is the create/edit request body in canonical form.
type OrderPayload struct {
	CustomerID      string                  `json:"customer"`
	Company         string                  `json:"company,omitempty"`
	Warehouse       string                  `json:"set_warehouse,omitempty"`
	PostingDate     time.Time               `json:"transaction_date"`
	DiscountPercent decimal.Decimal         `json:"additional_discount_percentage"`
	TaxRate         decimal.Decimal         `json:"tax_rate"`
	Items           []OrderItem             `json:"items"`
	StockSources    []StockAdjustmentSource `json:"stock_sources"`
}

type ConfirmRequest struct {
	OrderID  string           `json:"order_id"`
	Profile  string           `json:"pos_profile"`
	Operator string           `json:"operator"`
	Payments []PaymentAttempt `json:"payments"`
}

type PaymentEntryRequest struct {
	InvoiceNumber string         `json:"invoice"`
	CustomerID    string         `json:"customer"`
	Company       string         `json:"company,omitempty"`
	Payment       PaymentAttempt `json:"payment"`
}

type ReturnItem struct {
	ItemRef  string          `json:"item_ref"`
	ItemCode string          `json:"item_code"`
	Qty      decimal.Decimal `json:"qty"`
	UOM      string          `json:"uom,omitempty"`
	Rate     decimal.Decimal `json:"rate"`
}

type ReturnRequest struct {
	InvoiceNumber string       `json:"invoice"`
	OrderID       string       `json:"order_id"`
	CustomerID    string       `json:"customer"`
	Items         []ReturnItem `json:"items"`
}

// Gateway is the remote order-management backend. Implementations normalize
// the backend's payload shapes into these types.
type Gateway interface {
	FindCustomers(ctx context.Context, name string) ([]Customer, error)
	CustomerInsights(ctx context.Context, customerID string) (*CustomerInsights, error)
	StockAvailability(ctx context.Context, itemCode string) ([]WarehouseStock, error)
	CreateOrder(ctx context.Context, p OrderPayload) (string, error)
	EditOrder(ctx context.Context, orderID string, p OrderPayload) (string, error)
	OrderDetails(ctx context.Context, orderID string) (*Snapshot, error)
	ConfirmOrder(ctx context.Context, req ConfirmRequest) error
	CreatePaymentEntry(ctx context.Context, req PaymentEntryRequest) (string, error)
	ReturnableItems(ctx context.Context, invoiceNumber string) ([]ReturnLine, error)
	ReturnOrder(ctx context.Context, req ReturnRequest) (string, error)
}
