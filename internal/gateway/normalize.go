package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/ecommerce-microservices/pos-client/internal/order"
)

const dateLayout = "2006-01-02"

// envelope is the {success, data} reply, optionally wrapped in the
// framework's {"message": ...}.
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message json.RawMessage `json:"message"`
}

// unwrap peels the message wrapper and the success envelope and returns the
// data document. A reply with success=false becomes an *APIError.
func unwrap(method string, body []byte) (json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return body, nil
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("gateway: %s: decode response: %w", method, err)
	}

	if env.Success == nil && len(env.Data) == 0 && len(env.Message) > 0 {
		msg := bytes.TrimSpace(env.Message)
		if len(msg) > 0 && (msg[0] == '{' || msg[0] == '[') {
			return unwrap(method, msg)
		}
		return msg, nil
	}
	if env.Success != nil {
		if !*env.Success {
			return nil, newAPIError(method, 0, body)
		}
		return env.Data, nil
	}
	if len(env.Data) > 0 {
		return env.Data, nil
	}
	return body, nil
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// docRef collects the keys the backend uses for a document name.
type docRef struct {
	Name          string `json:"name"`
	OrderID       string `json:"order_id"`
	SalesOrder    string `json:"sales_order"`
	ID            string `json:"id"`
	ReturnInvoice string `json:"return_invoice"`
	PaymentEntry  string `json:"payment_entry"`
}

func (r docRef) first() string {
	for _, v := range []string{r.Name, r.OrderID, r.SalesOrder, r.ID, r.ReturnInvoice, r.PaymentEntry} {
		if v != "" {
			return v
		}
	}
	return ""
}

// documentName extracts a document name from a bare string or any of the
// known id keys.
func documentName(data json.RawMessage) string {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	var ref docRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return ""
	}
	return ref.first()
}

type wireCustomer struct {
	Name         string `json:"name"`
	CustomerName string `json:"customer_name"`
}

func (c wireCustomer) toCustomer() order.Customer {
	name := c.CustomerName
	if name == "" {
		name = c.Name
	}
	return order.Customer{ID: c.Name, Name: name}
}

type wireInsights struct {
	TotalUnpaid      decimal.Decimal `json:"total_unpaid"`
	AmountDue        decimal.Decimal `json:"amount_due"`
	LoyaltyPoints    decimal.Decimal `json:"loyalty_points"`
	LastPurchaseDate string          `json:"last_purchase_date"`
}

func (w wireInsights) toInsights(customerID string) *order.CustomerInsights {
	ci := &order.CustomerInsights{
		CustomerID:    customerID,
		TotalUnpaid:   w.TotalUnpaid,
		AmountDue:     w.AmountDue,
		LoyaltyPoints: w.LoyaltyPoints,
	}
	if t, ok := parseDate(w.LastPurchaseDate); ok {
		ci.LastPurchasedAt = &t
	}
	return ci
}

type wireStock struct {
	Warehouse    string           `json:"warehouse"`
	ActualQty    *decimal.Decimal `json:"actual_qty"`
	AvailableQty *decimal.Decimal `json:"available_qty"`
}

func (w wireStock) toStock() order.WarehouseStock {
	available := decimal.Zero
	switch {
	case w.AvailableQty != nil:
		available = *w.AvailableQty
	case w.ActualQty != nil:
		available = *w.ActualQty
	}
	return order.WarehouseStock{Warehouse: w.Warehouse, Available: available}
}

type wireItem struct {
	ItemCode           string          `json:"item_code"`
	Qty                decimal.Decimal `json:"qty"`
	Rate               decimal.Decimal `json:"rate"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	UOM                string          `json:"uom"`
	Warehouse          string          `json:"warehouse,omitempty"`
}

type wireInvoice struct {
	Name              string          `json:"name"`
	Status            string          `json:"status"`
	OutstandingAmount decimal.Decimal `json:"outstanding_amount"`
	GrandTotal        decimal.Decimal `json:"grand_total"`
	ReturnStatus      string          `json:"return_status"`
}

type wireOrder struct {
	docRef
	Customer                     string           `json:"customer"`
	CustomerName                 string           `json:"customer_name"`
	DocStatus                    int              `json:"docstatus"`
	Items                        []wireItem       `json:"items"`
	AdditionalDiscountPercentage decimal.Decimal  `json:"additional_discount_percentage"`
	TaxRate                      *decimal.Decimal `json:"tax_rate"`
	GrandTotal                   *decimal.Decimal `json:"grand_total"`
	RoundedTotal                 *decimal.Decimal `json:"rounded_total"`
	TransactionDate              string           `json:"transaction_date"`
	PostingDate                  string           `json:"posting_date"`
	Invoices                     []wireInvoice    `json:"invoices"`
	SalesInvoices                []wireInvoice    `json:"sales_invoices"`
}

func (w wireOrder) toSnapshot() *order.Snapshot {
	snap := &order.Snapshot{
		ID:              w.first(),
		Customer:        w.CustomerName,
		CustomerID:      w.Customer,
		DocStatus:       w.DocStatus,
		DiscountPercent: w.AdditionalDiscountPercentage,
		TaxRate:         w.TaxRate,
		GrandTotal:      w.GrandTotal,
		RoundedTotal:    w.RoundedTotal,
	}
	if snap.Customer == "" {
		snap.Customer = w.Customer
	}

	if w.Items != nil {
		snap.Items = make([]order.OrderItem, 0, len(w.Items))
		for _, it := range w.Items {
			snap.Items = append(snap.Items, order.OrderItem{
				ItemCode:        it.ItemCode,
				Qty:             it.Qty,
				Rate:            it.Rate,
				DiscountPercent: it.DiscountPercentage,
				UOM:             it.UOM,
				Warehouse:       it.Warehouse,
			})
		}
	}

	for _, d := range []string{w.TransactionDate, w.PostingDate} {
		if t, ok := parseDate(d); ok {
			snap.PostingDate = t
			break
		}
	}

	invoices := w.Invoices
	if len(invoices) == 0 {
		invoices = w.SalesInvoices
	}
	for _, inv := range invoices {
		snap.Invoices = append(snap.Invoices, order.InvoiceSummary(inv))
	}
	return snap
}

type wireReturnLine struct {
	ItemRef     string          `json:"item_ref"`
	Name        string          `json:"name"`
	ItemCode    string          `json:"item_code"`
	UOM         string          `json:"uom"`
	Rate        decimal.Decimal `json:"rate"`
	Qty         decimal.Decimal `json:"qty"`
	ReturnedQty decimal.Decimal `json:"returned_qty"`
}

func (w wireReturnLine) toReturnLine() order.ReturnLine {
	ref := w.ItemRef
	if ref == "" {
		ref = w.Name
	}
	return order.ReturnLine{
		ItemRef:     ref,
		ItemCode:    w.ItemCode,
		UOM:         w.UOM,
		Rate:        w.Rate,
		OriginalQty: w.Qty,
		ReturnedQty: w.ReturnedQty,
	}
}

func parseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{dateLayout, "2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}
