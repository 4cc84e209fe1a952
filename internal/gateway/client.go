package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/ecommerce-microservices/pos-client/internal/order"
)

const (
	methodFindCustomers  = "pos.api.customer.search"
	methodInsights       = "pos.api.customer.insights"
	methodStock          = "pos.api.item.stock_availability"
	methodCreateOrder    = "pos.api.order.create_order"
	methodEditOrder      = "pos.api.order.edit_order"
	methodOrderDetails   = "pos.api.order.order_details"
	methodConfirmOrder   = "pos.api.order.confirm_order"
	methodPaymentEntry   = "pos.api.payment.create_payment_entry"
	methodReturnable     = "pos.api.order.returnable_items"
	methodReturnOrder    = "pos.api.order.return_order"
	maxResponseBodyBytes = 4 << 20
)

var ErrMissingOrderID = errors.New("backend reply carries no document name")

type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

// Client talks to the order-management backend over its RPC endpoints and
// implements order.Gateway.
type Client struct {
	baseURL string
	auth    string
	http    *http.Client
}

var _ order.Gateway = (*Client)(nil)

func New(cfg Config) *Client {
	return NewWithHTTPClient(cfg, &http.Client{Timeout: cfg.Timeout})
}

func NewWithHTTPClient(cfg Config, hc *http.Client) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    hc,
	}
	if cfg.APIKey != "" {
		c.auth = fmt.Sprintf("token %s:%s", cfg.APIKey, cfg.APISecret)
	}
	return c
}

// call posts req to the named method and returns the unwrapped data document.
func (c *Client) call(ctx context.Context, method string, req any) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("gateway: %s: encode request: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/method/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("gateway: %s: build request: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.auth != "" {
		httpReq.Header.Set("Authorization", c.auth)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		log.Error().Err(err).Str("method", method).Msg("gateway: request failed")
		return nil, fmt.Errorf("gateway: %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("gateway: %s: read response: %w", method, err)
	}

	log.Debug().Str("method", method).Int("status", resp.StatusCode).Dur("took", time.Since(start)).Msg("gateway: call finished")

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := newAPIError(method, resp.StatusCode, raw)
		log.Warn().Str("method", method).Int("status", resp.StatusCode).Str("exception", apiErr.Exception).Msg("gateway: backend returned an error")
		return nil, apiErr
	}

	return unwrap(method, raw)
}

func decodeInto(method string, data json.RawMessage, out any) error {
	if isNull(data) {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("gateway: %s: decode data: %w", method, err)
	}
	return nil
}

func (c *Client) FindCustomers(ctx context.Context, name string) ([]order.Customer, error) {
	data, err := c.call(ctx, methodFindCustomers, map[string]string{"search": name})
	if err != nil {
		return nil, err
	}

	var wire []wireCustomer
	if err := decodeInto(methodFindCustomers, data, &wire); err != nil {
		return nil, err
	}
	out := make([]order.Customer, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toCustomer())
	}
	return out, nil
}

func (c *Client) CustomerInsights(ctx context.Context, customerID string) (*order.CustomerInsights, error) {
	data, err := c.call(ctx, methodInsights, map[string]string{"customer": customerID})
	if err != nil {
		return nil, err
	}

	var wire wireInsights
	if err := decodeInto(methodInsights, data, &wire); err != nil {
		return nil, err
	}
	return wire.toInsights(customerID), nil
}

func (c *Client) StockAvailability(ctx context.Context, itemCode string) ([]order.WarehouseStock, error) {
	data, err := c.call(ctx, methodStock, map[string]string{"item_code": itemCode})
	if err != nil {
		return nil, err
	}

	var wire []wireStock
	if err := decodeInto(methodStock, data, &wire); err != nil {
		return nil, err
	}
	out := make([]order.WarehouseStock, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toStock())
	}
	return out, nil
}

type orderRequest struct {
	OrderID                      string                        `json:"order_id,omitempty"`
	Customer                     string                        `json:"customer"`
	Company                      string                        `json:"company,omitempty"`
	SetWarehouse                 string                        `json:"set_warehouse,omitempty"`
	TransactionDate              string                        `json:"transaction_date,omitempty"`
	AdditionalDiscountPercentage decimal.Decimal               `json:"additional_discount_percentage"`
	TaxRate                      decimal.Decimal               `json:"tax_rate"`
	Items                        []wireItem                    `json:"items"`
	StockSources                 []order.StockAdjustmentSource `json:"stock_sources"`
}

func newOrderRequest(orderID string, p order.OrderPayload) orderRequest {
	req := orderRequest{
		OrderID:                      orderID,
		Customer:                     p.CustomerID,
		Company:                      p.Company,
		SetWarehouse:                 p.Warehouse,
		TransactionDate:              formatDate(p.PostingDate),
		AdditionalDiscountPercentage: p.DiscountPercent,
		TaxRate:                      p.TaxRate,
		Items:                        make([]wireItem, 0, len(p.Items)),
		StockSources:                 p.StockSources,
	}
	for _, it := range p.Items {
		req.Items = append(req.Items, wireItem{
			ItemCode:           it.ItemCode,
			Qty:                it.Qty,
			Rate:               it.Rate,
			DiscountPercentage: it.DiscountPercent,
			UOM:                it.UOM,
			Warehouse:          it.Warehouse,
		})
	}
	return req
}

func (c *Client) CreateOrder(ctx context.Context, p order.OrderPayload) (string, error) {
	return c.saveOrder(ctx, methodCreateOrder, newOrderRequest("", p))
}

func (c *Client) EditOrder(ctx context.Context, orderID string, p order.OrderPayload) (string, error) {
	return c.saveOrder(ctx, methodEditOrder, newOrderRequest(orderID, p))
}

func (c *Client) saveOrder(ctx context.Context, method string, req orderRequest) (string, error) {
	data, err := c.call(ctx, method, req)
	if err != nil {
		return "", err
	}
	id := documentName(data)
	if id == "" {
		id = req.OrderID
	}
	if id == "" {
		return "", fmt.Errorf("gateway: %s: %w", method, ErrMissingOrderID)
	}
	return id, nil
}

func (c *Client) OrderDetails(ctx context.Context, orderID string) (*order.Snapshot, error) {
	data, err := c.call(ctx, methodOrderDetails, map[string]string{"order_id": orderID})
	if err != nil {
		return nil, err
	}

	var wire wireOrder
	if err := decodeInto(methodOrderDetails, data, &wire); err != nil {
		return nil, err
	}
	snap := wire.toSnapshot()
	if snap.ID == "" {
		snap.ID = orderID
	}
	return snap, nil
}

type wirePayment struct {
	ModeOfPayment string          `json:"mode_of_payment"`
	Amount        decimal.Decimal `json:"amount"`
	PostingDate   string          `json:"posting_date,omitempty"`
}

func newWirePayment(p order.PaymentAttempt) wirePayment {
	return wirePayment{ModeOfPayment: p.ModeOfPayment, Amount: p.Amount, PostingDate: formatDate(p.PostingDate)}
}

func (c *Client) ConfirmOrder(ctx context.Context, req order.ConfirmRequest) error {
	payments := make([]wirePayment, 0, len(req.Payments))
	for _, p := range req.Payments {
		payments = append(payments, newWirePayment(p))
	}

	_, err := c.call(ctx, methodConfirmOrder, struct {
		OrderID    string        `json:"order_id"`
		POSProfile string        `json:"pos_profile"`
		Operator   string        `json:"operator"`
		Payments   []wirePayment `json:"payments"`
	}{req.OrderID, req.Profile, req.Operator, payments})
	return err
}

func (c *Client) CreatePaymentEntry(ctx context.Context, req order.PaymentEntryRequest) (string, error) {
	data, err := c.call(ctx, methodPaymentEntry, struct {
		Invoice  string `json:"invoice"`
		Customer string `json:"customer"`
		Company  string `json:"company,omitempty"`
		wirePayment
	}{req.InvoiceNumber, req.CustomerID, req.Company, newWirePayment(req.Payment)})
	if err != nil {
		return "", err
	}
	return documentName(data), nil
}

func (c *Client) ReturnableItems(ctx context.Context, invoiceNumber string) ([]order.ReturnLine, error) {
	data, err := c.call(ctx, methodReturnable, map[string]string{"invoice": invoiceNumber})
	if err != nil {
		return nil, err
	}

	var wire []wireReturnLine
	if err := decodeInto(methodReturnable, data, &wire); err != nil {
		return nil, err
	}
	out := make([]order.ReturnLine, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toReturnLine())
	}
	return out, nil
}

func (c *Client) ReturnOrder(ctx context.Context, req order.ReturnRequest) (string, error) {
	data, err := c.call(ctx, methodReturnOrder, req)
	if err != nil {
		return "", err
	}
	return documentName(data), nil
}
