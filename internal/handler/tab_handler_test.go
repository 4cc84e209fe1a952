package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/ecommerce-microservices/pos-client/internal/handler"
	"github.com/vasiliy-maslov/ecommerce-microservices/pos-client/internal/order"
	"github.com/vasiliy-maslov/ecommerce-microservices/pos-client/internal/serverr"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) orderResult(args mock.Arguments) (*order.Order, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockService) sessionResult(args mock.Arguments) (*order.ReturnSession, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.ReturnSession), args.Error(1)
}

func (m *MockService) OpenTab(ctx context.Context) (*order.Order, error) {
	return m.orderResult(m.Called(ctx))
}

func (m *MockService) CloseTab(ctx context.Context, tabID uuid.UUID) error {
	return m.Called(ctx, tabID).Error(0)
}

func (m *MockService) Tab(ctx context.Context, tabID uuid.UUID) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, tabID))
}

func (m *MockService) Tabs(ctx context.Context) ([]*order.Order, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*order.Order), args.Error(1)
}

func (m *MockService) SetCustomer(ctx context.Context, tabID uuid.UUID, name string) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, tabID, name))
}

func (m *MockService) AddItem(ctx context.Context, tabID uuid.UUID, item order.OrderItem) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, tabID, item))
}

func (m *MockService) UpdateItem(ctx context.Context, tabID uuid.UUID, idx int, upd order.ItemUpdate) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, tabID, idx, upd))
}

func (m *MockService) RemoveItem(ctx context.Context, tabID uuid.UUID, idx int) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, tabID, idx))
}

func (m *MockService) SetDiscount(ctx context.Context, tabID uuid.UUID, percent decimal.Decimal) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, tabID, percent))
}

func (m *MockService) Totals(ctx context.Context, tabID uuid.UUID) (order.Totals, error) {
	args := m.Called(ctx, tabID)
	return args.Get(0).(order.Totals), args.Error(1)
}

func (m *MockService) FindShortages(ctx context.Context, tabID uuid.UUID) ([]order.Shortage, error) {
	args := m.Called(ctx, tabID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.Shortage), args.Error(1)
}

func (m *MockService) PrepareAllocation(ctx context.Context, tabID uuid.UUID, idx int) (*order.Allocation, error) {
	args := m.Called(ctx, tabID, idx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Allocation), args.Error(1)
}

func (m *MockService) ApplyAllocation(ctx context.Context, tabID uuid.UUID, idx int, a *order.Allocation) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, tabID, idx, a))
}

func (m *MockService) Save(ctx context.Context, tabID uuid.UUID) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, tabID))
}

func (m *MockService) Confirm(ctx context.Context, tabID uuid.UUID) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, tabID))
}

func (m *MockService) Pay(ctx context.Context, tabID uuid.UUID, p order.PaymentAttempt) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, tabID, p))
}

func (m *MockService) ConfirmAndPay(ctx context.Context, tabID uuid.UUID, p order.PaymentAttempt) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, tabID, p))
}

func (m *MockService) OpenReturn(ctx context.Context, tabID uuid.UUID) (*order.ReturnSession, error) {
	return m.sessionResult(m.Called(ctx, tabID))
}

func (m *MockService) SelectReturnLine(ctx context.Context, tabID uuid.UUID, ref string, selected bool) (*order.ReturnSession, error) {
	return m.sessionResult(m.Called(ctx, tabID, ref, selected))
}

func (m *MockService) SetReturnQuantity(ctx context.Context, tabID uuid.UUID, ref string, qty decimal.Decimal) (*order.ReturnSession, error) {
	return m.sessionResult(m.Called(ctx, tabID, ref, qty))
}

func (m *MockService) CommitReturnQuantity(ctx context.Context, tabID uuid.UUID, ref string) (*order.ReturnSession, error) {
	return m.sessionResult(m.Called(ctx, tabID, ref))
}

func (m *MockService) SubmitReturn(ctx context.Context, tabID uuid.UUID) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, tabID))
}

func (m *MockService) RefreshOrder(ctx context.Context, tabID uuid.UUID) (*order.Order, error) {
	return m.orderResult(m.Called(ctx, tabID))
}

func (m *MockService) CustomerInsights(ctx context.Context, tabID uuid.UUID) (*order.CustomerInsights, error) {
	args := m.Called(ctx, tabID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.CustomerInsights), args.Error(1)
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newServer(t *testing.T) (*MockService, http.Handler) {
	t.Helper()
	svc := new(MockService)
	return svc, handler.NewRouter(handler.NewTabHandler(svc), nil)
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func sampleOrder(tabID uuid.UUID) *order.Order {
	return &order.Order{
		TabID:    tabID,
		Customer: "Walk-In Customer",
		Items:    []order.OrderItem{{ItemCode: "ABC-1", Qty: d("2"), Rate: d("100"), DiscountPercent: d("10"), UOM: "Nos"}},
		TaxRate:  d("15"),
		Status:   order.StatusUnsaved,
	}
}

func TestTabHandler_OpenTab(t *testing.T) {
	svc, h := newServer(t)
	tabID := uuid.Must(uuid.NewV4())
	svc.On("OpenTab", mock.Anything).Return(sampleOrder(tabID), nil).Once()

	rr := do(t, h, http.MethodPost, "/tabs", nil)

	require.Equal(t, http.StatusCreated, rr.Code)
	var got struct {
		TabID  uuid.UUID    `json:"tab_id"`
		Status string       `json:"status"`
		Totals order.Totals `json:"totals"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, tabID, got.TabID)
	assert.Equal(t, "UNSAVED", got.Status)
	assert.Equal(t, "207.00", got.Totals.String())
	svc.AssertExpectations(t)
}

func TestTabHandler_AddItem(t *testing.T) {
	tabID := uuid.Must(uuid.NewV4())

	tests := []struct {
		name           string
		body           any
		setup          func(svc *MockService)
		expectedStatus int
	}{
		{
			name: "success",
			body: `{"item_code": "ABC-1", "qty": 2, "rate": "100", "discount_percentage": 10}`,
			setup: func(svc *MockService) {
				svc.On("AddItem", mock.Anything, tabID, mock.MatchedBy(func(item order.OrderItem) bool {
					return item.ItemCode == "ABC-1" && item.Qty.Equal(d("2")) && item.Rate.Equal(d("100")) && item.DiscountPercent.Equal(d("10"))
				})).Return(sampleOrder(tabID), nil).Once()
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "missing_item_code",
			body:           `{"qty": 2}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "unknown_field",
			body:           `{"item_code": "ABC-1", "qty": 2, "colour": "red"}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "locked",
			body: `{"item_code": "ABC-1", "qty": 1}`,
			setup: func(svc *MockService) {
				svc.On("AddItem", mock.Anything, tabID, mock.Anything).Return(nil, order.ErrOrderLocked).Once()
			},
			expectedStatus: http.StatusConflict,
		},
		{
			name: "invalid_item",
			body: `{"item_code": "ABC-1", "qty": -1}`,
			setup: func(svc *MockService) {
				svc.On("AddItem", mock.Anything, tabID, mock.Anything).Return(nil, order.ErrInvalidItem).Once()
			},
			expectedStatus: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, h := newServer(t)
			if tt.setup != nil {
				tt.setup(svc)
			}

			rr := do(t, h, http.MethodPost, "/tabs/"+tabID.String()+"/items", tt.body)

			assert.Equal(t, tt.expectedStatus, rr.Code, rr.Body.String())
			svc.AssertExpectations(t)
		})
	}
}

func TestTabHandler_InvalidTabID(t *testing.T) {
	svc, h := newServer(t)

	rr := do(t, h, http.MethodPost, "/tabs/not-a-uuid/save", nil)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	svc.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestTabHandler_Save_ClassifiedErrors(t *testing.T) {
	tabID := uuid.Must(uuid.NewV4())

	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedKind   serverr.Kind
	}{
		{
			name: "stock",
			err: &order.ActionError{Action: "save", Err: errors.New("417"), Result: serverr.Result{
				Kind:  serverr.KindStock,
				Stock: []serverr.StockError{{ItemCode: "ABC-123", Detail: "needs 5, has 2"}},
			}},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedKind:   serverr.KindStock,
		},
		{
			name: "generic",
			err: &order.ActionError{Action: "save", Err: errors.New("500"), Result: serverr.Result{
				Kind:    serverr.KindGeneric,
				Generic: &serverr.GenericError{Summary: "Customer is disabled", Detail: "Customer is disabled"},
			}},
			expectedStatus: http.StatusBadGateway,
			expectedKind:   serverr.KindGeneric,
		},
		{
			name:           "in_flight",
			err:            order.ErrActionInFlight,
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "customer_not_found",
			err:            order.ErrCustomerNotFound,
			expectedStatus: http.StatusUnprocessableEntity,
		},
		{
			name:           "tab_not_found",
			err:            order.ErrTabNotFound,
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, h := newServer(t)
			svc.On("Save", mock.Anything, tabID).Return(nil, tt.err).Once()

			rr := do(t, h, http.MethodPost, "/tabs/"+tabID.String()+"/save", nil)

			require.Equal(t, tt.expectedStatus, rr.Code)
			var body handler.ErrorResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
			assert.NotEmpty(t, body.Error)
			if tt.expectedKind != serverr.KindNone {
				require.NotNil(t, body.Result)
				assert.Equal(t, tt.expectedKind, body.Result.Kind)
			} else {
				assert.Nil(t, body.Result)
			}
		})
	}
}

func TestTabHandler_Pay(t *testing.T) {
	tabID := uuid.Must(uuid.NewV4())
	svc, h := newServer(t)

	paid := sampleOrder(tabID)
	paid.Status = order.StatusPaid
	svc.On("Pay", mock.Anything, tabID, mock.MatchedBy(func(p order.PaymentAttempt) bool {
		return p.ModeOfPayment == "Card" && p.Amount.Equal(d("50.25"))
	})).Return(paid, nil).Once()

	rr := do(t, h, http.MethodPost, "/tabs/"+tabID.String()+"/pay", `{"mode_of_payment": "Card", "amount": 50.25}`)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	svc.AssertExpectations(t)

	rr = do(t, h, http.MethodPost, "/tabs/"+tabID.String()+"/pay", `{"mode_of_payment": "Card"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestTabHandler_PutAllocation(t *testing.T) {
	tabID := uuid.Must(uuid.NewV4())
	svc, h := newServer(t)

	fresh := func() *order.Allocation {
		return order.NewAllocation("ABC-1", "Nos", d("2"), "Stores", d("1"), []order.WarehouseStock{
			{Warehouse: "Stores", Available: d("1")},
			{Warehouse: "Backroom", Available: d("4")},
		})
	}
	svc.On("PrepareAllocation", mock.Anything, tabID, 0).Return(fresh(), nil).Once()
	svc.On("PrepareAllocation", mock.Anything, tabID, 0).Return(fresh(), nil).Once()
	svc.On("ApplyAllocation", mock.Anything, tabID, 0, mock.MatchedBy(func(a *order.Allocation) bool {
		return a.Sufficient() && a.Allocated().Equal(d("2"))
	})).Return(sampleOrder(tabID), nil).Once()

	rr := do(t, h, http.MethodPut, "/tabs/"+tabID.String()+"/items/0/allocation", `{"lines": [{"warehouse": "Stores", "qty": 1}, {"warehouse": "Backroom", "qty": 1}]}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = do(t, h, http.MethodPut, "/tabs/"+tabID.String()+"/items/0/allocation", `{"lines": [{"warehouse": "Backroom", "qty": 9}]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	svc.AssertExpectations(t)
}

func TestTabHandler_ReturnLine(t *testing.T) {
	tabID := uuid.Must(uuid.NewV4())
	svc, h := newServer(t)
	rs := &order.ReturnSession{InvoiceNumber: "SINV-0001"}

	svc.On("SelectReturnLine", mock.Anything, tabID, "row-1", true).Return(rs, nil).Once()
	svc.On("SetReturnQuantity", mock.Anything, tabID, "row-1", mock.MatchedBy(func(q decimal.Decimal) bool {
		return q.Equal(d("30"))
	})).Return(rs, nil).Once()
	svc.On("CommitReturnQuantity", mock.Anything, tabID, "row-1").Return(rs, nil).Once()

	rr := do(t, h, http.MethodPut, "/tabs/"+tabID.String()+"/returns/lines/row-1", `{"selected": true, "qty": 30, "commit": true}`)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	svc.AssertExpectations(t)

	rr = do(t, h, http.MethodPut, "/tabs/"+tabID.String()+"/returns/lines/row-1", `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestTabHandler_CloseTab(t *testing.T) {
	tabID := uuid.Must(uuid.NewV4())
	svc, h := newServer(t)
	svc.On("CloseTab", mock.Anything, tabID).Return(nil).Once()
	svc.On("CloseTab", mock.Anything, tabID).Return(order.ErrTabNotFound).Once()

	rr := do(t, h, http.MethodDelete, "/tabs/"+tabID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = do(t, h, http.MethodDelete, "/tabs/"+tabID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouter_Health(t *testing.T) {
	_, h := newServer(t)

	rr := do(t, h, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())
}
