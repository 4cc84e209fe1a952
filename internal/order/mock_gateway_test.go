package order_test

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/vasiliy-maslov/ecommerce-microservices/pos-client/internal/events"
	"github.com/vasiliy-maslov/ecommerce-microservices/pos-client/internal/order"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) FindCustomers(ctx context.Context, name string) ([]order.Customer, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.Customer), args.Error(1)
}

func (m *MockGateway) CustomerInsights(ctx context.Context, customerID string) (*order.CustomerInsights, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.CustomerInsights), args.Error(1)
}

func (m *MockGateway) StockAvailability(ctx context.Context, itemCode string) ([]order.WarehouseStock, error) {
	args := m.Called(ctx, itemCode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.WarehouseStock), args.Error(1)
}

func (m *MockGateway) CreateOrder(ctx context.Context, p order.OrderPayload) (string, error) {
	args := m.Called(ctx, p)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) EditOrder(ctx context.Context, orderID string, p order.OrderPayload) (string, error) {
	args := m.Called(ctx, orderID, p)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) OrderDetails(ctx context.Context, orderID string) (*order.Snapshot, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Snapshot), args.Error(1)
}

func (m *MockGateway) ConfirmOrder(ctx context.Context, req order.ConfirmRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockGateway) CreatePaymentEntry(ctx context.Context, req order.PaymentEntryRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) ReturnableItems(ctx context.Context, invoiceNumber string) ([]order.ReturnLine, error) {
	args := m.Called(ctx, invoiceNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.ReturnLine), args.Error(1)
}

func (m *MockGateway) ReturnOrder(ctx context.Context, req order.ReturnRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(ctx context.Context, e events.Event) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}
