package bridge

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ammonit/intake/internal/model"
)

// --- Order API Client Mock ---

type mockOrderClient struct {
	mock.Mock
}

func (m *mockOrderClient) Authenticate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockOrderClient) ListOrders(ctx context.Context, state model.OrderState) ([]model.Order, error) {
	args := m.Called(ctx, state)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Order), args.Error(1)
}

func (m *mockOrderClient) RecordOutcome(ctx context.Context, orderID string, outcome model.IntegrationOutcome) error {
	args := m.Called(ctx, orderID, outcome)
	return args.Error(0)
}
