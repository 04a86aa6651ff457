package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ammonit/intake/internal/model"
	"github.com/ammonit/intake/pkg/anthropic"
)

// --- Anthropic Mock ---

type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

// textResponse builds a single-text-block response.
func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}
}

// --- Profile Source Mock ---

type mockProfileSource struct {
	mock.Mock
}

func (m *mockProfileSource) ListByOwner(ctx context.Context, ownerID string) ([]model.ClientProfile, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ClientProfile), args.Error(1)
}

func (m *mockProfileSource) CreateProvisional(ctx context.Context, profile model.ClientProfile) (model.ClientProfile, error) {
	args := m.Called(ctx, profile)
	return args.Get(0).(model.ClientProfile), args.Error(1)
}

func (m *mockProfileSource) MarkUsed(ctx context.Context, profileID string) error {
	args := m.Called(ctx, profileID)
	return args.Error(0)
}

// --- Order Creator Mock ---

type mockOrderCreator struct {
	mock.Mock
}

func (m *mockOrderCreator) CreateOrder(ctx context.Context, order *model.Order) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

// --- Approver Mock ---

type mockApprover struct {
	mock.Mock
}

func (m *mockApprover) Approve(ctx context.Context, orderID string) (*model.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}
