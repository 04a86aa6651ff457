package ingest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ammonit/intake/internal/model"
	"github.com/ammonit/intake/internal/pipeline"
	"github.com/ammonit/intake/pkg/graphmail"
)

// --- Graph Client Mock ---

type mockGraphClient struct {
	mock.Mock
}

func (m *mockGraphClient) ListMessages(ctx context.Context, limit int) ([]graphmail.MessageSummary, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]graphmail.MessageSummary), args.Error(1)
}

func (m *mockGraphClient) GetMessage(ctx context.Context, messageID string) (*graphmail.Message, error) {
	args := m.Called(ctx, messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*graphmail.Message), args.Error(1)
}

// --- Runner Mock ---

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, in pipeline.RunInput) (*model.Order, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Order), args.Error(1)
}
