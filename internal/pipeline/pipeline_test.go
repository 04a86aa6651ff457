package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ammonit/intake/internal/config"
	"github.com/ammonit/intake/internal/model"
	"github.com/ammonit/intake/pkg/anthropic"
)

// Stage requests all go through one mock client; the matchers below tell
// them apart by model and system prompt.
func matchTranscribe(req anthropic.MessageRequest) bool {
	return req.Model == testAnthropicConfig().TranscribeModel
}

func matchSelect(req anthropic.MessageRequest) bool {
	return len(req.System) == 1 && strings.Contains(req.System[0].Text, "selecting from this list")
}

func matchBootstrap(req anthropic.MessageRequest) bool {
	return len(req.System) == 1 && strings.Contains(req.System[0].Text, "Identify the name of the client company")
}

func matchExtract(req anthropic.MessageRequest) bool {
	return len(req.System) == 1 && strings.Contains(req.System[0].Text, "extract structured purchase order data")
}

func newTestRunner(mc *mockAnthropicClient, profiles *mockProfileSource, orders *mockOrderCreator, approval config.ApprovalConfig, opts RunnerOpts) *Runner {
	cfg := testAnthropicConfig()
	return NewRunner(
		NewTranscriber(mc, cfg),
		NewClassifier(mc, cfg),
		NewExtractor(mc, cfg),
		profiles,
		orders,
		config.PipelineConfig{BoundaryMarkers: []string{"general conditions"}},
		approval,
		opts,
	)
}

func TestRunner_EndToEnd(t *testing.T) {
	t.Parallel()

	mc := new(mockAnthropicClient)
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(matchTranscribe)).Return(textResponse("# Order PO-1001"), nil)
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(matchSelect)).Return(textResponse(`{"client_number": 0}`), nil)
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(matchExtract)).Return(textResponse(validExtraction), nil)

	profiles := new(mockProfileSource)
	registered := registeredProfiles()
	registered[0].Schema = extractionProfile().Schema
	profiles.On("ListByOwner", mock.Anything, "owner-1").Return(registered, nil)
	profiles.On("MarkUsed", mock.Anything, "p-0").Return(nil)

	orders := new(mockOrderCreator)
	var created *model.Order
	orders.On("CreateOrder", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		created = args.Get(1).(*model.Order)
	}).Return(nil)

	r := newTestRunner(mc, profiles, orders, config.ApprovalConfig{}, RunnerOpts{})
	order, err := r.Run(context.Background(), RunInput{
		OwnerID:      "owner-1",
		Document:     []byte("order text"),
		DocumentName: "order.txt",
		AccountID:    "acct-1",
		MessageID:    "msg-1",
	})
	require.NoError(t, err)
	require.NotNil(t, created)

	assert.Equal(t, created, order)
	assert.NotEmpty(t, order.ID)
	assert.Equal(t, "p-0", order.ProfileID)
	assert.Equal(t, "acct-1", order.AccountID)
	assert.Equal(t, "msg-1", order.MessageID)
	assert.Equal(t, model.OrderStatePending, order.State)
	assert.Contains(t, order.StateSetAt, model.OrderStatePending)
	assert.Equal(t, "# Order PO-1001", order.Transcript)
	assert.Equal(t, "PO-1001", order.Record["number"])
	assert.Contains(t, order.Normalized, "number;client_code;quantity;unit_price")
	assert.Contains(t, order.Normalized, "PO-1001;A-1;2;10.5")

	profiles.AssertExpectations(t)
	orders.AssertExpectations(t)
}

func TestRunner_BootstrapCreatesProvisional(t *testing.T) {
	t.Parallel()

	mc := new(mockAnthropicClient)
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(matchTranscribe)).Return(textResponse("# Order"), nil)
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(matchBootstrap)).Return(textResponse("Danobat S. Coop."), nil)
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(matchExtract)).Return(textResponse(validExtraction), nil)

	sentinel := model.ClientProfile{
		ID:      "p-sentinel",
		OwnerID: "owner-1",
		Name:    model.BootstrapProfileName,
		Schema:  extractionProfile().Schema,
	}

	profiles := new(mockProfileSource)
	profiles.On("ListByOwner", mock.Anything, "owner-1").Return([]model.ClientProfile{sentinel}, nil)
	profiles.On("CreateProvisional", mock.Anything, mock.MatchedBy(func(p model.ClientProfile) bool {
		return p.Name == "Danobat S. Coop."
	})).Return(model.ClientProfile{
		ID:      "p-new",
		OwnerID: "owner-1",
		Name:    "Danobat S. Coop.",
		Schema:  sentinel.Schema,
	}, nil)
	profiles.On("MarkUsed", mock.Anything, "p-new").Return(nil)

	orders := new(mockOrderCreator)
	orders.On("CreateOrder", mock.Anything, mock.Anything).Return(nil)

	r := newTestRunner(mc, profiles, orders, config.ApprovalConfig{}, RunnerOpts{})
	order, err := r.Run(context.Background(), RunInput{
		OwnerID:      "owner-1",
		Document:     []byte("order text"),
		DocumentName: "order.txt",
	})
	require.NoError(t, err)

	assert.Equal(t, "p-new", order.ProfileID)
	profiles.AssertExpectations(t)
}

func TestRunner_AutoApprove(t *testing.T) {
	t.Parallel()

	mc := new(mockAnthropicClient)
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(matchTranscribe)).Return(textResponse("# Order"), nil)
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(matchSelect)).Return(textResponse(`{"client_number": 0}`), nil)
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(matchExtract)).Return(textResponse(validExtraction), nil)

	profiles := new(mockProfileSource)
	registered := registeredProfiles()
	registered[0].Schema = extractionProfile().Schema
	profiles.On("ListByOwner", mock.Anything, "owner-1").Return(registered, nil)
	profiles.On("MarkUsed", mock.Anything, "p-0").Return(nil)

	orders := new(mockOrderCreator)
	orders.On("CreateOrder", mock.Anything, mock.Anything).Return(nil)

	approver := new(mockApprover)
	approver.On("Approve", mock.Anything, mock.AnythingOfType("string")).Return(&model.Order{
		ID:    "approved-id",
		State: model.OrderStateApproved,
	}, nil)

	approval := config.ApprovalConfig{Owners: map[string]bool{"owner-1": true}}
	r := newTestRunner(mc, profiles, orders, approval, RunnerOpts{Approver: approver})
	order, err := r.Run(context.Background(), RunInput{
		OwnerID:      "owner-1",
		Document:     []byte("order text"),
		DocumentName: "order.txt",
	})
	require.NoError(t, err)

	assert.Equal(t, model.OrderStateApproved, order.State)
	approver.AssertExpectations(t)
}

func TestRunner_ManualOwnerSkipsApprover(t *testing.T) {
	t.Parallel()

	mc := new(mockAnthropicClient)
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(matchTranscribe)).Return(textResponse("# Order"), nil)
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(matchSelect)).Return(textResponse(`{"client_number": 0}`), nil)
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(matchExtract)).Return(textResponse(validExtraction), nil)

	profiles := new(mockProfileSource)
	registered := registeredProfiles()
	registered[0].Schema = extractionProfile().Schema
	profiles.On("ListByOwner", mock.Anything, "owner-1").Return(registered, nil)
	profiles.On("MarkUsed", mock.Anything, "p-0").Return(nil)

	orders := new(mockOrderCreator)
	orders.On("CreateOrder", mock.Anything, mock.Anything).Return(nil)

	approver := new(mockApprover)

	approval := config.ApprovalConfig{AutoApprove: true, Owners: map[string]bool{"owner-1": false}}
	r := newTestRunner(mc, profiles, orders, approval, RunnerOpts{Approver: approver})
	order, err := r.Run(context.Background(), RunInput{
		OwnerID:      "owner-1",
		Document:     []byte("order text"),
		DocumentName: "order.txt",
	})
	require.NoError(t, err)

	assert.Equal(t, model.OrderStatePending, order.State)
	approver.AssertNotCalled(t, "Approve", mock.Anything, mock.Anything)
}

func TestRunner_UnknownClientCarriesDocumentName(t *testing.T) {
	t.Parallel()

	mc := new(mockAnthropicClient)
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(matchTranscribe)).Return(textResponse("# Order"), nil)
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(matchSelect)).Return(textResponse(`{"client_number": -1}`), nil)

	profiles := new(mockProfileSource)
	profiles.On("ListByOwner", mock.Anything, "owner-1").Return(registeredProfiles(), nil)

	orders := new(mockOrderCreator)

	r := newTestRunner(mc, profiles, orders, config.ApprovalConfig{}, RunnerOpts{})
	_, err := r.Run(context.Background(), RunInput{
		OwnerID:      "owner-1",
		Document:     []byte("order text"),
		DocumentName: "mystery.txt",
	})

	var unknown *UnknownClientError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "mystery.txt", unknown.DocumentName)
	orders.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
}

func TestRunner_InputValidation(t *testing.T) {
	t.Parallel()

	r := newTestRunner(new(mockAnthropicClient), new(mockProfileSource), new(mockOrderCreator), config.ApprovalConfig{}, RunnerOpts{})

	_, err := r.Run(context.Background(), RunInput{OwnerID: "owner-1", DocumentName: "a.txt"})
	assert.Error(t, err)

	_, err = r.Run(context.Background(), RunInput{OwnerID: "owner-1", Document: []byte("x")})
	assert.Error(t, err)
}

func TestRunner_BoundaryMarkerAppliedBeforeTranscription(t *testing.T) {
	t.Parallel()

	mc := new(mockAnthropicClient)
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return matchTranscribe(req) && !strings.Contains(req.Messages[0].Content, "boilerplate")
	})).Return(textResponse("# Order"), nil)
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(matchSelect)).Return(textResponse(`{"client_number": 0}`), nil)
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(matchExtract)).Return(textResponse(validExtraction), nil)

	profiles := new(mockProfileSource)
	registered := registeredProfiles()
	registered[0].Schema = extractionProfile().Schema
	profiles.On("ListByOwner", mock.Anything, "owner-1").Return(registered, nil)
	profiles.On("MarkUsed", mock.Anything, "p-0").Return(nil)

	orders := new(mockOrderCreator)
	orders.On("CreateOrder", mock.Anything, mock.Anything).Return(nil)

	r := newTestRunner(mc, profiles, orders, config.ApprovalConfig{}, RunnerOpts{})
	order, err := r.Run(context.Background(), RunInput{
		OwnerID:      "owner-1",
		Document:     []byte("order lines\nGENERAL CONDITIONS\nboilerplate"),
		DocumentName: "order.txt",
	})
	require.NoError(t, err)
	mc.AssertExpectations(t)

	// The persisted document keeps the original bytes.
	assert.Contains(t, string(order.Document), "boilerplate")
}

func TestRunner_NormalizeOptsApplied(t *testing.T) {
	t.Parallel()

	mc := new(mockAnthropicClient)
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(matchTranscribe)).Return(textResponse("# Order"), nil)
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(matchSelect)).Return(textResponse(`{"client_number": 0}`), nil)
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(matchExtract)).Return(textResponse(validExtraction), nil)

	profiles := new(mockProfileSource)
	registered := registeredProfiles()
	registered[0].Schema = extractionProfile().Schema
	profiles.On("ListByOwner", mock.Anything, "owner-1").Return(registered, nil)
	profiles.On("MarkUsed", mock.Anything, "p-0").Return(nil)

	orders := new(mockOrderCreator)
	orders.On("CreateOrder", mock.Anything, mock.Anything).Return(nil)

	opts := RunnerOpts{
		NormalizeOpts: func(ownerID string) []NormalizeOption {
			if ownerID != "owner-1" {
				return nil
			}
			return []NormalizeOption{WithInsertedItemColumn("own_code", "1234", 0)}
		},
	}
	r := newTestRunner(mc, profiles, orders, config.ApprovalConfig{}, opts)
	order, err := r.Run(context.Background(), RunInput{
		OwnerID:      "owner-1",
		Document:     []byte("order text"),
		DocumentName: "order.txt",
	})
	require.NoError(t, err)

	assert.Contains(t, order.Normalized, "client_code;own_code;quantity")
}

func TestRunner_CreateOrderFailure(t *testing.T) {
	t.Parallel()

	mc := new(mockAnthropicClient)
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(matchTranscribe)).Return(textResponse("# Order"), nil)
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(matchSelect)).Return(textResponse(`{"client_number": 0}`), nil)
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(matchExtract)).Return(textResponse(validExtraction), nil)

	profiles := new(mockProfileSource)
	registered := registeredProfiles()
	registered[0].Schema = extractionProfile().Schema
	profiles.On("ListByOwner", mock.Anything, "owner-1").Return(registered, nil)
	profiles.On("MarkUsed", mock.Anything, "p-0").Return(nil)

	orders := new(mockOrderCreator)
	orders.On("CreateOrder", mock.Anything, mock.Anything).Return(errors.New("store down"))

	r := newTestRunner(mc, profiles, orders, config.ApprovalConfig{}, RunnerOpts{})
	_, err := r.Run(context.Background(), RunInput{
		OwnerID:      "owner-1",
		Document:     []byte("order text"),
		DocumentName: "order.txt",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist order")
}
