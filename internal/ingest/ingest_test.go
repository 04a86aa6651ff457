package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ammonit/intake/internal/config"
	"github.com/ammonit/intake/internal/model"
	"github.com/ammonit/intake/internal/pipeline"
	"github.com/ammonit/intake/internal/store"
	"github.com/ammonit/intake/pkg/graphmail"
)

func newIngestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedAccount(t *testing.T, st store.Store) model.EmailAccount {
	t.Helper()
	account, err := st.CreateAccount(context.Background(), model.EmailAccount{
		Address:      "orders@example.com",
		OrdersActive: true,
	})
	require.NoError(t, err)
	return *account
}

func ingestCfg() config.IngestConfig {
	return config.IngestConfig{IntervalSecs: 300, FetchLimit: 50}
}

func pdfMessage(id string) *graphmail.Message {
	return &graphmail.Message{
		ID:       id,
		Subject:  "Order",
		From:     "buyer@danobat.example",
		BodyText: "see attached",
		Attachments: []graphmail.Attachment{
			{Name: "order.pdf", ContentType: "application/pdf", Content: []byte("%PDF-1.4")},
		},
	}
}

func TestRunCycle_ProcessesNewMessage(t *testing.T) {
	st := newIngestStore(t)
	account := seedAccount(t, st)
	ctx := context.Background()

	gc := new(mockGraphClient)
	gc.On("ListMessages", mock.Anything, 50).Return([]graphmail.MessageSummary{{ID: "msg-1"}}, nil)
	gc.On("GetMessage", mock.Anything, "msg-1").Return(pdfMessage("msg-1"), nil)

	runner := new(mockRunner)
	runner.On("Run", mock.Anything, mock.MatchedBy(func(in pipeline.RunInput) bool {
		return in.OwnerID == account.ID &&
			in.AccountID == account.ID &&
			in.MessageID == "msg-1" &&
			in.DocumentName == "order.pdf"
	})).Return(&model.Order{ID: "order-1"}, nil)

	sessions := NewSessionRegistry()
	sessions.Register(account.ID, gc)

	ing := NewIngester(st, runner, sessions, nil, ingestCfg())
	ing.RunCycle(ctx, account)

	runner.AssertExpectations(t)
	gc.AssertExpectations(t)

	seen, err := st.SeenMessage(ctx, account.ID, "msg-1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestRunCycle_SkipsSeenMessages(t *testing.T) {
	st := newIngestStore(t)
	account := seedAccount(t, st)
	ctx := context.Background()

	_, err := st.InsertProcessedMessage(ctx, model.ProcessedMessage{
		AccountID: account.ID, MessageID: "msg-1", Outcome: model.MessageOutcomeOK,
	})
	require.NoError(t, err)

	gc := new(mockGraphClient)
	gc.On("ListMessages", mock.Anything, 50).Return([]graphmail.MessageSummary{{ID: "msg-1"}}, nil)

	runner := new(mockRunner)

	sessions := NewSessionRegistry()
	sessions.Register(account.ID, gc)

	ing := NewIngester(st, runner, sessions, nil, ingestCfg())
	ing.RunCycle(ctx, account)

	gc.AssertNotCalled(t, "GetMessage", mock.Anything, mock.Anything)
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestRunCycle_DocumentFailureDoesNotAbortSiblings(t *testing.T) {
	st := newIngestStore(t)
	account := seedAccount(t, st)
	ctx := context.Background()

	msg := pdfMessage("msg-1")
	msg.Attachments = append(msg.Attachments, graphmail.Attachment{
		Name: "order2.pdf", ContentType: "application/pdf", Content: []byte("%PDF-2"),
	})

	gc := new(mockGraphClient)
	gc.On("ListMessages", mock.Anything, 50).Return([]graphmail.MessageSummary{{ID: "msg-1"}}, nil)
	gc.On("GetMessage", mock.Anything, "msg-1").Return(msg, nil)

	runner := new(mockRunner)
	runner.On("Run", mock.Anything, mock.MatchedBy(func(in pipeline.RunInput) bool {
		return in.DocumentName == "order.pdf"
	})).Return(nil, errors.New("unknown client"))
	runner.On("Run", mock.Anything, mock.MatchedBy(func(in pipeline.RunInput) bool {
		return in.DocumentName == "order2.pdf"
	})).Return(&model.Order{ID: "order-2"}, nil)

	sessions := NewSessionRegistry()
	sessions.Register(account.ID, gc)

	ing := NewIngester(st, runner, sessions, nil, ingestCfg())
	ing.RunCycle(ctx, account)

	// Both candidates ran, and the single ledger row carries the error outcome.
	runner.AssertExpectations(t)

	seen, err := st.SeenMessage(ctx, account.ID, "msg-1")
	require.NoError(t, err)
	assert.True(t, seen)

	inserted, err := st.InsertProcessedMessage(ctx, model.ProcessedMessage{
		AccountID: account.ID, MessageID: "msg-1", Outcome: model.MessageOutcomeOK,
	})
	require.NoError(t, err)
	assert.False(t, inserted) // exactly one row exists
}

func TestRunCycle_ZeroCandidatesStillLedgered(t *testing.T) {
	st := newIngestStore(t)
	account := seedAccount(t, st)
	ctx := context.Background()

	msg := &graphmail.Message{ID: "msg-1", Subject: "newsletter", BodyText: "hello"}

	gc := new(mockGraphClient)
	gc.On("ListMessages", mock.Anything, 50).Return([]graphmail.MessageSummary{{ID: "msg-1"}}, nil)
	gc.On("GetMessage", mock.Anything, "msg-1").Return(msg, nil)

	runner := new(mockRunner)

	sessions := NewSessionRegistry()
	sessions.Register(account.ID, gc)

	ing := NewIngester(st, runner, sessions, nil, ingestCfg())
	ing.RunCycle(ctx, account)

	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)

	seen, err := st.SeenMessage(ctx, account.ID, "msg-1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestRunCycle_FetchFailureLeavesNoLedgerRow(t *testing.T) {
	st := newIngestStore(t)
	account := seedAccount(t, st)
	ctx := context.Background()

	gc := new(mockGraphClient)
	gc.On("ListMessages", mock.Anything, 50).Return([]graphmail.MessageSummary{{ID: "msg-1"}}, nil)
	gc.On("GetMessage", mock.Anything, "msg-1").Return(nil, errors.New("network down"))

	sessions := NewSessionRegistry()
	sessions.Register(account.ID, gc)

	ing := NewIngester(st, new(mockRunner), sessions, nil, ingestCfg())
	ing.RunCycle(ctx, account)

	// The message stays unclaimed and will be retried next cycle.
	seen, err := st.SeenMessage(ctx, account.ID, "msg-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRunCycle_AccountWithoutSessionSkipped(t *testing.T) {
	st := newIngestStore(t)
	account := seedAccount(t, st)

	ing := NewIngester(st, new(mockRunner), NewSessionRegistry(), nil, ingestCfg())
	ing.RunCycle(context.Background(), account) // no panic, no ledger writes

	seen, err := st.SeenMessage(context.Background(), account.ID, "msg-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRunCycle_CustomRulePerAccount(t *testing.T) {
	st := newIngestStore(t)
	account := seedAccount(t, st)
	ctx := context.Background()

	msg := pdfMessage("msg-1")
	msg.Attachments = append(msg.Attachments, graphmail.Attachment{
		Name: "terms.txt", Content: []byte("text"),
	})

	gc := new(mockGraphClient)
	gc.On("ListMessages", mock.Anything, 50).Return([]graphmail.MessageSummary{{ID: "msg-1"}}, nil)
	gc.On("GetMessage", mock.Anything, "msg-1").Return(msg, nil)

	runner := new(mockRunner)
	runner.On("Run", mock.Anything, mock.MatchedBy(func(in pipeline.RunInput) bool {
		return in.DocumentName == "terms.txt"
	})).Return(&model.Order{ID: "order-1"}, nil)

	sessions := NewSessionRegistry()
	sessions.Register(account.ID, gc)

	rules := map[string]model.FilterRule{
		account.ID: {Kind: model.FilterByAttachmentExtension, Extensions: []string{".txt"}},
	}
	ing := NewIngester(st, runner, sessions, rules, ingestCfg())
	ing.RunCycle(ctx, account)

	runner.AssertExpectations(t)
	runner.AssertNumberOfCalls(t, "Run", 1)
}

func TestTick_CyclesAllActiveAccounts(t *testing.T) {
	st := newIngestStore(t)
	ctx := context.Background()

	first := seedAccount(t, st)
	second, err := st.CreateAccount(ctx, model.EmailAccount{
		Address:      "offers@example.com",
		OrdersActive: true,
	})
	require.NoError(t, err)

	gc1 := new(mockGraphClient)
	gc1.On("ListMessages", mock.Anything, 50).Return([]graphmail.MessageSummary{}, nil)
	gc2 := new(mockGraphClient)
	gc2.On("ListMessages", mock.Anything, 50).Return([]graphmail.MessageSummary{}, nil)

	sessions := NewSessionRegistry()
	sessions.Register(first.ID, gc1)
	sessions.Register(second.ID, gc2)

	ing := NewIngester(st, new(mockRunner), sessions, nil, ingestCfg())
	require.NoError(t, ing.tick(ctx))

	gc1.AssertExpectations(t)
	gc2.AssertExpectations(t)
}
