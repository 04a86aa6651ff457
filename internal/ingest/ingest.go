// Package ingest polls connected mailboxes and feeds their documents to the
// intake pipeline, with an append-only ledger guaranteeing each message is
// processed at most once per account.
package ingest

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ammonit/intake/internal/config"
	"github.com/ammonit/intake/internal/model"
	"github.com/ammonit/intake/internal/pipeline"
	"github.com/ammonit/intake/internal/store"
	"github.com/ammonit/intake/pkg/graphmail"
)

// DocumentRunner is the pipeline entry point the ingester feeds.
type DocumentRunner interface {
	Run(ctx context.Context, in pipeline.RunInput) (*model.Order, error)
}

// AccountSessionRegistry holds the per-account Graph sessions. It is built
// once at startup and handed by reference to each cycle; accounts without a
// session (not yet connected) are skipped, not errored.
type AccountSessionRegistry struct {
	sessions map[string]graphmail.Client
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *AccountSessionRegistry {
	return &AccountSessionRegistry{sessions: make(map[string]graphmail.Client)}
}

// Register binds a Graph client to an account id.
func (r *AccountSessionRegistry) Register(accountID string, client graphmail.Client) {
	r.sessions[accountID] = client
}

// Get returns the account's session, if connected.
func (r *AccountSessionRegistry) Get(accountID string) (graphmail.Client, bool) {
	c, ok := r.sessions[accountID]
	return c, ok
}

// Ingester drives the polling loop: one cycle per active account per tick,
// account cycles concurrent, messages within a cycle strictly sequential.
type Ingester struct {
	store    store.Store
	runner   DocumentRunner
	sessions *AccountSessionRegistry
	rules    map[string]model.FilterRule
	cfg      config.IngestConfig
}

// NewIngester creates an Ingester. rules maps account id to its filter rule;
// accounts without an entry use model.DefaultFilterRule.
func NewIngester(st store.Store, runner DocumentRunner, sessions *AccountSessionRegistry, rules map[string]model.FilterRule, cfg config.IngestConfig) *Ingester {
	if rules == nil {
		rules = make(map[string]model.FilterRule)
	}
	return &Ingester{
		store:    st,
		runner:   runner,
		sessions: sessions,
		rules:    rules,
		cfg:      cfg,
	}
}

// Run polls until ctx is cancelled. Cycle failures are logged and absorbed;
// only cancellation stops the loop.
func (i *Ingester) Run(ctx context.Context) error {
	zap.L().Info("ingester started",
		zap.Duration("interval", i.cfg.Interval()),
		zap.Int("fetch_limit", i.cfg.FetchLimit),
	)

	ticker := time.NewTicker(i.cfg.Interval())
	defer ticker.Stop()

	for {
		if err := i.tick(ctx); err != nil {
			zap.L().Error("ingest tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			zap.L().Info("ingester stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// tick runs one cycle for every active account, concurrently.
func (i *Ingester) tick(ctx context.Context) error {
	accounts, err := i.store.ListActiveAccounts(ctx)
	if err != nil {
		return eris.Wrap(err, "ingest: list active accounts")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, account := range accounts {
		g.Go(func() error {
			i.RunCycle(gctx, account)
			return nil
		})
	}
	return g.Wait()
}

// RunCycle processes one account's inbox once. Every failure inside the
// cycle is contained: a broken message never aborts its siblings and a
// broken account never aborts the loop.
func (i *Ingester) RunCycle(ctx context.Context, account model.EmailAccount) {
	log := zap.L().With(
		zap.String("account_id", account.ID),
		zap.String("address", account.Address),
	)

	client, ok := i.sessions.Get(account.ID)
	if !ok {
		log.Warn("ingest: account has no session, skipping")
		return
	}

	summaries, err := client.ListMessages(ctx, i.cfg.FetchLimit)
	if err != nil {
		log.Error("ingest: list messages failed", zap.Error(err))
		return
	}

	for _, summary := range summaries {
		seen, err := i.store.SeenMessage(ctx, account.ID, summary.ID)
		if err != nil {
			log.Error("ingest: ledger check failed", zap.String("message_id", summary.ID), zap.Error(err))
			continue
		}
		if seen {
			continue
		}
		i.processMessage(ctx, log, client, account, summary.ID)
	}
}

// processMessage handles one unseen message end to end and writes exactly
// one ledger row. A message whose fetch failed gets no row and will be
// picked up again next cycle.
func (i *Ingester) processMessage(ctx context.Context, log *zap.Logger, client graphmail.Client, account model.EmailAccount, messageID string) {
	msg, err := client.GetMessage(ctx, messageID)
	if err != nil {
		log.Error("ingest: fetch message failed", zap.String("message_id", messageID), zap.Error(err))
		return
	}

	outcome := model.MessageOutcomeOK

	if account.OrdersActive {
		rule, ok := i.rules[account.ID]
		if !ok {
			rule = model.DefaultFilterRule()
		}
		candidates := SelectCandidates(rule, msg)
		log.Info("ingest: processing message",
			zap.String("message_id", messageID),
			zap.String("from", msg.From),
			zap.Int("candidates", len(candidates)),
		)

		for _, candidate := range candidates {
			_, err := i.runner.Run(ctx, pipeline.RunInput{
				OwnerID:      account.ID,
				Document:     candidate.Content,
				DocumentName: candidate.Name,
				AccountID:    account.ID,
				MessageID:    messageID,
			})
			if err != nil {
				outcome = model.MessageOutcomeError
				log.Warn("ingest: document failed",
					zap.String("message_id", messageID),
					zap.String("document", candidate.Name),
					zap.Error(err),
				)
			}
		}
	}

	if account.OffersActive {
		// Offer extraction is not implemented; the message still consumes
		// its ledger slot so it is never reprocessed once it is.
		log.Info("ingest: offers flow skipped", zap.String("message_id", messageID))
	}

	inserted, err := i.store.InsertProcessedMessage(ctx, model.ProcessedMessage{
		AccountID: account.ID,
		MessageID: messageID,
		Outcome:   outcome,
	})
	if err != nil {
		log.Error("ingest: ledger write failed", zap.String("message_id", messageID), zap.Error(err))
		return
	}
	if !inserted {
		log.Warn("ingest: message was processed concurrently", zap.String("message_id", messageID))
	}
}
