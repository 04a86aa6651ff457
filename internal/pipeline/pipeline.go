package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ammonit/intake/internal/config"
	"github.com/ammonit/intake/internal/model"
)

// ProfileSource is the slice of the client registry the pipeline needs.
type ProfileSource interface {
	ListByOwner(ctx context.Context, ownerID string) ([]model.ClientProfile, error)
	CreateProvisional(ctx context.Context, profile model.ClientProfile) (model.ClientProfile, error)
	MarkUsed(ctx context.Context, profileID string) error
}

// OrderCreator persists newly extracted orders.
type OrderCreator interface {
	CreateOrder(ctx context.Context, order *model.Order) error
}

// Approver runs the approval transition for auto-approved owners.
type Approver interface {
	Approve(ctx context.Context, orderID string) (*model.Order, error)
}

// RunInput is one document to push through the pipeline.
type RunInput struct {
	OwnerID      string
	Document     []byte
	DocumentName string
	AccountID    string // originating mailbox, empty for direct uploads
	MessageID    string // originating provider message id, empty for direct uploads
}

// Runner wires the intake stages: preprocess, transcribe, classify,
// extract, normalize, persist. One call handles exactly one document and
// produces at most one order.
type Runner struct {
	transcriber *Transcriber
	classifier  *Classifier
	extractor   *Extractor
	profiles    ProfileSource
	orders      OrderCreator
	approver    Approver
	approval    config.ApprovalConfig
	markers     []string

	// normalizeOpts resolves per-owner normalization options (inserted ERP
	// item columns). Nil means no extra columns for anyone.
	normalizeOpts func(ownerID string) []NormalizeOption
}

// RunnerOpts configures optional Runner behavior.
type RunnerOpts struct {
	Approver      Approver
	NormalizeOpts func(ownerID string) []NormalizeOption
}

// NewRunner creates a pipeline Runner.
func NewRunner(
	transcriber *Transcriber,
	classifier *Classifier,
	extractor *Extractor,
	profiles ProfileSource,
	orders OrderCreator,
	pipeCfg config.PipelineConfig,
	approvalCfg config.ApprovalConfig,
	opts RunnerOpts,
) *Runner {
	return &Runner{
		transcriber:   transcriber,
		classifier:    classifier,
		extractor:     extractor,
		profiles:      profiles,
		orders:        orders,
		approver:      opts.Approver,
		approval:      approvalCfg,
		markers:       pipeCfg.BoundaryMarkers,
		normalizeOpts: opts.NormalizeOpts,
	}
}

// NormalizeOptsFromConfig resolves the configured per-owner inserted-column
// table into the Runner's option resolver. Returns nil when no owner has
// columns configured.
func NormalizeOptsFromConfig(cfg config.PipelineConfig) func(ownerID string) []NormalizeOption {
	if len(cfg.OwnerColumns) == 0 {
		return nil
	}
	return func(ownerID string) []NormalizeOption {
		cols := cfg.OwnerColumns[ownerID]
		opts := make([]NormalizeOption, 0, len(cols))
		for _, col := range cols {
			opts = append(opts, WithInsertedItemColumn(col.Name, col.Value, col.AfterIdx))
		}
		return opts
	}
}

// Run pushes one document through every stage and persists the resulting
// order in state pending. If the owner's policy is auto-approve and an
// approver is configured, the approval transition (including inline ERP
// integration) runs synchronously before returning.
func (r *Runner) Run(ctx context.Context, in RunInput) (*model.Order, error) {
	log := zap.L().With(
		zap.String("owner_id", in.OwnerID),
		zap.String("document", in.DocumentName),
	)

	if len(in.Document) == 0 {
		return nil, eris.New("pipeline: empty document")
	}
	if in.DocumentName == "" {
		return nil, eris.New("pipeline: document name required")
	}

	profiles, err := r.profiles.ListByOwner(ctx, in.OwnerID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: list profiles")
	}

	document := Preprocess(in.Document, in.DocumentName, r.markers)

	transcript, err := r.transcriber.Transcribe(ctx, document, in.DocumentName)
	if err != nil {
		return nil, err
	}

	profile, err := r.classifier.Classify(ctx, transcript, profiles)
	if err != nil {
		if unknown, ok := eris.Cause(err).(*UnknownClientError); ok {
			unknown.DocumentName = in.DocumentName
		}
		return nil, err
	}

	// A bootstrapped profile has no identity yet; persist it so the order
	// has an owner and the profile can be confirmed later.
	if profile.ID == "" || profile.Bootstrap() {
		profile, err = r.profiles.CreateProvisional(ctx, profile)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: create provisional profile")
		}
	}

	record, err := r.extractor.Extract(ctx, transcript, profile)
	if err != nil {
		return nil, err
	}

	// First successful extraction locks the schema.
	if err := r.profiles.MarkUsed(ctx, profile.ID); err != nil {
		return nil, eris.Wrap(err, "pipeline: mark profile used")
	}

	var opts []NormalizeOption
	if r.normalizeOpts != nil {
		opts = r.normalizeOpts(in.OwnerID)
	}
	normalized, err := Normalize(record, profile.Schema, opts...)
	if err != nil {
		return nil, err
	}

	order := &model.Order{
		ID:           uuid.New().String(),
		ProfileID:    profile.ID,
		AccountID:    in.AccountID,
		MessageID:    in.MessageID,
		DocumentName: in.DocumentName,
		Document:     in.Document,
		Transcript:   transcript,
		Record:       record,
		Normalized:   normalized,
		CreatedAt:    time.Now().UTC(),
	}
	order.SetState(model.OrderStatePending, order.CreatedAt)

	if err := r.orders.CreateOrder(ctx, order); err != nil {
		return nil, eris.Wrap(err, "pipeline: persist order")
	}
	log.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("profile", profile.Name),
		zap.String("state", string(order.State)),
	)

	if r.approver != nil && r.approval.Policy(in.OwnerID) {
		approved, err := r.approver.Approve(ctx, order.ID)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: auto-approve")
		}
		order = approved
	}

	return order, nil
}
