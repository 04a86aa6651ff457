// Package order implements the order lifecycle: pending orders are approved,
// approved orders are handed to an ERP integrator exactly once, and the
// integration outcome is the order's final state.
package order

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ammonit/intake/internal/model"
	"github.com/ammonit/intake/internal/store"
)

// IllegalTransitionError reports an operation applied to an order whose
// current state does not allow it. The stored order is left untouched.
type IllegalTransitionError struct {
	OrderID string
	From    model.OrderState
	Op      string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("order %s: cannot %s from state %q", e.OrderID, e.Op, e.From)
}

// Integrator submits one approved order to the ERP system. A nil return
// means the order was accepted; any error means it was rejected.
type Integrator func(ctx context.Context, order *model.Order) error

// Service runs order state transitions against the store.
type Service struct {
	store store.Store

	// integrator, when set, runs inline during Approve and its outcome is
	// recorded before Approve returns. When nil, approved orders wait for
	// the bridge to pick them up.
	integrator Integrator
}

// NewService creates an order Service. integrator may be nil.
func NewService(st store.Store, integrator Integrator) *Service {
	return &Service{store: st, integrator: integrator}
}

// Approve moves a pending order to approved, stamping ApprovedAt. If an
// inline integrator is configured it runs synchronously and the mapped
// outcome (nil error → integrated_ok, error → integrated_error) is recorded
// before returning; the integrator's own error is not propagated.
func (s *Service) Approve(ctx context.Context, orderID string) (*model.Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.State != model.OrderStatePending {
		return nil, &IllegalTransitionError{OrderID: orderID, From: o.State, Op: "approve"}
	}

	now := time.Now().UTC()
	o.SetState(model.OrderStateApproved, now)
	o.ApprovedAt = &now
	if err := s.store.UpdateOrderState(ctx, o); err != nil {
		return nil, eris.Wrap(err, "order: persist approval")
	}
	zap.L().Info("order approved", zap.String("order_id", orderID))

	if s.integrator == nil {
		return o, nil
	}

	outcome := model.OrderStateIntegratedOK
	if err := s.integrator(ctx, o); err != nil {
		outcome = model.OrderStateIntegratedError
		zap.L().Warn("order: inline integration failed",
			zap.String("order_id", orderID),
			zap.Error(err),
		)
	}
	return s.RecordIntegrationOutcome(ctx, orderID, outcome)
}

// RecordIntegrationOutcome moves an approved order to its final state,
// stamping IntegratedAt. Legal only from approved: terminal orders are
// never re-submitted and their outcome never rewritten.
func (s *Service) RecordIntegrationOutcome(ctx context.Context, orderID string, outcome model.IntegrationOutcome) (*model.Order, error) {
	if outcome != model.OrderStateIntegratedOK && outcome != model.OrderStateIntegratedError {
		return nil, eris.Errorf("order: invalid integration outcome %q", outcome)
	}

	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.State != model.OrderStateApproved {
		return nil, &IllegalTransitionError{OrderID: orderID, From: o.State, Op: "record integration outcome"}
	}

	now := time.Now().UTC()
	o.SetState(outcome, now)
	o.IntegratedAt = &now
	if err := s.store.UpdateOrderState(ctx, o); err != nil {
		return nil, eris.Wrap(err, "order: persist integration outcome")
	}
	zap.L().Info("order integration recorded",
		zap.String("order_id", orderID),
		zap.String("outcome", string(outcome)),
	)
	return o, nil
}

// Get returns one order by id.
func (s *Service) Get(ctx context.Context, orderID string) (*model.Order, error) {
	return s.store.GetOrder(ctx, orderID)
}

// ListByState returns orders in the given state, oldest first.
func (s *Service) ListByState(ctx context.Context, state model.OrderState, limit int) ([]model.Order, error) {
	return s.store.ListOrders(ctx, store.OrderFilter{State: state, Limit: limit})
}
