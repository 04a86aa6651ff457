// Package bridge is the standalone reconciliation process between the
// intake order API and the ERP system: it polls approved orders, submits
// each to the deployment-supplied integrator, and reports the outcome.
package bridge

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ammonit/intake/internal/config"
	"github.com/ammonit/intake/internal/model"
	"github.com/ammonit/intake/internal/order"
	"github.com/ammonit/intake/pkg/orderapi"
)

// Bridge runs the polling loop against the order API.
type Bridge struct {
	client     orderapi.Client
	integrator order.Integrator
	cfg        config.BridgeConfig
}

// New creates a Bridge.
func New(client orderapi.Client, integrator order.Integrator, cfg config.BridgeConfig) *Bridge {
	return &Bridge{client: client, integrator: integrator, cfg: cfg}
}

// Run polls until ctx is cancelled. The outer loop authenticates and hands
// off to the inner poll loop; any auth or fetch failure logs, sleeps the
// configured backoff and starts the outer loop over. The process never
// exits on such failures.
func (b *Bridge) Run(ctx context.Context) error {
	zap.L().Info("bridge started",
		zap.Duration("interval", b.cfg.Interval()),
		zap.Duration("backoff", b.cfg.Backoff()),
	)

	for {
		err := b.session(ctx)
		if ctx.Err() != nil {
			zap.L().Info("bridge stopped")
			return ctx.Err()
		}
		zap.L().Error("bridge session failed, restarting", zap.Error(err))

		select {
		case <-ctx.Done():
			zap.L().Info("bridge stopped")
			return ctx.Err()
		case <-time.After(b.cfg.Backoff()):
		}
	}
}

// session authenticates once and polls until something breaks.
func (b *Bridge) session(ctx context.Context) error {
	if err := b.client.Authenticate(ctx); err != nil {
		return eris.Wrap(err, "bridge: authenticate")
	}
	zap.L().Info("bridge authenticated")

	ticker := time.NewTicker(b.cfg.Interval())
	defer ticker.Stop()

	for {
		if err := b.poll(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// poll fetches the approved orders and settles each one. An order whose
// outcome is recorded leaves the approved state server-side and is never
// listed, or submitted, again.
func (b *Bridge) poll(ctx context.Context) error {
	orders, err := b.client.ListOrders(ctx, model.OrderStateApproved)
	if err != nil {
		return eris.Wrap(err, "bridge: list approved orders")
	}

	for i := range orders {
		o := &orders[i]

		outcome := model.OrderStateIntegratedOK
		if err := b.integrator(ctx, o); err != nil {
			outcome = model.OrderStateIntegratedError
			zap.L().Warn("bridge: integration failed",
				zap.String("order_id", o.ID),
				zap.Error(err),
			)
		}

		// A failed report leaves the order approved; restarting the session
		// (fresh token) is the recovery path, and the order is retried then.
		if err := b.client.RecordOutcome(ctx, o.ID, outcome); err != nil {
			return eris.Wrap(err, "bridge: record outcome")
		}
		zap.L().Info("bridge: order settled",
			zap.String("order_id", o.ID),
			zap.String("outcome", string(outcome)),
		)
	}
	return nil
}
