package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/alanyoungcy/nftpayments/internal/domain"
	"github.com/alanyoungcy/nftpayments/internal/metrics"
	"github.com/alanyoungcy/nftpayments/internal/notify"
)

// Reconciler steps, used as metric labels and in audit entries.
const (
	StepInsertSale    = "insert_sale"
	StepDeleteListing = "delete_listing"
	StepUpdateOwner   = "update_owner"
)

// Alerter raises operator alerts.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// RetryPolicy bounds the retries of the reconciler's side effects.
type RetryPolicy struct {
	Attempts int // retries after the first try
	Initial  time.Duration
	Max      time.Duration
}

// DefaultRetryPolicy is used when NewReconciler is given a zero policy.
var DefaultRetryPolicy = RetryPolicy{Attempts: 5, Initial: 500 * time.Millisecond, Max: 10 * time.Second}

// Reconciler applies observed Sold events to off-chain state: it records the
// sale, removes the listing for the asset and moves ownership in the
// registry. Events are handled at least once and never deduplicated.
type Reconciler struct {
	sales     domain.SaleStore
	listings  domain.ListingStore
	registry  domain.OwnershipRegistry
	audit     domain.AuditStore
	bus       domain.SignalBus
	publisher domain.SalePublisher
	alerter   Alerter
	metrics   *metrics.Metrics
	retry     RetryPolicy
	logger    *slog.Logger

	wg sync.WaitGroup
}

// NewReconciler creates a Reconciler.
func NewReconciler(
	sales domain.SaleStore,
	listings domain.ListingStore,
	registry domain.OwnershipRegistry,
	audit domain.AuditStore,
	retry RetryPolicy,
	logger *slog.Logger,
) *Reconciler {
	if retry == (RetryPolicy{}) {
		retry = DefaultRetryPolicy
	}
	return &Reconciler{
		sales:    sales,
		listings: listings,
		registry: registry,
		audit:    audit,
		retry:    retry,
		logger:   logger.With(slog.String("component", "reconciler")),
	}
}

// WithSignalBus publishes every handled sale on the bus.
func (r *Reconciler) WithSignalBus(bus domain.SignalBus) *Reconciler {
	r.bus = bus
	return r
}

// WithPublisher forwards every handled sale to p.
func (r *Reconciler) WithPublisher(p domain.SalePublisher) *Reconciler {
	r.publisher = p
	return r
}

// WithAlerter raises an alert when a side effect gives up.
func (r *Reconciler) WithAlerter(a Alerter) *Reconciler {
	r.alerter = a
	return r
}

// WithMetrics attaches Prometheus collectors.
func (r *Reconciler) WithMetrics(m *metrics.Metrics) *Reconciler {
	r.metrics = m
	return r
}

// Run handles events until ctx is cancelled or events is closed. Each event
// gets its own goroutine; handler failures are logged and never stop the
// loop. On cancel, events already buffered in the channel are still handled.
// In-flight handlers are allowed to finish before Run returns.
func (r *Reconciler) Run(ctx context.Context, events <-chan domain.SoldEvent) error {
	r.logger.Info("reconciler started")
	defer r.wg.Wait()

	handleCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			n := r.drain(handleCtx, events)
			r.logger.Info("reconciler stopping", slog.Int("drained", n))
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.dispatch(handleCtx, ev)
		}
	}
}

// drain dispatches the events already queued in events without waiting for
// more.
func (r *Reconciler) drain(ctx context.Context, events <-chan domain.SoldEvent) int {
	n := 0
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return n
			}
			r.dispatch(ctx, ev)
			n++
		default:
			return n
		}
	}
}

func (r *Reconciler) dispatch(ctx context.Context, ev domain.SoldEvent) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.HandleSold(ctx, ev); err != nil {
			r.logger.Error("sold event incompletely reconciled",
				slog.String("tx_hash", ev.TxHash),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// HandleSold reconciles one Sold event. The listing delete and owner update
// run even if the sale insert failed; the returned error joins the failures.
func (r *Reconciler) HandleSold(ctx context.Context, ev domain.SoldEvent) error {
	if ev.TokenID == nil || ev.Amount == nil {
		return fmt.Errorf("reconciler: malformed sold event in tx %s", ev.TxHash)
	}
	assetID := ev.TokenID.String()
	logger := r.logger.With(
		slog.String("asset_id", assetID),
		slog.String("tx_hash", ev.TxHash),
		slog.Uint64("log_index", uint64(ev.LogIndex)),
	)
	if ev.Removed {
		logger.Warn("sold log removed by reorg, ignoring")
		return nil
	}

	var errs []error

	sale, err := r.sales.Insert(ctx, ev.Sale())
	if err != nil {
		logger.Error("insert sale failed", slog.String("error", err.Error()))
		r.metrics.IncReconcileFailure(StepInsertSale)
		errs = append(errs, fmt.Errorf("%s: %w", StepInsertSale, err))
	}
	saved := err == nil

	if err := r.withRetry(ctx, logger, StepDeleteListing, func() error {
		_, err := r.listings.DeleteByAssetID(ctx, assetID)
		return err
	}); err != nil {
		r.sideEffectFailed(ctx, logger, StepDeleteListing, ev, err)
		errs = append(errs, fmt.Errorf("%s: %w", StepDeleteListing, err))
	}

	if err := r.withRetry(ctx, logger, StepUpdateOwner, func() error {
		return r.registry.UpdateOwner(ctx, assetID, ev.To)
	}); err != nil {
		r.sideEffectFailed(ctx, logger, StepUpdateOwner, ev, err)
		errs = append(errs, fmt.Errorf("%s: %w", StepUpdateOwner, err))
	}

	// Only a persisted sale is announced.
	if saved {
		r.metrics.IncSaleReconciled()
		r.record(ctx, logger, sale)
		r.publish(ctx, logger, sale)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	logger.Info("sale reconciled",
		slog.String("buyer", ev.To),
		slog.String("price", ev.Amount.String()),
	)
	return nil
}

// withRetry runs op with bounded exponential backoff.
func (r *Reconciler) withRetry(ctx context.Context, logger *slog.Logger, step string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.retry.Initial
	if r.retry.Max > 0 {
		b.MaxInterval = r.retry.Max
	}
	b.MaxElapsedTime = 0

	attempts := r.retry.Attempts
	if attempts < 0 {
		attempts = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts)), ctx)

	return backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		logger.Warn("reconcile step failed, retrying",
			slog.String("step", step),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	})
}

func (r *Reconciler) sideEffectFailed(ctx context.Context, logger *slog.Logger, step string, ev domain.SoldEvent, err error) {
	logger.Error("reconcile step gave up",
		slog.String("step", step),
		slog.String("error", err.Error()),
	)
	r.metrics.IncReconcileFailure(step)

	if r.audit != nil {
		if aerr := r.audit.Log(ctx, domain.AuditReconcileSideEffectErr, map[string]any{
			"step":     step,
			"asset_id": ev.TokenID.String(),
			"buyer":    ev.To,
			"tx_hash":  ev.TxHash,
			"error":    err.Error(),
		}); aerr != nil {
			logger.Warn("audit log failed", slog.String("error", aerr.Error()))
		}
	}
	if r.alerter != nil {
		msg := fmt.Sprintf("step %s for asset %s (tx %s): %v", step, ev.TokenID, ev.TxHash, err)
		if aerr := r.alerter.Notify(ctx, notify.EventReconcileFailed, "Sale reconciliation failed", msg); aerr != nil {
			logger.Warn("alert failed", slog.String("error", aerr.Error()))
		}
	}
}

func (r *Reconciler) record(ctx context.Context, logger *slog.Logger, sale domain.Sale) {
	if r.audit == nil {
		return
	}
	ev := sale.Event()
	if err := r.audit.Log(ctx, domain.AuditSaleReconciled, map[string]any{
		"sale_id":  ev.SaleID,
		"asset_id": ev.AssetID,
		"price":    ev.Price,
		"seller":   ev.Seller,
		"buyer":    ev.Buyer,
		"tx_hash":  ev.TxHash,
	}); err != nil {
		logger.Warn("audit log failed", slog.String("error", err.Error()))
	}
}

// publish fans the sale out to live subscribers. Failures are logged only.
func (r *Reconciler) publish(ctx context.Context, logger *slog.Logger, sale domain.Sale) {
	if r.bus != nil {
		payload, err := json.Marshal(sale.Event())
		if err != nil {
			logger.Warn("marshal sale event failed", slog.String("error", err.Error()))
		} else {
			if err := r.bus.Publish(ctx, domain.ChannelSales, payload); err != nil {
				logger.Warn("publish sale failed", slog.String("error", err.Error()))
			}
			if err := r.bus.StreamAppend(ctx, domain.StreamSales, payload); err != nil {
				logger.Warn("append sale stream failed", slog.String("error", err.Error()))
			}
		}
	}
	if r.publisher != nil {
		if err := r.publisher.PublishSale(ctx, sale); err != nil {
			logger.Warn("forward sale failed", slog.String("error", err.Error()))
		}
	}
}
