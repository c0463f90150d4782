package chain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/nftpayments/internal/domain"
	"github.com/alanyoungcy/nftpayments/internal/notify"
)

const (
	maxResubscribeDelay = 60 * time.Second

	// alertAfter is the number of consecutive failed subscribe attempts
	// before the watcher raises an alert.
	alertAfter = 5
)

// Alerter raises operator alerts.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// SoldWatcher streams decoded Sold events from the settlement contract. A
// dropped subscription is re-established with exponential backoff; events
// emitted while disconnected are not replayed.
type SoldWatcher struct {
	filterer         ethereum.LogFilterer
	contract         *SettlementContract
	resubscribeDelay time.Duration
	alerter          Alerter
	logger           *slog.Logger
}

// NewSoldWatcher creates a SoldWatcher over filterer, which must support
// subscriptions.
func NewSoldWatcher(filterer ethereum.LogFilterer, contract *SettlementContract, resubscribeDelay time.Duration, logger *slog.Logger) *SoldWatcher {
	if resubscribeDelay <= 0 {
		resubscribeDelay = 2 * time.Second
	}
	return &SoldWatcher{
		filterer:         filterer,
		contract:         contract,
		resubscribeDelay: resubscribeDelay,
		logger:           logger.With(slog.String("component", "sold_watcher")),
	}
}

// WithAlerter raises notify.EventWatcherDown once per outage when the
// subscription cannot be re-established.
func (w *SoldWatcher) WithAlerter(a Alerter) *SoldWatcher {
	w.alerter = a
	return w
}

// Watch sends every Sold event to out until ctx is cancelled. It never
// returns because of a subscription error.
func (w *SoldWatcher) Watch(ctx context.Context, out chan<- domain.SoldEvent) error {
	query := ethereum.FilterQuery{
		Addresses: []common.Address{w.contract.Address()},
		Topics:    [][]common.Hash{{w.contract.SoldTopic()}},
	}

	delay := w.resubscribeDelay
	failures := 0
	for {
		logs := make(chan types.Log, 64)
		sub, err := w.filterer.SubscribeFilterLogs(ctx, query, logs)
		if err != nil {
			w.logger.Warn("subscribe failed",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", delay),
			)
			failures++
			if failures == alertAfter {
				w.alert(ctx, err)
			}
			if !sleepCtx(ctx, delay) {
				return ctx.Err()
			}
			delay = nextDelay(delay)
			continue
		}

		w.logger.Info("subscribed to Sold events", slog.String("contract", w.contract.Address().Hex()))
		delay = w.resubscribeDelay
		failures = 0

		if err := w.pump(ctx, sub, logs, out); err != nil {
			return err
		}
		if !sleepCtx(ctx, delay) {
			return ctx.Err()
		}
	}
}

// pump forwards logs until the subscription fails (nil) or ctx ends.
func (w *SoldWatcher) pump(ctx context.Context, sub ethereum.Subscription, logs <-chan types.Log, out chan<- domain.SoldEvent) error {
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-sub.Err():
			if err != nil {
				w.logger.Warn("subscription dropped", slog.String("error", err.Error()))
			}
			return nil

		case lg := <-logs:
			ev, err := w.contract.ParseSold(lg)
			if err != nil {
				w.logger.Error("undecodable Sold log",
					slog.String("tx_hash", lg.TxHash.Hex()),
					slog.String("error", err.Error()),
				)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (w *SoldWatcher) alert(ctx context.Context, err error) {
	if w.alerter == nil {
		return
	}
	msg := fmt.Sprintf("contract %s: %d subscribe attempts failed: %v", w.contract.Address().Hex(), alertAfter, err)
	if nerr := w.alerter.Notify(ctx, notify.EventWatcherDown, "Sold watcher down", msg); nerr != nil {
		w.logger.Warn("alert failed", slog.String("error", nerr.Error()))
	}
}

func nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > maxResubscribeDelay {
		d = maxResubscribeDelay
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
