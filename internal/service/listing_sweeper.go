package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/nftpayments/internal/domain"
	"github.com/alanyoungcy/nftpayments/internal/metrics"
)

// ListingSweeper periodically deletes expired listings. Reads already treat
// expired rows as absent; the sweep only reclaims them.
type ListingSweeper struct {
	listings domain.ListingStore
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewListingSweeper creates a sweeper running every interval.
func NewListingSweeper(listings domain.ListingStore, interval time.Duration, m *metrics.Metrics, logger *slog.Logger) *ListingSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ListingSweeper{
		listings: listings,
		interval: interval,
		metrics:  m,
		logger:   logger.With(slog.String("component", "listing_sweeper")),
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *ListingSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep deletes every listing expired as of now.
func (s *ListingSweeper) Sweep(ctx context.Context) (int64, error) {
	n, err := s.listings.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.metrics.AddListingsExpired(n)
		s.logger.Info("expired listings removed", slog.Int64("count", n))
	}
	return n, nil
}
