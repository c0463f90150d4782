package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/nftpayments/internal/domain"
	"github.com/alanyoungcy/nftpayments/internal/metrics"
	"github.com/alanyoungcy/nftpayments/internal/notify"
)

// exportCursor names the checkpoint holding the last exported sale id.
const exportCursor = "sale_export"

// defaultSettleLag is how old a sale must be before it is exported.
const defaultSettleLag = time.Minute

// SaleExporter copies the sale ledger to object storage as JSONL batches.
// Each batch file is named after the sale id range it holds, so a batch
// re-run after a crash finds its file and only advances the cursor. Sales
// younger than the settle lag wait for a later run: the cursor only moves
// past ids whose inserts have had time to commit.
type SaleExporter struct {
	sales     domain.SaleStore
	cursors   domain.CursorStore
	writer    domain.BlobWriter
	reader    domain.BlobReader
	prefix    string
	batchSize int
	interval  time.Duration
	settleLag time.Duration
	alerter   Alerter
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewSaleExporter creates a SaleExporter writing under prefix.
func NewSaleExporter(
	sales domain.SaleStore,
	cursors domain.CursorStore,
	writer domain.BlobWriter,
	reader domain.BlobReader,
	prefix string,
	batchSize int,
	interval time.Duration,
	logger *slog.Logger,
) *SaleExporter {
	if batchSize <= 0 {
		batchSize = 1000
	}
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &SaleExporter{
		sales:     sales,
		cursors:   cursors,
		writer:    writer,
		reader:    reader,
		prefix:    strings.Trim(prefix, "/"),
		batchSize: batchSize,
		interval:  interval,
		settleLag: defaultSettleLag,
		logger:    logger.With(slog.String("component", "sale_exporter")),
	}
}

// WithAlerter raises an alert when an export run fails.
func (e *SaleExporter) WithAlerter(a Alerter) *SaleExporter {
	e.alerter = a
	return e
}

// WithSettleLag overrides how long a sale must age before export. It must
// exceed the time a sale insert can take to commit.
func (e *SaleExporter) WithSettleLag(d time.Duration) *SaleExporter {
	if d >= 0 {
		e.settleLag = d
	}
	return e
}

// WithMetrics attaches Prometheus collectors.
func (e *SaleExporter) WithMetrics(m *metrics.Metrics) *SaleExporter {
	e.metrics = m
	return e
}

// Run exports on every tick until ctx is cancelled.
func (e *SaleExporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := e.ExportOnce(ctx); err != nil {
				e.logger.Error("export failed", slog.String("error", err.Error()))
				if e.alerter != nil {
					if aerr := e.alerter.Notify(ctx, notify.EventExportFailed, "Sale export failed", err.Error()); aerr != nil {
						e.logger.Warn("alert failed", slog.String("error", aerr.Error()))
					}
				}
			}
		}
	}
}

// ExportOnce writes every sale after the cursor and returns how many sales
// were exported.
func (e *SaleExporter) ExportOnce(ctx context.Context) (int, error) {
	raw, err := e.cursors.GetCursor(ctx, exportCursor)
	if err != nil {
		return 0, fmt.Errorf("sale_exporter: read cursor: %w", err)
	}
	var after int64
	if raw != "" {
		after, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("sale_exporter: cursor %q: %w", raw, err)
		}
	}

	total := 0
	for {
		batch, err := e.sales.ListAfter(ctx, after, e.settleLag, e.batchSize)
		if err != nil {
			return total, fmt.Errorf("sale_exporter: list after %d: %w", after, err)
		}
		if len(batch) == 0 {
			break
		}

		path := e.batchPath(batch)
		exists, err := e.reader.Exists(ctx, path)
		if err != nil {
			return total, fmt.Errorf("sale_exporter: %w", err)
		}
		if !exists {
			events := make([]domain.SaleEvent, len(batch))
			for i, s := range batch {
				events[i] = s.Event()
			}
			data, err := marshalJSONL(events)
			if err != nil {
				return total, fmt.Errorf("sale_exporter: %w", err)
			}
			if err := e.writer.Put(ctx, path, bytes.NewReader(data), "application/x-ndjson"); err != nil {
				return total, fmt.Errorf("sale_exporter: %w", err)
			}
		}

		after = batch[len(batch)-1].ID
		if err := e.cursors.SetCursor(ctx, exportCursor, strconv.FormatInt(after, 10)); err != nil {
			return total, fmt.Errorf("sale_exporter: write cursor: %w", err)
		}
		total += len(batch)
		e.metrics.AddSalesExported(len(batch))
		e.logger.Info("sales exported",
			slog.String("path", path),
			slog.Int("count", len(batch)),
			slog.Bool("already_present", exists),
		)

		if len(batch) < e.batchSize {
			break
		}
	}
	return total, nil
}

// batchPath partitions files by the UTC day of the batch's first sale.
func (e *SaleExporter) batchPath(batch []domain.Sale) string {
	first, last := batch[0], batch[len(batch)-1]
	return fmt.Sprintf("%s/%s/%020d-%020d.jsonl",
		e.prefix, first.CreatedAt.UTC().Format("2006/01/02"), first.ID, last.ID)
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
