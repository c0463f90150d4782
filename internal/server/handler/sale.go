package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/nftpayments/internal/domain"
)

// SaleQuery reads the sale ledger.
type SaleQuery interface {
	ListByAsset(ctx context.Context, assetID string, opts domain.ListOpts) ([]domain.Sale, error)
}

// StreamReader reads the durable sale stream.
type StreamReader interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// SaleHandler serves the sale ledger and the catch-up feed.
type SaleHandler struct {
	sales  SaleQuery
	stream StreamReader
	logger *slog.Logger
}

// NewSaleHandler creates a SaleHandler. stream may be nil, which disables
// the feed endpoint.
func NewSaleHandler(sales SaleQuery, stream StreamReader, logger *slog.Logger) *SaleHandler {
	return &SaleHandler{sales: sales, stream: stream, logger: logger}
}

// ListSales returns the sales of one asset, newest first.
// GET /api/sales?asset_id=42&limit=50&offset=0
func (h *SaleHandler) ListSales(w http.ResponseWriter, r *http.Request) {
	assetID := r.URL.Query().Get("asset_id")
	if _, ok := domain.ParseAmount(assetID); !ok {
		writeError(w, http.StatusBadRequest, "asset_id query parameter must be a token id")
		return
	}

	sales, err := h.sales.ListByAsset(r.Context(), assetID, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list sales failed",
			slog.String("asset_id", assetID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list sales")
		return
	}
	out := make([]domain.SaleEvent, 0, len(sales))
	for _, s := range sales {
		out = append(out, s.Event())
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": out})
}

type feedEntry struct {
	ID   string          `json:"id"`
	Sale json.RawMessage `json:"sale"`
}

// Feed pages through recently settled sales. Pass the returned next id as
// after to continue.
// GET /api/sales/feed?after=0&count=100
func (h *SaleHandler) Feed(w http.ResponseWriter, r *http.Request) {
	if h.stream == nil {
		writeError(w, http.StatusNotFound, "sale feed disabled")
		return
	}
	q := r.URL.Query()
	after := q.Get("after")
	if after == "" {
		after = "0"
	}
	count := 100
	if v := q.Get("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			count = n
		}
	}

	msgs, err := h.stream.StreamRead(r.Context(), domain.StreamSales, after, count)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: read sale feed failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read sale feed")
		return
	}

	entries := make([]feedEntry, 0, len(msgs))
	next := after
	for _, m := range msgs {
		if !json.Valid(m.Payload) {
			continue
		}
		entries = append(entries, feedEntry{ID: m.ID, Sale: m.Payload})
		next = m.ID
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": entries, "next": next})
}
