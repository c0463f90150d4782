package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/nftpayments/internal/domain"
)

// AuditQuery reads the audit log.
type AuditQuery interface {
	List(ctx context.Context, event string, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// AuditHandler serves the operator audit trail.
type AuditHandler struct {
	audit  AuditQuery
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit AuditQuery, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logger}
}

type auditResponse struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ListAudit returns audit entries newest first, optionally for one event.
// GET /api/audit?event=reconcile_side_effect_failed&limit=50
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	event := r.URL.Query().Get("event")
	entries, err := h.audit.List(r.Context(), event, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}

	out := make([]auditResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditResponse{ID: e.ID, Event: e.Event, Detail: e.Detail, CreatedAt: e.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}
