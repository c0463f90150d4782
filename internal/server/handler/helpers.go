package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/nftpayments/internal/domain"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorResponse mirrors the bus error body so both surfaces report the same kinds.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// kindStatus maps domain error kinds onto HTTP status codes.
var kindStatus = map[string]int{
	domain.KindNotOwner:            http.StatusForbidden,
	domain.KindInvalidExpiry:       http.StatusBadRequest,
	domain.KindInvalidRequest:      http.StatusBadRequest,
	domain.KindDuplicateListing:    http.StatusConflict,
	domain.KindListingInFlight:     http.StatusConflict,
	domain.KindListingNotFound:     http.StatusNotFound,
	domain.KindApprovalQueryFailed: http.StatusBadGateway,
	domain.KindRegistryUnavailable: http.StatusServiceUnavailable,
	domain.KindSignatureFailure:    http.StatusInternalServerError,
	domain.KindPersistenceFailure:  http.StatusInternalServerError,
}

// writeDomainError reports err with its domain kind. Internal errors are
// logged and their text is withheld from the client.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	kind := domain.ErrorKind(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return errors.Join(domain.ErrInvalidRequest, errors.New("request body too large"))
		}
		return errors.Join(domain.ErrInvalidRequest, err)
	}
	return nil
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}
