package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/nftpayments/internal/domain"
)

// ListingService defines the methods that the listing handler requires from
// the service layer.
type ListingService interface {
	CreateListing(ctx context.Context, req domain.CreateListingRequest) (domain.CreateListingResult, error)
	GetListing(ctx context.Context, id string) (domain.Listing, error)
	ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Listing, error)
}

// ListingFiller issues settlement transactions for buyers.
type ListingFiller interface {
	FillListing(ctx context.Context, listingID, buyer string) (domain.UnsignedTx, error)
}

// ListingHandler serves listing endpoints.
type ListingHandler struct {
	listings ListingService
	filler   ListingFiller
	logger   *slog.Logger
}

// NewListingHandler creates a ListingHandler.
func NewListingHandler(listings ListingService, filler ListingFiller, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{listings: listings, filler: filler, logger: logger}
}

// listingResponse is the JSON view of a listing. The price is a decimal
// string in base units.
type listingResponse struct {
	ID        string     `json:"id"`
	AssetID   string     `json:"item_id"`
	Price     string     `json:"price"`
	CreatedBy string     `json:"createdBy"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

func toListingResponse(l domain.Listing) listingResponse {
	return listingResponse{
		ID:        l.ID,
		AssetID:   l.AssetID,
		Price:     l.PriceString(),
		CreatedBy: l.CreatedBy,
		CreatedAt: l.CreatedAt,
		ExpiresAt: l.ExpiresAt,
	}
}

// ListListings returns live listings, newest first.
// GET /api/listings?limit=50&offset=0
func (h *ListingHandler) ListListings(w http.ResponseWriter, r *http.Request) {
	ls, err := h.listings.ListActive(r.Context(), parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	out := make([]listingResponse, 0, len(ls))
	for _, l := range ls {
		out = append(out, toListingResponse(l))
	}
	writeJSON(w, http.StatusOK, map[string]any{"listings": out})
}

// GetListing returns one live listing.
// GET /api/listings/{id}
func (h *ListingHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	l, err := h.listings.GetListing(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toListingResponse(l))
}

// CreateListing answers 201 {id} for a persisted listing or 200 {tx} when
// the seller must first approve the settlement contract.
// POST /api/listings
func (h *ListingHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	var cmd domain.CreateListingCommand
	if err := decodeJSON(w, r, &cmd); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	req, err := cmd.Request()
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	res, err := h.listings.CreateListing(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	status := http.StatusCreated
	if res.NeedsApproval() {
		status = http.StatusOK
	}
	writeJSON(w, status, res.Reply())
}

type fillRequest struct {
	Buyer string `json:"buyer"`
}

// FillListing returns the sellNft transaction for the buyer to sign.
// POST /api/listings/{id}/fill
func (h *ListingHandler) FillListing(w http.ResponseWriter, r *http.Request) {
	var body fillRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	tx, err := h.filler.FillListing(r.Context(), r.PathValue("id"), body.Buyer)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.FillListingReply{Tx: tx})
}
