package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"

	"github.com/alanyoungcy/nftpayments/internal/domain"
	"github.com/alanyoungcy/nftpayments/internal/metrics"
)

// DefaultMaxExpiry is how far in the future a listing may expire.
const DefaultMaxExpiry = 30 * 24 * time.Hour

// ApprovalEncoder builds setApprovalForAll calldata for the asset contract.
type ApprovalEncoder interface {
	Address() common.Address
	EncodeSetApprovalForAll(operator common.Address, approved bool) ([]byte, error)
}

// ListingService runs the listing lifecycle: it checks a create request
// against ownership, expiry, uniqueness and approval, in that order, and
// persists the listing only when every check passes.
type ListingService struct {
	listings  domain.ListingStore
	registry  domain.OwnershipRegistry
	gate      *ApprovalGate
	asset     ApprovalEncoder
	operator  common.Address
	audit     domain.AuditStore
	locks     domain.LockManager
	lockTTL   time.Duration
	maxExpiry time.Duration
	metrics   *metrics.Metrics
	now       func() time.Time
	logger    *slog.Logger
}

// NewListingService creates a ListingService. operator is the settlement
// contract that must be approved to move the seller's assets.
func NewListingService(
	listings domain.ListingStore,
	registry domain.OwnershipRegistry,
	gate *ApprovalGate,
	asset ApprovalEncoder,
	operator common.Address,
	audit domain.AuditStore,
	logger *slog.Logger,
) *ListingService {
	return &ListingService{
		listings:  listings,
		registry:  registry,
		gate:      gate,
		asset:     asset,
		operator:  operator,
		audit:     audit,
		maxExpiry: DefaultMaxExpiry,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "listing_service")),
	}
}

// WithAssetLocks serialises concurrent creates for the same asset through
// lm. The store's unique index still decides the winner; the lock only
// narrows the window. A caller that finds the lock held gets
// ErrListingInFlight, not ErrDuplicateListing: the holder may still end with
// an approval tx and no listing, so the caller may retry.
func (s *ListingService) WithAssetLocks(lm domain.LockManager, ttl time.Duration) *ListingService {
	s.locks = lm
	s.lockTTL = ttl
	return s
}

// WithMaxExpiry overrides DefaultMaxExpiry.
func (s *ListingService) WithMaxExpiry(d time.Duration) *ListingService {
	if d > 0 {
		s.maxExpiry = d
	}
	return s
}

// WithMetrics attaches Prometheus collectors.
func (s *ListingService) WithMetrics(m *metrics.Metrics) *ListingService {
	s.metrics = m
	return s
}

// CreateListing validates req and either persists a listing or, when the
// seller has not approved the settlement contract, returns the approval
// transaction to submit first.
//
// Malformed input (ErrInvalidRequest) is rejected before the registry is
// asked, so it takes precedence over ErrNotOwner. Among well-formed requests
// the guards run in order: NotOwner, InvalidExpiry, DuplicateListing, then
// the approval gate.
func (s *ListingService) CreateListing(ctx context.Context, req domain.CreateListingRequest) (domain.CreateListingResult, error) {
	res, err := s.createListing(ctx, req)
	switch {
	case err != nil:
		s.metrics.IncListingRejected(domain.ErrorKind(err))
		s.logger.Info("listing rejected",
			slog.String("asset_id", req.AssetID),
			slog.String("created_by", req.CreatedBy),
			slog.String("error", err.Error()),
		)
	case res.NeedsApproval():
		s.metrics.IncApprovalTx()
	default:
		s.metrics.IncListingCreated()
	}
	return res, err
}

func (s *ListingService) createListing(ctx context.Context, req domain.CreateListingRequest) (domain.CreateListingResult, error) {
	if err := validateCreate(req); err != nil {
		return domain.CreateListingResult{}, err
	}

	owner, err := s.registry.GetOwner(ctx, req.AssetID)
	if err != nil {
		return domain.CreateListingResult{}, fmt.Errorf("listing_service: %w", err)
	}
	if owner == "" || !domain.SameAddress(owner, req.CreatedBy) {
		return domain.CreateListingResult{}, domain.ErrNotOwner
	}

	now := s.now().UTC()
	if req.ExpiresAt != nil && req.ExpiresAt.After(now.Add(s.maxExpiry)) {
		return domain.CreateListingResult{}, domain.ErrInvalidExpiry
	}

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, "listing:"+req.AssetID, s.lockTTL)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			return domain.CreateListingResult{}, fmt.Errorf("listing_service: asset %s: %w",
				req.AssetID, domain.ErrListingInFlight)
		case err != nil:
			s.logger.Warn("asset lock unavailable, relying on store uniqueness",
				slog.String("asset_id", req.AssetID),
				slog.String("error", err.Error()),
			)
		default:
			defer unlock()
		}
	}

	_, err = s.listings.GetByAssetID(ctx, req.AssetID)
	switch {
	case err == nil:
		return domain.CreateListingResult{}, domain.ErrDuplicateListing
	case !errors.Is(err, domain.ErrNotFound):
		return domain.CreateListingResult{}, fmt.Errorf("listing_service: lookup %s: %w: %v",
			req.AssetID, domain.ErrPersistenceFailure, err)
	}

	approved, err := s.gate.IsApproved(ctx, req.CreatedBy, s.operator.Hex())
	if err != nil {
		return domain.CreateListingResult{}, fmt.Errorf("listing_service: %w", err)
	}
	if !approved {
		tx, err := s.approvalTx(owner)
		if err != nil {
			return domain.CreateListingResult{}, err
		}
		return domain.CreateListingResult{Tx: &tx}, nil
	}

	l := domain.Listing{
		ID:        uuid.NewString(),
		AssetID:   req.AssetID,
		Price:     req.Price,
		CreatedBy: req.CreatedBy,
		CreatedAt: now,
		ExpiresAt: req.ExpiresAt,
	}
	if err := s.listings.Create(ctx, l); err != nil {
		if errors.Is(err, domain.ErrDuplicateListing) {
			return domain.CreateListingResult{}, err
		}
		return domain.CreateListingResult{}, fmt.Errorf("listing_service: create %s: %w: %v",
			req.AssetID, domain.ErrPersistenceFailure, err)
	}

	if s.audit != nil {
		if err := s.audit.Log(ctx, domain.AuditListingCreated, map[string]any{
			"listing_id": l.ID,
			"asset_id":   l.AssetID,
			"price":      l.PriceString(),
			"created_by": l.CreatedBy,
		}); err != nil {
			s.logger.Warn("audit log failed", slog.String("error", err.Error()))
		}
	}
	s.logger.Info("listing created",
		slog.String("listing_id", l.ID),
		slog.String("asset_id", l.AssetID),
		slog.String("price", l.PriceString()),
	)
	return domain.CreateListingResult{ID: l.ID}, nil
}

// approvalTx describes setApprovalForAll(operator, true) sent by owner.
func (s *ListingService) approvalTx(owner string) (domain.UnsignedTx, error) {
	data, err := s.asset.EncodeSetApprovalForAll(s.operator, true)
	if err != nil {
		return domain.UnsignedTx{}, fmt.Errorf("listing_service: encode approval: %w", err)
	}
	return domain.UnsignedTx{
		From: owner,
		To:   s.asset.Address().Hex(),
		Data: hexutil.Encode(data),
	}, nil
}

// GetListing returns a live listing by id.
func (s *ListingService) GetListing(ctx context.Context, id string) (domain.Listing, error) {
	l, err := s.listings.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Listing{}, domain.ErrListingNotFound
		}
		return domain.Listing{}, fmt.Errorf("listing_service: get %s: %w: %v", id, domain.ErrPersistenceFailure, err)
	}
	return l, nil
}

// ListActive returns live listings, newest first.
func (s *ListingService) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Listing, error) {
	ls, err := s.listings.ListActive(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("listing_service: list: %w: %v", domain.ErrPersistenceFailure, err)
	}
	return ls, nil
}

func validateCreate(req domain.CreateListingRequest) error {
	if _, ok := domain.ParseAmount(req.AssetID); !ok {
		return fmt.Errorf("item_id %q is not a token id: %w", req.AssetID, domain.ErrInvalidRequest)
	}
	if req.Price == nil || req.Price.Sign() < 0 {
		return fmt.Errorf("price must be a non-negative integer: %w", domain.ErrInvalidRequest)
	}
	if !common.IsHexAddress(req.CreatedBy) {
		return fmt.Errorf("createdBy %q is not an address: %w", req.CreatedBy, domain.ErrInvalidRequest)
	}
	return nil
}
