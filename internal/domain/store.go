package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ListingStore persists live listings. Implementations must enforce asset
// uniqueness atomically at write time and report a losing concurrent insert
// as ErrDuplicateListing. Expired rows are treated as absent by every read.
type ListingStore interface {
	Create(ctx context.Context, l Listing) error
	GetByID(ctx context.Context, id string) (Listing, error)
	GetByAssetID(ctx context.Context, assetID string) (Listing, error)
	ListActive(ctx context.Context, opts ListOpts) ([]Listing, error)
	DeleteByAssetID(ctx context.Context, assetID string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SaleStore persists the append-only sale ledger.
type SaleStore interface {
	Insert(ctx context.Context, s Sale) (Sale, error)
	ListByAsset(ctx context.Context, assetID string, opts ListOpts) ([]Sale, error)
	// ListAfter pages the ledger in id order, skipping sales younger than
	// settleLag so that ids committed out of order are not passed over.
	ListAfter(ctx context.Context, afterID int64, settleLag time.Duration, limit int) ([]Sale, error)
}

// Audit events.
const (
	AuditListingCreated         = "listing_created"
	AuditSaleReconciled         = "sale_reconciled"
	AuditReconcileSideEffectErr = "reconcile_side_effect_failed"
)

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log. List filters by event when
// event is non-empty.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, event string, opts ListOpts) ([]AuditEntry, error)
}
