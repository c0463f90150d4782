package domain

import "context"

// OwnershipRegistry is the external service that tracks who owns each asset.
// Transport failures are reported wrapped in ErrRegistryUnavailable.
type OwnershipRegistry interface {
	GetOwner(ctx context.Context, assetID string) (string, error)
	UpdateOwner(ctx context.Context, assetID, owner string) error
}

// SalePublisher forwards reconciled sales to downstream consumers.
type SalePublisher interface {
	PublishSale(ctx context.Context, s Sale) error
}
