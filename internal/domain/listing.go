package domain

import (
	"math/big"
	"strings"
	"time"
)

// Listing is an off-chain offer to sell a single NFT at a fixed price. It is
// never updated in place: it is created once every guard passes and removed
// either by the expiry sweep or when a settlement for its asset is observed.
type Listing struct {
	ID        string
	AssetID   string   // decimal token id; unique across live listings
	Price     *big.Int // settlement amount in base units
	CreatedBy string   // seller address at creation time
	CreatedAt time.Time
	ExpiresAt *time.Time // nil means the listing never expires on its own
}

// Expired reports whether the listing's expiry has passed at now.
func (l Listing) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && !l.ExpiresAt.After(now)
}

// PriceString renders the price as a base-10 integer, "0" when unset.
func (l Listing) PriceString() string {
	if l.Price == nil {
		return "0"
	}
	return l.Price.String()
}

// CreateListingRequest carries the inputs of a create-listing command.
type CreateListingRequest struct {
	AssetID   string
	Price     *big.Int
	CreatedBy string
	ExpiresAt *time.Time
}

// CreateListingResult is either a persisted listing id or, when the seller
// has not yet approved the settlement contract, the approval transaction the
// seller must submit before retrying.
type CreateListingResult struct {
	ID string
	Tx *UnsignedTx
}

// NeedsApproval reports whether the result carries an approval transaction
// instead of a listing id.
func (r CreateListingResult) NeedsApproval() bool {
	return r.Tx != nil
}

// ParseAmount parses a base-10 integer amount. Negative values and
// fractional notations are rejected.
func ParseAmount(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, false
	}
	return n, true
}

// SameAddress compares two hex addresses ignoring checksum casing.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
