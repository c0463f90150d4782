package domain

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrLockHeld = errors.New("lock already held")

	ErrNotOwner            = errors.New("caller is not the owner of the asset")
	ErrInvalidExpiry       = errors.New("expiration must be within 30 days")
	ErrDuplicateListing    = errors.New("a listing for this asset already exists")
	ErrListingInFlight     = errors.New("another create for this asset is in progress")
	ErrListingNotFound     = errors.New("listing not found")
	ErrApprovalQueryFailed = errors.New("approval query failed")
	ErrRegistryUnavailable = errors.New("ownership registry unavailable")
	ErrSignatureFailure    = errors.New("voucher signing failed")
	ErrPersistenceFailure  = errors.New("persistence failure")
)

// Error kinds reported to callers over the bus and the HTTP gateway.
const (
	KindNotOwner            = "NotOwner"
	KindInvalidExpiry       = "InvalidExpiry"
	KindDuplicateListing    = "DuplicateListing"
	KindListingInFlight     = "ListingInFlight"
	KindListingNotFound     = "ListingNotFound"
	KindApprovalQueryFailed = "ApprovalQueryFailed"
	KindRegistryUnavailable = "RegistryUnavailable"
	KindSignatureFailure    = "SignatureFailure"
	KindPersistenceFailure  = "PersistenceFailure"
	KindInvalidRequest      = "InvalidRequest"
	KindInternal            = "Internal"
)

// ErrInvalidRequest marks malformed command input.
var ErrInvalidRequest = errors.New("invalid request")

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrNotOwner, KindNotOwner},
	{ErrInvalidExpiry, KindInvalidExpiry},
	{ErrDuplicateListing, KindDuplicateListing},
	{ErrListingInFlight, KindListingInFlight},
	{ErrListingNotFound, KindListingNotFound},
	{ErrApprovalQueryFailed, KindApprovalQueryFailed},
	{ErrRegistryUnavailable, KindRegistryUnavailable},
	{ErrSignatureFailure, KindSignatureFailure},
	{ErrPersistenceFailure, KindPersistenceFailure},
	{ErrInvalidRequest, KindInvalidRequest},
}

// ErrorKind maps err onto one of the stable Kind* strings. Unknown errors
// are reported as KindInternal.
func ErrorKind(err error) string {
	for _, ek := range errorKinds {
		if errors.Is(err, ek.err) {
			return ek.kind
		}
	}
	return KindInternal
}
