package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftpayments/internal/domain"
)

// ListingStore implements domain.ListingStore using PostgreSQL. Uniqueness
// of asset_id is enforced by the listings_asset_id_key index.
type ListingStore struct {
	pool *pgxpool.Pool
}

// NewListingStore creates a new ListingStore backed by the given connection pool.
func NewListingStore(pool *pgxpool.Pool) *ListingStore {
	return &ListingStore{pool: pool}
}

const listingSelectCols = `id, asset_id, price::text, created_by, created_at, expires_at`

// liveListing is appended to every read so expired rows awaiting the sweep
// are never returned.
const liveListing = ` AND (expires_at IS NULL OR expires_at > NOW())`

func scanListing(row pgx.Row) (domain.Listing, error) {
	var (
		l     domain.Listing
		id    uuid.UUID
		price string
	)
	if err := row.Scan(&id, &l.AssetID, &price, &l.CreatedBy, &l.CreatedAt, &l.ExpiresAt); err != nil {
		return domain.Listing{}, err
	}
	amount, ok := new(big.Int).SetString(price, 10)
	if !ok {
		return domain.Listing{}, fmt.Errorf("postgres: listing %s has malformed price %q", id, price)
	}
	l.ID = id.String()
	l.Price = amount
	return l, nil
}

// Create inserts l. An expired row for the same asset is purged in the same
// transaction first; a live one makes the insert fail with
// domain.ErrDuplicateListing.
func (s *ListingStore) Create(ctx context.Context, l domain.Listing) error {
	id, err := uuid.Parse(l.ID)
	if err != nil {
		return fmt.Errorf("postgres: listing id %q: %w", l.ID, err)
	}
	if l.Price == nil {
		return fmt.Errorf("postgres: listing %s has no price", l.ID)
	}
	createdAt := l.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	err = withTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM listings WHERE asset_id = $1 AND expires_at IS NOT NULL AND expires_at <= NOW()`,
			l.AssetID,
		); err != nil {
			return fmt.Errorf("postgres: purge expired listing %s: %w", l.AssetID, err)
		}

		const query = `
			INSERT INTO listings (id, asset_id, price, created_by, created_at, expires_at)
			VALUES ($1, $2, $3::text::numeric, $4, $5, $6)`
		if _, err := tx.Exec(ctx, query,
			id, l.AssetID, l.Price.String(), l.CreatedBy, createdAt, l.ExpiresAt,
		); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: create listing %s: %w", l.AssetID, domain.ErrDuplicateListing)
		}
		return fmt.Errorf("postgres: create listing %s: %w", l.AssetID, err)
	}
	return nil
}

// GetByID returns a live listing by id.
func (s *ListingStore) GetByID(ctx context.Context, id string) (domain.Listing, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return domain.Listing{}, domain.ErrNotFound
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+listingSelectCols+` FROM listings WHERE id = $1`+liveListing, parsed)
	l, err := scanListing(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Listing{}, domain.ErrNotFound
		}
		return domain.Listing{}, fmt.Errorf("postgres: get listing %s: %w", id, err)
	}
	return l, nil
}

// GetByAssetID returns the live listing for assetID.
func (s *ListingStore) GetByAssetID(ctx context.Context, assetID string) (domain.Listing, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+listingSelectCols+` FROM listings WHERE asset_id = $1`+liveListing, assetID)
	l, err := scanListing(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Listing{}, domain.ErrNotFound
		}
		return domain.Listing{}, fmt.Errorf("postgres: get listing for asset %s: %w", assetID, err)
	}
	return l, nil
}

// ListActive returns live listings, newest first.
func (s *ListingStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Listing, error) {
	query, args := page(`SELECT `+listingSelectCols+` FROM listings WHERE 1=1`+liveListing, nil, opts, "created_at DESC")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list listings: %w", err)
	}
	defer rows.Close()

	var listings []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list listings rows: %w", err)
	}
	return listings, nil
}

// DeleteByAssetID removes the listing for assetID, returning the number of
// rows removed (0 when none existed).
func (s *ListingStore) DeleteByAssetID(ctx context.Context, assetID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM listings WHERE asset_id = $1`, assetID)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete listing for asset %s: %w", assetID, err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired removes every listing whose expiry is at or before now.
func (s *ListingStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM listings WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete expired listings: %w", err)
	}
	return tag.RowsAffected(), nil
}
