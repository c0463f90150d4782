package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/nftpayments/internal/domain"
)

// SaleStore implements domain.SaleStore using PostgreSQL. The table is
// append-only; nothing here updates or deletes.
type SaleStore struct {
	pool *pgxpool.Pool
}

// NewSaleStore creates a new SaleStore backed by the given connection pool.
func NewSaleStore(pool *pgxpool.Pool) *SaleStore {
	return &SaleStore{pool: pool}
}

const saleSelectCols = `id, asset_id::text, price::text, seller, buyer,
	tx_hash, log_index, block_number, created_at`

func scanSaleRows(rows pgx.Rows) ([]domain.Sale, error) {
	var sales []domain.Sale
	for rows.Next() {
		var (
			sale         domain.Sale
			asset, price string
			logIdx       int32
			blockNumber  int64
		)
		if err := rows.Scan(
			&sale.ID, &asset, &price, &sale.Seller, &sale.Buyer,
			&sale.TxHash, &logIdx, &blockNumber, &sale.CreatedAt,
		); err != nil {
			return nil, err
		}
		var ok bool
		if sale.AssetID, ok = new(big.Int).SetString(asset, 10); !ok {
			return nil, fmt.Errorf("sale %d has malformed asset id %q", sale.ID, asset)
		}
		if sale.Price, ok = new(big.Int).SetString(price, 10); !ok {
			return nil, fmt.Errorf("sale %d has malformed price %q", sale.ID, price)
		}
		sale.LogIndex = uint(logIdx)
		sale.BlockNumber = uint64(blockNumber)
		sales = append(sales, sale)
	}
	return sales, rows.Err()
}

// Insert appends a sale and returns it with its id and created_at set.
// Duplicate events produce duplicate rows.
func (s *SaleStore) Insert(ctx context.Context, sale domain.Sale) (domain.Sale, error) {
	if sale.AssetID == nil || sale.Price == nil {
		return domain.Sale{}, fmt.Errorf("postgres: insert sale: asset id and price are required")
	}

	const query = `
		INSERT INTO sales (asset_id, price, seller, buyer, tx_hash, log_index, block_number)
		VALUES ($1::text::numeric, $2::text::numeric, $3, $4, $5, $6, $7)
		RETURNING id, created_at`
	err := s.pool.QueryRow(ctx, query,
		sale.AssetID.String(), sale.Price.String(), sale.Seller, sale.Buyer,
		sale.TxHash, int32(sale.LogIndex), int64(sale.BlockNumber),
	).Scan(&sale.ID, &sale.CreatedAt)
	if err != nil {
		return domain.Sale{}, fmt.Errorf("postgres: insert sale for asset %s: %w", sale.AssetID, err)
	}
	return sale, nil
}

// ListByAsset returns the sales of assetID, newest first.
func (s *SaleStore) ListByAsset(ctx context.Context, assetID string, opts domain.ListOpts) ([]domain.Sale, error) {
	query, args := page(`SELECT `+saleSelectCols+` FROM sales WHERE asset_id = $1::text::numeric`,
		[]any{assetID}, opts, "id DESC")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sales for asset %s: %w", assetID, err)
	}
	defer rows.Close()

	sales, err := scanSaleRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan sales: %w", err)
	}
	return sales, nil
}

// ListAfter returns up to limit sales with id > afterID in id order,
// leaving out sales created less than settleLag ago by the database clock.
// BIGSERIAL ids are taken at insert but become visible at commit, so a
// recent id may still be missing below a visible one.
func (s *SaleStore) ListAfter(ctx context.Context, afterID int64, settleLag time.Duration, limit int) ([]domain.Sale, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+saleSelectCols+` FROM sales
		 WHERE id > $1 AND created_at < NOW() - make_interval(secs => $2)
		 ORDER BY id ASC LIMIT $3`,
		afterID, settleLag.Seconds(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sales after %d: %w", afterID, err)
	}
	defer rows.Close()

	sales, err := scanSaleRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan sales: %w", err)
	}
	return sales, nil
}
