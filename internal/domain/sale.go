package domain

import (
	"math/big"
	"time"
)

// Sale records a settlement observed on-chain. Sales are append-only: the
// reconciler inserts one per Sold event it handles, duplicates included.
type Sale struct {
	ID          int64
	AssetID     *big.Int
	Price       *big.Int
	Seller      string
	Buyer       string
	TxHash      string
	LogIndex    uint
	BlockNumber uint64
	CreatedAt   time.Time
}

// SoldEvent is the decoded form of the settlement contract's Sold log.
type SoldEvent struct {
	From        string
	To          string
	TokenID     *big.Int
	Amount      *big.Int
	TxHash      string
	LogIndex    uint
	BlockNumber uint64
	Removed     bool // set when the log was retracted by a reorg
}

// Sale converts the event into the sale record the reconciler persists.
func (e SoldEvent) Sale() Sale {
	return Sale{
		AssetID:     e.TokenID,
		Price:       e.Amount,
		Seller:      e.From,
		Buyer:       e.To,
		TxHash:      e.TxHash,
		LogIndex:    e.LogIndex,
		BlockNumber: e.BlockNumber,
	}
}

// Signal bus names for settled sales.
const (
	ChannelSales = "sales"
	StreamSales  = "stream:sales"
)

// SaleEvent is the published form of a sale. Amounts are decimal strings so
// consumers without big-integer JSON support keep full precision.
type SaleEvent struct {
	SaleID      int64     `json:"sale_id"`
	AssetID     string    `json:"asset_id"`
	Price       string    `json:"price"`
	Seller      string    `json:"seller"`
	Buyer       string    `json:"buyer"`
	TxHash      string    `json:"tx_hash,omitempty"`
	LogIndex    uint      `json:"log_index"`
	BlockNumber uint64    `json:"block_number"`
	CreatedAt   time.Time `json:"created_at"`
}

// Event converts the sale into its published form.
func (s Sale) Event() SaleEvent {
	ev := SaleEvent{
		SaleID:      s.ID,
		Seller:      s.Seller,
		Buyer:       s.Buyer,
		TxHash:      s.TxHash,
		LogIndex:    s.LogIndex,
		BlockNumber: s.BlockNumber,
		CreatedAt:   s.CreatedAt,
	}
	if s.AssetID != nil {
		ev.AssetID = s.AssetID.String()
	}
	if s.Price != nil {
		ev.Price = s.Price.String()
	}
	return ev
}
