package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/nftpayments/internal/crypto"
	"github.com/alanyoungcy/nftpayments/internal/domain"
	"github.com/alanyoungcy/nftpayments/internal/metrics"
)

// DefaultVoucherTTL is how long a signed voucher stays redeemable.
const DefaultVoucherTTL = 5 * time.Minute

// Signer abstracts voucher signing so the service layer never touches key
// material.
type Signer interface {
	Sign(ctx context.Context, v crypto.Voucher) ([]byte, error)
}

// SellEncoder builds sellNft calldata for the settlement contract.
type SellEncoder interface {
	Address() common.Address
	EncodeSellNft(amount, tokenID, deadline *big.Int, v uint8, r, s [32]byte) ([]byte, error)
}

// SettlementService turns a live listing into a ready-to-sign sellNft
// transaction for a buyer.
type SettlementService struct {
	listings   domain.ListingStore
	signer     Signer
	settlement SellEncoder
	voucherTTL time.Duration
	metrics    *metrics.Metrics
	now        func() time.Time
	logger     *slog.Logger
}

// NewSettlementService creates a SettlementService. A non-positive
// voucherTTL selects DefaultVoucherTTL.
func NewSettlementService(
	listings domain.ListingStore,
	signer Signer,
	settlement SellEncoder,
	voucherTTL time.Duration,
	logger *slog.Logger,
) *SettlementService {
	if voucherTTL <= 0 {
		voucherTTL = DefaultVoucherTTL
	}
	return &SettlementService{
		listings:   listings,
		signer:     signer,
		settlement: settlement,
		voucherTTL: voucherTTL,
		now:        time.Now,
		logger:     logger.With(slog.String("component", "settlement_service")),
	}
}

// WithMetrics attaches Prometheus collectors.
func (s *SettlementService) WithMetrics(m *metrics.Metrics) *SettlementService {
	s.metrics = m
	return s
}

// FillListing signs a voucher letting buyer settle the listing and returns
// the sellNft transaction for the buyer to sign and broadcast. Nothing is
// persisted; the listing is removed once the sale is observed on-chain.
func (s *SettlementService) FillListing(ctx context.Context, listingID, buyer string) (domain.UnsignedTx, error) {
	start := time.Now()

	if !common.IsHexAddress(buyer) {
		return domain.UnsignedTx{}, fmt.Errorf("buyer %q is not an address: %w", buyer, domain.ErrInvalidRequest)
	}

	l, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.UnsignedTx{}, domain.ErrListingNotFound
		}
		return domain.UnsignedTx{}, fmt.Errorf("settlement_service: load %s: %w: %v",
			listingID, domain.ErrPersistenceFailure, err)
	}

	tokenID, ok := domain.ParseAmount(l.AssetID)
	if !ok {
		return domain.UnsignedTx{}, fmt.Errorf("settlement_service: listing %s has asset id %q", l.ID, l.AssetID)
	}
	if l.Price == nil {
		return domain.UnsignedTx{}, fmt.Errorf("settlement_service: listing %s has no price", l.ID)
	}
	deadline := big.NewInt(s.now().Add(s.voucherTTL).Unix())

	sig, err := s.signer.Sign(ctx, crypto.Voucher{
		Sender:   common.HexToAddress(buyer),
		Amount:   l.Price,
		TokenID:  tokenID,
		Deadline: deadline,
	})
	if err != nil {
		return domain.UnsignedTx{}, fmt.Errorf("settlement_service: %w: %v", domain.ErrSignatureFailure, err)
	}

	r, sigS, v, err := crypto.SplitSignature(sig)
	if err != nil {
		return domain.UnsignedTx{}, fmt.Errorf("settlement_service: %w: %v", domain.ErrSignatureFailure, err)
	}

	data, err := s.settlement.EncodeSellNft(l.Price, tokenID, deadline, v, r, sigS)
	if err != nil {
		return domain.UnsignedTx{}, fmt.Errorf("settlement_service: encode sellNft: %w", err)
	}

	s.metrics.ObserveFill(start)
	s.logger.Info("voucher issued",
		slog.String("listing_id", l.ID),
		slog.String("asset_id", l.AssetID),
		slog.String("buyer", buyer),
		slog.Int64("deadline", deadline.Int64()),
	)
	return domain.UnsignedTx{
		From: buyer,
		To:   s.settlement.Address().Hex(),
		Data: hexutil.Encode(data),
	}, nil
}
