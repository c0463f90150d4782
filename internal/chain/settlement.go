package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/nftpayments/internal/domain"
)

// SettlementContract binds the contract that verifies vouchers and
// transfers the asset against payment.
type SettlementContract struct {
	address common.Address
	abi     abi.ABI
}

// NewSettlementContract binds address.
func NewSettlementContract(address common.Address) (*SettlementContract, error) {
	parsed, err := loadABI("settlement.json")
	if err != nil {
		return nil, err
	}
	if _, ok := parsed.Events["Sold"]; !ok {
		return nil, fmt.Errorf("chain/settlement: abi has no Sold event")
	}
	return &SettlementContract{address: address, abi: parsed}, nil
}

// Address returns the contract address.
func (s *SettlementContract) Address() common.Address {
	return s.address
}

// SoldTopic is topic[0] of every Sold log.
func (s *SettlementContract) SoldTopic() common.Hash {
	return s.abi.Events["Sold"].ID
}

// EncodeSellNft returns calldata for sellNft(amount, tokenId, deadline, v, r, s).
func (s *SettlementContract) EncodeSellNft(amount, tokenID, deadline *big.Int, v uint8, r, sigS [32]byte) ([]byte, error) {
	data, err := s.abi.Pack("sellNft", amount, tokenID, deadline, v, r, sigS)
	if err != nil {
		return nil, fmt.Errorf("chain/settlement: pack sellNft: %w", err)
	}
	return data, nil
}

// ParseSold decodes a Sold log emitted by the settlement contract.
func (s *SettlementContract) ParseSold(lg types.Log) (domain.SoldEvent, error) {
	if len(lg.Topics) != 3 || lg.Topics[0] != s.SoldTopic() {
		return domain.SoldEvent{}, fmt.Errorf("chain/settlement: log %s:%d is not a Sold event", lg.TxHash.Hex(), lg.Index)
	}

	vals, err := s.abi.Unpack("Sold", lg.Data)
	if err != nil {
		return domain.SoldEvent{}, fmt.Errorf("chain/settlement: unpack Sold: %w", err)
	}
	if len(vals) != 2 {
		return domain.SoldEvent{}, fmt.Errorf("chain/settlement: Sold carried %d values", len(vals))
	}
	tokenID, ok := vals[0].(*big.Int)
	if !ok {
		return domain.SoldEvent{}, fmt.Errorf("chain/settlement: Sold tokenID is %T", vals[0])
	}
	amount, ok := vals[1].(*big.Int)
	if !ok {
		return domain.SoldEvent{}, fmt.Errorf("chain/settlement: Sold amount is %T", vals[1])
	}

	return domain.SoldEvent{
		From:        common.BytesToAddress(lg.Topics[1].Bytes()).Hex(),
		To:          common.BytesToAddress(lg.Topics[2].Bytes()).Hex(),
		TokenID:     tokenID,
		Amount:      amount,
		TxHash:      lg.TxHash.Hex(),
		LogIndex:    lg.Index,
		BlockNumber: lg.BlockNumber,
		Removed:     lg.Removed,
	}, nil
}
