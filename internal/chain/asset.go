package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// AssetContract binds the ERC-721 contract that mints the listed assets.
type AssetContract struct {
	address common.Address
	abi     abi.ABI
	caller  ethereum.ContractCaller
	from    common.Address
}

// NewAssetContract binds address. Read calls are issued with from set to the
// service wallet address.
func NewAssetContract(address common.Address, caller ethereum.ContractCaller, from common.Address) (*AssetContract, error) {
	parsed, err := loadABI("asset.json")
	if err != nil {
		return nil, err
	}
	return &AssetContract{address: address, abi: parsed, caller: caller, from: from}, nil
}

// Address returns the contract address.
func (a *AssetContract) Address() common.Address {
	return a.address
}

// IsApprovedForAll reports whether operator may transfer every token owned
// by owner.
func (a *AssetContract) IsApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error) {
	data, err := a.abi.Pack("isApprovedForAll", owner, operator)
	if err != nil {
		return false, fmt.Errorf("chain/asset: pack isApprovedForAll: %w", err)
	}

	to := a.address
	out, err := a.caller.CallContract(ctx, ethereum.CallMsg{From: a.from, To: &to, Data: data}, nil)
	if err != nil {
		return false, fmt.Errorf("chain/asset: call isApprovedForAll: %w", err)
	}

	vals, err := a.abi.Unpack("isApprovedForAll", out)
	if err != nil {
		return false, fmt.Errorf("chain/asset: unpack isApprovedForAll: %w", err)
	}
	if len(vals) != 1 {
		return false, fmt.Errorf("chain/asset: isApprovedForAll returned %d values", len(vals))
	}
	approved, ok := vals[0].(bool)
	if !ok {
		return false, fmt.Errorf("chain/asset: isApprovedForAll returned %T", vals[0])
	}
	return approved, nil
}

// EncodeSetApprovalForAll returns calldata for setApprovalForAll(operator, approved).
func (a *AssetContract) EncodeSetApprovalForAll(operator common.Address, approved bool) ([]byte, error) {
	data, err := a.abi.Pack("setApprovalForAll", operator, approved)
	if err != nil {
		return nil, fmt.Errorf("chain/asset: pack setApprovalForAll: %w", err)
	}
	return data, nil
}
