package service

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nftpayments/internal/domain"
)

// ApprovalChecker reads the asset contract's operator approvals.
type ApprovalChecker interface {
	IsApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error)
}

// ApprovalGate answers whether an owner has approved an operator for all of
// their assets. A failed query is an error, never a "no".
type ApprovalGate struct {
	checker ApprovalChecker
}

// NewApprovalGate creates an ApprovalGate over checker.
func NewApprovalGate(checker ApprovalChecker) *ApprovalGate {
	return &ApprovalGate{checker: checker}
}

// IsApproved reports whether owner has approved operator. Malformed
// addresses and node failures are returned wrapped in
// domain.ErrApprovalQueryFailed.
func (g *ApprovalGate) IsApproved(ctx context.Context, owner, operator string) (bool, error) {
	if !common.IsHexAddress(owner) || !common.IsHexAddress(operator) {
		return false, fmt.Errorf("approval_gate: bad address owner=%q operator=%q: %w",
			owner, operator, domain.ErrApprovalQueryFailed)
	}
	ok, err := g.checker.IsApprovedForAll(ctx, common.HexToAddress(owner), common.HexToAddress(operator))
	if err != nil {
		return false, fmt.Errorf("approval_gate: isApprovedForAll(%s, %s): %w: %v",
			owner, operator, domain.ErrApprovalQueryFailed, err)
	}
	return ok, nil
}
