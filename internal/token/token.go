// Package token models the reward-token ledger a trigger escrows its oracle
// reward in. Amounts are big.Int base units and every movement is
// all-or-nothing.
package token

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RewardToken is the token collaborator used by triggers and the oracle.
// There is no ambient caller identity in this service, so the owner of the
// funds being moved is always an explicit parameter.
type RewardToken interface {
	// Address returns the token's own address, used when registering a
	// query with the oracle.
	Address() common.Address

	// BalanceOf returns the balance held by account.
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)

	// Approve sets spender's allowance over owner's balance.
	Approve(ctx context.Context, owner, spender common.Address, amount *big.Int) error

	// Transfer moves amount from one account to another atomically.
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error

	// TransferFrom moves amount from `from` to `to` on behalf of spender,
	// consuming spender's allowance.
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *big.Int) error
}
