package token

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/coverbound/triggerd/internal/domain"
)

// MemoryToken is an in-process RewardToken ledger. It backs the embedded
// oracle deployment mode and the test harness.
type MemoryToken struct {
	mu         sync.Mutex
	address    common.Address
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int // owner -> spender -> amount
}

// NewMemoryToken creates an empty ledger identified by the given address.
func NewMemoryToken(address common.Address) *MemoryToken {
	return &MemoryToken{
		address:    address,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Address returns the token's address.
func (t *MemoryToken) Address() common.Address {
	return t.address
}

// Mint credits amount to account. Faucet operation for the embedded ledger;
// not part of the RewardToken interface.
func (t *MemoryToken) Mint(account common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.credit(account, amount)
}

// BalanceOf returns a copy of account's balance.
func (t *MemoryToken) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if b, ok := t.balances[account]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

// Approve sets spender's allowance over owner's balance, replacing any prior
// allowance.
func (t *MemoryToken) Approve(ctx context.Context, owner, spender common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	byOwner, ok := t.allowances[owner]
	if !ok {
		byOwner = make(map[common.Address]*big.Int)
		t.allowances[owner] = byOwner
	}
	byOwner[spender] = new(big.Int).Set(amount)
	return nil
}

// Transfer moves amount between accounts. The whole operation fails without
// any mutation when the source balance is insufficient.
func (t *MemoryToken) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(from, to, amount)
}

// TransferFrom moves amount from `from` to `to`, consuming spender's
// allowance over `from`'s balance.
func (t *MemoryToken) TransferFrom(ctx context.Context, spender, from, to common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	allowance := t.allowance(from, spender)
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("token: transfer_from %s by %s: %w", from, spender, domain.ErrInsufficientAllowance)
	}
	if err := t.move(from, to, amount); err != nil {
		return err
	}
	allowance.Sub(allowance, amount)
	return nil
}

// move performs the balance update. Caller must hold t.mu.
func (t *MemoryToken) move(from, to common.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("token: negative transfer amount %s", amount)
	}

	src, ok := t.balances[from]
	if !ok || src.Cmp(amount) < 0 {
		return fmt.Errorf("token: transfer %s from %s: %w", amount, from, domain.ErrInsufficientBalance)
	}
	src.Sub(src, amount)
	t.credit(to, amount)
	return nil
}

func (t *MemoryToken) credit(account common.Address, amount *big.Int) {
	if b, ok := t.balances[account]; ok {
		b.Add(b, amount)
		return
	}
	t.balances[account] = new(big.Int).Set(amount)
}

func (t *MemoryToken) allowance(owner, spender common.Address) *big.Int {
	if byOwner, ok := t.allowances[owner]; ok {
		if a, ok := byOwner[spender]; ok {
			return a
		}
	}
	return big.NewInt(0)
}

// Compile-time interface check.
var _ RewardToken = (*MemoryToken)(nil)
