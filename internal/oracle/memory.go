package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/ethereum/go-ethereum/common"

	"github.com/coverbound/triggerd/internal/domain"
	"github.com/coverbound/triggerd/internal/token"
)

// requestKey uniquely identifies a request. The question is keyed by its
// keccak256 hash so callers can pass equivalent byte slices.
type requestKey struct {
	requester    common.Address
	id           Identifier
	timestamp    int64
	questionHash common.Hash
}

// request is the oracle's internal mutable record for one price request.
type request struct {
	question       []byte
	currency       common.Address
	reward         *big.Int
	bond           *big.Int
	liveness       time.Duration
	eventBased     bool
	recipient      CallbackRecipient
	cbProposed     bool
	cbDisputed     bool
	cbSettled      bool
	proposer       common.Address
	disputer       common.Address
	proposedPrice  *big.Int
	resolvedPrice  *big.Int // dispute-resolution outcome, nil until pushed
	proposedAt     time.Time
	disputed       bool
	settled        bool
}

// MemoryOracle is a complete in-process optimistic oracle: propose, dispute
// and settle with bond escrow, event-based reward refunds, and synchronous
// callback delivery. It backs the embedded deployment mode and the test
// harness; a chain-backed Oracle implementation plugs into the same
// interface.
type MemoryOracle struct {
	mu       sync.Mutex
	address  common.Address
	token    token.RewardToken
	now      func() time.Time
	requests map[requestKey]*request
	logger   *slog.Logger
}

// NewMemoryOracle creates a MemoryOracle holding bonds and rewards on the
// given ledger.
func NewMemoryOracle(address common.Address, tok token.RewardToken, logger *slog.Logger) *MemoryOracle {
	return &MemoryOracle{
		address:  address,
		token:    tok,
		now:      time.Now,
		requests: make(map[requestKey]*request),
		logger:   logger.With(slog.String("component", "memory_oracle")),
	}
}

// SetClock overrides the oracle's time source. Intended for tests that need
// to step past a dispute window.
func (o *MemoryOracle) SetClock(now func() time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = now
}

// Address returns the oracle's own address.
func (o *MemoryOracle) Address() common.Address {
	return o.address
}

func (o *MemoryOracle) key(requester common.Address, id Identifier, timestamp int64, question []byte) requestKey {
	return requestKey{
		requester:    requester,
		id:           id,
		timestamp:    timestamp,
		questionHash: ethcrypto.Keccak256Hash(question),
	}
}

// RequestPrice registers a new request and pulls the reward from the
// requester's balance via the oracle's allowance.
func (o *MemoryOracle) RequestPrice(ctx context.Context, requester common.Address, id Identifier, timestamp int64, question []byte, rewardToken common.Address, reward *big.Int) error {
	k := o.key(requester, id, timestamp, question)

	o.mu.Lock()
	if _, ok := o.requests[k]; ok {
		o.mu.Unlock()
		return fmt.Errorf("oracle: request %s@%d: %w", id, timestamp, domain.ErrAlreadyExists)
	}
	o.mu.Unlock()

	if reward.Sign() > 0 {
		if err := o.token.TransferFrom(ctx, o.address, requester, o.address, reward); err != nil {
			return fmt.Errorf("oracle: escrow reward: %w", err)
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.requests[k] = &request{
		question: append([]byte(nil), question...),
		currency: rewardToken,
		reward:   new(big.Int).Set(reward),
		bond:     big.NewInt(0),
	}
	return nil
}

// SetEventBased marks the request event-based.
func (o *MemoryOracle) SetEventBased(ctx context.Context, requester common.Address, id Identifier, timestamp int64, question []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	req, ok := o.requests[o.key(requester, id, timestamp, question)]
	if !ok {
		return ErrRequestNotFound
	}
	req.eventBased = true
	return nil
}

// SetBond sets the propose/dispute stake.
func (o *MemoryOracle) SetBond(ctx context.Context, requester common.Address, id Identifier, timestamp int64, question []byte, bond *big.Int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	req, ok := o.requests[o.key(requester, id, timestamp, question)]
	if !ok {
		return ErrRequestNotFound
	}
	req.bond = new(big.Int).Set(bond)
	return nil
}

// SetCustomLiveness sets the dispute window.
func (o *MemoryOracle) SetCustomLiveness(ctx context.Context, requester common.Address, id Identifier, timestamp int64, question []byte, liveness time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	req, ok := o.requests[o.key(requester, id, timestamp, question)]
	if !ok {
		return ErrRequestNotFound
	}
	req.liveness = liveness
	return nil
}

// SetCallbacks subscribes the recipient to the selected callback classes.
func (o *MemoryOracle) SetCallbacks(ctx context.Context, requester common.Address, id Identifier, timestamp int64, question []byte, recipient CallbackRecipient, onProposed, onDisputed, onSettled bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	req, ok := o.requests[o.key(requester, id, timestamp, question)]
	if !ok {
		return ErrRequestNotFound
	}
	req.recipient = recipient
	req.cbProposed = onProposed
	req.cbDisputed = onDisputed
	req.cbSettled = onSettled
	return nil
}

// ProposePrice stakes the proposer's bond and records price as the proposed
// answer, then delivers the proposed callback. A callback error aborts the
// proposal entirely: the bond is returned and the request stays open.
func (o *MemoryOracle) ProposePrice(ctx context.Context, proposer, requester common.Address, id Identifier, timestamp int64, question []byte, price *big.Int) error {
	k := o.key(requester, id, timestamp, question)

	o.mu.Lock()
	req, ok := o.requests[k]
	if !ok {
		o.mu.Unlock()
		return ErrRequestNotFound
	}
	if req.settled {
		o.mu.Unlock()
		return ErrAlreadySettled
	}
	if req.proposedPrice != nil {
		o.mu.Unlock()
		return ErrAlreadyProposed
	}
	bond := new(big.Int).Set(req.bond)
	recipient, notify := req.recipient, req.cbProposed
	o.mu.Unlock()

	if bond.Sign() > 0 {
		if err := o.token.TransferFrom(ctx, o.address, proposer, o.address, bond); err != nil {
			return fmt.Errorf("oracle: stake proposal bond: %w", err)
		}
	}

	// Stage the proposal so the callback observes it, then roll back if
	// the callback rejects the proposer's action.
	o.mu.Lock()
	req.proposer = proposer
	req.proposedPrice = new(big.Int).Set(price)
	req.proposedAt = o.now()
	o.mu.Unlock()

	if notify && recipient != nil {
		if err := recipient.PriceProposed(ctx, o.address, id, timestamp, question); err != nil {
			o.mu.Lock()
			req.proposer = common.Address{}
			req.proposedPrice = nil
			req.proposedAt = time.Time{}
			o.mu.Unlock()
			if bond.Sign() > 0 {
				if rerr := o.token.Transfer(ctx, o.address, proposer, bond); rerr != nil {
					o.logger.Error("bond refund failed after rejected proposal",
						slog.String("proposer", proposer.Hex()),
						slog.String("error", rerr.Error()),
					)
				}
			}
			return fmt.Errorf("oracle: proposal rejected: %w", err)
		}
	}

	return nil
}

// DisputePrice stakes the disputer's bond against the current proposal. For
// event-based requests the reward is refunded to the requester immediately,
// making a re-query economically cheap. The disputed callback is delivered
// after the refund so the recipient observes the final amounts.
func (o *MemoryOracle) DisputePrice(ctx context.Context, disputer, requester common.Address, id Identifier, timestamp int64, question []byte) error {
	k := o.key(requester, id, timestamp, question)

	o.mu.Lock()
	req, ok := o.requests[k]
	if !ok {
		o.mu.Unlock()
		return ErrRequestNotFound
	}
	if req.settled {
		o.mu.Unlock()
		return ErrAlreadySettled
	}
	if req.proposedPrice == nil {
		o.mu.Unlock()
		return ErrNotProposed
	}
	if req.disputed {
		o.mu.Unlock()
		return ErrAlreadyDisputed
	}
	bond := new(big.Int).Set(req.bond)
	eventBased := req.eventBased
	reward := new(big.Int).Set(req.reward)
	recipient, notify := req.recipient, req.cbDisputed
	o.mu.Unlock()

	if bond.Sign() > 0 {
		if err := o.token.TransferFrom(ctx, o.address, disputer, o.address, bond); err != nil {
			return fmt.Errorf("oracle: stake dispute bond: %w", err)
		}
	}

	refund := big.NewInt(0)
	if eventBased && reward.Sign() > 0 {
		if err := o.token.Transfer(ctx, o.address, requester, reward); err != nil {
			return fmt.Errorf("oracle: refund reward on dispute: %w", err)
		}
		refund = reward
	}

	o.mu.Lock()
	req.disputer = disputer
	req.disputed = true
	if refund.Sign() > 0 {
		req.reward = big.NewInt(0)
	}
	o.mu.Unlock()

	if notify && recipient != nil {
		if err := recipient.PriceDisputed(ctx, o.address, id, timestamp, question, refund); err != nil {
			return fmt.Errorf("oracle: dispute callback: %w", err)
		}
	}

	return nil
}

// Resolve records the dispute-resolution outcome for a disputed request,
// making it settleable. It stands in for the voting process of a real
// oracle's resolution layer.
func (o *MemoryOracle) Resolve(ctx context.Context, requester common.Address, id Identifier, timestamp int64, question []byte, price *big.Int) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	req, ok := o.requests[o.key(requester, id, timestamp, question)]
	if !ok {
		return ErrRequestNotFound
	}
	if !req.disputed {
		return ErrNotProposed
	}
	if req.settled {
		return ErrAlreadySettled
	}
	req.resolvedPrice = new(big.Int).Set(price)
	return nil
}

// HasPrice reports whether the request has a finalizable answer.
func (o *MemoryOracle) HasPrice(ctx context.Context, requester common.Address, id Identifier, timestamp int64, question []byte) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	req, ok := o.requests[o.key(requester, id, timestamp, question)]
	if !ok {
		return false, ErrRequestNotFound
	}
	return o.hasPriceLocked(req), nil
}

func (o *MemoryOracle) hasPriceLocked(req *request) bool {
	if req.settled {
		return true
	}
	if req.disputed {
		return req.resolvedPrice != nil
	}
	if req.proposedPrice == nil {
		return false
	}
	return !o.now().Before(req.proposedAt.Add(req.liveness))
}

// GetRequest returns a snapshot of the request.
func (o *MemoryOracle) GetRequest(ctx context.Context, requester common.Address, id Identifier, timestamp int64, question []byte) (Request, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	req, ok := o.requests[o.key(requester, id, timestamp, question)]
	if !ok {
		return Request{}, ErrRequestNotFound
	}

	out := Request{
		Requester:      requester,
		Proposer:       req.proposer,
		Disputer:       req.disputer,
		Currency:       req.currency,
		Settled:        req.settled,
		EventBased:     req.eventBased,
		Reward:         new(big.Int).Set(req.reward),
		Bond:           new(big.Int).Set(req.bond),
		CustomLiveness: req.liveness,
	}
	if req.proposedPrice != nil {
		out.ProposedPrice = new(big.Int).Set(req.proposedPrice)
	}
	if req.resolvedPrice != nil {
		out.ResolvedPrice = new(big.Int).Set(req.resolvedPrice)
	}
	return out, nil
}

// Settle finalizes the request. The settled callback runs synchronously
// before the request is marked settled and bonds are paid out, so a
// callback error leaves the request open. The callback may re-enter the
// oracle (a rejected answer makes the recipient submit a fresh request),
// which is why no lock is held across it.
func (o *MemoryOracle) Settle(ctx context.Context, requester common.Address, id Identifier, timestamp int64, question []byte) error {
	k := o.key(requester, id, timestamp, question)

	o.mu.Lock()
	req, ok := o.requests[k]
	if !ok {
		o.mu.Unlock()
		return ErrRequestNotFound
	}
	if req.settled {
		o.mu.Unlock()
		return ErrAlreadySettled
	}
	if !o.hasPriceLocked(req) {
		o.mu.Unlock()
		return fmt.Errorf("oracle: settle %s@%d: %w", id, timestamp, domain.ErrUnsettleable)
	}

	final := req.proposedPrice
	if req.disputed {
		final = req.resolvedPrice
	}
	finalPrice := new(big.Int).Set(final)
	recipient, notify := req.recipient, req.cbSettled
	o.mu.Unlock()

	if notify && recipient != nil {
		if err := recipient.PriceSettled(ctx, o.address, id, timestamp, question, finalPrice); err != nil {
			return fmt.Errorf("oracle: settled callback: %w", err)
		}
	}

	o.mu.Lock()
	if req.settled {
		o.mu.Unlock()
		return ErrAlreadySettled
	}
	req.settled = true
	req.resolvedPrice = new(big.Int).Set(finalPrice)
	payouts := o.settlementPayouts(requester, req, finalPrice)
	o.mu.Unlock()

	for _, p := range payouts {
		if err := o.token.Transfer(ctx, o.address, p.to, p.amount); err != nil {
			o.logger.Error("settlement payout failed",
				slog.String("to", p.to.Hex()),
				slog.String("amount", p.amount.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	return nil
}

type payout struct {
	to     common.Address
	amount *big.Int
}

// settlementPayouts computes bond and reward distribution: an undisputed
// proposer recovers their bond plus the reward; a disputed request pays
// both bonds to whichever side the resolution agreed with, and any reward
// still escrowed follows the proposer only when the proposal stood.
// Caller must hold o.mu.
func (o *MemoryOracle) settlementPayouts(requester common.Address, req *request, finalPrice *big.Int) []payout {
	var payouts []payout

	if !req.disputed {
		total := new(big.Int).Add(req.bond, req.reward)
		if total.Sign() > 0 {
			payouts = append(payouts, payout{to: req.proposer, amount: total})
		}
		return payouts
	}

	bothBonds := new(big.Int).Mul(req.bond, big.NewInt(2))
	proposerWon := req.proposedPrice != nil && finalPrice.Cmp(req.proposedPrice) == 0

	winner := req.disputer
	if proposerWon {
		winner = req.proposer
	}
	if bothBonds.Sign() > 0 {
		payouts = append(payouts, payout{to: winner, amount: bothBonds})
	}

	if req.reward.Sign() > 0 {
		rewardTo := requester
		if proposerWon {
			rewardTo = req.proposer
		}
		payouts = append(payouts, payout{to: rewardTo, amount: new(big.Int).Set(req.reward)})
	}

	return payouts
}

// Compile-time interface check.
var _ Oracle = (*MemoryOracle)(nil)
