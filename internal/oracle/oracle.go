// Package oracle defines the optimistic-oracle collaborator contract:
// price requests keyed by (requester, identifier, timestamp, question),
// answer economics configuration, and the three callback classes a
// requester can subscribe to.
package oracle

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrRequestNotFound = errors.New("oracle: request not found")
	ErrAlreadyProposed = errors.New("oracle: answer already proposed")
	ErrNotProposed     = errors.New("oracle: no answer proposed")
	ErrAlreadyDisputed = errors.New("oracle: answer already disputed")
	ErrAlreadySettled  = errors.New("oracle: request already settled")
)

// Identifier tags the kind of question a request asks. It is a fixed-width
// right-padded ASCII tag, shared by every instance of a trigger type.
type Identifier [32]byte

// NewIdentifier builds an Identifier from an ASCII tag. Tags longer than 32
// bytes are truncated.
func NewIdentifier(tag string) Identifier {
	var id Identifier
	copy(id[:], tag)
	return id
}

// String returns the tag with trailing padding stripped.
func (id Identifier) String() string {
	return strings.TrimRight(string(id[:]), "\x00")
}

// Request is the oracle's view of one price request.
type Request struct {
	Requester      common.Address
	Proposer       common.Address
	Disputer       common.Address
	Currency       common.Address
	Settled        bool
	EventBased     bool
	ProposedPrice  *big.Int // nil until proposed
	ResolvedPrice  *big.Int // nil until resolvable
	Reward         *big.Int
	Bond           *big.Int
	CustomLiveness time.Duration
}

// CallbackRecipient receives the oracle's asynchronous notifications.
// Every method carries the caller's address so recipients can verify the
// notification truly originates from their configured oracle.
type CallbackRecipient interface {
	// PriceProposed fires when an answer is proposed for the request.
	// An error aborts the proposer's action entirely.
	PriceProposed(ctx context.Context, caller common.Address, id Identifier, timestamp int64, question []byte) error

	// PriceDisputed fires when a proposed answer is disputed. refund is
	// the reward amount returned to the requester for event-based
	// requests.
	PriceDisputed(ctx context.Context, caller common.Address, id Identifier, timestamp int64, question []byte, refund *big.Int) error

	// PriceSettled fires when the request settles with its final answer.
	// An error aborts the settlement.
	PriceSettled(ctx context.Context, caller common.Address, id Identifier, timestamp int64, question []byte, price *big.Int) error
}

// Oracle is the external optimistic oracle. Requests are identified by the
// tuple (requester, id, timestamp, question); the requester address is
// explicit on every operation since this service carries no ambient caller
// identity.
type Oracle interface {
	// Address returns the oracle's own address, which is the caller
	// address on every callback it delivers.
	Address() common.Address

	// RequestPrice registers a new price request and escrows the reward
	// from the requester's balance (via allowance).
	RequestPrice(ctx context.Context, requester common.Address, id Identifier, timestamp int64, question []byte, rewardToken common.Address, reward *big.Int) error

	// SetEventBased marks the request event-based: no default "too early"
	// answer exists and a dispute automatically refunds the reward.
	SetEventBased(ctx context.Context, requester common.Address, id Identifier, timestamp int64, question []byte) error

	// SetBond sets the stake required to propose or dispute an answer.
	SetBond(ctx context.Context, requester common.Address, id Identifier, timestamp int64, question []byte, bond *big.Int) error

	// SetCustomLiveness sets the dispute window for a proposed answer.
	SetCustomLiveness(ctx context.Context, requester common.Address, id Identifier, timestamp int64, question []byte, liveness time.Duration) error

	// SetCallbacks subscribes the recipient to the selected callback
	// classes for the request.
	SetCallbacks(ctx context.Context, requester common.Address, id Identifier, timestamp int64, question []byte, recipient CallbackRecipient, onProposed, onDisputed, onSettled bool) error

	// HasPrice reports whether the request has a finalizable answer:
	// settled, past its dispute window, or dispute-resolved.
	HasPrice(ctx context.Context, requester common.Address, id Identifier, timestamp int64, question []byte) (bool, error)

	// GetRequest returns a snapshot of the request.
	GetRequest(ctx context.Context, requester common.Address, id Identifier, timestamp int64, question []byte) (Request, error)

	// Settle finalizes the request, pays out bonds and reward, and
	// synchronously invokes the recipient's PriceSettled callback before
	// returning.
	Settle(ctx context.Context, requester common.Address, id Identifier, timestamp int64, question []byte) error
}
