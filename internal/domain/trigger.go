package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TriggerState represents the risk state of a trigger.
type TriggerState string

const (
	// TriggerStateActive means no qualifying answer has been confirmed;
	// the protected markets operate normally.
	TriggerStateActive TriggerState = "active"

	// TriggerStateFrozen means an affirmative answer has been proposed and
	// is sitting in its dispute window; markets restrict certain operations
	// until the answer resolves.
	TriggerStateFrozen TriggerState = "frozen"

	// TriggerStateTriggered means the oracle confirmed the affirmative
	// answer. Terminal; claim payouts become possible.
	TriggerStateTriggered TriggerState = "triggered"
)

// Market is the protection-market collaborator that consumes a trigger's
// state. Implementations live outside this service (pool accounting); the
// trigger notifies every associated market synchronously on each state
// change.
type Market interface {
	// ID returns a stable identifier for the market.
	ID() string

	// UpdateTriggerState is invoked with the new state after a legal
	// transition. An error aborts the transition entirely.
	UpdateTriggerState(ctx context.Context, state TriggerState) error
}

// Trigger is the read surface shared by all trigger variants.
type Trigger interface {
	// ID returns the trigger's unique identifier.
	ID() string

	// State returns the current risk state.
	State() TriggerState

	// Acknowledged reports whether the trigger's wiring has been validated
	// by a responsible party. Oracle-governed triggers need no manual
	// sign-off and always report true.
	Acknowledged() bool

	// Markets returns the markets this trigger protects.
	Markets() []Market
}

// TriggerRecord is the persisted form of a trigger.
type TriggerRecord struct {
	ID               string
	Question         string
	State            TriggerState
	RequestTimestamp int64
	RefundRecipient  common.Address
	Bond             string // decimal string, token base units
	LivenessSeconds  int64
	MarketIDs        []string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Transition is one audit row of a trigger's state history.
type Transition struct {
	ID         int64
	TriggerID  string
	FromState  TriggerState
	ToState    TriggerState
	Reason     string
	OccurredAt time.Time
}

// SettlementRecord captures the terminal outcome of a query instance. It is
// archived to blob storage when a query settles affirmatively.
type SettlementRecord struct {
	TriggerID        string         `json:"trigger_id"`
	Question         string         `json:"question"`
	RequestTimestamp int64          `json:"request_timestamp"`
	Answer           string         `json:"answer"` // decimal string
	Affirmative      bool           `json:"affirmative"`
	RefundRecipient  common.Address `json:"refund_recipient"`
	SweptAmount      string         `json:"swept_amount"` // decimal string
	SettledAt        time.Time      `json:"settled_at"`
}
