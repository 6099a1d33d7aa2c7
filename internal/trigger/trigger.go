// Package trigger implements the oracle-governed trigger: a state machine
// that freezes its protection markets on a provisionally affirmative oracle
// answer and irreversibly trips them once the answer is confirmed, re-arming
// its query forever until that happens.
package trigger

import (
	"context"
	"math/big"

	"github.com/coverbound/triggerd/internal/domain"
	"github.com/coverbound/triggerd/internal/oracle"
)

// YesOrNoIdentifier is the query-kind tag shared by every oracle trigger.
var YesOrNoIdentifier = oracle.NewIdentifier("YES_OR_NO_QUERY")

// AffirmativeAnswer is the single fixed value meaning "yes" in the query's
// fixed-point answer encoding (1e18). No other proposed value may ever
// finalize a query instance.
var AffirmativeAnswer = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// EventSink receives the trigger's lifecycle events for observability and
// persistence. Sink implementations must not block settlement correctness;
// the trigger treats them as fire-and-forget. Events carry value snapshots
// taken after the change committed: the trigger still holds its own lock
// while dispatching, so implementations must never call back into it.
type EventSink interface {
	// StateChanged fires after every real state transition with the
	// trigger's post-transition record.
	StateChanged(ctx context.Context, rec domain.TriggerRecord, from, to domain.TriggerState, reason string)

	// ProposalDisputed fires when the current proposal is disputed. The
	// trigger stays frozen until the dispute resolves.
	ProposalDisputed(ctx context.Context, triggerID string)

	// QueryResubmitted fires when a rejected answer re-arms the query; the
	// record carries the fresh request timestamp.
	QueryResubmitted(ctx context.Context, rec domain.TriggerRecord)

	// QuerySettled fires with the terminal record of a settled query.
	QuerySettled(ctx context.Context, rec domain.SettlementRecord)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) StateChanged(context.Context, domain.TriggerRecord, domain.TriggerState, domain.TriggerState, string) {
}
func (NopSink) ProposalDisputed(context.Context, string)               {}
func (NopSink) QueryResubmitted(context.Context, domain.TriggerRecord) {}
func (NopSink) QuerySettled(context.Context, domain.SettlementRecord) {
}
