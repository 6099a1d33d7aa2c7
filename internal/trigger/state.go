package trigger

import (
	"context"
	"fmt"

	"github.com/coverbound/triggerd/internal/domain"
)

// StateMachine holds a trigger's risk state and its associated markets.
// Legal transitions: Active -> Frozen, Frozen -> Triggered, Frozen ->
// Active. Triggered is terminal. The machine is not safe for concurrent
// use; the owning trigger serializes access.
type StateMachine struct {
	state   domain.TriggerState
	markets []domain.Market
}

// NewStateMachine creates a StateMachine in the Active state protecting the
// given markets. The market set is fixed for the machine's lifetime.
func NewStateMachine(markets []domain.Market) *StateMachine {
	return &StateMachine{
		state:   domain.TriggerStateActive,
		markets: markets,
	}
}

// State returns the current risk state.
func (m *StateMachine) State() domain.TriggerState {
	return m.state
}

// Markets returns the protected markets.
func (m *StateMachine) Markets() []domain.Market {
	return m.markets
}

// Transition moves the machine to the requested state. A request for the
// current state is a no-op. An illegal pair fails with ErrIllegalTransition.
// On a real change every market is notified synchronously before the new
// state becomes visible; a market error aborts the transition with the
// state unchanged.
func (m *StateMachine) Transition(ctx context.Context, to domain.TriggerState) error {
	from := m.state
	if to == from {
		return nil
	}
	if !legalTransition(from, to) {
		return fmt.Errorf("trigger: %s -> %s: %w", from, to, domain.ErrIllegalTransition)
	}

	for _, mkt := range m.markets {
		if err := mkt.UpdateTriggerState(ctx, to); err != nil {
			return fmt.Errorf("trigger: notify market %s of %s: %w", mkt.ID(), to, err)
		}
	}

	m.state = to
	return nil
}

// legalTransition reports whether (from, to) is an allowed state pair.
// Nothing leaves Triggered.
func legalTransition(from, to domain.TriggerState) bool {
	switch {
	case from == domain.TriggerStateActive && to == domain.TriggerStateFrozen:
		return true
	case from == domain.TriggerStateFrozen && to == domain.TriggerStateTriggered:
		return true
	case from == domain.TriggerStateFrozen && to == domain.TriggerStateActive:
		return true
	default:
		return false
	}
}
