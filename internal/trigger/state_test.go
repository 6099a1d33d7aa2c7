package trigger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverbound/triggerd/internal/domain"
)

// fakeMarket records every state notification and can be armed to fail.
type fakeMarket struct {
	id      string
	updates []domain.TriggerState
	failErr error
}

func (m *fakeMarket) ID() string { return m.id }

func (m *fakeMarket) UpdateTriggerState(ctx context.Context, state domain.TriggerState) error {
	if m.failErr != nil {
		return m.failErr
	}
	m.updates = append(m.updates, state)
	return nil
}

func TestStateMachine_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		from    domain.TriggerState
		to      domain.TriggerState
		wantErr bool
	}{
		{name: "active_to_frozen", from: domain.TriggerStateActive, to: domain.TriggerStateFrozen},
		{name: "frozen_to_triggered", from: domain.TriggerStateFrozen, to: domain.TriggerStateTriggered},
		{name: "frozen_to_active", from: domain.TriggerStateFrozen, to: domain.TriggerStateActive},
		{name: "active_to_triggered", from: domain.TriggerStateActive, to: domain.TriggerStateTriggered, wantErr: true},
		{name: "triggered_to_active", from: domain.TriggerStateTriggered, to: domain.TriggerStateActive, wantErr: true},
		{name: "triggered_to_frozen", from: domain.TriggerStateTriggered, to: domain.TriggerStateFrozen, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := NewStateMachine(nil)
			sm.state = tt.from

			err := sm.Transition(context.Background(), tt.to)
			if tt.wantErr {
				require.ErrorIs(t, err, domain.ErrIllegalTransition)
				assert.Equal(t, tt.from, sm.State())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, sm.State())
		})
	}
}

func TestStateMachine_EqualStateIsNoOp(t *testing.T) {
	mkt := &fakeMarket{id: "m1"}
	sm := NewStateMachine([]domain.Market{mkt})

	require.NoError(t, sm.Transition(context.Background(), domain.TriggerStateActive))
	assert.Equal(t, domain.TriggerStateActive, sm.State())
	assert.Empty(t, mkt.updates, "equal-state request must not notify markets")
}

func TestStateMachine_NotifiesAllMarkets(t *testing.T) {
	m1 := &fakeMarket{id: "m1"}
	m2 := &fakeMarket{id: "m2"}
	sm := NewStateMachine([]domain.Market{m1, m2})

	require.NoError(t, sm.Transition(context.Background(), domain.TriggerStateFrozen))

	assert.Equal(t, []domain.TriggerState{domain.TriggerStateFrozen}, m1.updates)
	assert.Equal(t, []domain.TriggerState{domain.TriggerStateFrozen}, m2.updates)
}

func TestStateMachine_MarketErrorAbortsTransition(t *testing.T) {
	boom := errors.New("pool unavailable")
	m1 := &fakeMarket{id: "m1"}
	m2 := &fakeMarket{id: "m2", failErr: boom}
	sm := NewStateMachine([]domain.Market{m1, m2})

	err := sm.Transition(context.Background(), domain.TriggerStateFrozen)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, domain.TriggerStateActive, sm.State())
}

func TestStateMachine_TriggeredIsTerminal(t *testing.T) {
	sm := NewStateMachine(nil)
	require.NoError(t, sm.Transition(context.Background(), domain.TriggerStateFrozen))
	require.NoError(t, sm.Transition(context.Background(), domain.TriggerStateTriggered))

	for _, to := range []domain.TriggerState{domain.TriggerStateActive, domain.TriggerStateFrozen} {
		err := sm.Transition(context.Background(), to)
		require.ErrorIs(t, err, domain.ErrIllegalTransition)
		assert.Equal(t, domain.TriggerStateTriggered, sm.State())
	}
}
