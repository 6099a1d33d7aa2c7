package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/coverbound/triggerd/internal/domain"
	"github.com/coverbound/triggerd/internal/notify"
	"github.com/coverbound/triggerd/internal/trigger"
)

// eventStream is the durable Redis stream that receives every trigger
// lifecycle event in order.
const eventStream = "stream:trigger:events"

// Recorder is the trigger.EventSink used in production wiring. It fans every
// lifecycle event out to the audit store, the signal bus, the notifier, and
// the settlement archive. Every component is optional; failures are logged
// and never propagated back into the trigger, so a flaky side channel cannot
// wedge the state machine. The recorder works entirely from the snapshots
// the events carry and never calls back into a trigger, which dispatches
// events while holding its own lock.
type Recorder struct {
	triggers    domain.TriggerStore
	transitions domain.TransitionStore
	bus         domain.SignalBus
	notifier    *notify.Notifier
	archiver    settlementArchiver
	logger      *slog.Logger
}

// settlementArchiver is the slice of the blob archiver the recorder needs.
type settlementArchiver interface {
	Archive(ctx context.Context, rec domain.SettlementRecord) error
}

// NewRecorder creates a Recorder. Any of the stores, the bus, the notifier,
// and the archiver may be nil.
func NewRecorder(
	triggers domain.TriggerStore,
	transitions domain.TransitionStore,
	bus domain.SignalBus,
	notifier *notify.Notifier,
	archiver settlementArchiver,
	logger *slog.Logger,
) *Recorder {
	return &Recorder{
		triggers:    triggers,
		transitions: transitions,
		bus:         bus,
		notifier:    notifier,
		archiver:    archiver,
		logger:      logger.With(slog.String("component", "recorder")),
	}
}

// StateChanged persists the transition row, refreshes the trigger record,
// and broadcasts the change. A trip to Triggered additionally raises a
// notification.
func (r *Recorder) StateChanged(ctx context.Context, rec domain.TriggerRecord, from, to domain.TriggerState, reason string) {
	if r.transitions != nil {
		err := r.transitions.Append(ctx, domain.Transition{
			TriggerID:  rec.ID,
			FromState:  from,
			ToState:    to,
			Reason:     reason,
			OccurredAt: time.Now().UTC(),
		})
		if err != nil {
			r.logger.ErrorContext(ctx, "append transition failed",
				slog.String("trigger_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	r.upsertRecord(ctx, rec)
	r.broadcast(ctx, rec.ID, map[string]any{
		"type":       "state_change",
		"trigger_id": rec.ID,
		"from":       string(from),
		"to":         string(to),
		"reason":     reason,
	})

	if to == domain.TriggerStateTriggered {
		r.notify(ctx, "triggered",
			fmt.Sprintf("Trigger %s tripped", rec.ID),
			fmt.Sprintf("Trigger %s confirmed its affirmative answer and is now triggered (%s).", rec.ID, reason),
		)
	}
}

// ProposalDisputed broadcasts and notifies; the trigger itself stays frozen
// until the dispute resolves.
func (r *Recorder) ProposalDisputed(ctx context.Context, triggerID string) {
	r.broadcast(ctx, triggerID, map[string]any{
		"type":       "dispute",
		"trigger_id": triggerID,
	})
	r.notify(ctx, "dispute",
		fmt.Sprintf("Proposal disputed on %s", triggerID),
		fmt.Sprintf("The current answer proposal on trigger %s was disputed; awaiting resolution.", triggerID),
	)
}

// QueryResubmitted refreshes the trigger record with its new request
// timestamp and announces the re-query.
func (r *Recorder) QueryResubmitted(ctx context.Context, rec domain.TriggerRecord) {
	r.upsertRecord(ctx, rec)
	r.broadcast(ctx, rec.ID, map[string]any{
		"type":              "requery",
		"trigger_id":        rec.ID,
		"request_timestamp": rec.RequestTimestamp,
	})
	r.notify(ctx, "requery",
		fmt.Sprintf("Query resubmitted for %s", rec.ID),
		fmt.Sprintf("Trigger %s re-armed its oracle query at timestamp %d after a rejected answer.", rec.ID, rec.RequestTimestamp),
	)
}

// QuerySettled archives the terminal settlement record and broadcasts it.
// The trigger record itself was already refreshed by the StateChanged event
// that precedes every affirmative settlement.
func (r *Recorder) QuerySettled(ctx context.Context, rec domain.SettlementRecord) {
	if r.archiver != nil {
		if err := r.archiver.Archive(ctx, rec); err != nil {
			r.logger.ErrorContext(ctx, "archive settlement failed",
				slog.String("trigger_id", rec.TriggerID),
				slog.String("error", err.Error()),
			)
		}
	}

	r.broadcast(ctx, rec.TriggerID, map[string]any{
		"type":              "settlement",
		"trigger_id":        rec.TriggerID,
		"request_timestamp": rec.RequestTimestamp,
		"affirmative":       rec.Affirmative,
		"answer":            rec.Answer,
		"swept_amount":      rec.SweptAmount,
	})
}

// upsertRecord writes the snapshot to the trigger store.
func (r *Recorder) upsertRecord(ctx context.Context, rec domain.TriggerRecord) {
	if r.triggers == nil {
		return
	}
	if err := r.triggers.Upsert(ctx, rec); err != nil {
		r.logger.ErrorContext(ctx, "upsert trigger record failed",
			slog.String("trigger_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}

// broadcast publishes the payload on the trigger's pub/sub channel and
// appends it to the durable event stream.
func (r *Recorder) broadcast(ctx context.Context, triggerID string, payload map[string]any) {
	if r.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.ErrorContext(ctx, "encode event failed",
			slog.String("trigger_id", triggerID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := r.bus.Publish(ctx, "ch:trigger:"+triggerID, data); err != nil {
		r.logger.WarnContext(ctx, "publish event failed",
			slog.String("trigger_id", triggerID),
			slog.String("error", err.Error()),
		)
	}
	if err := r.bus.Append(ctx, eventStream, data); err != nil {
		r.logger.WarnContext(ctx, "append event to stream failed",
			slog.String("trigger_id", triggerID),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Recorder) notify(ctx context.Context, event, title, message string) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Notify(ctx, event, title, message); err != nil {
		r.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

var _ trigger.EventSink = (*Recorder)(nil)
