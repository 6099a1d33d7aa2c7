package domain

import (
	"context"
	"time"
)

// ListOpts carries standard pagination and time-range options for list
// queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TriggerStore persists trigger records.
type TriggerStore interface {
	Upsert(ctx context.Context, rec TriggerRecord) error
	GetByID(ctx context.Context, id string) (TriggerRecord, error)
	List(ctx context.Context, opts ListOpts) ([]TriggerRecord, error)
}

// TransitionStore persists the append-only state-transition audit trail.
type TransitionStore interface {
	Append(ctx context.Context, tr Transition) error
	ListByTrigger(ctx context.Context, triggerID string, opts ListOpts) ([]Transition, error)
}
