package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coverbound/triggerd/internal/domain"
)

// TransitionStore implements domain.TransitionStore using PostgreSQL.
type TransitionStore struct {
	pool *pgxpool.Pool
}

// NewTransitionStore creates a new TransitionStore backed by the given
// connection pool.
func NewTransitionStore(pool *pgxpool.Pool) *TransitionStore {
	return &TransitionStore{pool: pool}
}

// Append records one state transition. The audit trail is append-only.
func (s *TransitionStore) Append(ctx context.Context, tr domain.Transition) error {
	const query = `
		INSERT INTO trigger_transitions (trigger_id, from_state, to_state, reason)
		VALUES ($1, $2, $3, $4)`

	_, err := s.pool.Exec(ctx, query,
		tr.TriggerID,
		string(tr.FromState),
		string(tr.ToState),
		tr.Reason,
	)
	if err != nil {
		return fmt.Errorf("postgres: append transition for %s: %w", tr.TriggerID, err)
	}
	return nil
}

// ListByTrigger returns a trigger's transitions in chronological order.
func (s *TransitionStore) ListByTrigger(ctx context.Context, triggerID string, opts domain.ListOpts) ([]domain.Transition, error) {
	query := `
		SELECT id, trigger_id, from_state, to_state, reason, occurred_at
		FROM trigger_transitions WHERE trigger_id = $1`
	args := []any{triggerID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND occurred_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND occurred_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY occurred_at ASC, id ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transitions for %s: %w", triggerID, err)
	}
	defer rows.Close()

	var trs []domain.Transition
	for rows.Next() {
		var (
			tr   domain.Transition
			from string
			to   string
		)
		if err := rows.Scan(&tr.ID, &tr.TriggerID, &from, &to, &tr.Reason, &tr.OccurredAt); err != nil {
			return nil, fmt.Errorf("postgres: scan transition: %w", err)
		}
		tr.FromState = domain.TriggerState(from)
		tr.ToState = domain.TriggerState(to)
		trs = append(trs, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list transitions rows: %w", err)
	}
	return trs, nil
}

// Compile-time interface checks.
var (
	_ domain.TriggerStore    = (*TriggerStore)(nil)
	_ domain.TransitionStore = (*TransitionStore)(nil)
)
