package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coverbound/triggerd/internal/domain"
)

// TriggerStore implements domain.TriggerStore using PostgreSQL.
type TriggerStore struct {
	pool *pgxpool.Pool
}

// NewTriggerStore creates a new TriggerStore backed by the given connection
// pool.
func NewTriggerStore(pool *pgxpool.Pool) *TriggerStore {
	return &TriggerStore{pool: pool}
}

// Upsert inserts the trigger record or, when the id already exists, updates
// its mutable fields.
func (s *TriggerStore) Upsert(ctx context.Context, rec domain.TriggerRecord) error {
	const query = `
		INSERT INTO triggers
			(id, question, state, request_timestamp, refund_recipient, bond, liveness_seconds, market_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			state             = EXCLUDED.state,
			request_timestamp = EXCLUDED.request_timestamp,
			refund_recipient  = EXCLUDED.refund_recipient,
			updated_at        = NOW()`

	_, err := s.pool.Exec(ctx, query,
		rec.ID,
		rec.Question,
		string(rec.State),
		rec.RequestTimestamp,
		rec.RefundRecipient.Hex(),
		rec.Bond,
		rec.LivenessSeconds,
		rec.MarketIDs,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert trigger %s: %w", rec.ID, err)
	}
	return nil
}

// GetByID returns the trigger record with the given id.
func (s *TriggerStore) GetByID(ctx context.Context, id string) (domain.TriggerRecord, error) {
	const query = `
		SELECT id, question, state, request_timestamp, refund_recipient, bond::TEXT,
		       liveness_seconds, market_ids, created_at, updated_at
		FROM triggers WHERE id = $1`

	rec, err := scanTrigger(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TriggerRecord{}, fmt.Errorf("postgres: trigger %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.TriggerRecord{}, fmt.Errorf("postgres: get trigger %s: %w", id, err)
	}
	return rec, nil
}

// List returns trigger records ordered by creation time, newest first.
func (s *TriggerStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.TriggerRecord, error) {
	query := `
		SELECT id, question, state, request_timestamp, refund_recipient, bond::TEXT,
		       liveness_seconds, market_ids, created_at, updated_at
		FROM triggers WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

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
		return nil, fmt.Errorf("postgres: list triggers: %w", err)
	}
	defer rows.Close()

	var recs []domain.TriggerRecord
	for rows.Next() {
		rec, err := scanTrigger(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trigger: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list triggers rows: %w", err)
	}
	return recs, nil
}

// scanTrigger reads one trigger row from any pgx row source.
func scanTrigger(row pgx.Row) (domain.TriggerRecord, error) {
	var (
		rec       domain.TriggerRecord
		state     string
		recipient string
	)
	err := row.Scan(
		&rec.ID,
		&rec.Question,
		&state,
		&rec.RequestTimestamp,
		&recipient,
		&rec.Bond,
		&rec.LivenessSeconds,
		&rec.MarketIDs,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return domain.TriggerRecord{}, err
	}
	rec.State = domain.TriggerState(state)
	rec.RefundRecipient = common.HexToAddress(recipient)
	return rec, nil
}
