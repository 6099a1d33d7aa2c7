package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/coverbound/triggerd/internal/domain"
	"github.com/coverbound/triggerd/internal/oracle"
	"github.com/coverbound/triggerd/internal/token"
)

// Config carries everything needed to deploy an oracle trigger.
type Config struct {
	// ID identifies the trigger. A UUID is generated when empty.
	ID string

	// Address is the trigger's own token account: the oracle requester
	// and the holder of the escrowed reward balance.
	Address common.Address

	// Oracle is the optimistic oracle collaborator.
	Oracle oracle.Oracle

	// Token is the reward token the query pays its answerer in.
	Token token.RewardToken

	// Question is the immutable human-readable yes/no query text.
	Question string

	// Bond is the stake required to propose or dispute an answer.
	Bond *big.Int

	// Liveness is the dispute window for a proposed answer.
	Liveness time.Duration

	// RefundRecipient receives any leftover reward at settlement. It is
	// overwritten by the caller of a settlement poke.
	RefundRecipient common.Address

	// Markets are the protection markets this trigger guards.
	Markets []domain.Market

	// Sink receives lifecycle events. Defaults to NopSink.
	Sink EventSink

	Logger *slog.Logger

	// Clock overrides the time source used for request timestamps.
	// Defaults to time.Now.
	Clock func() time.Time
}

// OracleTrigger is an oracle-governed trigger. It keeps exactly one query
// outstanding at a time, identified by its request timestamp; callbacks for
// any other query instance are rejected. All public entry points serialize
// on a single mutex and order every fallible external call before any field
// mutation, so a failure leaves no partial state.
type OracleTrigger struct {
	mu sync.Mutex

	id         string
	address    common.Address
	oracle     oracle.Oracle
	oracleAddr common.Address
	token      token.RewardToken
	sm         *StateMachine

	question     []byte
	questionHash common.Hash
	bond         *big.Int
	liveness     time.Duration

	requestTimestamp int64
	refundRecipient  common.Address

	sink   EventSink
	logger *slog.Logger
	now    func() time.Time
}

// NewOracleTrigger deploys a trigger: it validates the configuration,
// starts in the Active state, and immediately submits the first query to
// the oracle. A failed submission fails the deployment.
func NewOracleTrigger(ctx context.Context, cfg Config) (*OracleTrigger, error) {
	if cfg.Oracle == nil {
		return nil, errors.New("trigger: oracle is required")
	}
	if cfg.Token == nil {
		return nil, errors.New("trigger: reward token is required")
	}
	if cfg.Question == "" {
		return nil, errors.New("trigger: question text is required")
	}
	if cfg.Bond == nil || cfg.Bond.Sign() < 0 {
		return nil, errors.New("trigger: bond must be non-negative")
	}
	if cfg.Liveness <= 0 {
		return nil, errors.New("trigger: liveness window must be positive")
	}

	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}
	sink := cfg.Sink
	if sink == nil {
		sink = NopSink{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	question := []byte(cfg.Question)
	t := &OracleTrigger{
		id:              id,
		address:         cfg.Address,
		oracle:          cfg.Oracle,
		oracleAddr:      cfg.Oracle.Address(),
		token:           cfg.Token,
		sm:              NewStateMachine(cfg.Markets),
		question:        question,
		questionHash:    ethcrypto.Keccak256Hash(question),
		bond:            new(big.Int).Set(cfg.Bond),
		liveness:        cfg.Liveness,
		refundRecipient: cfg.RefundRecipient,
		sink:            sink,
		logger:          logger.With(slog.String("component", "oracle_trigger"), slog.String("trigger_id", id)),
		now:             now,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.submitQueryLocked(ctx); err != nil {
		return nil, fmt.Errorf("trigger: submit initial query: %w", err)
	}

	t.logger.InfoContext(ctx, "trigger deployed",
		slog.String("question", cfg.Question),
		slog.Int64("request_timestamp", t.requestTimestamp),
	)
	return t, nil
}

// ID returns the trigger's identifier.
func (t *OracleTrigger) ID() string { return t.id }

// Acknowledged reports true unconditionally: an oracle-governed trigger
// needs no manual sign-off before it may affect markets.
func (t *OracleTrigger) Acknowledged() bool { return true }

// Address returns the trigger's token account, which is also its oracle
// requester identity.
func (t *OracleTrigger) Address() common.Address { return t.address }

// State returns the current risk state.
func (t *OracleTrigger) State() domain.TriggerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sm.State()
}

// Markets returns the protected markets.
func (t *OracleTrigger) Markets() []domain.Market {
	return t.sm.Markets()
}

// Question returns the query text.
func (t *OracleTrigger) Question() string { return string(t.question) }

// Liveness returns the dispute window configured for proposals.
func (t *OracleTrigger) Liveness() time.Duration { return t.liveness }

// RequestTimestamp returns the nonce of the currently outstanding query.
func (t *OracleTrigger) RequestTimestamp() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requestTimestamp
}

// RefundRecipient returns the address that receives leftover reward at
// settlement.
func (t *OracleTrigger) RefundRecipient() common.Address {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.refundRecipient
}

// Record returns the trigger's persistable snapshot.
func (t *OracleTrigger) Record() domain.TriggerRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recordLocked()
}

// recordLocked builds the snapshot without taking the mutex. It is also the
// form handed to the event sink, which runs while the lock is held. Caller
// must hold t.mu.
func (t *OracleTrigger) recordLocked() domain.TriggerRecord {
	marketIDs := make([]string, 0, len(t.sm.Markets()))
	for _, m := range t.sm.Markets() {
		marketIDs = append(marketIDs, m.ID())
	}
	return domain.TriggerRecord{
		ID:               t.id,
		Question:         string(t.question),
		State:            t.sm.State(),
		RequestTimestamp: t.requestTimestamp,
		RefundRecipient:  t.refundRecipient,
		Bond:             t.bond.String(),
		LivenessSeconds:  int64(t.liveness / time.Second),
		MarketIDs:        marketIDs,
	}
}

// submitQueryLocked submits a new query instance: it approves the oracle
// for the trigger's full reward balance, then issues the five configuration
// calls as one logical unit. The stored request timestamp is only advanced
// once every call has succeeded. Caller must hold t.mu.
func (t *OracleTrigger) submitQueryLocked(ctx context.Context) error {
	reward, err := t.token.BalanceOf(ctx, t.address)
	if err != nil {
		return fmt.Errorf("read reward balance: %w", err)
	}
	if err := t.token.Approve(ctx, t.address, t.oracleAddr, reward); err != nil {
		return fmt.Errorf("approve oracle for reward: %w", err)
	}

	ts := t.now().Unix()
	if err := t.oracle.RequestPrice(ctx, t.address, YesOrNoIdentifier, ts, t.question, t.token.Address(), reward); err != nil {
		return fmt.Errorf("request price: %w", err)
	}
	if err := t.oracle.SetEventBased(ctx, t.address, YesOrNoIdentifier, ts, t.question); err != nil {
		return fmt.Errorf("set event based: %w", err)
	}
	if err := t.oracle.SetBond(ctx, t.address, YesOrNoIdentifier, ts, t.question, t.bond); err != nil {
		return fmt.Errorf("set bond: %w", err)
	}
	if err := t.oracle.SetCustomLiveness(ctx, t.address, YesOrNoIdentifier, ts, t.question, t.liveness); err != nil {
		return fmt.Errorf("set custom liveness: %w", err)
	}
	if err := t.oracle.SetCallbacks(ctx, t.address, YesOrNoIdentifier, ts, t.question, t, true, true, true); err != nil {
		return fmt.Errorf("set callbacks: %w", err)
	}

	t.requestTimestamp = ts

	t.logger.InfoContext(ctx, "query submitted",
		slog.Int64("request_timestamp", ts),
		slog.String("reward", reward.String()),
	)
	return nil
}

// authenticateCallback rejects any notification that does not refer to the
// exact query currently outstanding: wrong caller, stale timestamp,
// mismatched question payload, or foreign identifier. Caller must hold
// t.mu.
func (t *OracleTrigger) authenticateCallback(caller common.Address, id oracle.Identifier, timestamp int64, question []byte) error {
	if caller != t.oracleAddr ||
		timestamp != t.requestTimestamp ||
		ethcrypto.Keccak256Hash(question) != t.questionHash ||
		id != YesOrNoIdentifier {
		return fmt.Errorf("trigger %s: callback for %s@%d: %w", t.id, id, timestamp, domain.ErrUnauthorized)
	}
	return nil
}

// PriceProposed handles the oracle's "answer proposed" notification. A
// proposal of anything other than the affirmative value fails, aborting the
// proposer's action entirely; this is what keeps the query perpetually open
// absent a true affirmative. An affirmative proposal freezes the trigger
// for the dispute window.
func (t *OracleTrigger) PriceProposed(ctx context.Context, caller common.Address, id oracle.Identifier, timestamp int64, question []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.authenticateCallback(caller, id, timestamp, question); err != nil {
		return err
	}

	req, err := t.oracle.GetRequest(ctx, t.address, id, timestamp, question)
	if err != nil {
		return fmt.Errorf("trigger %s: fetch request: %w", t.id, err)
	}
	if req.ProposedPrice == nil || req.ProposedPrice.Cmp(AffirmativeAnswer) != 0 {
		return fmt.Errorf("trigger %s: %w", t.id, domain.ErrInvalidProposal)
	}

	from := t.sm.State()
	if err := t.sm.Transition(ctx, domain.TriggerStateFrozen); err != nil {
		return err
	}
	t.sink.StateChanged(ctx, t.recordLocked(), from, domain.TriggerStateFrozen, "affirmative answer proposed")

	t.logger.InfoContext(ctx, "affirmative proposal accepted; trigger frozen",
		slog.Int64("request_timestamp", timestamp),
		slog.String("proposer", req.Proposer.Hex()),
	)
	return nil
}

// PriceDisputed handles the oracle's "answer disputed" notification. It is
// observability only: the trigger stays frozen until settlement resolves
// the dispute.
func (t *OracleTrigger) PriceDisputed(ctx context.Context, caller common.Address, id oracle.Identifier, timestamp int64, question []byte, refund *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.authenticateCallback(caller, id, timestamp, question); err != nil {
		return err
	}

	t.sink.ProposalDisputed(ctx, t.id)

	t.logger.InfoContext(ctx, "proposal disputed",
		slog.Int64("request_timestamp", timestamp),
		slog.String("refund", refund.String()),
	)
	return nil
}

// PriceSettled handles the oracle's "answer settled" notification with the
// final resolved answer. An affirmative answer sweeps the residual reward
// to the refund recipient and trips the trigger terminally; anything else
// thaws the trigger and immediately re-arms the query. This runs inside the
// oracle's own settlement path, so it does nothing whose failure is
// unrelated to the trigger's correctness.
func (t *OracleTrigger) PriceSettled(ctx context.Context, caller common.Address, id oracle.Identifier, timestamp int64, question []byte, price *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.authenticateCallback(caller, id, timestamp, question); err != nil {
		return err
	}

	if price.Cmp(AffirmativeAnswer) == 0 {
		return t.settleAffirmativeLocked(ctx, timestamp, price)
	}
	return t.settleRejectedLocked(ctx, timestamp, price)
}

func (t *OracleTrigger) settleAffirmativeLocked(ctx context.Context, timestamp int64, price *big.Int) error {
	residual, err := t.token.BalanceOf(ctx, t.address)
	if err != nil {
		return fmt.Errorf("trigger %s: read residual reward: %w", t.id, err)
	}

	// Trip the markets before any tokens move: a market that rejects the
	// terminal transition aborts the settlement with the reward untouched.
	from := t.sm.State()
	if err := t.sm.Transition(ctx, domain.TriggerStateTriggered); err != nil {
		return err
	}

	// The transfer cannot fail here: the balance was just read under the
	// same lock, so the sweep is covered.
	if residual.Sign() > 0 {
		if err := t.token.Transfer(ctx, t.address, t.refundRecipient, residual); err != nil {
			return fmt.Errorf("trigger %s: sweep residual reward: %w", t.id, err)
		}
	}

	t.sink.StateChanged(ctx, t.recordLocked(), from, domain.TriggerStateTriggered, "settlement confirmed affirmative")
	t.sink.QuerySettled(ctx, domain.SettlementRecord{
		TriggerID:        t.id,
		Question:         string(t.question),
		RequestTimestamp: timestamp,
		Answer:           price.String(),
		Affirmative:      true,
		RefundRecipient:  t.refundRecipient,
		SweptAmount:      residual.String(),
		SettledAt:        t.now().UTC(),
	})

	t.logger.InfoContext(ctx, "trigger tripped",
		slog.Int64("request_timestamp", timestamp),
		slog.String("swept", residual.String()),
		slog.String("refund_recipient", t.refundRecipient.Hex()),
	)
	return nil
}

func (t *OracleTrigger) settleRejectedLocked(ctx context.Context, timestamp int64, price *big.Int) error {
	from := t.sm.State()
	if err := t.sm.Transition(ctx, domain.TriggerStateActive); err != nil {
		return err
	}
	if from != domain.TriggerStateActive {
		t.sink.StateChanged(ctx, t.recordLocked(), from, domain.TriggerStateActive, "settlement rejected proposal")
	}

	if err := t.submitQueryLocked(ctx); err != nil {
		return fmt.Errorf("trigger %s: resubmit query: %w", t.id, err)
	}
	t.sink.QueryResubmitted(ctx, t.recordLocked())

	t.logger.InfoContext(ctx, "proposal rejected at settlement; query re-armed",
		slog.Int64("old_request_timestamp", timestamp),
		slog.Int64("new_request_timestamp", t.requestTimestamp),
		slog.String("answer", price.String()),
	)
	return nil
}

// PokeSettlement is the permissionless settlement path: any party may force
// finalization once the oracle holds an answer it has not pushed yet. A
// trigger that already tripped returns its state unchanged. When no answer
// is available the poke fails with ErrUnsettleable and mutates nothing.
// Otherwise the caller becomes the refund recipient (compensation for
// paying the settlement cost) and the oracle's settle operation runs,
// synchronously re-entering PriceSettled before control returns here.
func (t *OracleTrigger) PokeSettlement(ctx context.Context, caller common.Address) (domain.TriggerState, error) {
	t.mu.Lock()

	state := t.sm.State()
	if state == domain.TriggerStateTriggered {
		t.mu.Unlock()
		return state, nil
	}

	ts := t.requestTimestamp
	has, err := t.oracle.HasPrice(ctx, t.address, YesOrNoIdentifier, ts, t.question)
	if err != nil {
		t.mu.Unlock()
		return state, fmt.Errorf("trigger %s: query oracle availability: %w", t.id, err)
	}
	if !has {
		t.mu.Unlock()
		return state, fmt.Errorf("trigger %s: %w", t.id, domain.ErrUnsettleable)
	}

	req, err := t.oracle.GetRequest(ctx, t.address, YesOrNoIdentifier, ts, t.question)
	if err != nil {
		t.mu.Unlock()
		return state, fmt.Errorf("trigger %s: fetch request: %w", t.id, err)
	}
	if req.Settled {
		// Settled through another path already; the callback has run and
		// the state is current.
		state = t.sm.State()
		t.mu.Unlock()
		return state, nil
	}

	prevRecipient := t.refundRecipient
	t.refundRecipient = caller

	// Settle re-enters PriceSettled on this trigger before returning, so
	// the mutex must be released for the duration of the call.
	t.mu.Unlock()
	if err := t.oracle.Settle(ctx, t.address, YesOrNoIdentifier, ts, t.question); err != nil {
		// The failed poke must leave nothing behind, including the
		// caller's claim on the residual reward.
		t.mu.Lock()
		if t.refundRecipient == caller {
			t.refundRecipient = prevRecipient
		}
		t.mu.Unlock()
		return t.State(), fmt.Errorf("trigger %s: settle: %w", t.id, err)
	}

	return t.State(), nil
}

// Compile-time interface checks.
var (
	_ domain.Trigger           = (*OracleTrigger)(nil)
	_ oracle.CallbackRecipient = (*OracleTrigger)(nil)
)
