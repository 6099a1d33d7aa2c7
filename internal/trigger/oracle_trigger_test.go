package trigger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverbound/triggerd/internal/domain"
	"github.com/coverbound/triggerd/internal/oracle"
	"github.com/coverbound/triggerd/internal/token"
)

const testQuestion = "Was there a hack of protocol X before 2026-12-31?"

var (
	tokenAddr     = common.HexToAddress("0x0000000000000000000000000000000000000001")
	oracleAddr    = common.HexToAddress("0x0000000000000000000000000000000000000002")
	triggerAddr   = common.HexToAddress("0x0000000000000000000000000000000000000003")
	proposerAddr  = common.HexToAddress("0x0000000000000000000000000000000000000004")
	disputerAddr  = common.HexToAddress("0x0000000000000000000000000000000000000005")
	pokerAddr     = common.HexToAddress("0x0000000000000000000000000000000000000006")
	defaultRefund = common.HexToAddress("0x0000000000000000000000000000000000000007")
)

// fakeClock is a controllable time source shared by the trigger and the
// oracle so tests can step past the dispute window.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// recordingSink captures trigger lifecycle events.
type recordingSink struct {
	transitions []string
	disputes    int
	requeries   []int64
	settlements []domain.SettlementRecord
}

func (s *recordingSink) StateChanged(_ context.Context, _ domain.TriggerRecord, from, to domain.TriggerState, _ string) {
	s.transitions = append(s.transitions, string(from)+"->"+string(to))
}
func (s *recordingSink) ProposalDisputed(context.Context, string) { s.disputes++ }
func (s *recordingSink) QueryResubmitted(_ context.Context, rec domain.TriggerRecord) {
	s.requeries = append(s.requeries, rec.RequestTimestamp)
}
func (s *recordingSink) QuerySettled(_ context.Context, rec domain.SettlementRecord) {
	s.settlements = append(s.settlements, rec)
}

type harness struct {
	clock  *fakeClock
	token  *token.MemoryToken
	oracle *oracle.MemoryOracle
	sink   *recordingSink
	market *fakeMarket
	trig   *OracleTrigger

	reward *big.Int
	bond   *big.Int
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := newFakeClock()

	tok := token.NewMemoryToken(tokenAddr)
	orc := oracle.NewMemoryOracle(oracleAddr, tok, logger)
	orc.SetClock(clock.Now)

	h := &harness{
		clock:  clock,
		token:  tok,
		oracle: orc,
		sink:   &recordingSink{},
		market: &fakeMarket{id: "market-1"},
		reward: big.NewInt(1_000_000),
		bond:   big.NewInt(50_000),
	}

	tok.Mint(triggerAddr, h.reward)

	trig, err := NewOracleTrigger(context.Background(), Config{
		ID:              "trigger-1",
		Address:         triggerAddr,
		Oracle:          orc,
		Token:           tok,
		Question:        testQuestion,
		Bond:            h.bond,
		Liveness:        time.Hour,
		RefundRecipient: defaultRefund,
		Markets:         []domain.Market{h.market},
		Sink:            h.sink,
		Logger:          logger,
		Clock:           clock.Now,
	})
	require.NoError(t, err)
	h.trig = trig
	return h
}

// fund credits amount to account and approves the oracle to pull it.
func (h *harness) fund(t *testing.T, account common.Address, amount *big.Int) {
	t.Helper()
	h.token.Mint(account, amount)
	require.NoError(t, h.token.Approve(context.Background(), account, oracleAddr, amount))
}

func (h *harness) propose(proposer common.Address, price *big.Int) error {
	return h.oracle.ProposePrice(context.Background(), proposer, triggerAddr,
		YesOrNoIdentifier, h.trig.RequestTimestamp(), []byte(testQuestion), price)
}

func (h *harness) dispute(disputer common.Address) error {
	return h.oracle.DisputePrice(context.Background(), disputer, triggerAddr,
		YesOrNoIdentifier, h.trig.RequestTimestamp(), []byte(testQuestion))
}

func (h *harness) resolve(price *big.Int) error {
	return h.oracle.Resolve(context.Background(), triggerAddr,
		YesOrNoIdentifier, h.trig.RequestTimestamp(), []byte(testQuestion), price)
}

func (h *harness) balance(t *testing.T, account common.Address) *big.Int {
	t.Helper()
	b, err := h.token.BalanceOf(context.Background(), account)
	require.NoError(t, err)
	return b
}

func TestOracleTrigger_DeploymentSubmitsFirstQuery(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, domain.TriggerStateActive, h.trig.State())
	assert.True(t, h.trig.Acknowledged())
	assert.Equal(t, h.clock.Now().Unix(), h.trig.RequestTimestamp())

	// The full reward balance is escrowed with the oracle at submission.
	assert.Zero(t, h.balance(t, triggerAddr).Sign())

	req, err := h.oracle.GetRequest(context.Background(), triggerAddr,
		YesOrNoIdentifier, h.trig.RequestTimestamp(), []byte(testQuestion))
	require.NoError(t, err)
	assert.True(t, req.EventBased)
	assert.Equal(t, 0, req.Reward.Cmp(h.reward))
	assert.Equal(t, 0, req.Bond.Cmp(h.bond))
	assert.Equal(t, time.Hour, req.CustomLiveness)
}

func TestOracleTrigger_NegativeProposalRejected(t *testing.T) {
	h := newHarness(t)
	h.fund(t, proposerAddr, h.bond)

	err := h.propose(proposerAddr, big.NewInt(0))
	require.ErrorIs(t, err, domain.ErrInvalidProposal)

	// The proposer's whole action aborts: state untouched, bond returned,
	// query still open.
	assert.Equal(t, domain.TriggerStateActive, h.trig.State())
	assert.Equal(t, 0, h.balance(t, proposerAddr).Cmp(h.bond))
	assert.Empty(t, h.market.updates)

	// Repeated attempts behave identically.
	require.NoError(t, h.token.Approve(context.Background(), proposerAddr, oracleAddr, h.bond))
	err = h.propose(proposerAddr, big.NewInt(42))
	require.ErrorIs(t, err, domain.ErrInvalidProposal)
	assert.Equal(t, domain.TriggerStateActive, h.trig.State())
}

func TestOracleTrigger_AffirmativeProposalFreezes(t *testing.T) {
	h := newHarness(t)
	h.fund(t, proposerAddr, h.bond)

	require.NoError(t, h.propose(proposerAddr, AffirmativeAnswer))

	assert.Equal(t, domain.TriggerStateFrozen, h.trig.State())
	assert.Equal(t, []domain.TriggerState{domain.TriggerStateFrozen}, h.market.updates)
	assert.Equal(t, []string{"active->frozen"}, h.sink.transitions)
}

func TestOracleTrigger_UndisputedAffirmativeSettlement(t *testing.T) {
	h := newHarness(t)
	h.fund(t, proposerAddr, h.bond)
	require.NoError(t, h.propose(proposerAddr, AffirmativeAnswer))

	h.clock.Advance(time.Hour + time.Second)

	state, err := h.trig.PokeSettlement(context.Background(), pokerAddr)
	require.NoError(t, err)
	assert.Equal(t, domain.TriggerStateTriggered, state)
	assert.Equal(t, domain.TriggerStateTriggered, h.trig.State())
	assert.Equal(t, pokerAddr, h.trig.RefundRecipient())

	// Reward balance fully drained from the trigger.
	assert.Zero(t, h.balance(t, triggerAddr).Sign())

	// Undisputed proposer recovers bond plus reward.
	want := new(big.Int).Add(h.bond, h.reward)
	assert.Equal(t, 0, h.balance(t, proposerAddr).Cmp(want))

	require.Len(t, h.sink.settlements, 1)
	assert.True(t, h.sink.settlements[0].Affirmative)

	// Terminal: notified markets saw frozen then triggered.
	assert.Equal(t, []domain.TriggerState{
		domain.TriggerStateFrozen,
		domain.TriggerStateTriggered,
	}, h.market.updates)
}

func TestOracleTrigger_PokeOnTriggeredIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.fund(t, proposerAddr, h.bond)
	require.NoError(t, h.propose(proposerAddr, AffirmativeAnswer))
	h.clock.Advance(time.Hour + time.Second)

	_, err := h.trig.PokeSettlement(context.Background(), pokerAddr)
	require.NoError(t, err)
	recipient := h.trig.RefundRecipient()

	state, err := h.trig.PokeSettlement(context.Background(), disputerAddr)
	require.NoError(t, err)
	assert.Equal(t, domain.TriggerStateTriggered, state)
	assert.Equal(t, recipient, h.trig.RefundRecipient(), "idempotent poke must not rewrite the refund recipient")
}

func TestOracleTrigger_PokeBeforeAnswerFails(t *testing.T) {
	h := newHarness(t)

	state, err := h.trig.PokeSettlement(context.Background(), pokerAddr)
	require.ErrorIs(t, err, domain.ErrUnsettleable)
	assert.Equal(t, domain.TriggerStateActive, state)
	assert.Equal(t, domain.TriggerStateActive, h.trig.State())
	assert.Equal(t, defaultRefund, h.trig.RefundRecipient(), "failed poke must not mutate the refund recipient")
}

func TestOracleTrigger_PokeDuringDisputeWindowFails(t *testing.T) {
	h := newHarness(t)
	h.fund(t, proposerAddr, h.bond)
	require.NoError(t, h.propose(proposerAddr, AffirmativeAnswer))

	// Window still open: nothing to settle yet.
	_, err := h.trig.PokeSettlement(context.Background(), pokerAddr)
	require.ErrorIs(t, err, domain.ErrUnsettleable)
	assert.Equal(t, domain.TriggerStateFrozen, h.trig.State())
}

func TestOracleTrigger_DisputeThenRejectedSettlement(t *testing.T) {
	h := newHarness(t)
	h.fund(t, proposerAddr, h.bond)
	h.fund(t, disputerAddr, h.bond)

	require.NoError(t, h.propose(proposerAddr, AffirmativeAnswer))
	oldTS := h.trig.RequestTimestamp()

	require.NoError(t, h.dispute(disputerAddr))
	assert.Equal(t, 1, h.sink.disputes)
	assert.Equal(t, domain.TriggerStateFrozen, h.trig.State(), "dispute alone must not thaw the trigger")

	// Event-based dispute refunded the reward to the trigger.
	assert.Equal(t, 0, h.balance(t, triggerAddr).Cmp(h.reward))

	require.NoError(t, h.resolve(big.NewInt(0)))
	h.clock.Advance(time.Minute)

	state, err := h.trig.PokeSettlement(context.Background(), pokerAddr)
	require.NoError(t, err)
	assert.Equal(t, domain.TriggerStateActive, state)

	// A fresh query exists with a new timestamp and the reward re-escrowed.
	newTS := h.trig.RequestTimestamp()
	assert.Greater(t, newTS, oldTS)
	assert.Zero(t, h.balance(t, triggerAddr).Sign())
	assert.Equal(t, []int64{newTS}, h.sink.requeries)

	req, err := h.oracle.GetRequest(context.Background(), triggerAddr,
		YesOrNoIdentifier, newTS, []byte(testQuestion))
	require.NoError(t, err)
	assert.Equal(t, 0, req.Reward.Cmp(h.reward))

	// Disputer won: both bonds.
	wantDisputer := new(big.Int).Mul(h.bond, big.NewInt(2))
	assert.Equal(t, 0, h.balance(t, disputerAddr).Cmp(wantDisputer))
}

func TestOracleTrigger_DisputeThenConfirmedSettlement(t *testing.T) {
	h := newHarness(t)
	h.fund(t, proposerAddr, h.bond)
	h.fund(t, disputerAddr, h.bond)

	require.NoError(t, h.propose(proposerAddr, AffirmativeAnswer))
	require.NoError(t, h.dispute(disputerAddr))
	require.NoError(t, h.resolve(AffirmativeAnswer))
	h.clock.Advance(time.Minute)

	state, err := h.trig.PokeSettlement(context.Background(), pokerAddr)
	require.NoError(t, err)
	assert.Equal(t, domain.TriggerStateTriggered, state)

	// The reward refunded at dispute time was swept to the poker.
	assert.Equal(t, 0, h.balance(t, pokerAddr).Cmp(h.reward))
	assert.Zero(t, h.balance(t, triggerAddr).Sign())

	require.Len(t, h.sink.settlements, 1)
	rec := h.sink.settlements[0]
	assert.True(t, rec.Affirmative)
	assert.Equal(t, pokerAddr, rec.RefundRecipient)
	assert.Equal(t, h.reward.String(), rec.SweptAmount)
}

func TestOracleTrigger_MarketErrorAbortsSettlement(t *testing.T) {
	h := newHarness(t)
	h.fund(t, proposerAddr, h.bond)
	h.fund(t, disputerAddr, h.bond)

	require.NoError(t, h.propose(proposerAddr, AffirmativeAnswer))
	require.NoError(t, h.dispute(disputerAddr))
	require.NoError(t, h.resolve(AffirmativeAnswer))
	h.clock.Advance(time.Minute)

	// The dispute refunded the reward to the trigger's account.
	require.Equal(t, 0, h.balance(t, triggerAddr).Cmp(h.reward))

	h.market.failErr = errors.New("market unavailable")
	state, err := h.trig.PokeSettlement(context.Background(), pokerAddr)
	require.Error(t, err)
	assert.Equal(t, domain.TriggerStateFrozen, state)
	assert.Equal(t, domain.TriggerStateFrozen, h.trig.State())

	// Nothing moved: the residual stays at the trigger, the poker gets
	// nothing, and the failed poke's claim on the refund is rolled back.
	assert.Equal(t, 0, h.balance(t, triggerAddr).Cmp(h.reward))
	assert.Zero(t, h.balance(t, pokerAddr).Sign())
	assert.Equal(t, defaultRefund, h.trig.RefundRecipient())
	assert.Empty(t, h.sink.settlements)

	// Once the market recovers the same poke completes end to end.
	h.market.failErr = nil
	state, err = h.trig.PokeSettlement(context.Background(), pokerAddr)
	require.NoError(t, err)
	assert.Equal(t, domain.TriggerStateTriggered, state)
	assert.Equal(t, pokerAddr, h.trig.RefundRecipient())
	assert.Equal(t, 0, h.balance(t, pokerAddr).Cmp(h.reward))
	assert.Zero(t, h.balance(t, triggerAddr).Sign())
}

func TestOracleTrigger_CallbackAuthentication(t *testing.T) {
	h := newHarness(t)
	ts := h.trig.RequestTimestamp()

	tests := []struct {
		name     string
		caller   common.Address
		id       oracle.Identifier
		ts       int64
		question []byte
	}{
		{name: "wrong_caller", caller: proposerAddr, id: YesOrNoIdentifier, ts: ts, question: []byte(testQuestion)},
		{name: "stale_timestamp", caller: oracleAddr, id: YesOrNoIdentifier, ts: ts - 1, question: []byte(testQuestion)},
		{name: "wrong_question", caller: oracleAddr, id: YesOrNoIdentifier, ts: ts, question: []byte("another question?")},
		{name: "wrong_identifier", caller: oracleAddr, id: oracle.NewIdentifier("NUMERICAL"), ts: ts, question: []byte(testQuestion)},
	}

	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.trig.PriceProposed(ctx, tt.caller, tt.id, tt.ts, tt.question)
			require.ErrorIs(t, err, domain.ErrUnauthorized)

			err = h.trig.PriceDisputed(ctx, tt.caller, tt.id, tt.ts, tt.question, big.NewInt(0))
			require.ErrorIs(t, err, domain.ErrUnauthorized)

			err = h.trig.PriceSettled(ctx, tt.caller, tt.id, tt.ts, tt.question, AffirmativeAnswer)
			require.ErrorIs(t, err, domain.ErrUnauthorized)

			assert.Equal(t, domain.TriggerStateActive, h.trig.State())
		})
	}
	assert.Zero(t, h.sink.disputes)
	assert.Empty(t, h.sink.transitions)
}

func TestOracleTrigger_StaleCallbackAfterResubmission(t *testing.T) {
	h := newHarness(t)
	h.fund(t, proposerAddr, h.bond)
	h.fund(t, disputerAddr, h.bond)

	require.NoError(t, h.propose(proposerAddr, AffirmativeAnswer))
	oldTS := h.trig.RequestTimestamp()
	require.NoError(t, h.dispute(disputerAddr))
	require.NoError(t, h.resolve(big.NewInt(0)))
	h.clock.Advance(time.Minute)

	_, err := h.trig.PokeSettlement(context.Background(), pokerAddr)
	require.NoError(t, err)

	// Callbacks for the superseded query instance are rejected.
	err = h.trig.PriceProposed(context.Background(), oracleAddr, YesOrNoIdentifier, oldTS, []byte(testQuestion))
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, domain.TriggerStateActive, h.trig.State())
}

func TestOracleTrigger_Record(t *testing.T) {
	h := newHarness(t)

	rec := h.trig.Record()
	assert.Equal(t, "trigger-1", rec.ID)
	assert.Equal(t, testQuestion, rec.Question)
	assert.Equal(t, domain.TriggerStateActive, rec.State)
	assert.Equal(t, h.trig.RequestTimestamp(), rec.RequestTimestamp)
	assert.Equal(t, defaultRefund, rec.RefundRecipient)
	assert.Equal(t, h.bond.String(), rec.Bond)
	assert.Equal(t, int64(3600), rec.LivenessSeconds)
	assert.Equal(t, []string{"market-1"}, rec.MarketIDs)
}
