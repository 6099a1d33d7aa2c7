package oracle

import (
	"context"
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
	"github.com/coverbound/triggerd/internal/token"
)

var (
	oracleAddr   = common.HexToAddress("0x0000000000000000000000000000000000000001")
	requester    = common.HexToAddress("0x0000000000000000000000000000000000000002")
	proposer     = common.HexToAddress("0x0000000000000000000000000000000000000003")
	disputer     = common.HexToAddress("0x0000000000000000000000000000000000000004")
	testID       = NewIdentifier("YES_OR_NO_QUERY")
	testQuestion = []byte("Did the event occur?")
)

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

// stubRecipient records callback deliveries and can be armed to reject them.
type stubRecipient struct {
	proposed   int
	disputed   int
	settled    int
	lastCaller common.Address
	lastPrice  *big.Int
	lastRefund *big.Int

	proposeErr error
	settleErr  error
}

func (s *stubRecipient) PriceProposed(_ context.Context, caller common.Address, _ Identifier, _ int64, _ []byte) error {
	if s.proposeErr != nil {
		return s.proposeErr
	}
	s.proposed++
	s.lastCaller = caller
	return nil
}

func (s *stubRecipient) PriceDisputed(_ context.Context, caller common.Address, _ Identifier, _ int64, _ []byte, refund *big.Int) error {
	s.disputed++
	s.lastCaller = caller
	s.lastRefund = refund
	return nil
}

func (s *stubRecipient) PriceSettled(_ context.Context, caller common.Address, _ Identifier, _ int64, _ []byte, price *big.Int) error {
	if s.settleErr != nil {
		return s.settleErr
	}
	s.settled++
	s.lastCaller = caller
	s.lastPrice = price
	return nil
}

type fixture struct {
	clock *fakeClock
	token *token.MemoryToken
	orc   *MemoryOracle
	rec   *stubRecipient

	reward *big.Int
	bond   *big.Int
	ts     int64
}

// newFixture registers one fully configured event-based request with reward
// escrowed, bond and liveness set, and all callbacks subscribed.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &fixture{
		clock:  newFakeClock(),
		token:  token.NewMemoryToken(common.HexToAddress("0x00000000000000000000000000000000000000ee")),
		rec:    &stubRecipient{},
		reward: big.NewInt(1_000),
		bond:   big.NewInt(100),
	}
	f.orc = NewMemoryOracle(oracleAddr, f.token, logger)
	f.orc.SetClock(f.clock.Now)
	f.ts = f.clock.Now().Unix()

	f.token.Mint(requester, f.reward)
	require.NoError(t, f.token.Approve(ctx, requester, oracleAddr, f.reward))

	require.NoError(t, f.orc.RequestPrice(ctx, requester, testID, f.ts, testQuestion, f.token.Address(), f.reward))
	require.NoError(t, f.orc.SetEventBased(ctx, requester, testID, f.ts, testQuestion))
	require.NoError(t, f.orc.SetBond(ctx, requester, testID, f.ts, testQuestion, f.bond))
	require.NoError(t, f.orc.SetCustomLiveness(ctx, requester, testID, f.ts, testQuestion, time.Hour))
	require.NoError(t, f.orc.SetCallbacks(ctx, requester, testID, f.ts, testQuestion, f.rec, true, true, true))
	return f
}

func (f *fixture) fund(t *testing.T, account common.Address, amount *big.Int) {
	t.Helper()
	f.token.Mint(account, amount)
	require.NoError(t, f.token.Approve(context.Background(), account, oracleAddr, amount))
}

func (f *fixture) propose(price *big.Int) error {
	return f.orc.ProposePrice(context.Background(), proposer, requester, testID, f.ts, testQuestion, price)
}

func (f *fixture) dispute() error {
	return f.orc.DisputePrice(context.Background(), disputer, requester, testID, f.ts, testQuestion)
}

func (f *fixture) balance(t *testing.T, account common.Address) int64 {
	t.Helper()
	b, err := f.token.BalanceOf(context.Background(), account)
	require.NoError(t, err)
	return b.Int64()
}

func TestMemoryOracle_RequestPriceEscrowsReward(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, int64(0), f.balance(t, requester))
	assert.Equal(t, f.reward.Int64(), f.balance(t, oracleAddr))

	req, err := f.orc.GetRequest(context.Background(), requester, testID, f.ts, testQuestion)
	require.NoError(t, err)
	assert.True(t, req.EventBased)
	assert.False(t, req.Settled)
	assert.Equal(t, f.reward.Int64(), req.Reward.Int64())
	assert.Equal(t, f.bond.Int64(), req.Bond.Int64())
	assert.Equal(t, time.Hour, req.CustomLiveness)
	assert.Nil(t, req.ProposedPrice)
}

func TestMemoryOracle_DuplicateRequestRejected(t *testing.T) {
	f := newFixture(t)

	err := f.orc.RequestPrice(context.Background(), requester, testID, f.ts, testQuestion, f.token.Address(), big.NewInt(0))
	require.ErrorIs(t, err, domain.ErrAlreadyExists)

	// A different timestamp is a different request.
	require.NoError(t, f.orc.RequestPrice(context.Background(), requester, testID, f.ts+1, testQuestion, f.token.Address(), big.NewInt(0)))
}

func TestMemoryOracle_UnknownRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orc.GetRequest(ctx, requester, testID, f.ts+99, testQuestion)
	require.ErrorIs(t, err, ErrRequestNotFound)

	_, err = f.orc.HasPrice(ctx, requester, testID, f.ts+99, testQuestion)
	require.ErrorIs(t, err, ErrRequestNotFound)

	err = f.orc.SetBond(ctx, requester, testID, f.ts+99, testQuestion, f.bond)
	require.ErrorIs(t, err, ErrRequestNotFound)
}

func TestMemoryOracle_ProposeStakesBondAndNotifies(t *testing.T) {
	f := newFixture(t)
	f.fund(t, proposer, f.bond)

	require.NoError(t, f.propose(big.NewInt(7)))

	assert.Equal(t, int64(0), f.balance(t, proposer))
	assert.Equal(t, 1, f.rec.proposed)
	assert.Equal(t, oracleAddr, f.rec.lastCaller)

	req, err := f.orc.GetRequest(context.Background(), requester, testID, f.ts, testQuestion)
	require.NoError(t, err)
	assert.Equal(t, proposer, req.Proposer)
	assert.Equal(t, int64(7), req.ProposedPrice.Int64())

	require.ErrorIs(t, f.propose(big.NewInt(8)), ErrAlreadyProposed)
}

func TestMemoryOracle_ProposeWithoutBondFunds(t *testing.T) {
	f := newFixture(t)

	err := f.propose(big.NewInt(7))
	require.ErrorIs(t, err, domain.ErrInsufficientAllowance)
	assert.Zero(t, f.rec.proposed)
}

func TestMemoryOracle_RejectedCallbackRollsBackProposal(t *testing.T) {
	f := newFixture(t)
	f.fund(t, proposer, f.bond)
	f.rec.proposeErr = domain.ErrInvalidProposal

	err := f.propose(big.NewInt(7))
	require.ErrorIs(t, err, domain.ErrInvalidProposal)

	// Bond returned, request open again.
	assert.Equal(t, f.bond.Int64(), f.balance(t, proposer))
	req, err := f.orc.GetRequest(context.Background(), requester, testID, f.ts, testQuestion)
	require.NoError(t, err)
	assert.Nil(t, req.ProposedPrice)

	f.rec.proposeErr = nil
	require.NoError(t, f.token.Approve(context.Background(), proposer, oracleAddr, f.bond))
	require.NoError(t, f.propose(big.NewInt(7)))
}

func TestMemoryOracle_DisputeRefundsEventBasedReward(t *testing.T) {
	f := newFixture(t)
	f.fund(t, proposer, f.bond)
	f.fund(t, disputer, f.bond)
	require.NoError(t, f.propose(big.NewInt(7)))

	require.NoError(t, f.dispute())

	// Disputer staked, requester got the reward back, callback saw the
	// refund amount.
	assert.Equal(t, int64(0), f.balance(t, disputer))
	assert.Equal(t, f.reward.Int64(), f.balance(t, requester))
	assert.Equal(t, 1, f.rec.disputed)
	assert.Equal(t, f.reward.Int64(), f.rec.lastRefund.Int64())

	req, err := f.orc.GetRequest(context.Background(), requester, testID, f.ts, testQuestion)
	require.NoError(t, err)
	assert.Equal(t, disputer, req.Disputer)
	assert.Zero(t, req.Reward.Sign())

	require.ErrorIs(t, f.dispute(), ErrAlreadyDisputed)
}

func TestMemoryOracle_DisputeRequiresProposal(t *testing.T) {
	f := newFixture(t)
	f.fund(t, disputer, f.bond)

	require.ErrorIs(t, f.dispute(), ErrNotProposed)
}

func TestMemoryOracle_HasPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, proposer, f.bond)

	has, err := f.orc.HasPrice(ctx, requester, testID, f.ts, testQuestion)
	require.NoError(t, err)
	assert.False(t, has, "no proposal yet")

	require.NoError(t, f.propose(big.NewInt(7)))
	has, _ = f.orc.HasPrice(ctx, requester, testID, f.ts, testQuestion)
	assert.False(t, has, "dispute window still open")

	f.clock.Advance(time.Hour)
	has, _ = f.orc.HasPrice(ctx, requester, testID, f.ts, testQuestion)
	assert.True(t, has, "window elapsed")
}

func TestMemoryOracle_HasPriceDisputedNeedsResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, proposer, f.bond)
	f.fund(t, disputer, f.bond)
	require.NoError(t, f.propose(big.NewInt(7)))
	require.NoError(t, f.dispute())

	f.clock.Advance(2 * time.Hour)
	has, err := f.orc.HasPrice(ctx, requester, testID, f.ts, testQuestion)
	require.NoError(t, err)
	assert.False(t, has, "disputed request waits on resolution, not liveness")

	require.NoError(t, f.orc.Resolve(ctx, requester, testID, f.ts, testQuestion, big.NewInt(7)))
	has, _ = f.orc.HasPrice(ctx, requester, testID, f.ts, testQuestion)
	assert.True(t, has)
}

func TestMemoryOracle_SettleUndisputed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, proposer, f.bond)
	require.NoError(t, f.propose(big.NewInt(7)))

	err := f.orc.Settle(ctx, requester, testID, f.ts, testQuestion)
	require.ErrorIs(t, err, domain.ErrUnsettleable, "cannot settle inside the window")

	f.clock.Advance(time.Hour)
	require.NoError(t, f.orc.Settle(ctx, requester, testID, f.ts, testQuestion))

	// Proposer recovers bond plus reward; callback carried the final price.
	assert.Equal(t, f.bond.Int64()+f.reward.Int64(), f.balance(t, proposer))
	assert.Equal(t, 1, f.rec.settled)
	assert.Equal(t, int64(7), f.rec.lastPrice.Int64())

	req, err := f.orc.GetRequest(ctx, requester, testID, f.ts, testQuestion)
	require.NoError(t, err)
	assert.True(t, req.Settled)
	assert.Equal(t, int64(7), req.ResolvedPrice.Int64())

	err = f.orc.Settle(ctx, requester, testID, f.ts, testQuestion)
	require.ErrorIs(t, err, ErrAlreadySettled)
}

func TestMemoryOracle_SettleDisputedProposerWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, proposer, f.bond)
	f.fund(t, disputer, f.bond)
	require.NoError(t, f.propose(big.NewInt(7)))
	require.NoError(t, f.dispute())
	require.NoError(t, f.orc.Resolve(ctx, requester, testID, f.ts, testQuestion, big.NewInt(7)))

	require.NoError(t, f.orc.Settle(ctx, requester, testID, f.ts, testQuestion))

	// Both bonds to the proposer; the event-based reward was refunded at
	// dispute time and does not move again.
	assert.Equal(t, 2*f.bond.Int64(), f.balance(t, proposer))
	assert.Equal(t, int64(0), f.balance(t, disputer))
	assert.Equal(t, f.reward.Int64(), f.balance(t, requester))
}

func TestMemoryOracle_SettleDisputedDisputerWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, proposer, f.bond)
	f.fund(t, disputer, f.bond)
	require.NoError(t, f.propose(big.NewInt(7)))
	require.NoError(t, f.dispute())
	require.NoError(t, f.orc.Resolve(ctx, requester, testID, f.ts, testQuestion, big.NewInt(0)))

	require.NoError(t, f.orc.Settle(ctx, requester, testID, f.ts, testQuestion))

	assert.Equal(t, int64(0), f.balance(t, proposer))
	assert.Equal(t, 2*f.bond.Int64(), f.balance(t, disputer))
	assert.Equal(t, int64(0), f.rec.lastPrice.Int64())
}

func TestMemoryOracle_SettleCallbackErrorLeavesRequestOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fund(t, proposer, f.bond)
	require.NoError(t, f.propose(big.NewInt(7)))
	f.clock.Advance(time.Hour)

	boom := domain.ErrIllegalTransition
	f.rec.settleErr = boom

	err := f.orc.Settle(ctx, requester, testID, f.ts, testQuestion)
	require.ErrorIs(t, err, boom)

	req, err := f.orc.GetRequest(ctx, requester, testID, f.ts, testQuestion)
	require.NoError(t, err)
	assert.False(t, req.Settled)
	assert.Equal(t, int64(0), f.balance(t, proposer), "no payout before a successful callback")

	f.rec.settleErr = nil
	require.NoError(t, f.orc.Settle(ctx, requester, testID, f.ts, testQuestion))
}
