package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/coverbound/triggerd/internal/server"
	"github.com/coverbound/triggerd/internal/server/handler"
	"github.com/coverbound/triggerd/internal/server/ws"
	"github.com/coverbound/triggerd/internal/trigger"
)

// SimClock is a mutex-guarded manual time source for sim mode. The embedded
// oracle and every deployed trigger share it so liveness windows can be
// crossed without real waiting.
type SimClock struct {
	mu sync.Mutex
	t  time.Time
}

// NewSimClock creates a SimClock starting at the given instant.
func NewSimClock(start time.Time) *SimClock {
	return &SimClock{t: start}
}

// Now returns the current simulated time.
func (c *SimClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the simulated time forward by d.
func (c *SimClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// ServeMode runs the real deployment surface: the HTTP API and the
// WebSocket hub bridging the Redis signal bus, supervised by an errgroup
// until the context is cancelled.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode",
		slog.Int("triggers", len(deps.Registry.List())),
	)

	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && err != context.Canceled {
			return fmt.Errorf("serve mode: hub: %w", err)
		}
		return nil
	})

	if a.cfg.Server.Enabled {
		handlers := server.Handlers{
			Health:   handler.NewHealthHandler(a.cfg.Mode, deps.Registry, a.logger),
			Triggers: handler.NewTriggerHandler(deps.Registry, deps.TransitionStore, deps.Archiver, deps.LockManager, a.logger),
			Oracle:   handler.NewOracleHandler(deps.Oracle, deps.Token, deps.Registry, a.logger),
		}
		srv := server.NewServer(server.Config{
			Port:            a.cfg.Server.Port,
			APIToken:        a.cfg.Server.APIToken,
			CORSOrigins:     a.cfg.Server.CORSOrigins,
			RateLimitPerMin: a.cfg.Server.RateLimitPerMin,
			RateLimiter:     deps.RateLimiter,
		}, handlers, hub, a.logger)

		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutCtx)
		})
	} else {
		a.logger.WarnContext(ctx, "HTTP server disabled; only the WebSocket-free core is running")
	}

	return g.Wait()
}

// SimMode walks the first configured trigger through a full lifecycle
// against the in-memory oracle: a rejected answer, a dispute that fails,
// and finally a confirmed affirmative answer that trips the trigger. It is
// a self-contained demonstration and smoke test needing no backing
// services.
func (a *App) SimMode(ctx context.Context, deps *Dependencies) error {
	trigs := deps.Registry.List()
	if len(trigs) == 0 {
		return fmt.Errorf("sim mode: no triggers configured")
	}
	t := trigs[0]
	clock := deps.Clock
	if clock == nil {
		return fmt.Errorf("sim mode: simulated clock not wired")
	}

	logger := a.logger.With(slog.String("trigger_id", t.ID()))
	logger.InfoContext(ctx, "simulation starting",
		slog.String("question", t.Question()),
		slog.String("state", string(t.State())),
	)

	proposer := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	disputer := common.HexToAddress("0x00000000000000000000000000000000000000a2")
	poker := common.HexToAddress("0x00000000000000000000000000000000000000a3")
	affirmative := trigger.AffirmativeAnswer

	fund := func(account common.Address) error {
		bond := new(big.Int).Set(affirmative) // comfortably covers any bond
		deps.Token.Mint(account, bond)
		return deps.Token.Approve(ctx, account, deps.Oracle.Address(), bond)
	}

	// Step 1: a non-affirmative proposal is rejected outright and leaves
	// the query open.
	if err := fund(proposer); err != nil {
		return fmt.Errorf("sim mode: fund proposer: %w", err)
	}
	err := deps.Oracle.ProposePrice(ctx, proposer, t.Address(),
		trigger.YesOrNoIdentifier, t.RequestTimestamp(), []byte(t.Question()), big.NewInt(0))
	logger.InfoContext(ctx, "step 1: negative proposal",
		slog.String("result", errString(err)),
		slog.String("state", string(t.State())),
	)

	// Step 2: an affirmative proposal freezes the trigger.
	if err := fund(proposer); err != nil {
		return fmt.Errorf("sim mode: refund proposer: %w", err)
	}
	if err := deps.Oracle.ProposePrice(ctx, proposer, t.Address(),
		trigger.YesOrNoIdentifier, t.RequestTimestamp(), []byte(t.Question()), affirmative); err != nil {
		return fmt.Errorf("sim mode: affirmative proposal: %w", err)
	}
	logger.InfoContext(ctx, "step 2: affirmative proposal accepted",
		slog.String("state", string(t.State())),
	)

	// Step 3: a dispute arrives; the resolution rejects the answer and
	// the trigger re-arms with a fresh query.
	if err := fund(disputer); err != nil {
		return fmt.Errorf("sim mode: fund disputer: %w", err)
	}
	if err := deps.Oracle.DisputePrice(ctx, disputer, t.Address(),
		trigger.YesOrNoIdentifier, t.RequestTimestamp(), []byte(t.Question())); err != nil {
		return fmt.Errorf("sim mode: dispute: %w", err)
	}
	if err := deps.Oracle.Resolve(ctx, t.Address(),
		trigger.YesOrNoIdentifier, t.RequestTimestamp(), []byte(t.Question()), big.NewInt(0)); err != nil {
		return fmt.Errorf("sim mode: resolve dispute: %w", err)
	}
	clock.Advance(time.Minute)
	state, err := t.PokeSettlement(ctx, poker)
	if err != nil {
		return fmt.Errorf("sim mode: poke after rejected answer: %w", err)
	}
	logger.InfoContext(ctx, "step 3: rejected answer re-armed the query",
		slog.String("state", string(state)),
		slog.Int64("request_timestamp", t.RequestTimestamp()),
	)

	// Step 4: an undisputed affirmative proposal survives its liveness
	// window; the poke trips the trigger.
	if err := fund(proposer); err != nil {
		return fmt.Errorf("sim mode: fund proposer again: %w", err)
	}
	if err := deps.Oracle.ProposePrice(ctx, proposer, t.Address(),
		trigger.YesOrNoIdentifier, t.RequestTimestamp(), []byte(t.Question()), affirmative); err != nil {
		return fmt.Errorf("sim mode: final proposal: %w", err)
	}
	clock.Advance(t.Liveness() + time.Second)
	state, err = t.PokeSettlement(ctx, poker)
	if err != nil {
		return fmt.Errorf("sim mode: final poke: %w", err)
	}
	logger.InfoContext(ctx, "step 4: trigger tripped",
		slog.String("state", string(state)),
	)

	// Terminal state is absorbing: a second poke is a no-op.
	state, err = t.PokeSettlement(ctx, poker)
	if err != nil {
		return fmt.Errorf("sim mode: post-trip poke: %w", err)
	}
	logger.InfoContext(ctx, "simulation complete",
		slog.String("state", string(state)),
	)
	return nil
}

func errString(err error) string {
	if err == nil {
		return "ok"
	}
	return err.Error()
}
