package npc

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"ammsim/internal/config"
	"ammsim/internal/core"
	"ammsim/internal/event"
	"ammsim/internal/ingestion"
	"ammsim/internal/state"

	"github.com/rs/zerolog"
)

// NPC trade size as a share of the input reserve.
const (
	minTradeFraction = 0.005
	maxTradeFraction = 0.05
)

// StateReader serves consistent engine reads. *core.Sequencer satisfies it.
type StateReader interface {
	Snapshot(ctx context.Context) (*core.Snapshot, error)
}

// Submitter applies a typed intent. *ingestion.IntentService satisfies it.
type Submitter interface {
	Submit(ctx context.Context, source string, evt event.Event) (*core.Result, error)
}

// Simulator fires random NPC swaps on a fixed interval. Trades go through
// the same intent path as player swaps, so the sequencer serializes them.
type Simulator struct {
	state  StateReader
	submit Submitter
	cfg    config.NPCConfig
	rng    *rand.Rand
	logger zerolog.Logger
}

// NewSimulator builds a simulator. A nil rng seeds one from the clock.
func NewSimulator(state StateReader, submit Submitter, cfg config.NPCConfig, rng *rand.Rand, logger zerolog.Logger) *Simulator {
	if rng == nil {
		now := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(now, now>>1))
	}
	return &Simulator{
		state:  state,
		submit: submit,
		cfg:    cfg,
		rng:    rng,
		logger: logger,
	}
}

// Run ticks until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info().
		Dur("interval", s.cfg.Interval).
		Float64("probability", s.cfg.Probability).
		Int("npcs", len(s.cfg.Names)).
		Msg("npc simulator started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				if errors.Is(err, core.ErrSequencerStopped) || ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Warn().Err(err).Msg("npc trade failed")
			}
		}
	}
}

// Tick runs one round. It returns the applied result, or nil when the round
// rolled no trade or the market is closed to NPCs.
func (s *Simulator) Tick(ctx context.Context) (*core.Result, error) {
	if len(s.cfg.Names) == 0 || s.rng.Float64() >= s.cfg.Probability {
		return nil, nil
	}

	snap, err := s.state.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if len(snap.Pools) == 0 || snap.Stats.Reputation <= s.cfg.MinReputation {
		return nil, nil
	}

	evt := s.pickTrade(snap)
	if evt == nil {
		return nil, nil
	}
	res, err := s.submit.Submit(ctx, ingestion.SourceNPC, evt)
	if err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("npc", evt.NPC).
		Str("pool_id", evt.Pool).
		Str("token_in", evt.TokenIn).
		Float64("amount_in", evt.AmountIn).
		Int64("sequence", res.Sequence).
		Msg("npc trade")
	return res, nil
}

// pickTrade returns nil when every pool has been drained.
func (s *Simulator) pickTrade(snap *core.Snapshot) *event.NPCSwap {
	live := make([]state.Pool, 0, len(snap.Pools))
	for _, p := range snap.Pools {
		if p.ReserveA > 0 && p.ReserveB > 0 {
			live = append(live, p)
		}
	}
	if len(live) == 0 {
		return nil
	}

	pool := live[s.rng.IntN(len(live))]
	name := s.cfg.Names[s.rng.IntN(len(s.cfg.Names))]

	tokenIn, reserveIn := pool.TokenA, pool.ReserveA
	if s.rng.IntN(2) == 1 {
		tokenIn, reserveIn = pool.TokenB, pool.ReserveB
	}
	fraction := minTradeFraction + s.rng.Float64()*(maxTradeFraction-minTradeFraction)

	return &event.NPCSwap{
		NPC:      name,
		Pool:     pool.ID,
		TokenIn:  tokenIn,
		AmountIn: reserveIn * fraction,
	}
}
