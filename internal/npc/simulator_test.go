package npc_test

import (
	"context"
	"math/rand/v2"
	"testing"

	"ammsim/internal/config"
	"ammsim/internal/core"
	"ammsim/internal/event"
	"ammsim/internal/ingestion"
	"ammsim/internal/npc"
	"ammsim/internal/testutil"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func npcConfig(probability float64, minReputation int) config.NPCConfig {
	return config.NPCConfig{
		Enabled:       true,
		Probability:   probability,
		MinReputation: minReputation,
		Names:         []string{"Ana", "Beto"},
	}
}

func newSimulator(t *testing.T, cfg config.NPCConfig, seed uint64) (*npc.Simulator, *core.Sequencer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	seq := core.NewSequencer(testutil.NewEngine(t, nil), 16, zerolog.Nop())
	go seq.Run(ctx)

	svc := ingestion.NewIntentService(seq, nil, zerolog.Nop())
	return npc.NewSimulator(seq, svc, cfg, rand.New(rand.NewPCG(seed, seed)), zerolog.Nop()), seq
}

type emptyMarket struct{}

func (emptyMarket) Snapshot(context.Context) (*core.Snapshot, error) {
	return &core.Snapshot{}, nil
}

// ============================================================================
// Trading rounds
// ============================================================================

func TestTick_TradesWithinSizeBounds(t *testing.T) {
	sim, seq := newSimulator(t, npcConfig(1, 10), 7)
	ctx := context.Background()

	before, err := seq.Snapshot(ctx)
	require.NoError(t, err)

	res, err := sim.Tick(ctx)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.NotNil(t, res.Swap)

	var reserveIn float64
	for _, p := range before.Pools {
		if p.ID == res.Swap.PoolID {
			if res.Swap.TokenIn == p.TokenA {
				reserveIn = p.ReserveA
			} else {
				reserveIn = p.ReserveB
			}
		}
	}
	require.Greater(t, reserveIn, 0.0)
	assert.GreaterOrEqual(t, res.Swap.AmountIn, reserveIn*0.005)
	assert.LessOrEqual(t, res.Swap.AmountIn, reserveIn*0.05)

	after, err := seq.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, after.Activity, 1)
	assert.Contains(t, []string{"Ana", "Beto"}, after.Activity[0].NPC)
	assert.Equal(t, before.Inventory, after.Inventory, "npc trades never touch the player")
	assert.Equal(t, before.Stats, after.Stats)
}

func TestTick_ProbabilityZeroNeverTrades(t *testing.T) {
	sim, seq := newSimulator(t, npcConfig(0, 10), 1)
	for i := 0; i < 20; i++ {
		res, err := sim.Tick(context.Background())
		require.NoError(t, err)
		assert.Nil(t, res)
	}
	snap, err := seq.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.Sequence)
}

func TestTick_ReputationGateIsStrict(t *testing.T) {
	// The default seed starts the player at reputation 50.
	sim, _ := newSimulator(t, npcConfig(1, 50), 1)
	res, err := sim.Tick(context.Background())
	require.NoError(t, err)
	assert.Nil(t, res)

	sim, _ = newSimulator(t, npcConfig(1, 49), 1)
	res, err = sim.Tick(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, res)
}

func TestTick_NoPoolsNoTrade(t *testing.T) {
	sim := npc.NewSimulator(emptyMarket{}, nil, npcConfig(1, 0), rand.New(rand.NewPCG(1, 1)), zerolog.Nop())
	res, err := sim.Tick(context.Background())
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestTick_SkipsDrainedPools(t *testing.T) {
	sim, seq := newSimulator(t, npcConfig(1, 10), 3)
	ctx := context.Background()

	_, err := seq.Submit(ctx, &event.AddLiquidity{Meta: testutil.Meta(), Pool: "mango-limon", AmountA: 10, AmountB: 10})
	require.NoError(t, err)
	_, err = seq.Submit(ctx, &event.RemoveLiquidity{Meta: testutil.Meta(), Pool: "mango-limon", SharePercent: 100})
	require.NoError(t, err)

	snap, err := seq.Snapshot(ctx)
	require.NoError(t, err)
	for _, p := range snap.Pools {
		if p.ID == "mango-limon" {
			require.Zero(t, p.ReserveA)
			require.Zero(t, p.ReserveB)
		}
	}

	for i := 0; i < 30; i++ {
		res, err := sim.Tick(ctx)
		require.NoError(t, err, "round %d", i)
		require.NotNil(t, res, "round %d", i)
		assert.NotEqual(t, "mango-limon", res.Swap.PoolID)
	}
}

func TestTick_SameSeedSameTrades(t *testing.T) {
	a, _ := newSimulator(t, npcConfig(0.5, 10), 42)
	b, _ := newSimulator(t, npcConfig(0.5, 10), 42)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		ra, err := a.Tick(ctx)
		require.NoError(t, err)
		rb, err := b.Tick(ctx)
		require.NoError(t, err)

		require.Equal(t, ra == nil, rb == nil, "round %d", i)
		if ra != nil {
			assert.Equal(t, ra.Swap.PoolID, rb.Swap.PoolID)
			assert.Equal(t, ra.Swap.AmountIn, rb.Swap.AmountIn)
			assert.Equal(t, ra.StateHash, rb.StateHash)
		}
	}
}

func TestTick_ActivityLogKeepsNewestTwenty(t *testing.T) {
	sim, seq := newSimulator(t, npcConfig(1, 10), 3)
	ctx := context.Background()

	var last *core.Result
	for i := 0; i < 25; i++ {
		res, err := sim.Tick(ctx)
		require.NoError(t, err)
		last = res
	}

	snap, err := seq.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(25), snap.Sequence)
	require.Len(t, snap.Activity, 20)
	assert.Equal(t, last.Swap.AmountIn, snap.Activity[0].AmountIn)
}
