package core_test

import (
	"sync/atomic"
	"testing"
	"time"

	"ammsim/internal/core"
	"ammsim/internal/event"
	"ammsim/internal/ledger"
	fpmath "ammsim/internal/math"
	"ammsim/internal/state"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

var baseTime = time.UnixMicro(1_700_000_000_000_000)

// newTestCore creates an Engine on the default seed with buffered channels and no DB checker.
func newTestCore(t *testing.T) (*core.Engine, chan core.CoreOutput, chan core.CoreOutput) {
	t.Helper()
	persistChan := make(chan core.CoreOutput, 1024)
	publishChan := make(chan core.CoreOutput, 1024)
	logger := zerolog.Nop()
	c, err := core.NewEngine(core.DefaultSeed(), core.EngineConfig{
		PersistChan: persistChan,
		PublishChan: publishChan,
		Logger:      &logger,
	})
	require.NoError(t, err)
	return c, persistChan, publishChan
}

var metaSeq atomic.Int64

func meta() event.Meta {
	n := metaSeq.Add(1)
	return event.Meta{RequestID: uuid.New(), Timestamp: baseTime.Add(time.Duration(n) * time.Millisecond)}
}

func mustSwap(pool, tokenIn string, amountIn float64) *event.Swap {
	return &event.Swap{Meta: meta(), Pool: pool, TokenIn: tokenIn, AmountIn: amountIn}
}

func mustAddLiquidity(pool string, a, b float64) *event.AddLiquidity {
	return &event.AddLiquidity{Meta: meta(), Pool: pool, AmountA: a, AmountB: b}
}

func mustRemoveLiquidity(pool string, pct float64) *event.RemoveLiquidity {
	return &event.RemoveLiquidity{Meta: meta(), Pool: pool, SharePercent: pct}
}

func mustCreateToken(name, symbol string) *event.CreateToken {
	return &event.CreateToken{Meta: meta(), Name: name, Symbol: symbol}
}

func mustCreatePool(a, b string, amountA, amountB float64) *event.CreatePool {
	return &event.CreatePool{Meta: meta(), TokenA: a, TokenB: b, AmountA: amountA, AmountB: amountB}
}

func mustPlaceBid(block int, bidder string, maxPrice, spend float64) *event.PlaceBid {
	return &event.PlaceBid{Meta: meta(), BlockNumber: block, BidderID: bidder, MaxPrice: maxPrice, TotalSpend: spend}
}

func mustApply(t *testing.T, c *core.Engine, evt event.Event) *core.Result {
	t.Helper()
	res, err := c.ProcessEvent(evt)
	require.NoError(t, err)
	return res
}

func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

// requireUnchanged asserts a rejected intent left no trace.
func requireUnchanged(t *testing.T, c *core.Engine, persistCh chan core.CoreOutput, before *core.Snapshot) {
	t.Helper()
	assert.Equal(t, before, c.Snapshot())
	assert.Empty(t, drainOutputs(persistCh))
}

// ============================================================================
// Test: Seed
// ============================================================================

func TestNewEngine_SeedState(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	snap := c.Snapshot()

	assert.Equal(t, int64(0), snap.Sequence)
	require.Len(t, snap.Tokens, 5)
	require.Len(t, snap.Pools, 3)
	assert.Equal(t, map[string]float64{"usdc": 1000, "mango": 100, "limon": 100, "fresa": 100, "pina": 100}, snap.Inventory)
	assert.Equal(t, 50, snap.Stats.Reputation)
	assert.Nil(t, snap.Auction)
	assert.Empty(t, drainOutputs(persistCh), "genesis is not emitted")

	pool, ok := c.Pool("mango-usdc")
	require.True(t, ok)
	assert.Equal(t, state.HookAntiMEV, pool.Hook.Kind)
	assert.Equal(t, 200.0, pool.ReserveB)

	assert.NoError(t, c.ValidateGlobalBalance())
}

// ============================================================================
// Test: Swap
// ============================================================================

func TestSwap_DynamicFeeExample(t *testing.T) {
	c, persistCh, _ := newTestCore(t)

	res := mustApply(t, c, mustSwap("mango-limon", "mango", 10))
	require.NotNil(t, res.Swap)

	expectedOut := 100 * 9.9855 / (100 + 9.9855)
	assert.InDelta(t, 0.145, res.Swap.FeePercent, 1e-12)
	assert.InDelta(t, 9.9855, res.Swap.AmountInWithFee, 1e-9)
	assert.InDelta(t, expectedOut, res.Swap.AmountOut, 1e-6)
	assert.InDelta(t, 0.0145, res.Swap.FeeAmount, 1e-12)
	assert.InDelta(t, expectedOut, res.Swap.PriceImpact, 1e-6, "impact is out/reserveOut*100 with reserveOut=100")
	assert.Equal(t, "limon", res.Swap.TokenOut)

	pool, _ := c.Pool("mango-limon")
	assert.Equal(t, 110.0, pool.ReserveA, "full amountIn enters the pool")
	assert.InDelta(t, 100-expectedOut, pool.ReserveB, 1e-6)
	assert.InDelta(t, 0.0145, pool.TotalFeesCollected.A, 1e-12)
	assert.Zero(t, pool.TotalFeesCollected.B)

	assert.Equal(t, 90.0, c.Balance("mango"))
	assert.InDelta(t, 100+expectedOut, c.Balance("limon"), 1e-6)

	stats := c.Stats()
	assert.Equal(t, 1, stats.Swaps)
	assert.Equal(t, 10.0, stats.VolumeTraded)
	assert.Equal(t, 51, stats.Reputation)

	outputs := drainOutputs(persistCh)
	require.Len(t, outputs, 1)
	assert.Equal(t, int64(1), outputs[0].Envelope.Sequence)
	require.Len(t, outputs[0].Batch.Journals, 2)
	assert.Equal(t, ledger.JournalTypeSwapIn, outputs[0].Batch.Journals[0].JournalType)
	assert.Equal(t, ledger.JournalTypeSwapOut, outputs[0].Batch.Journals[1].JournalType)
}

func TestSwap_ConstantProductAndBoundedOutput(t *testing.T) {
	c, _, _ := newTestCore(t)

	trades := []struct {
		pool, token string
		amount      float64
	}{
		{"mango-limon", "mango", 10},
		{"mango-limon", "limon", 25},
		{"mango-usdc", "usdc", 150},
		{"mango-usdc", "mango", 40},
		{"limon-fresa", "fresa", 99},
		{"limon-fresa", "limon", 0.001},
		{"mango-limon", "mango", 60},
	}

	for _, tr := range trades {
		before, _ := c.Pool(tr.pool)
		playerBefore := c.Balance(tr.token)
		_, reserveOut, _, inIsA, err := before.Orient(tr.token)
		require.NoError(t, err)

		res := mustApply(t, c, mustSwap(tr.pool, tr.token, tr.amount))
		after, _ := c.Pool(tr.pool)

		assert.GreaterOrEqual(t,
			fpmath.ConstantProduct(after.ReserveA, after.ReserveB),
			fpmath.ConstantProduct(before.ReserveA, before.ReserveB),
			"k must not decrease on %s", tr.pool)
		assert.Less(t, res.Swap.AmountOut, reserveOut)
		assert.Greater(t, after.ReserveA, 0.0)
		assert.Greater(t, after.ReserveB, 0.0)

		// Player + pool holdings of the input token are conserved.
		poolIn := before.ReserveB
		poolInAfter := after.ReserveB
		if inIsA {
			poolIn, poolInAfter = before.ReserveA, after.ReserveA
		}
		assert.InDelta(t, playerBefore+poolIn, c.Balance(tr.token)+poolInAfter, 1e-9)
	}

	assert.NoError(t, c.ValidateGlobalBalance())
}

func TestSwap_InsufficientBalance_NoStateChange(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	before := c.Snapshot()

	_, err := c.ProcessEvent(mustSwap("mango-limon", "mango", 100.5))
	assert.ErrorIs(t, err, core.ErrInsufficientBalance)
	requireUnchanged(t, c, persistCh, before)
}

func TestSwap_Rejections(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	before := c.Snapshot()

	_, err := c.ProcessEvent(mustSwap("kiwi-limon", "limon", 1))
	assert.ErrorIs(t, err, core.ErrPoolNotFound)

	_, err = c.ProcessEvent(mustSwap("mango-limon", "usdc", 1))
	assert.ErrorIs(t, err, core.ErrTokenNotInPool)

	_, err = c.ProcessEvent(mustSwap("mango-limon", "mango", 0))
	assert.ErrorIs(t, err, core.ErrInvalidAmount)

	_, err = c.ProcessEvent(mustSwap("mango-limon", "mango", -3))
	assert.ErrorIs(t, err, core.ErrInvalidAmount)

	requireUnchanged(t, c, persistCh, before)
}

func TestQuote_DoesNotMutate(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	before := c.Snapshot()

	q, err := c.Quote("mango-limon", "mango", 10)
	require.NoError(t, err)
	assert.InDelta(t, 100*9.9855/(100+9.9855), q.AmountOut, 1e-6)
	requireUnchanged(t, c, persistCh, before)

	res := mustApply(t, c, mustSwap("mango-limon", "mango", 10))
	assert.Equal(t, q.AmountOut, res.Swap.AmountOut)
}

// ============================================================================
// Test: Liquidity
// ============================================================================

func TestAddLiquidity_ShareExample(t *testing.T) {
	c, _, _ := newTestCore(t)

	res := mustApply(t, c, mustAddLiquidity("mango-limon", 10, 10))
	require.NotNil(t, res.Liquidity)
	assert.InDelta(t, 10.0/110.0*100, res.Liquidity.SharePercent, 1e-9)

	pool, _ := c.Pool("mango-limon")
	assert.Equal(t, 110.0, pool.ReserveA)
	assert.Equal(t, 110.0, pool.ReserveB)
	assert.Equal(t, 90.0, c.Balance("mango"))
	assert.Equal(t, 90.0, c.Balance("limon"))

	snap := c.Snapshot()
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, res.Liquidity.PositionID, snap.Positions[0].ID.String())
	assert.Equal(t, 1, snap.Stats.LiquidityAdded)
	assert.Equal(t, 52, snap.Stats.Reputation)
}

func TestAddLiquidity_ShareIsFrozen(t *testing.T) {
	c, _, _ := newTestCore(t)

	first := mustApply(t, c, mustAddLiquidity("mango-limon", 10, 10))
	mustApply(t, c, mustAddLiquidity("mango-limon", 50, 50))
	mustApply(t, c, mustSwap("mango-limon", "mango", 5))

	positions := c.Snapshot().Positions
	require.Len(t, positions, 2)
	assert.Equal(t, first.Liquidity.SharePercent, positions[0].SharePercent, "later deposits do not dilute")
}

func TestAddLiquidity_InsufficientBalance(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	before := c.Snapshot()

	_, err := c.ProcessEvent(mustAddLiquidity("mango-usdc", 10, 1001))
	assert.ErrorIs(t, err, core.ErrInsufficientBalance)
	requireUnchanged(t, c, persistCh, before)
}

func TestSwap_DistributesFeesToPositions(t *testing.T) {
	c, _, _ := newTestCore(t)

	add := mustApply(t, c, mustAddLiquidity("mango-limon", 10, 10))
	swap := mustApply(t, c, mustSwap("mango-limon", "limon", 20))

	pos := c.Snapshot().Positions[0]
	expected := swap.Swap.FeeAmount * add.Liquidity.SharePercent / 100
	assert.InDelta(t, expected, pos.FeesEarned.B, 1e-12)
	assert.Zero(t, pos.FeesEarned.A)
	assert.InDelta(t, expected, swap.Swap.FeesToLPs, 1e-12)
}

func TestRemoveLiquidity_WithdrawsPercentOfCurrentReserves(t *testing.T) {
	c, _, _ := newTestCore(t)

	mustApply(t, c, mustAddLiquidity("mango-limon", 10, 10))
	mustApply(t, c, mustSwap("mango-limon", "mango", 10))
	fees := c.Snapshot().Positions[0].FeesEarned
	poolBefore, _ := c.Pool("mango-limon")
	mangoBefore := c.Balance("mango")
	limonBefore := c.Balance("limon")

	res := mustApply(t, c, mustRemoveLiquidity("mango-limon", 10))
	require.NotNil(t, res.Withdrawal)
	assert.InDelta(t, poolBefore.ReserveA*0.1, res.Withdrawal.PrincipalA, 1e-12)
	assert.InDelta(t, poolBefore.ReserveB*0.1, res.Withdrawal.PrincipalB, 1e-12)
	assert.InDelta(t, fees.A, res.Withdrawal.FeesA, 1e-12)
	assert.Zero(t, res.Withdrawal.FeesB)

	pool, _ := c.Pool("mango-limon")
	assert.InDelta(t, poolBefore.ReserveA*0.9-fees.A, pool.ReserveA, 1e-9)
	assert.InDelta(t, poolBefore.ReserveB*0.9, pool.ReserveB, 1e-9)
	assert.InDelta(t, mangoBefore+res.Withdrawal.PrincipalA+res.Withdrawal.FeesA, c.Balance("mango"), 1e-9)
	assert.InDelta(t, limonBefore+res.Withdrawal.PrincipalB, c.Balance("limon"), 1e-9)

	assert.Empty(t, c.Snapshot().Positions, "position is closed whatever the percent")
	assert.Equal(t, 1, c.Stats().LiquidityRemoved)

	_, err := c.ProcessEvent(mustRemoveLiquidity("mango-limon", 10))
	assert.ErrorIs(t, err, core.ErrPositionNotFound)
}

func TestRemoveLiquidity_Rejections(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	mustApply(t, c, mustAddLiquidity("mango-limon", 10, 10))
	drainOutputs(persistCh)
	before := c.Snapshot()

	_, err := c.ProcessEvent(mustRemoveLiquidity("mango-limon", 0))
	assert.ErrorIs(t, err, core.ErrInvalidSharePercent)
	_, err = c.ProcessEvent(mustRemoveLiquidity("mango-limon", 100.01))
	assert.ErrorIs(t, err, core.ErrInvalidSharePercent)
	_, err = c.ProcessEvent(mustRemoveLiquidity("mango-usdc", 50))
	assert.ErrorIs(t, err, core.ErrPositionNotFound)
	_, err = c.ProcessEvent(mustRemoveLiquidity("kiwi-limon", 50))
	assert.ErrorIs(t, err, core.ErrPoolNotFound)

	requireUnchanged(t, c, persistCh, before)
}

func TestRemoveLiquidity_FullWithdrawalEmptiesPool(t *testing.T) {
	c, _, _ := newTestCore(t)
	mustApply(t, c, mustAddLiquidity("limon-fresa", 10, 10))

	mustApply(t, c, mustRemoveLiquidity("limon-fresa", 100))
	pool, _ := c.Pool("limon-fresa")
	assert.Zero(t, pool.ReserveA)
	assert.Zero(t, pool.ReserveB)

	_, err := c.ProcessEvent(mustSwap("limon-fresa", "limon", 1))
	assert.ErrorIs(t, err, core.ErrEmptyPool)
	assert.NoError(t, c.ValidateGlobalBalance())
}

// ============================================================================
// Test: Token & pool creation
// ============================================================================

func TestCreateToken_CreditsSupply(t *testing.T) {
	c, _, _ := newTestCore(t)

	res := mustApply(t, c, mustCreateToken("Xyz Token", "XYZ"))
	require.NotNil(t, res.Token)
	assert.Equal(t, "xyz", res.Token.ID)
	assert.Equal(t, state.ProvenancePlayer, res.Token.CreatedBy)

	assert.Equal(t, 1000.0, c.Balance("xyz"))
	assert.Equal(t, 1, c.Stats().TokensCreated)
	assert.Equal(t, 55, c.Stats().Reputation)

	_, err := c.ProcessEvent(mustCreateToken("Again", "xyz"))
	assert.ErrorIs(t, err, core.ErrTokenExists)
	_, err = c.ProcessEvent(mustCreateToken("Blank", " "))
	assert.ErrorIs(t, err, state.ErrInvalidToken)
	_, err = c.ProcessEvent(mustCreateToken("Dashed", "MANGO-USDC"))
	assert.ErrorIs(t, err, state.ErrInvalidToken)
	assert.Equal(t, 1, c.Stats().TokensCreated)
}

func TestCreatePool_OpensFullPosition(t *testing.T) {
	c, _, _ := newTestCore(t)
	mustApply(t, c, mustCreateToken("Xyz", "XYZ"))

	res := mustApply(t, c, mustCreatePool("XYZ", "USDC", 200, 100))
	require.NotNil(t, res.Pool)
	assert.Equal(t, "xyz-usdc", res.Pool.ID)
	assert.Equal(t, state.HookCustom, res.Pool.Hook.Kind)
	assert.Equal(t, 15, res.Pool.BaseFeeBps)
	assert.Equal(t, state.ProvenancePlayer, res.Pool.CreatedBy)

	assert.Equal(t, 800.0, c.Balance("xyz"))
	assert.Equal(t, 900.0, c.Balance("usdc"))

	positions := c.Snapshot().Positions
	require.Len(t, positions, 1)
	assert.Equal(t, 100.0, positions[0].SharePercent)
	assert.Equal(t, 1, c.Stats().PoolsCreated)

	q, err := c.Quote("xyz-usdc", "xyz", 10)
	require.NoError(t, err)
	assert.InDelta(t, 0.15, q.FeePercent, 1e-12)
}

func TestCreatePool_Rejections(t *testing.T) {
	c, _, _ := newTestCore(t)
	mustApply(t, c, mustCreateToken("Xyz", "XYZ"))
	mustApply(t, c, mustCreatePool("xyz", "usdc", 10, 10))

	_, err := c.ProcessEvent(mustCreatePool("usdc", "xyz", 10, 10))
	assert.ErrorIs(t, err, core.ErrPoolExists)

	_, err = c.ProcessEvent(mustCreatePool("xyz", "xyz", 10, 10))
	assert.ErrorIs(t, err, core.ErrSameToken)

	_, err = c.ProcessEvent(mustCreatePool("kiwi", "usdc", 10, 10))
	assert.ErrorIs(t, err, core.ErrTokenNotFound)

	_, err = c.ProcessEvent(mustCreatePool("xyz", "pina", 10, 101))
	assert.ErrorIs(t, err, core.ErrInsufficientBalance)
	assert.False(t, func() bool { _, ok := c.Pool("xyz-pina"); return ok }())
}

// ============================================================================
// Test: Batch auction
// ============================================================================

func TestStartAuction_RequiresPlayerToken(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	before := c.Snapshot()

	_, err := c.ProcessEvent(&event.StartAuction{Meta: meta()})
	assert.ErrorIs(t, err, core.ErrNoEligibleToken)
	requireUnchanged(t, c, persistCh, before)

	mustApply(t, c, mustCreateToken("Xyz", "XYZ"))
	res := mustApply(t, c, &event.StartAuction{Meta: meta()})
	require.NotNil(t, res.Auction)
	assert.Equal(t, "xyz", res.Auction.TokenOffered)
	assert.Equal(t, "usdc", res.Auction.BaseToken)
	assert.True(t, res.Auction.Active)
	assert.Len(t, res.Auction.Blocks, 5)

	_, err = c.ProcessEvent(&event.StartAuction{Meta: meta()})
	assert.ErrorIs(t, err, core.ErrAuctionActive)
}

func TestPlaceBid_NoAuction(t *testing.T) {
	c, _, _ := newTestCore(t)
	_, err := c.ProcessEvent(mustPlaceBid(1, "player", 2, 10))
	assert.ErrorIs(t, err, core.ErrAuctionInactive)
	_, err = c.ProcessEvent(&event.AdvanceAuctionBlock{Meta: meta()})
	assert.ErrorIs(t, err, core.ErrAuctionInactive)
}

func TestAuction_PlayerWinsAndIsCredited(t *testing.T) {
	c, _, _ := newTestCore(t)
	mustApply(t, c, mustCreateToken("Xyz", "XYZ"))
	mustApply(t, c, &event.StartAuction{Meta: meta()})

	mustApply(t, c, mustPlaceBid(1, "player", 2, 100))
	assert.Equal(t, 900.0, c.Balance("usdc"), "budget escrowed")

	mustApply(t, c, mustPlaceBid(1, "", 2, 50))
	assert.Equal(t, 950.0, c.Balance("usdc"), "replacement refunds the prior escrow")

	res := mustApply(t, c, &event.AdvanceAuctionBlock{Meta: meta()})
	require.NotNil(t, res.Settlement)
	assert.Equal(t, 2.0, res.Settlement.ClearingPrice)
	assert.InDelta(t, 25.0, res.Settlement.TokensAllocated, 1e-12)

	assert.InDelta(t, 1025.0, c.Balance("xyz"), 1e-9)
	assert.InDelta(t, 950.0, c.Balance("usdc"), 1e-9)
	assert.Equal(t, 2, c.Snapshot().Auction.CurrentBlock)
	assert.Equal(t, 2, c.Stats().BidsPlaced)
	assert.NoError(t, c.ValidateGlobalBalance())
}

func TestAuction_LosingBidIsRefunded(t *testing.T) {
	c, _, _ := newTestCore(t)
	mustApply(t, c, mustCreateToken("Xyz", "XYZ"))
	mustApply(t, c, &event.StartAuction{Meta: meta()})

	mustApply(t, c, mustPlaceBid(1, "npc-whale", 3, 6000))
	mustApply(t, c, mustPlaceBid(1, "player", 2, 100))
	assert.Equal(t, 900.0, c.Balance("usdc"))

	res := mustApply(t, c, &event.AdvanceAuctionBlock{Meta: meta()})
	assert.Equal(t, 3.0, res.Settlement.ClearingPrice)
	assert.LessOrEqual(t, res.Settlement.TokensAllocated, 2000.0)

	for _, al := range res.Settlement.Allocations {
		if al.BidderID == "player" {
			assert.Zero(t, al.TokensWon)
		}
	}
	assert.Equal(t, 1000.0, c.Balance("usdc"))
	assert.Equal(t, 1000.0, c.Balance("xyz"))
}

func TestAuction_InsufficientBudget(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	mustApply(t, c, mustCreateToken("Xyz", "XYZ"))
	mustApply(t, c, &event.StartAuction{Meta: meta()})
	drainOutputs(persistCh)
	before := c.Snapshot()

	_, err := c.ProcessEvent(mustPlaceBid(1, "player", 2, 1000.5))
	assert.ErrorIs(t, err, core.ErrInsufficientBalance)
	requireUnchanged(t, c, persistCh, before)
}

func TestAuction_RunsToCompletion(t *testing.T) {
	c, _, _ := newTestCore(t)
	mustApply(t, c, mustCreateToken("Xyz", "XYZ"))
	mustApply(t, c, &event.StartAuction{Meta: meta()})

	for i := 1; i <= 5; i++ {
		res := mustApply(t, c, &event.AdvanceAuctionBlock{Meta: meta()})
		assert.Equal(t, i, res.Settlement.BlockNumber)
		assert.Equal(t, 1.0, res.Settlement.ClearingPrice, "no bids clears at the minimum")
	}
	assert.False(t, c.Snapshot().Auction.Active)

	_, err := c.ProcessEvent(&event.AdvanceAuctionBlock{Meta: meta()})
	assert.ErrorIs(t, err, core.ErrAuctionInactive)

	// A finished auction can be replaced.
	mustApply(t, c, &event.StartAuction{Meta: meta()})
}

func TestResetAuction_RefundsPendingEscrow(t *testing.T) {
	c, _, _ := newTestCore(t)
	mustApply(t, c, mustCreateToken("Xyz", "XYZ"))
	mustApply(t, c, &event.StartAuction{Meta: meta()})
	mustApply(t, c, mustPlaceBid(2, "player", 3, 30))
	mustApply(t, c, mustPlaceBid(4, "player", 5, 20))
	assert.Equal(t, 950.0, c.Balance("usdc"))

	mustApply(t, c, &event.ResetAuction{Meta: meta()})
	assert.Nil(t, c.Snapshot().Auction)
	assert.Equal(t, 1000.0, c.Balance("usdc"))

	_, err := c.ProcessEvent(&event.ResetAuction{Meta: meta()})
	assert.ErrorIs(t, err, core.ErrAuctionInactive)
}

// ============================================================================
// Test: NPC swaps
// ============================================================================

func TestNPCSwap_RecordsActivityWithoutTouchingInventory(t *testing.T) {
	c, _, _ := newTestCore(t)
	add := mustApply(t, c, mustAddLiquidity("mango-usdc", 10, 20))
	inventory := c.Snapshot().Inventory

	evt := &event.NPCSwap{Meta: meta(), NPC: "Ana", Pool: "mango-usdc", TokenIn: "usdc", AmountIn: 15}
	res := mustApply(t, c, evt)

	snap := c.Snapshot()
	assert.Equal(t, inventory, snap.Inventory)
	require.Len(t, snap.Activity, 1)
	assert.Equal(t, "Ana", snap.Activity[0].NPC)
	assert.Equal(t, evt.RequestID, snap.Activity[0].ID)
	assert.Equal(t, 0, snap.Stats.Swaps, "npc trades do not count for the player")

	expectedFee := res.Swap.FeeAmount * add.Liquidity.SharePercent / 100
	assert.InDelta(t, expectedFee, snap.Positions[0].FeesEarned.B, 1e-12)

	_, err := c.ProcessEvent(&event.NPCSwap{Meta: meta(), Pool: "mango-usdc", TokenIn: "usdc", AmountIn: 1})
	assert.ErrorIs(t, err, core.ErrUnknownNPC)
}

// ============================================================================
// Test: Idempotency & envelope
// ============================================================================

func TestIdempotency_DuplicateIntentRejected(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	evt := mustSwap("mango-limon", "mango", 1)

	mustApply(t, c, evt)
	drainOutputs(persistCh)
	before := c.Snapshot()

	_, err := c.ProcessEvent(evt)
	assert.ErrorIs(t, err, core.ErrDuplicateIntent)
	requireUnchanged(t, c, persistCh, before)
}

func TestUnstampedIntentRejected(t *testing.T) {
	c, _, _ := newTestCore(t)
	_, err := c.ProcessEvent(&event.Swap{Pool: "mango-limon", TokenIn: "mango", AmountIn: 1})
	assert.ErrorIs(t, err, core.ErrUnstampedIntent)
}

func TestStateHashChain_Deterministic(t *testing.T) {
	events := []event.Event{
		mustSwap("mango-limon", "mango", 10),
		mustAddLiquidity("mango-usdc", 5, 10),
		mustCreateToken("Xyz", "XYZ"),
		&event.NPCSwap{Meta: meta(), NPC: "Ana", Pool: "mango-usdc", TokenIn: "mango", AmountIn: 3},
	}

	c1, out1, _ := newTestCore(t)
	c2, out2, _ := newTestCore(t)
	for _, evt := range events {
		mustApply(t, c1, evt)
		mustApply(t, c2, evt)
	}

	assert.Equal(t, c1.GetStateHash(), c2.GetStateHash())

	o1 := drainOutputs(out1)
	o2 := drainOutputs(out2)
	require.Len(t, o1, len(events))
	for i := range o1 {
		assert.Equal(t, o1[i].Envelope.StateHash, o2[i].Envelope.StateHash)
		if i > 0 {
			assert.Equal(t, o1[i-1].Envelope.StateHash, o1[i].Envelope.PrevHash)
		}
	}
}

func TestEnvelope_HasCorrectFields(t *testing.T) {
	c, persistCh, _ := newTestCore(t)
	evt := mustSwap("mango-limon", "mango", 2)
	res := mustApply(t, c, evt)

	outputs := drainOutputs(persistCh)
	require.Len(t, outputs, 1)
	env := outputs[0].Envelope

	assert.Equal(t, evt.RequestID.String(), env.IdempotencyKey)
	assert.Equal(t, event.EventTypeSwap, env.EventType)
	require.NotNil(t, env.PoolID)
	assert.Equal(t, "mango-limon", *env.PoolID)
	assert.Equal(t, evt.Timestamp, env.Timestamp)
	assert.Equal(t, res.StateHash, core.EncodeHash(env.StateHash))
	assert.Contains(t, string(env.Payload), `"pool_id":"mango-limon"`)
	assert.Contains(t, string(env.Result), `"amount_out"`)
}

func TestPublishChannel_DropsOnFull(t *testing.T) {
	persistChan := make(chan core.CoreOutput, 16)
	publishChan := make(chan core.CoreOutput, 1)
	logger := zerolog.Nop()
	c, err := core.NewEngine(core.DefaultSeed(), core.EngineConfig{
		PersistChan: persistChan,
		PublishChan: publishChan,
		Logger:      &logger,
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		mustApply(t, c, mustSwap("mango-limon", "mango", 1))
	}

	assert.Len(t, drainOutputs(persistChan), 3)
	assert.Len(t, drainOutputs(publishChan), 1)
}

// ============================================================================
// Test: Snapshot & restore
// ============================================================================

func TestSnapshotState_RestoreRoundTrip(t *testing.T) {
	c, _, _ := newTestCore(t)
	mustApply(t, c, mustCreateToken("Xyz", "XYZ"))
	mustApply(t, c, mustAddLiquidity("mango-limon", 10, 10))
	mustApply(t, c, mustSwap("mango-limon", "limon", 7))
	mustApply(t, c, &event.StartAuction{Meta: meta()})
	mustApply(t, c, mustPlaceBid(1, "player", 2, 40))
	mustApply(t, c, &event.NPCSwap{Meta: meta(), NPC: "Ana", Pool: "mango-limon", TokenIn: "mango", AmountIn: 2})

	dumped := c.CreateSnapshotState()

	restored, _, _ := newTestCore(t)
	require.NoError(t, restored.RestoreFromSnapshot(dumped))

	assert.Equal(t, c.Snapshot(), restored.Snapshot())
	assert.Equal(t, c.GetSequence(), restored.GetSequence())
	assert.NoError(t, restored.ValidateGlobalBalance())

	// Both continue identically, and the restored engine remembers processed intents.
	next := mustSwap("mango-limon", "mango", 3)
	mustApply(t, c, next)
	mustApply(t, restored, next)
	assert.Equal(t, c.GetStateHash(), restored.GetStateHash())

	_, err := restored.ProcessEvent(next)
	assert.ErrorIs(t, err, core.ErrDuplicateIntent)
}

func TestRestoreFromSnapshot_RejectsBadHash(t *testing.T) {
	c, _, _ := newTestCore(t)
	dumped := c.CreateSnapshotState()
	dumped.StateHash = "not-hex"

	assert.Error(t, c.RestoreFromSnapshot(dumped))
}
