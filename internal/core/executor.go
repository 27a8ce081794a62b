package core

import (
	"fmt"
	"math"

	"ammsim/internal/event"
	"ammsim/internal/ledger"
	fpmath "ammsim/internal/math"
	"ammsim/internal/state"
)

// SwapResult describes an executed or quoted swap.
type SwapResult struct {
	PoolID          string  `json:"pool_id"`
	TokenIn         string  `json:"token_in"`
	TokenOut        string  `json:"token_out"`
	AmountIn        float64 `json:"amount_in"`
	AmountInWithFee float64 `json:"amount_in_with_fee"`
	AmountOut       float64 `json:"amount_out"`
	FeePercent      float64 `json:"fee_percent"`
	FeeAmount       float64 `json:"fee_amount"`
	PriceImpact     float64 `json:"price_impact"`
	FeesToLPs       float64 `json:"fees_to_lps"`

	inIsA bool
}

// LiquidityResult describes a new liquidity position.
type LiquidityResult struct {
	PositionID   string  `json:"position_id"`
	PoolID       string  `json:"pool_id"`
	AmountA      float64 `json:"amount_a"`
	AmountB      float64 `json:"amount_b"`
	SharePercent float64 `json:"share_percent"`
}

// WithdrawalResult describes a closed liquidity position.
type WithdrawalResult struct {
	PositionID string  `json:"position_id"`
	PoolID     string  `json:"pool_id"`
	PrincipalA float64 `json:"principal_a"`
	PrincipalB float64 `json:"principal_b"`
	FeesA      float64 `json:"fees_a"`
	FeesB      float64 `json:"fees_b"`
}

// Quote previews a swap against current reserves without changing state.
func (c *Engine) Quote(poolID, tokenIn string, amountIn float64) (SwapResult, error) {
	if !fpmath.IsFinitePositive(amountIn) {
		return SwapResult{}, fmt.Errorf("%w: %f", ErrInvalidAmount, amountIn)
	}
	pool, ok := c.pools.Get(poolID)
	if !ok {
		return SwapResult{}, fmt.Errorf("%w: %s", ErrPoolNotFound, poolID)
	}
	return c.quote(pool, tokenIn, amountIn)
}

func (c *Engine) quote(pool state.Pool, tokenIn string, amountIn float64) (SwapResult, error) {
	reserveIn, reserveOut, tokenOut, inIsA, err := pool.Orient(tokenIn)
	if err != nil {
		return SwapResult{}, err
	}
	if reserveIn <= 0 || reserveOut <= 0 {
		return SwapResult{}, fmt.Errorf("%w: %s", ErrEmptyPool, pool.ID)
	}

	// Always recomputed from the reserves passed in.
	feePercent, err := c.fees.ResolveFeePercent(pool, amountIn, tokenIn)
	if err != nil {
		return SwapResult{}, err
	}

	amountOut, amountInWithFee := fpmath.ComputeAmountOut(reserveIn, reserveOut, amountIn, feePercent)
	return SwapResult{
		PoolID:          pool.ID,
		TokenIn:         tokenIn,
		TokenOut:        tokenOut,
		AmountIn:        amountIn,
		AmountInWithFee: amountInWithFee,
		AmountOut:       amountOut,
		FeePercent:      feePercent,
		FeeAmount:       fpmath.ComputeFeeAmount(amountIn, feePercent),
		PriceImpact:     fpmath.ComputePriceImpact(amountOut, reserveOut),
		inIsA:           inIsA,
	}, nil
}

// executeSwap runs a swap for any holder. Only the player's inventory is
// checked; NPC accounts are unfunded.
func (c *Engine) executeSwap(h ledger.Holder, poolID, tokenIn string, amountIn float64, batch *ledger.Batch) (*SwapResult, error) {
	if !fpmath.IsFinitePositive(amountIn) {
		return nil, fmt.Errorf("%w: %f", ErrInvalidAmount, amountIn)
	}
	pool, ok := c.pools.Get(poolID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, poolID)
	}

	q, err := c.quote(pool, tokenIn, amountIn)
	if err != nil {
		return nil, err
	}

	if h.Funded() {
		if err := c.balanceTracker.ValidateSufficient(h.Key(tokenIn), amountIn); err != nil {
			return nil, err
		}
	}

	// Full amountIn enters the pool; the fee stays in the reserve.
	pool.ApplySwap(q.inIsA, amountIn, q.AmountOut)
	pool.TotalFeesCollected.Add(q.inIsA, q.FeeAmount)
	if err := c.pools.Upsert(pool); err != nil {
		return nil, err
	}

	q.FeesToLPs = c.positions.DistributeFees(pool.ID, q.inIsA, q.FeeAmount)
	c.journalGen.Swap(batch, h, pool.ID, q.TokenIn, q.TokenOut, amountIn, q.AmountOut)

	if c.metrics != nil {
		c.metrics.SwapVolume.WithLabelValues(pool.ID, q.TokenIn).Add(amountIn)
		c.metrics.SwapFees.WithLabelValues(pool.ID, q.TokenIn).Add(q.FeeAmount)
		c.metrics.SwapPriceImpact.WithLabelValues(pool.ID).Observe(q.PriceImpact)
	}

	return &q, nil
}

func (c *Engine) handleSwap(evt *event.Swap, batch *ledger.Batch) (*Result, error) {
	res, err := c.executeSwap(ledger.PlayerHolder(PlayerID), evt.Pool, evt.TokenIn, evt.AmountIn, batch)
	if err != nil {
		return nil, fmt.Errorf("swap: %w", err)
	}

	c.stats.Swaps++
	c.stats.VolumeTraded += evt.AmountIn
	c.stats.Reputation += state.ReputationSwap
	return &Result{Swap: res}, nil
}

func (c *Engine) handleNPCSwap(evt *event.NPCSwap, batch *ledger.Batch) (*Result, error) {
	if evt.NPC == "" {
		return nil, fmt.Errorf("npc swap: %w", ErrUnknownNPC)
	}
	res, err := c.executeSwap(ledger.NPCHolder(evt.NPC), evt.Pool, evt.TokenIn, evt.AmountIn, batch)
	if err != nil {
		return nil, fmt.Errorf("npc swap: %w", err)
	}

	c.activity.Add(state.ActivityEntry{
		ID:        evt.RequestID,
		NPC:       evt.NPC,
		PoolID:    res.PoolID,
		TokenIn:   res.TokenIn,
		TokenOut:  res.TokenOut,
		AmountIn:  res.AmountIn,
		AmountOut: res.AmountOut,
		FeeAmount: res.FeeAmount,
		Timestamp: evt.Timestamp,
	})
	if c.metrics != nil {
		c.metrics.NPCTrades.WithLabelValues(res.PoolID).Inc()
	}
	return &Result{Swap: res}, nil
}

func (c *Engine) handleAddLiquidity(evt *event.AddLiquidity, batch *ledger.Batch) (*Result, error) {
	if !fpmath.IsFinitePositive(evt.AmountA) || !fpmath.IsFinitePositive(evt.AmountB) {
		return nil, fmt.Errorf("add liquidity: %w: a=%f b=%f", ErrInvalidAmount, evt.AmountA, evt.AmountB)
	}
	pool, ok := c.pools.Get(evt.Pool)
	if !ok {
		return nil, fmt.Errorf("add liquidity: %w: %s", ErrPoolNotFound, evt.Pool)
	}

	player := ledger.PlayerHolder(PlayerID)
	if err := c.balanceTracker.ValidateSufficient(player.Key(pool.TokenA), evt.AmountA); err != nil {
		return nil, fmt.Errorf("add liquidity: %w", err)
	}
	if err := c.balanceTracker.ValidateSufficient(player.Key(pool.TokenB), evt.AmountB); err != nil {
		return nil, fmt.Errorf("add liquidity: %w", err)
	}

	// Share is measured against depth before the deposit and never revisited.
	share := fpmath.ComputeLiquidityShare(pool.ReserveA, pool.ReserveB, evt.AmountA, evt.AmountB)

	pool.ReserveA += evt.AmountA
	pool.ReserveB += evt.AmountB
	if err := c.pools.Upsert(pool); err != nil {
		return nil, fmt.Errorf("add liquidity: %w", err)
	}

	c.positions.Open(state.LiquidityPosition{
		ID:           evt.RequestID,
		Owner:        PlayerID,
		PoolID:       pool.ID,
		SharePercent: share,
		AmountA:      evt.AmountA,
		AmountB:      evt.AmountB,
		OpenedAt:     evt.Timestamp,
	})
	c.journalGen.LiquidityDeposit(batch, player, pool.ID, pool.TokenA, pool.TokenB, evt.AmountA, evt.AmountB)

	c.stats.LiquidityAdded++
	c.stats.Reputation += state.ReputationAddLiquidity

	return &Result{Liquidity: &LiquidityResult{
		PositionID:   evt.RequestID.String(),
		PoolID:       pool.ID,
		AmountA:      evt.AmountA,
		AmountB:      evt.AmountB,
		SharePercent: share,
	}}, nil
}

// handleRemoveLiquidity withdraws SharePercent of the pool's current reserves
// and closes the player's oldest position on the pool, whatever the percent.
// Accrued fees are paid on top of principal, capped at what the pool holds.
func (c *Engine) handleRemoveLiquidity(evt *event.RemoveLiquidity, batch *ledger.Batch) (*Result, error) {
	pct := evt.SharePercent
	if math.IsNaN(pct) || pct <= 0 || pct > 100 {
		return nil, fmt.Errorf("remove liquidity: %w: %f", ErrInvalidSharePercent, pct)
	}
	pool, ok := c.pools.Get(evt.Pool)
	if !ok {
		return nil, fmt.Errorf("remove liquidity: %w: %s", ErrPoolNotFound, evt.Pool)
	}
	pos, ok := c.positions.OldestFor(PlayerID, pool.ID)
	if !ok {
		return nil, fmt.Errorf("remove liquidity: %w: %s", ErrPositionNotFound, pool.ID)
	}

	principalA := fpmath.ProRata(pool.ReserveA, pct)
	principalB := fpmath.ProRata(pool.ReserveB, pct)

	// Same operation order as the journals so pool accounts mirror reserves exactly.
	reserveA := pool.ReserveA - principalA
	reserveB := pool.ReserveB - principalB
	feesA := math.Max(0, math.Min(pos.FeesEarned.A, reserveA))
	feesB := math.Max(0, math.Min(pos.FeesEarned.B, reserveB))
	pool.ReserveA = reserveA - feesA
	pool.ReserveB = reserveB - feesB

	if err := c.pools.Upsert(pool); err != nil {
		return nil, fmt.Errorf("remove liquidity: %w", err)
	}
	c.positions.Close(pos.ID)
	c.journalGen.LiquidityWithdraw(batch, ledger.PlayerHolder(PlayerID), pool.ID, pool.TokenA, pool.TokenB,
		principalA, principalB, feesA, feesB)

	c.stats.LiquidityRemoved++

	return &Result{Withdrawal: &WithdrawalResult{
		PositionID: pos.ID.String(),
		PoolID:     pool.ID,
		PrincipalA: principalA,
		PrincipalB: principalB,
		FeesA:      feesA,
		FeesB:      feesB,
	}}, nil
}
