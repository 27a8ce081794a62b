package core

import (
	"fmt"
	"strings"

	"ammsim/internal/event"
	"ammsim/internal/ledger"
	fpmath "ammsim/internal/math"
	"ammsim/internal/state"
)

func (c *Engine) handleCreateToken(evt *event.CreateToken, batch *ledger.Batch) (*Result, error) {
	symbol := strings.TrimSpace(evt.Symbol)
	name := strings.TrimSpace(evt.Name)
	if name == "" {
		name = symbol
	}

	tok := state.Token{
		ID:        state.TokenIDFromSymbol(symbol),
		Name:      name,
		Symbol:    symbol,
		CreatedBy: state.ProvenancePlayer,
	}
	if err := c.tokens.Register(tok, false); err != nil {
		return nil, fmt.Errorf("create token: %w", err)
	}

	c.journalGen.Mint(batch, ledger.PlayerHolder(PlayerID), tok.ID, CreatedTokenSupply)

	c.stats.TokensCreated++
	c.stats.Reputation += state.ReputationCreateToken

	c.logger.Info().Str("token", tok.ID).Msg("token created")
	return &Result{Token: &tok}, nil
}

func (c *Engine) handleCreatePool(evt *event.CreatePool, batch *ledger.Batch) (*Result, error) {
	a, ok := c.tokens.Get(state.TokenIDFromSymbol(evt.TokenA))
	if !ok {
		return nil, fmt.Errorf("create pool: %w: %s", ErrTokenNotFound, evt.TokenA)
	}
	b, ok := c.tokens.Get(state.TokenIDFromSymbol(evt.TokenB))
	if !ok {
		return nil, fmt.Errorf("create pool: %w: %s", ErrTokenNotFound, evt.TokenB)
	}
	if a.ID == b.ID {
		return nil, fmt.Errorf("create pool: %w: %s", ErrSameToken, a.ID)
	}
	if !fpmath.IsFinitePositive(evt.AmountA) || !fpmath.IsFinitePositive(evt.AmountB) {
		return nil, fmt.Errorf("create pool: %w: a=%f b=%f", ErrInvalidAmount, evt.AmountA, evt.AmountB)
	}
	for _, id := range []string{state.PoolID(a.Symbol, b.Symbol), state.PoolID(b.Symbol, a.Symbol)} {
		if c.pools.Exists(id) {
			return nil, fmt.Errorf("create pool: %w: %s", ErrPoolExists, id)
		}
	}

	player := ledger.PlayerHolder(PlayerID)
	if err := c.balanceTracker.ValidateSufficient(player.Key(a.ID), evt.AmountA); err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := c.balanceTracker.ValidateSufficient(player.Key(b.ID), evt.AmountB); err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pool, err := c.pools.Create(a, b, evt.AmountA, evt.AmountB)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// The creator owns the whole pool at creation.
	c.positions.Open(state.LiquidityPosition{
		ID:           evt.RequestID,
		Owner:        PlayerID,
		PoolID:       pool.ID,
		SharePercent: 100,
		AmountA:      evt.AmountA,
		AmountB:      evt.AmountB,
		OpenedAt:     evt.Timestamp,
	})
	c.journalGen.LiquidityDeposit(batch, player, pool.ID, pool.TokenA, pool.TokenB, evt.AmountA, evt.AmountB)

	c.stats.PoolsCreated++
	c.stats.Reputation += state.ReputationCreatePool

	c.logger.Info().Str("pool_id", pool.ID).Msg("pool created")
	return &Result{Pool: &pool}, nil
}
