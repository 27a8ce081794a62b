// internal/state/pool.go
package state

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPoolNotFound    = errors.New("pool not found")
	ErrPoolExists      = errors.New("pool already exists")
	ErrTokenNotInPool  = errors.New("token not in pool")
	ErrNegativeReserve = errors.New("reserve would become negative")
)

// HookKind selects the fee strategy attached to a pool.
type HookKind string

const (
	HookDynamicFee HookKind = "dynamic_fee"
	HookAntiMEV    HookKind = "anti_mev"
	HookOracle     HookKind = "oracle"
	HookCustom     HookKind = "custom"
)

func (k HookKind) Valid() bool {
	switch k {
	case HookDynamicFee, HookAntiMEV, HookOracle, HookCustom:
		return true
	default:
		return false
	}
}

// FeeRange is a [min, max] pair in basis points.
type FeeRange struct {
	MinBps int `json:"min_bps"`
	MaxBps int `json:"max_bps"`
}

// Hook is a pool's fee policy.
type Hook struct {
	Kind     HookKind `json:"kind"`
	FeeRange FeeRange `json:"fee_range_bps"`
}

// FeeSides holds a pair of amounts keyed by pool side.
type FeeSides struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

// Add accumulates amount on the side matching isA.
func (f *FeeSides) Add(isA bool, amount float64) {
	if isA {
		f.A += amount
	} else {
		f.B += amount
	}
}

// Pool is a trading pair with reserves and fee configuration.
type Pool struct {
	ID                 string     `json:"id"`
	TokenA             string     `json:"token_a"`
	TokenB             string     `json:"token_b"`
	ReserveA           float64    `json:"reserve_a"`
	ReserveB           float64    `json:"reserve_b"`
	BaseFeeBps         int        `json:"base_fee_bps"`
	Hook               Hook       `json:"hook"`
	TotalFeesCollected FeeSides   `json:"total_fees_collected"`
	CreatedBy          Provenance `json:"created_by"`
}

// poolIDSeparator joins the two token ids of a pool id. Token symbols may
// not contain it, so every pool id splits back into one token pair.
const poolIDSeparator = "-"

// PoolID builds the deterministic pool id from two symbols.
func PoolID(symbolA, symbolB string) string {
	return strings.ToLower(symbolA) + poolIDSeparator + strings.ToLower(symbolB)
}

func (p *Pool) HasToken(tokenID string) bool {
	return tokenID == p.TokenA || tokenID == p.TokenB
}

// Orient returns the reserves as seen by a trade selling tokenIn.
// inIsA reports whether tokenIn is the pool's A side.
func (p *Pool) Orient(tokenIn string) (reserveIn, reserveOut float64, tokenOut string, inIsA bool, err error) {
	switch tokenIn {
	case p.TokenA:
		return p.ReserveA, p.ReserveB, p.TokenB, true, nil
	case p.TokenB:
		return p.ReserveB, p.ReserveA, p.TokenA, false, nil
	default:
		return 0, 0, "", false, fmt.Errorf("%w: %s not in %s", ErrTokenNotInPool, tokenIn, p.ID)
	}
}

// ApplySwap moves reserves for a trade: the input side grows by the full
// amountIn and the output side shrinks by amountOut.
func (p *Pool) ApplySwap(inIsA bool, amountIn, amountOut float64) {
	if inIsA {
		p.ReserveA += amountIn
		p.ReserveB -= amountOut
	} else {
		p.ReserveB += amountIn
		p.ReserveA -= amountOut
	}
}

// Validate checks the reserve invariant.
func (p *Pool) Validate() error {
	if p.ReserveA < 0 || p.ReserveB < 0 {
		return fmt.Errorf("%w: pool %s (a=%f, b=%f)", ErrNegativeReserve, p.ID, p.ReserveA, p.ReserveB)
	}
	return nil
}
