// internal/state/fee_policy.go
package state

import (
	fpmath "ammsim/internal/math"
)

const (
	// DefaultBaseFeeBps applies when a pool carries no base fee.
	DefaultBaseFeeBps = 30

	// AntiMEVSurchargePercent is added on top of the base fee percent.
	AntiMEVSurchargePercent = 0.05
)

// FeePolicyResolver computes the effective fee for a prospective trade.
// The result is a percent (bps/100). Callers divide by 100 again to get a fraction.
type FeePolicyResolver struct{}

func NewFeePolicyResolver() *FeePolicyResolver {
	return &FeePolicyResolver{}
}

// ResolveFeePercent is a pure function of the pool as passed in. Reserves are
// read at call time; nothing is cached between calls.
func (r *FeePolicyResolver) ResolveFeePercent(pool Pool, amountIn float64, tokenInID string) (float64, error) {
	reserveIn, _, _, _, err := pool.Orient(tokenInID)
	if err != nil {
		return 0, err
	}

	switch pool.Hook.Kind {
	case HookDynamicFee:
		ratio := 1.0
		if reserveIn > 0 {
			ratio = amountIn / reserveIn
		}
		bps := fpmath.InterpolateBps(pool.Hook.FeeRange.MinBps, pool.Hook.FeeRange.MaxBps, ratio)
		return bps / 100, nil

	case HookAntiMEV:
		return baseFeePercent(pool) + AntiMEVSurchargePercent, nil

	case HookOracle:
		return float64(pool.Hook.FeeRange.MinBps+pool.Hook.FeeRange.MaxBps) / 200, nil

	default:
		return baseFeePercent(pool), nil
	}
}

func baseFeePercent(pool Pool) float64 {
	bps := pool.BaseFeeBps
	if bps <= 0 {
		bps = DefaultBaseFeeBps
	}
	return float64(bps) / 100
}
