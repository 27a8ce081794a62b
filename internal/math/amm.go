// internal/math/amm.go
package math

import (
	"math"
)

// BpsDivisor is 100% expressed in basis points.
const BpsDivisor = 10_000

// ComputeAmountOut applies the constant-product formula to a fee-discounted input.
// feePercent is a percent value (0.3 means 0.3%), so the input is scaled by
// (1 - feePercent/100) before pricing.
//
// Returns the output amount and the fee-discounted input that was priced.
func ComputeAmountOut(reserveIn, reserveOut, amountIn, feePercent float64) (amountOut, amountInWithFee float64) {
	amountInWithFee = amountIn * (1 - feePercent/100)
	denominator := reserveIn + amountInWithFee
	if denominator <= 0 {
		return 0, amountInWithFee
	}
	amountOut = reserveOut * amountInWithFee / denominator
	return amountOut, amountInWithFee
}

// ComputeFeeAmount returns the part of amountIn retained as fee.
func ComputeFeeAmount(amountIn, feePercent float64) float64 {
	return amountIn * feePercent / 100
}

// ComputePriceImpact returns the share of the pre-trade output reserve consumed
// by the trade, as a percent. This is a ratio, not a slippage measure.
func ComputePriceImpact(amountOut, reserveOut float64) float64 {
	if reserveOut <= 0 {
		return 0
	}
	return amountOut / reserveOut * 100
}

// ComputeLiquidityShare returns the share (0-100) a deposit of (amountA, amountB)
// represents against the pool depth at this instant, using geometric means.
func ComputeLiquidityShare(reserveA, reserveB, amountA, amountB float64) float64 {
	newLiquidity := math.Sqrt(amountA * amountB)
	totalLiquidity := math.Sqrt(reserveA * reserveB)
	denominator := totalLiquidity + newLiquidity
	if denominator <= 0 {
		return 0
	}
	return newLiquidity / denominator * 100
}

// InterpolateBps linearly interpolates between minBps and maxBps.
// ratio is clamped to [0, 1].
func InterpolateBps(minBps, maxBps int, ratio float64) float64 {
	if math.IsNaN(ratio) || ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	return float64(minBps) + float64(maxBps-minBps)*ratio
}

// ProRata returns amount * sharePercent/100.
func ProRata(amount, sharePercent float64) float64 {
	return amount * sharePercent / 100
}

// ConstantProduct returns x*y.
func ConstantProduct(reserveA, reserveB float64) float64 {
	return reserveA * reserveB
}

// IsFinitePositive reports whether v is a usable positive quantity.
func IsFinitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
