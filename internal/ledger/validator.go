package ledger

import (
	"fmt"
	"math"
)

// GlobalBalanceTolerance absorbs floating-point rounding in zero-sum checks.
const GlobalBalanceTolerance = 1e-6

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies every entry of the batch is well-formed
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateTouchedNonNegative checks every guarded account the batch touched
func (v *InvariantValidator) ValidateTouchedNonNegative(batch *Batch) error {
	for _, j := range batch.Journals {
		for _, key := range [2]AccountKey{j.DebitAccount, j.CreditAccount} {
			if !key.MustStayNonNegative() {
				continue
			}
			if err := v.tracker.ValidateNonNegative(key); err != nil {
				return err
			}
		}
	}
	return nil
}

// ValidatePoolMirror checks the pool accounts match the pool's reserves
func (v *InvariantValidator) ValidatePoolMirror(poolID, tokenA, tokenB string, reserveA, reserveB float64) error {
	a := v.tracker.GetBalance(NewPoolAccountKey(poolID, tokenA))
	b := v.tracker.GetBalance(NewPoolAccountKey(poolID, tokenB))
	if math.Abs(a-reserveA) > GlobalBalanceTolerance || math.Abs(b-reserveB) > GlobalBalanceTolerance {
		return fmt.Errorf("pool %s accounts (%f, %f) diverge from reserves (%f, %f)", poolID, a, b, reserveA, reserveB)
	}
	return nil
}

// ValidateGlobalBalance verifies the ledger is zero-sum per asset
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for asset, total := range totals {
		if math.Abs(total) > GlobalBalanceTolerance {
			return fmt.Errorf("global balance for %s is non-zero: %f", asset, total)
		}
	}

	return nil
}
