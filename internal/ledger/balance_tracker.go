package ledger

import (
	"errors"
	"fmt"
	"sort"
)

var ErrInsufficientBalance = errors.New("insufficient balance")

// DustTolerance is the rounding residue accepted on guarded accounts.
const DustTolerance = 1e-9

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]float64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]float64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) float64 {
	return bt.balances[key]
}

// GetPlayerBalance returns a holder's balance of one token
func (bt *BalanceTracker) GetPlayerBalance(owner, asset string) float64 {
	return bt.GetBalance(NewPlayerAccountKey(owner, asset))
}

// Inventory returns a holder's non-zero balances keyed by token id
func (bt *BalanceTracker) Inventory(owner string) map[string]float64 {
	inv := make(map[string]float64)
	for key, balance := range bt.balances {
		if key.Scope == AccountScopePlayer && key.EntityID == owner && balance != 0 {
			inv[key.Asset] = balance
		}
	}
	return inv
}

// ValidateSufficient checks the account holds at least required
func (bt *BalanceTracker) ValidateSufficient(key AccountKey, required float64) error {
	available := bt.GetBalance(key)
	if available < required {
		return fmt.Errorf("%w: %s have=%f, need=%f", ErrInsufficientBalance, key.Asset, available, required)
	}
	return nil
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < -DustTolerance {
		return fmt.Errorf("account %s has negative balance: %f", key.AccountPath(), balance)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances per asset (zero up to rounding)
func (bt *BalanceTracker) ComputeGlobalBalance() map[string]float64 {
	totals := make(map[string]float64)

	for key, balance := range bt.balances {
		totals[key.Asset] += balance
	}

	return totals
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]float64 {
	snapshot := make(map[AccountKey]float64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// Restore replaces all balances
func (bt *BalanceTracker) Restore(balances map[AccountKey]float64) {
	bt.balances = make(map[AccountKey]float64, len(balances))
	for k, v := range balances {
		bt.balances[k] = v
	}
}

// SortedKeys returns every tracked account ordered by AccountPath
func (bt *BalanceTracker) SortedKeys() []AccountKey {
	keys := make([]AccountKey, 0, len(bt.balances))
	for k := range bt.balances {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].AccountPath() < keys[j].AccountPath()
	})
	return keys
}
