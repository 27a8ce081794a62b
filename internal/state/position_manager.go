// internal/state/position_manager.go
package state

import (
	"errors"
	"time"

	fpmath "ammsim/internal/math"

	"github.com/google/uuid"
)

var ErrPositionNotFound = errors.New("liquidity position not found")

// LiquidityPosition is a claim on a pool opened by one holder.
// SharePercent is fixed when the position opens and never recalculated.
type LiquidityPosition struct {
	ID           uuid.UUID `json:"id"`
	Owner        string    `json:"owner"`
	PoolID       string    `json:"pool_id"`
	SharePercent float64   `json:"share_percent"`
	AmountA      float64   `json:"amount_a"` // Initial deposit
	AmountB      float64   `json:"amount_b"` // Initial deposit
	FeesEarned   FeeSides  `json:"fees_earned"`
	OpenedAt     time.Time `json:"opened_at"`
}

// PositionManager tracks open liquidity positions in the order they were opened.
// Not thread-safe; owned by the engine.
type PositionManager struct {
	positions []*LiquidityPosition
}

func NewPositionManager() *PositionManager {
	return &PositionManager{}
}

// Open appends a new position.
func (pm *PositionManager) Open(pos LiquidityPosition) {
	p := pos
	pm.positions = append(pm.positions, &p)
}

// OldestFor returns the first-opened position of owner on poolID.
func (pm *PositionManager) OldestFor(owner, poolID string) (LiquidityPosition, bool) {
	for _, p := range pm.positions {
		if p.Owner == owner && p.PoolID == poolID {
			return *p, true
		}
	}
	return LiquidityPosition{}, false
}

// Close removes a position by id.
func (pm *PositionManager) Close(id uuid.UUID) bool {
	for i, p := range pm.positions {
		if p.ID == id {
			pm.positions = append(pm.positions[:i], pm.positions[i+1:]...)
			return true
		}
	}
	return false
}

// DistributeFees credits every open position on poolID with its share of feeAmount.
// Returns the total credited.
func (pm *PositionManager) DistributeFees(poolID string, inIsA bool, feeAmount float64) float64 {
	var total float64
	for _, p := range pm.positions {
		if p.PoolID != poolID {
			continue
		}
		share := fpmath.ProRata(feeAmount, p.SharePercent)
		p.FeesEarned.Add(inIsA, share)
		total += share
	}
	return total
}

// ForOwner returns copies of owner's positions.
func (pm *PositionManager) ForOwner(owner string) []LiquidityPosition {
	var out []LiquidityPosition
	for _, p := range pm.positions {
		if p.Owner == owner {
			out = append(out, *p)
		}
	}
	return out
}

// ForPool returns copies of the positions open on poolID.
func (pm *PositionManager) ForPool(poolID string) []LiquidityPosition {
	var out []LiquidityPosition
	for _, p := range pm.positions {
		if p.PoolID == poolID {
			out = append(out, *p)
		}
	}
	return out
}

func (pm *PositionManager) All() []LiquidityPosition {
	out := make([]LiquidityPosition, 0, len(pm.positions))
	for _, p := range pm.positions {
		out = append(out, *p)
	}
	return out
}

func (pm *PositionManager) Restore(positions []LiquidityPosition) {
	pm.positions = pm.positions[:0]
	for _, pos := range positions {
		pm.Open(pos)
	}
}
