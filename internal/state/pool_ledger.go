// internal/state/pool_ledger.go
package state

import "fmt"

// Defaults for pools created at runtime.
const (
	CreatedPoolBaseFeeBps = 15
	CreatedPoolMinFeeBps  = 10
	CreatedPoolMaxFeeBps  = 30
)

// PoolLedger is the authoritative store of pools.
// Not thread-safe; only accessed from the single-writer engine.
type PoolLedger struct {
	pools map[string]*Pool
	order []string
}

func NewPoolLedger() *PoolLedger {
	return &PoolLedger{
		pools: make(map[string]*Pool),
	}
}

// Get returns a copy of the pool.
func (pl *PoolLedger) Get(poolID string) (Pool, bool) {
	p, ok := pl.pools[poolID]
	if !ok {
		return Pool{}, false
	}
	return *p, true
}

// Upsert replaces an existing pool's mutable fields. Unknown ids are rejected.
func (pl *PoolLedger) Upsert(pool Pool) error {
	existing, ok := pl.pools[pool.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPoolNotFound, pool.ID)
	}
	if err := pool.Validate(); err != nil {
		return err
	}

	existing.ReserveA = pool.ReserveA
	existing.ReserveB = pool.ReserveB
	existing.BaseFeeBps = pool.BaseFeeBps
	existing.Hook = pool.Hook
	existing.TotalFeesCollected = pool.TotalFeesCollected
	return nil
}

// Insert stores a fully specified pool (seed data).
func (pl *PoolLedger) Insert(pool Pool) error {
	if _, exists := pl.pools[pool.ID]; exists {
		return fmt.Errorf("%w: %s", ErrPoolExists, pool.ID)
	}
	if err := pool.Validate(); err != nil {
		return err
	}
	p := pool
	pl.pools[p.ID] = &p
	pl.order = append(pl.order, p.ID)
	return nil
}

// Create opens a player pool with the default custom hook.
// The caller is responsible for having validated and debited inventory.
func (pl *PoolLedger) Create(tokenA, tokenB Token, amountA, amountB float64) (Pool, error) {
	pool := Pool{
		ID:         PoolID(tokenA.Symbol, tokenB.Symbol),
		TokenA:     tokenA.ID,
		TokenB:     tokenB.ID,
		ReserveA:   amountA,
		ReserveB:   amountB,
		BaseFeeBps: CreatedPoolBaseFeeBps,
		Hook: Hook{
			Kind:     HookCustom,
			FeeRange: FeeRange{MinBps: CreatedPoolMinFeeBps, MaxBps: CreatedPoolMaxFeeBps},
		},
		CreatedBy: ProvenancePlayer,
	}
	if err := pl.Insert(pool); err != nil {
		return Pool{}, err
	}
	return pool, nil
}

func (pl *PoolLedger) Exists(poolID string) bool {
	_, ok := pl.pools[poolID]
	return ok
}

// All returns pools in creation order.
func (pl *PoolLedger) All() []Pool {
	out := make([]Pool, 0, len(pl.order))
	for _, id := range pl.order {
		out = append(out, *pl.pools[id])
	}
	return out
}

func (pl *PoolLedger) IDs() []string {
	out := make([]string, len(pl.order))
	copy(out, pl.order)
	return out
}

func (pl *PoolLedger) Len() int {
	return len(pl.order)
}

// Restore replaces the ledger contents.
func (pl *PoolLedger) Restore(pools []Pool) {
	pl.pools = make(map[string]*Pool, len(pools))
	pl.order = pl.order[:0]
	for _, pool := range pools {
		p := pool
		pl.pools[p.ID] = &p
		pl.order = append(pl.order, p.ID)
	}
}
