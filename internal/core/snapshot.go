package core

import (
	"fmt"
	"sort"

	"ammsim/internal/auction"
	"ammsim/internal/ledger"
	"ammsim/internal/state"
)

// Snapshot is the read-only view exposed to callers.
type Snapshot struct {
	Sequence   int64                     `json:"sequence"`
	StateHash  string                    `json:"state_hash"`
	Tokens     []state.Token             `json:"tokens"`
	Pools      []state.Pool              `json:"pools"`
	Inventory  map[string]float64        `json:"inventory"`
	Positions  []state.LiquidityPosition `json:"positions"`
	Auction    *auction.Auction          `json:"auction,omitempty"`
	Activity   []state.ActivityEntry     `json:"activity"`
	Stats      state.PlayerStats         `json:"stats"`
	Challenges []state.Challenge         `json:"challenges"`
}

// BalanceEntry is one ledger account in a dumped state.
type BalanceEntry struct {
	Scope    ledger.AccountScope `json:"scope"`
	EntityID string              `json:"entity_id"`
	Asset    string              `json:"asset"`
	Balance  float64             `json:"balance"`
}

// SnapshotState is the full dump used to restore an engine.
type SnapshotState struct {
	Snapshot
	SeedTokenIDs    []string                  `json:"seed_token_ids"`
	AllPositions    []state.LiquidityPosition `json:"all_positions"`
	Balances        []BalanceEntry            `json:"balances"`
	IdempotencyKeys []string                  `json:"idempotency_keys"`
}

// Snapshot captures the player-facing state.
func (c *Engine) Snapshot() *Snapshot {
	challenges := append([]state.Challenge(nil), c.challenges...)
	return &Snapshot{
		Sequence:   c.sequence - 1, // Last processed sequence
		StateHash:  EncodeHash(c.hasher.GetPrevHash()),
		Tokens:     c.tokens.All(),
		Pools:      c.pools.All(),
		Inventory:  c.balanceTracker.Inventory(PlayerID),
		Positions:  c.positions.ForOwner(PlayerID),
		Auction:    c.auction.Clone(),
		Activity:   c.activity.Entries(),
		Stats:      c.stats,
		Challenges: challenges,
	}
}

// CreateSnapshotState captures the full in-memory state for persistence.
func (c *Engine) CreateSnapshotState() *SnapshotState {
	balances := c.balanceTracker.Snapshot()
	entries := make([]BalanceEntry, 0, len(balances))
	for _, key := range c.balanceTracker.SortedKeys() {
		entries = append(entries, BalanceEntry{
			Scope:    key.Scope,
			EntityID: key.EntityID,
			Asset:    key.Asset,
			Balance:  balances[key],
		})
	}

	return &SnapshotState{
		Snapshot:        *c.Snapshot(),
		SeedTokenIDs:    c.tokens.SeedIDs(),
		AllPositions:    c.positions.All(),
		Balances:        entries,
		IdempotencyKeys: c.idempotency.Keys(),
	}
}

// RestoreFromSnapshot replaces the engine's in-memory state with a dump.
// The dump is validated first; on error nothing changes.
func (c *Engine) RestoreFromSnapshot(snap *SnapshotState) error {
	hash, err := DecodeHash(snap.StateHash)
	if err != nil {
		return err
	}
	for _, p := range snap.Pools {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
	}
	balances := make(map[ledger.AccountKey]float64, len(snap.Balances))
	for _, b := range snap.Balances {
		key := ledger.AccountKey{Scope: b.Scope, EntityID: b.EntityID, Asset: b.Asset}
		if key.MustStayNonNegative() && b.Balance < -ledger.DustTolerance {
			return fmt.Errorf("restore: account %s is negative", key.AccountPath())
		}
		balances[key] = b.Balance
	}

	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(hash)
	c.tokens.Restore(snap.Tokens, snap.SeedTokenIDs)
	c.pools.Restore(snap.Pools)
	positions := snap.AllPositions
	if positions == nil {
		positions = snap.Positions
	}
	c.positions.Restore(positions)
	c.activity.Restore(snap.Activity)
	c.stats = snap.Stats
	c.challenges = append([]state.Challenge(nil), snap.Challenges...)
	c.auction = snap.Auction.Clone()
	c.balanceTracker.Restore(balances)
	c.idempotency.Warm(snap.IdempotencyKeys)

	c.logger.Info().Int64("sequence", snap.Sequence).Msg("state restored from snapshot")
	return nil
}

// SortedInventory returns the player's holdings ordered by token id.
func (s *Snapshot) SortedInventory() []string {
	ids := make([]string, 0, len(s.Inventory))
	for id := range s.Inventory {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
