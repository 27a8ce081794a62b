package ledger

import (
	"fmt"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopePlayer AccountScope = iota
	AccountScopePool
	AccountScopeEscrow
	AccountScopeNPC
	AccountScopeExternal
)

func (s AccountScope) String() string {
	switch s {
	case AccountScopePlayer:
		return "player"
	case AccountScopePool:
		return "pool"
	case AccountScopeEscrow:
		return "escrow"
	case AccountScopeNPC:
		return "npc"
	case AccountScopeExternal:
		return "external"
	default:
		return "unknown"
	}
}

// External boundary accounts. Tokens enter and leave the simulation through these.
const (
	ExternalMint    = "mint"    // Seed inventory and created tokens
	ExternalAuction = "auction" // Auction supply and proceeds
	ExternalSeed    = "seed"    // Seed pool reserves
)

// EscrowAuction holds bid budgets until a block executes.
const EscrowAuction = "auction"

// AccountKey is the in-memory key for balance tracking.
// Asset is the token id.
type AccountKey struct {
	Scope    AccountScope
	EntityID string
	Asset    string
}

// NewPlayerAccountKey creates a key for a holder's inventory
func NewPlayerAccountKey(owner, asset string) AccountKey {
	return AccountKey{Scope: AccountScopePlayer, EntityID: owner, Asset: asset}
}

// NewPoolAccountKey creates a key mirroring one side of a pool's reserves
func NewPoolAccountKey(poolID, asset string) AccountKey {
	return AccountKey{Scope: AccountScopePool, EntityID: poolID, Asset: asset}
}

func NewEscrowAccountKey(name, asset string) AccountKey {
	return AccountKey{Scope: AccountScopeEscrow, EntityID: name, Asset: asset}
}

// NewNPCAccountKey creates a key for a background trader. NPC accounts
// are unfunded and go negative as NPCs sell into pools.
func NewNPCAccountKey(npc, asset string) AccountKey {
	return AccountKey{Scope: AccountScopeNPC, EntityID: npc, Asset: asset}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(name, asset string) AccountKey {
	return AccountKey{Scope: AccountScopeExternal, EntityID: name, Asset: asset}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	return fmt.Sprintf("%s:%s:%s", k.Scope, k.EntityID, k.Asset)
}

// MustStayNonNegative reports whether the account is subject to the
// no-negative-balance rule.
func (k AccountKey) MustStayNonNegative() bool {
	return k.Scope == AccountScopePlayer || k.Scope == AccountScopeEscrow
}

// Holder identifies who acts in an intent: the player or an NPC.
type Holder struct {
	Scope AccountScope
	ID    string
}

func PlayerHolder(owner string) Holder {
	return Holder{Scope: AccountScopePlayer, ID: owner}
}

func NPCHolder(name string) Holder {
	return Holder{Scope: AccountScopeNPC, ID: name}
}

// Key returns the holder's account for asset
func (h Holder) Key(asset string) AccountKey {
	return AccountKey{Scope: h.Scope, EntityID: h.ID, Asset: asset}
}

// Funded reports whether the holder's inventory is enforced.
func (h Holder) Funded() bool {
	return h.Scope == AccountScopePlayer
}
