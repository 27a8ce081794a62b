// internal/state/activity.go
package state

import (
	"time"

	"github.com/google/uuid"
)

// MaxActivityEntries caps the NPC activity log.
const MaxActivityEntries = 20

// ActivityEntry records one NPC trade.
type ActivityEntry struct {
	ID        uuid.UUID `json:"id"`
	NPC       string    `json:"npc"`
	PoolID    string    `json:"pool_id"`
	TokenIn   string    `json:"token_in"`
	TokenOut  string    `json:"token_out"`
	AmountIn  float64   `json:"amount_in"`
	AmountOut float64   `json:"amount_out"`
	FeeAmount float64   `json:"fee_amount"`
	Timestamp time.Time `json:"timestamp"`
}

// ActivityLog keeps the most recent entries, newest first.
type ActivityLog struct {
	entries []ActivityEntry
}

func NewActivityLog() *ActivityLog {
	return &ActivityLog{}
}

func (al *ActivityLog) Add(e ActivityEntry) {
	al.entries = append([]ActivityEntry{e}, al.entries...)
	if len(al.entries) > MaxActivityEntries {
		al.entries = al.entries[:MaxActivityEntries]
	}
}

func (al *ActivityLog) Entries() []ActivityEntry {
	out := make([]ActivityEntry, len(al.entries))
	copy(out, al.entries)
	return out
}

func (al *ActivityLog) Restore(entries []ActivityEntry) {
	al.entries = al.entries[:0]
	for i := len(entries) - 1; i >= 0; i-- {
		al.Add(entries[i])
	}
}
