package projection

import (
	"fmt"
	"sync"
	"time"

	"ammsim/internal/core"
	"ammsim/internal/event"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// SwapRecord is one executed trade, player or NPC.
type SwapRecord struct {
	Sequence   int64     `json:"sequence"`
	PoolID     string    `json:"pool_id"`
	Trader     string    `json:"trader"`
	TokenIn    string    `json:"token_in"`
	TokenOut   string    `json:"token_out"`
	AmountIn   float64   `json:"amount_in"`
	AmountOut  float64   `json:"amount_out"`
	FeePercent float64   `json:"fee_percent"`
	FeeAmount  float64   `json:"fee_amount"`
	Timestamp  time.Time `json:"timestamp"`
}

// SwapRecordFromOutput extracts the trade from an applied Swap or NPCSwap.
// ok is false for every other intent.
func SwapRecordFromOutput(out core.CoreOutput) (rec SwapRecord, ok bool, err error) {
	env := out.Envelope
	if env.EventType != event.EventTypeSwap && env.EventType != event.EventTypeNPCSwap {
		return SwapRecord{}, false, nil
	}

	var res core.Result
	if err := json.Unmarshal(env.Result, &res); err != nil {
		return SwapRecord{}, false, fmt.Errorf("decode result at seq %d: %w", env.Sequence, err)
	}
	if res.Swap == nil {
		return SwapRecord{}, false, fmt.Errorf("seq %d: %s result has no swap", env.Sequence, env.EventType)
	}

	trader := core.PlayerID
	if env.EventType == event.EventTypeNPCSwap {
		var npc event.NPCSwap
		if err := json.Unmarshal(env.Payload, &npc); err != nil {
			return SwapRecord{}, false, fmt.Errorf("decode payload at seq %d: %w", env.Sequence, err)
		}
		trader = npc.NPC
	}

	s := res.Swap
	return SwapRecord{
		Sequence:   env.Sequence,
		PoolID:     s.PoolID,
		Trader:     trader,
		TokenIn:    s.TokenIn,
		TokenOut:   s.TokenOut,
		AmountIn:   s.AmountIn,
		AmountOut:  s.AmountOut,
		FeePercent: s.FeePercent,
		FeeAmount:  s.FeeAmount,
		Timestamp:  env.Timestamp,
	}, true, nil
}

// SwapHistory keeps the most recent trades per pool in memory. Used when
// the service runs without Postgres.
type SwapHistory struct {
	mu      sync.RWMutex
	perPool int
	entries map[string][]SwapRecord
}

func NewSwapHistory(perPool int) *SwapHistory {
	if perPool <= 0 {
		perPool = 500
	}
	return &SwapHistory{
		perPool: perPool,
		entries: make(map[string][]SwapRecord),
	}
}

// Add records a trade, evicting the pool's oldest beyond capacity.
func (h *SwapHistory) Add(rec SwapRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := append(h.entries[rec.PoolID], rec)
	if len(entries) > h.perPool {
		entries = entries[len(entries)-h.perPool:]
	}
	h.entries[rec.PoolID] = entries
}

// QueryByPool returns up to limit trades on a pool, newest first.
func (h *SwapHistory) QueryByPool(poolID string, limit int) []SwapRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	entries := h.entries[poolID]
	if limit <= 0 {
		return nil
	}
	result := make([]SwapRecord, 0, min(limit, len(entries)))
	for i := len(entries) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, entries[i])
	}
	return result
}
