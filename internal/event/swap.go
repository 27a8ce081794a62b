// internal/event/swap.go
package event

// Swap sells AmountIn of TokenIn into a pool on behalf of the player.
type Swap struct {
	Meta
	Pool     string  `json:"pool_id"`
	TokenIn  string  `json:"token_in"`
	AmountIn float64 `json:"amount_in"`
}

func (s *Swap) EventType() EventType {
	return EventTypeSwap
}

func (s *Swap) PoolID() *string {
	return &s.Pool
}

// NPCSwap is a background trade. NPC inventories are not tracked.
type NPCSwap struct {
	Meta
	NPC      string  `json:"npc"`
	Pool     string  `json:"pool_id"`
	TokenIn  string  `json:"token_in"`
	AmountIn float64 `json:"amount_in"`
}

func (s *NPCSwap) EventType() EventType {
	return EventTypeNPCSwap
}

func (s *NPCSwap) PoolID() *string {
	return &s.Pool
}
