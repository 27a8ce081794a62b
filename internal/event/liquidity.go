// internal/event/liquidity.go
package event

type AddLiquidity struct {
	Meta
	Pool    string  `json:"pool_id"`
	AmountA float64 `json:"amount_a"`
	AmountB float64 `json:"amount_b"`
}

func (a *AddLiquidity) EventType() EventType {
	return EventTypeAddLiquidity
}

func (a *AddLiquidity) PoolID() *string {
	return &a.Pool
}

// RemoveLiquidity closes the player's oldest position on the pool and
// withdraws SharePercent of the pool's current reserves.
type RemoveLiquidity struct {
	Meta
	Pool         string  `json:"pool_id"`
	SharePercent float64 `json:"share_percent"`
}

func (r *RemoveLiquidity) EventType() EventType {
	return EventTypeRemoveLiquidity
}

func (r *RemoveLiquidity) PoolID() *string {
	return &r.Pool
}
