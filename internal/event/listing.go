// internal/event/listing.go
package event

type CreateToken struct {
	Meta
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

func (c *CreateToken) EventType() EventType {
	return EventTypeCreateToken
}

func (c *CreateToken) PoolID() *string {
	return nil // Global event
}

type CreatePool struct {
	Meta
	TokenA  string  `json:"token_a"`
	TokenB  string  `json:"token_b"`
	AmountA float64 `json:"amount_a"`
	AmountB float64 `json:"amount_b"`
}

func (c *CreatePool) EventType() EventType {
	return EventTypeCreatePool
}

func (c *CreatePool) PoolID() *string {
	return nil
}
