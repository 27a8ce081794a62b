// internal/event/auction.go
package event

type PlaceBid struct {
	Meta
	BlockNumber int     `json:"block_number"`
	BidderID    string  `json:"bidder_id"`
	MaxPrice    float64 `json:"max_price"`
	TotalSpend  float64 `json:"total_spend"`
}

func (p *PlaceBid) EventType() EventType {
	return EventTypePlaceBid
}

func (p *PlaceBid) PoolID() *string {
	return nil
}

type AdvanceAuctionBlock struct {
	Meta
}

func (a *AdvanceAuctionBlock) EventType() EventType {
	return EventTypeAdvanceAuctionBlock
}

func (a *AdvanceAuctionBlock) PoolID() *string {
	return nil
}

type StartAuction struct {
	Meta
}

func (s *StartAuction) EventType() EventType {
	return EventTypeStartAuction
}

func (s *StartAuction) PoolID() *string {
	return nil
}

type ResetAuction struct {
	Meta
}

func (r *ResetAuction) EventType() EventType {
	return EventTypeResetAuction
}

func (r *ResetAuction) PoolID() *string {
	return nil
}
