package core

import (
	"fmt"

	"ammsim/internal/auction"
	"ammsim/internal/event"
	"ammsim/internal/ledger"
	"ammsim/internal/state"
)

// handleStartAuction offers the most recently created player token.
// A finished auction is replaced; a running one is not.
func (c *Engine) handleStartAuction(evt *event.StartAuction, batch *ledger.Batch) (*Result, error) {
	if c.auction != nil && c.auction.Active {
		return nil, fmt.Errorf("start auction: %w", ErrAuctionActive)
	}

	candidates := c.tokens.NonSeed()
	if len(candidates) == 0 {
		return nil, fmt.Errorf("start auction: %w", ErrNoEligibleToken)
	}
	offered := candidates[len(candidates)-1]

	base, ok := c.tokens.BaseToken()
	if !ok {
		return nil, fmt.Errorf("start auction: %w", ErrNoBaseToken)
	}

	a, err := auction.New(evt.RequestID, offered.ID, base.ID,
		auction.DefaultTotalSupply, auction.DefaultBlocksCount, auction.DefaultStartPrice, evt.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("start auction: %w", err)
	}
	c.auction = a

	c.logger.Info().Str("token", offered.ID).Str("auction_id", a.ID.String()).Msg("auction started")
	return &Result{Auction: a.Clone()}, nil
}

// handlePlaceBid escrows the bid budget. Only the player's budget is debited;
// other bidder ids take part in clearing without inventory.
func (c *Engine) handlePlaceBid(evt *event.PlaceBid, batch *ledger.Batch) (*Result, error) {
	if c.auction == nil {
		return nil, fmt.Errorf("place bid: %w", ErrAuctionInactive)
	}

	bidder := evt.BidderID
	if bidder == "" {
		bidder = PlayerID
	}
	bid := auction.Bid{
		ID:         evt.RequestID,
		BidderID:   bidder,
		MaxPrice:   evt.MaxPrice,
		TotalSpend: evt.TotalSpend,
		PlacedAt:   evt.Timestamp,
	}

	prev, err := c.auction.ValidateBid(evt.BlockNumber, bid)
	if err != nil {
		return nil, fmt.Errorf("place bid: %w", err)
	}

	isPlayer := bidder == PlayerID
	var refund float64
	if prev != nil {
		refund = prev.TotalSpend
	}
	if isPlayer && bid.TotalSpend > refund {
		key := ledger.NewPlayerAccountKey(PlayerID, c.auction.BaseToken)
		if err := c.balanceTracker.ValidateSufficient(key, bid.TotalSpend-refund); err != nil {
			return nil, fmt.Errorf("place bid: %w", err)
		}
	}

	if _, err := c.auction.PlaceBid(evt.BlockNumber, bid); err != nil {
		return nil, fmt.Errorf("place bid: %w", err)
	}

	if isPlayer {
		c.journalGen.BidEscrow(batch, ledger.PlayerHolder(PlayerID), c.auction.BaseToken, refund, bid.TotalSpend)
		c.stats.BidsPlaced++
		c.stats.Reputation += state.ReputationPlaceBid
	}

	return &Result{Bid: &bid}, nil
}

func (c *Engine) handleAdvanceAuctionBlock(evt *event.AdvanceAuctionBlock, batch *ledger.Batch) (*Result, error) {
	if c.auction == nil {
		return nil, fmt.Errorf("advance auction: %w", ErrAuctionInactive)
	}

	settlement, err := c.auction.Advance()
	if err != nil {
		return nil, fmt.Errorf("advance auction: %w", err)
	}

	player := ledger.PlayerHolder(PlayerID)
	for _, al := range settlement.Allocations {
		if al.BidderID != PlayerID {
			continue
		}
		c.journalGen.AuctionFill(batch, player, c.auction.TokenOffered, c.auction.BaseToken, al.TokensWon, al.Cost)
		c.journalGen.BidRefund(batch, player, c.auction.BaseToken, al.Refund)
	}

	if c.metrics != nil {
		c.metrics.AuctionBlocks.Inc()
		c.metrics.AuctionClearing.Set(settlement.ClearingPrice)
	}

	c.logger.Info().
		Int("block", settlement.BlockNumber).
		Float64("clearing_price", settlement.ClearingPrice).
		Float64("tokens_allocated", settlement.TokensAllocated).
		Msg("auction block executed")
	return &Result{Settlement: &settlement, Auction: c.auction.Clone()}, nil
}

// handleResetAuction discards the auction. The player's escrow on blocks
// that never executed is returned.
func (c *Engine) handleResetAuction(evt *event.ResetAuction, batch *ledger.Batch) (*Result, error) {
	if c.auction == nil {
		return nil, fmt.Errorf("reset auction: %w", ErrAuctionInactive)
	}

	player := ledger.PlayerHolder(PlayerID)
	for _, b := range c.auction.PendingBids() {
		if b.BidderID == PlayerID {
			c.journalGen.BidRefund(batch, player, c.auction.BaseToken, b.TotalSpend)
		}
	}
	c.auction = nil

	return &Result{}, nil
}
