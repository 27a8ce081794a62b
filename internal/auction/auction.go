// Package auction implements sequential sealed-bid block auctions with a
// single clearing price per block.
package auction

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	fpmath "ammsim/internal/math"

	"github.com/google/uuid"
)

var (
	ErrAuctionInactive = errors.New("no active auction")
	ErrBlockNotFound   = errors.New("auction block not found")
	ErrBlockExecuted   = errors.New("auction block already executed")
	ErrBidBelowMin     = errors.New("bid max price below block minimum")
	ErrInvalidBid      = errors.New("invalid bid")
)

// Offering defaults.
const (
	DefaultTotalSupply = 10_000
	DefaultBlocksCount = 5
	DefaultStartPrice  = 1.0
)

// Bid is one bidder's sealed bid on a block.
type Bid struct {
	ID           uuid.UUID `json:"id"`
	BidderID     string    `json:"bidder_id"`
	MaxPrice     float64   `json:"max_price"`
	TotalSpend   float64   `json:"total_spend"`
	TokensWon    float64   `json:"tokens_won"`
	AveragePrice float64   `json:"average_price"`
	PlacedAt     time.Time `json:"placed_at"`
}

// Block is one slice of the offering.
type Block struct {
	BlockNumber     int     `json:"block_number"`
	TokensAvailable float64 `json:"tokens_available"`
	MinPrice        float64 `json:"min_price"`
	CurrentPrice    float64 `json:"current_price"`
	Bids            []Bid   `json:"bids"`
	Executed        bool    `json:"executed"`
}

// Auction distributes TotalSupply of TokenOffered over BlocksCount blocks,
// executed strictly in order 1..BlocksCount.
type Auction struct {
	ID           uuid.UUID `json:"id"`
	TokenOffered string    `json:"token_offered"`
	BaseToken    string    `json:"base_token"`
	TotalSupply  float64   `json:"total_supply"`
	BlocksCount  int       `json:"blocks_count"`
	CurrentBlock int       `json:"current_block"`
	Active       bool      `json:"active"`
	Blocks       []Block   `json:"blocks"`
	StartedAt    time.Time `json:"started_at"`
}

// New creates an auction with equal-size blocks. Block i starts at
// startPrice+(i-1); every block's minimum is startPrice.
func New(id uuid.UUID, tokenOffered, baseToken string, totalSupply float64, blocksCount int, startPrice float64, ts time.Time) (*Auction, error) {
	if blocksCount <= 0 || !fpmath.IsFinitePositive(totalSupply) || !fpmath.IsFinitePositive(startPrice) {
		return nil, fmt.Errorf("%w: supply=%f blocks=%d start=%f", ErrInvalidBid, totalSupply, blocksCount, startPrice)
	}

	perBlock := totalSupply / float64(blocksCount)
	blocks := make([]Block, blocksCount)
	for i := range blocks {
		blocks[i] = Block{
			BlockNumber:     i + 1,
			TokensAvailable: perBlock,
			MinPrice:        startPrice,
			CurrentPrice:    startPrice + float64(i),
		}
	}

	return &Auction{
		ID:           id,
		TokenOffered: tokenOffered,
		BaseToken:    baseToken,
		TotalSupply:  totalSupply,
		BlocksCount:  blocksCount,
		CurrentBlock: 1,
		Active:       true,
		Blocks:       blocks,
		StartedAt:    ts,
	}, nil
}

// Block returns the block with the given 1-based number.
func (a *Auction) Block(blockNumber int) (*Block, error) {
	if blockNumber < 1 || blockNumber > len(a.Blocks) {
		return nil, fmt.Errorf("%w: %d", ErrBlockNotFound, blockNumber)
	}
	return &a.Blocks[blockNumber-1], nil
}

// ValidateBid checks a bid against the block without placing it.
// Returns the bidder's existing bid on that block, if any.
func (a *Auction) ValidateBid(blockNumber int, bid Bid) (*Bid, error) {
	if !a.Active {
		return nil, ErrAuctionInactive
	}
	blk, err := a.Block(blockNumber)
	if err != nil {
		return nil, err
	}
	if blk.Executed {
		return nil, fmt.Errorf("%w: %d", ErrBlockExecuted, blockNumber)
	}
	if bid.BidderID == "" || !fpmath.IsFinitePositive(bid.TotalSpend) || !fpmath.IsFinitePositive(bid.MaxPrice) {
		return nil, fmt.Errorf("%w: bidder=%q spend=%f max=%f", ErrInvalidBid, bid.BidderID, bid.TotalSpend, bid.MaxPrice)
	}
	if bid.MaxPrice < blk.MinPrice {
		return nil, fmt.Errorf("%w: %f < %f", ErrBidBelowMin, bid.MaxPrice, blk.MinPrice)
	}

	for i := range blk.Bids {
		if blk.Bids[i].BidderID == bid.BidderID {
			prev := blk.Bids[i]
			return &prev, nil
		}
	}
	return nil, nil
}

// PlaceBid stores bid, replacing the bidder's previous bid on the block.
// Returns the replaced bid, if any.
func (a *Auction) PlaceBid(blockNumber int, bid Bid) (*Bid, error) {
	prev, err := a.ValidateBid(blockNumber, bid)
	if err != nil {
		return nil, err
	}

	blk, _ := a.Block(blockNumber)
	bid.TokensWon = 0
	bid.AveragePrice = 0
	if prev != nil {
		for i := range blk.Bids {
			if blk.Bids[i].BidderID == bid.BidderID {
				blk.Bids[i] = bid
				break
			}
		}
		return prev, nil
	}
	blk.Bids = append(blk.Bids, bid)
	return nil, nil
}

// Allocation is the outcome of one bid in an executed block.
type Allocation struct {
	BidID     uuid.UUID `json:"bid_id"`
	BidderID  string    `json:"bidder_id"`
	Spend     float64   `json:"spend"`
	TokensWon float64   `json:"tokens_won"`
	Cost      float64   `json:"cost"`
	Refund    float64   `json:"refund"`
}

// Settlement is the outcome of executing one block.
type Settlement struct {
	BlockNumber     int          `json:"block_number"`
	ClearingPrice   float64      `json:"clearing_price"`
	TokensAllocated float64      `json:"tokens_allocated"`
	Allocations     []Allocation `json:"allocations"`
	AuctionActive   bool         `json:"auction_active"`
}

// Advance executes the current block and moves to the next one.
func (a *Auction) Advance() (Settlement, error) {
	if !a.Active {
		return Settlement{}, ErrAuctionInactive
	}
	blk, err := a.Block(a.CurrentBlock)
	if err != nil {
		return Settlement{}, err
	}

	sorted := SortBids(blk.Bids)
	clearing := ClearingPrice(sorted, blk.TokensAvailable, blk.MinPrice)
	allocs, allocated := Allocate(sorted, blk.TokensAvailable, clearing)

	won := make(map[uuid.UUID]Allocation, len(allocs))
	for _, al := range allocs {
		won[al.BidID] = al
	}
	for i := range blk.Bids {
		al := won[blk.Bids[i].ID]
		blk.Bids[i].TokensWon = al.TokensWon
		if al.TokensWon > 0 {
			blk.Bids[i].AveragePrice = clearing
		}
	}

	blk.Executed = true
	blk.CurrentPrice = clearing
	a.CurrentBlock++
	if a.CurrentBlock > a.BlocksCount {
		a.Active = false
	}

	return Settlement{
		BlockNumber:     blk.BlockNumber,
		ClearingPrice:   clearing,
		TokensAllocated: allocated,
		Allocations:     allocs,
		AuctionActive:   a.Active,
	}, nil
}

// SortBids returns bids ordered by MaxPrice descending. Ties keep placement order.
func SortBids(bids []Bid) []Bid {
	sorted := make([]Bid, len(bids))
	copy(sorted, bids)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MaxPrice > sorted[j].MaxPrice
	})
	return sorted
}

// ClearingPrice scans bids (sorted descending) and takes the MaxPrice of the
// last bid that could afford tokens before supply ran out. With no viable bid
// the block clears at minPrice.
func ClearingPrice(sorted []Bid, tokensAvailable, minPrice float64) float64 {
	clearing := minPrice
	remaining := tokensAvailable
	for _, b := range sorted {
		if remaining <= 0 {
			break
		}
		if b.MaxPrice <= 0 {
			continue
		}
		affordable := b.TotalSpend / b.MaxPrice
		if affordable > 0 {
			clearing = b.MaxPrice
			remaining -= affordable
		}
	}
	return clearing
}

// Allocate fills bids priced at or above clearing, in descending order,
// until the block's supply is exhausted. Every bid gets an allocation;
// losing bids are refunded in full.
func Allocate(sorted []Bid, tokensAvailable, clearing float64) ([]Allocation, float64) {
	allocs := make([]Allocation, 0, len(sorted))
	remaining := tokensAvailable
	var allocated float64

	for _, b := range sorted {
		al := Allocation{BidID: b.ID, BidderID: b.BidderID, Spend: b.TotalSpend}
		if b.MaxPrice >= clearing && remaining > 0 && clearing > 0 {
			tokens := b.TotalSpend / clearing
			cost := b.TotalSpend
			if tokens > remaining {
				tokens = remaining
				cost = math.Min(tokens*clearing, b.TotalSpend)
			}
			al.TokensWon = tokens
			al.Cost = cost
			remaining -= tokens
			allocated += tokens
		}
		al.Refund = b.TotalSpend - al.Cost
		allocs = append(allocs, al)
	}
	return allocs, allocated
}

// Clone returns a deep copy.
func (a *Auction) Clone() *Auction {
	if a == nil {
		return nil
	}
	c := *a
	c.Blocks = make([]Block, len(a.Blocks))
	for i, blk := range a.Blocks {
		c.Blocks[i] = blk
		c.Blocks[i].Bids = append([]Bid(nil), blk.Bids...)
	}
	return &c
}

// PendingBids returns the bids on blocks that have not executed yet.
func (a *Auction) PendingBids() []Bid {
	var out []Bid
	for _, blk := range a.Blocks {
		if blk.Executed {
			continue
		}
		out = append(out, blk.Bids...)
	}
	return out
}
