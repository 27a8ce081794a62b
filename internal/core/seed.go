package core

import (
	"ammsim/internal/state"
)

// PlayerID is the distinguished holder whose inventory the engine enforces.
const PlayerID = "player"

// CreatedTokenSupply is credited to the player on CreateToken.
const CreatedTokenSupply = 1000

// SeedToken describes a token present at startup.
type SeedToken struct {
	Name   string `json:"name" mapstructure:"name"`
	Symbol string `json:"symbol" mapstructure:"symbol"`
	IsBase bool   `json:"is_base" mapstructure:"is_base"`
}

// SeedPool describes a pool present at startup. Tokens are referenced by symbol.
type SeedPool struct {
	TokenA     string         `json:"token_a" mapstructure:"token_a"`
	TokenB     string         `json:"token_b" mapstructure:"token_b"`
	ReserveA   float64        `json:"reserve_a" mapstructure:"reserve_a"`
	ReserveB   float64        `json:"reserve_b" mapstructure:"reserve_b"`
	BaseFeeBps int            `json:"base_fee_bps" mapstructure:"base_fee_bps"`
	Hook       state.HookKind `json:"hook" mapstructure:"hook"`
	MinFeeBps  int            `json:"min_fee_bps" mapstructure:"min_fee_bps"`
	MaxFeeBps  int            `json:"max_fee_bps" mapstructure:"max_fee_bps"`
}

// SeedData is the static configuration the engine starts from.
type SeedData struct {
	Tokens     []SeedToken        `json:"tokens" mapstructure:"tokens"`
	Pools      []SeedPool         `json:"pools" mapstructure:"pools"`
	Inventory  map[string]float64 `json:"inventory" mapstructure:"inventory"`
	Challenges []state.Challenge  `json:"challenges" mapstructure:"challenges"`
	Reputation int                `json:"reputation" mapstructure:"reputation"`
}

// DefaultSeed returns the stock market: usdc plus four fruit tokens and three pools.
func DefaultSeed() SeedData {
	return SeedData{
		Tokens: []SeedToken{
			{Name: "USD Coin", Symbol: "USDC", IsBase: true},
			{Name: "Mango", Symbol: "MANGO"},
			{Name: "Limon", Symbol: "LIMON"},
			{Name: "Fresa", Symbol: "FRESA"},
			{Name: "Pina", Symbol: "PINA"},
		},
		Pools: []SeedPool{
			{TokenA: "MANGO", TokenB: "LIMON", ReserveA: 100, ReserveB: 100, BaseFeeBps: 30, Hook: state.HookDynamicFee, MinFeeBps: 5, MaxFeeBps: 100},
			{TokenA: "MANGO", TokenB: "USDC", ReserveA: 100, ReserveB: 200, BaseFeeBps: 30, Hook: state.HookAntiMEV, MinFeeBps: 20, MaxFeeBps: 40},
			{TokenA: "LIMON", TokenB: "FRESA", ReserveA: 150, ReserveB: 150, BaseFeeBps: 25, Hook: state.HookOracle, MinFeeBps: 10, MaxFeeBps: 50},
		},
		Inventory: map[string]float64{
			"usdc":  1000,
			"mango": 100,
			"limon": 100,
			"fresa": 100,
			"pina":  100,
		},
		Challenges: []state.Challenge{
			{ID: "first-swap", Title: "First Swap", Description: "Complete your first swap", Metric: state.MetricSwaps, Target: 1},
			{ID: "liquidity-provider", Title: "Liquidity Provider", Description: "Add liquidity to a pool", Metric: state.MetricLiquidityAdded, Target: 1},
			{ID: "token-creator", Title: "Token Creator", Description: "Create your own token", Metric: state.MetricTokensCreated, Target: 1},
			{ID: "market-maker", Title: "Market Maker", Description: "Create a pool for a new pair", Metric: state.MetricPoolsCreated, Target: 1},
			{ID: "active-trader", Title: "Active Trader", Description: "Complete ten swaps", Metric: state.MetricSwaps, Target: 10},
			{ID: "auction-bidder", Title: "Auction Bidder", Description: "Place a bid in a batch auction", Metric: state.MetricBidsPlaced, Target: 1},
		},
		Reputation: 50,
	}
}
