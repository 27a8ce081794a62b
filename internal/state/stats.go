// internal/state/stats.go
package state

// Reputation awarded per player action.
const (
	ReputationSwap         = 1
	ReputationAddLiquidity = 2
	ReputationCreateToken  = 5
	ReputationCreatePool   = 3
	ReputationPlaceBid     = 1
)

// PlayerStats are counters derived from player actions.
type PlayerStats struct {
	Reputation       int     `json:"reputation"`
	Swaps            int     `json:"swaps"`
	LiquidityAdded   int     `json:"liquidity_added"`
	LiquidityRemoved int     `json:"liquidity_removed"`
	TokensCreated    int     `json:"tokens_created"`
	PoolsCreated     int     `json:"pools_created"`
	BidsPlaced       int     `json:"bids_placed"`
	VolumeTraded     float64 `json:"volume_traded"`
}

// ChallengeMetric names the PlayerStats counter a challenge tracks.
type ChallengeMetric string

const (
	MetricSwaps          ChallengeMetric = "swaps"
	MetricLiquidityAdded ChallengeMetric = "liquidity_added"
	MetricTokensCreated  ChallengeMetric = "tokens_created"
	MetricPoolsCreated   ChallengeMetric = "pools_created"
	MetricBidsPlaced     ChallengeMetric = "bids_placed"
)

// Challenge is a goal supplied as seed data. Progress is derived from stats.
type Challenge struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Metric      ChallengeMetric `json:"metric"`
	Target      int             `json:"target"`
	Progress    int             `json:"progress"`
	Completed   bool            `json:"completed"`
}

// Value returns the counter a metric refers to.
func (s PlayerStats) Value(metric ChallengeMetric) int {
	switch metric {
	case MetricSwaps:
		return s.Swaps
	case MetricLiquidityAdded:
		return s.LiquidityAdded
	case MetricTokensCreated:
		return s.TokensCreated
	case MetricPoolsCreated:
		return s.PoolsCreated
	case MetricBidsPlaced:
		return s.BidsPlaced
	default:
		return 0
	}
}

// EvaluateChallenges refreshes progress. Completed challenges stay completed.
func EvaluateChallenges(challenges []Challenge, stats PlayerStats) {
	for i := range challenges {
		c := &challenges[i]
		c.Progress = stats.Value(c.Metric)
		if c.Progress >= c.Target {
			c.Progress = c.Target
			c.Completed = true
		}
	}
}
