package query

import (
	"time"

	jsoniter "github.com/json-iterator/go"
)

// EventEntry is one applied intent from the event log.
type EventEntry struct {
	Sequence       int64               `json:"sequence"`
	EventType      string              `json:"event_type"`
	IdempotencyKey string              `json:"idempotency_key"`
	PoolID         string              `json:"pool_id,omitempty"`
	Payload        jsoniter.RawMessage `json:"payload"`
	Result         jsoniter.RawMessage `json:"result"`
	StateHash      string              `json:"state_hash"`
	PrevHash       string              `json:"prev_hash"`
	Timestamp      time.Time           `json:"timestamp"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string    `json:"journal_id"`
	BatchID       string    `json:"batch_id"`
	EventRef      string    `json:"event_ref"`
	Sequence      int64     `json:"sequence"`
	DebitAccount  string    `json:"debit_account"`
	CreditAccount string    `json:"credit_account"`
	Asset         string    `json:"asset"`
	Amount        float64   `json:"amount"`
	JournalType   string    `json:"journal_type"`
	Timestamp     time.Time `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	EventsChecked    int64             `json:"events_checked"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	SequenceGaps     []int64           `json:"sequence_gaps,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
	AsOfSequence     int64             `json:"as_of_sequence"`
}

// UnbalancedAsset represents an asset whose projected balances do not net to zero.
type UnbalancedAsset struct {
	Asset     string  `json:"asset"`
	Imbalance float64 `json:"imbalance"`
}
