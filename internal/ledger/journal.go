package ledger

import (
	"fmt"
	"math"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeMint JournalType = iota
	JournalTypePoolSeed
	JournalTypeSwapIn
	JournalTypeSwapOut
	JournalTypeLiquidityDeposit
	JournalTypeLiquidityWithdraw
	JournalTypeFeePayout
	JournalTypeBidEscrow
	JournalTypeBidRefund
	JournalTypeAuctionFill
	JournalTypeAuctionProceeds
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeMint:
		return "mint"
	case JournalTypePoolSeed:
		return "pool_seed"
	case JournalTypeSwapIn:
		return "swap_in"
	case JournalTypeSwapOut:
		return "swap_out"
	case JournalTypeLiquidityDeposit:
		return "liquidity_deposit"
	case JournalTypeLiquidityWithdraw:
		return "liquidity_withdraw"
	case JournalTypeFeePayout:
		return "fee_payout"
	case JournalTypeBidEscrow:
		return "bid_escrow"
	case JournalTypeBidRefund:
		return "bid_refund"
	case JournalTypeAuctionFill:
		return "auction_fill"
	case JournalTypeAuctionProceeds:
		return "auction_proceeds"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups entries of one intent
	EventRef      string      // Idempotency key of source intent
	Sequence      int64       // Global event sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	Asset         string      // Token being transferred
	Amount        float64     // ALWAYS positive
	JournalType   JournalType // Entry type
	Timestamp     int64       // Intent timestamp (epoch microseconds)
}

// Batch represents the set of journal entries produced by one intent
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
// Each entry moves one positive amount from its credit account to its debit
// account, so every entry balances on its own.
func (b *Batch) Validate() error {
	for _, j := range b.Journals {
		if !(j.Amount > 0) || math.IsInf(j.Amount, 0) {
			return fmt.Errorf("journal %s has non-positive amount: %f", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.Asset != j.Asset || j.CreditAccount.Asset != j.Asset {
			return fmt.Errorf("journal %s moves %s between accounts of a different asset", j.JournalID, j.Asset)
		}
	}

	return nil
}

// Empty reports whether the batch carries no journals (state-only intents).
func (b *Batch) Empty() bool {
	return len(b.Journals) == 0
}
