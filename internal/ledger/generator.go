package ledger

import (
	"time"

	"github.com/google/uuid"
)

// JournalGenerator turns executed intents into journal batches.
// Amounts are computed by the executor; the generator only records the
// token movements. Zero amounts are skipped.
type JournalGenerator struct{}

func NewJournalGenerator() *JournalGenerator {
	return &JournalGenerator{}
}

// Begin opens an empty batch for one intent.
func (jg *JournalGenerator) Begin(sequence int64, eventRef string, ts time.Time) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: ts.UnixMicro(),
		Journals:  make([]Journal, 0, 4),
	}
}

func (b *Batch) add(jt JournalType, debit, credit AccountKey, amount float64) {
	if !(amount > 0) {
		return
	}
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      b.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		Asset:         debit.Asset,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
}

// Mint credits new units to a holder.
// Moves funds: external:mint → holder
func (jg *JournalGenerator) Mint(b *Batch, h Holder, asset string, amount float64) {
	b.add(JournalTypeMint, h.Key(asset), NewExternalAccountKey(ExternalMint, asset), amount)
}

// PoolSeed funds a system pool at startup.
// Moves funds: external:seed → pool
func (jg *JournalGenerator) PoolSeed(b *Batch, poolID, tokenA, tokenB string, amountA, amountB float64) {
	b.add(JournalTypePoolSeed, NewPoolAccountKey(poolID, tokenA), NewExternalAccountKey(ExternalSeed, tokenA), amountA)
	b.add(JournalTypePoolSeed, NewPoolAccountKey(poolID, tokenB), NewExternalAccountKey(ExternalSeed, tokenB), amountB)
}

// Swap records a trade. The full amountIn enters the pool, fee included.
// Moves funds: holder → pool (tokenIn), pool → holder (tokenOut)
func (jg *JournalGenerator) Swap(b *Batch, h Holder, poolID, tokenIn, tokenOut string, amountIn, amountOut float64) {
	b.add(JournalTypeSwapIn, NewPoolAccountKey(poolID, tokenIn), h.Key(tokenIn), amountIn)
	b.add(JournalTypeSwapOut, h.Key(tokenOut), NewPoolAccountKey(poolID, tokenOut), amountOut)
}

// LiquidityDeposit moves both sides of a deposit into the pool.
func (jg *JournalGenerator) LiquidityDeposit(b *Batch, h Holder, poolID, tokenA, tokenB string, amountA, amountB float64) {
	b.add(JournalTypeLiquidityDeposit, NewPoolAccountKey(poolID, tokenA), h.Key(tokenA), amountA)
	b.add(JournalTypeLiquidityDeposit, NewPoolAccountKey(poolID, tokenB), h.Key(tokenB), amountB)
}

// LiquidityWithdraw pays out principal then accrued fees from the pool.
func (jg *JournalGenerator) LiquidityWithdraw(b *Batch, h Holder, poolID, tokenA, tokenB string, principalA, principalB, feesA, feesB float64) {
	b.add(JournalTypeLiquidityWithdraw, h.Key(tokenA), NewPoolAccountKey(poolID, tokenA), principalA)
	b.add(JournalTypeLiquidityWithdraw, h.Key(tokenB), NewPoolAccountKey(poolID, tokenB), principalB)
	b.add(JournalTypeFeePayout, h.Key(tokenA), NewPoolAccountKey(poolID, tokenA), feesA)
	b.add(JournalTypeFeePayout, h.Key(tokenB), NewPoolAccountKey(poolID, tokenB), feesB)
}

// BidEscrow refunds a replaced bid and locks the new budget.
// Moves funds: escrow → holder (refund), holder → escrow (spend)
func (jg *JournalGenerator) BidEscrow(b *Batch, h Holder, asset string, refund, spend float64) {
	escrow := NewEscrowAccountKey(EscrowAuction, asset)
	b.add(JournalTypeBidRefund, h.Key(asset), escrow, refund)
	b.add(JournalTypeBidEscrow, escrow, h.Key(asset), spend)
}

// BidRefund returns unused escrow to a holder.
func (jg *JournalGenerator) BidRefund(b *Batch, h Holder, asset string, amount float64) {
	b.add(JournalTypeBidRefund, h.Key(asset), NewEscrowAccountKey(EscrowAuction, asset), amount)
}

// AuctionFill delivers won tokens and moves the cost out of escrow.
// Moves funds: external:auction → holder (offered), escrow → external:auction (base)
func (jg *JournalGenerator) AuctionFill(b *Batch, h Holder, offered, base string, tokensWon, cost float64) {
	b.add(JournalTypeAuctionFill, h.Key(offered), NewExternalAccountKey(ExternalAuction, offered), tokensWon)
	b.add(JournalTypeAuctionProceeds, NewExternalAccountKey(ExternalAuction, base), NewEscrowAccountKey(EscrowAuction, base), cost)
}
