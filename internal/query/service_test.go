package query_test

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"ammsim/internal/core"
	"ammsim/internal/ledger"
	"ammsim/internal/persistence"
	"ammsim/internal/projection"
	"ammsim/internal/query"
	"ammsim/internal/testutil"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedDB writes the scenario to the event log and projections.
func seedDB(t *testing.T, ctx context.Context, db *sql.DB) []core.CoreOutput {
	t.Helper()
	events := testutil.Scenario()
	persist := make(chan core.CoreOutput, len(events))
	engine := testutil.NewEngine(t, persist)
	testutil.Apply(t, engine, events)
	close(persist)

	var outputs []core.CoreOutput
	for out := range persist {
		outputs = append(outputs, out)
	}

	var (
		eventRows   []persistence.EventRow
		journalRows []persistence.JournalRow
	)
	for _, out := range outputs {
		row, journals := persistence.RowsFromOutput(out)
		eventRows = append(eventRows, row)
		journalRows = append(journalRows, journals...)
	}
	writer := persistence.NewEventLogWriter(db)
	require.NoError(t, writer.WriteEventBatch(ctx, db, eventRows))
	require.NoError(t, writer.WriteJournalBatch(ctx, db, journalRows))

	in := make(chan core.CoreOutput, len(outputs))
	for _, out := range outputs {
		in <- out
	}
	close(in)
	require.NoError(t, projection.NewProjectionWorker(db, nil, in, zerolog.Nop()).Run(ctx))

	return outputs
}

func TestHolderPrefix(t *testing.T) {
	assert.Equal(t, "pool:mango-usdc:", query.HolderPrefix(ledger.AccountScopePool, "mango-usdc"))
	assert.Equal(t, "player:player:", query.HolderPrefix(ledger.AccountScopePlayer, core.PlayerID))
}

// ============================================================================
// Postgres read side
// ============================================================================

func TestIntegration_QueryService(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	outputs := seedDB(t, ctx, db)
	last := int64(len(outputs))
	qs := query.NewQueryService(db)

	t.Run("events newest first with paging", func(t *testing.T) {
		events, err := qs.GetEvents(ctx, "", 3, 0)
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, last, events[0].Sequence)
		assert.Equal(t, "AdvanceAuctionBlock", events[0].EventType)
		assert.Len(t, events[0].StateHash, 64)

		older, err := qs.GetEvents(ctx, "", 100, events[2].Sequence)
		require.NoError(t, err)
		assert.Len(t, older, int(last)-3)
	})

	t.Run("events by pool", func(t *testing.T) {
		events, err := qs.GetEvents(ctx, "mango-limon", 100, 0)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "Swap", events[0].EventType)
		assert.JSONEq(t, string(outputs[1].Envelope.Payload), string(events[0].Payload))
	})

	t.Run("journal history for a pool", func(t *testing.T) {
		prefix := query.HolderPrefix(ledger.AccountScopePool, "mango-usdc")
		entries, err := qs.GetJournalHistory(ctx, prefix, 100, 0)
		require.NoError(t, err)
		require.NotEmpty(t, entries)
		for i, e := range entries {
			touches := strings.HasPrefix(e.DebitAccount, prefix) || strings.HasPrefix(e.CreditAccount, prefix)
			assert.True(t, touches, "entry %d: %s -> %s", i, e.DebitAccount, e.CreditAccount)
			if i > 0 {
				assert.LessOrEqual(t, e.Sequence, entries[i-1].Sequence)
			}
		}
	})

	t.Run("balances carry watermark", func(t *testing.T) {
		balances, err := qs.GetBalances(ctx, query.HolderPrefix(ledger.AccountScopePlayer, core.PlayerID))
		require.NoError(t, err)
		require.NotEmpty(t, balances)
		for _, b := range balances {
			assert.Equal(t, last, b.AsOfSequence)
		}
	})

	t.Run("swaps by pool", func(t *testing.T) {
		swaps, err := qs.QueryByPool(ctx, "mango-usdc", 10)
		require.NoError(t, err)
		require.Len(t, swaps, 2)
		assert.Greater(t, swaps[0].Sequence, swaps[1].Sequence)
		assert.Equal(t, "mango", swaps[0].TokenIn)
		assert.Equal(t, core.PlayerID, swaps[0].Trader)
	})

	t.Run("integrity healthy", func(t *testing.T) {
		report, err := qs.VerifyIntegrity(ctx)
		require.NoError(t, err)
		assert.True(t, report.IsHealthy, "%+v", report)
		assert.Equal(t, last, report.EventsChecked)
		assert.Equal(t, last, report.AsOfSequence)
	})
}

func TestIntegration_VerifyIntegrityDetectsBreaks(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	seedDB(t, ctx, db)
	qs := query.NewQueryService(db)

	_, err := db.ExecContext(ctx,
		`UPDATE event_log.events SET prev_hash = $1 WHERE sequence = 3`, make([]byte, 32))
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `DELETE FROM event_log.events WHERE sequence = 6`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx,
		`UPDATE projections.balances SET balance = balance + 1 WHERE account_path = 'pool:mango-usdc:usdc'`)
	require.NoError(t, err)

	report, err := qs.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.False(t, report.IsHealthy)
	assert.Equal(t, []int64{3}, report.HashChainBreaks)
	assert.Equal(t, []int64{7}, report.SequenceGaps)
	require.Len(t, report.UnbalancedAssets, 1)
	assert.Equal(t, "usdc", report.UnbalancedAssets[0].Asset)
	assert.InDelta(t, 1.0, report.UnbalancedAssets[0].Imbalance, 1e-9)
}
