package query

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"ammsim/internal/projection"
)

// balanceTolerance absorbs float rounding when projected balances are summed.
const balanceTolerance = 1e-6

// maxPageSize caps every list query.
const maxPageSize = 1000

// QueryService provides read-only access to the event log and projection
// tables. List responses are newest first.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

// GetEvents returns applied intents with sequence < beforeSequence (0 means
// from the head), optionally filtered by pool.
func (qs *QueryService) GetEvents(
	ctx context.Context,
	poolID string,
	limit int,
	beforeSequence int64,
) ([]EventEntry, error) {
	query := `
		SELECT sequence, event_type, idempotency_key, pool_id, payload, result,
		       state_hash, prev_hash, timestamp
		FROM event_log.events
		WHERE 1 = 1
	`
	var args []interface{}
	argIdx := 1

	if poolID != "" {
		query += fmt.Sprintf(" AND pool_id = $%d", argIdx)
		args = append(args, poolID)
		argIdx++
	}
	if beforeSequence > 0 {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventEntry
	for rows.Next() {
		var (
			e                   EventEntry
			pool                sql.NullString
			payload, result     []byte
			stateHash, prevHash []byte
		)
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &pool, &payload, &result,
			&stateHash, &prevHash, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		e.PoolID = pool.String
		e.Payload = payload
		e.Result = result
		e.StateHash = hex.EncodeToString(stateHash)
		e.PrevHash = hex.EncodeToString(prevHash)
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetJournalHistory returns journal entries touching any account under
// accountPrefix, newest first.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	accountPrefix string,
	limit int,
	beforeSequence int64,
) ([]JournalHistoryEntry, error) {
	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (LEFT(debit_account, LENGTH($1)) = $1 OR LEFT(credit_account, LENGTH($1)) = $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if beforeSequence > 0 {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, journal_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Asset, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// GetBalances returns projected balances for every account under accountPrefix.
func (qs *QueryService) GetBalances(ctx context.Context, accountPrefix string) ([]BalanceResponse, error) {
	asOfSeq, err := qs.GetWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT account_path, asset, balance, last_sequence
		FROM projections.balances
		WHERE LEFT(account_path, LENGTH($1)) = $1
		ORDER BY account_path
	`, accountPrefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []BalanceResponse
	for rows.Next() {
		b := BalanceResponse{AsOfSequence: asOfSeq}
		if err := rows.Scan(&b.AccountPath, &b.Asset, &b.Balance, &b.LastSequence); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}

	return balances, rows.Err()
}

// QueryByPool returns the most recent swaps on a pool.
func (qs *QueryService) QueryByPool(ctx context.Context, poolID string, limit int) ([]projection.SwapRecord, error) {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT sequence, pool_id, trader, token_in, token_out,
		       amount_in, amount_out, fee_percent, fee_amount, timestamp
		FROM projections.swaps
		WHERE pool_id = $1
		ORDER BY sequence DESC
		LIMIT $2
	`, poolID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var swaps []projection.SwapRecord
	for rows.Next() {
		var s projection.SwapRecord
		if err := rows.Scan(
			&s.Sequence, &s.PoolID, &s.Trader, &s.TokenIn, &s.TokenOut,
			&s.AmountIn, &s.AmountOut, &s.FeePercent, &s.FeeAmount, &s.Timestamp,
		); err != nil {
			return nil, err
		}
		swaps = append(swaps, s)
	}

	return swaps, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity, sequence gaps and that
// projected balances net to zero per asset.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	if err := qs.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM event_log.events`,
	).Scan(&report.EventsChecked); err != nil {
		return nil, err
	}

	// The first event chains to the genesis hash, which is never persisted.
	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence, e2.sequence IS NULL
		FROM event_log.events e1
		LEFT JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.sequence > 1
		  AND (e2.sequence IS NULL OR e1.prev_hash <> e2.state_hash)
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq     int64
			missing bool
		)
		if err := rows.Scan(&seq, &missing); err != nil {
			return nil, err
		}
		if missing {
			report.SequenceGaps = append(report.SequenceGaps, seq)
		} else {
			report.HashChainBreaks = append(report.HashChainBreaks, seq)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset, SUM(balance) AS total
		FROM projections.balances
		GROUP BY asset
		HAVING ABS(SUM(balance)) > $1
		ORDER BY asset
	`, balanceTolerance)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var u UnbalancedAsset
		if err := balanceRows.Scan(&u.Asset, &u.Imbalance); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, u)
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	if report.AsOfSequence, err = qs.GetWatermark(ctx); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 &&
		len(report.SequenceGaps) == 0 &&
		len(report.UnbalancedAssets) == 0
	return report, nil
}

// GetWatermark returns the last sequence applied to the projections, or 0.
func (qs *QueryService) GetWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = $1
	`, projection.WorkerID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}
