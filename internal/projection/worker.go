package projection

import (
	"context"
	"database/sql"
	"fmt"

	"ammsim/internal/core"
	"ammsim/internal/persistence"

	"github.com/rs/zerolog"
)

// WorkerID identifies this worker's row in projections.watermark.
const WorkerID = "main"

// ProjectionWorker updates read models from applied intents. It is fed from
// the non-blocking publish fan-out, so it may miss outputs; projections are
// eventually consistent and can be rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB      // nil: in-memory history only
	history   *SwapHistory // nil: Postgres only
	inputChan <-chan core.CoreOutput
	logger    zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, history *SwapHistory, inputChan <-chan core.CoreOutput, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		history:   history,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			seq := output.Envelope.Sequence
			if pw.lastSeq != 0 && seq != pw.lastSeq+1 {
				pw.logger.Warn().Int64("expected", pw.lastSeq+1).Int64("got", seq).Msg("projection gap, rebuild to catch up")
			}
			if err := pw.processOutput(ctx, output); err != nil {
				pw.logger.Warn().Err(err).Int64("sequence", seq).Msg("projection update failed")
			}
			pw.lastSeq = seq
		}
	}
}

// LastSequence returns the last output this worker consumed.
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output core.CoreOutput) error {
	rec, isSwap, err := SwapRecordFromOutput(output)
	if err != nil {
		return err
	}
	if isSwap && pw.history != nil {
		pw.history.Add(rec)
	}
	if pw.db == nil {
		return nil
	}

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	seq := output.Envelope.Sequence
	_, journals := persistence.RowsFromOutput(output)
	for _, j := range journals {
		if err := updateBalanceProjection(ctx, tx, j, seq); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	if isSwap {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.swaps
				(sequence, pool_id, trader, token_in, token_out, amount_in, amount_out, fee_percent, fee_amount, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (sequence) DO NOTHING
		`, rec.Sequence, rec.PoolID, rec.Trader, rec.TokenIn, rec.TokenOut,
			rec.AmountIn, rec.AmountOut, rec.FeePercent, rec.FeeAmount, rec.Timestamp); err != nil {
			return fmt.Errorf("swap projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, WorkerID, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// updateBalanceProjection applies one journal: debits add, credits subtract.
func updateBalanceProjection(ctx context.Context, tx *sql.Tx, j persistence.JournalRow, seq int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_path, asset)
		DO UPDATE SET balance = projections.balances.balance + $3, last_sequence = $4
	`, j.DebitAccount, j.Asset, j.Amount, seq); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
		VALUES ($1, $2, -$3::DOUBLE PRECISION, $4)
		ON CONFLICT (account_path, asset)
		DO UPDATE SET balance = projections.balances.balance - $3, last_sequence = $4
	`, j.CreditAccount, j.Asset, j.Amount, seq); err != nil {
		return err
	}

	return nil
}

// RebuildProjections rebuilds every projection table from the event log.
func RebuildProjections(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.swaps`,
		`DELETE FROM projections.watermark WHERE worker_id = '` + WorkerID + `'`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
		SELECT account_path, asset, SUM(delta), MAX(sequence)
		FROM (
			SELECT debit_account AS account_path, asset, amount AS delta, sequence FROM event_log.journal
			UNION ALL
			SELECT credit_account AS account_path, asset, -amount AS delta, sequence FROM event_log.journal
		) legs
		GROUP BY account_path, asset
	`); err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.swaps
			(sequence, pool_id, trader, token_in, token_out, amount_in, amount_out, fee_percent, fee_amount, timestamp)
		SELECT
			sequence,
			result->'swap'->>'pool_id',
			CASE WHEN event_type = 'NPCSwap' THEN payload->>'npc' ELSE $1 END,
			result->'swap'->>'token_in',
			result->'swap'->>'token_out',
			(result->'swap'->>'amount_in')::DOUBLE PRECISION,
			(result->'swap'->>'amount_out')::DOUBLE PRECISION,
			(result->'swap'->>'fee_percent')::DOUBLE PRECISION,
			(result->'swap'->>'fee_amount')::DOUBLE PRECISION,
			timestamp
		FROM event_log.events
		WHERE event_type IN ('Swap', 'NPCSwap')
	`, core.PlayerID); err != nil {
		return fmt.Errorf("rebuild swaps: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		SELECT $1, COALESCE(MAX(sequence), 0), NOW() FROM event_log.events
	`, WorkerID); err != nil {
		return fmt.Errorf("rebuild watermark: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logger.Info().Msg("projection rebuild complete")
	return nil
}
