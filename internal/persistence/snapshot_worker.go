package persistence

import (
	"context"
	"sync"
	"time"

	"ammsim/internal/core"
	"ammsim/internal/observability"

	"github.com/rs/zerolog"
)

// StateSource hands out consistent engine dumps. *core.Sequencer satisfies it.
type StateSource interface {
	SnapshotState(ctx context.Context) (*core.SnapshotState, error)
}

// SnapshotStore is the write side of snapshots. *SnapshotManager satisfies it.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *core.SnapshotState, createdAt time.Time) (int, error)
	VerifyPending(ctx context.Context) ([]int64, error)
}

// SnapshotWorker periodically dumps engine state once every interval
// events, then verifies saved snapshots against the persisted log.
type SnapshotWorker struct {
	store    SnapshotStore
	source   StateSource
	interval int64
	tick     time.Duration
	metrics  *observability.Metrics
	logger   zerolog.Logger

	mu      sync.Mutex // serializes saves
	lastSeq int64
}

func NewSnapshotWorker(
	store SnapshotStore,
	source StateSource,
	interval int64,
	tick time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *SnapshotWorker {
	if tick <= 0 {
		tick = 10 * time.Second
	}
	return &SnapshotWorker{
		store:    store,
		source:   source,
		interval: interval,
		tick:     tick,
		metrics:  metrics,
		logger:   logger,
	}
}

// SetLastSequence records the snapshot recovery started from.
func (w *SnapshotWorker) SetLastSequence(seq int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastSeq = seq
}

// Run checks every tick until ctx is cancelled.
func (w *SnapshotWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.TakeIfDue(ctx); err != nil {
				w.logger.Error().Err(err).Msg("snapshot failed")
			}
			w.Verify(ctx)
		}
	}
}

// TakeIfDue saves a snapshot when at least interval events were applied
// since the last one. Reports whether one was saved.
func (w *SnapshotWorker) TakeIfDue(ctx context.Context) (bool, error) {
	if w.interval <= 0 {
		return false, nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	snap, err := w.source.SnapshotState(ctx)
	if err != nil {
		return false, err
	}
	if snap.Sequence-w.lastSeq < w.interval {
		return false, nil
	}
	return true, w.save(ctx, snap)
}

// Take saves a snapshot unconditionally unless nothing changed. Used on
// shutdown and by the admin API.
func (w *SnapshotWorker) Take(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap, err := w.source.SnapshotState(ctx)
	if err != nil {
		return err
	}
	if snap.Sequence == 0 || snap.Sequence == w.lastSeq {
		return nil
	}
	return w.save(ctx, snap)
}

// Verify marks saved snapshots whose sequence has been persisted.
func (w *SnapshotWorker) Verify(ctx context.Context) {
	verified, err := w.store.VerifyPending(ctx)
	if err != nil {
		w.logger.Error().Err(err).Msg("snapshot verification failed")
	}
	for _, seq := range verified {
		w.logger.Info().Int64("sequence", seq).Msg("snapshot verified")
	}
}

func (w *SnapshotWorker) save(ctx context.Context, snap *core.SnapshotState) error {
	size, err := w.store.SaveSnapshot(ctx, snap, time.Now().UTC())
	if err != nil {
		return err
	}
	w.lastSeq = snap.Sequence

	if w.metrics != nil {
		w.metrics.SnapshotTaken.Inc()
		w.metrics.SnapshotSizeBytes.Set(float64(size))
		w.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	w.logger.Info().Int64("sequence", snap.Sequence).Int("size_bytes", size).Msg("snapshot saved")
	return nil
}
