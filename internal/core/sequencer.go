package core

import (
	"context"
	"errors"

	"ammsim/internal/event"

	"github.com/rs/zerolog"
)

// ErrSequencerStopped is returned once the sequencer's Run loop has exited.
var ErrSequencerStopped = errors.New("sequencer stopped")

// Sequencer is the single writer for an Engine. Player intents, NPC trades
// and reads all pass through one channel, so no caller ever observes a pool
// mid-mutation.
type Sequencer struct {
	engine   *Engine
	requests chan *request
	stopped  chan struct{}
	logger   zerolog.Logger
}

type request struct {
	ctx  context.Context
	fn   func(*Engine)
	done chan struct{}
	err  error // set when the caller gave up before fn ran
}

// NewSequencer wraps engine. queueSize bounds pending requests.
func NewSequencer(engine *Engine, queueSize int, logger zerolog.Logger) *Sequencer {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Sequencer{
		engine:   engine,
		requests: make(chan *request, queueSize),
		stopped:  make(chan struct{}),
		logger:   logger,
	}
}

// Run executes requests until ctx is cancelled. Call it once.
func (s *Sequencer) Run(ctx context.Context) error {
	defer close(s.stopped)
	s.logger.Info().Msg("sequencer started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("sequencer stopped")
			return ctx.Err()
		case req := <-s.requests:
			if err := req.ctx.Err(); err != nil {
				req.err = err
			} else {
				req.fn(s.engine)
			}
			close(req.done)
		}
	}
}

// Do runs fn on the engine goroutine and waits for it to finish. Once the
// request is queued the outcome is final: either fn ran and Do returns nil,
// or ctx expired first, fn never runs and Do returns ctx.Err().
func (s *Sequencer) Do(ctx context.Context, fn func(*Engine)) error {
	req := &request{ctx: ctx, fn: fn, done: make(chan struct{})}

	select {
	case s.requests <- req:
	case <-s.stopped:
		return ErrSequencerStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return req.err
	case <-s.stopped:
		// Run may have finished this request just before exiting.
		select {
		case <-req.done:
			return req.err
		default:
			return ErrSequencerStopped
		}
	}
}

// Submit applies one intent.
func (s *Sequencer) Submit(ctx context.Context, evt event.Event) (*Result, error) {
	var (
		res *Result
		err error
	)
	if doErr := s.Do(ctx, func(e *Engine) {
		res, err = e.ProcessEvent(evt)
	}); doErr != nil {
		return nil, doErr
	}
	return res, err
}

// Snapshot returns a consistent view of the engine.
func (s *Sequencer) Snapshot(ctx context.Context) (*Snapshot, error) {
	var snap *Snapshot
	if err := s.Do(ctx, func(e *Engine) {
		snap = e.Snapshot()
	}); err != nil {
		return nil, err
	}
	return snap, nil
}

// SnapshotState returns the full dump.
func (s *Sequencer) SnapshotState(ctx context.Context) (*SnapshotState, error) {
	var snap *SnapshotState
	if err := s.Do(ctx, func(e *Engine) {
		snap = e.CreateSnapshotState()
	}); err != nil {
		return nil, err
	}
	return snap, nil
}

// Quote previews a swap.
func (s *Sequencer) Quote(ctx context.Context, poolID, tokenIn string, amountIn float64) (SwapResult, error) {
	var (
		q   SwapResult
		err error
	)
	if doErr := s.Do(ctx, func(e *Engine) {
		q, err = e.Quote(poolID, tokenIn, amountIn)
	}); doErr != nil {
		return SwapResult{}, doErr
	}
	return q, err
}
