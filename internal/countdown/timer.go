package countdown

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event is a running countdown.
type Event struct {
	Name      string `json:"name"`
	Remaining int    `json:"remaining_seconds"`
}

// Timer runs one named countdown at a time, ticking once per second and
// clearing the event at zero. It never touches engine state.
type Timer struct {
	mu     sync.Mutex
	active *Event
	logger zerolog.Logger
}

func NewTimer(logger zerolog.Logger) *Timer {
	return &Timer{logger: logger}
}

// Start replaces any running countdown. seconds <= 0 clears it.
func (t *Timer) Start(name string, seconds int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if seconds <= 0 {
		t.active = nil
		return
	}
	t.active = &Event{Name: name, Remaining: seconds}
	t.logger.Info().Str("event", name).Int("seconds", seconds).Msg("countdown started")
}

// Tick advances the countdown by one second.
func (t *Timer) Tick() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active == nil {
		return
	}
	t.active.Remaining--
	if t.active.Remaining <= 0 {
		t.logger.Info().Str("event", t.active.Name).Msg("countdown finished")
		t.active = nil
	}
}

// Active returns a copy of the running countdown.
func (t *Timer) Active() (Event, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active == nil {
		return Event{}, false
	}
	return *t.active, true
}

// Run ticks every second until ctx is cancelled.
func (t *Timer) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.Tick()
		}
	}
}
