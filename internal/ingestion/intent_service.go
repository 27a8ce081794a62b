package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ammsim/internal/core"
	"ammsim/internal/event"
	"ammsim/internal/observability"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Intent sources, used as the "source" metric label.
const (
	SourceNATS = "nats"
	SourceGRPC = "grpc"
	SourceHTTP = "http"
	SourceNPC  = "npc"
)

// msgIDNamespace derives request ids for transport messages that arrive
// without one, so a redelivered message maps to the same id.
var msgIDNamespace = uuid.MustParse("2f1c9d0e-4b57-4a51-9a7e-3c1f0b8d6e21")

// playerIntentTypes are the intents accepted from transports. NPCSwap is
// only produced in-process by the NPC simulator.
var playerIntentTypes = []event.EventType{
	event.EventTypeSwap,
	event.EventTypeAddLiquidity,
	event.EventTypeRemoveLiquidity,
	event.EventTypeCreateToken,
	event.EventTypeCreatePool,
	event.EventTypePlaceBid,
	event.EventTypeAdvanceAuctionBlock,
	event.EventTypeStartAuction,
	event.EventTypeResetAuction,
}

// IsPlayerIntent reports whether eventType may be submitted by a client.
func IsPlayerIntent(eventType string) bool {
	et := event.ParseEventType(eventType)
	for _, t := range playerIntentTypes {
		if t == et {
			return true
		}
	}
	return false
}

// Submitter applies one intent. *core.Sequencer satisfies it.
type Submitter interface {
	Submit(ctx context.Context, evt event.Event) (*core.Result, error)
}

// IntentService is the single entry point for player intents from every
// transport: it decodes, stamps and forwards them to the sequencer.
type IntentService struct {
	submitter Submitter
	metrics   *observability.Metrics
	logger    zerolog.Logger
	now       func() time.Time
}

func NewIntentService(submitter Submitter, metrics *observability.Metrics, logger zerolog.Logger) *IntentService {
	return &IntentService{
		submitter: submitter,
		metrics:   metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SubmitRaw decodes and applies one intent. msgID, when set, seeds the
// request id of intents that carry none.
func (s *IntentService) SubmitRaw(ctx context.Context, source, eventType, msgID string, data []byte) (*core.Result, error) {
	if !IsPlayerIntent(eventType) {
		s.count(source, "malformed")
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
	evt, err := ParseIntent(eventType, data)
	if err != nil {
		s.count(source, "malformed")
		return nil, err
	}

	requestID := uuid.New()
	if msgID != "" {
		requestID = uuid.NewSHA1(msgIDNamespace, []byte(msgID))
	}
	event.Stamp(evt, requestID, s.now())

	return s.Submit(ctx, source, evt)
}

// Submit applies an already typed intent, stamping it if needed.
func (s *IntentService) Submit(ctx context.Context, source string, evt event.Event) (*core.Result, error) {
	event.Stamp(evt, uuid.New(), s.now())

	res, err := s.submitter.Submit(ctx, evt)
	switch {
	case err == nil:
		s.count(source, "applied")
	case errors.Is(err, core.ErrDuplicateIntent):
		s.count(source, "duplicate")
	case IsTransient(err):
		s.count(source, "unavailable")
	default:
		s.count(source, "rejected")
	}
	return res, err
}

// IsTransient reports whether err means the intent was never evaluated and
// may be retried.
func IsTransient(err error) bool {
	return errors.Is(err, core.ErrSequencerStopped) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Run drains rawChan until ctx is cancelled or the channel is closed.
// Messages are ACKed once evaluated, including rejections, and NAKed only
// when the engine could not take them.
func (s *IntentService) Run(ctx context.Context, rawChan <-chan RawEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw, ok := <-rawChan:
			if !ok {
				return nil
			}

			res, err := s.SubmitRaw(ctx, SourceNATS, raw.EventType, raw.MsgID, raw.Data)
			if err != nil && IsTransient(err) {
				s.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("intent not applied, will be redelivered")
				if raw.NakFunc != nil {
					raw.NakFunc()
				}
				continue
			}

			if err != nil {
				s.logger.Info().Err(err).Str("subject", raw.Subject).Msg("intent rejected")
			} else {
				s.logger.Debug().Int64("sequence", res.Sequence).Str("event_type", res.EventType).Msg("intent applied")
			}
			if raw.AckFunc != nil {
				raw.AckFunc()
			}
		}
	}
}

func (s *IntentService) count(source, outcome string) {
	if s.metrics != nil {
		s.metrics.IntentsReceived.WithLabelValues(source, outcome).Inc()
	}
}
