package ingestion

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"ammsim/internal/core"
	"ammsim/internal/observability"

	jsoniter "github.com/json-iterator/go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// EngineEventStream carries every applied intent for downstream consumers.
	EngineEventStream = "AMMSIM_ENGINE_EVENTS"
	// EngineEventSubjectPrefix is followed by {event_type}[.{pool_id}].
	EngineEventSubjectPrefix = "ammsim.engine.events."
)

// JetStreamPublisher is the part of jetstream.JetStream the publisher uses.
type JetStreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes applied intents to NATS. Publishing is best
// effort: the event log stays the source of truth.
type OutboundPublisher struct {
	js        JetStreamPublisher
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// PublishableEvent is the outbound wire form of an applied intent.
type PublishableEvent struct {
	Sequence       int64               `json:"sequence"`
	EventType      string              `json:"event_type"`
	IdempotencyKey string              `json:"idempotency_key"`
	PoolID         *string             `json:"pool_id,omitempty"`
	Payload        jsoniter.RawMessage `json:"payload"`
	Result         jsoniter.RawMessage `json:"result"`
	StateHash      string              `json:"state_hash"`
	PrevHash       string              `json:"prev_hash"`
	Timestamp      time.Time           `json:"timestamp"`
}

func NewOutboundPublisher(
	js JetStreamPublisher,
	inputChan <-chan core.CoreOutput,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// PublishableFromOutput converts an engine output to its wire form.
func PublishableFromOutput(out core.CoreOutput) PublishableEvent {
	env := out.Envelope
	return PublishableEvent{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		PoolID:         env.PoolID,
		Payload:        env.Payload,
		Result:         env.Result,
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		PrevHash:       hex.EncodeToString(env.PrevHash[:]),
		Timestamp:      env.Timestamp,
	}
}

// Subject returns ammsim.engine.events.{event_type}[.{pool_id}].
func (p PublishableEvent) Subject() string {
	subject := EngineEventSubjectPrefix + p.EventType
	if p.PoolID != nil {
		subject = subject + "." + *p.PoolID
	}
	return subject
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			evt := PublishableFromOutput(out)
			if err := op.publish(ctx, evt); err != nil {
				// Non-fatal: consumers can read the event log directly
				op.logger.Warn().Err(err).Int64("sequence", evt.Sequence).Msg("outbound publish failed")
				continue
			}
			if op.metrics != nil {
				op.metrics.EventsPublished.WithLabelValues(evt.EventType).Inc()
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = op.js.Publish(ctx, evt.Subject(), data, jetstream.WithMsgID(fmt.Sprintf("seq-%d", evt.Sequence)))
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      EngineEventStream,
		Subjects:  []string{EngineEventSubjectPrefix + ">"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}
