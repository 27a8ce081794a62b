package ingestion

import (
	"errors"
	"fmt"

	"ammsim/internal/event"

	jsoniter "github.com/json-iterator/go"
)

// strict rejects payload fields no intent declares.
var strict = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
	DisallowUnknownFields:  true,
}.Froze()

var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrEmptyPayload     = errors.New("empty payload")
	ErrMalformedIntent  = errors.New("malformed intent")
)

// ParseRawEvent converts a RawEvent into a typed event.Event.
func ParseRawEvent(raw RawEvent) (event.Event, error) {
	return ParseIntent(raw.EventType, raw.Data)
}

// ParseIntent decodes a JSON intent of the named type. Only shape is checked
// here; the engine owns business validation.
func ParseIntent(eventType string, data []byte) (event.Event, error) {
	et := event.ParseEventType(eventType)
	evt, ok := event.New(et)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("parse %s: %w", eventType, ErrEmptyPayload)
	}
	if err := strict.Unmarshal(data, evt); err != nil {
		return nil, fmt.Errorf("parse %s: %w: %v", eventType, ErrMalformedIntent, err)
	}
	return evt, nil
}
