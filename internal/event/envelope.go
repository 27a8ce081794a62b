package event

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for intent payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeSwap
	EventTypeAddLiquidity
	EventTypeRemoveLiquidity
	EventTypeCreateToken
	EventTypeCreatePool
	EventTypePlaceBid
	EventTypeAdvanceAuctionBlock
	EventTypeStartAuction
	EventTypeResetAuction
	EventTypeNPCSwap
)

// EventEnvelope wraps every applied intent in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Pool context (nil for global intents)
	PoolID *string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// JSON-encoded intent
	Payload []byte

	// JSON-encoded result returned to the caller
	Result []byte

	// SHA-256 of state AFTER applying this intent
	StateHash [32]byte

	// Previous intent's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all intents must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// PoolID returns the pool context (nil for global intents)
	PoolID() *string

	// EventTimestamp returns the versioned input timestamp
	EventTimestamp() time.Time
}

// Meta carries the fields every intent shares. Stamped by the ingestion
// layer before the intent reaches the core.
type Meta struct {
	RequestID uuid.UUID `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

func (m Meta) IdempotencyKey() string {
	return m.RequestID.String()
}

func (m Meta) EventTimestamp() time.Time {
	return m.Timestamp
}

// Stamped reports whether the ingestion layer filled the meta fields.
func (m Meta) Stamped() bool {
	return m.RequestID != uuid.Nil && !m.Timestamp.IsZero()
}

func (et EventType) String() string {
	switch et {
	case EventTypeSwap:
		return "Swap"
	case EventTypeAddLiquidity:
		return "AddLiquidity"
	case EventTypeRemoveLiquidity:
		return "RemoveLiquidity"
	case EventTypeCreateToken:
		return "CreateToken"
	case EventTypeCreatePool:
		return "CreatePool"
	case EventTypePlaceBid:
		return "PlaceBid"
	case EventTypeAdvanceAuctionBlock:
		return "AdvanceAuctionBlock"
	case EventTypeStartAuction:
		return "StartAuction"
	case EventTypeResetAuction:
		return "ResetAuction"
	case EventTypeNPCSwap:
		return "NPCSwap"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of String.
func ParseEventType(s string) EventType {
	for et := EventTypeSwap; et <= EventTypeNPCSwap; et++ {
		if et.String() == s {
			return et
		}
	}
	return EventTypeUnknown
}

// New returns an empty intent of the given type, ready to be decoded into.
func New(et EventType) (Event, bool) {
	switch et {
	case EventTypeSwap:
		return &Swap{}, true
	case EventTypeAddLiquidity:
		return &AddLiquidity{}, true
	case EventTypeRemoveLiquidity:
		return &RemoveLiquidity{}, true
	case EventTypeCreateToken:
		return &CreateToken{}, true
	case EventTypeCreatePool:
		return &CreatePool{}, true
	case EventTypePlaceBid:
		return &PlaceBid{}, true
	case EventTypeAdvanceAuctionBlock:
		return &AdvanceAuctionBlock{}, true
	case EventTypeStartAuction:
		return &StartAuction{}, true
	case EventTypeResetAuction:
		return &ResetAuction{}, true
	case EventTypeNPCSwap:
		return &NPCSwap{}, true
	default:
		return nil, false
	}
}

// Stamp fills the shared fields of an intent that arrived without them.
func Stamp(evt Event, requestID uuid.UUID, ts time.Time) {
	m := metaOf(evt)
	if m == nil {
		return
	}
	if m.RequestID == uuid.Nil {
		m.RequestID = requestID
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = ts
	}
}

func metaOf(evt Event) *Meta {
	switch e := evt.(type) {
	case *Swap:
		return &e.Meta
	case *AddLiquidity:
		return &e.Meta
	case *RemoveLiquidity:
		return &e.Meta
	case *CreateToken:
		return &e.Meta
	case *CreatePool:
		return &e.Meta
	case *PlaceBid:
		return &e.Meta
	case *AdvanceAuctionBlock:
		return &e.Meta
	case *StartAuction:
		return &e.Meta
	case *ResetAuction:
		return &e.Meta
	case *NPCSwap:
		return &e.Meta
	default:
		return nil
	}
}
