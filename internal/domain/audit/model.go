package audit

import "time"

type EventType string

const (
	EventCreated EventType = "CREATED"
	EventDecided EventType = "DECIDED"
	EventRevoked EventType = "REVOKED"
)

// Event is an immutable record of one lifecycle transition of an access
// request. Seq and Hash are assigned by the log on append.
type Event struct {
	Seq int64
	ID  string

	RequestID string
	Type      EventType

	// Actor is the principal that caused the transition.
	Actor string

	Requester string
	Patient   string
	DataType  string
	Purpose   string

	FromStatus string // empty for CREATED
	ToStatus   string

	// Outcome is "approved" or "denied" on DECIDED events.
	Outcome string

	At        time.Time
	ExpiresAt time.Time

	PrevHash []byte
	Hash     []byte
}

// Query selects events by request and/or time range (inclusive), in append
// order.
type Query struct {
	RequestID string
	From      *time.Time
	To        *time.Time
	Limit     int
}

const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// EffectiveLimit clamps Limit to [1, MaxQueryLimit].
func (q Query) EffectiveLimit() int {
	switch {
	case q.Limit <= 0:
		return DefaultQueryLimit
	case q.Limit > MaxQueryLimit:
		return MaxQueryLimit
	default:
		return q.Limit
	}
}

// Matches reports whether e satisfies the request and time filters.
func (q Query) Matches(e Event) bool {
	if q.RequestID != "" && e.RequestID != q.RequestID {
		return false
	}
	if q.From != nil && e.At.Before(*q.From) {
		return false
	}
	if q.To != nil && e.At.After(*q.To) {
		return false
	}
	return true
}
