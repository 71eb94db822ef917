package accessrequests

import (
	"strings"
	"time"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusRevoked  Status = "revoked"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusDenied, StatusRevoked:
		return true
	}
	return false
}

// IsTerminal reports whether no transition can leave s.
func (s Status) IsTerminal() bool {
	return s == StatusDenied || s == StatusRevoked
}

// transitions lists every allowed edge of the lifecycle.
var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusDenied},
	StatusApproved: {StatusRevoked},
}

func canTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AuthzResult is the answer of CheckAuthorization.
type AuthzResult string

const (
	Authorized   AuthzResult = "authorized"
	AuthzDenied  AuthzResult = "denied"
	AuthzRevoked AuthzResult = "revoked"
	AuthzPending AuthzResult = "pending"
	AuthzExpired AuthzResult = "expired"
)

// EffectiveStatusExpired is reported in place of the stored status once a
// pending or approved request is past its expiry. It is never stored.
const EffectiveStatusExpired = "expired"

type AccessRequest struct {
	ID string

	Requester string
	Patient   string // data owner, the only principal who may decide
	DataType  string
	Purpose   string

	Status    Status
	Processed bool

	CreatedAt time.Time
	ExpiresAt time.Time
	UpdatedAt time.Time

	// Version increments on every persisted transition.
	Version int64
}

func (r AccessRequest) Key() Key {
	return Key{Requester: r.Requester, Patient: r.Patient, DataType: r.DataType}
}

// Expired reports now > ExpiresAt. A request is still valid at exactly
// ExpiresAt.
func (r AccessRequest) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Authorization derives the disclosure answer at now.
func (r AccessRequest) Authorization(now time.Time) AuthzResult {
	switch r.Status {
	case StatusApproved:
		if r.Expired(now) {
			return AuthzExpired
		}
		return Authorized
	case StatusPending:
		if r.Expired(now) {
			return AuthzExpired
		}
		return AuthzPending
	case StatusDenied:
		return AuthzDenied
	default:
		return AuthzRevoked
	}
}

// EffectiveStatus is the stored status, or "expired" for a live status past
// its expiry.
func (r AccessRequest) EffectiveStatus(now time.Time) string {
	if (r.Status == StatusPending || r.Status == StatusApproved) && r.Expired(now) {
		return EffectiveStatusExpired
	}
	return string(r.Status)
}

func (r AccessRequest) transition(to Status, at time.Time) (AccessRequest, error) {
	if r.Status.IsTerminal() || !canTransition(r.Status, to) {
		return AccessRequest{}, ErrInvalidState
	}
	r.Status = to
	r.Processed = to != StatusPending
	r.UpdatedAt = at
	r.Version++
	return r, nil
}

// Key identifies the (requester, patient, dataType) tuple that may hold at
// most one pending request.
type Key struct {
	Requester string
	Patient   string
	DataType  string
}

func (k Key) String() string {
	return strings.Join([]string{k.Requester, k.Patient, k.DataType}, "\x1f")
}

// Filter selects requests for ListRequests. Empty fields match anything.
type Filter struct {
	Patient   string
	Requester string
	Status    Status
	DataType  string
	Limit     int
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

func (f Filter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultListLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return f.Limit
	}
}

func (f Filter) Matches(r AccessRequest) bool {
	if f.Patient != "" && r.Patient != f.Patient {
		return false
	}
	if f.Requester != "" && r.Requester != f.Requester {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.DataType != "" && r.DataType != f.DataType {
		return false
	}
	return true
}

// RequestView is a request paired with its status as seen at a point in time.
type RequestView struct {
	AccessRequest
	EffectiveStatus string
}
