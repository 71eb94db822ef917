package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"patient-access/internal/domain/audit"
)

// AuditLog is an append-only slice of sealed events. Seq is the 1-based
// position in the slice.
type AuditLog struct {
	mu       sync.RWMutex
	events   []audit.Event
	lastHash map[string][]byte
}

func NewAuditLog() *AuditLog {
	return &AuditLog{lastHash: make(map[string][]byte)}
}

func (l *AuditLog) Append(ctx context.Context, events ...audit.Event) ([]audit.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	heads := make(map[string][]byte)
	sealed := make([]audit.Event, 0, len(events))
	for i, e := range events {
		if e.ID == "" || e.RequestID == "" {
			return nil, fmt.Errorf("%w: event id and request id required", audit.ErrAppendFailed)
		}
		prev, ok := heads[e.RequestID]
		if !ok {
			prev = l.lastHash[e.RequestID]
		}
		s, err := audit.Seal(prev, e)
		if err != nil {
			return nil, errors.Join(audit.ErrAppendFailed, err)
		}
		s.Seq = int64(len(l.events) + i + 1)
		heads[e.RequestID] = s.Hash
		sealed = append(sealed, s)
	}

	l.events = append(l.events, sealed...)
	for id, h := range heads {
		l.lastHash[id] = h
	}
	return cloneEvents(sealed), nil
}

func (l *AuditLog) Query(ctx context.Context, q audit.Query) ([]audit.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	limit := q.EffectiveLimit()
	out := make([]audit.Event, 0)
	for _, e := range l.events {
		if !q.Matches(e) {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return cloneEvents(out), nil
}

// Len is the number of stored events.
func (l *AuditLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// cloneEvents copies hash slices so callers cannot mutate stored events.
func cloneEvents(in []audit.Event) []audit.Event {
	out := make([]audit.Event, len(in))
	for i, e := range in {
		e.PrevHash = append([]byte(nil), e.PrevHash...)
		e.Hash = append([]byte(nil), e.Hash...)
		out[i] = e
	}
	return out
}
