package audit

//go:generate mockgen -source=log.go -destination=mocks/log_mock.go -package=mocks

import (
	"context"
	"errors"
)

// ErrAppendFailed marks a storage fault while appending. A lost audit event
// is a compliance violation, so callers must treat it as fatal for the
// surrounding operation.
var ErrAppendFailed = errors.New("audit append failed")

// Appender seals and stores events in order. Either every event is stored
// or none is. The returned events carry Seq, PrevHash and Hash.
type Appender interface {
	Append(ctx context.Context, events ...Event) ([]Event, error)
}

type Reader interface {
	Query(ctx context.Context, q Query) ([]Event, error)
}

type Log interface {
	Appender
	Reader
}

// Forwarder streams committed events to external compliance tooling.
type Forwarder interface {
	Forward(ctx context.Context, events []Event) error
}
