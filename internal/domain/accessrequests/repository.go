package accessrequests

import (
	"context"

	"patient-access/internal/domain/audit"
)

// Store is dumb persistence: it enforces no lifecycle rule. Get returns
// ErrNotFound for unknown ids. Put upserts and fails with
// ErrStoreUnavailable when the stored version is not r.Version-1.
type Store interface {
	Get(ctx context.Context, id string) (AccessRequest, error)
	Put(ctx context.Context, r AccessRequest) error
	FindPendingDuplicate(ctx context.Context, k Key) (string, bool, error)
	Query(ctx context.Context, f Filter) ([]AccessRequest, error)
}

// TxFunc runs inside a unit of work. store sees its own writes; events
// appended to log become visible only if the unit commits.
type TxFunc func(ctx context.Context, store Store, log audit.Appender) error

// TxRunner commits request mutations together with their audit events, or
// neither. It returns the sealed events of a committed unit. An append
// failure is reported wrapping audit.ErrAppendFailed.
type TxRunner interface {
	RunInTx(ctx context.Context, fn TxFunc) ([]audit.Event, error)
}

// Locker serializes check-then-act sequences per key.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
