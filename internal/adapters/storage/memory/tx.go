package memory

import (
	"context"
	"errors"
	"fmt"

	"patient-access/internal/domain/accessrequests"
	"patient-access/internal/domain/audit"
)

// TxRunner stages writes and audit events in memory and applies them under
// the repo lock at commit. The audit append happens before any write is
// applied, so a failed append leaves the repo untouched.
type TxRunner struct {
	repo *AccessRequestsRepo
	log  audit.Appender
}

func NewTxRunner(repo *AccessRequestsRepo, log audit.Appender) *TxRunner {
	return &TxRunner{repo: repo, log: log}
}

func (t *TxRunner) RunInTx(ctx context.Context, fn accessrequests.TxFunc) ([]audit.Event, error) {
	st := &stagedStore{base: t.repo, puts: make(map[string]stagedPut)}
	buf := &bufferedAppender{}

	if err := fn(ctx, st, buf); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.commit(ctx, st, buf.events)
}

func (t *TxRunner) commit(ctx context.Context, st *stagedStore, events []audit.Event) ([]audit.Event, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()

	for _, id := range st.order {
		p := st.puts[id]
		if err := t.repo.checkLocked(p.final, p.baseVersion); err != nil {
			return nil, err
		}
	}

	var sealed []audit.Event
	if len(events) > 0 {
		var err error
		sealed, err = t.log.Append(ctx, events...)
		if err != nil {
			if errors.Is(err, audit.ErrAppendFailed) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", audit.ErrAppendFailed, err)
		}
	}

	for _, id := range st.order {
		t.repo.applyLocked(st.puts[id].final)
	}
	return sealed, nil
}

type stagedPut struct {
	baseVersion int64
	final       accessrequests.AccessRequest
}

// stagedStore overlays uncommitted writes on the repo so a unit reads its
// own writes.
type stagedStore struct {
	base  *AccessRequestsRepo
	puts  map[string]stagedPut
	order []string
}

func (s *stagedStore) Get(ctx context.Context, id string) (accessrequests.AccessRequest, error) {
	if p, ok := s.puts[id]; ok {
		return p.final, nil
	}
	return s.base.Get(ctx, id)
}

func (s *stagedStore) Put(ctx context.Context, req accessrequests.AccessRequest) error {
	if req.ID == "" {
		return errors.New("access request id required")
	}
	p, ok := s.puts[req.ID]
	if !ok {
		p.baseVersion = req.Version - 1
		s.order = append(s.order, req.ID)
	} else if p.final.Version != req.Version-1 {
		return fmt.Errorf("%w: stale write for %s", accessrequests.ErrStoreUnavailable, req.ID)
	}
	p.final = req
	s.puts[req.ID] = p
	return nil
}

func (s *stagedStore) FindPendingDuplicate(ctx context.Context, k accessrequests.Key) (string, bool, error) {
	for _, id := range s.order {
		if p := s.puts[id]; p.final.Status == accessrequests.StatusPending && p.final.Key() == k {
			return id, true, nil
		}
	}
	id, ok, err := s.base.FindPendingDuplicate(ctx, k)
	if err != nil || !ok {
		return "", false, err
	}
	if p, staged := s.puts[id]; staged && p.final.Status != accessrequests.StatusPending {
		return "", false, nil
	}
	return id, true, nil
}

func (s *stagedStore) Query(ctx context.Context, f accessrequests.Filter) ([]accessrequests.AccessRequest, error) {
	overlay := make(map[string]accessrequests.AccessRequest, len(s.puts))
	for id, p := range s.puts {
		overlay[id] = p.final
	}

	s.base.mu.RLock()
	defer s.base.mu.RUnlock()
	return s.base.queryLocked(f, overlay), nil
}

// bufferedAppender holds events until commit. The events it returns are not
// sealed yet.
type bufferedAppender struct {
	events []audit.Event
}

func (b *bufferedAppender) Append(ctx context.Context, events ...audit.Event) ([]audit.Event, error) {
	b.events = append(b.events, events...)
	return events, nil
}
