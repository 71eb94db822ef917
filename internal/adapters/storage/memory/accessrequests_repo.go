package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"patient-access/internal/domain/accessrequests"
)

// AccessRequestsRepo keeps requests in maps with a secondary index of the
// pending request per (requester, patient, dataType).
type AccessRequestsRepo struct {
	mu      sync.RWMutex
	byID    map[string]accessrequests.AccessRequest
	pending map[accessrequests.Key]string
}

func NewAccessRequestsRepo() *AccessRequestsRepo {
	return &AccessRequestsRepo{
		byID:    make(map[string]accessrequests.AccessRequest),
		pending: make(map[accessrequests.Key]string),
	}
}

func (r *AccessRequestsRepo) Get(ctx context.Context, id string) (accessrequests.AccessRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	req, ok := r.byID[id]
	if !ok {
		return accessrequests.AccessRequest{}, accessrequests.ErrNotFound
	}
	return req, nil
}

func (r *AccessRequestsRepo) Put(ctx context.Context, req accessrequests.AccessRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkLocked(req, req.Version-1); err != nil {
		return err
	}
	r.applyLocked(req)
	return nil
}

func (r *AccessRequestsRepo) FindPendingDuplicate(ctx context.Context, k accessrequests.Key) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.pending[k]
	return id, ok, nil
}

func (r *AccessRequestsRepo) Query(ctx context.Context, f accessrequests.Filter) ([]accessrequests.AccessRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.queryLocked(f, nil), nil
}

// checkLocked verifies that req may replace the stored record whose version
// must be baseVersion (0 when absent) and that it keeps the pending index
// unique.
func (r *AccessRequestsRepo) checkLocked(req accessrequests.AccessRequest, baseVersion int64) error {
	if req.ID == "" {
		return errors.New("access request id required")
	}
	var current int64
	if old, ok := r.byID[req.ID]; ok {
		current = old.Version
	}
	if current != baseVersion {
		return fmt.Errorf("%w: stale write for %s (stored version %d, expected %d)",
			accessrequests.ErrStoreUnavailable, req.ID, current, baseVersion)
	}
	if req.Status == accessrequests.StatusPending {
		if other, ok := r.pending[req.Key()]; ok && other != req.ID {
			return accessrequests.ErrDuplicatePending
		}
	}
	return nil
}

func (r *AccessRequestsRepo) applyLocked(req accessrequests.AccessRequest) {
	if old, ok := r.byID[req.ID]; ok && old.Status == accessrequests.StatusPending {
		if r.pending[old.Key()] == old.ID {
			delete(r.pending, old.Key())
		}
	}
	if req.Status == accessrequests.StatusPending {
		r.pending[req.Key()] = req.ID
	}
	r.byID[req.ID] = req
}

// queryLocked filters stored records with overlay taking precedence, newest
// first.
func (r *AccessRequestsRepo) queryLocked(f accessrequests.Filter, overlay map[string]accessrequests.AccessRequest) []accessrequests.AccessRequest {
	out := make([]accessrequests.AccessRequest, 0)
	for id, req := range r.byID {
		if staged, ok := overlay[id]; ok {
			req = staged
		}
		if f.Matches(req) {
			out = append(out, req)
		}
	}
	for id, req := range overlay {
		if _, ok := r.byID[id]; !ok && f.Matches(req) {
			out = append(out, req)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	if limit := f.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out
}
