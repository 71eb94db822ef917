package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"patient-access/internal/domain/accessrequests"
	"patient-access/internal/domain/audit"
	"patient-access/internal/domain/audit/mocks"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func pendingRequest(id, requester string, createdAt time.Time) accessrequests.AccessRequest {
	return accessrequests.AccessRequest{
		ID:        id,
		Requester: requester,
		Patient:   "patient-1",
		DataType:  "labs",
		Status:    accessrequests.StatusPending,
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(time.Hour),
		UpdatedAt: createdAt,
		Version:   1,
	}
}

func TestAccessRequestsRepo_PutGetAndPendingIndex(t *testing.T) {
	ctx := context.Background()
	repo := NewAccessRequestsRepo()

	_, err := repo.Get(ctx, "missing")
	require.ErrorIs(t, err, accessrequests.ErrNotFound)

	r := pendingRequest("r1", "doc-1", t0)
	require.NoError(t, repo.Put(ctx, r))

	id, found, err := repo.FindPendingDuplicate(ctx, r.Key())
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "r1", id)

	require.ErrorIs(t, repo.Put(ctx, pendingRequest("r2", "doc-1", t0)), accessrequests.ErrDuplicatePending)

	approved := r
	approved.Status = accessrequests.StatusApproved
	approved.Processed = true
	approved.Version = 2
	require.NoError(t, repo.Put(ctx, approved))

	_, found, err = repo.FindPendingDuplicate(ctx, r.Key())
	require.NoError(t, err)
	require.False(t, found)

	got, err := repo.Get(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, accessrequests.StatusApproved, got.Status)
}

func TestAccessRequestsRepo_RejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	repo := NewAccessRequestsRepo()
	r := pendingRequest("r1", "doc-1", t0)
	require.NoError(t, repo.Put(ctx, r))

	err := repo.Put(ctx, r)
	require.ErrorIs(t, err, accessrequests.ErrStoreUnavailable)
	require.True(t, accessrequests.IsRetryable(err))
}

func TestAccessRequestsRepo_QueryOrdersNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewAccessRequestsRepo()
	require.NoError(t, repo.Put(ctx, pendingRequest("old", "doc-1", t0)))
	require.NoError(t, repo.Put(ctx, pendingRequest("new", "doc-2", t0.Add(time.Minute))))
	other := pendingRequest("other", "doc-3", t0)
	other.Patient = "patient-2"
	require.NoError(t, repo.Put(ctx, other))

	got, err := repo.Query(ctx, accessrequests.Filter{Patient: "patient-1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "new", got[0].ID)
	require.Equal(t, "old", got[1].ID)

	got, err = repo.Query(ctx, accessrequests.Filter{Patient: "patient-1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestAuditLog_AppendSealsAndChainsPerRequest(t *testing.T) {
	ctx := context.Background()
	log := NewAuditLog()

	first, err := log.Append(ctx,
		audit.Event{ID: "e1", RequestID: "r1", Type: audit.EventCreated, At: t0},
		audit.Event{ID: "e2", RequestID: "r2", Type: audit.EventCreated, At: t0},
	)
	require.NoError(t, err)
	require.Equal(t, int64(1), first[0].Seq)
	require.Equal(t, int64(2), first[1].Seq)

	second, err := log.Append(ctx, audit.Event{ID: "e3", RequestID: "r1", Type: audit.EventDecided, At: t0.Add(time.Second)})
	require.NoError(t, err)
	require.Equal(t, first[0].Hash, second[0].PrevHash)

	trail, err := log.Query(ctx, audit.Query{RequestID: "r1"})
	require.NoError(t, err)
	require.Len(t, trail, 2)
	require.NoError(t, audit.VerifyChain(trail))
}

func TestAuditLog_AppendIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	log := NewAuditLog()

	_, err := log.Append(ctx,
		audit.Event{ID: "e1", RequestID: "r1", At: t0},
		audit.Event{ID: "", RequestID: "r1", At: t0},
	)
	require.ErrorIs(t, err, audit.ErrAppendFailed)
	require.Zero(t, log.Len())
}

func TestAuditLog_QueryByTimeRange(t *testing.T) {
	ctx := context.Background()
	log := NewAuditLog()
	for i, id := range []string{"e1", "e2", "e3"} {
		_, err := log.Append(ctx, audit.Event{ID: id, RequestID: "r" + id, At: t0.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
	}

	from, to := t0.Add(time.Minute), t0.Add(2*time.Minute)
	got, err := log.Query(ctx, audit.Query{From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "e2", got[0].ID)
}

func TestTxRunner_CommitsWritesAndEventsTogether(t *testing.T) {
	ctx := context.Background()
	repo := NewAccessRequestsRepo()
	log := NewAuditLog()
	tx := NewTxRunner(repo, log)

	r := pendingRequest("r1", "doc-1", t0)
	sealed, err := tx.RunInTx(ctx, func(ctx context.Context, store accessrequests.Store, al audit.Appender) error {
		require.NoError(t, store.Put(ctx, r))

		got, err := store.Get(ctx, "r1")
		require.NoError(t, err)
		require.Equal(t, r, got)

		_, found, err := store.FindPendingDuplicate(ctx, r.Key())
		require.NoError(t, err)
		require.True(t, found)

		_, err = al.Append(ctx, audit.Event{ID: "e1", RequestID: "r1", Type: audit.EventCreated, At: t0})
		return err
	})
	require.NoError(t, err)
	require.Len(t, sealed, 1)
	require.NotEmpty(t, sealed[0].Hash)

	_, err = repo.Get(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, 1, log.Len())
}

func TestTxRunner_FnErrorDiscardsEverything(t *testing.T) {
	ctx := context.Background()
	repo := NewAccessRequestsRepo()
	log := NewAuditLog()
	tx := NewTxRunner(repo, log)
	boom := errors.New("boom")

	_, err := tx.RunInTx(ctx, func(ctx context.Context, store accessrequests.Store, al audit.Appender) error {
		require.NoError(t, store.Put(ctx, pendingRequest("r1", "doc-1", t0)))
		_, _ = al.Append(ctx, audit.Event{ID: "e1", RequestID: "r1", At: t0})
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = repo.Get(ctx, "r1")
	require.ErrorIs(t, err, accessrequests.ErrNotFound)
	require.Zero(t, log.Len())
}

func TestTxRunner_AppendFailureRollsBack(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx := context.Background()
	repo := NewAccessRequestsRepo()
	log := mocks.NewMockAppender(ctrl)
	log.EXPECT().Append(gomock.Any(), gomock.Any()).Return(nil, errors.New("disk full"))
	tx := NewTxRunner(repo, log)

	_, err := tx.RunInTx(ctx, func(ctx context.Context, store accessrequests.Store, al audit.Appender) error {
		if err := store.Put(ctx, pendingRequest("r1", "doc-1", t0)); err != nil {
			return err
		}
		_, err := al.Append(ctx, audit.Event{ID: "e1", RequestID: "r1", At: t0})
		return err
	})
	require.ErrorIs(t, err, audit.ErrAppendFailed)

	_, err = repo.Get(ctx, "r1")
	require.ErrorIs(t, err, accessrequests.ErrNotFound)
}

func TestTxRunner_StaleBaseIsRejectedAtCommit(t *testing.T) {
	ctx := context.Background()
	repo := NewAccessRequestsRepo()
	tx := NewTxRunner(repo, NewAuditLog())
	r := pendingRequest("r1", "doc-1", t0)
	require.NoError(t, repo.Put(ctx, r))

	_, err := tx.RunInTx(ctx, func(ctx context.Context, store accessrequests.Store, al audit.Appender) error {
		// a concurrent writer lands first
		concurrent := r
		concurrent.Status = accessrequests.StatusDenied
		concurrent.Version = 2
		require.NoError(t, repo.Put(ctx, concurrent))

		approved := r
		approved.Status = accessrequests.StatusApproved
		approved.Version = 2
		return store.Put(ctx, approved)
	})
	require.ErrorIs(t, err, accessrequests.ErrStoreUnavailable)

	got, err := repo.Get(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, accessrequests.StatusDenied, got.Status)
}
