package postgres

import (
	"context"
	"errors"
	"testing"

	"patient-access/internal/domain/accessrequests"
	"patient-access/internal/domain/audit"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestTranslate(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"pending index", &pgconn.PgError{Code: "23505", ConstraintName: pendingIndex}, accessrequests.ErrDuplicatePending},
		{"connection lost", &pgconn.PgError{Code: "08006"}, accessrequests.ErrStoreUnavailable},
		{"serialization", &pgconn.PgError{Code: "40001"}, accessrequests.ErrStoreUnavailable},
		{"deadline", context.DeadlineExceeded, accessrequests.ErrStoreUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, translate("op", tc.err), tc.want)
		})
	}

	other := translate("op", &pgconn.PgError{Code: "23505", ConstraintName: "audit_events_id_key"})
	require.NotErrorIs(t, other, accessrequests.ErrDuplicatePending)
	require.NotErrorIs(t, other, accessrequests.ErrStoreUnavailable)
}

func TestAppendFailed_KeepsTransientFaultsRetryable(t *testing.T) {
	for _, cause := range []error{
		context.DeadlineExceeded,
		&pgconn.PgError{Code: "57P01"},
	} {
		err := appendFailed(cause)
		require.ErrorIs(t, err, audit.ErrAppendFailed)
		require.ErrorIs(t, err, accessrequests.ErrStoreUnavailable)
		require.True(t, accessrequests.IsRetryable(err))
	}

	err := appendFailed(errors.New("value too long for type"))
	require.ErrorIs(t, err, audit.ErrAppendFailed)
	require.False(t, accessrequests.IsRetryable(err))
}
