package accessrequests

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTransition(t *testing.T) {
	at := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	cases := []struct {
		from Status
		to   Status
		ok   bool
	}{
		{StatusPending, StatusApproved, true},
		{StatusPending, StatusDenied, true},
		{StatusApproved, StatusRevoked, true},
		{StatusPending, StatusRevoked, false},
		{StatusApproved, StatusDenied, false},
		{StatusDenied, StatusApproved, false},
		{StatusDenied, StatusRevoked, false},
		{StatusRevoked, StatusApproved, false},
		{StatusRevoked, StatusRevoked, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			r := AccessRequest{ID: "r1", Status: tc.from, Version: 2}
			next, err := r.transition(tc.to, at)
			if !tc.ok {
				require.ErrorIs(t, err, ErrInvalidState)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.to, next.Status)
			require.True(t, next.Processed)
			require.Equal(t, at, next.UpdatedAt)
			require.Equal(t, int64(3), next.Version)
		})
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	require.False(t, StatusPending.IsTerminal())
	require.False(t, StatusApproved.IsTerminal())
	require.True(t, StatusDenied.IsTerminal())
	require.True(t, StatusRevoked.IsTerminal())
}
