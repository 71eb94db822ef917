package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFake_AdvanceAndSet(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f := NewFake(start)

	require.Equal(t, start, f.Now())
	require.Equal(t, start.Add(90*time.Second), f.Advance(90*time.Second))
	require.Equal(t, start.Add(90*time.Second), f.Now())

	f.Set(start.Add(-time.Hour))
	require.Equal(t, start.Add(-time.Hour), f.Now())
}

func TestReal_Moves(t *testing.T) {
	c := Real()
	a := c.Now()
	b := c.Now()
	require.False(t, b.Before(a))
}
