package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFakeFiresInDeadlineOrder(t *testing.T) {
	start := time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)
	c := NewFake(start)

	var fired []string
	c.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	c.AfterFunc(time.Second, func() { fired = append(fired, "a") })

	c.Advance(1500 * time.Millisecond)
	require.Equal(t, []string{"a"}, fired)

	c.Advance(time.Second)
	require.Equal(t, []string{"a", "b"}, fired)
	require.Equal(t, start.Add(2500*time.Millisecond), c.Now())
}

func TestFakeStopPreventsCallback(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	called := false
	timer := c.AfterFunc(time.Second, func() { called = true })

	require.True(t, timer.Stop())
	require.False(t, timer.Stop())

	c.Advance(time.Minute)
	require.False(t, called)
	require.Zero(t, c.Pending())
}

func TestFakeRunsTimersScheduledDuringAdvance(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	var at []time.Duration
	c.AfterFunc(time.Second, func() {
		at = append(at, time.Duration(c.Now().UnixNano()))
		c.AfterFunc(time.Second, func() {
			at = append(at, time.Duration(c.Now().UnixNano()))
		})
	})

	c.Advance(3 * time.Second)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, at)
}
