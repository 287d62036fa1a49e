package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func TestTTLExpiry(t *testing.T) {
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewTTL[[]string](5*time.Minute, clk.Now)

	_, ok := c.Get()
	require.False(t, ok)

	c.Set([]string{"milk"})
	v, ok := c.Get()
	require.True(t, ok)
	require.Equal(t, []string{"milk"}, v)

	clk.t = clk.t.Add(4 * time.Minute)
	_, ok = c.Get()
	require.True(t, ok)

	clk.t = clk.t.Add(time.Minute)
	_, ok = c.Get()
	require.False(t, ok)
}

func TestTTLInvalidate(t *testing.T) {
	c := NewTTL[[]string](time.Minute, nil)
	c.Set([]string{"a"})
	v, ok := c.Get()
	require.True(t, ok)
	require.Equal(t, []string{"a"}, v)

	c.Invalidate()
	_, ok = c.Get()
	require.False(t, ok)
}
