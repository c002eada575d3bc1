package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledLimiterAllowsAll(t *testing.T) {
	l := New(0, 10, 0)
	require.Nil(t, l)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("k", time.Now()))
	}
	assert.Equal(t, 0, l.Len())
}

func TestBurstThenRefill(t *testing.T) {
	l := New(1, 2, time.Minute)
	now := time.Unix(1_700_000_000, 0)

	assert.True(t, l.Allow("alice", now))
	assert.True(t, l.Allow("alice", now))
	assert.False(t, l.Allow("alice", now))
	// other keys have their own bucket
	assert.True(t, l.Allow("bob", now))

	assert.True(t, l.Allow("alice", now.Add(time.Second)))
}

func TestEmptyKeyIsNotLimited(t *testing.T) {
	l := New(1, 1, time.Minute)
	now := time.Now()
	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("  ", now))
	}
}

func TestIdleKeysEvicted(t *testing.T) {
	l := New(1000, 1000, time.Minute)
	start := time.Unix(1_700_000_000, 0)
	l.Allow("stale", start)

	later := start.Add(time.Hour)
	for i := 0; i < 511; i++ {
		l.Allow(fmt.Sprintf("k%d", i%3), later)
	}
	assert.Equal(t, 3, l.Len())
}
