package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowEnforcesBurstPerKey(t *testing.T) {
	kl := NewKeyedLimiters(0.001, 2)
	defer kl.Stop()

	assert.True(t, kl.Allow("10.0.0.1"))
	assert.True(t, kl.Allow("10.0.0.1"))
	assert.False(t, kl.Allow("10.0.0.1"))

	// Other keys have their own bucket
	assert.True(t, kl.Allow("10.0.0.2"))
}

func TestGetReturnsSameLimiter(t *testing.T) {
	kl := NewKeyedLimiters(1, 1)
	defer kl.Stop()

	assert.Same(t, kl.Get("a"), kl.Get("a"))
	assert.NotSame(t, kl.Get("a"), kl.Get("b"))
}

func TestEvictIdle(t *testing.T) {
	kl := NewKeyedLimiters(1, 1)
	defer kl.Stop()

	kl.Get("old")
	kl.evictIdle(time.Now().Add(time.Minute))
	assert.Zero(t, kl.Len())

	kl.Get("fresh")
	kl.evictIdle(time.Now().Add(-time.Minute))
	assert.Equal(t, 1, kl.Len())

	kl.Remove("fresh")
	assert.Zero(t, kl.Len())
}

func TestStopIsIdempotent(t *testing.T) {
	kl := NewKeyedLimiters(1, 1)
	kl.Stop()
	kl.Stop()
}
