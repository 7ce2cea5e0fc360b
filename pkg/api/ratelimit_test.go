package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterMap(t *testing.T) {
	rl := newRateLimiterMap(60)
	now := time.Now()

	a := rl.get("10.0.0.1", now)
	assert.Same(t, a, rl.get("10.0.0.1", now.Add(time.Second)))
	assert.NotSame(t, a, rl.get("10.0.0.2", now))
	assert.Equal(t, 2, rl.size())

	rl.evict(now.Add(rateLimitEntryTTL), rateLimitEntryTTL)
	assert.Equal(t, 1, rl.size(), "10.0.0.2 was idle past the ttl")

	rl.evict(now.Add(2*rateLimitEntryTTL), rateLimitEntryTTL)
	assert.Zero(t, rl.size())
}
