package recoveryhandler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGuardianLimiter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewGuardianLimiter(time.Minute, 1)
	limiter.now = func() time.Time { return now }

	assert.True(t, limiter.Allow("bob"))
	assert.False(t, limiter.Allow("bob"))
	assert.True(t, limiter.Allow("carol"))

	now = now.Add(time.Minute)
	assert.True(t, limiter.Allow("bob"), "token refilled")

	now = now.Add(time.Hour)
	limiter.Allow("carol")
	assert.NotContains(t, limiter.limiters, "bob", "idle guardians are forgotten")
}
