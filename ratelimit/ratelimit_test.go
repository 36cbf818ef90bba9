package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytesAllowedUnlimitedWhenRateIsZero(t *testing.T) {
	global := NewGlobal(0, 0, 0, 0)
	l := NewLimiter(global, 0, 0, 0, 0)
	defer l.Close()

	assert.Equal(t, int64(unlimited), l.BytesAllowed(Get))
	assert.Equal(t, int64(unlimited), l.BytesAllowed(Put))
}

func TestBytesAllowedCapsAtPoolMax(t *testing.T) {
	global := NewGlobal(0, 0, 0, 0) // global GET bucket unlimited
	l := NewLimiter(global, 1000, 5000, 0, 0)
	defer l.Close()

	allowed := l.BytesAllowed(Get)
	assert.LessOrEqual(t, allowed, int64(5000))
	assert.Greater(t, allowed, int64(4000)) // freshly constructed, pool starts near poolMax
}

func TestBytesUsedDebitsLocalBucket(t *testing.T) {
	global := NewGlobal(0, 0, 0, 0)
	l := NewLimiter(global, 1000, 5000, 0, 0)
	defer l.Close()

	before := l.BytesAllowed(Get)
	l.BytesUsed(Get, 2000)
	after := l.BytesAllowed(Get)
	assert.Less(t, after, before)
}

func TestBytesAllowedSharesGlobalPoolAcrossActiveLimiters(t *testing.T) {
	global := NewGlobal(1000, 1000, 0, 0)
	l1 := NewLimiter(global, 0, 0, 0, 0) // unlimited locally, bound only by global share
	defer l1.Close()
	l2 := NewLimiter(global, 0, 0, 0, 0)
	defer l2.Close()

	allowed := l1.BytesAllowed(Get)
	require.Greater(t, allowed, int64(0))
	assert.LessOrEqual(t, allowed, int64(500)) // global pool (1000) split across 2 active limiters
}

func TestLimiterCloseIsIdempotentAndDecrementsActiveCount(t *testing.T) {
	global := NewGlobal(1000, 1000, 0, 0)
	l := NewLimiter(global, 0, 0, 0, 0)
	l.Close()
	l.Close() // second call must not double-decrement
	assert.Equal(t, int64(1), global.activeCount())
}

func TestDirectionString(t *testing.T) {
	assert.Equal(t, "get", Get.String())
	assert.Equal(t, "put", Put.String())
}
