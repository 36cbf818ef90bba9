package reconnect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextGrowsExponentiallyUntilCap(t *testing.T) {
	p := New(10*time.Millisecond, 80*time.Millisecond, 2, 0, 0)

	a := assert.New(t)

	d1, ok := p.Next()
	a.True(ok)
	a.Equal(10*time.Millisecond, d1)

	d2, ok := p.Next()
	a.True(ok)
	a.Equal(20*time.Millisecond, d2)

	d3, ok := p.Next()
	a.True(ok)
	a.Equal(40*time.Millisecond, d3)

	d4, ok := p.Next()
	a.True(ok)
	a.Equal(80*time.Millisecond, d4) // capped at max

	d5, ok := p.Next()
	a.True(ok)
	a.Equal(80*time.Millisecond, d5)
}

func TestNextExhaustsMaxRetries(t *testing.T) {
	p := New(time.Millisecond, time.Second, 2, 2, 0)

	_, ok := p.Next()
	assert.True(t, ok)
	_, ok = p.Next()
	assert.True(t, ok)
	_, ok = p.Next()
	assert.False(t, ok)
}

func TestNextPersistentIndependentBudget(t *testing.T) {
	p := New(time.Millisecond, time.Second, 2, 1, 2)

	_, ok := p.Next()
	assert.True(t, ok)
	_, ok = p.Next()
	assert.False(t, ok) // ordinary budget exhausted

	_, ok = p.NextPersistent()
	assert.True(t, ok)
	_, ok = p.NextPersistent()
	assert.True(t, ok)
	_, ok = p.NextPersistent()
	assert.False(t, ok) // persistent budget exhausted independently
}

func TestResetClearsBothCountersAndDelay(t *testing.T) {
	p := New(10*time.Millisecond, time.Second, 2, 1, 1)

	d1, ok := p.Next()
	assert.True(t, ok)
	assert.Equal(t, 10*time.Millisecond, d1)
	_, ok = p.Next()
	assert.False(t, ok)

	p.Reset()

	d2, ok := p.Next()
	assert.True(t, ok)
	assert.Equal(t, 10*time.Millisecond, d2) // back to the base delay
}

func TestUnlimitedRetriesWhenMaxIsZero(t *testing.T) {
	p := New(time.Millisecond, time.Millisecond, 2, 0, 0)
	for i := 0; i < 50; i++ {
		_, ok := p.Next()
		assert.True(t, ok)
	}
}
