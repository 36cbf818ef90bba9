package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lftpgo/xfer/xfer"
)

// countingTask reports Moved exactly stopAfter times, then Stalled
// forever; it records every call for assertions.
type countingTask struct {
	mu        sync.Mutex
	calls     int
	stopAfter int
}

func (c *countingTask) Step(ctx context.Context) (xfer.StepResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls <= c.stopAfter {
		return xfer.Moved, nil
	}
	return xfer.Stalled, nil
}

func (c *countingTask) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestSchedulerStepsEachMovedTaskRepeatedly(t *testing.T) {
	s := New()
	task := &countingTask{stopAfter: 3}
	s.Register(task)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)

	// stopAfter Moved replies plus one final Stalled step to discover it.
	assert.GreaterOrEqual(t, task.callCount(), 4)
}

func TestSchedulerStepsNewTaskAtLeastOnce(t *testing.T) {
	s := New()
	task := &countingTask{stopAfter: 0}
	s.Register(task)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)

	assert.GreaterOrEqual(t, task.callCount(), 1)
}

// notifyTask only reports Moved once Notify has been observed via an
// internal flag flipped by the test, exercising Handle.Notify's
// cross-goroutine wake-up path.
type notifyTask struct {
	armed int32
	calls int32
}

func (n *notifyTask) Step(ctx context.Context) (xfer.StepResult, error) {
	atomic.AddInt32(&n.calls, 1)
	if atomic.LoadInt32(&n.armed) == 1 {
		atomic.StoreInt32(&n.armed, 0)
		return xfer.Moved, nil
	}
	return xfer.Stalled, nil
}

func TestHandleNotifyWakesBlockedScheduler(t *testing.T) {
	s := New()
	task := &notifyTask{}
	handle := s.Register(task)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond) // let the scheduler settle into block()
	atomic.StoreInt32(&task.armed, 1)
	handle.Notify()

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	assert.GreaterOrEqual(t, atomic.LoadInt32(&task.calls), int32(2))
}

func TestHandleArmTimerFiresAfterDeadline(t *testing.T) {
	s := New()
	task := &countingTask{stopAfter: 0}
	handle := s.Register(task)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	go func() {
		time.Sleep(10 * time.Millisecond)
		handle.ArmTimer(time.Now().Add(30 * time.Millisecond))
	}()

	_ = s.Run(ctx)
	// one initial step (Register) + one step triggered by the timer.
	assert.GreaterOrEqual(t, task.callCount(), 2)
}

func TestHandleRemoveStopsFurtherSteps(t *testing.T) {
	s := New()
	task := &countingTask{stopAfter: 0}
	handle := s.Register(task)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	_ = s.Run(ctx)
	cancel()

	before := task.callCount()
	handle.Remove()

	ctx2, cancel2 := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel2()
	_ = s.Run(ctx2)

	assert.Equal(t, before, task.callCount())
}

func TestRunReturnsContextError(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, context.Canceled, err)
}

func TestIsAgainRecognizesAgainSentinel(t *testing.T) {
	assert.True(t, isAgain(xfer.Again))
	assert.False(t, isAgain(xfer.NotOpen))
	assert.False(t, isAgain(nil))
}
