package resource

import (
	"errors"
	"fmt"
	"time"

	"github.com/spaghettifunk/ember/engine/containers"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
)

// Poll reports whether fence is signaled without blocking.
func Poll(fence gpu.Fence) (bool, error) {
	done, err := fence.Status()
	if err != nil {
		return false, fmt.Errorf("poll fence: %w", err)
	}
	return done, nil
}

// Wait blocks until fence signals or timeout expires. An expired wait is
// always reported as core.ErrDeviceLost.
func Wait(fence gpu.Fence, timeout time.Duration) error {
	err := fence.Wait(timeout)
	if err == nil {
		return nil
	}
	if errors.Is(err, core.ErrDeviceLost) {
		return fmt.Errorf("wait fence (%s): %w", timeout, err)
	}
	return fmt.Errorf("wait fence: %w", err)
}

type retired struct {
	frame   uint64
	release func()
}

// RetireQueue delays destruction of resources the GPU may still read until
// the frame that last used them has completed.
type RetireQueue struct {
	queue *containers.RingQueue[retired]
}

func NewRetireQueue() *RetireQueue {
	return &RetireQueue{queue: containers.NewRingQueue[retired](16, true)}
}

// Retire schedules release once frame is known complete. Frames must be
// retired in non-decreasing order.
func (q *RetireQueue) Retire(frame uint64, release func()) {
	_ = q.queue.Enqueue(retired{frame: frame, release: release})
}

// Collect releases everything retired at or before completed.
func (q *RetireQueue) Collect(completed uint64) int {
	n := 0
	for {
		head, err := q.queue.Peek()
		if err != nil || head.frame > completed {
			return n
		}
		_, _ = q.queue.Dequeue()
		head.release()
		n++
	}
}

// Flush releases everything regardless of frame, for device idle teardown.
func (q *RetireQueue) Flush() int {
	n := 0
	for !q.queue.IsEmpty() {
		item, _ := q.queue.Dequeue()
		item.release()
		n++
	}
	return n
}

func (q *RetireQueue) Len() int { return q.queue.Len() }
