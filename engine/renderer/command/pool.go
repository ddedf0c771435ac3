// Package command records frames: it owns the command buffer pool, the
// per-frame synchronization and the geometry cache, and drives render
// targets subpass by subpass.
package command

import (
	"fmt"

	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/resource"
)

// State is the lifecycle of a pooled command buffer.
type State int

const (
	StateAvailable State = iota
	StateRecording
	StatePending
)

func (s State) String() string {
	switch s {
	case StateRecording:
		return "recording"
	case StatePending:
		return "pending"
	}
	return "available"
}

// Buffer is a command buffer paired with the fence of its last submission.
type Buffer struct {
	cmd   gpu.CommandBuffer
	fence gpu.Fence
	state State
}

func (b *Buffer) Commands() gpu.CommandBuffer { return b.cmd }
func (b *Buffer) Fence() gpu.Fence            { return b.fence }
func (b *Buffer) State() State                { return b.state }

type Stats struct {
	Available int
	Recording int
	Pending   int
	Total     int
}

// Pool hands out command buffers and takes them back once their fence has
// signaled. It grows by batch buffers whenever none is available.
type Pool struct {
	dev     gpu.Device
	batch   int
	buffers []*Buffer
}

func NewPool(dev gpu.Device, batch int) *Pool {
	if batch < 1 {
		batch = 1
	}
	return &Pool{dev: dev, batch: batch}
}

// Acquire returns a buffer that has begun recording.
func (p *Pool) Acquire() (*Buffer, error) {
	if _, err := p.Collect(); err != nil {
		return nil, err
	}
	var buf *Buffer
	for _, b := range p.buffers {
		if b.state == StateAvailable {
			buf = b
			break
		}
	}
	if buf == nil {
		first, err := p.grow()
		if err != nil {
			return nil, err
		}
		buf = first
	}
	if err := buf.cmd.Begin(false); err != nil {
		return nil, fmt.Errorf("begin command buffer: %w", err)
	}
	buf.state = StateRecording
	return buf, nil
}

func (p *Pool) grow() (*Buffer, error) {
	cmds, err := p.dev.CreateCommandBuffers(p.batch)
	if err != nil {
		return nil, fmt.Errorf("grow command pool: %w", err)
	}
	start := len(p.buffers)
	for i, cmd := range cmds {
		fence, err := p.dev.CreateFence(false)
		if err != nil {
			for _, c := range cmds[i:] {
				c.Destroy()
			}
			return nil, fmt.Errorf("grow command pool: %w", err)
		}
		p.buffers = append(p.buffers, &Buffer{cmd: cmd, fence: fence})
	}
	core.LogDebug("command pool grew to %d buffers", len(p.buffers))
	return p.buffers[start], nil
}

// Collect polls every pending buffer once and returns how many became
// available. It never blocks.
func (p *Pool) Collect() (int, error) {
	n := 0
	for _, b := range p.buffers {
		if b.state != StatePending {
			continue
		}
		done, err := resource.Poll(b.fence)
		if err != nil {
			return n, err
		}
		if done {
			b.state = StateAvailable
			n++
		}
	}
	return n, nil
}

// Submit ends b and submits it with its own fence. A failed submission
// returns the buffer to the pool.
func (p *Pool) Submit(q gpu.Queue, b *Buffer, info gpu.SubmitInfo) error {
	if b.state != StateRecording {
		return core.NewConfigError("Pool.Submit", core.ErrNotRecording, "buffer is %s", b.state)
	}
	if err := b.cmd.End(); err != nil {
		p.Release(b)
		return fmt.Errorf("end command buffer: %w", err)
	}
	if err := b.fence.Reset(); err != nil {
		p.Release(b)
		return fmt.Errorf("reset fence: %w", err)
	}
	info.Commands = []gpu.CommandBuffer{b.cmd}
	info.Fence = b.fence
	if err := p.dev.Submit(q, info); err != nil {
		p.Release(b)
		return fmt.Errorf("submit to %s queue: %w", q, err)
	}
	b.state = StatePending
	return nil
}

// Release drops whatever b recorded and makes it available again.
func (p *Pool) Release(b *Buffer) {
	if b.state == StatePending {
		return
	}
	if err := b.cmd.Reset(); err != nil {
		core.LogWarn("release command buffer: %s", err)
	}
	b.state = StateAvailable
}

func (p *Pool) Stats() Stats {
	s := Stats{Total: len(p.buffers)}
	for _, b := range p.buffers {
		switch b.state {
		case StateAvailable:
			s.Available++
		case StateRecording:
			s.Recording++
		case StatePending:
			s.Pending++
		}
	}
	return s
}

// Destroy frees every buffer. The device must be idle.
func (p *Pool) Destroy() {
	for _, b := range p.buffers {
		b.fence.Destroy()
		b.cmd.Destroy()
	}
	p.buffers = nil
}
