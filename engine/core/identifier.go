package core

import "sync"

// IDPool hands out small integer identifiers, reusing released ones first.
// Each owner keeps its own pool; there is no process-wide table.
type IDPool struct {
	mu   sync.Mutex
	next uint32
	free []uint32
	live map[uint32]interface{}
}

func NewIDPool() *IDPool {
	return &IDPool{live: make(map[uint32]interface{})}
}

func (p *IDPool) Acquire(owner interface{}) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var id uint32
	if n := len(p.free); n > 0 {
		id = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		id = p.next
		p.next++
	}
	p.live[id] = owner
	return id
}

func (p *IDPool) Owner(id uint32) (interface{}, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.live[id]
	return o, ok
}

func (p *IDPool) Release(id uint32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.live[id]; !ok {
		return false
	}
	delete(p.live, id)
	p.free = append(p.free, id)
	return true
}

func (p *IDPool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}
