package pipeline

import (
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/resource"
)

type cacheEntry struct {
	pipeline *Pipeline
	uses     uint64
	lastUsed uint64
}

// Cache is a content-addressed pipeline store. Entries idle for more than
// idleGenerations calls to Advance are evicted, and destroyed only once
// the frames that could still reference them have completed.
type Cache struct {
	dev             gpu.Device
	entries         map[uint64]*cacheEntry
	idleGenerations uint64
	framesInFlight  uint64
	generation      uint64
	retired         *resource.RetireQueue
}

func NewCache(dev gpu.Device, idleGenerations, framesInFlight int) *Cache {
	return &Cache{
		dev:             dev,
		entries:         map[uint64]*cacheEntry{},
		idleGenerations: uint64(idleGenerations),
		framesInFlight:  uint64(framesInFlight),
		retired:         resource.NewRetireQueue(),
	}
}

// Acquire returns the pipeline for desc, creating it on first use.
func (c *Cache) Acquire(desc Desc) (*Pipeline, error) {
	key := desc.Hash()
	e, ok := c.entries[key]
	if !ok {
		p, err := Create(c.dev, desc)
		if err != nil {
			return nil, err
		}
		e = &cacheEntry{pipeline: p}
		c.entries[key] = e
	}
	e.uses++
	e.lastUsed = c.generation
	return e.pipeline, nil
}

// Uses returns how many times desc was acquired, or 0 if not cached.
func (c *Cache) Uses(desc Desc) uint64 {
	if e, ok := c.entries[desc.Hash()]; ok {
		return e.uses
	}
	return 0
}

func (c *Cache) Len() int { return len(c.entries) }

// Generation is the number of Advance calls so far.
func (c *Cache) Generation() uint64 { return c.generation }

// Advance is called once per frame after submission.
func (c *Cache) Advance() {
	c.generation++
	for key, e := range c.entries {
		if c.generation-e.lastUsed > c.idleGenerations {
			core.LogDebug("pipeline cache: evicting %q idle since generation %d", e.pipeline.Name(), e.lastUsed)
			c.evict(key, e)
		}
	}
	c.retired.Collect(c.generation)
}

// InvalidateShader drops every entry built from path. The next Acquire
// rebuilds from the reloaded binary.
func (c *Cache) InvalidateShader(path string) int {
	n := 0
	for key, e := range c.entries {
		if e.pipeline.desc.UsesShader(path) {
			c.evict(key, e)
			n++
		}
	}
	if n > 0 {
		core.LogInfo("pipeline cache: %d pipelines invalidated by %s", n, path)
	}
	return n
}

func (c *Cache) evict(key uint64, e *cacheEntry) {
	delete(c.entries, key)
	p := e.pipeline
	c.retired.Retire(c.generation+c.framesInFlight, p.Destroy)
}

// Destroy releases everything. The device must be idle.
func (c *Cache) Destroy() {
	for key, e := range c.entries {
		c.evict(key, e)
	}
	c.retired.Flush()
}
