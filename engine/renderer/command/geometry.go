package command

import (
	"fmt"

	"github.com/spaghettifunk/ember/engine/containers"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/math"
	"github.com/spaghettifunk/ember/engine/renderer/gpu"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
	"github.com/spaghettifunk/ember/engine/renderer/resource"
)

// GeometryBuffers are the device-local copies of one geometry.
type GeometryBuffers struct {
	// ID is held from upload until the buffers are destroyed.
	ID         uint32
	Vertices   *resource.Buffer
	Indices    *resource.Buffer
	IndexCount uint32

	lastUsed uint64
}

// GeometryCache uploads geometry on first use and keeps the most recently
// drawn entries resident. Evicted entries are destroyed only after the
// frames that may still read them have completed.
type GeometryCache struct {
	dev      gpu.Device
	arena    *resource.Arena
	uploader *resource.Uploader
	retire   func(func())
	ids      *core.IDPool
	entries  *containers.LRU[metadata.GeometryKey, *GeometryBuffers]

	uploads int
}

// NewGeometryCache keeps up to capacity geometries. Resident entries are
// numbered from ids. retire schedules the release of an evicted entry
// behind the current frame.
func NewGeometryCache(dev gpu.Device, arena *resource.Arena, uploader *resource.Uploader, ids *core.IDPool, capacity int, retire func(func())) *GeometryCache {
	c := &GeometryCache{dev: dev, arena: arena, uploader: uploader, retire: retire, ids: ids}
	c.entries = containers.NewLRU[metadata.GeometryKey, *GeometryBuffers](capacity, func(key metadata.GeometryKey, e *GeometryBuffers) {
		core.LogDebug("geometry cache: evicting #%d (%016x) last used in frame %d", e.ID, uint64(key), e.lastUsed)
		c.retire(func() { c.destroy(e) })
	})
	return c
}

func (c *GeometryCache) destroy(e *GeometryBuffers) {
	e.Vertices.Destroy()
	e.Indices.Destroy()
	c.ids.Release(e.ID)
}

// Get returns the buffers for g, uploading them when g is not resident.
func (c *GeometryCache) Get(g *metadata.Geometry, frame uint64) (*GeometryBuffers, error) {
	key := g.Key()
	if e, ok := c.entries.Get(key); ok {
		e.lastUsed = frame
		return e, nil
	}
	if len(g.Vertices) == 0 || len(g.Indices) == 0 {
		return nil, core.NewConfigError("GeometryCache.Get", core.ErrInvalidHandle, "geometry %q is empty", g.Name)
	}

	vertexData := math.VertexBytes(g.Vertices)
	indexData := math.IndexBytes(g.Indices)

	vb, err := resource.NewBuffer(c.dev, c.arena, g.Name+".vertices", uint64(len(vertexData)),
		metadata.BufferUsageVertex|metadata.BufferUsageTransferDst)
	if err != nil {
		return nil, fmt.Errorf("geometry %q: %w", g.Name, err)
	}
	ib, err := resource.NewBuffer(c.dev, c.arena, g.Name+".indices", uint64(len(indexData)),
		metadata.BufferUsageIndex|metadata.BufferUsageTransferDst)
	if err != nil {
		vb.Destroy()
		return nil, fmt.Errorf("geometry %q: %w", g.Name, err)
	}
	if err := c.uploader.UploadAll([]resource.Copy{
		{Dst: vb, Data: vertexData},
		{Dst: ib, Data: indexData},
	}); err != nil {
		vb.Destroy()
		ib.Destroy()
		return nil, fmt.Errorf("geometry %q: %w", g.Name, err)
	}

	e := &GeometryBuffers{Vertices: vb, Indices: ib, IndexCount: g.IndexCount(), lastUsed: frame}
	e.ID = c.ids.Acquire(g)
	core.LogDebug("geometry cache: uploaded %q as #%d", g.Name, e.ID)
	c.entries.Put(key, e)
	c.uploads++
	return e, nil
}

// Resident returns the buffers of g without uploading or touching recency.
func (c *GeometryCache) Resident(g *metadata.Geometry) (*GeometryBuffers, bool) {
	return c.entries.Peek(g.Key())
}

func (c *GeometryCache) Len() int { return c.entries.Len() }

// Uploads counts cache misses since creation.
func (c *GeometryCache) Uploads() int { return c.uploads }

// Destroy releases every entry immediately. The device must be idle.
func (c *GeometryCache) Destroy() {
	for {
		key, e, ok := c.entries.Oldest()
		if !ok {
			return
		}
		c.entries.Remove(key)
		c.destroy(e)
	}
}
