package metadata

import (
	"encoding/binary"
	"hash/fnv"

	"golang.org/x/exp/slices"
)

// MaterialHash identifies a shading technique plus its bound resources.
type MaterialHash uint64

/**
 * @brief A material names the shader stages of its technique and the
 * textures bound to each slot.
 */
type Material struct {
	Name string
	/** @brief Paths of the compiled shader stages. */
	Shaders []string
	/** @brief Slot name to texture path. */
	Textures map[string]string
}

// Hash is stable across runs: shader paths and texture bindings are sorted
// before hashing. The name does not participate.
func (m *Material) Hash() MaterialHash {
	h := fnv.New64a()
	shaders := slices.Clone(m.Shaders)
	slices.Sort(shaders)
	writeList(h, shaders)

	slots := make([]string, 0, len(m.Textures))
	for slot := range m.Textures {
		slots = append(slots, slot)
	}
	slices.Sort(slots)
	bindings := make([]string, 0, len(slots)*2)
	for _, slot := range slots {
		bindings = append(bindings, slot, m.Textures[slot])
	}
	writeList(h, bindings)
	return MaterialHash(h.Sum64())
}

// writeList length-prefixes each entry so {"ab","c"} and {"a","bc"} differ.
func writeList(h interface{ Write([]byte) (int, error) }, items []string) {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(items)))
	h.Write(n[:])
	for _, item := range items {
		binary.LittleEndian.PutUint32(n[:], uint32(len(item)))
		h.Write(n[:])
		h.Write([]byte(item))
	}
}
