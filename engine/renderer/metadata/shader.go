package metadata

import "hash/fnv"

/** @brief A compiled shader stage and its reflected interface. */
type Shader struct {
	/** @brief Path of the SPIR-V binary, also the hot reload key. */
	Path       string
	Code       []byte
	Reflection ShaderReflection
}

// CodeHash is an FNV-1a hash of the binary.
func (s *Shader) CodeHash() uint64 {
	h := fnv.New64a()
	h.Write(s.Code)
	return h.Sum64()
}
