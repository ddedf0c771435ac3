package metadata

// ShaderReflection is the read-only interface description of one compiled
// shader stage. It is produced outside the engine and decoded from a TOML
// sidecar next to the shader binary.
type ShaderReflection struct {
	Stage         ShaderStage         `toml:"stage"`
	EntryPoint    string              `toml:"entry_point"`
	Bindings      []ResourceBinding   `toml:"bindings"`
	PushConstants []PushConstantRange `toml:"push_constants"`
	Inputs        []VertexAttribute   `toml:"inputs"`
}

type ResourceBinding struct {
	Name    string         `toml:"name"`
	Set     uint32         `toml:"set"`
	Binding uint32         `toml:"binding"`
	Kind    DescriptorKind `toml:"kind"`
	Size    uint64         `toml:"size"`
	Count   uint32         `toml:"count"`
	/** @brief Filled when layouts are merged across stages. */
	Stages ShaderStage `toml:"-"`
}

type PushConstantRange struct {
	Name   string      `toml:"name"`
	Offset uint32      `toml:"offset"`
	Size   uint32      `toml:"size"`
	Stages ShaderStage `toml:"-"`
}

type VertexAttribute struct {
	Name     string `toml:"name"`
	Location uint32 `toml:"location"`
	Format   Format `toml:"format"`
	Offset   uint32 `toml:"offset"`
}
