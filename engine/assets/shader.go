package assets

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/ember/engine/core"
	"github.com/spaghettifunk/ember/engine/renderer/metadata"
)

const (
	ShaderExtension     = ".spv"
	ReflectionExtension = ".reflect.toml"

	spirvMagic = 0x07230203
)

var stageExtensions = map[metadata.ShaderStage]string{
	metadata.ShaderStageVertex:   "vert",
	metadata.ShaderStageFragment: "frag",
	metadata.ShaderStageCompute:  "comp",
}

// ShaderFile is the binary name for a stage: "<name>.<vert|frag|comp>.spv".
func ShaderFile(name string, stage metadata.ShaderStage) (string, error) {
	ext, ok := stageExtensions[stage]
	if !ok {
		return "", core.NewConfigError("assets.ShaderFile", core.ErrInvalidFormat, "shader %s: stage %s", name, stage)
	}
	return name + "." + ext + ShaderExtension, nil
}

// ReflectionPath is the sidecar next to a SPIR-V binary.
func ReflectionPath(shaderPath string) string {
	return strings.TrimSuffix(shaderPath, ShaderExtension) + ReflectionExtension
}

// ShaderPath maps a changed binary or sidecar to the binary path the
// pipeline cache knows. Other files report false.
func ShaderPath(changed string) (string, bool) {
	switch {
	case strings.HasSuffix(changed, ReflectionExtension):
		return strings.TrimSuffix(changed, ReflectionExtension) + ShaderExtension, true
	case strings.HasSuffix(changed, ShaderExtension):
		return changed, true
	}
	return "", false
}

// LoadShader reads a compiled stage and its reflection sidecar from dir.
func LoadShader(dir, name string, stage metadata.ShaderStage) (metadata.Shader, error) {
	file, err := ShaderFile(name, stage)
	if err != nil {
		return metadata.Shader{}, err
	}
	return LoadShaderFile(filepath.Join(dir, file), stage)
}

func LoadShaderFile(path string, stage metadata.ShaderStage) (metadata.Shader, error) {
	// Read SPIR-V binary file
	code, err := os.ReadFile(path)
	if err != nil {
		return metadata.Shader{}, fmt.Errorf("failed to read shader %s: %w", path, err)
	}
	if len(code) < 4 || len(code)%4 != 0 || binary.LittleEndian.Uint32(code) != spirvMagic {
		return metadata.Shader{}, core.NewConfigError("assets.LoadShader", core.ErrInvalidFormat, "%s is not a SPIR-V binary", path)
	}

	reflectPath := ReflectionPath(path)
	data, err := os.ReadFile(reflectPath)
	if err != nil {
		return metadata.Shader{}, fmt.Errorf("failed to read shader reflection %s: %w", reflectPath, err)
	}
	reflection, err := ParseReflection(data)
	if err != nil {
		return metadata.Shader{}, fmt.Errorf("%s: %w", reflectPath, err)
	}

	if reflection.Stage == 0 {
		reflection.Stage = stage
	} else if reflection.Stage != stage {
		return metadata.Shader{}, core.NewConfigError("assets.LoadShader", core.ErrLayoutMismatch, "%s declares stage %s, loaded as %s", reflectPath, reflection.Stage, stage)
	}

	core.LogDebug("loaded shader %s (%d bytes, %d bindings)", path, len(code), len(reflection.Bindings))
	return metadata.Shader{Path: path, Code: code, Reflection: reflection}, nil
}

// ParseReflection decodes a sidecar. Unknown keys are rejected.
func ParseReflection(data []byte) (metadata.ShaderReflection, error) {
	var r metadata.ShaderReflection
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&r); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return r, &core.ConfigError{Op: "assets.reflection", Err: errors.New(strict.String())}
		}
		return r, &core.ConfigError{Op: "assets.reflection", Err: err}
	}
	if r.EntryPoint == "" {
		r.EntryPoint = "main"
	}
	return r, nil
}
