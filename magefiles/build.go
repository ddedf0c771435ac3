//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/target"
)

const shaderDir = "testbed/assets/shaders"

type Build mg.Namespace

// Compiles every GLSL stage under testbed/assets/shaders to SPIR-V.
func (Build) Shaders() error {
	return buildShaders()
}

// Builds the testbed binary into bin/.
func (Build) Engine() error {
	mg.Deps(Build.Shaders)
	if err := os.MkdirAll("bin", 0o755); err != nil {
		return err
	}
	_, err := executeCmd("go", withArgs("build", "-o", filepath.Join("bin", "ember"), "."), withStream())
	return err
}

func buildShaders() error {
	var sources []string
	for _, ext := range []string{"*.vert", "*.frag", "*.comp"} {
		matches, err := filepath.Glob(filepath.Join(shaderDir, ext))
		if err != nil {
			return err
		}
		sources = append(sources, matches...)
	}
	if len(sources) == 0 {
		return fmt.Errorf("no shaders found in %s", shaderDir)
	}
	for _, src := range sources {
		out := src + ".spv"
		// skip stages whose binary is newer than the source
		stale, err := target.Path(out, src)
		if err != nil {
			return err
		}
		if !stale {
			continue
		}
		if _, err := executeCmd("glslc", withArgs(src, "-o", out), withStream()); err != nil {
			return err
		}
	}
	return nil
}
