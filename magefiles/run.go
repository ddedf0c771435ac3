//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Builds the shaders and runs the testbed with testbed/config.toml.
func (Run) Engine() error {
	if err := buildShaders(); err != nil {
		return err
	}
	fmt.Println("Run engine...")
	if _, err := executeCmd("go", withArgs("run", ".", "--config", "testbed/config.toml"), withStream()); err != nil {
		return err
	}
	return nil
}

// Renders one frame with the software backend and saves it as screenshot.bmp.
func (Run) Screenshot() error {
	if err := buildShaders(); err != nil {
		return err
	}
	_, err := executeCmd("go", withArgs("run", ".", "--config", "testbed/config.toml", "--backend", "software", "--screenshot", "screenshot.bmp"), withStream())
	return err
}
