//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Compiles the shaders and runs the testbed with anima.toml.
func (Run) Engine() error {
	if err := buildShaders(); err != nil {
		return err
	}
	fmt.Println("Run engine...")
	return run("go", []string{"run", ".", "-config", "anima.toml"})
}

// Runs the testbed on the headless backend, no GPU or shaders needed.
func (Run) Headless() error {
	fmt.Println("Run engine headless...")
	return run("go", []string{"run", ".", "-config", "testbed/headless.toml"})
}
