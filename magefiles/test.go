//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Test mg.Namespace

// Runs the unit tests with the race detector.
func (Test) Unit() error {
	return run("go", []string{"test", "-race", "./..."}, withEnv("CGO_ENABLED=1"))
}

// Runs go vet over the module.
func (Test) Vet() error {
	return run("go", []string{"vet", "./..."}, quietly())
}
