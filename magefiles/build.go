//go:build mage

package main

import (
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

const (
	shaderSrcDir = "testbed/shaders"
	shaderOutDir = "assets/shaders"
)

// Compiles the testbed GLSL sources to SPIR-V in assets/shaders.
func (Build) Shaders() error {
	return buildShaders()
}

// Builds the testbed binary.
func (Build) Engine() error {
	mg.Deps(Build.Shaders)
	return run("go", []string{"build", "-o", "bin/anima", "."})
}

// buildShaders writes name.stage.spv for every name.stage source, so the asset
// library can tell the stage from the file name.
func buildShaders() error {
	if err := requireTool("glslc", "install the Vulkan SDK or shaderc"); err != nil {
		return err
	}
	if err := os.MkdirAll(shaderOutDir, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(shaderSrcDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		switch filepath.Ext(entry.Name()) {
		case ".vert", ".frag", ".comp":
		default:
			continue
		}
		src := filepath.Join(shaderSrcDir, entry.Name())
		dst := filepath.Join(shaderOutDir, entry.Name()+".spv")
		outdated, err := stale(src, dst)
		if err != nil {
			return err
		}
		if !outdated {
			continue
		}
		if err := run("glslc", []string{src, "-o", dst}, quietly()); err != nil {
			return err
		}
	}
	return nil
}
