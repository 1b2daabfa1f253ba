package engine

import (
	"github.com/spaghettifunk/anima-rhi/engine/systems"
)

type ApplicationConfig struct {
	// The application name used in windowing and as the Vulkan application name.
	Name string
	// Contexts is the number of command contexts recorded in parallel every frame.
	Contexts int
	// Shaders backs the shader system when no shader directory is configured.
	Shaders systems.StaticShaders
}
