package renderer

import (
	"fmt"
	"strings"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/platform"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/headless"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/vulkan"
)

type RendererType uint8

const (
	Headless RendererType = iota
	D3D11
	D3D12
	Vulkan
	OpenGL
)

func (t RendererType) String() string {
	switch t {
	case D3D11:
		return "d3d11"
	case D3D12:
		return "d3d12"
	case Vulkan:
		return "vulkan"
	case OpenGL:
		return "opengl"
	default:
		return "headless"
	}
}

func ParseRendererType(s string) (RendererType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "headless":
		return Headless, nil
	case "d3d11":
		return D3D11, nil
	case "d3d12":
		return D3D12, nil
	case "vulkan":
		return Vulkan, nil
	case "opengl", "gl":
		return OpenGL, nil
	}
	return Headless, fmt.Errorf("unknown renderer backend %q", s)
}

// NewBackend creates the native backend of type t. Only the headless and Vulkan
// backends are built; the others report core.ErrBackendUnavailable.
func NewBackend(t RendererType, appName string, config core.DeviceConfig, loader *platform.Loader) (metadata.Backend, error) {
	switch t {
	case Headless:
		return headless.New(), nil
	case Vulkan:
		return vulkan.New(loader, vulkan.Options{
			ApplicationName: appName,
			Validation:      config.Validation,
			FramesInFlight:  config.InFlightFrames,
		})
	}
	return nil, fmt.Errorf("%s: %w", t, core.ErrBackendUnavailable)
}

// New creates the backend named by config and a device on top of it.
func New(appName string, config core.DeviceConfig, loader *platform.Loader) (*Device, error) {
	t, err := ParseRendererType(config.Backend)
	if err != nil {
		return nil, err
	}
	backend, err := NewBackend(t, appName, config, loader)
	if err != nil {
		return nil, err
	}
	device, err := NewDevice(backend, config)
	if err != nil {
		if serr := backend.Shutdown(); serr != nil {
			core.LogError("backend shutdown failed: %s", serr.Error())
		}
		return nil, err
	}
	return device, nil
}
