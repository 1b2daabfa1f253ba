package systems

import (
	"fmt"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// ShaderSource resolves shader names to bytecode. Drain reports the names whose
// bytecode changed since the previous call.
type ShaderSource interface {
	Shader(name string) (*metadata.Shader, error)
	Drain() []string
}

// StaticShaders is a ShaderSource over in-memory blobs. It never changes.
type StaticShaders map[string]metadata.Shader

func (s StaticShaders) Shader(name string) (*metadata.Shader, error) {
	shader, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("shader %q is not registered", name)
	}
	return &shader, nil
}

func (s StaticShaders) Drain() []string {
	return nil
}

type ShaderSystemConfig struct {
	// MaxPipelineCount caps the number of named pipelines.
	MaxPipelineCount uint16
}

// PipelineConfig names a pipeline and the shaders it is built from. Desc.Shaders
// is filled from the source on every build.
type PipelineConfig struct {
	Name    string
	Shaders []string
	Desc    metadata.PipelineDesc
}

type pipelineEntry struct {
	config *PipelineConfig
	handle metadata.Handle
	// generation counts rebuilds.
	generation uint32
}

// ShaderSystem owns the pipelines built from a ShaderSource and rebuilds them
// when one of their shaders changes. Replaced pipelines go through the device's
// deferred release, so frames in flight keep using the old one.
type ShaderSystem struct {
	config *ShaderSystemConfig
	source ShaderSource
	device *renderer.Device

	mu     sync.RWMutex
	lookup map[string]*pipelineEntry
}

func NewShaderSystem(config *ShaderSystemConfig, source ShaderSource, device *renderer.Device) (*ShaderSystem, error) {
	if config.MaxPipelineCount == 0 {
		err := fmt.Errorf("NewShaderSystem - config.MaxPipelineCount must be greater than 0")
		core.LogError(err.Error())
		return nil, err
	}
	return &ShaderSystem{
		config: config,
		source: source,
		device: device,
		lookup: make(map[string]*pipelineEntry),
	}, nil
}

func (ss *ShaderSystem) build(config *PipelineConfig) (metadata.Handle, error) {
	desc := config.Desc
	desc.Name = config.Name
	desc.Shaders = make([]metadata.Shader, 0, len(config.Shaders))
	for _, name := range config.Shaders {
		shader, err := ss.source.Shader(name)
		if err != nil {
			return metadata.InvalidHandle, fmt.Errorf("pipeline %q: %w", config.Name, err)
		}
		desc.Shaders = append(desc.Shaders, *shader)
	}
	switch desc.Type {
	case metadata.PipelineCompute:
		return ss.device.CreateComputePipeline(&desc)
	case metadata.PipelineRaytracing:
		return ss.device.CreateRaytracingPipeline(&desc)
	default:
		return ss.device.CreateRenderPipeline(&desc)
	}
}

// Acquire builds the named pipeline, or returns the existing one.
func (ss *ShaderSystem) Acquire(config *PipelineConfig) (metadata.Handle, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if entry, ok := ss.lookup[config.Name]; ok {
		return entry.handle, nil
	}
	if len(ss.lookup) >= int(ss.config.MaxPipelineCount) {
		return metadata.InvalidHandle, fmt.Errorf("pipeline %q: all %d pipeline slots in use", config.Name, ss.config.MaxPipelineCount)
	}
	handle, err := ss.build(config)
	if err != nil {
		core.LogError(err.Error())
		return metadata.InvalidHandle, err
	}
	ss.lookup[config.Name] = &pipelineEntry{config: config, handle: handle}
	return handle, nil
}

// Get returns the current handle of a pipeline. The handle changes when the
// pipeline is rebuilt, so callers look it up every frame.
func (ss *ShaderSystem) Get(name string) (metadata.Handle, bool) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	entry, ok := ss.lookup[name]
	if !ok {
		return metadata.InvalidHandle, false
	}
	return entry.handle, true
}

func (ss *ShaderSystem) Generation(name string) uint32 {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	if entry, ok := ss.lookup[name]; ok {
		return entry.generation
	}
	return 0
}

// Update rebuilds every pipeline that uses a changed shader. A failed rebuild
// keeps the previous pipeline and is reported; the others still go through.
func (ss *ShaderSystem) Update() ([]string, error) {
	changed := ss.source.Drain()
	if len(changed) == 0 {
		return nil, nil
	}

	ss.mu.Lock()
	defer ss.mu.Unlock()

	var (
		rebuilt []string
		errs    []error
	)
	for name, entry := range ss.lookup {
		if !slices.ContainsFunc(entry.config.Shaders, func(s string) bool { return slices.Contains(changed, s) }) {
			continue
		}
		handle, err := ss.build(entry.config)
		if err != nil {
			core.LogWarn("shader reload: keeping previous %q: %s", name, err.Error())
			errs = append(errs, err)
			continue
		}
		if err := ss.device.Destroy(entry.handle); err != nil {
			core.LogWarn("shader reload: release %q: %s", name, err.Error())
		}
		entry.handle = handle
		entry.generation++
		rebuilt = append(rebuilt, name)
	}
	slices.Sort(rebuilt)
	if len(rebuilt) > 0 {
		core.LogInfo("shader reload: rebuilt %v", rebuilt)
	}
	if len(errs) > 0 {
		return rebuilt, fmt.Errorf("shader reload: %d pipelines failed to rebuild: %w", len(errs), errs[0])
	}
	return rebuilt, nil
}

func (ss *ShaderSystem) Release(name string) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	entry, ok := ss.lookup[name]
	if !ok {
		return fmt.Errorf("pipeline %q not found", name)
	}
	delete(ss.lookup, name)
	return ss.device.Destroy(entry.handle)
}

func (ss *ShaderSystem) Shutdown() error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	for name, entry := range ss.lookup {
		if err := ss.device.Destroy(entry.handle); err != nil {
			core.LogError(err.Error())
			return err
		}
		delete(ss.lookup, name)
	}
	return nil
}
