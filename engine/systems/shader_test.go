package systems

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/headless"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// reloadingSource is a StaticShaders whose changes are queued by the test.
type reloadingSource struct {
	mu      sync.Mutex
	shaders StaticShaders
	changed []string
}

func (s *reloadingSource) Shader(name string) (*metadata.Shader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shaders.Shader(name)
}

func (s *reloadingSource) Drain() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.changed
	s.changed = nil
	return changed
}

func (s *reloadingSource) write(name string, shader metadata.Shader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shaders[name] = shader
	s.changed = append(s.changed, name)
}

func (s *reloadingSource) remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.shaders, name)
	s.changed = append(s.changed, name)
}

func newShaderSystem(t *testing.T) (*ShaderSystem, *reloadingSource, *renderer.Device) {
	t.Helper()
	device, err := renderer.NewDevice(headless.New(), core.DefaultDeviceConfig())
	require.NoError(t, err)
	t.Cleanup(func() { device.Shutdown() })

	source := &reloadingSource{shaders: StaticShaders{
		"tri.vert.spv": {Stage: metadata.StageVertex, Bytecode: []byte{1}},
		"tri.frag.spv": {Stage: metadata.StagePixel, Bytecode: []byte{2}},
		"blur.comp":    {Stage: metadata.StageCompute, Bytecode: []byte{3}},
	}}
	ss, err := NewShaderSystem(&ShaderSystemConfig{MaxPipelineCount: 2}, source, device)
	require.NoError(t, err)
	return ss, source, device
}

func trianglePipeline() *PipelineConfig {
	return &PipelineConfig{
		Name:    "triangle",
		Shaders: []string{"tri.vert.spv", "tri.frag.spv"},
		Desc: metadata.PipelineDesc{
			Type:     metadata.PipelineGraphics,
			Topology: metadata.TopologyTriangleList,
			Implicit: metadata.ImplicitLayout{ConstantBuffers: 1},
		},
	}
}

func blurPipeline() *PipelineConfig {
	return &PipelineConfig{
		Name:    "blur",
		Shaders: []string{"blur.comp"},
		Desc: metadata.PipelineDesc{
			Type:     metadata.PipelineCompute,
			Implicit: metadata.ImplicitLayout{UnorderedAccess: 1},
		},
	}
}

func TestShaderSystemAcquire(t *testing.T) {
	ss, _, device := newShaderSystem(t)

	h, err := ss.Acquire(trianglePipeline())
	require.NoError(t, err)
	again, err := ss.Acquire(trianglePipeline())
	require.NoError(t, err)
	assert.Equal(t, h, again)

	name, err := device.Name(h)
	require.NoError(t, err)
	assert.Equal(t, "triangle", name)

	got, ok := ss.Get("triangle")
	assert.True(t, ok)
	assert.Equal(t, h, got)
	_, ok = ss.Get("missing")
	assert.False(t, ok)
}

func TestShaderSystemLimits(t *testing.T) {
	ss, _, _ := newShaderSystem(t)

	_, err := ss.Acquire(trianglePipeline())
	require.NoError(t, err)
	_, err = ss.Acquire(blurPipeline())
	require.NoError(t, err)
	_, err = ss.Acquire(&PipelineConfig{Name: "third", Shaders: []string{"blur.comp"}, Desc: metadata.PipelineDesc{Type: metadata.PipelineCompute}})
	assert.ErrorContains(t, err, "slots in use")

	_, err = NewShaderSystem(&ShaderSystemConfig{}, StaticShaders{}, nil)
	assert.Error(t, err)
}

func TestShaderSystemMissingShader(t *testing.T) {
	ss, _, _ := newShaderSystem(t)
	_, err := ss.Acquire(&PipelineConfig{Name: "bad", Shaders: []string{"nope.spv"}})
	assert.ErrorContains(t, err, "nope.spv")
	_, ok := ss.Get("bad")
	assert.False(t, ok)
}

func TestShaderSystemRebuildsOnChange(t *testing.T) {
	ss, source, device := newShaderSystem(t)
	tri, err := ss.Acquire(trianglePipeline())
	require.NoError(t, err)
	blur, err := ss.Acquire(blurPipeline())
	require.NoError(t, err)

	rebuilt, err := ss.Update()
	require.NoError(t, err)
	assert.Empty(t, rebuilt)

	source.write("tri.frag.spv", metadata.Shader{Stage: metadata.StagePixel, Bytecode: []byte{9}})
	rebuilt, err = ss.Update()
	require.NoError(t, err)
	assert.Equal(t, []string{"triangle"}, rebuilt)
	assert.Equal(t, uint32(1), ss.Generation("triangle"))
	assert.Equal(t, uint32(0), ss.Generation("blur"))

	current, _ := ss.Get("triangle")
	assert.NotEqual(t, tri, current)
	_, err = device.Name(tri)
	assert.ErrorIs(t, err, core.ErrInvalidHandle)
	stillBlur, _ := ss.Get("blur")
	assert.Equal(t, blur, stillBlur)
}

func TestShaderSystemKeepsPipelineOnFailedRebuild(t *testing.T) {
	ss, source, _ := newShaderSystem(t)
	tri, err := ss.Acquire(trianglePipeline())
	require.NoError(t, err)

	source.remove("tri.vert.spv")
	rebuilt, err := ss.Update()
	assert.Error(t, err)
	assert.Empty(t, rebuilt)

	current, ok := ss.Get("triangle")
	assert.True(t, ok)
	assert.Equal(t, tri, current)
}

func TestShaderSystemReleaseAndShutdown(t *testing.T) {
	ss, _, device := newShaderSystem(t)
	tri, err := ss.Acquire(trianglePipeline())
	require.NoError(t, err)
	blur, err := ss.Acquire(blurPipeline())
	require.NoError(t, err)

	require.NoError(t, ss.Release("triangle"))
	assert.Error(t, ss.Release("triangle"))
	_, err = device.Name(tri)
	assert.Error(t, err)

	require.NoError(t, ss.Shutdown())
	_, err = device.Name(blur)
	assert.Error(t, err)
	_, ok := ss.Get("blur")
	assert.False(t, ok)
}
