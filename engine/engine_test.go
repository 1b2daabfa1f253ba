package engine

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rhi/engine/systems"
)

func testConfig() *core.EngineConfig {
	cfg := core.DefaultConfig()
	cfg.ShaderDir = ""
	cfg.Workers = 2
	cfg.Frames = 4
	cfg.Device.MaxCommandContexts = 4
	cfg.Device.RingInitialSize = 4096
	return cfg
}

type recorder struct {
	mu       sync.Mutex
	jobs     map[int]int
	pipeline metadata.Handle
	cb       metadata.Handle
}

func newTestGame(r *recorder, contexts int) *Game {
	return &Game{
		ApplicationConfig: &ApplicationConfig{
			Name:     "engine test",
			Contexts: contexts,
			Shaders: systems.StaticShaders{
				"tri.vert": {Stage: metadata.StageVertex, Bytecode: []byte{1}},
			},
		},
		FnInitialize: func(e *Engine) error {
			var err error
			r.pipeline, err = e.Shaders().Acquire(&systems.PipelineConfig{
				Name:    "triangle",
				Shaders: []string{"tri.vert"},
				Desc: metadata.PipelineDesc{
					Topology: metadata.TopologyTriangleList,
					Implicit: metadata.ImplicitLayout{ConstantBuffers: 1},
				},
			})
			if err != nil {
				return err
			}
			r.cb, err = e.Device().CreateBuffer(&metadata.BufferDesc{
				Name:      "per-draw",
				Size:      64,
				Usage:     metadata.UsageDynamic,
				BindFlags: metadata.BindConstantBuffer,
			}, nil)
			return err
		},
		FnRecord: func(ctx *renderer.CommandContext, job int, _ float64) error {
			r.mu.Lock()
			r.jobs[job]++
			r.mu.Unlock()
			if err := ctx.SetPipeline(r.pipeline); err != nil {
				return err
			}
			if err := ctx.UpdateBuffer(r.cb, make([]byte, 64)); err != nil {
				return err
			}
			if err := ctx.BindConstantBuffer(0, r.cb); err != nil {
				return err
			}
			return ctx.Draw(3, 1, 0, 0)
		},
	}
}

func TestEngineRunsConfiguredFrames(t *testing.T) {
	r := &recorder{jobs: make(map[int]int)}
	e, err := New(newTestGame(r, 3), testConfig())
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	assert.Equal(t, EngineStageInitialized, e.Stage())
	assert.Nil(t, e.Library())

	require.NoError(t, e.Run())
	assert.Equal(t, uint64(4), e.Device().FrameCount())
	assert.Equal(t, uint64(4), e.Device().Metrics().Counters().FramesSubmitted)
	assert.Equal(t, map[int]int{0: 4, 1: 4, 2: 4}, r.jobs)

	require.NoError(t, e.Shutdown())
	assert.Equal(t, EngineStageUninitialized, e.Stage())
}

func TestEngineStopsOnRecordFailure(t *testing.T) {
	r := &recorder{jobs: make(map[int]int)}
	g := newTestGame(r, 2)
	boom := errors.New("boom")
	g.FnRecord = func(ctx *renderer.CommandContext, job int, _ float64) error {
		if job == 1 {
			return boom
		}
		return nil
	}

	e, err := New(g, testConfig())
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	err = e.Run()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, uint64(1), e.Device().FrameCount(), "the partial frame is submitted")
	require.NoError(t, e.Shutdown())
}

func TestFailedClaimSubmitsThePartialFrame(t *testing.T) {
	cfg := testConfig()
	cfg.Device.MaxCommandContexts = 2
	r := &recorder{jobs: make(map[int]int)}
	g := newTestGame(r, 2)

	e, err := New(g, cfg)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())

	g.FnUpdate = func(float64) error {
		ctx, err := e.Device().BeginCommandContext()
		if err != nil {
			return err
		}
		return ctx.Close()
	}
	err = e.Frame(0)
	assert.ErrorIs(t, err, core.ErrCommandContextsExhausted)
	assert.Equal(t, uint64(1), e.Device().FrameCount())
	assert.Empty(t, r.jobs)

	g.FnUpdate = nil
	require.NoError(t, e.Frame(0))
	assert.Equal(t, uint64(2), e.Device().FrameCount())
	assert.Equal(t, map[int]int{0: 1, 1: 1}, r.jobs)
	require.NoError(t, e.Shutdown())
}

func TestEngineRejectsTooManyContexts(t *testing.T) {
	_, err := New(newTestGame(&recorder{}, 5), testConfig())
	assert.ErrorContains(t, err, "max_command_contexts")

	_, err = New(&Game{}, testConfig())
	assert.Error(t, err)
}

func TestEngineFallsBackWhenShaderDirIsMissing(t *testing.T) {
	cfg := testConfig()
	cfg.ShaderDir = t.TempDir() + "/missing"
	cfg.Frames = 1

	e, err := New(newTestGame(&recorder{jobs: make(map[int]int)}, 1), cfg)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	assert.Nil(t, e.Library())
	require.NoError(t, e.Run())
	require.NoError(t, e.Shutdown())
}
