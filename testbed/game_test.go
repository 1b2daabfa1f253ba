package testbed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rhi/engine"
	"github.com/spaghettifunk/anima-rhi/engine/core"
)

func TestTestbedRunsHeadless(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.ShaderDir = ""
	cfg.Workers = 2
	cfg.Frames = 240

	tg := NewTestGame()
	e, err := engine.New(tg.Game, cfg)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	require.NoError(t, e.Run())

	d := e.Device()
	assert.Equal(t, uint64(240), d.FrameCount())
	_, ok := e.Shaders().Get(drawPipeline)
	assert.True(t, ok)

	state := tg.State.(*gameState)
	begin, err := d.QueryRead(state.frameBegin)
	require.NoError(t, err)
	end, err := d.QueryRead(state.frameEnd)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, end.Timestamp, begin.Timestamp)

	require.NoError(t, e.Shutdown())
}
