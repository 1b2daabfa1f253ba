package renderer

import (
	"testing"

	"github.com/spaghettifunk/anima-rhi/engine/renderer/headless"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textureRecord(name string, layout metadata.Layout) *resourceRecord {
	r := newRecord(metadata.ResourceKindTexture, name)
	r.texture = &textureData{image: &headless.Texture{}}
	r.setLayout(layout)
	return r
}

func TestRepeatedTransitionIsElided(t *testing.T) {
	backend := headless.New()
	list, err := backend.CreateCommandList(0, 1)
	require.NoError(t, err)
	require.NoError(t, list.Begin(0))

	tracker := NewBarrierTracker()
	r := textureRecord("albedo", metadata.LayoutUndefined)

	assert.True(t, tracker.Transition(r, metadata.LayoutShaderResource))
	assert.False(t, tracker.Transition(r, metadata.LayoutShaderResource))
	tracker.Flush(list)
	tracker.Flush(list)

	barriers := commandsOf(list.(*headless.CommandList).Commands(), headless.OpBarrier)
	require.Len(t, barriers, 1)
	require.Len(t, barriers[0].Barriers, 1)
	b := barriers[0].Barriers[0]
	assert.Equal(t, metadata.LayoutUndefined, b.Before)
	assert.Equal(t, metadata.LayoutShaderResource, b.After)
	assert.Equal(t, metadata.LayoutShaderResource, r.GetLayout())
	assert.Equal(t, 1, tracker.Emitted())
}

func TestPassTransitionsRouteResolveAttachments(t *testing.T) {
	color := textureRecord("msaa", metadata.LayoutUndefined)
	depth := textureRecord("depth", metadata.LayoutDepthStencil)
	resolved := textureRecord("resolved", metadata.LayoutShaderResource)

	begin, resolve, end := buildPassTransitions([]passAttachment{
		{record: color, attachment: metadata.RenderPassAttachment{
			Type: metadata.AttachmentRenderTarget, InitialLayout: metadata.LayoutUndefined,
			SubpassLayout: metadata.LayoutRenderTarget, FinalLayout: metadata.LayoutRenderTarget,
		}},
		{record: depth, attachment: metadata.RenderPassAttachment{
			Type: metadata.AttachmentDepthStencil, InitialLayout: metadata.LayoutDepthStencil,
			SubpassLayout: metadata.LayoutDepthStencil, FinalLayout: metadata.LayoutDepthStencil,
		}},
		{record: resolved, attachment: metadata.RenderPassAttachment{
			Type: metadata.AttachmentResolve, InitialLayout: metadata.LayoutShaderResource,
			SubpassLayout: metadata.LayoutRenderTarget, FinalLayout: metadata.LayoutShaderResource,
		}},
	})

	require.Len(t, begin, 3)
	assert.Equal(t, metadata.LayoutRenderTarget, begin[0].after)
	assert.Equal(t, metadata.LayoutDepthStencil, begin[1].after)
	assert.Equal(t, metadata.LayoutResolveDst, begin[2].after)

	require.Len(t, resolve, 1)
	assert.Same(t, color, resolve[0].record)
	assert.Equal(t, metadata.LayoutResolveSrc, resolve[0].after)

	require.Len(t, end, 2)
	assert.Same(t, color, end[0].record)
	assert.Equal(t, metadata.LayoutResolveSrc, end[0].before)
	assert.Equal(t, metadata.LayoutRenderTarget, end[0].after)
	assert.Same(t, resolved, end[1].record)
	assert.Equal(t, metadata.LayoutResolveDst, end[1].before)
	assert.Equal(t, metadata.LayoutShaderResource, end[1].after)
}
