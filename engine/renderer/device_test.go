package renderer

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/headless"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDynamicConstantBufferVersionsPerDraw(t *testing.T) {
	backend := headless.New()
	d := newTestDevice(t, backend)

	cb, err := d.CreateBuffer(&metadata.BufferDesc{
		Name:      "per-draw",
		Size:      256,
		Usage:     metadata.UsageDynamic,
		BindFlags: metadata.BindConstantBuffer,
	}, nil)
	require.NoError(t, err)
	pipeline, err := d.CreateRenderPipeline(&metadata.PipelineDesc{
		Name:     "implicit",
		Topology: metadata.TopologyTriangleList,
		Implicit: metadata.ImplicitLayout{ConstantBuffers: 1},
	})
	require.NoError(t, err)

	for frame := 0; frame < 3; frame++ {
		var payloads [][]byte
		runFrame(t, d, func(ctx *CommandContext) {
			require.NoError(t, ctx.SetPipeline(pipeline))
			require.NoError(t, ctx.BindConstantBuffer(0, cb))
			for draw := 0; draw < 3; draw++ {
				payload := bytes.Repeat([]byte{byte(frame*3 + draw + 1)}, 256)
				payloads = append(payloads, payload)
				require.NoError(t, ctx.UpdateBuffer(cb, payload))
				require.NoError(t, ctx.Draw(3, 1, 0, 0))
			}

			// The ring is rewound with the slot, so the first version of every
			// frame lands at the start of the ring.
			tables := commandsOf(ctx.list.(*headless.CommandList).Commands(), headless.OpSetDescriptorTable)
			require.Len(t, tables, 3)
			for i, table := range tables {
				heap := table.Range.Heap.(*headless.Heap)
				desc, ok := heap.Descriptor(table.Range.Offset)
				require.True(t, ok)
				assert.Equal(t, metadata.DescriptorConstantBuffer, desc.Type)
				assert.Equal(t, uint64(i*256), desc.Offset, "frame %d draw %d", frame, i)
				assert.Equal(t, uint64(256), desc.Size)
				ring := desc.Resource.(*headless.Buffer)
				assert.Equal(t, payloads[i], ring.Data[desc.Offset:desc.Offset+256])
			}
		})
	}
	assert.Empty(t, backend.Violations())
}

func TestSamplerTableGrowsSamplerHeap(t *testing.T) {
	backend := headless.New()
	d := newTestDevice(t, backend)
	const count = 1025

	root, err := d.CreateRootSignature(&metadata.RootSignatureDesc{
		Name: "samplers",
		Tables: []metadata.DescriptorTableDesc{{
			Name:     "samplers",
			Stage:    metadata.StagePixel,
			Samplers: []metadata.SamplerRange{{Slot: 0, Count: count}},
		}},
	})
	require.NoError(t, err)
	pipeline, err := d.CreateRenderPipeline(&metadata.PipelineDesc{Name: "explicit", RootSignature: root})
	require.NoError(t, err)
	table, err := d.CreateDescriptorTable(&metadata.DescriptorTableDesc{
		Name:     "samplers",
		Samplers: []metadata.SamplerRange{{Slot: 0, Count: count}},
	})
	require.NoError(t, err)
	for i := uint32(0); i < count; i++ {
		s, err := d.CreateSampler(&metadata.SamplerDesc{MaxLOD: float32(i)})
		require.NoError(t, err)
		require.NoError(t, d.WriteSamplerDescriptor(table, i, s))
	}

	runFrame(t, d, func(ctx *CommandContext) {
		require.NoError(t, ctx.SetPipeline(pipeline))
		require.NoError(t, ctx.BindDescriptorTable(0, table))
		require.NoError(t, ctx.Draw(3, 1, 0, 0))
	})

	list := lastFrame(t, backend).Lists[0]
	tables := commandsOf(list, headless.OpSetDescriptorTable)
	require.Len(t, tables, 1)
	bound := tables[0].Range
	assert.Equal(t, uint32(count), bound.Count)
	heap := bound.Heap.(*headless.Heap)
	assert.Equal(t, metadata.HeapSampler, heap.Kind)
	assert.Equal(t, uint32(2048), heap.Capacity)
	for i, desc := range heap.Range(bound.Offset, bound.Count) {
		require.False(t, desc.IsNull(), "descriptor %d", i)
		require.Equal(t, float32(i), desc.Sampler.MaxLOD)
	}
	assert.GreaterOrEqual(t, d.Metrics().Counters().DescriptorHeapGrows, uint64(1))
	assert.Empty(t, backend.Violations())
}

func TestDestroyedTextureStaysValidWhileInFlight(t *testing.T) {
	backend := headless.New()
	d := newTestDevice(t, backend)

	tex, err := d.CreateTexture(&metadata.TextureDesc{
		Name:          "albedo",
		Type:          metadata.Texture2D,
		Width:         4,
		Height:        4,
		Format:        metadata.FormatR8G8B8A8Unorm,
		BindFlags:     metadata.BindShaderResource,
		InitialLayout: metadata.LayoutShaderResource,
	}, nil)
	require.NoError(t, err)
	root, err := d.CreateRootSignature(&metadata.RootSignatureDesc{
		Tables: []metadata.DescriptorTableDesc{{
			Resources: []metadata.ResourceRange{{Type: metadata.DescriptorShaderResource, Dimension: metadata.DimensionTexture2D, Count: 1}},
		}},
	})
	require.NoError(t, err)
	pipeline, err := d.CreateRenderPipeline(&metadata.PipelineDesc{Name: "textured", RootSignature: root})
	require.NoError(t, err)
	table, err := d.CreateDescriptorTable(&metadata.DescriptorTableDesc{
		Resources: []metadata.ResourceRange{{Type: metadata.DescriptorShaderResource, Dimension: metadata.DimensionTexture2D, Count: 1}},
	})
	require.NoError(t, err)
	require.NoError(t, d.WriteDescriptor(table, 0, tex))
	frequency, err := d.CreateQuery(&metadata.QueryDesc{Type: metadata.QueryTimestampFrequency})
	require.NoError(t, err)

	image := findObject(t, backend, metadata.CategoryImage, "albedo")
	view := findObject(t, backend, metadata.CategoryView, "albedo")

	runFrame(t, d, func(ctx *CommandContext) {
		require.NoError(t, ctx.SetPipeline(pipeline))
		require.NoError(t, ctx.BindDescriptorTable(0, table))
		require.NoError(t, ctx.Draw(3, 1, 0, 0))
		require.NoError(t, d.Destroy(tex))
		require.NoError(t, ctx.Draw(3, 1, 0, 0))

		result, err := d.QueryRead(frequency)
		require.NoError(t, err)
		assert.Equal(t, headless.TimestampFrequency, result.TimestampFrequency)
	})
	assert.Empty(t, backend.Violations())
	assert.False(t, image.Released())
	assert.False(t, view.Released())

	runFrame(t, d, nil)
	assert.Equal(t, 1, image.ReleaseCount())
	assert.Equal(t, 1, view.ReleaseCount())
}

func TestTableSlotOfDestroyedResourceBindsNull(t *testing.T) {
	backend := headless.New()
	d := newTestDevice(t, backend)

	tex, err := d.CreateTexture(&metadata.TextureDesc{
		Name:          "albedo",
		Type:          metadata.Texture2D,
		Width:         4,
		Height:        4,
		Format:        metadata.FormatR8G8B8A8Unorm,
		BindFlags:     metadata.BindShaderResource,
		InitialLayout: metadata.LayoutShaderResource,
	}, nil)
	require.NoError(t, err)
	sampler, err := d.CreateSampler(&metadata.SamplerDesc{Name: "linear", MaxLOD: 4})
	require.NoError(t, err)
	material := metadata.DescriptorTableDesc{
		Resources: []metadata.ResourceRange{{Type: metadata.DescriptorShaderResource, Dimension: metadata.DimensionTexture2D, Count: 1}},
		Samplers:  []metadata.SamplerRange{{Count: 1}},
	}
	root, err := d.CreateRootSignature(&metadata.RootSignatureDesc{Tables: []metadata.DescriptorTableDesc{material}})
	require.NoError(t, err)
	pipeline, err := d.CreateRenderPipeline(&metadata.PipelineDesc{Name: "textured", RootSignature: root})
	require.NoError(t, err)
	table, err := d.CreateDescriptorTable(&material)
	require.NoError(t, err)
	require.NoError(t, d.WriteDescriptor(table, 0, tex))
	require.NoError(t, d.WriteSamplerDescriptor(table, 0, sampler))

	image := findObject(t, backend, metadata.CategoryImage, "albedo")
	require.NoError(t, d.Destroy(tex))
	require.NoError(t, d.Destroy(sampler))
	for i := 0; i < 4; i++ {
		runFrame(t, d, nil)
	}
	require.True(t, image.Released())

	runFrame(t, d, func(ctx *CommandContext) {
		require.NoError(t, ctx.SetPipeline(pipeline))
		require.NoError(t, ctx.BindDescriptorTable(0, table))
		require.NoError(t, ctx.Draw(3, 1, 0, 0))
	})
	assert.Empty(t, backend.Violations())

	tables := commandsOf(lastFrame(t, backend).Lists[0], headless.OpSetDescriptorTable)
	require.Len(t, tables, 2)
	for _, bound := range tables {
		for i, desc := range bound.Range.Heap.(*headless.Heap).Range(bound.Range.Offset, bound.Range.Count) {
			assert.True(t, desc.IsNull(), "descriptor %d", i)
		}
	}
}

func TestCommandContextsAreBounded(t *testing.T) {
	d := newTestDevice(t, headless.New())
	var contexts []*CommandContext
	for i := 0; i < int(testConfig().MaxCommandContexts); i++ {
		ctx, err := d.BeginCommandContext()
		require.NoError(t, err)
		assert.Equal(t, uint32(i), ctx.Index())
		contexts = append(contexts, ctx)
	}
	_, err := d.BeginCommandContext()
	assert.ErrorIs(t, err, core.ErrCommandContextsExhausted)

	for _, ctx := range contexts {
		require.NoError(t, ctx.Close())
	}
	require.NoError(t, d.Submit())
	_, err = d.BeginCommandContext()
	assert.NoError(t, err)
}

func TestContextsRecordConcurrentlyAndSubmitInOrder(t *testing.T) {
	backend := headless.New()
	d := newTestDevice(t, backend)
	pipeline, err := d.CreateComputePipeline(&metadata.PipelineDesc{Name: "compute"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, err := d.BeginCommandContext()
			if err == nil {
				err = ctx.SetPipeline(pipeline)
			}
			if err == nil {
				err = ctx.Dispatch(1, 1, 1)
			}
			if err == nil {
				err = ctx.Close()
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.NoError(t, d.Submit())
	assert.Equal(t, []uint32{0, 1, 2}, lastFrame(t, backend).Contexts)
}

func TestCommandContextStateMachine(t *testing.T) {
	d := newTestDevice(t, headless.New())
	pipeline, err := d.CreateRenderPipeline(&metadata.PipelineDesc{Name: "p"})
	require.NoError(t, err)

	ctx, err := d.BeginCommandContext()
	require.NoError(t, err)
	assert.Equal(t, ContextRecording, ctx.State())
	assert.ErrorIs(t, ctx.Draw(3, 1, 0, 0), core.ErrInvalidState)
	require.NoError(t, ctx.SetPipeline(pipeline))
	assert.ErrorIs(t, ctx.Dispatch(1, 1, 1), core.ErrInvalidState)

	assert.ErrorIs(t, d.Submit(), core.ErrInvalidState)
	require.NoError(t, ctx.Close())
	assert.Equal(t, ContextClosed, ctx.State())
	assert.ErrorIs(t, ctx.Draw(3, 1, 0, 0), core.ErrInvalidState)
	assert.ErrorIs(t, ctx.Close(), core.ErrInvalidState)

	require.NoError(t, d.Submit())
	assert.Equal(t, ContextIdle, ctx.State())
	assert.Equal(t, uint64(1), d.FrameCount())
}

func TestAdvanceFrameWaitsForOldestFrame(t *testing.T) {
	backend := headless.NewManual()
	d := newTestDevice(t, backend)

	runFrame(t, d, nil)
	ctx, err := d.BeginCommandContext()
	require.NoError(t, err)
	require.NoError(t, ctx.Close())
	require.NoError(t, d.Submit())

	ctxCh := make(chan error, 1)
	go func() {
		ctxCh <- d.AdvanceFrame()
	}()
	select {
	case <-ctxCh:
		t.Fatal("frame slot reused before the GPU finished with it")
	case <-time.After(50 * time.Millisecond):
	}
	backend.Complete(0)
	select {
	case err := <-ctxCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("advance did not resume after completion")
	}
}

func TestDeviceLostIsLatched(t *testing.T) {
	backend := headless.New()
	d := newTestDevice(t, backend)

	ctx, err := d.BeginCommandContext()
	require.NoError(t, err)
	require.NoError(t, ctx.Close())
	backend.Lose()

	assert.ErrorIs(t, d.Submit(), core.ErrDeviceLost)
	assert.True(t, d.IsLost())
	_, err = d.CreateBuffer(&metadata.BufferDesc{Size: 16}, nil)
	assert.ErrorIs(t, err, core.ErrDeviceLost)
	_, err = d.BeginCommandContext()
	assert.ErrorIs(t, err, core.ErrDeviceLost)
	assert.ErrorIs(t, d.AdvanceFrame(), core.ErrDeviceLost)
}

func TestQueriesResolveAtClose(t *testing.T) {
	backend := headless.New()
	d := newTestDevice(t, backend)
	pipeline, err := d.CreateRenderPipeline(&metadata.PipelineDesc{Name: "p"})
	require.NoError(t, err)
	timestamp, err := d.CreateQuery(&metadata.QueryDesc{Type: metadata.QueryTimestamp})
	require.NoError(t, err)
	occlusion, err := d.CreateQuery(&metadata.QueryDesc{Type: metadata.QueryOcclusion})
	require.NoError(t, err)
	predicate, err := d.CreateQuery(&metadata.QueryDesc{Type: metadata.QueryOcclusionPredicate})
	require.NoError(t, err)

	runFrame(t, d, func(ctx *CommandContext) {
		require.NoError(t, ctx.SetPipeline(pipeline))
		require.NoError(t, ctx.BeginQuery(occlusion))
		require.NoError(t, ctx.BeginQuery(predicate))
		require.NoError(t, ctx.Draw(3, 2, 0, 0))
		require.NoError(t, ctx.EndQuery(predicate))
		require.NoError(t, ctx.EndQuery(occlusion))
		require.NoError(t, ctx.EndQuery(timestamp))
	})

	list := lastFrame(t, backend).Lists[0]
	assert.Len(t, commandsOf(list, headless.OpResolveQuery), 3)

	result, err := d.QueryRead(timestamp)
	require.NoError(t, err)
	assert.NotZero(t, result.Timestamp)
	assert.Equal(t, headless.TimestampFrequency, result.TimestampFrequency)

	result, err = d.QueryRead(occlusion)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), result.PassedSampleCount)

	result, err = d.QueryRead(predicate)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), result.PassedSampleCount)
}

func TestRenderPassMovesAttachmentsToFinalLayouts(t *testing.T) {
	backend := headless.New()
	d := newTestDevice(t, backend)
	color, err := d.CreateTexture(&metadata.TextureDesc{
		Name: "color", Width: 8, Height: 8, Format: metadata.FormatR8G8B8A8Unorm,
		BindFlags: metadata.BindRenderTarget | metadata.BindShaderResource,
	}, nil)
	require.NoError(t, err)
	pass, err := d.CreateRenderPass(&metadata.RenderPassDesc{
		Name: "main",
		Attachments: []metadata.RenderPassAttachment{{
			Type:          metadata.AttachmentRenderTarget,
			Texture:       color,
			LoadOp:        metadata.LoadOpClear,
			InitialLayout: metadata.LayoutUndefined,
			SubpassLayout: metadata.LayoutRenderTarget,
			FinalLayout:   metadata.LayoutShaderResource,
		}},
	})
	require.NoError(t, err)
	pipeline, err := d.CreateRenderPipeline(&metadata.PipelineDesc{Name: "p", RenderPass: pass})
	require.NoError(t, err)

	record := func(ctx *CommandContext) {
		require.NoError(t, ctx.BeginRenderPass(pass))
		require.NoError(t, ctx.SetPipeline(pipeline))
		require.NoError(t, ctx.Draw(3, 1, 0, 0))
		require.NoError(t, ctx.EndRenderPass())
	}
	runFrame(t, d, record)
	layout, err := d.Layout(color)
	require.NoError(t, err)
	assert.Equal(t, metadata.LayoutShaderResource, layout)

	// The second use starts from ShaderResource, not the declared Undefined.
	runFrame(t, d, record)
	barriers := commandsOf(lastFrame(t, backend).Lists[0], headless.OpBarrier)
	require.Len(t, barriers, 2)
	assert.Equal(t, metadata.LayoutShaderResource, barriers[0].Barriers[0].Before)
	assert.Equal(t, metadata.LayoutRenderTarget, barriers[0].Barriers[0].After)
	assert.Equal(t, metadata.LayoutShaderResource, barriers[1].Barriers[0].After)
}

func TestStaticBufferUpdateCopiesThroughRing(t *testing.T) {
	backend := headless.New()
	d := newTestDevice(t, backend)
	h, err := d.CreateBuffer(&metadata.BufferDesc{Name: "static", Size: 32, BindFlags: metadata.BindVertexBuffer}, nil)
	require.NoError(t, err)
	immutable, err := d.CreateBuffer(&metadata.BufferDesc{Name: "immutable", Size: 4, Usage: metadata.UsageImmutable}, []byte{1, 2, 3, 4})
	require.NoError(t, err)

	indices, err := d.CreateBuffer(&metadata.BufferDesc{Name: "indices", Size: 12, BindFlags: metadata.BindIndexBuffer}, nil)
	require.NoError(t, err)
	pipeline, err := d.CreateRenderPipeline(&metadata.PipelineDesc{Name: "mesh"})
	require.NoError(t, err)

	payload := []byte("0123456789abcdef0123456789abcdef")
	runFrame(t, d, func(ctx *CommandContext) {
		require.NoError(t, ctx.UpdateBuffer(h, payload))
		assert.ErrorIs(t, ctx.UpdateBuffer(immutable, []byte{0}), core.ErrImmutableBuffer)
		require.NoError(t, ctx.SetPipeline(pipeline))
		require.NoError(t, ctx.BindVertexBuffers(0, []metadata.Handle{h}, []uint64{0}))
		require.NoError(t, ctx.BindIndexBuffer(indices, metadata.IndexUint16, 0))
		require.NoError(t, ctx.DrawIndexed(6, 1, 0, 0, 0))
	})

	list := lastFrame(t, backend).Lists[0]
	copies := commandsOf(list, headless.OpCopyBuffer)
	require.Len(t, copies, 1)
	dst := copies[0].Object.(*headless.Buffer)
	assert.Equal(t, payload, dst.Data)

	// copy_dst before the copy, then one batch before the draw that returns the
	// vertex buffer and moves the index buffer.
	barriers := commandsOf(list, headless.OpBarrier)
	require.Len(t, barriers, 2)
	require.Len(t, barriers[0].Barriers, 1)
	assert.Equal(t, metadata.LayoutCopyDst, barriers[0].Barriers[0].After)
	require.Len(t, barriers[1].Barriers, 2)
	assert.Equal(t, metadata.LayoutCopyDst, barriers[1].Barriers[0].Before)
	assert.Equal(t, metadata.LayoutVertexBuffer, barriers[1].Barriers[0].After)
	assert.Equal(t, metadata.LayoutIndexBuffer, barriers[1].Barriers[1].After)

	layout, err := d.Layout(h)
	require.NoError(t, err)
	assert.Equal(t, metadata.LayoutVertexBuffer, layout)
	layout, err = d.Layout(indices)
	require.NoError(t, err)
	assert.Equal(t, metadata.LayoutIndexBuffer, layout)
}

func TestBufferUploadReturnsToReadLayout(t *testing.T) {
	d := newTestDevice(t, headless.New())
	for _, tc := range []struct {
		flags metadata.BindFlag
		want  metadata.Layout
	}{
		{metadata.BindConstantBuffer, metadata.LayoutConstantBuffer},
		{metadata.BindIndirectArgs, metadata.LayoutIndirectArgument},
		{metadata.BindShaderResource | metadata.BindUnorderedAccess, metadata.LayoutShaderResource},
		{0, metadata.LayoutGeneral},
	} {
		h, err := d.CreateBuffer(&metadata.BufferDesc{Size: 16, BindFlags: tc.flags}, nil)
		require.NoError(t, err)
		runFrame(t, d, func(ctx *CommandContext) {
			require.NoError(t, ctx.UpdateBuffer(h, make([]byte, 16)))
		})
		layout, err := d.Layout(h)
		require.NoError(t, err)
		assert.Equal(t, tc.want, layout, "bind flags %b", tc.flags)
	}
}

func TestSetNameDefaultsToGeneratedName(t *testing.T) {
	d := newTestDevice(t, headless.New())
	h, err := d.CreateSampler(&metadata.SamplerDesc{})
	require.NoError(t, err)
	name, err := d.Name(h)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, "sampler-"))

	require.NoError(t, d.SetName(h, "linear"))
	name, _ = d.Name(h)
	assert.Equal(t, "linear", name)

	require.NoError(t, d.SetName(h, ""))
	name, _ = d.Name(h)
	assert.NotEqual(t, "linear", name)
	assert.True(t, strings.HasPrefix(name, "sampler-"))
}

func TestBindingUndeclaredTableSpaceIsFatal(t *testing.T) {
	panicOnFatal(t)
	d := newTestDevice(t, headless.New())
	root, err := d.CreateRootSignature(&metadata.RootSignatureDesc{
		Tables: []metadata.DescriptorTableDesc{{Samplers: []metadata.SamplerRange{{Count: 1}}}},
	})
	require.NoError(t, err)
	pipeline, err := d.CreateRenderPipeline(&metadata.PipelineDesc{Name: "p", RootSignature: root})
	require.NoError(t, err)
	table, err := d.CreateDescriptorTable(&metadata.DescriptorTableDesc{Samplers: []metadata.SamplerRange{{Count: 1}}})
	require.NoError(t, err)

	ctx, err := d.BeginCommandContext()
	require.NoError(t, err)
	require.NoError(t, ctx.SetPipeline(pipeline))
	assert.Panics(t, func() { _ = ctx.BindDescriptorTable(1, table) })
}

func TestExternalTextureIsNeverReleased(t *testing.T) {
	backend := headless.New()
	d := newTestDevice(t, backend)
	image := &headless.Texture{}
	h, err := d.WrapExternalTexture(&metadata.TextureDesc{Name: "backbuffer", Width: 4, Height: 4}, image, nil)
	require.NoError(t, err)
	require.NoError(t, d.Destroy(h))
	runFrame(t, d, nil)
	runFrame(t, d, nil)
	runFrame(t, d, nil)
	assert.False(t, image.Released())
}

func TestShutdownReleasesEverything(t *testing.T) {
	backend := headless.New()
	d := newTestDevice(t, backend)
	_, err := d.CreateBuffer(&metadata.BufferDesc{Name: "live", Size: 16}, nil)
	require.NoError(t, err)
	_, err = d.CreateRenderPipeline(&metadata.PipelineDesc{Name: "p", Implicit: metadata.ImplicitLayout{Resources: 1}})
	require.NoError(t, err)
	runFrame(t, d, nil)

	require.NoError(t, d.Shutdown())
	for _, o := range backend.Objects() {
		assert.Equal(t, 1, o.ReleaseCount(), "%s %q", o.Category, o.Name)
	}
	assert.NoError(t, d.Shutdown())
}

func TestContextFrameResourcesRotateWithSlots(t *testing.T) {
	d := newTestDevice(t, headless.New())
	require.Equal(t, uint64(d.Config().InFlightFrames), d.InFlightFrames())

	noise, err := d.CreateTexture(&metadata.TextureDesc{
		Name:        "noise",
		Type:        metadata.Texture2D,
		Width:       16,
		Height:      16,
		Depth:       1,
		ArraySize:   1,
		MipLevels:   1,
		SampleCount: 1,
		Format:      metadata.FormatR8G8B8A8Unorm,
		BindFlags:   metadata.BindUnorderedAccess | metadata.BindShaderResource,
	}, nil)
	require.NoError(t, err)

	rings := make([]*RingAllocator, 0, 3)
	for frame := 0; frame < 3; frame++ {
		runFrame(t, d, func(ctx *CommandContext) {
			assert.Zero(t, ctx.Ring().Cursor())
			assert.True(t, ctx.Descriptors().Dirty())
			_, err := ctx.AllocateGPU(100)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, ctx.Ring().Cursor(), uint64(100))
			rings = append(rings, ctx.Ring())

			if frame == 0 {
				require.NoError(t, ctx.Transition(noise, metadata.LayoutUnorderedAccess))
				assert.Equal(t, 1, ctx.Tracker().Pending())
			}
		})
	}
	assert.NotSame(t, rings[0], rings[1])
	assert.Same(t, rings[0], rings[2])

	require.NoError(t, d.Destroy(noise))
	assert.Equal(t, 1, d.Handler().Pending(metadata.CategoryImage))
	runFrame(t, d, nil)
	runFrame(t, d, nil)
	assert.Zero(t, d.Handler().Pending(metadata.CategoryImage))
}

func TestDispatchRaysValidatesImplicitTables(t *testing.T) {
	backend := headless.New()
	d := newTestDevice(t, backend)

	scene, err := d.CreateAccelerationStructure(&metadata.AccelerationStructureDesc{
		Name: "scene",
		Type: metadata.AccelerationStructureTopLevel,
		Size: 4096,
	})
	require.NoError(t, err)
	layout, err := d.Layout(scene)
	require.NoError(t, err)
	assert.Equal(t, metadata.LayoutAccelerationStructure, layout)

	output, err := d.CreateTexture(&metadata.TextureDesc{
		Name:          "radiance",
		Type:          metadata.Texture2D,
		Width:         8,
		Height:        8,
		Depth:         1,
		ArraySize:     1,
		MipLevels:     1,
		SampleCount:   1,
		Format:        metadata.FormatR8G8B8A8Unorm,
		BindFlags:     metadata.BindUnorderedAccess,
		InitialLayout: metadata.LayoutUnorderedAccess,
	}, nil)
	require.NoError(t, err)
	rays, err := d.CreateRaytracingPipeline(&metadata.PipelineDesc{
		Name:     "rays",
		Implicit: metadata.ImplicitLayout{Resources: 1, UnorderedAccess: 1},
	})
	require.NoError(t, err)
	compute, err := d.CreateComputePipeline(&metadata.PipelineDesc{Name: "compute"})
	require.NoError(t, err)

	structure := findObject(t, backend, metadata.CategoryAccelerationStructure, "scene")
	runFrame(t, d, func(ctx *CommandContext) {
		assert.ErrorIs(t, ctx.DispatchRays(&metadata.DispatchRaysDesc{Width: 8, Height: 8, Depth: 1}), core.ErrInvalidState)
		require.NoError(t, ctx.SetPipeline(compute))
		assert.ErrorIs(t, ctx.DispatchRays(&metadata.DispatchRaysDesc{Width: 8, Height: 8, Depth: 1}), core.ErrInvalidState)

		require.NoError(t, ctx.SetPipeline(rays))
		assert.ErrorIs(t, ctx.Dispatch(1, 1, 1), core.ErrInvalidState)
		require.NoError(t, ctx.BindResource(0, scene))
		require.NoError(t, ctx.BindUAV(0, output))
		require.NoError(t, ctx.DispatchRays(&metadata.DispatchRaysDesc{Width: 8, Height: 8, Depth: 1}))
		require.NoError(t, d.Destroy(scene))
	})
	assert.Empty(t, backend.Violations())

	list := lastFrame(t, backend).Lists[0]
	dispatches := commandsOf(list, headless.OpDispatchRays)
	require.Len(t, dispatches, 1)
	assert.Equal(t, [4]uint32{8, 8, 1, 0}, dispatches[0].Counts)

	tables := commandsOf(list, headless.OpSetDescriptorTable)
	require.Len(t, tables, 1)
	assert.False(t, tables[0].Graphics)
	assert.Equal(t, uint32(0), tables[0].RootIndex)
	descs := tables[0].Range.Heap.(*headless.Heap).Range(tables[0].Range.Offset, tables[0].Range.Count)
	require.Len(t, descs, 2)
	assert.Equal(t, metadata.DimensionAccelerationStructure, descs[0].Dimension)
	assert.Equal(t, "scene", descs[0].Resource.(*headless.AccelerationStructure).Desc.Name)
	assert.Equal(t, metadata.DescriptorUnorderedAccess, descs[1].Type)

	assert.False(t, structure.Released())
	assert.Equal(t, 1, d.Handler().Pending(metadata.CategoryAccelerationStructure))
	runFrame(t, d, nil)
	assert.Equal(t, 1, structure.ReleaseCount())
	assert.Zero(t, d.Handler().Pending(metadata.CategoryAccelerationStructure))
}

func TestIndirectCommandsReadArgumentBuffers(t *testing.T) {
	backend := headless.New()
	d := newTestDevice(t, backend)

	args, err := d.CreateBuffer(&metadata.BufferDesc{Name: "args", Size: 64, BindFlags: metadata.BindIndirectArgs | metadata.BindUnorderedAccess}, nil)
	require.NoError(t, err)
	plain, err := d.CreateBuffer(&metadata.BufferDesc{Name: "plain", Size: 64, BindFlags: metadata.BindVertexBuffer}, nil)
	require.NoError(t, err)
	draw, err := d.CreateRenderPipeline(&metadata.PipelineDesc{Name: "draw"})
	require.NoError(t, err)
	cull, err := d.CreateComputePipeline(&metadata.PipelineDesc{Name: "cull"})
	require.NoError(t, err)

	runFrame(t, d, func(ctx *CommandContext) {
		require.NoError(t, ctx.SetPipeline(cull))
		require.NoError(t, ctx.Transition(args, metadata.LayoutUnorderedAccess))
		require.NoError(t, ctx.DispatchIndirect(args, 48))

		require.NoError(t, ctx.SetPipeline(draw))
		require.NoError(t, ctx.DrawIndirect(args, 0))
		require.NoError(t, ctx.DrawIndexedIndirect(args, 16))

		assert.ErrorIs(t, ctx.DrawIndirect(plain, 0), core.ErrInvalidDescriptor)
		assert.ErrorIs(t, ctx.DrawIndirect(args, 56), core.ErrInvalidDescriptor)
		assert.ErrorIs(t, ctx.DispatchIndirect(args, 0), core.ErrInvalidState)
	})
	assert.Empty(t, backend.Violations())

	list := lastFrame(t, backend).Lists[0]
	native := findObject(t, backend, metadata.CategoryBuffer, "args")
	for op, offset := range map[headless.Op]uint64{
		headless.OpDispatchIndirect:    48,
		headless.OpDrawIndirect:        0,
		headless.OpDrawIndexedIndirect: 16,
	} {
		cmds := commandsOf(list, op)
		require.Len(t, cmds, 1)
		assert.Same(t, native, &cmds[0].Object.(*headless.Buffer).Object)
		assert.Equal(t, offset, cmds[0].SrcOffset)
	}

	barriers := commandsOf(list, headless.OpBarrier)
	require.Len(t, barriers, 1)
	require.Len(t, barriers[0].Barriers, 2)
	assert.Equal(t, metadata.LayoutUnorderedAccess, barriers[0].Barriers[0].After)
	assert.Equal(t, metadata.LayoutUnorderedAccess, barriers[0].Barriers[1].Before)
	assert.Equal(t, metadata.LayoutIndirectArgument, barriers[0].Barriers[1].After)

	layout, err := d.Layout(args)
	require.NoError(t, err)
	assert.Equal(t, metadata.LayoutIndirectArgument, layout)
}
