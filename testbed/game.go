package testbed

import (
	"encoding/binary"
	"image"
	"image/color"
	stdmath "math"

	"github.com/spaghettifunk/anima-rhi/engine"
	"github.com/spaghettifunk/anima-rhi/engine/assets"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-rhi/engine/systems"
)

const (
	targetSize = 256
	noiseSize  = 128

	drawPipeline  = "testbed.draw"
	noisePipeline = "testbed.noise"

	// Jobs recorded each frame.
	drawJob  = 0
	noiseJob = 1
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	engine *engine.Engine
	time   float64
	frames uint64

	target  metadata.Handle
	checker metadata.Handle
	noise   metadata.Handle
	sampler metadata.Handle
	params  metadata.Handle
	root    metadata.Handle
	table   metadata.Handle
	pass    metadata.Handle

	frameBegin metadata.Handle
	frameEnd   metadata.Handle
	frequency  metadata.Handle
}

// placeholder passes the SPIR-V header check. Only the headless backend accepts it.
var placeholder = []byte{0x03, 0x02, 0x23, 0x07}

func NewTestGame() *TestGame {
	state := &gameState{}
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: &engine.ApplicationConfig{
				Name:     "Anima RHI Testbed",
				Contexts: 2,
				Shaders: systems.StaticShaders{
					"testbed.vert.spv": {Stage: metadata.StageVertex, EntryPoint: "main", Bytecode: placeholder},
					"testbed.frag.spv": {Stage: metadata.StagePixel, EntryPoint: "main", Bytecode: placeholder},
					"testbed.comp.spv": {Stage: metadata.StageCompute, EntryPoint: "main", Bytecode: placeholder},
				},
			},
			State: state,
		},
	}
	tg.FnInitialize = state.Initialize
	tg.FnUpdate = state.Update
	tg.FnRecord = state.Record
	tg.FnShutdown = state.Shutdown
	return tg
}

func checkerboard(size, cell int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := color.RGBA{R: 40, G: 40, B: 48, A: 255}
			if (x/cell+y/cell)%2 == 0 {
				c = color.RGBA{R: 230, G: 200, B: 90, A: 255}
			}
			img.Set(x, y, c)
		}
	}
	return img
}

func (s *gameState) Initialize(e *engine.Engine) error {
	s.engine = e
	d := e.Device()

	// A checker.png in the asset library replaces the generated one.
	checker := assets.NewImage("checker", checkerboard(64, 8), assets.ImageOptions{Mips: true})
	if library := e.Library(); library != nil {
		if img, err := library.Image("checker.png", assets.ImageOptions{Mips: true, Srgb: true}); err == nil {
			checker = img
		}
	}

	var err error
	if s.checker, err = d.CreateTexture(&checker.Desc, checker.Subresources); err != nil {
		return err
	}
	if s.target, err = d.CreateTexture(&metadata.TextureDesc{
		Name:        "testbed.target",
		Type:        metadata.Texture2D,
		Width:       targetSize,
		Height:      targetSize,
		Depth:       1,
		ArraySize:   1,
		MipLevels:   1,
		SampleCount: 1,
		Format:      metadata.FormatR8G8B8A8Unorm,
		BindFlags:   metadata.BindRenderTarget | metadata.BindShaderResource,
	}, nil); err != nil {
		return err
	}
	if s.noise, err = d.CreateTexture(&metadata.TextureDesc{
		Name:          "testbed.noise",
		Type:          metadata.Texture2D,
		Width:         noiseSize,
		Height:        noiseSize,
		Depth:         1,
		ArraySize:     1,
		MipLevels:     1,
		SampleCount:   1,
		Format:        metadata.FormatR8G8B8A8Unorm,
		BindFlags:     metadata.BindUnorderedAccess | metadata.BindShaderResource,
		InitialLayout: metadata.LayoutUnorderedAccess,
	}, nil); err != nil {
		return err
	}
	if s.sampler, err = d.CreateSampler(&metadata.SamplerDesc{
		Name:     "testbed.linear",
		Filter:   metadata.FilterLinear,
		AddressU: metadata.AddressWrap,
		AddressV: metadata.AddressWrap,
		AddressW: metadata.AddressWrap,
		MaxLOD:   float32(checker.Desc.MipLevels),
	}); err != nil {
		return err
	}
	if s.params, err = d.CreateBuffer(&metadata.BufferDesc{
		Name:      "testbed.params",
		Size:      16,
		Usage:     metadata.UsageDynamic,
		BindFlags: metadata.BindConstantBuffer,
	}, nil); err != nil {
		return err
	}

	material := metadata.DescriptorTableDesc{
		Name:  "testbed.material",
		Stage: metadata.StagePixel,
		Resources: []metadata.ResourceRange{
			{Type: metadata.DescriptorShaderResource, Dimension: metadata.DimensionTexture2D, Count: 1},
		},
		Samplers: []metadata.SamplerRange{{Count: 1}},
	}
	if s.root, err = d.CreateRootSignature(&metadata.RootSignatureDesc{
		Name:          "testbed.root",
		Tables:        []metadata.DescriptorTableDesc{material},
		RootConstants: []metadata.RootConstantRange{{Stage: metadata.StagePixel, Size: 16}},
	}); err != nil {
		return err
	}
	if s.table, err = d.CreateDescriptorTable(&material); err != nil {
		return err
	}
	if err := d.WriteDescriptor(s.table, 0, s.checker); err != nil {
		return err
	}
	if err := d.WriteSamplerDescriptor(s.table, 0, s.sampler); err != nil {
		return err
	}

	if s.pass, err = d.CreateRenderPass(&metadata.RenderPassDesc{
		Name: "testbed.main",
		Attachments: []metadata.RenderPassAttachment{{
			Type:          metadata.AttachmentRenderTarget,
			Texture:       s.target,
			LoadOp:        metadata.LoadOpClear,
			StoreOp:       metadata.StoreOpStore,
			InitialLayout: metadata.LayoutUndefined,
			SubpassLayout: metadata.LayoutRenderTarget,
			FinalLayout:   metadata.LayoutShaderResource,
			ClearColor:    [4]float32{0.1, 0.1, 0.12, 1},
		}},
	}); err != nil {
		return err
	}

	if _, err := e.Shaders().Acquire(&systems.PipelineConfig{
		Name:    drawPipeline,
		Shaders: []string{"testbed.vert.spv", "testbed.frag.spv"},
		Desc: metadata.PipelineDesc{
			Type:          metadata.PipelineGraphics,
			Topology:      metadata.TopologyTriangleList,
			RootSignature: s.root,
			RenderPass:    s.pass,
			ColorFormats:  []metadata.Format{metadata.FormatR8G8B8A8Unorm},
		},
	}); err != nil {
		return err
	}
	if _, err := e.Shaders().Acquire(&systems.PipelineConfig{
		Name:    noisePipeline,
		Shaders: []string{"testbed.comp.spv"},
		Desc: metadata.PipelineDesc{
			Type:     metadata.PipelineCompute,
			Implicit: metadata.ImplicitLayout{ConstantBuffers: 1, UnorderedAccess: 1},
		},
	}); err != nil {
		return err
	}

	if s.frameBegin, err = d.CreateQuery(&metadata.QueryDesc{Name: "testbed.begin", Type: metadata.QueryTimestamp}); err != nil {
		return err
	}
	if s.frameEnd, err = d.CreateQuery(&metadata.QueryDesc{Name: "testbed.end", Type: metadata.QueryTimestamp}); err != nil {
		return err
	}
	if s.frequency, err = d.CreateQuery(&metadata.QueryDesc{Type: metadata.QueryTimestampFrequency}); err != nil {
		return err
	}
	core.LogInfo("testbed ready: %dx%d target, %d checker mips", targetSize, targetSize, checker.Desc.MipLevels)
	return nil
}

func (s *gameState) Update(deltaTime float64) error {
	s.time += deltaTime
	s.frames++
	if s.frames%120 != 0 {
		return nil
	}
	d := s.engine.Device()
	begin, err := d.QueryRead(s.frameBegin)
	if err != nil {
		return err
	}
	end, err := d.QueryRead(s.frameEnd)
	if err != nil {
		return err
	}
	frequency, err := d.QueryRead(s.frequency)
	if err != nil {
		return err
	}
	if frequency.TimestampFrequency > 0 && end.Timestamp >= begin.Timestamp {
		gpu := float64(end.Timestamp-begin.Timestamp) / float64(frequency.TimestampFrequency) * 1000
		core.LogInfo("frame %d: draw pass %.3f ms on the gpu, %.3f ms average frame", d.FrameCount(), gpu, d.Metrics().FrameTime())
	}
	return nil
}

func float32Bytes(values ...float32) []byte {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[4*i:], stdmath.Float32bits(v))
	}
	return buf
}

func (s *gameState) Record(ctx *renderer.CommandContext, job int, deltaTime float64) error {
	switch job {
	case drawJob:
		return s.recordDraw(ctx)
	case noiseJob:
		return s.recordNoise(ctx)
	}
	return nil
}

func (s *gameState) recordDraw(ctx *renderer.CommandContext) error {
	pipeline, ok := s.engine.Shaders().Get(drawPipeline)
	if !ok {
		return nil
	}
	if err := ctx.EndQuery(s.frameBegin); err != nil {
		return err
	}
	if err := ctx.BeginRenderPass(s.pass); err != nil {
		return err
	}
	if err := ctx.SetPipeline(pipeline); err != nil {
		return err
	}
	if err := ctx.BindDescriptorTable(0, s.table); err != nil {
		return err
	}
	pulse := float32(0.5 + 0.5*stdmath.Sin(s.time))
	if err := ctx.BindRootConstants(0, float32Bytes(pulse, 1, 1, 1)); err != nil {
		return err
	}
	if err := ctx.Draw(3, 1, 0, 0); err != nil {
		return err
	}
	if err := ctx.EndRenderPass(); err != nil {
		return err
	}
	return ctx.EndQuery(s.frameEnd)
}

func (s *gameState) recordNoise(ctx *renderer.CommandContext) error {
	pipeline, ok := s.engine.Shaders().Get(noisePipeline)
	if !ok {
		return nil
	}
	if err := ctx.SetPipeline(pipeline); err != nil {
		return err
	}
	if err := ctx.UpdateBuffer(s.params, float32Bytes(float32(s.time), noiseSize, noiseSize, 0)); err != nil {
		return err
	}
	if err := ctx.BindConstantBuffer(0, s.params); err != nil {
		return err
	}
	if err := ctx.Transition(s.noise, metadata.LayoutUnorderedAccess); err != nil {
		return err
	}
	if err := ctx.BindUAV(0, s.noise); err != nil {
		return err
	}
	return ctx.Dispatch(noiseSize/8, noiseSize/8, 1)
}

func (s *gameState) Shutdown() error {
	if s.engine == nil {
		return nil
	}
	d := s.engine.Device()
	for _, h := range []metadata.Handle{
		s.frameBegin, s.frameEnd, s.frequency,
		s.table, s.pass, s.root, s.params, s.sampler, s.noise, s.checker, s.target,
	} {
		if h.IsNull() {
			continue
		}
		if err := d.Destroy(h); err != nil {
			core.LogWarn("testbed: destroy %s: %s", h, err.Error())
		}
	}
	return nil
}
