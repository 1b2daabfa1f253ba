package renderer

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// Device owns the resource arena, the command contexts and the frame counter of one
// backend. Resource creation and destruction are safe from any goroutine; command
// contexts are claimed per goroutine with BeginCommandContext.
type Device struct {
	backend  metadata.Backend
	config   core.DeviceConfig
	inFlight uint64

	handler  *AllocationHandler
	registry *registry
	metrics  *core.Metrics

	frameMu      sync.Mutex
	frameCount   atomic.Uint64
	needsAdvance bool
	lost         atomic.Bool

	contextsMu   sync.Mutex
	contexts     []*CommandContext
	contextCount atomic.Uint32

	queryHeaps [queryPoolCount]any
	shutdown   atomic.Bool
}

// NewDevice wraps backend. The backend is shut down with the device.
func NewDevice(backend metadata.Backend, config core.DeviceConfig) (*Device, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	metrics := core.NewMetrics()
	d := &Device{
		backend:  backend,
		config:   config,
		inFlight: uint64(config.InFlightFrames),
		handler:  NewAllocationHandler(backend, metrics, config.TimestampQueries, config.OcclusionQueries),
		registry: newRegistry(),
		metrics:  metrics,
		contexts: make([]*CommandContext, config.MaxCommandContexts),
	}
	var err error
	if d.queryHeaps[timestampPool], err = backend.CreateQueryHeap(metadata.QueryTimestamp, config.TimestampQueries); err != nil {
		return nil, fmt.Errorf("failed to create the timestamp query heap: %w", err)
	}
	if d.queryHeaps[occlusionPool], err = backend.CreateQueryHeap(metadata.QueryOcclusion, config.OcclusionQueries); err != nil {
		_ = backend.Release(metadata.CategoryQueryTimestamp, d.queryHeaps[timestampPool])
		return nil, fmt.Errorf("failed to create the occlusion query heap: %w", err)
	}
	core.LogInfo("device created on the %s backend with %d frames in flight", backend.Name(), d.inFlight)
	return d, nil
}

func (d *Device) Backend() metadata.Backend {
	return d.backend
}

func (d *Device) Config() core.DeviceConfig {
	return d.config
}

func (d *Device) Metrics() *core.Metrics {
	return d.metrics
}

func (d *Device) Handler() *AllocationHandler {
	return d.handler
}

// FrameCount returns the number of frames submitted so far.
func (d *Device) FrameCount() uint64 {
	return d.frameCount.Load()
}

func (d *Device) InFlightFrames() uint64 {
	return d.inFlight
}

func (d *Device) IsLost() bool {
	return d.lost.Load()
}

func (d *Device) checkLost() error {
	if d.lost.Load() {
		return core.ErrDeviceLost
	}
	return nil
}

// latch records a device-lost error returned by the backend.
func (d *Device) latch(err error) error {
	if errors.Is(err, core.ErrDeviceLost) {
		if !d.lost.Swap(true) {
			core.LogError("device lost: %s", err.Error())
		}
	}
	return err
}

func (d *Device) queryHeap(t metadata.QueryType) any {
	return d.queryHeaps[queryPool(t)]
}

func (d *Device) add(record *resourceRecord) metadata.Handle {
	if record.Name() == "" {
		record.SetName(d.backend, defaultName(record.kind))
	} else {
		record.SetName(d.backend, record.Name())
	}
	return d.registry.add(record)
}

func defaultName(kind metadata.ResourceKind) string {
	return fmt.Sprintf("%s-%s", kind, uuid.NewString())
}

func (d *Device) CreateBuffer(desc *metadata.BufferDesc, initialData []byte) (metadata.Handle, error) {
	if err := d.checkLost(); err != nil {
		return metadata.InvalidHandle, err
	}
	if desc.Size == 0 {
		return metadata.InvalidHandle, fmt.Errorf("buffer %q has zero size: %w", desc.Name, core.ErrInvalidDescriptor)
	}
	if desc.Usage == metadata.UsageImmutable && initialData == nil {
		return metadata.InvalidHandle, fmt.Errorf("immutable buffer %q needs initial data: %w", desc.Name, core.ErrInvalidDescriptor)
	}
	native, err := d.backend.CreateBuffer(desc, initialData)
	if err != nil {
		return metadata.InvalidHandle, fmt.Errorf("failed to create buffer %q: %w", desc.Name, d.latch(err))
	}
	record := newRecord(metadata.ResourceKindBuffer, desc.Name)
	record.buffer = &bufferData{desc: *desc, native: native}
	if desc.Usage == metadata.UsageDynamic {
		record.buffer.dynamic = make([]dynamicVersion, d.config.MaxCommandContexts)
	}
	return d.add(record), nil
}

func (d *Device) CreateTexture(desc *metadata.TextureDesc, initialData []metadata.SubresourceData) (metadata.Handle, error) {
	if err := d.checkLost(); err != nil {
		return metadata.InvalidHandle, err
	}
	if desc.Width == 0 || desc.Height == 0 || desc.Format == metadata.FormatUnknown {
		return metadata.InvalidHandle, fmt.Errorf("texture %q: %w", desc.Name, core.ErrInvalidDescriptor)
	}
	normalized := *desc
	if normalized.Depth == 0 {
		normalized.Depth = 1
	}
	if normalized.ArraySize == 0 {
		normalized.ArraySize = 1
	}
	if normalized.MipLevels == 0 {
		normalized.MipLevels = 1
	}
	if normalized.SampleCount == 0 {
		normalized.SampleCount = 1
	}
	image, view, err := d.backend.CreateTexture(&normalized, initialData)
	if err != nil {
		return metadata.InvalidHandle, fmt.Errorf("failed to create texture %q: %w", desc.Name, d.latch(err))
	}
	record := newRecord(metadata.ResourceKindTexture, desc.Name)
	record.texture = &textureData{desc: normalized, image: image, view: view}
	record.setLayout(normalized.InitialLayout)
	return d.add(record), nil
}

// WrapExternalTexture registers a texture created outside the device, such as a
// swapchain backbuffer. Destroying the handle never releases the native objects.
func (d *Device) WrapExternalTexture(desc *metadata.TextureDesc, image, view any) (metadata.Handle, error) {
	if image == nil {
		return metadata.InvalidHandle, fmt.Errorf("external texture %q has no image: %w", desc.Name, core.ErrInvalidDescriptor)
	}
	record := newRecord(metadata.ResourceKindTexture, desc.Name)
	record.external = true
	record.texture = &textureData{desc: *desc, image: image, view: view}
	record.setLayout(desc.InitialLayout)
	return d.add(record), nil
}

func (d *Device) CreateSampler(desc *metadata.SamplerDesc) (metadata.Handle, error) {
	if err := d.checkLost(); err != nil {
		return metadata.InvalidHandle, err
	}
	native, err := d.backend.CreateSampler(desc)
	if err != nil {
		return metadata.InvalidHandle, fmt.Errorf("failed to create sampler %q: %w", desc.Name, d.latch(err))
	}
	record := newRecord(metadata.ResourceKindSampler, desc.Name)
	record.sampler = &samplerData{desc: *desc, native: native}
	return d.add(record), nil
}

func (d *Device) CreateAccelerationStructure(desc *metadata.AccelerationStructureDesc) (metadata.Handle, error) {
	if err := d.checkLost(); err != nil {
		return metadata.InvalidHandle, err
	}
	if !d.backend.Limits().Raytracing {
		return metadata.InvalidHandle, fmt.Errorf("acceleration structure %q: %w", desc.Name, core.ErrNotSupported)
	}
	native, err := d.backend.CreateAccelerationStructure(desc)
	if err != nil {
		return metadata.InvalidHandle, fmt.Errorf("failed to create acceleration structure %q: %w", desc.Name, d.latch(err))
	}
	record := newRecord(metadata.ResourceKindAccelerationStructure, desc.Name)
	record.accel = &accelerationStructureData{desc: *desc, native: native}
	record.setLayout(metadata.LayoutAccelerationStructure)
	return d.add(record), nil
}

func (d *Device) CreateRootSignature(desc *metadata.RootSignatureDesc) (metadata.Handle, error) {
	if err := d.checkLost(); err != nil {
		return metadata.InvalidHandle, err
	}
	limits := d.backend.Limits()
	for _, table := range desc.Tables {
		if table.ResourceCount() > limits.ResourceDescriptors || table.SamplerCount() > limits.SamplerDescriptors {
			return metadata.InvalidHandle, fmt.Errorf("table %q of root signature %q exceeds the heap limits: %w", table.Name, desc.Name, core.ErrInvalidDescriptor)
		}
	}
	layout := metadata.BuildRootLayout(desc)
	native, err := d.backend.CreateRootSignature(&layout)
	if err != nil {
		return metadata.InvalidHandle, fmt.Errorf("failed to create root signature %q: %w", desc.Name, d.latch(err))
	}
	record := newRecord(metadata.ResourceKindRootSignature, desc.Name)
	record.rootSignature = &rootSignatureData{desc: *desc, native: native, layout: layout}
	return d.add(record), nil
}

func (d *Device) CreateRenderPipeline(desc *metadata.PipelineDesc) (metadata.Handle, error) {
	return d.createPipeline(desc, metadata.PipelineGraphics)
}

func (d *Device) CreateComputePipeline(desc *metadata.PipelineDesc) (metadata.Handle, error) {
	return d.createPipeline(desc, metadata.PipelineCompute)
}

func (d *Device) CreateRaytracingPipeline(desc *metadata.PipelineDesc) (metadata.Handle, error) {
	if !d.backend.Limits().Raytracing {
		return metadata.InvalidHandle, fmt.Errorf("raytracing pipeline %q: %w", desc.Name, core.ErrNotSupported)
	}
	return d.createPipeline(desc, metadata.PipelineRaytracing)
}

func (d *Device) createPipeline(desc *metadata.PipelineDesc, t metadata.PipelineType) (metadata.Handle, error) {
	if err := d.checkLost(); err != nil {
		return metadata.InvalidHandle, err
	}
	pipeline := &pipelineData{desc: *desc}
	pipeline.desc.Type = t

	if desc.RootSignature.IsNull() {
		implicit := desc.Implicit
		if implicit.ConstantBuffers > metadata.MaxConstantBufferSlots || implicit.Resources > metadata.MaxResourceSlots ||
			implicit.UnorderedAccess > metadata.MaxUnorderedSlots || implicit.Samplers > metadata.MaxSamplerSlots {
			return metadata.InvalidHandle, fmt.Errorf("pipeline %q declares more implicit slots than supported: %w", desc.Name, core.ErrInvalidDescriptor)
		}
		layout := metadata.BuildRootLayout(implicit.RootSignature())
		native, err := d.backend.CreateRootSignature(&layout)
		if err != nil {
			return metadata.InvalidHandle, fmt.Errorf("failed to create the root signature of pipeline %q: %w", desc.Name, d.latch(err))
		}
		pipeline.implicit = true
		pipeline.rootSignature = native
		pipeline.root = &layout
	} else {
		rs, err := d.registry.lookup(desc.RootSignature, metadata.ResourceKindRootSignature)
		if err != nil {
			return metadata.InvalidHandle, fmt.Errorf("pipeline %q: %w", desc.Name, err)
		}
		pipeline.rootSignature = rs.rootSignature.native
		layout := rs.rootSignature.layout
		pipeline.root = &layout
	}

	var renderPass any
	if !desc.RenderPass.IsNull() {
		rp, err := d.registry.lookup(desc.RenderPass, metadata.ResourceKindRenderPass)
		if err != nil {
			d.releaseImplicit(pipeline)
			return metadata.InvalidHandle, fmt.Errorf("pipeline %q: %w", desc.Name, err)
		}
		renderPass = rp.renderPass.native
	}

	native, err := d.backend.CreatePipeline(&metadata.NativePipelineDesc{
		Name:         desc.Name,
		Type:         t,
		Shaders:      desc.Shaders,
		Topology:     desc.Topology,
		Input:        desc.Input,
		Layout:       pipeline.rootSignature,
		Root:         pipeline.root,
		RenderPass:   renderPass,
		ColorFormats: desc.ColorFormats,
		DepthFormat:  desc.DepthFormat,
	})
	if err != nil {
		d.releaseImplicit(pipeline)
		return metadata.InvalidHandle, fmt.Errorf("failed to create pipeline %q: %w", desc.Name, d.latch(err))
	}
	pipeline.native = native
	record := newRecord(metadata.ResourceKindPipeline, desc.Name)
	record.pipeline = pipeline
	return d.add(record), nil
}

func (d *Device) releaseImplicit(p *pipelineData) {
	if p.implicit && p.rootSignature != nil {
		if err := d.backend.Release(metadata.CategoryRootSignature, p.rootSignature); err != nil {
			core.LogError("failed to release root signature: %s", err.Error())
		}
	}
}

func (d *Device) CreateRenderPass(desc *metadata.RenderPassDesc) (metadata.Handle, error) {
	if err := d.checkLost(); err != nil {
		return metadata.InvalidHandle, err
	}
	attachments := make([]passAttachment, len(desc.Attachments))
	targets := make([]metadata.RenderPassTarget, len(desc.Attachments))
	for i, a := range desc.Attachments {
		record, err := d.registry.lookup(a.Texture, metadata.ResourceKindTexture)
		if err != nil {
			return metadata.InvalidHandle, fmt.Errorf("render pass %q attachment %d: %w", desc.Name, i, err)
		}
		tex := record.texture
		attachments[i] = passAttachment{attachment: a, record: record}
		targets[i] = metadata.RenderPassTarget{
			Attachment:  a,
			Image:       tex.image,
			View:        tex.view,
			Format:      tex.desc.Format,
			Width:       tex.desc.Width,
			Height:      tex.desc.Height,
			SampleCount: tex.desc.SampleCount,
		}
	}
	native, err := d.backend.CreateRenderPass(targets)
	if err != nil {
		return metadata.InvalidHandle, fmt.Errorf("failed to create render pass %q: %w", desc.Name, d.latch(err))
	}
	begin, resolve, end := buildPassTransitions(attachments)
	record := newRecord(metadata.ResourceKindRenderPass, desc.Name)
	record.renderPass = &renderPassData{
		desc:    *desc,
		native:  native,
		targets: targets,
		begin:   begin,
		resolve: resolve,
		end:     end,
	}
	return d.add(record), nil
}

// CreateDescriptorTable creates a long-lived table whose descriptors are staged on
// the CPU and copied into the frame heaps every time the table is bound.
func (d *Device) CreateDescriptorTable(desc *metadata.DescriptorTableDesc) (metadata.Handle, error) {
	if err := d.checkLost(); err != nil {
		return metadata.InvalidHandle, err
	}
	resources := desc.ResourceCount()
	samplers := desc.SamplerCount()
	if resources == 0 && samplers == 0 {
		return metadata.InvalidHandle, fmt.Errorf("descriptor table %q is empty: %w", desc.Name, core.ErrInvalidDescriptor)
	}
	table := &descriptorTableData{desc: *desc}
	if resources > 0 {
		heap, err := d.backend.CreateDescriptorHeap(metadata.HeapResource, resources, false)
		if err != nil {
			return metadata.InvalidHandle, fmt.Errorf("failed to create descriptor table %q: %w", desc.Name, d.latch(err))
		}
		table.resources = heap
		for _, r := range desc.Resources {
			for i := uint32(0); i < r.Count; i++ {
				table.types = append(table.types, r.Type)
				table.dimensions = append(table.dimensions, r.Dimension)
			}
		}
		table.bound = make([]metadata.Handle, len(table.types))
		for i, t := range table.types {
			null := metadata.NullDescriptor(t, table.dimensions[i])
			d.backend.WriteDescriptor(heap, uint32(i), &null)
		}
	}
	if samplers > 0 {
		heap, err := d.backend.CreateDescriptorHeap(metadata.HeapSampler, samplers, false)
		if err != nil {
			if table.resources != nil {
				_ = d.backend.Release(metadata.CategoryDescriptorHeap, table.resources)
			}
			return metadata.InvalidHandle, fmt.Errorf("failed to create descriptor table %q: %w", desc.Name, d.latch(err))
		}
		table.samplers = heap
		table.boundSamplers = make([]metadata.Handle, samplers)
		for i := uint32(0); i < samplers; i++ {
			null := metadata.NullDescriptor(metadata.DescriptorSampler, metadata.DimensionTexture2D)
			d.backend.WriteDescriptor(heap, i, &null)
		}
	}
	record := newRecord(metadata.ResourceKindDescriptorTable, desc.Name)
	record.table = table
	return d.add(record), nil
}

// WriteDescriptor stores resource at flat index of the resource ranges of table. A
// null resource writes the null descriptor of the range, and so does a resource
// destroyed after it was written, from the next bind of the table on.
func (d *Device) WriteDescriptor(table metadata.Handle, index uint32, resource metadata.Handle) error {
	record, err := d.registry.lookup(table, metadata.ResourceKindDescriptorTable)
	if err != nil {
		return err
	}
	t := record.table
	if int(index) >= len(t.types) {
		return fmt.Errorf("descriptor %d out of range of table %q: %w", index, record.Name(), core.ErrInvalidDescriptor)
	}
	desc := metadata.NullDescriptor(t.types[index], t.dimensions[index])
	if !resource.IsNull() {
		r, err := d.registry.get(resource)
		if err != nil {
			return err
		}
		if r.kind == metadata.ResourceKindBuffer && r.buffer.desc.Usage == metadata.UsageDynamic && t.types[index] == metadata.DescriptorConstantBuffer {
			return fmt.Errorf("dynamic buffer %q cannot live in a descriptor table: %w", r.Name(), core.ErrInvalidDescriptor)
		}
		if desc, err = r.describe(t.types[index], 0, 0); err != nil {
			return err
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	d.backend.WriteDescriptor(t.resources, index, &desc)
	t.bound[index] = resource
	return nil
}

// WriteSamplerDescriptor stores sampler at index of the sampler ranges of table.
func (d *Device) WriteSamplerDescriptor(table metadata.Handle, index uint32, sampler metadata.Handle) error {
	record, err := d.registry.lookup(table, metadata.ResourceKindDescriptorTable)
	if err != nil {
		return err
	}
	t := record.table
	if index >= t.desc.SamplerCount() {
		return fmt.Errorf("sampler %d out of range of table %q: %w", index, record.Name(), core.ErrInvalidDescriptor)
	}
	desc := metadata.NullDescriptor(metadata.DescriptorSampler, metadata.DimensionTexture2D)
	if !sampler.IsNull() {
		s, err := d.registry.lookup(sampler, metadata.ResourceKindSampler)
		if err != nil {
			return err
		}
		if desc, err = s.describe(metadata.DescriptorSampler, 0, 0); err != nil {
			return err
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	d.backend.WriteDescriptor(t.samplers, index, &desc)
	t.boundSamplers[index] = sampler
	return nil
}

// CreateQuery takes an index from the pool of the query type. TimestampFrequency
// queries need no index.
func (d *Device) CreateQuery(desc *metadata.QueryDesc) (metadata.Handle, error) {
	if err := d.checkLost(); err != nil {
		return metadata.InvalidHandle, err
	}
	q := &queryData{desc: *desc}
	if desc.Type != metadata.QueryTimestampFrequency {
		index, err := d.handler.AcquireQuery(desc.Type)
		if err != nil {
			return metadata.InvalidHandle, err
		}
		q.index = index
	}
	record := newRecord(metadata.ResourceKindQuery, desc.Name)
	record.query = q
	return d.add(record), nil
}

// QueryRead returns the last resolved value of the query.
func (d *Device) QueryRead(h metadata.Handle) (metadata.QueryResult, error) {
	record, err := d.registry.lookup(h, metadata.ResourceKindQuery)
	if err != nil {
		return metadata.QueryResult{}, err
	}
	q := record.query
	var result metadata.QueryResult
	switch q.desc.Type {
	case metadata.QueryTimestampFrequency:
		result.TimestampFrequency = d.backend.TimestampFrequency()
		return result, nil
	case metadata.QueryTimestamp:
		result.TimestampFrequency = d.backend.TimestampFrequency()
	}
	value, err := d.backend.ReadQuery(d.queryHeap(q.desc.Type), q.desc.Type, q.index)
	if err != nil {
		return result, fmt.Errorf("failed to read %s query: %w", q.desc.Type, d.latch(err))
	}
	switch q.desc.Type {
	case metadata.QueryTimestamp:
		result.Timestamp = value
	case metadata.QueryOcclusion:
		result.PassedSampleCount = value
	case metadata.QueryOcclusionPredicate:
		if value > 0 {
			result.PassedSampleCount = 1
		}
	}
	return result, nil
}

// SetName renames the object behind h. An empty name gets a generated one.
func (d *Device) SetName(h metadata.Handle, name string) error {
	record, err := d.registry.get(h)
	if err != nil {
		return err
	}
	if name == "" {
		name = defaultName(record.kind)
	}
	record.SetName(d.backend, name)
	return nil
}

// Name returns the debug name of the object behind h.
func (d *Device) Name(h metadata.Handle) (string, error) {
	record, err := d.registry.get(h)
	if err != nil {
		return "", err
	}
	return record.Name(), nil
}

// Layout returns the live layout of a texture or buffer.
func (d *Device) Layout(h metadata.Handle) (metadata.Layout, error) {
	record, err := d.registry.get(h)
	if err != nil {
		return metadata.LayoutUndefined, err
	}
	return record.GetLayout(), nil
}

// Destroy invalidates h. The native objects are released once every frame that may
// still use them has completed.
func (d *Device) Destroy(h metadata.Handle) error {
	record, err := d.registry.remove(h)
	if err != nil {
		return err
	}
	record.retire(d.handler)
	return nil
}

// BeginCommandContext claims the next free command context and starts recording it
// for the current frame.
func (d *Device) BeginCommandContext() (*CommandContext, error) {
	if err := d.checkLost(); err != nil {
		return nil, err
	}
	if err := d.AdvanceFrame(); err != nil {
		return nil, err
	}

	var index uint32
	for {
		n := d.contextCount.Load()
		if n >= d.config.MaxCommandContexts {
			return nil, core.ErrCommandContextsExhausted
		}
		if d.contextCount.CompareAndSwap(n, n+1) {
			index = n
			break
		}
	}

	d.contextsMu.Lock()
	ctx := d.contexts[index]
	if ctx == nil {
		var err error
		if ctx, err = newCommandContext(d, index); err != nil {
			d.contextsMu.Unlock()
			return nil, err
		}
		d.contexts[index] = ctx
	}
	d.contextsMu.Unlock()

	if err := ctx.Reset(d.frameCount.Load()); err != nil {
		return nil, err
	}
	return ctx, nil
}

// Submit hands every claimed context to the backend in ascending index order and
// moves to the next frame. All claimed contexts must be closed.
func (d *Device) Submit() error {
	d.frameMu.Lock()
	defer d.frameMu.Unlock()
	if err := d.checkLost(); err != nil {
		return err
	}
	if err := d.advanceLocked(); err != nil {
		return err
	}

	count := d.contextCount.Load()
	d.contextsMu.Lock()
	lists := make([]metadata.CommandList, 0, count)
	claimed := d.contexts[:count]
	for _, ctx := range claimed {
		if ctx.state != ContextClosed {
			d.contextsMu.Unlock()
			return fmt.Errorf("context %d is %s at submit: %w", ctx.index, ctx.state, core.ErrInvalidState)
		}
		lists = append(lists, ctx.list)
	}
	d.contextsMu.Unlock()

	frame := d.frameCount.Load()
	if err := d.backend.Submit(lists, frame); err != nil {
		return fmt.Errorf("failed to submit frame %d: %w", frame, d.latch(err))
	}
	for _, ctx := range claimed {
		ctx.state = ContextIdle
	}
	d.contextCount.Store(0)
	d.frameCount.Add(1)
	d.needsAdvance = true
	d.metrics.Add(func(c *core.MetricsCounters) { c.FramesSubmitted++ })
	return nil
}

// AdvanceFrame waits until the frame slot about to be reused is free and releases
// the objects retired long enough ago. Calling it twice for one frame is a no-op.
func (d *Device) AdvanceFrame() error {
	d.frameMu.Lock()
	defer d.frameMu.Unlock()
	if err := d.checkLost(); err != nil {
		return err
	}
	return d.advanceLocked()
}

func (d *Device) advanceLocked() error {
	if !d.needsAdvance {
		return nil
	}
	frame := d.frameCount.Load()
	if frame >= d.inFlight {
		if err := d.backend.WaitForFrame(frame - d.inFlight + 1); err != nil {
			d.lost.Store(true)
			core.LogError("wait for frame %d failed: %s", frame-d.inFlight, err.Error())
			return fmt.Errorf("wait for frame %d: %w", frame-d.inFlight, core.ErrDeviceLost)
		}
	}
	d.handler.Update(frame, d.inFlight)
	d.needsAdvance = false
	return nil
}

// Shutdown waits for the device to go idle and releases everything it owns.
func (d *Device) Shutdown() error {
	if d.shutdown.Swap(true) {
		return nil
	}
	if !d.lost.Load() {
		if err := d.backend.WaitIdle(); err != nil {
			core.LogError("wait idle failed: %s", err.Error())
		}
	}
	d.registry.each(func(h metadata.Handle, record *resourceRecord) {
		record.retire(d.handler)
	})
	d.contextsMu.Lock()
	for _, ctx := range d.contexts {
		if ctx != nil {
			ctx.destroy()
		}
	}
	d.contexts = nil
	d.contextsMu.Unlock()
	d.handler.Retire(d.queryHeaps[timestampPool], metadata.CategoryQueryTimestamp)
	d.handler.Retire(d.queryHeaps[occlusionPool], metadata.CategoryQueryOcclusion)
	d.handler.Drain()
	core.LogInfo("device shut down after %d frames", d.frameCount.Load())
	return d.backend.Shutdown()
}
