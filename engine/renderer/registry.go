package renderer

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/math"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

type bufferData struct {
	desc   metadata.BufferDesc
	native any
	// dynamic holds the per command context version of a dynamic buffer.
	dynamic []dynamicVersion
}

type dynamicVersion struct {
	allocation RingAllocation
	frame      uint64
}

type textureData struct {
	desc  metadata.TextureDesc
	image any
	view  any
}

type samplerData struct {
	desc   metadata.SamplerDesc
	native any
}

type pipelineData struct {
	desc   metadata.PipelineDesc
	native any
	// rootSignature is the native layout; owned when the pipeline is implicit.
	rootSignature any
	root          *metadata.RootLayout
	implicit      bool
}

type rootSignatureData struct {
	desc   metadata.RootSignatureDesc
	native any
	layout metadata.RootLayout
}

type descriptorTableData struct {
	desc      metadata.DescriptorTableDesc
	resources any
	samplers  any
	// types holds the descriptor type of every flat resource index.
	types      []metadata.DescriptorType
	dimensions []metadata.ViewDimension

	// mu guards the staging heaps and the handles written into them.
	mu            sync.Mutex
	bound         []metadata.Handle
	boundSamplers []metadata.Handle
}

// scrub replaces every descriptor whose resource was destroyed since it was written
// with the null descriptor of its range. Called with t.mu held.
func (t *descriptorTableData) scrub(backend metadata.Backend, reg *registry) {
	for i, h := range t.bound {
		if h.IsNull() {
			continue
		}
		if _, err := reg.get(h); err == nil {
			continue
		}
		null := metadata.NullDescriptor(t.types[i], t.dimensions[i])
		backend.WriteDescriptor(t.resources, uint32(i), &null)
		t.bound[i] = metadata.InvalidHandle
	}
	for i, h := range t.boundSamplers {
		if h.IsNull() {
			continue
		}
		if _, err := reg.get(h); err == nil {
			continue
		}
		null := metadata.NullDescriptor(metadata.DescriptorSampler, metadata.DimensionTexture2D)
		backend.WriteDescriptor(t.samplers, uint32(i), &null)
		t.boundSamplers[i] = metadata.InvalidHandle
	}
}

type passTransition struct {
	record *resourceRecord
	before metadata.Layout
	after  metadata.Layout
}

type renderPassData struct {
	desc    metadata.RenderPassDesc
	native  any
	targets []metadata.RenderPassTarget
	begin   []passTransition
	resolve []passTransition
	end     []passTransition
}

type queryData struct {
	desc  metadata.QueryDesc
	index uint32
}

type accelerationStructureData struct {
	desc   metadata.AccelerationStructureDesc
	native any
}

// resourceRecord is the arena entry behind a Handle. Exactly one payload matching
// kind is set.
type resourceRecord struct {
	kind     metadata.ResourceKind
	external bool

	nameMu sync.Mutex
	name   string
	layout atomic.Uint32
	valid  atomic.Bool

	buffer        *bufferData
	texture       *textureData
	sampler       *samplerData
	pipeline      *pipelineData
	rootSignature *rootSignatureData
	table         *descriptorTableData
	renderPass    *renderPassData
	query         *queryData
	accel         *accelerationStructureData
}

func newRecord(kind metadata.ResourceKind, name string) *resourceRecord {
	r := &resourceRecord{kind: kind, name: name}
	r.valid.Store(true)
	return r
}

func (r *resourceRecord) IsValid() bool {
	return r != nil && r.valid.Load()
}

func (r *resourceRecord) GetLayout() metadata.Layout {
	return metadata.Layout(r.layout.Load())
}

func (r *resourceRecord) setLayout(l metadata.Layout) {
	r.layout.Store(uint32(l))
}

func (r *resourceRecord) Name() string {
	r.nameMu.Lock()
	defer r.nameMu.Unlock()
	return r.name
}

// SetName stores name and forwards it to every native object of the record.
func (r *resourceRecord) SetName(backend metadata.Backend, name string) {
	r.nameMu.Lock()
	r.name = name
	r.nameMu.Unlock()
	for _, n := range r.natives() {
		backend.SetName(n.object, name)
	}
}

// native returns the object barriers and descriptors refer to.
func (r *resourceRecord) native() any {
	switch r.kind {
	case metadata.ResourceKindBuffer:
		return r.buffer.native
	case metadata.ResourceKindTexture:
		return r.texture.image
	case metadata.ResourceKindAccelerationStructure:
		return r.accel.native
	}
	return nil
}

type ownedNative struct {
	object   any
	category metadata.ObjectCategory
}

func (r *resourceRecord) natives() []ownedNative {
	switch r.kind {
	case metadata.ResourceKindBuffer:
		return []ownedNative{{r.buffer.native, metadata.CategoryBuffer}}
	case metadata.ResourceKindTexture:
		return []ownedNative{{r.texture.view, metadata.CategoryView}, {r.texture.image, metadata.CategoryImage}}
	case metadata.ResourceKindSampler:
		return []ownedNative{{r.sampler.native, metadata.CategorySampler}}
	case metadata.ResourceKindPipeline:
		owned := []ownedNative{{r.pipeline.native, metadata.CategoryPipeline}}
		if r.pipeline.implicit {
			owned = append(owned, ownedNative{r.pipeline.rootSignature, metadata.CategoryRootSignature})
		}
		return owned
	case metadata.ResourceKindRootSignature:
		return []ownedNative{{r.rootSignature.native, metadata.CategoryRootSignature}}
	case metadata.ResourceKindDescriptorTable:
		return []ownedNative{{r.table.resources, metadata.CategoryDescriptorHeap}, {r.table.samplers, metadata.CategoryDescriptorHeap}}
	case metadata.ResourceKindRenderPass:
		return []ownedNative{{r.renderPass.native, metadata.CategoryRenderPass}}
	case metadata.ResourceKindAccelerationStructure:
		return []ownedNative{{r.accel.native, metadata.CategoryAccelerationStructure}}
	}
	return nil
}

// retire hands the record's native objects to the allocation handler. External
// textures are owned elsewhere and are never released.
func (r *resourceRecord) retire(handler *AllocationHandler) {
	r.valid.Store(false)
	if r.external {
		return
	}
	if r.kind == metadata.ResourceKindQuery {
		if r.query.desc.Type != metadata.QueryTimestampFrequency {
			handler.RetireQuery(r.query.desc.Type, r.query.index)
		}
		return
	}
	for _, n := range r.natives() {
		handler.Retire(n.object, n.category)
	}
}

// describe builds the descriptor that binds r as type t. context selects the version
// of a dynamic buffer; frame is the frame that version must come from.
func (r *resourceRecord) describe(t metadata.DescriptorType, context uint32, frame uint64) (metadata.Descriptor, error) {
	switch {
	case r.kind == metadata.ResourceKindBuffer && (t == metadata.DescriptorConstantBuffer || t == metadata.DescriptorShaderResource || t == metadata.DescriptorUnorderedAccess):
		b := r.buffer
		if t == metadata.DescriptorConstantBuffer && b.desc.Usage == metadata.UsageDynamic {
			version := b.dynamic[context]
			if !version.allocation.IsValid() || version.frame != frame {
				return metadata.Descriptor{}, fmt.Errorf("dynamic buffer %q was not updated this frame", r.Name())
			}
			return metadata.Descriptor{
				Type:      t,
				Dimension: metadata.DimensionBuffer,
				Resource:  version.allocation.Buffer,
				Offset:    version.allocation.Offset,
				Size:      math.AlignUp(b.desc.Size, metadata.ConstantBufferAlignment),
			}, nil
		}
		size := b.desc.Size
		if t == metadata.DescriptorConstantBuffer {
			size = math.AlignUp(size, metadata.ConstantBufferAlignment)
		}
		return metadata.Descriptor{Type: t, Dimension: metadata.DimensionBuffer, Resource: b.native, Size: size}, nil
	case r.kind == metadata.ResourceKindTexture && (t == metadata.DescriptorShaderResource || t == metadata.DescriptorUnorderedAccess):
		return metadata.Descriptor{Type: t, Dimension: textureDimension(r.texture.desc.Type), Resource: r.texture.image, View: r.texture.view}, nil
	case r.kind == metadata.ResourceKindAccelerationStructure && t == metadata.DescriptorShaderResource:
		return metadata.Descriptor{Type: t, Dimension: metadata.DimensionAccelerationStructure, Resource: r.accel.native}, nil
	case r.kind == metadata.ResourceKindSampler && t == metadata.DescriptorSampler:
		desc := r.sampler.desc
		return metadata.Descriptor{Type: t, Resource: r.sampler.native, Sampler: &desc}, nil
	}
	return metadata.Descriptor{}, fmt.Errorf("%s cannot be bound as %s: %w", r.kind, t, core.ErrInvalidDescriptor)
}

func textureDimension(t metadata.TextureType) metadata.ViewDimension {
	switch t {
	case metadata.Texture1D:
		return metadata.DimensionTexture1D
	case metadata.Texture3D:
		return metadata.DimensionTexture3D
	case metadata.TextureCube:
		return metadata.DimensionTextureCube
	}
	return metadata.DimensionTexture2D
}

// registry is the device-owned handle arena.
type registry struct {
	pool *core.IdentifierPool[*resourceRecord]
}

func newRegistry() *registry {
	return &registry{pool: core.NewIdentifierPool[*resourceRecord](256)}
}

func (r *registry) add(record *resourceRecord) metadata.Handle {
	id, generation := r.pool.Acquire(record)
	return metadata.Handle{Kind: record.kind, Index: id, Generation: generation}
}

func (r *registry) lookup(h metadata.Handle, kind metadata.ResourceKind) (*resourceRecord, error) {
	if h.IsNull() || h.Kind != kind {
		return nil, fmt.Errorf("%s is not a %s: %w", h, kind, core.ErrInvalidHandle)
	}
	record, ok := r.pool.Lookup(h.Index, h.Generation)
	if !ok || record.kind != kind {
		return nil, fmt.Errorf("%s: %w", h, core.ErrInvalidHandle)
	}
	return record, nil
}

// get resolves h whatever its kind.
func (r *registry) get(h metadata.Handle) (*resourceRecord, error) {
	return r.lookup(h, h.Kind)
}

func (r *registry) remove(h metadata.Handle) (*resourceRecord, error) {
	if _, err := r.get(h); err != nil {
		return nil, err
	}
	return r.pool.Release(h.Index, h.Generation)
}

func (r *registry) each(fn func(h metadata.Handle, record *resourceRecord)) {
	r.pool.Each(func(id, generation uint32, record *resourceRecord) {
		fn(metadata.Handle{Kind: record.kind, Index: id, Generation: generation}, record)
	})
}
