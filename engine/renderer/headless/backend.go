// Package headless implements the backend primitives in memory. Commands are
// executed on submission so that copies, descriptor reads and queries behave like
// they would on a device, and every native object tracks how often it was released.
package headless

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// TimestampFrequency is the tick rate reported for timestamp queries.
const TimestampFrequency uint64 = 1000000000

// SubmittedFrame is the log of one Submit call.
type SubmittedFrame struct {
	Frame    uint64
	Contexts []uint32
	Lists    [][]Command
}

type Backend struct {
	mu     sync.Mutex
	cond   *sync.Cond
	manual bool

	nextID    uint64
	submitted uint64
	completed uint64
	lost      bool
	clock     uint64

	objects    []native
	frames     []SubmittedFrame
	violations []string
	lists      []*CommandList
}

// New returns a backend whose frames complete as soon as they are submitted.
func New() *Backend {
	b := &Backend{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// NewManual returns a backend whose frames only complete through Complete.
func NewManual() *Backend {
	b := New()
	b.manual = true
	return b
}

func (b *Backend) Name() string {
	return "headless"
}

func (b *Backend) Limits() metadata.Limits {
	limits := metadata.DefaultLimits()
	limits.Raytracing = true
	return limits
}

func (b *Backend) track(o *Object, category metadata.ObjectCategory, name string, n native) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	o.ID = b.nextID
	o.Category = category
	o.Name = name
	b.objects = append(b.objects, n)
}

func (b *Backend) CreateBuffer(desc *metadata.BufferDesc, initialData []byte) (any, error) {
	if desc.Size == 0 {
		return nil, fmt.Errorf("buffer %q has zero size", desc.Name)
	}
	if uint64(len(initialData)) > desc.Size {
		return nil, fmt.Errorf("buffer %q initial data is %d bytes, size is %d", desc.Name, len(initialData), desc.Size)
	}
	buf := &Buffer{Desc: *desc, Data: make([]byte, desc.Size)}
	copy(buf.Data, initialData)
	b.track(&buf.Object, metadata.CategoryBuffer, desc.Name, buf)
	return buf, nil
}

func (b *Backend) CreateTexture(desc *metadata.TextureDesc, initialData []metadata.SubresourceData) (any, any, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return nil, nil, fmt.Errorf("texture %q has an empty extent", desc.Name)
	}
	tex := &Texture{Desc: *desc, Subresources: append([]metadata.SubresourceData(nil), initialData...)}
	b.track(&tex.Object, metadata.CategoryImage, desc.Name, tex)
	view := &View{Texture: tex}
	b.track(&view.Object, metadata.CategoryView, desc.Name, view)
	return tex, view, nil
}

func (b *Backend) CreateSampler(desc *metadata.SamplerDesc) (any, error) {
	s := &Sampler{Desc: *desc}
	b.track(&s.Object, metadata.CategorySampler, desc.Name, s)
	return s, nil
}

func (b *Backend) CreateRootSignature(layout *metadata.RootLayout) (any, error) {
	rs := &RootSignature{Layout: *layout}
	b.track(&rs.Object, metadata.CategoryRootSignature, "", rs)
	return rs, nil
}

func (b *Backend) CreatePipeline(desc *metadata.NativePipelineDesc) (any, error) {
	if desc.Layout == nil {
		return nil, fmt.Errorf("pipeline %q has no root signature", desc.Name)
	}
	p := &Pipeline{Desc: *desc}
	b.track(&p.Object, metadata.CategoryPipeline, desc.Name, p)
	return p, nil
}

func (b *Backend) CreateRenderPass(targets []metadata.RenderPassTarget) (any, error) {
	rp := &RenderPass{Targets: append([]metadata.RenderPassTarget(nil), targets...)}
	b.track(&rp.Object, metadata.CategoryRenderPass, "", rp)
	return rp, nil
}

func (b *Backend) CreateDescriptorHeap(kind metadata.HeapKind, capacity uint32, shaderVisible bool) (any, error) {
	limit := metadata.ResourceDescriptorLimit
	if kind == metadata.HeapSampler {
		limit = metadata.SamplerDescriptorLimit
	}
	if shaderVisible && capacity > limit {
		return nil, fmt.Errorf("descriptor heap of %d exceeds the limit of %d", capacity, limit)
	}
	h := &Heap{Kind: kind, Capacity: capacity, ShaderVisible: shaderVisible, descriptors: make(map[uint32]metadata.Descriptor)}
	b.track(&h.Object, metadata.CategoryDescriptorHeap, "", h)
	return h, nil
}

func (b *Backend) CreateQueryHeap(t metadata.QueryType, count uint32) (any, error) {
	q := &QueryHeap{Type: t, values: make([]uint64, count)}
	category := metadata.CategoryQueryTimestamp
	if t.UsesOcclusionPool() {
		category = metadata.CategoryQueryOcclusion
	}
	b.track(&q.Object, category, "", q)
	return q, nil
}

func (b *Backend) CreateAccelerationStructure(desc *metadata.AccelerationStructureDesc) (any, error) {
	as := &AccelerationStructure{Desc: *desc}
	b.track(&as.Object, metadata.CategoryAccelerationStructure, desc.Name, as)
	return as, nil
}

func (b *Backend) Release(category metadata.ObjectCategory, object any) error {
	n, ok := object.(native)
	if !ok {
		return fmt.Errorf("release of foreign %s object %T", category, object)
	}
	o := n.object()
	if o.released.Add(1) > 1 {
		return fmt.Errorf("%s object %d (%s) released twice", category, o.ID, o.Name)
	}
	return nil
}

func (b *Backend) SetName(object any, name string) {
	if n, ok := object.(native); ok {
		b.mu.Lock()
		n.object().Name = name
		b.mu.Unlock()
	}
}

func (b *Backend) MapBuffer(buffer any) ([]byte, error) {
	buf, ok := buffer.(*Buffer)
	if !ok {
		return nil, fmt.Errorf("map of %T: %w", buffer, core.ErrInvalidHandle)
	}
	switch buf.Desc.Usage {
	case metadata.UsageUpload, metadata.UsageDynamic, metadata.UsageReadback:
		return buf.Data, nil
	}
	return nil, fmt.Errorf("buffer %q is not CPU visible", buf.Desc.Name)
}

func (b *Backend) WriteDescriptor(heap any, index uint32, desc *metadata.Descriptor) {
	h := heap.(*Heap)
	b.mu.Lock()
	defer b.mu.Unlock()
	if h.Released() {
		b.violationLocked(fmt.Sprintf("write to released heap %d", h.ID))
	}
	if index >= h.Capacity {
		b.violationLocked(fmt.Sprintf("write at %d past heap %d capacity %d", index, h.ID, h.Capacity))
		return
	}
	h.descriptors[index] = *desc
}

func (b *Backend) CopyDescriptors(dst any, dstOffset uint32, src any, srcOffset uint32, count uint32) {
	d, s := dst.(*Heap), src.(*Heap)
	b.mu.Lock()
	defer b.mu.Unlock()
	if dstOffset+count > d.Capacity || srcOffset+count > s.Capacity {
		b.violationLocked(fmt.Sprintf("descriptor copy of %d out of range", count))
		return
	}
	for i := uint32(0); i < count; i++ {
		if desc, ok := s.descriptors[srcOffset+i]; ok {
			d.descriptors[dstOffset+i] = desc
		} else {
			delete(d.descriptors, dstOffset+i)
		}
	}
}

func (b *Backend) CreateCommandList(index uint32, frameSlots uint32) (metadata.CommandList, error) {
	if frameSlots == 0 {
		return nil, fmt.Errorf("command list %d needs at least one frame slot", index)
	}
	cl := &CommandList{backend: b, index: index, slots: frameSlots}
	b.mu.Lock()
	b.lists = append(b.lists, cl)
	b.mu.Unlock()
	return cl, nil
}

func (b *Backend) Submit(lists []metadata.CommandList, frame uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lost {
		return core.ErrDeviceLost
	}
	log := SubmittedFrame{Frame: frame}
	for _, l := range lists {
		cl, ok := l.(*CommandList)
		if !ok {
			return fmt.Errorf("submit of foreign command list %T", l)
		}
		if cl.recording {
			return fmt.Errorf("command list %d submitted while recording: %w", cl.index, core.ErrInvalidState)
		}
		b.execute(cl.commands)
		log.Contexts = append(log.Contexts, cl.index)
		log.Lists = append(log.Lists, append([]Command(nil), cl.commands...))
	}
	b.frames = append(b.frames, log)
	b.submitted = frame + 1
	if !b.manual {
		b.completed = b.submitted
		b.cond.Broadcast()
	}
	return nil
}

// Complete marks every frame up to and including frame as finished.
func (b *Backend) Complete(frame uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if frame+1 > b.completed {
		b.completed = frame + 1
	}
	b.cond.Broadcast()
}

// Lose makes subsequent submissions and waits report core.ErrDeviceLost.
func (b *Backend) Lose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lost = true
	b.cond.Broadcast()
}

func (b *Backend) CompletedFrame() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.completed
}

func (b *Backend) WaitForFrame(count uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.completed < count {
		if b.lost {
			return core.ErrDeviceLost
		}
		if count > b.submitted {
			return fmt.Errorf("wait for frame %d, only %d submitted: %w", count, b.submitted, core.ErrInvalidState)
		}
		b.cond.Wait()
	}
	return nil
}

func (b *Backend) WaitIdle() error {
	b.mu.Lock()
	submitted := b.submitted
	b.mu.Unlock()
	return b.WaitForFrame(submitted)
}

func (b *Backend) ReadQuery(heap any, t metadata.QueryType, index uint32) (uint64, error) {
	q, ok := heap.(*QueryHeap)
	if !ok {
		return 0, fmt.Errorf("query read from %T: %w", heap, core.ErrInvalidHandle)
	}
	if int(index) >= len(q.values) {
		return 0, fmt.Errorf("query index %d out of range", index)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return q.values[index], nil
}

func (b *Backend) TimestampFrequency() uint64 {
	return TimestampFrequency
}

func (b *Backend) Shutdown() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, l := range b.lists {
		l.commands = nil
	}
	b.lists = nil
	return nil
}

func (b *Backend) violation(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.violationLocked(msg)
}

func (b *Backend) violationLocked(msg string) {
	core.LogWarn("headless: %s", msg)
	b.violations = append(b.violations, msg)
}

// Violations lists every use of a released object and every out-of-range access
// seen so far.
func (b *Backend) Violations() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.violations...)
}

// Frames returns the submission log.
func (b *Backend) Frames() []SubmittedFrame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]SubmittedFrame(nil), b.frames...)
}

// Objects returns every object created so far, released or not.
func (b *Backend) Objects() []*Object {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Object, len(b.objects))
	for i, n := range b.objects {
		out[i] = n.object()
	}
	return out
}

// Live counts the objects of a category that were not released yet.
func (b *Backend) Live(category metadata.ObjectCategory) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, o := range b.objects {
		if obj := o.object(); obj.Category == category && !obj.Released() {
			n++
		}
	}
	return n
}
