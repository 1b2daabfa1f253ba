package renderer

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/anima-rhi/engine/containers"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// fatal terminates on capability mismatches and failed native releases.
var fatal = core.LogFatal

type retiredObject struct {
	object any
	frame  uint64
}

type retiredQuery struct {
	index uint32
	frame uint64
}

const (
	timestampPool = iota
	occlusionPool
	queryPoolCount
)

func queryPool(t metadata.QueryType) int {
	if t.UsesOcclusionPool() {
		return occlusionPool
	}
	return timestampPool
}

// AllocationHandler defers the release of native objects until the frames that may
// still reference them have completed. It is shared by every resource of a device.
type AllocationHandler struct {
	mu      sync.Mutex
	backend metadata.Backend
	metrics *core.Metrics
	frame   uint64

	retired [metadata.CategoryCount]*containers.RingQueue[retiredObject]

	retiredQueries [queryPoolCount]*containers.RingQueue[retiredQuery]
	freeQueries    [queryPoolCount]*containers.RingQueue[uint32]
}

func NewAllocationHandler(backend metadata.Backend, metrics *core.Metrics, timestampQueries, occlusionQueries uint32) *AllocationHandler {
	h := &AllocationHandler{
		backend: backend,
		metrics: metrics,
	}
	for i := range h.retired {
		h.retired[i] = containers.NewGrowableRingQueue[retiredObject](64)
	}
	counts := [queryPoolCount]uint32{timestampQueries, occlusionQueries}
	for i, count := range counts {
		h.retiredQueries[i] = containers.NewGrowableRingQueue[retiredQuery](16)
		h.freeQueries[i] = containers.NewRingQueue[uint32](int(count))
		for index := uint32(0); index < count; index++ {
			_ = h.freeQueries[i].Enqueue(index)
		}
	}
	return h
}

// Retire queues object for release once the current frame is no longer in flight.
func (h *AllocationHandler) Retire(object any, category metadata.ObjectCategory) {
	if object == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = h.retired[category].Enqueue(retiredObject{object: object, frame: h.frame})
	h.metrics.Add(func(c *core.MetricsCounters) { c.ObjectsRetired++ })
}

// AcquireQuery pops a free query index of the pool serving t.
func (h *AllocationHandler) AcquireQuery(t metadata.QueryType) (uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	index, err := h.freeQueries[queryPool(t)].Dequeue()
	if err != nil {
		return 0, fmt.Errorf("%s query: %w", t, core.ErrQueryPoolExhausted)
	}
	return index, nil
}

// RetireQuery returns index to its free pool once the current frame completes.
func (h *AllocationHandler) RetireQuery(t metadata.QueryType, index uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = h.retiredQueries[queryPool(t)].Enqueue(retiredQuery{index: index, frame: h.frame})
}

// Frame returns the frame number new retirements are tagged with.
func (h *AllocationHandler) Frame() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frame
}

// Update releases every entry retired at least inFlight frames before frameCount.
// Each queue is scanned from its head and stops at the first entry still in use.
func (h *AllocationHandler) Update(frameCount, inFlight uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frame = frameCount

	released := 0
	for category, queue := range h.retired {
		for !queue.IsEmpty() {
			entry, _ := queue.Peek()
			if frameCount-entry.frame < inFlight {
				break
			}
			_, _ = queue.Dequeue()
			h.release(metadata.ObjectCategory(category), entry.object)
			released++
		}
	}
	for pool, queue := range h.retiredQueries {
		for !queue.IsEmpty() {
			entry, _ := queue.Peek()
			if frameCount-entry.frame < inFlight {
				break
			}
			_, _ = queue.Dequeue()
			_ = h.freeQueries[pool].Enqueue(entry.index)
		}
	}
	if released > 0 {
		h.metrics.Add(func(c *core.MetricsCounters) { c.ObjectsReleased += uint64(released) })
	}
}

// Drain releases everything still queued. Only valid once the device is idle.
func (h *AllocationHandler) Drain() {
	h.mu.Lock()
	defer h.mu.Unlock()
	released := 0
	for category, queue := range h.retired {
		for !queue.IsEmpty() {
			entry, _ := queue.Dequeue()
			h.release(metadata.ObjectCategory(category), entry.object)
			released++
		}
	}
	for pool, queue := range h.retiredQueries {
		for !queue.IsEmpty() {
			entry, _ := queue.Dequeue()
			_ = h.freeQueries[pool].Enqueue(entry.index)
		}
	}
	h.metrics.Add(func(c *core.MetricsCounters) { c.ObjectsReleased += uint64(released) })
}

// Pending returns the number of objects of category waiting for release.
func (h *AllocationHandler) Pending(category metadata.ObjectCategory) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.retired[category].Len()
}

func (h *AllocationHandler) release(category metadata.ObjectCategory, object any) {
	if err := h.backend.Release(category, object); err != nil {
		fatal("failed to release %s object: %s", category, err.Error())
	}
}
