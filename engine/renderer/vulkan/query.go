package vulkan

import (
	"fmt"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// queryHeap is a query pool plus the last value read back for every index.
type queryHeap struct {
	nativeObject
	t    metadata.QueryType
	pool vk.QueryPool

	mu     sync.Mutex
	values []uint64
}

func (b *Backend) CreateQueryHeap(t metadata.QueryType, count uint32) (any, error) {
	if count == 0 {
		return &queryHeap{t: t}, nil
	}
	queryType := vk.QueryTypeTimestamp
	if t.UsesOcclusionPool() {
		queryType = vk.QueryTypeOcclusion
	}
	var pool vk.QueryPool
	res := vk.CreateQueryPool(b.context.Device.LogicalDevice, &vk.QueryPoolCreateInfo{
		SType:      vk.StructureTypeQueryPoolCreateInfo,
		QueryType:  queryType,
		QueryCount: count,
	}, b.context.Allocator, &pool)
	if err := resultError("vkCreateQueryPool", res); err != nil {
		return nil, err
	}
	return &queryHeap{t: t, pool: pool, values: make([]uint64, count)}, nil
}

func (q *queryHeap) destroy(context *VulkanContext) {
	if q.pool != nil {
		vk.DestroyQueryPool(context.Device.LogicalDevice, q.pool, context.Allocator)
		q.pool = nil
	}
}

// ReadQuery returns the newest available value. A query still in flight reports
// the value from its previous use.
func (b *Backend) ReadQuery(heap any, t metadata.QueryType, index uint32) (uint64, error) {
	q, ok := heap.(*queryHeap)
	if !ok {
		return 0, fmt.Errorf("query read from %T: %w", heap, core.ErrInvalidHandle)
	}
	if int(index) >= len(q.values) {
		return 0, fmt.Errorf("query index %d out of range", index)
	}

	var value uint64
	res := vk.GetQueryPoolResults(b.context.Device.LogicalDevice, q.pool, index, 1,
		uint64(unsafe.Sizeof(value)), unsafe.Pointer(&value), vk.DeviceSize(unsafe.Sizeof(value)),
		vk.QueryResultFlags(vk.QueryResult64Bit))

	q.mu.Lock()
	defer q.mu.Unlock()
	switch res {
	case vk.Success:
		q.values[index] = value
	case vk.NotReady:
	default:
		return 0, resultError("vkGetQueryPoolResults", res)
	}
	return q.values[index], nil
}

func (b *Backend) TimestampFrequency() uint64 {
	return b.frequency
}

// queryResets collects the query indices a command list touched so they can be
// reset ahead of the list in the same submission.
type queryResets struct {
	indices map[*queryHeap][]uint32
}

func (r *queryResets) add(q *queryHeap, index uint32) {
	if r.indices == nil {
		r.indices = make(map[*queryHeap][]uint32)
	}
	r.indices[q] = append(r.indices[q], index)
}

func (r *queryResets) clear() {
	clear(r.indices)
}

func (r *queryResets) record(cb vk.CommandBuffer) {
	for q, indices := range r.indices {
		for _, index := range indices {
			vk.CmdResetQueryPool(cb, q.pool, index, 1)
		}
	}
}
