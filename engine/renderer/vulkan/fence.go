package vulkan

import (
	"fmt"
	"math"
	"sync"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rhi/engine/core"
)

type VulkanFence struct {
	Handle     vk.Fence
	IsSignaled bool
}

func NewFence(context *VulkanContext, createSignaled bool) (*VulkanFence, error) {
	fence := &VulkanFence{
		IsSignaled: createSignaled,
	}

	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if fence.IsSignaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}

	var pFence vk.Fence
	if res := vk.CreateFence(context.Device.LogicalDevice, &fenceCreateInfo, context.Allocator, &pFence); res != vk.Success {
		return nil, resultError("vkCreateFence", res)
	}
	fence.Handle = pFence
	return fence, nil
}

func (vf *VulkanFence) Destroy(context *VulkanContext) {
	if vf.Handle != vk.NullFence {
		vk.DestroyFence(context.Device.LogicalDevice, vf.Handle, context.Allocator)
		vf.Handle = vk.NullFence
	}
	vf.IsSignaled = false
}

func (vf *VulkanFence) Wait(context *VulkanContext, timeoutNs uint64) error {
	if vf.IsSignaled {
		return nil
	}
	result := vk.WaitForFences(context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}, vk.True, timeoutNs)
	if result == vk.Timeout {
		core.LogWarn("vk_fence_wait - Timed out")
		return fmt.Errorf("fence wait timed out")
	}
	if err := resultError("vkWaitForFences", result); err != nil {
		return err
	}
	vf.IsSignaled = true
	return nil
}

// Poll checks the fence without blocking.
func (vf *VulkanFence) Poll(context *VulkanContext) (bool, error) {
	if vf.IsSignaled {
		return true, nil
	}
	switch result := vk.GetFenceStatus(context.Device.LogicalDevice, vf.Handle); result {
	case vk.Success:
		vf.IsSignaled = true
		return true, nil
	case vk.NotReady:
		return false, nil
	default:
		return false, resultError("vkGetFenceStatus", result)
	}
}

func (vf *VulkanFence) Reset(context *VulkanContext) error {
	if vf.IsSignaled {
		if res := vk.ResetFences(context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}); res != vk.Success {
			return resultError("vkResetFences", res)
		}
		vf.IsSignaled = false
	}
	return nil
}

type submittedFrame struct {
	frame uint64
	fence *VulkanFence
}

// frameTimeline maps submitted frame numbers onto fences. The queue retires
// submissions in order, so completion only ever advances over a prefix.
type frameTimeline struct {
	mu      sync.Mutex
	context *VulkanContext

	pending   []submittedFrame
	free      []*VulkanFence
	submitted uint64
	completed uint64
}

func newFrameTimeline(context *VulkanContext) *frameTimeline {
	return &frameTimeline{context: context}
}

func (t *frameTimeline) acquire() (*VulkanFence, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.free); n > 0 {
		fence := t.free[n-1]
		t.free = t.free[:n-1]
		if err := fence.Reset(t.context); err != nil {
			return nil, err
		}
		return fence, nil
	}
	return NewFence(t.context, false)
}

func (t *frameTimeline) push(frame uint64, fence *VulkanFence) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pending = append(t.pending, submittedFrame{frame: frame, fence: fence})
	t.submitted = frame + 1
}

// release puts a fence that was never submitted back on the free list.
func (t *frameTimeline) release(fence *VulkanFence) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.free = append(t.free, fence)
}

func (t *frameTimeline) Submitted() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.submitted
}

func (t *frameTimeline) Completed() (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	err := t.retireLocked()
	return t.completed, err
}

func (t *frameTimeline) retireLocked() error {
	for len(t.pending) > 0 {
		head := t.pending[0]
		done, err := head.fence.Poll(t.context)
		if err != nil {
			return err
		}
		if !done {
			return nil
		}
		t.completed = head.frame + 1
		t.free = append(t.free, head.fence)
		t.pending = t.pending[1:]
	}
	return nil
}

// Wait blocks until every frame below count has completed.
func (t *frameTimeline) Wait(count uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if count > t.submitted {
		return fmt.Errorf("cannot wait for frame %d, only %d submitted", count, t.submitted)
	}
	for _, p := range t.pending {
		if p.frame+1 < count {
			continue
		}
		if err := p.fence.Wait(t.context, math.MaxUint64); err != nil {
			return err
		}
		break
	}
	return t.retireLocked()
}

func (t *frameTimeline) destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range t.pending {
		p.fence.Destroy(t.context)
	}
	for _, f := range t.free {
		f.Destroy(t.context)
	}
	t.pending = nil
	t.free = nil
}
