// Package vulkan implements the backend primitives on a Vulkan device. It renders
// offscreen only; the device owns no swapchain.
package vulkan

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/platform"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

type Options struct {
	ApplicationName string
	// Validation enables the Khronos validation layer and the debug report callback.
	Validation     bool
	FramesInFlight uint32
}

type prologue struct {
	cb    *VulkanCommandBuffer
	frame uint64
	used  bool
}

type Backend struct {
	mu      sync.Mutex
	context *VulkanContext
	opts    Options

	limits    metadata.Limits
	frequency uint64
	timeline  *frameTimeline
	null      nullResources
	lists     []*commandList
	lost      bool

	// The prologue pool records the query resets that run ahead of each submit.
	prologuePool vk.CommandPool
	prologues    []*prologue
}

// New creates the instance, picks a device and prepares everything Submit needs.
func New(loader *platform.Loader, opts Options) (*Backend, error) {
	if err := loader.Load(); err != nil {
		return nil, fmt.Errorf("%w: %s", core.ErrBackendUnavailable, err.Error())
	}
	if opts.FramesInFlight == 0 {
		opts.FramesInFlight = 2
	}

	b := &Backend{
		opts: opts,
		context: &VulkanContext{
			Device: &VulkanDevice{GraphicsQueueIndex: -1},
			Locks:  NewVulkanLockPool(),
		},
	}
	if err := b.createInstance(); err != nil {
		return nil, err
	}
	if err := DeviceCreate(b.context); err != nil {
		b.destroyInstance()
		return nil, err
	}
	if err := b.initialize(); err != nil {
		_ = b.Shutdown()
		return nil, err
	}
	core.LogInfo("Vulkan backend initialized successfully.")
	return b, nil
}

func (b *Backend) createInstance() error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(b.opts.ApplicationName),
		PEngineName:        VulkanSafeString("Anima RHI"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	var extensions []string
	if runtime.GOOS == "darwin" {
		extensions = append(extensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}

	var layers []string
	validation := b.opts.Validation
	if validation {
		if hasInstanceLayer("VK_LAYER_KHRONOS_validation") {
			layers = append(layers, "VK_LAYER_KHRONOS_validation")
			extensions = append(extensions, vk.ExtDebugReportExtensionName)
		} else {
			core.LogWarn("Validation requested but VK_LAYER_KHRONOS_validation is missing, continuing without it.")
			validation = false
		}
	}
	for _, e := range extensions {
		core.LogDebug("Required extension: %s", e)
	}

	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(extensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	var instance vk.Instance
	if res := vk.CreateInstance(&createInfo, b.context.Allocator, &instance); res != vk.Success {
		return fmt.Errorf("%w: %s", core.ErrBackendUnavailable, resultError("vkCreateInstance", res).Error())
	}
	if err := vk.InitInstance(instance); err != nil {
		vk.DestroyInstance(instance, b.context.Allocator)
		return err
	}
	b.context.Instance = instance
	core.LogInfo("Vulkan Instance created.")

	if validation {
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		var dbg vk.DebugReportCallback
		if err := vk.Error(vk.CreateDebugReportCallback(instance, &debugCreateInfo, nil, &dbg)); err != nil {
			core.LogWarn("vk.CreateDebugReportCallback failed with %s", err)
		} else {
			b.context.debugMessenger = dbg
			core.LogDebug("Vulkan debugger created.")
		}
	}
	return nil
}

func hasInstanceLayer(name string) bool {
	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success || count == 0 {
		return false
	}
	available := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, available); res != vk.Success {
		return false
	}
	for i := range available {
		available[i].Deref()
		if vk.ToString(available[i].LayerName[:]) == name {
			return true
		}
	}
	return false
}

func (b *Backend) initialize() error {
	device := b.context.Device
	b.limits = metadata.DefaultLimits()
	if align := uint64(device.Properties.Limits.MinUniformBufferOffsetAlignment); align > b.limits.ConstantBufferAlignment {
		b.limits.ConstantBufferAlignment = align
	}
	b.frequency = 1000000000
	if period := device.Properties.Limits.TimestampPeriod; period > 0 {
		b.frequency = uint64(1e9 / float64(period))
	}

	b.timeline = newFrameTimeline(b.context)

	res := vk.CreateCommandPool(device.LogicalDevice, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: uint32(device.GraphicsQueueIndex),
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}, b.context.Allocator, &b.prologuePool)
	if err := resultError("vkCreateCommandPool", res); err != nil {
		return err
	}
	for i := uint32(0); i < b.opts.FramesInFlight; i++ {
		cb, err := NewVulkanCommandBuffer(b.context, b.prologuePool, true)
		if err != nil {
			return err
		}
		b.prologues = append(b.prologues, &prologue{cb: cb})
	}
	return b.createNullResources()
}

func (b *Backend) Name() string {
	return "vulkan"
}

func (b *Backend) Limits() metadata.Limits {
	return b.limits
}

type releasable interface {
	markReleased(category metadata.ObjectCategory) error
	setName(name string)
}

func (o *nativeObject) setName(name string) {
	o.name = name
}

func (b *Backend) Release(category metadata.ObjectCategory, object any) error {
	r, ok := object.(releasable)
	if !ok {
		return fmt.Errorf("release of foreign %s object %T", category, object)
	}
	if err := r.markReleased(category); err != nil {
		return err
	}
	switch o := object.(type) {
	case *vulkanBuffer:
		o.destroy(b.context)
	case *vulkanImage:
		o.destroy(b.context)
	case *vulkanView:
		o.destroy(b.context)
	case *vulkanSampler:
		o.destroy(b.context)
	case *rootSignature:
		o.destroy(b.context)
	case *VulkanPipeline:
		o.destroy(b.context)
	case *VulkanRenderpass:
		o.destroy(b.context)
	case *queryHeap:
		o.destroy(b.context)
	case *descriptorHeap:
		o.descriptors = nil
	}
	return nil
}

func (b *Backend) SetName(object any, name string) {
	if r, ok := object.(releasable); ok {
		r.setName(name)
		core.LogDebug("vulkan: named %T %q", object, name)
	}
}

func (b *Backend) latch(err error) error {
	if errors.Is(err, core.ErrDeviceLost) {
		b.mu.Lock()
		b.lost = true
		b.mu.Unlock()
	}
	return err
}

func (b *Backend) isLost() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lost
}

// recordPrologue resets every query the lists write this submission. It returns
// nil when there is nothing to reset.
func (b *Backend) recordPrologue(lists []*commandList, frame uint64) (vk.CommandBuffer, error) {
	pending := false
	for _, cl := range lists {
		if len(cl.current.resets.indices) > 0 {
			pending = true
			break
		}
	}
	if !pending {
		return nil, nil
	}

	p := b.prologues[frame%uint64(len(b.prologues))]
	if p.used {
		if err := b.timeline.Wait(p.frame + 1); err != nil {
			return nil, err
		}
	}
	if err := p.cb.Reset(); err != nil {
		return nil, err
	}
	if err := p.cb.Begin(true, false, false); err != nil {
		return nil, err
	}
	for _, cl := range lists {
		cl.current.resets.record(p.cb.Handle)
	}
	if err := p.cb.End(); err != nil {
		return nil, err
	}
	p.frame = frame
	p.used = true
	return p.cb.Handle, nil
}

func (b *Backend) Submit(lists []metadata.CommandList, frame uint64) error {
	if b.isLost() {
		return core.ErrDeviceLost
	}

	native := make([]*commandList, 0, len(lists))
	for _, l := range lists {
		cl, ok := l.(*commandList)
		if !ok {
			return fmt.Errorf("submit of foreign command list %T", l)
		}
		if cl.recording || cl.current == nil {
			return fmt.Errorf("command list %d submitted while recording: %w", cl.index, core.ErrInvalidState)
		}
		native = append(native, cl)
	}

	var buffers []vk.CommandBuffer
	pre, err := b.recordPrologue(native, frame)
	if err != nil {
		return b.latch(err)
	}
	if pre != nil {
		buffers = append(buffers, pre)
	}
	for _, cl := range native {
		buffers = append(buffers, cl.cb())
	}

	fence, err := b.timeline.acquire()
	if err != nil {
		return b.latch(err)
	}
	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: uint32(len(buffers)),
		PCommandBuffers:    buffers,
	}
	err = b.context.Locks.SafeQueueCall(uint32(b.context.Device.GraphicsQueueIndex), func() error {
		res := vk.QueueSubmit(b.context.Device.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, fence.Handle)
		return resultError("vkQueueSubmit", res)
	})
	if err != nil {
		b.timeline.release(fence)
		return b.latch(err)
	}
	for _, cl := range native {
		cl.current.cb.UpdateSubmitted()
	}
	b.timeline.push(frame, fence)
	return nil
}

func (b *Backend) CompletedFrame() uint64 {
	completed, err := b.timeline.Completed()
	if err != nil {
		b.latch(err)
	}
	return completed
}

func (b *Backend) WaitForFrame(count uint64) error {
	if b.isLost() {
		return core.ErrDeviceLost
	}
	if submitted := b.timeline.Submitted(); count > submitted {
		return fmt.Errorf("wait for frame %d, only %d submitted: %w", count, submitted, core.ErrInvalidState)
	}
	return b.latch(b.timeline.Wait(count))
}

func (b *Backend) WaitIdle() error {
	if b.context.Device.LogicalDevice == nil {
		return nil
	}
	err := b.context.Locks.SafeQueueCall(uint32(b.context.Device.GraphicsQueueIndex), func() error {
		return resultError("vkDeviceWaitIdle", vk.DeviceWaitIdle(b.context.Device.LogicalDevice))
	})
	if err != nil {
		return b.latch(err)
	}
	_, err = b.timeline.Completed()
	return b.latch(err)
}

// Shutdown destroys everything the backend still owns, in reverse creation order.
// Objects handed out through the Create calls must have been released already.
func (b *Backend) Shutdown() error {
	if b.context.Device.LogicalDevice != nil {
		if err := b.WaitIdle(); err != nil {
			core.LogWarn("vulkan: wait idle on shutdown: %s", err.Error())
		}

		b.mu.Lock()
		lists := b.lists
		b.lists = nil
		b.mu.Unlock()
		for _, cl := range lists {
			cl.destroy()
		}

		b.destroyNullResources()
		for _, p := range b.prologues {
			p.cb.Free(b.context, b.prologuePool)
		}
		b.prologues = nil
		if b.prologuePool != vk.NullCommandPool {
			vk.DestroyCommandPool(b.context.Device.LogicalDevice, b.prologuePool, b.context.Allocator)
			b.prologuePool = vk.NullCommandPool
		}
		if b.timeline != nil {
			b.timeline.destroy()
		}
		DeviceDestroy(b.context)
	}
	b.destroyInstance()
	core.LogInfo("Vulkan backend shut down.")
	return nil
}

func (b *Backend) destroyInstance() {
	if b.context.debugMessenger != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(b.context.Instance, b.context.debugMessenger, b.context.Allocator)
		b.context.debugMessenger = vk.NullDebugReportCallback
	}
	if b.context.Instance != nil {
		vk.DestroyInstance(b.context.Instance, b.context.Allocator)
		b.context.Instance = nil
	}
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("ERROR: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("PERFORMANCE WARNING: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("DEBUG: [%s] Code %d : %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
