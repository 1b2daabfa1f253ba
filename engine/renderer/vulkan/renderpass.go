package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// VulkanRenderpass is a single-subpass render pass with the framebuffer of its
// targets.
type VulkanRenderpass struct {
	nativeObject
	Handle      vk.RenderPass
	Framebuffer vk.Framebuffer
	W, H        uint32
	Samples     vk.SampleCountFlagBits
	ColorCount  uint32
	clearValues []vk.ClearValue
}

func subpassLayout(a *metadata.RenderPassAttachment) metadata.Layout {
	switch {
	case a.Type == metadata.AttachmentResolve:
		return metadata.LayoutResolveDst
	case a.SubpassLayout != metadata.LayoutUndefined:
		return a.SubpassLayout
	case a.Type == metadata.AttachmentDepthStencil:
		return metadata.LayoutDepthStencil
	default:
		return metadata.LayoutRenderTarget
	}
}

type renderPassLayout struct {
	attachments []vk.AttachmentDescription
	color       []vk.AttachmentReference
	resolve     []vk.AttachmentReference
	depth       *vk.AttachmentReference
	samples     vk.SampleCountFlagBits
}

// layoutTargets describes one attachment per target. The attachments stay in
// the layout the pass runs in, the barrier tracker moves them in and out.
func layoutTargets(targets []metadata.RenderPassTarget) (*renderPassLayout, error) {
	l := &renderPassLayout{samples: vk.SampleCount1Bit}
	var resolves []uint32
	for i := range targets {
		t := &targets[i]
		during := vkLayout(subpassLayout(&t.Attachment))
		desc := vk.AttachmentDescription{
			Format:         vkFormat(t.Format),
			Samples:        sampleCount(t.SampleCount),
			LoadOp:         loadOp(t.Attachment.LoadOp),
			StoreOp:        storeOp(t.Attachment.StoreOp),
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  during,
			FinalLayout:    during,
		}
		switch t.Attachment.Type {
		case metadata.AttachmentRenderTarget:
			l.color = append(l.color, vk.AttachmentReference{Attachment: uint32(i), Layout: vk.ImageLayoutColorAttachmentOptimal})
			l.samples = desc.Samples
		case metadata.AttachmentDepthStencil:
			if l.depth != nil {
				return nil, fmt.Errorf("attachment %d is a second depth stencil target", i)
			}
			if t.Format == metadata.FormatD24UnormS8Uint {
				desc.StencilLoadOp = desc.LoadOp
				desc.StencilStoreOp = desc.StoreOp
			}
			l.depth = &vk.AttachmentReference{Attachment: uint32(i), Layout: vk.ImageLayoutDepthStencilAttachmentOptimal}
			l.samples = desc.Samples
		case metadata.AttachmentResolve:
			resolves = append(resolves, uint32(i))
		}
		l.attachments = append(l.attachments, desc)
	}

	if len(resolves) > len(l.color) {
		return nil, fmt.Errorf("%d resolve targets for %d render targets", len(resolves), len(l.color))
	}
	if len(resolves) > 0 {
		// Resolve k receives render target k; the rest are unused.
		l.resolve = make([]vk.AttachmentReference, len(l.color))
		for k := range l.resolve {
			l.resolve[k] = vk.AttachmentReference{Attachment: vk.AttachmentUnused, Layout: vk.ImageLayoutUndefined}
			if k < len(resolves) {
				l.resolve[k] = vk.AttachmentReference{Attachment: resolves[k], Layout: vk.ImageLayoutColorAttachmentOptimal}
			}
		}
	}
	return l, nil
}

func (b *Backend) newRenderPassHandle(l *renderPassLayout) (vk.RenderPass, error) {
	subpass := vk.SubpassDescription{
		PipelineBindPoint:       vk.PipelineBindPointGraphics,
		ColorAttachmentCount:    uint32(len(l.color)),
		PColorAttachments:       l.color,
		PResolveAttachments:     l.resolve,
		PDepthStencilAttachment: l.depth,
	}

	all := vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit)
	dependencies := []vk.SubpassDependency{
		{
			SrcSubpass:    vk.SubpassExternal,
			DstSubpass:    0,
			SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
			DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageAllGraphicsBit),
			SrcAccessMask: all,
			DstAccessMask: all,
		},
		{
			SrcSubpass:    0,
			DstSubpass:    vk.SubpassExternal,
			SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageAllGraphicsBit),
			DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
			SrcAccessMask: all,
			DstAccessMask: all,
		},
	}

	info := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(l.attachments)),
		PAttachments:    l.attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: uint32(len(dependencies)),
		PDependencies:   dependencies,
	}

	var handle vk.RenderPass
	if res := vk.CreateRenderPass(b.context.Device.LogicalDevice, &info, b.context.Allocator, &handle); res != vk.Success {
		return vk.NullRenderPass, resultError("vkCreateRenderPass", res)
	}
	return handle, nil
}

func (b *Backend) CreateRenderPass(targets []metadata.RenderPassTarget) (any, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("render pass without targets")
	}
	l, err := layoutTargets(targets)
	if err != nil {
		return nil, err
	}
	handle, err := b.newRenderPassHandle(l)
	if err != nil {
		return nil, err
	}
	rp := &VulkanRenderpass{
		Handle:     handle,
		W:          targets[0].Width,
		H:          targets[0].Height,
		Samples:    l.samples,
		ColorCount: uint32(len(l.color)),
	}

	views := make([]vk.ImageView, len(targets))
	rp.clearValues = make([]vk.ClearValue, len(targets))
	for i := range targets {
		view, ok := targets[i].View.(*vulkanView)
		if !ok {
			rp.destroy(b.context)
			return nil, fmt.Errorf("render pass target %d has no image view", i)
		}
		views[i] = view.Handle
		a := &targets[i].Attachment
		if targets[i].Format.IsDepth() {
			rp.clearValues[i].SetDepthStencil(a.ClearDepth, a.ClearStencil)
		} else {
			rp.clearValues[i].SetColor(a.ClearColor[:])
		}
	}

	res := vk.CreateFramebuffer(b.context.Device.LogicalDevice, &vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      rp.Handle,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           rp.W,
		Height:          rp.H,
		Layers:          1,
	}, b.context.Allocator, &rp.Framebuffer)
	if err := resultError("vkCreateFramebuffer", res); err != nil {
		rp.destroy(b.context)
		return nil, err
	}
	return rp, nil
}

// compatibleRenderPass builds a pass a pipeline can be created against when no
// render pass was given.
func (b *Backend) compatibleRenderPass(colors []metadata.Format, depth metadata.Format) (vk.RenderPass, error) {
	var targets []metadata.RenderPassTarget
	for _, f := range colors {
		targets = append(targets, metadata.RenderPassTarget{
			Attachment: metadata.RenderPassAttachment{Type: metadata.AttachmentRenderTarget},
			Format:     f,
		})
	}
	if depth != metadata.FormatUnknown {
		targets = append(targets, metadata.RenderPassTarget{
			Attachment: metadata.RenderPassAttachment{Type: metadata.AttachmentDepthStencil},
			Format:     depth,
		})
	}
	l, err := layoutTargets(targets)
	if err != nil {
		return vk.NullRenderPass, err
	}
	return b.newRenderPassHandle(l)
}

func (rp *VulkanRenderpass) destroy(context *VulkanContext) {
	device := context.Device.LogicalDevice
	if rp.Framebuffer != vk.NullFramebuffer {
		vk.DestroyFramebuffer(device, rp.Framebuffer, context.Allocator)
		rp.Framebuffer = vk.NullFramebuffer
	}
	if rp.Handle != vk.NullRenderPass {
		vk.DestroyRenderPass(device, rp.Handle, context.Allocator)
		rp.Handle = vk.NullRenderPass
	}
}

func (rp *VulkanRenderpass) Begin(cb vk.CommandBuffer) {
	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  rp.Handle,
		Framebuffer: rp.Framebuffer,
		RenderArea: vk.Rect2D{
			Extent: vk.Extent2D{Width: rp.W, Height: rp.H},
		},
		ClearValueCount: uint32(len(rp.clearValues)),
		PClearValues:    rp.clearValues,
	}
	vk.CmdBeginRenderPass(cb, &beginInfo, vk.SubpassContentsInline)

	vk.CmdSetViewport(cb, 0, 1, []vk.Viewport{{
		Width:    float32(rp.W),
		Height:   float32(rp.H),
		MinDepth: 0,
		MaxDepth: 1,
	}})
	vk.CmdSetScissor(cb, 0, 1, []vk.Rect2D{{
		Extent: vk.Extent2D{Width: rp.W, Height: rp.H},
	}})
}

func (rp *VulkanRenderpass) End(cb vk.CommandBuffer) {
	vk.CmdEndRenderPass(cb)
}
