package renderer

import (
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
)

// BarrierTracker collects the layout transitions of one command context and emits
// them in batches. Transitions to the layout a resource is already in are dropped.
type BarrierTracker struct {
	pending []metadata.Barrier
	emitted int
}

func NewBarrierTracker() *BarrierTracker {
	return &BarrierTracker{pending: make([]metadata.Barrier, 0, 16)}
}

// Transition moves r to layout, recording a barrier when the live layout differs.
func (t *BarrierTracker) Transition(r *resourceRecord, layout metadata.Layout) bool {
	before := r.GetLayout()
	if before == layout {
		return false
	}
	t.pending = append(t.pending, metadata.Barrier{
		Type:     metadata.BarrierTransition,
		Resource: r.native(),
		Kind:     r.kind,
		Before:   before,
		After:    layout,
	})
	r.setLayout(layout)
	return true
}

// UAVBarrier orders unordered-access writes to r without changing its layout.
func (t *BarrierTracker) UAVBarrier(r *resourceRecord) {
	t.pending = append(t.pending, metadata.Barrier{
		Type:     metadata.BarrierMemory,
		Resource: r.native(),
		Kind:     r.kind,
		Before:   r.GetLayout(),
		After:    r.GetLayout(),
	})
}

// apply records a precomputed transition list and moves the live layouts.
func (t *BarrierTracker) apply(list []passTransition) {
	for _, pt := range list {
		t.pending = append(t.pending, metadata.Barrier{
			Type:     metadata.BarrierTransition,
			Resource: pt.record.native(),
			Kind:     pt.record.kind,
			Before:   pt.before,
			After:    pt.after,
		})
		pt.record.setLayout(pt.after)
	}
}

// Flush hands the pending barriers to cmd in one call.
func (t *BarrierTracker) Flush(cmd metadata.CommandList) {
	if len(t.pending) == 0 {
		return
	}
	cmd.Barrier(t.pending)
	t.emitted += len(t.pending)
	t.pending = t.pending[:0]
}

func (t *BarrierTracker) Pending() int {
	return len(t.pending)
}

// Emitted counts the barriers flushed since the last Reset.
func (t *BarrierTracker) Emitted() int {
	return t.emitted
}

func (t *BarrierTracker) Reset() {
	t.pending = t.pending[:0]
	t.emitted = 0
}

type passAttachment struct {
	attachment metadata.RenderPassAttachment
	record     *resourceRecord
}

// buildPassTransitions precomputes the begin, resolve and end lists of a render pass.
// A resolve attachment enters ResolveDst and its render target of the same ordinal
// leaves the subpass through ResolveSrc. The begin list keeps one entry per
// attachment so that it can be checked against the live layouts; the other lists
// drop transitions between equal layouts.
func buildPassTransitions(attachments []passAttachment) (begin, resolve, end []passTransition) {
	var targets []passAttachment
	var resolves []passAttachment
	for _, a := range attachments {
		switch a.attachment.Type {
		case metadata.AttachmentRenderTarget:
			targets = append(targets, a)
		case metadata.AttachmentResolve:
			resolves = append(resolves, a)
		}
	}
	resolved := make(map[*resourceRecord]bool)
	for i := range resolves {
		if i < len(targets) {
			resolved[targets[i].record] = true
		}
	}

	add := func(list []passTransition, r *resourceRecord, before, after metadata.Layout) []passTransition {
		if before == after {
			return list
		}
		return append(list, passTransition{record: r, before: before, after: after})
	}

	for _, a := range attachments {
		att := a.attachment
		during := att.SubpassLayout
		if att.Type == metadata.AttachmentResolve {
			during = metadata.LayoutResolveDst
		}
		begin = append(begin, passTransition{record: a.record, before: att.InitialLayout, after: during})

		last := during
		if resolved[a.record] {
			resolve = add(resolve, a.record, during, metadata.LayoutResolveSrc)
			last = metadata.LayoutResolveSrc
		}
		end = add(end, a.record, last, att.FinalLayout)
	}
	return begin, resolve, end
}
