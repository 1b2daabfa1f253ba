package renderer

import (
	"testing"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/headless"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBuffer(t *testing.T, b *headless.Backend, name string) *headless.Buffer {
	t.Helper()
	native, err := b.CreateBuffer(&metadata.BufferDesc{Name: name, Size: 16}, nil)
	require.NoError(t, err)
	return native.(*headless.Buffer)
}

func TestRetiredObjectReleasedAfterInFlightFrames(t *testing.T) {
	backend := headless.New()
	handler := NewAllocationHandler(backend, core.NewMetrics(), 4, 4)
	const inFlight = 3

	handler.Update(5, inFlight)
	buf := newBuffer(t, backend, "retired")
	handler.Retire(buf, metadata.CategoryBuffer)

	for frame := uint64(6); frame < 5+inFlight; frame++ {
		handler.Update(frame, inFlight)
		assert.False(t, buf.Released(), "released at frame %d", frame)
	}
	handler.Update(5+inFlight, inFlight)
	assert.Equal(t, 1, buf.ReleaseCount())

	handler.Update(5+inFlight+1, inFlight)
	assert.Equal(t, 1, buf.ReleaseCount())
}

func TestRetirementIsFIFOPerCategory(t *testing.T) {
	backend := headless.New()
	metrics := core.NewMetrics()
	handler := NewAllocationHandler(backend, metrics, 4, 4)

	handler.Update(1, 2)
	first := newBuffer(t, backend, "first")
	handler.Retire(first, metadata.CategoryBuffer)
	handler.Update(2, 2)
	second := newBuffer(t, backend, "second")
	handler.Retire(second, metadata.CategoryBuffer)

	handler.Update(3, 2)
	assert.True(t, first.Released())
	assert.False(t, second.Released())
	assert.Equal(t, 1, handler.Pending(metadata.CategoryBuffer))

	handler.Update(4, 2)
	assert.True(t, second.Released())
	assert.Equal(t, uint64(2), metrics.Counters().ObjectsReleased)
}

func TestDestroyedBufferOutlivesInFlightFrames(t *testing.T) {
	backend := headless.New()
	d := newTestDevice(t, backend)

	h, err := d.CreateBuffer(&metadata.BufferDesc{Name: "vertices", Size: 64}, nil)
	require.NoError(t, err)
	native := findObject(t, backend, metadata.CategoryBuffer, "vertices")

	runFrame(t, d, func(ctx *CommandContext) {
		require.NoError(t, d.Destroy(h))
	})
	assert.False(t, native.Released())

	runFrame(t, d, nil)
	assert.Equal(t, 1, native.ReleaseCount())

	assert.ErrorIs(t, d.Destroy(h), core.ErrInvalidHandle)
}

func TestQueryIndicesReturnAfterRetirement(t *testing.T) {
	backend := headless.New()
	handler := NewAllocationHandler(backend, core.NewMetrics(), 2, 1)

	a, err := handler.AcquireQuery(metadata.QueryTimestamp)
	require.NoError(t, err)
	_, err = handler.AcquireQuery(metadata.QueryTimestamp)
	require.NoError(t, err)
	_, err = handler.AcquireQuery(metadata.QueryTimestamp)
	assert.ErrorIs(t, err, core.ErrQueryPoolExhausted)

	_, err = handler.AcquireQuery(metadata.QueryOcclusionPredicate)
	require.NoError(t, err)
	_, err = handler.AcquireQuery(metadata.QueryOcclusion)
	assert.ErrorIs(t, err, core.ErrQueryPoolExhausted)

	handler.RetireQuery(metadata.QueryTimestamp, a)
	handler.Update(1, 2)
	_, err = handler.AcquireQuery(metadata.QueryTimestamp)
	assert.ErrorIs(t, err, core.ErrQueryPoolExhausted)

	handler.Update(2, 2)
	got, err := handler.AcquireQuery(metadata.QueryTimestamp)
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestDrainReleasesEverything(t *testing.T) {
	backend := headless.New()
	handler := NewAllocationHandler(backend, core.NewMetrics(), 1, 1)
	buf := newBuffer(t, backend, "late")
	handler.Retire(buf, metadata.CategoryBuffer)
	handler.Drain()
	assert.Equal(t, 1, buf.ReleaseCount())
	assert.Zero(t, handler.Pending(metadata.CategoryBuffer))
}

func TestFailedReleaseIsFatal(t *testing.T) {
	panicOnFatal(t)
	backend := headless.New()
	handler := NewAllocationHandler(backend, core.NewMetrics(), 1, 1)
	buf := newBuffer(t, backend, "twice")
	require.NoError(t, backend.Release(metadata.CategoryBuffer, buf))

	handler.Retire(buf, metadata.CategoryBuffer)
	assert.Panics(t, func() { handler.Update(10, 2) })
}
