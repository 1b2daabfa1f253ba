package renderer

import (
	"fmt"
	"testing"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/headless"
	"github.com/spaghettifunk/anima-rhi/engine/renderer/metadata"
	"github.com/stretchr/testify/require"
)

func testConfig() core.DeviceConfig {
	cfg := core.DefaultDeviceConfig()
	cfg.RingInitialSize = 4096
	cfg.MaxCommandContexts = 4
	cfg.TimestampQueries = 8
	cfg.OcclusionQueries = 8
	return cfg
}

func newTestDevice(t *testing.T, backend *headless.Backend) *Device {
	t.Helper()
	d, err := NewDevice(backend, testConfig())
	require.NoError(t, err)
	return d
}

// panicOnFatal turns fatal conditions into panics for the duration of the test.
func panicOnFatal(t *testing.T) {
	previous := fatal
	fatal = func(msg string, args ...interface{}) {
		panic(fmt.Sprintf(msg, args...))
	}
	t.Cleanup(func() { fatal = previous })
}

// runFrame records one context with fn, submits it and advances the frame.
func runFrame(t *testing.T, d *Device, fn func(ctx *CommandContext)) {
	t.Helper()
	ctx, err := d.BeginCommandContext()
	require.NoError(t, err)
	if fn != nil {
		fn(ctx)
	}
	require.NoError(t, ctx.Close())
	require.NoError(t, d.Submit())
	require.NoError(t, d.AdvanceFrame())
}

func findObject(t *testing.T, b *headless.Backend, category metadata.ObjectCategory, name string) *headless.Object {
	t.Helper()
	for _, o := range b.Objects() {
		if o.Category == category && o.Name == name {
			return o
		}
	}
	require.FailNow(t, "object not found", "%s %q", category, name)
	return nil
}

func commandsOf(list []headless.Command, op headless.Op) []headless.Command {
	var out []headless.Command
	for _, c := range list {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func lastFrame(t *testing.T, b *headless.Backend) headless.SubmittedFrame {
	t.Helper()
	frames := b.Frames()
	require.NotEmpty(t, frames)
	return frames[len(frames)-1]
}
