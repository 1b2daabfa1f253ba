package engine

import (
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
)

type Game struct {
	ApplicationConfig *ApplicationConfig
	State             interface{}
	FnInitialize      Initialize
	FnUpdate          Update
	FnRecord          Record
	FnShutdown        Shutdown
}

// Initialize runs once the device and the systems are up.
type Initialize func(e *Engine) error

type Update func(deltaTime float64) error

// Record fills one command context. It runs on a job worker, concurrently with
// the other contexts of the frame; job is the context's position in the frame.
type Record func(ctx *renderer.CommandContext, job int, deltaTime float64) error

type Shutdown func() error
