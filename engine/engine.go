package engine

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/spaghettifunk/anima-rhi/engine/assets"
	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/platform"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/spaghettifunk/anima-rhi/engine/systems"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

type Engine struct {
	currentStage  Stage
	gameInstance  *Game
	config        *core.EngineConfig
	isRunning     atomic.Bool
	loader        *platform.Loader
	window        *platform.Window
	device        *renderer.Device
	library       *assets.Library
	systemManager *systems.SystemManager
	clock         *core.Clock
	lastTime      float64
}

func New(g *Game, config *core.EngineConfig) (*Engine, error) {
	if g.ApplicationConfig == nil {
		return nil, fmt.Errorf("game has no application config")
	}
	if err := config.Validate(); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	if g.ApplicationConfig.Contexts <= 0 {
		g.ApplicationConfig.Contexts = 1
	}
	if uint32(g.ApplicationConfig.Contexts) > config.Device.MaxCommandContexts {
		return nil, fmt.Errorf("%d contexts per frame exceed max_command_contexts %d", g.ApplicationConfig.Contexts, config.Device.MaxCommandContexts)
	}
	return &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		config:       config,
		clock:        core.NewClock(),
		loader:       platform.NewLoader(config.Window),
	}, nil
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing
	core.SetLogLevel(core.ParseLogLevel(e.config.LogLevel))
	name := e.gameInstance.ApplicationConfig.Name

	if e.loader.Windowed() {
		w, err := platform.OpenWindow(e.loader, name, e.config.Width, e.config.Height)
		if err != nil {
			return err
		}
		e.window = w
	}

	device, err := renderer.New(name, e.config.Device, e.loader)
	if err != nil {
		return err
	}
	e.device = device

	var source systems.ShaderSource = e.gameInstance.ApplicationConfig.Shaders
	if dir := e.config.ShaderDir; dir != "" {
		if _, err := os.Stat(dir); err == nil {
			library, err := assets.NewLibrary(dir)
			if err != nil {
				return err
			}
			e.library = library
			source = library
		} else {
			core.LogWarn("shader directory %s is not available, using built-in shaders: %s", dir, err.Error())
		}
	}

	sm, err := systems.NewSystemManager(systems.SystemManagerConfig{
		Workers: e.config.Workers,
	}, device, source)
	if err != nil {
		return err
	}
	e.systemManager = sm

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(e); err != nil {
			return err
		}
	}
	e.currentStage = EngineStageInitialized
	core.LogInfo("engine initialized on the %s backend", device.Backend().Name())
	return nil
}

func (e *Engine) Device() *renderer.Device {
	return e.device
}

// Library is nil when shaders come from the application config.
func (e *Engine) Library() *assets.Library {
	return e.library
}

func (e *Engine) Shaders() *systems.ShaderSystem {
	return e.systemManager.ShaderSystem
}

func (e *Engine) Jobs() *systems.JobSystem {
	return e.systemManager.JobSystem
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

// Stop makes Run return after the frame in progress. Safe from any goroutine.
func (e *Engine) Stop() {
	e.isRunning.Store(false)
}

// Run drives frames until Stop, the window closes, the configured frame count is
// reached or the device is lost.
func (e *Engine) Run() error {
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)
	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	for e.isRunning.Load() {
		if e.window != nil && !e.window.PumpMessages() {
			break
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime

		if err := e.Frame(delta); err != nil {
			if errors.Is(err, core.ErrDeviceLost) {
				core.LogError("device lost, shutting down: %s", err.Error())
			} else {
				core.LogError("frame failed, shutting down: %s", err.Error())
			}
			e.isRunning.Store(false)
			return err
		}

		e.clock.Update()
		e.device.Metrics().Update(e.clock.Elapsed() - currentTime)
		e.lastTime = currentTime

		if e.config.Frames > 0 && e.device.FrameCount() >= e.config.Frames {
			core.LogInfo("rendered %d frames (%.1f fps)", e.device.FrameCount(), e.device.Metrics().FPS())
			break
		}
	}
	e.isRunning.Store(false)
	return nil
}

// Frame records, submits and advances one frame. Contexts are claimed in order
// on the calling goroutine and recorded in parallel on the job system. When a
// claim or a recording fails the partial frame is still submitted and the error
// is returned; Run stops on it.
func (e *Engine) Frame(delta float64) error {
	if err := e.systemManager.Update(); err != nil {
		core.LogWarn(err.Error())
	}
	if e.gameInstance.FnUpdate != nil {
		if err := e.gameInstance.FnUpdate(delta); err != nil {
			return fmt.Errorf("game update: %w", err)
		}
	}

	count := e.gameInstance.ApplicationConfig.Contexts
	contexts := make([]*renderer.CommandContext, 0, count)
	for i := 0; i < count; i++ {
		ctx, err := e.device.BeginCommandContext()
		if err != nil {
			e.abandon(contexts)
			return err
		}
		contexts = append(contexts, ctx)
	}

	jobs := make([]func() error, count)
	for i, ctx := range contexts {
		jobs[i] = func() error {
			var err error
			if e.gameInstance.FnRecord != nil {
				err = e.gameInstance.FnRecord(ctx, i, delta)
			}
			return errors.Join(err, ctx.Close())
		}
	}
	if err := e.systemManager.JobSystem.RunAll("record", jobs...); err != nil {
		frame := e.device.FrameCount()
		e.abandon(contexts)
		return fmt.Errorf("recording frame %d: %w", frame, err)
	}

	if err := e.device.Submit(); err != nil {
		return err
	}
	return e.device.AdvanceFrame()
}

// abandon closes whatever is still recording and submits the partial frame.
// Layouts are tracked at record time and the recorded barriers must reach the
// backend. A context claimed outside the frame and left open fails the submit;
// its claim stays until the next successful one.
func (e *Engine) abandon(contexts []*renderer.CommandContext) {
	for _, ctx := range contexts {
		if ctx.State() != renderer.ContextRecording {
			continue
		}
		if err := ctx.EndRenderPass(); err != nil && !errors.Is(err, core.ErrInvalidState) {
			core.LogWarn(err.Error())
		}
		if err := ctx.Close(); err != nil {
			core.LogWarn(err.Error())
		}
	}
	if err := e.device.Submit(); err != nil {
		core.LogWarn("partial frame: %s", err.Error())
	}
}

func (e *Engine) Shutdown() error {
	e.currentStage = EngineStageShuttingDown
	e.Stop()

	var errs []error
	if e.gameInstance.FnShutdown != nil {
		errs = append(errs, e.gameInstance.FnShutdown())
	}
	if e.systemManager != nil {
		errs = append(errs, e.systemManager.Shutdown())
	}
	if e.device != nil {
		errs = append(errs, e.device.Shutdown())
	}
	if e.library != nil {
		errs = append(errs, e.library.Close())
	}
	if e.window != nil {
		e.window.Close()
	}
	e.currentStage = EngineStageUninitialized
	return errors.Join(errs...)
}
