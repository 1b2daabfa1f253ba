package platform

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/anima-rhi/engine/core"
)

// Loader resolves the Vulkan entry points exactly once. With windowing enabled the
// instance proc address comes from GLFW, otherwise from the system loader.
type Loader struct {
	windowed bool

	once sync.Once
	err  error
}

func NewLoader(windowed bool) *Loader {
	return &Loader{windowed: windowed}
}

func (l *Loader) Windowed() bool {
	return l.windowed
}

// Load initializes the Vulkan function table. Later calls return the first result.
func (l *Loader) Load() error {
	l.once.Do(func() {
		if l.windowed {
			if err := glfw.Init(); err != nil {
				l.err = fmt.Errorf("failed to initialize glfw: %w", err)
				return
			}
			procAddr := glfw.GetVulkanGetInstanceProcAddress()
			if procAddr == nil {
				l.err = fmt.Errorf("GetInstanceProcAddress is nil")
				return
			}
			vk.SetGetInstanceProcAddr(procAddr)
		} else if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
			l.err = fmt.Errorf("failed to locate the vulkan loader: %w", err)
			return
		}
		if err := vk.Init(); err != nil {
			l.err = fmt.Errorf("failed to initialize vk: %w", err)
			return
		}
		core.LogInfo("Vulkan loader initialized (windowed: %t).", l.windowed)
	})
	return l.err
}

// Window is the optional demo window. It only pumps events; presentation is not
// wired through the device.
type Window struct {
	handle *glfw.Window
	start  float64
}

// OpenWindow creates a hidden-then-shown GLFW window. GLFW must run on the main OS
// thread, so the caller locks it first.
func OpenWindow(loader *Loader, title string, width, height uint32) (*Window, error) {
	runtime.LockOSThread()
	if err := loader.Load(); err != nil {
		return nil, err
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)

	handle, err := glfw.CreateWindow(int(width), int(height), title, nil, nil)
	if err != nil {
		core.LogError("failed to create window: %s", err)
		return nil, err
	}
	handle.SetFramebufferSizeCallback(func(w *glfw.Window, width, height int) {
		core.LogDebug("framebuffer resized to %dx%d", width, height)
	})
	handle.Show()

	return &Window{handle: handle, start: glfw.GetTime()}, nil
}

// PumpMessages processes pending window events and reports whether the window
// should stay open.
func (w *Window) PumpMessages() bool {
	glfw.PollEvents()
	return !w.handle.ShouldClose()
}

// Elapsed returns the seconds since the window was opened.
func (w *Window) Elapsed() float64 {
	return glfw.GetTime() - w.start
}

func (w *Window) Close() {
	w.handle.Destroy()
	glfw.Terminate()
}
