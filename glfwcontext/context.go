// Package glfwcontext is the only package in this module that imports
// glfw: it owns the host window whose framebuffer capture reads back
// from. Its Context satisfies graphics.Context, so it plugs directly
// into glbackend.NewRealContext for a live deployment; fakegl.go and
// FakeContext stand in for it in every test that doesn't have a real
// display to open.
package glfwcontext

import (
	"log"
	"runtime"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/go-gl/glfw/v3.3/glfw"
)

// Context manages the GLFW window the host render loop swaps every
// frame and capture.Frame reads back from.
type Context struct {
	window *glfw.Window
}

// NewContext creates and initializes a new GLFW context and window.
func NewContext(width, height int, title string) (*Context, error) {
	// All GLFW calls that can only run on the main thread are here.
	runtime.LockOSThread()

	if err := glfw.Init(); err != nil {
		return nil, err
	}

	glfw.WindowHint(glfw.ContextVersionMajor, 4)
	glfw.WindowHint(glfw.ContextVersionMinor, 1)
	glfw.WindowHint(glfw.OpenGLProfile, glfw.OpenGLCoreProfile)
	glfw.WindowHint(glfw.OpenGLForwardCompatible, glfw.True)
	glfw.WindowHint(glfw.Resizable, glfw.True)

	win, err := glfw.CreateWindow(width, height, title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, err
	}

	win.MakeContextCurrent()

	// gl.Init also needs to be called after a context is made current.
	if err := gl.Init(); err != nil {
		return nil, err
	}
	log.Printf("glfwcontext: OpenGL version %s", gl.GoStr(gl.GetString(gl.VERSION)))

	return &Context{window: win}, nil
}

// MakeCurrent binds this window's GL context to the calling OS thread,
// required before any glbackend.Context call on a goroutine other than
// the one NewContext ran on.
func (c *Context) MakeCurrent() {
	c.window.MakeContextCurrent()
}

// GetMouseInput returns the window's cursor position and button state
// as (x, y, leftDown, rightDown); capture itself never reads this, it
// exists only to satisfy graphics.Context for callers that overlay a
// capture indicator driven by cursor state.
func (c *Context) GetMouseInput() [4]float32 {
	x, y := c.window.GetCursorPos()
	left := float32(0)
	if c.window.GetMouseButton(glfw.MouseButtonLeft) == glfw.Press {
		left = 1
	}
	right := float32(0)
	if c.window.GetMouseButton(glfw.MouseButtonRight) == glfw.Press {
		right = 1
	}
	return [4]float32{float32(x), float32(y), left, right}
}

// Shutdown safely terminates the GLFW context.
func (c *Context) Shutdown() {
	glfw.Terminate()
}

// ShouldClose returns true if the user has requested to close the window.
func (c *Context) ShouldClose() bool {
	return c.window.ShouldClose()
}

// EndFrame swaps the graphics buffers and polls for user events.
func (c *Context) EndFrame() {
	c.window.SwapBuffers()
	glfw.PollEvents()
}

// GetFramebufferSize returns the current width and height of the window's drawable area.
func (c *Context) GetFramebufferSize() (int, int) {
	return c.window.GetFramebufferSize()
}

// Window returns the underlying *glfw.Window object for direct access if needed (e.g., input).
func (c *Context) Window() *glfw.Window {
	return c.window
}

// Time returns the number of seconds since the context was initialized.
func (c *Context) Time() float64 {
	return glfw.GetTime()
}
