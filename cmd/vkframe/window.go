package main

import (
	"log/slog"

	"github.com/go-gl/glfw/v3.3/glfw"

	"github.com/andewx/vkframe"
	"github.com/andewx/vkframe/hal/soft"
)

// host is the window the main loop drives.
type host interface {
	vkframe.Window
	// Poll processes pending events and reports whether the loop should go on.
	Poll() bool
	SetTitle(title string)
	Input() input
}

// input is the keyboard and mouse state the camera reads each frame.
type input struct {
	forward, back, left, right bool
	up, down                   bool
	// look is set while the right mouse button is held.
	look   bool
	cursor [2]float64
}

type glfwHost struct {
	window *glfw.Window
}

func newGLFWHost(w *glfw.Window) *glfwHost {
	return &glfwHost{window: w}
}

func (g *glfwHost) FramebufferSize() (int, int) { return g.window.GetFramebufferSize() }

// WaitEvents blocks while the window is minimized.
func (g *glfwHost) WaitEvents() { glfw.WaitEvents() }

func (g *glfwHost) Poll() bool {
	glfw.PollEvents()
	return !g.window.ShouldClose()
}

func (g *glfwHost) SetTitle(title string) { g.window.SetTitle(title) }

func (g *glfwHost) Input() input {
	pressed := func(k glfw.Key) bool { return g.window.GetKey(k) == glfw.Press }
	x, y := g.window.GetCursorPos()
	return input{
		forward: pressed(glfw.KeyW),
		back:    pressed(glfw.KeyS),
		left:    pressed(glfw.KeyA),
		right:   pressed(glfw.KeyD),
		up:      pressed(glfw.KeySpace),
		down:    pressed(glfw.KeyLeftShift),
		look:    g.window.GetMouseButton(glfw.MouseButtonRight) == glfw.Press,
		cursor:  [2]float64{x, y},
	}
}

// softHost wraps the CPU backend's window, which has no events and no
// title bar.
type softHost struct {
	*soft.Window
	logger *slog.Logger
}

func newSoftHost(w *soft.Window, logger *slog.Logger) *softHost {
	return &softHost{Window: w, logger: logger}
}

func (s *softHost) Poll() bool { return true }

func (s *softHost) SetTitle(title string) { s.logger.Info(title) }

func (s *softHost) Input() input { return input{} }
