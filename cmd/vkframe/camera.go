package main

import (
	"math"

	lin "github.com/xlab/linmath"

	"github.com/andewx/vkframe"
)

const (
	cameraSpeed       = 2.0
	cameraSensitivity = 0.003
	maxPitch          = math.Pi/2 - 0.01
)

// camera is a free-flying camera driven by WASD and the mouse.
type camera struct {
	position   lin.Vec3
	yaw, pitch float32

	tracking bool
	lastX    float64
	lastY    float64
}

func newCamera() *camera {
	return &camera{position: lin.Vec3{0, 0, 2}, yaw: -math.Pi / 2}
}

func (c *camera) front() lin.Vec3 {
	cp := float32(math.Cos(float64(c.pitch)))
	return lin.Vec3{
		float32(math.Cos(float64(c.yaw))) * cp,
		float32(math.Sin(float64(c.pitch))),
		float32(math.Sin(float64(c.yaw))) * cp,
	}
}

// right is the horizontal unit vector to the right of front.
func (c *camera) right() lin.Vec3 {
	return lin.Vec3{-float32(math.Sin(float64(c.yaw))), 0, float32(math.Cos(float64(c.yaw)))}
}

func (c *camera) update(in input, dt float32) {
	if in.look {
		if c.tracking {
			c.yaw += float32(in.cursor[0]-c.lastX) * cameraSensitivity
			c.pitch -= float32(in.cursor[1]-c.lastY) * cameraSensitivity
			c.pitch = clamp(c.pitch, -maxPitch, maxPitch)
		}
		c.lastX, c.lastY = in.cursor[0], in.cursor[1]
	}
	c.tracking = in.look

	step := cameraSpeed * dt
	front, right := c.front(), c.right()
	move := func(dir lin.Vec3, s float32) {
		for i := range c.position {
			c.position[i] += dir[i] * s
		}
	}
	if in.forward {
		move(front, step)
	}
	if in.back {
		move(front, -step)
	}
	if in.right {
		move(right, step)
	}
	if in.left {
		move(right, -step)
	}
	if in.up {
		c.position[1] += step
	}
	if in.down {
		c.position[1] -= step
	}
}

// matrices returns the view matrix and a Vulkan clip space projection.
func (c *camera) matrices(aspect float32) (view, proj lin.Mat4x4) {
	front := c.front()
	center := lin.Vec3{c.position[0] + front[0], c.position[1] + front[1], c.position[2] + front[2]}
	up := lin.Vec3{0, 1, 0}
	view.LookAt(&c.position, &center, &up)

	var gl lin.Mat4x4
	gl.Perspective(lin.DegreesToRadians(45), aspect, 0.1, 100)
	vkframe.VulkanProjectionMat(&proj, &gl)
	return view, proj
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
