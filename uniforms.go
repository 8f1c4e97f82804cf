package vkframe

import (
	"encoding/binary"
	"math"

	lin "github.com/xlab/linmath"
)

// uniformSize is three column-major 4x4 float matrices.
const uniformSize = 3 * 16 * 4

// UniformBufferObject is written to the uniform buffer of a frame slot every
// frame and bound at binding 0.
type UniformBufferObject struct {
	Model lin.Mat4x4
	View  lin.Mat4x4
	Proj  lin.Mat4x4
}

// NewUniformBufferObject returns identity model, view and projection.
func NewUniformBufferObject() UniformBufferObject {
	var u UniformBufferObject
	u.Model.Identity()
	u.View.Identity()
	u.Proj.Identity()
	return u
}

// Bytes encodes the matrices in the std140 layout the vertex shader reads.
func (u *UniformBufferObject) Bytes() []byte {
	out := make([]byte, 0, uniformSize)
	for _, m := range []*lin.Mat4x4{&u.Model, &u.View, &u.Proj} {
		for col := 0; col < 4; col++ {
			for row := 0; row < 4; row++ {
				out = binary.LittleEndian.AppendUint32(out, math.Float32bits(m[col][row]))
			}
		}
	}
	return out
}

// VulkanProjectionMat converts a GL style projection matrix, which is what
// linmath produces, into Vulkan clip space: Y points down and depth is in
// [0, 1] instead of [-1, 1].
func VulkanProjectionMat(m *lin.Mat4x4, proj *lin.Mat4x4) {
	var clip lin.Mat4x4
	clip.Identity()
	clip[1][1] = -1
	clip[2][2] = 0.5
	clip[3][2] = 0.5
	m.Mult(&clip, proj)
}
