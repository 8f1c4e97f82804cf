package vkframe

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/andewx/vkframe/hal"
)

// VertexStride is the encoded size of a Vertex.
const VertexStride = 32

// Vertex is the layout every mesh uses: position at location 0, color at
// location 1 and texture coordinates at location 2.
type Vertex struct {
	Position [3]float32
	Color    [3]float32
	TexCoord [2]float32
}

func VertexAttributes() []hal.VertexAttribute {
	return []hal.VertexAttribute{
		{Location: 0, Format: hal.FormatR32G32B32Sfloat, Offset: 0},
		{Location: 1, Format: hal.FormatR32G32B32Sfloat, Offset: 12},
		{Location: 2, Format: hal.FormatR32G32Sfloat, Offset: 24},
	}
}

// EncodeVertices packs vertices little-endian at VertexStride bytes each.
func EncodeVertices(vertices []Vertex) []byte {
	out := make([]byte, 0, len(vertices)*VertexStride)
	put := func(fs ...float32) {
		for _, f := range fs {
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(f))
		}
	}
	for _, v := range vertices {
		put(v.Position[:]...)
		put(v.Color[:]...)
		put(v.TexCoord[:]...)
	}
	return out
}

func encodeIndices(indices []uint32) []byte {
	out := make([]byte, 0, len(indices)*4)
	for _, i := range indices {
		out = binary.LittleEndian.AppendUint32(out, i)
	}
	return out
}

// Mesh is a pair of device local buffers ready to draw.
type Mesh struct {
	Vertices   hal.Buffer
	Indices    hal.Buffer
	IndexCount uint32
}

// Draw binds the buffers and issues one indexed draw.
func (m *Mesh) Draw(cmd hal.CommandBuffer) {
	cmd.BindVertexBuffer(m.Vertices, 0)
	cmd.BindIndexBuffer(m.Indices, 0, hal.IndexUint32)
	cmd.DrawIndexed(m.IndexCount, 1, 0, 0, 0)
}

func (m *Mesh) destroy() {
	m.Vertices.Destroy()
	m.Indices.Destroy()
}

// MeshHandle addresses a mesh in a MeshArena. A handle goes stale when its
// mesh is unloaded, even if the slot is reused.
type MeshHandle struct {
	index      uint32
	generation uint32
}

type meshSlot struct {
	mesh       *Mesh
	generation uint32
}

// MeshArena stores meshes by handle. It is owned by the render goroutine.
type MeshArena struct {
	uploader *Uploader
	slots    []meshSlot
	free     []uint32
}

func NewMeshArena(u *Uploader) *MeshArena {
	return &MeshArena{uploader: u}
}

// Load uploads the vertex and index data and returns a handle to the mesh.
func (a *MeshArena) Load(vertices []Vertex, indices []uint32) (MeshHandle, error) {
	vb, err := a.uploader.UploadBuffer(hal.BufferUsageVertex, EncodeVertices(vertices))
	if err != nil {
		return MeshHandle{}, errors.Wrap(err, "upload vertices")
	}
	ib, err := a.uploader.UploadBuffer(hal.BufferUsageIndex, encodeIndices(indices))
	if err != nil {
		vb.Destroy()
		return MeshHandle{}, errors.Wrap(err, "upload indices")
	}
	mesh := &Mesh{Vertices: vb, Indices: ib, IndexCount: uint32(len(indices))}

	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, meshSlot{})
	}
	s := &a.slots[idx]
	s.mesh = mesh
	return MeshHandle{index: idx, generation: s.generation}, nil
}

func (a *MeshArena) slot(h MeshHandle) (*meshSlot, error) {
	if int(h.index) >= len(a.slots) {
		return nil, errors.WithStack(ErrStaleHandle)
	}
	s := &a.slots[h.index]
	if s.mesh == nil || s.generation != h.generation {
		return nil, errors.WithStack(ErrStaleHandle)
	}
	return s, nil
}

func (a *MeshArena) Get(h MeshHandle) (*Mesh, error) {
	s, err := a.slot(h)
	if err != nil {
		return nil, err
	}
	return s.mesh, nil
}

// Unload destroys the mesh buffers. The caller guarantees no frame in flight
// still reads them.
func (a *MeshArena) Unload(h MeshHandle) error {
	s, err := a.slot(h)
	if err != nil {
		return err
	}
	s.mesh.destroy()
	s.mesh = nil
	s.generation++
	a.free = append(a.free, h.index)
	return nil
}

// Each calls fn for every loaded mesh in slot order.
func (a *MeshArena) Each(fn func(h MeshHandle, m *Mesh)) {
	for i := range a.slots {
		s := &a.slots[i]
		if s.mesh != nil {
			fn(MeshHandle{index: uint32(i), generation: s.generation}, s.mesh)
		}
	}
}

func (a *MeshArena) Len() int { return len(a.slots) - len(a.free) }

// Destroy unloads every mesh.
func (a *MeshArena) Destroy() {
	for i := range a.slots {
		if a.slots[i].mesh != nil {
			a.slots[i].mesh.destroy()
			a.slots[i].mesh = nil
		}
	}
	a.slots, a.free = nil, nil
}
