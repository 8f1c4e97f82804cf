package vkframe

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andewx/vkframe/hal/soft"
)

var quadVertices = []Vertex{
	{Position: [3]float32{-0.5, -0.5, 0}, Color: [3]float32{1, 0, 0}, TexCoord: [2]float32{1, 0}},
	{Position: [3]float32{0.5, -0.5, 0}, Color: [3]float32{0, 1, 0}, TexCoord: [2]float32{0, 0}},
	{Position: [3]float32{0.5, 0.5, 0}, Color: [3]float32{0, 0, 1}, TexCoord: [2]float32{0, 1}},
	{Position: [3]float32{-0.5, 0.5, 0}, Color: [3]float32{1, 1, 1}, TexCoord: [2]float32{1, 1}},
}

var quadIndices = []uint32{0, 1, 2, 2, 3, 0}

func TestEncodeVertices(t *testing.T) {
	b := EncodeVertices(quadVertices)
	require.Len(t, b, len(quadVertices)*VertexStride)

	float := func(i int) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:])) }
	v := quadVertices[2]
	base := 2 * VertexStride / 4
	assert.Equal(t, v.Position[0], float(base))
	assert.Equal(t, v.Color[2], float(base+5))
	assert.Equal(t, v.TexCoord[1], float(base+7))

	attrs := VertexAttributes()
	require.Len(t, attrs, 3)
	assert.Equal(t, uint32(12), attrs[1].Offset)
	assert.Equal(t, uint32(24), attrs[2].Offset)
}

func newMeshArena(t *testing.T) (*MeshArena, *Uploader, *soft.Device) {
	t.Helper()
	u, dev := newUploader(t)
	a := NewMeshArena(u)
	t.Cleanup(a.Destroy)
	return a, u, dev
}

func TestMeshArenaLoad(t *testing.T) {
	a, u, dev := newMeshArena(t)
	h, err := a.Load(quadVertices, quadIndices)
	require.NoError(t, err)
	assert.Equal(t, 1, a.Len())

	m, err := a.Get(h)
	require.NoError(t, err)
	assert.Equal(t, uint32(6), m.IndexCount)

	got, err := u.DownloadBuffer(m.Vertices, m.Vertices.Size())
	require.NoError(t, err)
	assert.Equal(t, EncodeVertices(quadVertices), got)
	got, err = u.DownloadBuffer(m.Indices, m.Indices.Size())
	require.NoError(t, err)
	assert.Equal(t, encodeIndices(quadIndices), got)
	assert.Empty(t, dev.Violations())
}

func TestMeshArenaStaleHandle(t *testing.T) {
	a, _, dev := newMeshArena(t)
	first, err := a.Load(quadVertices, quadIndices)
	require.NoError(t, err)
	second, err := a.Load(quadVertices[:3], quadIndices[:3])
	require.NoError(t, err)
	allocated := dev.Allocated()

	require.NoError(t, a.Unload(first))
	assert.Less(t, dev.Allocated(), allocated)
	assert.Equal(t, 1, a.Len())
	_, err = a.Get(first)
	assert.ErrorIs(t, err, ErrStaleHandle)
	assert.ErrorIs(t, a.Unload(first), ErrStaleHandle)

	// The freed slot is reused under a new generation.
	third, err := a.Load(quadVertices, quadIndices)
	require.NoError(t, err)
	assert.Equal(t, first.index, third.index)
	assert.NotEqual(t, first.generation, third.generation)
	_, err = a.Get(first)
	assert.ErrorIs(t, err, ErrStaleHandle)

	var seen []MeshHandle
	a.Each(func(h MeshHandle, _ *Mesh) { seen = append(seen, h) })
	assert.Equal(t, []MeshHandle{third, second}, seen)

	_, err = a.Get(MeshHandle{index: 99})
	assert.ErrorIs(t, err, ErrStaleHandle)
}

func TestMeshArenaDestroyReleasesMemory(t *testing.T) {
	a, _, dev := newMeshArena(t)
	for i := 0; i < 4; i++ {
		_, err := a.Load(quadVertices, quadIndices)
		require.NoError(t, err)
	}
	a.Destroy()
	assert.Zero(t, a.Len())
	assert.Zero(t, dev.Allocated())
}

func TestMeshArenaEmptyLoad(t *testing.T) {
	a, _, dev := newMeshArena(t)
	_, err := a.Load(nil, nil)
	assert.ErrorIs(t, err, ErrEmptyUpload)
	_, err = a.Load(quadVertices, nil)
	assert.ErrorIs(t, err, ErrEmptyUpload)
	assert.Zero(t, a.Len())
	assert.Zero(t, dev.Allocated())
}
