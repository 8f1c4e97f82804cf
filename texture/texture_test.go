package texture

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func TestCheckerboard(t *testing.T) {
	a := color.RGBA{R: 1, A: 255}
	b := color.RGBA{G: 2, A: 255}
	img := Checkerboard(8, 4, 2, a, b)
	assert.Equal(t, 8*4*4, len(img.Pix))
	assert.Equal(t, a, img.RGBAAt(0, 0))
	assert.Equal(t, a, img.RGBAAt(1, 1))
	assert.Equal(t, b, img.RGBAAt(2, 0))
	assert.Equal(t, b, img.RGBAAt(0, 2))
	assert.Equal(t, a, img.RGBAAt(2, 2))
}

func TestErrorTexture(t *testing.T) {
	img := ErrorTexture()
	assert.Equal(t, image.Rect(0, 0, 16, 16), img.Bounds())
	assert.Equal(t, color.RGBA{}, img.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{R: 255, B: 255, A: 255}, img.RGBAAt(1, 0))
	assert.Equal(t, color.RGBA{R: 255, B: 255, A: 255}, img.RGBAAt(0, 1))
}

func TestDecodeFormats(t *testing.T) {
	src := Checkerboard(4, 4, 1, color.RGBA{R: 255, A: 255}, color.RGBA{B: 255, A: 255})

	var pngBuf, bmpBuf bytes.Buffer
	require.NoError(t, png.Encode(&pngBuf, src))
	require.NoError(t, bmp.Encode(&bmpBuf, src))

	for name, buf := range map[string]*bytes.Buffer{"png": &pngBuf, "bmp": &bmpBuf} {
		img, format, err := Decode(buf)
		require.NoError(t, err, name)
		assert.Equal(t, name, format)
		assert.Equal(t, src.Pix, img.Pix, name)
	}

	_, _, err := Decode(bytes.NewReader([]byte("not an image")))
	assert.Error(t, err)
}

func TestToRGBAPacksSubImages(t *testing.T) {
	src := Checkerboard(8, 8, 1, color.RGBA{R: 255, A: 255}, color.RGBA{G: 255, A: 255})
	sub := src.SubImage(image.Rect(2, 2, 6, 6))
	img := ToRGBA(sub)
	assert.Equal(t, image.Rect(0, 0, 4, 4), img.Bounds())
	assert.Equal(t, 16, img.Stride)
	assert.Equal(t, src.RGBAAt(2, 2), img.RGBAAt(0, 0))
	assert.Same(t, src, ToRGBA(src))
}

func TestFit(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 400, 100))
	out := Fit(img, 100)
	assert.Equal(t, image.Rect(0, 0, 100, 25), out.Bounds())
	assert.Same(t, img, Fit(img, 1000))
}

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i, c := range []color.RGBA{{R: 255, A: 255}, {G: 255, A: 255}, {B: 255, A: 255}} {
		p := filepath.Join(dir, string(rune('a'+i))+".png")
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, Checkerboard(2, 2, 1, c, c)))
		require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o644))
		paths = append(paths, p)
	}
	imgs, err := LoadAll(context.Background(), paths, 2)
	require.NoError(t, err)
	require.Len(t, imgs, 3)
	assert.Equal(t, color.RGBA{G: 255, A: 255}, imgs[1].RGBAAt(0, 0))

	_, err = LoadAll(context.Background(), append(paths, filepath.Join(dir, "missing.png")), 2)
	assert.Error(t, err)
}

func TestLoadRejectsNonImages(t *testing.T) {
	p := filepath.Join(t.TempDir(), "notes.png")
	require.NoError(t, os.WriteFile(p, []byte("%PDF-1.4 not really a texture"), 0o644))
	_, err := Load(p)
	assert.ErrorIs(t, err, ErrNotImage)
}
