package main

import (
	"image"
	"image/png"
	"os"

	"github.com/pkg/errors"

	"github.com/andewx/vkframe"
	"github.com/andewx/vkframe/hal"
)

var quadVertices = []vkframe.Vertex{
	{Position: [3]float32{-0.5, -0.5, 0}, Color: [3]float32{1, 0, 0}, TexCoord: [2]float32{1, 0}},
	{Position: [3]float32{0.5, -0.5, 0}, Color: [3]float32{0, 1, 0}, TexCoord: [2]float32{0, 0}},
	{Position: [3]float32{0.5, 0.5, 0}, Color: [3]float32{0, 0, 1}, TexCoord: [2]float32{0, 1}},
	{Position: [3]float32{-0.5, 0.5, 0}, Color: [3]float32{1, 1, 1}, TexCoord: [2]float32{1, 1}},
}

var quadIndices = []uint32{0, 1, 2, 2, 3, 0}

// captureImage converts a capture into an RGBA image. BGRA captures have
// their red and blue channels swapped.
func captureImage(c *vkframe.Capture) (*image.RGBA, error) {
	w, h := int(c.Extent.Width), int(c.Extent.Height)
	if len(c.Pixels) < w*h*4 {
		return nil, errors.Errorf("capture has %d bytes, want %d", len(c.Pixels), w*h*4)
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	copy(img.Pix, c.Pixels[:w*h*4])
	switch c.Format {
	case hal.FormatB8G8R8A8Unorm, hal.FormatB8G8R8A8Srgb:
		for i := 0; i < len(img.Pix); i += 4 {
			img.Pix[i], img.Pix[i+2] = img.Pix[i+2], img.Pix[i]
		}
	case hal.FormatR8G8B8A8Unorm, hal.FormatR8G8B8A8Srgb:
	default:
		return nil, errors.Errorf("cannot encode %s capture", c.Format)
	}
	return img, nil
}

func savePNG(path string, c *vkframe.Capture) error {
	img, err := captureImage(c)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create screenshot")
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return errors.Wrap(err, "encode screenshot")
	}
	return errors.Wrap(f.Close(), "close screenshot")
}
