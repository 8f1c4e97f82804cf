// Package texture turns image files into the tightly packed RGBA8 pixels the
// upload engine copies into sampled images.
package texture

import (
	"bufio"
	"context"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/h2non/filetype"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
)

// ErrNotImage is returned by Load for files that are not images.
var ErrNotImage = errors.New("not an image")

// Decode reads an image in any registered format (png, jpeg, bmp, tiff,
// webp) and converts it to RGBA with its origin at (0, 0).
func Decode(r io.Reader) (*image.RGBA, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", errors.Wrap(err, "decode image")
	}
	return ToRGBA(img), format, nil
}

// sniffLen is how many leading bytes filetype needs to recognise a format.
const sniffLen = 262

// Load decodes the image file at path. Files whose header is not a known
// image type are rejected before decoding.
func Load(path string) (*image.RGBA, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open texture")
	}
	defer fp.Close()
	br := bufio.NewReader(fp)
	head, _ := br.Peek(sniffLen)
	if !filetype.IsImage(head) {
		kind, _ := filetype.Match(head)
		return nil, errors.Wrapf(ErrNotImage, "texture %s (%s)", path, kind.Extension)
	}
	img, _, err := Decode(br)
	return img, errors.Wrapf(err, "texture %s", path)
}

// LoadAll decodes paths concurrently, at most limit at a time, and returns
// the images in the order of paths. The first failure cancels the rest.
func LoadAll(ctx context.Context, paths []string, limit int) ([]*image.RGBA, error) {
	out := make([]*image.RGBA, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			img, err := Load(p)
			if err != nil {
				return err
			}
			out[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ToRGBA returns img as an *image.RGBA whose Pix is tightly packed. img is
// returned as is when it already is one.
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) && rgba.Stride == 4*b.Dx() {
		return rgba
	}
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// Fit scales img down so that neither side exceeds limit, keeping the aspect
// ratio. Smaller images are returned unchanged.
func Fit(img *image.RGBA, limit int) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if limit <= 0 || (w <= limit && h <= limit) {
		return img
	}
	if w >= h {
		h, w = max(1, h*limit/w), limit
	} else {
		w, h = max(1, w*limit/h), limit
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// Checkerboard fills a w by h image with square cells of the given size,
// starting with a in the top left corner.
func Checkerboard(w, h, cell int, a, b color.RGBA) *image.RGBA {
	if cell < 1 {
		cell = 1
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := a
			if (x/cell+y/cell)%2 == 1 {
				c = b
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// ErrorTexture is the 16x16 magenta and transparent black pattern sampled
// when no texture is bound.
func ErrorTexture() *image.RGBA {
	return Checkerboard(16, 16, 1, color.RGBA{}, color.RGBA{R: 255, B: 255, A: 255})
}
