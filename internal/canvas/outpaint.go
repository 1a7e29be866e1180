package canvas

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
)

// OutpaintCanvas is the input prepared for an external fill call.
type OutpaintCanvas struct {
	// Padded holds the source centered on black.
	Padded *image.NRGBA
	// Mask is white where content may be generated and black over the source.
	Mask   *image.NRGBA
	Offset image.Point
	// Source is the rectangle the original occupies on the padded canvas.
	Source image.Rectangle
}

func (c OutpaintCanvas) Size() image.Point {
	return c.Padded.Bounds().Size()
}

func BuildOutpaintCanvas(img image.Image, ratio float64) OutpaintCanvas {
	b := img.Bounds()
	size, offset := PadGeometry(b.Dx(), b.Dy(), ratio)

	padded := imaging.Overlay(imaging.New(size.X, size.Y, color.Black), img, offset, 1.0)

	src := image.Rectangle{Min: offset, Max: offset.Add(b.Size())}
	mask := imaging.New(size.X, size.Y, color.White)
	draw.Draw(mask, src, image.NewUniform(color.Black), image.Point{}, draw.Src)

	return OutpaintCanvas{
		Padded: padded,
		Mask:   mask,
		Offset: offset,
		Source: src,
	}
}

// FinishOutpaint stretches the generated candidate to the canvas and redraws
// the known source on top so that region stays pixel-exact.
func FinishOutpaint(c OutpaintCanvas, source, candidate image.Image) *image.NRGBA {
	size := c.Size()
	out := Resample(candidate, size.X, size.Y)
	draw.Draw(out, c.Source, source, source.Bounds().Min, draw.Over)
	return out
}
