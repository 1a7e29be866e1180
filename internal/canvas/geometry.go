package canvas

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"
)

// BoundingBox is a region in pixel units. Fractional values are rounded to the
// nearest pixel when the box is applied.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (b BoundingBox) Rect() image.Rectangle {
	x := int(math.Round(b.X))
	y := int(math.Round(b.Y))
	w := int(math.Round(b.Width))
	h := int(math.Round(b.Height))
	return image.Rect(x, y, x+w, y+h)
}

// Valid reports whether every field is a finite, non-negative number.
// image.Rect would silently swap the corners of a negative box.
func (b BoundingBox) Valid() bool {
	for _, v := range [...]float64{b.X, b.Y, b.Width, b.Height} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (b BoundingBox) IsEmpty() bool {
	return b.Rect().Empty()
}

// Crop copies box out of img. Boxes that are empty or not fully contained in
// img after rounding are rejected rather than clamped.
func Crop(img image.Image, box BoundingBox) (*image.NRGBA, error) {
	bounds := img.Bounds()
	if !box.Valid() {
		return nil, &BoundsError{Box: box.Rect(), Bounds: bounds.Sub(bounds.Min)}
	}
	r := box.Rect().Add(bounds.Min)
	if r.Empty() || !r.In(bounds) {
		return nil, &BoundsError{Box: box.Rect(), Bounds: bounds.Sub(bounds.Min)}
	}
	return imaging.Crop(img, r), nil
}

// PadGeometry returns the smallest canvas of the target ratio that contains a
// w×h source, and where the source sits on it.
func PadGeometry(w, h int, ratio float64) (size image.Point, offset image.Point) {
	if w <= 0 || h <= 0 || ratio <= 0 || math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		return image.Pt(w, h), image.Point{}
	}

	// Already at the ratio within a pixel of rounding: padding again must not grow it.
	if int(math.Round(float64(h)*ratio)) == w || int(math.Round(float64(w)/ratio)) == h {
		return image.Pt(w, h), image.Point{}
	}

	sourceRatio := float64(w) / float64(h)
	if sourceRatio > ratio {
		canvasHeight := int(math.Round(float64(w) / ratio))
		dy := int(math.Round(float64(canvasHeight-h) / 2))
		return image.Pt(w, canvasHeight), image.Pt(0, dy)
	}

	canvasWidth := int(math.Round(float64(h) * ratio))
	dx := int(math.Round(float64(canvasWidth-w) / 2))
	return image.Pt(canvasWidth, h), image.Pt(dx, 0)
}

// PadToAspectRatio letterboxes img onto a fill-colored canvas of the target ratio.
func PadToAspectRatio(img image.Image, ratio float64, fill color.Color) *image.NRGBA {
	b := img.Bounds()
	size, offset := PadGeometry(b.Dx(), b.Dy(), ratio)
	bg := imaging.New(size.X, size.Y, fill)
	return imaging.Overlay(bg, img, offset, 1.0)
}

// Resample stretches img to exactly w×h without preserving aspect.
func Resample(img image.Image, w, h int) *image.NRGBA {
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return imaging.Clone(img)
	}
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}
