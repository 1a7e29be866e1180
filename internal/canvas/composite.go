package canvas

import (
	"image"
	"image/draw"

	"github.com/disintegration/imaging"
)

// ForegroundOptions tunes CompositeForeground.
type ForegroundOptions struct {
	// EdgeBlend is the Gaussian sigma, in output pixels, applied to the mask
	// before compositing. Zero keeps hard edges.
	EdgeBlend float64 `json:"edge_blend"`
}

// StrictComposite returns original everywhere the mask is black or transparent
// and candidate where the mask is white. Candidate and mask are stretched to
// the original's size first.
func StrictComposite(original, candidate, mask image.Image) *image.NRGBA {
	out := imaging.Clone(original)
	w, h := out.Bounds().Dx(), out.Bounds().Dy()

	layer := Resample(candidate, w, h)
	coverage := Coverage(Resample(mask, w, h))

	draw.DrawMask(out, out.Bounds(), layer, image.Point{}, coverage, image.Point{}, draw.Over)
	return out
}

// CompositeForeground pastes foreground onto background inside box, cut out by
// mask. The mask lives in foreground space and is scaled with it. An empty box
// stretches the foreground over the whole background. A nil mask uses the
// foreground's own alpha.
func CompositeForeground(background, foreground image.Image, box BoundingBox, mask image.Image, opts ForegroundOptions) (*image.NRGBA, error) {
	out := imaging.Clone(background)
	bounds := out.Bounds()

	if !box.Valid() {
		return nil, &BoundsError{Box: box.Rect(), Bounds: bounds}
	}
	target := bounds
	if !box.IsEmpty() {
		r := box.Rect()
		if !r.In(bounds) {
			return nil, &BoundsError{Box: r, Bounds: bounds}
		}
		target = r
	}
	w, h := target.Dx(), target.Dy()

	fg := Resample(foreground, w, h)

	var coverage image.Image
	if mask != nil {
		m := Resample(mask, w, h)
		if opts.EdgeBlend > 0 {
			m = imaging.Blur(m, opts.EdgeBlend)
		}
		coverage = Coverage(m)
	}

	draw.DrawMask(out, target, fg, image.Point{}, coverage, image.Point{}, draw.Over)
	return out, nil
}

// Coverage converts a black/white mask into an alpha map: luminance scaled by
// the mask's own alpha, so black and transparent pixels both mean "preserve".
func Coverage(mask image.Image) *image.Alpha {
	m := imaging.Clone(mask)
	b := m.Bounds()
	out := image.NewAlpha(image.Rect(0, 0, b.Dx(), b.Dy()))

	for y := 0; y < b.Dy(); y++ {
		src := m.Pix[y*m.Stride : y*m.Stride+b.Dx()*4]
		dst := out.Pix[y*out.Stride : y*out.Stride+b.Dx()]
		for x := range dst {
			p := src[x*4 : x*4+4 : x*4+4]
			luma := (299*uint32(p[0]) + 587*uint32(p[1]) + 114*uint32(p[2]) + 500) / 1000
			dst[x] = uint8((luma*uint32(p[3]) + 127) / 255)
		}
	}
	return out
}
