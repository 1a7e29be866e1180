package canvas

import (
	"fmt"
	"image"
	"math"
	"strings"
)

// AspectRatio is one of the output ratios the image models accept.
type AspectRatio string

const (
	Ratio1x1  AspectRatio = "1:1"
	Ratio4x3  AspectRatio = "4:3"
	Ratio3x4  AspectRatio = "3:4"
	Ratio16x9 AspectRatio = "16:9"
	Ratio9x16 AspectRatio = "9:16"
)

// Declaration order doubles as the tie-break order for ClosestRatio. Values are
// exact fractions, not three-decimal approximations.
var aspectRatios = []struct {
	ratio AspectRatio
	value float64
}{
	{Ratio1x1, 1.0},
	{Ratio4x3, 4.0 / 3.0},
	{Ratio3x4, 3.0 / 4.0},
	{Ratio16x9, 16.0 / 9.0},
	{Ratio9x16, 9.0 / 16.0},
}

func AspectRatios() []AspectRatio {
	out := make([]AspectRatio, 0, len(aspectRatios))
	for _, r := range aspectRatios {
		out = append(out, r.ratio)
	}
	return out
}

func (r AspectRatio) Value() float64 {
	for _, ar := range aspectRatios {
		if ar.ratio == r {
			return ar.value
		}
	}
	return 0
}

func (r AspectRatio) Valid() bool {
	return r.Value() > 0
}

func (r AspectRatio) String() string {
	return string(r)
}

func ParseAspectRatio(value string) (AspectRatio, error) {
	r := AspectRatio(strings.ReplaceAll(strings.TrimSpace(value), "x", ":"))
	if !r.Valid() {
		return "", fmt.Errorf("unsupported aspect ratio %q", value)
	}
	return r, nil
}

// ClosestRatio picks the supported ratio nearest to the image's width/height.
func ClosestRatio(img image.Image) AspectRatio {
	if img == nil {
		return Ratio1x1
	}
	b := img.Bounds()
	return ClosestRatioFor(b.Dx(), b.Dy())
}

func ClosestRatioFor(w, h int) AspectRatio {
	if w <= 0 || h <= 0 {
		return Ratio1x1
	}
	r := float64(w) / float64(h)

	best := Ratio1x1
	bestDiff := math.Inf(1)
	for _, ar := range aspectRatios {
		if d := math.Abs(r - ar.value); d < bestDiff {
			best, bestDiff = ar.ratio, d
		}
	}
	return best
}

// Dimensions scales the ratio so that its longer side equals longSide.
func (r AspectRatio) Dimensions(longSide int) (int, int) {
	v := r.Value()
	if v <= 0 || longSide <= 0 {
		return longSide, longSide
	}
	if v >= 1 {
		return longSide, int(math.Round(float64(longSide) / v))
	}
	return int(math.Round(float64(longSide) * v)), longSide
}
