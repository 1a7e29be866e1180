package canvas

import (
	"errors"
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCrop(t *testing.T) {
	src := gradient(100, 80)

	got, err := Crop(src, BoundingBox{X: 10, Y: 10, Width: 50, Height: 30})
	require.NoError(t, err)
	assert.Equal(t, 50, got.Bounds().Dx())
	assert.Equal(t, 30, got.Bounds().Dy())
	assert.Equal(t, src.NRGBAAt(10, 10), got.NRGBAAt(0, 0))
	assert.Equal(t, src.NRGBAAt(59, 39), got.NRGBAAt(49, 29))
}

func TestCropRoundsToNearestPixel(t *testing.T) {
	src := gradient(100, 80)

	got, err := Crop(src, BoundingBox{X: 9.6, Y: 10.4, Width: 49.5, Height: 29.6})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 50, 30), got.Bounds())
	assert.Equal(t, src.NRGBAAt(10, 10), got.NRGBAAt(0, 0))
}

func TestCropRejectsOutOfBounds(t *testing.T) {
	src := gradient(100, 80)

	tests := []struct {
		name string
		box  BoundingBox
	}{
		{name: "past right edge", box: BoundingBox{X: 60, Y: 0, Width: 50, Height: 10}},
		{name: "past bottom edge", box: BoundingBox{X: 0, Y: 70, Width: 10, Height: 20}},
		{name: "negative origin", box: BoundingBox{X: -1, Y: 0, Width: 10, Height: 10}},
		{name: "zero size", box: BoundingBox{X: 5, Y: 5}},
		{name: "negative width", box: BoundingBox{X: 50, Y: 10, Width: -20, Height: 10}},
		{name: "negative height", box: BoundingBox{X: 10, Y: 50, Width: 10, Height: -20}},
		{name: "NaN width", box: BoundingBox{X: 10, Y: 10, Width: math.NaN(), Height: 10}},
		{name: "infinite height", box: BoundingBox{X: 10, Y: 10, Width: 10, Height: math.Inf(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Crop(src, tt.box)
			var boundsErr *BoundsError
			require.True(t, errors.As(err, &boundsErr))
			assert.Equal(t, image.Rect(0, 0, 100, 80), boundsErr.Bounds)
		})
	}
}

func TestPadGeometry(t *testing.T) {
	tests := []struct {
		name   string
		w, h   int
		ratio  float64
		size   image.Point
		offset image.Point
	}{
		{name: "wide source to square", w: 200, h: 100, ratio: 1, size: image.Pt(200, 200), offset: image.Pt(0, 50)},
		{name: "tall source to square", w: 100, h: 300, ratio: 1, size: image.Pt(300, 300), offset: image.Pt(100, 0)},
		{name: "square to 16:9", w: 90, h: 90, ratio: Ratio16x9.Value(), size: image.Pt(160, 90), offset: image.Pt(35, 0)},
		{name: "square to 9:16", w: 90, h: 90, ratio: Ratio9x16.Value(), size: image.Pt(90, 160), offset: image.Pt(0, 35)},
		{name: "already at ratio", w: 400, h: 300, ratio: Ratio4x3.Value(), size: image.Pt(400, 300), offset: image.Pt(0, 0)},
		{name: "odd padding rounds half up", w: 3, h: 2, ratio: 1, size: image.Pt(3, 3), offset: image.Pt(0, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size, offset := PadGeometry(tt.w, tt.h, tt.ratio)
			assert.Equal(t, tt.size, size)
			assert.Equal(t, tt.offset, offset)
		})
	}
}

func TestPadToAspectRatioCentersSource(t *testing.T) {
	src := solid(200, 100, red)

	got := PadToAspectRatio(src, 1.0, white)
	require.Equal(t, image.Rect(0, 0, 200, 200), got.Bounds())

	assert.Equal(t, white, got.NRGBAAt(0, 49))
	assert.Equal(t, red, got.NRGBAAt(0, 50))
	assert.Equal(t, red, got.NRGBAAt(199, 149))
	assert.Equal(t, white, got.NRGBAAt(199, 150))
}

func TestPadToAspectRatioIdempotent(t *testing.T) {
	sizes := []image.Point{{200, 100}, {100, 200}, {123, 77}, {640, 480}, {1, 1}, {1000, 3}}

	for _, ar := range AspectRatios() {
		for _, s := range sizes {
			once := PadToAspectRatio(solid(s.X, s.Y, red), ar.Value(), white)
			twice := PadToAspectRatio(once, ar.Value(), white)
			assert.Equal(t, once.Bounds(), twice.Bounds(), "%s %v", ar, s)
		}
	}
}

func TestResample(t *testing.T) {
	src := gradient(40, 20)

	same := Resample(src, 40, 20)
	assert.Equal(t, src.Pix, same.Pix)

	stretched := Resample(solid(10, 10, red), 30, 7)
	assert.Equal(t, image.Rect(0, 0, 30, 7), stretched.Bounds())
	assert.Equal(t, red, stretched.NRGBAAt(15, 3))
}
