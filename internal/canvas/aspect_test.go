package canvas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClosestRatioFor(t *testing.T) {
	tests := []struct {
		name string
		w, h int
		want AspectRatio
	}{
		{name: "exact square", w: 512, h: 512, want: Ratio1x1},
		{name: "1.5 prefers 4:3 over 16:9", w: 300, h: 200, want: Ratio4x3},
		{name: "full hd", w: 1920, h: 1080, want: Ratio16x9},
		{name: "portrait phone", w: 1080, h: 1920, want: Ratio9x16},
		{name: "portrait print", w: 600, h: 800, want: Ratio3x4},
		{name: "very wide", w: 5000, h: 100, want: Ratio16x9},
		{name: "zero height falls back", w: 100, h: 0, want: Ratio1x1},
		{name: "zero width falls back", w: 0, h: 100, want: Ratio1x1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClosestRatioFor(tt.w, tt.h))
		})
	}
}

func TestClosestRatioTieKeepsFirstDeclared(t *testing.T) {
	// 0.875 is exactly between 1:1 and 3:4.
	assert.Equal(t, Ratio1x1, ClosestRatioFor(700, 800))
}

func TestClosestRatioUsesExactFractions(t *testing.T) {
	// 1.5553 sits between the rounded midpoint (1.555) and the exact one (14/9).
	assert.Equal(t, Ratio4x3, ClosestRatioFor(15553, 10000))
	assert.Equal(t, Ratio16x9, ClosestRatioFor(15560, 10000))
	assert.Equal(t, 16.0/9.0, Ratio16x9.Value())
	assert.Equal(t, 4.0/3.0, Ratio4x3.Value())
}

func TestClosestRatioImage(t *testing.T) {
	assert.Equal(t, Ratio4x3, ClosestRatio(solid(150, 100, red)))
	assert.Equal(t, Ratio1x1, ClosestRatio(nil))
}

func TestParseAspectRatio(t *testing.T) {
	r, err := ParseAspectRatio(" 16x9 ")
	require.NoError(t, err)
	assert.Equal(t, Ratio16x9, r)

	_, err = ParseAspectRatio("5:4")
	assert.Error(t, err)
}

func TestAspectRatioDimensions(t *testing.T) {
	w, h := Ratio16x9.Dimensions(1024)
	assert.Equal(t, 1024, w)
	assert.Equal(t, 576, h)

	w, h = Ratio3x4.Dimensions(1024)
	assert.Equal(t, 768, w)
	assert.Equal(t, 1024, h)
}
