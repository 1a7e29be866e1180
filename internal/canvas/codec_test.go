package canvas

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodePNGRoundTrip(t *testing.T) {
	src := gradient(64, 48)

	enc, err := Encode(src, MediaPNG)
	require.NoError(t, err)
	assert.Equal(t, MediaPNG, enc.MediaType)

	got, err := Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, src.Bounds(), got.Bounds())
	assert.Equal(t, src.Pix, got.Pix)
}

func TestEncodeJPEGDecodes(t *testing.T) {
	enc, err := Encode(solid(32, 16, red), "image/jpg")
	require.NoError(t, err)
	assert.Equal(t, MediaJPEG, enc.MediaType)

	got, err := Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, 32, got.Bounds().Dx())
	assert.Equal(t, 16, got.Bounds().Dy())
}

func TestEncodeWebPUnsupported(t *testing.T) {
	_, err := Encode(solid(4, 4, red), MediaWebP)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedMediaType))
}

func TestDecodeErrors(t *testing.T) {
	png, err := EncodePNG(solid(4, 4, red))
	require.NoError(t, err)

	tests := []struct {
		name      string
		enc       EncodedImage
		mediaType string
	}{
		{name: "missing media type", enc: EncodedImage{Data: png.Data}},
		{name: "empty payload", enc: EncodedImage{MediaType: MediaPNG}, mediaType: MediaPNG},
		{name: "declared type does not match bytes", enc: EncodedImage{Data: png.Data, MediaType: MediaJPEG}, mediaType: MediaJPEG},
		{name: "garbage bytes", enc: EncodedImage{Data: []byte("not an image"), MediaType: MediaPNG}, mediaType: MediaPNG},
		{name: "unsupported type", enc: EncodedImage{Data: png.Data, MediaType: "image/gif"}, mediaType: "image/gif"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.enc)
			require.Error(t, err)

			var decErr *DecodeError
			require.True(t, errors.As(err, &decErr))
			assert.Equal(t, tt.mediaType, decErr.MediaType)
		})
	}
}

// pngHeader returns a PNG signature and IHDR claiming w×h RGBA pixels with
// no image data behind it.
func pngHeader(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], w)
	binary.BigEndian.PutUint32(ihdr[4:8], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // truecolor with alpha

	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(ihdr)))
	buf.Write(length[:])
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	var crc [4]byte
	binary.BigEndian.PutUint32(crc[:], crc32.ChecksumIEEE(chunk))
	buf.Write(crc[:])
	return buf.Bytes()
}

func TestDecodeRejectsOversizedHeader(t *testing.T) {
	_, err := Decode(EncodedImage{Data: pngHeader(60000, 60000), MediaType: MediaPNG})
	require.Error(t, err)

	var decErr *DecodeError
	require.True(t, errors.As(err, &decErr))
	assert.Equal(t, MediaPNG, decErr.MediaType)
	assert.True(t, errors.Is(err, ErrImageTooLarge))
}

func TestDecodeHonorsPixelLimit(t *testing.T) {
	prev := MaxDecodePixels
	t.Cleanup(func() { MaxDecodePixels = prev })

	png, err := EncodePNG(solid(16, 16, red))
	require.NoError(t, err)
	jpg, err := Encode(solid(16, 16, red), MediaJPEG)
	require.NoError(t, err)

	MaxDecodePixels = 255
	for _, enc := range []EncodedImage{png, jpg} {
		_, err := Decode(enc)
		assert.True(t, errors.Is(err, ErrImageTooLarge), enc.MediaType)
	}

	MaxDecodePixels = 256
	for _, enc := range []EncodedImage{png, jpg} {
		_, err := Decode(enc)
		assert.NoError(t, err, enc.MediaType)
	}
}

func TestDataURLRoundTrip(t *testing.T) {
	enc, err := EncodePNG(solid(3, 3, blue))
	require.NoError(t, err)

	url := enc.DataURL()
	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))

	parsed, err := ParseDataURL(url)
	require.NoError(t, err)
	assert.Equal(t, enc, parsed)
}

func TestParseDataURLRejectsMalformed(t *testing.T) {
	for _, value := range []string{
		"",
		"iVBORw0KGgo=",
		"data:image/png;base64",
		"data:;base64,AAAA",
		"data:image/png,AAAA",
		"data:image/png;base64,!!!",
	} {
		_, err := ParseDataURL(value)
		assert.Error(t, err, value)
	}
}

func TestDetectMediaType(t *testing.T) {
	png, err := EncodePNG(solid(2, 2, red))
	require.NoError(t, err)

	assert.Equal(t, MediaPNG, DetectMediaType(png.Data, ""))
	assert.Equal(t, MediaPNG, DetectMediaType(png.Data, "application/octet-stream"))
	assert.Equal(t, MediaWebP, DetectMediaType(png.Data, "image/WEBP; charset=binary"))
	assert.Equal(t, MediaJPEG, DetectMediaType(nil, ""))
}
