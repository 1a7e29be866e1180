package canvas

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/webp"
)

const (
	MediaPNG  = "image/png"
	MediaJPEG = "image/jpeg"
	MediaWebP = "image/webp"
)

// EncodedImage is the interchange form of a raster: raw bytes plus the declared media type.
type EncodedImage struct {
	Data      []byte
	MediaType string
}

func NewEncodedImage(data []byte, mediaType string) EncodedImage {
	return EncodedImage{Data: data, MediaType: NormalizeMediaType(mediaType)}
}

func (e EncodedImage) IsZero() bool {
	return len(e.Data) == 0
}

func (e EncodedImage) Base64() string {
	return base64.StdEncoding.EncodeToString(e.Data)
}

// DataURL renders the image as data:<mediaType>;base64,<payload>.
func (e EncodedImage) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", e.MediaType, e.Base64())
}

func ParseDataURL(value string) (EncodedImage, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return EncodedImage{}, errors.New("empty data url")
	}

	const prefix = "data:"
	if !strings.HasPrefix(value, prefix) {
		return EncodedImage{}, errors.New("invalid data url: missing data: prefix")
	}

	meta, payload, ok := strings.Cut(value[len(prefix):], ",")
	if !ok {
		return EncodedImage{}, errors.New("invalid data url: missing payload")
	}

	metaParts := strings.Split(meta, ";")
	mediaType := NormalizeMediaType(metaParts[0])
	if mediaType == "" {
		return EncodedImage{}, errors.New("invalid data url: missing media type")
	}
	isBase64 := false
	for _, p := range metaParts[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}
	if !isBase64 {
		return EncodedImage{}, errors.New("invalid data url: payload is not base64")
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return EncodedImage{}, fmt.Errorf("decode base64: %w", err)
	}

	return EncodedImage{Data: data, MediaType: mediaType}, nil
}

// NormalizeMediaType lowercases the type and strips parameters; it never guesses.
func NormalizeMediaType(mediaType string) string {
	mediaType = strings.TrimSpace(mediaType)
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = strings.TrimSpace(mediaType[:i])
	}
	mediaType = strings.ToLower(mediaType)
	if mediaType == "image/jpg" {
		return MediaJPEG
	}
	return mediaType
}

// DetectMediaType resolves the media type of an uploaded payload: the declared
// header wins unless it is empty or generic, in which case the bytes are sniffed.
func DetectMediaType(data []byte, declared string) string {
	mediaType := NormalizeMediaType(declared)
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType = NormalizeMediaType(http.DetectContentType(data))
	}
	if !strings.HasPrefix(mediaType, "image/") {
		mediaType = MediaJPEG
	}
	return mediaType
}

func IsSupportedMediaType(mediaType string) bool {
	switch NormalizeMediaType(mediaType) {
	case MediaPNG, MediaJPEG, MediaWebP:
		return true
	}
	return false
}

// MaxDecodePixels caps width*height of any raster Decode will allocate.
// Zero or negative disables the check.
var MaxDecodePixels int64 = DefaultMaxDecodePixels

const DefaultMaxDecodePixels = 40_000_000

// Decode parses enc using the decoder for its declared media type.
func Decode(enc EncodedImage) (*image.NRGBA, error) {
	mediaType := NormalizeMediaType(enc.MediaType)
	if mediaType == "" {
		return nil, &DecodeError{Err: errors.New("missing media type")}
	}
	if len(enc.Data) == 0 {
		return nil, &DecodeError{MediaType: mediaType, Err: errors.New("empty payload")}
	}

	var (
		decode       func(io.Reader) (image.Image, error)
		decodeConfig func(io.Reader) (image.Config, error)
	)
	switch mediaType {
	case MediaPNG:
		decode, decodeConfig = png.Decode, png.DecodeConfig
	case MediaJPEG:
		decode, decodeConfig = jpeg.Decode, jpeg.DecodeConfig
	case MediaWebP:
		decode, decodeConfig = webp.Decode, webp.DecodeConfig
	default:
		return nil, &DecodeError{MediaType: mediaType, Err: ErrUnsupportedMediaType}
	}

	// The header is checked first so a forged size never reaches the allocator.
	cfg, err := decodeConfig(bytes.NewReader(enc.Data))
	if err != nil {
		return nil, &DecodeError{MediaType: mediaType, Err: err}
	}
	if limit := MaxDecodePixels; limit > 0 && int64(cfg.Width)*int64(cfg.Height) > limit {
		return nil, &DecodeError{
			MediaType: mediaType,
			Err:       fmt.Errorf("%dx%d: %w", cfg.Width, cfg.Height, ErrImageTooLarge),
		}
	}

	img, err := decode(bytes.NewReader(enc.Data))
	if err != nil {
		return nil, &DecodeError{MediaType: mediaType, Err: err}
	}
	if img.Bounds().Empty() {
		return nil, &DecodeError{MediaType: mediaType, Err: errors.New("empty raster")}
	}

	return imaging.Clone(img), nil
}

// Encode serializes img. PNG is lossless; JPEG uses the encoder's default quality.
func Encode(img image.Image, mediaType string) (EncodedImage, error) {
	mediaType = NormalizeMediaType(mediaType)

	var format imaging.Format
	switch mediaType {
	case MediaPNG:
		format = imaging.PNG
	case MediaJPEG:
		format = imaging.JPEG
	default:
		return EncodedImage{}, fmt.Errorf("encode %q: %w", mediaType, ErrUnsupportedMediaType)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format); err != nil {
		return EncodedImage{}, fmt.Errorf("encode %s: %w", mediaType, err)
	}
	return EncodedImage{Data: buf.Bytes(), MediaType: mediaType}, nil
}

// EncodePNG is Encode with image/png, the format every compositor emits.
func EncodePNG(img image.Image) (EncodedImage, error) {
	return Encode(img, MediaPNG)
}
