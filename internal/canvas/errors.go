package canvas

import (
	"errors"
	"fmt"
	"image"
)

var ErrUnsupportedMediaType = errors.New("unsupported media type")

var ErrImageTooLarge = errors.New("image exceeds pixel limit")

// DecodeError reports bytes that do not parse as a raster of the declared media type.
type DecodeError struct {
	MediaType string
	Err       error
}

func (e *DecodeError) Error() string {
	if e.MediaType == "" {
		return fmt.Sprintf("decode image: %v", e.Err)
	}
	return fmt.Sprintf("decode %s: %v", e.MediaType, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// BoundsError reports a crop or paste region that is not contained in the canvas.
type BoundsError struct {
	Box    image.Rectangle
	Bounds image.Rectangle
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("region %v outside canvas %v", e.Box, e.Bounds)
}

// CompositeError wraps any failure inside a best-effort compositing step.
type CompositeError struct {
	Op  string
	Err error
}

func (e *CompositeError) Error() string {
	return fmt.Sprintf("composite %s: %v", e.Op, e.Err)
}

func (e *CompositeError) Unwrap() error { return e.Err }
