package canvas

import (
	"image"
	"io"
	"log/slog"
	"sync/atomic"
)

type CompositorOptions struct {
	Logger *slog.Logger
}

// Compositor runs the compositing steps on encoded images as a best-effort
// pass: a failure is logged and counted, and the caller gets the unmodified
// generated image back instead of an error.
type Compositor struct {
	logger   *slog.Logger
	failures atomic.Int64
}

func NewCompositor(opts CompositorOptions) *Compositor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Compositor{logger: logger}
}

// Failures reports how many composites fell back since start.
func (c *Compositor) Failures() int64 {
	return c.failures.Load()
}

func (c *Compositor) Strict(original, candidate, mask EncodedImage) EncodedImage {
	out, err := c.strict(original, candidate, mask)
	if err != nil {
		c.report(&CompositeError{Op: "strict", Err: err})
		return candidate
	}
	return out
}

func (c *Compositor) strict(original, candidate, mask EncodedImage) (EncodedImage, error) {
	orig, err := Decode(original)
	if err != nil {
		return EncodedImage{}, err
	}
	cand, err := Decode(candidate)
	if err != nil {
		return EncodedImage{}, err
	}
	m, err := Decode(mask)
	if err != nil {
		return EncodedImage{}, err
	}
	return EncodePNG(StrictComposite(orig, cand, m))
}

// Foreground falls back to the unmodified background. A zero mask means the
// foreground's own alpha is the cutout.
func (c *Compositor) Foreground(background, foreground EncodedImage, box BoundingBox, mask EncodedImage, opts ForegroundOptions) EncodedImage {
	out, err := c.foreground(background, foreground, box, mask, opts)
	if err != nil {
		c.report(&CompositeError{Op: "foreground", Err: err})
		return background
	}
	return out
}

func (c *Compositor) foreground(background, foreground EncodedImage, box BoundingBox, mask EncodedImage, opts ForegroundOptions) (EncodedImage, error) {
	bg, err := Decode(background)
	if err != nil {
		return EncodedImage{}, err
	}
	fg, err := Decode(foreground)
	if err != nil {
		return EncodedImage{}, err
	}
	var m image.Image
	if !mask.IsZero() {
		decoded, err := Decode(mask)
		if err != nil {
			return EncodedImage{}, err
		}
		m = decoded
	}

	out, err := CompositeForeground(bg, fg, box, m, opts)
	if err != nil {
		return EncodedImage{}, err
	}
	return EncodePNG(out)
}

// FinishOutpaint falls back to the unmodified candidate.
func (c *Compositor) FinishOutpaint(oc OutpaintCanvas, source image.Image, candidate EncodedImage) EncodedImage {
	cand, err := Decode(candidate)
	if err == nil {
		var out EncodedImage
		out, err = EncodePNG(FinishOutpaint(oc, source, cand))
		if err == nil {
			return out
		}
	}
	c.report(&CompositeError{Op: "outpaint", Err: err})
	return candidate
}

func (c *Compositor) report(err *CompositeError) {
	n := c.failures.Add(1)
	c.logger.Warn("composite fell back to generated image", "op", err.Op, "err", err.Err, "failures", n)
}
