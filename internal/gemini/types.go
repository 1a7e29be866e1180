package gemini

import (
	"context"
	"strings"

	"archviz-studio/internal/canvas"
)

// Part is one element of a request or response: either a TextPart or an ImagePart.
type Part interface {
	isPart()
}

type TextPart struct {
	Text string
}

type ImagePart struct {
	Image canvas.EncodedImage
}

func (TextPart) isPart()  {}
func (ImagePart) isPart() {}

type Request struct {
	// APIKey overrides the client's key for this call only.
	APIKey      string
	Prompt      string
	Images      []canvas.EncodedImage
	AspectRatio canvas.AspectRatio
	WantImage   bool
}

// Parts renders the request as the ordered parts sent to the model: the
// prompt first, then every image.
func (r Request) Parts() []Part {
	parts := make([]Part, 0, len(r.Images)+1)
	if p := strings.TrimSpace(r.Prompt); p != "" {
		parts = append(parts, TextPart{Text: p})
	}
	for _, img := range r.Images {
		parts = append(parts, ImagePart{Image: img})
	}
	return parts
}

type Response struct {
	Parts []Part
}

func (r Response) Images() []canvas.EncodedImage {
	var out []canvas.EncodedImage
	for _, p := range r.Parts {
		if img, ok := p.(ImagePart); ok {
			out = append(out, img.Image)
		}
	}
	return out
}

func (r Response) Text() string {
	var b strings.Builder
	for _, p := range r.Parts {
		if t, ok := p.(TextPart); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

// Generator is anything that turns a prompt plus images into images or text.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

type ImagenRequest struct {
	APIKey      string
	Prompt      string
	Count       int
	AspectRatio canvas.AspectRatio
}
