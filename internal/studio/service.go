package studio

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"archviz-studio/internal/canvas"
	"archviz-studio/internal/gemini"
	"archviz-studio/internal/history"
	"archviz-studio/internal/prompt"
)

// ImageGenerator is the text-to-image path (Imagen).
type ImageGenerator interface {
	GenerateImages(ctx context.Context, req gemini.ImagenRequest) (gemini.Response, error)
}

// Describer writes a text prompt from images.
type Describer interface {
	DescribePrompt(ctx context.Context, req gemini.Request) (string, error)
}

// InputError marks a problem with caller-supplied input; Field names it.
type InputError struct {
	Field string
	Err   error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

type Options struct {
	Generator  gemini.Generator
	Imagen     ImageGenerator
	Describer  Describer
	Compositor *canvas.Compositor
	History    *history.Store
	Logger     *slog.Logger
	// MaxConcurrent bounds parallel generator calls per render.
	MaxConcurrent int
	MaxCount      int
	// RenderTimeout bounds a render that identical callers share. It runs
	// detached from any one caller's context.
	RenderTimeout time.Duration
}

type Service struct {
	generator     gemini.Generator
	imagen        ImageGenerator
	describer     Describer
	compositor    *canvas.Compositor
	history       *history.Store
	logger        *slog.Logger
	maxConcurrent int
	maxCount      int
	renderTimeout time.Duration

	flight singleflight.Group
}

func New(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	compositor := opts.Compositor
	if compositor == nil {
		compositor = canvas.NewCompositor(canvas.CompositorOptions{Logger: logger})
	}
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 2
	}
	maxCount := opts.MaxCount
	if maxCount < 1 || maxCount > prompt.MaxCount {
		maxCount = prompt.MaxCount
	}
	renderTimeout := opts.RenderTimeout
	if renderTimeout <= 0 {
		renderTimeout = defaultRenderTimeout
	}

	return &Service{
		generator:     opts.Generator,
		imagen:        opts.Imagen,
		describer:     opts.Describer,
		compositor:    compositor,
		history:       opts.History,
		logger:        logger,
		maxConcurrent: maxConcurrent,
		maxCount:      maxCount,
		renderTimeout: renderTimeout,
	}
}

func (s *Service) Compositor() *canvas.Compositor {
	return s.compositor
}

type RenderRequest struct {
	Session   string
	APIKey    string
	Options   prompt.Options
	Source    canvas.EncodedImage
	Mask      canvas.EncodedImage
	Reference canvas.EncodedImage
}

type RenderResult struct {
	ID          string
	Kind        prompt.Kind
	Prompt      string
	AspectRatio canvas.AspectRatio
	Images      []canvas.EncodedImage
	Text        string
	CreatedAt   time.Time
}

const defaultRenderTimeout = 5 * time.Minute

// Render runs one workflow end to end. An empty Images slice means the model
// answered without an image; that is not an error.
func (s *Service) Render(ctx context.Context, req RenderRequest) (RenderResult, error) {
	if s.generator == nil {
		return RenderResult{}, errors.New("no generator configured")
	}

	// The shared render must not die with whichever caller started it, so it
	// gets its own deadline and each caller waits on its own context.
	key := renderKey(req)
	ch := s.flight.DoChan(key, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.renderTimeout)
		defer cancel()
		return s.render(rctx, req)
	})

	var r singleflight.Result
	select {
	case <-ctx.Done():
		return RenderResult{}, ctx.Err()
	case r = <-ch:
	}
	if r.Err != nil {
		return RenderResult{}, r.Err
	}
	res, shared := r.Val.(RenderResult), r.Shared
	if shared {
		s.logger.Debug("render shared with concurrent caller", "id", res.ID)
		res.Images = append([]canvas.EncodedImage(nil), res.Images...)
	}

	if s.history != nil && len(res.Images) > 0 {
		s.history.Append(req.Session, history.Entry{
			ID:          res.ID,
			Kind:        string(res.Kind),
			Prompt:      res.Prompt,
			AspectRatio: res.AspectRatio,
			Images:      res.Images,
			CreatedAt:   res.CreatedAt,
		})
	}
	return res, nil
}

func (s *Service) render(ctx context.Context, req RenderRequest) (RenderResult, error) {
	started := time.Now()
	opts := req.Options
	if !opts.Kind.Valid() {
		return RenderResult{}, &InputError{Field: "kind", Err: fmt.Errorf("unknown workflow %q", opts.Kind)}
	}
	tpl, _ := prompt.Template(opts.Kind)
	if opts.Count > s.maxCount {
		opts.Count = s.maxCount
	}

	if err := checkInputs(tpl, req); err != nil {
		return RenderResult{}, err
	}

	var source *image.NRGBA
	if !req.Source.IsZero() {
		decoded, err := canvas.Decode(req.Source)
		if err != nil {
			return RenderResult{}, &InputError{Field: "image", Err: err}
		}
		source = decoded
	}
	for _, in := range []struct {
		field string
		enc   canvas.EncodedImage
	}{{"mask", req.Mask}, {"reference", req.Reference}} {
		if in.enc.IsZero() {
			continue
		}
		if _, err := canvas.Decode(in.enc); err != nil {
			return RenderResult{}, &InputError{Field: in.field, Err: err}
		}
	}

	switch {
	case opts.AspectRatio.Valid():
	case opts.Kind == prompt.KindOutpaint:
		return RenderResult{}, &InputError{Field: "aspect_ratio", Err: errors.New("outpaint needs a target aspect ratio")}
	case source != nil:
		opts.AspectRatio = canvas.ClosestRatio(source)
	default:
		opts.AspectRatio = canvas.Ratio1x1
	}

	text, preset := prompt.Build(opts)
	res := RenderResult{
		ID:          uuid.NewString(),
		Kind:        preset.Kind,
		Prompt:      text,
		AspectRatio: preset.AspectRatio,
		CreatedAt:   started,
	}

	var (
		images []canvas.EncodedImage
		notes  string
		err    error
	)
	if source == nil && tpl.TextOnly && s.imagen != nil {
		images, err = s.textToImage(ctx, req.APIKey, text, preset)
	} else {
		images, notes, err = s.fanOut(ctx, req, source, text, preset)
	}
	if err != nil {
		return RenderResult{}, err
	}

	res.Images = images
	res.Text = notes
	s.logger.Info("render finished",
		"id", res.ID,
		"kind", res.Kind,
		"aspect_ratio", res.AspectRatio.String(),
		"images", len(res.Images),
		"dur_ms", time.Since(started).Milliseconds(),
	)
	return res, nil
}

func (s *Service) textToImage(ctx context.Context, apiKey, text string, preset prompt.Preset) ([]canvas.EncodedImage, error) {
	resp, err := s.imagen.GenerateImages(ctx, gemini.ImagenRequest{
		APIKey:      apiKey,
		Prompt:      text,
		Count:       preset.Count,
		AspectRatio: preset.AspectRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("generate images: %w", err)
	}
	return resp.Images(), nil
}

// fanOut makes preset.Count generator calls. Each call builds its own request
// images and post-processes its own candidate.
func (s *Service) fanOut(ctx context.Context, req RenderRequest, source *image.NRGBA, text string, preset prompt.Preset) ([]canvas.EncodedImage, string, error) {
	perCall := make([][]canvas.EncodedImage, preset.Count)
	texts := make([]string, preset.Count)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrent)
	for i := 0; i < preset.Count; i++ {
		i := i
		g.Go(func() error {
			out, note, err := s.generateOne(gctx, req, source, text, preset)
			if err != nil {
				return err
			}
			perCall[i] = out
			texts[i] = note
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, "", fmt.Errorf("generate: %w", err)
	}

	var images []canvas.EncodedImage
	for _, out := range perCall {
		images = append(images, out...)
	}
	return images, strings.TrimSpace(strings.Join(texts, "\n")), nil
}

func (s *Service) generateOne(ctx context.Context, req RenderRequest, source *image.NRGBA, text string, preset prompt.Preset) ([]canvas.EncodedImage, string, error) {
	greq := gemini.Request{
		APIKey:      req.APIKey,
		Prompt:      text,
		AspectRatio: preset.AspectRatio,
		WantImage:   true,
	}

	var oc canvas.OutpaintCanvas
	switch preset.Kind {
	case prompt.KindOutpaint:
		oc = canvas.BuildOutpaintCanvas(source, preset.AspectRatio.Value())
		padded, err := canvas.EncodePNG(oc.Padded)
		if err != nil {
			return nil, "", fmt.Errorf("encode outpaint canvas: %w", err)
		}
		mask, err := canvas.EncodePNG(oc.Mask)
		if err != nil {
			return nil, "", fmt.Errorf("encode outpaint mask: %w", err)
		}
		greq.Images = []canvas.EncodedImage{padded, mask}
	case prompt.KindEdit:
		greq.Images = []canvas.EncodedImage{req.Source, req.Mask}
	case prompt.KindStyle:
		greq.Images = []canvas.EncodedImage{req.Reference, req.Source}
	default:
		if !req.Source.IsZero() {
			greq.Images = []canvas.EncodedImage{req.Source}
		}
	}

	resp, err := s.generator.Generate(ctx, greq)
	if err != nil {
		return nil, "", err
	}

	candidates := resp.Images()
	out := make([]canvas.EncodedImage, 0, len(candidates))
	for _, cand := range candidates {
		switch preset.Kind {
		case prompt.KindEdit:
			out = append(out, s.compositor.Strict(req.Source, cand, req.Mask))
		case prompt.KindOutpaint:
			out = append(out, s.compositor.FinishOutpaint(oc, source, cand))
		default:
			out = append(out, cand)
		}
	}
	return out, resp.Text(), nil
}

// DescribePrompt asks the text model to write a rendering prompt for img.
func (s *Service) DescribePrompt(ctx context.Context, apiKey string, img canvas.EncodedImage, kind prompt.Kind) (string, error) {
	if s.describer == nil {
		return "", errors.New("prompt description is not available")
	}
	if img.IsZero() {
		return "", &InputError{Field: "image", Err: errors.New("missing")}
	}
	if _, err := canvas.Decode(img); err != nil {
		return "", &InputError{Field: "image", Err: err}
	}
	if !kind.Valid() {
		kind = prompt.KindExterior
	}
	tpl, _ := prompt.Template(kind)

	instruction := "Describe this image as a single-paragraph prompt for an architectural " +
		strings.ToLower(tpl.Title) + ". Mention materials, lighting and camera. Answer with the prompt only."
	return s.describer.DescribePrompt(ctx, gemini.Request{
		APIKey: apiKey,
		Prompt: instruction,
		Images: []canvas.EncodedImage{img},
	})
}

func checkInputs(tpl prompt.KindTemplate, req RenderRequest) error {
	switch {
	case tpl.NeedsSource && req.Source.IsZero():
		return &InputError{Field: "image", Err: errors.New("missing")}
	case tpl.NeedsMask && req.Mask.IsZero():
		return &InputError{Field: "mask", Err: errors.New("missing")}
	case tpl.NeedsReference && req.Reference.IsZero():
		return &InputError{Field: "reference", Err: errors.New("missing")}
	case req.Source.IsZero() && strings.TrimSpace(req.Options.Notes) == "":
		return &InputError{Field: "prompt", Err: errors.New("needs an image or a prompt")}
	}
	return nil
}

func renderKey(req RenderRequest) string {
	h := sha256.New()
	o := req.Options
	fmt.Fprintf(h, "%s|%s|%s|%s|%d|%s|", o.Kind, o.Style, o.Notes, o.AspectRatio, o.Count, req.APIKey)
	for _, enc := range []canvas.EncodedImage{req.Source, req.Mask, req.Reference} {
		fmt.Fprintf(h, "%s:%d:", enc.MediaType, len(enc.Data))
		h.Write(enc.Data)
	}
	return hex.EncodeToString(h.Sum(nil))
}
