package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"archviz-studio/internal/canvas"
)

const (
	DefaultFallbackURL = "https://image.pollinations.ai"
	fallbackLongSide   = 1024
	maxFallbackBytes   = 20 << 20
)

type FallbackOptions struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Fallback talks to the public pollinations image service. It only does
// text-to-image: supplied images are ignored.
type Fallback struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewFallback(opts FallbackOptions) *Fallback {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultFallbackURL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Fallback{baseURL: baseURL, httpClient: opts.HTTPClient, logger: logger}
}

func (f *Fallback) Generate(ctx context.Context, req Request) (Response, error) {
	if f.httpClient == nil {
		return Response{}, errors.New("http client is nil")
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return Response{}, errors.New("prompt is empty")
	}

	ratio := req.AspectRatio
	if !ratio.Valid() {
		ratio = canvas.Ratio1x1
	}
	width, height := ratio.Dimensions(fallbackLongSide)

	q := url.Values{}
	q.Set("width", strconv.Itoa(width))
	q.Set("height", strconv.Itoa(height))
	q.Set("nologo", "true")
	endpoint := fmt.Sprintf("%s/prompt/%s?%s", f.baseURL, url.PathEscape(prompt), q.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}

	httpResp, err := f.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("request: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxFallbackBytes))
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	if httpResp.StatusCode >= 400 {
		return Response{}, fmt.Errorf("fallback service %s", httpResp.Status)
	}
	if len(raw) == 0 {
		return Response{}, nil
	}

	mediaType := canvas.DetectMediaType(raw, httpResp.Header.Get("Content-Type"))
	if !canvas.IsSupportedMediaType(mediaType) {
		return Response{}, fmt.Errorf("%w: media type %q", ErrMalformedResponse, mediaType)
	}
	f.logger.Debug("fallback image generated", "bytes", len(raw), "media_type", mediaType)
	return Response{Parts: []Part{ImagePart{Image: canvas.EncodedImage{Data: raw, MediaType: mediaType}}}}, nil
}
