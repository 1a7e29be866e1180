package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"archviz-studio/internal/canvas"
)

const (
	DefaultBaseURL     = "https://generativelanguage.googleapis.com"
	DefaultAPIVersion  = "v1beta"
	DefaultTextModel   = "gemini-2.5-flash"
	DefaultImageModel  = "gemini-2.5-flash-image"
	DefaultImagenModel = "imagen-4.0-generate-001"
)

const systemInstruction = `You are a rendering assistant for architects.
Keep the building geometry, camera position and proportions of any supplied photo or drawing.
When an image is requested, answer with the image itself (inlineData), never with code or JSON.`

var ErrMalformedResponse = errors.New("malformed model response")

type Options struct {
	APIKey      string
	BaseURL     string
	APIVersion  string
	TextModel   string
	ImageModel  string
	ImagenModel string
	HTTPClient  *http.Client
	Logger      *slog.Logger
	// Limiter throttles outgoing calls; nil means unlimited.
	Limiter *rate.Limiter
}

type Client struct {
	apiKey      string
	baseURL     string
	apiVersion  string
	textModel   string
	imageModel  string
	imagenModel string
	httpClient  *http.Client
	logger      *slog.Logger
	limiter     *rate.Limiter
}

func New(opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		apiKey:      opts.APIKey,
		baseURL:     baseURL,
		apiVersion:  orDefault(opts.APIVersion, DefaultAPIVersion),
		textModel:   orDefault(opts.TextModel, DefaultTextModel),
		imageModel:  orDefault(opts.ImageModel, DefaultImageModel),
		imagenModel: orDefault(opts.ImagenModel, DefaultImagenModel),
		httpClient:  opts.HTTPClient,
		logger:      logger,
		limiter:     opts.Limiter,
	}
}

// Generate sends the prompt and images to the image model when an image is
// wanted or supplied, otherwise to the text model. A response without images
// is not an error.
func (c *Client) Generate(ctx context.Context, req Request) (Response, error) {
	model := c.textModel
	var cfg generationConfig
	cfg.Temperature = 0.7

	if req.WantImage || len(req.Images) > 0 {
		model = c.imageModel
	}
	if req.WantImage {
		cfg.ResponseModalities = []string{"IMAGE", "TEXT"}
		if req.AspectRatio.Valid() {
			cfg.ImageConfig = &imageConfig{AspectRatio: req.AspectRatio.String()}
		}
	}

	payload := generateContentRequest{
		Contents:          []content{{Role: "user", Parts: toWireParts(req.Parts())}},
		SystemInstruction: &content{Role: "user", Parts: []part{{Text: systemInstruction}}},
		GenerationConfig:  cfg,
	}

	resp, err := c.generateContent(ctx, req.APIKey, model, payload)
	if err != nil && payload.GenerationConfig.ImageConfig != nil && isUnknownFieldError(err, "imageConfig") {
		c.logger.Debug("model rejected imageConfig, retrying without it", "model", model)
		payload.GenerationConfig.ImageConfig = nil
		resp, err = c.generateContent(ctx, req.APIKey, model, payload)
	}
	if err != nil {
		return Response{}, err
	}

	if req.WantImage && len(req.Images) > 0 && len(resp.Images()) == 0 {
		retry := req
		retry.Prompt = strings.TrimSpace(req.Prompt) + "\n\nReturn only the edited image as inlineData. Do not write text, JSON or code."
		payload.Contents = []content{{Role: "user", Parts: toWireParts(retry.Parts())}}
		retryResp, retryErr := c.generateContent(ctx, req.APIKey, model, payload)
		if retryErr == nil && len(retryResp.Images()) > 0 {
			return retryResp, nil
		}
	}

	return resp, nil
}

// DescribePrompt asks the text model for a text-only answer, e.g. a rendering
// prompt written from a reference photo.
func (c *Client) DescribePrompt(ctx context.Context, req Request) (string, error) {
	req.WantImage = false
	resp, err := c.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text()), nil
}

// GenerateImages runs text-to-image on the Imagen predict endpoint.
func (c *Client) GenerateImages(ctx context.Context, req ImagenRequest) (Response, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return Response{}, errors.New("prompt is empty")
	}

	count := req.Count
	if count < 1 {
		count = 1
	}
	params := imagenParameters{SampleCount: count}
	if req.AspectRatio.Valid() {
		params.AspectRatio = req.AspectRatio.String()
	}

	body := imagenRequest{
		Instances:  []imagenInstance{{Prompt: prompt}},
		Parameters: params,
	}

	var decoded imagenResponse
	if err := c.post(ctx, req.APIKey, c.imagenModel, "predict", body, &decoded); err != nil {
		return Response{}, err
	}

	var parts []Part
	for i, p := range decoded.Predictions {
		if p.BytesBase64Encoded == "" {
			continue
		}
		img, err := decodeInline(p.BytesBase64Encoded, orDefault(p.MimeType, canvas.MediaPNG))
		if err != nil {
			return Response{}, fmt.Errorf("prediction %d: %w", i, err)
		}
		parts = append(parts, ImagePart{Image: img})
	}
	return Response{Parts: parts}, nil
}

func (c *Client) generateContent(ctx context.Context, apiKey, model string, payload generateContentRequest) (Response, error) {
	var decoded generateContentResponse
	if err := c.post(ctx, apiKey, model, "generateContent", payload, &decoded); err != nil {
		return Response{}, err
	}

	if len(decoded.Candidates) == 0 {
		if decoded.PromptFeedback != nil && decoded.PromptFeedback.BlockReason != "" {
			return Response{}, fmt.Errorf("prompt blocked: %s", decoded.PromptFeedback.BlockReason)
		}
		return Response{}, nil
	}

	parts, err := c.decodeParts(decoded.Candidates[0].Content.Parts)
	if err != nil {
		return Response{}, err
	}
	return Response{Parts: parts}, nil
}

func (c *Client) post(ctx context.Context, apiKey, model, method string, payload any, out any) error {
	if c.httpClient == nil {
		return errors.New("http client is nil")
	}
	key := strings.TrimSpace(apiKey)
	if key == "" {
		key = c.apiKey
	}
	if key == "" {
		return errors.New("gemini api key is empty")
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/models/%s:%s", c.baseURL, c.apiVersion, model, method)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-goog-api-key", key)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer httpResp.Body.Close()

	rawBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode >= 400 {
		return fmt.Errorf("gemini API %s: %s", httpResp.Status, strings.TrimSpace(string(rawBody)))
	}

	if err := json.Unmarshal(rawBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeParts maps wire parts onto TextPart/ImagePart. Thoughts and part kinds
// this client does not use are dropped; broken inline data fails the call.
func (c *Client) decodeParts(wire []part) ([]Part, error) {
	var out []Part
	for i, p := range wire {
		switch {
		case p.InlineData != nil:
			img, err := decodeInline(p.InlineData.Data, p.InlineData.MimeType)
			if err != nil {
				return nil, fmt.Errorf("part %d: %w", i, err)
			}
			out = append(out, ImagePart{Image: img})
		case p.Thought:
			continue
		case p.Text != "":
			out = append(out, TextPart{Text: p.Text})
		default:
			c.logger.Debug("skipping unsupported response part", "index", i)
		}
	}
	return out, nil
}

func decodeInline(data, mimeType string) (canvas.EncodedImage, error) {
	mediaType := canvas.NormalizeMediaType(mimeType)
	if !canvas.IsSupportedMediaType(mediaType) {
		return canvas.EncodedImage{}, fmt.Errorf("%w: media type %q", ErrMalformedResponse, mimeType)
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return canvas.EncodedImage{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(raw) == 0 {
		return canvas.EncodedImage{}, fmt.Errorf("%w: empty inline data", ErrMalformedResponse)
	}
	return canvas.EncodedImage{Data: raw, MediaType: mediaType}, nil
}

func toWireParts(parts []Part) []part {
	out := make([]part, 0, len(parts))
	for _, p := range parts {
		switch v := p.(type) {
		case TextPart:
			out = append(out, part{Text: v.Text})
		case ImagePart:
			out = append(out, part{InlineData: &blob{
				Data:     v.Image.Base64(),
				MimeType: v.Image.MediaType,
			}})
		}
	}
	return out
}

func isUnknownFieldError(err error, field string) bool {
	message := err.Error()
	return strings.Contains(message, "Unknown name") && strings.Contains(message, field)
}

func orDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}

type generateContentRequest struct {
	Contents          []content        `json:"contents"`
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig,omitempty"`
}

type generationConfig struct {
	Temperature        float64      `json:"temperature,omitempty"`
	ResponseModalities []string     `json:"responseModalities,omitempty"`
	ImageConfig        *imageConfig `json:"imageConfig,omitempty"`
}

type imageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	Thought    bool   `json:"thought,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

type blob struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

type generateContentResponse struct {
	Candidates     []candidate     `json:"candidates"`
	PromptFeedback *promptFeedback `json:"promptFeedback,omitempty"`
}

type candidate struct {
	Content content `json:"content"`
}

type promptFeedback struct {
	BlockReason string `json:"blockReason"`
}

type imagenRequest struct {
	Instances  []imagenInstance `json:"instances"`
	Parameters imagenParameters `json:"parameters"`
}

type imagenInstance struct {
	Prompt string `json:"prompt"`
}

type imagenParameters struct {
	SampleCount int    `json:"sampleCount"`
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type imagenResponse struct {
	Predictions []imagenPrediction `json:"predictions"`
}

type imagenPrediction struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MimeType           string `json:"mimeType"`
}
