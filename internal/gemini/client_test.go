package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"archviz-studio/internal/canvas"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\nfake")

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Options{
		APIKey:     "server-key",
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
	})
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func imageResponse(data []byte) map[string]any {
	return map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{"parts": []any{
				map[string]any{"text": "thinking", "thought": true},
				map[string]any{"text": "here you go"},
				map[string]any{"inlineData": map[string]any{
					"mimeType": "image/png",
					"data":     base64.StdEncoding.EncodeToString(data),
				}},
			}},
		}},
	}
}

func TestGenerateSendsPartsAndDecodesImages(t *testing.T) {
	var got generateContentRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/"+DefaultImageModel+":generateContent", r.URL.Path)
		assert.Equal(t, "call-key", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(t, w, imageResponse(pngBytes))
	})

	resp, err := client.Generate(context.Background(), Request{
		APIKey:      "call-key",
		Prompt:      "render it",
		Images:      []canvas.EncodedImage{{Data: []byte("src"), MediaType: canvas.MediaJPEG}},
		AspectRatio: canvas.Ratio16x9,
		WantImage:   true,
	})
	require.NoError(t, err)

	require.Len(t, got.Contents, 1)
	parts := got.Contents[0].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, "render it", parts[0].Text)
	require.NotNil(t, parts[1].InlineData)
	assert.Equal(t, canvas.MediaJPEG, parts[1].InlineData.MimeType)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("src")), parts[1].InlineData.Data)
	require.NotNil(t, got.GenerationConfig.ImageConfig)
	assert.Equal(t, "16:9", got.GenerationConfig.ImageConfig.AspectRatio)

	images := resp.Images()
	require.Len(t, images, 1)
	assert.Equal(t, pngBytes, images[0].Data)
	assert.Equal(t, "here you go", resp.Text())
}

func TestGenerateRetriesWithoutImageConfig(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req generateContentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if calls.Add(1) == 1 {
			require.NotNil(t, req.GenerationConfig.ImageConfig)
			http.Error(w, `Invalid JSON payload received. Unknown name "imageConfig"`, http.StatusBadRequest)
			return
		}
		assert.Nil(t, req.GenerationConfig.ImageConfig)
		writeJSON(t, w, imageResponse(pngBytes))
	})

	resp, err := client.Generate(context.Background(), Request{Prompt: "x", AspectRatio: canvas.Ratio1x1, WantImage: true})
	require.NoError(t, err)
	assert.Len(t, resp.Images(), 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGenerateRetriesWhenEditReturnsNoImage(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req generateContentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if calls.Add(1) == 1 {
			writeJSON(t, w, map[string]any{"candidates": []any{map[string]any{
				"content": map[string]any{"parts": []any{map[string]any{"text": "```python\nprint()```"}}},
			}}})
			return
		}
		assert.Contains(t, req.Contents[0].Parts[0].Text, "Return only the edited image")
		writeJSON(t, w, imageResponse(pngBytes))
	})

	resp, err := client.Generate(context.Background(), Request{
		Prompt:    "edit",
		Images:    []canvas.EncodedImage{{Data: []byte("a"), MediaType: canvas.MediaPNG}},
		WantImage: true,
	})
	require.NoError(t, err)
	assert.Len(t, resp.Images(), 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGenerateNoImageIsNotAnError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"candidates": []any{}})
	})

	resp, err := client.Generate(context.Background(), Request{Prompt: "x", WantImage: true})
	require.NoError(t, err)
	assert.Empty(t, resp.Images())
}

func TestGenerateRejectsMalformedInlineData(t *testing.T) {
	tests := []struct {
		name string
		blob map[string]any
	}{
		{name: "bad media type", blob: map[string]any{"mimeType": "text/html", "data": base64.StdEncoding.EncodeToString(pngBytes)}},
		{name: "bad base64", blob: map[string]any{"mimeType": "image/png", "data": "%%%"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(t, w, map[string]any{"candidates": []any{map[string]any{
					"content": map[string]any{"parts": []any{map[string]any{"inlineData": tt.blob}}},
				}}})
			})

			_, err := client.Generate(context.Background(), Request{Prompt: "x", WantImage: true})
			assert.True(t, errors.Is(err, ErrMalformedResponse), "got %v", err)
		})
	}
}

func TestGenerateReportsBlockedPrompt(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"promptFeedback": map[string]any{"blockReason": "SAFETY"}})
	})

	_, err := client.Generate(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SAFETY")
}

func TestGenerateRequiresKey(t *testing.T) {
	client := New(Options{HTTPClient: http.DefaultClient})
	_, err := client.Generate(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key")
}

func TestDescribePromptUsesTextModel(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, DefaultTextModel+":generateContent"), r.URL.Path)
		var req generateContentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Empty(t, req.GenerationConfig.ResponseModalities)
		writeJSON(t, w, map[string]any{"candidates": []any{map[string]any{
			"content": map[string]any{"parts": []any{map[string]any{"text": "  a brick villa at dusk \n"}}},
		}}})
	})

	text, err := client.DescribePrompt(context.Background(), Request{Prompt: "describe", WantImage: true})
	require.NoError(t, err)
	assert.Equal(t, "a brick villa at dusk", text)
}

func TestGenerateImagesUsesPredict(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/"+DefaultImagenModel+":predict", r.URL.Path)
		var req imagenRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 2, req.Parameters.SampleCount)
		assert.Equal(t, "3:4", req.Parameters.AspectRatio)
		assert.Equal(t, "tower", req.Instances[0].Prompt)

		enc := base64.StdEncoding.EncodeToString(pngBytes)
		writeJSON(t, w, map[string]any{"predictions": []any{
			map[string]any{"bytesBase64Encoded": enc, "mimeType": "image/png"},
			map[string]any{"bytesBase64Encoded": enc},
		}})
	})

	resp, err := client.GenerateImages(context.Background(), ImagenRequest{Prompt: "tower", Count: 2, AspectRatio: canvas.Ratio3x4})
	require.NoError(t, err)
	assert.Len(t, resp.Images(), 2)
}

func TestLimiterHonorsContext(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not be sent")
	})
	client.limiter = rate.NewLimiter(rate.Limit(0.001), 1)
	require.True(t, client.limiter.Allow())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Generate(ctx, Request{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}

func TestFallbackGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/prompt/modern house", r.URL.Path)
		assert.Equal(t, "1024", r.URL.Query().Get("width"))
		assert.Equal(t, "576", r.URL.Query().Get("height"))
		assert.Equal(t, "true", r.URL.Query().Get("nologo"))
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes)
	}))
	t.Cleanup(srv.Close)

	fb := NewFallback(FallbackOptions{BaseURL: srv.URL, HTTPClient: srv.Client()})
	resp, err := fb.Generate(context.Background(), Request{Prompt: "modern house", AspectRatio: canvas.Ratio16x9})
	require.NoError(t, err)
	images := resp.Images()
	require.Len(t, images, 1)
	assert.Equal(t, canvas.MediaPNG, images[0].MediaType)
	assert.Equal(t, pngBytes, images[0].Data)
}

func TestFallbackErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "upstream down")
	}))
	t.Cleanup(srv.Close)

	fb := NewFallback(FallbackOptions{BaseURL: srv.URL, HTTPClient: srv.Client()})
	_, err := fb.Generate(context.Background(), Request{Prompt: "x"})
	assert.Error(t, err)
}

func TestRequestPartsOrder(t *testing.T) {
	req := Request{Prompt: "  p ", Images: []canvas.EncodedImage{{Data: []byte("a")}, {Data: []byte("b")}}}
	parts := req.Parts()
	require.Len(t, parts, 3)
	assert.Equal(t, TextPart{Text: "p"}, parts[0])
	assert.Equal(t, ImagePart{Image: canvas.EncodedImage{Data: []byte("a")}}, parts[1])
}
