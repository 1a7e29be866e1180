package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"archviz-studio/internal/canvas"
	"archviz-studio/internal/prompt"
	"archviz-studio/internal/studio"
)

type imageResponse struct {
	Image string `json:"image"`
}

type renderResponse struct {
	ID          string   `json:"id"`
	Kind        string   `json:"kind"`
	AspectRatio string   `json:"aspect_ratio"`
	Prompt      string   `json:"prompt"`
	Images      []string `json:"images"`
	Text        string   `json:"text,omitempty"`
	Warning     string   `json:"warning,omitempty"`
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid multipart form"})
		return
	}

	req := studio.RenderRequest{
		Session: strings.TrimSpace(r.FormValue("session")),
		APIKey:  strings.TrimSpace(r.Header.Get(apiKeyHeader)),
	}

	kind, err := prompt.ParseKind(r.FormValue("kind"))
	if err != nil {
		s.writeError(w, r, &fieldError{field: "kind", err: err})
		return
	}
	req.Options = prompt.Options{
		Kind:  kind,
		Style: strings.TrimSpace(r.FormValue("style")),
		Notes: strings.TrimSpace(r.FormValue("prompt")),
	}
	if raw := strings.TrimSpace(r.FormValue("aspect_ratio")); raw != "" {
		ar, err := canvas.ParseAspectRatio(raw)
		if err != nil {
			s.writeError(w, r, &fieldError{field: "aspect_ratio", err: err})
			return
		}
		req.Options.AspectRatio = ar
	}
	if raw := strings.TrimSpace(r.FormValue("count")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, r, &fieldError{field: "count", err: errors.New("must be a positive integer")})
			return
		}
		req.Options.Count = n
	}

	for _, f := range []struct {
		name string
		dst  *canvas.EncodedImage
	}{{"image", &req.Source}, {"mask", &req.Mask}, {"reference", &req.Reference}} {
		enc, err := readUpload(r, f.name)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		*f.dst = enc
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	res, err := s.studio.Render(ctx, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := renderResponse{
		ID:          res.ID,
		Kind:        string(res.Kind),
		AspectRatio: res.AspectRatio.String(),
		Prompt:      res.Prompt,
		Images:      make([]string, 0, len(res.Images)),
		Text:        res.Text,
	}
	for _, img := range res.Images {
		out.Images = append(out.Images, img.DataURL())
	}
	if len(out.Images) == 0 {
		out.Warning = "model returned no image"
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDescribe(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Image string `json:"image"`
		Kind  string `json:"kind"`
	}
	if !s.decodeBody(w, r, &body) {
		return
	}
	enc, _, err := decodeField("image", body.Image)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	text, err := s.studio.DescribePrompt(ctx, strings.TrimSpace(r.Header.Get(apiKeyHeader)), enc, prompt.Kind(strings.ToLower(strings.TrimSpace(body.Kind))))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"prompt": text})
}

func (s *Server) handleStrict(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Original  string `json:"original"`
		Candidate string `json:"candidate"`
		Mask      string `json:"mask"`
	}
	if !s.decodeBody(w, r, &body) {
		return
	}
	imgs, err := decodeFields(map[string]string{"original": body.Original, "candidate": body.Candidate, "mask": body.Mask})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeImage(w, r, canvas.StrictComposite(imgs["original"], imgs["candidate"], imgs["mask"]))
}

func (s *Server) handleForeground(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Background string             `json:"background"`
		Foreground string             `json:"foreground"`
		Mask       string             `json:"mask"`
		Box        canvas.BoundingBox `json:"box"`
		EdgeBlend  float64            `json:"edge_blend"`
	}
	if !s.decodeBody(w, r, &body) {
		return
	}
	imgs, err := decodeFields(map[string]string{"background": body.Background, "foreground": body.Foreground})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var mask image.Image
	if strings.TrimSpace(body.Mask) != "" {
		_, m, err := decodeField("mask", body.Mask)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		mask = m
	}
	if body.EdgeBlend < 0 {
		s.writeError(w, r, &fieldError{field: "edge_blend", err: errors.New("must not be negative")})
		return
	}

	out, err := canvas.CompositeForeground(imgs["background"], imgs["foreground"], body.Box, mask, canvas.ForegroundOptions{EdgeBlend: body.EdgeBlend})
	if err != nil {
		s.writeError(w, r, &fieldError{field: "box", err: err})
		return
	}
	s.writeImage(w, r, out)
}

type outpaintPrepareResponse struct {
	Padded string `json:"padded"`
	Mask   string `json:"mask"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Offset struct {
		X int `json:"x"`
		Y int `json:"y"`
	} `json:"offset"`
}

func (s *Server) handleOutpaintPrepare(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Image       string `json:"image"`
		AspectRatio string `json:"aspect_ratio"`
	}
	if !s.decodeBody(w, r, &body) {
		return
	}
	_, src, err := decodeField("image", body.Image)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ar, err := canvas.ParseAspectRatio(body.AspectRatio)
	if err != nil {
		s.writeError(w, r, &fieldError{field: "aspect_ratio", err: err})
		return
	}

	oc := canvas.BuildOutpaintCanvas(src, ar.Value())
	padded, err := canvas.EncodePNG(oc.Padded)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	mask, err := canvas.EncodePNG(oc.Mask)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var out outpaintPrepareResponse
	out.Padded = padded.DataURL()
	out.Mask = mask.DataURL()
	out.Width, out.Height = oc.Size().X, oc.Size().Y
	out.Offset.X, out.Offset.Y = oc.Offset.X, oc.Offset.Y
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleOutpaintFinish(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Image       string `json:"image"`
		Candidate   string `json:"candidate"`
		AspectRatio string `json:"aspect_ratio"`
	}
	if !s.decodeBody(w, r, &body) {
		return
	}
	imgs, err := decodeFields(map[string]string{"image": body.Image, "candidate": body.Candidate})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ar, err := canvas.ParseAspectRatio(body.AspectRatio)
	if err != nil {
		s.writeError(w, r, &fieldError{field: "aspect_ratio", err: err})
		return
	}

	oc := canvas.BuildOutpaintCanvas(imgs["image"], ar.Value())
	s.writeImage(w, r, canvas.FinishOutpaint(oc, imgs["image"], imgs["candidate"]))
}

func (s *Server) handleCrop(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Image string             `json:"image"`
		Box   canvas.BoundingBox `json:"box"`
	}
	if !s.decodeBody(w, r, &body) {
		return
	}
	_, src, err := decodeField("image", body.Image)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := canvas.Crop(src, body.Box)
	if err != nil {
		s.writeError(w, r, &fieldError{field: "box", err: err})
		return
	}
	s.writeImage(w, r, out)
}

func (s *Server) handlePad(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Image       string `json:"image"`
		AspectRatio string `json:"aspect_ratio"`
		Fill        string `json:"fill"`
	}
	if !s.decodeBody(w, r, &body) {
		return
	}
	_, src, err := decodeField("image", body.Image)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ar, err := canvas.ParseAspectRatio(body.AspectRatio)
	if err != nil {
		s.writeError(w, r, &fieldError{field: "aspect_ratio", err: err})
		return
	}
	fill, err := parseHexColor(body.Fill)
	if err != nil {
		s.writeError(w, r, &fieldError{field: "fill", err: err})
		return
	}
	s.writeImage(w, r, canvas.PadToAspectRatio(src, ar.Value(), fill))
}

func (s *Server) handleAspect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Image string `json:"image"`
	}
	if !s.decodeBody(w, r, &body) {
		return
	}
	_, src, err := decodeField("image", body.Image)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	size := src.Bounds().Size()
	writeJSON(w, http.StatusOK, map[string]any{
		"aspect_ratio": canvas.ClosestRatio(src).String(),
		"width":        size.X,
		"height":       size.Y,
	})
}

type historyEntry struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	AspectRatio string    `json:"aspect_ratio"`
	Prompt      string    `json:"prompt"`
	Images      []string  `json:"images"`
	CreatedAt   time.Time `json:"created_at"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	session := strings.TrimSpace(r.URL.Query().Get("session"))
	if session == "" {
		s.writeError(w, r, &fieldError{field: "session", err: errors.New("missing")})
		return
	}

	entries := []historyEntry{}
	if s.history != nil {
		for _, e := range s.history.Snapshot(session) {
			he := historyEntry{
				ID:          e.ID,
				Kind:        e.Kind,
				AspectRatio: e.AspectRatio.String(),
				Prompt:      e.Prompt,
				CreatedAt:   e.CreatedAt,
			}
			for _, img := range e.Images {
				he.Images = append(he.Images, img.DataURL())
			}
			entries = append(entries, he)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": session, "entries": entries})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"status": "ok"}
	if s.studio != nil {
		out["composite_failures"] = s.studio.Compositor().Failures()
	}
	if s.history != nil {
		out["history_sessions"] = s.history.Sessions()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid json body: " + err.Error(), RequestID: RequestID(r.Context())})
		return false
	}
	return true
}

func (s *Server) writeImage(w http.ResponseWriter, r *http.Request, img image.Image) {
	enc, err := canvas.EncodePNG(img)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("encode result: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, imageResponse{Image: enc.DataURL()})
}

func decodeField(name, dataURL string) (canvas.EncodedImage, *image.NRGBA, error) {
	if strings.TrimSpace(dataURL) == "" {
		return canvas.EncodedImage{}, nil, &fieldError{field: name, err: errors.New("missing")}
	}
	enc, err := canvas.ParseDataURL(dataURL)
	if err != nil {
		return canvas.EncodedImage{}, nil, &fieldError{field: name, err: err}
	}
	img, err := canvas.Decode(enc)
	if err != nil {
		return canvas.EncodedImage{}, nil, &fieldError{field: name, err: err}
	}
	return enc, img, nil
}

// decodeFields decodes in a fixed order so the reported field is stable.
func decodeFields(fields map[string]string) (map[string]*image.NRGBA, error) {
	order := []string{"original", "background", "image", "candidate", "foreground", "mask"}
	out := make(map[string]*image.NRGBA, len(fields))
	for _, name := range order {
		value, ok := fields[name]
		if !ok {
			continue
		}
		_, img, err := decodeField(name, value)
		if err != nil {
			return nil, err
		}
		out[name] = img
	}
	return out, nil
}

// readUpload returns a zero image when the multipart field is absent.
func readUpload(r *http.Request, field string) (canvas.EncodedImage, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return canvas.EncodedImage{}, nil
	}
	if err != nil {
		return canvas.EncodedImage{}, &fieldError{field: field, err: err}
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return canvas.EncodedImage{}, &fieldError{field: field, err: fmt.Errorf("read: %w", err)}
	}
	if len(data) == 0 {
		return canvas.EncodedImage{}, nil
	}

	mediaType := header.Header.Get("Content-Type")
	if i := strings.Index(mediaType, ";"); i >= 0 {
		mediaType = mediaType[:i]
	}
	enc := canvas.NewEncodedImage(data, canvas.DetectMediaType(data, mediaType))
	if _, err := canvas.Decode(enc); err != nil {
		return canvas.EncodedImage{}, &fieldError{field: field, err: err}
	}
	return enc, nil
}

func parseHexColor(value string) (color.Color, error) {
	value = strings.TrimPrefix(strings.TrimSpace(value), "#")
	if value == "" {
		return color.Black, nil
	}
	if len(value) != 6 {
		return nil, fmt.Errorf("want #rrggbb, got %q", value)
	}
	v, err := strconv.ParseUint(value, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("want #rrggbb, got %q", value)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}
