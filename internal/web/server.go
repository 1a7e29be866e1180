package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"archviz-studio/internal/canvas"
	"archviz-studio/internal/history"
	"archviz-studio/internal/studio"
)

const apiKeyHeader = "X-Gemini-Key"

type Options struct {
	Studio         *studio.Service
	History        *history.Store
	Logger         *slog.Logger
	MaxUploadBytes int64
	RequestTimeout time.Duration
}

type Server struct {
	studio         *studio.Service
	history        *history.Store
	logger         *slog.Logger
	maxUploadBytes int64
	requestTimeout time.Duration
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 25 << 20
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 240 * time.Second
	}
	return &Server{
		studio:         opts.Studio,
		history:        opts.History,
		logger:         logger,
		maxUploadBytes: maxUpload,
		requestTimeout: timeout,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/render", allow(http.MethodPost, s.handleRender))
	mux.HandleFunc("/api/describe", allow(http.MethodPost, s.handleDescribe))
	mux.HandleFunc("/api/composite/strict", allow(http.MethodPost, s.handleStrict))
	mux.HandleFunc("/api/composite/foreground", allow(http.MethodPost, s.handleForeground))
	mux.HandleFunc("/api/outpaint/prepare", allow(http.MethodPost, s.handleOutpaintPrepare))
	mux.HandleFunc("/api/outpaint/finish", allow(http.MethodPost, s.handleOutpaintFinish))
	mux.HandleFunc("/api/crop", allow(http.MethodPost, s.handleCrop))
	mux.HandleFunc("/api/pad", allow(http.MethodPost, s.handlePad))
	mux.HandleFunc("/api/aspect", allow(http.MethodPost, s.handleAspect))
	mux.HandleFunc("/api/history", allow(http.MethodGet, s.handleHistory))
	mux.HandleFunc("/healthz", allow(http.MethodGet, s.handleHealth))

	return withRequestID(withLogging(mux, s.logger))
}

type apiError struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func allow(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			writeJSON(w, http.StatusMethodNotAllowed, apiError{Error: "method not allowed"})
			return
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// fieldError ties a bad input to the request field it came from.
type fieldError struct {
	field string
	err   error
}

func (e *fieldError) Error() string { return fmt.Sprintf("%s: %v", e.field, e.err) }
func (e *fieldError) Unwrap() error { return e.err }

// writeError maps errors onto status codes: input problems are 400, timeouts
// 504, everything else is treated as an upstream failure.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := apiError{Error: err.Error(), RequestID: RequestID(r.Context())}

	var (
		fe        *fieldError
		inputErr  *studio.InputError
		boundsErr *canvas.BoundsError
		decodeErr *canvas.DecodeError
	)
	status := http.StatusBadGateway
	switch {
	case errors.As(err, &fe):
		status = http.StatusBadRequest
		body.Field = fe.field
	case errors.As(err, &inputErr):
		status = http.StatusBadRequest
		body.Field = inputErr.Field
	case errors.As(err, &boundsErr), errors.As(err, &decodeErr):
		status = http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status >= 500 {
		s.logger.Error("request failed", "err", err, "path", r.URL.Path, "request_id", body.RequestID)
	}
	writeJSON(w, status, body)
}
