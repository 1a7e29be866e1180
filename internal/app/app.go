// Package app builds the shared service graph used by both front ends.
package app

import (
	"log/slog"
	"net/http"
	"os"

	"golang.org/x/time/rate"

	"archviz-studio/internal/canvas"
	"archviz-studio/internal/config"
	"archviz-studio/internal/gemini"
	"archviz-studio/internal/history"
	"archviz-studio/internal/httpclient"
	"archviz-studio/internal/studio"
)

type Stack struct {
	Logger     *slog.Logger
	Studio     *studio.Service
	History    *history.Store
	Compositor *canvas.Compositor
	HTTPClient *http.Client
}

func NewLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}

func Build(cfg config.Config, logger *slog.Logger) Stack {
	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4: cfg.PreferIPv4,
		Timeout:    cfg.HTTPTimeout,
		Retries:    cfg.HTTPRetries,
		Logger:     logger,
	})

	var limiter *rate.Limiter
	if cfg.GeminiRPM > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.GeminiRPM)/60), 1)
	}

	gem := gemini.New(gemini.Options{
		APIKey:      cfg.GeminiAPIKey,
		BaseURL:     cfg.GeminiBaseURL,
		APIVersion:  cfg.GeminiAPIVersion,
		TextModel:   cfg.GeminiTextModel,
		ImageModel:  cfg.GeminiImageModel,
		ImagenModel: cfg.ImagenModel,
		HTTPClient:  httpClient,
		Logger:      logger,
		Limiter:     limiter,
	})

	var fallback gemini.Generator
	if cfg.FallbackEnabled {
		fallback = gemini.NewFallback(gemini.FallbackOptions{
			BaseURL:    cfg.FallbackURL,
			HTTPClient: httpClient,
			Logger:     logger,
		})
	}

	compositor := canvas.NewCompositor(canvas.CompositorOptions{Logger: logger})
	hist := history.NewStore(history.Options{
		MaxEntries: cfg.HistorySize,
		TTL:        cfg.HistoryTTL,
	})

	if cfg.MaxImagePixels > 0 {
		canvas.MaxDecodePixels = cfg.MaxImagePixels
	}

	opts := studio.Options{
		Compositor:    compositor,
		History:       hist,
		Logger:        logger,
		MaxConcurrent: cfg.MaxConcurrent,
		MaxCount:      cfg.MaxRenderCount,
		RenderTimeout: cfg.RequestTimeout,
	}
	if cfg.FallbackOnly {
		opts.Generator = fallback
	} else {
		opts.Generator = studio.NewChain(gem, fallback, logger)
		opts.Imagen = gem
		opts.Describer = gem
	}

	return Stack{
		Logger:     logger,
		Studio:     studio.New(opts),
		History:    hist,
		Compositor: compositor,
		HTTPClient: httpClient,
	}
}
