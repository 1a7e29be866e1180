package studio

import (
	"context"
	"io"
	"log/slog"

	"archviz-studio/internal/gemini"
)

// Chain sends every request to primary and retries it on fallback when
// primary fails. A nil fallback makes Chain a pass-through.
type Chain struct {
	primary  gemini.Generator
	fallback gemini.Generator
	logger   *slog.Logger
}

func NewChain(primary, fallback gemini.Generator, logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Chain{primary: primary, fallback: fallback, logger: logger}
}

func (c *Chain) Generate(ctx context.Context, req gemini.Request) (gemini.Response, error) {
	resp, err := c.primary.Generate(ctx, req)
	if err == nil || c.fallback == nil || ctx.Err() != nil {
		return resp, err
	}

	c.logger.Warn("primary generator failed, using fallback", "err", err)
	fbResp, fbErr := c.fallback.Generate(ctx, req)
	if fbErr != nil {
		c.logger.Error("fallback generator failed", "err", fbErr)
		return gemini.Response{}, err
	}
	return fbResp, nil
}
