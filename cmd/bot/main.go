package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"archviz-studio/internal/app"
	"archviz-studio/internal/bot"
	"archviz-studio/internal/config"
	"archviz-studio/internal/mediagroup"
	"archviz-studio/internal/prompt"
	"archviz-studio/internal/telegram"
	"archviz-studio/internal/workflow"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := cfg.RequireTelegram(); err != nil {
		panic(err)
	}

	logger := app.NewLogger(cfg)
	stack := app.Build(cfg, logger)

	tg, err := telegram.New(telegram.Options{
		Token:      cfg.TelegramToken,
		HTTPClient: stack.HTTPClient,
		Logger:     logger,
		Debug:      cfg.Debug,
	})
	if err != nil {
		logger.Error("telegram init failed", "err", err)
		os.Exit(1)
	}

	handler := bot.New(bot.Options{
		Telegram: tg,
		Studio:   stack.Studio,
		Tabs:     workflow.NewStore(prompt.Kind(cfg.DefaultWorkflow)),
		History:  stack.History,
		Logger:   logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// spawn runs fn with a per-request timeout once a slot is free. It
	// returns false when shutdown began while waiting.
	var inflight sync.WaitGroup
	sem := make(chan struct{}, cfg.MaxConcurrent)
	spawn := func(fn func(context.Context)) bool {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return false
		}

		inflight.Add(1)
		go func() {
			defer inflight.Done()
			defer func() { <-sem }()

			reqCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout)
			defer cancel()
			fn(reqCtx)
		}()
		return true
	}
	defer func() {
		stop()
		inflight.Wait()
	}()

	aggregator := mediagroup.New(mediagroup.Options{
		Debounce: cfg.MediaGroupDebounce,
		OnFlush: func(group mediagroup.Group) {
			spawn(func(reqCtx context.Context) { handler.HandleMediaGroup(reqCtx, group) })
		},
	})
	defer aggregator.Stop()
	handler.SetMediaGroupAggregator(aggregator)

	logger.Info("bot started", "username", tg.Username(), "fallback_only", cfg.FallbackOnly)

	updates := tg.Updates(telegram.UpdatesOptions{
		Timeout: 30 * time.Second,
	})
	defer tg.StopUpdates()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return
		case update, ok := <-updates:
			if !ok {
				logger.Info("updates channel closed")
				return
			}

			started := spawn(func(reqCtx context.Context) {
				if err := handler.HandleUpdate(reqCtx, update); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("handle update failed", "err", err, "update_id", update.UpdateID)
				}
			})
			if !started {
				return
			}
		}
	}
}
