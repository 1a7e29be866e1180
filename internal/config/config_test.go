package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "k")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.WebAddr)
	assert.Equal(t, 1200*time.Millisecond, cfg.MediaGroupDebounce)
	assert.Equal(t, int64(20<<20), cfg.MaxUploadBytes)
	assert.Equal(t, int64(40_000_000), cfg.MaxImagePixels)
	assert.True(t, cfg.FallbackEnabled)
	assert.Equal(t, "exterior", cfg.DefaultWorkflow)
	assert.Error(t, cfg.RequireTelegram())
}

func TestLoadRequiresKeyUnlessFallbackOnly(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("FALLBACK_ONLY", "")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("FALLBACK_ONLY", "true")
	t.Setenv("FALLBACK_ENABLED", "false")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.FallbackEnabled)
}

func TestLoadClampsAndIgnoresGarbage(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "k")
	t.Setenv("MAX_CONCURRENT", "0")
	t.Setenv("HISTORY_SIZE", "-3")
	t.Setenv("HTTP_RETRIES", "-1")
	t.Setenv("REQUEST_TIMEOUT_SECONDS", "soon")
	t.Setenv("DEBUG", "maybe")
	t.Setenv("TELEGRAM_BOT_TOKEN", " tok ")
	t.Setenv("DEFAULT_WORKFLOW", "Edit")
	t.Setenv("MAX_IMAGE_MEGAPIXELS", "-5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.MaxConcurrent)
	assert.Equal(t, 1, cfg.HistorySize)
	assert.Equal(t, 0, cfg.HTTPRetries)
	assert.Equal(t, 180*time.Second, cfg.RequestTimeout)
	assert.False(t, cfg.Debug)
	assert.NoError(t, cfg.RequireTelegram())
	assert.Equal(t, "tok", cfg.TelegramToken)
	assert.Equal(t, "edit", cfg.DefaultWorkflow)
	assert.Equal(t, int64(40_000_000), cfg.MaxImagePixels)
}
