package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	TelegramToken string
	GeminiAPIKey  string

	LogLevel string
	Debug    bool

	PreferIPv4 bool
	WebAddr    string

	MediaGroupDebounce time.Duration
	MaxConcurrent      int
	RequestTimeout     time.Duration
	HTTPTimeout        time.Duration
	HTTPRetries        int

	GeminiBaseURL    string
	GeminiAPIVersion string
	GeminiTextModel  string
	GeminiImageModel string
	ImagenModel      string
	GeminiRPM        int

	FallbackURL     string
	FallbackEnabled bool
	FallbackOnly    bool

	HistorySize int
	HistoryTTL  time.Duration

	MaxUploadBytes int64
	MaxImagePixels int64
	MaxRenderCount int

	DefaultWorkflow string
}

// Load reads the shared settings. Front ends add their own requirements,
// see RequireTelegram.
func Load() (Config, error) {
	cfg := Config{
		LogLevel:           strings.ToLower(strings.TrimSpace(getEnv("LOG_LEVEL", "info"))),
		Debug:              getEnvBool("DEBUG", false),
		PreferIPv4:         getEnvBool("PREFER_IPV4", true),
		WebAddr:            getEnv("WEB_ADDR", ":8080"),
		MediaGroupDebounce: time.Duration(getEnvInt("MEDIA_GROUP_DEBOUNCE_MS", 1200)) * time.Millisecond,
		MaxConcurrent:      getEnvInt("MAX_CONCURRENT", 4),
		RequestTimeout:     time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 180)) * time.Second,
		HTTPTimeout:        time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 180)) * time.Second,
		HTTPRetries:        getEnvInt("HTTP_RETRIES", 2),
		GeminiBaseURL:      strings.TrimSpace(getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com")),
		GeminiAPIVersion:   strings.TrimSpace(getEnv("GEMINI_API_VERSION", "v1beta")),
		GeminiTextModel:    getEnv("GEMINI_TEXT_MODEL", ""),
		GeminiImageModel:   getEnv("GEMINI_IMAGE_MODEL", ""),
		ImagenModel:        getEnv("IMAGEN_MODEL", ""),
		GeminiRPM:          getEnvInt("GEMINI_RPM", 10),
		FallbackURL:        getEnv("FALLBACK_URL", "https://image.pollinations.ai"),
		FallbackEnabled:    getEnvBool("FALLBACK_ENABLED", true),
		FallbackOnly:       getEnvBool("FALLBACK_ONLY", false),
		HistorySize:        getEnvInt("HISTORY_SIZE", 20),
		HistoryTTL:         time.Duration(getEnvInt("HISTORY_TTL_MINUTES", 120)) * time.Minute,
		MaxUploadBytes:     int64(getEnvInt("MAX_UPLOAD_MB", 20)) << 20,
		MaxImagePixels:     int64(getEnvInt("MAX_IMAGE_MEGAPIXELS", 40)) * 1_000_000,
		MaxRenderCount:     getEnvInt("MAX_RENDER_COUNT", 4),
		DefaultWorkflow:    strings.ToLower(getEnv("DEFAULT_WORKFLOW", "exterior")),
	}

	cfg.TelegramToken = strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))
	cfg.GeminiAPIKey = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))

	if cfg.FallbackOnly {
		cfg.FallbackEnabled = true
	}
	if cfg.GeminiAPIKey == "" && !cfg.FallbackOnly {
		return Config{}, errors.New("GEMINI_API_KEY is required (or set FALLBACK_ONLY=true)")
	}

	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 180 * time.Second
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 180 * time.Second
	}
	if cfg.HTTPRetries < 0 {
		cfg.HTTPRetries = 0
	}
	if cfg.HistorySize < 1 {
		cfg.HistorySize = 1
	}
	if cfg.HistoryTTL <= 0 {
		cfg.HistoryTTL = 2 * time.Hour
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 20 << 20
	}
	if cfg.MaxImagePixels <= 0 {
		cfg.MaxImagePixels = 40_000_000
	}
	if cfg.MaxRenderCount < 1 {
		cfg.MaxRenderCount = 1
	}

	return cfg, nil
}

func (c Config) RequireTelegram() error {
	if c.TelegramToken == "" {
		return errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
