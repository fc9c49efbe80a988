// Package config loads runtime settings from the environment (§6.4).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice gateway.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	CORSOrigins []string
	LogLevel    string
	Environment string

	DatabaseURL string
	RedisURL    string

	JWTSecretKey  string
	TokenTTL      time.Duration

	CacheTTLDefault          time.Duration
	CacheSimilarityThreshold float64
	SessionTimeoutSeconds    int
	MaxConcurrentSessions    int
	SampleRate               int
	ChunkDurationMS          int

	RealtimeVendorAPIKey     string
	RealtimeVendorWSBaseURL  string
	RealtimeVendorSTTModel   string
	RealtimeVendorVoiceID    string
	RealtimeVendorModelID    string
	RealtimeVendorOutputFmt  string

	HTTPLLMVendorAPIKey  string
	HTTPLLMVendorBaseURL string
	HTTPLLMVendorModel   string

	SearchVendorAPIKey  string
	SearchVendorBaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "samantha"),
		ShutdownTimeout:  15 * time.Second,

		CORSOrigins: splitCSV(envOrDefault("CORS_ORIGINS", "*")),
		LogLevel:    envOrDefault("LOG_LEVEL", "info"),
		Environment: envOrDefault("ENVIRONMENT", "development"),

		DatabaseURL: stringsTrimSpace("DATABASE_URL"),
		RedisURL:    stringsTrimSpace("REDIS_URL"),

		JWTSecretKey: envOrDefault("JWT_SECRET_KEY", "dev-insecure-secret-change-me"),
		TokenTTL:     24 * time.Hour,

		CacheTTLDefault:          time.Hour,
		CacheSimilarityThreshold: 0.85,
		SessionTimeoutSeconds:    1800,
		MaxConcurrentSessions:    100,
		SampleRate:               16000,
		ChunkDurationMS:          100,

		RealtimeVendorAPIKey:    stringsTrimSpace("REALTIME_VENDOR_API_KEY"),
		RealtimeVendorWSBaseURL: envOrDefault("REALTIME_VENDOR_WS_BASE_URL", "wss://api.elevenlabs.io"),
		RealtimeVendorSTTModel:  envOrDefault("REALTIME_VENDOR_STT_MODEL_ID", "scribe_v2_realtime"),
		RealtimeVendorVoiceID:   envOrDefault("REALTIME_VENDOR_VOICE_ID", "cgSgspJ2msm6clMCkdW9"),
		RealtimeVendorModelID:   envOrDefault("REALTIME_VENDOR_MODEL_ID", "eleven_multilingual_v2"),
		RealtimeVendorOutputFmt: envOrDefault("REALTIME_VENDOR_OUTPUT_FORMAT", "pcm_16000"),

		HTTPLLMVendorAPIKey:  stringsTrimSpace("HTTP_LLM_VENDOR_API_KEY"),
		HTTPLLMVendorBaseURL: envOrDefault("HTTP_LLM_VENDOR_BASE_URL", "https://api.openai.com/v1"),
		HTTPLLMVendorModel:   envOrDefault("HTTP_LLM_VENDOR_MODEL", "gpt-4o-mini"),

		SearchVendorAPIKey:  stringsTrimSpace("SEARCH_VENDOR_API_KEY"),
		SearchVendorBaseURL: envOrDefault("SEARCH_VENDOR_BASE_URL", "https://api.tavily.com"),
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cacheTTLSeconds, err := intFromEnv("CACHE_TTL_DEFAULT", int(cfg.CacheTTLDefault/time.Second))
	if err != nil {
		return Config{}, err
	}
	cfg.CacheTTLDefault = time.Duration(cacheTTLSeconds) * time.Second
	cfg.CacheSimilarityThreshold, err = floatFromEnv("CACHE_SIMILARITY_THRESHOLD", cfg.CacheSimilarityThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionTimeoutSeconds, err = intFromEnv("SESSION_TIMEOUT_SECONDS", cfg.SessionTimeoutSeconds)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxConcurrentSessions, err = intFromEnv("MAX_CONCURRENT_SESSIONS", cfg.MaxConcurrentSessions)
	if err != nil {
		return Config{}, err
	}
	cfg.SampleRate, err = intFromEnv("SAMPLE_RATE", cfg.SampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.ChunkDurationMS, err = intFromEnv("CHUNK_DURATION_MS", cfg.ChunkDurationMS)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionTimeoutSeconds < 5 {
		return Config{}, fmt.Errorf("SESSION_TIMEOUT_SECONDS must be at least 5")
	}
	if cfg.MaxConcurrentSessions <= 0 {
		return Config{}, fmt.Errorf("MAX_CONCURRENT_SESSIONS must be positive")
	}
	if cfg.CacheSimilarityThreshold <= 0 || cfg.CacheSimilarityThreshold > 1 {
		return Config{}, fmt.Errorf("CACHE_SIMILARITY_THRESHOLD must be in (0, 1]")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = trimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}
