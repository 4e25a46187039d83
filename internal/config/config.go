package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port                 int
	NatsURL              string
	NatsToken            string
	DatabaseURL          string
	LogLevel             string
	APIToken             string
	ContourCacheDir      string
	IsolationURL         string
	IsolationToken       string
	AnalysisTimeout      time.Duration
	FingerprintThreshold float64
	PitchFMin            float64
	PitchFMax            float64
}

func Load() Config {
	return Config{
		Port:                 envInt("ANTIPHON_PORT", 8760),
		NatsURL:              envStr("NATS_URL", "nats://hermes:4222"),
		NatsToken:            envStr("NATS_TOKEN", ""),
		DatabaseURL:          envStr("DATABASE_URL", ""),
		LogLevel:             envStr("LOG_LEVEL", "info"),
		APIToken:             envStr("ANTIPHON_API_TOKEN", ""),
		ContourCacheDir:      envStr("CONTOUR_CACHE_DIR", ""),
		IsolationURL:         envStr("ISOLATION_URL", ""),
		IsolationToken:       envStr("ISOLATION_TOKEN", ""),
		AnalysisTimeout:      envDuration("ANALYSIS_TIMEOUT", 10*time.Minute),
		FingerprintThreshold: envFloat("FINGERPRINT_THRESHOLD", 0.6),
		PitchFMin:            envFloat("PITCH_FMIN", 80),
		PitchFMax:            envFloat("PITCH_FMAX", 500),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
