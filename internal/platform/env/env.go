package env

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultNATSURL     = "nats://localhost:4222"
	DefaultServerAddr  = ":8080"
	DefaultClientAddr  = ":8090"
	DefaultAPIURL      = "http://localhost:8080/api"
	DefaultPushURL     = "ws://localhost:8080/ws"
	DefaultJWTSecret   = "dev-secret-change-me"
	DefaultRequestWait = 10 * time.Second
)

func String(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func Int(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func Duration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func Bool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}
