// Package config holds the environment helpers each service's Load uses.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

func GetEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// GetURL is GetEnv with any trailing slash removed.
func GetURL(key, fallback string) string {
	return strings.TrimSuffix(GetEnv(key, fallback), "/")
}

func GetInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

// GetDuration parses values like "5s" or "2m". Invalid or empty values use fallback.
func GetDuration(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
