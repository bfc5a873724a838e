// Package logger writes structured JSON log lines shared by every service.
package logger

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

type Fields map[string]any

var sensitiveKeys = map[string]struct{}{
	"authorization": {},
	"token":         {},
	"password":      {},
	"jwtsecret":     {},
}

var current atomic.Pointer[slog.Logger]

func init() {
	current.Store(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
}

// SetOutput redirects all log output. Tests pass io.Discard.
func SetOutput(w io.Writer) {
	current.Store(slog.New(slog.NewJSONHandler(w, nil)))
}

// SetService tags every following log line with the service name.
func SetService(name string) {
	current.Store(current.Load().With(slog.String("service", name)))
}

func Info(message string, fields Fields) {
	current.Load().LogAttrs(context.Background(), slog.LevelInfo, message, attrs(fields)...)
}

func Warn(message string, fields Fields) {
	current.Load().LogAttrs(context.Background(), slog.LevelWarn, message, attrs(fields)...)
}

func Error(message string, err error, fields Fields) {
	base := Fields{}
	for k, v := range fields {
		base[k] = v
	}
	if err != nil {
		base["error"] = err.Error()
	}
	current.Load().LogAttrs(context.Background(), slog.LevelError, message, attrs(base)...)
}

// SanitizePayload masks sensitive keys in an arbitrary JSON-able value.
func SanitizePayload(payload any) any {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "<unavailable>"
	}

	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return "<unavailable>"
	}

	return sanitizeValue(data)
}

func attrs(fields Fields) []slog.Attr {
	out := make([]slog.Attr, 0, len(fields))
	for k, v := range fields {
		if isSensitiveKey(k) {
			out = append(out, slog.String(k, "******"))
			continue
		}
		out = append(out, slog.Any(k, v))
	}
	return out
}

func sanitizeValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, inner := range typed {
			if isSensitiveKey(key) {
				out[key] = "******"
				continue
			}
			out[key] = sanitizeValue(inner)
		}
		return out
	case []any:
		out := make([]any, 0, len(typed))
		for _, item := range typed {
			out = append(out, sanitizeValue(item))
		}
		return out
	default:
		return value
	}
}

func isSensitiveKey(key string) bool {
	normalized := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(key), "_", ""))
	_, ok := sensitiveKeys[normalized]
	return ok
}
