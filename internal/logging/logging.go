package logging

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Setup installs a JSON slog handler on stdout as the default logger.
func Setup(level string) *slog.Logger {
	return SetupWriter(os.Stdout, level)
}

// SetupWriter is Setup with an explicit destination.
func SetupWriter(w io.Writer, level string) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps debug|info|warn|error to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// MaskPhone keeps the last four characters and a short digest so log lines
// can be correlated without exposing the number.
func MaskPhone(phone string) string {
	if phone == "" {
		return ""
	}
	suffix := phone
	if r := []rune(phone); len(r) > 4 {
		suffix = string(r[len(r)-4:])
	}
	sum := sha256.Sum256([]byte(phone))
	return "..." + suffix + "#" + hex.EncodeToString(sum[:])[:8]
}

// ShortenBody truncates body to limit runes.
func ShortenBody(body string, limit int) string {
	r := []rune(body)
	if len(r) <= limit {
		return body
	}
	return string(r[:limit]) + "..."
}

// Metric emits a metric-style log line. Dashboards filter on the metric key.
func Metric(ctx context.Context, name string, attrs ...any) {
	args := append([]any{"metric", name}, attrs...)
	slog.InfoContext(ctx, "metric", args...)
}
