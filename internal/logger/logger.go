// Package logger builds the process-wide slog logger and a few attribute
// helpers so log keys stay consistent across packages.
package logger

import (
	"io"
	"log/slog"
	"strings"
)

// New returns a slog logger writing to w in "json" or "text" format.
func New(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// UserID records the user identifier under the key "user_id".
func UserID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("user_id", id)
}

// Component records the emitting component.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Email records a masked email address.
func Email(email string) slog.Attr {
	return slog.String("email", MaskEmail(email))
}

// MaskEmail masks the local part of an address for logging (e.g. an***@x.com).
// Masking counts runes, so multibyte characters stay intact.
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		r := []rune(email)
		if len(r) <= 4 {
			return "****"
		}
		return string(r[:2]) + strings.Repeat("*", len(r)-2)
	}
	local, domain := []rune(email[:at]), email[at:]
	if len(local) <= 2 {
		return strings.Repeat("*", len(local)) + domain
	}
	return string(local[:2]) + strings.Repeat("*", len(local)-2) + domain
}
