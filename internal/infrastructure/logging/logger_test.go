package logging

import (
	"log/slog"
	"testing"

	"github.com/adityarama/sekolah-core/internal/infrastructure/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNew_Formats(t *testing.T) {
	for _, format := range []string{"json", "text", ""} {
		logger := New(config.LoggingConfig{
			Level:  "info",
			Format: format,
			Output: "stdout",
		}, "test")
		if logger == nil || logger.Logger == nil {
			t.Fatalf("New(format=%q) returned nil logger", format)
		}
	}
}

func TestWith(t *testing.T) {
	logger := Default()
	child := logger.With("component", "auth")
	if child == nil || child.Logger == nil {
		t.Fatal("With() returned nil logger")
	}
	if child == logger {
		t.Error("With() should return a new logger")
	}
}
