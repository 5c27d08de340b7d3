package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"curator/internal/services"
)

func TestConsoleHandlerFormatsAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newConsoleHandler(&buf, slog.LevelInfo))

	logger.Info("publish completed", String("entity", "movie-42"), Int("saved", 3))

	line := buf.String()
	if !strings.Contains(line, "INFO") {
		t.Fatalf("expected level in output, got %q", line)
	}
	if !strings.Contains(line, "publish completed") {
		t.Fatalf("expected message in output, got %q", line)
	}
	if !strings.Contains(line, "entity=movie-42") || !strings.Contains(line, "saved=3") {
		t.Fatalf("expected attrs in output, got %q", line)
	}
}

func TestConsoleHandlerQuotesSpacedValues(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newConsoleHandler(&buf, slog.LevelInfo))

	logger.Warn("drift detected", String("file", "My Movie.nfo"))

	if !strings.Contains(buf.String(), `file="My Movie.nfo"`) {
		t.Fatalf("expected quoted value, got %q", buf.String())
	}
}

func TestConsoleHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newConsoleHandler(&buf, slog.LevelWarn))

	logger.Info("should be dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info suppressed, got %q", buf.String())
	}
}

func TestWithContextAddsJobFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newConsoleHandler(&buf, slog.LevelInfo))

	ctx := services.WithJobID(context.Background(), 9)
	ctx = services.WithPhase(ctx, "verify")
	WithContext(ctx, logger).Info("phase started")

	line := buf.String()
	if !strings.Contains(line, "job_id=9") || !strings.Contains(line, "phase=verify") {
		t.Fatalf("expected context fields, got %q", line)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}
