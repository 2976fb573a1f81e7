package util

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLoggerLevel(t *testing.T) {
	logger := NewLogger("debug", "json")
	if logger.GetLevel() != zerolog.DebugLevel {
		t.Fatalf("expected debug level, got %s", logger.GetLevel())
	}

	logger = NewLogger("invalid", "json")
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("expected info fallback, got %s", logger.GetLevel())
	}
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	jsonLogger := NewLoggerTo(&buf, "info", "json")
	jsonLogger.Info().Str("instrument", "EURUSD").Msg("bar")
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected json line, got %q: %v", buf.String(), err)
	}
	if line["instrument"] != "EURUSD" || line["message"] != "bar" {
		t.Fatalf("unexpected fields: %v", line)
	}

	buf.Reset()
	consoleLogger := NewLoggerTo(&buf, "info", "console")
	consoleLogger.Info().Str("instrument", "EURUSD").Msg("bar")
	if !strings.Contains(buf.String(), "instrument=EURUSD") || strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("expected console output, got %q", buf.String())
	}

	buf.Reset()
	warnLogger := NewLoggerTo(&buf, "warn", "json")
	warnLogger.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered at warn, got %q", buf.String())
	}
}
