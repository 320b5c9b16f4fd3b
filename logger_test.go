package gopyramid

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLoggerLevels(t *testing.T) {
	tests := []struct {
		name string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARN ", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.name); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestNewLoggerOutput(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "warn", false)

	log.Info().Msg("dropped")
	log.Warn().Int("pyramid_level", 2).Msg("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Error("Info event written at warn level")
	}
	for _, want := range []string{`"pyramid_level":2`, `"component":"gopyramid"`, `"message":"kept"`} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %s in %s", want, out)
		}
	}

	buf.Reset()
	console := newLogger(&buf, "info", true)
	console.Info().Msg("hello")
	if strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), "hello") {
		t.Errorf("Console output not human readable: %q", buf.String())
	}
}
