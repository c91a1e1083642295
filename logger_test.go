package prefstore

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLogger(t *testing.T) {
	var buf bytes.Buffer
	slogHandler := slog.NewTextHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Remove time for consistent test output
			if a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	})

	logger := &defaultSlogLogger{
		slogger: slog.New(slogHandler),
	}

	logger.Debug("Debug message", "arg1", 123)
	logger.Info("Info message")
	logger.Warn("Warn message", "key_warn", "val_warn")
	logger.Error("Error message", "key_err", "val_err")

	logOutput := buf.String()

	expected := []string{
		"level=DEBUG msg=\"Debug message\" arg1=123",
		"level=INFO msg=\"Info message\"",
		"level=WARN msg=\"Warn message\" key_warn=val_warn",
		"level=ERROR msg=\"Error message\" key_err=val_err",
	}
	for _, want := range expected {
		if !strings.Contains(logOutput, want) {
			t.Errorf("message not logged correctly.\nExpected to contain: %s\nGot: %s", want, logOutput)
		}
	}
}

func TestNewLogger_SetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LogLevelWarn)

	logger.Info("hidden")
	assert.Empty(t, buf.String())

	logger.SetLevel(LogLevelDebug)
	logger.Debug("visible", "key", "dark_mode")
	assert.Contains(t, buf.String(), `"msg":"visible"`)
	assert.Contains(t, buf.String(), `"key":"dark_mode"`)
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LogLevelDebug},
		{"", LogLevelInfo},
		{"INFO", LogLevelInfo},
		{"warning", LogLevelWarn},
		{"error", LogLevelError},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLogLevel("verbose")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
