package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	var testcases = []struct {
		level, format string
		enabled       zapcore.Level
		disabled      zapcore.Level
	}{
		{"info", "json", zapcore.InfoLevel, zapcore.DebugLevel},
		{"debug", "console", zapcore.DebugLevel, zapcore.DebugLevel - 1},
		{"warn", "", zapcore.WarnLevel, zapcore.InfoLevel},
		{"", "json", zapcore.InfoLevel, zapcore.DebugLevel},
	}
	for _, tc := range testcases {
		l, err := New(tc.level, tc.format)
		if err != nil {
			t.Fatalf("New(%q, %q): %v", tc.level, tc.format, err)
		}
		if !l.Core().Enabled(tc.enabled) {
			t.Errorf("New(%q, %q): %v should be enabled", tc.level, tc.format, tc.enabled)
		}
		if l.Core().Enabled(tc.disabled) {
			t.Errorf("New(%q, %q): %v should be disabled", tc.level, tc.format, tc.disabled)
		}
	}
}

func TestNewErrors(t *testing.T) {
	if _, err := New("loud", "json"); err == nil {
		t.Error("expected an error for an unknown level")
	}
	if _, err := New("info", "xml"); err == nil {
		t.Error("expected an error for an unknown format")
	}
}
