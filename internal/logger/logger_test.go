package logger

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level  string
		expect zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"Info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"unknown", zerolog.InfoLevel}, // default case
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			if got := ParseLevel(tt.level); got != tt.expect {
				t.Errorf("level %s: expected %v, got %v", tt.level, tt.expect, got)
			}
		})
	}
}

func TestSetupSetsGlobalLevel(t *testing.T) {
	Setup("error", "console")
	if zerolog.GlobalLevel() != zerolog.ErrorLevel {
		t.Errorf("expected global level error, got %v", zerolog.GlobalLevel())
	}
	Setup("info", "console")
}

func TestJSONOutputCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter(&buf, "debug", "json")
	defer Setup("info", "console")

	Log.Info("planned", "category", "nonconst", "bytes", 128)

	out := buf.String()
	for _, want := range []string{`"message":"planned"`, `"category":"nonconst"`, `"bytes":128`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in %s", want, out)
		}
	}
}

func TestComponentTag(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter(&buf, "debug", "json")
	defer Setup("info", "console")

	Log.Component("TensorManager").Debug("allocated")

	if !strings.Contains(buf.String(), `"component":"TensorManager"`) {
		t.Errorf("expected component field, got %s", buf.String())
	}
}

func TestErrorField(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter(&buf, "info", "json")
	defer Setup("info", "console")

	Log.Error("dump failed", errors.New("disk full"), "path", "/tmp/x")

	if !strings.Contains(buf.String(), `"error":"disk full"`) {
		t.Errorf("expected error field, got %s", buf.String())
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter(&buf, "error", "json")
	defer Setup("info", "console")

	Log.Debug("debug message should be filtered")
	Log.Info("info message should be filtered")

	if buf.Len() != 0 {
		t.Errorf("expected no output, got %s", buf.String())
	}
}

func TestOddArgsDropsOrphanKey(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter(&buf, "info", "json")
	defer Setup("info", "console")

	Log.Info("odd args", "key1", "value1", "orphan_key")

	if strings.Contains(buf.String(), "orphan_key") {
		t.Errorf("orphan key should be dropped: %s", buf.String())
	}
}

func TestNonStringKey(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter(&buf, "info", "json")
	defer Setup("info", "console")

	Log.Info("non-string key", 123, "value")

	if !strings.Contains(buf.String(), `"123":"value"`) {
		t.Errorf("expected stringified key, got %s", buf.String())
	}
}
