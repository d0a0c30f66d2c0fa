package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	Use(zap.New(core))
	prev := GetLevel()
	t.Cleanup(func() {
		SetLevel(prev)
		Use(nil)
	})
	return logs
}

func TestInfoCF_AttachesComponentAndFields(t *testing.T) {
	logs := observe(t)
	SetLevel(INFO)

	InfoCF("gate", "Action allowed", map[string]interface{}{"user_id": "u1"})

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx["component"] != "gate" {
		t.Fatalf("expected component gate, got %v", ctx["component"])
	}
	if ctx["user_id"] != "u1" {
		t.Fatalf("expected user_id field, got %v", ctx["user_id"])
	}
}

func TestSetLevel_FiltersDebug(t *testing.T) {
	logs := observe(t)

	SetLevel(INFO)
	DebugC("brain", "hidden")
	if logs.Len() != 0 {
		t.Fatalf("expected debug to be filtered at INFO, got %d entries", logs.Len())
	}

	SetLevel(DEBUG)
	DebugC("brain", "visible")
	if logs.Len() != 1 {
		t.Fatalf("expected debug entry after SetLevel(DEBUG), got %d", logs.Len())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   DEBUG,
		"warn":    WARN,
		"error":   ERROR,
		"info":    INFO,
		"unknown": INFO,
	}
	for raw, want := range cases {
		if got := ParseLevel(raw); got != want {
			t.Fatalf("ParseLevel(%q) = %s, want %s", raw, got, want)
		}
	}
}

func TestEnableFileLogging_WritesJSONLines(t *testing.T) {
	Use(zap.NewNop())
	SetLevel(INFO)
	t.Cleanup(func() {
		DisableFileLogging()
		Use(nil)
	})

	path := filepath.Join(t.TempDir(), "logs", "mira.log")
	if err := EnableFileLogging(path); err != nil {
		t.Fatalf("EnableFileLogging failed: %v", err)
	}
	WarnCF("journal", "Skipped malformed line", map[string]interface{}{"line": 3})
	Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"component":"journal"`) {
		t.Fatalf("expected component in file log, got %s", string(data))
	}
}
