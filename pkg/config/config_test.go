package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// TestDefaultConfig_Brain verifies brain defaults match the documented thresholds
func TestDefaultConfig_Brain(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Brain.Timezone != "Europe/Prague" {
		t.Errorf("Timezone = %q, want %q", cfg.Brain.Timezone, "Europe/Prague")
	}
	if cfg.Brain.ClarifyThreshold != 50 {
		t.Errorf("ClarifyThreshold = %d, want 50", cfg.Brain.ClarifyThreshold)
	}
	if cfg.Brain.Homeostasis.EnergyLowAfter != 20 || cfg.Brain.Homeostasis.EnergyCriticalAfter != 40 {
		t.Errorf("unexpected homeostasis defaults: %+v", cfg.Brain.Homeostasis)
	}
	if cfg.Brain.Emotion.FrustratedTurns != 2 || cfg.Brain.Emotion.ConfusedRepeats != 3 {
		t.Errorf("unexpected emotion defaults: %+v", cfg.Brain.Emotion)
	}
}

// TestDefaultConfig_Memory verifies STM capacity and backends
func TestDefaultConfig_Memory(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Memory.STMCapacity != 10 {
		t.Error("Expected STM capacity 10, got ", cfg.Memory.STMCapacity)
	}
	if cfg.Memory.STMBackend != "memory" {
		t.Errorf("STMBackend = %q, want memory", cfg.Memory.STMBackend)
	}
	if cfg.Journal.Backend != "jsonl" {
		t.Errorf("Journal backend = %q, want jsonl", cfg.Journal.Backend)
	}
}

// TestDefaultConfig_Channels verifies Discord config defaults
func TestDefaultConfig_Channels(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Channels.Discord.Token != "" {
		t.Error("Discord token should be empty by default")
	}
	if cfg.Channels.Discord.Enabled {
		t.Error("Discord should be disabled by default")
	}
}

func TestSaveConfig_FilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file permission bits are not enforced on Windows")
	}

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg := DefaultConfig()
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}

	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("config file has permission %04o, want 0600", perm)
	}
}

func TestLoadConfig_RoundTripsSavedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := DefaultConfig()
	cfg.Brain.Timezone = "UTC"
	cfg.Memory.STMCapacity = 4
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Brain.Timezone != "UTC" {
		t.Fatalf("expected timezone UTC, got %q", loaded.Brain.Timezone)
	}
	if loaded.Memory.STMCapacity != 4 {
		t.Fatalf("expected stm capacity 4, got %d", loaded.Memory.STMCapacity)
	}
}

func TestLoadConfig_EnvOverridesWithoutFile(t *testing.T) {
	t.Setenv("MIRA_BRAIN_TIMEZONE", "America/New_York")
	t.Setenv("MIRA_JOURNAL_BACKEND", "sqlite")
	path := filepath.Join(t.TempDir(), "missing-config.json")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if got := cfg.Brain.Timezone; got != "America/New_York" {
		t.Fatalf("expected env override timezone, got %q", got)
	}
	if got := cfg.Journal.Backend; got != "sqlite" {
		t.Fatalf("expected env override journal backend, got %q", got)
	}
}

func TestLoadConfig_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("MIRA_MEMORY_STM_BACKEND", "memcached")
	path := filepath.Join(t.TempDir(), "missing-config.json")

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatalf("expected error for unknown stm backend")
	}
	if !strings.Contains(err.Error(), "stm_backend") {
		t.Fatalf("expected stm_backend in error, got %v", err)
	}
}

func TestFlexibleStringSlice_AcceptsNumbers(t *testing.T) {
	var f FlexibleStringSlice
	if err := f.UnmarshalJSON([]byte(`["abc", 123456789012]`)); err != nil {
		t.Fatalf("UnmarshalJSON failed: %v", err)
	}
	if len(f) != 2 || f[0] != "abc" || f[1] != "123456789012" {
		t.Fatalf("unexpected slice: %v", f)
	}
}

func TestDefaultConfigPath_UsesEnv(t *testing.T) {
	t.Setenv("MIRA_CONFIG", "/tmp/mira-test/config.json")
	if got := DefaultConfigPath(); got != "/tmp/mira-test/config.json" {
		t.Fatalf("expected MIRA_CONFIG path, got %q", got)
	}
}
