package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Storage  StorageConfig  `json:"storage"`
	Journal  JournalConfig  `json:"journal"`
	Memory   MemoryConfig   `json:"memory"`
	Brain    BrainConfig    `json:"brain"`
	Gateway  GatewayConfig  `json:"gateway"`
	Channels ChannelsConfig `json:"channels"`
	Log      LogConfig      `json:"log"`
	mu       sync.RWMutex
}

type StorageConfig struct {
	DataDir      string `json:"data_dir" env:"MIRA_STORAGE_DATA_DIR"`
	ExecutionLog string `json:"execution_log" env:"MIRA_STORAGE_EXECUTION_LOG"`
	SQLitePath   string `json:"sqlite_path" env:"MIRA_STORAGE_SQLITE_PATH"`
}

type JournalConfig struct {
	Backend string `json:"backend" env:"MIRA_JOURNAL_BACKEND"` // jsonl | sqlite
}

type RedisConfig struct {
	Addr      string `json:"addr" env:"MIRA_MEMORY_REDIS_ADDR"`
	Password  string `json:"password,omitempty" env:"MIRA_MEMORY_REDIS_PASSWORD"`
	DB        int    `json:"db" env:"MIRA_MEMORY_REDIS_DB"`
	KeyPrefix string `json:"key_prefix" env:"MIRA_MEMORY_REDIS_KEY_PREFIX"`
}

type MemoryConfig struct {
	STMBackend  string      `json:"stm_backend" env:"MIRA_MEMORY_STM_BACKEND"` // memory | redis
	STMCapacity int         `json:"stm_capacity" env:"MIRA_MEMORY_STM_CAPACITY"`
	LTMBackend  string      `json:"ltm_backend" env:"MIRA_MEMORY_LTM_BACKEND"` // file | sqlite
	Redis       RedisConfig `json:"redis"`
}

type EmotionConfig struct {
	Window          int     `json:"window" env:"MIRA_BRAIN_EMOTION_WINDOW"`
	LowConfidence   float64 `json:"low_confidence" env:"MIRA_BRAIN_EMOTION_LOW_CONFIDENCE"`
	FrustratedTurns int     `json:"frustrated_turns" env:"MIRA_BRAIN_EMOTION_FRUSTRATED_TURNS"`
	ConfusedRepeats int     `json:"confused_repeats" env:"MIRA_BRAIN_EMOTION_CONFUSED_REPEATS"`
	EngagedDistinct int     `json:"engaged_distinct" env:"MIRA_BRAIN_EMOTION_ENGAGED_DISTINCT"`
}

type HomeostasisConfig struct {
	EnergyLowAfter      int `json:"energy_low_after" env:"MIRA_BRAIN_HOMEOSTASIS_ENERGY_LOW_AFTER"`
	EnergyCriticalAfter int `json:"energy_critical_after" env:"MIRA_BRAIN_HOMEOSTASIS_ENERGY_CRITICAL_AFTER"`
}

type BrainConfig struct {
	Timezone         string            `json:"timezone" env:"MIRA_BRAIN_TIMEZONE"`
	RulesPath        string            `json:"rules_path,omitempty" env:"MIRA_BRAIN_RULES_PATH"`
	ClarifyThreshold int               `json:"clarify_threshold" env:"MIRA_BRAIN_CLARIFY_THRESHOLD"`
	LowSignal        float64           `json:"low_signal" env:"MIRA_BRAIN_LOW_SIGNAL"`
	Emotion          EmotionConfig     `json:"emotion"`
	Homeostasis      HomeostasisConfig `json:"homeostasis"`
}

type GatewayConfig struct {
	Host string `json:"host" env:"MIRA_GATEWAY_HOST"`
	Port int    `json:"port" env:"MIRA_GATEWAY_PORT"`
}

type ChannelsConfig struct {
	Discord DiscordConfig `json:"discord"`
}

type DiscordConfig struct {
	Enabled   bool                `json:"enabled" env:"MIRA_CHANNELS_DISCORD_ENABLED"`
	Token     string              `json:"token" env:"MIRA_CHANNELS_DISCORD_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"MIRA_CHANNELS_DISCORD_ALLOW_FROM"`
}

type LogConfig struct {
	Level string `json:"level" env:"MIRA_LOG_LEVEL"`
	File  string `json:"file,omitempty" env:"MIRA_LOG_FILE"`
}

func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir:      "~/.mira/data",
			ExecutionLog: "~/.mira/data/execution_log.jsonl",
			SQLitePath:   "~/.mira/data/mira.db",
		},
		Journal: JournalConfig{
			Backend: "jsonl",
		},
		Memory: MemoryConfig{
			STMBackend:  "memory",
			STMCapacity: 10,
			LTMBackend:  "file",
			Redis: RedisConfig{
				Addr:      "127.0.0.1:6379",
				KeyPrefix: "mira:stm:",
			},
		},
		Brain: BrainConfig{
			Timezone:         "Europe/Prague",
			ClarifyThreshold: 50,
			LowSignal:        0.2,
			Emotion: EmotionConfig{
				Window:          5,
				LowConfidence:   0.5,
				FrustratedTurns: 2,
				ConfusedRepeats: 3,
				EngagedDistinct: 3,
			},
			Homeostasis: HomeostasisConfig{
				EnergyLowAfter:      20,
				EnergyCriticalAfter: 40,
			},
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18791,
		},
		Channels: ChannelsConfig{
			Discord: DiscordConfig{
				Enabled:   false,
				AllowFrom: FlexibleStringSlice{},
			},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Validate rejects backend names and capacities the runtime cannot build.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Journal.Backend) {
	case "jsonl", "sqlite":
	default:
		return fmt.Errorf("journal.backend must be jsonl or sqlite, got %q", c.Journal.Backend)
	}
	switch strings.ToLower(c.Memory.STMBackend) {
	case "memory", "redis":
	default:
		return fmt.Errorf("memory.stm_backend must be memory or redis, got %q", c.Memory.STMBackend)
	}
	switch strings.ToLower(c.Memory.LTMBackend) {
	case "file", "sqlite":
	default:
		return fmt.Errorf("memory.ltm_backend must be file or sqlite, got %q", c.Memory.LTMBackend)
	}
	if c.Memory.STMCapacity <= 0 {
		return fmt.Errorf("memory.stm_capacity must be positive, got %d", c.Memory.STMCapacity)
	}
	return nil
}

func (c *Config) DataDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Storage.DataDir)
}

func (c *Config) ExecutionLogPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Storage.ExecutionLog)
}

func (c *Config) SQLitePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Storage.SQLitePath)
}

func (c *Config) RulesPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Brain.RulesPath)
}

// DefaultConfigPath honours MIRA_CONFIG before falling back to ~/.mira/config.json.
func DefaultConfigPath() string {
	if p := strings.TrimSpace(os.Getenv("MIRA_CONFIG")); p != "" {
		return expandHome(p)
	}
	return expandHome("~/.mira/config.json")
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
