// Package config loads and persists the process-wide memflow configuration.
//
// Priority, matching the teacher's merge order: CLI flags > environment
// variables > config.json > built-in defaults. Unlike the teacher (which
// ships a commented TOML file), the on-disk format here is pinned to JSON
// by the external-interface contract and written atomically via temp+rename.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// EmbeddingDim is the fixed vector dimension the store persists. Providers
// returning a different dimension are adapted (truncate/zero-pad) by the
// embedding package.
const EmbeddingDim = 384

// Config is the single process-wide configuration record (see the §3 option
// table: recording-interval-ms, ocr-enabled, ai-enabled, retention-days, ...).
type Config struct {
	Recording RecordingConfig `json:"recording"`
	OCR       OCRConfig       `json:"ocr"`
	AI        AIConfig        `json:"ai"`
	Retention RetentionConfig `json:"retention"`
	Blocklist BlocklistConfig `json:"blocklist"`
	Privacy   PrivacyConfig   `json:"privacy"`
	Redaction RedactionConfig `json:"redaction"`
	Focus     FocusConfig     `json:"focus"`
	Agent     AgentConfig     `json:"agent"`
	Embedding EmbeddingConfig `json:"embedding"`
	Ollama    OllamaConfig    `json:"ollama"`
	Chat      ChatConfig      `json:"chat"`
}

type RecordingConfig struct {
	IntervalMS int `json:"interval_ms"` // heartbeat ceiling for C5, 10-60s
}

type OCRConfig struct {
	Enabled bool   `json:"enabled"`
	Engine  string `json:"engine"`

	PreprocessEnabled  bool `json:"preprocess_enabled"`
	PreprocessMaxWidth int  `json:"preprocess_max_width"`
	PreprocessMaxPixels int `json:"preprocess_max_pixels"`
}

type AIConfig struct {
	Enabled bool `json:"enabled"` // gates LLM-using features
}

type RetentionConfig struct {
	Days int `json:"days"` // age threshold for C11 GC
}

type BlocklistConfig struct {
	Enabled bool   `json:"enabled"`
	Mode    string `json:"mode"` // "blocklist" | "allowlist"

	// LegacyApps is populated from an optional .memflow/rules.toml override
	// layer (not persisted to config.json) and merged into the store's
	// blocklist table at startup.
	LegacyApps []string `json:"-"`
}

type PrivacyConfig struct {
	ModeEnabled   bool  `json:"mode_enabled"`
	ModeUntilUnix int64 `json:"mode_until_epoch"`
}

type RedactionConfig struct {
	Enabled bool   `json:"enabled"`
	Level   string `json:"level"` // "basic" | "strict"
}

type FocusConfig struct {
	AnalyticsEnabled    bool `json:"analytics_enabled"`
	ProactiveAssistant  bool `json:"proactive_assistant"`
}

type AgentConfig struct {
	ContextMaxItems     int `json:"context_max_items"`
	CharsPerOCR         int `json:"chars_per_ocr"`
	SessionGapMinutes   int `json:"session_gap_minutes"`
}

type EmbeddingConfig struct {
	Provider string `json:"provider"` // "ollama" | "openai" | "openai-compatible" | "none"
	Model    string `json:"model"`
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"api_key"`
}

type OllamaConfig struct {
	URL string `json:"url"`
}

type ChatConfig struct {
	Model   string `json:"model"`
	BaseURL string `json:"base_url"`
}

// DefaultConfig returns the built-in defaults, matching spec's numeric
// ranges for recording interval, retention, and agent tuning.
func DefaultConfig() *Config {
	return &Config{
		Recording: RecordingConfig{IntervalMS: 30_000},
		OCR: OCRConfig{
			Enabled:             true,
			Engine:              "external",
			PreprocessEnabled:   true,
			PreprocessMaxWidth:  1600,
			PreprocessMaxPixels: 1600 * 1600,
		},
		AI:        AIConfig{Enabled: true},
		Retention: RetentionConfig{Days: 90},
		Blocklist: BlocklistConfig{Enabled: false, Mode: "blocklist"},
		Privacy:   PrivacyConfig{},
		Redaction: RedactionConfig{Enabled: true, Level: "basic"},
		Focus: FocusConfig{
			AnalyticsEnabled:   true,
			ProactiveAssistant: true,
		},
		Agent: AgentConfig{
			ContextMaxItems:   40,
			CharsPerOCR:       280,
			SessionGapMinutes: 20,
		},
		Embedding: EmbeddingConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text",
		},
		Ollama: OllamaConfig{URL: "http://localhost:11434"},
		Chat:   ChatConfig{Model: "llama3.2"},
	}
}

// LoadConfig merges defaults < config.json < environment variables, matching
// the teacher's LoadConfig precedence (CLI flags, handled by cmd/memflow's
// cobra flags, apply on top of the returned Config).
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(ConfigFilePath(DataDir()))
}

// LoadConfigFrom loads configuration from a specific file path, merging with
// defaults and env vars, tolerating unknown fields in the JSON file per the
// external-interface contract ("unknown fields tolerated").
func LoadConfigFrom(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", configPath, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	applyLegacyRules(cfg, filepath.Dir(configPath))
	applyEnvOverrides(cfg)
	return cfg, nil
}

// legacyRules mirrors the older `.memflow/rules.toml` blocklist format some
// hosts still ship, predating the config.json Blocklist section. It is an
// optional override layer above config.json, consulted only if present.
type legacyRules struct {
	Blocklist struct {
		Mode string   `toml:"mode"`
		Apps []string `toml:"apps"`
	} `toml:"blocklist"`
}

// applyLegacyRules loads dataDir/.memflow/rules.toml, if present, and layers
// its blocklist settings over cfg. Apps listed there are merged into the
// in-process blocklist the same way config.json's would be, by handing them
// to the caller via cfg.Blocklist -- the actual app-name set is loaded
// separately by store.ListBlocklist/AddToBlocklist at startup from this
// field when non-empty.
func applyLegacyRules(cfg *Config, dataDir string) {
	path := filepath.Join(dataDir, ".memflow", "rules.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var rules legacyRules
	if _, err := toml.Decode(string(data), &rules); err != nil {
		return
	}
	if rules.Blocklist.Mode != "" {
		cfg.Blocklist.Mode = rules.Blocklist.Mode
	}
	if len(rules.Blocklist.Apps) > 0 {
		cfg.Blocklist.Enabled = true
		cfg.Blocklist.LegacyApps = rules.Blocklist.Apps
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("MEMFLOW_RECORDING_INTERVAL_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Recording.IntervalMS = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MEMFLOW_RETENTION_DAYS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retention.Days = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("OLLAMA_URL")); v != "" {
		cfg.Ollama.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("MEMFLOW_EMBED_PROVIDER")); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := strings.TrimSpace(os.Getenv("MEMFLOW_EMBED_MODEL")); v != "" {
		cfg.Embedding.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("MEMFLOW_EMBED_BASE_URL")); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("MEMFLOW_EMBED_API_KEY")); v != "" {
		cfg.Embedding.APIKey = v
	}
	if cfg.Embedding.APIKey == "" && (cfg.Embedding.Provider == "openai" || cfg.Embedding.Provider == "openai-compatible") {
		if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
			cfg.Embedding.APIKey = v
		}
	}
	if v := strings.TrimSpace(os.Getenv("MEMFLOW_CHAT_MODEL")); v != "" {
		cfg.Chat.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("MEMFLOW_CHAT_BASE_URL")); v != "" {
		cfg.Chat.BaseURL = v
	}
}

// ConfigFilePath returns the path of config.json under the given data
// directory.
func ConfigFilePath(dataDir string) string {
	return filepath.Join(dataDir, "config.json")
}

// SaveConfig writes cfg as config.json under dataDir using an atomic
// temp-file-then-rename, per the external-interface contract in §6.
func SaveConfig(dataDir string, cfg *Config) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dest := ConfigFilePath(dataDir)
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename config into place: %w", err)
	}
	return nil
}

// DataDir returns the app-data directory (DB, screenshots/, logs/,
// config.json live under it), honoring MEMFLOW_DATA_DIR for overrides.
func DataDir() string {
	if v := strings.TrimSpace(os.Getenv("MEMFLOW_DATA_DIR")); v != "" {
		return v
	}
	base, err := os.UserHomeDir()
	if err != nil || base == "" {
		base = "."
	}
	switch runtime.GOOS {
	case "windows":
		if appdata := os.Getenv("APPDATA"); appdata != "" {
			return filepath.Join(appdata, "memflow")
		}
		return filepath.Join(base, "AppData", "Roaming", "memflow")
	case "darwin":
		return filepath.Join(base, "Library", "Application Support", "memflow")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "memflow")
		}
		return filepath.Join(base, ".local", "share", "memflow")
	}
}

// DBPath returns the path of the SQLite database file.
func DBPath() string {
	return filepath.Join(DataDir(), "memflow.db")
}

// ScreenshotsDir returns the directory screenshots are written under.
func ScreenshotsDir() string {
	return filepath.Join(DataDir(), "screenshots")
}

// LogsDir returns the directory daily-rolled logs are written under.
func LogsDir() string {
	return filepath.Join(DataDir(), "logs")
}

// OllamaURL returns the configured Ollama API URL, defaulting to the local
// endpoint when unset. It does not validate the URL.
func OllamaURL() (string, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return "", err
	}
	url := strings.TrimSpace(cfg.Ollama.URL)
	if url == "" {
		url = "http://localhost:11434"
	}
	return url, nil
}

// EmbeddingProvider returns the configured embedding provider name.
func EmbeddingProvider() string {
	cfg := loadConfigSafe()
	p := strings.TrimSpace(cfg.Embedding.Provider)
	if p == "" {
		return "none"
	}
	return p
}

// EmbeddingProviderConfig returns the full embedding provider configuration.
func EmbeddingProviderConfig() EmbeddingConfig {
	cfg := loadConfigSafe()
	return cfg.Embedding
}

func loadConfigSafe() *Config {
	cfg, err := LoadConfig()
	if err != nil {
		return DefaultConfig()
	}
	return cfg
}
