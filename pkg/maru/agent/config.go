// Package agent – config.go defines all configuration for the Maru
// assistant. Config is loaded from YAML with environment overrides; .env
// files are honoured for local development.
package agent

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all assistant configuration.
type Config struct {
	// Name is the assistant name shown in responses.
	Name string `yaml:"name"`

	// Model is the primary LLM model.
	Model string `yaml:"model"`

	// SmallModel handles summaries, heartbeats and other cheap calls.
	SmallModel string `yaml:"small_model"`

	// Instructions are the base system prompt instructions.
	Instructions string `yaml:"instructions"`

	// Timezone is the user's timezone.
	Timezone string `yaml:"timezone"`

	// Language is the preferred response language.
	Language string `yaml:"language"`

	// DataDir is the workspace root for all persisted state.
	DataDir string `yaml:"data_dir"`

	// API configures the LLM provider endpoint.
	API APIConfig `yaml:"api"`

	// Telegram configures the chat channel.
	Telegram TelegramConfig `yaml:"telegram"`

	// Access configures who may talk to the bot.
	Access AccessConfig `yaml:"access"`

	// Sandbox configures filesystem and shell restrictions.
	Sandbox SandboxConfig `yaml:"sandbox"`

	// Memory configures retrieval.
	Memory MemoryConfig `yaml:"memory"`

	// Heartbeat configures the proactive heartbeat worker.
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`

	// Briefing configures the daily briefing worker.
	Briefing BriefingConfig `yaml:"briefing"`

	// WebSearch configures the search adapter.
	WebSearch WebSearchConfig `yaml:"web_search"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// APIConfig configures the LLM provider.
type APIConfig struct {
	// BaseURL is the OpenAI-compatible API root.
	BaseURL string `yaml:"base_url"`

	// APIKey authenticates requests. Usually injected via MARU_API_KEY.
	APIKey string `yaml:"api_key"`

	// EmbeddingModel is the model used for memory retrieval embeddings.
	EmbeddingModel string `yaml:"embedding_model"`
}

// TelegramConfig configures the Telegram channel.
type TelegramConfig struct {
	// Token is the bot token. Usually injected via MARU_TELEGRAM_TOKEN.
	Token string `yaml:"token"`

	// PollTimeoutSeconds is the long-poll timeout.
	PollTimeoutSeconds int `yaml:"poll_timeout_seconds"`
}

// AccessConfig restricts who can talk to the bot.
type AccessConfig struct {
	// AllowedChats lists chat IDs permitted to use the bot. Empty means
	// nobody; the allow-list is mandatory.
	AllowedChats []int64 `yaml:"allowed_chats"`

	// RateLimit is the max messages per chat in the rate window.
	RateLimit int `yaml:"rate_limit"`

	// RateWindowSeconds is the sliding rate window length.
	RateWindowSeconds int `yaml:"rate_window_seconds"`
}

// SandboxConfig configures filesystem and shell restrictions.
type SandboxConfig struct {
	// AllowedPaths is the filesystem allow-list. Empty defaults to home.
	AllowedPaths []string `yaml:"allowed_paths"`

	// PermissiveShell runs commands through `sh -c` instead of direct exec.
	PermissiveShell bool `yaml:"permissive_shell"`
}

// MemoryConfig configures retrieval.
type MemoryConfig struct {
	// Enabled turns hybrid retrieval on.
	Enabled bool `yaml:"enabled"`

	// MaxResults caps how many memories are injected per turn.
	MaxResults int `yaml:"max_results"`
}

// HeartbeatConfig configures the heartbeat worker defaults.
type HeartbeatConfig struct {
	// IntervalMinutes is the default per-chat heartbeat interval.
	IntervalMinutes int `yaml:"interval_minutes"`

	// ActiveStart and ActiveEnd bound the hours heartbeats may fire.
	ActiveStart int `yaml:"active_start"`
	ActiveEnd   int `yaml:"active_end"`
}

// BriefingConfig configures the daily briefing worker defaults.
type BriefingConfig struct {
	// TimeOfDay is the default local send time, "HH:MM".
	TimeOfDay string `yaml:"time_of_day"`

	// Location is the default weather location for briefings.
	Location string `yaml:"location"`
}

// WebSearchConfig configures the search adapter.
type WebSearchConfig struct {
	// BraveAPIKey enables the Brave Search API. Empty falls back to
	// DuckDuckGo HTML scraping.
	BraveAPIKey string `yaml:"brave_api_key"`

	// MaxResults caps results per query.
	MaxResults int `yaml:"max_results"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`

	// Format is the log format ("json", "text").
	Format string `yaml:"format"`
}

// DefaultConfig returns the default assistant configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:         "Maru",
		Model:        "gpt-4o",
		SmallModel:   "gpt-4o-mini",
		Instructions: "You are 마루 (Maru), a warm and practical personal assistant. Reply in the user's language; default to Korean.",
		Timezone:     "Asia/Seoul",
		Language:     "ko-KR",
		DataDir:      "./data",
		API: APIConfig{
			BaseURL:        "https://api.openai.com/v1",
			EmbeddingModel: "text-embedding-3-small",
		},
		Telegram: TelegramConfig{
			PollTimeoutSeconds: 30,
		},
		Access: AccessConfig{
			RateLimit:         10,
			RateWindowSeconds: 60,
		},
		Memory: MemoryConfig{
			Enabled:    true,
			MaxResults: 3,
		},
		Heartbeat: HeartbeatConfig{
			IntervalMinutes: 30,
			ActiveStart:     9,
			ActiveEnd:       22,
		},
		Briefing: BriefingConfig{
			TimeOfDay: "08:00",
			Location:  "Seoul",
		},
		WebSearch: WebSearchConfig{
			MaxResults: 8,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads YAML config from path (missing file keeps defaults),
// loads a .env file when present, and applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	// .env is optional; silently ignored when absent.
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides maps environment variables onto the config. Environment
// always wins over file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MARU_API_KEY"); v != "" {
		cfg.API.APIKey = v
	}
	if v := os.Getenv("MARU_API_BASE_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("MARU_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("MARU_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("MARU_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("MARU_ALLOWED_CHATS"); v != "" {
		cfg.Access.AllowedChats = parseChatList(v)
	}
	if v := os.Getenv("MARU_ALLOWED_PATHS"); v != "" {
		cfg.Sandbox.AllowedPaths = splitList(v)
	}
	if v := os.Getenv("BRAVE_API_KEY"); v != "" {
		cfg.WebSearch.BraveAPIKey = v
	}
}

// parseChatList parses a comma-separated list of chat IDs, skipping
// anything that does not parse as an integer.
func parseChatList(v string) []int64 {
	var out []int64
	for _, part := range splitList(v) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
