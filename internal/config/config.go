package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds application configuration.
type Config struct {
	// HistoryCapacity bounds the number of retained tree snapshots.
	HistoryCapacity int `json:"history_capacity"`

	// SaveDebounceMillis is the quiet period after the last mutation before
	// the tree is written to the store.
	SaveDebounceMillis int `json:"save_debounce_ms"`

	// AgentModel is the model name sent to the agent provider.
	AgentModel string `json:"agent_model"`

	// AgentBaseURL overrides the provider endpoint (OpenAI-compatible gateways).
	AgentBaseURL string `json:"agent_base_url,omitempty"`

	// AgentAPIKeyEnv names the environment variable holding the API key.
	// OPENAI_API_KEY is consulted when the named variable is empty.
	AgentAPIKeyEnv string `json:"agent_api_key_env"`

	// AgentTimeoutSeconds bounds a single agent request.
	AgentTimeoutSeconds int `json:"agent_timeout_seconds"`

	// DiscardStaleResponses drops agent responses that arrive after a newer
	// request was issued. Off by default: the latest arriving response wins.
	DiscardStaleResponses bool `json:"discard_stale_responses,omitempty"`

	// LogLevel is a logrus level name ("debug", "info", "warn", "error").
	LogLevel string `json:"log_level"`

	// AllowedPaths is an allowlist of directories for import/export operations.
	// Paths outside ~/.canopy/exports require either being in this list or AllowUnsafePaths=true.
	// Paths should be absolute (relative paths are ignored).
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for export.
	// Symlink and extension checks still apply.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		HistoryCapacity:     50,
		SaveDebounceMillis:  800,
		AgentModel:          "gpt-4o",
		AgentAPIKeyEnv:      "CANOPY_API_KEY",
		AgentTimeoutSeconds: 60,
		LogLevel:            "warn",
	}
}

// SaveDebounce returns the save quiet period as a duration.
func (c *Config) SaveDebounce() time.Duration {
	return time.Duration(c.SaveDebounceMillis) * time.Millisecond
}

// AgentTimeout returns the agent request timeout as a duration.
func (c *Config) AgentTimeout() time.Duration {
	return time.Duration(c.AgentTimeoutSeconds) * time.Second
}

// APIKey resolves the agent API key from the environment.
func (c *Config) APIKey() string {
	if c.AgentAPIKeyEnv != "" {
		if v := strings.TrimSpace(os.Getenv(c.AgentAPIKeyEnv)); v != "" {
			return v
		}
	}
	return strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
}

// Level parses LogLevel, falling back to warn for unknown names.
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.WarnLevel
	}
	return lvl
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.canopy.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.canopy) and repo (.canopy) directories.
// Repo config is found by walking upward from startDir to find the nearest .canopy/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .canopy/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	if startDir == "" {
		return ""
	}
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".canopy", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.HistoryCapacity = firstInt(overlay.HistoryCapacity, base.HistoryCapacity)
	result.SaveDebounceMillis = firstInt(overlay.SaveDebounceMillis, base.SaveDebounceMillis)
	result.AgentTimeoutSeconds = firstInt(overlay.AgentTimeoutSeconds, base.AgentTimeoutSeconds)
	result.DBMaxOpenConns = firstInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = firstInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	result.AgentModel = firstString(overlay.AgentModel, base.AgentModel)
	result.AgentBaseURL = firstString(overlay.AgentBaseURL, base.AgentBaseURL)
	result.AgentAPIKeyEnv = firstString(overlay.AgentAPIKeyEnv, base.AgentAPIKeyEnv)
	result.LogLevel = firstString(overlay.LogLevel, base.LogLevel)

	// Booleans: overlay wins if true, else base
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths
	result.DiscardStaleResponses = base.DiscardStaleResponses || overlay.DiscardStaleResponses

	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

func firstInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func firstString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, list := range [][]string{a, b} {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s != "" && !seen[s] {
				seen[s] = true
				result = append(result, s)
			}
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
