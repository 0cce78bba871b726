package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(body), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
}

func TestLoad_DefaultWhenMissing(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HistoryCapacity != 50 {
		t.Errorf("HistoryCapacity = %d, want 50", cfg.HistoryCapacity)
	}
	if cfg.SaveDebounce() != 800*time.Millisecond {
		t.Errorf("SaveDebounce() = %v, want 800ms", cfg.SaveDebounce())
	}
	if cfg.AgentModel != DefaultConfig().AgentModel {
		t.Errorf("AgentModel = %q, want %q", cfg.AgentModel, DefaultConfig().AgentModel)
	}
}

func TestLoad_OverridesFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	writeConfig(t, tmpDir, `{"history_capacity": 10, "agent_model": "gpt-4o-mini", "save_debounce_ms": 50}`)

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HistoryCapacity != 10 {
		t.Errorf("HistoryCapacity = %d, want 10", cfg.HistoryCapacity)
	}
	if cfg.AgentModel != "gpt-4o-mini" {
		t.Errorf("AgentModel = %q, want gpt-4o-mini", cfg.AgentModel)
	}
	if cfg.SaveDebounce() != 50*time.Millisecond {
		t.Errorf("SaveDebounce() = %v, want 50ms", cfg.SaveDebounce())
	}
	// Untouched fields keep defaults
	if cfg.AgentTimeoutSeconds != 60 {
		t.Errorf("AgentTimeoutSeconds = %d, want 60", cfg.AgentTimeoutSeconds)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	writeConfig(t, tmpDir, `{not json}`)

	if _, err := Load(tmpDir); err == nil {
		t.Fatalf("Load() expected error, got nil")
	}
}

func TestLoad_DisabledTools(t *testing.T) {
	tmpDir := t.TempDir()
	writeConfig(t, tmpDir, `{"disabled_tools": ["workspace_delete", "workspace_apply"]}`)

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.DisabledTools) != 2 {
		t.Fatalf("DisabledTools length = %d, want 2", len(cfg.DisabledTools))
	}
	if cfg.DisabledTools[0] != "workspace_delete" {
		t.Errorf("DisabledTools[0] = %q, want %q", cfg.DisabledTools[0], "workspace_delete")
	}
}

func TestLoadWithRepo_BothPresent(t *testing.T) {
	globalDir := t.TempDir()
	repoRoot := t.TempDir()

	writeConfig(t, globalDir, `{"history_capacity": 30, "disabled_tools": ["workspace_delete"]}`)
	writeConfig(t, filepath.Join(repoRoot, ".canopy"), `{"history_capacity": 20, "disabled_tools": ["workspace_apply"]}`)

	cfg, err := LoadWithRepo(globalDir, repoRoot)
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}

	if cfg.HistoryCapacity != 20 {
		t.Errorf("HistoryCapacity = %d, want 20 (repo override)", cfg.HistoryCapacity)
	}
	if len(cfg.DisabledTools) != 2 {
		t.Errorf("DisabledTools length = %d, want 2", len(cfg.DisabledTools))
	}
}

func TestLoadWithRepo_NeitherPresent(t *testing.T) {
	cfg, err := LoadWithRepo(t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}

	if cfg.HistoryCapacity != 50 {
		t.Errorf("HistoryCapacity = %d, want 50", cfg.HistoryCapacity)
	}
	if len(cfg.DisabledTools) != 0 {
		t.Errorf("DisabledTools = %v, want empty", cfg.DisabledTools)
	}
}

func TestLoadWithRepo_WalksUpward(t *testing.T) {
	tmpDir := t.TempDir()
	globalDir := t.TempDir()

	writeConfig(t, filepath.Join(tmpDir, ".canopy"), `{"discard_stale_responses": true}`)

	subdir := filepath.Join(tmpDir, "subdir", "deeper")
	if err := os.MkdirAll(subdir, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	cfg, err := LoadWithRepo(globalDir, subdir)
	if err != nil {
		t.Fatalf("LoadWithRepo() error = %v", err)
	}
	if !cfg.DiscardStaleResponses {
		t.Error("DiscardStaleResponses should come from the repo config")
	}
}

func TestFindRepoConfig_NotFound(t *testing.T) {
	if found := FindRepoConfig(t.TempDir()); found != "" {
		t.Errorf("FindRepoConfig() = %q, want empty string", found)
	}
	if found := FindRepoConfig(""); found != "" {
		t.Errorf("FindRepoConfig(\"\") = %q, want empty string", found)
	}
}

func TestMerge_ScalarOverride(t *testing.T) {
	base := &Config{HistoryCapacity: 50, DBMaxOpenConns: 5, AgentModel: "a"}
	overlay := &Config{HistoryCapacity: 10, AgentModel: "  "}

	result := Merge(base, overlay)

	if result.HistoryCapacity != 10 {
		t.Errorf("HistoryCapacity = %d, want 10 (overlay)", result.HistoryCapacity)
	}
	if result.DBMaxOpenConns != 5 {
		t.Errorf("DBMaxOpenConns = %d, want 5 (base, overlay is zero)", result.DBMaxOpenConns)
	}
	if result.AgentModel != "a" {
		t.Errorf("AgentModel = %q, want a (blank overlay ignored)", result.AgentModel)
	}
}

func TestMerge_ArrayMergeDedup(t *testing.T) {
	base := &Config{AllowedPaths: []string{"/a", "/b"}}
	overlay := &Config{AllowedPaths: []string{" /b ", "/c"}}

	result := Merge(base, overlay)

	want := []string{"/a", "/b", "/c"}
	if len(result.AllowedPaths) != len(want) {
		t.Fatalf("AllowedPaths = %v, want %v", result.AllowedPaths, want)
	}
	for i := range want {
		if result.AllowedPaths[i] != want[i] {
			t.Errorf("AllowedPaths[%d] = %q, want %q", i, result.AllowedPaths[i], want[i])
		}
	}
}

func TestAPIKey_Fallback(t *testing.T) {
	t.Setenv("CANOPY_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "sk-fallback")

	cfg := DefaultConfig()
	if got := cfg.APIKey(); got != "sk-fallback" {
		t.Errorf("APIKey() = %q, want sk-fallback", got)
	}

	t.Setenv("CANOPY_API_KEY", "sk-primary")
	if got := cfg.APIKey(); got != "sk-primary" {
		t.Errorf("APIKey() = %q, want sk-primary", got)
	}
}

func TestLevel(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Level() != logrus.WarnLevel {
		t.Errorf("Level() = %v, want warn", cfg.Level())
	}
	cfg.LogLevel = "debug"
	if cfg.Level() != logrus.DebugLevel {
		t.Errorf("Level() = %v, want debug", cfg.Level())
	}
	cfg.LogLevel = "nonsense"
	if cfg.Level() != logrus.WarnLevel {
		t.Errorf("Level() = %v, want warn fallback", cfg.Level())
	}
}
