package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vaakya.yaml")

	yaml := `
listen:
  port: 9090
model:
  base_url: http://model:11434
  name: test-model
  token_budget: 4096
  max_rounds: 3
workspace:
  roots:
    - /home/user/Documents
  write_extensions: [".txt", ".md"]
search:
  provider: searxng
  searxng_url: http://localhost:8888
  max_results: 3
apps:
  match_threshold: 55
log_level: debug
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Listen.Port != 9090 {
		t.Errorf("Listen.Port = %d, want 9090", cfg.Listen.Port)
	}
	if cfg.Model.Name != "test-model" {
		t.Errorf("Model.Name = %q, want test-model", cfg.Model.Name)
	}
	if cfg.Model.TokenBudget != 4096 {
		t.Errorf("Model.TokenBudget = %d, want 4096", cfg.Model.TokenBudget)
	}
	if cfg.Model.MaxRounds != 3 {
		t.Errorf("Model.MaxRounds = %d, want 3", cfg.Model.MaxRounds)
	}
	if len(cfg.Workspace.Roots) != 1 || cfg.Workspace.Roots[0] != "/home/user/Documents" {
		t.Errorf("Workspace.Roots = %v", cfg.Workspace.Roots)
	}
	if cfg.Search.Provider != "searxng" {
		t.Errorf("Search.Provider = %q, want searxng", cfg.Search.Provider)
	}
	if cfg.Apps.MatchThreshold != 55 {
		t.Errorf("Apps.MatchThreshold = %d, want 55", cfg.Apps.MatchThreshold)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vaakya.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Listen.Port != 8080 {
		t.Errorf("default Listen.Port = %d, want 8080", cfg.Listen.Port)
	}
	if cfg.Model.TokenBudget != 8192 {
		t.Errorf("default TokenBudget = %d, want 8192", cfg.Model.TokenBudget)
	}
	if cfg.Model.MaxRounds != 8 {
		t.Errorf("default MaxRounds = %d, want 8", cfg.Model.MaxRounds)
	}
	if cfg.Apps.MatchThreshold != 40 {
		t.Errorf("default MatchThreshold = %d, want 40", cfg.Apps.MatchThreshold)
	}
	if cfg.Search.MaxResults != 5 {
		t.Errorf("default MaxResults = %d, want 5", cfg.Search.MaxResults)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("VAAKYA_TEST_ROOT", "/tmp/vaakya-ws")

	dir := t.TempDir()
	path := filepath.Join(dir, "vaakya.yaml")
	yaml := "workspace:\n  roots: [\"${VAAKYA_TEST_ROOT}\"]\n"
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Workspace.Roots) != 1 || cfg.Workspace.Roots[0] != "/tmp/vaakya-ws" {
		t.Errorf("Workspace.Roots = %v, want [/tmp/vaakya-ws]", cfg.Workspace.Roots)
	}
}

func TestFindConfigExplicitMissing(t *testing.T) {
	_, err := FindConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"INFO", slog.LevelInfo, false},
		{"trace", LevelTrace, false},
		{"debug", slog.LevelDebug, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"  debug  ", slog.LevelDebug, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestReplaceLogLevelNames(t *testing.T) {
	attr := ReplaceLogLevelNames(nil, slog.Attr{
		Key:   slog.LevelKey,
		Value: slog.AnyValue(LevelTrace),
	})
	if got := attr.Value.String(); got != "TRACE" {
		t.Errorf("trace level rendered as %q, want TRACE", got)
	}

	// Standard levels and unrelated keys pass through unchanged.
	attr = ReplaceLogLevelNames(nil, slog.Attr{
		Key:   slog.LevelKey,
		Value: slog.AnyValue(slog.LevelWarn),
	})
	if got := attr.Value.Any(); got != slog.LevelWarn {
		t.Errorf("warn level rewritten to %v", got)
	}
	attr = ReplaceLogLevelNames(nil, slog.Attr{Key: "msg", Value: slog.StringValue("x")})
	if got := attr.Value.String(); got != "x" {
		t.Errorf("unrelated attr rewritten to %q", got)
	}
}
