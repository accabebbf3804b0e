package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var envKeys = []string{
	"TB_IDLE_TIMEOUT", "TB_MAX_TIME", "TB_POLL_INTERVAL", "TB_GRACE",
	"TB_FIRST", "TB_LAST", "TB_TASK_HEIGHT", "TB_PROMPT", "TB_REPL_EXIT",
	"TB_LOG_DIR", "TB_LOG_LEVEL", "TB_LOG_FORMAT", "TB_DEBUG",
	"OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_HEADERS",
}

// clearEnv blanks every variable Load reads and moves into an empty
// directory so no .tb.yaml is picked up.
func clearEnv(t *testing.T) string {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.IdleTimeoutDuration != 10*time.Second {
		t.Errorf("IdleTimeout: got %v, want %v", cfg.IdleTimeoutDuration, 10*time.Second)
	}
	if cfg.MaxTimeDuration != 120*time.Second {
		t.Errorf("MaxTime: got %v, want %v", cfg.MaxTimeDuration, 120*time.Second)
	}
	if cfg.PollIntervalDuration != 100*time.Millisecond {
		t.Errorf("PollInterval: got %v, want %v", cfg.PollIntervalDuration, 100*time.Millisecond)
	}
	if cfg.GraceDuration != 3*time.Second {
		t.Errorf("Grace: got %v, want %v", cfg.GraceDuration, 3*time.Second)
	}
	if cfg.First != 50 || cfg.Last != 50 {
		t.Errorf("First/Last: got %d/%d, want 50/50", cfg.First, cfg.Last)
	}
	if cfg.TaskHeight != 5 {
		t.Errorf("TaskHeight: got %d, want %d", cfg.TaskHeight, 5)
	}
	if cfg.ReplExit != "" {
		t.Errorf("ReplExit: got %q, want empty (EOF)", cfg.ReplExit)
	}
	if cfg.ConfigFile != "" {
		t.Errorf("ConfigFile: got %q, want empty", cfg.ConfigFile)
	}
}

func TestParseSeconds(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"empty returns fallback", "", 7 * time.Second, false},
		{"integer seconds", "30", 30 * time.Second, false},
		{"fractional seconds", "1.5", 1500 * time.Millisecond, false},
		{"go duration", "2m", 2 * time.Minute, false},
		{"milliseconds", "500ms", 500 * time.Millisecond, false},
		{"zero rejected", "0", 0, true},
		{"negative rejected", "-5", 0, true},
		{"invalid", "soon", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSeconds(tt.input, 7*time.Second)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSeconds(%q): error = %v, wantErr = %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseSeconds(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := clearEnv(t)
	content := `idle_timeout: 5
max_time: "10m"
poll_interval: 250ms
first: 20
last: 30
task_height: 8
prompt: '>>> $'
repl_exit: exit()
log_level: debug
`
	if err := os.WriteFile(filepath.Join(dir, ".tb.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.ConfigFile != ".tb.yaml" {
		t.Errorf("ConfigFile: got %q, want %q", cfg.ConfigFile, ".tb.yaml")
	}
	if cfg.IdleTimeoutDuration != 5*time.Second {
		t.Errorf("IdleTimeout: got %v, want %v", cfg.IdleTimeoutDuration, 5*time.Second)
	}
	if cfg.MaxTimeDuration != 10*time.Minute {
		t.Errorf("MaxTime: got %v, want %v", cfg.MaxTimeDuration, 10*time.Minute)
	}
	if cfg.PollIntervalDuration != 250*time.Millisecond {
		t.Errorf("PollInterval: got %v, want %v", cfg.PollIntervalDuration, 250*time.Millisecond)
	}
	if cfg.First != 20 || cfg.Last != 30 {
		t.Errorf("First/Last: got %d/%d, want 20/30", cfg.First, cfg.Last)
	}
	if cfg.TaskHeight != 8 {
		t.Errorf("TaskHeight: got %d, want %d", cfg.TaskHeight, 8)
	}
	if cfg.Prompt != ">>> $" {
		t.Errorf("Prompt: got %q, want %q", cfg.Prompt, ">>> $")
	}
	if cfg.ReplExit != "exit()" {
		t.Errorf("ReplExit: got %q, want %q", cfg.ReplExit, "exit()")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel: got %q, want %q", cfg.LogLevel, "debug")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := clearEnv(t)
	content := `idle_timeout: 5s
first: 20
`
	if err := os.WriteFile(filepath.Join(dir, ".tb.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("TB_IDLE_TIMEOUT", "42")
	t.Setenv("TB_FIRST", "3")
	t.Setenv("TB_DEBUG", "1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.IdleTimeoutDuration != 42*time.Second {
		t.Errorf("IdleTimeout: got %v, want %v (env should override file)", cfg.IdleTimeoutDuration, 42*time.Second)
	}
	if cfg.First != 3 {
		t.Errorf("First: got %d, want %d (env should override file)", cfg.First, 3)
	}
	if !cfg.Debug {
		t.Errorf("Debug: got false, want true")
	}
}

func TestLoadFile_Explicit(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "custom.yaml")
	if err := os.WriteFile(path, []byte("grace: 1s\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if cfg.GraceDuration != time.Second {
		t.Errorf("Grace: got %v, want %v", cfg.GraceDuration, time.Second)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad idle timeout", "TB_IDLE_TIMEOUT", "never"},
		{"bad first", "TB_FIRST", "many"},
		{"negative last", "TB_LAST", "-1"},
		{"bad poll interval", "TB_POLL_INTERVAL", "fast"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Errorf("Load() with %s=%q: expected error", tt.key, tt.val)
			}
		})
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	dir := clearEnv(t)
	if err := os.WriteFile(filepath.Join(dir, ".tb.yaml"), []byte("first: [oops\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(); err == nil {
		t.Error("expected parse error for malformed config file")
	}
}

func TestLoadFromFile_ZeroBudget(t *testing.T) {
	dir := clearEnv(t)
	if err := os.WriteFile(filepath.Join(dir, ".tb.yaml"), []byte("first: 0\nlast: 2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.First != 0 || cfg.Last != 2 {
		t.Errorf("First/Last: got %d/%d, want 0/2", cfg.First, cfg.Last)
	}
}

func TestLoadFromFile_BudgetKeysAbsentKeepDefaults(t *testing.T) {
	dir := clearEnv(t)
	if err := os.WriteFile(filepath.Join(dir, ".tb.yaml"), []byte("grace: 1s\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.First != 50 || cfg.Last != 50 {
		t.Errorf("First/Last: got %d/%d, want 50/50", cfg.First, cfg.Last)
	}
}
