package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	embeddedconfig "github.com/inercia/analyst/config"
)

func TestParse_YAML(t *testing.T) {
	data := `
server:
  url: "https://analyst.example.com"
  timeout: 90s
chat:
  mode: http
  model: gpt-4o
  max_continuations: 20
  continue_rate: 2.5
log:
  level: debug
`
	cfg, err := Parse([]byte(data), FormatYAML)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Server.URL != "https://analyst.example.com" {
		t.Errorf("Server.URL = %q", cfg.Server.URL)
	}
	if cfg.Server.Timeout != 90*time.Second {
		t.Errorf("Server.Timeout = %v, want 90s", cfg.Server.Timeout)
	}
	if cfg.Chat.Mode != ModeHTTP {
		t.Errorf("Chat.Mode = %q, want http", cfg.Chat.Mode)
	}
	if cfg.Chat.Model != "gpt-4o" {
		t.Errorf("Chat.Model = %q", cfg.Chat.Model)
	}
	if cfg.Chat.MaxContinuations != 20 {
		t.Errorf("Chat.MaxContinuations = %d, want 20", cfg.Chat.MaxContinuations)
	}
	if cfg.Chat.ContinueRate != 2.5 {
		t.Errorf("Chat.ContinueRate = %v, want 2.5", cfg.Chat.ContinueRate)
	}
	if !cfg.Chat.CheckContinue {
		t.Error("Chat.CheckContinue should keep its default")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if got := cfg.ImageBaseURL(); got != "https://analyst.example.com/image" {
		t.Errorf("ImageBaseURL = %q", got)
	}
}

func TestParse_TOML(t *testing.T) {
	data := `
[server]
url = "http://10.0.0.5:8000"
image_base = "http://cdn.example.com/plots"
timeout = "30s"

[chat]
mode = "socket"
check_continue = false
`
	cfg, err := Parse([]byte(data), FormatTOML)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Server.URL != "http://10.0.0.5:8000" {
		t.Errorf("Server.URL = %q", cfg.Server.URL)
	}
	if cfg.Server.Timeout != 30*time.Second {
		t.Errorf("Server.Timeout = %v", cfg.Server.Timeout)
	}
	if cfg.Chat.CheckContinue {
		t.Error("Chat.CheckContinue should be false")
	}
	if got := cfg.ImageBaseURL(); got != "http://cdn.example.com/plots" {
		t.Errorf("ImageBaseURL = %q", got)
	}
}

func TestParse_EmptyUsesDefaults(t *testing.T) {
	cfg, err := Parse(nil, FormatYAML)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	def := Default()
	if cfg.Server.URL != def.Server.URL || cfg.Chat.Mode != def.Chat.Mode {
		t.Errorf("expected defaults, got %+v", cfg)
	}
	if cfg.Chat.ContinueRate != 0 {
		t.Errorf("ContinueRate = %v, want 0 (unpaced)", cfg.Chat.ContinueRate)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"bad yaml", "{{invalid yaml", "failed to parse config"},
		{"bad mode", "chat:\n  mode: carrier-pigeon\n", "invalid chat.mode"},
		{"bad scheme", "server:\n  url: ftp://example.com\n", "scheme must be http or https"},
		{"negative continuations", "chat:\n  max_continuations: -1\n", "max_continuations"},
		{"negative rate", "chat:\n  continue_rate: -3\n", "continue_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), FormatYAML)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestFormatFor(t *testing.T) {
	tests := map[string]Format{
		"config.yaml":     FormatYAML,
		"config.yml":      FormatYAML,
		"config.TOML":     FormatTOML,
		"/etc/analyst.rc": FormatYAML,
	}
	for path, want := range tests {
		if got := FormatFor(path); got != want {
			t.Errorf("FormatFor(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("[chat]\nmodel = \"llama3\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Chat.Model != "llama3" {
		t.Errorf("Chat.Model = %q", cfg.Chat.Model)
	}
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")

	if _, err := Load(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load error = %v, want ErrNotExist", err)
	}

	cfg, err := LoadOrDefault(path)
	if err != nil {
		t.Fatalf("LoadOrDefault failed: %v", err)
	}
	if cfg.Server.URL != DefaultServerURL {
		t.Errorf("Server.URL = %q", cfg.Server.URL)
	}
}

func TestDefaultConfigPath(t *testing.T) {
	t.Setenv(ConfigEnv, "/custom/analyst.yaml")
	if got := DefaultConfigPath(); got != "/custom/analyst.yaml" {
		t.Errorf("DefaultConfigPath = %q", got)
	}

	t.Setenv(ConfigEnv, "")
	if got := DefaultConfigPath(); !strings.HasSuffix(got, filepath.Join("analyst", "config.yaml")) {
		t.Errorf("DefaultConfigPath = %q", got)
	}
}

func TestClone(t *testing.T) {
	cfg := Default()
	cp := cfg.Clone()
	cp.Chat.Model = "other"
	if cfg.Chat.Model == "other" {
		t.Error("Clone should not share state")
	}
}

func TestApply_FlagsOverrideFile(t *testing.T) {
	cfg := Default()
	cfg.Chat.Model = "from-file"

	out, applied := cfg.Apply(Overrides{Model: "from-flag", Mode: ModeHTTP})
	if out.Chat.Model != "from-flag" || out.Chat.Mode != ModeHTTP {
		t.Errorf("overrides not applied: %+v", out.Chat)
	}
	if cfg.Chat.Model != "from-file" {
		t.Error("Apply should not modify the receiver")
	}
	if len(applied) != 2 {
		t.Errorf("applied = %v, want 2 keys", applied)
	}

	same, applied := cfg.Apply(Overrides{})
	if same.Chat.Model != "from-file" || len(applied) != 0 {
		t.Errorf("empty overrides changed config: %+v %v", same.Chat, applied)
	}
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()

	r, err := Resolve(filepath.Join(dir, "none.yaml"), Overrides{ServerURL: "http://backend:9000"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if r.Source != SourceDefault {
		t.Errorf("Source = %q, want default", r.Source)
	}
	if r.Server.URL != "http://backend:9000" {
		t.Errorf("Server.URL = %q", r.Server.URL)
	}

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("chat:\n  mode: http\n"), 0644); err != nil {
		t.Fatal(err)
	}
	r, err = Resolve(path, Overrides{})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if r.Source != SourceFile || r.Chat.Mode != ModeHTTP {
		t.Errorf("unexpected resolve result: %+v", r)
	}

	if _, err := Resolve(path, Overrides{Mode: "bogus"}); err == nil {
		t.Error("expected validation error for an invalid mode flag")
	}

	if err := os.WriteFile(path, []byte("chat:\n  mode: bogus\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Resolve(path, Overrides{}); err == nil {
		t.Error("expected error for an invalid file")
	}
}

func TestParse_EmbeddedDefault(t *testing.T) {
	cfg, err := Parse(embeddedconfig.DefaultConfigYAML, FormatYAML)
	if err != nil {
		t.Fatalf("embedded default config does not parse: %v", err)
	}
	def := Default()
	if cfg.Server != def.Server || cfg.Chat != def.Chat {
		t.Errorf("embedded defaults differ from Default():\n got %+v\nwant %+v", cfg, def)
	}
}
