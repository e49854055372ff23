package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsWhenMissing(t *testing.T) {
	homeDir := t.TempDir()
	c := &Config{HomeDir: homeDir, File: defaultFileConfig()}
	if err := c.loadFile(); err != nil {
		t.Fatalf("loadFile returned error: %v", err)
	}
	if c.File.Version != 1 {
		t.Fatalf("expected default version == 1, got %d", c.File.Version)
	}
	if c.BaseURL() != defaultBaseURL {
		t.Fatalf("expected base url %q, got %q", defaultBaseURL, c.BaseURL())
	}
	if got := c.ExcusedReasons(); len(got) != len(DefaultExcusedReasons) {
		t.Fatalf("expected %d reasons, got %v", len(DefaultExcusedReasons), got)
	}
}

func TestInitHomeDirWritesParsableConfig(t *testing.T) {
	homeDir := t.TempDir()
	if err := InitHomeDir(homeDir); err != nil {
		t.Fatalf("init home dir: %v", err)
	}
	for _, dir := range []string{"logs", "state"} {
		if info, err := os.Stat(filepath.Join(homeDir, dir)); err != nil || !info.IsDir() {
			t.Fatalf("expected %s directory, err=%v", dir, err)
		}
	}
	c := &Config{HomeDir: homeDir, File: defaultFileConfig()}
	if err := c.loadFile(); err != nil {
		t.Fatalf("default config must parse: %v", err)
	}
	if c.Timeout() != 10*time.Second {
		t.Fatalf("timeout = %s, want 10s", c.Timeout())
	}
	if c.File.Sandbox.Port != defaultSandboxPort {
		t.Fatalf("sandbox port = %d, want %d", c.File.Sandbox.Port, defaultSandboxPort)
	}
}

func TestLoadParsesYaml(t *testing.T) {
	homeDir := t.TempDir()
	configYAML := strings.TrimSpace(`
version: 1
api:
  base_url: https://portal.example.ac.jp/api/
  timeout: 3s
attendance:
  default_type: 遅刻
  excused_reasons: [その他, 面接, 面接, 就職説明会]
  warning_rate: 75
`)
	if err := os.WriteFile(filepath.Join(homeDir, "config.yaml"), []byte(configYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	c := &Config{HomeDir: homeDir, File: defaultFileConfig()}
	if err := c.loadFile(); err != nil {
		t.Fatalf("loadFile returned error: %v", err)
	}
	if c.BaseURL() != "https://portal.example.ac.jp/api" {
		t.Fatalf("expected trailing slash trimmed, got %s", c.BaseURL())
	}
	if c.Timeout() != 3*time.Second {
		t.Fatalf("timeout = %s, want 3s", c.Timeout())
	}
	if c.DefaultApplicationType() != "遅刻" {
		t.Fatalf("default type = %s", c.DefaultApplicationType())
	}
	want := []string{"面接", "就職説明会", "その他"}
	got := c.ExcusedReasons()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("reasons = %v, want %v", got, want)
	}
	if c.WarningRate() != 75 {
		t.Fatalf("warning rate = %v, want 75", c.WarningRate())
	}
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"relative url": "api:\n  base_url: /api\n",
		"bad type":     "attendance:\n  default_type: 出席\n",
		"bad rate":     "attendance:\n  warning_rate: 120\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			homeDir := t.TempDir()
			if err := os.WriteFile(filepath.Join(homeDir, "config.yaml"), []byte(body), 0o644); err != nil {
				t.Fatal(err)
			}
			c := &Config{HomeDir: homeDir, File: defaultFileConfig()}
			if err := c.loadFile(); err == nil {
				t.Fatalf("expected validation error but got none")
			}
		})
	}
}

func TestLoadHonorsEnv(t *testing.T) {
	homeDir := t.TempDir()
	t.Setenv("CAMPUS_API_URL", "http://127.0.0.1:9999/api/")
	t.Setenv("CAMPUS_API_TIMEOUT", "250ms")
	t.Setenv("CAMPUS_SANDBOX_PORT", "6001")
	cfg, err := Load(homeDir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BaseURL() != "http://127.0.0.1:9999/api" {
		t.Fatalf("expected env base url, got %s", cfg.BaseURL())
	}
	if cfg.Timeout() != 250*time.Millisecond {
		t.Fatalf("timeout = %s", cfg.Timeout())
	}
	if cfg.File.Sandbox.Port != 6001 {
		t.Fatalf("sandbox port = %d", cfg.File.Sandbox.Port)
	}
	if cfg.SessionPath() != filepath.Join(homeDir, "state", "session.json") {
		t.Fatalf("unexpected session path %s", cfg.SessionPath())
	}
}

func TestResolveHomePrefersExplicitThenEnv(t *testing.T) {
	envDir := t.TempDir()
	t.Setenv("CAMPUS_HOME", envDir)
	got, err := ResolveHome("")
	if err != nil {
		t.Fatal(err)
	}
	if got != envDir {
		t.Fatalf("ResolveHome() = %s, want %s", got, envDir)
	}
	explicit := t.TempDir()
	got, err = ResolveHome(explicit)
	if err != nil {
		t.Fatal(err)
	}
	if got != explicit {
		t.Fatalf("ResolveHome(explicit) = %s, want %s", got, explicit)
	}
}
