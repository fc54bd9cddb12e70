package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"
)

func TestNewParser(t *testing.T) {
	p, err := NewParser()
	if err != nil {
		t.Fatalf("NewParser failed: %v", err)
	}
	defer p.Close()

	if p == nil {
		t.Error("NewParser returned nil")
	}
}

// wantTestdata checks the settings shared by testdata/cpumon.conf and
// testdata/cpumon.lua.
func wantTestdata(t *testing.T, cfg *Config) {
	t.Helper()

	if cfg.Monitor.UpdateInterval != 500*time.Millisecond {
		t.Errorf("update interval = %v, want 500ms", cfg.Monitor.UpdateInterval)
	}
	if cfg.Monitor.Source != "procfs" {
		t.Errorf("source = %q, want procfs", cfg.Monitor.Source)
	}
	if !cfg.Monitor.PerCore {
		t.Error("expected per_core = true")
	}
	if cfg.Processes.TopCount != 5 {
		t.Errorf("top count = %d, want 5", cfg.Processes.TopCount)
	}
	if cfg.Processes.RefreshInterval != 2*time.Second {
		t.Errorf("refresh interval = %v, want 2s", cfg.Processes.RefreshInterval)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != LogFormatJSON {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.MetricsAddr != "127.0.0.1:9100" {
		t.Errorf("metrics addr = %q", cfg.MetricsAddr)
	}
	if cfg.Remote.Host != "db1.example.com" || cfg.Remote.User != "ops" || !cfg.Remote.UseAgent {
		t.Errorf("remote = %+v", cfg.Remote)
	}
	if cfg.Remote.Port != DefaultRemotePort {
		t.Errorf("remote port = %d, want default %d", cfg.Remote.Port, DefaultRemotePort)
	}
}

func TestParseFileFormatsAgree(t *testing.T) {
	p, err := NewParser()
	if err != nil {
		t.Fatalf("NewParser failed: %v", err)
	}
	defer p.Close()

	legacy, err := p.ParseFile(filepath.Join("testdata", "cpumon.conf"))
	if err != nil {
		t.Fatalf("legacy ParseFile failed: %v", err)
	}
	lua, err := p.ParseFile(filepath.Join("testdata", "cpumon.lua"))
	if err != nil {
		t.Fatalf("Lua ParseFile failed: %v", err)
	}

	wantTestdata(t, legacy)
	wantTestdata(t, lua)
	if *legacy != *lua {
		t.Errorf("formats disagree:\nlegacy: %+v\nlua:    %+v", legacy, lua)
	}
}

func TestParserParseLegacy(t *testing.T) {
	p, err := NewParser()
	if err != nil {
		t.Fatalf("NewParser failed: %v", err)
	}
	defer p.Close()

	content := `# Legacy config
update_interval 2
unknown_setting whatever
remote_password "  spaced  "
`
	cfg, err := p.Parse([]byte(content))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Monitor.UpdateInterval != 2*time.Second {
		t.Errorf("update interval = %v", cfg.Monitor.UpdateInterval)
	}
	if cfg.Remote.Password != "  spaced  " {
		t.Errorf("quoted value = %q", cfg.Remote.Password)
	}
	if cfg.Processes.TopCount != DefaultTopCount {
		t.Errorf("unset top count = %d, want default", cfg.Processes.TopCount)
	}
}

func TestParserParseLegacyErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad interval", "update_interval soon", "line 1"},
		{"bad count", "# header\ntop_processes ten", "line 2"},
		{"bad log level", "log_level chatty", "unknown log level"},
		{"bad log format", "log_format xml", "unknown log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLegacyParser().Parse([]byte(tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestParserParseLua(t *testing.T) {
	p, err := NewParser()
	if err != nil {
		t.Fatalf("NewParser failed: %v", err)
	}
	defer p.Close()

	content := `
cpumon.config = {
    update_interval = 1.5,
    remote_host = 'flat',
    remote_port = 2222,
    remote = { host = 'nested' },
}
`
	cfg, err := p.Parse([]byte(content))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Monitor.UpdateInterval != 1500*time.Millisecond {
		t.Errorf("update interval = %v", cfg.Monitor.UpdateInterval)
	}
	if cfg.Remote.Host != "nested" {
		t.Errorf("nested remote table should win, got %q", cfg.Remote.Host)
	}
	if cfg.Remote.Port != 2222 {
		t.Errorf("remote port = %d", cfg.Remote.Port)
	}
}

func TestParserParseLuaDoesNotLeakBetweenCalls(t *testing.T) {
	p, err := NewLuaConfigParser()
	if err != nil {
		t.Fatalf("NewLuaConfigParser failed: %v", err)
	}
	defer p.Close()

	if _, err := p.Parse([]byte(`cpumon.config = { top_processes = 3 }`)); err != nil {
		t.Fatalf("first Parse failed: %v", err)
	}
	cfg, err := p.Parse([]byte(`cpumon.config = { per_core = true }`))
	if err != nil {
		t.Fatalf("second Parse failed: %v", err)
	}
	if cfg.Processes.TopCount != DefaultTopCount {
		t.Errorf("top count leaked from previous parse: %d", cfg.Processes.TopCount)
	}
}

func TestParserParseLuaErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"syntax error", "cpumon.config = {"},
		{"runtime error", "error('boom')"},
		{"config not a table", "cpumon.config = 5"},
		{"remote not a table", "cpumon.config = { remote = 'x' }"},
		{"bad value", "cpumon.config = { log_level = 'loud' }"},
		{"runaway script", "cpumon.config = {}\nwhile true do end"},
	}

	p, err := NewLuaConfigParser()
	if err != nil {
		t.Fatalf("NewLuaConfigParser failed: %v", err)
	}
	defer p.Close()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := p.Parse([]byte(tt.content)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLuaParserClosed(t *testing.T) {
	p, err := NewLuaConfigParser()
	if err != nil {
		t.Fatalf("NewLuaConfigParser failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if _, err := p.Parse([]byte("cpumon.config = {}")); err == nil {
		t.Error("expected error parsing with closed parser")
	}
}

func TestIsLuaConfig(t *testing.T) {
	tests := []struct {
		content string
		want    bool
	}{
		{"cpumon.config = {}", true},
		{"  cpumon.config={}", true},
		{"# cpumon.config = {} mentioned in a comment", false},
		{"update_interval 1", false},
	}

	for _, tt := range tests {
		if got := isLuaConfig([]byte(tt.content)); got != tt.want {
			t.Errorf("isLuaConfig(%q) = %v, want %v", tt.content, got, tt.want)
		}
	}
}

func TestParseFromFS(t *testing.T) {
	fsys := fstest.MapFS{
		"etc/cpumon.conf": &fstest.MapFile{Data: []byte("top_processes 7\n")},
	}

	p, err := NewParser()
	if err != nil {
		t.Fatalf("NewParser failed: %v", err)
	}
	defer p.Close()

	cfg, err := p.ParseFromFS(fsys, "etc/cpumon.conf")
	if err != nil {
		t.Fatalf("ParseFromFS failed: %v", err)
	}
	if cfg.Processes.TopCount != 7 {
		t.Errorf("top count = %d, want 7", cfg.Processes.TopCount)
	}

	if _, err := p.ParseFromFS(fsys, "missing"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestParseReader(t *testing.T) {
	p, err := NewParser()
	if err != nil {
		t.Fatalf("NewParser failed: %v", err)
	}
	defer p.Close()

	cfg, err := p.ParseReader(strings.NewReader("cpumon.config = { top_processes = 4 }"), "lua")
	if err != nil {
		t.Fatalf("ParseReader lua failed: %v", err)
	}
	if cfg.Processes.TopCount != 4 {
		t.Errorf("top count = %d, want 4", cfg.Processes.TopCount)
	}

	cfg, err = p.ParseReader(strings.NewReader("top_processes 6"), "")
	if err != nil {
		t.Fatalf("ParseReader auto failed: %v", err)
	}
	if cfg.Processes.TopCount != 6 {
		t.Errorf("top count = %d, want 6", cfg.Processes.TopCount)
	}

	if _, err := p.ParseReader(strings.NewReader(""), "yaml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cpumon.conf")
	content := "update_interval ${TEST_CPUMON_INTERVAL:-3}\ntop_processes 2\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CPUMON_TOP_PROCESSES", "8")

	cfg, warnings, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
	if cfg.Monitor.UpdateInterval != 3*time.Second {
		t.Errorf("update interval = %v, want default from expansion", cfg.Monitor.UpdateInterval)
	}
	if cfg.Processes.TopCount != 8 {
		t.Errorf("environment override should win, got %d", cfg.Processes.TopCount)
	}
}

func TestParserSetEnviron(t *testing.T) {
	t.Setenv("TEST_CPUMON_HOST", "from-process")

	p, err := NewParser()
	if err != nil {
		t.Fatalf("NewParser failed: %v", err)
	}
	defer p.Close()

	environ := map[string]string{"TEST_CPUMON_HOST": "from-environ", "CPUMON_REMOTE_USER": "${TEST_CPUMON_HOST}"}
	p.SetEnviron(environ)

	inputs := map[string]string{
		"legacy": "remote_host ${TEST_CPUMON_HOST}\n",
		"lua":    "cpumon.config = { remote = { host = '${TEST_CPUMON_HOST}' } }\n",
	}
	for name, content := range inputs {
		cfg, err := p.Parse([]byte(content))
		if err != nil {
			t.Fatalf("%s: Parse failed: %v", name, err)
		}
		if cfg.Remote.Host != "from-environ" {
			t.Errorf("%s: remote host = %q, want value from injected environ", name, cfg.Remote.Host)
		}

		if err := ApplyEnvOverrides(cfg, environ); err != nil {
			t.Fatalf("%s: ApplyEnvOverrides failed: %v", name, err)
		}
		if cfg.Remote.User != "from-environ" {
			t.Errorf("%s: override references should expand from environ, got %q", name, cfg.Remote.User)
		}
	}

	p.SetEnviron(nil)
	cfg, err := p.Parse([]byte(inputs["legacy"]))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Remote.Host != "from-process" {
		t.Errorf("nil environ should read the process environment, got %q", cfg.Remote.Host)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Monitor.UpdateInterval != DefaultUpdateInterval {
		t.Errorf("update interval = %v", cfg.Monitor.UpdateInterval)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, _, err := Load(filepath.Join(t.TempDir(), "missing.conf")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.conf")
	if err := os.WriteFile(path, []byte("update_interval 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Load(path); err == nil {
		t.Error("expected validation error for zero interval")
	}
}

func TestFinalizeReturnsWarnings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Remote.Host = "ignored"

	got, warnings, err := Finalize(&cfg, map[string]string{})
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if got != &cfg {
		t.Error("Finalize should return the config it was given")
	}
	if len(warnings) != 1 || warnings[0].Field != "remote.host" {
		t.Errorf("warnings = %v", warnings)
	}
}

func TestKnownKey(t *testing.T) {
	if !KnownKey("UPDATE_INTERVAL") {
		t.Error("keys are case-insensitive")
	}
	if KnownKey("own_window") {
		t.Error("own_window is not a cpumon setting")
	}
}
