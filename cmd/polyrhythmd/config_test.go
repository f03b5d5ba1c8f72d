package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestParseConfig_OverlaysDefaults(t *testing.T) {
	cfg, err := parseConfig([]byte(`
module:
  submit_window_sec: 20
  seed: 42
clock:
  source: remote
  counts_up: true
bomb:
  ws_url: ws://bomb.local:4321
input:
  devices: [/dev/input/event5]
logging:
  level: debug
`))
	if err != nil {
		t.Fatalf("parseConfig: %v", err)
	}
	if cfg.Module.SubmitWindowSec != 20 || cfg.Module.Seed != 42 {
		t.Fatalf("unexpected module section %+v", cfg.Module)
	}
	if cfg.Module.MaxBeats != defaultMaxBeats {
		t.Fatalf("expected unspecified fields to keep defaults, got max_beats=%d", cfg.Module.MaxBeats)
	}
	if cfg.Clock.Source != ClockSourceRemote || !cfg.Clock.CountsUp {
		t.Fatalf("unexpected clock section %+v", cfg.Clock)
	}
	if cfg.Bomb.WsURL != "ws://bomb.local:4321" || cfg.Bomb.PollHz != defaultBombPollHz {
		t.Fatalf("unexpected bomb section %+v", cfg.Bomb)
	}
	if len(cfg.Input.Devices) != 1 || cfg.Input.KeyCode != KEY_SPACE {
		t.Fatalf("unexpected input section %+v", cfg.Input)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestParseConfig_RejectsUnknownFields(t *testing.T) {
	_, err := parseConfig([]byte("module:\n  submit_windw_sec: 3\n"))
	if err == nil {
		t.Fatalf("expected error for a misspelled field")
	}
}

func TestParseConfig_RejectsTrailingDocument(t *testing.T) {
	_, err := parseConfig([]byte("logging:\n  level: info\n---\nlogging:\n  level: debug\n"))
	if err == nil || !strings.Contains(err.Error(), "trailing document") {
		t.Fatalf("expected trailing document error, got %v", err)
	}
}

func TestParseConfig_TrailingCommentsAndEmptyFile(t *testing.T) {
	cfg, err := parseConfig([]byte("logging:\n  level: debug\n# trailing note\n"))
	if err != nil {
		t.Fatalf("expected trailing comments to be accepted, got %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected level debug, got %q", cfg.Logging.Level)
	}

	cfg, err = parseConfig([]byte("# nothing configured\n"))
	if err != nil {
		t.Fatalf("expected an empty file to keep defaults, got %v", err)
	}
	if cfg.Daemon.UpdateHz != DefaultConfig().Daemon.UpdateHz {
		t.Fatalf("expected default update_hz, got %d", cfg.Daemon.UpdateHz)
	}
}

func TestParseConfig_RejectsAnyTrailingDocument(t *testing.T) {
	for _, doc := range []string{
		"http:\n  port: 0\n---\nhttp:\n  port: 8080\n",
		"http:\n  port: 0\n---\n- a\n- b\n",
		"http:\n  port: 0\n---\nplain\n",
	} {
		if _, err := parseConfig([]byte(doc)); err == nil || !strings.Contains(err.Error(), "trailing document") {
			t.Fatalf("expected trailing document error for %q, got %v", doc, err)
		}
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "polyrhythmd.yaml")
	if err := os.WriteFile(path, []byte("http:\n  port: 0\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.HTTP.Port != 0 {
		t.Fatalf("expected http disabled, got port %d", cfg.HTTP.Port)
	}

	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for a missing file")
	}
	if _, err := LoadConfigFile(""); err == nil {
		t.Fatalf("expected error for an empty path")
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"submit window", func(c *Config) { c.Module.SubmitWindowSec = 0 }, "submit_window_sec"},
		{"beat order", func(c *Config) { c.Module.MaxBeats = c.Module.MinBeats }, "max_beats must be >"},
		{"beat range", func(c *Config) { c.Module.MinBeats, c.Module.MaxBeats = 1, 11 }, "<= 9"},
		{"duration scale", func(c *Config) { c.Module.MaxDurationScale = 0.1 }, "max_duration_scale"},
		{"clock source", func(c *Config) { c.Clock.Source = "sundial" }, "clock.source"},
		{"remote url", func(c *Config) { c.Clock.Source = ClockSourceRemote; c.Bomb.WsURL = "" }, "bomb.ws_url"},
		{"update hz", func(c *Config) { c.Daemon.UpdateHz = 0 }, "update_hz"},
		{"empty device", func(c *Config) { c.Input.Devices = []string{""} }, "input.devices[0]"},
		{"socket path", func(c *Config) { c.IPC.SocketPath = "" }, "socket_path"},
		{"http port", func(c *Config) { c.HTTP.Port = 70000 }, "http.port"},
		{"log level", func(c *Config) { c.Logging.Level = "chatty" }, "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestFlagOverrides_Apply(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Input.Devices = []string{"/dev/input/event1"}

	src := ClockSourceRemote
	up := true
	seed := uint64(9)
	port := 0
	empty := ""
	FlagOverrides{
		ClockSource:   &src,
		ClockCountsUp: &up,
		Seed:          &seed,
		HTTPPort:      &port,
		InputDevice:   &empty,
	}.Apply(&cfg)

	if cfg.Clock.Source != ClockSourceRemote || !cfg.Clock.CountsUp {
		t.Fatalf("expected clock overrides applied, got %+v", cfg.Clock)
	}
	if cfg.Module.Seed != 9 {
		t.Fatalf("expected seed 9, got %d", cfg.Module.Seed)
	}
	if cfg.HTTP.Port != 0 {
		t.Fatalf("expected zero-valued override to apply, got %d", cfg.HTTP.Port)
	}
	if cfg.Input.Devices != nil {
		t.Fatalf("expected empty device to clear devices, got %v", cfg.Input.Devices)
	}
	if cfg.Daemon.UpdateHz != defaultUpdateHz {
		t.Fatalf("expected untouched fields to stay, got update_hz=%d", cfg.Daemon.UpdateHz)
	}
}

func TestToModuleConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Clock.CountsUp = true
	cfg.Player.Ambient = true

	mc := cfg.ToModuleConfig()
	if mc.SolveMeasureSec != 1.2 {
		t.Fatalf("expected a 1.2s measure at 100 BPM, got %v", mc.SolveMeasureSec)
	}
	if !mc.ClockCountsUp || !mc.Ambient {
		t.Fatalf("expected clock direction and ambient carried over, got %+v", mc)
	}
	if mc.Player.AmbientWindowSec != defaultAmbientWindowSec {
		t.Fatalf("expected player config carried over, got %+v", mc.Player)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandPath("~/journal.db"); got != filepath.Join(home, "journal.db") {
		t.Fatalf("unexpected expansion %q", got)
	}
	if got := ExpandPath("/var/lib/x.db"); got != "/var/lib/x.db" {
		t.Fatalf("expected absolute path unchanged, got %q", got)
	}
}
