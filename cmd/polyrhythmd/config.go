package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the polyrhythm daemon.
//
// Keep defaults and validation centralized so the rest of the code can assume
// a well-formed config.
type Config struct {
	Module  ModuleFileConfig  `yaml:"module"`
	Player  PlayerFileConfig  `yaml:"player"`
	Clock   ClockConfig       `yaml:"clock"`
	Bomb    BombConfig        `yaml:"bomb"`
	Daemon  DaemonConfig      `yaml:"daemon"`
	Input   InputConfig       `yaml:"input"`
	IPC     IPCConfig         `yaml:"ipc"`
	HTTP    HTTPConfig        `yaml:"http"`
	Journal JournalFileConfig `yaml:"journal"`
	Logging LoggingConfig     `yaml:"logging"`
}

type ModuleFileConfig struct {
	SubmitWindowSec    float64 `yaml:"submit_window_sec"`
	AutomationActive   bool    `yaml:"automation_active"`
	AutomationBonusSec float64 `yaml:"automation_bonus_sec"`
	MinBeats           int     `yaml:"min_beats"`
	MaxBeats           int     `yaml:"max_beats"`
	MinDurationScale   float64 `yaml:"min_duration_scale"`
	MaxDurationScale   float64 `yaml:"max_duration_scale"`
	FeedbackPulseSec   float64 `yaml:"feedback_pulse_sec"`
	SolveBPM           float64 `yaml:"solve_bpm"`
	ReplayCooldownSec  float64 `yaml:"replay_cooldown_sec"`

	// Seed fixes the round generator. Zero picks a random seed.
	Seed uint64 `yaml:"seed,omitempty"`
}

type PlayerFileConfig struct {
	BeatPulseSec       float64 `yaml:"beat_pulse_sec"`
	Ambient            bool    `yaml:"ambient"`
	AmbientMinBeats    int     `yaml:"ambient_min_beats"`
	AmbientMaxBeats    int     `yaml:"ambient_max_beats"`
	AmbientWindowSec   float64 `yaml:"ambient_window_sec"`
	AmbientCooldownSec float64 `yaml:"ambient_cooldown_sec"`
}

// ClockConfig selects where the bomb clock comes from.
type ClockConfig struct {
	Source   string  `yaml:"source"` // "local" or "remote"
	CountsUp bool    `yaml:"counts_up"`
	StartSec float64 `yaml:"start_sec"`
}

const (
	ClockSourceLocal  = "local"
	ClockSourceRemote = "remote"
)

type BombConfig struct {
	WsURL     string `yaml:"ws_url"`
	TimeoutMS int    `yaml:"timeout_ms"`
	PollHz    int    `yaml:"poll_hz"`
}

type DaemonConfig struct {
	UpdateHz int `yaml:"update_hz"`
}

type InputConfig struct {
	Devices []string `yaml:"devices,omitempty"`
	KeyCode uint16   `yaml:"key_code"`
}

type IPCConfig struct {
	SocketPath     string `yaml:"socket_path"`
	ReplyTimeoutMS int    `yaml:"reply_timeout_ms"`
}

type HTTPConfig struct {
	// Port 0 disables the HTTP server (state websocket and journal API).
	Port int `yaml:"port"`
}

type JournalFileConfig struct {
	// Path of the SQLite database. Empty disables the journal.
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go.
func DefaultConfig() Config {
	return Config{
		Module: ModuleFileConfig{
			SubmitWindowSec:    defaultSubmitWindowSec,
			AutomationBonusSec: defaultAutomationBonusSec,
			MinBeats:           defaultMinBeats,
			MaxBeats:           defaultMaxBeats,
			MinDurationScale:   defaultMinDurationScale,
			MaxDurationScale:   defaultMaxDurationScale,
			FeedbackPulseSec:   defaultFeedbackPulseSec,
			SolveBPM:           defaultSolveBPM,
			ReplayCooldownSec:  defaultReplayCooldownSec,
		},
		Player: PlayerFileConfig{
			BeatPulseSec:       defaultBeatPulseSec,
			AmbientMinBeats:    defaultAmbientMinBeats,
			AmbientMaxBeats:    defaultAmbientMaxBeats,
			AmbientWindowSec:   defaultAmbientWindowSec,
			AmbientCooldownSec: defaultAmbientCooldownSec,
		},
		Clock: ClockConfig{
			Source:   ClockSourceLocal,
			StartSec: defaultClockStartSec,
		},
		Bomb: BombConfig{
			WsURL:     "ws://127.0.0.1:4321",
			TimeoutMS: defaultReadTimeoutMS,
			PollHz:    defaultBombPollHz,
		},
		Daemon: DaemonConfig{
			UpdateHz: defaultUpdateHz,
		},
		Input: InputConfig{
			KeyCode: KEY_SPACE,
		},
		IPC: IPCConfig{
			SocketPath:     "/tmp/polyrhythmd.sock",
			ReplyTimeoutMS: defaultIPCReplyTimeout,
		},
		HTTP: HTTPConfig{
			Port: 3002,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of DefaultConfig.
//
// Notes:
//   - Unknown fields are rejected (helps catch typos) via KnownFields(true).
//   - Only one YAML document is allowed.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return parseConfig(b)
}

func parseConfig(b []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		// An empty file (or one holding only comments) keeps the defaults.
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace and comments may follow the document. Any second document fails
	// here, including one that would not decode into an empty struct.
	var trailing yaml.Node
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides holds flag values to apply on top of a loaded config.
// Each override is only applied if its pointer is non-nil.
type FlagOverrides struct {
	InputDevice *string

	ClockSource   *string
	ClockCountsUp *bool
	ClockStartSec *float64

	BombWsURL     *string
	BombTimeoutMS *int

	UpdateHz *int

	AutomationActive *bool
	Ambient          *bool
	Seed             *uint64

	IPCSocketPath *string
	HTTPPort      *int
	JournalPath   *string

	LogLevel *string
}

// Apply merges the overrides into cfg. If an override pointer is nil, it is ignored.
// If the pointer is non-nil, the value is applied (even if it is a “zero value”).
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.InputDevice != nil {
		if *o.InputDevice == "" {
			cfg.Input.Devices = nil
		} else {
			cfg.Input.Devices = []string{*o.InputDevice}
		}
	}

	if o.ClockSource != nil {
		cfg.Clock.Source = *o.ClockSource
	}
	if o.ClockCountsUp != nil {
		cfg.Clock.CountsUp = *o.ClockCountsUp
	}
	if o.ClockStartSec != nil {
		cfg.Clock.StartSec = *o.ClockStartSec
	}

	if o.BombWsURL != nil {
		cfg.Bomb.WsURL = *o.BombWsURL
	}
	if o.BombTimeoutMS != nil {
		cfg.Bomb.TimeoutMS = *o.BombTimeoutMS
	}

	if o.UpdateHz != nil {
		cfg.Daemon.UpdateHz = *o.UpdateHz
	}

	if o.AutomationActive != nil {
		cfg.Module.AutomationActive = *o.AutomationActive
	}
	if o.Ambient != nil {
		cfg.Player.Ambient = *o.Ambient
	}
	if o.Seed != nil {
		cfg.Module.Seed = *o.Seed
	}

	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.HTTPPort != nil {
		cfg.HTTP.Port = *o.HTTPPort
	}
	if o.JournalPath != nil {
		cfg.Journal.Path = *o.JournalPath
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// This is intended to be called after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	// Module
	if c.Module.SubmitWindowSec <= 0 {
		return errors.New("module.submit_window_sec must be > 0")
	}
	if c.Module.AutomationBonusSec < 0 {
		return errors.New("module.automation_bonus_sec must be >= 0")
	}
	if c.Module.MinBeats < 1 {
		return errors.New("module.min_beats must be >= 1")
	}
	if c.Module.MaxBeats <= c.Module.MinBeats {
		return errors.New("module.max_beats must be > module.min_beats")
	}
	if c.Module.MaxBeats-c.Module.MinBeats > 9 {
		// Encodings are beat counts mod 10; a wider range would make two counts share a digit.
		return errors.New("module.max_beats - module.min_beats must be <= 9")
	}
	if c.Module.MinDurationScale <= 0 {
		return errors.New("module.min_duration_scale must be > 0")
	}
	if c.Module.MaxDurationScale < c.Module.MinDurationScale {
		return errors.New("module.max_duration_scale must be >= module.min_duration_scale")
	}
	if c.Module.FeedbackPulseSec <= 0 {
		return errors.New("module.feedback_pulse_sec must be > 0")
	}
	if c.Module.SolveBPM <= 0 {
		return errors.New("module.solve_bpm must be > 0")
	}
	if c.Module.ReplayCooldownSec < 0 {
		return errors.New("module.replay_cooldown_sec must be >= 0")
	}

	// Player
	if c.Player.BeatPulseSec <= 0 {
		return errors.New("player.beat_pulse_sec must be > 0")
	}
	if c.Player.AmbientMinBeats < 1 {
		return errors.New("player.ambient_min_beats must be >= 1")
	}
	if c.Player.AmbientMaxBeats <= c.Player.AmbientMinBeats {
		return errors.New("player.ambient_max_beats must be > player.ambient_min_beats")
	}
	if c.Player.AmbientWindowSec <= 0 {
		return errors.New("player.ambient_window_sec must be > 0")
	}
	if c.Player.AmbientCooldownSec < 0 {
		return errors.New("player.ambient_cooldown_sec must be >= 0")
	}

	// Clock / bomb
	switch c.Clock.Source {
	case ClockSourceLocal:
	case ClockSourceRemote:
		if c.Bomb.WsURL == "" {
			return errors.New("bomb.ws_url must not be empty when clock.source is remote")
		}
	default:
		return fmt.Errorf("clock.source must be %q or %q", ClockSourceLocal, ClockSourceRemote)
	}
	if c.Bomb.TimeoutMS <= 0 {
		return errors.New("bomb.timeout_ms must be > 0")
	}
	if c.Bomb.PollHz <= 0 || c.Bomb.PollHz > 1000 {
		return errors.New("bomb.poll_hz must be between 1 and 1000")
	}

	// Daemon
	if c.Daemon.UpdateHz <= 0 || c.Daemon.UpdateHz > 1000 {
		return errors.New("daemon.update_hz must be between 1 and 1000")
	}

	// Input
	for i, dev := range c.Input.Devices {
		if dev == "" {
			return fmt.Errorf("input.devices[%d] is empty", i)
		}
	}

	// IPC
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}
	if c.IPC.ReplyTimeoutMS <= 0 {
		return errors.New("ipc.reply_timeout_ms must be > 0")
	}

	// HTTP
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.New("http.port must be between 0 and 65535")
	}

	// Logging
	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

// ToModuleConfig converts file config into the module's internal config.
func (c *Config) ToModuleConfig() ModuleConfig {
	return ModuleConfig{
		SubmitWindowSec:    c.Module.SubmitWindowSec,
		AutomationActive:   c.Module.AutomationActive,
		AutomationBonusSec: c.Module.AutomationBonusSec,
		MinBeats:           c.Module.MinBeats,
		MaxBeats:           c.Module.MaxBeats,
		MinDurationScale:   c.Module.MinDurationScale,
		MaxDurationScale:   c.Module.MaxDurationScale,
		FeedbackPulseSec:   c.Module.FeedbackPulseSec,
		SolveMeasureSec:    60 / c.Module.SolveBPM * 2,
		ReplayCooldownSec:  c.Module.ReplayCooldownSec,
		ClockCountsUp:      c.Clock.CountsUp,
		Ambient:            c.Player.Ambient,
		Player: PlayerConfig{
			BeatPulseSec:       c.Player.BeatPulseSec,
			AmbientMinBeats:    c.Player.AmbientMinBeats,
			AmbientMaxBeats:    c.Player.AmbientMaxBeats,
			AmbientWindowSec:   c.Player.AmbientWindowSec,
			AmbientCooldownSec: c.Player.AmbientCooldownSec,
		},
	}
}

func (c *Config) IPCReplyTimeout() time.Duration {
	return time.Duration(c.IPC.ReplyTimeoutMS) * time.Millisecond
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
