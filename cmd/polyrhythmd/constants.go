package main

// Linux input event types and codes (from <linux/input.h>)
const (
	EV_KEY = 0x01

	KEY_SPACE = 57
)

// Input event value constants
const (
	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)

// Round defaults
const (
	defaultSubmitWindowSec    = 12.0 // Submission window on the bomb clock (s)
	defaultAutomationBonusSec = 10.0 // Extra window when remote automation is active (s)
	defaultMinBeats           = 2
	defaultMaxBeats           = 11
	defaultMinDurationScale   = 0.25 // Round duration = max(beats) * scale
	defaultMaxDurationScale   = 0.5
	defaultFeedbackPulseSec   = 0.5
	defaultSolveBPM           = 100.0 // Solve animation: one measure = 2 beats at this tempo
	defaultReplayCooldownSec  = 0.05
)

// Player defaults
const (
	defaultBeatPulseSec       = 0.2
	defaultAmbientMinBeats    = 2
	defaultAmbientMaxBeats    = 9
	defaultAmbientWindowSec   = 4.0
	defaultAmbientCooldownSec = 6.0
)

// Daemon defaults
const (
	defaultUpdateHz        = 60     // Tick frequency (Hz)
	defaultReadTimeoutMS   = 500    // Timeout for bomb websocket responses (ms)
	defaultBombPollHz      = 10     // Bomb time refresh rate (Hz)
	defaultClockStartSec   = 300.0  // Local clock start value (s)
	defaultIPCReplyTimeout = 120000 // How long IPC waits for an automation action (ms)
	defaultEventQueueSize  = 64
	defaultBroadcastQueue  = 512
)
