// Package config provides the configuration schema and loader for the
// voxwire audio pipeline.
package config

// LogLevel controls log verbosity for the voxwire process.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for voxwire.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
// All duration-valued fields carry an `_ms` suffix and are expressed in
// milliseconds. Zero-valued tuning fields fall back to the documented
// defaults of the component that consumes them.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Transport  TransportConfig  `yaml:"transport"`
	Audio      AudioConfig      `yaml:"audio"`
	Quality    QualityConfig    `yaml:"quality"`
	Turn       TurnConfig       `yaml:"turn"`
	Resilience ResilienceConfig `yaml:"resilience"`
}

// ServerConfig holds the observability endpoint and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /metrics, /healthz and /readyz
	// (e.g., ":9090").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// TransportConfig describes the streaming connection to the remote speech
// service.
type TransportConfig struct {
	// URL is the WebSocket endpoint of the speech service
	// (e.g., "wss://speech.example.com/v1/stream").
	URL string `yaml:"url"`

	// DialTimeout bounds the initial connection attempt.
	DialTimeoutMS int `yaml:"dial_timeout_ms"`

	// DegradedBitrate is the Opus bitrate in bits/s used while the
	// connection is in degraded mode. Zero keeps the encoder default.
	DegradedBitrate int `yaml:"degraded_bitrate"`
}

// AudioConfig fixes the frame format for all sessions. Frames deviating from
// FrameSize are rejected.
type AudioConfig struct {
	// SampleRate in Hz. Default: 16000.
	SampleRate int `yaml:"sample_rate"`

	// FrameSize is the number of samples per frame. Default: 320 (20 ms at
	// 16 kHz).
	FrameSize int `yaml:"frame_size"`
}

// QualityConfig tunes per-frame quality analysis.
type QualityConfig struct {
	// ClipThreshold is the near-full-scale fraction above which a sample
	// counts as clipped. Default: 0.98.
	ClipThreshold float64 `yaml:"clip_threshold"`

	// ClipLimit is the clipping ratio that forces quality to poor.
	// Default: 0.05.
	ClipLimit float64 `yaml:"clip_limit"`

	// DegradedSNRDB and PoorSNRDB are the downgrade cutoffs in decibels.
	// Defaults: 10 and 3.
	DegradedSNRDB float64 `yaml:"degraded_snr_db"`
	PoorSNRDB     float64 `yaml:"poor_snr_db"`

	// UpgradeMarginDB is the extra SNR required to move back up a level.
	// Default: 3.
	UpgradeMarginDB float64 `yaml:"upgrade_margin_db"`

	// PersistFrames is the consecutive-frame count an SNR-driven level
	// change must persist before committing. Default: 3.
	PersistFrames int `yaml:"persist_frames"`

	// SilenceMarginDB is the margin above the noise floor within which a
	// frame counts as silence. Default: 6.
	SilenceMarginDB float64 `yaml:"silence_margin_db"`

	Noise NoiseConfig `yaml:"noise"`
}

// NoiseConfig tunes the background noise estimator.
type NoiseConfig struct {
	// Alpha is the EMA weight for silence frames. Default: 0.05.
	Alpha float64 `yaml:"alpha"`

	// SeedFrames are absorbed ungated at stream start. Default: 10.
	SeedFrames int `yaml:"seed_frames"`

	// FallbackFloor is the floor energy used when no silence is observed.
	// Default: 0.002.
	FallbackFloor float64 `yaml:"fallback_floor"`

	// SilenceWindow is the frame count without silence before falling back.
	// Default: 150.
	SilenceWindow int `yaml:"silence_window"`

	// StaleAfter invalidates a profile with no silence-confident update for
	// this long. Default: 30000.
	StaleAfterMS int `yaml:"stale_after_ms"`
}

// TurnConfig tunes the voice-turn detector.
type TurnConfig struct {
	// StartDebounceFrames is the consecutive-active run that opens a turn.
	// Default: 3.
	StartDebounceFrames int `yaml:"start_debounce_frames"`

	// EndHold is how long activity must stay absent before a turn
	// completes. Default: 700.
	EndHoldMS int `yaml:"end_hold_ms"`

	// PoorGrace bounds how long an open turn survives suppressed activity
	// during poor quality. Default: 2000.
	PoorGraceMS int `yaml:"poor_grace_ms"`

	// SpeechFloorFactor scales the activity threshold with the noise floor.
	// Default: 3.0.
	SpeechFloorFactor float64 `yaml:"speech_floor_factor"`

	// MinSpeechEnergy is the absolute lower bound on the activity
	// threshold. Default: 0.01.
	MinSpeechEnergy float64 `yaml:"min_speech_energy"`
}

// ResilienceConfig tunes connection-health classification and reconnect
// behaviour.
type ResilienceConfig struct {
	// FailureThreshold is the consecutive-failure count that triggers a
	// reconnect cycle. Default: 3.
	FailureThreshold int `yaml:"failure_threshold"`

	// DegradedRTT is the EWMA round-trip time above which the connection is
	// classified degraded. Default: 300.
	DegradedRTTMS int `yaml:"degraded_rtt_ms"`

	// RTTAlpha is the EWMA weight for RTT samples. Default: 0.2.
	RTTAlpha float64 `yaml:"rtt_alpha"`

	// BufferCapacity bounds the frame queue used while reconnecting.
	// Default: 256.
	BufferCapacity int `yaml:"buffer_capacity"`

	// BackoffBase is the first retry delay; doubles per failed attempt.
	// Default: 500.
	BackoffBaseMS int `yaml:"backoff_base_ms"`

	// BackoffMax caps the retry delay. Default: 30000.
	BackoffMaxMS int `yaml:"backoff_max_ms"`

	// JitterFraction bounds the random jitter added to retry delays, as a
	// fraction of the current delay. Default: 0.2.
	JitterFraction float64 `yaml:"jitter_fraction"`

	// RetryBudget is the number of failed reconnect attempts before the
	// session goes offline for good. Default: 10.
	RetryBudget int `yaml:"retry_budget"`

	// AttemptTimeout bounds a single reconnect attempt. Default: 5000.
	AttemptTimeoutMS int `yaml:"attempt_timeout_ms"`
}
