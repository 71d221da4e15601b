package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. Zero values
// are allowed everywhere a component default exists; only actively wrong
// settings fail. It returns a joined error listing all failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Transport.URL != "" &&
		!strings.HasPrefix(cfg.Transport.URL, "ws://") &&
		!strings.HasPrefix(cfg.Transport.URL, "wss://") {
		errs = append(errs, fmt.Errorf("transport.url %q must be a ws:// or wss:// endpoint", cfg.Transport.URL))
	}
	if cfg.Transport.DialTimeoutMS < 0 {
		errs = append(errs, errors.New("transport.dial_timeout_ms must not be negative"))
	}

	if cfg.Audio.SampleRate < 0 {
		errs = append(errs, errors.New("audio.sample_rate must not be negative"))
	}
	if cfg.Audio.FrameSize < 0 {
		errs = append(errs, errors.New("audio.frame_size must not be negative"))
	}

	q := cfg.Quality
	if q.ClipThreshold < 0 || q.ClipThreshold > 1 {
		errs = append(errs, fmt.Errorf("quality.clip_threshold %.3f is out of range [0, 1]", q.ClipThreshold))
	}
	if q.ClipLimit < 0 || q.ClipLimit > 1 {
		errs = append(errs, fmt.Errorf("quality.clip_limit %.3f is out of range [0, 1]", q.ClipLimit))
	}
	if q.DegradedSNRDB != 0 && q.PoorSNRDB != 0 && q.PoorSNRDB >= q.DegradedSNRDB {
		errs = append(errs, fmt.Errorf("quality.poor_snr_db %.1f must be below quality.degraded_snr_db %.1f", q.PoorSNRDB, q.DegradedSNRDB))
	}
	if q.Noise.Alpha < 0 || q.Noise.Alpha > 1 {
		errs = append(errs, fmt.Errorf("quality.noise.alpha %.3f is out of range [0, 1]", q.Noise.Alpha))
	}

	turn := cfg.Turn
	if turn.EndHoldMS < 0 || turn.PoorGraceMS < 0 {
		errs = append(errs, errors.New("turn durations must not be negative"))
	}
	if turn.EndHoldMS != 0 && cfg.Audio.FrameSize != 0 && cfg.Audio.SampleRate != 0 {
		frameMS := 1000 * cfg.Audio.FrameSize / cfg.Audio.SampleRate
		if frameMS > 0 && turn.EndHoldMS < frameMS*turn.StartDebounceFrames {
			slog.Warn("turn.end_hold_ms is shorter than the start debounce; turns may end faster than they can begin",
				"end_hold_ms", turn.EndHoldMS,
				"debounce_frames", turn.StartDebounceFrames,
			)
		}
	}

	res := cfg.Resilience
	if res.JitterFraction < 0 || res.JitterFraction >= 1 {
		errs = append(errs, fmt.Errorf("resilience.jitter_fraction %.2f is out of range [0, 1)", res.JitterFraction))
	}
	if res.BackoffBaseMS != 0 && res.BackoffMaxMS != 0 && res.BackoffMaxMS < res.BackoffBaseMS {
		errs = append(errs, fmt.Errorf("resilience.backoff_max_ms %d must not be below backoff_base_ms %d", res.BackoffMaxMS, res.BackoffBaseMS))
	}
	if res.RetryBudget < 0 {
		errs = append(errs, errors.New("resilience.retry_budget must not be negative"))
	}

	return errors.Join(errs...)
}
