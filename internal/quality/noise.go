// Package quality estimates per-frame audio quality: a running background
// noise profile, signal-to-noise ratio, clipping detection, and a coarse
// quality level with hysteresis. It is the first stage of the voxwire
// pipeline; the voice-turn detector and resilience controller both key off
// its output.
package quality

import (
	"time"

	"github.com/voxwire/voxwire/pkg/audio"
)

// Default noise estimator parameters.
const (
	defaultAlpha         = 0.05
	defaultSeedFrames    = 10
	defaultFallbackFloor = 0.002
	defaultSilenceWindow = 150
	defaultStaleAfter    = 30 * time.Second
)

// NoiseProfile is a snapshot of the background-noise estimate. Values are
// only written by the [Estimator]; readers get a copy.
type NoiseProfile struct {
	// FloorEnergy is the exponentially weighted RMS energy of background
	// noise, normalised to [0, 1].
	FloorEnergy float64

	// Flatness is a spectral-flatness-like indicator in [0, 1] derived from
	// the zero-crossing rate of noise frames. High values mean broadband
	// noise, low values mean tonal interference (hum, whine).
	Flatness float64

	// UpdatedAt is the capture time of the last frame that adjusted the
	// estimate.
	UpdatedAt time.Time

	// Seeded reports whether the estimate has absorbed at least one frame
	// since the last reset. Before seeding, FloorEnergy holds the fallback
	// floor constant so dependent computations stay defined.
	Seeded bool
}

// EstimatorConfig holds tuning knobs for the noise floor estimator.
type EstimatorConfig struct {
	// Alpha is the EMA weight applied to silence frames. Small values give
	// the slow time constant (tens of frames) the profile needs to ignore
	// short transients. Default: 0.05.
	Alpha float64

	// SeedFrames is the number of frames at session start absorbed without
	// silence gating, on the assumption that a stream opens with ambience
	// rather than speech. Default: 10.
	SeedFrames int

	// FallbackFloor is the floor energy used when no silence has been
	// observed, so SNR and adaptive thresholds never divide by an undefined
	// floor. Default: 0.002.
	FallbackFloor float64

	// SilenceWindow is the number of frames after seeding without a single
	// silence-classified frame before the estimate falls back to
	// FallbackFloor. Default: 150.
	SilenceWindow int

	// StaleAfter invalidates the profile when no silence-confident update
	// has happened for this long; the estimator resets and re-seeds.
	// Default: 30s.
	StaleAfter time.Duration
}

// Estimator maintains the running noise profile for one stream. It is the
// single writer of its [NoiseProfile]; the analyzer reads snapshots via
// [Estimator.Current]. Not safe for concurrent use — the pipeline processes
// frames strictly in order on one goroutine.
type Estimator struct {
	cfg EstimatorConfig

	profile           NoiseProfile
	framesSeen        int
	framesSinceSilent int
	lastSilent        time.Time
}

// NewEstimator creates an [Estimator], replacing zero-value config fields
// with defaults.
func NewEstimator(cfg EstimatorConfig) *Estimator {
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		cfg.Alpha = defaultAlpha
	}
	if cfg.SeedFrames <= 0 {
		cfg.SeedFrames = defaultSeedFrames
	}
	if cfg.FallbackFloor <= 0 {
		cfg.FallbackFloor = defaultFallbackFloor
	}
	if cfg.SilenceWindow <= 0 {
		cfg.SilenceWindow = defaultSilenceWindow
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	e := &Estimator{cfg: cfg}
	e.Reset()
	return e
}

// Update feeds one frame into the estimate. isLikelySilence is the caller's
// provisional classification; during speech the average is frozen so it does
// not adapt to voice energy. Update never fails — in the worst case the
// estimate degrades to the fallback floor.
func (e *Estimator) Update(frame audio.Frame, isLikelySilence bool) NoiseProfile {
	now := frame.Captured

	// Stale profile: the silence-confidence condition has not been met for
	// the configured duration, so the estimate no longer describes the
	// current acoustic environment. Re-seed from scratch.
	if e.profile.Seeded && !e.lastSilent.IsZero() && now.Sub(e.lastSilent) > e.cfg.StaleAfter {
		e.Reset()
	}

	seeding := e.framesSeen < e.cfg.SeedFrames
	e.framesSeen++

	if seeding || isLikelySilence {
		energy := audio.RMS(frame.Samples)
		zcr := audio.ZeroCrossingRate(frame.Samples)
		if !e.profile.Seeded {
			e.profile.FloorEnergy = energy
			e.profile.Flatness = zcr
			e.profile.Seeded = true
		} else {
			a := e.cfg.Alpha
			e.profile.FloorEnergy = (1-a)*e.profile.FloorEnergy + a*energy
			e.profile.Flatness = (1-a)*e.profile.Flatness + a*zcr
		}
		e.profile.UpdatedAt = now
		if isLikelySilence || seeding {
			e.lastSilent = now
			e.framesSinceSilent = 0
		}
		return e.profile
	}

	// Speech frame: freeze the average.
	e.framesSinceSilent++
	if e.framesSinceSilent >= e.cfg.SilenceWindow {
		// No silence observed for a whole window — the seed estimate likely
		// captured speech. Fall back to the fixed floor constant so SNR and
		// adaptive thresholds remain meaningful.
		e.profile.FloorEnergy = e.cfg.FallbackFloor
		e.profile.UpdatedAt = now
		e.framesSinceSilent = 0
	}
	return e.profile
}

// Current returns a snapshot of the noise profile.
func (e *Estimator) Current() NoiseProfile {
	return e.profile
}

// Reset clears the estimate, e.g. on explicit stream restart. The floor
// holds the fallback constant until the next frames re-seed it.
func (e *Estimator) Reset() {
	e.profile = NoiseProfile{FloorEnergy: e.cfg.FallbackFloor}
	e.framesSeen = 0
	e.framesSinceSilent = 0
	e.lastSilent = time.Time{}
}
