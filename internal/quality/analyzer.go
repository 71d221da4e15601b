package quality

import (
	"fmt"
	"math"

	"github.com/voxwire/voxwire/pkg/audio"
)

// Default analyzer parameters. The SNR cutoffs are policy defaults tuned for
// 16 kHz speech; production deployments override them in configuration.
const (
	defaultFrameSize       = 320
	defaultSampleRate      = 16000
	defaultClipThreshold   = 0.98
	defaultClipLimit       = 0.05
	defaultDegradedSNRdB   = 10
	defaultPoorSNRdB       = 3
	defaultUpgradeMarginDB = 3
	defaultPersistFrames   = 3
	defaultSilenceMarginDB = 6
)

// Level is the coarse per-frame quality classification.
type Level int

const (
	// LevelGood means the frame is clean enough for recognition.
	LevelGood Level = iota

	// LevelDegraded means elevated noise; recognition may suffer.
	LevelDegraded

	// LevelPoor means the frame is unusable — heavy noise or clipping. The
	// voice-turn detector suppresses activity detection at this level.
	LevelPoor
)

// String returns the human-readable name of the level.
func (l Level) String() string {
	switch l {
	case LevelGood:
		return "good"
	case LevelDegraded:
		return "degraded"
	case LevelPoor:
		return "poor"
	default:
		return "unknown"
	}
}

// Metrics is the per-frame output of the analyzer. It is an immutable value;
// the analyzer retains nothing beyond the rolling counters it needs for
// hysteresis.
type Metrics struct {
	// Seq is the sequence number of the analysed frame.
	Seq uint64

	// Energy is the RMS energy of the frame, normalised to [0, 1].
	Energy float64

	// SNRdB is the estimated signal-to-noise ratio relative to the current
	// noise floor, clamped to ≥ 0 (silence never reports negative SNR).
	SNRdB float64

	// ClippingRatio is the fraction of samples at or above the configured
	// near-full-scale threshold.
	ClippingRatio float64

	// Level is the quality classification after hysteresis.
	Level Level

	// IsSilence is the provisional silence classification fed back into the
	// noise estimator: energy within a small margin of the noise floor.
	IsSilence bool
}

// AnalyzerConfig holds tuning knobs for the [Analyzer]. Zero-value fields
// are replaced with defaults.
type AnalyzerConfig struct {
	// FrameSize is the expected number of samples per frame. Frames of any
	// other length are rejected with [audio.ErrInvalidFrameSize].
	// Default: 320 (20 ms at 16 kHz).
	FrameSize int

	// SampleRate is the expected sample rate in Hz. Default: 16000.
	SampleRate int

	// ClipThreshold is the near-full-scale magnitude, as a fraction of full
	// scale, above which a sample counts as clipped. Default: 0.98.
	ClipThreshold float64

	// ClipLimit is the clipping ratio above which the frame is classified
	// poor regardless of SNR — clipping is unrecoverable distortion and must
	// dominate the decision. Default: 0.05.
	ClipLimit float64

	// DegradedSNRdB is the SNR below which quality degrades from good.
	// Default: 10.
	DegradedSNRdB float64

	// PoorSNRdB is the SNR below which quality degrades to poor. Default: 3.
	PoorSNRdB float64

	// UpgradeMarginDB is added to the downgrade thresholds when moving back
	// up, so borderline frames cannot oscillate the level. Default: 3.
	UpgradeMarginDB float64

	// PersistFrames is how many consecutive frames an SNR-driven level
	// change must persist before it is committed. Default: 3.
	PersistFrames int

	// SilenceMarginDB is the margin above the noise floor within which a
	// frame is provisionally classified as silence for the estimator.
	// Default: 6.
	SilenceMarginDB float64

	// Noise configures the owned noise floor estimator.
	Noise EstimatorConfig
}

// Analyzer computes per-frame quality metrics for one stream. It owns the
// stream's [Estimator] and is its only caller. Not safe for concurrent use —
// frames are processed strictly in capture order on one goroutine.
type Analyzer struct {
	cfg           AnalyzerConfig
	est           *Estimator
	silenceFactor float64 // linear energy factor for SilenceMarginDB

	level        Level
	candidate    Level
	candidateRun int
}

// NewAnalyzer creates an [Analyzer], replacing zero-value config fields with
// defaults.
func NewAnalyzer(cfg AnalyzerConfig) *Analyzer {
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = defaultFrameSize
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.ClipThreshold <= 0 || cfg.ClipThreshold > 1 {
		cfg.ClipThreshold = defaultClipThreshold
	}
	if cfg.ClipLimit <= 0 {
		cfg.ClipLimit = defaultClipLimit
	}
	if cfg.DegradedSNRdB <= 0 {
		cfg.DegradedSNRdB = defaultDegradedSNRdB
	}
	if cfg.PoorSNRdB <= 0 {
		cfg.PoorSNRdB = defaultPoorSNRdB
	}
	if cfg.UpgradeMarginDB <= 0 {
		cfg.UpgradeMarginDB = defaultUpgradeMarginDB
	}
	if cfg.PersistFrames <= 0 {
		cfg.PersistFrames = defaultPersistFrames
	}
	if cfg.SilenceMarginDB <= 0 {
		cfg.SilenceMarginDB = defaultSilenceMarginDB
	}
	return &Analyzer{
		cfg:           cfg,
		est:           NewEstimator(cfg.Noise),
		silenceFactor: math.Pow(10, cfg.SilenceMarginDB/20),
	}
}

// Analyze computes quality metrics for one frame and feeds the provisional
// silence classification back into the noise estimator — its only external
// effect. A frame whose length deviates from the configured frame size is
// rejected with [audio.ErrInvalidFrameSize] and updates no state.
func (a *Analyzer) Analyze(frame audio.Frame) (Metrics, error) {
	if len(frame.Samples) != a.cfg.FrameSize {
		return Metrics{}, fmt.Errorf("quality: frame %d has %d samples, configured frame size is %d: %w",
			frame.Seq, len(frame.Samples), a.cfg.FrameSize, audio.ErrInvalidFrameSize)
	}

	energy := audio.RMS(frame.Samples)
	clip := audio.ClippedRatio(frame.Samples, a.cfg.ClipThreshold)
	floor := a.est.Current().FloorEnergy

	// Provisional silence: energy within a small margin of the noise floor.
	// An all-zero frame is trivially silence.
	silence := energy <= floor*a.silenceFactor

	a.est.Update(frame, silence)

	// SNR relative to the updated floor, clamped so silence (energy at or
	// below the floor) reads 0 dB rather than dividing toward -inf.
	floor = a.est.Current().FloorEnergy
	snr := 0.0
	if floor > 0 && energy > floor {
		snr = 20 * math.Log10(energy/floor)
	}

	level := a.classify(snr, clip, silence)

	return Metrics{
		Seq:           frame.Seq,
		Energy:        energy,
		SNRdB:         snr,
		ClippingRatio: clip,
		Level:         level,
		IsSilence:     silence,
	}, nil
}

// classify maps SNR and clipping to a quality level. Clipping above the
// limit forces poor immediately; SNR-driven changes pass through two-sided
// hysteresis and must persist for PersistFrames consecutive frames.
func (a *Analyzer) classify(snr, clip float64, silence bool) Level {
	if clip > a.cfg.ClipLimit {
		a.level = LevelPoor
		a.candidate = LevelPoor
		a.candidateRun = 0
		return a.level
	}

	// Silence frames exert no pressure on the level: low energy relative to
	// the floor is expected between utterances, not a quality problem.
	if silence {
		a.candidate = a.level
		a.candidateRun = 0
		return a.level
	}

	target := a.targetLevel(snr)
	if target == a.level {
		a.candidate = a.level
		a.candidateRun = 0
		return a.level
	}
	if target != a.candidate {
		a.candidate = target
		a.candidateRun = 0
	}
	a.candidateRun++
	if a.candidateRun >= a.cfg.PersistFrames {
		a.level = a.candidate
		a.candidateRun = 0
	}
	return a.level
}

// targetLevel applies the hysteresis thresholds relative to the current
// level: downgrades use the base cutoffs, upgrades require the cutoff plus
// the upgrade margin.
func (a *Analyzer) targetLevel(snr float64) Level {
	up := a.cfg.UpgradeMarginDB
	switch a.level {
	case LevelGood:
		switch {
		case snr < a.cfg.PoorSNRdB:
			return LevelPoor
		case snr < a.cfg.DegradedSNRdB:
			return LevelDegraded
		default:
			return LevelGood
		}
	case LevelDegraded:
		switch {
		case snr < a.cfg.PoorSNRdB:
			return LevelPoor
		case snr >= a.cfg.DegradedSNRdB+up:
			return LevelGood
		default:
			return LevelDegraded
		}
	default: // LevelPoor
		switch {
		case snr >= a.cfg.DegradedSNRdB+up:
			return LevelGood
		case snr >= a.cfg.PoorSNRdB+up:
			return LevelDegraded
		default:
			return LevelPoor
		}
	}
}

// NoiseProfile returns a snapshot of the owned noise estimate. The
// voice-turn detector scales its speech threshold with the floor energy.
func (a *Analyzer) NoiseProfile() NoiseProfile {
	return a.est.Current()
}

// Level returns the current committed quality level.
func (a *Analyzer) Level() Level {
	return a.level
}

// Reset clears all rolling state, including the noise profile. Use on
// explicit stream restart.
func (a *Analyzer) Reset() {
	a.est.Reset()
	a.level = LevelGood
	a.candidate = LevelGood
	a.candidateRun = 0
}
