// Command voxwire runs the client-side audio pipeline: it reads 16-bit PCM
// from stdin, analyses quality, detects voice turns and streams frames to the
// configured speech service with reconnect buffering. Health and metrics are
// served over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voxwire/voxwire/internal/config"
	"github.com/voxwire/voxwire/internal/health"
	"github.com/voxwire/voxwire/internal/observe"
	"github.com/voxwire/voxwire/internal/quality"
	"github.com/voxwire/voxwire/internal/resilience"
	"github.com/voxwire/voxwire/internal/session"
	"github.com/voxwire/voxwire/internal/vad"
	"github.com/voxwire/voxwire/pkg/audio"
	"github.com/voxwire/voxwire/pkg/transport"
	"github.com/voxwire/voxwire/pkg/transport/ws"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	sessionID := flag.String("session", "stdin", "session identifier used in logs and metrics")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxwire: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxwire: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxwire starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"endpoint", cfg.Transport.URL,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "voxwire"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// The transport reports each send outcome back into the session's health
	// tracking; the session does not exist yet when the sender is built, so
	// route results through an atomic indirection.
	var sessRef atomic.Pointer[session.Session]
	sender, err := ws.New(ctx, ws.Config{
		URL:             cfg.Transport.URL,
		DialTimeout:     millis(cfg.Transport.DialTimeoutMS),
		SampleRate:      cfg.Audio.SampleRate,
		DegradedBitrate: cfg.Transport.DegradedBitrate,
		OnResult: func(r transport.Result) {
			if s := sessRef.Load(); s != nil {
				s.OnHealthSample(r.RTT, r.Err == nil)
			}
		},
	})
	if err != nil {
		slog.Error("failed to connect", "err", err, "endpoint", cfg.Transport.URL)
		return 1
	}
	defer sender.Close()

	mgr := session.NewManager(nil)
	sess, err := mgr.Create(sessionConfig(*sessionID, cfg), sender)
	if err != nil {
		slog.Error("failed to create session", "err", err)
		return 1
	}
	sessRef.Store(sess)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.ListenAddr != "" {
		srv := newHTTPServer(cfg.Server.ListenAddr, sess)
		g.Go(func() error {
			slog.Info("serving health and metrics", "addr", cfg.Server.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		// Input exhaustion ends the whole process, not just the feeder.
		defer stop()
		return feedFrames(gctx, sess, cfg)
	})

	slog.Info("pipeline ready — press Ctrl+C to shut down")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		mgr.Remove(*sessionID, false)
		return 1
	}

	slog.Info("stopping, flushing buffered frames")
	mgr.Remove(*sessionID, true)

	h := sess.Health()
	slog.Info("goodbye",
		"mode", h.Mode.String(),
		"frames_dropped", h.FramesDropped,
		"retries", h.RetryCount,
	)
	return 0
}

// feedFrames reads fixed-size PCM frames from stdin and runs them through the
// session until EOF or cancellation.
func feedFrames(ctx context.Context, sess *session.Session, cfg *config.Config) error {
	frameSize := cfg.Audio.FrameSize
	if frameSize <= 0 {
		frameSize = 320
	}
	sampleRate := cfg.Audio.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	buf := make([]byte, frameSize*2)
	var seq uint64

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if _, err := io.ReadFull(os.Stdin, buf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				slog.Info("input stream ended", "frames", seq)
				return nil
			}
			return fmt.Errorf("read stdin: %w", err)
		}

		seq++
		frame := audio.Frame{
			Samples:    audio.BytesToInt16s(buf),
			SampleRate: sampleRate,
			Seq:        seq,
			Captured:   time.Now(),
		}
		if _, err := sess.ProcessFrame(ctx, frame); err != nil {
			if errors.Is(err, session.ErrSessionClosed) {
				return nil
			}
			return fmt.Errorf("process frame %d: %w", seq, err)
		}
	}
}

// newHTTPServer builds the observability endpoint: health probes plus the
// Prometheus scrape handler.
func newHTTPServer(addr string, sess *session.Session) *http.Server {
	mux := http.NewServeMux()
	health.New(
		health.Connection("transport", sess.Health),
	).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// sessionConfig maps the file configuration onto the session's component
// configs. Zero values pass through so component defaults apply.
func sessionConfig(id string, cfg *config.Config) session.Config {
	frameDuration := time.Duration(0)
	if cfg.Audio.FrameSize > 0 && cfg.Audio.SampleRate > 0 {
		frameDuration = time.Duration(cfg.Audio.FrameSize) * time.Second / time.Duration(cfg.Audio.SampleRate)
	}

	return session.Config{
		ID: id,
		Analyzer: quality.AnalyzerConfig{
			FrameSize:       cfg.Audio.FrameSize,
			SampleRate:      cfg.Audio.SampleRate,
			ClipThreshold:   cfg.Quality.ClipThreshold,
			ClipLimit:       cfg.Quality.ClipLimit,
			DegradedSNRdB:   cfg.Quality.DegradedSNRDB,
			PoorSNRdB:       cfg.Quality.PoorSNRDB,
			UpgradeMarginDB: cfg.Quality.UpgradeMarginDB,
			PersistFrames:   cfg.Quality.PersistFrames,
			SilenceMarginDB: cfg.Quality.SilenceMarginDB,
			Noise: quality.EstimatorConfig{
				Alpha:         cfg.Quality.Noise.Alpha,
				SeedFrames:    cfg.Quality.Noise.SeedFrames,
				FallbackFloor: cfg.Quality.Noise.FallbackFloor,
				SilenceWindow: cfg.Quality.Noise.SilenceWindow,
				StaleAfter:    millis(cfg.Quality.Noise.StaleAfterMS),
			},
		},
		Turn: vad.Config{
			FrameDuration:       frameDuration,
			StartDebounceFrames: cfg.Turn.StartDebounceFrames,
			EndHold:             millis(cfg.Turn.EndHoldMS),
			PoorGrace:           millis(cfg.Turn.PoorGraceMS),
			SpeechFloorFactor:   cfg.Turn.SpeechFloorFactor,
			MinSpeechEnergy:     cfg.Turn.MinSpeechEnergy,
		},
		Resilience: resilience.Config{
			FailureThreshold: cfg.Resilience.FailureThreshold,
			DegradedRTT:      millis(cfg.Resilience.DegradedRTTMS),
			RTTAlpha:         cfg.Resilience.RTTAlpha,
			BufferCapacity:   cfg.Resilience.BufferCapacity,
			BackoffBase:      millis(cfg.Resilience.BackoffBaseMS),
			BackoffMax:       millis(cfg.Resilience.BackoffMaxMS),
			JitterFraction:   cfg.Resilience.JitterFraction,
			RetryBudget:      cfg.Resilience.RetryBudget,
			AttemptTimeout:   millis(cfg.Resilience.AttemptTimeoutMS),
		},
		Events: session.Events{
			OnSpeechStart: func(ev vad.Event) {
				slog.Info("speech started", "seq", ev.Seq)
			},
			OnTurnComplete: func(ev vad.Event) {
				slog.Info("turn complete", "seq", ev.Seq, "speech_duration", ev.SpeechDuration)
			},
			OnBargeIn: func(ev vad.Event) {
				slog.Info("barge-in", "seq", ev.Seq)
			},
			OnStreamDiscontinuity: func(ev vad.Event) {
				slog.Warn("stream discontinuity", "seq", ev.Seq)
			},
			OnQualityChange: func(from, to quality.Level, seq uint64) {
				slog.Info("quality changed", "from", from.String(), "to", to.String(), "seq", seq)
			},
			OnConnectionMode: func(m resilience.Mode) {
				slog.Info("connection mode", "mode", m.String())
			},
		},
	}
}

// millis converts a millisecond count from the config file into a duration.
// Zero stays zero so component defaults apply.
func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
