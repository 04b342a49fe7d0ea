// Hazel voice client.
//
// Connects to a hazel server over the RPC stream, logs in with a
// stored session key (or fresh credentials), and joins a voice
// channel: microphone audio is encoded and shipped as datagrams,
// remote speakers are decoded, jitter-buffered and mixed into the
// output device.
package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TaPO4eg3D/hazel/internal/audio"
	"github.com/TaPO4eg3D/hazel/internal/client"
	"github.com/TaPO4eg3D/hazel/internal/config"
	"github.com/TaPO4eg3D/hazel/internal/mixer"
	"github.com/TaPO4eg3D/hazel/internal/profile"
	"github.com/TaPO4eg3D/hazel/internal/rpc"
	"github.com/TaPO4eg3D/hazel/internal/voice"
)

func main() {
	cfg, err := config.ParseFlags()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	logger, err := buildLogger(cfg.Verbose)
	if err != nil {
		log.Fatalf("Logger error: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil && ctx.Err() == nil {
		logger.Fatal("client failed", zap.Error(err))
	}
}

// errNoCredentials means neither a stored session key nor --login was
// available.
var errNoCredentials = errors.New("no stored session key and no --login credentials provided")

func buildLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	store, err := profile.Open(cfg.DataDir, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	// Audio pipeline: capture ring + fan-out, per-speaker mixer,
	// persistent playback device.
	capture, err := audio.NewCapture(logger)
	if err != nil {
		return err
	}
	defer capture.Close()
	capture.SetVolume(float32(cfg.CaptureVolume))

	sched := mixer.NewScheduler(cfg.SpeakerIdleTimeout)

	playback, err := audio.NewPlayback(logger, sched)
	if err != nil {
		return err
	}
	defer playback.Close()
	playback.SetVolume(float32(cfg.PlaybackVolume))

	registry, err := audio.NewRegistry(logger, capture.UseDevice, playback.UseDevice)
	if err != nil {
		return err
	}
	defer registry.Close()

	session, err := voice.New(logger, capture, sched)
	if err != nil {
		return err
	}
	defer session.Close()

	conn := rpc.Dial(ctx, cfg.Server, logger)
	defer conn.Close()

	app := client.New(logger, conn, store, session, capture, playback, sched, cfg.Server)

	loginCtx, loginCancel := context.WithTimeout(ctx, time.Minute)
	defer loginCancel()

	ok, err := app.AutoLogin(loginCtx)
	if err != nil {
		return err
	}
	if !ok {
		if cfg.Login == "" {
			return errNoCredentials
		}
		if err := app.Login(loginCtx, cfg.Login, cfg.Password); err != nil {
			return err
		}
	}

	if err := app.FetchChannels(loginCtx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.WatchUpdates(ctx)
	})

	g.Go(func() error {
		return reportStats(ctx, logger, capture, sched, session)
	})

	if cfg.JoinChannel != 0 {
		if err := app.Join(ctx, cfg.JoinChannel); err != nil {
			return err
		}
		logger.Info("joined voice channel", zap.Int32("channel_id", cfg.JoinChannel))
	}

	return g.Wait()
}

// reportStats periodically surfaces the pipeline's drop counters; the
// realtime paths only count, they never log.
func reportStats(ctx context.Context, logger *zap.Logger, capture *audio.Capture, sched *mixer.Scheduler, session *voice.Session) error {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	var lastRing, lastMixer, lastPLC, lastStale uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		ring := capture.DroppedSamples()
		mixed := sched.Dropped()
		plc := session.PLCFrames()
		stale := session.StaleDrops()

		if ring != lastRing || mixed != lastMixer || plc != lastPLC || stale != lastStale {
			logger.Info("pipeline stats",
				zap.Uint64("ring_dropped_samples", ring-lastRing),
				zap.Uint64("mixer_dropped_frames", mixed-lastMixer),
				zap.Uint64("plc_frames", plc-lastPLC),
				zap.Uint64("stale_drops", stale-lastStale))
			lastRing, lastMixer, lastPLC, lastStale = ring, mixed, plc, stale
		}
	}
}
