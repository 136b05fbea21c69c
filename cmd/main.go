package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MimeLyc/faceless-video/internal/config"
	"github.com/MimeLyc/faceless-video/internal/httpapi"
	"github.com/MimeLyc/faceless-video/internal/jobs"
	"github.com/MimeLyc/faceless-video/internal/media"
	"github.com/MimeLyc/faceless-video/internal/metrics"
	"github.com/MimeLyc/faceless-video/internal/persistence"
	"github.com/MimeLyc/faceless-video/internal/pipeline"
	"github.com/MimeLyc/faceless-video/internal/service"
	"github.com/MimeLyc/faceless-video/internal/transcribe"
	"github.com/MimeLyc/faceless-video/internal/visual"
	"github.com/MimeLyc/faceless-video/pkg/icron"
	"github.com/MimeLyc/faceless-video/pkg/log"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

const interruptedReason = "interrupted: worker exited before completion"

type scheduler interface {
	Schedule(ctx context.Context) error
}

type cronEngine interface {
	Start()
	Stop() context.Context
}

type dispatcher interface {
	Start(exec jobs.Executor)
	Stop() bool
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatal("%v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.NewFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log.InitLogger(log.ParseLevel(cfg.Log.Level), log.WithFormat(cfg.Log.Format))
	metrics.MustRegister()

	for _, dir := range []string{cfg.UploadDir(), cfg.OutputDir(), cfg.WorkDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if cfg.Dispatcher.Recover {
		n, err := store.FailInterrupted(ctx, interruptedReason)
		if err != nil {
			return fmt.Errorf("recover interrupted jobs: %w", err)
		}
		if n > 0 {
			log.Warn("Marked %d interrupted job(s) as failed", n)
		}
	}

	lang, err := cfg.TranscribeLanguage()
	if err != nil {
		return err
	}
	transcriber := transcribe.NewWhisper(transcribe.WhisperOptions{
		WhisperPath: cfg.Whisper.Bin,
		FFmpegPath:  cfg.FFmpeg.Bin,
		ModelDir:    cfg.Whisper.ModelDir,
		Language:    lang,
		Timeout:     cfg.Whisper.Timeout,
	})
	encoder := media.NewFFmpeg(media.Options{
		FFmpegPath:  cfg.FFmpeg.Bin,
		FFprobePath: cfg.FFmpeg.ProbeBin,
		Width:       cfg.Pipeline.VideoWidth,
		Height:      cfg.Pipeline.VideoHeight,
		FPS:         cfg.Pipeline.VideoFPS,
		Timeout:     cfg.FFmpeg.Timeout,
	})
	if !encoder.IsAvailable() {
		log.Warn("ffmpeg/ffprobe not found, jobs will fail until they are installed")
	}

	var tiers []visual.Tier
	if cfg.Images.Enabled {
		tiers = visual.DefaultTiers(cfg.Images.PollinationsURL, cfg.Images.PicsumURL, cfg.Images.Timeout)
	} else {
		log.Info("Image downloads disabled, scenes use local backgrounds")
	}
	cascade := visual.NewCascade(visual.Options{
		Tiers:        tiers,
		Width:        cfg.Pipeline.VideoWidth,
		Height:       cfg.Pipeline.VideoHeight,
		RequestDelay: cfg.Images.RequestDelay,
	})

	controller := pipeline.NewController(store, transcriber, encoder, cascade, pipeline.Config{
		OutputDir:        cfg.OutputDir(),
		WorkDir:          cfg.WorkDir(),
		MaxAudioDuration: cfg.Pipeline.MaxAudioDuration,
		SceneDuration:    cfg.Pipeline.SceneDuration,
		Model:            cfg.Whisper.Model,
		WordsPerCue:      cfg.Pipeline.WordsPerCue,
	})
	disp := jobs.NewDispatcher(store,
		jobs.WithWorkers(cfg.Dispatcher.Workers),
		jobs.WithPollInterval(cfg.Dispatcher.PollInterval),
		jobs.WithGracePeriod(cfg.Dispatcher.ShutdownGrace),
	)

	svc := service.NewJobService(store, service.Options{
		UploadDir:         cfg.UploadDir(),
		AllowedExtensions: cfg.Upload.AllowedExtensions,
		MaxUploadBytes:    cfg.MaxUploadBytes(),
	})

	cronEng := cron.New(cron.WithParser(icron.Parser))
	sweeper := service.NewRetentionSweeper(store, cronEng, service.RetentionOptions{
		CronExpr: cfg.Retention.Cron,
		MaxAge:   cfg.Retention.MaxAge,
		WorkDir:  cfg.WorkDir(),
	})

	srv := httpapi.NewServer(svc,
		httpapi.WithUI(cfg.HTTP.UIStaticDir, cfg.HTTP.UIEnabled),
		httpapi.WithCORSOrigins(cfg.HTTP.CORSOrigins...),
		httpapi.WithMaxUploadBytes(cfg.MaxUploadBytes()),
		httpapi.WithHealthCheck("ffmpeg", func(context.Context) error {
			if !encoder.IsAvailable() {
				return errors.New("ffmpeg not found on PATH")
			}
			return nil
		}),
	)

	return runWithComponents(ctx, cfg, sweeper, cronEng, disp, controller.Execute, srv)
}

func openStore(ctx context.Context, cfg *config.Config) (jobs.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		store, err := persistence.NewPostgresStore(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		log.Info("Using postgres job store")
		return store, nil
	default:
		store, err := persistence.NewSQLiteStore(cfg.DBPath())
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		log.Info("Using sqlite job store at %s", cfg.DBPath())
		return store, nil
	}
}

// runWithComponents serves until ctx is cancelled or the HTTP server fails,
// then stops intake first and the workers after it.
func runWithComponents(ctx context.Context, cfg *config.Config, sched scheduler, cronEng cronEngine, disp dispatcher, exec jobs.Executor, srv httpServer) error {
	if err := sched.Schedule(ctx); err != nil {
		return fmt.Errorf("schedule retention: %w", err)
	}
	cronEng.Start()
	disp.Start(exec)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP server listening on %s", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(cfg.HTTP.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Dispatcher.ShutdownGrace+5*time.Second)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		disp.Stop()
		if done := cronEng.Stop().Done(); done != nil {
			select {
			case <-done:
			case <-shutdownCtx.Done():
				log.Warn("Retention sweep still running at exit")
			}
		}
		return err
	})
	return g.Wait()
}
