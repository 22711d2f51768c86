package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/tiroq/echoscribe/internal/api"
	"github.com/tiroq/echoscribe/internal/config"
	"github.com/tiroq/echoscribe/internal/jobs"
	"github.com/tiroq/echoscribe/internal/pidfile"
	"github.com/tiroq/echoscribe/internal/pipeline"
	"github.com/tiroq/echoscribe/internal/retention"
	"github.com/tiroq/echoscribe/internal/storage"
	"github.com/tiroq/echoscribe/internal/transcode"
	"github.com/tiroq/echoscribe/internal/watch"
	"github.com/tiroq/echoscribe/internal/whisper"
)

// Version is set at build time via -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Info("no .env file found, using system environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}

	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	log := logger.WithField("component", "echoscribe")

	log.WithFields(logrus.Fields{
		"version": Version,
		"pid":     os.Getpid(),
		"addr":    cfg.ListenAddr,
	}).Info("starting echoscribe")

	// Refuse to share media directories with another running instance.
	pf, err := pidfile.Acquire(pidfile.DefaultPath())
	if err != nil {
		log.WithError(err).Fatal("could not acquire PID file")
	}
	defer func() {
		if err := pf.Release(); err != nil {
			log.WithError(err).Warn("could not remove PID file")
		}
	}()

	store, err := storage.NewStore(cfg.AudioDir())
	if err != nil {
		log.WithError(err).Fatal("could not prepare audio directory")
	}

	converter := transcode.NewFFmpeg(logger.WithField("component", "transcode"))
	engine := whisper.NewHandle(whisper.Config{
		PythonBin: cfg.PythonBin,
		Model:     cfg.WhisperModel,
	}, logger.WithField("component", "whisper"))
	defer engine.Close()

	tracker := jobs.NewTracker()
	hub := api.NewHub(logger.WithField("component", "jobfeed"))
	tracker.Subscribe(hub.Broadcast)

	proc := pipeline.New(pipeline.Config{
		MediaURLPrefix:    cfg.MediaURLPrefix,
		TranscriptDir:     cfg.TranscriptDir,
		DefaultLanguage:   cfg.DefaultLanguage,
		TranscodeTimeout:  cfg.TranscodeTimeout,
		TranscribeTimeout: cfg.TranscribeTimeout,
	}, store, converter, engine, tracker, logger.WithField("component", "pipeline"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Background maintenance: retention sweeps over audio and transcript
	// artifacts.
	sweeper := &retention.Runner{
		Dirs:     []string{cfg.AudioDir(), cfg.TranscriptDir},
		MaxAge:   cfg.RetentionAge,
		Interval: cfg.SweepInterval,
		Log:      logger.WithField("component", "retention"),
	}
	go sweeper.Run(ctx)

	// Optional batch ingestion from the inbox drop folder.
	if cfg.InboxDir != "" {
		watcher := watch.New(cfg, proc, logger.WithField("component", "watch"))
		go func() {
			if err := watcher.Run(ctx); err != nil {
				log.WithError(err).Error("inbox watcher stopped")
			}
		}()
	}

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.NewServer(cfg, proc, engine, hub, logger.WithField("component", "api")).Routes(),
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("forced shutdown")
		}
	}()

	log.Info("listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Fatal("server error")
	}
	log.Info("stopped")
}
