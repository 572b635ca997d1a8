// main package for the material-service
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/material-service/internal/config"
	"github.com/book-expert/material-service/internal/material"
	"github.com/book-expert/material-service/internal/objectstore"
	"github.com/book-expert/material-service/internal/transport/httpapi"
	"github.com/book-expert/material-service/internal/worker"
	"github.com/nats-io/nats.go"
)

const (
	bootstrapLogFile = "material-service-bootstrap.log"
	serviceLogFile   = "material-service.log"
	shutdownTimeout  = 10 * time.Second
	readTimeout      = 15 * time.Second
	connectionName   = "material-service"
)

const (
	logMsgStarted      = "Material-Service initialized. Search subject: %s, collect subject: %s, speech subject: %s, HTTP: %s"
	logFmtShutdown     = "Shutting down: %v"
	logFmtHTTPFailed   = "HTTP server failed: %v"
	logFmtWorkerFailed = "NATS worker failed: %v"
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

// loadConfig reads an explicit file when given, otherwise uses the
// central configurator.
func loadConfig(path string, log *logger.Logger) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}

	return config.Load(log)
}

func run() error {
	configPath := flag.String("config", "", "Path to a TOML config file (defaults to the configurator lookup)")
	flag.Parse()

	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	bootstrapLog.Info("Bootstrap logger created.")

	cfg, err := loadConfig(*configPath, bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, serviceLogFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, finalLog)
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	resolver, err := newResolver(cfg, log)
	if err != nil {
		return err
	}

	collector := newCollector(cfg, resolver, log)
	engine := newSpeechEngine(cfg, log)

	natsConnection, err := nats.Connect(natsURL(cfg), nats.Name(connectionName))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to get JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, cfg.NATS.ArtifactStoreBucket)
	if err != nil {
		return fmt.Errorf("failed to open artifact store: %w", err)
	}

	natsWorker, err := worker.NewNatsWorker(natsConnection, store, resolver, collector, engine, worker.Options{
		SearchSubject:  cfg.NATS.SearchSubject,
		CollectSubject: cfg.NATS.CollectSubject,
		SpeechSubject:  cfg.NATS.SpeechSubject,
		WorkDir:        cfg.Paths.OutputDir,
		DefaultVoice:   cfg.TTS.AliyunDefaultVoice,
		DefaultMaxClip: time.Duration(cfg.Material.MaxClipDuration) * time.Second,
		DefaultConcat:  material.ConcatMode(cfg.Material.VideoConcatMode),
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpapi.NewRouter(resolver, cfg.TTS.AliyunDefaultVoice, log),
		ReadHeaderTimeout: readTimeout,
	}

	errCh := make(chan error, 2)

	go func() {
		runErr := natsWorker.Run(ctx)
		if runErr != nil {
			log.Error(logFmtWorkerFailed, runErr)
		}

		errCh <- runErr
	}()

	go func() {
		listenErr := srv.ListenAndServe()
		if listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			log.Error(logFmtHTTPFailed, listenErr)
			errCh <- listenErr

			return
		}

		errCh <- nil
	}()

	log.System(logMsgStarted, cfg.NATS.SearchSubject, cfg.NATS.CollectSubject, cfg.NATS.SpeechSubject, cfg.HTTP.Addr)

	var runErr error

	select {
	case <-ctx.Done():
		log.Info(logFmtShutdown, ctx.Err())
	case runErr = <-errCh:
		log.Info(logFmtShutdown, runErr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownErr := srv.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", shutdownErr)
	}

	return runErr
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
