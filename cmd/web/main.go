package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"edulms/internal/app"
	"edulms/internal/auth"
	"edulms/internal/db"
	"edulms/internal/importer"
	"edulms/internal/logging"
	"edulms/internal/question"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}
	cfg := app.LoadConfig()

	logger, closeLog := logging.Setup(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	defer func() { _ = closeLog() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		_ = closeLog()
		os.Exit(1)
	}
}

func run(cfg app.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, cfg.DB())
	if err != nil {
		return err
	}
	defer conn.Close()
	logger.Info("connected to database", "driver", cfg.DBDriver)

	dialect := question.DialectPostgres
	if cfg.DBDriver == db.DriverSQLite {
		dialect = question.DialectSQLite
	}
	repo := question.NewRepository(conn, dialect)
	if err := repo.EnsureSchema(ctx); err != nil {
		return err
	}
	authSvc := auth.NewService(conn, auth.ServiceConfig{Driver: cfg.DBDriver})
	if err := authSvc.EnsureSchema(ctx); err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return err
	}

	importCfg := cfg.Importer()
	importCfg.Resolver = net.DefaultResolver
	if cfg.ImportColumnProfile != "" {
		profile, err := importer.LoadColumnProfile(cfg.ImportColumnProfile)
		if err != nil {
			return err
		}
		importCfg.Profile = profile
	}

	pub := importer.NewPublisher()
	tracker := importer.NewTracker(importer.NewMemoryStore(), pub, cfg.ImportRetention, logger)
	imports := importer.NewService(repo, tracker, importCfg, logger)

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()
	tracker.StartSweeper(jobCtx, cfg.ImportSweepInterval)

	logger.Info("configuration loaded",
		"addr", cfg.HTTPAddr,
		"upload_dir", cfg.UploadDir,
		"import_max_concurrent", cfg.ImportMaxConcurrent,
		"import_batch_size", cfg.ImportBatchSize,
	)

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: app.NewRouter(cfg, app.Deps{
			DB:       conn,
			Auth:     authSvc,
			Imports:  imports,
			Progress: pub,
			Logger:   logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("edulms web listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	cancelJobs()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}

	done := make(chan struct{})
	go func() {
		imports.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("all imports finished")
	case <-shutdownCtx.Done():
		logger.Warn("imports did not finish in time", "active", imports.Stats().ActiveImports)
	}
	return nil
}
