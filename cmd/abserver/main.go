package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"abplayer/internal/catalog"
	"abplayer/internal/config"
	"abplayer/internal/database"
	"abplayer/internal/server"
)

const shutdownGrace = 10 * time.Second

func main() {
	configPath := flag.String("config", "./config.toml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("Error loading configuration")
	}
	logger := cfg.Logging.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("Preview server failed")
	}
}

// run serves previews until ctx ends or the listener fails.
func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	if info, err := os.Stat(cfg.Catalog.LibraryPath); err != nil || !info.IsDir() {
		return fmt.Errorf("library %s is not a directory; create it with one directory per track pair", cfg.Catalog.LibraryPath)
	}

	db, err := database.NewDatabase(cfg.Database.Path, cfg.Database.MaxConnections, logger)
	if err != nil {
		return fmt.Errorf("opening catalog database: %w", err)
	}
	defer db.Close()

	library := catalog.NewLibrary(catalog.OptionsFrom(cfg), db, logger)
	defer library.Close()

	if cfg.Catalog.ScanOnStartup {
		n, err := library.Scan(ctx)
		if err != nil {
			return fmt.Errorf("scanning library: %w", err)
		}
		if n == 0 {
			logger.WithField("formats", cfg.Catalog.SupportedFormats).Warn("No complete track pairs in library")
		}
	}
	if cfg.Catalog.WatchForChanges {
		if err := library.Watch(); err != nil {
			logger.WithError(err).Warn("Library watcher unavailable; use /api/rescan")
		}
	}

	srv, err := server.NewPreviewServer(cfg, db, library, logger)
	if err != nil {
		return err
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Start(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err = <-errc:
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.WithError(serr).Warn("Unclean shutdown")
	}
	return err
}
