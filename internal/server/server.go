package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"abplayer/internal/auth"
	"abplayer/internal/cache"
	"abplayer/internal/catalog"
	"abplayer/internal/config"
	"abplayer/internal/metadata"
	"abplayer/internal/ngrok"
	"abplayer/pkg/models"

	"github.com/sirupsen/logrus"
)

// Store is the read side of the pair catalog
type Store interface {
	GetAllPairs() ([]models.TrackPair, error)
	GetPairByID(id int) (*models.TrackPair, error)
	CountPairs() (int, error)
	Ping() error
}

// PreviewServer serves track pairs and their audio to browser players
type PreviewServer struct {
	config       *config.Config
	store        Store
	library      *catalog.Library
	extractor    *metadata.Extractor
	authService  *auth.Service
	ngrokService *ngrok.Service
	pairs        *cache.PairCache
	logger       *logrus.Logger
	mux          *http.ServeMux
	httpServer   *http.Server
	started      time.Time
}

// NewPreviewServer creates a new preview server instance. library may be
// nil, in which case rescans are unavailable.
func NewPreviewServer(cfg *config.Config, store Store, library *catalog.Library, logger *logrus.Logger) (*PreviewServer, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	authService, err := auth.NewService(&cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth service: %w", err)
	}

	ngrokSvc, err := ngrok.NewService(&cfg.Ngrok, logger)
	if err != nil {
		logger.WithError(err).Warn("Ngrok service not available")
		ngrokSvc = nil
	}

	ms := &PreviewServer{
		config:       cfg,
		store:        store,
		library:      library,
		extractor:    metadata.NewExtractor(cfg.Catalog.SupportedFormats, logger),
		authService:  authService,
		ngrokService: ngrokSvc,
		pairs:        cache.NewPairCache(time.Duration(cfg.Server.CacheTTL) * time.Second),
		logger:       logger,
		mux:          http.NewServeMux(),
		started:      time.Now(),
	}

	if library != nil {
		library.OnChange(ms.invalidatePairs)
	}

	ms.setupRoutes()
	ms.httpServer = &http.Server{
		Addr:        cfg.GetAddress(),
		Handler:     ms.Handler(),
		ReadTimeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
	}
	return ms, nil
}

// Handler returns the routed handler wrapped in the middleware chain
func (ms *PreviewServer) Handler() http.Handler {
	var h http.Handler = ms.mux
	h = ms.authMiddleware(h)
	h = ms.corsMiddleware(h)
	h = ms.requestLoggingMiddleware(h)
	h = ms.panicRecoveryMiddleware(h)
	return h
}

// Start listens until the server is shut down
func (ms *PreviewServer) Start(ctx context.Context) error {
	count, err := ms.store.CountPairs()
	if err != nil {
		ms.logger.WithError(err).Warn("Could not count pairs")
	}

	localAddress := fmt.Sprintf("http://%s", ms.config.GetAddress())

	ms.logger.WithFields(logrus.Fields{
		"address": localAddress,
		"pairs":   count,
		"auth":    ms.authService.IsEnabled(),
	}).Info("Preview server starting")

	if ms.ngrokService != nil {
		if err := ms.ngrokService.StartTunnel(ctx, localAddress); err != nil {
			ms.logger.WithError(err).Warn("Could not start ngrok tunnel")
		}
	}

	if err := ms.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func (ms *PreviewServer) setupRoutes() {
	ms.mux.HandleFunc("/", ms.handleHome)
	ms.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(ms.config.Server.StaticDir))))
	ms.mux.HandleFunc("/api/tracks", ms.handleGetPairs)
	ms.mux.HandleFunc("/api/tracks/", ms.handleGetPair)
	ms.mux.HandleFunc("/api/config", ms.handleGetConfig)
	ms.mux.HandleFunc("/api/rescan", ms.handleRescan)
	ms.mux.HandleFunc("/audio/", ms.handleStreamRendition)
	ms.mux.HandleFunc("/health", ms.handleHealthCheck)
}

func (ms *PreviewServer) invalidatePairs() {
	ms.pairs.Clear()
}

// Shutdown gracefully shuts down the preview server
func (ms *PreviewServer) Shutdown(ctx context.Context) error {
	ms.logger.Info("Shutting down preview server")

	if err := ms.ngrokService.Stop(); err != nil {
		ms.logger.WithError(err).Warn("Error stopping ngrok tunnel")
	}
	ms.pairs.Close()

	return ms.httpServer.Shutdown(ctx)
}
