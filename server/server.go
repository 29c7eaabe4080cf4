// Package server is the HTTP front end of the detection pipeline
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/caddyserver/certmagic"
	"github.com/cyclopcam/logs"
	"github.com/cyclopcam/lookout/server/camera"
	"github.com/cyclopcam/lookout/server/historydb"
	"github.com/cyclopcam/lookout/server/pipeline"
	"github.com/cyclopcam/lookout/server/provider"
	"github.com/cyclopcam/lookout/server/registry"
	"github.com/cyclopcam/lookout/server/snapshots"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

const (
	ServerFlagHotReloadWWW = 1 << iota // Serve static files from disk instead of the embedded copy
	ServerFlagSynthetic                // Use simulated detections instead of the configured model
)

type Server struct {
	Log              logs.Log
	HotReloadWWW     bool
	ShutdownComplete chan error // Sent when Shutdown() has finished

	config     Config
	registry   *registry.Registry
	pipeline   *pipeline.Pipeline
	history    *historydb.HistoryDB
	snapshots  *snapshots.Store // nil if snapshot storage could not be opened
	signalIn   chan os.Signal
	shutdown   chan struct{} // Closed when the server is shutting down
	httpServer *http.Server
	httpRouter *httprouter.Router
	wsUpgrader websocket.Upgrader
}

// NewServer opens the history database and starts the pipeline, using the system cameras
func NewServer(logger logs.Log, cfg Config, flags int) (*Server, error) {
	backend := camera.NewMediaDevices(logger)
	backend.EnvironmentLabel = cfg.Camera.EnvironmentLabel
	backend.UserLabel = cfg.Camera.UserLabel
	return NewServerWithBackend(logger, cfg, flags, backend)
}

// NewServerWithBackend is NewServer with a specific camera backend
func NewServerWithBackend(logger logs.Log, cfg Config, flags int, backend camera.Backend) (*Server, error) {
	reg, err := registry.ForLocale(cfg.Locale)
	if err != nil {
		return nil, err
	}

	history, err := historydb.Open(logger, cfg.DB)
	if err != nil {
		return nil, err
	}

	snaps, err := snapshots.Open(context.Background(), logger, cfg.Snapshots)
	if err != nil {
		logger.Warnf("Snapshots are disabled: %v", err)
		snaps = nil
	}

	acquirer := camera.NewAcquirer(logger, backend)
	if cfg.Camera.ReadyTimeoutSeconds > 0 {
		acquirer.ReadyTimeout = time.Duration(cfg.Camera.ReadyTimeoutSeconds) * time.Second
	}

	var loader provider.Loader
	if flags&ServerFlagSynthetic != 0 || cfg.Model.Synthetic {
		logger.Infof("Using simulated detections")
	} else if cfg.Model.ModelURL != "" {
		loader = provider.NewRemoteLoader(logger, cfg.Model.RemoteConfig)
	}

	interval := time.Duration(cfg.Detection.IntervalMS) * time.Millisecond

	s := &Server{
		Log:              logger,
		HotReloadWWW:     flags&ServerFlagHotReloadWWW != 0,
		ShutdownComplete: make(chan error, 1),
		config:           cfg,
		registry:         reg,
		pipeline:         pipeline.New(logger, acquirer, loader, reg, cfg.Camera.Facing, interval),
		history:          history,
		snapshots:        snaps,
		shutdown:         make(chan struct{}),
	}
	if err := s.setupHttpRoutes(); err != nil {
		history.Close()
		return nil, err
	}

	go s.pipeline.Start(context.Background())

	return s, nil
}

// port example: ":8080"
func (s *Server) ListenHTTP(port string) error {
	s.Log.Infof("Listening on %v", port)
	s.httpServer = &http.Server{
		Addr:    port,
		Handler: s.httpRouter,
	}
	return s.httpServer.ListenAndServe()
}

// ListenHTTPS serves on port 443, obtaining certificates for the configured domains via ACME
func (s *Server) ListenHTTPS() error {
	cfg := s.config.HTTPS
	if cfg == nil {
		return fmt.Errorf("HTTPS is not configured")
	}
	certDir := cfg.CertDir
	if certDir == "" {
		home, _ := os.UserHomeDir()
		certDir = filepath.Join(home, ".local", "share", "certmagic")
	}
	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = cfg.Email
	certmagic.Default.Storage = &certmagic.FileStorage{Path: certDir}

	s.Log.Infof("Obtaining certificates for %v (stored in %v)", cfg.Domains, certDir)
	tlsConfig, err := certmagic.TLS(cfg.Domains)
	if err != nil {
		return fmt.Errorf("Failed to setup TLS: %w", err)
	}

	s.Log.Infof("Listening on :443")
	s.httpServer = &http.Server{
		Addr:      ":443",
		Handler:   s.httpRouter,
		TLSConfig: tlsConfig,
	}
	return s.httpServer.ListenAndServeTLS("", "")
}

func (s *Server) ListenForKillSignals() {
	s.Log.Infof("ListenForKillSignals starting")
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-s.signalIn
		if ok {
			s.Log.Infof("Received OS signal '%v'. ListenForKillSignals will exit after shutdown", sig.String())
			s.Shutdown()
		} else {
			// This path gets hit when Shutdown() is called by something other than ourselves, and Shutdown() closes the signalIn channel.
			s.Log.Infof("signalIn closed. ListenForKillSignals will exit now")
		}
	}()
}

func (s *Server) Shutdown() {
	s.Log.Infof("Shutdown")
	if s.signalIn != nil {
		signal.Stop(s.signalIn)
		close(s.signalIn)
	}
	close(s.shutdown)

	s.Log.Infof("Releasing camera")
	s.pipeline.Teardown()

	var err error
	if s.httpServer != nil {
		s.Log.Infof("Closing HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = s.httpServer.Shutdown(ctx)
		cancel()
	}
	s.history.Close()
	if err != nil {
		s.Log.Warnf("Shutdown complete, with error: %v", err)
	} else {
		s.Log.Infof("Shutdown complete")
	}
	s.ShutdownComplete <- err
}

// Pipeline exposes the detection pipeline, mostly for tests
func (s *Server) Pipeline() *pipeline.Pipeline {
	return s.pipeline
}

// Handler returns the HTTP router
func (s *Server) Handler() http.Handler {
	return s.httpRouter
}
