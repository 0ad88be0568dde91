// Package server hosts an annotation session over HTTP
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/caddyserver/certmagic"
	"github.com/cyclopcam/annotate/pkg/annot"
	"github.com/cyclopcam/annotate/pkg/frames"
	"github.com/cyclopcam/annotate/pkg/storage"
	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

type Server struct {
	Log              logs.Log
	ShutdownComplete chan error // Receives one value when Shutdown() has finished

	cfg        Config
	signalIn   chan os.Signal
	httpServer *http.Server
	httpRouter *httprouter.Router
	storage    storage.Storage
	wsUpgrader websocket.Upgrader
	shutdown   sync.Once

	exportLock sync.Mutex
	lastExport time.Time // Time used for the most recent saved export name

	// All access to the session is serialized, so events are applied in arrival order
	sessionLock sync.Mutex
	session     *annot.Session
}

// NewServer opens the frames folder and export storage, and starts a session on frame 0
func NewServer(log logs.Log, cfg Config) (*Server, error) {
	if cfg.FramesDir == "" {
		return nil, fmt.Errorf("No frames directory configured")
	}
	frameList, err := frames.ListFolder(cfg.FramesDir)
	if err != nil {
		return nil, fmt.Errorf("Failed to list frames in %v: %w", cfg.FramesDir, err)
	}
	log.Infof("Found %v frames in %v", len(frameList), cfg.FramesDir)

	session, err := annot.NewSession(log, frameList, cfg.sessionOptions())
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(log, cfg.Export)
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("Failed to open export storage: %w", err)
	}

	s := &Server{
		Log:              log,
		ShutdownComplete: make(chan error, 1),
		cfg:              cfg,
		storage:          store,
		session:          session,
		wsUpgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	if err := s.setupHttpRoutes(); err != nil {
		session.Close()
		return nil, err
	}
	return s, nil
}

// Handler exposes the router, for tests
func (s *Server) Handler() http.Handler {
	return s.httpRouter
}

// port example: ":8090"
func (s *Server) ListenHTTP(port string) error {
	s.Log.Infof("Listening on %v", port)
	s.httpServer = &http.Server{
		Addr:    port,
		Handler: s.httpRouter,
	}
	return s.httpServer.ListenAndServe()
}

// ListenHTTPS serves on :443 with a certificate obtained automatically via ACME.
// Plain HTTP on :80 redirects to HTTPS, and answers ACME HTTP challenges.
func (s *Server) ListenHTTPS(cfg HTTPSConfig) error {
	certDir := cfg.CertDir
	if certDir == "" {
		home, _ := os.UserHomeDir()
		certDir = filepath.Join(home, ".local", "share", "certmagic")
	}
	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = cfg.Email
	certmagic.Default.Storage = &certmagic.FileStorage{Path: certDir}

	magic := certmagic.NewDefault()
	if err := magic.ManageSync(context.Background(), []string{cfg.Domain}); err != nil {
		return fmt.Errorf("Failed to obtain certificate for %v: %w", cfg.Domain, err)
	}
	tlsConfig := magic.TLSConfig()
	tlsConfig.NextProtos = append([]string{"h2", "http/1.1"}, tlsConfig.NextProtos...)

	acme := certmagic.NewACMEIssuer(magic, certmagic.DefaultACME)
	go func() {
		redirect := acme.HTTPChallengeHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "https://"+r.Host+r.URL.RequestURI(), http.StatusMovedPermanently)
		}))
		if err := http.ListenAndServe(":80", redirect); err != nil {
			s.Log.Warnf("HTTP redirect listener exited: %v", err)
		}
	}()

	ln, err := tls.Listen("tcp", ":443", tlsConfig)
	if err != nil {
		return err
	}
	s.Log.Infof("Listening on :443 for %v", cfg.Domain)
	s.httpServer = &http.Server{
		Handler: s.httpRouter,
	}
	return s.httpServer.Serve(ln)
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
			// Shutdown() was called by something other than ourselves, and it closed signalIn
			s.Log.Infof("signalIn closed. ListenForKillSignals will exit now")
		}
	}()
}

// Shutdown is safe to call more than once
func (s *Server) Shutdown() {
	s.shutdown.Do(s.shutdownOnce)
}

func (s *Server) shutdownOnce() {
	s.Log.Infof("Shutdown")
	if s.signalIn != nil {
		signal.Stop(s.signalIn)
		close(s.signalIn)
		s.signalIn = nil
	}
	if s.httpServer != nil {
		s.Log.Infof("Closing HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := s.httpServer.Shutdown(ctx)
		cancel()
		if err != nil {
			s.Log.Warnf("HTTP shutdown error: %v", err)
		}
	}
	s.sessionLock.Lock()
	s.session.Close()
	s.sessionLock.Unlock()
	s.Log.Infof("Shutdown complete")
	s.ShutdownComplete <- nil
}

// withSession runs f while holding the session lock
func (s *Server) withSession(f func(session *annot.Session)) {
	s.sessionLock.Lock()
	defer s.sessionLock.Unlock()
	f(s.session)
}
