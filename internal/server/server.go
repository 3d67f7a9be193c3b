// Package server exposes the transcription daemon over HTTP: health and
// status endpoints plus the live WebSocket capture stream.
package server

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/twinscribe/twinscribe/internal/buildinfo"
	"github.com/twinscribe/twinscribe/internal/config"
	"github.com/twinscribe/twinscribe/internal/engine"
	"github.com/twinscribe/twinscribe/internal/session"
	"github.com/twinscribe/twinscribe/internal/telemetry"
)

// ErrSessionBusy rejects a live stream while another one is active. The
// accurate engine is a serial resource, so the daemon runs one session at a
// time instead of queueing audio it cannot keep up with.
var ErrSessionBusy = errors.New("server: a live session is already active")

// Server owns the HTTP app and the single live session slot.
type Server struct {
	cfg     config.Config
	log     *slog.Logger
	engines engine.Engines
	metrics *telemetry.Recorder
	app     *fiber.App

	mu     sync.Mutex
	busy   bool
	active *session.Session
}

// New wires the routes and returns a server ready to listen.
func New(cfg config.Config, logger *slog.Logger, engines engine.Engines, metrics *telemetry.Recorder) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if engines.Accurate == nil {
		panic("server: accurate engine must not be nil")
	}
	if metrics == nil {
		metrics = telemetry.NewRecorder(logger)
	}

	s := &Server{
		cfg:     cfg,
		log:     logger.With("component", "server"),
		engines: engines,
		metrics: metrics,
	}

	app := fiber.New(fiber.Config{
		AppName:               buildinfo.Info.Name,
		DisableStartupMessage: true,
	})
	app.Get("/healthz", s.handleHealth)
	app.Get("/v1/status", s.handleStatus)
	app.Use("/v1/live", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/v1/live", websocket.New(s.handleLive))
	s.app = app
	return s
}

// Listen serves on the configured address and blocks until Shutdown.
func (s *Server) Listen() error {
	s.log.Info("listening", "addr", s.cfg.ListenAddr)
	return s.app.Listen(s.cfg.ListenAddr)
}

// Listener serves on ln; tests use it to bind an ephemeral port.
func (s *Server) Listener(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Shutdown stops accepting new connections and waits up to timeout for
// in-flight handlers. Call StopActive first so the live session can drain.
func (s *Server) Shutdown(timeout time.Duration) error {
	return s.app.ShutdownWithTimeout(timeout)
}

// StopActive requests a graceful stop of the live session, if any. Audio
// already queued is persisted but not transcribed; the in-flight window
// still completes.
func (s *Server) StopActive() {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active != nil {
		active.Stop()
	}
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"service": buildinfo.Info.Slug,
		"version": buildinfo.Info.Version,
	})
}

type statusResponse struct {
	Service       string             `json:"service"`
	Version       string             `json:"version"`
	ActiveSession *activeSession     `json:"active_session,omitempty"`
	Pipeline      telemetry.Snapshot `json:"pipeline"`
}

type activeSession struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	resp := statusResponse{
		Service:  buildinfo.Info.Slug,
		Version:  buildinfo.Info.Version,
		Pipeline: s.metrics.Snapshot(),
	}
	s.mu.Lock()
	if s.active != nil {
		resp.ActiveSession = &activeSession{
			SessionID: s.active.ID(),
			State:     s.active.State().String(),
		}
	}
	s.mu.Unlock()
	return c.JSON(resp)
}

// reserve claims the live session slot. The slot is taken before the session
// exists so only one capture file is ever open.
func (s *Server) reserve() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return ErrSessionBusy
	}
	s.busy = true
	return nil
}

func (s *Server) publish(sess *session.Session) {
	s.mu.Lock()
	s.active = sess
	s.mu.Unlock()
}

func (s *Server) release() {
	s.mu.Lock()
	s.busy = false
	s.active = nil
	s.mu.Unlock()
}
