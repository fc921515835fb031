// Package web serves the sentry dashboard API: live alert state, alert
// history, tracks, runtime tuning, Prometheus metrics and websocket streams
// of alert transitions and preview frames.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-sentry/internal/log"
	"github.com/teslashibe/go-sentry/pkg/alert"
	"github.com/teslashibe/go-sentry/pkg/camera"
	"github.com/teslashibe/go-sentry/pkg/engine"
	"github.com/teslashibe/go-sentry/pkg/fusion"
	"github.com/teslashibe/go-sentry/pkg/hub"
	"github.com/teslashibe/go-sentry/pkg/tracks"
)

// Config holds web server settings.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `koanf:"addr" json:"addr" validate:"required"`

	// StaticDir, when set, serves a dashboard front end from disk.
	StaticDir string `koanf:"static_dir" json:"static_dir"`

	// PreviewFPS caps JPEG frames pushed to /ws/frames. 0 disables the stream.
	PreviewFPS float64 `koanf:"preview_fps" json:"preview_fps" validate:"gte=0,lte=30"`

	// ShutdownTimeout bounds a graceful stop.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" json:"shutdown_timeout" validate:"gt=0"`
}

// DefaultConfig returns the web defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		PreviewFPS:      2,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Engine is the part of the fusion engine the API reads and tunes.
type Engine interface {
	State() fusion.AlertState
	Status() engine.Status
	Tracks() []tracks.Track
	Config() engine.Config
	SetConfig(engine.Config) error
}

// History returns recent alert transitions, oldest first.
type History interface {
	History() []fusion.AlertState
}

// Edge mounts the edge-node ingest endpoints.
type Edge interface {
	RegisterRoutes(fiber.Router)
	RegisterAPIRoutes(fiber.Router)
}

// Option configures a Server.
type Option func(*Server)

// WithEdge mounts edge-node ingest on the server.
func WithEdge(e Edge) Option {
	return func(s *Server) { s.edge = e }
}

// WithAlertHub makes the server stream alert events from h instead of a
// hub of its own, so sinks can be built before the server.
func WithAlertHub(h *hub.Hub) Option {
	return func(s *Server) { s.alertHub = h }
}

// WithPreview streams frames from buf to /ws/frames.
func WithPreview(buf *camera.Buffer) Option {
	return func(s *Server) { s.frames = buf }
}

// Server is the dashboard API server
type Server struct {
	cfg     Config
	app     *fiber.App
	logger  *slog.Logger
	eng     Engine
	history History
	edge    Edge
	frames  *camera.Buffer

	// Hubs for websocket broadcast
	alertHub   *hub.Hub
	previewHub *hub.Hub
}

// NewServer creates a new dashboard server
func NewServer(cfg Config, eng Engine, history History, logger *slog.Logger, opts ...Option) *Server {
	logger = log.Or(logger, "web")
	s := &Server{
		cfg:        cfg,
		logger:     logger,
		eng:        eng,
		history:    history,
		previewHub: hub.New("preview", logger),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.alertHub == nil {
		s.alertHub = hub.New("alerts", logger)
	}

	// New dashboard clients learn the live state before any transition.
	s.alertHub.SetGreeting(func() (hub.Message, bool) {
		return s.currentEvent()
	})

	app := fiber.New(fiber.Config{
		AppName:               "Sentry",
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
	})

	app.Use(recover.New())
	app.Use(cors.New())

	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	api := app.Group("/api")
	api.Get("/health", s.handleHealth)
	api.Get("/status", s.handleStatus)
	api.Get("/alerts", s.handleAlerts)
	api.Get("/tracks", s.handleTracks)
	api.Get("/config", s.handleGetConfig)
	api.Put("/config", s.handlePutConfig)
	api.Get("/log/level", s.handleGetLogLevel)
	api.Put("/log/level", s.handlePutLogLevel)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/alerts", websocket.New(s.handleAlertsWS))
	if s.frames != nil && cfg.PreviewFPS > 0 {
		app.Get("/ws/frames", websocket.New(s.handleFramesWS))
	}

	if s.edge != nil {
		s.edge.RegisterRoutes(app)
		s.edge.RegisterAPIRoutes(api)
	}

	s.app = app
	return s
}

// App exposes the underlying Fiber app.
func (s *Server) App() *fiber.App { return s.app }

// AlertHub returns the hub that streams alert events. It implements
// alert.Broadcaster.
func (s *Server) AlertHub() *hub.Hub { return s.alertHub }

// String implements fmt.Stringer for supervisor logs.
func (s *Server) String() string { return "web " + s.cfg.Addr }

// Hubs returns the websocket hubs. They run as their own services so a
// restarted listener keeps its clients' fan-out state.
func (s *Server) Hubs() []*hub.Hub {
	return []*hub.Hub{s.alertHub, s.previewHub}
}

// Serve listens until ctx ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if s.frames != nil && s.cfg.PreviewFPS > 0 {
		p := newPreview(s.frames, s.previewHub, s.cfg.PreviewFPS)
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Serve(ctx)
		}()
	}
	defer func() {
		cancel()
		wg.Wait()
	}()

	listenErr := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard listening", "addr", s.cfg.Addr)
		listenErr <- s.app.Listen(s.cfg.Addr)
	}()

	select {
	case err := <-listenErr:
		return fmt.Errorf("web server: %w", err)
	case <-ctx.Done():
	}

	if err := s.app.ShutdownWithTimeout(s.cfg.ShutdownTimeout); err != nil {
		s.logger.Warn("shutdown", "error", err)
	}
	<-listenErr
	return ctx.Err()
}

func (s *Server) currentEvent() (hub.Message, bool) {
	msg, err := jsonMessage(alert.Event{Type: alert.EventCurrent, Alert: s.eng.State()})
	if err != nil {
		s.logger.Error("encode current alert", "error", err)
		return hub.Message{}, false
	}
	return msg, true
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
