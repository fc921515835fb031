// Package supervisor runs the sentry services under a suture tree.
//
// The tree has three layers:
//
//	sentry (root)
//	├── capture   frame pumps and audio producers
//	├── pipeline  detector producers, fusion engine, alert dispatcher
//	└── api       websocket hubs and the dashboard server
//
// Crashed services are restarted with backoff. A service failing with a
// fatal error (device unavailable, invalid configuration) stops the whole
// tree, and Serve returns that error.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/teslashibe/go-sentry/internal/log"
)

// TreeConfig holds supervisor tree settings.
type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff.
	FailureThreshold float64

	// FailureDecay is the rate at which failures decay in seconds.
	FailureDecay float64

	// FailureBackoff is the duration to wait when threshold is exceeded.
	FailureBackoff time.Duration

	// ShutdownTimeout is the maximum time to wait for each service to stop.
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig returns production defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree is the sentry supervisor hierarchy.
type Tree struct {
	root     *suture.Supervisor
	capture  *suture.Supervisor
	pipeline *suture.Supervisor
	api      *suture.Supervisor
	logger   *slog.Logger
}

// New builds an empty tree. Zero config fields take the defaults.
func New(cfg TreeConfig, logger *slog.Logger) *Tree {
	def := DefaultTreeConfig()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = def.FailureDecay
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = def.FailureBackoff
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	logger = log.Or(logger, "supervisor")

	handler := &sutureslog.Handler{Logger: logger}
	spec := suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}

	t := &Tree{
		root:     suture.New("sentry", spec),
		capture:  suture.New("capture", spec),
		pipeline: suture.New("pipeline", spec),
		api:      suture.New("api", spec),
		logger:   logger,
	}
	t.root.Add(t.capture)
	t.root.Add(t.pipeline)
	t.root.Add(t.api)
	return t
}

// AddCapture adds a frame or audio source service.
func (t *Tree) AddCapture(svc suture.Service) suture.ServiceToken {
	return t.capture.Add(Guard(svc))
}

// AddPipeline adds a producer, the engine or the dispatcher.
func (t *Tree) AddPipeline(svc suture.Service) suture.ServiceToken {
	return t.pipeline.Add(Guard(svc))
}

// AddAPI adds a hub or server.
func (t *Tree) AddAPI(svc suture.Service) suture.ServiceToken {
	return t.api.Add(Guard(svc))
}

// Serve runs the tree until ctx ends or a service fails fatally. It returns
// ctx.Err() on a normal stop and the fatal error otherwise.
func (t *Tree) Serve(ctx context.Context) error {
	err := t.root.Serve(ctx)
	if report, rerr := t.root.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		for _, u := range report {
			t.logger.Warn("service did not stop in time", "service", u.Name)
		}
	}
	return err
}
