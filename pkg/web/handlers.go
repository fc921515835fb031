package web

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-sentry/internal/log"
	"github.com/teslashibe/go-sentry/pkg/faults"
	"github.com/teslashibe/go-sentry/pkg/fusion"
	"github.com/teslashibe/go-sentry/pkg/hub"
)

// handleHealth reports liveness and the current level
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
		"level":  s.eng.State().Level,
	})
}

// handleStatus returns the latest cycle snapshot
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.eng.Status())
}

// handleAlerts returns recent transitions, newest last
func (s *Server) handleAlerts(c *fiber.Ctx) error {
	if s.history == nil {
		return c.JSON([]fusion.AlertState{})
	}
	return c.JSON(s.history.History())
}

// handleTracks returns live tracks with their keypoints for overlay renderers
func (s *Server) handleTracks(c *fiber.Ctx) error {
	return c.JSON(s.eng.Tracks())
}

// handleGetConfig returns the active tuning
func (s *Server) handleGetConfig(c *fiber.Ctx) error {
	return c.JSON(s.eng.Config())
}

// handlePutConfig applies tuning. Fields missing from the body keep their
// current values.
func (s *Server) handlePutConfig(c *fiber.Ctx) error {
	cfg := s.eng.Config()
	if err := json.Unmarshal(c.Body(), &cfg); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	if err := s.eng.SetConfig(cfg); err != nil {
		var ce *faults.ConfigError
		if errors.As(err, &ce) {
			fields := make([]fiber.Map, 0, len(ce.Fields))
			for _, f := range ce.Fields {
				fields = append(fields, fiber.Map{"field": f.Field, "reason": f.Reason})
			}
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":  "invalid configuration",
				"fields": fields,
			})
		}
		return err
	}

	s.logger.Info("tuning changed via api", "remote", c.IP())
	return c.JSON(s.eng.Config())
}

func (s *Server) handleGetLogLevel(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"level": strings.ToLower(log.Level().String())})
}

// handlePutLogLevel changes process verbosity, e.g. {"level":"debug"}.
func (s *Server) handlePutLogLevel(c *fiber.Ctx) error {
	var body struct {
		Level string `json:"level"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err := log.SetLevel(body.Level); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	s.logger.Info("log level changed via api", "level", body.Level, "remote", c.IP())
	return s.handleGetLogLevel(c)
}

// handleAlertsWS streams alert events. The first message is the current state.
func (s *Server) handleAlertsWS(c *websocket.Conn) {
	client, ok := hub.NewClient(s.alertHub, c)
	if !ok {
		return
	}
	client.Run()
}

// handleFramesWS streams JPEG preview frames as binary messages.
func (s *Server) handleFramesWS(c *websocket.Conn) {
	client, ok := hub.NewClient(s.previewHub, c)
	if !ok {
		return
	}
	client.Run()
}

func jsonMessage(v any) (hub.Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return hub.Message{}, err
	}
	return hub.Text(data), nil
}
