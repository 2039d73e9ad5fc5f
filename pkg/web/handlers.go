package web

import (
	"bytes"
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/teslashibe/go-trackables/pkg/frameloop"
	"github.com/teslashibe/go-trackables/pkg/hub"
	"github.com/teslashibe/go-trackables/pkg/subsystem"
)

// SubsystemStatus describes one subsystem for the API
type SubsystemStatus struct {
	subsystem.Descriptor
	Running bool            `json:"running"`
	Live    int             `json:"live"`
	Stats   subsystem.Stats `json:"stats"`
}

func statusOf(p frameloop.Poller) SubsystemStatus {
	return SubsystemStatus{
		Descriptor: p.Descriptor(),
		Running:    p.Running(),
		Live:       p.LiveCount(),
		Stats:      p.Stats(),
	}
}

func errorJSON(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

// poller resolves the :id route parameter
func (s *Server) poller(c *fiber.Ctx) (frameloop.Poller, bool) {
	return s.loop.Poller(c.Params("id"))
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"frames":  s.loop.Frames(),
		"clients": s.changes.ClientCount(),
	})
}

func (s *Server) handleListSubsystems(c *fiber.Ctx) error {
	pollers := s.loop.Pollers()
	out := make([]SubsystemStatus, 0, len(pollers))
	for _, p := range pollers {
		out = append(out, statusOf(p))
	}
	return c.JSON(out)
}

func (s *Server) handleGetSubsystem(c *fiber.Ctx) error {
	p, ok := s.poller(c)
	if !ok {
		return errorJSON(c, fiber.StatusNotFound, "unknown subsystem")
	}
	return c.JSON(statusOf(p))
}

func (s *Server) handleStartSubsystem(c *fiber.Ctx) error {
	p, ok := s.poller(c)
	if !ok {
		return errorJSON(c, fiber.StatusNotFound, "unknown subsystem")
	}
	// The backend outlives the request
	if err := p.Start(context.Background()); err != nil {
		return errorJSON(c, fiber.StatusConflict, err.Error())
	}
	s.log.Info("subsystem started", "subsystem", p.Descriptor().ID)
	return c.JSON(statusOf(p))
}

func (s *Server) handleStopSubsystem(c *fiber.Ctx) error {
	p, ok := s.poller(c)
	if !ok {
		return errorJSON(c, fiber.StatusNotFound, "unknown subsystem")
	}
	if err := p.Stop(); err != nil {
		return errorJSON(c, fiber.StatusConflict, err.Error())
	}
	s.log.Info("subsystem stopped", "subsystem", p.Descriptor().ID)
	return c.JSON(statusOf(p))
}

func (s *Server) handleLive(c *fiber.Ctx) error {
	p, ok := s.poller(c)
	if !ok {
		return errorJSON(c, fiber.StatusNotFound, "unknown subsystem")
	}
	if c.Query("format") == "msgpack" {
		data, err := encodeMsgpack(p.Live())
		if err != nil {
			return errorJSON(c, fiber.StatusInternalServerError, err.Error())
		}
		c.Set(fiber.HeaderContentType, "application/msgpack")
		return c.Send(data)
	}
	return c.JSON(p.Live())
}

// encodeMsgpack uses the json tags so both formats share field names
func encodeMsgpack(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Server) handleGetCamera(c *fiber.Ctx) error {
	if s.Camera == nil {
		return errorJSON(c, fiber.StatusNotFound, "no camera")
	}
	return c.JSON(s.Camera.GetConfig())
}

func (s *Server) handleUpdateCamera(c *fiber.Ctx) error {
	if s.Camera == nil {
		return errorJSON(c, fiber.StatusNotFound, "no camera")
	}
	if err := s.Camera.UpdateConfig(c.Body()); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err.Error())
	}
	return c.JSON(s.Camera.GetConfig())
}

func (s *Server) handleChangesWS(c *websocket.Conn) {
	hub.NewClient(s.changes, c).Run()
}
