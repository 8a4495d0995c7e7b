package web

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/teslashibe/go-avatarcam/pkg/hub"
	"github.com/teslashibe/go-avatarcam/pkg/protocol"
)

// CameraInfo is one entry of GET /api/cameras.
type CameraInfo struct {
	Label    string `json:"label"`
	DeviceID string `json:"device_id"`
	Active   bool   `json:"active"`
}

// AvatarInfo is one entry of GET /api/avatars.
type AvatarInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Builtin     bool   `json:"builtin"`
	Active      bool   `json:"active"`
}

// SelectCameraRequest is the body of POST /api/camera.
type SelectCameraRequest struct {
	Device string `json:"device"`
}

// SelectAvatarRequest is the body of POST /api/avatar.
type SelectAvatarRequest struct {
	Avatar string `json:"avatar"`
}

func badRequest(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
}

func (s *Server) handleGetState(c *fiber.Ctx) error {
	return c.JSON(s.deps.Store.Load())
}

// handlePatchState applies a partial update such as {"debug": {"fps": true}}.
func (s *Server) handlePatchState(c *fiber.Ctx) error {
	var params map[string]interface{}
	if err := c.BodyParser(&params); err != nil {
		return badRequest(c, err)
	}
	if err := s.deps.Store.Update(params); err != nil {
		return badRequest(c, err)
	}
	return c.JSON(s.deps.Store.Load())
}

func (s *Server) handleListCameras(c *fiber.Ctx) error {
	devices, err := s.deps.Cameras(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	active := s.deps.Store.Load().Camera.Device
	out := make([]CameraInfo, 0, len(devices))
	for _, d := range devices {
		out = append(out, CameraInfo{Label: d.Label, DeviceID: d.DeviceID, Active: d.DeviceID == active})
	}
	return c.JSON(out)
}

// handleSelectCamera records the new device and returns before the switch
// completes. The outcome arrives as a status event.
func (s *Server) handleSelectCamera(c *fiber.Ctx) error {
	var req SelectCameraRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	if req.Device == "" {
		return badRequest(c, errors.New("device is required"))
	}
	if err := s.deps.Store.Update(map[string]interface{}{"camera.device": req.Device}); err != nil {
		return badRequest(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"device": req.Device, "switching": true})
}

func (s *Server) handleListAvatars(c *fiber.Ctx) error {
	out := []AvatarInfo{}
	if s.deps.Library != nil {
		active := s.deps.Store.Load().Image.Avatar
		for _, t := range s.deps.Library.Templates() {
			out = append(out, AvatarInfo{
				Name:        t.Name,
				Description: t.Description,
				Builtin:     t.Builtin,
				Active:      t.Name == active,
			})
		}
	}
	return c.JSON(out)
}

func (s *Server) handleSelectAvatar(c *fiber.Ctx) error {
	var req SelectAvatarRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, err)
	}
	if req.Avatar == "" {
		return badRequest(c, errors.New("avatar is required"))
	}
	if err := s.deps.Store.Update(map[string]interface{}{"image.avatar": req.Avatar}); err != nil {
		return badRequest(c, err)
	}
	return c.JSON(s.deps.Store.Load())
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	if s.deps.Stats == nil {
		return c.JSON(protocol.StatsData{})
	}
	return c.JSON(s.deps.Stats())
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.RecentStatus())
}

// handleStatusWS sends the current state, then streams envelopes.
func (s *Server) handleStatusWS(c *websocket.Conn) {
	msg, err := protocol.NewStateMessage(s.deps.Store.Load())
	if err == nil {
		if data, err := msg.Bytes(); err == nil {
			c.WriteMessage(websocket.TextMessage, data)
		}
	}
	hub.Serve(s.statusHub, c)
}
