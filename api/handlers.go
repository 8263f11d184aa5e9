package api

import (
	"sort"

	"github.com/duke-git/lancet/v2/slice"
	"github.com/gofiber/fiber/v2"
	"github.com/krau/wabot/plugin"
)

func (s *server) GetStatus(c *fiber.Ctx) error {
	res := fiber.Map{
		"status":     "success",
		"generation": s.Loader.Registry().Generation(),
		"plugins":    len(s.Loader.Registry().Plugins()),
		"restrict":   s.Modes.Restrict(),
		"self":       s.Modes.Self(),
		"connected":  s.Conn != nil && s.Conn() != nil,
	}
	if s.Queue != nil {
		res["queue"] = s.Queue.Len()
	}
	return c.JSON(res)
}

func (s *server) PatchModes(c *fiber.Ctx) error {
	var req ModesRequest
	if err := c.BodyParser(&req); err != nil {
		return &fiber.Error{Code: fiber.StatusBadRequest, Message: "Invalid request body"}
	}
	if req.Restrict != nil {
		s.Modes.SetRestrict(*req.Restrict)
	}
	if req.Self != nil {
		s.Modes.SetSelf(*req.Self)
	}
	return c.JSON(fiber.Map{
		"status":   "success",
		"restrict": s.Modes.Restrict(),
		"self":     s.Modes.Self(),
	})
}

func (s *server) GetPlugins(c *fiber.Ctx) error {
	plugins := s.Loader.Registry().Plugins()
	if tag := c.Query("tag"); tag != "" {
		plugins = slice.Filter(plugins, func(_ int, p *plugin.Plugin) bool {
			return p.HasTag(tag)
		})
	}
	return c.JSON(fiber.Map{
		"status":  "success",
		"plugins": slice.Map(plugins, func(_ int, p *plugin.Plugin) PluginInfo { return pluginInfo(p) }),
	})
}

func (s *server) GetPlugin(c *fiber.Ctx) error {
	p, ok := s.Loader.Registry().Get(c.Params("*"))
	if !ok {
		return &fiber.Error{Code: fiber.StatusNotFound, Message: "Plugin not found"}
	}
	return c.JSON(fiber.Map{
		"status": "success",
		"plugin": pluginInfo(p),
	})
}

func (s *server) DeletePlugin(c *fiber.Ctx) error {
	if !s.Loader.Remove(c.Context(), c.Params("*")) {
		return &fiber.Error{Code: fiber.StatusNotFound, Message: "Plugin not loaded"}
	}
	return c.JSON(fiber.Map{
		"status":     "success",
		"generation": s.Loader.Registry().Generation(),
	})
}

func (s *server) ReloadPlugins(c *fiber.Ctx) error {
	var req ReloadRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return &fiber.Error{Code: fiber.StatusBadRequest, Message: "Invalid request body"}
		}
	}
	if err := validate.StructCtx(c.Context(), &req); err != nil {
		return &fiber.Error{Code: fiber.StatusBadRequest, Message: "Validation failed: " + err.Error()}
	}
	if req.Path == "" {
		if err := s.Loader.ReloadAll(c.Context()); err != nil {
			return &fiber.Error{Code: fiber.StatusUnprocessableEntity, Message: err.Error()}
		}
		return c.JSON(fiber.Map{
			"status":     "success",
			"generation": s.Loader.Registry().Generation(),
		})
	}
	changed, err := s.Loader.Reload(c.Context(), req.Path)
	if err != nil {
		return &fiber.Error{Code: fiber.StatusUnprocessableEntity, Message: err.Error()}
	}
	return c.JSON(fiber.Map{
		"status":     "success",
		"changed":    changed,
		"generation": s.Loader.Registry().Generation(),
	})
}

func (s *server) GetCommand(c *fiber.Ctx) error {
	p, ok := s.Loader.Registry().Find(c.Params("cmd"))
	if !ok {
		return &fiber.Error{Code: fiber.StatusNotFound, Message: "No plugin handles this command"}
	}
	return c.JSON(fiber.Map{
		"status": "success",
		"plugin": pluginInfo(p),
	})
}

func (s *server) GetStats(c *fiber.Ctx) error {
	stats := s.Stats.PluginStats()
	sort.SliceStable(stats, func(i, j int) bool { return stats[i].Total > stats[j].Total })
	return c.JSON(fiber.Map{
		"status": "success",
		"stats":  stats,
	})
}

func (s *server) GetTop(c *fiber.Ctx) error {
	n := c.QueryInt("n", 10)
	if n <= 0 {
		return &fiber.Error{Code: fiber.StatusBadRequest, Message: "n must be positive"}
	}
	return c.JSON(fiber.Map{
		"status":      "success",
		"leaderboard": s.Stats.Leaderboard(n),
	})
}

func (s *server) SendText(c *fiber.Ctx) error {
	var req SendTextRequest
	if err := c.BodyParser(&req); err != nil {
		return &fiber.Error{Code: fiber.StatusBadRequest, Message: "Invalid request body"}
	}
	if err := validate.StructCtx(c.Context(), &req); err != nil {
		return &fiber.Error{Code: fiber.StatusBadRequest, Message: "Validation failed: " + err.Error()}
	}
	if s.Conn == nil || s.Conn() == nil {
		return &fiber.Error{Code: fiber.StatusServiceUnavailable, Message: "Client is not connected"}
	}
	if err := s.Conn().SendText(c.Context(), req.Chat, req.Text); err != nil {
		return &fiber.Error{Code: fiber.StatusBadGateway, Message: err.Error()}
	}
	return c.JSON(fiber.Map{
		"status":  "success",
		"message": "Message sent",
	})
}
