package api

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"

	"github.com/bytedance/sonic"
	"github.com/charmbracelet/log"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/krau/wabot/database"
	"github.com/krau/wabot/plugin"
	"github.com/krau/wabot/types"
)

var validate = validator.New()

type StatsSource interface {
	Leaderboard(n int) []database.CommandUsage
	PluginStats() []database.PluginStat
}

type Modes interface {
	Restrict() bool
	SetRestrict(v bool)
	Self() bool
	SetSelf(v bool)
}

type QueueLen interface {
	Len() int
}

type Deps struct {
	Loader *plugin.Loader
	Stats  StatsSource
	Modes  Modes
	Queue  QueueLen
	// Conn is nil until the transport is connected.
	Conn func() types.Conn
}

type server struct {
	Deps
}

func keyValidator(key string) func(*fiber.Ctx, string) (bool, error) {
	sum := sha256.Sum256([]byte(key))
	storedKeyHash := sum[:]
	return func(c *fiber.Ctx, input string) (bool, error) {
		if input == "" {
			return false, keyauth.ErrMissingOrMalformedAPIKey
		}
		inputsum := sha256.Sum256([]byte(input))
		if subtle.ConstantTimeCompare(inputsum[:], storedKeyHash) != 1 {
			return false, keyauth.ErrMissingOrMalformedAPIKey
		}
		return true, nil
	}
}

// NewApp builds the management app. An empty key disables authentication.
func NewApp(key string, deps Deps) *fiber.App {
	app := fiber.New(
		fiber.Config{
			JSONEncoder:           sonic.Marshal,
			JSONDecoder:           sonic.Unmarshal,
			DisableStartupMessage: true,
		},
	)
	loggerCfg := logger.ConfigDefault
	loggerCfg.Format = "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path} | ${queryParams} | ${error}\n"
	app.Use(logger.New(loggerCfg))
	app.Use(cors.New())

	s := &server{Deps: deps}
	rg := app.Group("/api")
	if key != "" {
		rg.Use(keyauth.New(keyauth.Config{Validator: keyValidator(key)}))
	}
	rg.Get("/status", s.GetStatus)
	rg.Patch("/modes", s.PatchModes)
	rg.Get("/plugins", s.GetPlugins)
	rg.Get("/plugins/*", s.GetPlugin)
	rg.Delete("/plugins/*", s.DeletePlugin)
	rg.Post("/plugins/reload", s.ReloadPlugins)
	rg.Get("/commands/:cmd", s.GetCommand)
	rg.Get("/stats", s.GetStats)
	rg.Get("/top", s.GetTop)
	rg.Post("/client/send", s.SendText)
	return app
}

// Serve runs the management API until ctx is done.
func Serve(ctx context.Context, addr, key string, deps Deps) error {
	app := NewApp(key, deps)
	go func() {
		<-ctx.Done()
		if err := app.Shutdown(); err != nil {
			log.FromContext(ctx).Error("Failed to shut down api server", "err", err)
		}
	}()
	log.FromContext(ctx).Info("API server listening", "addr", addr)
	return app.Listen(addr)
}
