package cmd

import (
	"context"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/krau/wabot/api"
	"github.com/krau/wabot/auth"
	"github.com/krau/wabot/client"
	"github.com/krau/wabot/config"
	"github.com/krau/wabot/database"
	"github.com/krau/wabot/dispatch"
	"github.com/krau/wabot/plugin"
	"github.com/krau/wabot/plugin/builtin"
	"github.com/krau/wabot/stats"
	"github.com/krau/wabot/types"
	"golang.org/x/sync/errgroup"
)

func run() {
	logger := log.NewWithOptions(os.Stdout, log.Options{
		Level:           log.DebugLevel,
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		ReportCaller:    true,
	})
	if err := config.Init(configPath); err != nil {
		logger.Errorf("Failed to load config: %v", err)
		return
	}
	for _, dir := range []string{"data", config.C.Plugin.Dir} {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			logger.Errorf("Failed to create directory %s: %v", dir, err)
			return
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx = log.WithContext(ctx, logger)

	if err := database.InitDatabase(ctx, config.C.Database.Path); err != nil {
		logger.Errorf("Failed to initialize database: %v", err)
		return
	}
	defer database.Close()

	opts, err := engineOptions(config.C.Bot)
	if err != nil {
		logger.Errorf("Invalid bot config: %v", err)
		return
	}
	store := database.Store{}
	tracker := stats.NewTracker(store, config.C.Stats.Leaderboard)
	if err := tracker.Load(ctx); err != nil {
		logger.Warn("Failed to load usage statistics, starting empty", "err", err)
	}

	registry := plugin.NewRegistry()
	resolver := auth.NewResolver(auth.Options{
		Owners: config.C.Bot.OwnerNumbers(),
		Mods:   config.C.Bot.Mods,
	}, store)
	engine := dispatch.New(opts, registry, resolver, store, tracker)
	engine.SetResponder(dispatch.NewTextResponder(config.C.Bot.Messages))

	handlers := builtin.New(builtin.Deps{
		Registry:    registry,
		Stats:       tracker,
		Records:     store,
		Modes:       engine,
		Started:     time.Now(),
		LockRecords: resolver.LockRecords,
	})
	loader := plugin.NewLoader(config.C.Plugin.Dir, registry, handlers, plugin.LoaderOptions{
		ExecTimeout: config.Duration(config.C.Plugin.ExecTimeout, time.Minute),
		Debounce:    config.Duration(config.C.Plugin.Debounce, 300*time.Millisecond),
	})
	if err := loader.LoadAll(ctx); err != nil {
		logger.Warn("Some plugins failed to load", "err", err)
	}

	wa, err := client.NewClient(ctx, client.Options{
		SessionPath: config.C.WhatsApp.SessionPath,
		PairPhone:   config.C.WhatsApp.PairPhone,
		LogLevel:    config.C.WhatsApp.LogLevel,
		Workers:     config.C.Bot.Workers,
	})
	if err != nil {
		logger.Errorf("Failed to create whatsapp client: %v", err)
		return
	}
	defer wa.Close()

	eg, ctx := errgroup.WithContext(ctx)
	if config.C.Plugin.Watch {
		eg.Go(func() error {
			return loader.Watch(ctx)
		})
	}
	eg.Go(func() error {
		tracker.Run(ctx, config.Duration(config.C.Stats.FlushInterval, time.Minute))
		return nil
	})
	if config.C.Api.Enable {
		eg.Go(func() error {
			return api.Serve(ctx, config.C.Api.Addr, config.C.Api.Key, api.Deps{
				Loader: loader,
				Stats:  tracker,
				Modes:  engine,
				Queue:  engine.Queue(),
				Conn:   func() types.Conn { return wa },
			})
		})
	}

	err = wa.Start(ctx, func(ctx context.Context, conn types.Conn, m *types.Message) {
		res := engine.Handle(ctx, conn, m)
		if res.Executed {
			log.FromContext(ctx).Debug("Dispatched", "plugin", res.Plugin, "chat", m.Chat, "err", res.Err)
		}
	})
	if err != nil {
		logger.Errorf("Failed to start whatsapp client: %v", err)
		cancel()
	}
	<-ctx.Done()
	logger.Info("Shutting down")
	if err := eg.Wait(); err != nil {
		logger.Error("Background task failed", "err", err)
	}
}

func engineOptions(c config.BotConfig) (dispatch.Options, error) {
	opts := dispatch.Options{
		Restrict:    c.Restrict,
		Self:        c.Self,
		Queue:       c.Queue,
		AutoRead:    c.AutoRead,
		PrivateOnly: c.PrivateOnly,
		GroupOnly:   c.GroupOnly,
		Observe:     c.Observe,
		Secrets:     c.Secrets,
		Developers:  c.DeveloperNumbers(),
	}
	if c.Prefix != "" {
		prefix, err := regexp.Compile(c.Prefix)
		if err != nil {
			return opts, err
		}
		opts.Prefix = prefix
	}
	return opts, nil
}
