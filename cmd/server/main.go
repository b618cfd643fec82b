package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/hertz/pkg/app/server"

	"line-stock-bot/internal/api"
	"line-stock-bot/internal/broadcast"
	"line-stock-bot/internal/command"
	"line-stock-bot/internal/commentary"
	"line-stock-bot/internal/config"
	"line-stock-bot/internal/delivery"
	"line-stock-bot/internal/logging"
	"line-stock-bot/internal/market"
	"line-stock-bot/internal/push/dingtalk"
	"line-stock-bot/internal/push/line"
	"line-stock-bot/internal/quote"
	"line-stock-bot/internal/store"
	"line-stock-bot/internal/watchlist"
)

func main() {
	configPath := flag.String("config", "configs/app.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log.Level)
	loc := cfg.Location()

	st, err := store.Open(cfg.Store.Sqlite.Path, loc)
	if err != nil {
		logger.Fatal().Err(err).Msg("store error")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error().Err(err).Msg("store close error")
		}
	}()

	var backend watchlist.Backend = st
	if cfg.Store.Backend == config.BackendRedis {
		rb, err := watchlist.NewRedisBackend(watchlist.RedisConfig{
			Addr:      cfg.Store.Redis.Addr,
			Password:  cfg.Store.Redis.Password,
			DB:        cfg.Store.Redis.DB,
			KeyPrefix: cfg.Store.Redis.KeyPrefix,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("redis error")
		}
		defer closeQuietly(rb)
		backend = rb
	}

	providers := make([]market.Provider, 0, len(cfg.Market.BaseURLs))
	for _, u := range cfg.Market.BaseURLs {
		providers = append(providers, market.NewFinMindProvider(
			u,
			config.Millis(cfg.Market.RequestTimeoutMs),
			config.Millis(cfg.Market.MinRequestIntervalMs),
		))
	}
	resolver := quote.NewResolver(market.NewMultiProvider(providers...), quote.Config{
		Location:       loc,
		LookbackDays:   cfg.Market.LookbackDays,
		RequestTimeout: config.Millis(cfg.Market.RequestTimeoutMs),
		MaxConcurrency: cfg.Market.MaxConcurrency,
		Names:          cfg.Market.Names,
	}, logger)

	scheme := watchlist.OwnerScheme(cfg.Watchlist.Scope)
	wl := watchlist.NewService(backend, logger)
	dispatcher := command.NewDispatcher(wl, resolver, logger)

	lineClient := line.NewClient(cfg.Line.BaseURL, cfg.Line.ChannelAccessToken, config.Millis(cfg.Line.TimeoutMs))
	dt := dingtalk.NewClient(cfg.Push.Dingtalk.Webhook, cfg.Push.Dingtalk.Secret, config.Millis(cfg.Push.Dingtalk.TimeoutMs))

	sender := delivery.NewService(st, delivery.Config{
		RateLimit: delivery.RateLimitConfig{
			PerMinute: cfg.Delivery.RateLimit.PerMinute,
			Burst:     cfg.Delivery.RateLimit.Burst,
		},
		DedupWindow: config.Seconds(cfg.Delivery.DedupWindowSec),
	}, logger)

	agent := commentary.New(commentary.Config{
		Enabled:    cfg.Commentary.Enabled,
		Model:      cfg.Commentary.Model,
		APIKey:     cfg.Commentary.APIKey,
		BaseURL:    cfg.Commentary.BaseURL,
		ByAzure:    cfg.Commentary.ByAzure,
		APIVersion: cfg.Commentary.APIVersion,
		Timeout:    config.Millis(cfg.Commentary.TimeoutMs),
	}, logger)

	var targets []broadcast.Target
	for _, id := range cfg.Broadcast.Subscribers {
		targets = append(targets, broadcast.Target{Channel: lineClient, To: id, Owner: scheme.OwnerFor(id)})
	}
	if dt.Enabled() {
		targets = append(targets, broadcast.Target{Channel: dt, Owner: watchlist.GlobalOwner})
	}

	seedCtx := context.Background()
	for _, owner := range seedOwners(targets) {
		n, err := wl.Seed(seedCtx, owner, cfg.Watchlist.Seed)
		if err != nil {
			logger.Error().Err(err).Str("owner", owner).Msg("seed watchlist")
			continue
		}
		if n > 0 {
			logger.Info().Str("owner", owner).Int("tickers", n).Msg("watchlist seeded")
		}
	}

	triggers, err := broadcast.ParseTriggers(cfg.Broadcast.Triggers)
	if err != nil {
		logger.Fatal().Err(err).Msg("broadcast triggers")
	}
	scheduler := broadcast.NewScheduler(broadcast.Config{
		Triggers:     triggers,
		Location:     loc,
		TickInterval: config.Seconds(cfg.Broadcast.TickSec),
		Grace:        config.Seconds(cfg.Broadcast.GraceSec),
		SendTimeout:  config.Seconds(cfg.Broadcast.SendTimeoutSec),
	}, targets, broadcast.Deps{
		Watchlist:  wl,
		Resolver:   resolver,
		Sender:     sender,
		Claimer:    st,
		Commentary: agent,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Broadcast.Enabled {
		go scheduler.Run(ctx)
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	h := server.Default(server.WithHostPorts(addr))
	api.RegisterRoutes(h.Engine, api.Deps{
		ChannelSecret: cfg.Line.ChannelSecret,
		Owners:        scheme,
		Commands:      dispatcher,
		Replier:       lineClient.Replies(),
		Sender:        sender,
		Resolver:      resolver,
		Watchlist:     wl,
		Broadcaster:   scheduler,
		Deliveries:    st,
		Commentary:    agent,
		Location:      loc,
		Logger:        logger,
	})

	logger.Info().
		Str("addr", addr).
		Str("store", cfg.Store.Backend).
		Str("scope", cfg.Watchlist.Scope).
		Bool("broadcast", cfg.Broadcast.Enabled).
		Int("targets", len(targets)).
		Msg("server starting")
	h.Spin()
}

// seedOwners is the global list plus every broadcast owner.
func seedOwners(targets []broadcast.Target) []string {
	seen := map[string]bool{watchlist.GlobalOwner: true}
	out := []string{watchlist.GlobalOwner}
	for _, t := range targets {
		if !seen[t.Owner] {
			seen[t.Owner] = true
			out = append(out, t.Owner)
		}
	}
	return out
}

func closeQuietly(c io.Closer) {
	_ = c.Close()
}
