package main

import (
	"context"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/mcrelay/internal/admin"
	"github.com/danmuck/mcrelay/internal/config"
	"github.com/danmuck/mcrelay/internal/event"
	"github.com/danmuck/mcrelay/internal/exchange"
	"github.com/danmuck/mcrelay/internal/logging"
	"github.com/danmuck/mcrelay/internal/policy"
	"github.com/danmuck/mcrelay/internal/protocol/frame"
	"github.com/danmuck/mcrelay/internal/protocol/packet"
	"github.com/danmuck/mcrelay/internal/relay"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the relay and its admin endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logging.ConfigureRuntime()
			cfg, err := loadConfig(path)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "", "config file (defaults when empty)")
	return cmd
}

func loadConfig(path string) (config.Config, error) {
	if strings.TrimSpace(path) == "" {
		cfg := config.Default()
		return cfg, config.Validate(cfg)
	}
	return config.Load(path)
}

// serve wires the cookie policy into the relay and runs the relay and the
// admin endpoint until ctx ends or either fails.
func serve(ctx context.Context, cfg config.Config) error {
	rules, err := policy.Compile(cfg.Cookie.Rules)
	if err != nil {
		return err
	}
	bus := event.NewDefaultBus[*exchange.CookieRequestEvent]()
	removeRules := policy.Install(bus, rules)
	defer removeRules()
	for _, rule := range rules {
		log.Info().Str("rule", rule.String()).Int("priority", rule.Priority).Msg("cookie rule installed")
	}

	srv, err := relay.NewServer(relay.Config{
		Backend:      cfg.Backend,
		DialTimeout:  cfg.DialTimeout,
		DialAttempts: cfg.DialAttempts,
		Backoff:      relay.DefaultBackoff(),
		Session: relay.SessionConfig{
			Limits:         frame.Limits{MaxFrameBytes: cfg.MaxFrameBytes},
			RequestRate:    cfg.Cookie.RequestRate,
			RequestBurst:   cfg.Cookie.RequestBurst,
			HandlerTimeout: cfg.Cookie.HandlerTimeout,
			Registry:       packet.Default(),
		},
	}, bus)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(gctx, cfg.Bind) })
	if strings.TrimSpace(cfg.AdminAddr) != "" {
		api := admin.New(srv, cfg.CorsOrigins)
		g.Go(func() error { return api.ListenAndServe(gctx, cfg.AdminAddr) })
	}
	err = g.Wait()
	log.Info().Msg("mcrelay stopped")
	return err
}
