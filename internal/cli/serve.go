package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/storygate/internal/access"
	"github.com/roach88/storygate/internal/catalog"
	"github.com/roach88/storygate/internal/config"
	"github.com/roach88/storygate/internal/entitlement"
	"github.com/roach88/storygate/internal/httpapi"
	"github.com/roach88/storygate/internal/ident"
	"github.com/roach88/storygate/internal/metrics"
	"github.com/roach88/storygate/internal/pending"
	"github.com/roach88/storygate/internal/reward"
	"github.com/roach88/storygate/internal/store"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	EnvFile string
	Addr    string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the daily generation schedule",
		Long: `Run the reader API, publish today's cohort, and keep publishing on
the configured schedule until interrupted.

Configuration is read from STORYGATE_* environment variables and an
optional .env file. --db and --addr override the environment.

Example:
  storygate serve --env-file ./prod.env`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.EnvFile, "env-file", "", "environment file to load (default .env if present)")
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides STORYGATE_ADDR)")

	return cmd
}

// service is the assembled server process.
type service struct {
	cfg       config.Config
	logger    *slog.Logger
	store     *store.Store
	resolver  *access.Resolver
	generator *catalog.Generator
	scheduler *catalog.Scheduler
	handler   http.Handler
	redis     *pending.Redis
}

// newService wires every collaborator from cfg.
func newService(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *service, err error) {
	svc := &service{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			svc.Close()
		}
	}()

	svc.store, err = store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	m := metrics.New()

	var ents access.EntitlementSource
	if cfg.RevenueCatKey != "" {
		rc := entitlement.NewRevenueCat(cfg.RevenueCatKey, cfg.Offer.EntitlementID, entitlement.WithBaseURL(cfg.RevenueCatURL))
		ents = entitlement.NewCached(rc, cfg.EntitlementTTL)
	} else {
		logger.Warn("STORYGATE_REVENUECAT_API_KEY not set; every reader is unsubscribed")
		ents = entitlement.NewStatic()
	}

	resolverOpts := []access.Option{
		access.WithObserver(m),
		access.WithLogger(logger),
		access.WithWriteTimeout(cfg.WriteTimeout),
	}
	if cfg.RedisAddr != "" {
		svc.redis, err = pending.NewRedis(ctx, cfg.RedisAddr, "", cfg.PendingTTL)
		if err != nil {
			return nil, fmt.Errorf("connect pending tracker: %w", err)
		}
		resolverOpts = append(resolverOpts, access.WithPending(svc.redis))
	}
	svc.resolver = access.New(ents, svc.store, resolverOpts...)

	genOpts := []catalog.GeneratorOption{
		catalog.WithLogger(logger),
		catalog.WithResultHook(m.ObserveGeneration),
	}
	if cfg.Templates != "" {
		templates, err := catalog.LoadTemplates(cfg.Templates)
		if err != nil {
			return nil, fmt.Errorf("load templates: %w", err)
		}
		genOpts = append(genOpts, catalog.WithTemplates(templates))
	}
	svc.generator = catalog.NewGenerator(svc.store, genOpts...)
	svc.scheduler, err = catalog.NewScheduler(svc.generator, cfg.Schedule, logger)
	if err != nil {
		return nil, err
	}

	var verifier *reward.Verifier
	if cfg.RewardEnabled() {
		rcfg, err := cfg.RewardConfig(time.Now)
		if err != nil {
			return nil, err
		}
		if svc.redis != nil {
			rcfg.Redemptions = svc.redis
		}
		if verifier, err = reward.NewVerifier(rcfg); err != nil {
			return nil, fmt.Errorf("reward verifier: %w", err)
		}
	} else {
		logger.Warn("STORYGATE_REWARD_PUBLIC_KEY not set; ad unlocks are disabled")
	}

	svc.handler = httpapi.New(httpapi.Deps{
		Resolver:  svc.resolver,
		Store:     svc.store,
		Generator: svc.generator,
		Verifier:  verifier,
		Metrics:   m,
		IDs:       ident.UUIDv7Generator{},
		Offer:     cfg.Offer,
		AdminKey:  cfg.AdminKey,
		Logger:    logger,
	})
	return svc, nil
}

// Close drains background writes and releases resources.
func (s *service) Close() {
	if s.resolver != nil {
		s.resolver.Wait()
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("close redis", "error", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("close database", "error", err)
		}
	}
}

// Run publishes today's cohort, then serves until ctx is cancelled.
func (s *service) Run(ctx context.Context) error {
	if _, err := s.generator.GenerateToday(ctx); err != nil {
		// The schedule retries at its next tick.
		s.logger.Error("initial generation failed", "error", err)
	}

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("listening", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return s.scheduler.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down", "timeout", s.cfg.ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), s.cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(opts.EnvFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if cmd.Flags().Changed("db") {
		cfg.DBPath = opts.Database
	}
	if opts.Addr != "" {
		cfg.Addr = opts.Addr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := newService(ctx, cfg, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start", err)
	}
	defer svc.Close()

	if err := svc.Run(ctx); err != nil {
		return WrapExitError(ExitFailure, "server stopped", err)
	}
	logger.Info("stopped")
	return nil
}
