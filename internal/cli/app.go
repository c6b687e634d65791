package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/programhealth/internal/actor"
	"github.com/roach88/programhealth/internal/config"
	"github.com/roach88/programhealth/internal/emission"
	"github.com/roach88/programhealth/internal/isolation"
	"github.com/roach88/programhealth/internal/logging"
	"github.com/roach88/programhealth/internal/m3"
	"github.com/roach88/programhealth/internal/moduleruntime"
	"github.com/roach88/programhealth/internal/rationale"
	"github.com/roach88/programhealth/internal/readmodel"
	"github.com/roach88/programhealth/internal/store"
)

// App is the wired kernel every command works against.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Store     *store.Store
	Gateway   *emission.Gateway
	Views     *readmodel.Service
	Modules   *config.ModulesLoader
	Runtime   *moduleruntime.Resolver
	Impacts   *m3.ImpactStore
	M3        *m3.Service
	Isolation *isolation.Verifier
	Tokens    *actor.Verifier // nil when auth.jwt_secret is empty
	Rationale rationale.Options
}

// loadConfig reads the config file and environment, then applies flag
// overrides.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Driver != "" {
		cfg.Database.Driver = opts.Driver
	}
	if opts.Database != "" {
		cfg.Database.DSN = opts.Database
	}
	if opts.Format == "json" {
		cfg.Log.Format = "json"
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openApp loads configuration, opens the store and wires every service.
// Diagnostics go to logOut so they never mix with command output.
func openApp(opts *RootOptions, logOut io.Writer) (*App, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	logger := logging.InitWriter(logOut, cfg.Log.Format, logging.ParseLevel(cfg.Log.Level))

	logger.Debug("opening database", "driver", cfg.Database.Driver)
	st, err := store.OpenDriver(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	modules := config.StaticModules(nil)
	if cfg.M3.ModulesFile != "" {
		modules, err = config.NewModulesLoader(cfg.M3.ModulesFile, logger)
		if err != nil {
			st.Close()
			return nil, WrapExitError(ExitCommandError, "failed to load modules file", err)
		}
	}

	gw, err := emission.NewGateway(st, emission.WithLogger(logger))
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to build emission gateway", err)
	}

	ropts := rationale.Options{
		RequireTemporal: cfg.Rationale.RequireTemporal,
		MaxLength:       cfg.Rationale.MaxLength,
	}

	views := readmodel.NewService(st, logger)
	resolver := moduleruntime.NewResolver(st, modules, cfg.M3.RuntimeKey)
	impacts := m3.NewImpactStore(st.DB(), m3.WithRationaleOptions(ropts))
	svc := m3.NewService(views, resolver, impacts, m3.WithLogger(logger), m3.WithRationale(ropts))

	return &App{
		Config:    cfg,
		Logger:    logger,
		Store:     st,
		Gateway:   gw,
		Views:     views,
		Modules:   modules,
		Runtime:   resolver,
		Impacts:   impacts,
		M3:        svc,
		Isolation: isolation.NewVerifier(st, resolver, svc, isolation.WithLogger(logger)),
		Tokens:    actor.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience),
		Rationale: ropts,
	}, nil
}

// Close releases the store.
func (a *App) Close() error {
	if err := a.Store.Close(); err != nil {
		a.Logger.Error("error closing database", "error", err)
		return err
	}
	return nil
}

// bindActor verifies token (if any) and attaches the actor to ctx.
func (a *App) bindActor(ctx context.Context, token string) (context.Context, error) {
	if token == "" {
		return ctx, nil
	}
	if a.Tokens == nil {
		return nil, fmt.Errorf("--token given but auth.jwt_secret is not configured")
	}
	act, err := a.Tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	return actor.WithActor(ctx, act), nil
}
