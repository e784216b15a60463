// Package app wires configuration, definitions, stores and the HTTP router
// into a runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/gridform/internal/capability"
	"github.com/pitabwire/gridform/internal/config"
	"github.com/pitabwire/gridform/internal/definition"
	"github.com/pitabwire/gridform/internal/detailform"
	"github.com/pitabwire/gridform/internal/idempotency"
	"github.com/pitabwire/gridform/internal/observability"
	"github.com/pitabwire/gridform/internal/relation"
	"github.com/pitabwire/gridform/internal/render"
	"github.com/pitabwire/gridform/internal/store"
	"github.com/pitabwire/gridform/internal/transport"
	"github.com/pitabwire/gridform/model"
)

// Option configures New.
type Option func(*options)

type options struct {
	registerer  prometheus.Registerer
	gatherer    prometheus.Gatherer
	factories   map[string]detailform.ItemRequestFactory
	configure   map[string][]func(*detailform.Component)
	redisClient redis.UniversalClient
}

// WithPrometheus registers metrics with reg and serves them from g instead
// of the default registry.
func WithPrometheus(reg prometheus.Registerer, g prometheus.Gatherer) Option {
	return func(o *options) {
		o.registerer = reg
		o.gatherer = g
	}
}

// WithItemRequest registers a named item request implementation. Grid
// definitions select it with their item_request key.
func WithItemRequest(name string, f detailform.ItemRequestFactory) Option {
	return func(o *options) { o.factories[name] = f }
}

// WithComponentHook runs fn on every detail form component built for the
// grid named gridName.
func WithComponentHook(gridName string, fn func(*detailform.Component)) Option {
	return func(o *options) { o.configure[gridName] = append(o.configure[gridName], fn) }
}

// WithRedisClient uses client for the redis idempotency driver instead of
// dialling the configured address.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) { o.redisClient = client }
}

// App is a wired service.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Metrics  *observability.Metrics
	Registry *definition.Registry
	Store    store.RecordStore
	Forms    *detailform.Handler
	Handler  http.Handler

	// Records holds the seeded fixture records by key.
	Records map[string]*model.Record

	closers []func()
}

// New builds the service described by cfg. Close releases what it opened,
// also when New fails halfway.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	o := &options{
		registerer: prometheus.DefaultRegisterer,
		gatherer:   prometheus.DefaultGatherer,
		factories:  make(map[string]detailform.ItemRequestFactory),
		configure:  make(map[string][]func(*detailform.Component)),
	}
	for _, opt := range opts {
		opt(o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	// Step 1: Metrics.
	a.Metrics = observability.InitMetrics(o.registerer)

	// Step 2: Item request implementations, needed to validate definitions.
	factories := detailform.NewFactoryRegistry()
	for name, f := range o.factories {
		if err := factories.Register(name, f); err != nil {
			return nil, err
		}
	}

	// Step 3: Load definitions, validate, build registry.
	defs, err := LoadDefinitions(cfg.Definitions, factories.Names())
	if err != nil {
		return nil, err
	}
	a.Registry = definition.NewRegistry(defs)
	a.Metrics.SetDefinitionsLoaded(len(a.Registry.AllGrids()))
	logger.Info("definitions loaded",
		zap.Int("domains", len(defs)),
		zap.Int("grids", len(a.Registry.AllGrids())),
		zap.String("checksum", a.Registry.Checksum()),
	)

	// Step 4: Record store.
	recordStore, err := a.openRecordStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	breaker := store.NewBreaker(cfg.Store.BreakerThreshold, 2, cfg.Store.BreakerTimeout)
	instrumented := store.Instrument(recordStore, a.Metrics, store.WithBreaker(breaker))
	a.Store = instrumented

	// Step 5: Seed fixtures.
	if len(cfg.Fixtures.Files) > 0 {
		a.Records, err = definition.NewSeeder(a.Registry, a.Store).SeedFiles(ctx, cfg.Fixtures.Files)
		if err != nil {
			return nil, fmt.Errorf("seeding fixtures: %w", err)
		}
		a.Metrics.RecordSeeded(len(a.Records))
		logger.Info("fixtures seeded", zap.Int("records", len(a.Records)))
	}

	// Step 6: Capability resolver.
	evaluator, err := capability.NewStaticPolicyEvaluator(cfg.Capability.StaticPolicyFile)
	if err != nil {
		return nil, err
	}
	capResolver := capability.NewResolver(evaluator, cfg.Capability.Cache.TTL,
		capability.WithMaxEntries(cfg.Capability.Cache.MaxEntries),
		capability.WithMetrics(a.Metrics),
	)

	readiness := observability.ReadinessChecks{
		DefinitionsLoaded: func() bool { return len(a.Registry.AllGrids()) > 0 },
		Dependencies: map[string]observability.HealthChecker{
			"store":  instrumented,
			"policy": evaluator,
		},
	}

	// Step 7: Idempotency store.
	formOpts := []detailform.Option{
		detailform.WithFactories(factories),
		detailform.WithMetrics(a.Metrics),
		detailform.WithLogger(logger),
		detailform.WithMaxDepth(cfg.DetailForm.MaxNestingDepth),
		detailform.WithDefaultPageSize(cfg.DetailForm.DefaultPageSize),
		detailform.WithPermissions(transport.GridPermissions),
	}
	if cfg.Idempotency.Enabled {
		idem, check, err := a.openIdempotencyStore(ctx, cfg.Idempotency.Store, o.redisClient)
		if err != nil {
			return nil, err
		}
		if check != nil {
			readiness.Dependencies["idempotency"] = check
		}
		formOpts = append(formOpts, detailform.WithIdempotency(idem, cfg.Idempotency.Store.DefaultTTL))
	}

	// Step 8: Detail forms.
	renderer, err := render.New()
	if err != nil {
		return nil, err
	}
	resolver := relation.NewResolver(a.Registry, a.Store)
	a.Forms = detailform.NewHandler(resolver, renderer, formOpts...)
	for gridName, hooks := range o.configure {
		for _, fn := range hooks {
			a.Forms.Configure(gridName, fn)
		}
	}

	// Step 9: HTTP router.
	a.Handler = transport.NewRouter(transport.Dependencies{
		Config:             cfg,
		Logger:             logger,
		Metrics:            a.Metrics,
		MetricsHandler:     observability.HandlerFor(o.gatherer),
		Registry:           a.Registry,
		Resolver:           resolver,
		Renderer:           renderer,
		DetailForm:         a.Forms,
		Authenticate:       transport.JWTAuthenticator(cfg.Identity, cfg.Identity.SigningKey(), logger),
		CapabilityResolver: capResolver,
		Readiness:          readiness,
	})
	return a, nil
}

// Close releases the stores opened by New.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// LoadDefinitions loads every definition file below cfg.Directories and
// validates them together. itemRequests lists the registered item request
// classes grids may select.
func LoadDefinitions(cfg config.DefinitionsConfig, itemRequests []string) ([]model.DomainDefinition, error) {
	defs, err := definition.NewLoader().LoadAll(cfg.Directories)
	if err != nil {
		return nil, fmt.Errorf("loading definitions: %w", err)
	}
	if verrs := definition.NewValidator(itemRequests...).Validate(defs); len(verrs) > 0 {
		errs := make([]error, len(verrs))
		for i, ve := range verrs {
			errs[i] = ve
		}
		return nil, fmt.Errorf("validating definitions: %w", errors.Join(errs...))
	}
	return defs, nil
}

func (a *App) openRecordStore(ctx context.Context, cfg config.StoreConfig) (store.RecordStore, error) {
	switch cfg.Driver {
	case "memory", "":
		a.Logger.Info("using in-memory record store")
		return store.NewMemoryRecordStore(), nil
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, fmt.Errorf("record store: %s environment variable not set", cfg.DSNEnv)
		}
		pool, err := store.OpenPool(ctx, dsn, store.PoolConfig{
			MaxConns:        cfg.MaxOpenConns,
			MinConns:        cfg.MinConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("record store: %w", err)
		}
		a.closers = append(a.closers, pool.Close)

		pg := store.NewPgRecordStore(pool)
		if cfg.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("record store: %w", err)
			}
		}
		a.Logger.Info("using postgres record store")
		return pg, nil
	default:
		return nil, fmt.Errorf("unsupported record store driver: %q", cfg.Driver)
	}
}

func (a *App) openIdempotencyStore(ctx context.Context, cfg config.IdempotencyStoreConfig, client redis.UniversalClient) (idempotency.Store, observability.HealthChecker, error) {
	switch cfg.Driver {
	case "memory", "":
		a.Logger.Info("using in-memory idempotency store")
		return idempotency.NewMemoryStore(), nil, nil
	case "redis":
		if client == nil {
			addr := os.Getenv(cfg.AddrEnv)
			if addr == "" {
				return nil, nil, fmt.Errorf("idempotency store: %s environment variable not set", cfg.AddrEnv)
			}
			rc := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
			a.closers = append(a.closers, func() { _ = rc.Close() })
			client = rc
		}
		rs := idempotency.NewRedisStore(client)
		if err := rs.Ping(ctx); err != nil {
			return nil, nil, fmt.Errorf("idempotency store: ping: %w", err)
		}
		a.Logger.Info("using redis idempotency store")
		return rs, observability.CheckFunc(rs.Ping), nil
	default:
		return nil, nil, fmt.Errorf("unsupported idempotency store driver: %q", cfg.Driver)
	}
}
