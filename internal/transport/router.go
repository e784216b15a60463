package transport

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/gridform/internal/config"
	"github.com/pitabwire/gridform/internal/definition"
	"github.com/pitabwire/gridform/internal/detailform"
	"github.com/pitabwire/gridform/internal/observability"
	"github.com/pitabwire/gridform/internal/relation"
	"github.com/pitabwire/gridform/internal/render"
	"github.com/pitabwire/gridform/model"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config             *config.Config
	Logger             *zap.Logger
	Metrics            *observability.Metrics
	MetricsHandler     http.Handler
	Registry           *definition.Registry
	Resolver           *relation.Resolver
	Renderer           *render.Renderer
	DetailForm         *detailform.Handler
	Authenticate       func(http.Handler) http.Handler
	CapabilityResolver model.CapabilityResolver
	Readiness          observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Global middleware (layers 1-5): applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(observability.TracingMiddleware)

	// Public routes, no authentication.
	r.Get("/ui/health", observability.HandleHealth())
	r.Get("/ui/ready", observability.HandleReady(deps.Readiness))
	if deps.Config.Observability.Metrics.Enabled {
		metricsHandler := deps.MetricsHandler
		if metricsHandler == nil {
			metricsHandler = observability.Handler()
		}
		r.Method(http.MethodGet, deps.Config.Observability.Metrics.Path, metricsHandler)
	}

	// Authenticated routes, full middleware chain (layers 6-11).
	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	h := &gridHandlers{
		cfg:      deps.Config,
		registry: deps.Registry,
		resolver: deps.Resolver,
		renderer: deps.Renderer,
		forms:    deps.DetailForm,
		errors:   NewErrorWriter(deps.Renderer, logger),
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.errors.Write(w, r, model.NewNotFoundError("page not found"))
	})

	base := "/" + strings.Trim(deps.Config.Server.BasePath, "/")
	r.Route(base, func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContextMiddleware(deps.Config.Identity.ClaimPaths))
		r.Use(ResolveCapabilities(deps.CapabilityResolver, logger))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}

		r.Get("/", h.index)
		r.Get("/{gridId}", h.list)
		r.Post("/{gridId}/link", h.link)
		r.HandleFunc("/{gridId}/item/*", h.item)
	})

	return r
}
