// Package detailform serves the detail forms of grid rows: it routes the
// item path below a grid, builds the edit form of the addressed record, runs
// the save and delete actions, and recurses into the grids nested in a form.
package detailform

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/gridform/internal/grid"
	"github.com/pitabwire/gridform/internal/idempotency"
	"github.com/pitabwire/gridform/internal/observability"
	"github.com/pitabwire/gridform/internal/relation"
	"github.com/pitabwire/gridform/internal/render"
	"github.com/pitabwire/gridform/model"
)

// DefaultMaxDepth bounds the nesting of item requests.
const DefaultMaxDepth = 8

// PermissionFunc resolves what the current operator may do in a top-level
// grid. Nested grids inherit the permissions of their top-level grid.
type PermissionFunc func(ctx context.Context, def model.GridDefinition) grid.Permissions

// Option configures a Handler.
type Option func(*Handler)

// WithFactories sets the item request factories selectable by name.
func WithFactories(f *FactoryRegistry) Option {
	return func(h *Handler) { h.factories = f }
}

// WithIdempotency enables the double-submit guard.
func WithIdempotency(store idempotency.Store, ttl time.Duration) Option {
	return func(h *Handler) {
		h.idempotency = store
		h.idempotencyTTL = ttl
	}
}

// WithMetrics sets the metrics instruments.
func WithMetrics(m *observability.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithLogger sets the fallback logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithMaxDepth caps the nesting depth of item requests.
func WithMaxDepth(depth int) Option {
	return func(h *Handler) {
		if depth > 0 {
			h.maxDepth = depth
		}
	}
}

// WithDefaultPageSize sets the page size of grids that declare none.
func WithDefaultPageSize(size int) Option {
	return func(h *Handler) { h.pageSize = size }
}

// WithPermissions sets the permission lookup. Without one every action is
// allowed.
func WithPermissions(fn PermissionFunc) Option {
	return func(h *Handler) { h.permissions = fn }
}

// Handler holds the collaborators shared by every component and item
// request. It is safe for concurrent use.
type Handler struct {
	resolver       *relation.Resolver
	renderer       *render.Renderer
	factories      *FactoryRegistry
	idempotency    idempotency.Store
	idempotencyTTL time.Duration
	metrics        *observability.Metrics
	logger         *zap.Logger
	maxDepth       int
	pageSize       int
	permissions    PermissionFunc

	mu    sync.RWMutex
	hooks map[string][]func(*Component)
}

// NewHandler creates a Handler.
func NewHandler(resolver *relation.Resolver, renderer *render.Renderer, opts ...Option) *Handler {
	h := &Handler{
		resolver: resolver,
		renderer: renderer,
		maxDepth: DefaultMaxDepth,
		logger:   zap.NewNop(),
		hooks:    make(map[string][]func(*Component)),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.factories == nil {
		h.factories = NewFactoryRegistry()
	}
	return h
}

// Factories returns the item request factory registry.
func (h *Handler) Factories() *FactoryRegistry {
	return h.factories
}

// MaxDepth returns the nesting cap.
func (h *Handler) MaxDepth() int {
	return h.maxDepth
}

// Configure registers fn to run on every component built for a grid named
// gridName, at any depth. Nested grids are named after their relation.
func (h *Handler) Configure(gridName string, fn func(*Component)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks[gridName] = append(h.hooks[gridName], fn)
}

// Component returns the detail form component of a top-level grid.
func (h *Handler) Component(ctx context.Context, g *grid.Grid) *Component {
	perms := grid.Permissions{Create: true, Edit: true, Delete: true}
	if h.permissions != nil {
		perms = h.permissions(ctx, g.Def)
	}
	return h.newComponent(g, nil, perms)
}

func (h *Handler) newComponent(g *grid.Grid, parent ItemRequest, perms grid.Permissions) *Component {
	c := &Component{
		Grid:        g,
		Parent:      parent,
		Permissions: perms,
		h:           h,
	}
	h.mu.RLock()
	hooks := h.hooks[g.Name()]
	h.mu.RUnlock()
	for _, fn := range hooks {
		fn(c)
	}
	return c
}

// ServeItem handles the item path below a top-level grid. path is the part
// after "<grid>/item/", for example "5/ItemEditForm/field/People/item/new".
// Errors are returned before anything is written.
func (h *Handler) ServeItem(w http.ResponseWriter, r *http.Request, g *grid.Grid, path string) error {
	return h.Component(r.Context(), g).HandleItem(w, r, splitPath(path))
}

// ServeLink links an existing record into a top-level grid's relation.
func (h *Handler) ServeLink(w http.ResponseWriter, r *http.Request, g *grid.Grid) error {
	return h.Component(r.Context(), g).HandleLink(w, r)
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func isAjax(r *http.Request) bool {
	return r.FormValue("ajax") == "1" || r.Header.Get("X-Requested-With") == "XMLHttpRequest"
}

func writeHTML(w http.ResponseWriter, status int, body *bytes.Buffer) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = body.WriteTo(w)
}
