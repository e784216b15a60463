package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pitabwire/gridform/internal/config"
	"github.com/pitabwire/gridform/internal/definition"
	"github.com/pitabwire/gridform/internal/detailform"
	"github.com/pitabwire/gridform/internal/observability"
	"github.com/pitabwire/gridform/internal/relation"
	"github.com/pitabwire/gridform/internal/render"
	"github.com/pitabwire/gridform/internal/store"
	"github.com/pitabwire/gridform/model"
)

// testDeps returns Dependencies with sensible defaults for testing: the
// people definitions seeded from the fixtures file, an operator "op-1" and a
// capability resolver granting caps.
func testDeps(t *testing.T, caps model.CapabilitySet) (Dependencies, map[string]*model.Record) {
	t.Helper()
	ctx := context.Background()

	cfg := config.Defaults()
	cfg.Server.CORS.AllowedOrigins = []string{"https://app.example.com"}
	cfg.Server.HandlerTimeout = 5 * time.Second

	def, err := definition.NewLoader().LoadFile("../definition/testdata/people/definition.yaml")
	require.NoError(t, err)
	reg := definition.NewRegistry([]model.DomainDefinition{def})
	s := store.NewMemoryRecordStore()
	records, err := definition.NewSeeder(reg, s).SeedFiles(ctx, []string{"../definition/testdata/fixtures/people.yaml"})
	require.NoError(t, err)

	renderer, err := render.New()
	require.NoError(t, err)
	resolver := relation.NewResolver(reg, s)
	forms := detailform.NewHandler(resolver, renderer, detailform.WithPermissions(GridPermissions))

	return Dependencies{
		Config:             cfg,
		Logger:             zap.NewNop(),
		MetricsHandler:     observability.HandlerFor(prometheus.NewRegistry()),
		Registry:           reg,
		Resolver:           resolver,
		Renderer:           renderer,
		DetailForm:         forms,
		Authenticate:       withClaims(map[string]any{"sub": "op-1", "roles": []any{"admin"}}),
		CapabilityResolver: &mockResolver{caps: caps},
		Readiness: observability.ReadinessChecks{
			DefinitionsLoaded: func() bool { return len(reg.AllGrids()) > 0 },
		},
	}, records
}

func withClaims(claims map[string]any) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func rejectAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, model.NewUnauthorizedError("rejected"))
	})
}

var allCaps = model.CapabilitySet{"*": true}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func parseHTML(t *testing.T, w *httptest.ResponseRecorder) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(w.Body)
	require.NoError(t, err)
	return doc
}

// --- Router tests ---

func TestNewRouter_health(t *testing.T) {
	deps, _ := testDeps(t, allCaps)
	w := serve(NewRouter(deps), httptest.NewRequest("GET", "/ui/health", nil))

	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}
	var body map[string]string
	_ = json.NewDecoder(w.Body).Decode(&body)
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestNewRouter_ready(t *testing.T) {
	deps, _ := testDeps(t, allCaps)
	w := serve(NewRouter(deps), httptest.NewRequest("GET", "/ui/ready", nil))
	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}

	deps.Readiness.DefinitionsLoaded = func() bool { return false }
	w = serve(NewRouter(deps), httptest.NewRequest("GET", "/ui/ready", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status without definitions = %d, want 503", w.Code)
	}
}

func TestNewRouter_metrics(t *testing.T) {
	deps, _ := testDeps(t, allCaps)
	w := serve(NewRouter(deps), httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != 200 {
		t.Errorf("status = %d, want 200", w.Code)
	}

	deps.Config.Observability.Metrics.Enabled = false
	w = serve(NewRouter(deps), httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != 404 {
		t.Errorf("status with metrics disabled = %d, want 404", w.Code)
	}
}

func TestNewRouter_authenticatedRoutes_areRegistered(t *testing.T) {
	deps, _ := testDeps(t, allCaps)
	deps.Authenticate = rejectAuth
	r := NewRouter(deps)

	routes := []struct {
		method string
		path   string
	}{
		{"GET", "/admin"},
		{"GET", "/admin/"},
		{"GET", "/admin/testfield"},
		{"POST", "/admin/groups/link"},
		{"GET", "/admin/testfield/item/new"},
		{"POST", "/admin/testfield/item/1/ItemEditForm"},
		{"GET", "/admin/testfield/item/1/ItemEditForm/field/Categories/item/2/edit"},
	}

	for _, tc := range routes {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			w := serve(r, httptest.NewRequest(tc.method, tc.path, nil))
			if w.Code != 401 {
				t.Errorf("status = %d, want 401 (auth should reject)", w.Code)
			}
		})
	}
}

func TestNewRouter_publicRoutesBypassAuth(t *testing.T) {
	deps, _ := testDeps(t, allCaps)
	deps.Authenticate = rejectAuth
	r := NewRouter(deps)

	for _, path := range []string{"/ui/health", "/ui/ready", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			w := serve(r, httptest.NewRequest("GET", path, nil))
			if w.Code != 200 {
				t.Errorf("status = %d, want 200 (should bypass auth)", w.Code)
			}
		})
	}
}

func TestNewRouter_customBasePath(t *testing.T) {
	deps, _ := testDeps(t, allCaps)
	deps.Config.Server.BasePath = "/backoffice/"
	r := NewRouter(deps)

	w := serve(r, httptest.NewRequest("GET", "/backoffice/testfield", nil))
	require.Equal(t, http.StatusOK, w.Code)
	doc := parseHTML(t, w)
	href, _ := doc.Find("a.edit-link").First().Attr("href")
	assert.True(t, strings.HasPrefix(href, "/backoffice/testfield/item/"), "edit link %q", href)

	w = serve(r, httptest.NewRequest("GET", "/admin/testfield", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// --- Grid handler tests ---

func TestIndex_listsVisibleGrids(t *testing.T) {
	deps, _ := testDeps(t, model.CapabilitySet{"grids:testfield:*": true})
	w := serve(NewRouter(deps), httptest.NewRequest("GET", "/admin", nil))
	require.Equal(t, http.StatusOK, w.Code)

	doc := parseHTML(t, w)
	links := doc.Find("a.grid-link")
	require.Equal(t, 1, links.Length())
	href, _ := links.Attr("href")
	assert.Equal(t, "/admin/testfield", href)
}

func TestList_rendersScopedRows(t *testing.T) {
	deps, records := testDeps(t, allCaps)
	w := serve(NewRouter(deps), httptest.NewRequest("GET", "/admin/testfield", nil))
	require.Equal(t, http.StatusOK, w.Code)

	doc := parseHTML(t, w)
	var ids []string
	doc.Find("tr.grid-item").Each(func(_ int, s *goquery.Selection) {
		id, _ := s.Attr("data-id")
		ids = append(ids, id)
	})
	assert.ElementsMatch(t, []string{
		fmt.Sprint(records["jane"].ID),
		fmt.Sprint(records["joe"].ID),
	}, ids)
	assert.Equal(t, 1, doc.Find("nav.breadcrumbs").Length())
}

func TestList_ajaxRendersFragment(t *testing.T) {
	deps, _ := testDeps(t, allCaps)
	w := serve(NewRouter(deps), httptest.NewRequest("GET", "/admin/testfield?ajax=1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	doc := parseHTML(t, w)
	assert.Equal(t, 1, doc.Find("div.grid-field").Length())
	assert.Equal(t, 0, doc.Find("nav.breadcrumbs").Length())
}

func TestList_unknownGrid(t *testing.T) {
	deps, _ := testDeps(t, allCaps)
	w := serve(NewRouter(deps), httptest.NewRequest("GET", "/admin/nosuchgrid", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	doc := parseHTML(t, w)
	code, _ := doc.Find(".error-page").Attr("data-code")
	assert.Equal(t, model.ErrNotFound, code)
}

func TestList_forbiddenWithoutViewCapability(t *testing.T) {
	deps, _ := testDeps(t, model.CapabilitySet{"grids:groups:view": true})
	r := NewRouter(deps)

	w := serve(r, httptest.NewRequest("GET", "/admin/testfield", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = serve(r, httptest.NewRequest("GET", "/admin/testfield/item/1/edit", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestItem_editInScope(t *testing.T) {
	deps, records := testDeps(t, allCaps)
	path := fmt.Sprintf("/admin/testfield/item/%d/edit", records["jane"].ID)
	w := serve(NewRouter(deps), httptest.NewRequest("GET", path, nil))
	require.Equal(t, http.StatusOK, w.Code)

	doc := parseHTML(t, w)
	assert.Equal(t, 1, doc.Find("form#Form_ItemEditForm").Length())
}

func TestItem_outOfScopeRedirects(t *testing.T) {
	deps, records := testDeps(t, allCaps)
	path := fmt.Sprintf("/admin/testfield/item/%d/edit", records["jack"].ID)
	w := serve(NewRouter(deps), httptest.NewRequest("GET", path, nil))
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/admin/testfield", w.Header().Get("Location"))
}

func TestItem_errorStatuses(t *testing.T) {
	deps, records := testDeps(t, allCaps)
	r := NewRouter(deps)
	jane := records["jane"].ID

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"malformed id", "GET", "/admin/testfield/item/abc", "", 404, model.ErrMalformedPath},
		{"unknown action", "GET", fmt.Sprintf("/admin/testfield/item/%d/frobnicate", jane), "", 404, model.ErrMalformedPath},
		{"unknown relation", "GET", fmt.Sprintf("/admin/testfield/item/%d/ItemEditForm/field/Nope", jane), "", 404, model.ErrUnknownRelation},
		{"delete new record", "POST", "/admin/testfield/item/new/ItemEditForm", "action_doDelete=1", 400, model.ErrBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
			if tc.body != "" {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}
			req.Header.Set("Accept", "application/json")
			w := serve(r, req)
			require.Equal(t, tc.status, w.Code, w.Body.String())

			var resp struct {
				Error model.ErrorEnvelope `json:"error"`
			}
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, tc.code, resp.Error.Code)
		})
	}
}

func TestItem_viewOnlyOperator(t *testing.T) {
	deps, records := testDeps(t, model.CapabilitySet{"grids:testfield:view": true})
	r := NewRouter(deps)

	w := serve(r, httptest.NewRequest("GET", fmt.Sprintf("/admin/testfield/item/%d/edit", records["jane"].ID), nil))
	require.Equal(t, http.StatusOK, w.Code)
	doc := parseHTML(t, w)
	assert.True(t, doc.Find("form#Form_ItemEditForm").HasClass("readonly"))

	w = serve(r, httptest.NewRequest("GET", "/admin/testfield/item/new", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGridPermissions(t *testing.T) {
	def := model.GridDefinition{ID: "people", EditCapabilities: []string{"records:write"}}

	ctx := WithCapabilities(context.Background(), model.CapabilitySet{
		"grids:people:*": true,
	})
	assert.Equal(t, false, GridPermissions(ctx, def).Edit, "edit capability of the grid is required")

	ctx = WithCapabilities(context.Background(), model.CapabilitySet{
		"grids:people:edit":   true,
		"grids:people:delete": true,
		"records:write":       true,
	})
	perms := GridPermissions(ctx, def)
	assert.True(t, perms.Edit)
	assert.True(t, perms.Delete)
	assert.False(t, perms.Create)

	assert.Zero(t, GridPermissions(context.Background(), def))
}

// --- Middleware tests ---

func TestRecovery_catchesPanic(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	handler := Recovery(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	}))

	w := serve(handler, httptest.NewRequest("GET", "/", nil))
	if w.Code != 500 {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Errorf("panic was not logged: %v", logs.All())
	}
}

func TestRecovery_passesThrough(t *testing.T) {
	handler := Recovery(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(201)
	}))

	w := serve(handler, httptest.NewRequest("GET", "/", nil))
	if w.Code != 201 {
		t.Errorf("status = %d, want 201", w.Code)
	}
}

func TestCORS_preflight(t *testing.T) {
	cfg := config.Defaults().Server.CORS
	cfg.AllowedOrigins = []string{"https://app.example.com"}
	handler := CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("preflight should not reach the handler")
	}))

	req := httptest.NewRequest("OPTIONS", "/admin/testfield", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := serve(handler, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := w.Header().Get("Access-Control-Expose-Headers"); !strings.Contains(got, "X-Record-Id") {
		t.Errorf("Expose-Headers = %q, want X-Record-Id", got)
	}
}

func TestCORS_disallowedOrigin(t *testing.T) {
	cfg := config.Defaults().Server.CORS
	cfg.AllowedOrigins = []string{"https://app.example.com"}
	handler := CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w := serve(handler, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q, want empty", got)
	}
}

func TestRequestID_generated(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationIDFrom(r.Context())
	}))

	w := serve(handler, httptest.NewRequest("GET", "/", nil))
	if seen == "" {
		t.Fatal("correlation ID should be generated")
	}
	if got := w.Header().Get("X-Correlation-Id"); got != seen {
		t.Errorf("header = %q, context = %q", got, seen)
	}
}

func TestRequestID_propagated(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = CorrelationIDFrom(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Correlation-Id", "corr-123")
	serve(handler, req)
	if seen != "corr-123" {
		t.Errorf("correlation ID = %q, want corr-123", seen)
	}
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	w := serve(handler, httptest.NewRequest("GET", "/", nil))

	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "SAMEORIGIN",
		"Cache-Control":          "no-store",
	}
	for k, v := range want {
		if got := w.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestBuildRequestContextMiddleware(t *testing.T) {
	var rctx *model.RequestContext
	handler := withClaims(map[string]any{
		"sub":   "op-1",
		"email": "op@example.com",
		"roles": []any{"admin", "editor"},
	})(RequestID(BuildRequestContextMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rctx = model.RequestContextFrom(r.Context())
	}))))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Correlation-Id", "corr-1")
	req.Header.Set("Accept-Language", "en-GB")
	serve(handler, req)

	require.NotNil(t, rctx)
	assert.Equal(t, "op-1", rctx.SubjectID)
	assert.Equal(t, "op@example.com", rctx.Email)
	assert.Equal(t, []string{"admin", "editor"}, rctx.Roles)
	assert.Equal(t, "corr-1", rctx.CorrelationID)
	assert.Equal(t, "en-GB", rctx.Locale)
}

func TestBuildRequestContextMiddleware_customPaths(t *testing.T) {
	var rctx *model.RequestContext
	paths := map[string]string{
		"subject_id": "user.id",
		"roles":      "realm_access.roles",
	}
	handler := withClaims(map[string]any{
		"user":         map[string]any{"id": "nested-1"},
		"realm_access": map[string]any{"roles": []any{"viewer"}},
	})(BuildRequestContextMiddleware(paths)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rctx = model.RequestContextFrom(r.Context())
	})))

	serve(handler, httptest.NewRequest("GET", "/", nil))
	require.NotNil(t, rctx)
	assert.Equal(t, "nested-1", rctx.SubjectID)
	assert.Equal(t, []string{"viewer"}, rctx.Roles)
}

func TestBuildRequestContextMiddleware_missingSubject(t *testing.T) {
	handler := withClaims(map[string]any{"email": "op@example.com"})(
		BuildRequestContextMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler should not run without a subject")
		})))

	w := serve(handler, httptest.NewRequest("GET", "/", nil))
	if w.Code != 401 {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestResolveCapabilities(t *testing.T) {
	var caps model.CapabilitySet
	resolver := &mockResolver{caps: model.CapabilitySet{"grids:people:view": true}}
	handler := ResolveCapabilities(resolver, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caps = CapabilitiesFrom(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req = req.WithContext(model.WithRequestContext(req.Context(), &model.RequestContext{SubjectID: "op-1"}))
	serve(handler, req)

	if !caps.Has("grids:people:view") {
		t.Errorf("caps = %v, want grids:people:view", caps)
	}
}

func TestResolveCapabilities_error(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	var caps model.CapabilitySet
	resolver := &mockResolver{err: fmt.Errorf("policy unavailable")}
	handler := ResolveCapabilities(resolver, zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caps = CapabilitiesFrom(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req = req.WithContext(model.WithRequestContext(req.Context(), &model.RequestContext{SubjectID: "op-1"}))
	serve(handler, req)

	if caps != nil {
		t.Errorf("caps = %v, want none", caps)
	}
	if logs.FilterMessage("capability resolution failed").Len() != 1 {
		t.Errorf("failure was not logged: %v", logs.All())
	}
}

func TestResolveCapabilities_nilResolver(t *testing.T) {
	called := false
	handler := ResolveCapabilities(nil, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	serve(handler, httptest.NewRequest("GET", "/", nil))
	if !called {
		t.Error("handler should be called with a nil resolver")
	}
}

func TestHandlerTimeout_setsDeadline(t *testing.T) {
	handler := HandlerTimeout(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Deadline(); !ok {
			t.Error("context should have a deadline")
		}
	}))
	serve(handler, httptest.NewRequest("GET", "/", nil))
}

func TestHandlerTimeout_zeroNoDeadline(t *testing.T) {
	handler := HandlerTimeout(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Context().Deadline(); ok {
			t.Error("context should not have deadline when timeout is 0")
		}
	}))
	serve(handler, httptest.NewRequest("GET", "/", nil))
}

func TestRequestLogging_levels(t *testing.T) {
	tests := []struct {
		status int
		level  zapcore.Level
	}{
		{http.StatusOK, zapcore.InfoLevel},
		{http.StatusNotFound, zapcore.WarnLevel},
		{http.StatusInternalServerError, zapcore.ErrorLevel},
	}
	for _, tc := range tests {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			var ctxLogger *zap.Logger
			handler := RequestLogging(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctxLogger = observability.LoggerFrom(r.Context(), nil)
				w.WriteHeader(tc.status)
			}))

			w := serve(handler, httptest.NewRequest("GET", "/admin/testfield", nil))
			require.Equal(t, tc.status, w.Code)
			require.NotNil(t, ctxLogger, "request logger should be stored in the context")

			entries := logs.FilterMessage("request").All()
			require.Len(t, entries, 1)
			assert.Equal(t, tc.level, entries[0].Level)
			assert.Equal(t, int64(tc.status), entries[0].ContextMap()["status"])
		})
	}
}

func TestSecurityHeaders_onHealth(t *testing.T) {
	deps, _ := testDeps(t, allCaps)
	w := serve(NewRouter(deps), httptest.NewRequest("GET", "/ui/health", nil))

	if got := w.Header().Get("X-Frame-Options"); got != "SAMEORIGIN" {
		t.Errorf("X-Frame-Options = %q, want SAMEORIGIN", got)
	}
	if got := w.Header().Get("X-Correlation-Id"); got == "" {
		t.Error("health should still get X-Correlation-Id")
	}
}

// --- mocks ---

type mockResolver struct {
	caps model.CapabilitySet
	err  error
}

func (m *mockResolver) Resolve(_ *model.RequestContext) (model.CapabilitySet, error) {
	return m.caps, m.err
}

func (m *mockResolver) Invalidate(_ string) {}
