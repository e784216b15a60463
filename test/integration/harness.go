// Package integration runs the wired service behind an httptest server and
// drives it over HTTP the way a browser would.
package integration

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/pitabwire/gridform/internal/app"
	"github.com/pitabwire/gridform/internal/config"
	"github.com/pitabwire/gridform/internal/detailform"
	"github.com/pitabwire/gridform/model"
)

const signingKeyEnv = "GRIDFORM_TEST_SIGNING_KEY"

var testSigningKey = []byte("integration-signing-key-0123456789")

// TestHarness runs a complete gridform instance for integration tests.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	App      *app.App
	Config   *config.Config
	Registry *prometheus.Registry
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	definitionDirs []string
	fixtureFiles   []string
	policyFile     string
	handlerTimeout time.Duration
	maxDepth       int
	idempotency    bool
	redis          *miniredis.Miniredis
	appOpts        []app.Option
}

// WithDefinitions overrides the definition directories.
func WithDefinitions(dirs ...string) HarnessOption {
	return func(c *harnessConfig) { c.definitionDirs = dirs }
}

// WithFixtures overrides the fixture files.
func WithFixtures(files ...string) HarnessOption {
	return func(c *harnessConfig) { c.fixtureFiles = files }
}

// WithPolicyFile overrides the static policy file.
func WithPolicyFile(path string) HarnessOption {
	return func(c *harnessConfig) { c.policyFile = path }
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) { c.handlerTimeout = d }
}

// WithMaxNestingDepth caps the nesting of item requests.
func WithMaxNestingDepth(depth int) HarnessOption {
	return func(c *harnessConfig) { c.maxDepth = depth }
}

// WithoutIdempotency disables the double-submit guard.
func WithoutIdempotency() HarnessOption {
	return func(c *harnessConfig) { c.idempotency = false }
}

// WithRedisIdempotency stores save tokens in mr instead of memory.
func WithRedisIdempotency(mr *miniredis.Miniredis) HarnessOption {
	return func(c *harnessConfig) {
		c.idempotency = true
		c.redis = mr
	}
}

// WithAppOptions passes options through to app.New.
func WithAppOptions(opts ...app.Option) HarnessOption {
	return func(c *harnessConfig) { c.appOpts = append(c.appOpts, opts...) }
}

// NewTestHarness creates and starts a full gridform instance. The server is
// automatically cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	dir := testdataDir()
	hc := &harnessConfig{
		definitionDirs: []string{filepath.Join(dir, "definitions")},
		fixtureFiles:   []string{filepath.Join(dir, "fixtures.yaml")},
		policyFile:     filepath.Join(dir, "policies.yaml"),
		handlerTimeout: 10 * time.Second,
		idempotency:    true,
	}
	for _, opt := range opts {
		opt(hc)
	}

	// Step 1: Signing key, read from the environment like in production.
	t.Setenv(signingKeyEnv, string(testSigningKey))
	h := &TestHarness{
		t:        t,
		issuer:   newTokenIssuer(testSigningKey),
		Registry: prometheus.NewRegistry(),
	}

	// Step 2: Build config.
	cfg := config.Defaults()
	cfg.Server.HandlerTimeout = hc.handlerTimeout
	cfg.Server.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	cfg.Identity.Issuer = testIssuer
	cfg.Identity.Audience = testAudience
	cfg.Identity.SigningKeyEnv = signingKeyEnv
	cfg.Definitions.Directories = hc.definitionDirs
	cfg.Fixtures.Files = hc.fixtureFiles
	cfg.Capability.StaticPolicyFile = hc.policyFile
	cfg.Capability.Cache.TTL = 0 // no caching in tests
	cfg.Idempotency.Enabled = hc.idempotency
	if hc.maxDepth > 0 {
		cfg.DetailForm.MaxNestingDepth = hc.maxDepth
	}
	h.Config = cfg

	// Step 3: App options.
	appOpts := []app.Option{
		app.WithPrometheus(h.Registry, h.Registry),
		app.WithItemRequest("audited", NewAuditedItemRequest),
	}
	if hc.redis != nil {
		cfg.Idempotency.Store.Driver = "redis"
		client := redis.NewClient(&redis.Options{Addr: hc.redis.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		appOpts = append(appOpts, app.WithRedisClient(client))
	}
	appOpts = append(appOpts, hc.appOpts...)

	// Step 4: Wire the service.
	logger := zaptest.NewLogger(t, zaptest.Level(zapcore.WarnLevel))
	a, err := app.New(context.Background(), cfg, logger, appOpts...)
	if err != nil {
		t.Fatalf("app.New() error = %v", err)
	}
	t.Cleanup(a.Close)
	h.App = a

	// Step 5: Start test server.
	h.server = httptest.NewServer(a.Handler)
	t.Cleanup(h.server.Close)

	return h
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// ID returns the ID of the fixture record seeded under key.
func (h *TestHarness) ID(key string) int64 {
	h.t.Helper()
	rec, ok := h.App.Records[key]
	if !ok {
		h.t.Fatalf("no fixture record %q", key)
	}
	return rec.ID
}

// Record loads a record straight from the store.
func (h *TestHarness) Record(recordType string, id int64) *model.Record {
	h.t.Helper()
	rec, err := h.App.Store.Get(context.Background(), recordType, id)
	if err != nil {
		h.t.Fatalf("Get(%s, %d) error = %v", recordType, id, err)
	}
	return rec
}

// GenerateToken creates a valid JWT token with the given claims.
func (h *TestHarness) GenerateToken(claims TestClaims) string {
	return h.issuer.GenerateToken(claims)
}

// GenerateExpiredToken creates a JWT that has already expired.
func (h *TestHarness) GenerateExpiredToken(claims TestClaims) string {
	return h.issuer.GenerateExpiredToken(claims)
}

// --- HTTP client helpers ---

// GET performs an authenticated GET request. Redirects are not followed.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodGet, path, nil, token, nil)
}

// GETWithHeaders performs an authenticated GET request with additional headers.
func (h *TestHarness) GETWithHeaders(path, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	return h.doRequest(http.MethodGet, path, nil, token, headers)
}

// POSTForm submits values urlencoded, the way a browser posts a form.
func (h *TestHarness) POSTForm(path string, values url.Values, token string) *http.Response {
	h.t.Helper()
	return h.POSTFormWithHeaders(path, values, token, nil)
}

// POSTFormWithHeaders submits values with additional headers.
func (h *TestHarness) POSTFormWithHeaders(path string, values url.Values, token string, headers map[string]string) *http.Response {
	h.t.Helper()
	all := map[string]string{"Content-Type": "application/x-www-form-urlencoded"}
	for k, v := range headers {
		all[k] = v
	}
	return h.doRequest(http.MethodPost, path, strings.NewReader(values.Encode()), token, all)
}

func (h *TestHarness) doRequest(method, path string, body io.Reader, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, body)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// Document parses the response body as HTML.
func (h *TestHarness) Document(resp *http.Response) *goquery.Document {
	h.t.Helper()
	defer resp.Body.Close()
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		h.t.Fatalf("parse HTML: %v", err)
	}
	return doc
}

// ReadBody reads and returns the response body as bytes.
func (h *TestHarness) ReadBody(resp *http.Response) []byte {
	h.t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	return data
}

// AssertStatus checks that the response has the expected status code.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertRedirect checks the status and Location of a redirect.
func (h *TestHarness) AssertRedirect(t *testing.T, resp *http.Response, status int, location string) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != status {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, status, string(body))
	}
	if got := resp.Header.Get("Location"); got != location {
		t.Errorf("Location = %q, want %q", got, location)
	}
}

// --- Default test claims ---

// AdminClaims returns TestClaims for an operator holding every capability.
func AdminClaims() TestClaims {
	return TestClaims{
		SubjectID: "op-admin",
		Email:     "admin@gridform.test",
		Roles:     []string{"admin"},
	}
}

// EditorClaims returns TestClaims for a people_editor operator.
func EditorClaims() TestClaims {
	return TestClaims{
		SubjectID: "op-editor",
		Email:     "editor@gridform.test",
		Roles:     []string{"people_editor"},
	}
}

// ViewerClaims returns TestClaims for a people_viewer operator.
func ViewerClaims() TestClaims {
	return TestClaims{
		SubjectID: "op-viewer",
		Email:     "viewer@gridform.test",
		Roles:     []string{"people_viewer"},
	}
}

// --- Item requests ---

// AuditedItemRequest tags every response it serves with X-Item-Request.
type AuditedItemRequest struct {
	detailform.ItemRequest
}

// NewAuditedItemRequest is the detailform.ItemRequestFactory of the
// "audited" item request class.
func NewAuditedItemRequest(c *detailform.Component, record *model.Record) detailform.ItemRequest {
	return AuditedItemRequest{detailform.NewItemRequest(c, record)}
}

// Handle implements detailform.ItemRequest.
func (a AuditedItemRequest) Handle(w http.ResponseWriter, r *http.Request, rest []string) error {
	w.Header().Set("X-Item-Request", "audited")
	return a.ItemRequest.Handle(w, r, rest)
}

// --- Helpers ---

// testdataDir returns the absolute path to the testdata directory.
func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}

// SaveValues returns the values of a save submission: the save action plus
// name/value pairs.
func SaveValues(pairs ...string) url.Values {
	v := url.Values{"action_doSave": {"1"}}
	for i := 0; i+1 < len(pairs); i += 2 {
		v.Set(pairs[i], pairs[i+1])
	}
	return v
}

// ItemPath returns the path of an item action below a top-level grid.
func ItemPath(gridID string, id int64, action string) string {
	return fmt.Sprintf("/admin/%s/item/%d/%s", gridID, id, action)
}
