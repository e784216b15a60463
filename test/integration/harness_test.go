package integration

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHarness_Startup(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.GET("/ui/health", "")
	h.AssertStatus(t, resp, http.StatusOK)

	if got := len(h.App.Records); got != 8 {
		t.Errorf("seeded records = %d, want 8", got)
	}
}

func TestHarness_HealthEndpoints(t *testing.T) {
	h := NewTestHarness(t)

	t.Run("health", func(t *testing.T) {
		resp := h.GET("/ui/health", "")
		h.AssertStatus(t, resp, http.StatusOK)

		var body map[string]string
		if err := json.Unmarshal(h.ReadBody(resp), &body); err != nil {
			t.Fatal(err)
		}
		if body["status"] != "ok" {
			t.Errorf("health status = %q, want ok", body["status"])
		}
	})

	t.Run("ready", func(t *testing.T) {
		resp := h.GET("/ui/ready", "")
		h.AssertStatus(t, resp, http.StatusOK)
	})
}

func TestHarness_Metrics(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(AdminClaims())

	resp := h.GET("/admin/testfield", token)
	h.AssertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = h.GET("/metrics", "")
	h.AssertStatus(t, resp, http.StatusOK)
	body := string(h.ReadBody(resp))
	for _, name := range []string{"gridform_http_requests_total", "gridform_definitions_loaded", "gridform_records_seeded_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output is missing %s", name)
		}
	}

	if n := testutil.ToFloat64(h.App.Metrics.DefinitionsLoaded); n != 5 {
		t.Errorf("gridform_definitions_loaded = %v, want 5", n)
	}
}

func TestHarness_AuthenticationRequired(t *testing.T) {
	h := NewTestHarness(t)

	t.Run("no token returns 401", func(t *testing.T) {
		resp := h.GET("/admin/testfield", "")
		h.AssertStatus(t, resp, http.StatusUnauthorized)
	})

	t.Run("expired token returns 401", func(t *testing.T) {
		resp := h.GET("/admin/testfield", h.GenerateExpiredToken(AdminClaims()))
		h.AssertStatus(t, resp, http.StatusUnauthorized)
	})

	t.Run("invalid token returns 401", func(t *testing.T) {
		resp := h.GET("/admin/testfield", "invalid-token")
		h.AssertStatus(t, resp, http.StatusUnauthorized)
	})

	t.Run("token without subject returns 401", func(t *testing.T) {
		resp := h.GET("/admin/testfield", h.GenerateToken(TestClaims{Roles: []string{"admin"}}))
		h.AssertStatus(t, resp, http.StatusUnauthorized)
	})

	t.Run("cookie token is accepted", func(t *testing.T) {
		resp := h.GETWithHeaders("/admin/testfield", "", map[string]string{
			"Cookie": h.Config.Identity.CookieName + "=" + h.GenerateToken(AdminClaims()),
		})
		h.AssertStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	})
}

func TestHarness_Index(t *testing.T) {
	h := NewTestHarness(t)

	tests := []struct {
		name   string
		claims TestClaims
		want   []string
	}{
		{"admin", AdminClaims(), []string{"auditedgroups", "groups", "janecategories", "polyfield", "testfield"}},
		{"editor", EditorClaims(), []string{"janecategories", "testfield"}},
		{"viewer", ViewerClaims(), []string{"testfield"}},
		{"no roles", TestClaims{SubjectID: "op-nobody"}, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := h.GET("/admin", h.GenerateToken(tc.claims))
			h.AssertStatus(t, resp, http.StatusOK)

			var got []string
			for _, n := range h.Document(resp).Find("a.grid-link").Nodes {
				for _, a := range n.Attr {
					if a.Key == "data-grid" {
						got = append(got, a.Val)
					}
				}
			}
			if strings.Join(got, ",") != strings.Join(tc.want, ",") {
				t.Errorf("grids = %v, want %v", got, tc.want)
			}
		})
	}
}
