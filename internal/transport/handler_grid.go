package transport

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/gridform/internal/config"
	"github.com/pitabwire/gridform/internal/definition"
	"github.com/pitabwire/gridform/internal/detailform"
	"github.com/pitabwire/gridform/internal/grid"
	"github.com/pitabwire/gridform/internal/relation"
	"github.com/pitabwire/gridform/internal/render"
	"github.com/pitabwire/gridform/model"
)

type gridHandlers struct {
	cfg      *config.Config
	registry *definition.Registry
	resolver *relation.Resolver
	renderer *render.Renderer
	forms    *detailform.Handler
	errors   *ErrorWriter
}

// GridPermissions derives what the operator may do in a grid from the
// capabilities resolved for the request. The grid's own capabilities are
// required for every action, its edit capabilities for any change.
func GridPermissions(ctx context.Context, def model.GridDefinition) grid.Permissions {
	caps := CapabilitiesFrom(ctx)
	required := make([]string, 0, len(def.Capabilities)+len(def.EditCapabilities))
	required = append(required, def.Capabilities...)
	required = append(required, def.EditCapabilities...)
	return grid.Permissions{
		Create: caps.CanGrid(def.ID, model.ActionCreate, required...),
		Edit:   caps.CanGrid(def.ID, model.ActionEdit, required...),
		Delete: caps.CanGrid(def.ID, model.ActionDelete, required...),
	}
}

func (h *gridHandlers) index(w http.ResponseWriter, r *http.Request) {
	caps := CapabilitiesFrom(r.Context())
	page := render.IndexPage{Title: "Grids"}
	for _, def := range h.registry.AllGrids() {
		if !caps.CanGrid(def.ID, model.ActionView, def.Capabilities...) {
			continue
		}
		page.Grids = append(page.Grids, render.IndexEntry{
			ID:    def.ID,
			Title: def.Title,
			Link:  h.gridLink(def.ID),
		})
	}

	var buf bytes.Buffer
	if err := h.renderer.Index(&buf, page); err != nil {
		h.errors.Write(w, r, err)
		return
	}
	writeHTML(w, http.StatusOK, &buf)
}

func (h *gridHandlers) list(w http.ResponseWriter, r *http.Request) {
	g, err := h.grid(r)
	if err != nil {
		h.errors.Write(w, r, err)
		return
	}
	g.LoadState(r.URL.Query())
	view, err := g.View(r.Context(), GridPermissions(r.Context(), g.Def))
	if err != nil {
		h.errors.Write(w, r, err)
		return
	}

	page := render.GridPage{
		Title:       g.Title(),
		Breadcrumbs: []render.Crumb{{Title: g.Title(), Link: g.ListLink()}},
		Grid:        view,
	}
	var buf bytes.Buffer
	if err := h.renderer.Grid(&buf, page, isAjax(r)); err != nil {
		h.errors.Write(w, r, err)
		return
	}
	writeHTML(w, http.StatusOK, &buf)
}

func (h *gridHandlers) link(w http.ResponseWriter, r *http.Request) {
	g, err := h.grid(r)
	if err != nil {
		h.errors.Write(w, r, err)
		return
	}
	if err := h.forms.ServeLink(w, r, g); err != nil {
		h.errors.Write(w, r, err)
	}
}

func (h *gridHandlers) item(w http.ResponseWriter, r *http.Request) {
	g, err := h.grid(r)
	if err != nil {
		h.errors.Write(w, r, err)
		return
	}
	if err := h.forms.ServeItem(w, r, g, chi.URLParam(r, "*")); err != nil {
		h.errors.Write(w, r, err)
	}
}

// grid builds the top-level grid named in the URL, enforcing the view
// capability.
func (h *gridHandlers) grid(r *http.Request) (*grid.Grid, error) {
	gridID := chi.URLParam(r, "gridId")
	def, ok := h.registry.Grid(gridID)
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("grid %q not found", gridID))
	}
	if !CapabilitiesFrom(r.Context()).CanGrid(def.ID, model.ActionView, def.Capabilities...) {
		return nil, model.NewForbiddenError(fmt.Sprintf("viewing grid %q is not allowed", def.ID))
	}
	return grid.New(r.Context(), def, h.resolver, grid.Options{
		BaseLink:        h.gridLink(def.ID),
		DefaultPageSize: h.cfg.DetailForm.DefaultPageSize,
	})
}

func (h *gridHandlers) gridLink(gridID string) string {
	return strings.TrimRight(h.cfg.Server.BasePath, "/") + "/" + gridID
}

func isAjax(r *http.Request) bool {
	return r.FormValue("ajax") == "1" || r.Header.Get("X-Requested-With") == "XMLHttpRequest"
}
