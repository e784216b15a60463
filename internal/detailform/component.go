package detailform

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/pitabwire/gridform/internal/form"
	"github.com/pitabwire/gridform/internal/grid"
	"github.com/pitabwire/gridform/internal/render"
	"github.com/pitabwire/gridform/model"
)

// FormCallback mutates an item edit form after it has been built. It runs
// once per construction, after the relation fields have been filled in.
type FormCallback func(f *form.Form, req ItemRequest)

// Component is the detail form of one grid. Nested grids get their own
// component whose Parent is the item request showing them.
type Component struct {
	Grid        *grid.Grid
	Parent      ItemRequest
	Permissions grid.Permissions

	h                *Handler
	itemRequestClass string
	factory          ItemRequestFactory
	callback         FormCallback
}

// SetItemEditFormCallback sets the hook run on every form this component
// builds.
func (c *Component) SetItemEditFormCallback(fn FormCallback) {
	c.callback = fn
}

// ItemEditFormCallback returns the form hook, or nil.
func (c *Component) ItemEditFormCallback() FormCallback {
	return c.callback
}

// SetItemRequestClass selects a registered item request implementation.
func (c *Component) SetItemRequestClass(name string) {
	c.itemRequestClass = name
}

// ItemRequestClass returns the name of the item request implementation in
// use: the one set on the component, else the grid's, else the default.
func (c *Component) ItemRequestClass() string {
	switch {
	case c.itemRequestClass != "":
		return c.itemRequestClass
	case c.Grid.Def.ItemRequest != "":
		return c.Grid.Def.ItemRequest
	}
	return DefaultItemRequestClass
}

// SetItemRequestFactory installs a factory directly, taking precedence over
// the item request class.
func (c *Component) SetItemRequestFactory(f ItemRequestFactory) {
	c.factory = f
}

// Depth returns the nesting depth of this component's item requests.
func (c *Component) Depth() int {
	return c.Grid.Depth + 1
}

// Handler returns the handler the component was built by.
func (c *Component) Handler() *Handler {
	return c.h
}

// ItemRequest builds the item request for record.
func (c *Component) ItemRequest(record *model.Record) (ItemRequest, error) {
	f := c.factory
	if f == nil {
		var ok bool
		f, ok = c.h.factories.Get(c.ItemRequestClass())
		if !ok {
			return nil, fmt.Errorf("grid %s: unknown item request class %q", c.Grid.Name(), c.ItemRequestClass())
		}
	}
	return f(c, record), nil
}

// HandleItem routes segments, the path after "item/", to the addressed
// record's item request. Records outside the grid's scope redirect to the
// listing.
func (c *Component) HandleItem(w http.ResponseWriter, r *http.Request, segments []string) error {
	if len(segments) == 0 {
		return model.NewMalformedPathError(c.Grid.BaseLink + "/item")
	}
	depth := c.Depth()
	if depth > c.h.maxDepth {
		return model.NewNestingTooDeepError(c.h.maxDepth)
	}
	ctx := r.Context()
	c.h.metrics.RecordNestingDepth(depth)

	var record *model.Record
	if segments[0] == "new" {
		if !c.Permissions.Create {
			return model.NewForbiddenError(fmt.Sprintf("creating records in grid %q is not allowed", c.Grid.Name()))
		}
		record = model.NewRecord(c.Grid.Type.Name)
	} else {
		id, err := strconv.ParseInt(segments[0], 10, 64)
		if err != nil || id < 1 {
			return model.NewMalformedPathError(c.Grid.BaseLink + "/item/" + segments[0])
		}
		record, err = c.Grid.Lookup(ctx, id)
		if model.IsCode(err, model.ErrOutOfScope) {
			c.h.metrics.RecordScopeRedirect(c.Grid.Name())
			http.Redirect(w, r, c.Grid.ListLink(), http.StatusFound)
			return nil
		}
		if err != nil {
			return err
		}
	}

	req, err := c.ItemRequest(record)
	if err != nil {
		return err
	}
	return req.Handle(w, r, segments[1:])
}

// HandleLink attaches the record posted as ID to the grid's relation and
// redirects back to where the grid is shown.
func (c *Component) HandleLink(w http.ResponseWriter, r *http.Request) error {
	g := c.Grid
	if !g.CanLinkExisting() || g.Owner == nil || g.Owner.IsNew() {
		return model.NewBadRequestError(fmt.Sprintf("grid %q does not link existing records", g.Name()))
	}
	if !c.Permissions.Edit {
		return model.NewForbiddenError(fmt.Sprintf("editing grid %q is not allowed", g.Name()))
	}
	if err := r.ParseForm(); err != nil {
		return model.NewBadRequestError("invalid form body")
	}
	id, err := strconv.ParseInt(r.PostForm.Get("ID"), 10, 64)
	if err != nil || id < 1 {
		return model.NewValidationError([]model.FieldError{{Field: "ID", Code: "INVALID", Message: "a record to link is required"}})
	}
	if err := g.Resolver().Link(r.Context(), *g.Relation, g.Owner, id); err != nil {
		return err
	}
	c.h.metrics.RecordLink(g.Name())
	http.Redirect(w, r, c.returnLink(), http.StatusSeeOther)
	return nil
}

// HandleGrid renders the grid on its own, as a fragment for ajax requests.
func (c *Component) HandleGrid(w http.ResponseWriter, r *http.Request) error {
	view, err := c.Grid.View(r.Context(), c.Permissions)
	if err != nil {
		return err
	}
	page := render.GridPage{
		Title:       c.Grid.Title(),
		Breadcrumbs: c.Breadcrumbs(),
		Grid:        view,
	}
	var buf bytes.Buffer
	if err := c.h.renderer.Grid(&buf, page, isAjax(r)); err != nil {
		return err
	}
	writeHTML(w, http.StatusOK, &buf)
	return nil
}

// Breadcrumbs returns the trail down to this component's grid.
func (c *Component) Breadcrumbs() []render.Crumb {
	var crumbs []render.Crumb
	if c.Parent != nil {
		crumbs = c.Parent.Breadcrumbs()
	}
	return append(crumbs, render.Crumb{Title: c.Grid.Title(), Link: c.Grid.ListLink()})
}

// returnLink is where the grid is shown: the parent's form for nested grids,
// the listing otherwise.
func (c *Component) returnLink() string {
	if c.Parent != nil {
		return c.Parent.Link() + "/edit"
	}
	return c.Grid.ListLink()
}
