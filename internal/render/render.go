// Package render turns grid and form views into HTML using pongo2 templates
// embedded in the binary.
package render

import (
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/flosch/pongo2/v6"

	"github.com/pitabwire/gridform/internal/form"
	"github.com/pitabwire/gridform/internal/grid"
)

//go:embed templates/*.html
var templateFS embed.FS

// Crumb is one breadcrumb entry.
type Crumb struct {
	Title string
	Link  string
}

// NestedGrid is a grid shown below an item form.
type NestedGrid struct {
	FieldsetID string
	Grid       grid.View
}

// ItemPage is the data of an item form page.
type ItemPage struct {
	Title       string
	BackLink    string
	Breadcrumbs []Crumb
	RecordID    int64
	Form        *form.Form
	Nested      []NestedGrid
}

// GridPage is the data of a grid listing page, or of a nested grid rendered
// on its own.
type GridPage struct {
	Title       string
	Breadcrumbs []Crumb
	Grid        grid.View
}

// IndexEntry is one grid on the index page.
type IndexEntry struct {
	ID    string
	Title string
	Link  string
}

// IndexPage lists the grids visible to the user.
type IndexPage struct {
	Title       string
	Breadcrumbs []Crumb
	Grids       []IndexEntry
}

// ErrorPage reports a failed request.
type ErrorPage struct {
	Title       string
	Breadcrumbs []Crumb
	Status      int
	Code        string
	Message     string
	TraceID     string
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithTemplates replaces the embedded templates, for example with a
// directory of customized copies.
func WithTemplates(fsys fs.FS) Option {
	return func(r *Renderer) {
		r.fsys = fsys
	}
}

// WithDebug recompiles templates on every render.
func WithDebug(debug bool) Option {
	return func(r *Renderer) {
		r.debug = debug
	}
}

// Renderer renders pages. It is safe for concurrent use.
type Renderer struct {
	fsys  fs.FS
	debug bool
	set   *pongo2.TemplateSet
}

// New creates a Renderer and compiles every page template once so syntax
// errors surface at startup.
func New(opts ...Option) (*Renderer, error) {
	r := &Renderer{}
	for _, opt := range opts {
		opt(r)
	}
	if r.fsys == nil {
		sub, err := fs.Sub(templateFS, "templates")
		if err != nil {
			return nil, fmt.Errorf("render: embedded templates: %w", err)
		}
		r.fsys = sub
	}

	r.set = pongo2.NewSet("gridform", pongo2.NewFSLoader(r.fsys))
	r.set.Debug = r.debug

	for _, name := range []string{"index.html", "grid.html", "grid_fragment.html", "item.html", "item_fragment.html", "error.html"} {
		if _, err := r.set.FromCache(name); err != nil {
			return nil, fmt.Errorf("render: compile %s: %w", name, err)
		}
	}
	return r, nil
}

// Item renders an item form page, or only its form and nested grids when
// fragment is set.
func (r *Renderer) Item(w io.Writer, page ItemPage, fragment bool) error {
	if page.Form == nil {
		return errors.New("render: item page without form")
	}
	name := "item.html"
	if fragment {
		name = "item_fragment.html"
	}
	return r.execute(w, name, page)
}

// Grid renders a grid listing page, or only the grid when fragment is set.
func (r *Renderer) Grid(w io.Writer, page GridPage, fragment bool) error {
	name := "grid.html"
	if fragment {
		name = "grid_fragment.html"
	}
	return r.execute(w, name, page)
}

// Index renders the grid index.
func (r *Renderer) Index(w io.Writer, page IndexPage) error {
	return r.execute(w, "index.html", page)
}

// Error renders an error page.
func (r *Renderer) Error(w io.Writer, page ErrorPage) error {
	return r.execute(w, "error.html", page)
}

// execute writes nothing to w when the template fails.
func (r *Renderer) execute(w io.Writer, name string, page any) error {
	tpl, err := r.set.FromCache(name)
	if err != nil {
		return fmt.Errorf("render: load %s: %w", name, err)
	}
	if err := tpl.ExecuteWriter(pongo2.Context{"page": page}, w); err != nil {
		return fmt.Errorf("render: execute %s: %w", name, err)
	}
	return nil
}
