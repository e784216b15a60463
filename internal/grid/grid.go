// Package grid lists records in a scope: every record of a type, or the
// records reachable through one relation of an owner record. It paginates the
// listing and builds the links to the detail forms of its rows.
package grid

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/pitabwire/gridform/internal/relation"
	"github.com/pitabwire/gridform/internal/store"
	"github.com/pitabwire/gridform/model"
)

// DefaultPageSize is used when neither the definition nor the options set one.
const DefaultPageSize = 15

// State is the per-grid UI state carried between requests.
type State struct {
	Page int `json:"page"`
}

// Options configure a Grid.
type Options struct {
	// BaseLink is the URL of the grid itself. Item links are built below it.
	BaseLink string
	// Depth is the nesting depth: 0 for a grid on its own page, N for a grid
	// inside the form of a depth N-1 item.
	Depth           int
	DefaultPageSize int
}

// Grid is a scoped, paginated listing of records.
type Grid struct {
	Def      model.GridDefinition
	Type     model.TypeDefinition
	Owner    *model.Record
	Relation *model.RelationDescriptor
	BaseLink string
	Depth    int
	State    State

	resolver *relation.Resolver
	pageSize int
}

// New builds a top-level grid from its definition. Grids over an owner
// relation resolve the owner record here; a missing owner is NOT_FOUND.
func New(ctx context.Context, def model.GridDefinition, resolver *relation.Resolver, opts Options) (*Grid, error) {
	g := &Grid{
		Def:      def,
		BaseLink: opts.BaseLink,
		Depth:    opts.Depth,
		resolver: resolver,
		pageSize: pageSize(def.PageSize, opts.DefaultPageSize),
	}

	listed := def.Type
	if def.Owner != nil {
		owners, err := resolver.Store().Find(ctx, store.Query{Type: def.Owner.Type, Filter: def.Owner.Match, Limit: 1})
		if err != nil {
			return nil, fmt.Errorf("grid %s: finding owner: %w", def.ID, err)
		}
		if len(owners) == 0 {
			return nil, model.NewNotFoundError(fmt.Sprintf("grid %q has no %s owner matching %v", def.ID, def.Owner.Type, def.Owner.Match))
		}
		d, err := resolver.Describe(def.Owner.Type, def.Relation)
		if err != nil {
			return nil, fmt.Errorf("grid %s: %w", def.ID, err)
		}
		g.Owner = owners[0]
		g.Relation = &d
		listed = d.Target
	}

	td, ok := resolver.Types().Type(listed)
	if !ok {
		return nil, fmt.Errorf("grid %s: unknown type %q", def.ID, listed)
	}
	g.Type = td
	return g, nil
}

// Nested builds the grid listing relationName of owner, shown inside the
// detail form of owner. It inherits the capabilities of parent.
func Nested(owner *model.Record, relationName string, parent *Grid, opts Options) (*Grid, error) {
	resolver := parent.resolver
	d, err := resolver.Describe(owner.Type, relationName)
	if err != nil {
		return nil, err
	}
	if d.Kind == model.HasOne {
		return nil, model.NewUnknownRelationError(owner.Type, relationName)
	}
	td, ok := resolver.Types().Type(d.Target)
	if !ok {
		return nil, fmt.Errorf("relation %s.%s: unknown target type %q", owner.Type, relationName, d.Target)
	}

	def := model.GridDefinition{
		ID:               d.Name,
		Title:            d.Label,
		Type:             d.Target,
		Capabilities:     parent.Def.Capabilities,
		EditCapabilities: parent.Def.EditCapabilities,
		ItemRequest:      parent.Def.ItemRequest,
	}
	return &Grid{
		Def:      def,
		Type:     td,
		Owner:    owner,
		Relation: &d,
		BaseLink: opts.BaseLink,
		Depth:    opts.Depth,
		resolver: resolver,
		pageSize: pageSize(0, opts.DefaultPageSize),
	}, nil
}

func pageSize(def, fallback int) int {
	switch {
	case def > 0:
		return def
	case fallback > 0:
		return fallback
	}
	return DefaultPageSize
}

// Name identifies the grid within its page: the grid ID at the top level,
// the relation name when nested.
func (g *Grid) Name() string {
	return g.Def.ID
}

// Resolver returns the relation resolver the grid reads through.
func (g *Grid) Resolver() *relation.Resolver {
	return g.resolver
}

// Query returns the store query selecting every record in scope.
func (g *Grid) Query(ctx context.Context) (store.Query, error) {
	if g.Relation != nil {
		q, err := g.resolver.Query(ctx, *g.Relation, g.Owner)
		if err != nil {
			return store.Query{}, err
		}
		if len(g.Def.Filter) > 0 {
			q.Filter = mergeFilter(q.Filter, g.Def.Filter)
		}
		return q, nil
	}
	return store.Query{Type: g.Type.Name, Filter: g.Def.Filter}, nil
}

func mergeFilter(a, b map[string]any) map[string]any {
	out := make(map[string]any, len(a)+len(b))
	for k, v := range b {
		out[k] = v
	}
	for k, v := range a {
		out[k] = v
	}
	return out
}

// List returns every record in scope, across all pages.
func (g *Grid) List(ctx context.Context) ([]*model.Record, error) {
	q, err := g.Query(ctx)
	if err != nil {
		return nil, err
	}
	return g.resolver.Store().Find(ctx, q)
}

// Lookup returns the record with the given ID if the grid lists it on any
// page. Records outside the scope yield OUT_OF_SCOPE even when they exist,
// so callers cannot probe for records they are not shown.
func (g *Grid) Lookup(ctx context.Context, id int64) (*model.Record, error) {
	q, err := g.Query(ctx)
	if err != nil {
		return nil, err
	}

	if q.RestrictIDs {
		found := false
		for _, allowed := range q.IDs {
			if allowed == id {
				found = true
				break
			}
		}
		if !found {
			return nil, model.NewOutOfScopeError(g.Name(), id)
		}
	}
	q.IDs = []int64{id}
	q.RestrictIDs = true

	records, err := g.resolver.Store().Find(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, model.NewOutOfScopeError(g.Name(), id)
	}
	return records[0], nil
}

// Page is one page of a grid listing.
type Page struct {
	Records   []*model.Record
	Number    int
	PageCount int
	Total     int
}

// Page returns the records on the page selected by the grid state.
func (g *Grid) Page(ctx context.Context) (Page, error) {
	q, err := g.Query(ctx)
	if err != nil {
		return Page{}, err
	}
	total, err := g.resolver.Store().Count(ctx, q)
	if err != nil {
		return Page{}, err
	}

	pageCount := (total + g.pageSize - 1) / g.pageSize
	if pageCount == 0 {
		pageCount = 1
	}
	number := g.State.Page
	if number < 1 {
		number = 1
	}
	if number > pageCount {
		number = pageCount
	}

	q.Limit = g.pageSize
	q.Offset = (number - 1) * g.pageSize
	records, err := g.resolver.Store().Find(ctx, q)
	if err != nil {
		return Page{}, err
	}
	return Page{Records: records, Number: number, PageCount: pageCount, Total: total}, nil
}

// PageSize returns the number of records per page.
func (g *Grid) PageSize() int {
	return g.pageSize
}

// StateParam is the query parameter carrying the grid's state.
func (g *Grid) StateParam() string {
	return fmt.Sprintf("gridState-%s-%d", g.Name(), g.Depth)
}

// LoadState reads the grid state from query values. Invalid state is
// ignored.
func (g *Grid) LoadState(values url.Values) {
	raw := values.Get(g.StateParam())
	if raw == "" {
		return
	}
	var s State
	if err := json.Unmarshal([]byte(raw), &s); err == nil {
		g.State = s
	}
}

// stateQuery returns the query string that nested links carry so the grid
// keeps its state across the item round trip. Top-level grids carry none.
func (g *Grid) stateQuery() string {
	if g.Depth < 1 {
		return ""
	}
	return "?" + g.stateValue(g.State)
}

func (g *Grid) stateValue(s State) string {
	b, _ := json.Marshal(s)
	return g.StateParam() + "=" + url.QueryEscape(string(b))
}

// ItemBase returns the URL of an item below this grid, without an action.
func (g *Grid) ItemBase(id int64) string {
	return g.BaseLink + "/item/" + strconv.FormatInt(id, 10)
}

// ItemLink returns the URL of an item action ("edit" or "view").
func (g *Grid) ItemLink(id int64, action string) string {
	return g.ItemBase(id) + "/" + action + g.stateQuery()
}

// NewLink returns the URL of the create form.
func (g *Grid) NewLink() string {
	return g.BaseLink + "/item/new" + g.stateQuery()
}

// ListLink returns the URL of the grid listing.
func (g *Grid) ListLink() string {
	return g.BaseLink
}

// PageLink returns the URL of the listing at the given page.
func (g *Grid) PageLink(page int) string {
	return g.BaseLink + "?" + g.stateValue(State{Page: page})
}

// LinkAction returns the URL that links an existing record into the grid's
// relation.
func (g *Grid) LinkAction() string {
	return g.BaseLink + "/link"
}

// CanLinkExisting reports whether existing records can be attached to the
// grid's relation.
func (g *Grid) CanLinkExisting() bool {
	return g.Relation != nil && g.Relation.Kind.IsManyMany()
}

// UnlinksOnDelete reports whether deleting an item from this grid only
// detaches it from the owner.
func (g *Grid) UnlinksOnDelete() bool {
	return g.Relation != nil && g.Relation.Kind.IsManyMany()
}

// LinkCandidates returns records of the listed type that are not yet in the
// grid's relation.
func (g *Grid) LinkCandidates(ctx context.Context) ([]*model.Record, error) {
	if !g.CanLinkExisting() {
		return nil, nil
	}
	inScope, err := g.List(ctx)
	if err != nil {
		return nil, err
	}
	linked := make(map[int64]bool, len(inScope))
	for _, r := range inScope {
		linked[r.ID] = true
	}

	all, err := g.resolver.Store().Find(ctx, store.Query{Type: g.Type.Name})
	if err != nil {
		return nil, err
	}
	var candidates []*model.Record
	for _, r := range all {
		if !linked[r.ID] {
			candidates = append(candidates, r)
		}
	}
	return candidates, nil
}

// Columns returns the columns to display. Without declared columns, the
// first three scalar fields of the listed type are shown.
func (g *Grid) Columns() []model.ColumnDefinition {
	if len(g.Def.Columns) > 0 {
		return g.Def.Columns
	}
	var cols []model.ColumnDefinition
	for _, f := range g.Type.Fields {
		if f.Type == model.FieldHTML || f.Type == model.FieldText {
			continue
		}
		cols = append(cols, model.ColumnDefinition{Field: f.Name, Label: f.DisplayLabel()})
		if len(cols) == 3 {
			break
		}
	}
	return cols
}

// Title returns the grid heading.
func (g *Grid) Title() string {
	if g.Def.Title != "" {
		return g.Def.Title
	}
	return g.Type.DisplayLabel()
}
