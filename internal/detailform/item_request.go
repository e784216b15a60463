package detailform

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pitabwire/gridform/internal/form"
	"github.com/pitabwire/gridform/internal/grid"
	"github.com/pitabwire/gridform/internal/idempotency"
	"github.com/pitabwire/gridform/internal/observability"
	"github.com/pitabwire/gridform/internal/relation"
	"github.com/pitabwire/gridform/internal/render"
	"github.com/pitabwire/gridform/model"
)

// Render modes.
const (
	modeNew  = "new"
	modeEdit = "edit"
	modeView = "view"
)

// ItemRequest serves the requests addressed to one record of a grid. A new
// item request is built for every HTTP request.
type ItemRequest interface {
	Component() *Component
	Record() *model.Record
	Depth() int

	// Link is the URL of the item without an action.
	Link() string
	Breadcrumbs() []render.Crumb

	// ItemEditForm builds the form of the record. The form is built once
	// per item request.
	ItemEditForm(ctx context.Context) (*form.Form, error)

	// Handle serves rest, the path segments after the record ID.
	Handle(w http.ResponseWriter, r *http.Request, rest []string) error
}

// DefaultItemRequest is the standard ItemRequest.
type DefaultItemRequest struct {
	component *Component
	record    *model.Record
	depth     int
	form      *form.Form
}

// NewItemRequest creates the standard item request for record.
func NewItemRequest(c *Component, record *model.Record) ItemRequest {
	return &DefaultItemRequest{component: c, record: record, depth: c.Depth()}
}

// Component implements ItemRequest.
func (r *DefaultItemRequest) Component() *Component {
	return r.component
}

// Record implements ItemRequest.
func (r *DefaultItemRequest) Record() *model.Record {
	return r.record
}

// Depth implements ItemRequest.
func (r *DefaultItemRequest) Depth() int {
	return r.depth
}

// Link implements ItemRequest.
func (r *DefaultItemRequest) Link() string {
	if r.record.IsNew() {
		return r.component.Grid.BaseLink + "/item/new"
	}
	return r.component.Grid.ItemBase(r.record.ID)
}

// Breadcrumbs implements ItemRequest.
func (r *DefaultItemRequest) Breadcrumbs() []render.Crumb {
	return append(r.component.Breadcrumbs(), render.Crumb{Title: r.title(), Link: r.Link() + "/edit"})
}

func (r *DefaultItemRequest) title() string {
	if r.record.IsNew() {
		return "New " + r.component.Grid.Type.DisplayLabel()
	}
	return r.record.Title(r.component.Grid.Type)
}

func (r *DefaultItemRequest) resolver() *relation.Resolver {
	return r.component.Grid.Resolver()
}

// ItemEditForm implements ItemRequest. Has-one relations become selects
// unless the grid's relation binds them, in which case they hold the owner.
// The component's callback runs last.
func (r *DefaultItemRequest) ItemEditForm(ctx context.Context) (*form.Form, error) {
	if r.form != nil {
		return r.form, nil
	}
	c := r.component
	g := c.Grid
	resolver := r.resolver()

	f := form.New(r.Link() + "/" + form.Name)
	for _, fd := range g.Type.Fields {
		f.Add(form.NewField(fd))
	}
	for _, rd := range g.Type.Relations {
		if rd.Kind != model.HasOne || rd.Polymorphic {
			continue
		}
		d, err := resolver.Describe(g.Type.Name, rd.Name)
		if err != nil {
			return nil, err
		}
		options, err := resolver.Options(ctx, d)
		if err != nil {
			return nil, err
		}
		f.Add(form.NewSelect(d.ForeignKey, d.Label, options))
	}
	f.LoadRecord(r.record)

	if g.Relation != nil {
		for _, b := range resolver.Prepopulate(*g.Relation, g.Owner, r.record) {
			if b.Hidden {
				f.Add(form.NewHidden(b.Field, b.Value, model.FieldString))
				continue
			}
			f.Add(form.NewHolder(b.Field, r.bindingLabel(b.Field), b.Display, b.Value, model.FieldInt))
		}
		if g.Relation.HasExtraFields() {
			values, err := resolver.ExtraFields(ctx, *g.Relation, g.Owner, r.record)
			if err != nil {
				return nil, err
			}
			for _, fd := range g.Relation.ExtraFields {
				fld := form.NewField(fd)
				fld.Name = form.ExtraName(fd.Name)
				fld.Extra = true
				fld.SetValue(values[fd.Name])
				f.Add(fld)
			}
		}
	}

	f.Add(form.NewHidden(form.SaveTokenField, uuid.NewString(), ""))

	if r.canSave() {
		f.AddAction(form.ActionSave, "Save", "action action--save")
	}
	if !r.record.IsNew() && c.Permissions.Delete {
		title := "Delete"
		if g.UnlinksOnDelete() {
			title = "Unlink"
		}
		f.AddAction(form.ActionDelete, title, "action action--delete")
	}

	if c.callback != nil {
		c.callback(f, r)
	}
	r.form = f
	return f, nil
}

// bindingLabel labels a holder after the has-one relation owning field.
func (r *DefaultItemRequest) bindingLabel(field string) string {
	for _, rd := range r.component.Grid.Type.Relations {
		if rd.Kind == model.HasOne && model.ForeignKey(rd.Name) == field {
			return rd.DisplayLabel()
		}
	}
	return field
}

// Handle implements ItemRequest.
func (r *DefaultItemRequest) Handle(w http.ResponseWriter, req *http.Request, rest []string) error {
	g := r.component.Grid
	ctx, span := observability.StartSpan(req.Context(), "detailform.item",
		observability.AttrGridID.String(g.Name()),
		observability.AttrRecordType.String(g.Type.Name),
		observability.AttrRecordID.Int64(r.record.ID),
		observability.AttrDepth.Int(r.depth),
	)
	err := r.dispatch(w, req.WithContext(ctx), rest)
	observability.EndSpanWithError(span, err)
	return err
}

func (r *DefaultItemRequest) dispatch(w http.ResponseWriter, req *http.Request, rest []string) error {
	isNew := r.record.IsNew()
	get := req.Method == http.MethodGet || req.Method == http.MethodHead

	switch {
	case len(rest) == 0 && get:
		return r.show(w, req, false)
	case len(rest) == 1 && rest[0] == modeEdit && get && !isNew:
		return r.show(w, req, false)
	case len(rest) == 1 && rest[0] == modeView && get && !isNew:
		return r.show(w, req, true)
	case len(rest) == 1 && rest[0] == form.Name && req.Method == http.MethodPost:
		return r.submit(w, req)
	case len(rest) >= 3 && rest[0] == form.Name && rest[1] == "field" && !isNew:
		return r.field(w, req, rest[2], rest[3:])
	}
	return model.NewMalformedPathError(req.URL.Path)
}

func (r *DefaultItemRequest) show(w http.ResponseWriter, req *http.Request, view bool) error {
	f, err := r.ItemEditForm(req.Context())
	if err != nil {
		return err
	}
	mode := r.mode()
	if view || !r.canSave() {
		f.MakeReadOnly()
		mode = modeView
	}
	return r.render(w, req, f, mode, http.StatusOK)
}

func (r *DefaultItemRequest) mode() string {
	if r.record.IsNew() {
		return modeNew
	}
	return modeEdit
}

func (r *DefaultItemRequest) canSave() bool {
	if r.record.IsNew() {
		return r.component.Permissions.Create
	}
	return r.component.Permissions.Edit
}

func (r *DefaultItemRequest) render(w http.ResponseWriter, req *http.Request, f *form.Form, mode string, status int) error {
	ctx := req.Context()
	c := r.component
	page := render.ItemPage{
		Title:       r.title(),
		BackLink:    c.returnLink(),
		Breadcrumbs: r.Breadcrumbs(),
		RecordID:    r.record.ID,
		Form:        f,
	}
	if !r.record.IsNew() && r.depth < c.h.maxDepth {
		nested, err := r.nestedGrids(ctx, f, req.URL.Query())
		if err != nil {
			return err
		}
		page.Nested = nested
	}

	var buf bytes.Buffer
	if err := c.h.renderer.Item(&buf, page, isAjax(req)); err != nil {
		return err
	}
	c.h.metrics.RecordFormRender(c.Grid.Name(), mode)
	writeHTML(w, status, &buf)
	return nil
}

// nestedGrids lists every to-many relation of the record.
func (r *DefaultItemRequest) nestedGrids(ctx context.Context, f *form.Form, query url.Values) ([]render.NestedGrid, error) {
	var out []render.NestedGrid
	for _, rd := range r.component.Grid.Type.Relations {
		if rd.Kind == model.HasOne {
			continue
		}
		nc, err := r.NestedComponent(rd.Name)
		if err != nil {
			return nil, err
		}
		nc.Grid.LoadState(query)
		view, err := nc.Grid.View(ctx, nc.Permissions)
		if err != nil {
			return nil, err
		}
		out = append(out, render.NestedGrid{FieldsetID: f.ID() + "_" + rd.Name, Grid: view})
	}
	return out, nil
}

// NestedComponent returns the component of the grid listing relationName
// inside this record's form.
func (r *DefaultItemRequest) NestedComponent(relationName string) (*Component, error) {
	if r.record.IsNew() {
		return nil, model.NewMalformedPathError(r.Link() + "/" + form.Name + "/field/" + relationName)
	}
	c := r.component
	g, err := grid.Nested(r.record, relationName, c.Grid, grid.Options{
		BaseLink:        r.Link() + "/" + form.Name + "/field/" + relationName,
		Depth:           r.depth,
		DefaultPageSize: c.h.pageSize,
	})
	if err != nil {
		return nil, err
	}
	return c.h.newComponent(g, r, c.Permissions), nil
}

func (r *DefaultItemRequest) field(w http.ResponseWriter, req *http.Request, relationName string, rest []string) error {
	nc, err := r.NestedComponent(relationName)
	if err != nil {
		return err
	}
	nc.Grid.LoadState(req.URL.Query())

	switch {
	case len(rest) == 0 && req.Method == http.MethodGet:
		return nc.HandleGrid(w, req)
	case len(rest) == 1 && rest[0] == "link" && req.Method == http.MethodPost:
		return nc.HandleLink(w, req)
	case len(rest) >= 1 && rest[0] == "item":
		return nc.HandleItem(w, req, rest[1:])
	}
	return model.NewMalformedPathError(req.URL.Path)
}

func (r *DefaultItemRequest) submit(w http.ResponseWriter, req *http.Request) error {
	if err := req.ParseForm(); err != nil {
		return model.NewBadRequestError("invalid form body")
	}
	logger := observability.RequestLogger(req.Context(), r.component.h.logger)
	logger.Debug("item form submitted",
		zap.String("grid", r.component.Grid.Name()),
		zap.Any("values", observability.RedactBody(observability.FormValues(req.PostForm), nil)),
	)
	if req.PostForm.Has(form.ActionDelete) {
		return r.doDelete(w, req)
	}
	return r.doSave(w, req)
}

func (r *DefaultItemRequest) doSave(w http.ResponseWriter, req *http.Request) (err error) {
	c := r.component
	g := c.Grid
	h := c.h
	ctx, span := observability.StartSpan(req.Context(), "detailform.save",
		observability.AttrGridID.String(g.Name()),
		observability.AttrRecordID.Int64(r.record.ID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()
	req = req.WithContext(ctx)

	if !r.canSave() {
		return model.NewForbiddenError(fmt.Sprintf("saving records in grid %q is not allowed", g.Name()))
	}
	f, err := r.ItemEditForm(ctx)
	if err != nil {
		return err
	}

	// Step 1: Replay a save already recorded under the form's token.
	var key, hash string
	if token := req.PostForm.Get(form.SaveTokenField); token != "" && h.idempotency != nil {
		key = idempotency.SaveKey(f.Action, token)
		hash = idempotency.HashInput(req.PostForm, form.SaveTokenField, "ajax")
		prev, found, err := h.idempotency.Check(ctx, key, hash)
		if err != nil {
			if model.IsCode(err, model.ErrConflict) {
				h.metrics.RecordFormSave(g.Name(), observability.SaveConflict)
			}
			return err
		}
		if found {
			h.metrics.RecordFormSave(g.Name(), observability.SaveReplayed)
			return r.replay(w, req, prev)
		}
	}

	// Step 2: Validate the submitted values.
	f.LoadPosted(req.PostForm)
	if err := f.Validate(); err != nil {
		return r.invalid(w, req, f, err)
	}
	data, err := f.Data()
	if err != nil {
		return r.invalid(w, req, f, err)
	}
	extra := form.ExtraValues(req.PostForm)
	if err := r.validateExtra(extra); err != nil {
		f.SetErrors(err.Details)
		return r.invalid(w, req, f, err)
	}

	// Step 3: Persist the record and its relation.
	created := r.record.IsNew()
	for name, v := range data {
		r.record.Set(name, v)
	}
	if err := g.Resolver().Store().Save(ctx, r.record); err != nil {
		h.metrics.RecordFormSave(g.Name(), observability.SaveError)
		return err
	}
	if g.Relation != nil && g.Relation.Kind.IsManyMany() {
		if err := g.Resolver().WriteBack(ctx, *g.Relation, g.Owner, r.record, extra); err != nil {
			h.metrics.RecordFormSave(g.Name(), observability.SaveError)
			if created {
				r.discard(ctx)
			}
			return err
		}
	}

	// Step 4: Record the outcome for resubmissions.
	location := g.ItemLink(r.record.ID, modeEdit)
	logger := observability.RequestLogger(ctx, h.logger)
	if key != "" {
		result := idempotency.SaveResult{RecordID: r.record.ID, Location: location}
		if err := h.idempotency.Record(ctx, key, hash, result, h.idempotencyTTL); err != nil {
			logger.Warn("recording save token failed", zap.String("key", key), zap.Error(err))
		}
	}

	outcome := observability.SaveUpdated
	if created {
		outcome = observability.SaveCreated
	}
	h.metrics.RecordFormSave(g.Name(), outcome)
	logger.Info("record saved",
		zap.String("grid", g.Name()),
		zap.String("type", r.record.Type),
		zap.Int64("record_id", r.record.ID),
		zap.Bool("created", created),
	)
	return r.saved(w, req, location)
}

// validateExtra coerces the submitted extra fields before anything is
// written.
func (r *DefaultItemRequest) validateExtra(extra url.Values) *model.ErrorEnvelope {
	rel := r.component.Grid.Relation
	if rel == nil || !rel.HasExtraFields() {
		return nil
	}
	var details []model.FieldError
	for _, fd := range rel.ExtraFields {
		raw, present := extra[fd.Name]
		value := ""
		if len(raw) > 0 {
			value = raw[0]
		}
		if _, err := relation.Coerce(fd.Type, value, present); err != nil {
			details = append(details, model.FieldError{Field: fd.Name, Code: "INVALID", Message: err.Error()})
		}
	}
	if len(details) > 0 {
		return model.NewValidationError(details)
	}
	return nil
}

func (r *DefaultItemRequest) invalid(w http.ResponseWriter, req *http.Request, f *form.Form, err error) error {
	ee, ok := model.EnvelopeFrom(err)
	if !ok || ee.Code != model.ErrValidationError {
		return err
	}
	g := r.component.Grid
	r.component.h.metrics.RecordValidationFailures(g.Name(), len(ee.Details))
	r.component.h.metrics.RecordFormSave(g.Name(), observability.SaveInvalid)
	return r.render(w, req, f, r.mode(), http.StatusUnprocessableEntity)
}

// discard removes a record created by a save whose relation could not be
// written, so a retry with the same token does not leave a duplicate.
func (r *DefaultItemRequest) discard(ctx context.Context) {
	id := r.record.ID
	if err := r.component.Grid.Resolver().Store().Delete(ctx, r.record.Type, id); err != nil {
		observability.RequestLogger(ctx, r.component.h.logger).Warn("discarding unlinked record failed",
			zap.String("type", r.record.Type),
			zap.Int64("record_id", id),
			zap.Error(err),
		)
	}
	r.record.ID = 0
}

// saved answers a successful save: ajax requests get the saved record's
// form, others are redirected to it.
func (r *DefaultItemRequest) saved(w http.ResponseWriter, req *http.Request, location string) error {
	if !isAjax(req) {
		http.Redirect(w, req, location, http.StatusSeeOther)
		return nil
	}
	r.form = nil
	f, err := r.ItemEditForm(req.Context())
	if err != nil {
		return err
	}
	f.Message = "Saved"
	w.Header().Set("X-Record-Id", strconv.FormatInt(r.record.ID, 10))
	return r.render(w, req, f, modeEdit, http.StatusOK)
}

func (r *DefaultItemRequest) replay(w http.ResponseWriter, req *http.Request, prev *idempotency.SaveResult) error {
	if !isAjax(req) {
		http.Redirect(w, req, prev.Location, http.StatusSeeOther)
		return nil
	}
	rec, err := r.component.Grid.Lookup(req.Context(), prev.RecordID)
	if err != nil {
		if model.IsCode(err, model.ErrOutOfScope) {
			http.Redirect(w, req, r.component.Grid.ListLink(), http.StatusFound)
			return nil
		}
		return err
	}
	r.record = rec
	return r.saved(w, req, prev.Location)
}

func (r *DefaultItemRequest) doDelete(w http.ResponseWriter, req *http.Request) error {
	c := r.component
	g := c.Grid
	ctx := req.Context()
	if r.record.IsNew() {
		return model.NewBadRequestError("unsaved records cannot be deleted")
	}
	if !c.Permissions.Delete {
		return model.NewForbiddenError(fmt.Sprintf("deleting records in grid %q is not allowed", g.Name()))
	}

	mode := "delete"
	if g.UnlinksOnDelete() {
		mode = "unlink"
		if err := g.Resolver().Unlink(ctx, *g.Relation, g.Owner, r.record.ID); err != nil {
			return err
		}
	} else if err := g.Resolver().Store().Delete(ctx, r.record.Type, r.record.ID); err != nil {
		return err
	}

	c.h.metrics.RecordDelete(g.Name(), mode)
	observability.RequestLogger(ctx, c.h.logger).Info("record removed",
		zap.String("grid", g.Name()),
		zap.Int64("record_id", r.record.ID),
		zap.String("mode", mode),
	)
	http.Redirect(w, req, c.returnLink(), http.StatusSeeOther)
	return nil
}
