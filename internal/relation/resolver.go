// Package relation resolves declared relations between record types: which
// keys bind them, which records they contain, and how a child form is wired
// to its parent.
package relation

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/pitabwire/gridform/internal/store"
	"github.com/pitabwire/gridform/model"
)

// TypeSource looks up record type definitions.
type TypeSource interface {
	Type(name string) (model.TypeDefinition, bool)
}

// Binding is a field value the resolver assigns to a child record so it is
// attached to its parent. Display is the parent's title.
type Binding struct {
	Field   string
	Value   string
	Display string
	Hidden  bool
}

// Option is a selectable target of a has-one relation.
type Option struct {
	Value string
	Label string
}

// Resolver answers relation questions against a record store.
type Resolver struct {
	types TypeSource
	store store.RecordStore
}

// NewResolver creates a Resolver.
func NewResolver(types TypeSource, s store.RecordStore) *Resolver {
	return &Resolver{types: types, store: s}
}

// Types returns the type source the resolver was built with.
func (r *Resolver) Types() TypeSource {
	return r.types
}

// Store returns the record store the resolver reads from.
func (r *Resolver) Store() store.RecordStore {
	return r.store
}

// Describe resolves the relation named relation on ownerType.
func (r *Resolver) Describe(ownerType, relation string) (model.RelationDescriptor, error) {
	td, ok := r.types.Type(ownerType)
	if !ok {
		return model.RelationDescriptor{}, model.NewUnknownRelationError(ownerType, relation)
	}
	def, ok := td.Relation(relation)
	if !ok {
		return model.RelationDescriptor{}, model.NewUnknownRelationError(ownerType, relation)
	}

	d := model.RelationDescriptor{
		OwnerType:   ownerType,
		Name:        def.Name,
		Label:       def.DisplayLabel(),
		Kind:        def.Kind,
		Target:      def.Target,
		Polymorphic: def.Polymorphic,
		ExtraFields: def.ExtraFields,
	}

	switch def.Kind {
	case model.HasOne:
		d.ForeignKey = model.ForeignKey(def.Name)
		if def.Polymorphic {
			d.ClassKey = model.ClassKey(def.Name)
		}
	case model.HasMany:
		inverse := def.Inverse
		if inverse == "" {
			return model.RelationDescriptor{}, fmt.Errorf("relation %s.%s has no inverse", ownerType, relation)
		}
		d.ForeignKey = model.ForeignKey(inverse)
		if def.Polymorphic {
			d.ClassKey = model.ClassKey(inverse)
		}
	case model.ManyMany, model.ManyManyPolymorphic:
		d.JoinTable = def.JoinTable
		if d.JoinTable == "" {
			d.JoinTable = ownerType + "_" + def.Name
		}
	default:
		return model.RelationDescriptor{}, fmt.Errorf("relation %s.%s has unsupported kind %q", ownerType, relation, def.Kind)
	}
	return d, nil
}

// Query returns the store query selecting the records in owner's relation.
// Unsaved owners have no related records.
func (r *Resolver) Query(ctx context.Context, d model.RelationDescriptor, owner *model.Record) (store.Query, error) {
	if owner == nil || owner.IsNew() {
		return store.ByIDs(d.Target, nil), nil
	}

	switch d.Kind {
	case model.HasMany:
		filter := map[string]any{d.ForeignKey: owner.ID}
		if d.Polymorphic {
			filter[d.ClassKey] = owner.Type
		}
		return store.Query{Type: d.Target, Filter: filter}, nil
	case model.ManyMany, model.ManyManyPolymorphic:
		key := d.JoinKeyFor(owner.ID, 0)
		ids, err := r.store.LinkedIDs(ctx, key.Table, key.OwnerType, key.OwnerID)
		if err != nil {
			return store.Query{}, fmt.Errorf("linked ids for %s.%s: %w", d.OwnerType, d.Name, err)
		}
		return store.ByIDs(d.Target, ids), nil
	case model.HasOne:
		id := owner.Int(d.ForeignKey)
		target := d.Target
		if d.Polymorphic {
			target = owner.String(d.ClassKey)
		}
		if id == 0 || target == "" {
			return store.ByIDs(d.Target, nil), nil
		}
		return store.ByIDs(target, []int64{id}), nil
	}
	return store.Query{}, fmt.Errorf("relation %s.%s has unsupported kind %q", d.OwnerType, d.Name, d.Kind)
}

// List returns the records in owner's relation.
func (r *Resolver) List(ctx context.Context, d model.RelationDescriptor, owner *model.Record) ([]*model.Record, error) {
	q, err := r.Query(ctx, d, owner)
	if err != nil {
		return nil, err
	}
	return r.store.Find(ctx, q)
}

// Prepopulate attaches record to owner through d and returns the bindings a
// form must carry so the attachment survives the submit round trip. The
// record is mutated immediately: a has-many child gets the parent's ID in
// its foreign key and, when the relation is polymorphic, the parent's type
// in its class key.
func (r *Resolver) Prepopulate(d model.RelationDescriptor, owner, record *model.Record) []Binding {
	if owner == nil || d.Kind != model.HasMany {
		return nil
	}

	display := fmt.Sprintf("#%d", owner.ID)
	if td, ok := r.types.Type(owner.Type); ok {
		display = owner.Title(td)
	}

	record.Set(d.ForeignKey, owner.ID)
	bindings := []Binding{{
		Field:   d.ForeignKey,
		Value:   strconv.FormatInt(owner.ID, 10),
		Display: display,
	}}
	if d.Polymorphic {
		record.Set(d.ClassKey, owner.Type)
		bindings = append(bindings, Binding{
			Field:   d.ClassKey,
			Value:   owner.Type,
			Display: owner.Type,
			Hidden:  true,
		})
	}
	return bindings
}

// ExtraFields returns the current extra data of the join row between owner
// and record, coerced to the declared types. Records that are new or not yet
// linked get the zero value of every extra field.
func (r *Resolver) ExtraFields(ctx context.Context, d model.RelationDescriptor, owner, record *model.Record) (map[string]any, error) {
	values := make(map[string]any, len(d.ExtraFields))
	for _, f := range d.ExtraFields {
		values[f.Name] = Zero(f.Type)
	}
	if !d.HasExtraFields() || owner == nil || owner.IsNew() || record.IsNew() {
		return values, nil
	}

	stored, ok, err := r.store.ExtraData(ctx, d.JoinKeyFor(owner.ID, record.ID))
	if err != nil {
		return nil, fmt.Errorf("extra data for %s.%s: %w", d.OwnerType, d.Name, err)
	}
	if !ok {
		return values, nil
	}
	for _, f := range d.ExtraFields {
		if v, present := stored[f.Name]; present {
			values[f.Name] = Normalize(f.Type, v)
		}
	}
	return values, nil
}

// WriteBack links record to owner through a many-many relation when the join
// row is missing and then overwrites every declared extra field. A field
// absent from submitted is written as the zero value of its type, the same
// way an unchecked checkbox is: extra data is always replaced as a whole,
// never merged.
func (r *Resolver) WriteBack(ctx context.Context, d model.RelationDescriptor, owner, record *model.Record, submitted url.Values) error {
	if !d.Kind.IsManyMany() || owner == nil || owner.IsNew() || record.IsNew() {
		return nil
	}

	extra := make(map[string]any, len(d.ExtraFields))
	for _, f := range d.ExtraFields {
		raw, present := submitted[f.Name]
		v, err := Coerce(f.Type, first(raw), present)
		if err != nil {
			return model.NewValidationError([]model.FieldError{{
				Field:   f.Name,
				Code:    "INVALID",
				Message: err.Error(),
			}})
		}
		extra[f.Name] = v
	}

	key := d.JoinKeyFor(owner.ID, record.ID)
	_, linked, err := r.store.ExtraData(ctx, key)
	if err != nil {
		return fmt.Errorf("extra data for %s.%s: %w", d.OwnerType, d.Name, err)
	}
	if !linked {
		return r.store.Link(ctx, key, extra)
	}
	return r.store.SetExtraData(ctx, key, extra)
}

// Link attaches an existing target record to owner. Many-many relations gain
// a join row with zero-valued extra data; has-many relations set the
// target's foreign key.
func (r *Resolver) Link(ctx context.Context, d model.RelationDescriptor, owner *model.Record, targetID int64) error {
	target, err := r.store.Get(ctx, d.Target, targetID)
	if err != nil {
		return err
	}

	switch d.Kind {
	case model.ManyMany, model.ManyManyPolymorphic:
		extra := make(map[string]any, len(d.ExtraFields))
		for _, f := range d.ExtraFields {
			extra[f.Name] = Zero(f.Type)
		}
		return r.store.Link(ctx, d.JoinKeyFor(owner.ID, target.ID), extra)
	case model.HasMany:
		r.Prepopulate(d, owner, target)
		return r.store.Save(ctx, target)
	}
	return model.NewBadRequestError(fmt.Sprintf("records cannot be linked through %s relation %q", d.Kind, d.Name))
}

// Unlink detaches a target record from owner without deleting it.
func (r *Resolver) Unlink(ctx context.Context, d model.RelationDescriptor, owner *model.Record, targetID int64) error {
	switch d.Kind {
	case model.ManyMany, model.ManyManyPolymorphic:
		return r.store.Unlink(ctx, d.JoinKeyFor(owner.ID, targetID))
	case model.HasMany:
		target, err := r.store.Get(ctx, d.Target, targetID)
		if err != nil {
			return err
		}
		target.Set(d.ForeignKey, int64(0))
		if d.Polymorphic {
			target.Set(d.ClassKey, "")
		}
		return r.store.Save(ctx, target)
	}
	return model.NewBadRequestError(fmt.Sprintf("records cannot be unlinked through %s relation %q", d.Kind, d.Name))
}

// Options returns the selectable targets of a non-polymorphic has-one
// relation, labelled by title.
func (r *Resolver) Options(ctx context.Context, d model.RelationDescriptor) ([]Option, error) {
	if d.Kind != model.HasOne || d.Polymorphic {
		return nil, nil
	}
	records, err := r.store.Find(ctx, store.Query{Type: d.Target})
	if err != nil {
		return nil, fmt.Errorf("options for %s.%s: %w", d.OwnerType, d.Name, err)
	}
	td, _ := r.types.Type(d.Target)
	opts := make([]Option, len(records))
	for i, rec := range records {
		opts[i] = Option{Value: strconv.FormatInt(rec.ID, 10), Label: rec.Title(td)}
	}
	return opts, nil
}

// Zero returns the zero value stored for a field type.
func Zero(fieldType string) any {
	switch fieldType {
	case model.FieldBool:
		return false
	case model.FieldInt:
		return int64(0)
	case model.FieldDecimal:
		return float64(0)
	default:
		return ""
	}
}

// Coerce converts a submitted form value to the stored representation of
// fieldType. A value that was not submitted, or submitted empty, becomes the
// zero value.
func Coerce(fieldType, raw string, present bool) (any, error) {
	raw = strings.TrimSpace(raw)
	if !present || raw == "" {
		return Zero(fieldType), nil
	}

	switch fieldType {
	case model.FieldBool:
		switch strings.ToLower(raw) {
		case "0", "false", "off", "no":
			return false, nil
		}
		return true, nil
	case model.FieldInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a whole number", raw)
		}
		return n, nil
	case model.FieldDecimal:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", raw)
		}
		return f, nil
	default:
		return raw, nil
	}
}

// Normalize converts a stored value, which may have passed through JSON, to
// the representation Coerce produces for fieldType.
func Normalize(fieldType string, v any) any {
	switch fieldType {
	case model.FieldBool:
		switch b := v.(type) {
		case bool:
			return b
		case nil:
			return false
		}
		n, ok := model.AsInt64(v)
		if ok {
			return n != 0
		}
		c, _ := Coerce(fieldType, model.FormatValue(v), true)
		return c
	case model.FieldInt:
		n, _ := model.AsInt64(v)
		return n
	case model.FieldDecimal:
		if f, ok := v.(float64); ok {
			return f
		}
		c, err := Coerce(fieldType, model.FormatValue(v), true)
		if err != nil {
			return float64(0)
		}
		return c
	default:
		return model.FormatValue(v)
	}
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
