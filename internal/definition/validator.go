package definition

import (
	"fmt"

	"github.com/pitabwire/gridform/model"
)

// VError describes a single validation error in a definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator validates definitions structurally and referentially. Types and
// grids may reference each other across files, so all definitions are
// validated together.
type Validator struct {
	itemRequests map[string]bool
}

// NewValidator creates a new Validator. When itemRequests is non-empty, grid
// item_request values must name one of them.
func NewValidator(itemRequests ...string) *Validator {
	v := &Validator{}
	if len(itemRequests) > 0 {
		v.itemRequests = make(map[string]bool, len(itemRequests))
		for _, n := range itemRequests {
			v.itemRequests[n] = true
		}
	}
	return v
}

var validFieldTypes = map[string]bool{
	model.FieldString: true, model.FieldText: true, model.FieldHTML: true,
	model.FieldInt: true, model.FieldDecimal: true, model.FieldBool: true,
}

// Validate checks all definitions.
func (v *Validator) Validate(defs []model.DomainDefinition) []VError {
	var errs []VError

	types := make(map[string]model.TypeDefinition)
	gridIDs := make(map[string]string)
	for i, def := range defs {
		for j, t := range def.Types {
			if _, dup := types[t.Name]; dup && t.Name != "" {
				errs = append(errs, VError{
					Path:    fmt.Sprintf("definitions[%d].types[%d].name", i, j),
					Code:    "DUPLICATE",
					Message: fmt.Sprintf("type %q is declared more than once", t.Name),
				})
			}
			types[t.Name] = t
		}
	}

	for i, def := range defs {
		prefix := fmt.Sprintf("definitions[%d]", i)
		if def.Domain == "" {
			errs = append(errs, VError{Path: prefix + ".domain", Code: "REQUIRED", Message: "domain is required"})
		}
		if def.Version == "" {
			errs = append(errs, VError{Path: prefix + ".version", Code: "REQUIRED", Message: "version is required"})
		}
		for j, t := range def.Types {
			tp := fmt.Sprintf("%s.types[%d]", prefix, j)
			errs = append(errs, v.validateType(tp, t, types)...)
		}
		for j, g := range def.Grids {
			gp := fmt.Sprintf("%s.grids[%d]", prefix, j)
			if prev, dup := gridIDs[g.ID]; dup && g.ID != "" {
				errs = append(errs, VError{
					Path:    gp + ".id",
					Code:    "DUPLICATE",
					Message: fmt.Sprintf("grid %q is already declared at %s", g.ID, prev),
				})
			}
			gridIDs[g.ID] = gp
			errs = append(errs, v.validateGrid(gp, g, types)...)
		}
	}

	return errs
}

func (v *Validator) validateType(prefix string, t model.TypeDefinition, types map[string]model.TypeDefinition) []VError {
	var errs []VError

	if t.Name == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: "REQUIRED", Message: "name is required"})
	}

	names := make(map[string]bool)
	for i, f := range t.Fields {
		fp := fmt.Sprintf("%s.fields[%d]", prefix, i)
		errs = append(errs, validateField(fp, f)...)
		if names[f.Name] {
			errs = append(errs, VError{Path: fp + ".name", Code: "DUPLICATE", Message: fmt.Sprintf("field %q is declared more than once", f.Name)})
		}
		names[f.Name] = true
	}
	if t.TitleField != "" {
		if _, ok := t.Field(t.TitleField); !ok {
			errs = append(errs, VError{
				Path:    prefix + ".title_field",
				Code:    "REF_NOT_FOUND",
				Message: fmt.Sprintf("title field %q is not a field of %q", t.TitleField, t.Name),
			})
		}
	}

	for i, r := range t.Relations {
		rp := fmt.Sprintf("%s.relations[%d]", prefix, i)
		if names[r.Name] {
			errs = append(errs, VError{Path: rp + ".name", Code: "DUPLICATE", Message: fmt.Sprintf("relation %q collides with a field", r.Name)})
		}
		names[r.Name] = true
		errs = append(errs, v.validateRelation(rp, t, r, types)...)
	}

	return errs
}

func validateField(prefix string, f model.FieldDefinition) []VError {
	var errs []VError
	if f.Name == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: "REQUIRED", Message: "name is required"})
	}
	if f.Type == "" {
		errs = append(errs, VError{Path: prefix + ".type", Code: "REQUIRED", Message: "type is required"})
	} else if !validFieldTypes[f.Type] {
		errs = append(errs, VError{Path: prefix + ".type", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid field type %q", f.Type)})
	}
	return errs
}

func (v *Validator) validateRelation(prefix string, owner model.TypeDefinition, r model.RelationDefinition, types map[string]model.TypeDefinition) []VError {
	var errs []VError

	if r.Name == "" {
		errs = append(errs, VError{Path: prefix + ".name", Code: "REQUIRED", Message: "name is required"})
	}
	if !r.Kind.Valid() {
		errs = append(errs, VError{Path: prefix + ".kind", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid relation kind %q", r.Kind)})
		return errs
	}

	// A polymorphic has-one may point at any type.
	if r.Target == "" {
		if !(r.Kind == model.HasOne && r.Polymorphic) {
			errs = append(errs, VError{Path: prefix + ".target", Code: "REQUIRED", Message: "target is required"})
		}
		return errs
	}
	target, ok := types[r.Target]
	if !ok {
		errs = append(errs, VError{Path: prefix + ".target", Code: "REF_NOT_FOUND", Message: fmt.Sprintf("type %q not found", r.Target)})
		return errs
	}

	switch r.Kind {
	case model.HasMany:
		if r.Inverse == "" {
			errs = append(errs, VError{Path: prefix + ".inverse", Code: "REQUIRED", Message: "inverse is required for has_many"})
			break
		}
		inv, ok := target.Relation(r.Inverse)
		if !ok || inv.Kind != model.HasOne {
			errs = append(errs, VError{
				Path:    prefix + ".inverse",
				Code:    "REF_NOT_FOUND",
				Message: fmt.Sprintf("type %q has no has_one relation %q", r.Target, r.Inverse),
			})
			break
		}
		if inv.Polymorphic != r.Polymorphic {
			errs = append(errs, VError{
				Path:    prefix + ".polymorphic",
				Code:    "MISMATCH",
				Message: fmt.Sprintf("polymorphic flag differs from inverse %s.%s", r.Target, r.Inverse),
			})
		}
		if !inv.Polymorphic && inv.Target != owner.Name {
			errs = append(errs, VError{
				Path:    prefix + ".inverse",
				Code:    "MISMATCH",
				Message: fmt.Sprintf("inverse %s.%s targets %q, not %q", r.Target, r.Inverse, inv.Target, owner.Name),
			})
		}
	case model.ManyMany, model.ManyManyPolymorphic:
		for i, f := range r.ExtraFields {
			errs = append(errs, validateField(fmt.Sprintf("%s.extra_fields[%d]", prefix, i), f)...)
		}
	}

	return errs
}

func (v *Validator) validateGrid(prefix string, g model.GridDefinition, types map[string]model.TypeDefinition) []VError {
	var errs []VError

	if g.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if g.Title == "" {
		errs = append(errs, VError{Path: prefix + ".title", Code: "REQUIRED", Message: "title is required"})
	}
	if g.PageSize < 0 || g.PageSize > 200 {
		errs = append(errs, VError{Path: prefix + ".page_size", Code: "RANGE", Message: "page_size must be 0-200"})
	}
	if v.itemRequests != nil && g.ItemRequest != "" && !v.itemRequests[g.ItemRequest] {
		errs = append(errs, VError{
			Path:    prefix + ".item_request",
			Code:    "REF_NOT_FOUND",
			Message: fmt.Sprintf("item request factory %q is not registered", g.ItemRequest),
		})
	}

	listed := g.Type
	switch {
	case g.Owner != nil:
		owner, ok := types[g.Owner.Type]
		if !ok {
			errs = append(errs, VError{Path: prefix + ".owner.type", Code: "REF_NOT_FOUND", Message: fmt.Sprintf("type %q not found", g.Owner.Type)})
			return errs
		}
		if len(g.Owner.Match) == 0 {
			errs = append(errs, VError{Path: prefix + ".owner.match", Code: "REQUIRED", Message: "owner.match is required"})
		}
		rel, ok := owner.Relation(g.Relation)
		if !ok {
			errs = append(errs, VError{
				Path:    prefix + ".relation",
				Code:    "REF_NOT_FOUND",
				Message: fmt.Sprintf("type %q has no relation %q", owner.Name, g.Relation),
			})
			return errs
		}
		if rel.Kind == model.HasOne {
			errs = append(errs, VError{Path: prefix + ".relation", Code: "INVALID_ENUM", Message: "grids cannot list a has_one relation"})
			return errs
		}
		if g.Type != "" && g.Type != rel.Target {
			errs = append(errs, VError{
				Path:    prefix + ".type",
				Code:    "MISMATCH",
				Message: fmt.Sprintf("type %q differs from relation target %q", g.Type, rel.Target),
			})
		}
		listed = rel.Target
	case g.Type == "":
		errs = append(errs, VError{Path: prefix + ".type", Code: "REQUIRED", Message: "type or owner is required"})
		return errs
	case g.Relation != "":
		errs = append(errs, VError{Path: prefix + ".relation", Code: "INVALID", Message: "relation requires owner"})
	}

	td, ok := types[listed]
	if !ok {
		errs = append(errs, VError{Path: prefix + ".type", Code: "REF_NOT_FOUND", Message: fmt.Sprintf("type %q not found", listed)})
		return errs
	}
	for i, c := range g.Columns {
		if _, ok := td.Field(c.Field); !ok && c.Field != "ID" {
			errs = append(errs, VError{
				Path:    fmt.Sprintf("%s.columns[%d].field", prefix, i),
				Code:    "REF_NOT_FOUND",
				Message: fmt.Sprintf("type %q has no field %q", td.Name, c.Field),
			})
		}
	}

	return errs
}
