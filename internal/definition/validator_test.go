package definition

import (
	"testing"

	"github.com/pitabwire/gridform/model"
)

func validDomain() model.DomainDefinition {
	return model.DomainDefinition{
		Domain:  "people",
		Version: "1.0.0",
		Types: []model.TypeDefinition{
			{
				Name:       "Person",
				TitleField: "FirstName",
				Fields: []model.FieldDefinition{
					{Name: "FirstName", Type: "string", Required: true},
					{Name: "Surname", Type: "string", Required: true},
				},
				Relations: []model.RelationDefinition{
					{Name: "Group", Kind: model.HasOne, Target: "PeopleGroup"},
					{Name: "PolymorphicGroup", Kind: model.HasOne, Polymorphic: true},
					{
						Name: "Categories", Kind: model.ManyMany, Target: "Category", JoinTable: "Person_Categories",
						ExtraFields: []model.FieldDefinition{{Name: "IsPublished", Type: "bool"}},
					},
				},
			},
			{
				Name:       "PeopleGroup",
				TitleField: "Name",
				Fields:     []model.FieldDefinition{{Name: "Name", Type: "string"}},
				Relations: []model.RelationDefinition{
					{Name: "People", Kind: model.HasMany, Target: "Person", Inverse: "Group"},
				},
			},
			{
				Name:   "Category",
				Fields: []model.FieldDefinition{{Name: "Name", Type: "string"}},
			},
		},
		Grids: []model.GridDefinition{
			{
				ID:       "testfield",
				Title:    "People",
				Owner:    &model.OwnerDefinition{Type: "PeopleGroup", Match: map[string]any{"Name": "My Group"}},
				Relation: "People",
				Columns:  []model.ColumnDefinition{{Field: "FirstName", Label: "First Name"}},
			},
			{ID: "groups", Title: "Groups", Type: "PeopleGroup"},
		},
	}
}

func TestValidator_valid(t *testing.T) {
	v := NewValidator()
	errs := v.Validate([]model.DomainDefinition{validDomain()})
	if len(errs) > 0 {
		for _, e := range errs {
			t.Logf("  %s", e)
		}
		t.Fatalf("Validate() returned %d errors, want 0", len(errs))
	}
}

func TestValidator_errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.DomainDefinition)
		code   string
	}{
		{"missing domain", func(d *model.DomainDefinition) { d.Domain = "" }, "REQUIRED"},
		{"missing version", func(d *model.DomainDefinition) { d.Version = "" }, "REQUIRED"},
		{"invalid field type", func(d *model.DomainDefinition) { d.Types[0].Fields[0].Type = "date" }, "INVALID_ENUM"},
		{"duplicate field", func(d *model.DomainDefinition) {
			d.Types[0].Fields = append(d.Types[0].Fields, model.FieldDefinition{Name: "Surname", Type: "string"})
		}, "DUPLICATE"},
		{"bad title field", func(d *model.DomainDefinition) { d.Types[1].TitleField = "Title" }, "REF_NOT_FOUND"},
		{"invalid relation kind", func(d *model.DomainDefinition) { d.Types[0].Relations[0].Kind = "belongs_to" }, "INVALID_ENUM"},
		{"unknown target", func(d *model.DomainDefinition) { d.Types[0].Relations[0].Target = "Team" }, "REF_NOT_FOUND"},
		{"missing target", func(d *model.DomainDefinition) { d.Types[0].Relations[2].Target = "" }, "REQUIRED"},
		{"has_many without inverse", func(d *model.DomainDefinition) { d.Types[1].Relations[0].Inverse = "" }, "REQUIRED"},
		{"has_many with unknown inverse", func(d *model.DomainDefinition) { d.Types[1].Relations[0].Inverse = "Team" }, "REF_NOT_FOUND"},
		{"has_many polymorphic mismatch", func(d *model.DomainDefinition) { d.Types[1].Relations[0].Polymorphic = true }, "MISMATCH"},
		{"grid missing title", func(d *model.DomainDefinition) { d.Grids[1].Title = "" }, "REQUIRED"},
		{"grid without type", func(d *model.DomainDefinition) { d.Grids[1].Type = "" }, "REQUIRED"},
		{"grid page size", func(d *model.DomainDefinition) { d.Grids[1].PageSize = 500 }, "RANGE"},
		{"grid unknown owner relation", func(d *model.DomainDefinition) { d.Grids[0].Relation = "Members" }, "REF_NOT_FOUND"},
		{"grid owner without match", func(d *model.DomainDefinition) { d.Grids[0].Owner.Match = nil }, "REQUIRED"},
		{"grid unknown column", func(d *model.DomainDefinition) { d.Grids[0].Columns[0].Field = "Age" }, "REF_NOT_FOUND"},
		{"duplicate grid", func(d *model.DomainDefinition) { d.Grids[1].ID = "testfield" }, "DUPLICATE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validDomain()
			tt.mutate(&def)
			errs := NewValidator().Validate([]model.DomainDefinition{def})
			if !hasCode(errs, tt.code) {
				t.Errorf("expected %s error, got %v", tt.code, errs)
			}
		})
	}
}

func TestValidator_grid_has_one_relation(t *testing.T) {
	def := validDomain()
	def.Grids[0].Owner.Type = "Person"
	def.Grids[0].Relation = "Group"
	errs := NewValidator().Validate([]model.DomainDefinition{def})
	if !hasCode(errs, "INVALID_ENUM") {
		t.Errorf("expected INVALID_ENUM error, got %v", errs)
	}
}

func TestValidator_item_request_factories(t *testing.T) {
	def := validDomain()
	def.Grids[1].ItemRequest = "custom"

	if errs := NewValidator().Validate([]model.DomainDefinition{def}); len(errs) != 0 {
		t.Errorf("without known factories: errs = %v, want none", errs)
	}
	if errs := NewValidator("default").Validate([]model.DomainDefinition{def}); !hasCode(errs, "REF_NOT_FOUND") {
		t.Errorf("with known factories: errs = %v, want REF_NOT_FOUND", errs)
	}
	if errs := NewValidator("default", "custom").Validate([]model.DomainDefinition{def}); len(errs) != 0 {
		t.Errorf("registered factory: errs = %v, want none", errs)
	}
}

func TestValidator_types_across_files(t *testing.T) {
	people := validDomain()
	categories := model.DomainDefinition{
		Domain:  "catalog",
		Version: "1.0.0",
		Types:   []model.TypeDefinition{people.Types[2]},
	}
	people.Types = people.Types[:2]

	errs := NewValidator().Validate([]model.DomainDefinition{people, categories})
	if len(errs) != 0 {
		t.Errorf("Validate() = %v, want no errors", errs)
	}
}

func hasCode(errs []VError, code string) bool {
	for _, e := range errs {
		if e.Code == code {
			return true
		}
	}
	return false
}
