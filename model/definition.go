package model

// DomainDefinition is the root structure of a definition file. Each file
// declares one domain's record types and the grids that list them.
type DomainDefinition struct {
	Domain  string           `yaml:"domain"  json:"domain"`
	Version string           `yaml:"version" json:"version"`
	Types   []TypeDefinition `yaml:"types"   json:"types,omitempty"`
	Grids   []GridDefinition `yaml:"grids"   json:"grids,omitempty"`

	// Checksum is computed at load time and not part of the YAML.
	Checksum string `yaml:"-" json:"-"`
	// SourceFile records the originating file path.
	SourceFile string `yaml:"-" json:"-"`
}

// Field types understood by forms and coercion.
const (
	FieldString  = "string"
	FieldText    = "text"
	FieldHTML    = "html"
	FieldInt     = "int"
	FieldDecimal = "decimal"
	FieldBool    = "bool"
)

// TypeDefinition describes a record type: its scalar fields and relations.
type TypeDefinition struct {
	Name       string               `yaml:"name"        json:"name"`
	Label      string               `yaml:"label"       json:"label,omitempty"`
	TitleField string               `yaml:"title_field" json:"title_field,omitempty"`
	Fields     []FieldDefinition    `yaml:"fields"      json:"fields"`
	Relations  []RelationDefinition `yaml:"relations"   json:"relations,omitempty"`
}

// Field returns the scalar field with the given name.
func (td TypeDefinition) Field(name string) (FieldDefinition, bool) {
	for _, f := range td.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDefinition{}, false
}

// Relation returns the relation with the given name.
func (td TypeDefinition) Relation(name string) (RelationDefinition, bool) {
	for _, r := range td.Relations {
		if r.Name == name {
			return r, true
		}
	}
	return RelationDefinition{}, false
}

// DisplayLabel returns Label, falling back to the type name.
func (td TypeDefinition) DisplayLabel() string {
	if td.Label != "" {
		return td.Label
	}
	return td.Name
}

// FieldDefinition describes a scalar field of a record type, or an extra
// field carried by a many-many join row.
type FieldDefinition struct {
	Name     string `yaml:"name"      json:"name"`
	Label    string `yaml:"label"     json:"label,omitempty"`
	Type     string `yaml:"type"      json:"type"`
	Required bool   `yaml:"required"  json:"required,omitempty"`
	ReadOnly bool   `yaml:"read_only" json:"read_only,omitempty"`
}

// DisplayLabel returns Label, falling back to the field name.
func (fd FieldDefinition) DisplayLabel() string {
	if fd.Label != "" {
		return fd.Label
	}
	return fd.Name
}

// RelationDefinition declares a relation from the owning type to a target
// type. See RelationKind for the supported kinds.
type RelationDefinition struct {
	Name        string            `yaml:"name"         json:"name"`
	Label       string            `yaml:"label"        json:"label,omitempty"`
	Kind        RelationKind      `yaml:"kind"         json:"kind"`
	Target      string            `yaml:"target"       json:"target,omitempty"`
	Inverse     string            `yaml:"inverse"      json:"inverse,omitempty"`
	Polymorphic bool              `yaml:"polymorphic"  json:"polymorphic,omitempty"`
	JoinTable   string            `yaml:"join_table"   json:"join_table,omitempty"`
	ExtraFields []FieldDefinition `yaml:"extra_fields" json:"extra_fields,omitempty"`
}

// DisplayLabel returns Label, falling back to the relation name.
func (rd RelationDefinition) DisplayLabel() string {
	if rd.Label != "" {
		return rd.Label
	}
	return rd.Name
}

// GridDefinition describes a paginated listing of records. A grid either
// lists every record of Type (narrowed by Filter) or, when Owner is set,
// the records reachable through Owner's Relation.
type GridDefinition struct {
	ID               string             `yaml:"id"                json:"id"`
	Title            string             `yaml:"title"             json:"title"`
	Type             string             `yaml:"type"              json:"type,omitempty"`
	Owner            *OwnerDefinition   `yaml:"owner"             json:"owner,omitempty"`
	Relation         string             `yaml:"relation"          json:"relation,omitempty"`
	Filter           map[string]any     `yaml:"filter"            json:"filter,omitempty"`
	Columns          []ColumnDefinition `yaml:"columns"           json:"columns,omitempty"`
	PageSize         int                `yaml:"page_size"         json:"page_size,omitempty"`
	Capabilities     []string           `yaml:"capabilities"      json:"capabilities,omitempty"`
	EditCapabilities []string           `yaml:"edit_capabilities" json:"edit_capabilities,omitempty"`
	ItemRequest      string             `yaml:"item_request"      json:"item_request,omitempty"`
}

// OwnerDefinition selects the record whose relation a grid lists: the first
// record of Type whose fields equal every entry of Match.
type OwnerDefinition struct {
	Type  string         `yaml:"type"  json:"type"`
	Match map[string]any `yaml:"match" json:"match"`
}

// ColumnDefinition describes a grid column.
type ColumnDefinition struct {
	Field string `yaml:"field" json:"field"`
	Label string `yaml:"label" json:"label"`
}
