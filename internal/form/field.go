package form

import (
	"strings"

	"github.com/pitabwire/gridform/internal/relation"
	"github.com/pitabwire/gridform/model"
)

// Field kinds select how a field is rendered.
const (
	KindText     = "text"
	KindTextarea = "textarea"
	KindHTML     = "html"
	KindNumber   = "number"
	KindCheckbox = "checkbox"
	KindSelect   = "select"
	KindHidden   = "hidden"
	// KindHolder shows a fixed value next to a hidden input carrying it.
	KindHolder = "holder"
	// KindReadonly shows a value without an input.
	KindReadonly = "readonly"
)

// Option is one choice of a select field.
type Option struct {
	Value    string
	Label    string
	Selected bool
}

// Field is a single form field. Value is always the submitted or rendered
// string; typed values are produced by Form.Data.
type Field struct {
	Name    string
	ID      string
	Label   string
	Kind    string
	Value   string
	Checked bool
	Options []Option

	// Display is the text shown by holder and readonly fields.
	Display string

	// Type is the stored field type. Fields without a type are carried by
	// the form but never written to the record.
	Type string

	Required bool
	ReadOnly bool

	// Extra marks fields stored on a many-many join row.
	Extra bool

	Error string
}

// NewField creates a field for a declared scalar field.
func NewField(fd model.FieldDefinition) *Field {
	f := &Field{
		Name:     fd.Name,
		Label:    fd.DisplayLabel(),
		Type:     fd.Type,
		Required: fd.Required,
		ReadOnly: fd.ReadOnly,
	}
	switch fd.Type {
	case model.FieldText:
		f.Kind = KindTextarea
	case model.FieldHTML:
		f.Kind = KindHTML
	case model.FieldInt, model.FieldDecimal:
		f.Kind = KindNumber
	case model.FieldBool:
		f.Kind = KindCheckbox
	default:
		f.Kind = KindText
	}
	if f.ReadOnly {
		f.Kind = KindReadonly
	}
	return f
}

// NewHidden creates a hidden field. A non-empty fieldType makes the value part
// of the record data.
func NewHidden(name, value, fieldType string) *Field {
	return &Field{Name: name, Kind: KindHidden, Value: value, Type: fieldType}
}

// NewHolder creates a field that displays text and submits value.
func NewHolder(name, label, display, value, fieldType string) *Field {
	return &Field{
		Name:    name,
		Label:   label,
		Kind:    KindHolder,
		Display: display,
		Value:   value,
		Type:    fieldType,
	}
}

// NewSelect creates a select field. The empty choice is always first.
func NewSelect(name, label string, options []relation.Option) *Field {
	f := &Field{Name: name, Label: label, Kind: KindSelect, Type: model.FieldInt}
	f.Options = append(f.Options, Option{Value: "", Label: ""})
	for _, o := range options {
		f.Options = append(f.Options, Option{Value: o.Value, Label: o.Label})
	}
	return f
}

// ExtraName returns the submitted name of a many-many extra field.
func ExtraName(name string) string {
	return "ManyMany[" + name + "]"
}

// SetValue sets the rendered value of the field from a stored value.
func (f *Field) SetValue(v any) {
	switch f.Kind {
	case KindCheckbox:
		b, _ := relation.Normalize(model.FieldBool, v).(bool)
		f.Checked = b
		f.Value = "1"
		f.Display = yesNo(b)
	default:
		f.Value = model.FormatValue(v)
		if f.Kind == KindReadonly || f.Display == "" {
			f.Display = f.Value
		}
	}
	f.syncOptions()
}

// setPosted sets the field from a submitted value.
func (f *Field) setPosted(raw []string, present bool) {
	if f.Kind == KindCheckbox {
		v, _ := relation.Coerce(model.FieldBool, first(raw), present)
		f.Checked, _ = v.(bool)
		return
	}
	if present {
		f.Value = first(raw)
	} else {
		f.Value = ""
	}
	f.syncOptions()
}

func (f *Field) syncOptions() {
	for i := range f.Options {
		f.Options[i].Selected = f.Options[i].Value == f.Value
	}
}

// readOnly turns the field into a display-only field.
func (f *Field) readOnly() {
	switch f.Kind {
	case KindHidden, KindHolder, KindReadonly:
		return
	case KindCheckbox:
		f.Display = yesNo(f.Checked)
	case KindSelect:
		f.Display = ""
		for _, o := range f.Options {
			if o.Selected {
				f.Display = o.Label
			}
		}
	default:
		f.Display = f.Value
	}
	f.Kind = KindReadonly
}

// typed returns the stored representation of the field value.
func (f *Field) typed() (any, error) {
	if f.Kind == KindCheckbox {
		return f.Checked, nil
	}
	value := f.Value
	if f.Kind == KindHTML {
		value = SanitizeHTML(value)
	}
	return relation.Coerce(f.Type, value, true)
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func idSuffix(name string) string {
	r := strings.NewReplacer("[", "-", "]", "", " ", "_")
	return r.Replace(name)
}
