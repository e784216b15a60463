// Package form models the item edit form: its fields, actions, submitted
// values and required-field validation.
package form

import (
	"net/url"
	"strings"

	"github.com/pitabwire/gridform/model"
)

// Name is the name of every item edit form. It prefixes element IDs and is
// the last segment of the form's action URL.
const Name = "ItemEditForm"

// Submit action names.
const (
	ActionSave   = "action_doSave"
	ActionDelete = "action_doDelete"
)

// SaveTokenField carries the double-submit guard token.
const SaveTokenField = "SaveToken"

// Action is a submit button.
type Action struct {
	Name  string
	Title string
	Class string
}

// Form is an item edit form.
type Form struct {
	Name     string
	Action   string
	Fields   []*Field
	Actions  []Action
	ReadOnly bool
	Message  string
}

// New creates an empty form posting to action.
func New(action string) *Form {
	return &Form{Name: Name, Action: action}
}

// ID returns the HTML id of the form element.
func (f *Form) ID() string {
	return "Form_" + f.Name
}

// Add appends fields. A field replaces an existing field with the same name.
func (f *Form) Add(fields ...*Field) {
	for _, fld := range fields {
		fld.ID = f.ID() + "_" + idSuffix(fld.Name)
		if i := f.index(fld.Name); i >= 0 {
			f.Fields[i] = fld
			continue
		}
		f.Fields = append(f.Fields, fld)
	}
}

// Field returns the field with the given name, or nil.
func (f *Form) Field(name string) *Field {
	if i := f.index(name); i >= 0 {
		return f.Fields[i]
	}
	return nil
}

// Remove drops the field with the given name.
func (f *Form) Remove(name string) {
	if i := f.index(name); i >= 0 {
		f.Fields = append(f.Fields[:i], f.Fields[i+1:]...)
	}
}

func (f *Form) index(name string) int {
	for i, fld := range f.Fields {
		if fld.Name == name {
			return i
		}
	}
	return -1
}

// AddAction appends a submit button.
func (f *Form) AddAction(name, title, class string) {
	f.Actions = append(f.Actions, Action{Name: name, Title: title, Class: class})
}

// HasAction reports whether the form offers the named action.
func (f *Form) HasAction(name string) bool {
	for _, a := range f.Actions {
		if a.Name == name {
			return true
		}
	}
	return false
}

// LoadRecord fills the fields from a record's stored values. Extra fields
// are filled by the caller.
func (f *Form) LoadRecord(rec *model.Record) {
	for _, fld := range f.Fields {
		if fld.Extra || fld.Type == "" {
			continue
		}
		if v, ok := rec.Fields[fld.Name]; ok {
			fld.SetValue(v)
		}
	}
}

// LoadPosted fills the fields from submitted values. Read-only fields and
// fields that fix their value (hidden bindings and holders) keep it.
func (f *Form) LoadPosted(values url.Values) {
	for _, fld := range f.Fields {
		switch fld.Kind {
		case KindReadonly, KindHolder:
			continue
		case KindHidden:
			if fld.Type != "" {
				continue
			}
		}
		raw, present := values[fld.Name]
		fld.setPosted(raw, present)
	}
}

// Validate checks required fields and marks each invalid field with an
// error. It returns a VALIDATION_ERROR listing them, or nil.
func (f *Form) Validate() error {
	var details []model.FieldError
	for _, fld := range f.Fields {
		fld.Error = ""
		if !fld.Required || fld.Kind == KindReadonly {
			continue
		}
		empty := strings.TrimSpace(fld.Value) == ""
		if fld.Kind == KindCheckbox {
			empty = !fld.Checked
		}
		if empty {
			fld.Error = "\"" + fld.Label + "\" is required"
			details = append(details, model.FieldError{
				Field:   fld.Name,
				Code:    "REQUIRED",
				Message: fld.Error,
			})
		}
	}
	if len(details) > 0 {
		return model.NewValidationError(details)
	}
	return nil
}

// SetErrors marks fields named in a validation error.
func (f *Form) SetErrors(details []model.FieldError) {
	for _, d := range details {
		name := d.Field
		if fld := f.Field(name); fld != nil {
			fld.Error = d.Message
			continue
		}
		if fld := f.Field(ExtraName(name)); fld != nil {
			fld.Error = d.Message
		}
	}
}

// Errors returns the fields currently marked invalid.
func (f *Form) Errors() []*Field {
	var out []*Field
	for _, fld := range f.Fields {
		if fld.Error != "" {
			out = append(out, fld)
		}
	}
	return out
}

// Data returns the typed record values of the form. Extra fields and fields
// without a stored type are excluded. HTML fields are sanitized.
func (f *Form) Data() (map[string]any, error) {
	data := make(map[string]any, len(f.Fields))
	var details []model.FieldError
	for _, fld := range f.Fields {
		if fld.Extra || fld.Type == "" || fld.Kind == KindReadonly {
			continue
		}
		v, err := fld.typed()
		if err != nil {
			fld.Error = err.Error()
			details = append(details, model.FieldError{Field: fld.Name, Code: "INVALID", Message: err.Error()})
			continue
		}
		data[fld.Name] = v
	}
	if len(details) > 0 {
		return nil, model.NewValidationError(details)
	}
	return data, nil
}

// ExtraValues returns the submitted extra field values keyed by their
// declared names.
func ExtraValues(values url.Values) url.Values {
	out := url.Values{}
	for k, v := range values {
		if strings.HasPrefix(k, "ManyMany[") && strings.HasSuffix(k, "]") {
			out[k[len("ManyMany["):len(k)-1]] = v
		}
	}
	return out
}

// MakeReadOnly converts every field to display-only and drops the actions.
func (f *Form) MakeReadOnly() {
	f.ReadOnly = true
	f.Actions = nil
	for _, fld := range f.Fields {
		fld.readOnly()
	}
}
