package form

import (
	"strings"
)

type Type string

const (
	TypeText        Type = "text"
	TypeTextarea    Type = "textarea"
	TypeEmail       Type = "email"
	TypeURL         Type = "url"
	TypePhone       Type = "phone"
	TypePassword    Type = "password"
	TypeNumber      Type = "number"
	TypeDate        Type = "date"
	TypeTime        Type = "time"
	TypeDateTime    Type = "datetime"
	TypeSelect      Type = "select"
	TypeMultiSelect Type = "multiselect"
	TypeRadio       Type = "radio"
	TypeCheckbox    Type = "checkbox"
	TypeSwitch      Type = "switch"
	TypeFile        Type = "file"
	TypeRange       Type = "range"
	TypeColor       Type = "color"
	TypeRating      Type = "rating"
	TypeSignature   Type = "signature"
	TypeCaptcha     Type = "captcha"
	TypeRichText    Type = "rich-text"
)

var knownTypes = map[Type]struct{}{
	TypeText:        {},
	TypeTextarea:    {},
	TypeEmail:       {},
	TypeURL:         {},
	TypePhone:       {},
	TypePassword:    {},
	TypeNumber:      {},
	TypeDate:        {},
	TypeTime:        {},
	TypeDateTime:    {},
	TypeSelect:      {},
	TypeMultiSelect: {},
	TypeRadio:       {},
	TypeCheckbox:    {},
	TypeSwitch:      {},
	TypeFile:        {},
	TypeRange:       {},
	TypeColor:       {},
	TypeRating:      {},
	TypeSignature:   {},
	TypeCaptcha:     {},
	TypeRichText:    {},
}

// typeAliases maps spellings seen in stored forms and imported documents
// onto the closed set of field types.
var typeAliases = map[string]Type{
	"toggle":          TypeSwitch,
	"boolean":         TypeSwitch,
	"richtext":        TypeRichText,
	"rich_text":       TypeRichText,
	"wysiwyg":         TypeRichText,
	"paragraph":       TypeTextarea,
	"long_text":       TypeTextarea,
	"short_text":      TypeText,
	"string":          TypeText,
	"tel":             TypePhone,
	"telephone":       TypePhone,
	"phone_number":    TypePhone,
	"integer":         TypeNumber,
	"decimal":         TypeNumber,
	"dropdown":        TypeSelect,
	"choice":          TypeRadio,
	"single_choice":   TypeRadio,
	"multiple_choice": TypeCheckbox,
	"checkboxes":      TypeCheckbox,
	"multi_select":    TypeMultiSelect,
	"date_time":       TypeDateTime,
	"datetime-local":  TypeDateTime,
	"upload":          TypeFile,
	"file_upload":     TypeFile,
	"slider":          TypeRange,
	"stars":           TypeRating,
}

// ParseType resolves a raw type name, including known aliases. The second
// return value is false when the name is not recognised.
func ParseType(raw string) (Type, bool) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if _, ok := knownTypes[Type(name)]; ok {
		return Type(name), true
	}
	if alias, ok := typeAliases[name]; ok {
		return alias, true
	}
	return "", false
}

func (t Type) Valid() bool {
	_, ok := knownTypes[t]
	return ok
}

// IsChoice reports whether values of this type must come from Options.
func (t Type) IsChoice() bool {
	switch t {
	case TypeSelect, TypeMultiSelect, TypeRadio, TypeCheckbox:
		return true
	}
	return false
}

// IsMulti reports whether the value is a sequence of option values.
func (t Type) IsMulti() bool {
	return t == TypeCheckbox || t == TypeMultiSelect
}

func (t Type) IsNumeric() bool {
	switch t {
	case TypeNumber, TypeRange, TypeRating:
		return true
	}
	return false
}

func (t Type) IsBoolean() bool {
	return t == TypeSwitch
}

type Condition string

const (
	ConditionEquals      Condition = "equals"
	ConditionNotEquals   Condition = "not_equals"
	ConditionContains    Condition = "contains"
	ConditionNotContains Condition = "not_contains"
	ConditionGreaterThan Condition = "greater_than"
	ConditionLessThan    Condition = "less_than"
	ConditionIsEmpty     Condition = "is_empty"
	ConditionIsNotEmpty  Condition = "is_not_empty"
)

type Action string

const (
	ActionShow Action = "show"
	ActionHide Action = "hide"
)

// NoDependency is the sentinel dependsOn value for unconditional fields.
const NoDependency = "none"

type Logic struct {
	DependsOn string    `json:"dependsOn" yaml:"depends_on"`
	Condition Condition `json:"condition" yaml:"condition"`
	Value     any       `json:"value,omitempty" yaml:"value,omitempty"`
	Action    Action    `json:"action,omitempty" yaml:"action,omitempty"`
}

// Active reports whether the descriptor actually gates visibility.
func (l *Logic) Active() bool {
	if l == nil {
		return false
	}
	dep := strings.TrimSpace(l.DependsOn)
	return dep != "" && dep != NoDependency
}

func (l *Logic) Hides() bool {
	return l != nil && l.Action == ActionHide
}

type Rules struct {
	Min               *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max               *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Integer           bool     `json:"integer,omitempty" yaml:"integer,omitempty"`
	MinLength         *int     `json:"min_length,omitempty" yaml:"min_length,omitempty"`
	MaxLength         *int     `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	Pattern           string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	PatternMessage    string   `json:"pattern_message,omitempty" yaml:"pattern_message,omitempty"`
	Email             bool     `json:"email,omitempty" yaml:"email,omitempty"`
	URL               bool     `json:"url,omitempty" yaml:"url,omitempty"`
	MinDate           string   `json:"min_date,omitempty" yaml:"min_date,omitempty"`
	MaxDate           string   `json:"max_date,omitempty" yaml:"max_date,omitempty"`
	AllowedExtensions []string `json:"allowed_extensions,omitempty" yaml:"allowed_extensions,omitempty"`
	MaxFileSize       int64    `json:"max_file_size,omitempty" yaml:"max_file_size,omitempty"`
}

type Field struct {
	ID           string  `json:"id" yaml:"id"`
	FormID       string  `json:"form_id,omitempty" yaml:"-"`
	Type         Type    `json:"type" yaml:"type"`
	Label        string  `json:"label,omitempty" yaml:"label,omitempty"`
	Placeholder  string  `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	HelpText     string  `json:"help_text,omitempty" yaml:"help_text,omitempty"`
	Required     bool    `json:"required" yaml:"required,omitempty"`
	Options      Options `json:"options,omitempty" yaml:"options,omitempty"`
	Validation   Rules   `json:"validation_rules" yaml:"validation,omitempty"`
	Logic        *Logic  `json:"conditional_logic,omitempty" yaml:"conditional_logic,omitempty"`
	DefaultValue any     `json:"default_value,omitempty" yaml:"default,omitempty"`
	Position     int     `json:"position" yaml:"-"`
}

func (f Field) OrderKey() string {
	return f.ID
}

func (f Field) WithPosition(position int) Field {
	f.Position = position
	return f
}

// DisplayName is the label, falling back to the id for unlabeled fields.
func (f Field) DisplayName() string {
	if label := strings.TrimSpace(f.Label); label != "" {
		return label
	}
	return f.ID
}

// Initial returns the seed value for a freshly mounted form instance.
func (f Field) Initial() any {
	if f.DefaultValue != nil {
		return f.DefaultValue
	}
	return EmptyValue(f.Type)
}

// Index returns the fields keyed by id.
func Index(fields []Field) map[string]Field {
	out := make(map[string]Field, len(fields))
	for _, field := range fields {
		out[field.ID] = field
	}
	return out
}
