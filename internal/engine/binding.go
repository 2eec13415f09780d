package engine

import (
	"errors"
	"sort"

	"formdeck/api/internal/form"
)

var (
	ErrUnknownField = errors.New("unknown field")
	ErrFieldHidden  = errors.New("field is hidden")
)

// State is the lifecycle position of one field within a Binding.
type State string

const (
	StateHidden    State = "hidden"
	StateUntouched State = "untouched"
	StateValid     State = "valid"
	StateInvalid   State = "invalid"
)

// Change describes the effect of a single value change.
type Change struct {
	FieldID string   `json:"fieldId"`
	Result  Result   `json:"result"`
	Reset   []string `json:"reset,omitempty"`
	Shown   []string `json:"shown,omitempty"`
	Hidden  []string `json:"hidden,omitempty"`
}

// SubmitResult is the outcome of a full synchronous revalidation. Values
// holds only visible fields.
type SubmitResult struct {
	OK     bool              `json:"ok"`
	Values map[string]any    `json:"values,omitempty"`
	Errors map[string]Result `json:"errors,omitempty"`
}

// Binding holds the live state of one rendered form instance. It is not safe
// for concurrent use; each surface owns its own.
type Binding struct {
	fields  []form.Field
	index   map[string]form.Field
	values  Values
	visible map[string]bool
	results map[string]Result
	touched map[string]bool
}

// NewBinding seeds values from initial, falling back to each field's default
// or empty value, then settles visibility so hidden fields start cleared.
// Keys in initial that do not name a field are ignored.
func NewBinding(fields []form.Field, initial map[string]any) *Binding {
	ordered := make([]form.Field, len(fields))
	copy(ordered, fields)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })

	b := &Binding{
		fields:  ordered,
		index:   form.Index(ordered),
		values:  make(Values, len(ordered)),
		results: make(map[string]Result),
		touched: make(map[string]bool),
	}
	for _, issue := range Lint(ordered) {
		if issue.Rule == "self_dependency" || issue.Rule == "missing_dependency" || issue.Rule == "dependency_cycle" {
			logf("engine: field %s: %s", issue.Field, issue.Message)
		}
	}
	for _, field := range ordered {
		value, ok := initial[field.ID]
		if !ok || value == nil {
			value = field.Initial()
		}
		b.values[field.ID] = coerce(field, value)
	}
	b.visible, _ = Settle(b.fields, b.values)
	return b
}

// coerce normalizes values whose shape the engine relies on: selections are
// string lists in the options' own spelling and switches are booleans.
func coerce(field form.Field, value any) any {
	switch {
	case field.Type.IsMulti():
		selected := append([]string{}, form.Strings(value)...)
		for i, item := range selected {
			if canonical, ok := field.Options.Match(item); ok {
				selected[i] = canonical
			}
		}
		return selected
	case field.Type.IsBoolean():
		return form.Bool(value)
	case field.Type.IsChoice():
		if text, ok := value.(string); ok {
			if canonical, ok := field.Options.Match(text); ok {
				return canonical
			}
		}
	}
	return value
}

// SetValue records a new value, re-validates the field and cascades the
// change through its dependents.
func (b *Binding) SetValue(id string, value any) (Change, error) {
	field, ok := b.index[id]
	if !ok {
		return Change{}, ErrUnknownField
	}
	if !b.visible[id] {
		return Change{}, ErrFieldHidden
	}

	before := b.visible
	b.values[id] = coerce(field, value)
	b.touched[id] = true

	visible, reset := Cascade(b.fields, b.values, id)
	b.visible = visible

	change := Change{FieldID: id, Reset: reset}
	for _, f := range b.fields {
		was, now := before[f.ID], visible[f.ID]
		switch {
		case was && !now:
			change.Hidden = append(change.Hidden, f.ID)
			delete(b.results, f.ID)
			delete(b.touched, f.ID)
		case !was && now:
			change.Shown = append(change.Shown, f.ID)
		}
	}

	change.Result = b.record(field)
	return change, nil
}

// Blur marks a field touched and validates its current value.
func (b *Binding) Blur(id string) (Result, error) {
	field, ok := b.index[id]
	if !ok {
		return Result{}, ErrUnknownField
	}
	if !b.visible[id] {
		return pass(), nil
	}
	b.touched[id] = true
	return b.record(field), nil
}

func (b *Binding) record(field form.Field) Result {
	result := Validate(field, b.values[field.ID], b.visible[field.ID])
	if result.Valid {
		delete(b.results, field.ID)
	} else {
		b.results[field.ID] = result
	}
	return result
}

// Submit re-runs validation over every visible field instead of trusting the
// recorded per-field state.
func (b *Binding) Submit() SubmitResult {
	b.visible, _ = Settle(b.fields, b.values)

	out := SubmitResult{Values: make(map[string]any), Errors: make(map[string]Result)}
	for _, field := range b.fields {
		if !b.visible[field.ID] {
			delete(b.results, field.ID)
			continue
		}
		out.Values[field.ID] = b.values[field.ID]
		result := Validate(field, b.values[field.ID], true)
		if result.Valid {
			delete(b.results, field.ID)
			continue
		}
		b.touched[field.ID] = true
		b.results[field.ID] = result
		out.Errors[field.ID] = result
	}
	out.OK = len(out.Errors) == 0
	return out
}

func (b *Binding) State(id string) State {
	if !b.visible[id] {
		return StateHidden
	}
	if result, ok := b.results[id]; ok && !result.Valid {
		return StateInvalid
	}
	if !b.touched[id] {
		return StateUntouched
	}
	return StateValid
}

func (b *Binding) Value(id string) any {
	return b.values[id]
}

func (b *Binding) Visible(id string) bool {
	return b.visible[id]
}

// Error returns the message currently shown for a field, if any.
func (b *Binding) Error(id string) string {
	return b.results[id].Message
}

// Fields returns the definitions in position order.
func (b *Binding) Fields() []form.Field {
	out := make([]form.Field, len(b.fields))
	copy(out, b.fields)
	return out
}

// Snapshot is a serializable view of the binding.
type Snapshot struct {
	Values     map[string]any    `json:"values"`
	Visibility map[string]bool   `json:"visibility"`
	States     map[string]State  `json:"states"`
	Errors     map[string]string `json:"errors"`
}

func (b *Binding) Snapshot() Snapshot {
	out := Snapshot{
		Values:     make(map[string]any, len(b.fields)),
		Visibility: make(map[string]bool, len(b.fields)),
		States:     make(map[string]State, len(b.fields)),
		Errors:     make(map[string]string),
	}
	for _, field := range b.fields {
		out.Values[field.ID] = b.values[field.ID]
		out.Visibility[field.ID] = b.visible[field.ID]
		out.States[field.ID] = b.State(field.ID)
		if message := b.Error(field.ID); message != "" {
			out.Errors[field.ID] = message
		}
	}
	return out
}
