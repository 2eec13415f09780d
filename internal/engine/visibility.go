// Package engine evaluates form definitions against live values: which fields
// are visible, which values must be reset when a dependency changes, and
// whether a value satisfies its field's rules. Everything here is synchronous
// and free of I/O so every rendering surface shares the same semantics.
package engine

import (
	"log"
	"math"
	"strings"

	"formdeck/api/internal/form"
)

// Values maps field ids to current values. A missing key, or a nil value,
// means the field has not been registered yet.
type Values map[string]any

// logf receives dependency and pattern diagnostics.
var logf = log.Printf

// ComputeVisibility returns the visibility of every field for the given
// values. Unresolvable dependencies are logged.
func ComputeVisibility(fields []form.Field, values Values) map[string]bool {
	index := form.Index(fields)
	out := make(map[string]bool, len(fields))
	for _, field := range fields {
		visible, problem := visibility(field, index, values)
		if problem != "" {
			logf("engine: field %s: %s", field.ID, problem)
		}
		out[field.ID] = visible
	}
	return out
}

// visibility evaluates one field. The returned problem is non-empty when the
// dependency could not be resolved.
func visibility(field form.Field, index map[string]form.Field, values Values) (bool, string) {
	logic := field.Logic
	if !logic.Active() {
		return true, ""
	}
	dependsOn := strings.TrimSpace(logic.DependsOn)
	if dependsOn == field.ID {
		return logic.Hides(), "depends on itself"
	}
	if _, ok := index[dependsOn]; !ok {
		return logic.Hides(), "depends on missing field " + dependsOn
	}

	parent, ok := values[dependsOn]
	if !ok || parent == nil {
		return false, ""
	}

	met := EvaluateCondition(logic.Condition, parent, logic.Value)
	if logic.Hides() {
		return !met, ""
	}
	return met, ""
}

// EvaluateCondition applies a condition to a parent value. String
// comparisons are case-insensitive; numeric comparisons with a non-numeric
// operand are never met.
func EvaluateCondition(condition form.Condition, parent, target any) bool {
	switch condition {
	case form.ConditionEquals:
		return strings.EqualFold(form.Text(parent), form.Text(target))
	case form.ConditionNotEquals:
		return !strings.EqualFold(form.Text(parent), form.Text(target))
	case form.ConditionContains:
		return contains(parent, target)
	case form.ConditionNotContains:
		return !contains(parent, target)
	case form.ConditionGreaterThan:
		left, right := form.Number(parent), form.Number(target)
		if math.IsNaN(left) || math.IsNaN(right) {
			return false
		}
		return left > right
	case form.ConditionLessThan:
		left, right := form.Number(parent), form.Number(target)
		if math.IsNaN(left) || math.IsNaN(right) {
			return false
		}
		return left < right
	case form.ConditionIsEmpty:
		return form.IsEmpty(parent)
	case form.ConditionIsNotEmpty:
		return !form.IsEmpty(parent)
	}
	return false
}

func contains(parent, target any) bool {
	needle := form.Text(target)
	if form.IsSequence(parent) {
		for _, item := range form.Strings(parent) {
			if strings.EqualFold(item, needle) {
				return true
			}
		}
		return false
	}
	return strings.Contains(strings.ToLower(form.Text(parent)), strings.ToLower(needle))
}

// Cascade propagates a value change of changedID through its dependents.
// Dependents that become hidden are reset to their empty value in values,
// and each reset propagates to the reset field's own dependents. Every field
// is visited at most once, so cyclic definitions terminate. It returns the
// resulting visibility of all fields and the ids that were reset, in
// propagation order.
func Cascade(fields []form.Field, values Values, changedID string) (map[string]bool, []string) {
	index := form.Index(fields)
	dependents := dependentsOf(fields)

	visited := map[string]bool{changedID: true}
	queue := []string{changedID}
	var reset []string
	for steps := 0; len(queue) > 0 && steps <= len(fields); steps++ {
		current := queue[0]
		queue = queue[1:]
		for _, child := range dependents[current] {
			if visited[child.ID] {
				continue
			}
			visited[child.ID] = true
			visible, _ := visibility(child, index, values)
			if visible {
				continue
			}
			if resetValue(child, values) {
				reset = append(reset, child.ID)
				queue = append(queue, child.ID)
			}
		}
	}

	out := make(map[string]bool, len(fields))
	for _, field := range fields {
		out[field.ID], _ = visibility(field, index, values)
	}
	return out, reset
}

// Settle brings a whole value map to a fixed point: every hidden field holds
// its empty value. It runs at most len(fields) passes and returns the final
// visibility along with the ids it reset.
func Settle(fields []form.Field, values Values) (map[string]bool, []string) {
	index := form.Index(fields)
	var reset []string
	out := make(map[string]bool, len(fields))
	for pass := 0; pass <= len(fields); pass++ {
		changed := false
		for _, field := range fields {
			visible, _ := visibility(field, index, values)
			out[field.ID] = visible
			if !visible && resetValue(field, values) {
				reset = append(reset, field.ID)
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return out, reset
}

// resetValue clears a hidden field. Unregistered fields stay unregistered.
// It reports whether the stored value actually changed.
func resetValue(field form.Field, values Values) bool {
	current, ok := values[field.ID]
	if !ok || current == nil || isEmptyValueOf(field.Type, current) {
		return false
	}
	values[field.ID] = form.EmptyValue(field.Type)
	return true
}

func isEmptyValueOf(t form.Type, value any) bool {
	if t.IsBoolean() {
		flag, ok := value.(bool)
		return ok && !flag
	}
	if t.IsMulti() {
		return form.IsSequence(value) && form.IsEmpty(value)
	}
	text, ok := value.(string)
	return ok && text == ""
}

func dependentsOf(fields []form.Field) map[string][]form.Field {
	out := make(map[string][]form.Field)
	for _, field := range fields {
		if !field.Logic.Active() {
			continue
		}
		dependsOn := strings.TrimSpace(field.Logic.DependsOn)
		out[dependsOn] = append(out[dependsOn], field)
	}
	return out
}
