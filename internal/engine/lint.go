package engine

import (
	"fmt"
	"regexp"
	"strings"

	"formdeck/api/internal/form"
)

// Issue is an authoring problem found without evaluating any values.
type Issue struct {
	Severity string `json:"severity"` // "error" or "warning"
	Field    string `json:"field,omitempty"`
	Rule     string `json:"rule"`
	Message  string `json:"message"`
}

// Lint inspects a form definition for problems the evaluator tolerates but a
// form author should fix: unresolvable or cyclic dependencies, dependencies
// on fields below the dependent, choice fields without options, patterns
// that do not compile and inverted bounds.
func Lint(fields []form.Field) []Issue {
	index := form.Index(fields)
	issues := make([]Issue, 0)

	for _, field := range fields {
		if !field.Type.Valid() {
			issues = append(issues, Issue{Severity: "error", Field: field.ID, Rule: "unknown_type",
				Message: fmt.Sprintf("unknown field type %q", field.Type)})
		}
		if field.Type.IsChoice() && len(field.Options) == 0 {
			issues = append(issues, Issue{Severity: "error", Field: field.ID, Rule: "missing_options",
				Message: "choice field has no options"})
		}
		if pattern := field.Validation.Pattern; pattern != "" {
			if _, err := regexp.Compile(pattern); err != nil {
				issues = append(issues, Issue{Severity: "warning", Field: field.ID, Rule: "invalid_pattern",
					Message: fmt.Sprintf("pattern does not compile and will be ignored: %v", err)})
			}
		}
		rules := field.Validation
		if rules.Min != nil && rules.Max != nil && *rules.Min > *rules.Max {
			issues = append(issues, Issue{Severity: "error", Field: field.ID, Rule: "invalid_bounds",
				Message: "min is greater than max"})
		}
		if rules.MinLength != nil && rules.MaxLength != nil && *rules.MinLength > *rules.MaxLength {
			issues = append(issues, Issue{Severity: "error", Field: field.ID, Rule: "invalid_bounds",
				Message: "min_length is greater than max_length"})
		}

		if !field.Logic.Active() {
			continue
		}
		issues = append(issues, lintDependency(field, index)...)
	}

	issues = append(issues, lintCycles(fields, index)...)
	return issues
}

func lintDependency(field form.Field, index map[string]form.Field) []Issue {
	var issues []Issue
	logic := field.Logic
	dependsOn := strings.TrimSpace(logic.DependsOn)

	switch logic.Condition {
	case form.ConditionEquals, form.ConditionNotEquals, form.ConditionContains, form.ConditionNotContains,
		form.ConditionGreaterThan, form.ConditionLessThan, form.ConditionIsEmpty, form.ConditionIsNotEmpty:
	default:
		issues = append(issues, Issue{Severity: "error", Field: field.ID, Rule: "unknown_condition",
			Message: fmt.Sprintf("unknown condition %q is never met", logic.Condition)})
	}
	if logic.Action != "" && logic.Action != form.ActionShow && logic.Action != form.ActionHide {
		issues = append(issues, Issue{Severity: "warning", Field: field.ID, Rule: "unknown_action",
			Message: fmt.Sprintf("unknown action %q is treated as show", logic.Action)})
	}

	if dependsOn == field.ID {
		return append(issues, Issue{Severity: "error", Field: field.ID, Rule: "self_dependency",
			Message: "field depends on itself"})
	}
	parent, ok := index[dependsOn]
	if !ok {
		return append(issues, Issue{Severity: "error", Field: field.ID, Rule: "missing_dependency",
			Message: fmt.Sprintf("field depends on missing field %q", dependsOn)})
	}
	if parent.Position >= field.Position {
		issues = append(issues, Issue{Severity: "warning", Field: field.ID, Rule: "forward_dependency",
			Message: fmt.Sprintf("field depends on %q which is not above it", parent.DisplayName())})
	}
	return issues
}

// lintCycles follows each field's dependency chain for at most len(fields)
// steps and reports every field that leads back to itself.
func lintCycles(fields []form.Field, index map[string]form.Field) []Issue {
	var issues []Issue
	for _, field := range fields {
		current := field
		for step := 0; step < len(fields); step++ {
			if !current.Logic.Active() {
				break
			}
			next, ok := index[strings.TrimSpace(current.Logic.DependsOn)]
			if !ok || next.ID == current.ID {
				break
			}
			if next.ID == field.ID {
				issues = append(issues, Issue{Severity: "error", Field: field.ID, Rule: "dependency_cycle",
					Message: "field is part of a dependency cycle"})
				break
			}
			current = next
		}
	}
	return issues
}

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []Issue) bool {
	for _, issue := range issues {
		if issue.Severity == "error" {
			return true
		}
	}
	return false
}
