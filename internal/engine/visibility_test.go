package engine

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"formdeck/api/internal/form"
)

func dependent(id, dependsOn string, condition form.Condition, value any, action form.Action) form.Field {
	return form.Field{
		ID:   id,
		Type: form.TypeText,
		Logic: &form.Logic{
			DependsOn: dependsOn,
			Condition: condition,
			Value:     value,
			Action:    action,
		},
	}
}

func captureLogs(t *testing.T) *[]string {
	t.Helper()
	var lines []string
	previous := logf
	logf = func(format string, args ...any) {
		lines = append(lines, fmt.Sprintf(format, args...))
	}
	t.Cleanup(func() { logf = previous })
	return &lines
}

func TestUnconditionalFieldsAreVisible(t *testing.T) {
	fields := []form.Field{
		{ID: "a", Type: form.TypeText},
		{ID: "b", Type: form.TypeText, Logic: &form.Logic{DependsOn: "none", Condition: form.ConditionEquals, Value: "x"}},
		{ID: "c", Type: form.TypeText, Logic: &form.Logic{DependsOn: "", Condition: form.ConditionEquals}},
	}
	got := ComputeVisibility(fields, Values{})
	want := map[string]bool{"a": true, "b": true, "c": true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("visibility mismatch (-want +got):\n%s", diff)
	}
}

func TestUnsetDependencyFailsClosed(t *testing.T) {
	conditions := []form.Condition{
		form.ConditionEquals, form.ConditionNotEquals, form.ConditionContains, form.ConditionNotContains,
		form.ConditionGreaterThan, form.ConditionLessThan, form.ConditionIsEmpty, form.ConditionIsNotEmpty,
	}
	for _, condition := range conditions {
		for _, action := range []form.Action{form.ActionShow, form.ActionHide, ""} {
			t.Run(fmt.Sprintf("%s/%s", condition, action), func(t *testing.T) {
				fields := []form.Field{
					{ID: "a", Type: form.TypeText},
					dependent("b", "a", condition, "x", action),
				}
				for _, values := range []Values{{}, {"a": nil}} {
					if ComputeVisibility(fields, values)["b"] {
						t.Fatalf("b visible with unset dependency (values %v)", values)
					}
				}
			})
		}
	}
}

func TestUnresolvableDependencyIsConditionNotMet(t *testing.T) {
	logs := captureLogs(t)
	fields := []form.Field{
		dependent("self_show", "self_show", form.ConditionIsEmpty, nil, form.ActionShow),
		dependent("self_hide", "self_hide", form.ConditionIsEmpty, nil, form.ActionHide),
		dependent("ghost_show", "ghost", form.ConditionIsEmpty, nil, form.ActionShow),
		dependent("ghost_hide", "ghost", form.ConditionIsEmpty, nil, form.ActionHide),
	}
	values := Values{"self_show": "", "self_hide": "", "ghost": ""}
	got := ComputeVisibility(fields, values)
	want := map[string]bool{"self_show": false, "self_hide": true, "ghost_show": false, "ghost_hide": true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("visibility mismatch (-want +got):\n%s", diff)
	}
	if len(*logs) != 4 {
		t.Fatalf("expected a diagnostic per unresolvable dependency, got %v", *logs)
	}
}

func TestEvaluateCondition(t *testing.T) {
	tests := []struct {
		name      string
		condition form.Condition
		parent    any
		target    any
		want      bool
	}{
		{"equals folds case", form.ConditionEquals, "YES", "yes", true},
		{"equals number as text", form.ConditionEquals, 3.0, "3", true},
		{"equals bool", form.ConditionEquals, true, "true", true},
		{"equals joins sequences", form.ConditionEquals, []string{"a", "b"}, "a,b", true},
		{"not equals", form.ConditionNotEquals, "no", "yes", true},
		{"contains substring folds case", form.ConditionContains, "Hello World", "world", true},
		{"contains membership", form.ConditionContains, []string{"Red", "Blue"}, "blue", true},
		{"membership is not substring", form.ConditionContains, []string{"Redwood"}, "red", false},
		{"contains decoded list", form.ConditionContains, []any{"x", "y"}, "Y", true},
		{"not contains", form.ConditionNotContains, []string{"a"}, "b", true},
		{"greater than", form.ConditionGreaterThan, "10", 9, true},
		{"greater than equal", form.ConditionGreaterThan, 5.0, "5", false},
		{"less than", form.ConditionLessThan, "2", "3", true},
		{"NaN parent", form.ConditionGreaterThan, "abc", "1", false},
		{"NaN target", form.ConditionLessThan, "1", "abc", false},
		{"empty parent is NaN", form.ConditionLessThan, "", "3", false},
		{"is empty string", form.ConditionIsEmpty, "", nil, true},
		{"is empty sequence", form.ConditionIsEmpty, []string{}, nil, true},
		{"is not empty", form.ConditionIsNotEmpty, "x", nil, true},
		{"unknown condition", form.Condition("matches"), "x", "x", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EvaluateCondition(tt.condition, tt.parent, tt.target); got != tt.want {
				t.Fatalf("EvaluateCondition(%s, %v, %v) = %v, want %v", tt.condition, tt.parent, tt.target, got, tt.want)
			}
		})
	}
}

func TestHideActionNegates(t *testing.T) {
	fields := []form.Field{
		{ID: "a", Type: form.TypeText},
		dependent("b", "a", form.ConditionEquals, "x", form.ActionHide),
	}
	if ComputeVisibility(fields, Values{"a": "x"})["b"] {
		t.Fatalf("b should be hidden when condition is met with hide action")
	}
	if !ComputeVisibility(fields, Values{"a": "y"})["b"] {
		t.Fatalf("b should be visible when condition is not met with hide action")
	}
}

func chain() []form.Field {
	return []form.Field{
		{ID: "a", Type: form.TypeText, Position: 0},
		dependent("b", "a", form.ConditionEquals, "x", form.ActionShow),
		dependent("c", "b", form.ConditionEquals, "x", form.ActionShow),
	}
}

func TestCascadeClearsChain(t *testing.T) {
	fields := chain()
	values := Values{"a": "x", "b": "x", "c": "kept"}

	visibility, _ := Cascade(fields, values, "a")
	if !visibility["b"] || !visibility["c"] {
		t.Fatalf("expected b and c visible, got %v", visibility)
	}

	values["a"] = "y"
	visibility, reset := Cascade(fields, values, "a")
	if visibility["b"] || visibility["c"] {
		t.Fatalf("expected b and c hidden, got %v", visibility)
	}
	if diff := cmp.Diff([]string{"b", "c"}, reset); diff != "" {
		t.Fatalf("reset order (-want +got):\n%s", diff)
	}
	if values["b"] != "" || values["c"] != "" {
		t.Fatalf("expected cleared values, got %v", values)
	}
}

func TestCascadeResetsToTypedEmptyValue(t *testing.T) {
	fields := []form.Field{
		{ID: "a", Type: form.TypeRadio},
		{ID: "tags", Type: form.TypeCheckbox, Logic: &form.Logic{DependsOn: "a", Condition: form.ConditionEquals, Value: "yes"}},
		{ID: "opt_in", Type: form.TypeSwitch, Logic: &form.Logic{DependsOn: "a", Condition: form.ConditionEquals, Value: "yes"}},
	}
	values := Values{"a": "no", "tags": []string{"x"}, "opt_in": true}
	Cascade(fields, values, "a")
	if diff := cmp.Diff([]string{}, values["tags"]); diff != "" {
		t.Fatalf("checkbox reset (-want +got):\n%s", diff)
	}
	if values["opt_in"] != false {
		t.Fatalf("switch reset = %v, want false", values["opt_in"])
	}
}

func TestCascadeTerminatesOnCycles(t *testing.T) {
	fields := []form.Field{
		dependent("a", "b", form.ConditionEquals, "x", form.ActionShow),
		dependent("b", "a", form.ConditionEquals, "x", form.ActionShow),
		dependent("c", "c", form.ConditionEquals, "x", form.ActionShow),
	}
	values := Values{"a": "y", "b": "x", "c": "x"}

	visibility, reset := Cascade(fields, values, "a")
	if visibility["b"] {
		t.Fatalf("b should be hidden")
	}
	if diff := cmp.Diff([]string{"b"}, reset); diff != "" {
		t.Fatalf("reset (-want +got):\n%s", diff)
	}
	if values["a"] != "y" {
		t.Fatalf("the changed field must not be reset by its own cycle, got %v", values["a"])
	}

	settled, _ := Settle(fields, Values{"a": "x", "b": "x", "c": "x"})
	if len(settled) != 3 {
		t.Fatalf("Settle() returned %d entries", len(settled))
	}
}

func TestSettleLongChainWithinPassBound(t *testing.T) {
	const n = 50
	fields := []form.Field{{ID: "f0", Type: form.TypeText}}
	values := Values{"f0": "stop"}
	for i := 1; i < n; i++ {
		id := fmt.Sprintf("f%d", i)
		fields = append(fields, dependent(id, fmt.Sprintf("f%d", i-1), form.ConditionIsNotEmpty, nil, form.ActionShow))
		values[id] = "set"
	}
	// Reverse the slice so each pass only uncovers one more hidden field.
	for i, j := 0, len(fields)-1; i < j; i, j = i+1, j-1 {
		fields[i], fields[j] = fields[j], fields[i]
	}
	values["f0"] = ""
	visibility, reset := Settle(fields, values)
	if len(reset) != n-1 {
		t.Fatalf("expected %d resets, got %d", n-1, len(reset))
	}
	for i := 1; i < n; i++ {
		if visibility[fmt.Sprintf("f%d", i)] {
			t.Fatalf("f%d should be hidden", i)
		}
	}
}
