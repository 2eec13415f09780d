package form

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestOptionsUnmarshalAcceptsBothShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Options
	}{
		{
			name: "strings",
			raw:  `["Yes","No"]`,
			want: Options{{Label: "Yes", Value: "Yes"}, {Label: "No", Value: "No"}},
		},
		{
			name: "objects",
			raw:  `[{"label":"Yes","value":"yes"},{"label":"No","value":"no"}]`,
			want: Options{{Label: "Yes", Value: "yes"}, {Label: "No", Value: "no"}},
		},
		{
			name: "mixed with partial objects",
			raw:  `["Red",{"label":"Green"},{"value":"blue"},{"label":"Five","value":5},null]`,
			want: Options{
				{Label: "Red", Value: "Red"},
				{Label: "Green", Value: "Green"},
				{Label: "blue", Value: "blue"},
				{Label: "Five", Value: "5"},
			},
		},
		{
			name: "null",
			raw:  `null`,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Options
			if err := json.Unmarshal([]byte(tt.raw), &got); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("options mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestOptionsUnmarshalRejectsNonList(t *testing.T) {
	var got Options
	if err := json.Unmarshal([]byte(`{"label":"x"}`), &got); err == nil {
		t.Fatalf("expected error for object options")
	}
}

func TestParseType(t *testing.T) {
	tests := map[string]Type{
		"text":      TypeText,
		" Toggle ":  TypeSwitch,
		"rich_text": TypeRichText,
		"dropdown":  TypeSelect,
		"Checkbox":  TypeCheckbox,
	}
	for raw, want := range tests {
		got, ok := ParseType(raw)
		if !ok || got != want {
			t.Fatalf("ParseType(%q) = %q, %v; want %q", raw, got, ok, want)
		}
	}
	if _, ok := ParseType("hologram"); ok {
		t.Fatalf("expected unknown type to be rejected")
	}
}

func TestOptionsMatchIgnoresCase(t *testing.T) {
	options := Options{{Label: "Yes please", Value: "Yes"}, {Label: "No", Value: "no"}}
	tests := []struct {
		in        string
		want      string
		wantFound bool
	}{
		{in: "Yes", want: "Yes", wantFound: true},
		{in: "yes", want: "Yes", wantFound: true},
		{in: "NO", want: "no", wantFound: true},
		{in: "maybe", wantFound: false},
	}
	for _, tt := range tests {
		got, found := options.Match(tt.in)
		if got != tt.want || found != tt.wantFound {
			t.Fatalf("Match(%q) = %q, %v; want %q, %v", tt.in, got, found, tt.want, tt.wantFound)
		}
	}
	if got := options.LabelFor("YES"); got != "Yes please" {
		t.Fatalf("LabelFor(YES) = %q", got)
	}
}

func TestEmptyValueByType(t *testing.T) {
	if diff := cmp.Diff([]string{}, EmptyValue(TypeCheckbox)); diff != "" {
		t.Fatalf("checkbox empty (-want +got):\n%s", diff)
	}
	if got := EmptyValue(TypeMultiSelect); !IsEmpty(got) {
		t.Fatalf("multiselect empty value %v is not empty", got)
	}
	if got := EmptyValue(TypeSwitch); got != false {
		t.Fatalf("switch empty = %v, want false", got)
	}
	for _, typ := range []Type{TypeText, TypeNumber, TypeDate, TypeFile, TypeRadio} {
		if got := EmptyValue(typ); got != "" {
			t.Fatalf("EmptyValue(%s) = %v, want empty string", typ, got)
		}
	}
}

func TestIsEmpty(t *testing.T) {
	empty := []any{nil, "", "   ", []string{}, []any{}, map[string]any{}, FileRef{}}
	for _, value := range empty {
		if !IsEmpty(value) {
			t.Fatalf("IsEmpty(%#v) = false", value)
		}
	}
	filled := []any{"a", []string{"x"}, 0.0, false, FileRef{Key: "k"}}
	for _, value := range filled {
		if IsEmpty(value) {
			t.Fatalf("IsEmpty(%#v) = true", value)
		}
	}
}

func TestNumberCoercion(t *testing.T) {
	if got := Number("5.5"); got != 5.5 {
		t.Fatalf("Number(5.5) = %v", got)
	}
	if got := Number(true); got != 1 {
		t.Fatalf("Number(true) = %v", got)
	}
	for _, value := range []any{"", "abc", []string{"1"}, nil} {
		if got := Number(value); !math.IsNaN(got) {
			t.Fatalf("Number(%#v) = %v, want NaN", value, got)
		}
	}
}

func TestNormalizeImported(t *testing.T) {
	raw := `[
		{"type":"dropdown","label":"Country","options":["NZ","AU","NZ"]},
		{"type":"radio","label":"Agree?"},
		{"type":"hologram","label":"<b>Name</b>","helpText":"<script>x</script>Your name"},
		{"type":"text","label":"   "}
	]`
	var records []Imported
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	fields, issues := NormalizeImported(records, "frm_1", 3)
	if len(fields) != 3 {
		t.Fatalf("expected 3 admitted fields, got %d", len(fields))
	}
	if len(issues) != 3 {
		t.Fatalf("expected 3 issues, got %d: %+v", len(issues), issues)
	}

	if fields[0].Type != TypeSelect || len(fields[0].Options) != 2 {
		t.Fatalf("dropdown not normalized: %+v", fields[0])
	}
	if fields[1].Type != TypeRadio || len(fields[1].Options) != 1 {
		t.Fatalf("choice field without options must get a placeholder: %+v", fields[1])
	}
	if fields[2].Type != TypeText || fields[2].Label != "Name" || fields[2].HelpText != "Your name" {
		t.Fatalf("unknown type or markup not repaired: %+v", fields[2])
	}
	for i, field := range fields {
		if field.Position != 3+i {
			t.Fatalf("field %d position = %d, want %d", i, field.Position, 3+i)
		}
		if field.ID == "" || field.FormID != "frm_1" {
			t.Fatalf("field %d missing identity: %+v", i, field)
		}
	}
}

func TestSanitizeRichText(t *testing.T) {
	got := SanitizeRichText(`<p onclick="x()">Hello <strong>there</strong><script>alert(1)</script></p>`)
	want := `<p>Hello <strong>there</strong></p>`
	if got != want {
		t.Fatalf("SanitizeRichText() = %q, want %q", got, want)
	}
	if got := PlainText("<p>Fish &amp; chips</p>"); got != "Fish & chips" {
		t.Fatalf("PlainText() = %q", got)
	}
}

func TestTemplatesLoadAndInstantiate(t *testing.T) {
	defs, err := Templates()
	if err != nil {
		t.Fatalf("Templates() error = %v", err)
	}
	if len(defs) < 3 {
		t.Fatalf("expected built-in templates, got %d", len(defs))
	}

	def, ok, err := Template("contact")
	if err != nil || !ok {
		t.Fatalf("Template(contact) = %v, %v", ok, err)
	}
	fields := def.Instantiate("frm_new")
	ids := map[string]bool{}
	for i, field := range fields {
		if field.Position != i {
			t.Fatalf("position %d = %d", i, field.Position)
		}
		ids[field.ID] = true
	}
	for _, field := range fields {
		if field.Logic != nil && !ids[field.Logic.DependsOn] {
			t.Fatalf("field %s depends on unmapped id %s", field.Label, field.Logic.DependsOn)
		}
	}
}

func TestDefinitionYAMLRoundTrip(t *testing.T) {
	def, _, err := Template("feedback")
	if err != nil {
		t.Fatalf("Template() error = %v", err)
	}
	data, err := MarshalDefinition(def)
	if err != nil {
		t.Fatalf("MarshalDefinition() error = %v", err)
	}
	again, err := ParseDefinition(data)
	if err != nil {
		t.Fatalf("ParseDefinition() error = %v", err)
	}
	if diff := cmp.Diff(def, again); diff != "" {
		t.Fatalf("definition mismatch (-want +got):\n%s", diff)
	}
}
