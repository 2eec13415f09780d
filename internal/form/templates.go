package form

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

//go:embed templates/*.yaml
var templateFS embed.FS

// Definition is the portable description of a form and its fields.
type Definition struct {
	Slug        string  `yaml:"slug,omitempty"`
	Title       string  `yaml:"title"`
	Description string  `yaml:"description,omitempty"`
	Fields      []Field `yaml:"fields"`
}

// ParseDefinition decodes a YAML form definition and assigns positions in
// document order.
func ParseDefinition(data []byte) (Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("decode definition: %w", err)
	}
	if strings.TrimSpace(def.Title) == "" {
		return Definition{}, fmt.Errorf("decode definition: title is required")
	}
	for i := range def.Fields {
		def.Fields[i] = Clean(def.Fields[i])
		def.Fields[i].Position = i
		if !def.Fields[i].Type.Valid() {
			return Definition{}, fmt.Errorf("decode definition: field %q has unknown type %q", def.Fields[i].ID, def.Fields[i].Type)
		}
	}
	return def, nil
}

// MarshalDefinition renders a definition as YAML with fields in position order.
func MarshalDefinition(def Definition) ([]byte, error) {
	fields := make([]Field, len(def.Fields))
	copy(fields, def.Fields)
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].Position < fields[j].Position })
	def.Fields = fields
	out, err := yaml.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("encode definition: %w", err)
	}
	return out, nil
}

// Instantiate copies the definition's fields for a new form. Every field gets
// a fresh id and conditional logic is rewired to the new ids.
func (d Definition) Instantiate(formID string) []Field {
	ids := make(map[string]string, len(d.Fields))
	for _, field := range d.Fields {
		ids[field.ID] = uuid.NewString()
	}
	out := make([]Field, len(d.Fields))
	for i, field := range d.Fields {
		field.ID = ids[field.ID]
		field.FormID = formID
		field.Position = i
		if field.Logic != nil {
			logic := *field.Logic
			if mapped, ok := ids[logic.DependsOn]; ok {
				logic.DependsOn = mapped
			}
			field.Logic = &logic
		}
		out[i] = field
	}
	return out
}

// Templates returns the built-in starter forms ordered by slug.
func Templates() ([]Definition, error) {
	entries, err := fs.ReadDir(templateFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	var defs []Definition
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		data, err := templateFS.ReadFile(path.Join("templates", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", entry.Name(), err)
		}
		def, err := ParseDefinition(data)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", entry.Name(), err)
		}
		if def.Slug == "" {
			def.Slug = strings.TrimSuffix(entry.Name(), ".yaml")
		}
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Slug < defs[j].Slug })
	return defs, nil
}

// Template looks up a built-in template by slug.
func Template(slug string) (Definition, bool, error) {
	defs, err := Templates()
	if err != nil {
		return Definition{}, false, err
	}
	for _, def := range defs {
		if def.Slug == slug {
			return def, true, nil
		}
	}
	return Definition{}, false, nil
}
