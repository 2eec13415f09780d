package form

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Imported is a field record produced by an external extractor. Nothing in
// it is trusted: the type may be outside the closed set, options may be
// missing or mis-shaped, and ids are ignored.
type Imported struct {
	Type        string          `json:"type"`
	Label       string          `json:"label"`
	Placeholder string          `json:"placeholder"`
	HelpText    string          `json:"help_text"`
	Required    bool            `json:"required"`
	Options     json.RawMessage `json:"options"`
	Validation  json.RawMessage `json:"validation_rules"`
}

// UnmarshalJSON also accepts the camelCase keys some extractors emit.
func (i *Imported) UnmarshalJSON(data []byte) error {
	type plain Imported
	var decoded struct {
		plain
		HelpTextCamel   string          `json:"helpText"`
		ValidationCamel json.RawMessage `json:"validation"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*i = Imported(decoded.plain)
	if i.HelpText == "" {
		i.HelpText = decoded.HelpTextCamel
	}
	if len(i.Validation) == 0 {
		i.Validation = decoded.ValidationCamel
	}
	return nil
}

// ImportIssue records a correction applied while admitting an imported field.
type ImportIssue struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

const placeholderOptionLabel = "Option 1"

// NormalizeImported admits untrusted records into the field model. Fields
// get fresh ids and are positioned densely starting at start. Records that
// cannot be repaired are dropped and reported.
func NormalizeImported(records []Imported, formID string, start int) ([]Field, []ImportIssue) {
	fields := make([]Field, 0, len(records))
	var issues []ImportIssue
	for i, record := range records {
		label := strings.TrimSpace(PlainText(record.Label))
		if label == "" {
			issues = append(issues, ImportIssue{Index: i, Message: "dropped field without a label"})
			continue
		}

		fieldType, ok := ParseType(record.Type)
		if !ok {
			issues = append(issues, ImportIssue{Index: i, Message: fmt.Sprintf("unknown type %q imported as text", record.Type)})
			fieldType = TypeText
		}

		field := Field{
			ID:          uuid.NewString(),
			FormID:      formID,
			Type:        fieldType,
			Label:       label,
			Placeholder: strings.TrimSpace(record.Placeholder),
			HelpText:    SanitizeRichText(record.HelpText),
			Required:    record.Required,
			Position:    start + len(fields),
		}

		if len(record.Validation) > 0 {
			var rules Rules
			if err := json.Unmarshal(record.Validation, &rules); err != nil {
				issues = append(issues, ImportIssue{Index: i, Message: "discarded unreadable validation rules"})
			} else {
				field.Validation = rules
			}
		}

		if fieldType.IsChoice() {
			var options Options
			if len(record.Options) > 0 {
				if err := json.Unmarshal(record.Options, &options); err != nil {
					issues = append(issues, ImportIssue{Index: i, Message: "discarded unreadable options"})
					options = nil
				}
			}
			options = dedupeOptions(options)
			if len(options) == 0 {
				issues = append(issues, ImportIssue{Index: i, Message: "choice field had no options; added a placeholder"})
				options = OptionsFromStrings(placeholderOptionLabel)
			}
			field.Options = options
		}

		fields = append(fields, field)
	}
	return fields, issues
}

func dedupeOptions(options Options) Options {
	if len(options) == 0 {
		return options
	}
	seen := make(map[string]struct{}, len(options))
	out := make(Options, 0, len(options))
	for _, option := range options {
		if _, ok := seen[option.Value]; ok {
			continue
		}
		seen[option.Value] = struct{}{}
		out = append(out, option)
	}
	return out
}
