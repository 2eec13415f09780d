package form

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Option struct {
	Label string `json:"label" yaml:"label"`
	Value string `json:"value" yaml:"value"`
}

// Options is always stored in the canonical {label, value} shape. Older
// forms persisted plain string lists and imported documents mix both, so
// decoding accepts either and normalizes once at the boundary.
type Options []Option

func (o *Options) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*o = nil
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return fmt.Errorf("decode options: %w", err)
	}
	out := make(Options, 0, len(raw))
	for i, item := range raw {
		option, ok, err := decodeJSONOption(item)
		if err != nil {
			return fmt.Errorf("decode option %d: %w", i, err)
		}
		if ok {
			out = append(out, option)
		}
	}
	*o = out
	return nil
}

func decodeJSONOption(item json.RawMessage) (Option, bool, error) {
	var scalar any
	if err := json.Unmarshal(item, &scalar); err != nil {
		return Option{}, false, err
	}
	switch typed := scalar.(type) {
	case nil:
		return Option{}, false, nil
	case map[string]any:
		return canonicalOption(typed["label"], typed["value"])
	default:
		return canonicalOption(typed, typed)
	}
}

func (o *Options) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("options: expected a sequence, got %v", node.Tag)
	}
	out := make(Options, 0, len(node.Content))
	for _, child := range node.Content {
		var decoded any
		if err := child.Decode(&decoded); err != nil {
			return err
		}
		var (
			option Option
			ok     bool
			err    error
		)
		if mapping, isMap := decoded.(map[string]any); isMap {
			option, ok, err = canonicalOption(mapping["label"], mapping["value"])
		} else {
			option, ok, err = canonicalOption(decoded, decoded)
		}
		if err != nil {
			return err
		}
		if ok {
			out = append(out, option)
		}
	}
	*o = out
	return nil
}

func canonicalOption(label, value any) (Option, bool, error) {
	labelText, err := optionText(label)
	if err != nil {
		return Option{}, false, err
	}
	valueText, err := optionText(value)
	if err != nil {
		return Option{}, false, err
	}
	if valueText == "" {
		valueText = labelText
	}
	if labelText == "" {
		labelText = valueText
	}
	if valueText == "" {
		return Option{}, false, nil
	}
	return Option{Label: labelText, Value: valueText}, true, nil
}

func optionText(raw any) (string, error) {
	switch typed := raw.(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(typed), nil
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(typed), nil
	case bool:
		return strconv.FormatBool(typed), nil
	default:
		return "", fmt.Errorf("unsupported option value %T", raw)
	}
}

// OptionsFromStrings builds options whose label and value are the same text.
func OptionsFromStrings(values ...string) Options {
	out := make(Options, 0, len(values))
	for _, value := range values {
		if option, ok, _ := canonicalOption(value, value); ok {
			out = append(out, option)
		}
	}
	return out
}

func (o Options) Values() []string {
	out := make([]string, len(o))
	for i, option := range o {
		out[i] = option.Value
	}
	return out
}

func (o Options) Labels() []string {
	out := make([]string, len(o))
	for i, option := range o {
		out[i] = option.Label
	}
	return out
}

// Match finds the option whose value equals value ignoring case and returns
// the option's own spelling.
func (o Options) Match(value string) (string, bool) {
	for _, option := range o {
		if strings.EqualFold(option.Value, value) {
			return option.Value, true
		}
	}
	return "", false
}

func (o Options) Has(value string) bool {
	_, ok := o.Match(value)
	return ok
}

// LabelFor returns the label of the option with the given value, or the value
// itself when no option matches.
func (o Options) LabelFor(value string) string {
	for _, option := range o {
		if strings.EqualFold(option.Value, value) {
			return option.Label
		}
	}
	return value
}
