// Package analytics evaluates dashboard widgets over stored response values.
package analytics

import (
	"encoding/json"
	"fmt"
	"strings"

	"formdeck/api/internal/engine"
	"formdeck/api/internal/form"
	"formdeck/api/internal/store"
)

const (
	AggCount = "count"
	AggSum   = "sum"
	AggAvg   = "avg"
	AggMin   = "min"
	AggMax   = "max"

	defaultTableLimit = 50
	breakdownLimit    = 50
)

func floatPtr(v float64) *float64 { return &v }

// ConfigFields is the widget configuration form. It runs through the same
// engine as user forms, so hidden settings are dropped before a widget is
// saved.
func ConfigFields() []form.Field {
	notTable := &form.Logic{DependsOn: "chart_type", Condition: form.ConditionNotEquals, Value: store.ChartTable, Action: form.ActionShow}
	return []form.Field{
		{
			ID: "chart_type", Type: form.TypeSelect, Label: "Chart type", Required: true, Position: 0,
			Options: form.Options{
				{Label: "Table", Value: store.ChartTable},
				{Label: "Bar chart", Value: store.ChartBar},
				{Label: "Line chart", Value: store.ChartLine},
				{Label: "Pie chart", Value: store.ChartPie},
				{Label: "Metric", Value: store.ChartMetric},
			},
		},
		{ID: "form_id", Type: form.TypeText, Label: "Form", Required: true, Position: 1},
		{ID: "field_id", Type: form.TypeText, Label: "Field", Required: true, Position: 2, Logic: notTable},
		{
			ID: "aggregation", Type: form.TypeSelect, Label: "Aggregation", Required: true, Position: 3,
			DefaultValue: AggCount, Logic: notTable,
			Options: form.OptionsFromStrings(AggCount, AggSum, AggAvg, AggMin, AggMax),
		},
		{
			ID: "bucket", Type: form.TypeSelect, Label: "Bucket", Required: true, Position: 4,
			DefaultValue: "day",
			Logic:        &form.Logic{DependsOn: "chart_type", Condition: form.ConditionEquals, Value: store.ChartLine, Action: form.ActionShow},
			Options:      form.OptionsFromStrings("hour", "day", "week", "month"),
		},
		{
			ID: "limit", Type: form.TypeNumber, Label: "Rows", Position: 5,
			DefaultValue: float64(defaultTableLimit),
			Logic:        &form.Logic{DependsOn: "chart_type", Condition: form.ConditionEquals, Value: store.ChartTable, Action: form.ActionShow},
			Validation:   form.Rules{Min: floatPtr(1), Max: floatPtr(500), Integer: true},
		},
	}
}

// Config is a validated widget configuration.
type Config struct {
	ChartType   string `json:"chart_type"`
	FormID      string `json:"form_id"`
	FieldID     string `json:"field_id,omitempty"`
	Aggregation string `json:"aggregation,omitempty"`
	Bucket      string `json:"bucket,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

// ValidationError carries per-setting failures.
type ValidationError struct {
	Errors map[string]engine.Result
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Errors))
	for key := range e.Errors {
		keys = append(keys, key)
	}
	return "invalid widget config: " + strings.Join(keys, ", ")
}

// ParseConfig evaluates raw settings for chartType through the config form.
// Settings that do not apply to the chart type are discarded.
func ParseConfig(chartType string, raw json.RawMessage) (Config, error) {
	values := map[string]any{}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &values); err != nil {
			return Config{}, fmt.Errorf("decode widget config: %w", err)
		}
	}
	values["chart_type"] = strings.ToLower(strings.TrimSpace(chartType))

	binding := engine.NewBinding(ConfigFields(), values)
	result := binding.Submit()
	if !result.OK {
		return Config{}, &ValidationError{Errors: result.Errors}
	}

	cfg := Config{
		ChartType:   form.Text(result.Values["chart_type"]),
		FormID:      strings.TrimSpace(form.Text(result.Values["form_id"])),
		FieldID:     strings.TrimSpace(form.Text(result.Values["field_id"])),
		Aggregation: form.Text(result.Values["aggregation"]),
		Bucket:      form.Text(result.Values["bucket"]),
	}
	if limit, ok := result.Values["limit"]; ok && !form.IsEmpty(limit) {
		cfg.Limit = int(form.Number(limit))
	}
	if cfg.ChartType == store.ChartTable && cfg.Limit == 0 {
		cfg.Limit = defaultTableLimit
	}

	if (cfg.ChartType == store.ChartBar || cfg.ChartType == store.ChartPie) && cfg.Aggregation != AggCount {
		return Config{}, &ValidationError{Errors: map[string]engine.Result{
			"aggregation": {Valid: false, Rule: engine.RuleOption, Message: "Bar and pie charts count responses"},
		}}
	}
	return cfg, nil
}

// NeedsNumericField reports whether the aggregation reads numeric values.
func (c Config) NeedsNumericField() bool {
	switch c.Aggregation {
	case AggSum, AggAvg, AggMin, AggMax:
		return true
	}
	return false
}

func (c Config) JSON() json.RawMessage {
	data, _ := json.Marshal(c)
	return data
}
