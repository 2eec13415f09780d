package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"formdeck/api/internal/export"
	"formdeck/api/internal/form"
	"formdeck/api/internal/reorder"
	"formdeck/api/internal/store"
	"formdeck/api/internal/util"
)

var (
	ErrFieldNotInForm     = errors.New("field does not belong to the form")
	ErrFieldNotNumeric    = errors.New("aggregation needs a numeric field")
	ErrDashboardNameEmpty = errors.New("dashboard name is required")
)

type Store interface {
	GetForm(ctx context.Context, formID string) (store.Form, error)
	GetField(ctx context.Context, formID, fieldID string) (form.Field, error)
	ListFields(ctx context.Context, formID string) ([]form.Field, error)
	ListResponses(ctx context.Context, filter store.ResponseFilter) ([]store.Response, error)

	GetDashboard(ctx context.Context, dashboardID string) (store.Dashboard, error)
	CreateDashboard(ctx context.Context, item store.Dashboard) error
	ListWidgets(ctx context.Context, dashboardID string) ([]store.Widget, error)
	GetWidget(ctx context.Context, dashboardID, widgetID string) (store.Widget, error)
	InsertWidget(ctx context.Context, item store.Widget) (store.Widget, error)
	UpdateWidget(ctx context.Context, item store.Widget) error
	DeleteWidget(ctx context.Context, dashboardID, widgetID string, remaining []reorder.Placement) error
	SaveWidgetOrder(ctx context.Context, dashboardID string, placements []reorder.Placement) error

	FieldBreakdown(ctx context.Context, formID, fieldID string, limit int) ([]store.BreakdownRow, error)
	FieldAggregate(ctx context.Context, formID, fieldID, agg string) (float64, bool, error)
	ResponseTimeseries(ctx context.Context, formID, fieldID, bucket, agg string) ([]store.SeriesPoint, error)
}

type Service struct {
	store Store
	guard *reorder.Guard
}

func NewService(s Store) *Service {
	return &Service{store: s, guard: reorder.NewGuard()}
}

// CreateDashboard validates the name and stores a new, empty dashboard.
func (s *Service) CreateDashboard(ctx context.Context, ownerID, name, description string) (store.Dashboard, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Dashboard{}, ErrDashboardNameEmpty
	}
	item := store.Dashboard{
		ID:          util.NewID("dsh"),
		OwnerID:     ownerID,
		Name:        name,
		Description: strings.TrimSpace(description),
	}
	if err := s.store.CreateDashboard(ctx, item); err != nil {
		return store.Dashboard{}, err
	}
	return s.store.GetDashboard(ctx, item.ID)
}

// WidgetInput is the editable part of a widget.
type WidgetInput struct {
	Title     string          `json:"title"`
	ChartType string          `json:"chartType"`
	Config    json.RawMessage `json:"config"`
}

// checkedConfig parses the settings and verifies the referenced field.
func (s *Service) checkedConfig(ctx context.Context, in WidgetInput) (Config, error) {
	cfg, err := ParseConfig(in.ChartType, in.Config)
	if err != nil {
		return Config{}, err
	}
	if _, err := s.store.GetForm(ctx, cfg.FormID); err != nil {
		return Config{}, err
	}
	if cfg.FieldID == "" {
		return cfg, nil
	}
	field, err := s.store.GetField(ctx, cfg.FormID, cfg.FieldID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Config{}, ErrFieldNotInForm
		}
		return Config{}, err
	}
	if cfg.NeedsNumericField() && !field.Type.IsNumeric() {
		return Config{}, ErrFieldNotNumeric
	}
	return cfg, nil
}

func (s *Service) AddWidget(ctx context.Context, dashboardID string, in WidgetInput) (store.Widget, error) {
	if _, err := s.store.GetDashboard(ctx, dashboardID); err != nil {
		return store.Widget{}, err
	}
	cfg, err := s.checkedConfig(ctx, in)
	if err != nil {
		return store.Widget{}, err
	}
	return s.store.InsertWidget(ctx, store.Widget{
		ID:          util.NewID("wgt"),
		DashboardID: dashboardID,
		Title:       strings.TrimSpace(in.Title),
		ChartType:   cfg.ChartType,
		Config:      cfg.JSON(),
	})
}

func (s *Service) UpdateWidget(ctx context.Context, dashboardID, widgetID string, in WidgetInput) (store.Widget, error) {
	existing, err := s.store.GetWidget(ctx, dashboardID, widgetID)
	if err != nil {
		return store.Widget{}, err
	}
	cfg, err := s.checkedConfig(ctx, in)
	if err != nil {
		return store.Widget{}, err
	}
	existing.Title = strings.TrimSpace(in.Title)
	existing.ChartType = cfg.ChartType
	existing.Config = cfg.JSON()
	if err := s.store.UpdateWidget(ctx, existing); err != nil {
		return store.Widget{}, err
	}
	return s.store.GetWidget(ctx, dashboardID, widgetID)
}

// DeleteWidget removes a widget and renumbers the rest. It shares the
// dashboard's reorder guard, so it fails with reorder.ErrInProgress while a
// reorder is saving.
func (s *Service) DeleteWidget(ctx context.Context, dashboardID, widgetID string) ([]store.Widget, error) {
	widgets, err := s.store.ListWidgets(ctx, dashboardID)
	if err != nil {
		return nil, err
	}
	widgets = reorder.Sorted(widgets, func(w store.Widget) int { return w.Position })
	if !hasWidget(widgets, widgetID) {
		return nil, sql.ErrNoRows
	}
	outcome, err := reorder.ApplyRemove(ctx, s.guard, "dashboard:"+dashboardID, widgets, widgetID,
		func(ctx context.Context, next []store.Widget) error {
			return s.store.DeleteWidget(ctx, dashboardID, widgetID, reorder.Placements(next))
		})
	if err != nil {
		return nil, err
	}
	return outcome.Items, nil
}

func hasWidget(widgets []store.Widget, id string) bool {
	for _, w := range widgets {
		if w.ID == id {
			return true
		}
	}
	return false
}

// ReorderWidgets moves sourceID to destID's slot. Only one reorder per
// dashboard may be in flight; a failed save leaves the stored order as it was.
func (s *Service) ReorderWidgets(ctx context.Context, dashboardID, sourceID, destID string) (reorder.Outcome[store.Widget], error) {
	widgets, err := s.store.ListWidgets(ctx, dashboardID)
	if err != nil {
		return reorder.Outcome[store.Widget]{}, err
	}
	widgets = reorder.Sorted(widgets, func(w store.Widget) int { return w.Position })
	return reorder.Apply(ctx, s.guard, "dashboard:"+dashboardID, widgets, sourceID, destID,
		func(ctx context.Context, next []store.Widget) error {
			return s.store.SaveWidgetOrder(ctx, dashboardID, reorder.Placements(next))
		})
}

// Table is the tabular payload of a table widget.
type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Data is what a widget renders. Exactly one payload is set for a chart type.
type Data struct {
	WidgetID  string               `json:"widgetId"`
	ChartType string               `json:"chartType"`
	Config    Config               `json:"config"`
	Slices    []store.BreakdownRow `json:"slices,omitempty"`
	Series    []store.SeriesPoint  `json:"series,omitempty"`
	Value     *float64             `json:"value,omitempty"`
	Table     *Table               `json:"table,omitempty"`
	Generated time.Time            `json:"generatedAt"`
}

// WidgetData evaluates one widget through the aggregation procedures.
func (s *Service) WidgetData(ctx context.Context, dashboardID, widgetID string) (Data, error) {
	widget, err := s.store.GetWidget(ctx, dashboardID, widgetID)
	if err != nil {
		return Data{}, err
	}
	cfg, err := ParseConfig(widget.ChartType, widget.Config)
	if err != nil {
		return Data{}, fmt.Errorf("widget %s: %w", widgetID, err)
	}

	out := Data{WidgetID: widget.ID, ChartType: cfg.ChartType, Config: cfg, Generated: time.Now().UTC()}
	switch cfg.ChartType {
	case store.ChartBar, store.ChartPie:
		rows, err := s.store.FieldBreakdown(ctx, cfg.FormID, cfg.FieldID, breakdownLimit)
		if err != nil {
			return Data{}, err
		}
		out.Slices = s.labelled(ctx, cfg, rows)
	case store.ChartLine:
		series, err := s.store.ResponseTimeseries(ctx, cfg.FormID, cfg.FieldID, cfg.Bucket, cfg.Aggregation)
		if err != nil {
			return Data{}, err
		}
		out.Series = nonNilSeries(series)
	case store.ChartMetric:
		value, ok, err := s.store.FieldAggregate(ctx, cfg.FormID, cfg.FieldID, cfg.Aggregation)
		if err != nil {
			return Data{}, err
		}
		if ok {
			out.Value = &value
		}
	case store.ChartTable:
		table, err := s.table(ctx, cfg)
		if err != nil {
			return Data{}, err
		}
		out.Table = table
	}
	return out, nil
}

// labelled swaps stored option values for their labels.
func (s *Service) labelled(ctx context.Context, cfg Config, rows []store.BreakdownRow) []store.BreakdownRow {
	out := make([]store.BreakdownRow, 0, len(rows))
	field, err := s.store.GetField(ctx, cfg.FormID, cfg.FieldID)
	for _, row := range rows {
		if err == nil {
			row.Label = export.FormatValue(field, breakdownValue(field, row.Label))
		}
		out = append(out, row)
	}
	return out
}

func breakdownValue(field form.Field, label string) any {
	switch {
	case field.Type.IsMulti():
		return []string{label}
	case field.Type.IsBoolean():
		return strings.EqualFold(label, "true")
	}
	return label
}

func (s *Service) table(ctx context.Context, cfg Config) (*Table, error) {
	item, err := s.store.GetForm(ctx, cfg.FormID)
	if err != nil {
		return nil, err
	}
	fields, err := s.store.ListFields(ctx, cfg.FormID)
	if err != nil {
		return nil, err
	}
	responses, err := s.store.ListResponses(ctx, store.ResponseFilter{FormID: cfg.FormID, Limit: cfg.Limit})
	if err != nil {
		return nil, err
	}
	dataset := export.NewDataset(item.Title, fields, responses)
	return &Table{Columns: dataset.Header(), Rows: dataset.Table()}, nil
}

func nonNilSeries(points []store.SeriesPoint) []store.SeriesPoint {
	if points == nil {
		return []store.SeriesPoint{}
	}
	return points
}
