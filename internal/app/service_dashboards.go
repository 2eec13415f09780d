package app

import (
	"context"
	"strings"

	"formdeck/api/internal/analytics"
	"formdeck/api/internal/store"
)

func dashboardPayload(item store.Dashboard) map[string]any {
	return map[string]any{
		"id":          item.ID,
		"ownerId":     item.OwnerID,
		"name":        item.Name,
		"description": item.Description,
		"createdAt":   item.CreatedAt,
		"updatedAt":   item.UpdatedAt,
	}
}

func nonNilWidgets(widgets []store.Widget) []store.Widget {
	if widgets == nil {
		return []store.Widget{}
	}
	return widgets
}

func (s *Service) ListDashboards(ctx context.Context) ([]map[string]any, error) {
	dashboards, err := s.store.ListDashboards(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(dashboards))
	for _, item := range dashboards {
		items = append(items, dashboardPayload(item))
	}
	return items, nil
}

func (s *Service) GetDashboard(ctx context.Context, dashboardID string) (map[string]any, error) {
	item, err := s.store.GetDashboard(ctx, dashboardID)
	if err != nil {
		return nil, err
	}
	widgets, err := s.store.ListWidgets(ctx, dashboardID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"dashboard": dashboardPayload(item),
		"widgets":   nonNilWidgets(widgets),
	}, nil
}

func (s *Service) CreateDashboard(ctx context.Context, session Session, name, description string) (map[string]any, error) {
	item, err := s.dashboards.CreateDashboard(ctx, session.UserID, name, description)
	if err != nil {
		return nil, err
	}
	return map[string]any{"dashboard": dashboardPayload(item), "widgets": []store.Widget{}}, nil
}

func (s *Service) UpdateDashboard(ctx context.Context, dashboardID, name, description string) (map[string]any, error) {
	item, err := s.store.GetDashboard(ctx, dashboardID)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, analytics.ErrDashboardNameEmpty
	}
	item.Name = name
	item.Description = strings.TrimSpace(description)
	if err := s.store.UpdateDashboard(ctx, item); err != nil {
		return nil, err
	}
	return s.GetDashboard(ctx, dashboardID)
}

func (s *Service) DeleteDashboard(ctx context.Context, dashboardID string) error {
	return s.store.DeleteDashboard(ctx, dashboardID)
}

func (s *Service) AddWidget(ctx context.Context, dashboardID string, input analytics.WidgetInput) (map[string]any, error) {
	widget, err := s.dashboards.AddWidget(ctx, dashboardID, input)
	if err != nil {
		return nil, err
	}
	return map[string]any{"widget": widget}, nil
}

func (s *Service) UpdateWidget(ctx context.Context, dashboardID, widgetID string, input analytics.WidgetInput) (map[string]any, error) {
	widget, err := s.dashboards.UpdateWidget(ctx, dashboardID, widgetID, input)
	if err != nil {
		return nil, err
	}
	return map[string]any{"widget": widget}, nil
}

func (s *Service) DeleteWidget(ctx context.Context, dashboardID, widgetID string) (map[string]any, error) {
	widgets, err := s.dashboards.DeleteWidget(ctx, dashboardID, widgetID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"widgets": nonNilWidgets(widgets)}, nil
}

func (s *Service) ReorderWidgets(ctx context.Context, dashboardID, sourceID, destID string) (map[string]any, error) {
	outcome, err := s.dashboards.ReorderWidgets(ctx, dashboardID, sourceID, destID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"widgets": nonNilWidgets(outcome.Items), "moved": outcome.Moved}, nil
}

func (s *Service) WidgetData(ctx context.Context, dashboardID, widgetID string) (analytics.Data, error) {
	return s.dashboards.WidgetData(ctx, dashboardID, widgetID)
}

// WidgetConfigFields is the settings form a client renders for widgets.
func (s *Service) WidgetConfigFields() map[string]any {
	return map[string]any{"fields": analytics.ConfigFields()}
}
