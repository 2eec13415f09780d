package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"formdeck/api/internal/reorder"
)

func (s *PostgresStore) ListDashboards(ctx context.Context) ([]Dashboard, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, name, description, created_at, updated_at
		FROM dashboards
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list dashboards: %w", err)
	}
	defer rows.Close()

	var items []Dashboard
	for rows.Next() {
		var item Dashboard
		if err := rows.Scan(&item.ID, &item.OwnerID, &item.Name, &item.Description, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan dashboard: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetDashboard(ctx context.Context, dashboardID string) (Dashboard, error) {
	var item Dashboard
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, description, created_at, updated_at
		FROM dashboards WHERE id = $1
	`, dashboardID).Scan(&item.ID, &item.OwnerID, &item.Name, &item.Description, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Dashboard{}, err
	}
	return item, nil
}

func (s *PostgresStore) CreateDashboard(ctx context.Context, item Dashboard) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dashboards (id, owner_id, name, description) VALUES ($1, $2, $3, $4)
	`, item.ID, item.OwnerID, item.Name, item.Description)
	if err != nil {
		return fmt.Errorf("insert dashboard: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateDashboard(ctx context.Context, item Dashboard) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE dashboards SET name = $2, description = $3, updated_at = NOW() WHERE id = $1
	`, item.ID, item.Name, item.Description)
	if err != nil {
		return fmt.Errorf("update dashboard: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) DeleteDashboard(ctx context.Context, dashboardID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM dashboards WHERE id = $1`, dashboardID)
	if err != nil {
		return fmt.Errorf("delete dashboard: %w", err)
	}
	return requireAffected(result)
}

const widgetColumns = `id, dashboard_id, title, chart_type, config, position, created_at, updated_at`

func scanWidget(row interface{ Scan(...any) error }) (Widget, error) {
	var item Widget
	var config []byte
	if err := row.Scan(&item.ID, &item.DashboardID, &item.Title, &item.ChartType, &config, &item.Position, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return Widget{}, err
	}
	item.Config = json.RawMessage(config)
	return item, nil
}

func (s *PostgresStore) ListWidgets(ctx context.Context, dashboardID string) ([]Widget, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+widgetColumns+`
		FROM dashboard_widgets
		WHERE dashboard_id = $1
		ORDER BY position ASC, created_at ASC
	`, dashboardID)
	if err != nil {
		return nil, fmt.Errorf("list widgets: %w", err)
	}
	defer rows.Close()

	var items []Widget
	for rows.Next() {
		item, err := scanWidget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan widget: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetWidget(ctx context.Context, dashboardID, widgetID string) (Widget, error) {
	return scanWidget(s.db.QueryRowContext(ctx, `
		SELECT `+widgetColumns+` FROM dashboard_widgets WHERE dashboard_id = $1 AND id = $2
	`, dashboardID, widgetID))
}

// InsertWidget appends the widget after the current last position.
func (s *PostgresStore) InsertWidget(ctx context.Context, item Widget) (Widget, error) {
	config := []byte(item.Config)
	if len(config) == 0 {
		config = []byte("{}")
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO dashboard_widgets (id, dashboard_id, title, chart_type, config, position)
		VALUES ($1, $2, $3, $4, $5, (SELECT COUNT(*) FROM dashboard_widgets WHERE dashboard_id = $2))
		RETURNING `+widgetColumns, item.ID, item.DashboardID, item.Title, item.ChartType, config)
	created, err := scanWidget(row)
	if err != nil {
		return Widget{}, fmt.Errorf("insert widget: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) UpdateWidget(ctx context.Context, item Widget) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE dashboard_widgets
		SET title = $3, chart_type = $4, config = $5, updated_at = NOW()
		WHERE dashboard_id = $1 AND id = $2
	`, item.DashboardID, item.ID, item.Title, item.ChartType, []byte(item.Config))
	if err != nil {
		return fmt.Errorf("update widget: %w", err)
	}
	return requireAffected(result)
}

// DeleteWidget removes a widget and writes the positions of the remaining
// widgets in the same transaction.
func (s *PostgresStore) DeleteWidget(ctx context.Context, dashboardID, widgetID string, remaining []reorder.Placement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete widget tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM dashboard_widgets WHERE dashboard_id = $1 AND id = $2`, dashboardID, widgetID)
	if err != nil {
		return fmt.Errorf("delete widget: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return err
	}
	if err := applyPlacements(ctx, tx, "dashboard_widgets", "dashboard_id", dashboardID, remaining); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete widget: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveWidgetOrder(ctx context.Context, dashboardID string, placements []reorder.Placement) error {
	return s.savePlacements(ctx, "dashboard_widgets", "dashboard_id", dashboardID, placements)
}

// FieldBreakdown calls form_field_breakdown.
func (s *PostgresStore) FieldBreakdown(ctx context.Context, formID, fieldID string, limit int) ([]BreakdownRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT label, total FROM form_field_breakdown($1, $2) LIMIT $3
	`, formID, fieldID, limit)
	if err != nil {
		return nil, fmt.Errorf("field breakdown: %w", err)
	}
	defer rows.Close()

	var out []BreakdownRow
	for rows.Next() {
		var row BreakdownRow
		if err := rows.Scan(&row.Label, &row.Total); err != nil {
			return nil, fmt.Errorf("scan breakdown: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// FieldAggregate calls form_field_aggregate. ok is false when no numeric
// rows exist for the field.
func (s *PostgresStore) FieldAggregate(ctx context.Context, formID, fieldID, agg string) (float64, bool, error) {
	var value sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, `SELECT form_field_aggregate($1, $2, $3)`, formID, fieldID, agg).Scan(&value); err != nil {
		return 0, false, fmt.Errorf("field aggregate: %w", err)
	}
	return value.Float64, value.Valid, nil
}

// ResponseTimeseries calls form_response_timeseries.
func (s *PostgresStore) ResponseTimeseries(ctx context.Context, formID, fieldID, bucket, agg string) ([]SeriesPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT bucket, COALESCE(value, 0) FROM form_response_timeseries($1, $2, $3, $4)
	`, formID, fieldID, bucket, agg)
	if err != nil {
		return nil, fmt.Errorf("response timeseries: %w", err)
	}
	defer rows.Close()

	var out []SeriesPoint
	for rows.Next() {
		var point SeriesPoint
		if err := rows.Scan(&point.Bucket, &point.Value); err != nil {
			return nil, fmt.Errorf("scan timeseries: %w", err)
		}
		out = append(out, point)
	}
	return out, rows.Err()
}
