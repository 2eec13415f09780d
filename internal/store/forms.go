package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"formdeck/api/internal/form"
	"formdeck/api/internal/reorder"
)

// ErrConflict reports a unique constraint violation such as a taken slug.
var ErrConflict = errors.New("conflict")

const formColumns = `
	id, owner_id, title, description, slug, status, version,
	notify_email, success_message, published_at, created_at, updated_at
`

func scanForm(row interface{ Scan(...any) error }) (Form, error) {
	var item Form
	var published sql.NullTime
	err := row.Scan(
		&item.ID, &item.OwnerID, &item.Title, &item.Description, &item.Slug, &item.Status, &item.Version,
		&item.NotifyEmail, &item.SuccessMessage, &published, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return Form{}, err
	}
	item.PublishedAt = nullTime(published)
	return item, nil
}

func (s *PostgresStore) ListForms(ctx context.Context) ([]FormSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.owner_id, f.title, f.description, f.slug, f.status, f.version,
			f.notify_email, f.success_message, f.published_at, f.created_at, f.updated_at,
			(SELECT COUNT(*) FROM form_fields ff WHERE ff.form_id = f.id),
			(SELECT COUNT(*) FROM responses r WHERE r.form_id = f.id)
		FROM forms f
		ORDER BY f.updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}
	defer rows.Close()

	var items []FormSummary
	for rows.Next() {
		var item FormSummary
		var published sql.NullTime
		if err := rows.Scan(
			&item.ID, &item.OwnerID, &item.Title, &item.Description, &item.Slug, &item.Status, &item.Version,
			&item.NotifyEmail, &item.SuccessMessage, &published, &item.CreatedAt, &item.UpdatedAt,
			&item.FieldCount, &item.ResponseCount,
		); err != nil {
			return nil, fmt.Errorf("scan form: %w", err)
		}
		item.PublishedAt = nullTime(published)
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetForm(ctx context.Context, formID string) (Form, error) {
	return scanForm(s.db.QueryRowContext(ctx, `SELECT `+formColumns+` FROM forms WHERE id = $1`, formID))
}

func (s *PostgresStore) GetFormBySlug(ctx context.Context, slug string) (Form, error) {
	return scanForm(s.db.QueryRowContext(ctx, `SELECT `+formColumns+` FROM forms WHERE slug = $1`, slug))
}

func (s *PostgresStore) CreateForm(ctx context.Context, item Form) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO forms (id, owner_id, title, description, slug, status, notify_email, success_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.ID, item.OwnerID, item.Title, item.Description, item.Slug, item.Status, item.NotifyEmail, item.SuccessMessage)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert form: %w", ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert form: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateForm(ctx context.Context, item Form) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE forms
		SET title = $2, description = $3, slug = $4, notify_email = $5, success_message = $6, updated_at = NOW()
		WHERE id = $1
	`, item.ID, item.Title, item.Description, item.Slug, item.NotifyEmail, item.SuccessMessage)
	if isUniqueViolation(err) {
		return fmt.Errorf("update form: %w", ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("update form: %w", err)
	}
	return requireAffected(result)
}

// SetFormStatus moves a form between draft, published and closed.
// Publishing bumps the version so responses can be tied to a revision.
func (s *PostgresStore) SetFormStatus(ctx context.Context, formID, status string) (Form, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE forms
		SET status = $2,
			version = CASE WHEN $2 = 'published' THEN version + 1 ELSE version END,
			published_at = CASE WHEN $2 = 'published' THEN NOW() ELSE published_at END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+formColumns, formID, status)
	item, err := scanForm(row)
	if err != nil {
		return Form{}, fmt.Errorf("set form status: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) DeleteForm(ctx context.Context, formID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM forms WHERE id = $1`, formID)
	if err != nil {
		return fmt.Errorf("delete form: %w", err)
	}
	return requireAffected(result)
}

const fieldColumns = `
	id, form_id, type, label, placeholder, help_text, required,
	options, validation_rules, conditional_logic, default_value, position
`

func scanField(row interface{ Scan(...any) error }) (form.Field, error) {
	var field form.Field
	var fieldType string
	var options, rules, logic, defaultValue []byte
	err := row.Scan(
		&field.ID, &field.FormID, &fieldType, &field.Label, &field.Placeholder, &field.HelpText, &field.Required,
		&options, &rules, &logic, &defaultValue, &field.Position,
	)
	if err != nil {
		return form.Field{}, err
	}
	field.Type = form.Type(fieldType)
	if err := json.Unmarshal(options, &field.Options); err != nil {
		return form.Field{}, fmt.Errorf("decode options for %s: %w", field.ID, err)
	}
	if err := json.Unmarshal(rules, &field.Validation); err != nil {
		return form.Field{}, fmt.Errorf("decode validation for %s: %w", field.ID, err)
	}
	if len(logic) > 0 && string(logic) != "null" {
		field.Logic = &form.Logic{}
		if err := json.Unmarshal(logic, field.Logic); err != nil {
			return form.Field{}, fmt.Errorf("decode logic for %s: %w", field.ID, err)
		}
		if !field.Logic.Active() {
			field.Logic = nil
		}
	}
	if len(defaultValue) > 0 {
		if err := json.Unmarshal(defaultValue, &field.DefaultValue); err != nil {
			return form.Field{}, fmt.Errorf("decode default for %s: %w", field.ID, err)
		}
	}
	return field, nil
}

type fieldJSON struct {
	options, rules, logic, defaultValue []byte
}

func encodeField(field form.Field) (fieldJSON, error) {
	var out fieldJSON
	var err error
	options := field.Options
	if options == nil {
		options = form.Options{}
	}
	if out.options, err = json.Marshal(options); err != nil {
		return out, fmt.Errorf("encode options: %w", err)
	}
	if out.rules, err = json.Marshal(field.Validation); err != nil {
		return out, fmt.Errorf("encode validation: %w", err)
	}
	if field.Logic != nil {
		if out.logic, err = json.Marshal(field.Logic); err != nil {
			return out, fmt.Errorf("encode logic: %w", err)
		}
	}
	if field.DefaultValue != nil {
		if out.defaultValue, err = json.Marshal(field.DefaultValue); err != nil {
			return out, fmt.Errorf("encode default: %w", err)
		}
	}
	return out, nil
}

// ListFields returns the fields of a form in position order.
func (s *PostgresStore) ListFields(ctx context.Context, formID string) ([]form.Field, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+fieldColumns+`
		FROM form_fields
		WHERE form_id = $1
		ORDER BY position ASC, created_at ASC
	`, formID)
	if err != nil {
		return nil, fmt.Errorf("list fields: %w", err)
	}
	defer rows.Close()

	var fields []form.Field
	for rows.Next() {
		field, err := scanField(rows)
		if err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		fields = append(fields, field)
	}
	return fields, rows.Err()
}

func (s *PostgresStore) GetField(ctx context.Context, formID, fieldID string) (form.Field, error) {
	return scanField(s.db.QueryRowContext(ctx, `
		SELECT `+fieldColumns+` FROM form_fields WHERE form_id = $1 AND id = $2
	`, formID, fieldID))
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertField(ctx context.Context, db execer, field form.Field) error {
	encoded, err := encodeField(field)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO form_fields (`+fieldColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, field.ID, field.FormID, string(field.Type), field.Label, field.Placeholder, field.HelpText, field.Required,
		encoded.options, encoded.rules, nullJSON(encoded.logic), nullJSON(encoded.defaultValue), field.Position)
	if err != nil {
		return fmt.Errorf("insert field %s: %w", field.ID, err)
	}
	return nil
}

func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// InsertFields appends fields to a form in one transaction. Callers assign
// positions continuing the existing sequence.
func (s *PostgresStore) InsertFields(ctx context.Context, formID string, fields []form.Field) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert fields tx: %w", err)
	}
	defer tx.Rollback()

	for _, field := range fields {
		field.FormID = formID
		if err := insertField(ctx, tx, field); err != nil {
			return err
		}
	}
	if err := touchForm(ctx, tx, formID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert fields: %w", err)
	}
	return nil
}

// ReplaceFields swaps the whole field set of a form, used when a definition
// is imported wholesale.
func (s *PostgresStore) ReplaceFields(ctx context.Context, formID string, fields []form.Field) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace fields tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM form_fields WHERE form_id = $1`, formID); err != nil {
		return fmt.Errorf("clear fields: %w", err)
	}
	for i, field := range fields {
		field.FormID = formID
		field.Position = i
		if err := insertField(ctx, tx, field); err != nil {
			return err
		}
	}
	if err := touchForm(ctx, tx, formID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace fields: %w", err)
	}
	return nil
}

// UpdateField rewrites a field's definition. Position is owned by the
// reorder path and is left untouched.
func (s *PostgresStore) UpdateField(ctx context.Context, field form.Field) error {
	encoded, err := encodeField(field)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE form_fields
		SET type = $3, label = $4, placeholder = $5, help_text = $6, required = $7,
			options = $8, validation_rules = $9, conditional_logic = $10, default_value = $11,
			updated_at = NOW()
		WHERE form_id = $1 AND id = $2
	`, field.FormID, field.ID, string(field.Type), field.Label, field.Placeholder, field.HelpText, field.Required,
		encoded.options, encoded.rules, nullJSON(encoded.logic), nullJSON(encoded.defaultValue))
	if err != nil {
		return fmt.Errorf("update field: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return err
	}
	return touchForm(ctx, s.db, field.FormID)
}

// DeleteField removes a field and writes the positions of the remaining
// fields in the same transaction.
func (s *PostgresStore) DeleteField(ctx context.Context, formID, fieldID string, remaining []reorder.Placement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete field tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM form_fields WHERE form_id = $1 AND id = $2`, formID, fieldID)
	if err != nil {
		return fmt.Errorf("delete field: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return err
	}
	if err := applyPlacements(ctx, tx, "form_fields", "form_id", formID, remaining); err != nil {
		return err
	}
	if err := touchForm(ctx, tx, formID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete field: %w", err)
	}
	return nil
}

// SaveFieldOrder writes a full placement plan in one transaction. The
// position constraint is deferred so intermediate duplicates are allowed.
func (s *PostgresStore) SaveFieldOrder(ctx context.Context, formID string, placements []reorder.Placement) error {
	return s.savePlacements(ctx, "form_fields", "form_id", formID, placements)
}

func (s *PostgresStore) savePlacements(ctx context.Context, table, parentColumn, parentID string, placements []reorder.Placement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reorder tx: %w", err)
	}
	defer tx.Rollback()

	if err := applyPlacements(ctx, tx, table, parentColumn, parentID, placements); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reorder: %w", err)
	}
	return nil
}

func applyPlacements(ctx context.Context, db execer, table, parentColumn, parentID string, placements []reorder.Placement) error {
	query := `UPDATE ` + table + ` SET position = $3, updated_at = NOW() WHERE ` + parentColumn + ` = $1 AND id = $2`
	for _, placement := range placements {
		result, err := db.ExecContext(ctx, query, parentID, placement.ID, placement.Position)
		if err != nil {
			return fmt.Errorf("update position of %s: %w", placement.ID, err)
		}
		if err := requireAffected(result); err != nil {
			return fmt.Errorf("update position of %s: %w", placement.ID, err)
		}
	}
	return nil
}

func touchForm(ctx context.Context, db execer, formID string) error {
	if _, err := db.ExecContext(ctx, `UPDATE forms SET updated_at = NOW() WHERE id = $1`, formID); err != nil {
		return fmt.Errorf("touch form: %w", err)
	}
	return nil
}
