package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"formdeck/api/internal/form"
)

// EncodeValue turns a submitted value into its typed row. Empty answers are
// skipped, except switches which always record true or false.
func EncodeValue(field form.Field, value any) (ResponseValue, bool) {
	row := ResponseValue{FieldID: field.ID}
	switch {
	case field.Type.IsBoolean():
		on := form.Bool(value)
		text := strconv.FormatBool(on)
		row.Value, row.BooleanValue = &text, &on
		return row, true
	case form.IsEmpty(value):
		return row, false
	case field.Type.IsMulti():
		raw, err := json.Marshal(form.Strings(value))
		if err != nil {
			return row, false
		}
		text := string(raw)
		row.Value = &text
	case field.Type == form.TypeFile:
		files := form.Files(value)
		if len(files) == 0 {
			return row, false
		}
		raw, err := json.Marshal(files)
		if err != nil {
			return row, false
		}
		text := string(raw)
		row.Value = &text
	case field.Type.IsNumeric():
		text := form.Text(value)
		row.Value = &text
		if n := form.Number(value); !math.IsNaN(n) {
			row.NumericValue = &n
		}
	default:
		text := form.Text(value)
		row.Value = &text
	}
	return row, true
}

// Decode restores the runtime shape of a stored answer.
func (v ResponseValue) Decode(field form.Field) any {
	if v.BooleanValue != nil {
		return *v.BooleanValue
	}
	if v.Value == nil {
		return form.EmptyValue(field.Type)
	}
	text := *v.Value
	switch {
	case field.Type.IsMulti():
		var items []string
		if err := json.Unmarshal([]byte(text), &items); err == nil {
			return items
		}
		return []string{text}
	case field.Type == form.TypeFile:
		var files []form.FileRef
		if err := json.Unmarshal([]byte(text), &files); err == nil {
			return files
		}
	case field.Type.IsNumeric() && v.NumericValue != nil:
		return *v.NumericValue
	}
	return text
}

// InsertSubmission writes the response row and one value row per answered
// field in a single transaction.
func (s *PostgresStore) InsertSubmission(ctx context.Context, sub Submission) (Response, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Response{}, fmt.Errorf("begin submission tx: %w", err)
	}
	defer tx.Rollback()

	response := Response{
		ID:          sub.ResponseID,
		FormID:      sub.FormID,
		FormVersion: sub.FormVersion,
		UserAgent:   sub.UserAgent,
		Values:      make(map[string]ResponseValue),
	}
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO responses (id, form_id, form_version, user_agent)
		VALUES ($1, $2, $3, $4)
		RETURNING submitted_at
	`, sub.ResponseID, sub.FormID, sub.FormVersion, sub.UserAgent).Scan(&response.SubmittedAt); err != nil {
		return Response{}, fmt.Errorf("insert response: %w", err)
	}

	for _, field := range sub.Fields {
		value, ok := sub.Values[field.ID]
		if !ok {
			continue
		}
		row, ok := EncodeValue(field, value)
		if !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO response_values (response_id, form_id, field_id, value, numeric_value, boolean_value)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, sub.ResponseID, sub.FormID, field.ID, row.Value, row.NumericValue, row.BooleanValue); err != nil {
			return Response{}, fmt.Errorf("insert value %s: %w", field.ID, err)
		}
		response.Values[field.ID] = row
	}

	if err := tx.Commit(); err != nil {
		return Response{}, fmt.Errorf("commit submission: %w", err)
	}
	return response, nil
}

// ListResponses returns responses newest first with their values attached.
func (s *PostgresStore) ListResponses(ctx context.Context, filter ResponseFilter) ([]Response, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, form_id, form_version, user_agent, submitted_at
		FROM responses
		WHERE form_id = $1
			AND ($2::timestamptz IS NULL OR submitted_at >= $2)
			AND ($3::timestamptz IS NULL OR submitted_at < $3)
		ORDER BY submitted_at DESC, id DESC
		LIMIT $4 OFFSET $5
	`, filter.FormID, filter.Since, filter.Until, limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()

	var responses []Response
	ids := make([]string, 0)
	byID := make(map[string]int)
	for rows.Next() {
		var item Response
		if err := rows.Scan(&item.ID, &item.FormID, &item.FormVersion, &item.UserAgent, &item.SubmittedAt); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		item.Values = make(map[string]ResponseValue)
		byID[item.ID] = len(responses)
		ids = append(ids, item.ID)
		responses = append(responses, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate responses: %w", err)
	}
	if len(ids) == 0 {
		return responses, nil
	}

	values, err := s.listResponseValues(ctx, ids)
	if err != nil {
		return nil, err
	}
	for responseID, rowValues := range values {
		responses[byID[responseID]].Values = rowValues
	}
	return responses, nil
}

func (s *PostgresStore) listResponseValues(ctx context.Context, responseIDs []string) (map[string]map[string]ResponseValue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT response_id, field_id, value, numeric_value, boolean_value
		FROM response_values
		WHERE response_id = ANY($1)
	`, responseIDs)
	if err != nil {
		return nil, fmt.Errorf("list response values: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[string]ResponseValue)
	for rows.Next() {
		var responseID string
		var row ResponseValue
		var value sql.NullString
		var numeric sql.NullFloat64
		var boolean sql.NullBool
		if err := rows.Scan(&responseID, &row.FieldID, &value, &numeric, &boolean); err != nil {
			return nil, fmt.Errorf("scan response value: %w", err)
		}
		if value.Valid {
			row.Value = &value.String
		}
		if numeric.Valid {
			row.NumericValue = &numeric.Float64
		}
		if boolean.Valid {
			row.BooleanValue = &boolean.Bool
		}
		if out[responseID] == nil {
			out[responseID] = make(map[string]ResponseValue)
		}
		out[responseID][row.FieldID] = row
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetResponse(ctx context.Context, formID, responseID string) (Response, error) {
	var item Response
	err := s.db.QueryRowContext(ctx, `
		SELECT id, form_id, form_version, user_agent, submitted_at
		FROM responses WHERE form_id = $1 AND id = $2
	`, formID, responseID).Scan(&item.ID, &item.FormID, &item.FormVersion, &item.UserAgent, &item.SubmittedAt)
	if err != nil {
		return Response{}, err
	}
	values, err := s.listResponseValues(ctx, []string{item.ID})
	if err != nil {
		return Response{}, err
	}
	item.Values = values[item.ID]
	if item.Values == nil {
		item.Values = make(map[string]ResponseValue)
	}
	return item, nil
}

func (s *PostgresStore) CountResponses(ctx context.Context, formID string, since *time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM responses
		WHERE form_id = $1 AND ($2::timestamptz IS NULL OR submitted_at >= $2)
	`, formID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count responses: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) DeleteResponse(ctx context.Context, formID, responseID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM responses WHERE form_id = $1 AND id = $2`, formID, responseID)
	if err != nil {
		return fmt.Errorf("delete response: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) InsertUpload(ctx context.Context, upload Upload) (Upload, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO uploads (id, form_id, field_id, object_key, file_name, content_type, size_bytes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, upload.ID, upload.FormID, upload.FieldID, upload.ObjectKey, upload.FileName, upload.ContentType, upload.SizeBytes).Scan(&upload.CreatedAt)
	if err != nil {
		return Upload{}, fmt.Errorf("insert upload: %w", err)
	}
	return upload, nil
}

func (s *PostgresStore) GetUploadByKey(ctx context.Context, objectKey string) (Upload, error) {
	var upload Upload
	err := s.db.QueryRowContext(ctx, `
		SELECT id, form_id, field_id, object_key, file_name, content_type, size_bytes, created_at
		FROM uploads WHERE object_key = $1
	`, objectKey).Scan(&upload.ID, &upload.FormID, &upload.FieldID, &upload.ObjectKey, &upload.FileName,
		&upload.ContentType, &upload.SizeBytes, &upload.CreatedAt)
	if err != nil {
		return Upload{}, err
	}
	return upload, nil
}
