package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"formdeck/api/internal/export"
	"formdeck/api/internal/search"
	"formdeck/api/internal/storage"
	"formdeck/api/internal/store"
)

const exportPageSize = 500

type ResponseListInput struct {
	Since  *time.Time
	Until  *time.Time
	Limit  int
	Offset int
}

func rowPayload(row export.Row, version int) map[string]any {
	return map[string]any{
		"id":          row.ResponseID,
		"formVersion": version,
		"submittedAt": row.SubmittedAt,
		"values":      row.Values,
	}
}

// ListResponses returns a page of responses with answers decoded to their
// runtime shape. Password and captcha answers are never returned.
func (s *Service) ListResponses(ctx context.Context, formID string, input ResponseListInput) (map[string]any, error) {
	item, err := s.store.GetForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	fields, err := s.store.ListFields(ctx, formID)
	if err != nil {
		return nil, err
	}
	responses, err := s.store.ListResponses(ctx, store.ResponseFilter{
		FormID: formID,
		Since:  input.Since,
		Until:  input.Until,
		Limit:  input.Limit,
		Offset: input.Offset,
	})
	if err != nil {
		return nil, err
	}
	total, err := s.store.CountResponses(ctx, formID, input.Since)
	if err != nil {
		return nil, err
	}

	dataset := export.NewDataset(item.Title, fields, responses)
	rows := make([]map[string]any, 0, len(dataset.Rows))
	for i, row := range dataset.Rows {
		rows = append(rows, rowPayload(row, responses[i].FormVersion))
	}
	return map[string]any{
		"fields":    nonNilFields(dataset.Fields),
		"responses": rows,
		"total":     total,
	}, nil
}

func (s *Service) GetResponse(ctx context.Context, formID, responseID string) (map[string]any, error) {
	item, err := s.store.GetForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	fields, err := s.store.ListFields(ctx, formID)
	if err != nil {
		return nil, err
	}
	response, err := s.store.GetResponse(ctx, formID, responseID)
	if err != nil {
		return nil, err
	}
	dataset := export.NewDataset(item.Title, fields, []store.Response{response})
	return map[string]any{"response": rowPayload(dataset.Rows[0], response.FormVersion)}, nil
}

func (s *Service) DeleteResponse(ctx context.Context, formID, responseID string) error {
	if err := s.store.DeleteResponse(ctx, formID, responseID); err != nil {
		return err
	}
	s.search.DeleteResponse(responseID)
	return nil
}

// Export renders every response of a form in the requested format.
func (s *Service) Export(ctx context.Context, formID, rawFormat string) (*export.Result, error) {
	format, err := s.exports.ParseFormat(rawFormat)
	if err != nil {
		return nil, validationError("Unsupported export format", map[string]any{"format": rawFormat})
	}
	item, err := s.store.GetForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	fields, err := s.store.ListFields(ctx, formID)
	if err != nil {
		return nil, err
	}

	var responses []store.Response
	for offset := 0; ; offset += exportPageSize {
		page, err := s.store.ListResponses(ctx, store.ResponseFilter{FormID: formID, Limit: exportPageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		responses = append(responses, page...)
		if len(page) < exportPageSize {
			break
		}
	}

	result, err := s.exports.Render(ctx, format, export.NewDataset(item.Title, fields, responses))
	switch {
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", fmt.Sprintf("%s export is not available on this server", strings.ToUpper(string(format))), nil)
	case err != nil:
		return nil, err
	}
	return result, nil
}

// FileURL presigns a download for an uploaded file of the form.
func (s *Service) FileURL(ctx context.Context, formID, key string) (map[string]any, error) {
	upload, err := s.store.GetUploadByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if upload.FormID != formID {
		return nil, notFound("File not found")
	}
	link, err := s.files.DownloadURL(ctx, upload.ObjectKey, upload.FileName)
	if errors.Is(err, storage.ErrNotConfigured) {
		return nil, domainError(http.StatusServiceUnavailable, "UPLOADS_UNAVAILABLE", "File storage is not configured", nil)
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"url": link, "name": upload.FileName, "size": upload.SizeBytes}, nil
}

type SearchInput struct {
	Text   string
	Type   string
	FormID string
	Limit  int
	Offset int
}

func (s *Service) Search(ctx context.Context, input SearchInput) (search.Response, error) {
	query := search.Query{
		Text:         strings.TrimSpace(input.Text),
		FilterFormID: input.FormID,
		Limit:        input.Limit,
		Offset:       input.Offset,
	}
	switch search.ResultType(input.Type) {
	case "":
	case search.ResultForm, search.ResultResponse:
		query.FilterType = search.ResultType(input.Type)
	default:
		return search.Response{}, validationError("type must be form or response", map[string]any{"type": input.Type})
	}
	if query.Limit <= 0 || query.Limit > 100 {
		query.Limit = 20
	}
	if query.Offset < 0 {
		query.Offset = 0
	}
	return s.search.Search(query), nil
}
