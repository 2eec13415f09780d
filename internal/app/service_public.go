package app

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"formdeck/api/internal/email"
	"formdeck/api/internal/engine"
	"formdeck/api/internal/export"
	"formdeck/api/internal/form"
	"formdeck/api/internal/search"
	"formdeck/api/internal/storage"
	"formdeck/api/internal/store"
	"formdeck/api/internal/util"
)

// publishedForm loads a form by slug for respondents. Drafts are hidden and
// closed forms say so.
func (s *Service) publishedForm(ctx context.Context, slug string) (store.Form, []form.Field, error) {
	item, err := s.store.GetFormBySlug(ctx, slug)
	if err != nil {
		return store.Form{}, nil, err
	}
	switch item.Status {
	case store.FormPublished:
	case store.FormClosed:
		return store.Form{}, nil, domainError(http.StatusGone, "FORM_CLOSED", "This form is no longer accepting responses", nil)
	default:
		return store.Form{}, nil, notFound("Form not found")
	}
	fields, err := s.store.ListFields(ctx, item.ID)
	if err != nil {
		return store.Form{}, nil, err
	}
	return item, fields, nil
}

func (s *Service) PublicForm(ctx context.Context, slug string) (map[string]any, error) {
	item, fields, err := s.publishedForm(ctx, slug)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"form": map[string]any{
			"id":             item.ID,
			"title":          item.Title,
			"description":    item.Description,
			"slug":           item.Slug,
			"successMessage": item.SuccessMessage,
		},
		"fields": nonNilFields(fields),
	}, nil
}

// PublicEvaluate runs the binding over the posted values so a client can
// show and hide fields without reimplementing the rules.
func (s *Service) PublicEvaluate(ctx context.Context, slug string, input PreviewInput) (map[string]any, error) {
	_, fields, err := s.publishedForm(ctx, slug)
	if err != nil {
		return nil, err
	}
	payload, err := evaluate(fields, input)
	if err != nil {
		return nil, err
	}
	delete(payload, "submit")
	return payload, nil
}

type SubmitInput struct {
	Values    map[string]any
	ClientKey string
	UserAgent string
}

// Submit revalidates the answers, stores the response and its values in one
// transaction, then indexes it and notifies the form owner off the request
// path.
func (s *Service) Submit(ctx context.Context, slug string, input SubmitInput) (map[string]any, error) {
	item, fields, err := s.publishedForm(ctx, slug)
	if err != nil {
		return nil, err
	}
	allowed, err := s.limiter.Allow(ctx, item.ID, input.ClientKey)
	if err != nil {
		log.Printf("submit limiter for %s: %v", item.ID, err)
	} else if !allowed {
		return nil, domainError(http.StatusTooManyRequests, "RATE_LIMITED", "Too many submissions, try again later", nil)
	}

	result := engine.NewBinding(fields, input.Values).Submit()
	if !result.OK {
		return nil, validationError("Some answers are invalid", result.Errors)
	}
	if details := s.checkFileAnswers(ctx, item.ID, fields, result.Values); len(details) > 0 {
		return nil, validationError("Some answers are invalid", details)
	}
	for _, field := range fields {
		if field.Type == form.TypeCaptcha {
			delete(result.Values, field.ID)
		}
	}

	response, err := s.store.InsertSubmission(ctx, store.Submission{
		ResponseID:  util.NewID("rsp"),
		FormID:      item.ID,
		FormVersion: item.Version,
		UserAgent:   input.UserAgent,
		Fields:      fields,
		Values:      result.Values,
	})
	if err != nil {
		return nil, err
	}

	answers := answerLines(fields, result.Values)
	s.search.IndexResponse(search.ResponseRecord{
		ID:          response.ID,
		FormID:      item.ID,
		FormTitle:   item.Title,
		Answers:     joinAnswers(answers),
		SubmittedAt: response.SubmittedAt.Unix(),
	})
	if item.NotifyEmail != "" && s.SMTPConfigured() {
		notice := email.ResponseNotice{
			FormTitle:    item.Title,
			SubmittedAt:  response.SubmittedAt,
			Answers:      answers,
			ResponsesURL: s.publicURL("/forms/"+item.ID+"/responses", nil),
		}
		to := item.NotifyEmail
		s.background(func() {
			if err := s.mail.SendResponseNotification(to, notice); err != nil {
				log.Printf("notify %s of response %s: %v", item.ID, response.ID, err)
			}
		})
	}

	return map[string]any{
		"responseId": response.ID,
		"message":    firstNonBlank(item.SuccessMessage, defaultSuccessMessage),
	}, nil
}

// checkFileAnswers makes sure every submitted file was uploaded to this
// form's field through the upload endpoint.
func (s *Service) checkFileAnswers(ctx context.Context, formID string, fields []form.Field, values map[string]any) map[string]engine.Result {
	details := map[string]engine.Result{}
	for _, field := range fields {
		if field.Type != form.TypeFile {
			continue
		}
		for _, ref := range form.Files(values[field.ID]) {
			upload, err := s.store.GetUploadByKey(ctx, ref.Key)
			if err != nil || upload.FormID != formID || upload.FieldID != field.ID {
				details[field.ID] = engine.Result{Valid: false, Rule: engine.RuleFileType, Message: "Upload the file before submitting"}
				break
			}
		}
	}
	return details
}

type UploadInput struct {
	FieldID     string
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// PublicUpload stores a file for a file field of a published form and
// records it so a later submit can reference it.
func (s *Service) PublicUpload(ctx context.Context, slug string, input UploadInput) (map[string]any, error) {
	item, fields, err := s.publishedForm(ctx, slug)
	if err != nil {
		return nil, err
	}
	field, ok := form.Index(fields)[input.FieldID]
	if !ok {
		return nil, validationError("Unknown field", map[string]any{"fieldId": input.FieldID})
	}

	ref, err := s.files.Put(ctx, storage.Upload{
		FormID:      item.ID,
		Field:       field,
		FileName:    input.FileName,
		ContentType: input.ContentType,
		Size:        input.Size,
		Body:        input.Body,
	})
	var rejected *storage.RejectedError
	switch {
	case errors.As(err, &rejected):
		return nil, validationError(rejected.Error(), map[string]engine.Result{field.ID: rejected.Result})
	case errors.Is(err, storage.ErrNotFileField):
		return nil, validationError("Field does not accept files", map[string]any{"fieldId": field.ID})
	case errors.Is(err, storage.ErrSizeUnknown):
		return nil, domainError(http.StatusLengthRequired, "LENGTH_REQUIRED", "Upload size is unknown", nil)
	case errors.Is(err, storage.ErrNotConfigured):
		return nil, domainError(http.StatusServiceUnavailable, "UPLOADS_UNAVAILABLE", "File uploads are not configured", nil)
	case err != nil:
		return nil, err
	}

	if _, err := s.store.InsertUpload(ctx, store.Upload{
		ID:          util.NewID("upl"),
		FormID:      item.ID,
		FieldID:     field.ID,
		ObjectKey:   ref.Key,
		FileName:    ref.Name,
		ContentType: ref.ContentType,
		SizeBytes:   ref.Size,
	}); err != nil {
		return nil, err
	}
	return map[string]any{"file": ref}, nil
}

// answerLines renders visible answers in field order for search and mail.
func answerLines(fields []form.Field, values map[string]any) []email.Answer {
	var out []email.Answer
	for _, field := range fields {
		if field.Type == form.TypePassword || field.Type == form.TypeCaptcha {
			continue
		}
		value, ok := values[field.ID]
		if !ok {
			continue
		}
		if text := export.FormatValue(field, value); text != "" {
			out = append(out, email.Answer{Label: field.DisplayName(), Value: text})
		}
	}
	return out
}

func joinAnswers(answers []email.Answer) string {
	lines := make([]string, 0, len(answers))
	for _, answer := range answers {
		lines = append(lines, answer.Label+": "+answer.Value)
	}
	return strings.Join(lines, "\n")
}
