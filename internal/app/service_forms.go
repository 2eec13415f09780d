package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"formdeck/api/internal/engine"
	"formdeck/api/internal/form"
	"formdeck/api/internal/gitrepo"
	"formdeck/api/internal/importer"
	"formdeck/api/internal/reorder"
	"formdeck/api/internal/search"
	"formdeck/api/internal/store"
	"formdeck/api/internal/util"
)

const defaultSuccessMessage = "Thanks for your response."

type CreateFormInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Slug        string `json:"slug"`
	Template    string `json:"template"`
}

type UpdateFormInput struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	Slug           string `json:"slug"`
	NotifyEmail    string `json:"notifyEmail"`
	SuccessMessage string `json:"successMessage"`
}

func formPayload(item store.Form) map[string]any {
	return map[string]any{
		"id":             item.ID,
		"ownerId":        item.OwnerID,
		"title":          item.Title,
		"description":    item.Description,
		"slug":           item.Slug,
		"status":         item.Status,
		"version":        item.Version,
		"notifyEmail":    item.NotifyEmail,
		"successMessage": item.SuccessMessage,
		"publishedAt":    item.PublishedAt,
		"createdAt":      item.CreatedAt,
		"updatedAt":      item.UpdatedAt,
	}
}

func commitPayload(commit store.CommitInfo) map[string]any {
	return map[string]any{
		"hash":      commit.Hash,
		"message":   commit.Message,
		"author":    commit.Author,
		"createdAt": commit.CreatedAt,
	}
}

func formRecord(item store.Form) search.FormRecord {
	return search.FormRecord{
		ID:          item.ID,
		Title:       item.Title,
		Description: item.Description,
		Slug:        item.Slug,
		Status:      item.Status,
	}
}

func (s *Service) ListForms(ctx context.Context) ([]map[string]any, error) {
	forms, err := s.store.ListForms(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(forms))
	for _, summary := range forms {
		payload := formPayload(summary.Form)
		payload["fieldCount"] = summary.FieldCount
		payload["responseCount"] = summary.ResponseCount
		items = append(items, payload)
	}
	return items, nil
}

// GetForm returns the form, its fields in position order and any authoring
// issues found by the linter.
func (s *Service) GetForm(ctx context.Context, formID string) (map[string]any, error) {
	item, err := s.store.GetForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	fields, err := s.store.ListFields(ctx, formID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"form":   formPayload(item),
		"fields": nonNilFields(fields),
		"issues": engine.Lint(fields),
	}, nil
}

func (s *Service) CreateForm(ctx context.Context, session Session, input CreateFormInput) (map[string]any, error) {
	var fields []form.Field
	title := strings.TrimSpace(input.Title)
	description := strings.TrimSpace(input.Description)
	formID := util.NewID("frm")

	if slug := strings.TrimSpace(input.Template); slug != "" {
		def, ok, err := form.Template(slug)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, validationError("Unknown template", map[string]any{"template": slug})
		}
		fields = def.Instantiate(formID)
		title = firstNonBlank(title, def.Title)
		description = firstNonBlank(description, def.Description)
	}
	if title == "" {
		return nil, validationError("title is required", nil)
	}

	slug := util.Slugify(input.Slug)
	if slug == "" {
		slug = util.PublicSlug(title)
	}
	item := store.Form{
		ID:             formID,
		OwnerID:        session.UserID,
		Title:          title,
		Description:    description,
		Slug:           slug,
		Status:         store.FormDraft,
		SuccessMessage: defaultSuccessMessage,
	}
	if err := s.store.CreateForm(ctx, item); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, domainError(http.StatusConflict, "SLUG_TAKEN", "Another form already uses this slug", map[string]any{"slug": slug})
		}
		return nil, err
	}
	if len(fields) > 0 {
		if err := s.store.InsertFields(ctx, formID, fields); err != nil {
			return nil, err
		}
	}
	s.search.IndexForm(formRecord(item))
	return s.GetForm(ctx, formID)
}

func (s *Service) UpdateForm(ctx context.Context, formID string, input UpdateFormInput) (map[string]any, error) {
	item, err := s.store.GetForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, validationError("title is required", nil)
	}
	notify := strings.TrimSpace(input.NotifyEmail)
	if notify != "" {
		addr, err := mail.ParseAddress(notify)
		if err != nil {
			return nil, validationError("notifyEmail is not a valid email address", map[string]any{"notifyEmail": notify})
		}
		notify = addr.Address
	}
	if slug := util.Slugify(input.Slug); slug != "" {
		item.Slug = slug
	}
	item.Title = title
	item.Description = strings.TrimSpace(input.Description)
	item.NotifyEmail = notify
	item.SuccessMessage = firstNonBlank(form.PlainText(input.SuccessMessage), defaultSuccessMessage)

	if err := s.store.UpdateForm(ctx, item); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, domainError(http.StatusConflict, "SLUG_TAKEN", "Another form already uses this slug", map[string]any{"slug": item.Slug})
		}
		return nil, err
	}
	s.search.IndexForm(formRecord(item))
	return s.GetForm(ctx, formID)
}

func (s *Service) DeleteForm(ctx context.Context, formID string) error {
	if err := s.store.DeleteForm(ctx, formID); err != nil {
		return err
	}
	s.search.DeleteForm(formID)
	return nil
}

// PublishForm snapshots the current fields into the form's revision history
// and opens the form for submissions. Forms with lint errors stay drafts.
func (s *Service) PublishForm(ctx context.Context, session Session, formID string) (map[string]any, error) {
	item, err := s.store.GetForm(ctx, formID)
	if err != nil {
		return nil, err
	}
	fields, err := s.store.ListFields(ctx, formID)
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "FORM_EMPTY", "Add at least one field before publishing", nil)
	}
	issues := engine.Lint(fields)
	if engine.HasErrors(issues) {
		return nil, domainError(http.StatusUnprocessableEntity, "FORM_INVALID", "Fix the form's errors before publishing", map[string]any{"issues": issues})
	}

	commit, err := s.git.CommitRevision(formID, gitrepo.Snapshot{
		Title:       item.Title,
		Description: item.Description,
		Version:     item.Version + 1,
		Fields:      fields,
	}, firstNonBlank(session.UserName, session.UserID))
	if err != nil {
		return nil, fmt.Errorf("commit revision for %s: %w", formID, err)
	}
	published, err := s.store.SetFormStatus(ctx, formID, store.FormPublished)
	if err != nil {
		return nil, err
	}
	s.search.IndexForm(formRecord(published))
	return map[string]any{
		"form":     formPayload(published),
		"revision": commitPayload(commit),
		"issues":   issues,
	}, nil
}

// SetFormStatus moves a form back to draft or closes it. Neither accepts
// new responses.
func (s *Service) SetFormStatus(ctx context.Context, formID, status string) (map[string]any, error) {
	item, err := s.store.SetFormStatus(ctx, formID, status)
	if err != nil {
		return nil, err
	}
	s.search.IndexForm(formRecord(item))
	return map[string]any{"form": formPayload(item)}, nil
}

func (s *Service) Revisions(ctx context.Context, formID string, limit int) (map[string]any, error) {
	if _, err := s.store.GetForm(ctx, formID); err != nil {
		return nil, err
	}
	commits, err := s.git.History(formID, limit)
	if err != nil && !errors.Is(err, gitrepo.ErrNoRevisions) {
		return nil, err
	}
	items := make([]map[string]any, 0, len(commits))
	for _, commit := range commits {
		items = append(items, commitPayload(commit))
	}
	return map[string]any{"revisions": items}, nil
}

// Revision loads a published snapshot. The changes are computed against
// compare when given, otherwise against the current draft fields.
func (s *Service) Revision(ctx context.Context, formID, revision, compare string) (map[string]any, error) {
	snap, commit, err := s.git.Snapshot(formID, revision)
	if errors.Is(err, gitrepo.ErrNoRevisions) {
		return nil, notFound("Form has no revisions")
	}
	if err != nil {
		return nil, notFound("Revision not found")
	}

	var target gitrepo.Snapshot
	if compare != "" {
		target, _, err = s.git.Snapshot(formID, compare)
		if err != nil {
			return nil, notFound("Comparison revision not found")
		}
	} else {
		item, err := s.store.GetForm(ctx, formID)
		if err != nil {
			return nil, err
		}
		fields, err := s.store.ListFields(ctx, formID)
		if err != nil {
			return nil, err
		}
		target = gitrepo.Snapshot{Title: item.Title, Description: item.Description, Version: item.Version, Fields: fields}
	}

	changes := gitrepo.Diff(snap, target)
	if changes == nil {
		changes = []gitrepo.Change{}
	}
	return map[string]any{
		"revision": commitPayload(commit),
		"snapshot": snap,
		"changes":  changes,
	}, nil
}

// Definition renders the form as a portable YAML definition.
func (s *Service) Definition(ctx context.Context, formID string) ([]byte, string, error) {
	item, err := s.store.GetForm(ctx, formID)
	if err != nil {
		return nil, "", err
	}
	fields, err := s.store.ListFields(ctx, formID)
	if err != nil {
		return nil, "", err
	}
	data, err := form.MarshalDefinition(form.Definition{
		Slug:        item.Slug,
		Title:       item.Title,
		Description: item.Description,
		Fields:      fields,
	})
	if err != nil {
		return nil, "", err
	}
	return data, item.Slug + ".yaml", nil
}

func (s *Service) Templates() ([]map[string]any, error) {
	defs, err := form.Templates()
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(defs))
	for _, def := range defs {
		items = append(items, map[string]any{
			"slug":        def.Slug,
			"title":       def.Title,
			"description": def.Description,
			"fieldCount":  len(def.Fields),
		})
	}
	return items, nil
}

// checkField cleans an authored field and rejects definitions the engine
// cannot evaluate.
func checkField(field form.Field) (form.Field, error) {
	field = form.Clean(field)
	if !field.Type.Valid() {
		return field, validationError("Unknown field type", map[string]any{"type": field.Type})
	}
	if field.Type.IsChoice() && len(field.Options) == 0 {
		return field, validationError("Choice fields need at least one option", map[string]any{"options": "required"})
	}
	return field, nil
}

func (s *Service) fieldsPayload(fields []form.Field, extra map[string]any) (map[string]any, error) {
	payload := map[string]any{
		"fields": nonNilFields(fields),
		"issues": engine.Lint(fields),
	}
	for key, value := range extra {
		payload[key] = value
	}
	return payload, nil
}

// AddField appends a field at the end of the form.
func (s *Service) AddField(ctx context.Context, formID string, field form.Field) (map[string]any, error) {
	field, err := checkField(field)
	if err != nil {
		return nil, err
	}
	existing, err := s.store.ListFields(ctx, formID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetForm(ctx, formID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(field.ID) == "" {
		field.ID = uuid.NewString()
	}
	for _, other := range existing {
		if other.ID == field.ID {
			return nil, domainError(http.StatusConflict, "FIELD_EXISTS", "A field with this id already exists", map[string]any{"id": field.ID})
		}
	}
	field.FormID = formID
	field.Position = len(existing)
	if err := s.store.InsertFields(ctx, formID, []form.Field{field}); err != nil {
		return nil, err
	}
	return s.fieldsPayload(append(existing, field), map[string]any{"field": field})
}

func (s *Service) UpdateField(ctx context.Context, formID, fieldID string, field form.Field) (map[string]any, error) {
	current, err := s.store.GetField(ctx, formID, fieldID)
	if err != nil {
		return nil, err
	}
	field.ID = fieldID
	field, err = checkField(field)
	if err != nil {
		return nil, err
	}
	field.FormID = formID
	field.Position = current.Position
	if err := s.store.UpdateField(ctx, field); err != nil {
		return nil, err
	}
	fields, err := s.store.ListFields(ctx, formID)
	if err != nil {
		return nil, err
	}
	return s.fieldsPayload(fields, map[string]any{"field": field})
}

// DeleteField removes a field and returns the renumbered remainder. Fields
// that depended on it are reported by the linter. It waits on the same
// guard as ReorderFields.
func (s *Service) DeleteField(ctx context.Context, formID, fieldID string) (map[string]any, error) {
	fields, err := s.store.ListFields(ctx, formID)
	if err != nil {
		return nil, err
	}
	if _, ok := form.Index(fields)[fieldID]; !ok {
		return nil, notFound("Field not found")
	}
	outcome, err := reorder.ApplyRemove(ctx, s.fieldOrder, formID, fields, fieldID,
		func(ctx context.Context, next []form.Field) error {
			return s.store.DeleteField(ctx, formID, fieldID, reorder.Placements(next))
		})
	if err != nil {
		return nil, err
	}
	return s.fieldsPayload(outcome.Items, nil)
}

// ReorderFields moves sourceID to destID's slot. One reorder per form runs
// at a time; a failed write returns the pre-move order.
func (s *Service) ReorderFields(ctx context.Context, formID, sourceID, destID string) (map[string]any, error) {
	fields, err := s.store.ListFields(ctx, formID)
	if err != nil {
		return nil, err
	}
	index := form.Index(fields)
	for _, ref := range []struct{ key, id string }{{"sourceId", sourceID}, {"destId", destID}} {
		if _, ok := index[ref.id]; !ok {
			return nil, validationError("Unknown field", map[string]any{ref.key: ref.id})
		}
	}

	outcome, err := reorder.Apply(ctx, s.fieldOrder, formID, fields, sourceID, destID,
		func(ctx context.Context, next []form.Field) error {
			return s.store.SaveFieldOrder(ctx, formID, reorder.Placements(next))
		})
	if errors.Is(err, reorder.ErrInProgress) {
		return nil, err
	}
	if err != nil {
		log.Printf("reorder fields of %s: %v", formID, err)
		return nil, domainError(http.StatusInternalServerError, "REORDER_FAILED", "Could not save the new order",
			map[string]any{"fields": nonNilFields(outcome.Items), "rolledBack": outcome.RolledBack})
	}
	return s.fieldsPayload(outcome.Items, map[string]any{"moved": outcome.Moved})
}

type PreviewInput struct {
	Values  map[string]any `json:"values"`
	FieldID string         `json:"fieldId"`
	Value   any            `json:"value"`
}

// Preview evaluates the draft fields the way a respondent would see them.
func (s *Service) Preview(ctx context.Context, formID string, input PreviewInput) (map[string]any, error) {
	fields, err := s.store.ListFields(ctx, formID)
	if err != nil {
		return nil, err
	}
	return evaluate(fields, input)
}

func evaluate(fields []form.Field, input PreviewInput) (map[string]any, error) {
	binding := engine.NewBinding(fields, input.Values)
	payload := map[string]any{}
	if input.FieldID != "" {
		change, err := binding.SetValue(input.FieldID, input.Value)
		switch {
		case errors.Is(err, engine.ErrUnknownField):
			return nil, validationError("Unknown field", map[string]any{"fieldId": input.FieldID})
		case errors.Is(err, engine.ErrFieldHidden):
			return nil, domainError(http.StatusConflict, "FIELD_HIDDEN", "Field is hidden by its condition", map[string]any{"fieldId": input.FieldID})
		case err != nil:
			return nil, err
		}
		payload["change"] = change
	}
	payload["snapshot"] = binding.Snapshot()
	payload["submit"] = binding.Submit()
	return payload, nil
}

// ImportDocument extracts fields from an uploaded document and appends them
// to the form.
func (s *Service) ImportDocument(ctx context.Context, formID, filename string, document io.Reader) (map[string]any, error) {
	if !s.importer.IsConfigured() {
		return nil, domainError(http.StatusServiceUnavailable, "IMPORT_UNAVAILABLE", "Document import is not configured", nil)
	}
	existing, err := s.store.ListFields(ctx, formID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetForm(ctx, formID); err != nil {
		return nil, err
	}

	statuses := make([]string, 0)
	started := time.Now()
	records, err := s.importer.Import(ctx, filename, document, func(message string) {
		statuses = append(statuses, message)
	})
	var importErr *importer.ImportError
	switch {
	case errors.As(err, &importErr):
		return nil, domainError(http.StatusBadGateway, "IMPORT_FAILED", importErr.Message, map[string]any{"status": statuses})
	case errors.Is(err, importer.ErrIncompleteStream):
		return nil, domainError(http.StatusBadGateway, "IMPORT_FAILED", "The import stream ended early", map[string]any{"status": statuses})
	case err != nil:
		return nil, err
	}

	added, issues := form.NormalizeImported(records, formID, len(existing))
	if len(added) > 0 {
		if err := s.store.InsertFields(ctx, formID, added); err != nil {
			return nil, err
		}
	}
	log.Printf("import %s into %s: %d fields, %d issues in %s", filename, formID, len(added), len(issues), time.Since(started).Round(time.Millisecond))
	if issues == nil {
		issues = []form.ImportIssue{}
	}
	return s.fieldsPayload(append(existing, added...), map[string]any{
		"added":        nonNilFields(added),
		"importIssues": issues,
		"status":       statuses,
	})
}

func nonNilFields(fields []form.Field) []form.Field {
	if fields == nil {
		return []form.Field{}
	}
	return fields
}
