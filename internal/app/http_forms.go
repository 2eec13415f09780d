package app

import (
	"net/http"
	"strings"

	"formdeck/api/internal/form"
	"formdeck/api/internal/rbac"
	"formdeck/api/internal/store"
)

const maxImportBytes = 20 << 20

// handleForms serves /api/forms/{id}/...; parts is the whole split path.
func (s *HTTPServer) handleForms(w http.ResponseWriter, r *http.Request, session Session, formID string, parts []string) {
	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			if !s.service.Can(session.Role, rbac.ActionRead) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
				return
			}
			payload, err := s.service.GetForm(r.Context(), formID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPut:
			if !s.service.Can(session.Role, rbac.ActionBuild) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
				return
			}
			var body UpdateFormInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateForm(r.Context(), formID, body)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodDelete:
			if !s.service.Can(session.Role, rbac.ActionManage) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
				return
			}
			if err := s.service.DeleteForm(r.Context(), formID); err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	switch parts[3] {
	case "publish", "unpublish", "close":
		if len(parts) != 4 || r.Method != http.MethodPost {
			break
		}
		if !s.service.Can(session.Role, rbac.ActionPublish) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var (
			payload map[string]any
			err     error
		)
		switch parts[3] {
		case "publish":
			payload, err = s.service.PublishForm(r.Context(), session, formID)
		case "unpublish":
			payload, err = s.service.SetFormStatus(r.Context(), formID, store.FormDraft)
		default:
			payload, err = s.service.SetFormStatus(r.Context(), formID, store.FormClosed)
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return

	case "revisions":
		if r.Method != http.MethodGet || len(parts) > 5 {
			break
		}
		if !s.service.Can(session.Role, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var (
			payload map[string]any
			err     error
		)
		if len(parts) == 4 {
			limit, parseErr := queryInt(r.URL.Query().Get("limit"), 50)
			if parseErr != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
				return
			}
			payload, err = s.service.Revisions(r.Context(), formID, limit)
		} else {
			payload, err = s.service.Revision(r.Context(), formID, parts[4], strings.TrimSpace(r.URL.Query().Get("compare")))
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return

	case "definition.yaml":
		if r.Method != http.MethodGet || len(parts) != 4 {
			break
		}
		if !s.service.Can(session.Role, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		data, filename, err := s.service.Definition(r.Context(), formID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeFile(w, filename, "application/yaml; charset=utf-8", data)
		return

	case "fields":
		s.handleFields(w, r, session, formID, parts)
		return

	case "preview":
		if r.Method != http.MethodPost || len(parts) != 4 {
			break
		}
		if !s.service.Can(session.Role, rbac.ActionRead) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		var body PreviewInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.Preview(r.Context(), formID, body)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return

	case "import":
		if r.Method != http.MethodPost || len(parts) != 4 {
			break
		}
		if !s.service.Can(session.Role, rbac.ActionBuild) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "Expected a multipart file named file", nil)
			return
		}
		defer file.Close()
		payload, err := s.service.ImportDocument(r.Context(), formID, header.Filename, file)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return

	case "responses":
		s.handleResponses(w, r, session, formID, parts)
		return

	case "export":
		if r.Method != http.MethodGet || len(parts) != 4 {
			break
		}
		if !s.service.Can(session.Role, rbac.ActionAnalyze) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		format := firstNonBlank(r.URL.Query().Get("format"), "csv")
		result, err := s.service.Export(r.Context(), formID, format)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeFile(w, result.Filename, result.MimeType, result.Data)
		return

	case "files":
		if r.Method != http.MethodGet || len(parts) != 4 {
			break
		}
		if !s.service.Can(session.Role, rbac.ActionAnalyze) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		key := strings.TrimSpace(r.URL.Query().Get("key"))
		if key == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "key is required", nil)
			return
		}
		payload, err := s.service.FileURL(r.Context(), formID, key)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleFields(w http.ResponseWriter, r *http.Request, session Session, formID string, parts []string) {
	if !s.service.Can(session.Role, rbac.ActionBuild) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}

	if len(parts) == 4 && r.Method == http.MethodPost {
		var body form.Field
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.AddField(r.Context(), formID, body)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	if len(parts) == 5 && parts[4] == "reorder" && r.Method == http.MethodPost {
		var body struct {
			SourceID string `json:"sourceId"`
			DestID   string `json:"destId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.ReorderFields(r.Context(), formID, body.SourceID, body.DestID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 5 {
		fieldID := parts[4]
		switch r.Method {
		case http.MethodPut:
			var body form.Field
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateField(r.Context(), formID, fieldID, body)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		case http.MethodDelete:
			payload, err := s.service.DeleteField(r.Context(), formID, fieldID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		}
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func (s *HTTPServer) handleResponses(w http.ResponseWriter, r *http.Request, session Session, formID string, parts []string) {
	if len(parts) == 4 && r.Method == http.MethodGet {
		if !s.service.Can(session.Role, rbac.ActionAnalyze) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return
		}
		query := r.URL.Query()
		since, err := queryTime(query.Get("since"))
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "since must be a date", nil)
			return
		}
		until, err := queryTime(query.Get("until"))
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "until must be a date", nil)
			return
		}
		limit, err := queryInt(query.Get("limit"), 50)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		offset, err := queryInt(query.Get("offset"), 0)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
			return
		}
		payload, err := s.service.ListResponses(r.Context(), formID, ResponseListInput{
			Since:  since,
			Until:  until,
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) == 5 {
		responseID := parts[4]
		switch r.Method {
		case http.MethodGet:
			if !s.service.Can(session.Role, rbac.ActionAnalyze) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
				return
			}
			payload, err := s.service.GetResponse(r.Context(), formID, responseID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
			return
		case http.MethodDelete:
			if !s.service.Can(session.Role, rbac.ActionManage) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
				return
			}
			if err := s.service.DeleteResponse(r.Context(), formID, responseID); err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	}

	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}
