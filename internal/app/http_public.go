package app

import (
	"net"
	"net/http"
	"strings"
)

// Extra room for multipart framing around the file itself.
const multipartOverhead = 1 << 20

// handlePublicForm serves /api/public/forms/{slug}/... for respondents. No
// session is required.
func (s *HTTPServer) handlePublicForm(w http.ResponseWriter, r *http.Request, slug string, rest []string) {
	if len(rest) == 0 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		payload, err := s.service.PublicForm(r.Context(), slug)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}
	if len(rest) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	switch rest[0] {
	case "evaluate":
		var body PreviewInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.PublicEvaluate(r.Context(), slug, body)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case "responses":
		var body struct {
			Values map[string]any `json:"values"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.Submit(r.Context(), slug, SubmitInput{
			Values:    body.Values,
			ClientKey: clientKey(r),
			UserAgent: r.UserAgent(),
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)

	case "uploads":
		fieldID := strings.TrimSpace(r.URL.Query().Get("fieldId"))
		if fieldID == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "fieldId is required", nil)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.service.cfg.MaxUploadBytes+multipartOverhead)
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "Expected a multipart file named file", nil)
			return
		}
		defer file.Close()
		payload, err := s.service.PublicUpload(r.Context(), slug, UploadInput{
			FieldID:     fieldID,
			FileName:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
			Body:        file,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

// clientKey identifies a respondent for rate limiting.
func clientKey(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
