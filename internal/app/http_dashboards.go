package app

import (
	"net/http"

	"formdeck/api/internal/analytics"
	"formdeck/api/internal/rbac"
)

func (s *HTTPServer) handleDashboards(w http.ResponseWriter, r *http.Request, session Session, dashboardID string, parts []string) {
	if !s.service.Can(session.Role, rbac.ActionAnalyze) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}

	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetDashboard(r.Context(), dashboardID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPut:
			var body struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateDashboard(r.Context(), dashboardID, body.Name, body.Description)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodDelete:
			if err := s.service.DeleteDashboard(r.Context(), dashboardID); err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if parts[3] != "widgets" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	switch {
	case len(parts) == 4 && r.Method == http.MethodPost:
		var body analytics.WidgetInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.AddWidget(r.Context(), dashboardID, body)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)

	case len(parts) == 5 && parts[4] == "reorder" && r.Method == http.MethodPost:
		var body struct {
			SourceID string `json:"sourceId"`
			DestID   string `json:"destId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.ReorderWidgets(r.Context(), dashboardID, body.SourceID, body.DestID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case len(parts) == 5 && r.Method == http.MethodPut:
		var body analytics.WidgetInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.UpdateWidget(r.Context(), dashboardID, parts[4], body)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case len(parts) == 5 && r.Method == http.MethodDelete:
		payload, err := s.service.DeleteWidget(r.Context(), dashboardID, parts[4])
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case len(parts) == 6 && parts[5] == "data" && r.Method == http.MethodGet:
		data, err := s.service.WidgetData(r.Context(), dashboardID, parts[4])
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, data)

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}
