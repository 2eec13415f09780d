package tui

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"formdeck/api/internal/engine"
	"formdeck/api/internal/form"
)

func TestClientFetchAndSubmit(t *testing.T) {
	var submitted map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/public/forms/signup":
			_, _ = io.WriteString(w, `{"form":{"id":"frm_1","title":"Sign up","slug":"signup"},"fields":[{"id":"name","type":"text","required":true,"position":0,"validation_rules":{}}]}`)
		case r.Method == http.MethodPost && r.URL.Path == "/api/public/forms/signup/responses":
			var body struct {
				Values map[string]any `json:"values"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode submission: %v", err)
			}
			submitted = body.Values
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"responseId":"rsp_1","message":"Thanks!"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", nil)
	published, err := client.Fetch(context.Background(), "signup")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if published.Form.ID != "frm_1" || len(published.Fields) != 1 || published.Fields[0].Type != form.TypeText {
		t.Fatalf("unexpected form %+v", published)
	}

	receipt, err := client.Submit(context.Background(), "signup", map[string]any{"name": "Ada"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if receipt.ResponseID != "rsp_1" || receipt.Message != "Thanks!" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if submitted["name"] != "Ada" {
		t.Fatalf("server saw %v", submitted)
	}
}

func TestClientSubmitValidationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"code":"VALIDATION_ERROR","error":"Some answers are invalid","details":{"name":{"valid":false,"rule":"required","message":"This field is required"}}}`)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, nil).Submit(context.Background(), "signup", map[string]any{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Submit() error = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusUnprocessableEntity || apiErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
	if got := apiErr.Details["name"]; got.Rule != engine.RuleRequired {
		t.Fatalf("details = %+v", apiErr.Details)
	}
}

func TestClientUploadSendsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/public/forms/signup/uploads" || r.URL.Query().Get("fieldId") != "cv" {
			http.NotFound(w, r)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"file": form.FileRef{Key: "k/" + header.Filename, Name: header.Filename, Size: int64(len(data))}})
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "cv.pdf")
	if err := os.WriteFile(path, []byte("%PDF"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	ref, err := NewClient(srv.URL, nil).Uploader("signup").Upload(context.Background(), form.Field{ID: "cv"}, path)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if ref.Key != "k/cv.pdf" || ref.Size != 4 {
		t.Fatalf("unexpected ref %+v", ref)
	}
}

func TestClientNonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, nil).Fetch(context.Background(), "x")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "HTTP_ERROR" || apiErr.Message != "bad gateway" {
		t.Fatalf("Fetch() error = %#v", err)
	}
}
