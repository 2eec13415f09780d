package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"formdeck/api/internal/engine"
	"formdeck/api/internal/form"
	"formdeck/api/internal/storage"
	"formdeck/api/internal/store"
)

func publicFixture(status string) *fakeStore {
	return &fakeStore{
		getFormBySlugFn: func(_ context.Context, slug string) (store.Form, error) {
			if slug != "rsvp" {
				return store.Form{}, errNotFoundForTest
			}
			return store.Form{ID: "frm-1", Title: "RSVP", Slug: slug, Status: status, Version: 4, NotifyEmail: "host@example.com"}, nil
		},
		listFieldsFn: func(context.Context, string) ([]form.Field, error) {
			return []form.Field{
				{ID: "name", Type: form.TypeText, Label: "Name", Required: true},
				{ID: "human", Type: form.TypeCaptcha, Label: "Human check", Position: 1},
				{ID: "resume", Type: form.TypeFile, Label: "Resume", Position: 2,
					Validation: form.Rules{AllowedExtensions: []string{"pdf"}, MaxFileSize: 1024}},
			}, nil
		},
	}
}

var errNotFoundForTest = notFound("Form not found")

func multipartFile(t *testing.T, field, name string, content []byte) (io.Reader, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile(field, name)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &body, writer.FormDataContentType()
}

func TestPublicFormVisibilityByStatus(t *testing.T) {
	tests := []struct {
		status string
		want   int
	}{
		{status: store.FormPublished, want: http.StatusOK},
		{status: store.FormDraft, want: http.StatusNotFound},
		{status: store.FormClosed, want: http.StatusGone},
	}

	for _, tc := range tests {
		t.Run(tc.status, func(t *testing.T) {
			server := NewHTTPServer(newTestService(publicFixture(tc.status)), "*")
			req := httptest.NewRequest(http.MethodGet, "/api/public/forms/rsvp", nil)
			rr := httptest.NewRecorder()
			server.Handler().ServeHTTP(rr, req)

			if rr.Code != tc.want {
				t.Fatalf("expected status %d, got %d body=%s", tc.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestPublicSubmitValidationDetails(t *testing.T) {
	server := NewHTTPServer(newTestService(publicFixture(store.FormPublished)), "*")

	rr := postJSON(t, server, "/api/public/forms/rsvp/responses", "", `{"values":{"name":""}}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %v", payload["code"])
	}
	details, _ := payload["details"].(map[string]any)
	name, _ := details["name"].(map[string]any)
	if name["rule"] != engine.RuleRequired {
		t.Fatalf("expected required failure on name, got %v", details)
	}
}

func TestPublicSubmitStoresAndNotifies(t *testing.T) {
	var stored store.Submission
	fs := publicFixture(store.FormPublished)
	fs.insertSubmitFn = func(_ context.Context, sub store.Submission) (store.Response, error) {
		stored = sub
		return store.Response{ID: sub.ResponseID, FormID: sub.FormID}, nil
	}
	svc := newTestService(fs)
	mail := &fakeMailer{configured: true}
	svc.mail = mail
	server := NewHTTPServer(svc, "*")

	rr := postJSON(t, server, "/api/public/forms/rsvp/responses", "", `{"values":{"name":"Ada","human":"token-123"}}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["responseId"] != stored.ResponseID || payload["message"] != defaultSuccessMessage {
		t.Fatalf("unexpected payload %v", payload)
	}
	if stored.FormVersion != 4 {
		t.Fatalf("expected form version 4, got %d", stored.FormVersion)
	}
	if _, ok := stored.Values["human"]; ok {
		t.Fatalf("expected captcha answer to be dropped, got %v", stored.Values)
	}
	if len(mail.notifications) != 1 || mail.notifications[0].FormTitle != "RSVP" {
		t.Fatalf("expected one notification, got %+v", mail.notifications)
	}
	if indexed := svc.search.(*fakeSearch).responses; len(indexed) != 1 || indexed[0].Answers != "Name: Ada" {
		t.Fatalf("unexpected indexed responses %+v", indexed)
	}
}

func TestPublicSubmitStoreFailureHasNoSideEffects(t *testing.T) {
	fs := publicFixture(store.FormPublished)
	fs.insertSubmitFn = func(context.Context, store.Submission) (store.Response, error) {
		return store.Response{}, errors.New("connection reset")
	}
	svc := newTestService(fs)
	mail := &fakeMailer{configured: true}
	svc.mail = mail
	server := NewHTTPServer(svc, "*")

	rr := postJSON(t, server, "/api/public/forms/rsvp/responses", "", `{"values":{"name":"Ada","human":"token-123"}}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["code"] != "SERVER_ERROR" {
		t.Fatalf("expected SERVER_ERROR, got %v", payload)
	}
	if _, ok := payload["details"]; ok {
		t.Fatalf("expected a single top-level error, got details %v", payload["details"])
	}
	if len(mail.notifications) != 0 {
		t.Fatalf("expected no notification, got %+v", mail.notifications)
	}
	if indexed := svc.search.(*fakeSearch).responses; len(indexed) != 0 {
		t.Fatalf("expected nothing indexed, got %+v", indexed)
	}
}

func TestPublicSubmitRateLimited(t *testing.T) {
	svc := newTestService(publicFixture(store.FormPublished))
	svc.limiter = fakeLimiter{allow: false}
	server := NewHTTPServer(svc, "*")

	rr := postJSON(t, server, "/api/public/forms/rsvp/responses", "", `{"values":{"name":"Ada"}}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rr.Code)
	}
}

func TestPublicSubmitProceedsWhenLimiterFails(t *testing.T) {
	svc := newTestService(publicFixture(store.FormPublished))
	svc.limiter = fakeLimiter{err: errors.New("redis down")}
	server := NewHTTPServer(svc, "*")

	rr := postJSON(t, server, "/api/public/forms/rsvp/responses", "", `{"values":{"name":"Ada"}}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestPublicSubmitRejectsForeignUpload(t *testing.T) {
	fs := publicFixture(store.FormPublished)
	fs.getUploadByKeyFn = func(_ context.Context, key string) (store.Upload, error) {
		return store.Upload{ObjectKey: key, FormID: "frm-other", FieldID: "resume"}, nil
	}
	server := NewHTTPServer(newTestService(fs), "*")

	rr := postJSON(t, server, "/api/public/forms/rsvp/responses", "",
		`{"values":{"name":"Ada","resume":{"key":"frm-other/resume/cv.pdf","name":"cv.pdf","size":10}}}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d body=%s", rr.Code, rr.Body.String())
	}
	details, _ := decodeResponse(t, rr)["details"].(map[string]any)
	if _, ok := details["resume"]; !ok {
		t.Fatalf("expected resume failure, got %v", details)
	}
}

func TestPublicUpload(t *testing.T) {
	t.Run("rejected", func(t *testing.T) {
		svc := newTestService(publicFixture(store.FormPublished))
		svc.files = &fakeFiles{putFn: func(context.Context, storage.Upload) (form.FileRef, error) {
			return form.FileRef{}, &storage.RejectedError{Result: engine.Result{Rule: engine.RuleFileType, Message: "File type not allowed"}}
		}}
		server := NewHTTPServer(svc, "*")

		body, contentType := multipartFile(t, "file", "cv.exe", []byte("MZ"))
		req := httptest.NewRequest(http.MethodPost, "/api/public/forms/rsvp/uploads?fieldId=resume", body)
		req.Header.Set("Content-Type", contentType)
		rr := httptest.NewRecorder()
		server.Handler().ServeHTTP(rr, req)

		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected status 422, got %d body=%s", rr.Code, rr.Body.String())
		}
		details, _ := decodeResponse(t, rr)["details"].(map[string]any)
		resume, _ := details["resume"].(map[string]any)
		if resume["rule"] != engine.RuleFileType {
			t.Fatalf("expected file type failure, got %v", details)
		}
	})

	t.Run("stored", func(t *testing.T) {
		var recorded store.Upload
		var put storage.Upload
		fs := publicFixture(store.FormPublished)
		fs.insertUploadFn = func(_ context.Context, item store.Upload) (store.Upload, error) {
			recorded = item
			return item, nil
		}
		svc := newTestService(fs)
		svc.files = &fakeFiles{putFn: func(_ context.Context, upload storage.Upload) (form.FileRef, error) {
			put = upload
			return form.FileRef{Key: "frm-1/resume/abc-cv.pdf", Name: upload.FileName, Size: upload.Size}, nil
		}}
		server := NewHTTPServer(svc, "*")

		body, contentType := multipartFile(t, "file", "cv.pdf", []byte("%PDF-1.4"))
		req := httptest.NewRequest(http.MethodPost, "/api/public/forms/rsvp/uploads?fieldId=resume", body)
		req.Header.Set("Content-Type", contentType)
		rr := httptest.NewRecorder()
		server.Handler().ServeHTTP(rr, req)

		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
		}
		if put.FormID != "frm-1" || put.Field.ID != "resume" || put.Size != 8 {
			t.Fatalf("unexpected upload %+v", put)
		}
		if recorded.ObjectKey != "frm-1/resume/abc-cv.pdf" || recorded.FieldID != "resume" {
			t.Fatalf("unexpected upload record %+v", recorded)
		}
	})

	t.Run("unconfigured", func(t *testing.T) {
		server := NewHTTPServer(newTestService(publicFixture(store.FormPublished)), "*")

		body, contentType := multipartFile(t, "file", "cv.pdf", []byte("%PDF-1.4"))
		req := httptest.NewRequest(http.MethodPost, "/api/public/forms/rsvp/uploads?fieldId=resume", body)
		req.Header.Set("Content-Type", contentType)
		rr := httptest.NewRecorder()
		server.Handler().ServeHTTP(rr, req)

		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected status 503, got %d", rr.Code)
		}
	})
}

func TestClientKeyPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	if got := clientKey(req); got != "10.0.0.1" {
		t.Fatalf("expected remote host, got %q", got)
	}
	req.Header.Set("X-Forwarded-For", " 203.0.113.9, 10.0.0.1")
	if got := clientKey(req); got != "203.0.113.9" {
		t.Fatalf("expected first forwarded address, got %q", got)
	}
}
