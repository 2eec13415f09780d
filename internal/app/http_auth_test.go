package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"formdeck/api/internal/store"
)

func postJSON(t *testing.T, server *HTTPServer, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return payload
}

func TestSignUpReturnsDevTokenWithoutSMTP(t *testing.T) {
	var created store.User
	fs := &fakeStore{
		createUserFn: func(_ context.Context, user store.User) error {
			created = user
			return nil
		},
	}
	server := NewHTTPServer(newTestService(fs), "*")

	rr := postJSON(t, server, "/api/auth/signup", "", `{"email":"Ada@Example.com","password":"long enough","displayName":"Ada"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["devVerificationToken"] == "" || payload["devVerificationToken"] == nil {
		t.Fatalf("expected dev verification token, got %v", payload)
	}
	if created.Email != "ada@example.com" {
		t.Fatalf("expected normalized email, got %q", created.Email)
	}
}

func TestSignUpErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		existing bool
		status   int
		code     string
	}{
		{name: "missing name", body: `{"email":"a@b.co","password":"long enough"}`, status: http.StatusBadRequest, code: "SIGNUP_FAILED"},
		{name: "short password", body: `{"email":"a@b.co","password":"short","displayName":"A"}`, status: http.StatusBadRequest, code: "SIGNUP_FAILED"},
		{name: "bad email", body: `{"email":"not-an-email","password":"long enough","displayName":"A"}`, status: http.StatusBadRequest, code: "SIGNUP_FAILED"},
		{name: "taken", body: `{"email":"a@b.co","password":"long enough","displayName":"A"}`, existing: true, status: http.StatusConflict, code: "EMAIL_EXISTS"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fs := &fakeStore{}
			if tc.existing {
				fs.getUserByEmailFn = func(_ context.Context, email string) (store.User, error) {
					return store.User{ID: "usr-1", Email: email}, nil
				}
			}
			server := NewHTTPServer(newTestService(fs), "*")

			rr := postJSON(t, server, "/api/auth/signup", "", tc.body)
			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d body=%s", tc.status, rr.Code, rr.Body.String())
			}
			if code := decodeResponse(t, rr)["code"]; code != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, code)
			}
		})
	}
}

func TestSignInIssuesUsableToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("long enough"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := store.User{ID: "usr-1", DisplayName: "Ada", Email: "ada@example.com", PasswordHash: string(hash), Role: "editor", IsEmailVerified: true}
	var savedFor string
	fs := &fakeStore{
		getUserByEmailFn: func(context.Context, string) (store.User, error) { return user, nil },
		getUserByIDFn:    func(context.Context, string) (store.User, error) { return user, nil },
		saveRefreshFn: func(_ context.Context, _ string, userID string, _ time.Time) error {
			savedFor = userID
			return nil
		},
	}
	server := NewHTTPServer(newTestService(fs), "*")

	rr := postJSON(t, server, "/api/auth/signin", "", `{"email":"ADA@example.com","password":"long enough"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if savedFor != "usr-1" {
		t.Fatalf("expected refresh session for usr-1, got %q", savedFor)
	}
	token, _ := payload["accessToken"].(string)

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	session := httptest.NewRecorder()
	server.Handler().ServeHTTP(session, req)
	if got := decodeResponse(t, session); got["authenticated"] != true || got["role"] != "editor" {
		t.Fatalf("expected authenticated editor session, got %v", got)
	}
}

func TestSignInRejections(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("long enough"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	tests := []struct {
		name     string
		password string
		verified bool
		status   int
		code     string
	}{
		{name: "wrong password", password: "wrong password", verified: true, status: http.StatusUnauthorized, code: "INVALID_CREDENTIALS"},
		{name: "unverified", password: "long enough", status: http.StatusForbidden, code: "EMAIL_NOT_VERIFIED"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fs := &fakeStore{
				getUserByEmailFn: func(context.Context, string) (store.User, error) {
					return store.User{ID: "usr-1", PasswordHash: string(hash), IsEmailVerified: tc.verified}, nil
				},
			}
			server := NewHTTPServer(newTestService(fs), "*")

			rr := postJSON(t, server, "/api/auth/signin", "", `{"email":"ada@example.com","password":"`+tc.password+`"}`)
			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d body=%s", tc.status, rr.Code, rr.Body.String())
			}
			if code := decodeResponse(t, rr)["code"]; code != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, code)
			}
		})
	}
}

func getWithToken(t *testing.T, server *HTTPServer, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}
