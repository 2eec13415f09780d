package tui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"formdeck/api/internal/engine"
	"formdeck/api/internal/form"
)

// PublicForm is a published form as served to respondents.
type PublicForm struct {
	Form struct {
		ID             string `json:"id"`
		Title          string `json:"title"`
		Description    string `json:"description"`
		Slug           string `json:"slug"`
		SuccessMessage string `json:"successMessage"`
	} `json:"form"`
	Fields []form.Field `json:"fields"`
}

type Receipt struct {
	ResponseID string `json:"responseId"`
	Message    string `json:"message"`
}

// APIError is an error body returned by the API. Details carries per-field
// results for VALIDATION_ERROR.
type APIError struct {
	Status  int
	Code    string                   `json:"code"`
	Message string                   `json:"error"`
	Details map[string]engine.Result `json:"details"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// Client talks to the public form endpoints.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *Client) formURL(slug string, rest ...string) string {
	parts := append([]string{c.baseURL, "api", "public", "forms", url.PathEscape(slug)}, rest...)
	return strings.Join(parts, "/")
}

func (c *Client) Fetch(ctx context.Context, slug string) (PublicForm, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.formURL(slug), nil)
	if err != nil {
		return PublicForm{}, fmt.Errorf("build fetch request: %w", err)
	}
	var out PublicForm
	if err := c.do(req, http.StatusOK, &out); err != nil {
		return PublicForm{}, err
	}
	return out, nil
}

func (c *Client) Submit(ctx context.Context, slug string, values map[string]any) (Receipt, error) {
	body, err := json.Marshal(map[string]any{"values": values})
	if err != nil {
		return Receipt{}, fmt.Errorf("encode submission: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.formURL(slug, "responses"), bytes.NewReader(body))
	if err != nil {
		return Receipt{}, fmt.Errorf("build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	var out Receipt
	if err := c.do(req, http.StatusCreated, &out); err != nil {
		return Receipt{}, err
	}
	return out, nil
}

// Uploader returns an Uploader that sends files to the form identified by slug.
func (c *Client) Uploader(slug string) Uploader {
	return formUploader{client: c, slug: slug}
}

type formUploader struct {
	client *Client
	slug   string
}

func (u formUploader) Upload(ctx context.Context, field form.Field, path string) (form.FileRef, error) {
	return u.client.Upload(ctx, u.slug, field.ID, path)
}

func (c *Client) Upload(ctx context.Context, slug, fieldID, path string) (form.FileRef, error) {
	file, err := os.Open(path)
	if err != nil {
		return form.FileRef{}, fmt.Errorf("open upload: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return form.FileRef{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return form.FileRef{}, fmt.Errorf("copy upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return form.FileRef{}, fmt.Errorf("close multipart: %w", err)
	}

	target := c.formURL(slug, "uploads") + "?fieldId=" + url.QueryEscape(fieldID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, &body)
	if err != nil {
		return form.FileRef{}, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var out struct {
		File form.FileRef `json:"file"`
	}
	if err := c.do(req, http.StatusCreated, &out); err != nil {
		return form.FileRef{}, err
	}
	return out.File, nil
}

func (c *Client) do(req *http.Request, want int, target any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		apiErr := &APIError{Status: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = "HTTP_ERROR"
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
