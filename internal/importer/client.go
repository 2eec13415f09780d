// Package importer turns an uploaded document into draft form fields by
// streaming it through an extraction service that answers with server-sent
// events.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"formdeck/api/internal/form"
)

var (
	ErrNotConfigured = errors.New("document import is not configured")
	// ErrIncompleteStream is returned when the stream closes before a
	// success or error event.
	ErrIncompleteStream = errors.New("import stream ended without a result")
)

// ImportError carries the message of an error event.
type ImportError struct {
	Message string
}

func (e *ImportError) Error() string {
	return "import failed: " + e.Message
}

// Client posts documents to the extraction endpoint.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

func NewClient(endpoint, apiKey string, timeout time.Duration) *Client {
	return &Client{
		endpoint: strings.TrimSpace(endpoint),
		apiKey:   apiKey,
		http:     &http.Client{Timeout: timeout},
	}
}

func (c *Client) IsConfigured() bool {
	return c != nil && c.endpoint != ""
}

type successPayload struct {
	Fields []form.Imported `json:"fields"`
}

type messagePayload struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Status  string `json:"status"`
}

// Import uploads the document and blocks until the service reports a
// result. Progress messages are passed to onStatus, which may be nil. The
// returned records are untrusted and still need form.NormalizeImported.
func (c *Client) Import(ctx context.Context, filename string, document io.Reader, onStatus func(string)) ([]form.Imported, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	body, contentType := multipartBody(filename, document)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build import request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send import request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("import service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var payload successPayload
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, fmt.Errorf("decode import result: %w", err)
		}
		return payload.Fields, nil
	}

	var (
		fields []form.Imported
		done   bool
	)
	err = readEvents(resp.Body, func(ev event) error {
		switch ev.name {
		case "status":
			if onStatus != nil {
				onStatus(eventMessage(ev.data))
			}
		case "ping", "":
		case "error":
			return &ImportError{Message: eventMessage(ev.data)}
		case "success":
			var payload successPayload
			if err := json.Unmarshal([]byte(ev.data), &payload); err != nil {
				return fmt.Errorf("decode import result: %w", err)
			}
			fields, done = payload.Fields, true
			return errStop
		default:
			log.Printf("importer: ignoring event %q", ev.name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !done {
		return nil, ErrIncompleteStream
	}
	return fields, nil
}

// multipartBody streams the document as the "file" part.
func multipartBody(filename string, document io.Reader) (io.Reader, string) {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		part, err := writer.CreateFormFile("file", filename)
		if err == nil {
			_, err = io.Copy(part, document)
		}
		if err == nil {
			err = writer.Close()
		}
		pw.CloseWithError(err)
	}()
	return pr, writer.FormDataContentType()
}

// eventMessage pulls a human message out of a status or error payload,
// which may be JSON or plain text.
func eventMessage(data string) string {
	var payload messagePayload
	if err := json.Unmarshal([]byte(data), &payload); err == nil {
		for _, candidate := range []string{payload.Message, payload.Error, payload.Status} {
			if strings.TrimSpace(candidate) != "" {
				return strings.TrimSpace(candidate)
			}
		}
	}
	return strings.TrimSpace(data)
}
