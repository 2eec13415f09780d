package export

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

type renderer struct {
	mimeType  string
	extension string
	render    func(ctx context.Context, dataset Dataset) ([]byte, error)
}

// Service renders datasets in every registered format.
type Service struct {
	chromeURL string
	now       func() time.Time
	formats   map[Format]renderer
}

// NewService creates an export service. chromeURL points PDF rendering at a
// remote Chrome DevTools endpoint; empty launches a local chromium.
func NewService(chromeURL string) *Service {
	s := &Service{chromeURL: chromeURL, now: time.Now}
	s.formats = map[Format]renderer{
		FormatCSV: {
			mimeType:  "text/csv; charset=utf-8",
			extension: "csv",
			render: func(_ context.Context, dataset Dataset) ([]byte, error) {
				return renderCSV(dataset)
			},
		},
		FormatXLSX: {
			mimeType:  "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			extension: "xlsx",
			render: func(_ context.Context, dataset Dataset) ([]byte, error) {
				return renderXLSX(dataset)
			},
		},
		FormatPDF: {
			mimeType:  "application/pdf",
			extension: "pdf",
			render: func(ctx context.Context, dataset Dataset) ([]byte, error) {
				html, err := RenderTableHTML(dataset, s.now())
				if err != nil {
					return nil, fmt.Errorf("render template: %w", err)
				}
				return renderPDF(ctx, html, s.chromeURL)
			},
		},
		FormatDOCX: {
			mimeType:  "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			extension: "docx",
			render: func(ctx context.Context, dataset Dataset) ([]byte, error) {
				html, err := RenderTableHTML(dataset, s.now())
				if err != nil {
					return nil, fmt.Errorf("render template: %w", err)
				}
				return renderDOCX(ctx, html)
			},
		},
	}
	return s
}

// ParseFormat resolves a format name case-insensitively.
func (s *Service) ParseFormat(raw string) (Format, error) {
	format := Format(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := s.formats[format]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, raw)
	}
	return format, nil
}

// Formats lists the registered format names.
func (s *Service) Formats() []Format {
	out := make([]Format, 0, len(s.formats))
	for format := range s.formats {
		out = append(out, format)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Render generates an export of dataset in the requested format.
func (s *Service) Render(ctx context.Context, format Format, dataset Dataset) (*Result, error) {
	r, ok := s.formats[format]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	data, err := r.render(ctx, dataset)
	if err != nil {
		return nil, err
	}
	return &Result{
		Data:     data,
		Filename: sanitizeFilename(dataset.Title) + "-responses." + r.extension,
		MimeType: r.mimeType,
	}, nil
}
