// Package export renders a materialized response dataset as CSV, XLSX, PDF
// or DOCX.
package export

import (
	"errors"
	"time"

	"formdeck/api/internal/form"
)

// Format represents the export output format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// Dataset is the table being exported: one column per field, one row per
// response.
type Dataset struct {
	Title  string
	Fields []form.Field
	Rows   []Row
}

// Row is one response. Values holds runtime-shaped answers keyed by field id.
type Row struct {
	ResponseID  string
	SubmittedAt time.Time
	Values      map[string]any
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates no Chrome is available for PDF export.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates pandoc is unavailable for DOCX export.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
