package store

import (
	"encoding/json"
	"time"

	"formdeck/api/internal/form"
)

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	DeactivatedAt         *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

const (
	FormDraft     = "draft"
	FormPublished = "published"
	FormClosed    = "closed"
)

type Form struct {
	ID             string
	OwnerID        string
	Title          string
	Description    string
	Slug           string
	Status         string
	Version        int
	NotifyEmail    string
	SuccessMessage string
	PublishedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// FormSummary is a form row with its response count, used by listings.
type FormSummary struct {
	Form
	FieldCount    int
	ResponseCount int
}

// ResponseValue is one typed answer row. Value always holds the text form.
type ResponseValue struct {
	FieldID      string
	Value        *string
	NumericValue *float64
	BooleanValue *bool
}

type Response struct {
	ID          string
	FormID      string
	FormVersion int
	UserAgent   string
	SubmittedAt time.Time
	Values      map[string]ResponseValue
}

// Submission is everything written by one public submit.
type Submission struct {
	ResponseID  string
	FormID      string
	FormVersion int
	UserAgent   string
	Fields      []form.Field
	Values      map[string]any
}

type ResponseFilter struct {
	FormID string
	Since  *time.Time
	Until  *time.Time
	Limit  int
	Offset int
}

type Upload struct {
	ID          string
	FormID      string
	FieldID     string
	ObjectKey   string
	FileName    string
	ContentType string
	SizeBytes   int64
	CreatedAt   time.Time
}

type Dashboard struct {
	ID          string
	OwnerID     string
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const (
	ChartTable  = "table"
	ChartBar    = "bar"
	ChartLine   = "line"
	ChartPie    = "pie"
	ChartMetric = "metric"
)

type Widget struct {
	ID          string          `json:"id"`
	DashboardID string          `json:"dashboardId"`
	Title       string          `json:"title"`
	ChartType   string          `json:"chartType"`
	Config      json.RawMessage `json:"config"`
	Position    int             `json:"position"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

func (w Widget) OrderKey() string { return w.ID }

func (w Widget) WithPosition(position int) Widget {
	w.Position = position
	return w
}

// BreakdownRow is one row of form_field_breakdown.
type BreakdownRow struct {
	Label string `json:"label"`
	Total int64  `json:"total"`
}

// SeriesPoint is one row of form_response_timeseries.
type SeriesPoint struct {
	Bucket time.Time `json:"bucket"`
	Value  float64   `json:"value"`
}

type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
}
