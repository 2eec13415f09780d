package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultForm     ResultType = "form"
	ResultResponse ResultType = "response"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type    ResultType `json:"type"`
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	FormID  string     `json:"formId"`
	Status  string     `json:"status,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text         string
	FilterType   ResultType // empty = all types
	FilterFormID string
	Limit        int
	Offset       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexForm(f FormRecord) error
	IndexResponse(r ResponseRecord) error
	DeleteForm(id string) error
	DeleteResponse(id string) error
	IndexForms(forms []FormRecord) error
	IndexResponses(responses []ResponseRecord) error
}

// Backend is a search engine that can both query and index.
type Backend interface {
	Searcher
	Indexer
}

// FormRecord is the data we index for a form.
type FormRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Slug        string `json:"slug"`
	Status      string `json:"status"`
}

// ResponseRecord is the data we index for a response. Answers holds the
// display text of every answered field, joined with newlines.
type ResponseRecord struct {
	ID          string `json:"id"`
	FormID      string `json:"formId"`
	FormTitle   string `json:"formTitle"`
	Answers     string `json:"answers"`
	SubmittedAt int64  `json:"submittedAt"`
}
