package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var responsesTemplate = template.Must(template.New("responses.html").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).ParseFS(templateFS, "templates/responses.html"))

// TemplateData holds data for the printable response table.
type TemplateData struct {
	Title       string
	Header      []string
	Rows        [][]string
	Count       int
	GeneratedAt time.Time
}

// RenderTableHTML renders the dataset as a standalone HTML page. The header
// row repeats on every printed page.
func RenderTableHTML(dataset Dataset, generatedAt time.Time) (string, error) {
	data := TemplateData{
		Title:       dataset.Title,
		Header:      dataset.Header(),
		Rows:        dataset.Table(),
		Count:       len(dataset.Rows),
		GeneratedAt: generatedAt,
	}
	var buf bytes.Buffer
	if err := responsesTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
