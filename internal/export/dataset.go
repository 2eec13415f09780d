package export

import (
	"strings"

	"formdeck/api/internal/form"
	"formdeck/api/internal/store"
)

const submittedAtLayout = "2006-01-02 15:04:05"

// NewDataset materializes stored responses against the current field list.
// Password and captcha fields never leave the database.
func NewDataset(title string, fields []form.Field, responses []store.Response) Dataset {
	columns := make([]form.Field, 0, len(fields))
	for _, field := range fields {
		if field.Type == form.TypePassword || field.Type == form.TypeCaptcha {
			continue
		}
		columns = append(columns, field)
	}

	rows := make([]Row, 0, len(responses))
	for _, response := range responses {
		row := Row{ResponseID: response.ID, SubmittedAt: response.SubmittedAt, Values: make(map[string]any)}
		for _, field := range columns {
			if stored, ok := response.Values[field.ID]; ok {
				row.Values[field.ID] = stored.Decode(field)
			}
		}
		rows = append(rows, row)
	}
	return Dataset{Title: title, Fields: columns, Rows: rows}
}

// Header returns the column titles.
func (d Dataset) Header() []string {
	out := make([]string, 0, len(d.Fields)+1)
	out = append(out, "Submitted at")
	for _, field := range d.Fields {
		out = append(out, field.DisplayName())
	}
	return out
}

// Table returns every row as display strings, in Header order.
func (d Dataset) Table() [][]string {
	out := make([][]string, 0, len(d.Rows))
	for _, row := range d.Rows {
		cells := make([]string, 0, len(d.Fields)+1)
		cells = append(cells, row.SubmittedAt.UTC().Format(submittedAtLayout))
		for _, field := range d.Fields {
			cells = append(cells, FormatValue(field, row.Values[field.ID]))
		}
		out = append(out, cells)
	}
	return out
}

// FormatValue renders one answer for a human reader.
func FormatValue(field form.Field, value any) string {
	switch {
	case field.Type.IsBoolean():
		if value == nil {
			return ""
		}
		if form.Bool(value) {
			return "Yes"
		}
		return "No"
	case form.IsEmpty(value):
		return ""
	case field.Type.IsMulti():
		selected := form.Strings(value)
		labels := make([]string, len(selected))
		for i, item := range selected {
			labels[i] = field.Options.LabelFor(item)
		}
		return strings.Join(labels, "; ")
	case field.Type.IsChoice():
		return field.Options.LabelFor(form.Text(value))
	case field.Type == form.TypeFile:
		files := form.Files(value)
		names := make([]string, len(files))
		for i, file := range files {
			names[i] = file.Name
		}
		return strings.Join(names, "; ")
	case field.Type == form.TypeRichText:
		return form.PlainText(form.Text(value))
	case field.Type == form.TypeSignature:
		return "Signed"
	}
	return form.Text(value)
}
