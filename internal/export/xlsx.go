package export

import (
	"fmt"
	"math"

	"github.com/xuri/excelize/v2"

	"formdeck/api/internal/form"
)

const sheetName = "Responses"

// renderXLSX writes one sheet with a bold, frozen header row. Numeric
// answers are stored as numbers so spreadsheets can aggregate them.
func renderXLSX(dataset Dataset) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("name sheet: %w", err)
	}

	header := dataset.Header()
	headerRow := make([]interface{}, len(header))
	for i, title := range header {
		headerRow[i] = title
	}
	if err := f.SetSheetRow(sheetName, "A1", &headerRow); err != nil {
		return nil, fmt.Errorf("write xlsx header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}
	if err := f.SetRowStyle(sheetName, 1, 1, bold); err != nil {
		return nil, fmt.Errorf("style xlsx header: %w", err)
	}
	if err := f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return nil, fmt.Errorf("freeze xlsx header: %w", err)
	}

	table := dataset.Table()
	for i, row := range dataset.Rows {
		cells := make([]interface{}, 0, len(header))
		cells = append(cells, row.SubmittedAt.UTC())
		for j, field := range dataset.Fields {
			cells = append(cells, xlsxCell(field, row.Values[field.ID], table[i][j+1]))
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheetName, cell, &cells); err != nil {
			return nil, fmt.Errorf("write xlsx row %d: %w", i+1, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

func xlsxCell(field form.Field, value any, display string) interface{} {
	if field.Type.IsNumeric() && !form.IsEmpty(value) {
		if n := form.Number(value); !math.IsNaN(n) {
			return n
		}
	}
	return display
}
