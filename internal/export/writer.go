package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/gxplab/reportengine/internal/domain"
)

// column maps one output column to its source within a shaped row.
type column struct {
	header string
	value  func(domain.Row) any
}

// buildColumns lays out dimensions, measures, then segments with their
// resolved display names, mirroring the order the report was defined in.
func buildColumns(meta domain.ReportMetadata) []column {
	columns := make([]column, 0, len(meta.Dimensions)+len(meta.Measures)+2*len(meta.Segments))
	for _, dim := range meta.Dimensions {
		field := dim.Field
		header := dim.DisplayName
		if header == "" {
			header = field
		}
		columns = append(columns, column{header: header, value: func(row domain.Row) any {
			return row.Dimensions[field]
		}})
	}
	for _, measure := range meta.Measures {
		name := measure.Name
		columns = append(columns, column{header: name, value: func(row domain.Row) any {
			return row.Measures[name]
		}})
	}
	for _, segment := range meta.Segments {
		field := segment
		columns = append(columns, column{header: field, value: func(row domain.Row) any {
			return row.Segments["segment_"+field]
		}})
		nameKey := field + "_name"
		columns = append(columns, column{header: nameKey, value: func(row domain.Row) any {
			return row.SegmentMetadata[nameKey]
		}})
	}
	return columns
}

// sanitizeCell neutralizes spreadsheet formula injection. Values starting
// with a formula trigger character are prefixed with a single quote so
// Excel and friends treat them as text.
func sanitizeCell(value string) string {
	if value == "" {
		return value
	}
	switch value[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + value
	}
	return value
}

func writeCSV(w io.Writer, columns []column, rows []domain.Row) (int64, error) {
	counter := &countingWriter{writer: w}
	csvWriter := csv.NewWriter(counter)

	headers := make([]string, len(columns))
	for i, col := range columns {
		headers[i] = sanitizeCell(col.header)
	}
	if err := csvWriter.Write(headers); err != nil {
		return counter.count, fmt.Errorf("failed to write header: %w", err)
	}

	record := make([]string, len(columns))
	for _, row := range rows {
		for i, col := range columns {
			record[i] = sanitizeCell(formatValue(col.value(row)))
		}
		if err := csvWriter.Write(record); err != nil {
			return counter.count, fmt.Errorf("failed to write row: %w", err)
		}
	}
	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return counter.count, fmt.Errorf("failed to flush rows: %w", err)
	}
	return counter.count, nil
}

func writeXLSX(w io.Writer, columns []column, rows []domain.Row) (int64, error) {
	const sheet = "Report"
	file := excelize.NewFile()
	defer file.Close()

	index, err := file.NewSheet(sheet)
	if err != nil {
		return 0, fmt.Errorf("failed to create sheet: %w", err)
	}
	file.SetActiveSheet(index)
	if err := file.DeleteSheet("Sheet1"); err != nil {
		return 0, fmt.Errorf("failed to drop default sheet: %w", err)
	}

	headers := make([]any, len(columns))
	for i, col := range columns {
		headers[i] = sanitizeCell(col.header)
	}
	if err := setSheetRow(file, sheet, 1, headers); err != nil {
		return 0, err
	}
	record := make([]any, len(columns))
	for rowIdx, row := range rows {
		for i, col := range columns {
			record[i] = sanitizeCell(formatValue(col.value(row)))
		}
		if err := setSheetRow(file, sheet, rowIdx+2, record); err != nil {
			return 0, err
		}
	}

	counter := &countingWriter{writer: w}
	if err := file.Write(counter); err != nil {
		return counter.count, fmt.Errorf("failed to write workbook: %w", err)
	}
	return counter.count, nil
}

func setSheetRow(file *excelize.File, sheet string, rowNum int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return fmt.Errorf("failed to resolve cell for row %d: %w", rowNum, err)
	}
	if err := file.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write sheet row %d: %w", rowNum, err)
	}
	return nil
}

type countingWriter struct {
	writer io.Writer
	count  int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.writer.Write(p)
	c.count += int64(n)
	return n, err
}

func formatValue(value any) string {
	if value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case *time.Time:
		if v == nil {
			return ""
		}
		return v.UTC().Format(time.RFC3339)
	case bool:
		if v {
			return "true"
		}
		return "false"
	case json.Number:
		return v.String()
	case float32, float64, int, int32, int64, uint, uint32, uint64:
		return fmt.Sprintf("%v", v)
	case []byte:
		return string(v)
	case map[string]any, []any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	default:
		return fmt.Sprintf("%v", v)
	}
}
