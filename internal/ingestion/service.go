package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/xuri/excelize/v2"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrUnknownTable is returned when the target table is not an observation table.
	ErrUnknownTable = errors.New("unknown target table")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

	timeLayouts = []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04:05.000",
		"2006/01/02",
		"01/02/2006",
		"02/01/2006",
	}
)

// maxRowErrors caps how many per-row errors a summary carries back to the client.
const maxRowErrors = 20

type columnKind int

const (
	kindUUID columnKind = iota
	kindText
	kindInteger
	kindNumeric
	kindTimestamp
)

func (k columnKind) String() string {
	switch k {
	case kindUUID:
		return "uuid"
	case kindText:
		return "text"
	case kindInteger:
		return "integer"
	case kindNumeric:
		return "numeric"
	case kindTimestamp:
		return "timestamp"
	default:
		return "text"
	}
}

type columnSpec struct {
	name     string
	kind     columnKind
	required bool
}

// tableSpecs mirrors the demo observation schema. Columns with database
// defaults (primary keys, created_at) are optional in uploads.
var tableSpecs = map[string][]columnSpec{
	"pilot_programs": {
		{name: "program_id", kind: kindUUID},
		{name: "name", kind: kindText, required: true},
		{name: "created_at", kind: kindTimestamp},
	},
	"sites": {
		{name: "site_id", kind: kindUUID},
		{name: "program_id", kind: kindUUID},
		{name: "name", kind: kindText, required: true},
		{name: "created_at", kind: kindTimestamp},
	},
	"submissions": {
		{name: "submission_id", kind: kindUUID},
		{name: "global_submission_id", kind: kindInteger, required: true},
		{name: "site_id", kind: kindUUID},
		{name: "program_id", kind: kindUUID},
		{name: "temperature", kind: kindNumeric},
		{name: "humidity", kind: kindNumeric},
		{name: "created_at", kind: kindTimestamp},
	},
	"petri_observations": {
		{name: "observation_id", kind: kindUUID},
		{name: "submission_id", kind: kindUUID},
		{name: "site_id", kind: kindUUID},
		{name: "program_id", kind: kindUUID},
		{name: "petri_code", kind: kindText, required: true},
		{name: "placement", kind: kindText},
		{name: "fungicide_used", kind: kindText},
		{name: "growth_index", kind: kindNumeric},
		{name: "image_url", kind: kindText},
		{name: "created_at", kind: kindTimestamp},
	},
	"gasifier_observations": {
		{name: "observation_id", kind: kindUUID},
		{name: "submission_id", kind: kindUUID},
		{name: "site_id", kind: kindUUID},
		{name: "program_id", kind: kindUUID},
		{name: "gasifier_code", kind: kindText, required: true},
		{name: "chemical_type", kind: kindText},
		{name: "measure", kind: kindNumeric},
		{name: "image_url", kind: kindText},
		{name: "created_at", kind: kindTimestamp},
	},
}

// Tables lists the loadable observation tables in sorted order.
func Tables() []string {
	names := make([]string, 0, len(tableSpecs))
	for name := range tableSpecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CopyClient is the slice of pgxpool.Pool the loader needs.
type CopyClient interface {
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Service loads tabular uploads into the demo observation tables.
type Service struct {
	db CopyClient
}

// NewService creates a new ingestion service.
func NewService(db CopyClient) *Service {
	return &Service{db: db}
}

// Request describes the ingestion input.
type Request struct {
	Table          string
	FileName       string
	HeaderRowIndex *int
	Data           io.Reader
}

// PreviewRequest describes the preview input prior to ingestion.
type PreviewRequest struct {
	Table          string
	FileName       string
	HeaderRowIndex *int
	Data           io.Reader
	Limit          int
}

// RowError reports a rejected row back to the client.
type RowError struct {
	RowNumber int    `json:"rowNumber"`
	Message   string `json:"message"`
}

// Summary returns ingestion level metrics.
type Summary struct {
	Table          string     `json:"table"`
	TotalRows      int        `json:"totalRows"`
	ValidRows      int        `json:"validRows"`
	InvalidRows    int        `json:"invalidRows"`
	SkippedColumns []string   `json:"skippedColumns"`
	Errors         []RowError `json:"errors,omitempty"`
}

// PreviewHeader summarizes column level metadata for previews.
type PreviewHeader struct {
	Name          string `json:"name"`
	OriginalLabel string `json:"originalLabel"`
	Type          string `json:"type,omitempty"`
	Required      bool   `json:"required"`
	Matched       bool   `json:"matched"`
}

// PreviewRow captures sample data and validation feedback.
type PreviewRow struct {
	RowNumber int               `json:"rowNumber"`
	Values    map[string]string `json:"values"`
	Errors    []string          `json:"errors,omitempty"`
}

// HeaderCandidate represents a potential header row option.
type HeaderCandidate struct {
	Index   int      `json:"index"`
	Values  []string `json:"values"`
	Current bool     `json:"current"`
}

// PreviewResult returns preview metadata back to clients.
type PreviewResult struct {
	Table            string            `json:"table"`
	TotalRows        int               `json:"totalRows"`
	InvalidRows      int               `json:"invalidRows"`
	Headers          []PreviewHeader   `json:"headers"`
	Rows             []PreviewRow      `json:"rows"`
	HeaderCandidates []HeaderCandidate `json:"headerCandidates"`
}

type tableData struct {
	headers        []string
	rawHeaders     []string
	rows           [][]string
	headerRowIndex int
}

type matchedColumn struct {
	spec   columnSpec
	colIdx int
}

// Ingest reads the uploaded file, coerces each row against the target
// table's columns, and batch-inserts the valid rows.
func (s *Service) Ingest(ctx context.Context, req Request) (Summary, error) {
	summary := Summary{
		Table:          req.Table,
		SkippedColumns: []string{},
	}

	spec, ok := tableSpecs[req.Table]
	if !ok {
		return summary, fmt.Errorf("%w: %q", ErrUnknownTable, req.Table)
	}
	if req.Data == nil {
		return summary, errors.New("data reader is required")
	}
	if s.db == nil {
		return summary, errors.New("no database connection configured")
	}

	payload, err := io.ReadAll(req.Data)
	if err != nil {
		return summary, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(payload) == 0 {
		return summary, errors.New("file is empty")
	}

	table, _, err := parseTable(req.FileName, payload, req.HeaderRowIndex)
	if err != nil {
		return summary, err
	}
	if len(table.headers) == 0 {
		return summary, errors.New("no header row detected")
	}

	matched, skipped, err := matchColumns(spec, table.headers)
	if err != nil {
		return summary, err
	}
	summary.SkippedColumns = skipped
	summary.TotalRows = len(table.rows)

	columnNames := make([]string, len(matched))
	for i, m := range matched {
		columnNames[i] = m.spec.name
	}

	values := make([][]any, 0, len(table.rows))
	for rowIdx, row := range table.rows {
		rowNumber := table.headerRowIndex + rowIdx + 2 // include header row (1-based)
		record, rowErr := coerceRow(matched, row)
		if rowErr != nil {
			summary.InvalidRows++
			if len(summary.Errors) < maxRowErrors {
				summary.Errors = append(summary.Errors, RowError{
					RowNumber: rowNumber,
					Message:   rowErr.Error(),
				})
			}
			continue
		}
		values = append(values, record)
	}

	if len(values) > 0 {
		copied, err := s.db.CopyFrom(ctx, pgx.Identifier{req.Table}, columnNames, pgx.CopyFromRows(values))
		if err != nil {
			return summary, fmt.Errorf("failed to copy rows into %s: %w", req.Table, err)
		}
		summary.ValidRows = int(copied)
	}

	log.Printf("[ingest] loaded %d/%d rows into %s from %s", summary.ValidRows, summary.TotalRows, req.Table, req.FileName)
	return summary, nil
}

// Preview runs validations against a limited set of rows without persisting anything.
func (s *Service) Preview(_ context.Context, req PreviewRequest) (PreviewResult, error) {
	result := PreviewResult{
		Table:            req.Table,
		Headers:          []PreviewHeader{},
		Rows:             []PreviewRow{},
		HeaderCandidates: []HeaderCandidate{},
	}

	spec, ok := tableSpecs[req.Table]
	if !ok {
		return result, fmt.Errorf("%w: %q", ErrUnknownTable, req.Table)
	}
	if req.Data == nil {
		return result, errors.New("data reader is required")
	}

	payload, err := io.ReadAll(req.Data)
	if err != nil {
		return result, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(payload) == 0 {
		return result, errors.New("file is empty")
	}

	table, records, err := parseTable(req.FileName, payload, req.HeaderRowIndex)
	if err != nil {
		return result, err
	}

	result.HeaderCandidates = buildHeaderCandidates(records, 10, table.headerRowIndex)

	if len(table.headers) == 0 {
		return result, errors.New("no header row detected")
	}

	specByName := make(map[string]columnSpec, len(spec))
	for _, col := range spec {
		specByName[col.name] = col
	}

	for idx, header := range table.headers {
		previewHeader := PreviewHeader{Name: header}
		if idx < len(table.rawHeaders) {
			previewHeader.OriginalLabel = table.rawHeaders[idx]
		}
		if col, ok := specByName[header]; ok {
			previewHeader.Type = col.kind.String()
			previewHeader.Required = col.required
			previewHeader.Matched = true
		}
		result.Headers = append(result.Headers, previewHeader)
	}

	matched, _, err := matchColumns(spec, table.headers)
	if err != nil {
		return result, err
	}

	result.TotalRows = len(table.rows)

	limit := req.Limit
	if limit <= 0 {
		limit = 10
	}

	for rowIdx, row := range table.rows {
		rowNumber := table.headerRowIndex + rowIdx + 2
		_, rowErr := coerceRow(matched, row)
		if rowErr != nil {
			result.InvalidRows++
		}

		if rowIdx < limit {
			rowValues := make(map[string]string, len(table.headers))
			for colIdx, header := range table.headers {
				if colIdx < len(row) {
					rowValues[header] = strings.TrimSpace(row[colIdx])
				} else {
					rowValues[header] = ""
				}
			}
			previewRow := PreviewRow{RowNumber: rowNumber, Values: rowValues}
			if rowErr != nil {
				previewRow.Errors = []string{rowErr.Error()}
			}
			result.Rows = append(result.Rows, previewRow)
		}
	}

	return result, nil
}

func matchColumns(spec []columnSpec, headers []string) ([]matchedColumn, []string, error) {
	headerIdx := make(map[string]int, len(headers))
	for idx, header := range headers {
		if _, seen := headerIdx[header]; !seen {
			headerIdx[header] = idx
		}
	}

	var matched []matchedColumn
	matchedNames := make(map[string]bool, len(spec))
	for _, col := range spec {
		idx, ok := headerIdx[col.name]
		if !ok {
			if col.required {
				return nil, nil, fmt.Errorf("column %s is required", col.name)
			}
			continue
		}
		matched = append(matched, matchedColumn{spec: col, colIdx: idx})
		matchedNames[col.name] = true
	}
	if len(matched) == 0 {
		return nil, nil, errors.New("no columns in the file match the target table")
	}

	skipped := []string{}
	for _, header := range headers {
		if !matchedNames[header] {
			skipped = append(skipped, header)
		}
	}
	return matched, skipped, nil
}

func coerceRow(matched []matchedColumn, row []string) ([]any, error) {
	record := make([]any, len(matched))
	for i, m := range matched {
		var raw string
		if m.colIdx < len(row) {
			raw = strings.TrimSpace(row[m.colIdx])
		}
		if raw == "" {
			if m.spec.required {
				return nil, fmt.Errorf("column %s: value is required", m.spec.name)
			}
			record[i] = nil
			continue
		}
		value, err := coerceValue(m.spec.kind, raw)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", m.spec.name, err)
		}
		record[i] = value
	}
	return record, nil
}

func coerceValue(kind columnKind, raw string) (any, error) {
	switch kind {
	case kindText:
		return raw, nil
	case kindUUID:
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("unable to coerce %q to uuid", raw)
		}
		return id, nil
	case kindInteger:
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return i, nil
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil && math.Mod(f, 1) == 0 {
			return int64(f), nil
		}
		return nil, fmt.Errorf("unable to coerce %q to integer", raw)
	case kindNumeric:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("unable to coerce %q to numeric", raw)
		}
		return f, nil
	case kindTimestamp:
		ts, err := parseTimestamp(raw)
		if err != nil {
			return nil, fmt.Errorf("unable to coerce %q to timestamp: %w", raw, err)
		}
		return ts, nil
	default:
		return raw, nil
	}
}

func parseTable(fileName string, payload []byte, headerRowIndex *int) (tableData, [][]string, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return parseCSV(payload, headerRowIndex)
	case ".xlsx":
		return parseExcel(payload, headerRowIndex)
	default:
		return tableData{}, nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func parseCSV(payload []byte, headerRowIndex *int) (tableData, [][]string, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return tableData{}, nil, fmt.Errorf("failed to read csv: %w", err)
	}

	table, err := normalizeTable(records, headerRowIndex)
	if err != nil {
		return tableData{}, nil, err
	}
	return table, records, nil
}

func parseExcel(payload []byte, headerRowIndex *int) (tableData, [][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return tableData{}, nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return tableData{}, nil, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return tableData{}, nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}

	table, err := normalizeTable(rows, headerRowIndex)
	if err != nil {
		return tableData{}, nil, err
	}
	return table, rows, nil
}

func normalizeTable(records [][]string, headerRowIndex *int) (tableData, error) {
	if len(records) == 0 {
		return tableData{}, errors.New("no rows found in file")
	}

	var headerRow []string
	var dataRows [][]string
	headerIndex := -1

	if headerRowIndex != nil {
		if *headerRowIndex < 0 || *headerRowIndex >= len(records) {
			return tableData{}, fmt.Errorf("header row index %d out of range", *headerRowIndex)
		}
		selected := cleanRow(records[*headerRowIndex])
		if len(selected) == 0 {
			return tableData{}, fmt.Errorf("selected header row %d is empty", *headerRowIndex+1)
		}
		headerRow = records[*headerRowIndex]
		headerIndex = *headerRowIndex
		for idx := *headerRowIndex + 1; idx < len(records); idx++ {
			row := records[idx]
			if len(cleanRow(row)) == 0 {
				continue
			}
			dataRows = append(dataRows, row)
		}
	} else {
		for idx, row := range records {
			if len(cleanRow(row)) == 0 {
				continue
			}
			if headerRow == nil {
				headerRow = row
				headerIndex = idx
				continue
			}
			dataRows = append(dataRows, row)
		}
	}

	if headerRow == nil {
		return tableData{}, errors.New("header row could not be detected")
	}

	headers := sanitizeHeaders(headerRow)
	rawHeaders := make([]string, len(headerRow))
	for i, value := range headerRow {
		rawHeaders[i] = strings.TrimSpace(value)
	}

	for i := range dataRows {
		dataRows[i] = padRow(dataRows[i], len(headers))
	}

	dataRows = filterEmptyRows(dataRows)

	return tableData{
		headers:        headers,
		rawHeaders:     rawHeaders,
		rows:           dataRows,
		headerRowIndex: headerIndex,
	}, nil
}

func buildHeaderCandidates(records [][]string, limit int, currentIndex int) []HeaderCandidate {
	if limit <= 0 {
		limit = 10
	}

	candidates := make([]HeaderCandidate, 0, limit)
	for idx, row := range records {
		if len(cleanRow(row)) == 0 {
			continue
		}

		values := make([]string, len(row))
		for i, cell := range row {
			values[i] = strings.TrimSpace(cell)
		}

		candidates = append(candidates, HeaderCandidate{
			Index:   idx,
			Values:  values,
			Current: idx == currentIndex,
		})

		if len(candidates) >= limit {
			break
		}
	}

	return candidates
}

func cleanRow(row []string) []string {
	var cleaned []string
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			cleaned = append(cleaned, cell)
		}
	}
	return cleaned
}

func sanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)

	for idx, value := range raw {
		name := strings.ToLower(strings.TrimSpace(value))
		name = strings.ReplaceAll(name, " ", "_")
		name = strings.ReplaceAll(name, ".", "_")
		name = strings.ReplaceAll(name, "-", "_")
		name = strings.Trim(name, "_")
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}

		base := name
		count := seen[base]
		if count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
		}
		seen[base] = count + 1

		headers[idx] = name
	}

	return headers
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	for i := len(row); i < length; i++ {
		padded[i] = ""
	}
	return padded
}

func filterEmptyRows(rows [][]string) [][]string {
	var filtered [][]string
	for _, row := range rows {
		keep := false
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				keep = true
				break
			}
		}
		if keep {
			filtered = append(filtered, row)
		}
	}
	return filtered
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format")
}
