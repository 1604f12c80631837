package ingestion

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type stubCopyClient struct {
	table   pgx.Identifier
	columns []string
	rows    [][]any
	err     error
	calls   int
}

func (s *stubCopyClient) CopyFrom(_ context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error) {
	s.calls++
	s.table = table
	s.columns = columns
	for src.Next() {
		values, err := src.Values()
		if err != nil {
			return int64(len(s.rows)), err
		}
		s.rows = append(s.rows, values)
	}
	if s.err != nil {
		return 0, s.err
	}
	return int64(len(s.rows)), nil
}

func TestIngestLoadsValidRowsAndSkipsUnknownColumns(t *testing.T) {
	csv := strings.Join([]string{
		"petri_code,placement,growth_index,operator",
		"PET-001,TOP,4.5,alice",
		"PET-002,BOTTOM,not-a-number,bob",
		"PET-003,TOP,2.25,carol",
	}, "\n")

	db := &stubCopyClient{}
	svc := NewService(db)

	summary, err := svc.Ingest(context.Background(), Request{
		Table:    "petri_observations",
		FileName: "upload.csv",
		Data:     strings.NewReader(csv),
	})
	if err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}

	if summary.TotalRows != 3 || summary.ValidRows != 2 || summary.InvalidRows != 1 {
		t.Fatalf("unexpected counts: total=%d valid=%d invalid=%d", summary.TotalRows, summary.ValidRows, summary.InvalidRows)
	}
	if len(summary.SkippedColumns) != 1 || summary.SkippedColumns[0] != "operator" {
		t.Fatalf("unexpected skipped columns: %v", summary.SkippedColumns)
	}
	if len(summary.Errors) != 1 || summary.Errors[0].RowNumber != 3 {
		t.Fatalf("unexpected row errors: %+v", summary.Errors)
	}

	if db.table[0] != "petri_observations" {
		t.Fatalf("copied into wrong table: %v", db.table)
	}
	wantColumns := []string{"petri_code", "placement", "growth_index"}
	if len(db.columns) != len(wantColumns) {
		t.Fatalf("unexpected columns: %v", db.columns)
	}
	for i, col := range wantColumns {
		if db.columns[i] != col {
			t.Fatalf("column %d: got %q, want %q", i, db.columns[i], col)
		}
	}

	if len(db.rows) != 2 {
		t.Fatalf("expected 2 copied rows, got %d", len(db.rows))
	}
	if db.rows[0][0] != "PET-001" || db.rows[0][1] != "TOP" {
		t.Fatalf("unexpected first row: %v", db.rows[0])
	}
	if got, ok := db.rows[0][2].(float64); !ok || got != 4.5 {
		t.Fatalf("growth_index not coerced to numeric: %v", db.rows[0][2])
	}
}

func TestIngestCoercesTypedColumns(t *testing.T) {
	id := uuid.New()
	csv := strings.Join([]string{
		"submission_id,global_submission_id,temperature,created_at",
		id.String() + ",1042,21.5,2025-03-01",
	}, "\n")

	db := &stubCopyClient{}
	svc := NewService(db)

	summary, err := svc.Ingest(context.Background(), Request{
		Table:    "submissions",
		FileName: "subs.csv",
		Data:     strings.NewReader(csv),
	})
	if err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}
	if summary.ValidRows != 1 {
		t.Fatalf("expected 1 valid row, got %d", summary.ValidRows)
	}

	row := db.rows[0]
	if got, ok := row[0].(uuid.UUID); !ok || got != id {
		t.Fatalf("submission_id not coerced to uuid: %v", row[0])
	}
	if got, ok := row[1].(int64); !ok || got != 1042 {
		t.Fatalf("global_submission_id not coerced to integer: %v", row[1])
	}
	if got, ok := row[2].(float64); !ok || got != 21.5 {
		t.Fatalf("temperature not coerced to numeric: %v", row[2])
	}
	ts, ok := row[3].(time.Time)
	if !ok || ts.Year() != 2025 || ts.Month() != time.March {
		t.Fatalf("created_at not coerced to timestamp: %v", row[3])
	}
}

func TestIngestRejectsUnknownTable(t *testing.T) {
	svc := NewService(&stubCopyClient{})
	_, err := svc.Ingest(context.Background(), Request{
		Table:    "users",
		FileName: "upload.csv",
		Data:     strings.NewReader("a,b\n1,2"),
	})
	if !errors.Is(err, ErrUnknownTable) {
		t.Fatalf("expected ErrUnknownTable, got %v", err)
	}
}

func TestIngestRequiresMandatoryColumn(t *testing.T) {
	svc := NewService(&stubCopyClient{})
	_, err := svc.Ingest(context.Background(), Request{
		Table:    "petri_observations",
		FileName: "upload.csv",
		Data:     strings.NewReader("placement,growth_index\nTOP,1.0"),
	})
	if err == nil || !strings.Contains(err.Error(), "petri_code is required") {
		t.Fatalf("expected missing required column error, got %v", err)
	}
}

func TestIngestCountsMissingRequiredValues(t *testing.T) {
	csv := strings.Join([]string{
		"petri_code,growth_index",
		",3.0",
		"PET-001,4.0",
	}, "\n")

	db := &stubCopyClient{}
	svc := NewService(db)

	summary, err := svc.Ingest(context.Background(), Request{
		Table:    "petri_observations",
		FileName: "upload.csv",
		Data:     strings.NewReader(csv),
	})
	if err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}
	if summary.ValidRows != 1 || summary.InvalidRows != 1 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
	if len(summary.Errors) != 1 || !strings.Contains(summary.Errors[0].Message, "petri_code") {
		t.Fatalf("unexpected row errors: %+v", summary.Errors)
	}
}

func TestIngestRejectsUnsupportedFormat(t *testing.T) {
	svc := NewService(&stubCopyClient{})
	_, err := svc.Ingest(context.Background(), Request{
		Table:    "sites",
		FileName: "upload.txt",
		Data:     strings.NewReader("name\nSite A"),
	})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestIngestStripsByteOrderMark(t *testing.T) {
	payload := "\xEF\xBB\xBFname\nSite A"

	db := &stubCopyClient{}
	svc := NewService(db)

	summary, err := svc.Ingest(context.Background(), Request{
		Table:    "sites",
		FileName: "sites.csv",
		Data:     strings.NewReader(payload),
	})
	if err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}
	if summary.ValidRows != 1 {
		t.Fatalf("expected 1 valid row, got %d", summary.ValidRows)
	}
	if db.columns[0] != "name" {
		t.Fatalf("BOM not stripped from header: %v", db.columns)
	}
}

func TestPreviewValidatesWithoutPersisting(t *testing.T) {
	csv := strings.Join([]string{
		"Petri Code,Growth Index",
		"PET-001,1.5",
		"PET-002,bad",
	}, "\n")

	db := &stubCopyClient{}
	svc := NewService(db)

	result, err := svc.Preview(context.Background(), PreviewRequest{
		Table:    "petri_observations",
		FileName: "upload.csv",
		Data:     strings.NewReader(csv),
	})
	if err != nil {
		t.Fatalf("Preview returned error: %v", err)
	}

	if db.calls != 0 {
		t.Fatalf("preview must not write to the database")
	}
	if result.TotalRows != 2 || result.InvalidRows != 1 {
		t.Fatalf("unexpected counts: total=%d invalid=%d", result.TotalRows, result.InvalidRows)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("expected 2 preview rows, got %d", len(result.Rows))
	}
	if len(result.Rows[1].Errors) == 0 {
		t.Fatalf("expected validation error on second row")
	}

	// Spreadsheet-style headers normalize to column names.
	if result.Headers[0].Name != "petri_code" || !result.Headers[0].Matched {
		t.Fatalf("unexpected header metadata: %+v", result.Headers[0])
	}
	if result.Headers[0].OriginalLabel != "Petri Code" {
		t.Fatalf("original label lost: %+v", result.Headers[0])
	}
}
