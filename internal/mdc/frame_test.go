package mdc

import (
	"testing"
	"time"

	"github.com/arcline-labs/backdrop/internal/models"
)

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		t.Fatalf("parsing date %q: %v", s, err)
	}
	return d
}

func newMockFrame() *models.PriceFrame {
	dates := []string{"2024-01-01", "2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05", "2024-01-07"}
	rows := make([]models.Bar, 0, len(dates))
	for i, d := range dates {
		rows = append(rows, models.Bar{Date: mustDateNoT(d), Close: 10 + float64(i)})
	}
	return &models.PriceFrame{Symbol: "ACME", Rows: rows}
}

func mustDateNoT(s string) time.Time {
	d, _ := time.Parse("2006-01-02", s)
	return d
}

func TestParseCSV_CaseInsensitiveCloseColumn(t *testing.T) {
	raw := []byte("Date,Open,High,Low,CLOSE,Volume\n2024-01-02,10,11,9,10.5,1000\n2024-01-03,10.5,12,10,11.2,1200\n")
	frame, err := ParseCSV("ACME", raw)
	if err != nil {
		t.Fatalf("ParseCSV returned error: %v", err)
	}
	if len(frame.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(frame.Rows))
	}
	if frame.Rows[0].Close != 10.5 || frame.Rows[1].Close != 11.2 {
		t.Fatalf("unexpected close values: %+v", frame.Rows)
	}
}

func TestParseCSV_SortsAscendingRegardlessOfOrigin(t *testing.T) {
	raw := []byte("Date,Close\n2024-01-03,11.2\n2024-01-02,10.5\n2024-01-01,9.9\n")
	frame, err := ParseCSV("ACME", raw)
	if err != nil {
		t.Fatalf("ParseCSV returned error: %v", err)
	}
	for i := 1; i < len(frame.Rows); i++ {
		if frame.Rows[i].Date.Before(frame.Rows[i-1].Date) {
			t.Fatalf("rows not sorted ascending: %+v", frame.Rows)
		}
	}
}

func TestParseCSV_MissingDateOrCloseColumnErrors(t *testing.T) {
	raw := []byte("Open,High,Low,Volume\n10,11,9,1000\n")
	if _, err := ParseCSV("ACME", raw); err == nil {
		t.Fatal("expected error for missing Date/Close column")
	}
}

func TestFilter_InclusiveBothEnds(t *testing.T) {
	frame := newMockFrame()
	start := mustDate(t, "2024-01-02")
	end := mustDate(t, "2024-01-04")

	filtered := Filter(frame, start, end)

	if len(filtered.Rows) != 3 {
		t.Fatalf("expected 3 rows within inclusive range, got %d: %+v", len(filtered.Rows), filtered.Rows)
	}
	if !filtered.Rows[0].Date.Equal(start) {
		t.Fatalf("expected first row to equal the inclusive start boundary, got %v", filtered.Rows[0].Date)
	}
	if !filtered.Rows[len(filtered.Rows)-1].Date.Equal(end) {
		t.Fatalf("expected last row to equal the inclusive end boundary, got %v", filtered.Rows[len(filtered.Rows)-1].Date)
	}
}

func TestFilter_DoesNotMutateSourceFrame(t *testing.T) {
	frame := *newMockFrame()
	originalLen := len(frame.Rows)

	_ = Filter(&frame, mustDate(t, "2024-01-02"), mustDate(t, "2024-01-03"))

	if len(frame.Rows) != originalLen {
		t.Fatalf("Filter mutated the source frame's row count: got %d, want %d", len(frame.Rows), originalLen)
	}
}

func TestFilter_MissingDatesAreAbsentRows(t *testing.T) {
	frame := newMockFrame() // has no 2024-01-06 row
	filtered := Filter(frame, mustDate(t, "2024-01-05"), mustDate(t, "2024-01-07"))
	for _, row := range filtered.Rows {
		if row.Date.Equal(mustDate(t, "2024-01-06")) {
			t.Fatalf("did not expect a row for a missing date")
		}
	}
}
