package mdc

import (
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/arcline-labs/backdrop/internal/models"
)

// ParseCSV decodes a Date-keyed price CSV into a PriceFrame. The Close
// column is matched case-insensitively; rows are sorted ascending by
// date regardless of the origin's own ordering.
func ParseCSV(symbol string, raw []byte) (*models.PriceFrame, error) {
	r := csv.NewReader(strings.NewReader(string(raw)))
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing csv: %w", err)
	}
	if len(records) < 1 {
		return nil, fmt.Errorf("empty csv for symbol %s", symbol)
	}

	header := records[0]
	dateIdx, closeIdx := -1, -1
	openIdx, highIdx, lowIdx, volIdx := -1, -1, -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "date":
			dateIdx = i
		case "close":
			closeIdx = i
		case "open":
			openIdx = i
		case "high":
			highIdx = i
		case "low":
			lowIdx = i
		case "volume":
			volIdx = i
		}
	}
	if dateIdx == -1 || closeIdx == -1 {
		return nil, fmt.Errorf("csv for symbol %s missing Date/Close column", symbol)
	}

	rows := make([]models.Bar, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) <= dateIdx || len(rec) <= closeIdx {
			continue
		}
		date, err := parseDate(rec[dateIdx])
		if err != nil {
			continue
		}
		closeVal, err := strconv.ParseFloat(strings.TrimSpace(rec[closeIdx]), 64)
		if err != nil {
			continue
		}
		bar := models.Bar{Date: date, Close: closeVal}
		if openIdx != -1 && len(rec) > openIdx {
			bar.Open, _ = strconv.ParseFloat(strings.TrimSpace(rec[openIdx]), 64)
		}
		if highIdx != -1 && len(rec) > highIdx {
			bar.High, _ = strconv.ParseFloat(strings.TrimSpace(rec[highIdx]), 64)
		}
		if lowIdx != -1 && len(rec) > lowIdx {
			bar.Low, _ = strconv.ParseFloat(strings.TrimSpace(rec[lowIdx]), 64)
		}
		if volIdx != -1 && len(rec) > volIdx {
			v, _ := strconv.ParseInt(strings.TrimSpace(rec[volIdx]), 10, 64)
			bar.Volume = v
		}
		rows = append(rows, bar)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })

	return &models.PriceFrame{Symbol: symbol, Rows: rows}, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02", "2006/01/02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// Filter returns a new PriceFrame containing only rows whose Date falls
// within [start, end], both ends inclusive. Missing dates are simply
// absent rows — no interpolation or carry-forward occurs. The input
// frame is never mutated: Filter takes a shallow copy before slicing.
func Filter(frame *models.PriceFrame, start, end time.Time) *models.PriceFrame {
	clone := frame.Clone()

	startDay := truncateToDay(start)
	endDay := truncateToDay(end)

	out := make([]models.Bar, 0, len(clone.Rows))
	for _, row := range clone.Rows {
		day := truncateToDay(row.Date)
		if day.Before(startDay) || day.After(endDay) {
			continue
		}
		out = append(out, row)
	}
	return &models.PriceFrame{Symbol: clone.Symbol, Rows: out}
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
