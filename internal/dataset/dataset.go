// Package dataset loads the customer table served to the UI and embedded
// into recommendation prompts. The table is read once at startup and is
// immutable for the process lifetime; request handlers only read it.
package dataset

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
)

// Record is a single customer row keyed by column name.
type Record map[string]string

// Table is the immutable in-memory customer dataset.
type Table struct {
	columns []string
	records []Record
	raw     string
}

// Load reads the CSV file at path. The first row is the header; empty
// lines are skipped. Rows shorter than the header are rejected.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	return Parse(string(data))
}

// Parse builds a Table from raw CSV text.
func Parse(raw string) (*Table, error) {
	reader := csv.NewReader(strings.NewReader(raw))
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse dataset: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("parse dataset: no header row")
	}

	columns := make([]string, len(rows[0]))
	for i, col := range rows[0] {
		columns[i] = strings.TrimSpace(col)
	}

	records := make([]Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if isEmptyRow(row) {
			continue
		}
		rec := make(Record, len(columns))
		for i, col := range columns {
			if i < len(row) {
				rec[col] = strings.TrimSpace(row[i])
			} else {
				rec[col] = ""
			}
		}
		records = append(records, rec)
	}

	return &Table{
		columns: columns,
		records: records,
		raw:     raw,
	}, nil
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// Columns returns a copy of the header columns in file order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// Records returns a copy of the customer rows in file order. The row
// maps themselves are shared; callers must treat them as read-only.
func (t *Table) Records() []Record {
	out := make([]Record, len(t.records))
	copy(out, t.records)
	return out
}

// Len returns the number of customer rows.
func (t *Table) Len() int {
	return len(t.records)
}

// CSV returns the original delimited text, used verbatim in prompts.
func (t *Table) CSV() string {
	return t.raw
}
