package analysis

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/banshee-data/rangefinder.sim/internal/readinglog"
)

// TimeColumn is the key every mergeable table starts with.
const TimeColumn = "TimeUS"

// Table is a CSV table keyed by a microsecond timestamp. Values are kept as
// text so that logs from other tools merge without loss.
type Table struct {
	Columns []string // value columns, without TimeColumn
	Rows    []Row
}

// Row is one line of a Table.
type Row struct {
	TimeUS int64
	Values []string
}

// ReadTable reads a CSV table whose first column is TimeColumn. Rows must be
// sorted by time.
func ReadTable(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("analysis: empty table")
	}
	if err != nil {
		return nil, err
	}
	if len(header) == 0 || header[0] != TimeColumn {
		return nil, fmt.Errorf("analysis: first column must be %s", TimeColumn)
	}

	t := &Table{Columns: header[1:]}
	var last int64
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return t, nil
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)
		ts, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %s: %w", line, TimeColumn, err)
		}
		if len(t.Rows) > 0 && ts < last {
			return nil, fmt.Errorf("line %d: %s %d before %d", line, TimeColumn, ts, last)
		}
		last = ts
		t.Rows = append(t.Rows, Row{TimeUS: ts, Values: rec[1:]})
	}
}

// ReadTableFile opens path and calls ReadTable.
func ReadTableFile(path string) (*Table, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := ReadTable(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// RecordsTable converts reading log records to a Table.
func RecordsTable(recs []readinglog.Record) *Table {
	t := &Table{Columns: append([]string(nil), readinglog.Header[1:]...)}
	for _, r := range recs {
		t.Rows = append(t.Rows, Row{
			TimeUS: r.TimeUS,
			Values: []string{
				strconv.FormatFloat(r.TerrainCm, 'f', -1, 64),
				strconv.FormatFloat(r.SubCm, 'f', -1, 64),
				strconv.Itoa(r.RfCm),
				strconv.Itoa(r.Quality),
			},
		})
	}
	return t
}

// Merge joins a and b on time. Every timestamp of either table appears once
// per row it came from, and each side carries its most recent values
// forward; before a side's first row its columns are empty. Column names
// present in both tables get _x and _y suffixes.
func Merge(a, b *Table) *Table {
	out := &Table{Columns: mergedColumns(a.Columns, b.Columns)}

	lastA := make([]string, len(a.Columns))
	lastB := make([]string, len(b.Columns))
	i, j := 0, 0
	for i < len(a.Rows) || j < len(b.Rows) {
		var t int64
		switch {
		case i == len(a.Rows):
			t = b.Rows[j].TimeUS
		case j == len(b.Rows):
			t = a.Rows[i].TimeUS
		default:
			t = min(a.Rows[i].TimeUS, b.Rows[j].TimeUS)
		}
		if i < len(a.Rows) && a.Rows[i].TimeUS == t {
			lastA = a.Rows[i].Values
			i++
		}
		if j < len(b.Rows) && b.Rows[j].TimeUS == t {
			lastB = b.Rows[j].Values
			j++
		}

		values := make([]string, 0, len(out.Columns))
		values = append(values, pad(lastA, len(a.Columns))...)
		values = append(values, pad(lastB, len(b.Columns))...)
		out.Rows = append(out.Rows, Row{TimeUS: t, Values: values})
	}
	return out
}

func mergedColumns(a, b []string) []string {
	inB := make(map[string]bool, len(b))
	for _, c := range b {
		inB[c] = true
	}
	inA := make(map[string]bool, len(a))
	cols := make([]string, 0, len(a)+len(b))
	for _, c := range a {
		inA[c] = true
		if inB[c] {
			c += "_x"
		}
		cols = append(cols, c)
	}
	for _, c := range b {
		if inA[c] {
			c += "_y"
		}
		cols = append(cols, c)
	}
	return cols
}

// pad fits short rows from loosely formatted input to n columns.
func pad(values []string, n int) []string {
	if len(values) >= n {
		return values[:n]
	}
	out := make([]string, n)
	copy(out, values)
	return out
}

// Write writes t as CSV.
func (t *Table) Write(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := append([]string{TimeColumn}, t.Columns...)
	if err := cw.Write(header); err != nil {
		return err
	}
	row := make([]string, 0, len(header))
	for _, r := range t.Rows {
		row = append(row[:0], strconv.FormatInt(r.TimeUS, 10))
		row = append(row, r.Values...)
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
