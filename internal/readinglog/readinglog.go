// Package readinglog writes and reads the per-cycle rangefinder log. Each
// transmitted report produces one CSV row keyed by the delayed simulation
// time in microseconds.
package readinglog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
)

// Header is the fixed first row of every log.
var Header = []string{"TimeUS", "terrain_cm", "sub_cm", "rf_cm", "signal_quality"}

// Record is one logged cycle. TerrainCm and SubCm keep the fractional part
// of the metre values they were scaled from.
type Record struct {
	TimeUS    int64
	TerrainCm float64
	SubCm     float64
	RfCm      int
	Quality   int
}

// NewRecord builds a Record from the delayed simulation time and the metre
// values used to synthesize the report.
func NewRecord(delayed, terrain, position float64, distanceCm, quality int) Record {
	return Record{
		TimeUS:    int64(delayed * 1e6),
		TerrainCm: terrain * 100,
		SubCm:     position * 100,
		RfCm:      distanceCm,
		Quality:   quality,
	}
}

func (r Record) fields() []string {
	return []string{
		strconv.FormatInt(r.TimeUS, 10),
		strconv.FormatFloat(r.TerrainCm, 'f', -1, 64),
		strconv.FormatFloat(r.SubCm, 'f', -1, 64),
		strconv.Itoa(r.RfCm),
		strconv.Itoa(r.Quality),
	}
}

// Writer appends records to a CSV stream. Every row is flushed as soon as
// it is written so a log survives an interrupted run.
type Writer struct {
	csv    *csv.Writer
	closer io.Closer
	rows   int
}

// NewWriter writes the header to w and returns a Writer. If w is also an
// io.Closer it is closed by Close.
func NewWriter(w io.Writer) (*Writer, error) {
	lw := &Writer{csv: csv.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		lw.closer = c
	}
	if err := lw.csv.Write(Header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	lw.csv.Flush()
	if err := lw.csv.Error(); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	return lw, nil
}

// Create creates (or truncates) the log at path, making parent directories.
func Create(path string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create log: %w", err)
	}
	w, err := NewWriter(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return w, nil
}

// Write appends one record and flushes it.
func (w *Writer) Write(r Record) error {
	if err := w.csv.Write(r.fields()); err != nil {
		return err
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return err
	}
	w.rows++
	return nil
}

// Rows returns the number of records written so far.
func (w *Writer) Rows() int { return w.rows }

// Close flushes pending output and closes the underlying file, if any.
func (w *Writer) Close() error {
	w.csv.Flush()
	err := w.csv.Error()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// ErrBadHeader is returned by Read when the first row is not Header.
var ErrBadHeader = errors.New("readinglog: unexpected header")

// Read parses a complete log.
func Read(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)
	cr.ReuseRecord = true

	head, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, ErrBadHeader
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i, h := range Header {
		if head[i] != h {
			return nil, fmt.Errorf("%w: column %d is %q, want %q", ErrBadHeader, i, head[i], h)
		}
	}

	var out []Record
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		rec, err := parseRow(row)
		if err != nil {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, rec)
	}
}

// ReadFile parses the log at path.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	recs, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return recs, nil
}

func parseRow(row []string) (Record, error) {
	var (
		r   Record
		err error
	)
	if r.TimeUS, err = strconv.ParseInt(row[0], 10, 64); err != nil {
		return r, fmt.Errorf("TimeUS: %w", err)
	}
	if r.TerrainCm, err = strconv.ParseFloat(row[1], 64); err != nil {
		return r, fmt.Errorf("terrain_cm: %w", err)
	}
	if r.SubCm, err = strconv.ParseFloat(row[2], 64); err != nil {
		return r, fmt.Errorf("sub_cm: %w", err)
	}
	if r.RfCm, err = strconv.Atoi(row[3]); err != nil {
		return r, fmt.Errorf("rf_cm: %w", err)
	}
	if r.Quality, err = strconv.Atoi(row[4]); err != nil {
		return r, fmt.Errorf("signal_quality: %w", err)
	}
	return r, nil
}
