// Package flatfile reads pipe-delimited vendor feed files. Every flat
// feed in the catalog exchange (fitment, category lookup, vendor CSV)
// shares the same shape: a header line naming the columns, then one
// record per line. Columns are addressed by header name so feeds can
// reorder or append columns without breaking the parsers.
package flatfile

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

const utf8BOM = "\ufeff"

// Reader wraps a csv.Reader configured for pipe-delimited feeds and
// resolves cells by header name.
type Reader struct {
	r       *csv.Reader
	index   map[string]int
	headers []string
	line    int
}

// NewReader reads the header line from src and builds the column index.
// Header names are lower-cased, so lookups are case-insensitive.
func NewReader(src io.Reader, delim rune) (*Reader, error) {
	cr := csv.NewReader(src)
	cr.Comma = delim
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	headers, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	headers = stripHeaderBOM(headers)

	index := make(map[string]int, len(headers))
	kept := make([]string, len(headers))
	for i, h := range headers {
		name := strings.ToLower(strings.TrimSpace(h))
		kept[i] = name
		index[name] = i
	}
	return &Reader{r: cr, index: index, headers: kept, line: 1}, nil
}

// NewPipeReader is NewReader with the conventional '|' delimiter.
func NewPipeReader(src io.Reader) (*Reader, error) {
	return NewReader(src, '|')
}

// Headers returns the lower-cased header names in file order.
func (r *Reader) Headers() []string { return r.headers }

// HasColumn reports whether the header line named the column.
func (r *Reader) HasColumn(name string) bool {
	_, ok := r.index[strings.ToLower(name)]
	return ok
}

// Next returns the next record, or io.EOF at end of input. The returned
// Record is only valid until the following call to Next.
func (r *Reader) Next() (Record, error) {
	cells, err := r.r.Read()
	if err != nil {
		return Record{}, err
	}
	r.line++
	return Record{cells: cells, index: r.index, line: r.line}, nil
}

// Line returns the 1-based line number of the last record read.
func (r *Reader) Line() int { return r.line }

// Record is one data line addressed by column name.
type Record struct {
	cells []string
	index map[string]int
	line  int
}

// Get returns the trimmed cell for the named column, or "" when the
// column is absent or the line is short.
func (rec Record) Get(name string) string {
	i, ok := rec.index[strings.ToLower(name)]
	if !ok || i >= len(rec.cells) {
		return ""
	}
	return strings.TrimSpace(rec.cells[i])
}

// Line returns the record's 1-based line number in the source file.
func (rec Record) Line() int { return rec.line }

func stripHeaderBOM(headers []string) []string {
	if len(headers) == 0 {
		return headers
	}
	headers[0] = strings.TrimPrefix(headers[0], utf8BOM)
	return headers
}
