package importer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// RowSource is a finite, single-pass sequence of records. Next returns io.EOF
// once the source is exhausted; a source cannot be restarted.
type RowSource interface {
	Next() (RawRecord, error)
	Close() error
}

type SourceOptions struct {
	PreviewLimit int
}

// FormatFromName guesses a format tag from a file extension.
func FormatFromName(name string) Format {
	return Format(strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), "."))
}

// Open starts reading path. Unsupported formats fail before any record is
// produced.
func Open(path string, format Format, opts SourceOptions) (RowSource, error) {
	format = Format(strings.ToLower(strings.TrimSpace(string(format))))
	var (
		src RowSource
		err error
	)
	switch format {
	case FormatCSV:
		src, err = openCSV(path)
	case FormatXLSX, FormatXLS:
		src, err = openSpreadsheet(path, format)
	case FormatDOC, FormatDOCX:
		return nil, &FormatError{Format: format, Reason: "document files cannot be imported, export the questions as csv or xlsx"}
	default:
		return nil, &FormatError{Format: format, Reason: "expected csv, xlsx or xls"}
	}
	if err != nil {
		return nil, err
	}
	if opts.PreviewLimit > 0 {
		src = &limitSource{RowSource: src, remaining: opts.PreviewLimit}
	}
	return src, nil
}

// CountRows reads the whole source once and returns the number of non-blank
// data rows.
func CountRows(path string, format Format) (int, error) {
	src, err := Open(path, format, SourceOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = src.Close() }()

	n := 0
	for {
		_, err := src.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

type limitSource struct {
	RowSource
	remaining int
}

func (s *limitSource) Next() (RawRecord, error) {
	if s.remaining <= 0 {
		return RawRecord{}, io.EOF
	}
	rec, err := s.RowSource.Next()
	if err == nil {
		s.remaining--
	}
	return rec, err
}

// csvSource streams records straight from the file.
type csvSource struct {
	f      *os.File
	r      *csv.Reader
	keys   []string
	last   int
	closed bool
}

func openCSV(path string) (*csvSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	r := csv.NewReader(sanitizingReader(f))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	return &csvSource{f: f, r: r}, nil
}

func (s *csvSource) Next() (RawRecord, error) {
	if s.closed {
		return RawRecord{}, io.EOF
	}
	for {
		cells, err := s.r.Read()
		if errors.Is(err, io.EOF) {
			return RawRecord{}, io.EOF
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) && s.keys == nil {
				return RawRecord{}, &FormatError{Format: FormatCSV, Reason: "malformed header row", Err: err}
			}
			return RawRecord{}, &ReadError{Row: s.last, Err: err}
		}
		line, _ := s.r.FieldPos(0)
		if isRowEmpty(cells) {
			continue
		}
		if s.keys == nil {
			s.keys = headerIndex(cells)
			continue
		}
		s.last = line
		return RawRecord{Row: line, Values: rowValues(s.keys, cells)}, nil
	}
}

func (s *csvSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.f.Close()
}
