package importer

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound       = errors.New("import job not found")
	ErrInvalidTransition = errors.New("invalid import job status transition")
	ErrJobFinalized      = errors.New("import job already finished")
	ErrTooManyImports    = errors.New("too many concurrent imports")
	ErrInvalidRequest    = errors.New("invalid import request")
)

// FormatError reports a source that cannot be read at all. No rows are
// produced when it is returned.
type FormatError struct {
	Format Format
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("unsupported format %q", e.Format)
	}
	return fmt.Sprintf("unsupported format %q: %s", e.Format, e.Reason)
}

func (e *FormatError) Unwrap() error { return e.Err }

// RowMappingError reports a row that cannot be interpreted as a question.
type RowMappingError struct {
	Row     int
	Field   string
	Message string
}

func (e *RowMappingError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("row %d: %s", e.Row, e.Message)
	}
	return fmt.Sprintf("row %d: %s: %s", e.Row, e.Field, e.Message)
}

// ReadError wraps an I/O failure after a source was opened.
type ReadError struct {
	Row int
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read source after row %d: %v", e.Row, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}
