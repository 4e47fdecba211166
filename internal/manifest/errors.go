package manifest

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedLine indicates a line without the "name | url" separator.
	ErrMalformedLine = errors.New("malformed_line")
	// ErrEmptyField indicates the name or url is empty after trimming.
	ErrEmptyField = errors.New("empty_field")
)

// LineError ties a parse failure to its 1-based line number.
type LineError struct {
	Line int
	Text string
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v: %q", e.Line, e.Err, e.Text)
}

func (e *LineError) Unwrap() error { return e.Err }
