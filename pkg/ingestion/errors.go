package ingestion

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("archivo not found")
	ErrInvalidState = errors.New("archivo is not pendiente")

	ErrEmptyFile         = errors.New("uploaded file is empty")
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrDuplicateFile     = errors.New("file already uploaded")
	ErrFileTooLarge      = errors.New("uploaded file too large")
)

// SubmissionError rejects an upload before any Archivo exists.
type SubmissionError struct {
	reason error
}

func (e SubmissionError) Error() string {
	return e.reason.Error()
}

func (e SubmissionError) Unwrap() error {
	return e.reason
}

func IsSubmissionError(err error) bool {
	var se SubmissionError
	return errors.As(err, &se)
}

// LineError is a decode or validation failure attributed to one source line.
type LineError struct {
	Line        int
	Kind        ErrorKind
	Description string
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %s: %s", e.Line, e.Kind, e.Description)
}

func lineErrorf(line int, kind ErrorKind, format string, args ...interface{}) *LineError {
	return &LineError{Line: line, Kind: kind, Description: fmt.Sprintf(format, args...)}
}

// FatalError ends a job in the error state.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

func fatal(op string, err error) error {
	return &FatalError{Op: op, Err: err}
}
