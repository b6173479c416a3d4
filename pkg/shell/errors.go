package shell

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/antibyte/webterm/pkg/virtualfs"
)

// commandError is an expected failure of one command. message is the
// error line shown to the user, with user supplied parts escaped.
type commandError interface {
	error
	message() string
}

// UsageError reports wrong arguments. Usage is the hint shown to the user.
type UsageError struct {
	Usage string
}

func (e *UsageError) Error() string   { return e.Usage }
func (e *UsageError) message() string { return Escape(e.Usage) }

// NotFoundError reports a missing file.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("File '%s' not found.", e.Name) }
func (e *NotFoundError) message() string {
	return fmt.Sprintf("File '%s' not found.", Escape(e.Name))
}

// ConflictError reports a name that is already taken.
type ConflictError struct {
	Name string
}

func (e *ConflictError) Error() string { return fmt.Sprintf("File '%s' already exists.", e.Name) }
func (e *ConflictError) message() string {
	return fmt.Sprintf("File '%s' already exists.", Escape(e.Name))
}

// EvaluationError wraps a failure of the run evaluator.
type EvaluationError struct {
	Err error
}

func (e *EvaluationError) Error() string   { return "Error: " + e.Err.Error() }
func (e *EvaluationError) Unwrap() error   { return e.Err }
func (e *EvaluationError) message() string { return Escape(e.Error()) }

// ImportFormatError reports a bulk import that was not a JSON object of strings.
type ImportFormatError struct {
	Err error
}

func (e *ImportFormatError) Error() string {
	var syntaxErr *json.SyntaxError
	if errors.As(e.Err, &syntaxErr) {
		return "Error importing filesystem: " + syntaxErr.Error()
	}
	return "Invalid file format."
}
func (e *ImportFormatError) Unwrap() error   { return e.Err }
func (e *ImportFormatError) message() string { return Escape(e.Error()) }

// fileError turns file map errors into user facing errors for name.
func fileError(err error, name string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, virtualfs.ErrNotFound):
		return &NotFoundError{Name: name}
	case errors.Is(err, virtualfs.ErrExists):
		return &ConflictError{Name: name}
	case errors.Is(err, virtualfs.ErrInvalidName):
		return &UsageError{Usage: "Invalid file name."}
	case errors.Is(err, virtualfs.ErrImportFormat):
		return &ImportFormatError{Err: err}
	case errors.Is(err, virtualfs.ErrTooLarge), errors.Is(err, virtualfs.ErrTooManyFiles):
		return &UsageError{Usage: capitalize(err.Error()) + "."}
	}
	return err
}

func capitalize(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
