package terminal

import (
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/antibyte/webterm/pkg/configuration"
	"github.com/antibyte/webterm/pkg/shared"
)

var (
	ErrUnknownRequest = errors.New("unknown request type")
	ErrInvalidInput   = errors.New("invalid input")
)

// SecurityValidator checks browser requests before they reach a session.
type SecurityValidator struct {
	maxLineLength int
	maxFileBytes  int
}

// NewSecurityValidator reads its limits from [Security] and [FileSystem].
func NewSecurityValidator() *SecurityValidator {
	return &SecurityValidator{
		maxLineLength: configuration.GetInt("Security", "max_line_length", 4096),
		maxFileBytes:  configuration.GetInt("FileSystem", "max_file_size_kb", 1024) * 1024,
	}
}

// ValidateRequest rejects malformed requests. File contents and editor
// text may hold any valid UTF-8; only the command line is restricted to
// printable characters.
func (sv *SecurityValidator) ValidateRequest(req *shared.Request) error {
	switch req.Type {
	case shared.RequestLine:
		return sv.validateLine(req.Content)
	case shared.RequestKey:
		if req.Key != "ArrowUp" && req.Key != "ArrowDown" {
			return fmt.Errorf("%w: key %q", ErrInvalidInput, req.Key)
		}
	case shared.RequestEditor:
		return sv.validateText(req.EditorData)
	case shared.RequestImport:
		if err := sv.validateFileName(req.FileName); err != nil && !req.Cancelled {
			return err
		}
		return sv.validateText(req.Content)
	case shared.RequestBulkImport:
		if !utf8.ValidString(req.Content) {
			return fmt.Errorf("%w: backup is not valid UTF-8", ErrInvalidInput)
		}
	case shared.RequestConfirm, shared.RequestSettings, shared.RequestBulkExport:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownRequest, req.Type)
	}
	return nil
}

func (sv *SecurityValidator) validateLine(line string) error {
	if len(line) > sv.maxLineLength {
		return fmt.Errorf("%w: line longer than %d bytes", ErrInvalidInput, sv.maxLineLength)
	}
	if !utf8.ValidString(line) {
		return fmt.Errorf("%w: line is not valid UTF-8", ErrInvalidInput)
	}
	for _, r := range line {
		if unicode.IsControl(r) && r != '\t' {
			return fmt.Errorf("%w: control character in line", ErrInvalidInput)
		}
	}
	return nil
}

func (sv *SecurityValidator) validateText(text string) error {
	if sv.maxFileBytes > 0 && len(text) > sv.maxFileBytes {
		return fmt.Errorf("%w: content larger than %d bytes", ErrInvalidInput, sv.maxFileBytes)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("%w: content is not valid UTF-8", ErrInvalidInput)
	}
	return nil
}

func (sv *SecurityValidator) validateFileName(name string) error {
	if name == "" || len(name) > 255 {
		return fmt.Errorf("%w: file name length", ErrInvalidInput)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: control character in file name", ErrInvalidInput)
		}
	}
	return nil
}
