package bar

import (
	"errors"
	"fmt"
	"strings"
)

// Format errors. Every failure to decode, build or query an archive wraps one
// of these in a *FormatError; match them with errors.Is.
var (
	// ErrTruncated is returned when the archive or header ends before a referenced structure.
	ErrTruncated = errors.New("truncated")

	// ErrUnknownTag is returned for discriminators, keys or methods outside the defined set.
	ErrUnknownTag = errors.New("unknown tag")

	// ErrTypeMismatch is returned when a field's encoded type disagrees with its meaning.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrMissingField is returned when a required field is absent.
	ErrMissingField = errors.New("missing field")

	// ErrNameCollision is returned when a sibling with the same name already
	// exists or a directory would be added below itself.
	ErrNameCollision = errors.New("name collision")

	// ErrUnbalancedDirectory is returned when leaving a directory past the root.
	ErrUnbalancedDirectory = errors.New("unbalanced directory")

	// ErrNotFound is returned when a path does not resolve to an entry of the expected kind.
	ErrNotFound = errors.New("not found")

	// ErrCorruptData is returned for malformed file data or inconsistent header contents.
	ErrCorruptData = errors.New("corrupt data")

	// ErrRevisionMismatch is returned when a header or meta carries fields of the other format revision.
	ErrRevisionMismatch = errors.New("format revision mismatch")

	// ErrInvalidName is returned for names that are empty, ".", "..", contain '/' or exceed MaxNameLength.
	ErrInvalidName = errors.New("invalid name")

	// ErrSizeOverflow is returned when a size exceeds its field width or a configured limit.
	ErrSizeOverflow = errors.New("size overflow")

	// ErrKeyRequired is returned when encrypted data is built or read without a key.
	ErrKeyRequired = errors.New("encryption key required")
)

// FormatError records a malformed or misused archive along with the entry
// path and header field involved.
type FormatError struct {
	Op    string // operation, e.g. "open", "decode", "insert", "extract"
	Path  string // entry path within the archive, if known
	Field string // header field name, if relevant
	Err   error  // wraps one of the Err* sentinels
}

func (e *FormatError) Error() string {
	var b strings.Builder
	b.WriteString("bar: ")
	b.WriteString(e.Op)
	if e.Path != "" {
		fmt.Fprintf(&b, " %q", e.Path)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " field %s", e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// formatErr builds a *FormatError wrapping kind, with an optional detail message.
func formatErr(op, path, field string, kind error, detail ...any) *FormatError {
	err := kind
	if len(detail) > 0 {
		format, _ := detail[0].(string)
		err = fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, detail[1:]...))
	}
	return &FormatError{Op: op, Path: path, Field: field, Err: err}
}
