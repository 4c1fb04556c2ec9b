package record

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration  = errors.New("configuration error")
	ErrSchemaMismatch = errors.New("schema mismatch")
)

// SchemaMismatchError reports a document or value that does not fit the
// descriptor of its record type.
type SchemaMismatchError struct {
	Type   string
	Field  string
	Reason string
}

func (e *SchemaMismatchError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("schema mismatch: %s: %s", e.Type, e.Reason)
	}
	return fmt.Sprintf("schema mismatch: %s.%s: %s", e.Type, e.Field, e.Reason)
}

func (e *SchemaMismatchError) Unwrap() error {
	return ErrSchemaMismatch
}

func mismatch(typ, field, format string, args ...any) error {
	return &SchemaMismatchError{Type: typ, Field: field, Reason: fmt.Sprintf(format, args...)}
}

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
