package patient

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ValidationError describes one malformed or missing inbound field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationErrors collects every problem found in one payload.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.Error()
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Details returns field -> message, the first message winning per field.
func (v ValidationErrors) Details() map[string]string {
	out := make(map[string]string, len(v))
	for _, e := range v {
		if _, ok := out[e.Field]; !ok {
			out[e.Field] = e.Message
		}
	}
	return out
}

// Add appends a problem for field.
func (v *ValidationErrors) Add(field, message string) {
	*v = append(*v, ValidationError{Field: field, Message: message})
}

// Err returns v as an error, or nil when empty.
func (v ValidationErrors) Err() error {
	if len(v) == 0 {
		return nil
	}
	sort.SliceStable(v, func(i, j int) bool { return v[i].Field < v[j].Field })
	return v
}

// IsValidation reports whether err carries inbound validation problems.
func IsValidation(err error) bool {
	var many ValidationErrors
	var one ValidationError
	return errors.As(err, &many) || errors.As(err, &one)
}

// ErrWriteFailed matches every WriteError.
var ErrWriteFailed = errors.New("patient mapping write failed")

// WriteError is returned when a mapping insert or update affects no row.
type WriteError struct {
	Op        string
	IntakeKey string
	Err       error
}

func (e *WriteError) Error() string {
	msg := fmt.Sprintf("failed to %s for intake key %q", e.Op, e.IntakeKey)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *WriteError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrWriteFailed}
	}
	return []error{ErrWriteFailed, e.Err}
}

// NotFoundError is returned when a mapped remote record no longer resolves.
type NotFoundError struct {
	Kind string
	ID   int64
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("mapped %s %d not found on HealthWarehouse", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return e.Err }
