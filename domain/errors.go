package domain

import (
	"errors"
	"net/http"
)

// Kind tags a failure at the point where it occurs so the HTTP layer can map
// it without inspecting concrete error types.
type Kind int

const (
	// KindUnclassified covers everything that was not tagged.
	KindUnclassified Kind = iota
	// KindSchemaViolation: a write broke a field constraint of the task schema.
	KindSchemaViolation
	// KindDuplicate: a write collided with a value that must be unique.
	KindDuplicate
	// KindInvalidID: an identifier that does not parse reached the store.
	KindInvalidID
	// KindValidationFailed: the request was rejected before reaching the controller.
	KindValidationFailed
	// KindNotFound: the addressed task does not exist.
	KindNotFound
	// KindStatus: an error raised with an explicit HTTP status code.
	KindStatus
)

var kindNames = map[Kind]string{
	KindUnclassified:     "unclassified",
	KindSchemaViolation:  "schema_violation",
	KindDuplicate:        "duplicate",
	KindInvalidID:        "invalid_id",
	KindValidationFailed: "validation_failed",
	KindNotFound:         "not_found",
	KindStatus:           "status",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// ConstraintViolation reports whether k was raised by the persistence layer
// while enforcing the schema, a uniqueness rule or the identifier format.
func (k Kind) ConstraintViolation() bool {
	return k == KindSchemaViolation || k == KindDuplicate || k == KindInvalidID
}

// Location tells where a rejected request value came from.
type Location string

const (
	InBody   Location = "body"
	InParams Location = "params"
	InQuery  Location = "query"
)

// FieldError is a single field-level rejection.
type FieldError struct {
	Location Location `json:"location,omitempty"`
	Field    string   `json:"field"`
	Message  string   `json:"message"`
}

// Error is the tagged failure used throughout the service.
type Error struct {
	Kind    Kind
	Message string
	// Violations is set for KindSchemaViolation and KindValidationFailed, in order.
	Violations []FieldError
	// Field and Value name the offending input for KindDuplicate and KindInvalidID.
	Field string
	Value string
	// Code is the HTTP status for KindNotFound and KindStatus.
	Code int
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	case len(e.Violations) > 0:
		return e.Violations[0].Message
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// ValidationFailed tags request violations found by the validation pipeline.
func ValidationFailed(v []FieldError) *Error {
	return &Error{Kind: KindValidationFailed, Violations: v}
}

// SchemaViolation tags field constraint violations found at write time.
func SchemaViolation(v []FieldError) *Error {
	return &Error{Kind: KindSchemaViolation, Violations: v}
}

// Duplicate tags a uniqueness collision on field.
func Duplicate(field, value string, cause error) *Error {
	return &Error{Kind: KindDuplicate, Field: field, Value: value, Err: cause}
}

// InvalidID tags a malformed identifier reaching the store.
func InvalidID(field, value string) *Error {
	return &Error{Kind: KindInvalidID, Field: field, Value: value}
}

// NotFound tags a missing resource.
func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg, Code: http.StatusNotFound}
}

// WithStatus tags an error that must be answered with the given HTTP status.
func WithStatus(code int, msg string) *Error {
	return &Error{Kind: KindStatus, Message: msg, Code: code}
}

// ErrTaskNotFound is returned when the addressed task does not exist.
var ErrTaskNotFound = NotFound("Task not found")

// Classify returns the tagged error carried by err, or wraps err as
// KindUnclassified when nothing in its chain is tagged.
func Classify(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindUnclassified, Err: err}
}
