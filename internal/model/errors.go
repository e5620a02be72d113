package model

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is a stable machine-readable error category. Codes are part of
// the wire contract; clients switch on them, so they never change.
type ErrorCode string

const (
	CodeMalformedQuery     ErrorCode = "MALFORMED_QUERY"
	CodeCollectionNotFound ErrorCode = "COLLECTION_NOT_FOUND"
	CodeDocumentNotFound   ErrorCode = "DOCUMENT_NOT_FOUND"
	CodeConflict           ErrorCode = "CONFLICT"
	CodeStorage            ErrorCode = "STORAGE_ERROR"
	CodeDispatch           ErrorCode = "DISPATCH_ERROR"
	CodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	CodeForbidden          ErrorCode = "FORBIDDEN"
	CodeValidation         ErrorCode = "VALIDATION_FAILED"
)

// Error is the standardized application error carried across layers.
// Err holds the internal cause for logging; it is never serialized.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Field   string    `json:"field,omitempty"`
	Err     error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors by code so callers can compare against sentinel values.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

func MalformedQuery(format string, args ...any) *Error {
	return &Error{Code: CodeMalformedQuery, Message: fmt.Sprintf(format, args...)}
}

func CollectionNotFound(name string) *Error {
	return &Error{Code: CodeCollectionNotFound, Message: fmt.Sprintf("collection %q not found", name)}
}

func DocumentNotFound(collection, id string) *Error {
	msg := fmt.Sprintf("no matching document in collection %q", collection)
	if id != "" {
		msg = fmt.Sprintf("document %q not found in collection %q", id, collection)
	}
	return &Error{Code: CodeDocumentNotFound, Message: msg}
}

// Conflict reports a uniqueness violation. field is the indexed field when
// it can be recovered from the storage error, otherwise empty.
func Conflict(field string, err error) *Error {
	msg := "uniqueness constraint violated"
	if field != "" {
		msg = fmt.Sprintf("uniqueness constraint violated on field %q", field)
	}
	return &Error{Code: CodeConflict, Message: msg, Field: field, Err: err}
}

// Storage wraps an underlying engine failure. The message stays generic so
// internal engine detail is not leaked to callers.
func Storage(err error) *Error {
	return &Error{Code: CodeStorage, Message: "storage engine failure", Err: err}
}

func Validation(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

func Unauthorized(message string) *Error {
	return &Error{Code: CodeUnauthorized, Message: message}
}

func Forbidden(message string) *Error {
	return &Error{Code: CodeForbidden, Message: message}
}

// CodeOf extracts the error code, defaulting to CodeStorage for untyped
// errors so unknown failures always surface as 5xx-equivalent.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeStorage
}

// HTTPStatus maps an error to its HTTP-equivalent status.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeMalformedQuery, CodeValidation:
		return http.StatusBadRequest
	case CodeCollectionNotFound, CodeDocumentNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
