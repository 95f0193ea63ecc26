package wire

import (
	"errors"
	"fmt"
	"strings"
)

// Decode and encode failures. Every decode error is terminal for the call that
// produced it; callers match them with errors.Is.
var (
	ErrMalformedVarint     = errors.New("malformed varint")
	ErrTruncatedMessage    = errors.New("truncated message")
	ErrInvalidWireType     = errors.New("invalid wire type")
	ErrInvalidFieldNumber  = errors.New("invalid field number")
	ErrFrameOverrun        = errors.New("nested message overran its declared length")
	ErrUnbalancedFork      = errors.New("unbalanced writer fork")
	ErrWireTypeMismatch    = errors.New("wire type does not match field kind")
	ErrRecursionLimit      = errors.New("message nesting exceeds recursion limit")
	ErrUnknownField        = errors.New("unknown field")
	ErrTypeMismatch        = errors.New("value type does not match field kind")
	ErrInvalidLongLiteral  = errors.New("invalid 64-bit integer literal")
	ErrUnresolvedReference = errors.New("unresolved type reference")
)

// FieldError represents an encoding/decoding error with a field path.
type FieldError struct {
	FieldPath  []string // e.g., ["timeseries", "samples", "value"]
	Err        error    // underlying error
	IsDecoding bool     // true for decoding errors, false for encoding errors
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	if len(e.FieldPath) == 0 {
		return e.Err.Error()
	}

	errorType := "encoding"
	if e.IsDecoding {
		errorType = "decoding"
	}
	return fmt.Sprintf("%s error at field path %s: %v", errorType, strings.Join(e.FieldPath, "."), e.Err)
}

// Unwrap returns the underlying error.
func (e *FieldError) Unwrap() error {
	return e.Err
}

// Path returns the dotted field path.
func (e *FieldError) Path() string {
	return strings.Join(e.FieldPath, ".")
}

// WrapEncodeField prefixes err's field path with fieldName.
func WrapEncodeField(err error, fieldName string) error {
	return wrapField(err, fieldName, false)
}

// WrapDecodeField prefixes err's field path with fieldName and marks the
// error as a decoding failure.
func WrapDecodeField(err error, fieldName string) error {
	return wrapField(err, fieldName, true)
}

// wrapField keeps a single FieldError at the top of the chain, so nesting
// extends the path instead of repeating the message.
func wrapField(err error, fieldName string, decoding bool) error {
	if err == nil {
		return nil
	}

	var fe *FieldError
	if errors.As(err, &fe) {
		return &FieldError{
			FieldPath:  append([]string{fieldName}, fe.FieldPath...),
			Err:        fe.Err,
			IsDecoding: fe.IsDecoding,
		}
	}

	return &FieldError{
		FieldPath:  []string{fieldName},
		Err:        err,
		IsDecoding: decoding,
	}
}
