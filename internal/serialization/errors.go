package serialization

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrChecksumMismatch = errors.New("checksum mismatch: file may be corrupted")
	ErrHeaderTooLarge   = errors.New("header exceeds maximum size")
	ErrMissingTensor    = errors.New("missing tensor")
)

// ValidationErrorType classifies a rejected header.
type ValidationErrorType string

// Header rejections reported by the reader and writer.
const (
	TypeTooManyTensors ValidationErrorType = "too_many_tensors"
	TypeNegativeOffset ValidationErrorType = "negative_offset"
	TypeOutOfBounds    ValidationErrorType = "out_of_bounds"
	TypeOffsetOverlap  ValidationErrorType = "offset_overlap"
	TypeSizeMismatch   ValidationErrorType = "size_mismatch"
	TypeInvalidName    ValidationErrorType = "invalid_name"
	TypeNameTooLong    ValidationErrorType = "name_too_long"
)

// ValidationError describes a header that does not describe its data section.
type ValidationError struct {
	Type    ValidationErrorType
	Tensor  string // First tensor involved, if any.
	Tensor2 string // Second tensor of an overlap.
	Details string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Tensor2 != "" {
		return fmt.Sprintf("%s: tensors %q and %q: %s", e.Type, e.Tensor, e.Tensor2, e.Details)
	}
	if e.Tensor != "" {
		return fmt.Sprintf("%s: tensor %q: %s", e.Type, e.Tensor, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Details)
}
