package common

import (
	"fmt"
)

// ErrElementNotFound is returned when an element with the specified ID is not found.
type ErrElementNotFound struct {
	ID string
}

func (e ErrElementNotFound) Error() string {
	return fmt.Sprintf("element not found: %s", e.ID)
}

// ErrInvalidElementType is returned when an invalid element type is encountered.
type ErrInvalidElementType struct {
	Type string
}

func (e ErrInvalidElementType) Error() string {
	return fmt.Sprintf("invalid element type: %s", e.Type)
}

// ErrInvalidOperationType is returned when an invalid operation type is encountered.
type ErrInvalidOperationType struct {
	Type string
}

func (e ErrInvalidOperationType) Error() string {
	return fmt.Sprintf("invalid operation type: %s", e.Type)
}

// ErrInvalidOperation is returned when an operation is malformed.
type ErrInvalidOperation struct {
	Message string
}

func (e ErrInvalidOperation) Error() string {
	return fmt.Sprintf("invalid operation: %s", e.Message)
}

// ErrInvalidEncoding is returned when an invalid encoding format is encountered.
type ErrInvalidEncoding struct {
	Format string
}

func (e ErrInvalidEncoding) Error() string {
	return fmt.Sprintf("invalid encoding format: %s", e.Format)
}
