// Package apperr holds the error taxonomy shared by services and handlers.
package apperr

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

var (
	// ErrNotFound deliberately does not say whether the row exists in another dojo.
	ErrNotFound       = errors.New("not found or not authorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNoTenant       = errors.New("user is not assigned to a dojo")
	ErrConflict       = errors.New("conflict")
	ErrBatchRunning   = errors.New("batch already running")
	ErrAlreadySettled = errors.New("contribution already settled")
)

// ValidationError is returned before any write when input is malformed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func Validation(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ToFiber maps service errors onto HTTP errors. Unknown errors become 500
// without leaking their text.
func ToFiber(err error) error {
	if err == nil {
		return nil
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe
	}
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return fiber.NewError(fiber.StatusBadRequest, ve.Error())
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, ErrNotFound.Error())
	case errors.Is(err, ErrNoTenant):
		return fiber.NewError(fiber.StatusForbidden, ErrNoTenant.Error())
	case errors.Is(err, ErrForbidden):
		return fiber.NewError(fiber.StatusForbidden, "forbidden")
	case errors.Is(err, ErrBatchRunning):
		return fiber.NewError(fiber.StatusConflict, ErrBatchRunning.Error())
	case errors.Is(err, ErrAlreadySettled):
		return fiber.NewError(fiber.StatusConflict, ErrAlreadySettled.Error())
	case errors.Is(err, ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}
	return fiber.NewError(fiber.StatusInternalServerError, "unexpected server error")
}
