package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"tapeoutops/internal/repo"
)

var (
	// ErrStorageUnavailable marks failures of the document or evidence store.
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrNotImplemented     = errors.New("not implemented")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// StorageError wraps a store failure. It matches ErrStorageUnavailable.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
}

func (e StorageError) Unwrap() error { return e.Err }

func (e StorageError) Is(target error) bool { return target == ErrStorageUnavailable }

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

type ConflictError struct {
	Message string
}

func (e ConflictError) Error() string { return e.Message }

func IsNotFound(err error) bool {
	return errors.Is(err, repo.ErrNotFound)
}

// validationFromStruct converts the first validator failure into a ValidationError.
func validationFromStruct(err error) error {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) || len(ves) == 0 {
		return err
	}
	fe := ves[0]
	field := fe.Field()
	var msg string
	switch fe.Tag() {
	case "required":
		msg = "is required"
	case "email":
		msg = "must be a valid e-mail address"
	case "min":
		msg = "must be at least " + fe.Param() + " characters"
	case "max":
		msg = "must be at most " + fe.Param() + " characters"
	case "oneof":
		msg = "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "semver":
		msg = "must look like MAJOR.MINOR.PATCH"
	default:
		msg = "is invalid"
	}
	return ValidationError{Field: field, Message: msg}
}
