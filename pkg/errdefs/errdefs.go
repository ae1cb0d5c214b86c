package errdefs

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors define the stable, machine-readable kinds the core
// raises. Callers classify with errors.Is (or the Is* helpers) and must
// never parse message text.
var (
	// ErrNotFound indicates a referenced lease/reservation/host/event
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a unique-constraint violation on create
	// (duplicate name or id). The caller may retry with a different
	// identifier.
	ErrConflict = errors.New("already exists")

	// ErrInvalidInput indicates caller-supplied data is structurally or
	// semantically invalid (bad dates, malformed values).
	ErrInvalidInput = errors.New("invalid input")

	// ErrMissingParameter indicates a required parameter was absent.
	ErrMissingParameter = errors.New("missing parameter")

	// ErrMalformedParameter indicates a parameter that was present but
	// could not be parsed (wrong type, bad filter expression).
	ErrMalformedParameter = errors.New("malformed parameter")

	// ErrInvalidRange indicates a numeric range constraint violation
	// (min > max, non-positive counts).
	ErrInvalidRange = errors.New("invalid range")

	// ErrNotAuthorized indicates a usage-enforcement or policy veto.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrNotEnoughResources indicates the allocation search found fewer
	// qualifying units than the reservation's minimum.
	ErrNotEnoughResources = errors.New("not enough resources available")

	// ErrInvalidStatus indicates an operation was attempted against a
	// lease or reservation whose current status does not permit it. The
	// event scheduler treats this kind as retryable.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrUnavailable indicates a transient infrastructure failure
	// (provisioning backend or store unreachable).
	ErrUnavailable = errors.New("unavailable")
)

// NotFound wraps msg as an ErrNotFound
func NotFound(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// Conflict wraps msg as an ErrConflict
func Conflict(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrConflict)...)
}

// InvalidInput wraps msg as an ErrInvalidInput
func InvalidInput(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidInput)...)
}

// MissingParameter wraps msg as an ErrMissingParameter
func MissingParameter(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrMissingParameter)...)
}

// MalformedParameter wraps msg as an ErrMalformedParameter
func MalformedParameter(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrMalformedParameter)...)
}

// InvalidRange wraps msg as an ErrInvalidRange
func InvalidRange(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidRange)...)
}

// NotAuthorized wraps msg as an ErrNotAuthorized
func NotAuthorized(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotAuthorized)...)
}

// NotEnoughResources wraps msg as an ErrNotEnoughResources
func NotEnoughResources(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotEnoughResources)...)
}

// InvalidStatus wraps msg as an ErrInvalidStatus
func InvalidStatus(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidStatus)...)
}

// Unavailable wraps msg as an ErrUnavailable
func Unavailable(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrUnavailable)...)
}

func IsNotFound(err error) bool           { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool           { return errors.Is(err, ErrConflict) }
func IsInvalidInput(err error) bool       { return errors.Is(err, ErrInvalidInput) }
func IsMissingParameter(err error) bool   { return errors.Is(err, ErrMissingParameter) }
func IsMalformedParameter(err error) bool { return errors.Is(err, ErrMalformedParameter) }
func IsInvalidRange(err error) bool       { return errors.Is(err, ErrInvalidRange) }
func IsNotAuthorized(err error) bool      { return errors.Is(err, ErrNotAuthorized) }
func IsNotEnoughResources(err error) bool { return errors.Is(err, ErrNotEnoughResources) }
func IsInvalidStatus(err error) bool      { return errors.Is(err, ErrInvalidStatus) }
func IsUnavailable(err error) bool        { return errors.Is(err, ErrUnavailable) }

// IsValidation reports whether the error is any caller-input kind that
// must be rejected before persistence or provisioning side effects.
func IsValidation(err error) bool {
	return IsInvalidInput(err) || IsMissingParameter(err) ||
		IsMalformedParameter(err) || IsInvalidRange(err)
}

// HTTPStatus maps an error kind to the status code the REST façade
// returns. Unclassified errors are internal server errors; their raw
// text (which may contain store internals) is not for end users.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsNotFound(err):
		return http.StatusNotFound
	case IsNotAuthorized(err):
		return http.StatusForbidden
	case IsConflict(err):
		return http.StatusConflict
	case IsValidation(err), IsNotEnoughResources(err), IsInvalidStatus(err):
		return http.StatusBadRequest
	case IsUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
