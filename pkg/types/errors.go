package types

import "fmt"

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeAuthorization ErrorType = "authorization"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeConflict      ErrorType = "conflict"
	ErrorTypeInternal      ErrorType = "internal"
)

// MedrexError represents a structured error in the ledger
type MedrexError struct {
	Type    ErrorType              `json:"type"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *MedrexError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *MedrexError) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same error code, so that
// errors.Is(err, types.ErrUnauthorized) holds for wrapped copies too.
func (e *MedrexError) Is(target error) bool {
	t, ok := target.(*MedrexError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetails returns a copy of the error carrying the given details
func (e *MedrexError) WithDetails(details map[string]interface{}) *MedrexError {
	cp := *e
	cp.Details = details
	return &cp
}

// NewValidationError creates a new validation error
func NewValidationError(code, message string, details map[string]interface{}) *MedrexError {
	return &MedrexError{
		Type:    ErrorTypeValidation,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// NewAuthorizationError creates a new authorization error
func NewAuthorizationError(code, message string) *MedrexError {
	return &MedrexError{
		Type:    ErrorTypeAuthorization,
		Code:    code,
		Message: message,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(code, message string) *MedrexError {
	return &MedrexError{
		Type:    ErrorTypeNotFound,
		Code:    code,
		Message: message,
	}
}

// NewConflictError creates a new conflict error
func NewConflictError(code, message string) *MedrexError {
	return &MedrexError{
		Type:    ErrorTypeConflict,
		Code:    code,
		Message: message,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(code, message string, cause error) *MedrexError {
	return &MedrexError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Error codes
const (
	ErrCodeAlreadyRegistered     = "ALREADY_REGISTERED"
	ErrCodeInvalidRole           = "INVALID_ROLE"
	ErrCodeEmptyName             = "EMPTY_NAME"
	ErrCodeNotRegistered         = "NOT_REGISTERED"
	ErrCodeWrongRole             = "WRONG_ROLE"
	ErrCodeEmptyPayloadReference = "EMPTY_PAYLOAD_REFERENCE"
	ErrCodeRecordNotFound        = "RECORD_NOT_FOUND"
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeGranteeNotDoctor      = "GRANTEE_NOT_DOCTOR"
	ErrCodeGranteeNotRegistered  = "GRANTEE_NOT_REGISTERED"
	ErrCodeNoActivePermission    = "NO_ACTIVE_PERMISSION"
	ErrCodeAdminOnly             = "ADMIN_ONLY"
	ErrCodeAdminAlreadySet       = "ADMIN_ALREADY_SET"
	ErrCodeInvalidInput          = "INVALID_INPUT"
	ErrCodeInternalError         = "INTERNAL_ERROR"
)

// Ledger error kinds. Every validation failure surfaces one of these verbatim.
var (
	ErrAlreadyRegistered     = NewConflictError(ErrCodeAlreadyRegistered, "identity is already registered")
	ErrInvalidRole           = NewValidationError(ErrCodeInvalidRole, "role must be patient or doctor", nil)
	ErrEmptyName             = NewValidationError(ErrCodeEmptyName, "name must not be empty", nil)
	ErrNotRegistered         = NewAuthorizationError(ErrCodeNotRegistered, "caller is not registered")
	ErrWrongRole             = NewAuthorizationError(ErrCodeWrongRole, "caller role does not permit this operation")
	ErrEmptyPayloadReference = NewValidationError(ErrCodeEmptyPayloadReference, "payload reference must not be empty", nil)
	ErrRecordNotFound        = NewNotFoundError(ErrCodeRecordNotFound, "record does not exist")
	ErrUnauthorized          = NewAuthorizationError(ErrCodeUnauthorized, "caller is not authorized for this resource")
	ErrGranteeNotDoctor      = NewValidationError(ErrCodeGranteeNotDoctor, "grantee is not a doctor", nil)
	ErrGranteeNotRegistered  = NewValidationError(ErrCodeGranteeNotRegistered, "grantee is not registered", nil)
	ErrNoActivePermission    = NewConflictError(ErrCodeNoActivePermission, "no active permission for this doctor")
	ErrAdminOnly             = NewAuthorizationError(ErrCodeAdminOnly, "only the administrator may perform this operation")

	// ErrAdminAlreadySet is returned when bootstrap names a different administrator
	ErrAdminAlreadySet = NewConflictError(ErrCodeAdminAlreadySet, "ledger administrator is already initialized")
)
