// Package types provides shared types, interfaces, and errors for the application.
package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for consistent error handling across the application.
// These errors can be checked with errors.Is() for type-safe error handling.
var (
	// Settings errors
	ErrConfirmationRequired = errors.New("reset requires explicit confirmation")
	ErrInvalidImport        = errors.New("invalid settings import")
	ErrUnknownPreset        = errors.New("unknown theme preset")
	ErrInvalidPattern       = errors.New("invalid exclusion pattern")
	ErrInvalidTime          = errors.New("invalid time of day, expected HH:MM")

	// Storage errors
	ErrKeyNotFound  = errors.New("key not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidValue = errors.New("stored value could not be decoded")

	// Session errors
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionAlreadyExists = errors.New("session already exists")
	ErrTooManySessions      = errors.New("maximum number of sessions reached")
	ErrSessionPageNil       = errors.New("session page is nil or has been closed")
	ErrManagerClosed        = errors.New("session manager is closed")

	// Browser errors
	ErrBrowserLaunch = errors.New("failed to launch browser")
	ErrBrowserClosed = errors.New("browser is closed")

	// Controller errors
	ErrControllerClosed = errors.New("controller is closed")
	ErrSiteExcluded     = errors.New("site is excluded from dark mode")

	// Request errors
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidURL     = errors.New("invalid URL")
	ErrInvalidCommand = errors.New("invalid command")

	// Context errors
	ErrContextCanceled = errors.New("operation canceled")
)

// ImportError describes why an import document was rejected.
// Existing state is never modified when an ImportError is returned.
type ImportError struct {
	Field   string // Offending field, empty when the document itself is malformed
	Message string
	Err     error
}

// Error implements the error interface.
func (e *ImportError) Error() string {
	if e.Field == "" {
		return "import failed: " + e.Message
	}
	return fmt.Sprintf("import failed: %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ImportError) Unwrap() error {
	return e.Err
}

// NewImportError creates an ImportError wrapping ErrInvalidImport.
func NewImportError(field, message string) *ImportError {
	return &ImportError{
		Field:   field,
		Message: message,
		Err:     ErrInvalidImport,
	}
}

// PatternError reports a single exclusion pattern that could not be used.
type PatternError struct {
	Pattern string
	Err     error
}

// Error implements the error interface.
func (e *PatternError) Error() string {
	return fmt.Sprintf("exclusion pattern %q: %v", e.Pattern, e.Err)
}

// Unwrap returns the underlying error.
func (e *PatternError) Unwrap() error {
	return e.Err
}

// DOMError records a per-element DOM failure. These are skipped, never fatal.
type DOMError struct {
	Operation string
	Node      int64
	Err       error
}

// Error implements the error interface.
func (e *DOMError) Error() string {
	if e.Node == 0 {
		return fmt.Sprintf("dom %s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("dom %s on node %d: %v", e.Operation, e.Node, e.Err)
}

// Unwrap returns the underlying error.
func (e *DOMError) Unwrap() error {
	return e.Err
}
