package models

import (
	"errors"
	"fmt"
)

// Error codes used in logs, per-identifier outcomes and API responses.
const (
	ErrCodeNavigation          = "NAVIGATION_FAILED"
	ErrCodeResolution          = "RESOLUTION_FAILED"
	ErrCodeFieldExtraction     = "FIELD_EXTRACTION_FAILED"
	ErrCodeDownload            = "DOWNLOAD_FAILED"
	ErrCodeBrowserDisconnected = "BROWSER_DISCONNECTED"
	ErrCodeInterrupted         = "INTERRUPTED"
	ErrCodePageUnreadable      = "PAGE_UNREADABLE"
	ErrCodeInvalidInput        = "INVALID_INPUT"

	// Status API error codes.
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HarvestError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type HarvestError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *HarvestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *HarvestError) Unwrap() error {
	return e.Err
}

// NewHarvestError creates a new HarvestError.
func NewHarvestError(code, message string, err error) *HarvestError {
	return &HarvestError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *HarvestError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}

// CodeOf returns the code of the outermost HarvestError in err's chain,
// or ErrCodeInternal when there is none. A nil error has no code.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var he *HarvestError
	if errors.As(err, &he) {
		return he.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}
