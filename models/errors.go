package models

import "fmt"

// Error codes used in run reports, API responses and internal error handling.
const (
	ErrCodeSessionInit   = "SESSION_INIT_FAILED"
	ErrCodeNavigation    = "NAVIGATION_FAILED"
	ErrCodeLoadTimeout   = "LOAD_TIMEOUT"
	ErrCodeInspection    = "INSPECTION_FAILED"
	ErrCodeExtraction    = "EXTRACTION_FAILED"
	ErrCodePersistence   = "PERSISTENCE_FAILED"
	ErrCodeRelease       = "RELEASE_FAILED"
	ErrCodeTimeout       = "SCRAPE_TIMEOUT"
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeRunInProgress = "RUN_IN_PROGRESS"
	ErrCodeNoChallenge   = "NO_PENDING_CHALLENGE"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeInternal      = "INTERNAL_ERROR"
)

// ErrorDetail is the structured error in reports and API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ScrapeError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type ScrapeError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *ScrapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// NewScrapeError creates a new ScrapeError.
func NewScrapeError(code, message string, err error) *ScrapeError {
	return &ScrapeError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to a report-facing ErrorDetail.
func (e *ScrapeError) ToDetail() *ErrorDetail {
	detail := &ErrorDetail{Code: e.Code, Message: e.Message}
	if e.Err != nil {
		detail.Message = e.Message + ": " + e.Err.Error()
	}
	return detail
}
