package checkout

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is the machine-readable failure class surfaced to callers.
// Raw gateway error text never reaches the client.
type ErrorCode string

const (
	ErrInvalidSubmissionID         ErrorCode = "INVALID_SUBMISSION_ID"
	ErrInvalidAddOnCode            ErrorCode = "INVALID_ADDON_CODE"
	ErrInvalidDiscountCode         ErrorCode = "INVALID_DISCOUNT_CODE"
	ErrRateLimitExceeded           ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrMissingCustomerEmail        ErrorCode = "MISSING_CUSTOMER_EMAIL"
	ErrScheduleWithoutSubscription ErrorCode = "SCHEDULE_WITHOUT_SUBSCRIPTION"
	ErrGateway                     ErrorCode = "GATEWAY_ERROR"
	ErrSubmissionNotFound          ErrorCode = "SUBMISSION_NOT_FOUND"
)

type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapGateway classifies a transport/API failure as GATEWAY_ERROR unless the
// error already carries a code.
func WrapGateway(err error, message string) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	return &Error{Code: ErrGateway, Message: message, Err: err}
}

// CodeOf extracts the error code, or GATEWAY_ERROR for untyped errors.
func CodeOf(err error) ErrorCode {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ErrGateway
}

// HTTPStatus maps an error code to the response status.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrInvalidSubmissionID, ErrInvalidAddOnCode, ErrInvalidDiscountCode, ErrMissingCustomerEmail:
		return http.StatusBadRequest
	case ErrRateLimitExceeded:
		return http.StatusTooManyRequests
	case ErrSubmissionNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}
