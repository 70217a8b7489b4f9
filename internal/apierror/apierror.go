package apierror

import (
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrConflict       ErrorCode = "CONFLICT"
	ErrBadRequest     ErrorCode = "BAD_REQUEST"
	ErrInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrInternalServer ErrorCode = "INTERNAL_SERVER_ERROR"
)

type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	logrus.Error(details)
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// NewInvalidProductsError reports requested products that do not exist or
// have no known available quantity. The offending ids ride in Details so the
// caller can itemize them.
func NewInvalidProductsError(productIDs []string) APIError {
	return APIError{
		Code:    ErrInvalidInput,
		Message: "one or more requested products are invalid",
		Details: productIDs,
	}
}

// NewInsufficientInventoryError reports that the atomic reserve declined the
// request. Distinct from invalid products: the products exist, the combined
// demand does not fit.
func NewInsufficientInventoryError(productIDs []string) APIError {
	return APIError{
		Code:    ErrConflict,
		Message: "insufficient inventory for requested products",
		Details: productIDs,
	}
}

func MapErrorToHTTPStatus(err error) int {
	if apiErr, ok := err.(APIError); ok {
		switch apiErr.Code {
		case ErrNotFound:
			return http.StatusNotFound
		case ErrConflict:
			return http.StatusConflict
		case ErrBadRequest, ErrInvalidInput:
			return http.StatusBadRequest
		case ErrInternalServer:
			return http.StatusInternalServerError
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}
