package httpx

import (
	"fmt"
	"net/http"
)

// Business error codes
const (
	CodeSuccess = 0

	// Authentication/Authorization errors (1000-1099)
	CodeUnauthorized  = 1001 // Token missing
	CodeInvalidToken  = 1002
	CodeTokenExpired  = 1003
	CodeForbidden     = 1004 // Role not allowed
	CodeRoomForbidden = 1005 // Room membership refused

	// Parameter errors (2000-2099)
	CodeParamMissing = 2001
	CodeParamInvalid = 2002
	CodeUnknownTopic = 2003 // Topic is not one of the five PPE topics

	// Resource errors (3000-3999)
	CodeNotFound      = 3001
	CodeReplayExpired = 3002 // lastEventId fell out of the replay window

	// System errors (5000-5999)
	CodeInternalError = 5001
	CodeDatabaseError = 5002
	CodePublishError  = 5003 // Event stored but fan-out failed
)

// AppError represents an application error with HTTP status and business code
type AppError struct {
	HTTPStatus int         // HTTP status code
	Code       int         // Business error code
	Message    string      // User-facing error message
	Err        error       // Internal error, logged only
	Data       interface{} // Additional detail for the client
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("code=%d, message=%s, err=%v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("code=%d, message=%s", e.Code, e.Message)
}

// Unwrap exposes the internal error to errors.Is/As
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithData adds additional data to the error
func (e *AppError) WithData(data interface{}) *AppError {
	e.Data = data
	return e
}

// NewAppError creates a new AppError
func NewAppError(httpStatus, code int, message string, err error) *AppError {
	return &AppError{
		HTTPStatus: httpStatus,
		Code:       code,
		Message:    message,
		Err:        err,
	}
}

func orDefault(message, def string) string {
	if message == "" {
		return def
	}
	return message
}

// ErrUnauthorized creates a 401 unauthorized error
func ErrUnauthorized(message string) *AppError {
	return NewAppError(http.StatusUnauthorized, CodeUnauthorized, orDefault(message, "unauthorized"), nil)
}

// ErrInvalidToken creates a 401 invalid token error
func ErrInvalidToken(message string) *AppError {
	return NewAppError(http.StatusUnauthorized, CodeInvalidToken, orDefault(message, "invalid token"), nil)
}

// ErrTokenExpired creates a 401 token expired error
func ErrTokenExpired(message string) *AppError {
	return NewAppError(http.StatusUnauthorized, CodeTokenExpired, orDefault(message, "token expired"), nil)
}

// ErrForbidden creates a 403 forbidden error
func ErrForbidden(message string) *AppError {
	return NewAppError(http.StatusForbidden, CodeForbidden, orDefault(message, "forbidden"), nil)
}

// ErrRoomForbidden creates a 403 error for a refused room join
func ErrRoomForbidden(room string) *AppError {
	return NewAppError(http.StatusForbidden, CodeRoomForbidden, fmt.Sprintf("not allowed to join room %s", room), nil)
}

// ErrParamMissing creates a 400 parameter missing error
func ErrParamMissing(message string) *AppError {
	return NewAppError(http.StatusBadRequest, CodeParamMissing, orDefault(message, "parameter missing"), nil)
}

// ErrParamInvalid creates a 400 parameter invalid error
func ErrParamInvalid(message string) *AppError {
	return NewAppError(http.StatusBadRequest, CodeParamInvalid, orDefault(message, "parameter format error"), nil)
}

// ErrUnknownTopic creates a 400 error for a topic outside the PPE set
func ErrUnknownTopic(topic string) *AppError {
	return NewAppError(http.StatusBadRequest, CodeUnknownTopic, fmt.Sprintf("unknown topic %q", topic), nil)
}

// ErrNotFound creates a 404 not found error
func ErrNotFound(message string) *AppError {
	return NewAppError(http.StatusNotFound, CodeNotFound, orDefault(message, "resource not found"), nil)
}

// ErrReplayExpired creates a 410 error telling the client to reload instead of replaying
func ErrReplayExpired(lastEventID string) *AppError {
	return NewAppError(http.StatusGone, CodeReplayExpired, "event history no longer available", nil).
		WithData(map[string]string{"lastEventId": lastEventID})
}

// ErrInternalError creates a 500 internal error
func ErrInternalError(message string, err error) *AppError {
	return NewAppError(http.StatusInternalServerError, CodeInternalError, orDefault(message, "internal error"), err)
}

// ErrDatabaseError creates a 500 database error
func ErrDatabaseError(message string, err error) *AppError {
	return NewAppError(http.StatusInternalServerError, CodeDatabaseError, orDefault(message, "database error"), err)
}

// ErrPublishError creates a 502 error for a failed fan-out
func ErrPublishError(message string, err error) *AppError {
	return NewAppError(http.StatusBadGateway, CodePublishError, orDefault(message, "event fan-out failed"), err)
}
