package status

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorInfo is an error returned by the admin API.
//
// Message is returned to the caller so must only describe user visible
// state. Err is the internal cause, if any, which is logged but never
// returned.
type ErrorInfo struct {
	StatusCode int

	Message string

	Err error
}

func NewErrorInfo(statusCode int, message string) *ErrorInfo {
	return &ErrorInfo{
		StatusCode: statusCode,
		Message:    message,
	}
}

// WithCause returns a copy of the error with the given internal cause.
func (e *ErrorInfo) WithCause(err error) *ErrorInfo {
	return &ErrorInfo{
		StatusCode: e.StatusCode,
		Message:    e.Message,
		Err:        err,
	}
}

func (e *ErrorInfo) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d: %s: %s", e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%d: %s", e.StatusCode, e.Message)
}

func (e *ErrorInfo) Unwrap() error {
	return e.Err
}

// ErrorResponse is the body of an admin API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// WriteError writes err as a JSON error response. Errors that are not an
// ErrorInfo are written as an internal error with no details.
func WriteError(c *gin.Context, err error) {
	var errorInfo *ErrorInfo
	if errors.As(err, &errorInfo) {
		c.JSON(errorInfo.StatusCode, &ErrorResponse{Error: errorInfo.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, &ErrorResponse{
		Error: http.StatusText(http.StatusInternalServerError),
	})
}
