package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/fedibird/fedimind/internal/ingest"
)

// retryAfter is the Retry-After hint sent with transient failures
const retryAfter = 30

// Error represents an API error
type Error struct {
	Code    int    `json:"-"`
	Message string `json:"error"`
}

// NewError creates a new API error
func NewError(code int, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Code, e.Message)
}

// fromIngest maps a pipeline error onto an HTTP status. Rejections are
// final, transient failures ask the sender to come back later.
func fromIngest(err error) *Error {
	switch {
	case ingest.IsRejected(err):
		return NewError(http.StatusUnprocessableEntity, err.Error())
	case ingest.IsTransient(err):
		return NewError(http.StatusServiceUnavailable, "temporarily unavailable, retry later")
	default:
		return NewError(http.StatusInternalServerError, "internal error")
	}
}

func abortWithError(c *gin.Context, e *Error) {
	if e.Code == http.StatusServiceUnavailable {
		c.Header("Retry-After", strconv.Itoa(retryAfter))
	}
	c.AbortWithStatusJSON(e.Code, e)
}
