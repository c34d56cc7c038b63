// internal/pkg/response/response.go
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorBody is the standard error payload. Successful responses of the
// public endpoints use their own shapes and bypass this package.
type ErrorBody struct {
	Error string `json:"error"`
}

// Error sends a standardized error response and aborts the chain.
func Error(c *gin.Context, code int, message string) {
	c.Abort()
	c.JSON(code, ErrorBody{Error: message})
}

// ValidationError sends a 400 Bad Request response for invalid input.
func ValidationError(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, message)
}

// Unauthorized sends a 401 Unauthorized response.
func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, message)
}

// Forbidden sends a 403 Forbidden response.
func Forbidden(c *gin.Context, message string) {
	Error(c, http.StatusForbidden, message)
}

// NotFound sends a 404 Not Found response.
func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, message)
}

// Unavailable sends a 503 response with a retry hint for transient
// infrastructure failures.
func Unavailable(c *gin.Context, message string) {
	c.Abort()
	c.Header("Retry-After", "5")
	c.JSON(http.StatusServiceUnavailable, ErrorBody{Error: message})
}
