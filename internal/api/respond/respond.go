// Package respond writes the API's JSON envelopes: {"data": ...} on success
// and {"error": "..."} on failure, with the status taken from the apperr
// taxonomy.
package respond

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/PoyrazK/Mini-AWS/internal/apperr"
	"github.com/PoyrazK/Mini-AWS/internal/validation"
)

// requestIDKey mirrors middleware.RequestIDKey without importing middleware.
const requestIDKey = "request_id"

// Data writes {"data": v} with status.
func Data(c *gin.Context, status int, v interface{}) {
	c.JSON(status, gin.H{"data": v})
}

// NoContent writes an empty 204.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error writes {"error": msg} with the status mapped from err. Unclassified
// errors become a generic 500 and are logged with the request id.
func Error(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"request_id", c.GetString(requestIDKey),
			"error", err,
		)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": apperr.PublicMessage(err)})
}

// BindError writes a 400 for a request body that failed to decode or validate.
func BindError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": validation.Message(err)})
}
