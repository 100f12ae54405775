package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chatloom/chatloom/pkg/models"
)

// statusForKind maps a domain error kind to its HTTP status. Lookup walks the
// exact kind only; unmapped kinds (and non-domain errors) answer 500.
var statusForKind = map[models.ErrorKind]int{
	models.KindValidation:           http.StatusBadRequest,
	models.KindSessionNotFound:      http.StatusNotFound,
	models.KindAuthentication:       http.StatusUnauthorized,
	models.KindLLMAuthentication:    http.StatusUnauthorized,
	models.KindAuthorization:        http.StatusForbidden,
	models.KindToolAuthorization:    http.StatusForbidden,
	models.KindDataSourcePermission: http.StatusForbidden,
	models.KindRateLimit:            http.StatusTooManyRequests,
	models.KindLLMTimeout:           http.StatusGatewayTimeout,
	models.KindLLMService:           http.StatusBadGateway,
	models.KindLLM:                  http.StatusBadGateway,
}

// writeError renders an error as a JSON response. Domain errors expose their
// message; anything else is logged and answered generically.
func writeError(c *gin.Context, err error) {
	var de *models.DomainError
	if errors.As(err, &de) {
		status, ok := statusForKind[de.Kind]
		if !ok {
			status = http.StatusInternalServerError
		}
		c.JSON(status, gin.H{
			"type":    "error",
			"kind":    string(de.Kind),
			"message": de.Message,
		})
		return
	}

	slog.Default().Error("Unhandled API error", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"type":    "error",
		"message": "An unexpected error occurred.",
	})
}
