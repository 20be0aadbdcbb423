package middleware

import (
	"errors"
	"net/http"

	"placequest-core/pkg/errutil"

	"github.com/gin-gonic/gin"
)

// Error renders the last error a handler attached to the context. BaseError
// values map to their own status; anything else is an opaque 500.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		err := c.Errors.Last()
		if err == nil {
			return
		}

		var be errutil.BaseError
		if errors.As(err.Err, &be) {
			c.JSON(be.Code.HTTPStatus(), be.JSON())
			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    errutil.StatusInternal,
				"message": "internal error",
			},
		})
	}
}
