package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/GoLogware/loggate/internal/correlation"
)

const HeaderCorrelationID = "X-Correlation-ID"

// CorrelationMiddleware opens a correlation scope for each request,
// reusing the caller's id when the header is present and minting one
// otherwise. The id is echoed on the response so callers can stitch
// their traces together.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderCorrelationID)
		if id == "" {
			id = correlation.Generate("req")
		}
		ctx := correlation.With(c.Request.Context(), id)
		c.Request = c.Request.WithContext(ctx)
		c.Header(HeaderCorrelationID, id)
		c.Next()
	}
}
