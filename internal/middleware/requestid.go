package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/artistbot/logostudy-backend/internal/requestdata"
)

const requestIDHeader = "X-Request-ID"

// RequestID attaches a correlation id to every request context and echoes it
// back in the response headers.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		ctx := requestdata.WithRequestData(c.Request.Context(), &requestdata.RequestData{RequestID: id})
		c.Request = c.Request.WithContext(ctx)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}
