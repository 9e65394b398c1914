package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/nullcrew/taskforge/internal/corrid"
)

// CorrelationID injects a correlation id into the request context and
// response header, so it shows up on log lines written with the
// request's context. It is not stored on a task the request schedules,
// so that task's execution logs do not carry it. If the incoming
// request already carries
// X-Correlation-ID, it is preserved; otherwise a new id is generated.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Correlation-ID")
		if id == "" {
			id = corrid.New()
		}

		ctx := corrid.WithID(c.Request.Context(), id)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Correlation-ID", id)
		c.Next()
	}
}
