package log

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// GinMiddleware logs every request on the internal gin server, including the
// caller identity set by the auth middleware.
func GinMiddleware(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		scope := newRequestScope(logger, c.GetHeader(headerRequestID), c.Request.Method, c.Request.URL.Path, c.ClientIP())
		c.Header(headerRequestID, scope.id)
		c.Request = c.Request.WithContext(WithLogger(c.Request.Context(), scope.logger))

		c.Next()

		evt := scope.logger.Info().
			Int(FieldStatus, c.Writer.Status()).
			Float64(FieldLatency, scope.elapsedMs())
		if userID := c.GetString(FieldUserID); userID != "" {
			evt = evt.Str(FieldUserID, userID)
		}
		if roles := c.GetStringSlice(FieldRoles); len(roles) > 0 {
			evt = evt.Strs(FieldRoles, roles)
		}
		if len(c.Errors) > 0 {
			evt = evt.Str("errors", c.Errors.String())
		}
		evt.Msg("request completed")
	}
}
