package daemon

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// loggerMiddleware logs every request with the action it carried, status
// code, and latency.
func (s *Server) loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.log.WithFields(logrus.Fields{
			"action":   c.Request.FormValue("action"),
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
			"remote":   c.ClientIP(),
		}).Info("daemon request")
	}
}

// recoveryMiddleware recovers panics in a single handler so one bad
// request can't take down a daemon serving many repos.
func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				s.log.WithField("panic", err).Error("recovered panic in daemon handler")
				c.AbortWithStatus(500)
			}
		}()
		c.Next()
	}
}
