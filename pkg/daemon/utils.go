package daemon

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const requestIDHeader = "X-Request-Id"

// pollPaths are read by status tools every second or two. Successful reads
// are logged at trace level only.
var pollPaths = map[string]bool{
	"/telemetry":   true,
	"/calibration": true,
	"/version":     true,
}

// ginLogger logs each request through logger and tags it with a request ID,
// taken from the client when it sent one.
func ginLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)

		// Handlers may rewrite the path.
		path := c.Request.URL.Path
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		statusCode := c.Writer.Status()

		entry := logger.WithFields(logrus.Fields{
			"request":    id,
			"statusCode": statusCode,
			"latency":    latency.Round(time.Microsecond).String(),
			"method":     c.Request.Method,
			"path":       path,
			"dataLength": max(c.Writer.Size(), 0),
		})

		if len(c.Errors) > 0 {
			msg := c.Errors.ByType(gin.ErrorTypePrivate).String()
			if statusCode >= http.StatusInternalServerError {
				entry.Error(msg)
			} else {
				entry.Warn(msg)
			}
			return
		}

		msg := fmt.Sprintf("%s %s %d", c.Request.Method, path, statusCode)
		switch {
		case statusCode >= http.StatusInternalServerError:
			entry.Error(msg)
		case statusCode >= http.StatusBadRequest:
			entry.Warn(msg)
		case path == "/events":
			entry.Debug("event stream closed")
		case c.Request.Method == http.MethodGet && pollPaths[path]:
			entry.Trace(msg)
		default:
			entry.Debug(msg)
		}
	}
}

// abortWithStatus writes err as the JSON body and records it for ginLogger.
func abortWithStatus(c *gin.Context, status int, err error) {
	c.IndentedJSON(status, err.Error())
	_ = c.AbortWithError(status, err)
}
