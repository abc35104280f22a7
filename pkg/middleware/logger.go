package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/andydunstall/gossipd/pkg/log"
)

type loggedRequest struct {
	Proto           string      `json:"proto"`
	Method          string      `json:"method"`
	Host            string      `json:"host"`
	Path            string      `json:"path"`
	ClientIP        string      `json:"client_ip"`
	RequestHeaders  http.Header `json:"request_headers"`
	ResponseHeaders http.Header `json:"response_headers"`
	Status          int         `json:"status"`
	Duration        string      `json:"duration"`
}

// NewLogger creates logging middleware that logs every request, except
// health checks and metrics scrapes.
//
// Requests are logged at 'info' level unless the access log is disabled, in
// which case they are logged at 'debug'. Server errors are always logged at
// 'warn'.
func NewLogger(accessLogConfig log.AccessLogConfig, logger log.Logger) gin.HandlerFunc {
	logger = logger.WithSubsystem(logger.Subsystem() + ".access")
	return func(c *gin.Context) {
		s := time.Now()

		c.Next()

		// Ignore health checks and metrics scrapes.
		if isInternalPath(c.Request.URL.Path) {
			return
		}

		requestHeaders := accessLogConfig.RequestHeaders.Filter(c.Request.Header)
		responseHeaders := accessLogConfig.ResponseHeaders.Filter(c.Writer.Header())

		req := &loggedRequest{
			Proto:           c.Request.Proto,
			Method:          c.Request.Method,
			Host:            c.Request.Host,
			Path:            c.Request.URL.Path,
			ClientIP:        c.ClientIP(),
			RequestHeaders:  requestHeaders,
			ResponseHeaders: responseHeaders,
			Status:          c.Writer.Status(),
			Duration:        time.Since(s).String(),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("request", zap.Any("request", req))
		} else if !accessLogConfig.Disable {
			logger.Info("request", zap.Any("request", req))
		} else {
			logger.Debug("request", zap.Any("request", req))
		}
	}
}

func isInternalPath(path string) bool {
	return path == "/health" || path == "/metrics"
}
