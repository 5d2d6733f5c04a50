// Package middleware holds the echo middleware shared by every route
package middleware

import (
	"fmt"
	"net/http"
	"time"

	"nexus-api/internal/ctx"
	"nexus-api/internal/metrics"
	"nexus-api/internal/shared"

	"github.com/aidarkhanov/nanoid"
	"github.com/labstack/echo/v4"
	emw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const reqIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewTrackMiddleware wraps every request in a *ctx.Context and writes a single
// end_of_request log line once the handler returns.
func NewTrackMiddleware(log *zap.SugaredLogger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			reqID, _ := nanoid.Generate(reqIDAlphabet, 28)
			reqID = "req_" + reqID
			start := time.Now()

			cc := &ctx.Context{
				Context: c,
				Log:     log.With("request_id", reqID),
				Reqid:   reqID,
				LogValues: &ctx.ContextLogValues{
					RequestID: reqID,
					StartTime: start,
					Path:      c.Request().URL.Path,
					Method:    c.Request().Method,
				},
			}

			metrics.InflightRequests.Inc()
			defer metrics.InflightRequests.Dec()
			err := next(cc)
			if err != nil {
				// Resolve the status now so it lands in the log line
				cc.LogValues.AddError(err)
				c.Error(err)
			}

			cc.LogValues.StatusCode = cc.Response().Status
			cc.LogValues.RequestDuration = time.Since(start)
			logEndOfRequest(cc.Log, cc.LogValues)

			route := cc.Path()
			if route == "" {
				route = "unmatched"
			}
			metrics.ResponseCodes.WithLabelValues(route, fmt.Sprintf("%d", cc.Response().Status)).Inc()
			return nil
		}
	}
}

func logEndOfRequest(log *zap.SugaredLogger, values *ctx.ContextLogValues) {
	level := zapcore.InfoLevel
	switch {
	case values.StatusCode >= 500:
		level = zapcore.ErrorLevel
	case values.StatusCode >= 400:
		level = zapcore.WarnLevel
	}
	if values.LogLevel != "" {
		if parsed, err := zapcore.ParseLevel(values.LogLevel); err == nil {
			level = parsed
		}
	}
	log.Desugar().Check(level, "end_of_request").Write(zap.Object("request", values))
}

func NewRecoverMiddleware(log *zap.SugaredLogger) echo.MiddlewareFunc {
	return emw.RecoverWithConfig(emw.RecoverConfig{
		StackSize: 1 << 10, // 1 KB
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			defer func() {
				_ = log.Sync()
			}()
			log.Errorw("Api Panic", "error", err.Error(), "stack", string(stack))
			return c.JSON(http.StatusInternalServerError, shared.ErrorBody{Error: shared.ErrInternalServerError.Err.Error()})
		},
	})
}
