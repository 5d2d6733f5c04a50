package middleware

import (
	"errors"
	"net/http"

	"nexus-api/internal/shared"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// NewErrorHandler renders errors that escaped a handler. Unknown routes and
// unsupported methods both answer 404.
func NewErrorHandler(log *zap.SugaredLogger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		body := shared.ErrorBody{Error: shared.ErrInternalServerError.Err.Error()}

		var he *echo.HTTPError
		var rerr *shared.RequestError
		switch {
		case errors.As(err, &rerr):
			status = rerr.StatusCode
			body.Error = rerr.Err.Error()
		case errors.As(err, &he):
			status = he.Code
			if msg, ok := he.Message.(string); ok {
				body.Error = msg
			} else {
				body.Error = http.StatusText(status)
			}
		default:
			log.Errorw("Unhandled error", "error", err)
		}
		if status == http.StatusNotFound || status == http.StatusMethodNotAllowed {
			status = http.StatusNotFound
			body.Error = shared.ErrNotFound.Err.Error()
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(status)
		} else {
			writeErr = c.JSON(status, body)
		}
		if writeErr != nil {
			log.Warnw("Failed writing error response", "error", writeErr)
		}
	}
}
