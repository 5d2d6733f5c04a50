// Package ctx defines the echo context shared by middleware and routers
package ctx

import (
	"fmt"
	"time"

	"nexus-api/internal/identity"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ContextLogValues should only be accessed for logging, and not for
// actual business logic, or any other logic
type ContextLogValues struct {
	// Added in base middleware
	RequestID       string
	StartTime       time.Time
	StatusCode      int
	RequestDuration time.Duration
	Path            string
	Method          string

	// Added in caller middleware
	CallerID       string
	IdentitySource string

	// Added by the chat router
	Mode         string
	Model        string
	Stream       bool
	UsedCents    int64
	LimitCents   int64
	ChargedCents int64

	// Override log Log Level
	// useful for streaming where status code might be sent before errors from
	// mid-stream or post processing occur
	LogLevel string

	// Added dynamically
	Error error
}

// AddError adds errors to the error chain. Always add errors, even if only warnings.
// Log level is determined by the status code of the request
func (c *ContextLogValues) AddError(err error) {
	if err == nil {
		return
	}
	if c.Error == nil {
		c.Error = err
		return
	}
	c.Error = fmt.Errorf("%w: %w", err, c.Error)
}

func (c *ContextLogValues) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	if c.CallerID != "" {
		enc.AddString("caller_id", c.CallerID)
		enc.AddString("identity_source", c.IdentitySource)
	}
	if c.Model != "" {
		enc.AddString("mode", c.Mode)
		enc.AddString("model", c.Model)
		enc.AddBool("stream", c.Stream)
		enc.AddInt64("used_cents", c.UsedCents)
		enc.AddInt64("limit_cents", c.LimitCents)
		enc.AddInt64("charged_cents", c.ChargedCents)
	}
	enc.AddString("request_id", c.RequestID)
	enc.AddTime("start_time", c.StartTime)
	enc.AddDuration("request_duration", c.RequestDuration)
	enc.AddInt("status_code", c.StatusCode)
	if c.Error != nil {
		enc.AddString("error", c.Error.Error())
	}
	enc.AddString("method", c.Method)
	enc.AddString("path", c.Path)
	return nil
}

type Context struct {
	echo.Context
	Log       *zap.SugaredLogger
	Reqid     string
	Caller    identity.Caller
	LogValues *ContextLogValues
}
