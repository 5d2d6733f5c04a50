// Package routers binds the gateway handlers to echo routes
package routers

import (
	"errors"
	"io"
	"net/http"

	"nexus-api/internal/ctx"
	"nexus-api/internal/handlers/chat"
	"nexus-api/internal/metrics"
	"nexus-api/internal/shared"
	"nexus-api/internal/upstream"

	"github.com/labstack/echo/v4"
)

type ChatRouter struct {
	ch *chat.Handler
}

// RegisterChatRoutes mounts GET /credits and POST /chat on e. callerMW must
// populate ctx.Context.Caller.
func RegisterChatRoutes(e *echo.Group, handler *chat.Handler, callerMW echo.MiddlewareFunc) {
	chatRouter := ChatRouter{ch: handler}
	withCaller := e.Group("", callerMW)
	withCaller.GET("/credits", chatRouter.Credits)
	withCaller.POST("/chat", chatRouter.Chat)
}

func (cr *ChatRouter) Credits(cc echo.Context) error {
	c := cc.(*ctx.Context)
	record, err := cr.ch.Credits(c.Request().Context(), c.Caller)
	c.LogValues.AddError(err)
	c.LogValues.UsedCents = record.UsedCents
	c.LogValues.LimitCents = record.LimitCents
	return c.JSON(http.StatusOK, record)
}

func (cr *ChatRouter) Chat(cc echo.Context) error {
	c := cc.(*ctx.Context)
	reqCtx := c.Request().Context()
	callerID := c.Caller.MeterID()

	// Quota is checked before the body is even parsed
	usage, err := cr.ch.CheckQuota(reqCtx, callerID)
	c.LogValues.UsedCents = usage.UsedCents
	c.LogValues.LimitCents = usage.LimitCents
	if err != nil {
		c.LogValues.AddError(err)
		return writeError(c, err)
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		c.LogValues.AddError(err)
		return writeError(c, shared.ErrInvalidJSON)
	}
	req, err := chat.ParseRequest(body)
	if err != nil {
		c.LogValues.AddError(err)
		return writeError(c, err)
	}
	c.LogValues.Mode = req.Mode
	c.LogValues.Stream = req.Stream

	d, err := cr.ch.Dispatch(reqCtx, chat.DispatchInput{
		RequestID: c.Reqid,
		Caller:    c.Caller,
		Request:   req,
	})
	if err != nil {
		c.LogValues.AddError(err)
		return writeError(c, err)
	}
	c.LogValues.Model = d.Outbound.Model
	c.LogValues.ChargedCents = d.Charged
	if d.Charged > 0 {
		c.LogValues.UsedCents = d.Usage.UsedCents
		c.LogValues.LimitCents = d.Usage.LimitCents
	}

	// Headers go out inside Deliver; from here on errors only reach the log
	delivery, err := cr.ch.Deliver(reqCtx, c.Response(), d)
	if err != nil {
		c.LogValues.AddError(err)
		if !delivery.Canceled {
			c.LogValues.LogLevel = "ERROR"
		}
	}
	return nil
}

// writeError renders an error that happened before any response bytes were
// sent.
func writeError(c *ctx.Context, err error) error {
	var upErr *upstream.UpstreamError
	if errors.As(err, &upErr) {
		return c.JSON(upErr.StatusCode, shared.ErrorBody{Error: "OpenRouter error", Details: upErr.Body})
	}

	var rerr *shared.RequestError
	if !errors.As(err, &rerr) {
		metrics.ErrorCount.WithLabelValues(shared.ModeLabel(c.LogValues.Mode), "unknown").Inc()
		return c.JSON(http.StatusInternalServerError, shared.ErrorBody{Error: shared.ErrInternalServerError.Err.Error()})
	}
	if rerr.StatusCode >= 500 {
		c.LogValues.LogLevel = "ERROR"
	}
	if rerr.Code != "" {
		return c.JSON(rerr.StatusCode, shared.CodedErrorBody{Code: rerr.Code, Message: rerr.Err.Error()})
	}
	return c.JSON(rerr.StatusCode, shared.ErrorBody{Error: rerr.Err.Error()})
}
