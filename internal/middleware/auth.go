package middleware

import (
	"crypto/subtle"
	"net/http"

	"nexus-api/internal/ctx"
	"nexus-api/internal/identity"
	"nexus-api/internal/shared"

	"github.com/labstack/echo/v4"
)

// NewCallerMiddleware resolves the Authorization header into a caller. It
// never rejects a request; unverifiable tokens become fallback identities.
func NewCallerMiddleware(resolver *identity.Resolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(cc echo.Context) error {
			c := cc.(*ctx.Context)
			caller := resolver.Resolve(c.Request().Context(), c.Request().Header.Get("Authorization"))
			c.Caller = caller
			c.LogValues.CallerID = caller.MeterID()
			c.LogValues.IdentitySource = string(caller.Source)
			c.Log = c.Log.With("caller_id", caller.MeterID())
			return next(c)
		}
	}
}

// RequireBearerKey guards operational endpoints with a static key.
func RequireBearerKey(key string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			apiKey, err := shared.ExtractAPIKey(c)
			if err != nil {
				return c.String(http.StatusUnauthorized, "Missing or invalid API key")
			}
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) != 1 {
				return c.String(http.StatusUnauthorized, "Unauthorized API key")
			}
			return next(c)
		}
	}
}
