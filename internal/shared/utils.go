// Package shared holds the errors, constants and wire types used across the api
package shared

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// ParseBearer returns the token from an Authorization header value of the
// form "Bearer <token>".
func ParseBearer(header string) (string, error) {
	if header == "" {
		return "", ErrMissingAuth
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", ErrInvalidFormat
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidFormat
	}
	return token, nil
}

func ExtractAPIKey(c echo.Context) (string, error) {
	return ParseBearer(c.Request().Header.Get("Authorization"))
}

// ModeLabel bounds metric label cardinality to known-ish mode strings.
func ModeLabel(mode string) string {
	if mode == "" {
		return "none"
	}
	if len(mode) > 32 {
		return "other"
	}
	return mode
}
