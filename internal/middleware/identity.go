package middleware

// identity.go holds the helpers the limiter and the request logger use to
// name the caller.  Unauthenticated requests are "anon".

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// callerID returns the authenticated user id as a string, or "anon".
func callerID(c echo.Context) string {
	if id, ok := c.Get(ContextUserID).(int64); ok && id > 0 {
		return strconv.FormatInt(id, 10)
	}
	return "anon"
}

// clientIP is echo's RealIP with a placeholder for empty values.
func clientIP(c echo.Context) string {
	if ip := c.RealIP(); ip != "" {
		return ip
	}
	return "unknown"
}
