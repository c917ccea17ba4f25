package http

import "github.com/labstack/echo/v4"

// ClientIP returns the caller address echo resolved for the request.
func ClientIP(c echo.Context) string {
    if ip := c.RealIP(); ip != "" {
        return ip
    }
    return "unknown"
}
