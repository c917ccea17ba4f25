package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

// HTTPRecorder receives one observation per served request.
type HTTPRecorder interface {
	RecordHTTP(method, route, status string, seconds float64)
}

// Metrics records request counts and latency labelled by the templated route
// (e.g. "/api/predictions/:id") to keep label cardinality low.
func Metrics(rec HTTPRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			rec.RecordHTTP(c.Request().Method, routeLabel(c), strconv.Itoa(c.Response().Status), time.Since(start).Seconds())
			return nil
		}
	}
}

func routeLabel(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return "unmatched"
}
