package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// SessionHeader scopes prediction history and WebSocket subscriptions.
const SessionHeader = "X-Session-ID"

// CORS admits browser calls to the forecast API from origins. No origins
// means any origin.
func CORS(origins ...string) echo.MiddlewareFunc {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
			SessionHeader,
		},
		ExposeHeaders: []string{echo.HeaderXRequestID},
		MaxAge:        600,
	})
}
