package api

import (
	"errors"

	"github.com/labstack/echo/v4"

	domrepo "KronosCast/internal/domain/repository"
	"KronosCast/internal/usecase"
	xhttp "KronosCast/pkg/http"
	xlogger "KronosCast/pkg/logger"
)

// Router registers every route group on one echo instance.
type Router struct {
	handlers []xhttp.Handler
}

func NewRouter(handlers ...xhttp.Handler) *Router {
	return &Router{handlers: handlers}
}

func (r *Router) RegisterRoutes(e *echo.Echo) {
	for _, h := range r.handlers {
		if h != nil {
			h.RegisterRoutes(e)
		}
	}
}

// toAppError maps domain errors onto HTTP errors. Unknown errors become nil so the
// caller answers with a generic 500.
func toAppError(err error) *xhttp.AppError {
	var (
		appErr *xhttp.AppError
		se     *usecase.InvalidSecurityError
		ve     *usecase.ValidationError
		ne     *usecase.NormalizationError
	)
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.As(err, &se):
		return xhttp.InvalidStockCodeError(se)
	case errors.As(err, &ve):
		return xhttp.InvalidParamError(ve.Param, ve)
	case errors.As(err, &ne):
		return xhttp.NormalizationError(ne)
	case errors.Is(err, domrepo.ErrNotFound):
		return xhttp.NotFoundError("prediction record not found")
	}
	return nil
}

func respondError(c echo.Context, l *xlogger.Logger, msg string, err error) error {
	if appErr := toAppError(err); appErr != nil {
		return xhttp.AppErrorResponse(c, appErr)
	}
	l.Error(msg, xlogger.Error(err))
	return xhttp.InternalServerErrorResponse(c)
}
