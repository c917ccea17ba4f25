package api

import (
	"errors"

	"github.com/labstack/echo/v4"

	"KronosCast/internal/domain/models"
	domsvc "KronosCast/internal/domain/service"
	"KronosCast/internal/services/kronos"
	xhttp "KronosCast/pkg/http"
	xlogger "KronosCast/pkg/logger"
)

type ModelsEchoHandler struct {
	logger   *xlogger.Logger
	registry domsvc.ModelRegistry
}

func NewModelsEchoHandler(logger *xlogger.Logger, registry domsvc.ModelRegistry) *ModelsEchoHandler {
	return &ModelsEchoHandler{logger: logger, registry: registry}
}

func (h *ModelsEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/models")
	g.GET("", h.List)
	g.GET("/status", h.Status)
	g.POST("/load", h.Load)
	g.POST("/unload", h.Unload)
}

func (h *ModelsEchoHandler) List(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.registry.Available())
}

func (h *ModelsEchoHandler) Status(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.registry.Status())
}

func (h *ModelsEchoHandler) Load(c echo.Context) error {
	req := &models.LoadModelRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.registry.Load(c.Request().Context(), req.ModelName); err != nil {
		if errors.Is(err, kronos.ErrUnknownModel) {
			return xhttp.AppErrorResponse(c, xhttp.UnknownModelError(err))
		}
		h.logger.Error("model load error", xlogger.Error(err), xlogger.String("model", req.ModelName))
		return xhttp.AppErrorResponse(c, xhttp.ModelServiceError(err))
	}
	return xhttp.SuccessResponse(c, h.registry.Status())
}

func (h *ModelsEchoHandler) Unload(c echo.Context) error {
	if err := h.registry.Unload(c.Request().Context()); err != nil {
		h.logger.Warn("model unload error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.ModelServiceError(err))
	}
	return xhttp.SuccessResponse(c, h.registry.Status())
}
