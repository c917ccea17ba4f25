package api

import (
	"context"

	"github.com/labstack/echo/v4"

	"KronosCast/internal/domain/models"
	"KronosCast/internal/usecase"
	xhttp "KronosCast/pkg/http"
	xlogger "KronosCast/pkg/logger"
)

type StockQueries interface {
	Data(ctx context.Context, code, period string) (*usecase.StockDataResult, error)
	Info(code string) (models.SecurityInfo, error)
	Validate(code string) (string, error)
}

type ValidateResult struct {
	Valid     bool   `json:"valid"`
	StockCode string `json:"stock_code,omitempty"`
	Message   string `json:"message,omitempty"`
}

type StockEchoHandler struct {
	logger *xlogger.Logger
	stock  StockQueries
}

func NewStockEchoHandler(logger *xlogger.Logger, stock StockQueries) *StockEchoHandler {
	return &StockEchoHandler{logger: logger, stock: stock}
}

func (h *StockEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/stock")
	g.GET("/data", h.Data)
	g.GET("/info", h.Info)
	g.POST("/validate", h.Validate)
}

func (h *StockEchoHandler) Data(c echo.Context) error {
	req := &models.StockDataRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.stock.Data(c.Request().Context(), req.Code, req.Period)
	if err != nil {
		return respondError(c, h.logger, "stock data error", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=60")
	return xhttp.SuccessResponse(c, res)
}

func (h *StockEchoHandler) Info(c echo.Context) error {
	req := &models.StockInfoRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	info, err := h.stock.Info(req.Code)
	if err != nil {
		return respondError(c, h.logger, "stock info error", err)
	}
	return xhttp.SuccessResponse(c, info)
}

// Validate always answers 200; the verdict is in the body.
func (h *StockEchoHandler) Validate(c echo.Context) error {
	req := &models.ValidateStockRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	code, err := h.stock.Validate(req.StockCode)
	if err != nil {
		return xhttp.SuccessResponse(c, &ValidateResult{Valid: false, Message: err.Error()})
	}
	return xhttp.SuccessResponse(c, &ValidateResult{Valid: true, StockCode: code})
}
