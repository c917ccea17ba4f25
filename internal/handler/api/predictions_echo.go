package api

import (
	"context"
	"math"

	"github.com/labstack/echo/v4"

	"KronosCast/internal/domain/models"
	domrepo "KronosCast/internal/domain/repository"
	"KronosCast/internal/service/ratelimit"
	"KronosCast/internal/usecase"
	xhttp "KronosCast/pkg/http"
	"KronosCast/pkg/http/middleware"
	xlogger "KronosCast/pkg/logger"
)

// SessionHeader carries the caller's session id onto the record.
const SessionHeader = middleware.SessionHeader

// PredictionQueries is the read side of the prediction history.
type PredictionQueries interface {
	Get(ctx context.Context, id string) (*models.PredictionRecord, error)
	List(ctx context.Context, f domrepo.PredictionFilter) (*usecase.ListPredictionsResult, error)
	EvaluateAndAttach(ctx context.Context, id string) (models.AccuracyReport, error)
}

type PredictResult struct {
	PredictionID   string                   `json:"prediction_id"`
	Record         *models.PredictionRecord `json:"record"`
	HistoricalData []models.HistoryBar      `json:"historical_data"`
}

type PredictFailure struct {
	PredictionID string                   `json:"prediction_id"`
	ErrorKind    string                   `json:"error_kind"`
	Error        string                   `json:"error"`
	Record       *models.PredictionRecord `json:"record"`
}

type PredictionsEchoHandler struct {
	logger   *xlogger.Logger
	pipeline usecase.Predictor
	queries  PredictionQueries
	limiter  *ratelimit.Limiter
}

// NewPredictionsEchoHandler builds the handler. A nil limiter disables throttling.
func NewPredictionsEchoHandler(logger *xlogger.Logger, pipeline usecase.Predictor, queries PredictionQueries, limiter *ratelimit.Limiter) *PredictionsEchoHandler {
	return &PredictionsEchoHandler{logger: logger, pipeline: pipeline, queries: queries, limiter: limiter}
}

func (h *PredictionsEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.POST("/predict", h.Predict)
	g.GET("/predictions", h.List)
	g.GET("/predictions/:id", h.Get)
	g.GET("/predictions/:id/accuracy", h.Accuracy)
}

func (h *PredictionsEchoHandler) Predict(c echo.Context) error {
	ip := xhttp.ClientIP(c)
	if h.limiter != nil {
		if ok, wait := h.limiter.Reserve(ip); !ok {
			h.logger.Warn("predict rate limited", xlogger.String("remote", ip))
			return xhttp.TooManyRequestsResponse(c, int(math.Ceil(wait.Seconds())))
		}
	}

	req := &models.PredictRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	session := c.Request().Header.Get(SessionHeader)
	if session == "" {
		session = req.SessionID
	}

	out, err := h.pipeline.Predict(c.Request().Context(), usecase.PredictParams{
		SecurityID:  req.StockCode,
		Lookback:    req.Lookback,
		Horizon:     req.PredLen,
		Temperature: req.Temperature,
		UserID:      ip,
		SessionID:   session,
	})
	if err != nil {
		if usecase.IsAbandoned(err) {
			h.logger.Info("predict abandoned by client", xlogger.String("remote", ip), xlogger.String("stock_code", req.StockCode))
			return nil
		}
		if usecase.IsRejection(err) {
			return xhttp.AppErrorResponse(c, toAppError(err))
		}
		h.logger.Error("predict usecase error", xlogger.Error(err), xlogger.String("stock_code", req.StockCode))
		return xhttp.InternalServerErrorResponse(c)
	}
	if out.Failed() {
		return xhttp.UnprocessableResponse(c, &PredictFailure{
			PredictionID: out.Record.ID,
			ErrorKind:    usecase.KindOf(out.Err),
			Error:        out.Err.Error(),
			Record:       out.Record,
		})
	}
	return xhttp.CreatedResponse(c, &PredictResult{
		PredictionID:   out.Record.ID,
		Record:         out.Record,
		HistoricalData: out.History,
	})
}

func (h *PredictionsEchoHandler) List(c echo.Context) error {
	req := &models.ListPredictionsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	res, err := h.queries.List(c.Request().Context(), domrepo.PredictionFilter{
		StockCode: req.StockCode,
		Status:    models.PredictionStatus(req.Status),
		Limit:     req.Limit,
		Offset:    req.Offset,
	})
	if err != nil {
		h.logger.Error("list predictions error", xlogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}
	return xhttp.ListResponse(c, res.Rows, res.Total)
}

func (h *PredictionsEchoHandler) Get(c echo.Context) error {
	req := &models.RecordIDRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rec, err := h.queries.Get(c.Request().Context(), req.ID)
	if err != nil {
		return respondError(c, h.logger, "get prediction error", err)
	}
	return xhttp.SuccessResponse(c, rec)
}

// Accuracy evaluates on demand. Reports that are not completed are returned but not stored.
func (h *PredictionsEchoHandler) Accuracy(c echo.Context) error {
	req := &models.RecordIDRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	report, err := h.queries.EvaluateAndAttach(c.Request().Context(), req.ID)
	if err != nil {
		return respondError(c, h.logger, "accuracy evaluation error", err)
	}
	return xhttp.SuccessResponse(c, report)
}
