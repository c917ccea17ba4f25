package kronos

import (
    "context"
    "fmt"
    "time"

    "KronosCast/internal/domain/models"
    domsvc "KronosCast/internal/domain/service"
    "KronosCast/pkg/util"
)

// HTTPPredictor forwards forecasts to one model hosted by the inference service.
type HTTPPredictor struct {
    base    *HTTPServiceBase
    model   string
    retries int
}

func NewHTTPPredictor(base *HTTPServiceBase, model string, retries int) *HTTPPredictor {
    return &HTTPPredictor{base: base, model: model, retries: retries}
}

type barDTO struct {
    Timestamp string  `json:"timestamp"`
    Open      float64 `json:"open"`
    High      float64 `json:"high"`
    Low       float64 `json:"low"`
    Close     float64 `json:"close"`
    Volume    float64 `json:"volume"`
}

type predictReq struct {
    Model       string   `json:"model"`
    History     []barDTO `json:"history"`
    TargetDates []string `json:"target_dates"`
    PredLen     int      `json:"pred_len"`
    Temperature float64  `json:"temperature"`
    TopP        float64  `json:"top_p"`
    SampleCount int      `json:"sample_count"`
}

type predictResp struct {
    Model       string   `json:"model"`
    Predictions []barDTO `json:"predictions"`
}

func (p *HTTPPredictor) Predict(ctx context.Context, in domsvc.PredictInput) ([]models.OHLCV, error) {
    req := predictReq{
        Model:       p.model,
        History:     make([]barDTO, len(in.History)),
        TargetDates: formatDates(in.Targets),
        PredLen:     len(in.Targets),
        Temperature: in.Temperature,
        TopP:        in.TopP,
        SampleCount: in.SampleCount,
    }
    for i, b := range in.History {
        req.History[i] = barDTO{
            Timestamp: b.Date.Format("2006-01-02"),
            Open:      b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume,
        }
    }

    var resp predictResp
    if err := p.base.PostJSONWithRetry(ctx, "/predict", req, &resp, p.retries); err != nil {
        return nil, fmt.Errorf("kronos predict: %w", err)
    }
    if len(resp.Predictions) != len(in.Targets) {
        return nil, fmt.Errorf("kronos predict: got %d points for %d target dates", len(resp.Predictions), len(in.Targets))
    }
    out := make([]models.OHLCV, len(resp.Predictions))
    for i, d := range resp.Predictions {
        date := in.Targets[i]
        if t, ok := util.ParseTime(d.Timestamp); ok {
            date = util.Day(t)
        }
        out[i] = models.OHLCV{Date: date, Open: d.Open, High: d.High, Low: d.Low, Close: d.Close, Volume: d.Volume}
    }
    return out, nil
}

var _ domsvc.Predictor = (*HTTPPredictor)(nil)

func formatDates(days []time.Time) []string {
    out := make([]string, len(days))
    for i, d := range days {
        out[i] = d.Format("2006-01-02")
    }
    return out
}
