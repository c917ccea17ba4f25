package kronos

import (
    "context"
    "encoding/json"
    "errors"
    "net/http"
    "net/http/httptest"
    "sync/atomic"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "KronosCast/internal/domain/models"
    domsvc "KronosCast/internal/domain/service"
    "KronosCast/pkg/config"
    "KronosCast/pkg/logger"
)

func newTestConfig(url string) *config.Config {
    cfg := &config.Config{}
    cfg.Kronos.ServiceURL = url
    cfg.Kronos.Timeout = 2 * time.Second
    cfg.Kronos.Retries = 2
    cfg.Kronos.Models = config.DefaultModels()
    return cfg
}

func day(d int) time.Time { return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC) }

func TestHTTPPredictorRoundTrip(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        require.Equal(t, "/predict", r.URL.Path)
        var req predictReq
        require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
        assert.Equal(t, "kronos-small", req.Model)
        assert.Equal(t, []string{"2024-03-11", "2024-03-12"}, req.TargetDates)
        assert.Equal(t, 0.9, req.TopP)
        assert.Equal(t, 1, req.SampleCount)
        assert.Len(t, req.History, 1)
        _ = json.NewEncoder(w).Encode(predictResp{Predictions: []barDTO{
            {Timestamp: "2024-03-11", Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
            {Open: 1.5, High: 2, Low: 1, Close: 1.8, Volume: 12},
        }})
    }))
    defer srv.Close()

    p := NewHTTPPredictor(NewHTTPServiceBase(srv.URL, time.Second), "kronos-small", 1)
    out, err := p.Predict(context.Background(), domsvc.PredictInput{
        History:     []models.OHLCV{{Date: day(8), Open: 1, High: 1, Low: 1, Close: 1}},
        Targets:     []time.Time{day(11), day(12)},
        Temperature: 0.7, TopP: 0.9, SampleCount: 1,
    })
    require.NoError(t, err)
    require.Len(t, out, 2)
    assert.Equal(t, day(12), out[1].Date)
    assert.Equal(t, 1.8, out[1].Close)
}

func TestHTTPPredictorCountMismatch(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        _ = json.NewEncoder(w).Encode(predictResp{Predictions: []barDTO{{Close: 1}}})
    }))
    defer srv.Close()

    p := NewHTTPPredictor(NewHTTPServiceBase(srv.URL, time.Second), "kronos-mini", 1)
    _, err := p.Predict(context.Background(), domsvc.PredictInput{Targets: []time.Time{day(11), day(12)}})
    assert.Error(t, err)
}

func TestPostJSONWithRetry(t *testing.T) {
    var calls int32
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if atomic.AddInt32(&calls, 1) < 3 {
            w.WriteHeader(http.StatusServiceUnavailable)
            return
        }
        _, _ = w.Write([]byte(`{"ok":true}`))
    }))
    defer srv.Close()

    base := NewHTTPServiceBase(srv.URL, time.Second)
    var out map[string]bool
    require.NoError(t, base.PostJSONWithRetry(context.Background(), "/x", map[string]int{"a": 1}, &out, 3))
    assert.True(t, out["ok"])
    assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPostJSONWithRetrySkipsClientErrors(t *testing.T) {
    var calls int32
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        atomic.AddInt32(&calls, 1)
        w.WriteHeader(http.StatusBadRequest)
    }))
    defer srv.Close()

    err := NewHTTPServiceBase(srv.URL, time.Second).PostJSONWithRetry(context.Background(), "/x", nil, nil, 5)
    assert.Error(t, err)
    assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

type stubPredictor struct{ name string }

func (s stubPredictor) Predict(_ context.Context, in domsvc.PredictInput) ([]models.OHLCV, error) {
    return make([]models.OHLCV, len(in.Targets)), nil
}

func TestModelManagerLifecycle(t *testing.T) {
    var loads, unloads int32
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        switch r.URL.Path {
        case "/models/load":
            atomic.AddInt32(&loads, 1)
            _, _ = w.Write([]byte(`{"success":true}`))
        case "/models/unload":
            atomic.AddInt32(&unloads, 1)
        default:
            w.WriteHeader(http.StatusNotFound)
        }
    }))
    defer srv.Close()

    m := NewModelManager(newTestConfig(srv.URL), logger.Nop()).
        WithFactory(func(model string) domsvc.Predictor { return stubPredictor{name: model} })
    ctx := context.Background()

    _, err := m.Predict(ctx, domsvc.PredictInput{})
    assert.True(t, errors.Is(err, ErrNoModelLoaded))
    assert.False(t, m.Status().Loaded)
    assert.Len(t, m.Available(), 3)

    assert.True(t, errors.Is(m.Load(ctx, "kronos-huge"), ErrUnknownModel))
    require.NoError(t, m.Load(ctx, "kronos-small"))
    st := m.Status()
    assert.True(t, st.Loaded)
    assert.Equal(t, "kronos-small", st.CurrentModel)
    assert.NotNil(t, st.LoadedAt)
    assert.Equal(t, "kronos-small", m.ActiveModel())

    out, err := m.Predict(ctx, domsvc.PredictInput{Targets: []time.Time{day(11)}})
    require.NoError(t, err)
    assert.Len(t, out, 1)

    require.NoError(t, m.Unload(ctx))
    assert.Equal(t, "", m.ActiveModel())
    assert.Equal(t, int32(1), atomic.LoadInt32(&loads))
    assert.Equal(t, int32(1), atomic.LoadInt32(&unloads))
}
