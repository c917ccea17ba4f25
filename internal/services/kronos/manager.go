package kronos

import (
    "context"
    "errors"
    "fmt"
    "sync"
    "time"

    "KronosCast/internal/domain/models"
    domsvc "KronosCast/internal/domain/service"
    "KronosCast/pkg/config"
    "KronosCast/pkg/logger"
)

var (
    ErrNoModelLoaded = errors.New("no model is loaded, load a model first")
    ErrUnknownModel  = errors.New("unknown model")
)

// PredictorFactory builds the predictor bound to a loaded model.
type PredictorFactory func(model string) domsvc.Predictor

// ModelManager owns the active model. Predictions read the active predictor under a
// read lock; Load and Unload swap it under the write lock.
type ModelManager struct {
    base    *HTTPServiceBase
    specs   []config.ModelSpec
    factory PredictorFactory
    log     *logger.Logger
    now     func() time.Time

    mu       sync.RWMutex
    current  string
    loadedAt time.Time
    active   domsvc.Predictor
}

func NewModelManager(cfg *config.Config, log *logger.Logger) *ModelManager {
    base := NewHTTPServiceBase(cfg.Kronos.ServiceURL, cfg.Kronos.Timeout)
    retries := cfg.Kronos.Retries
    return &ModelManager{
        base:  base,
        specs: cfg.Kronos.Models,
        factory: func(model string) domsvc.Predictor {
            return NewHTTPPredictor(base, model, retries)
        },
        log: log,
        now: time.Now,
    }
}

// WithFactory replaces how predictors are built for loaded models.
func (m *ModelManager) WithFactory(f PredictorFactory) *ModelManager {
    m.factory = f
    return m
}

func (m *ModelManager) Available() []models.ModelInfo {
    out := make([]models.ModelInfo, len(m.specs))
    for i, s := range m.specs {
        out[i] = models.ModelInfo{Name: s.Name, Description: s.Description, Size: s.Size, Performance: s.Performance}
    }
    return out
}

func (m *ModelManager) known(name string) bool {
    for _, s := range m.specs {
        if s.Name == name {
            return true
        }
    }
    return false
}

type loadReq struct {
    ModelName string `json:"model_name"`
}

type loadResp struct {
    Success bool   `json:"success"`
    Message string `json:"message"`
}

// Load asks the inference service to load name and makes it the active model.
func (m *ModelManager) Load(ctx context.Context, name string) error {
    if !m.known(name) {
        return fmt.Errorf("%w: %s", ErrUnknownModel, name)
    }
    if m.base.Configured() {
        var resp loadResp
        if err := m.base.PostJSON(ctx, "/models/load", loadReq{ModelName: name}, &resp); err != nil {
            m.log.Error("model load failed", logger.String("model", name), logger.Error(err))
            return fmt.Errorf("load model %s: %w", name, err)
        }
    }

    m.mu.Lock()
    m.current = name
    m.loadedAt = m.now()
    m.active = m.factory(name)
    m.mu.Unlock()

    m.log.Info("model loaded", logger.String("model", name))
    return nil
}

// Unload releases the active model locally and on the inference service.
func (m *ModelManager) Unload(ctx context.Context) error {
    m.mu.Lock()
    name := m.current
    m.current = ""
    m.loadedAt = time.Time{}
    m.active = nil
    m.mu.Unlock()

    if name == "" || !m.base.Configured() {
        return nil
    }
    if err := m.base.PostJSON(ctx, "/models/unload", loadReq{ModelName: name}, nil); err != nil {
        m.log.Warn("remote unload failed", logger.String("model", name), logger.Error(err))
        return fmt.Errorf("unload model %s: %w", name, err)
    }
    m.log.Info("model unloaded", logger.String("model", name))
    return nil
}

func (m *ModelManager) Status() models.ModelStatus {
    m.mu.RLock()
    defer m.mu.RUnlock()
    st := models.ModelStatus{
        Available:    m.base.Configured(),
        Loaded:       m.active != nil,
        CurrentModel: m.current,
        Models:       m.Available(),
    }
    if m.active != nil {
        t := m.loadedAt
        st.LoadedAt = &t
    }
    return st
}

func (m *ModelManager) ActiveModel() string {
    m.mu.RLock()
    defer m.mu.RUnlock()
    return m.current
}

// Health pings the inference service.
func (m *ModelManager) Health(ctx context.Context) error {
    return m.base.GetJSON(ctx, "/health", nil)
}

// Predict delegates to the active model. The lock is held only for the lookup.
func (m *ModelManager) Predict(ctx context.Context, in domsvc.PredictInput) ([]models.OHLCV, error) {
    m.mu.RLock()
    p := m.active
    m.mu.RUnlock()
    if p == nil {
        return nil, ErrNoModelLoaded
    }
    return p.Predict(ctx, in)
}

var _ domsvc.ModelRegistry = (*ModelManager)(nil)
