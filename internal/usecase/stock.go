package usecase

import (
	"context"
	"fmt"
	"time"

	"KronosCast/internal/domain/models"
	domrepo "KronosCast/internal/domain/repository"
	"KronosCast/internal/services/normalizer"
	"KronosCast/internal/services/security"
	"KronosCast/pkg/util"
)

// StockUseCase serves normalized history and code metadata.
type StockUseCase struct {
	feed       domrepo.FeedSource
	normalizer normalizer.Normalizer
	now        func() time.Time
}

func NewStockUseCase(feed domrepo.FeedSource, norm normalizer.Normalizer) *StockUseCase {
	return &StockUseCase{feed: feed, normalizer: norm, now: time.Now}
}

type StockDataResult struct {
	Code        string              `json:"stock_code"`
	Period      string              `json:"period"`
	From        string              `json:"from"`
	To          string              `json:"to"`
	Count       int                 `json:"count"`
	Synthesized bool                `json:"synthesized"`
	Bars        []models.HistoryBar `json:"data"`
}

func (uc *StockUseCase) Data(ctx context.Context, code, period string) (*StockDataResult, error) {
	c, err := security.Normalize(code)
	if err != nil {
		return nil, err
	}
	now := uc.now()
	from := util.Day(util.PeriodStart(now, period))
	raw, err := uc.feed.Fetch(ctx, domrepo.FeedQuery{Code: c, From: from, To: now})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", c, err)
	}
	series, err := uc.normalizer.Normalize(raw)
	if err != nil {
		return nil, err
	}
	// sources may ignore the range
	bars := series.Bars
	if !series.Synthesized {
		bars = series.Between(from.AddDate(0, 0, -1), util.Day(now))
	}
	return &StockDataResult{
		Code:        c,
		Period:      period,
		From:        from.Format("2006-01-02"),
		To:          util.Day(now).Format("2006-01-02"),
		Count:       len(bars),
		Synthesized: series.Synthesized,
		Bars:        historyBars(bars),
	}, nil
}

func (uc *StockUseCase) Info(code string) (models.SecurityInfo, error) {
	c, err := security.Normalize(code)
	if err != nil {
		return models.SecurityInfo{}, err
	}
	return security.Info(c), nil
}

// Validate returns the normalized code or the reason it is rejected.
func (uc *StockUseCase) Validate(code string) (string, error) {
	return security.Normalize(code)
}

func (uc *StockUseCase) Health(ctx context.Context) error {
	return uc.feed.Health(ctx)
}
