package features

import (
    "math"

    "KronosCast/internal/domain/models"
)

// TradingDaysPerYear annualizes daily statistics.
const TradingDaysPerYear = 252.0

// ComputeLogReturns computes log returns r_t = ln(C_t / C_{t-1}).
// It returns a slice of length len(bars)-1, or nil if insufficient data.
func ComputeLogReturns(bars []models.OHLCV) []float64 {
    if len(bars) < 2 {
        return nil
    }
    out := make([]float64, 0, len(bars)-1)
    for i := 1; i < len(bars); i++ {
        prev := bars[i-1].Close
        cur := bars[i].Close
        if prev <= 0 || cur <= 0 {
            out = append(out, 0)
            continue
        }
        out = append(out, math.Log(cur/prev))
    }
    return out
}

// RealizedVolatility computes annualized sample volatility over the last window returns.
func RealizedVolatility(logReturns []float64, window int, barsPerYear float64) float64 {
    if window <= 1 || len(logReturns) < window {
        return 0
    }
    sum := 0.0
    sum2 := 0.0
    for i := len(logReturns) - window; i < len(logReturns); i++ {
        r := logReturns[i]
        sum += r
        sum2 += r * r
    }
    n := float64(window)
    mean := sum / n
    variance := (sum2 - n*mean*mean) / (n - 1)
    if variance < 0 {
        variance = 0
    }
    return math.Sqrt(variance * barsPerYear)
}

// HistoricalVolatility is the annualized volatility of all daily log returns in bars, in percent.
func HistoricalVolatility(bars []models.OHLCV) float64 {
    r := ComputeLogReturns(bars)
    return RealizedVolatility(r, len(r), TradingDaysPerYear) * 100
}

// ChangePct is the percent move from prev to cur. Zero when prev is not positive.
func ChangePct(prev, cur float64) float64 {
    if prev <= 0 {
        return 0
    }
    return (cur - prev) / prev * 100
}

// DailyChanges returns the day-over-day close change for each bar; the first is zero.
func DailyChanges(bars []models.OHLCV) []float64 {
    out := make([]float64, len(bars))
    for i := 1; i < len(bars); i++ {
        out[i] = ChangePct(bars[i-1].Close, bars[i].Close)
    }
    return out
}

// ChainedChanges returns each close's change relative to the previous one, seeding the
// first with base.
func ChainedChanges(base float64, closes []float64) []float64 {
    out := make([]float64, len(closes))
    prev := base
    for i, c := range closes {
        out[i] = ChangePct(prev, c)
        prev = c
    }
    return out
}

// Round2 rounds to two decimals for presentation.
func Round2(v float64) float64 {
    return math.Round(v*100) / 100
}
