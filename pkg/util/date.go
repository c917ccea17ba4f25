package util

import (
    "strconv"
    "strings"
    "time"
)

var dateLayouts = []string{
    time.RFC3339,
    time.RFC3339Nano,
    "2006-01-02",
    "2006-01-02 15:04:05",
    "2006/01/02",
    "20060102",
}

// ParseTime tries RFC3339, plain dates, compact dates and unix seconds/millis. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
    s = strings.TrimSpace(s)
    if s == "" {
        return time.Time{}, false
    }
    for _, layout := range dateLayouts {
        if t, err := time.Parse(layout, s); err == nil {
            return t, true
        }
    }
    if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
        if ts > 1e11 { // ms
            return time.UnixMilli(ts).UTC(), true
        }
        return time.Unix(ts, 0).UTC(), true
    }
    return time.Time{}, false
}

// Day truncates t to its calendar day in UTC.
func Day(t time.Time) time.Time {
    y, m, d := t.Date()
    return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// PeriodStart maps a lookback period label (1m, 3m, 6m, 1y, 2y) to a start date before now.
func PeriodStart(now time.Time, period string) time.Time {
    switch period {
    case "1m":
        return now.AddDate(0, -1, 0)
    case "3m":
        return now.AddDate(0, -3, 0)
    case "6m":
        return now.AddDate(0, -6, 0)
    case "2y":
        return now.AddDate(-2, 0, 0)
    default:
        return now.AddDate(-1, 0, 0)
    }
}
