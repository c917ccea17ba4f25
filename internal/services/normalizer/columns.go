package normalizer

import "strings"

type field int

const (
	fieldOpen field = iota
	fieldHigh
	fieldLow
	fieldClose
	fieldVolume
	fieldTimestamp
)

func (f field) String() string {
	switch f {
	case fieldOpen:
		return "open"
	case fieldHigh:
		return "high"
	case fieldLow:
		return "low"
	case fieldClose:
		return "close"
	case fieldVolume:
		return "volume"
	default:
		return "timestamp"
	}
}

type alias struct {
	name  string
	field field
}

// aliases are tried in order; the first alias matching a column assigns it.
var aliases = []alias{
	{"开盘", fieldOpen}, {"open", fieldOpen}, {"开盘价", fieldOpen},
	{"最高", fieldHigh}, {"high", fieldHigh}, {"最高价", fieldHigh},
	{"最低", fieldLow}, {"low", fieldLow}, {"最低价", fieldLow},
	{"收盘", fieldClose}, {"close", fieldClose}, {"收盘价", fieldClose}, {"今收", fieldClose},
	{"成交量", fieldVolume}, {"volume", fieldVolume}, {"量", fieldVolume},
	{"时间", fieldTimestamp}, {"date", fieldTimestamp}, {"datetime", fieldTimestamp},
	{"日期", fieldTimestamp}, {"timestamp", fieldTimestamp}, {"time", fieldTimestamp},
}

// matchColumns maps canonical fields to column indexes. Matching is case-insensitive and
// accepts a substring in either direction. A later column overrides an earlier one
// for the same field.
func matchColumns(columns []string) map[field]int {
	out := make(map[field]int, 6)
	for i, col := range columns {
		c := strings.ToLower(strings.TrimSpace(col))
		if c == "" {
			continue
		}
		for _, a := range aliases {
			if strings.Contains(c, a.name) || strings.Contains(a.name, c) {
				out[a.field] = i
				break
			}
		}
	}
	return out
}
