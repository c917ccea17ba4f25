package normalizer

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"KronosCast/pkg/util"
)

// toFloat coerces a feed cell to a finite float64.
func toFloat(v interface{}) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case decimal.Decimal:
		f = x.InexactFloat64()
	case json.Number:
		return parseDecimal(string(x))
	case string:
		return parseDecimal(x)
	case []byte:
		return parseDecimal(string(x))
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func parseDecimal(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	return d.InexactFloat64(), true
}

// toTime coerces a timestamp cell. Numbers are treated as compact dates or unix epochs.
func toTime(v interface{}) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, !x.IsZero()
	case *time.Time:
		if x == nil {
			return time.Time{}, false
		}
		return *x, !x.IsZero()
	case string:
		return util.ParseTime(x)
	case []byte:
		return util.ParseTime(string(x))
	case json.Number:
		return util.ParseTime(x.String())
	case int64:
		return util.ParseTime(strconv.FormatInt(x, 10))
	case int:
		return util.ParseTime(strconv.Itoa(x))
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return time.Time{}, false
		}
		return util.ParseTime(strconv.FormatInt(int64(x), 10))
	}
	return time.Time{}, false
}
