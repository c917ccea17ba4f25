package security

import (
	"fmt"
	"strings"
	"unicode"

	"KronosCast/internal/domain/models"
)

// InvalidSecurityError reports a code that matches none of the accepted formats.
type InvalidSecurityError struct {
	Code string
}

func (e *InvalidSecurityError) Error() string {
	if e.Code == "" {
		return "stock code cannot be empty"
	}
	return fmt.Sprintf("invalid stock code %q: expected 6-digit code or format like SH.600000", e.Code)
}

func (e *InvalidSecurityError) Kind() string { return "InvalidSecurityError" }

// Normalize trims and upper-cases a code and checks it against the accepted formats:
// six digits, SH./SZ. followed by six digits, or any alphanumeric string of length >= 4
// once '.' and '-' are removed. The last rule is deliberately loose and accepts codes
// that no exchange issues.
func Normalize(code string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if c == "" {
		return "", &InvalidSecurityError{}
	}
	if isDigits(c) && len(c) == 6 {
		return c, nil
	}
	if exchange, num, ok := strings.Cut(c, "."); ok {
		if (exchange == "SH" || exchange == "SZ") && isDigits(num) && len(num) == 6 {
			return c, nil
		}
	}
	stripped := strings.NewReplacer(".", "", "-", "").Replace(c)
	if stripped != "" && isAlnum(stripped) && len(c) >= 4 {
		return c, nil
	}
	return "", &InvalidSecurityError{Code: c}
}

// Valid reports whether code passes Normalize.
func Valid(code string) bool {
	_, err := Normalize(code)
	return err == nil
}

// Info derives exchange metadata from the code pattern.
func Info(code string) models.SecurityInfo {
	c := strings.ToUpper(strings.TrimSpace(code))
	info := models.SecurityInfo{
		Code:         c,
		Name:         c + " 股票",
		Market:       "CN",
		Exchange:     "SSE",
		ExchangeName: "上海证券交易所",
		Currency:     "CNY",
	}
	if strings.HasPrefix(c, "00") || strings.HasPrefix(c, "30") || strings.HasPrefix(c, "SZ.") {
		info.Exchange = "SZSE"
		info.ExchangeName = "深圳证券交易所"
	}
	return info
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isAlnum(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
