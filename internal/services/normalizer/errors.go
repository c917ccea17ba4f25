package normalizer

import "fmt"

// NormalizationError reports a feed that cannot be reduced to the canonical OHLCV schema.
type NormalizationError struct {
	Reason  string
	Missing []string
}

func (e *NormalizationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("normalization failed: %s (missing %v)", e.Reason, e.Missing)
	}
	return "normalization failed: " + e.Reason
}

func (e *NormalizationError) Kind() string { return "NormalizationError" }
