package cache

import (
	"fmt"
	"strings"
)

// GenerateKey joins a prefix and parameters with ':'.
func GenerateKey(prefix string, params ...interface{}) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, p := range params {
		b.WriteByte(':')
		fmt.Fprint(&b, p)
	}
	return b.String()
}
