package util

// ClampInt bounds v to [lo, hi].
func ClampInt(v, lo, hi int) int {
    if v < lo {
        return lo
    }
    if v > hi {
        return hi
    }
    return v
}
