package terminal

import "math"

// SanitizeDims floors cols and rows and reports whether both are usable.
// Non-finite values and anything that floors to 1 or less are rejected.
func SanitizeDims(cols, rows float64) (int, int, bool) {
	c, okC := sanitizeDim(cols)
	r, okR := sanitizeDim(rows)
	if !okC || !okR {
		return 0, 0, false
	}
	return c, r, true
}

func sanitizeDim(v float64) (int, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	f := math.Floor(v)
	if f <= 1 || f > math.MaxUint16 {
		return 0, false
	}
	return int(f), true
}

// initialDims applies the 80x24 fallback per dimension.
func initialDims(cols, rows float64) (int, int) {
	c, ok := sanitizeDim(cols)
	if !ok {
		c = DefaultCols
	}
	r, ok := sanitizeDim(rows)
	if !ok {
		r = DefaultRows
	}
	return c, r
}
