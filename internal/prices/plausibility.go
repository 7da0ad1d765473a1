package prices

import "math"

// MaxMovePercent is the largest absolute move accepted between two
// consecutive observations of the same symbol.
const MaxMovePercent = 100.0

// IsRealistic reports whether a percentage move is believable.
func IsRealistic(percentChange float64) bool {
	if math.IsNaN(percentChange) || math.IsInf(percentChange, 0) {
		return false
	}
	return math.Abs(percentChange) <= MaxMovePercent
}

// PercentChange returns the move from old to new in percent. ok is false when
// there is no usable previous value, in which case any new value is accepted.
func PercentChange(old, new float64) (pct float64, ok bool) {
	if old <= 0 {
		return 0, false
	}
	return (new - old) / old * 100, true
}

// Plausible applies the filter to a replacement of old by new.
func Plausible(old, new float64) bool {
	pct, ok := PercentChange(old, new)
	if !ok {
		return true
	}
	return IsRealistic(pct)
}
