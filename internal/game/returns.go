package game

import (
	"math"

	"github.com/shopspring/decimal"

	"stockpicks/internal/quotes"
)

var hundred = decimal.NewFromInt(100)

// Return holds the derived performance of a pick. Both fields are nil when
// the return cannot be computed.
type Return struct {
	WeekReturn       *float64 `json:"week_return"`
	ReturnPercentage *float64 `json:"return_percentage"`
}

// ComputeReturn gives current-entry and its percentage of entry. A missing
// or zero entry price, or a missing current value, yields no return.
func ComputeReturn(entry, current *float64) Return {
	if !usable(entry) || !usable(current) || *entry == 0 {
		return Return{}
	}
	e := decimal.NewFromFloat(*entry)
	diff := decimal.NewFromFloat(*current).Sub(e)
	pct := diff.Div(e).Mul(hundred)

	wr, _ := diff.Float64()
	pr, _ := pct.Float64()
	return Return{WeekReturn: &wr, ReturnPercentage: &pr}
}

// EffectivePrices picks the entry and current values used for returns.
// With a daily series the first session's open and the last session's
// close win; otherwise the submitted price and latest value are used.
func EffectivePrices(submitted, current *float64, series quotes.DailySeries) (entry, cur *float64) {
	entry, cur = copyFloat(submitted), copyFloat(current)
	if first, ok := series.First(); ok && first.Open > 0 {
		v := first.Open
		entry = &v
	}
	if last, ok := series.Last(); ok && last.Close > 0 {
		v := last.Close
		cur = &v
	}
	return entry, cur
}

func usable(v *float64) bool {
	return v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0)
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}
