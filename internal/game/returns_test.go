package game

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockpicks/internal/quotes"
)

func f(v float64) *float64 { return &v }

func TestComputeReturn(t *testing.T) {
	tests := []struct {
		name      string
		entry     *float64
		current   *float64
		wantAbs   float64
		wantPct   float64
		wantEmpty bool
	}{
		{name: "gain", entry: f(100), current: f(150), wantAbs: 50, wantPct: 50},
		{name: "loss", entry: f(200), current: f(190), wantAbs: -10, wantPct: -5},
		{name: "flat", entry: f(42.5), current: f(42.5), wantAbs: 0, wantPct: 0},
		{name: "fractional", entry: f(0.1), current: f(0.3), wantAbs: 0.2, wantPct: 200},
		{name: "nil entry", current: f(10), wantEmpty: true},
		{name: "zero entry", entry: f(0), current: f(10), wantEmpty: true},
		{name: "nil current", entry: f(10), wantEmpty: true},
		{name: "nan entry", entry: f(math.NaN()), current: f(10), wantEmpty: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ComputeReturn(tc.entry, tc.current)
			if tc.wantEmpty {
				assert.Nil(t, got.WeekReturn)
				assert.Nil(t, got.ReturnPercentage)
				return
			}
			require.NotNil(t, got.WeekReturn)
			require.NotNil(t, got.ReturnPercentage)
			assert.InDelta(t, tc.wantAbs, *got.WeekReturn, 1e-9)
			assert.InDelta(t, tc.wantPct, *got.ReturnPercentage, 1e-9)
		})
	}
}

func TestEffectivePricesUsesSeriesBounds(t *testing.T) {
	series := quotes.DailySeries{
		"2024-01-10": {Open: 103, Close: 104},
		"2024-01-08": {Open: 100, Close: 101},
		"2024-01-12": {Open: 107, Close: 108},
	}
	entry, cur := EffectivePrices(f(99), f(120), series)
	assert.Equal(t, 100.0, *entry)
	assert.Equal(t, 108.0, *cur)

	ret := ComputeReturn(entry, cur)
	assert.InDelta(t, 8.0, *ret.ReturnPercentage, 1e-9)
}

func TestEffectivePricesWithoutSeries(t *testing.T) {
	submitted := f(99)
	entry, cur := EffectivePrices(submitted, f(120), nil)
	assert.Equal(t, 99.0, *entry)
	assert.Equal(t, 120.0, *cur)

	*entry = 1
	assert.Equal(t, 99.0, *submitted, "submitted price must not be aliased")

	entry, cur = EffectivePrices(nil, nil, nil)
	assert.Nil(t, entry)
	assert.Nil(t, cur)
}
