package game

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeekBounds(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	monday := time.Date(2024, 1, 8, 0, 0, 0, 0, ny)
	friday := time.Date(2024, 1, 12, 23, 59, 59, int(999*time.Millisecond), ny)

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"monday start", monday, monday},
		{"wednesday", time.Date(2024, 1, 10, 15, 30, 0, 0, ny), monday},
		{"friday night", time.Date(2024, 1, 12, 23, 0, 0, 0, ny), monday},
		{"saturday rolls forward", time.Date(2024, 1, 6, 12, 0, 0, 0, ny), monday},
		{"sunday rolls forward", time.Date(2024, 1, 7, 22, 0, 0, 0, ny), monday},
		// 02:00 UTC Tuesday is still Monday evening in New York.
		{"utc input", time.Date(2024, 1, 9, 2, 0, 0, 0, time.UTC), monday},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			start, end := WeekBounds(tc.now, ny)
			assert.True(t, start.Equal(tc.want), "start %s", start)
			assert.True(t, end.Equal(friday), "end %s", end)
		})
	}
}

func TestWeekEnded(t *testing.T) {
	end := time.Date(2024, 1, 12, 23, 59, 59, 0, time.UTC)
	w := Week{EndDate: end}
	assert.False(t, w.Ended(end.Add(-time.Hour)))
	assert.True(t, w.Ended(end.Add(time.Second)))

	winner := "u1"
	w.WinnerID = &winner
	assert.True(t, w.Ended(end.Add(-time.Hour)))
}
