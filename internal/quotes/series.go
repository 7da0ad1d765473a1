package quotes

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

type DayPrice struct {
	Open  float64 `json:"open"`
	Close float64 `json:"close"`
}

// DailySeries maps an ISO date (YYYY-MM-DD) to that session's open and close.
type DailySeries map[string]DayPrice

// Day is one entry of a series with its weekday label derived from the date.
type Day struct {
	Date    string  `json:"date"`
	Weekday string  `json:"weekday"`
	Open    float64 `json:"open"`
	Close   float64 `json:"close"`
}

// ParseDailySeries decodes the stored JSON form. An empty string yields a nil
// series.
func ParseDailySeries(raw string) (DailySeries, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var s DailySeries
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("decode daily series: %w", err)
	}
	for date := range s {
		if _, err := time.Parse(DateLayout, date); err != nil {
			return nil, fmt.Errorf("decode daily series: bad date %q", date)
		}
	}
	return s, nil
}

// Encode returns the stored JSON form, or "" for an empty series. Keys are
// emitted in date order so the output is stable.
func (s DailySeries) Encode() string {
	if len(s) == 0 {
		return ""
	}
	raw, err := json.Marshal(map[string]DayPrice(s))
	if err != nil {
		return ""
	}
	return string(raw)
}

func (s DailySeries) Dates() []string {
	dates := make([]string, 0, len(s))
	for d := range s {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

func (s DailySeries) Days() []Day {
	out := make([]Day, 0, len(s))
	for _, d := range s.Dates() {
		p := s[d]
		out = append(out, Day{Date: d, Weekday: WeekdayLabel(d), Open: p.Open, Close: p.Close})
	}
	return out
}

// First returns the earliest session.
func (s DailySeries) First() (DayPrice, bool) {
	dates := s.Dates()
	if len(dates) == 0 {
		return DayPrice{}, false
	}
	return s[dates[0]], true
}

// Last returns the latest session.
func (s DailySeries) Last() (DayPrice, bool) {
	dates := s.Dates()
	if len(dates) == 0 {
		return DayPrice{}, false
	}
	return s[dates[len(dates)-1]], true
}

// Within keeps the sessions whose date falls in [start, end], compared by
// calendar date in the location of start.
func (s DailySeries) Within(start, end time.Time) DailySeries {
	if len(s) == 0 {
		return nil
	}
	from := start.Format(DateLayout)
	to := end.In(start.Location()).Format(DateLayout)
	out := DailySeries{}
	for d, p := range s {
		if d >= from && d <= to {
			out[d] = p
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Latest keeps the n most recent sessions.
func (s DailySeries) Latest(n int) DailySeries {
	dates := s.Dates()
	if n <= 0 || len(dates) == 0 {
		return nil
	}
	if len(dates) > n {
		dates = dates[len(dates)-n:]
	}
	out := make(DailySeries, len(dates))
	for _, d := range dates {
		out[d] = s[d]
	}
	return out
}

func (s DailySeries) Clone() DailySeries {
	if s == nil {
		return nil
	}
	out := make(DailySeries, len(s))
	for d, p := range s {
		out[d] = p
	}
	return out
}

// WeekdayLabel returns the lower-case weekday name for an ISO date.
func WeekdayLabel(date string) string {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return ""
	}
	return strings.ToLower(t.Weekday().String())
}
