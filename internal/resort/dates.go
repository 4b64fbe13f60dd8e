package resort

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is how forecast and report dates are persisted.
const DateLayout = "2006-01-02"

var absoluteDateLayouts = []string{
	DateLayout,
	"01/02/2006",
	"1/2/2006",
	time.RFC3339,
	"Jan 2, 2006",
	"January 2, 2006",
}

var shortDateLayouts = []string{
	"01/02",
	"1/2",
	"01-02",
	"Jan 2",
	"January 2",
	"Mon 1/2",
	"Mon 01/02",
	"Mon Jan 2",
	"Monday 1/2",
	"Monday Jan 2",
	"Monday, January 2",
}

// NormalizeForecastDate turns an upstream forecast date into an absolute
// calendar date. Dates that already carry a year pass through. Month/day-only
// dates get the year that keeps them within six months of ref, so a December
// fetch yielding "01/03" resolves to the following January.
func NormalizeForecastDate(short string, ref time.Time) (time.Time, error) {
	s := strings.TrimSpace(short)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty forecast date")
	}
	for _, layout := range absoluteDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}

	month, day, err := parseMonthDay(s)
	if err != nil {
		return time.Time{}, err
	}

	year := ref.Year()
	diff := int(month) - int(ref.Month()) // months from ref, same year
	switch {
	case diff < -6:
		year++
	case diff > 6:
		year--
	}

	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Month() != month || t.Day() != day {
		return time.Time{}, fmt.Errorf("invalid calendar date %q for year %d", short, year)
	}
	return t, nil
}

func parseMonthDay(s string) (time.Month, int, error) {
	for _, layout := range shortDateLayouts {
		// Parse against a leap year so "02/29" is representable before the
		// real year is chosen.
		t, err := time.Parse("2006 "+layout, "2024 "+s)
		if err == nil {
			return t.Month(), t.Day(), nil
		}
	}
	return 0, 0, fmt.Errorf("unrecognized forecast date %q", s)
}
