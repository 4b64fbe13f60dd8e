package alerts

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrInvalidThreshold = errors.New("invalid threshold")
	ErrInvalidTimeframe = errors.New("invalid timeframe")
)

// Band is a named, closed snowfall range in inches. Only Min takes part in
// matching.
type Band struct {
	Name string  `json:"name"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

var bands = map[string]Band{
	"light": {Name: "light", Min: 1, Max: 5},
	"good":  {Name: "good", Min: 5, Max: 15},
	"great": {Name: "great", Min: 15, Max: 100},
}

// Timeframes are the look-ahead windows, in days, a subscription may use.
var Timeframes = []int{5, 10}

// BandFor returns the band named by threshold.
func BandFor(threshold string) (Band, error) {
	b, ok := bands[strings.ToLower(strings.TrimSpace(threshold))]
	if !ok {
		return Band{}, fmt.Errorf("%w: %q", ErrInvalidThreshold, threshold)
	}
	return b, nil
}

// Bands lists every band, lowest first.
func Bands() []Band {
	out := make([]Band, 0, len(bands))
	for _, b := range bands {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Min < out[j].Min })
	return out
}

func validTimeframe(days int) error {
	for _, d := range Timeframes {
		if d == days {
			return nil
		}
	}
	return fmt.Errorf("%w: %d days", ErrInvalidTimeframe, days)
}
