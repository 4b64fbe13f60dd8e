package sources

import (
	"context"
	"errors"
	"sync"

	"github.com/kelvins/geocoder"
)

var errNoCoordinates = errors.New("geocoder returned no coordinates")

// Geocoder resolves resort coordinates through the Google geocoding API.
type Geocoder struct {
	apiKey string
}

// NewGeocoder returns nil when apiKey is empty so callers can skip geocoding.
func NewGeocoder(apiKey string) *Geocoder {
	if apiKey == "" {
		return nil
	}
	return &Geocoder{apiKey: apiKey}
}

// The geocoder package keeps its key in a package variable.
var geocodeMu sync.Mutex

// Locate returns the coordinates of a named place in a US state.
func (g *Geocoder) Locate(ctx context.Context, name, state string) (float64, float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}

	geocodeMu.Lock()
	defer geocodeMu.Unlock()

	geocoder.ApiKey = g.apiKey
	loc, err := geocoder.Geocoding(geocoder.Address{
		Street:  name,
		State:   state,
		Country: "United States",
	})
	if err != nil {
		return 0, 0, err
	}
	if loc.Latitude == 0 && loc.Longitude == 0 {
		return 0, 0, errNoCoordinates
	}
	return loc.Latitude, loc.Longitude, nil
}
