package domain

import (
	"encoding/json"
	"fmt"
	"math"
)

// Location is a [latitude, longitude] pair in decimal degrees.
type Location struct {
	Lat float64
	Lon float64
}

func (l Location) Valid() bool {
	return isFinite(l.Lat) && isFinite(l.Lon) &&
		l.Lat >= -90 && l.Lat <= 90 &&
		l.Lon >= -180 && l.Lon <= 180
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func (l Location) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{l.Lat, l.Lon})
}

func (l *Location) UnmarshalJSON(data []byte) error {
	loc, ok := ParseLocation(data)
	if !ok {
		return fmt.Errorf("invalid location %s: want [lat, lon] within range", data)
	}
	*l = loc
	return nil
}

// ParseLocation decodes a stored location. Locations are written verbatim,
// so anything that is not a two-element numeric array within range yields
// ok=false and must be treated as absent.
func ParseLocation(raw []byte) (Location, bool) {
	if len(raw) == 0 {
		return Location{}, false
	}
	var pair []float64
	if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
		return Location{}, false
	}
	loc := Location{Lat: pair[0], Lon: pair[1]}
	if !loc.Valid() {
		return Location{}, false
	}
	return loc, true
}
