package ir

import "fmt"

// Horizon is a named planning window. H0 is the nearest, H3 the furthest.
type Horizon string

const (
	H0 Horizon = "H0"
	H1 Horizon = "H1"
	H2 Horizon = "H2"
	H3 Horizon = "H3"
)

// Horizons lists every horizon in ascending time distance.
var Horizons = []Horizon{H0, H1, H2, H3}

// DefaultHorizonOrder is the preference order used when a view needs a single
// default snapshot: the mid-range planning window first, then further windows,
// then the nearest.
var DefaultHorizonOrder = []Horizon{H1, H2, H3, H0}

// Valid reports whether h is one of H0..H3.
func (h Horizon) Valid() bool {
	switch h {
	case H0, H1, H2, H3:
		return true
	}
	return false
}

// ParseHorizon converts s to a Horizon.
func ParseHorizon(s string) (Horizon, error) {
	h := Horizon(s)
	if !h.Valid() {
		return "", fmt.Errorf("invalid horizon %q: must be one of H0, H1, H2, H3", s)
	}
	return h, nil
}

// Sport identifies the program discipline.
type Sport string

const (
	SportCrossCountry Sport = "xc"
	SportTrackField   Sport = "tf"
)

// Valid reports whether s is a supported sport.
func (s Sport) Valid() bool {
	return s == SportCrossCountry || s == SportTrackField
}
