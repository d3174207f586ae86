/*
Copyright © 2024 the gribref authors.
This file is part of gribref.

gribref is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

gribref is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with gribref.  If not, see <http://www.gnu.org/licenses/>.
*/

package gribref

import (
	"math"
	"strconv"
	"time"

	"github.com/spf13/cast"
)

// Time range unit codes from GRIB2 code table 4.4.
const (
	UnitMinute      = 0
	UnitHour        = 1
	UnitDay         = 2
	UnitThreeHours  = 10
	UnitSixHours    = 11
	UnitTwelveHours = 12
	UnitSecond      = 13
	UnitMissing     = 255
)

// unitSeconds is the length in seconds of each supported time range unit.
var unitSeconds = map[int]float64{
	UnitMinute:      60,
	UnitHour:        3600,
	UnitDay:         86400,
	UnitThreeHours:  3 * 3600,
	UnitSixHours:    6 * 3600,
	UnitTwelveHours: 12 * 3600,
	UnitSecond:      1,
}

// UnitSeconds returns the length of the given time range unit in seconds
// and whether the unit is known.
func UnitSeconds(unit int) (float64, bool) {
	s, ok := unitSeconds[unit]
	return s, ok
}

// toHours converts v in the given unit to hours.
func toHours(v float64, unit int) (float64, bool) {
	s, ok := UnitSeconds(unit)
	if !ok {
		return math.NaN(), false
	}
	return v * s / 3600, true
}

// subHourly reports whether unit is finer than one hour.
func subHourly(unit int) bool {
	return unit == UnitMinute || unit == UnitSecond
}

// Decoder turns the raw bytes of one GRIB2 message into an AttributeSet.
type Decoder interface {
	Decode(msg []byte) (*AttributeSet, error)
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(msg []byte) (*AttributeSet, error)

// Decode calls f(msg).
func (f DecoderFunc) Decode(msg []byte) (*AttributeSet, error) { return f(msg) }

// AttributeSet holds the decoded description of a single GRIB2 message.
// The named fields are the ones needed to place the message in a dataset;
// producer-specific keys go in Extra.
type AttributeSet struct {
	// ShortName is the variable short name, e.g. "t" or "refc".
	// Messages whose parameter cannot be identified use "unknown".
	ShortName string
	// Name is the long variable name, e.g. "Temperature".
	Name  string
	Units string

	// TypeOfLevel is the level type name, e.g. "isobaricInhPa".
	TypeOfLevel string
	// Level is the level value in the units of TypeOfLevel.
	// HasLevel is false for level types without a value.
	Level    float64
	HasLevel bool

	// StepType is "instant" or the statistical process
	// ("avg", "accum", "max", ...).
	StepType string
	// StepUnits is the GRIB2 code table 4.4 unit of StartStep and Step.
	StepUnits int
	// StartStep and Step are the beginning and end of the forecast
	// period in StepUnits. For instantaneous fields they are equal.
	StartStep float64
	Step      float64

	ReferenceTime time.Time
	ValidTime     time.Time

	// Number is the ensemble member number; HasNumber is false for
	// deterministic fields.
	Number    int
	HasNumber bool

	Centre            string
	CentreDescription string
	SubCentre         int
	Edition           int

	// GridType is the grid name, e.g. "regular_ll" or "lambert".
	GridType string
	// Nx and Ny are the grid dimensions. Grids without a rectangular
	// shape report Ny = 0 and Nx = number of points.
	Nx, Ny int
	// Latitudes and Longitudes are optional coordinate values. For regular
	// grids they have lengths Ny and Nx respectively; for curvilinear grids
	// they hold Ny*Nx values in row-major order.
	Latitudes, Longitudes []float64

	Extra map[string]interface{}
}

// Regular reports whether the grid coordinates are one-dimensional.
func (a *AttributeSet) Regular() bool {
	return a.Ny > 0 && len(a.Latitudes) == a.Ny && len(a.Longitudes) == a.Nx
}

// StepHours returns the forecast step in hours and whether the step is
// exactly representable in whole hours, which is how step is reported
// by decoders that key it in integer hours.
func (a *AttributeSet) StepHours() (float64, bool) {
	v, ok := toHours(a.Step, a.StepUnits)
	if !ok {
		return v, false
	}
	if subHourly(a.StepUnits) && v != math.Trunc(v) {
		return v, false
	}
	return v, true
}

// Lookup returns the string form of the named attribute, for use in
// message filters. Names follow the usual GRIB key names; unknown names
// are looked up in Extra.
func (a *AttributeSet) Lookup(key string) (string, bool) {
	switch key {
	case "shortName":
		return a.ShortName, true
	case "name":
		return a.Name, true
	case "units":
		return a.Units, true
	case "typeOfLevel":
		return a.TypeOfLevel, true
	case "level":
		if !a.HasLevel {
			return "", false
		}
		return strconv.FormatFloat(a.Level, 'g', -1, 64), true
	case "stepType":
		return a.StepType, true
	case "stepUnits":
		return strconv.Itoa(a.StepUnits), true
	case "step", "endStep":
		return strconv.FormatFloat(a.Step, 'g', -1, 64), true
	case "startStep":
		return strconv.FormatFloat(a.StartStep, 'g', -1, 64), true
	case "number":
		if !a.HasNumber {
			return "", false
		}
		return strconv.Itoa(a.Number), true
	case "centre":
		return a.Centre, true
	case "gridType":
		return a.GridType, true
	}
	v, ok := a.Extra[key]
	if !ok {
		return "", false
	}
	s, err := cast.ToStringE(v)
	return s, err == nil
}

// Match reports whether a satisfies every condition in filter. Each key of
// filter is an attribute name and the message matches when the attribute's
// value is one of the listed values.
func (a *AttributeSet) Match(filter map[string][]string) bool {
	for key, values := range filter {
		v, ok := a.Lookup(key)
		if !ok {
			return false
		}
		found := false
		for _, want := range values {
			if want == v || numericEqual(want, v) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// numericEqual compares two strings as numbers, so that "2" matches "2.0".
func numericEqual(a, b string) bool {
	x, err := strconv.ParseFloat(a, 64)
	if err != nil {
		return false
	}
	y, err := strconv.ParseFloat(b, 64)
	if err != nil {
		return false
	}
	return x == y
}
