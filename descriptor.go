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
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	timeUnits = "seconds since 1970-01-01T00:00:00"
	calendar  = "proleptic_gregorian"
)

// levelAttrs holds the CF attributes of well-known level coordinates.
var levelAttrs = map[string]map[string]interface{}{
	"isobaricInhPa": {
		"long_name":        "pressure",
		"units":            "hPa",
		"positive":         "down",
		"stored_direction": "decreasing",
		"standard_name":    "air_pressure",
	},
	"isobaricInPa": {
		"long_name":        "pressure",
		"units":            "Pa",
		"positive":         "down",
		"stored_direction": "decreasing",
		"standard_name":    "air_pressure",
	},
	"heightAboveGround": {
		"long_name":     "height above the surface",
		"units":         "m",
		"positive":      "up",
		"standard_name": "height",
	},
	"depthBelowLandLayer": {
		"long_name":     "soil depth",
		"units":         "m",
		"positive":      "down",
		"standard_name": "depth",
	},
	"hybrid": {
		"long_name":     "hybrid level",
		"units":         "1",
		"positive":      "down",
		"standard_name": "atmosphere_hybrid_sigma_pressure_coordinate",
	},
}

// BuildDescriptor returns the single-message group for a decoded message
// found at span of url. The data variable points at the message bytes;
// coordinates are stored inline. The group's coordinates attribute lists
// every array other than the data variable.
func BuildDescriptor(attrs *AttributeSet, url string, span Span, log logrus.FieldLogger) (*Group, error) {
	if attrs == nil {
		return nil, fmt.Errorf("gribref: no attributes for message at offset %d", span.Offset)
	}
	if attrs.ShortName == "" {
		return nil, fmt.Errorf("gribref: message at offset %d has no variable name", span.Offset)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	g := NewGroup("")
	g.Attrs["GRIB_edition"] = attrs.Edition
	g.Attrs["GRIB_centre"] = attrs.Centre
	g.Attrs["GRIB_centreDescription"] = attrs.CentreDescription
	g.Attrs["GRIB_subCentre"] = attrs.SubCentre
	g.Attrs["institution"] = attrs.CentreDescription

	data, err := dataArray(attrs, url, span)
	if err != nil {
		return nil, err
	}
	g.AddArray(data)

	add := func(a *Array, err error) error {
		if err != nil {
			return err
		}
		g.AddArray(a)
		return nil
	}

	if err := add(timeScalar("time", attrs.ReferenceTime, map[string]interface{}{
		"long_name":     "initial time of forecast",
		"standard_name": "forecast_reference_time",
	})); err != nil {
		return nil, err
	}
	valid := attrs.ValidTime
	if valid.IsZero() {
		sec, ok := UnitSeconds(attrs.StepUnits)
		if !ok {
			return nil, fmt.Errorf("gribref: message at offset %d has unsupported step units %d", span.Offset, attrs.StepUnits)
		}
		valid = attrs.ReferenceTime.Add(time.Duration(attrs.Step * sec * float64(time.Second)))
	}
	if err := add(timeScalar("valid_time", valid, map[string]interface{}{
		"long_name":     "time",
		"standard_name": "time",
	})); err != nil {
		return nil, err
	}

	if hours, ok := attrs.StepHours(); ok {
		if err := add(newArray("step", float64DType, nil, nil, []float64{hours}, stepAttrs())); err != nil {
			return nil, err
		}
	} else {
		// Sub-hourly steps that are not whole hours cannot be keyed in
		// hours; CorrectStep rebuilds them from the two times.
		log.WithFields(logrus.Fields{
			"url":       url,
			"offset":    span.Offset,
			"step":      attrs.Step,
			"stepUnits": attrs.StepUnits,
		}).Debug("gribref: step is not a whole number of hours")
	}

	if attrs.TypeOfLevel != "" {
		level := 0.
		if attrs.HasLevel {
			level = attrs.Level
		}
		la, ok := levelAttrs[attrs.TypeOfLevel]
		if !ok {
			la = map[string]interface{}{
				"long_name": fmt.Sprintf("original GRIB coordinate for key: level(%s)", attrs.TypeOfLevel),
				"units":     "1",
			}
		}
		if err := add(newArray(attrs.TypeOfLevel, float64DType, nil, nil, []float64{level}, copyAttrs(la))); err != nil {
			return nil, err
		}
	}

	if attrs.HasNumber {
		if err := add(newArray("number", int64DType, nil, nil, []float64{float64(attrs.Number)}, map[string]interface{}{
			"long_name":     "ensemble member numerical id",
			"units":         "1",
			"standard_name": "realization",
		})); err != nil {
			return nil, err
		}
	}

	if err := addGridCoordinates(g, attrs); err != nil {
		return nil, err
	}

	var coords []string
	for _, a := range g.Arrays {
		if a.Name != data.Name {
			coords = append(coords, a.Name)
		}
	}
	sort.Strings(coords)
	g.SetCoordinates(coords)
	return g, nil
}

func stepAttrs() map[string]interface{} {
	return map[string]interface{}{
		"long_name":     "time since forecast_reference_time",
		"standard_name": "forecast_period",
		"units":         "hours",
	}
}

func timeScalar(name string, t time.Time, attrs map[string]interface{}) (*Array, error) {
	attrs["units"] = timeUnits
	attrs["calendar"] = calendar
	return newArray(name, int64DType, nil, nil, []float64{float64(t.Unix())}, attrs)
}

// gridDims returns the data shape and dimension names for the grid.
func gridDims(attrs *AttributeSet) ([]int, []string) {
	switch {
	case attrs.Ny == 0:
		return []int{attrs.Nx}, []string{"values"}
	case attrs.Regular():
		return []int{attrs.Ny, attrs.Nx}, []string{"latitude", "longitude"}
	default:
		return []int{attrs.Ny, attrs.Nx}, []string{"y", "x"}
	}
}

func dataArray(attrs *AttributeSet, url string, span Span) (*Array, error) {
	if attrs.Nx <= 0 || attrs.Ny < 0 {
		return nil, fmt.Errorf("gribref: message at offset %d has invalid grid size %dx%d",
			span.Offset, attrs.Nx, attrs.Ny)
	}
	shape, dims := gridDims(attrs)
	a := &Array{
		Name:      attrs.ShortName,
		Shape:     shape,
		Chunks:    append([]int{}, shape...),
		DType:     float64DType,
		FillValue: math.NaN(),
		Compressor: map[string]interface{}{
			"id":    "grib",
			"var":   attrs.ShortName,
			"dtype": "float64",
		},
		Order: defaultOrder,
		Dims:  dims,
		Data: map[string]Entry{
			chunkKey(make([]int, len(shape))): RefEntry(url, span.Offset, span.Length),
		},
	}
	a.Attrs = map[string]interface{}{
		"GRIB_shortName":   attrs.ShortName,
		"GRIB_name":        attrs.Name,
		"GRIB_units":       attrs.Units,
		"GRIB_typeOfLevel": attrs.TypeOfLevel,
		"GRIB_stepType":    attrs.StepType,
		"GRIB_stepUnits":   attrs.StepUnits,
		"GRIB_startStep":   attrs.StartStep,
		"GRIB_endStep":     attrs.Step,
		"GRIB_stepRange":   stepRange(attrs.StepType, attrs.StartStep, attrs.Step),
		"GRIB_gridType":    attrs.GridType,
		"GRIB_Nx":          attrs.Nx,
		"GRIB_Ny":          attrs.Ny,
		"long_name":        attrs.Name,
		"units":            attrs.Units,
	}
	for k, v := range attrs.Extra {
		key := "GRIB_" + k
		if _, ok := a.Attrs[key]; !ok {
			a.Attrs[key] = v
		}
	}
	return a, nil
}

func stepRange(stepType string, start, end float64) string {
	if stepType == "" || stepType == "instant" || start == end {
		return fmt.Sprintf("%g", end)
	}
	return fmt.Sprintf("%g-%g", start, end)
}

func addGridCoordinates(g *Group, attrs *AttributeSet) error {
	if len(attrs.Latitudes) == 0 || len(attrs.Longitudes) == 0 {
		return nil
	}
	latAttrs := map[string]interface{}{
		"long_name":     "latitude",
		"units":         "degrees_north",
		"standard_name": "latitude",
	}
	lonAttrs := map[string]interface{}{
		"long_name":     "longitude",
		"units":         "degrees_east",
		"standard_name": "longitude",
	}
	if attrs.Regular() {
		lat, err := newArray("latitude", float64DType, []int{attrs.Ny}, []string{"latitude"}, attrs.Latitudes, latAttrs)
		if err != nil {
			return err
		}
		lon, err := newArray("longitude", float64DType, []int{attrs.Nx}, []string{"longitude"}, attrs.Longitudes, lonAttrs)
		if err != nil {
			return err
		}
		g.AddArray(lat)
		g.AddArray(lon)
		return nil
	}
	shape, dims := gridDims(attrs)
	n := 1
	for _, s := range shape {
		n *= s
	}
	if len(attrs.Latitudes) != n || len(attrs.Longitudes) != n {
		return fmt.Errorf("gribref: grid has %d points but %d latitudes and %d longitudes",
			n, len(attrs.Latitudes), len(attrs.Longitudes))
	}
	lat, err := newArray("latitude", float64DType, shape, dims, attrs.Latitudes, latAttrs)
	if err != nil {
		return err
	}
	lon, err := newArray("longitude", float64DType, shape, dims, attrs.Longitudes, lonAttrs)
	if err != nil {
		return err
	}
	g.AddArray(lat)
	g.AddArray(lon)
	return nil
}

// dataVariable returns the name of the first array in g that is not
// listed as a coordinate.
func dataVariable(g *Group) (string, bool) {
	coords := make(map[string]bool)
	for _, c := range g.Coordinates() {
		coords[c] = true
	}
	for _, a := range g.Arrays {
		if !coords[a.Name] {
			return a.Name, true
		}
	}
	return "", false
}
