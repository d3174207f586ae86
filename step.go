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

	"github.com/spf13/cast"
)

// NeedsStepCorrection reports whether the forecast step of the
// single-message group g is known to be unreliable. This is the case for
// sub-hourly output (for example HRRR "subh" files), which encodes steps in
// minutes or seconds: decoders that key steps in whole hours then either
// drop the step or report it in the wrong unit.
func NeedsStepCorrection(g *Group) bool {
	vname, ok := dataVariable(g)
	if !ok {
		return false
	}
	if g.Array("step") == nil {
		return true
	}
	unit, err := cast.ToIntE(g.Array(vname).Attrs["GRIB_stepUnits"])
	if err != nil {
		return false
	}
	return subHourly(unit)
}

// CorrectStep returns g with its step coordinate rebuilt, in fractional
// hours, from the difference between valid_time and time. The step-derived
// attributes of the data variable are rewritten to match and its step unit
// becomes hours. Groups that do not need correction are returned unchanged,
// so CorrectStep is idempotent. g itself is never modified.
func CorrectStep(g *Group) (*Group, error) {
	if !NeedsStepCorrection(g) {
		return g, nil
	}
	ref, err := scalarValue(g, "time")
	if err != nil {
		return nil, err
	}
	valid, err := scalarValue(g, "valid_time")
	if err != nil {
		return nil, err
	}
	hours := (valid - ref) / 3600

	out := g.Clone()
	step, err := newArray("step", float64DType, nil, nil, []float64{hours}, stepAttrs())
	if err != nil {
		return nil, err
	}
	out.AddArray(step)

	coords := out.Coordinates()
	found := false
	for _, c := range coords {
		if c == "step" {
			found = true
			break
		}
	}
	if !found {
		out.SetCoordinates(append(coords, "step"))
	}

	vname, _ := dataVariable(out)
	data := out.Array(vname)
	oldUnit, err := cast.ToIntE(data.Attrs["GRIB_stepUnits"])
	if err != nil {
		oldUnit = UnitHour
	}
	start := hours
	if s, err := cast.ToFloat64E(data.Attrs["GRIB_startStep"]); err == nil {
		if h, ok := toHours(s, oldUnit); ok {
			start = h
		}
	}
	stepType, _ := data.Attrs["GRIB_stepType"].(string)
	if stepType == "" || stepType == "instant" {
		start = hours
	}
	data.Attrs["GRIB_stepUnits"] = UnitHour
	data.Attrs["GRIB_startStep"] = start
	data.Attrs["GRIB_endStep"] = hours
	data.Attrs["GRIB_stepRange"] = stepRange(stepType, start, hours)
	return out, nil
}

// scalarValue decodes the single value of the named inline array.
func scalarValue(g *Group, name string) (float64, error) {
	a := g.Array(name)
	if a == nil {
		return 0, fmt.Errorf("gribref: correcting step: no %s coordinate", name)
	}
	v, err := a.Values()
	if err != nil {
		return 0, err
	}
	if len(v) != 1 {
		return 0, fmt.Errorf("gribref: correcting step: %s has %d values, want 1", name, len(v))
	}
	return v[0], nil
}
