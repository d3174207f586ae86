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


package grib2

import (
	"fmt"
	"math"
	"time"

	"github.com/spatialmodel/gribref"
)

const missingSurface = 255

// product decodes the product definition section. Templates 4.0
// (analysis or forecast at a point in time), 4.1 (ensemble member),
// 4.8 (statistically processed) and 4.11 (statistically processed
// ensemble member) are supported.
func product(a *gribref.AttributeSet, discipline int, s section, tables *Tables) error {
	if err := s.need(9, "product definition section"); err != nil {
		return err
	}
	tmpl := s.u16(8)
	a.Extra["productDefinitionTemplateNumber"] = tmpl
	switch tmpl {
	case 0, 1, 8, 11:
	default:
		return fmt.Errorf("grib2: product definition template 4.%d is not supported", tmpl)
	}
	if err := s.need(34, "product definition template"); err != nil {
		return err
	}

	cat, num := s.u8(10), s.u8(11)
	p, _ := tables.Parameter(discipline, cat, num)
	a.ShortName, a.Name, a.Units = p.ShortName, p.Name, p.Units
	a.Extra["parameterCategory"] = cat
	a.Extra["parameterNumber"] = num
	a.Extra["typeOfGeneratingProcess"] = s.u8(12)

	a.StepUnits = s.u8(18)
	forecast := float64(s.u32(19))
	a.StartStep, a.Step = forecast, forecast
	a.StepType = "instant"

	if err := level(a, s, tables); err != nil {
		return err
	}

	stat := 35
	if tmpl == 1 || tmpl == 11 {
		if err := s.need(37, "ensemble product template"); err != nil {
			return err
		}
		a.Number, a.HasNumber = s.u8(36), true
		a.Extra["typeOfEnsembleForecast"] = s.u8(35)
		a.Extra["numberOfForecastsInEnsemble"] = s.u8(37)
		stat = 38
	}
	if tmpl == 8 || tmpl == 11 {
		if err := statistics(a, s, stat); err != nil {
			return err
		}
		return nil
	}
	sec, ok := gribref.UnitSeconds(a.StepUnits)
	if !ok {
		return fmt.Errorf("grib2: unsupported time range unit %d", a.StepUnits)
	}
	a.ValidTime = a.ReferenceTime.Add(time.Duration(forecast*sec) * time.Second)
	return nil
}

// statistics decodes the time range of a statistically processed product
// whose template-specific part starts at octet o.
func statistics(a *gribref.AttributeSet, s section, o int) error {
	if err := s.need(o+23, "statistical product template"); err != nil {
		return err
	}
	a.ValidTime = time.Date(s.u16(o), time.Month(s.u8(o+2)), s.u8(o+3),
		s.u8(o+4), s.u8(o+5), s.u8(o+6), 0, time.UTC)
	n := s.u8(o + 7)
	if n < 1 {
		return fmt.Errorf("grib2: statistical product has no time ranges")
	}
	proc := s.u8(o + 12)
	name, ok := statProcess[proc]
	if !ok {
		name = fmt.Sprintf("stat%d", proc)
	}
	a.StepType = name
	a.Extra["typeOfStatisticalProcessing"] = proc
	a.Extra["numberOfTimeRanges"] = n

	unit := s.u8(o + 14)
	length := float64(s.u32(o + 15))
	if unit != a.StepUnits {
		from, ok1 := gribref.UnitSeconds(unit)
		to, ok2 := gribref.UnitSeconds(a.StepUnits)
		if !ok1 || !ok2 {
			return fmt.Errorf("grib2: unsupported time range units %d and %d", unit, a.StepUnits)
		}
		length = length * from / to
	}
	a.Step = a.StartStep + length
	return nil
}

func level(a *gribref.AttributeSet, s section, tables *Tables) error {
	first, second := s.u8(23), s.u8(29)
	l, _ := tables.Level(first)
	a.TypeOfLevel = l.TypeOfLevel
	a.Extra["typeOfFirstFixedSurface"] = first
	if second != missingSurface {
		a.Extra["typeOfSecondFixedSurface"] = second
	}
	if second == first && (first == 103 || first == 106 || first == 108) {
		a.TypeOfLevel += "Layer"
	}

	v, ok := scaledValue(s, 24)
	if !ok {
		return nil
	}
	v /= l.Scale
	if first == 100 && v < 1 {
		// Pressures below 1 hPa are reported in Pa.
		a.TypeOfLevel = "isobaricInPa"
		v *= l.Scale
	}
	a.Level, a.HasLevel = v, true
	if v2, ok := scaledValue(s, 30); ok && second != missingSurface {
		a.Extra["firstFixedSurface"] = v
		a.Extra["secondFixedSurface"] = v2 / l.Scale
	}
	return nil
}

// scaledValue reads a scale factor at octet o followed by a scaled value.
func scaledValue(s section, o int) (float64, bool) {
	if s.u8(o) == 0xff || missing32(s.u32(o+1)) {
		return 0, false
	}
	return float64(s.s32(o+1)) / math.Pow(10, float64(s.s8(o))), true
}
