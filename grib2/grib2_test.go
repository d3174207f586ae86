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
	"encoding/binary"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/spatialmodel/gribref"
	"gonum.org/v1/gonum/floats"
)

// sectionBuilder writes a section by octet number.
type sectionBuilder []byte

func newSection(num, length int) sectionBuilder {
	s := make(sectionBuilder, length)
	binary.BigEndian.PutUint32(s, uint32(length))
	s[4] = byte(num)
	return s
}

func (s sectionBuilder) put8(o, v int) sectionBuilder {
	s[o-1] = byte(v)
	return s
}

func (s sectionBuilder) put16(o, v int) sectionBuilder {
	binary.BigEndian.PutUint16(s[o-1:], uint16(v))
	return s
}

func (s sectionBuilder) put32(o int, v uint32) sectionBuilder {
	binary.BigEndian.PutUint32(s[o-1:], v)
	return s
}

// putSigned writes a sign-and-magnitude integer.
func (s sectionBuilder) putSigned(o int, v int64) sectionBuilder {
	u := uint32(v)
	if v < 0 {
		u = uint32(-v) | 0x80000000
	}
	return s.put32(o, u)
}

func (s sectionBuilder) putDegrees(o int, deg float64) sectionBuilder {
	return s.putSigned(o, int64(math.Round(deg*1e6)))
}

func buildMessage(discipline int, sections ...sectionBuilder) []byte {
	n := indicatorLength + len(endMarker)
	for _, s := range sections {
		n += len(s)
	}
	b := make([]byte, 0, n)
	b = append(b, "GRIB"...)
	b = append(b, 0, 0, byte(discipline), 2)
	b = binary.BigEndian.AppendUint64(b, uint64(n))
	for _, s := range sections {
		b = append(b, s...)
	}
	return append(b, endMarker...)
}

var refTime = time.Date(2023, 9, 28, 1, 0, 0, 0, time.UTC)

func identificationSection(centre int) sectionBuilder {
	return newSection(1, 21).put16(6, centre).put8(10, 2).put8(12, 1).
		put16(13, refTime.Year()).put8(15, int(refTime.Month())).put8(16, refTime.Day()).
		put8(17, refTime.Hour()).put8(18, refTime.Minute()).put8(19, refTime.Second()).
		put8(21, 1)
}

// latLonSection describes a 4x3 grid from 50N to 48N and 250E to 251.5E.
func latLonSection() sectionBuilder {
	return newSection(3, 72).put32(7, 12).put16(13, 0).put8(15, 6).
		put32(31, 4).put32(35, 3).
		putDegrees(47, 50).putDegrees(51, 250).
		putDegrees(56, 48).putDegrees(60, 251.5).
		putDegrees(64, 0.5).putDegrees(68, 1).put8(72, 0)
}

// lambertSection describes the south-west corner of the HRRR CONUS grid.
func lambertSection() sectionBuilder {
	return newSection(3, 81).put32(7, 6).put16(13, 30).put8(15, 6).
		put32(31, 3).put32(35, 2).
		putDegrees(39, 21.138123).putDegrees(43, 237.280472).
		putDegrees(48, 38.5).putDegrees(52, 262.5).
		put32(56, 3000000).put32(60, 3000000).put8(65, scanPositiveJ).
		putDegrees(66, 38.5).putDegrees(70, 38.5).
		putDegrees(74, -90).putDegrees(78, 0)
}

// instantSection describes a forecast at a level of the given surface
// type.
func instantSection(tmpl, cat, num, unit int, forecast uint32, surface int, value int64) sectionBuilder {
	s := newSection(4, 34)
	if tmpl == 1 {
		s = append(s, 3, 4, 10)
		binary.BigEndian.PutUint32(s, uint32(len(s)))
	}
	return s.put16(8, tmpl).put8(10, cat).put8(11, num).put8(12, 2).
		put8(18, unit).put32(19, forecast).
		put8(23, surface).put8(24, 0).putSigned(25, value).
		put8(29, missingSurface).put8(30, 0xff).put32(31, 0xffffffff)
}

// averageSection describes a vbdsf average over [start, start+length]
// minutes at the surface.
func averageSection(start, length int) sectionBuilder {
	s := newSection(4, 58).put16(8, 8).put8(10, 4).put8(11, 200).
		put8(18, gribref.UnitMinute).put32(19, uint32(start)).
		put8(23, 1).put8(24, 0).put32(25, 0).
		put8(29, missingSurface).put8(30, 0xff).put32(31, 0xffffffff)
	end := refTime.Add(time.Duration(start+length) * time.Minute)
	return s.put16(35, end.Year()).put8(37, int(end.Month())).put8(38, end.Day()).
		put8(39, end.Hour()).put8(40, end.Minute()).put8(41, end.Second()).
		put8(42, 1).put8(47, 0).put8(48, 2).put8(49, gribref.UnitMinute).put32(50, uint32(length))
}

func representationSection(tmpl, n int) sectionBuilder {
	return newSection(5, 21).put32(6, uint32(n)).put16(10, tmpl)
}

func TestDecodeLatLon(t *testing.T) {
	msg := buildMessage(0, identificationSection(7), latLonSection(),
		instantSection(0, 0, 0, gribref.UnitHour, 6, 100, 50000), representationSection(3, 12))
	a, err := NewDecoder(nil).Decode(msg)
	if err != nil {
		t.Fatal(err)
	}
	if a.ShortName != "t" || a.Units != "K" || a.Centre != "kwbc" || a.Edition != 2 {
		t.Errorf("identification: %+v", a)
	}
	if a.TypeOfLevel != "isobaricInhPa" || !a.HasLevel || a.Level != 500 {
		t.Errorf("level: %s %v %g", a.TypeOfLevel, a.HasLevel, a.Level)
	}
	if a.StepType != "instant" || a.StepUnits != gribref.UnitHour || a.Step != 6 || a.StartStep != 6 {
		t.Errorf("step: %s %d %g %g", a.StepType, a.StepUnits, a.StartStep, a.Step)
	}
	if !a.ReferenceTime.Equal(refTime) || !a.ValidTime.Equal(refTime.Add(6*time.Hour)) {
		t.Errorf("times: %v %v", a.ReferenceTime, a.ValidTime)
	}
	if a.GridType != "regular_ll" || a.Nx != 4 || a.Ny != 3 || !a.Regular() {
		t.Errorf("grid: %s %dx%d", a.GridType, a.Nx, a.Ny)
	}
	if want := []float64{50, 49, 48}; !floats.EqualApprox(a.Latitudes, want, 1e-9) {
		t.Errorf("latitudes: have %v, want %v", a.Latitudes, want)
	}
	if want := []float64{250, 250.5, 251, 251.5}; !floats.EqualApprox(a.Longitudes, want, 1e-9) {
		t.Errorf("longitudes: have %v, want %v", a.Longitudes, want)
	}
	if a.Extra["packingType"] != "grid_complex_spatial_differencing" || a.Extra["discipline"] != 0 {
		t.Errorf("extra: %v", a.Extra)
	}
}

func TestDecodeSubHourlyAverage(t *testing.T) {
	msg := buildMessage(0, identificationSection(7), lambertSection(), averageSection(30, 15))
	a, err := NewDecoder(nil).Decode(msg)
	if err != nil {
		t.Fatal(err)
	}
	if a.ShortName != "vbdsf" || a.TypeOfLevel != "surface" || a.Level != 0 {
		t.Errorf("parameter: %s at %s %g", a.ShortName, a.TypeOfLevel, a.Level)
	}
	if a.StepType != "avg" || a.StepUnits != gribref.UnitMinute || a.StartStep != 30 || a.Step != 45 {
		t.Errorf("step: %s %d %g %g", a.StepType, a.StepUnits, a.StartStep, a.Step)
	}
	if want := refTime.Add(45 * time.Minute); !a.ValidTime.Equal(want) {
		t.Errorf("valid time: have %v, want %v", a.ValidTime, want)
	}
	if hours, ok := a.StepHours(); ok || hours != 0.75 {
		t.Errorf("step hours: %g %v", hours, ok)
	}
}

func TestDecodeLambert(t *testing.T) {
	msg := buildMessage(0, identificationSection(7), lambertSection(),
		instantSection(0, 16, 196, gribref.UnitHour, 1, 10, 0))
	a, err := NewDecoder(nil).Decode(msg)
	if err != nil {
		t.Fatal(err)
	}
	if a.ShortName != "refc" || a.TypeOfLevel != "atmosphere" {
		t.Errorf("parameter: %s at %s", a.ShortName, a.TypeOfLevel)
	}
	if a.GridType != "lambert" || a.Nx != 3 || a.Ny != 2 || a.Regular() {
		t.Fatalf("grid: %s %dx%d", a.GridType, a.Nx, a.Ny)
	}
	if len(a.Latitudes) != 6 || len(a.Longitudes) != 6 {
		t.Fatalf("coordinates: %d, %d", len(a.Latitudes), len(a.Longitudes))
	}
	if math.Abs(a.Latitudes[0]-21.138123) > 1e-5 || math.Abs(a.Longitudes[0]-237.280472) > 1e-5 {
		t.Errorf("first point: %g, %g", a.Latitudes[0], a.Longitudes[0])
	}
	if a.Latitudes[3] <= a.Latitudes[0] {
		t.Errorf("rows should go north: %g then %g", a.Latitudes[0], a.Latitudes[3])
	}
	if a.Longitudes[1] <= a.Longitudes[0] {
		t.Errorf("columns should go east: %g then %g", a.Longitudes[0], a.Longitudes[1])
	}
	if a.Extra["DxInMetres"] != 3000.0 {
		t.Errorf("dx: %v", a.Extra["DxInMetres"])
	}

	g, err := gribref.BuildDescriptor(a, "hrrr.grib2", gribref.Span{Length: int64(len(msg))}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if lat := g.Array("latitude"); lat == nil || len(lat.Shape) != 2 {
		t.Errorf("expected two-dimensional latitudes")
	}
}

func TestDecodeEnsemble(t *testing.T) {
	msg := buildMessage(0, identificationSection(98), latLonSection(),
		instantSection(1, 2, 2, gribref.UnitHour, 12, 103, 10))
	a, err := NewDecoder(nil).Decode(msg)
	if err != nil {
		t.Fatal(err)
	}
	if !a.HasNumber || a.Number != 4 {
		t.Errorf("number: %v %d", a.HasNumber, a.Number)
	}
	if a.ShortName != "u" || a.TypeOfLevel != "heightAboveGround" || a.Level != 10 || a.Centre != "ecmf" {
		t.Errorf("attributes: %s %s %g %s", a.ShortName, a.TypeOfLevel, a.Level, a.Centre)
	}
}

func TestDecodeUnknownParameter(t *testing.T) {
	msg := buildMessage(0, identificationSection(7), latLonSection(),
		instantSection(0, 191, 254, gribref.UnitHour, 0, 1, 0))
	a, err := NewDecoder(nil).Decode(msg)
	if err != nil {
		t.Fatal(err)
	}
	if a.ShortName != "unknown" {
		t.Errorf("short name: %s", a.ShortName)
	}

	tables := DefaultTables()
	err = tables.Read(strings.NewReader(`
[[parameter]]
discipline = 0
category = 191
number = 254
shortName = "mystery"
name = "Local parameter"
units = "1"

[[centre]]
code = 7
abbreviation = "ncep"
description = "NCEP"
`))
	if err != nil {
		t.Fatal(err)
	}
	a, err = NewDecoder(tables).Decode(msg)
	if err != nil {
		t.Fatal(err)
	}
	if a.ShortName != "mystery" || a.Centre != "ncep" {
		t.Errorf("local definitions were not used: %s %s", a.ShortName, a.Centre)
	}
	if err := tables.Read(strings.NewReader("[[level]]\ncode = 250\n")); err == nil {
		t.Error("expected an error for a level without a name")
	}
}

func TestDecodeErrors(t *testing.T) {
	good := buildMessage(0, identificationSection(7), latLonSection(),
		instantSection(0, 0, 0, gribref.UnitHour, 6, 100, 50000))
	edition1 := append([]byte{}, good...)
	edition1[7] = 1
	noGrid := buildMessage(0, identificationSection(7), instantSection(0, 0, 0, gribref.UnitHour, 6, 100, 50000))
	badLength := append([]byte{}, good...)
	binary.BigEndian.PutUint32(badLength[indicatorLength:], 3)
	template := buildMessage(0, identificationSection(7), latLonSection(),
		instantSection(0, 0, 0, gribref.UnitHour, 6, 100, 50000).put16(8, 15))

	for name, msg := range map[string][]byte{
		"edition":      edition1,
		"no grid":      noGrid,
		"length":       badLength,
		"template":     template,
		"not grib":     []byte("GRUB0000000000000000"),
		"no end":       good[:len(good)-4],
		"unknown unit": buildMessage(0, identificationSection(7), latLonSection(), instantSection(0, 0, 0, 7, 6, 1, 0)),
	} {
		if _, err := NewDecoder(nil).Decode(msg); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}
