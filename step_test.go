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
	"testing"

	"github.com/kr/pretty"
)

func buildDescriptor(t *testing.T, a *AttributeSet) *Group {
	t.Helper()
	g, err := BuildDescriptor(a, "f.grib2", Span{Offset: 10, Length: 20}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestCorrectStep(t *testing.T) {
	a := testAttrs("vbdsf", "avg", "surface", 0, UnitMinute, 45)
	a.StartStep = 30
	g := buildDescriptor(t, a)
	if g.Array("step") != nil {
		t.Fatal("a 45 minute step should not be stored in hours before correction")
	}
	if !NeedsStepCorrection(g) {
		t.Fatal("minute steps need correction")
	}

	c, err := CorrectStep(g)
	if err != nil {
		t.Fatal(err)
	}
	if g.Array("step") != nil {
		t.Error("the input group was modified")
	}
	v, err := c.Array("step").Values()
	if err != nil {
		t.Fatal(err)
	}
	if len(v) != 1 || v[0] != 0.75 {
		t.Errorf("step: have %v, want [0.75]", v)
	}
	if fill, ok := c.Array("step").FillValue.(float64); !ok || !math.IsNaN(fill) {
		t.Errorf("step fill value: %v", c.Array("step").FillValue)
	}
	found := false
	for _, name := range c.Coordinates() {
		found = found || name == "step"
	}
	if !found {
		t.Errorf("step is not listed in coordinates %v", c.Coordinates())
	}
	attrs := c.Array("vbdsf").Attrs
	want := map[string]interface{}{
		"GRIB_stepUnits": UnitHour,
		"GRIB_startStep": 0.5,
		"GRIB_endStep":   0.75,
		"GRIB_stepRange": "0.5-0.75",
	}
	for k, w := range want {
		if attrs[k] != w {
			t.Errorf("%s: have %v (%T), want %v", k, attrs[k], attrs[k], w)
		}
	}
}

func TestCorrectStepIdempotent(t *testing.T) {
	for _, a := range []*AttributeSet{
		testAttrs("refc", "instant", "atmosphere", 0, UnitMinute, 15),
		testAttrs("refc", "instant", "atmosphere", 0, UnitMinute, 60),
		testAttrs("refc", "instant", "atmosphere", 0, UnitSecond, 5400),
		testAttrs("t", "instant", "surface", 0, UnitHour, 3),
	} {
		once, err := CorrectStep(buildDescriptor(t, a))
		if err != nil {
			t.Fatal(err)
		}
		twice, err := CorrectStep(once)
		if err != nil {
			t.Fatal(err)
		}
		m1, err := NewManifest(once)
		if err != nil {
			t.Fatal(err)
		}
		m2, err := NewManifest(twice)
		if err != nil {
			t.Fatal(err)
		}
		if diff := pretty.Diff(m1, m2); len(diff) > 0 {
			t.Errorf("%s step %g: %v", a.ShortName, a.Step, diff)
		}
	}
}

func TestCorrectStepPassThrough(t *testing.T) {
	g := buildDescriptor(t, testAttrs("t", "instant", "surface", 0, UnitHour, 3))
	if NeedsStepCorrection(g) {
		t.Fatal("hourly steps do not need correction")
	}
	c, err := CorrectStep(g)
	if err != nil {
		t.Fatal(err)
	}
	if c != g {
		t.Error("groups without the defect should be returned unchanged")
	}
}

func TestCorrectStepMissingTime(t *testing.T) {
	g := buildDescriptor(t, testAttrs("refc", "instant", "atmosphere", 0, UnitMinute, 15))
	g.Arrays = removeArray(g.Arrays, "valid_time")
	if _, err := CorrectStep(g); err == nil {
		t.Error("expected an error without valid_time")
	}
}
