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

import "testing"

func TestAttributeMatch(t *testing.T) {
	a := testAttrs("t", "instant", "isobaricInhPa", 500, UnitHour, 6)
	a.Extra = map[string]interface{}{"paramId": 130}
	for _, test := range []struct {
		filter map[string][]string
		want   bool
	}{
		{nil, true},
		{map[string][]string{"shortName": {"t"}}, true},
		{map[string][]string{"shortName": {"u", "v"}}, false},
		{map[string][]string{"level": {"500.0"}, "typeOfLevel": {"isobaricInhPa"}}, true},
		{map[string][]string{"level": {"500"}, "typeOfLevel": {"surface"}}, false},
		{map[string][]string{"paramId": {"130"}}, true},
		{map[string][]string{"number": {"0"}}, false},
		{map[string][]string{"noSuchKey": {""}}, false},
	} {
		if have := a.Match(test.filter); have != test.want {
			t.Errorf("%v: have %v, want %v", test.filter, have, test.want)
		}
	}
}

func TestStepHours(t *testing.T) {
	for _, test := range []struct {
		unit   int
		step   float64
		hours  float64
		wholes bool
	}{
		{UnitHour, 6, 6, true},
		{UnitMinute, 120, 2, true},
		{UnitMinute, 45, 0.75, false},
		{UnitSecond, 5400, 1.5, false},
		{UnitSixHours, 2, 12, true},
		{UnitDay, 1, 24, true},
	} {
		a := &AttributeSet{StepUnits: test.unit, Step: test.step}
		h, ok := a.StepHours()
		if h != test.hours || ok != test.wholes {
			t.Errorf("%d %g: have %g %v, want %g %v", test.unit, test.step, h, ok, test.hours, test.wholes)
		}
	}
	if _, ok := (&AttributeSet{StepUnits: UnitMissing}).StepHours(); ok {
		t.Error("a missing unit cannot be converted")
	}
}
