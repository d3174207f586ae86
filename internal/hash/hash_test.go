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

package hash

import (
	"math"
	"testing"
)

type stringer struct{ v int }

func (s stringer) String() string { return "same" }

func TestHash(t *testing.T) {
	a := map[string]interface{}{"b": []byte{1, 2}, "a": math.NaN(), "c": 3}
	b := map[string]interface{}{"c": 3, "a": math.NaN(), "b": []byte{1, 2}}
	for i := 0; i < 10; i++ {
		if Hash(a) != Hash(b) {
			t.Fatal("equal maps should have equal hashes")
		}
	}
	if Equal([]byte{1, 2}, []byte{2, 1}) {
		t.Error("different slices should have different hashes")
	}
	if Equal(stringer{1}, stringer{2}) {
		t.Error("String methods should not be used for hashing")
	}
	if len(Hash(1)) != 32 {
		t.Errorf("hash length: %d", len(Hash(1)))
	}
}
