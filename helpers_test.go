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
	"bytes"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"sync"
	"testing"
	"time"
)

// memStorage is an in-memory Storage that records every access.
type memStorage struct {
	mu       sync.Mutex
	files    map[string][]byte
	accessed []string
	// sizes overrides the reported size of files.
	sizes map[string]int64
}

func newMemStorage() *memStorage {
	return &memStorage{files: make(map[string][]byte), sizes: make(map[string]int64)}
}

func (m *memStorage) get(url string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accessed = append(m.accessed, url)
	b, ok := m.files[url]
	if !ok {
		return nil, &NotFoundError{URL: url}
	}
	return b, nil
}

func (m *memStorage) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	b, err := m.get(url)
	if err != nil {
		return nil, err
	}
	return ioutil.NopCloser(bytes.NewReader(b)), nil
}

func (m *memStorage) ReadRange(ctx context.Context, url string, offset, length int64) ([]byte, error) {
	b, err := m.get(url)
	if err != nil {
		return nil, err
	}
	if length < 0 {
		return b[offset:], nil
	}
	return b[offset : offset+length], nil
}

func (m *memStorage) Size(ctx context.Context, url string) (int64, error) {
	m.mu.Lock()
	size, ok := m.sizes[url]
	m.mu.Unlock()
	if ok {
		return size, nil
	}
	b, err := m.get(url)
	if err != nil {
		return 0, err
	}
	return int64(len(b)), nil
}

// indexDecoder decodes messages made by testMessage, using the body byte
// as an index into attrs. A nil entry is a decode failure.
type indexDecoder []*AttributeSet

func (d indexDecoder) Decode(msg []byte) (*AttributeSet, error) {
	if len(msg) <= indicatorLength+endLength {
		return nil, fmt.Errorf("empty message")
	}
	i := int(msg[indicatorLength])
	if i >= len(d) || d[i] == nil {
		return nil, fmt.Errorf("cannot decode message %d", i)
	}
	a := *d[i]
	return &a, nil
}

var refTime = time.Unix(1695862800, 0).UTC()

// testAttrs returns the attributes of a message on a 2x3 regular grid.
func testAttrs(shortName, stepType, typeOfLevel string, level float64, stepUnits int, step float64) *AttributeSet {
	sec, _ := UnitSeconds(stepUnits)
	return &AttributeSet{
		ShortName:         shortName,
		Name:              "name of " + shortName,
		Units:             "1",
		TypeOfLevel:       typeOfLevel,
		Level:             level,
		HasLevel:          true,
		StepType:          stepType,
		StepUnits:         stepUnits,
		StartStep:         step,
		Step:              step,
		ReferenceTime:     refTime,
		ValidTime:         refTime.Add(time.Duration(step*sec) * time.Second),
		Centre:            "kwbc",
		CentreDescription: "US National Weather Service - NCEP",
		Edition:           2,
		GridType:          "regular_ll",
		Nx:                3,
		Ny:                2,
		Latitudes:         []float64{40, 39},
		Longitudes:        []float64{250, 251, 252},
	}
}

// describeAll builds corrected descriptors for attrs, as ScanGrib would.
func describeAll(t *testing.T, attrs ...*AttributeSet) []*Group {
	t.Helper()
	var out []*Group
	for i, a := range attrs {
		g, err := BuildDescriptor(a, "file.grib2", Span{Offset: int64(i * 100), Length: 100}, nil)
		if err != nil {
			t.Fatal(err)
		}
		if g, err = CorrectStep(g); err != nil {
			t.Fatal(err)
		}
		out = append(out, g)
	}
	return out
}

// elementValues returns the values of an array stored with one element
// per chunk, in row-major order. Missing chunks read as the fill value.
func elementValues(t *testing.T, a *Array) []float64 {
	t.Helper()
	n := 1
	for _, s := range a.Shape {
		n *= s
	}
	idx := make([]int, len(a.Shape))
	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		e, ok := a.Data[chunkKey(idx)]
		if !ok {
			v, err := fillFloat(a)
			if err != nil {
				t.Fatal(err)
			}
			out = append(out, v)
		} else {
			v, err := decodeValues(a.DType, e.Inline)
			if err != nil {
				t.Fatal(err)
			}
			out = append(out, v[0])
		}
		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < a.Shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out
}
