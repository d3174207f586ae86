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
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/gribref/internal/hash"
)

// Dimensions concatenated across the messages of a group, outermost first.
// A level dimension with more than one value is appended after these.
var concatDims = []string{"time", "step"}

// Dimensions that must be the same in every message of a group. A level
// dimension with a single value is added to these.
var identicalDims = []string{"longitude", "latitude"}

// aggregation collects the messages that share one group path.
type aggregation struct {
	path    []string
	level   string
	members []*Group
	// levels holds the distinct level values seen, by key.
	levels map[string]bool
}

// GribTree merges single-message groups into one hierarchical dataset
// with groups at variable/stepType/typeOfLevel. Within each leaf group the
// time and step coordinates, and the level coordinate when it takes more
// than one value, become dimensions holding their distinct values in
// first-seen order. Every other array gains those dimensions in front of
// its own, so a scalar valid_time in messages covering two steps and seven
// pressure levels becomes an array of shape (1, 2, 7).
//
// Messages whose data variable is "unknown" are dropped with a warning.
// Conflicting structure within a group is returned as a *MergeError.
// The input groups are not modified.
func GribTree(groups []*Group, log logrus.FieldLogger) (*Group, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	root := NewGroup("")
	aggs := make(map[string]*aggregation)
	var order []string

	for i, g := range groups {
		vname, ok := dataVariable(g)
		if !ok {
			return nil, &MergeError{Reason: fmt.Sprintf("cannot find a data variable in message %d", i)}
		}
		if vname == "unknown" {
			log.WithFields(logrus.Fields{
				"message": i,
			}).Warn("gribref: dropping message with unknown variable")
			continue
		}
		data := g.Array(vname)
		stepType := attrString(data.Attrs, "GRIB_stepType")
		typeOfLevel := attrString(data.Attrs, "GRIB_typeOfLevel")

		if len(root.Attrs) == 0 {
			for k, v := range g.Attrs {
				if k != coordinatesAttr {
					root.Attrs[k] = v
				}
			}
		}

		path := []string{vname}
		node := root.RequireChild(vname)
		setDefault(node.Attrs, "name", attrString(data.Attrs, "GRIB_name"))
		if stepType != "" {
			path = append(path, stepType)
			node = node.RequireChild(stepType)
			setDefault(node.Attrs, "stepType", stepType)
		}
		if typeOfLevel != "" {
			path = append(path, typeOfLevel)
			node = node.RequireChild(typeOfLevel)
			setDefault(node.Attrs, "typeOfLevel", typeOfLevel)
		}

		key := strings.Join(path, "/")
		agg, ok := aggs[key]
		if !ok {
			agg = &aggregation{path: path, level: typeOfLevel, levels: make(map[string]bool)}
			aggs[key] = agg
			order = append(order, key)
		}
		agg.members = append(agg.members, g)
		if lv := g.Array(typeOfLevel); typeOfLevel != "" && lv != nil {
			agg.levels[hash.Hash(lv.Data)] = true
		}
	}

	for _, key := range order {
		agg := aggs[key]
		concat := append([]string{}, concatDims...)
		ident := append([]string{}, identicalDims...)
		switch n := len(agg.levels); {
		case n == 1:
			ident = append(ident, agg.level)
		case n > 1:
			concat = append(concat, agg.level)
		}
		if err := combine(root.Lookup(key), key, agg.members, concat, ident, log); err != nil {
			return nil, err
		}
	}
	if err := checkNames(root, ""); err != nil {
		return nil, err
	}
	return root, nil
}

func attrString(attrs map[string]interface{}, key string) string {
	s, _ := attrs[key].(string)
	return s
}

func setDefault(attrs map[string]interface{}, key string, v interface{}) {
	if _, ok := attrs[key]; !ok {
		attrs[key] = v
	}
}

// checkNames returns an error when an array and a child group of the
// same group share a name.
func checkNames(g *Group, p string) error {
	for _, c := range g.Groups {
		if g.Array(c.Name) != nil {
			return &MergeError{Path: p + c.Name, Reason: "name is used by both an array and a group"}
		}
		if err := checkNames(c, p+c.Name+"/"); err != nil {
			return err
		}
	}
	return nil
}

// dimension is a concatenated coordinate and its distinct values.
type dimension struct {
	name     string
	template *Array
	values   [][]byte
	index    map[string]int
}

func (d *dimension) add(b []byte) int {
	k := valueKey(d.template.DType, b)
	if i, ok := d.index[k]; ok {
		return i
	}
	d.index[k] = len(d.values)
	d.values = append(d.values, b)
	return len(d.values) - 1
}

// valueKey returns a key that is equal for equal values. All NaNs share
// one key.
func valueKey(dtype string, b []byte) string {
	if isFloatDType(dtype) {
		if v, err := decodeValues(dtype, b); err == nil && len(v) == 1 && math.IsNaN(v[0]) {
			return "NaN"
		}
	}
	return string(b)
}

// scalarBytes returns the encoded single value of a, or the encoding of
// an empty slot if a has no stored chunk.
func scalarBytes(a *Array) ([]byte, error) {
	n := 1
	for _, s := range a.Shape {
		n *= s
	}
	if n != 1 {
		return nil, fmt.Errorf("coordinate %s has shape %v; it must hold a single value", a.Name, a.Shape)
	}
	if a.Compressor != nil {
		return nil, fmt.Errorf("coordinate %s is compressed", a.Name)
	}
	e, ok := a.Data[chunkKey(make([]int, len(a.Shape)))]
	if !ok {
		return missingBytes(a.DType)
	}
	if e.IsRef() {
		return nil, fmt.Errorf("coordinate %s is not stored inline", a.Name)
	}
	return e.Inline, nil
}

func missingBytes(dtype string) ([]byte, error) {
	return encodeValues(dtype, []float64{math.NaN()})
}

// signature is the comparable content of an array.
type signature struct {
	Shape  []int
	DType  string
	Chunks []string
	Values []Entry
}

func arraySignature(a *Array) signature {
	s := signature{Shape: a.Shape, DType: a.DType}
	for k := range a.Data {
		s.Chunks = append(s.Chunks, k)
	}
	sort.Strings(s.Chunks)
	for _, k := range s.Chunks {
		s.Values = append(s.Values, a.Data[k])
	}
	return s
}

// combine merges the members of one group path into leaf.
func combine(leaf *Group, path string, members []*Group, concat, ident []string, log logrus.FieldLogger) error {
	mergeErr := func(format string, args ...interface{}) error {
		return &MergeError{Path: path, Reason: fmt.Sprintf(format, args...)}
	}

	// Concatenated dimensions, dropping any that no message has.
	var dims []*dimension
	for _, name := range concat {
		d := &dimension{name: name, index: make(map[string]int)}
		for i, m := range members {
			a := m.Array(name)
			if a == nil {
				continue
			}
			if d.template == nil {
				d.template = a
			} else if a.DType != d.template.DType {
				return mergeErr("coordinate %s of message %d has dtype %s, want %s", name, i, a.DType, d.template.DType)
			}
		}
		if d.template != nil {
			dims = append(dims, d)
		}
	}

	// pos holds the position of each message along the dimensions.
	pos := make([][]int, len(members))
	for i, m := range members {
		pos[i] = make([]int, len(dims))
		for j, d := range dims {
			var b []byte
			var err error
			if a := m.Array(d.name); a != nil {
				if len(a.Shape) > 1 {
					return mergeErr("coordinate %s of message %d has rank %d, want 0 or 1", d.name, i, len(a.Shape))
				}
				b, err = scalarBytes(a)
			} else {
				b, err = missingBytes(d.template.DType)
			}
			if err != nil {
				return mergeErr("message %d: %v", i, err)
			}
			pos[i][j] = d.add(b)
		}
	}

	skip := make(map[string]bool)
	var dimNames []string
	var dimLens []int
	for _, d := range dims {
		a := &Array{
			Name:       d.name,
			Shape:      []int{len(d.values)},
			Chunks:     []int{len(d.values)},
			DType:      d.template.DType,
			FillValue:  d.template.FillValue,
			Filters:    d.template.Filters,
			Order:      d.template.Order,
			Dims:       []string{d.name},
			Attrs:      copyAttrs(d.template.Attrs),
			Data:       map[string]Entry{chunkKey([]int{0}): InlineEntry(bytes.Join(d.values, nil))},
			Compressor: nil,
		}
		if a.FillValue == nil {
			a.FillValue = missingValue(a.DType)
		}
		leaf.AddArray(a)
		skip[d.name] = true
		dimNames = append(dimNames, d.name)
		dimLens = append(dimLens, len(d.values))
	}

	// Identical dimensions are stored once.
	for _, name := range ident {
		var first *Array
		var firstIndex int
		var firstSig string
		for i, m := range members {
			a := m.Array(name)
			if a == nil {
				continue
			}
			if first == nil {
				first, firstIndex, firstSig = a, i, hash.Hash(arraySignature(a))
				continue
			}
			if hash.Hash(arraySignature(a)) != firstSig {
				return mergeErr("coordinate %s differs between messages %d and %d", name, firstIndex, i)
			}
		}
		if first != nil {
			leaf.AddArray(first.Clone())
			skip[name] = true
		}
	}

	coordSet := make(map[string]bool)
	var coords []string
	for _, m := range members {
		for _, c := range m.Coordinates() {
			if !coordSet[c] {
				coordSet[c] = true
				coords = append(coords, c)
			}
		}
	}

	// Everything else is expanded along the concatenated dimensions.
	var names []string
	templates := make(map[string]*Array)
	for _, m := range members {
		for _, a := range m.Arrays {
			if skip[a.Name] {
				continue
			}
			if _, ok := templates[a.Name]; !ok {
				templates[a.Name] = a
				names = append(names, a.Name)
			}
		}
	}
	for _, name := range names {
		t := templates[name]
		out := &Array{
			Name:       name,
			Shape:      append(append([]int{}, dimLens...), t.Shape...),
			Chunks:     append(ones(len(dimLens)), t.Chunks...),
			DType:      t.DType,
			FillValue:  t.FillValue,
			Compressor: copyAttrs(t.Compressor),
			Filters:    t.Filters,
			Order:      t.Order,
			Dims:       append(append([]string{}, dimNames...), t.Dims...),
			Attrs:      copyAttrs(t.Attrs),
			Data:       make(map[string]Entry),
		}
		if out.FillValue == nil && coordSet[name] && (isFloatDType(t.DType) || isIntDType(t.DType)) {
			out.FillValue = missingValue(t.DType)
		}
		for i, m := range members {
			a := m.Array(name)
			if a == nil {
				continue
			}
			if a.DType != t.DType {
				return mergeErr("array %s of message %d has dtype %s, want %s", name, i, a.DType, t.DType)
			}
			if !intsEqual(a.Shape, t.Shape) || !intsEqual(a.Chunks, t.Chunks) {
				return mergeErr("array %s of message %d has shape %v, want %v", name, i, a.Shape, t.Shape)
			}
			prefix := chunkKey(pos[i])
			for k, e := range a.Data {
				key := prefix
				if len(a.Shape) > 0 {
					key += "." + k
				}
				if len(pos[i]) == 0 {
					key = k
				}
				if prev, ok := out.Data[key]; ok {
					if !prev.Equal(e) {
						log.WithFields(logrus.Fields{
							"path":    path,
							"array":   name,
							"chunk":   key,
							"message": i,
							"kept":    prev.String(),
							"dropped": e.String(),
						}).Warn("gribref: messages share a slot; keeping the first")
					}
					continue
				}
				out.Data[key] = e
			}
		}
		leaf.AddArray(out)
	}

	for k, v := range members[0].Attrs {
		setDefault(leaf.Attrs, k, v)
	}
	leaf.SetCoordinates(coords)
	return nil
}

func ones(n int) []int {
	o := make([]int, n)
	for i := range o {
		o[i] = 1
	}
	return o
}

func intsEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
