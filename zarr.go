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
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"path"
	"sort"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// json encodes manifests with sorted keys so output is reproducible.
var json = jsoniter.Config{
	EscapeHTML:  false,
	SortMapKeys: true,
}.Froze()

const (
	zgroupKey = ".zgroup"
	zattrsKey = ".zattrs"
	zarrayKey = ".zarray"

	dimensionsAttr   = "_ARRAY_DIMENSIONS"
	coordinatesAttr  = "coordinates"
	base64Prefix     = "base64:"
	zarrFormat       = 2
	defaultOrder     = "C"
	float64DType     = "<f8"
	int64DType       = "<i8"
	notATime         = math.MinInt64
	scalarChunkIndex = "0"
)

// Entry is a single value in a reference manifest. It either holds its
// bytes inline or points at a byte range of a source file, never both.
type Entry struct {
	Inline []byte

	URL    string
	Offset int64
	// Length is the number of bytes in the range, or -1 for the whole
	// source.
	Length int64
}

// InlineEntry returns an Entry holding b.
func InlineEntry(b []byte) Entry { return Entry{Inline: b} }

// RefEntry returns an Entry pointing at length bytes of url starting at
// offset.
func RefEntry(url string, offset, length int64) Entry {
	return Entry{URL: url, Offset: offset, Length: length}
}

// IsRef reports whether e is a byte-range pointer.
func (e Entry) IsRef() bool { return e.URL != "" }

// Equal reports whether e and o describe the same value.
func (e Entry) Equal(o Entry) bool {
	if e.IsRef() != o.IsRef() {
		return false
	}
	if e.IsRef() {
		return e.URL == o.URL && e.Offset == o.Offset && e.Length == o.Length
	}
	return bytes.Equal(e.Inline, o.Inline)
}

func (e Entry) String() string {
	if e.IsRef() {
		return fmt.Sprintf("[%s %d %d]", e.URL, e.Offset, e.Length)
	}
	return fmt.Sprintf("inline(%d bytes)", len(e.Inline))
}

// MarshalJSON writes references as [url, offset, length] (or [url] for a
// whole file) and inline values as strings, base64-encoding values that
// are not plain ASCII.
func (e Entry) MarshalJSON() ([]byte, error) {
	if e.IsRef() {
		if e.Length < 0 {
			return json.Marshal([]interface{}{e.URL})
		}
		return json.Marshal([]interface{}{e.URL, e.Offset, e.Length})
	}
	return json.Marshal(inlineString(e.Inline))
}

// UnmarshalJSON reads an Entry written by MarshalJSON.
func (e *Entry) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return errors.Wrap(err, "gribref: decoding reference")
	}
	return e.fromInterface(v)
}

func (e *Entry) fromInterface(v interface{}) error {
	switch t := v.(type) {
	case string:
		b, err := parseInlineString(t)
		if err != nil {
			return err
		}
		*e = InlineEntry(b)
	case []byte:
		*e = InlineEntry(t)
	case []interface{}:
		if len(t) != 1 && len(t) != 3 {
			return fmt.Errorf("gribref: reference must have 1 or 3 elements, has %d", len(t))
		}
		url, err := cast.ToStringE(t[0])
		if err != nil {
			return errors.Wrap(err, "gribref: reference url")
		}
		if len(t) == 1 {
			*e = RefEntry(url, 0, -1)
			return nil
		}
		off, err := cast.ToInt64E(t[1])
		if err != nil {
			return errors.Wrap(err, "gribref: reference offset")
		}
		n, err := cast.ToInt64E(t[2])
		if err != nil {
			return errors.Wrap(err, "gribref: reference length")
		}
		*e = RefEntry(url, off, n)
	default:
		return fmt.Errorf("gribref: invalid reference value of type %T", v)
	}
	return nil
}

func inlineString(b []byte) string {
	if isPlainASCII(b) && !bytes.HasPrefix(b, []byte(base64Prefix)) {
		return string(b)
	}
	return base64Prefix + base64.StdEncoding.EncodeToString(b)
}

func parseInlineString(s string) ([]byte, error) {
	if !strings.HasPrefix(s, base64Prefix) {
		return []byte(s), nil
	}
	b, err := base64.StdEncoding.DecodeString(s[len(base64Prefix):])
	if err != nil {
		return nil, errors.Wrap(err, "gribref: decoding inline value")
	}
	return b, nil
}

func isPlainASCII(b []byte) bool {
	for _, c := range b {
		if c >= 0x80 || (c < 0x20 && c != '\n' && c != '\r' && c != '\t') {
			return false
		}
	}
	return true
}

// Array is a zarr array described by references.
type Array struct {
	Name   string
	Shape  []int
	Chunks []int
	// DType is a numpy type string such as "<f8".
	DType string
	// FillValue is nil, a float64 (possibly NaN) or an int64.
	FillValue  interface{}
	Compressor map[string]interface{}
	Filters    []interface{}
	Order      string
	// Dims are the dimension names, one per axis.
	Dims  []string
	Attrs map[string]interface{}
	// Data maps chunk keys such as "0.0" to their values.
	Data map[string]Entry
}

// Clone returns a deep copy of a. Inline byte slices are shared.
func (a *Array) Clone() *Array {
	b := *a
	b.Shape = append([]int{}, a.Shape...)
	b.Chunks = append([]int{}, a.Chunks...)
	b.Dims = append([]string{}, a.Dims...)
	b.Filters = append([]interface{}(nil), a.Filters...)
	b.Compressor = copyAttrs(a.Compressor)
	b.Attrs = copyAttrs(a.Attrs)
	b.Data = make(map[string]Entry, len(a.Data))
	for k, v := range a.Data {
		b.Data[k] = v
	}
	return &b
}

// Scalar reports whether a has rank zero.
func (a *Array) Scalar() bool { return len(a.Shape) == 0 }

// singleChunk returns the key of a's only chunk when the array consists
// of exactly one chunk.
func (a *Array) singleChunk() (string, bool) {
	if len(a.Shape) != len(a.Chunks) {
		return "", false
	}
	for i := range a.Shape {
		if a.Chunks[i] < a.Shape[i] {
			return "", false
		}
	}
	return chunkKey(make([]int, len(a.Shape))), true
}

// Values decodes an uncompressed, inline, single-chunk array into float64
// values in row-major order.
func (a *Array) Values() ([]float64, error) {
	if a.Compressor != nil {
		return nil, fmt.Errorf("gribref: array %s is compressed", a.Name)
	}
	key, ok := a.singleChunk()
	if !ok {
		return nil, fmt.Errorf("gribref: array %s has more than one chunk", a.Name)
	}
	e, ok := a.Data[key]
	if !ok {
		n := 1
		for _, s := range a.Shape {
			n *= s
		}
		v, err := fillFloat(a)
		if err != nil {
			return nil, err
		}
		out := make([]float64, n)
		for i := range out {
			out[i] = v
		}
		return out, nil
	}
	if e.IsRef() {
		return nil, fmt.Errorf("gribref: array %s is not stored inline", a.Name)
	}
	return decodeValues(a.DType, e.Inline)
}

func fillFloat(a *Array) (float64, error) {
	switch v := a.FillValue.(type) {
	case nil:
		return 0, nil
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	}
	return cast.ToFloat64E(a.FillValue)
}

// Group is a zarr group: attributes, arrays and child groups, each kept
// in insertion order.
type Group struct {
	Name   string
	Attrs  map[string]interface{}
	Arrays []*Array
	Groups []*Group
}

// NewGroup returns an empty group.
func NewGroup(name string) *Group {
	return &Group{Name: name, Attrs: make(map[string]interface{})}
}

// Array returns the named array, or nil.
func (g *Group) Array(name string) *Array {
	for _, a := range g.Arrays {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// AddArray adds a to g, replacing any array with the same name.
func (g *Group) AddArray(a *Array) {
	for i, b := range g.Arrays {
		if b.Name == a.Name {
			g.Arrays[i] = a
			return
		}
	}
	g.Arrays = append(g.Arrays, a)
}

// Child returns the named child group, or nil.
func (g *Group) Child(name string) *Group {
	for _, c := range g.Groups {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// RequireChild returns the named child group, creating it if needed.
func (g *Group) RequireChild(name string) *Group {
	if c := g.Child(name); c != nil {
		return c
	}
	c := NewGroup(name)
	g.Groups = append(g.Groups, c)
	return c
}

// Lookup returns the group at the slash-separated path below g, or nil.
func (g *Group) Lookup(p string) *Group {
	cur := g
	for _, part := range strings.Split(strings.Trim(p, "/"), "/") {
		if part == "" {
			continue
		}
		if cur = cur.Child(part); cur == nil {
			return nil
		}
	}
	return cur
}

// Coordinates returns the names listed in the group's coordinates
// attribute.
func (g *Group) Coordinates() []string {
	s, _ := g.Attrs[coordinatesAttr].(string)
	return strings.Fields(s)
}

// SetCoordinates sets the group's coordinates attribute.
func (g *Group) SetCoordinates(names []string) {
	g.Attrs[coordinatesAttr] = strings.Join(names, " ")
}

// Clone returns a deep copy of g.
func (g *Group) Clone() *Group {
	c := &Group{Name: g.Name, Attrs: copyAttrs(g.Attrs)}
	for _, a := range g.Arrays {
		c.Arrays = append(c.Arrays, a.Clone())
	}
	for _, sub := range g.Groups {
		c.Groups = append(c.Groups, sub.Clone())
	}
	return c
}

func copyAttrs(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	o := make(map[string]interface{}, len(m))
	for k, v := range m {
		o[k] = v
	}
	return o
}

// zarray is the JSON layout of a .zarray document.
type zarray struct {
	Chunks     []int                  `json:"chunks"`
	Compressor map[string]interface{} `json:"compressor"`
	DType      string                 `json:"dtype"`
	FillValue  interface{}            `json:"fill_value"`
	Filters    []interface{}          `json:"filters"`
	Order      string                 `json:"order"`
	Shape      []int                  `json:"shape"`
	ZarrFormat int                    `json:"zarr_format"`
}

// Refs flattens g into manifest references.
func (g *Group) Refs() (map[string]Entry, error) {
	refs := make(map[string]Entry)
	if err := g.flatten("", refs); err != nil {
		return nil, err
	}
	return refs, nil
}

func (g *Group) flatten(prefix string, refs map[string]Entry) error {
	b, err := json.Marshal(map[string]int{"zarr_format": zarrFormat})
	if err != nil {
		return err
	}
	refs[prefix+zgroupKey] = InlineEntry(b)
	attrs := g.Attrs
	if attrs == nil {
		attrs = map[string]interface{}{}
	}
	if b, err = json.Marshal(attrs); err != nil {
		return errors.Wrapf(err, "gribref: encoding attributes of group %q", prefix)
	}
	refs[prefix+zattrsKey] = InlineEntry(b)

	for _, a := range g.Arrays {
		p := prefix + a.Name + "/"
		order := a.Order
		if order == "" {
			order = defaultOrder
		}
		za := zarray{
			Chunks:     nonNilInts(a.Chunks),
			Compressor: a.Compressor,
			DType:      a.DType,
			FillValue:  encodeFill(a.FillValue),
			Filters:    a.Filters,
			Order:      order,
			Shape:      nonNilInts(a.Shape),
			ZarrFormat: zarrFormat,
		}
		if b, err = json.Marshal(za); err != nil {
			return errors.Wrapf(err, "gribref: encoding array %s", p)
		}
		refs[p+zarrayKey] = InlineEntry(b)
		attrs := copyAttrs(a.Attrs)
		if attrs == nil {
			attrs = make(map[string]interface{})
		}
		attrs[dimensionsAttr] = append([]string{}, a.Dims...)
		if b, err = json.Marshal(attrs); err != nil {
			return errors.Wrapf(err, "gribref: encoding attributes of array %s", p)
		}
		refs[p+zattrsKey] = InlineEntry(b)
		for k, e := range a.Data {
			refs[p+k] = e
		}
	}
	for _, c := range g.Groups {
		if err := c.flatten(prefix+c.Name+"/", refs); err != nil {
			return err
		}
	}
	return nil
}

func nonNilInts(v []int) []int {
	if v == nil {
		return []int{}
	}
	return v
}

func encodeFill(v interface{}) interface{} {
	f, ok := v.(float64)
	if !ok {
		return v
	}
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return f
}

func decodeFill(dtype string, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok {
		switch s {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		}
	}
	if isIntDType(dtype) {
		return cast.ToInt64E(v)
	}
	return cast.ToFloat64E(v)
}

// ParseRefs rebuilds a group tree from manifest references. Arrays and
// groups are ordered by name.
func ParseRefs(refs map[string]Entry) (*Group, error) {
	keys := make([]string, 0, len(refs))
	for k := range refs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	root := NewGroup("")
	arrays := make(map[string]*Array)
	require := func(dir string) *Group {
		g := root
		for _, part := range strings.Split(dir, "/") {
			if part != "" {
				g = g.RequireChild(part)
			}
		}
		return g
	}
	inline := func(k string) ([]byte, error) {
		e := refs[k]
		if e.IsRef() {
			return nil, fmt.Errorf("gribref: metadata key %s must be stored inline", k)
		}
		return e.Inline, nil
	}

	for _, k := range keys {
		dir, base := path.Split(k)
		dir = strings.TrimSuffix(dir, "/")
		switch base {
		case zgroupKey:
			require(dir)
		case zarrayKey:
			b, err := inline(k)
			if err != nil {
				return nil, err
			}
			var za zarray
			if err := json.Unmarshal(b, &za); err != nil {
				return nil, errors.Wrapf(err, "gribref: decoding %s", k)
			}
			fill, err := decodeFill(za.DType, za.FillValue)
			if err != nil {
				return nil, errors.Wrapf(err, "gribref: fill value of %s", k)
			}
			parent, name := path.Split(dir)
			a := &Array{
				Name:       name,
				Shape:      nonNilInts(za.Shape),
				Chunks:     nonNilInts(za.Chunks),
				DType:      za.DType,
				FillValue:  fill,
				Compressor: za.Compressor,
				Filters:    za.Filters,
				Order:      za.Order,
				Dims:       []string{},
				Attrs:      make(map[string]interface{}),
				Data:       make(map[string]Entry),
			}
			arrays[dir] = a
			require(strings.TrimSuffix(parent, "/")).AddArray(a)
		}
	}

	for _, k := range keys {
		dir, base := path.Split(k)
		dir = strings.TrimSuffix(dir, "/")
		switch base {
		case zgroupKey, zarrayKey:
			continue
		case zattrsKey:
			b, err := inline(k)
			if err != nil {
				return nil, err
			}
			attrs := make(map[string]interface{})
			if err := json.Unmarshal(b, &attrs); err != nil {
				return nil, errors.Wrapf(err, "gribref: decoding %s", k)
			}
			if a, ok := arrays[dir]; ok {
				if dims, ok := attrs[dimensionsAttr]; ok {
					d, err := cast.ToStringSliceE(dims)
					if err != nil {
						return nil, errors.Wrapf(err, "gribref: dimensions of %s", dir)
					}
					a.Dims = d
					delete(attrs, dimensionsAttr)
				}
				a.Attrs = attrs
			} else {
				require(dir).Attrs = attrs
			}
		default:
			a, ok := arrays[dir]
			if !ok {
				return nil, fmt.Errorf("gribref: reference %s does not belong to an array", k)
			}
			a.Data[base] = refs[k]
		}
	}
	sortTree(root)
	return root, nil
}

func sortTree(g *Group) {
	sort.SliceStable(g.Arrays, func(i, j int) bool { return g.Arrays[i].Name < g.Arrays[j].Name })
	sort.SliceStable(g.Groups, func(i, j int) bool { return g.Groups[i].Name < g.Groups[j].Name })
	for _, c := range g.Groups {
		sortTree(c)
	}
}

// chunkKey joins chunk indices into a zarr chunk key. Rank-zero arrays
// use the key "0".
func chunkKey(idx []int) string {
	if len(idx) == 0 {
		return scalarChunkIndex
	}
	s := make([]string, len(idx))
	for i, v := range idx {
		s[i] = strconv.Itoa(v)
	}
	return strings.Join(s, ".")
}

func isIntDType(dtype string) bool {
	return len(dtype) > 2 && (dtype[1] == 'i' || dtype[1] == 'u')
}

func isFloatDType(dtype string) bool {
	return len(dtype) > 2 && dtype[1] == 'f'
}

// itemSize returns the number of bytes in one element of dtype.
func itemSize(dtype string) (int, error) {
	if len(dtype) < 3 {
		return 0, fmt.Errorf("gribref: unsupported dtype %q", dtype)
	}
	n, err := strconv.Atoi(dtype[2:])
	if err != nil {
		return 0, fmt.Errorf("gribref: unsupported dtype %q", dtype)
	}
	return n, nil
}

func byteOrder(dtype string) binary.ByteOrder {
	if dtype[0] == '>' {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// encodeValues encodes vals as a packed array of dtype.
func encodeValues(dtype string, vals []float64) ([]byte, error) {
	size, err := itemSize(dtype)
	if err != nil {
		return nil, err
	}
	order := byteOrder(dtype)
	b := make([]byte, size*len(vals))
	for i, v := range vals {
		buf := b[i*size : (i+1)*size]
		switch dtype[1:] {
		case "f8":
			order.PutUint64(buf, math.Float64bits(v))
		case "f4":
			order.PutUint32(buf, math.Float32bits(float32(v)))
		case "i8":
			if math.IsNaN(v) {
				v = notATime
			}
			order.PutUint64(buf, uint64(int64(v)))
		case "i4":
			order.PutUint32(buf, uint32(int32(v)))
		case "i2":
			order.PutUint16(buf, uint16(int16(v)))
		case "u8":
			order.PutUint64(buf, uint64(v))
		case "u4":
			order.PutUint32(buf, uint32(v))
		case "u2":
			order.PutUint16(buf, uint16(v))
		case "u1", "i1":
			buf[0] = byte(int64(v))
		default:
			return nil, fmt.Errorf("gribref: unsupported dtype %q", dtype)
		}
	}
	return b, nil
}

// decodeValues decodes a packed array of dtype into float64 values.
func decodeValues(dtype string, b []byte) ([]float64, error) {
	size, err := itemSize(dtype)
	if err != nil {
		return nil, err
	}
	if len(b)%size != 0 {
		return nil, fmt.Errorf("gribref: %d bytes is not a whole number of %s values", len(b), dtype)
	}
	order := byteOrder(dtype)
	out := make([]float64, len(b)/size)
	for i := range out {
		buf := b[i*size : (i+1)*size]
		switch dtype[1:] {
		case "f8":
			out[i] = math.Float64frombits(order.Uint64(buf))
		case "f4":
			out[i] = float64(math.Float32frombits(order.Uint32(buf)))
		case "i8":
			out[i] = float64(int64(order.Uint64(buf)))
		case "i4":
			out[i] = float64(int32(order.Uint32(buf)))
		case "i2":
			out[i] = float64(int16(order.Uint16(buf)))
		case "i1":
			out[i] = float64(int8(buf[0]))
		case "u8":
			out[i] = float64(order.Uint64(buf))
		case "u4":
			out[i] = float64(order.Uint32(buf))
		case "u2":
			out[i] = float64(order.Uint16(buf))
		case "u1":
			out[i] = float64(buf[0])
		default:
			return nil, fmt.Errorf("gribref: unsupported dtype %q", dtype)
		}
	}
	return out, nil
}

// missingValue returns the value used for an empty coordinate slot:
// NaN for floating point arrays and NaT for integer times.
func missingValue(dtype string) interface{} {
	if isIntDType(dtype) {
		return int64(notATime)
	}
	return math.NaN()
}

// newArray returns an uncompressed, single-chunk, inline array holding vals.
func newArray(name, dtype string, shape []int, dims []string, vals []float64, attrs map[string]interface{}) (*Array, error) {
	b, err := encodeValues(dtype, vals)
	if err != nil {
		return nil, errors.Wrapf(err, "gribref: encoding %s", name)
	}
	if attrs == nil {
		attrs = make(map[string]interface{})
	}
	a := &Array{
		Name:      name,
		Shape:     append([]int{}, shape...),
		Chunks:    append([]int{}, shape...),
		DType:     dtype,
		FillValue: missingValue(dtype),
		Order:     defaultOrder,
		Dims:      append([]string{}, dims...),
		Attrs:     attrs,
		Data:      map[string]Entry{chunkKey(make([]int, len(shape))): InlineEntry(b)},
	}
	if isIntDType(dtype) {
		a.FillValue = nil
	}
	return a, nil
}
