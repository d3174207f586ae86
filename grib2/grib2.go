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


// Package grib2 decodes the metadata of GRIB edition 2 messages: the
// identification, grid definition, product definition and data
// representation sections. It does not unpack data values.
package grib2

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/spatialmodel/gribref"
)

const (
	indicatorLength = 16
	endMarker       = "7777"
)

// section is the body of one message section. Octets are numbered from 1
// as in the WMO tables, so s.u8(5) is the section number.
type section []byte

func (s section) need(n int, what string) error {
	if len(s) < n {
		return fmt.Errorf("grib2: %s is %d octets long, need at least %d", what, len(s), n)
	}
	return nil
}

func (s section) u8(o int) int { return int(s[o-1]) }

func (s section) u16(o int) int { return int(binary.BigEndian.Uint16(s[o-1:])) }

func (s section) u32(o int) uint32 { return binary.BigEndian.Uint32(s[o-1:]) }

// s32 reads a sign-and-magnitude integer.
func (s section) s32(o int) int64 {
	v := s.u32(o)
	if v&0x80000000 != 0 {
		return -int64(v & 0x7fffffff)
	}
	return int64(v)
}

// s8 reads a sign-and-magnitude octet.
func (s section) s8(o int) int {
	v := s[o-1]
	if v&0x80 != 0 {
		return -int(v & 0x7f)
	}
	return int(v)
}

func missing32(v uint32) bool { return v == 0xffffffff }

// message holds the sections of the first field in a message.
type message struct {
	discipline int
	sections   map[int]section
}

func splitSections(msg []byte) (*message, error) {
	if len(msg) < indicatorLength+len(endMarker) || string(msg[:4]) != "GRIB" {
		return nil, fmt.Errorf("grib2: not a GRIB message")
	}
	if msg[7] != 2 {
		return nil, fmt.Errorf("grib2: edition %d is not supported", msg[7])
	}
	m := &message{discipline: int(msg[6]), sections: make(map[int]section)}
	pos := indicatorLength
	for {
		if pos+4 > len(msg) {
			return nil, fmt.Errorf("grib2: message ends without end section")
		}
		if bytes.Equal(msg[pos:pos+4], []byte(endMarker)) {
			break
		}
		if pos+5 > len(msg) {
			return nil, fmt.Errorf("grib2: truncated section header at octet %d", pos+1)
		}
		n := int(binary.BigEndian.Uint32(msg[pos:]))
		num := int(msg[pos+4])
		if n < 5 || pos+n > len(msg) {
			return nil, fmt.Errorf("grib2: section %d at octet %d has invalid length %d", num, pos+1, n)
		}
		if _, ok := m.sections[num]; ok {
			// Later fields of a multi-field message repeat sections 2 to 7.
			break
		}
		m.sections[num] = section(msg[pos : pos+n])
		pos += n
	}
	for _, num := range []int{1, 3, 4} {
		if _, ok := m.sections[num]; !ok {
			return nil, fmt.Errorf("grib2: message has no section %d", num)
		}
	}
	return m, nil
}

// Decoder decodes GRIB2 messages into gribref attribute sets.
type Decoder struct {
	Tables *Tables
}

// NewDecoder returns a decoder using tables, or the built-in tables if
// tables is nil.
func NewDecoder(tables *Tables) *Decoder {
	if tables == nil {
		tables = DefaultTables()
	}
	return &Decoder{Tables: tables}
}

// Decode implements gribref.Decoder.
func (d *Decoder) Decode(msg []byte) (*gribref.AttributeSet, error) {
	m, err := splitSections(msg)
	if err != nil {
		return nil, err
	}
	tables := d.Tables
	if tables == nil {
		tables = DefaultTables()
	}
	a := &gribref.AttributeSet{
		Edition: 2,
		Extra: map[string]interface{}{
			"discipline": m.discipline,
		},
	}
	if err := identification(a, m.sections[1], tables); err != nil {
		return nil, err
	}
	if err := grid(a, m.sections[3]); err != nil {
		return nil, err
	}
	if err := product(a, m.discipline, m.sections[4], tables); err != nil {
		return nil, err
	}
	if s, ok := m.sections[5]; ok {
		if err := representation(a, s); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func identification(a *gribref.AttributeSet, s section, tables *Tables) error {
	if err := s.need(21, "identification section"); err != nil {
		return err
	}
	c := tables.Centre(s.u16(6))
	a.Centre = c.Abbreviation
	a.CentreDescription = c.Description
	a.SubCentre = s.u16(8)
	a.ReferenceTime = time.Date(s.u16(13), time.Month(s.u8(15)), s.u8(16),
		s.u8(17), s.u8(18), s.u8(19), 0, time.UTC)
	a.Extra["tablesVersion"] = s.u8(10)
	a.Extra["significanceOfReferenceTime"] = s.u8(12)
	a.Extra["productionStatusOfProcessedData"] = s.u8(20)
	a.Extra["typeOfProcessedData"] = s.u8(21)
	a.Extra["dataDate"] = s.u16(13)*10000 + s.u8(15)*100 + s.u8(16)
	a.Extra["dataTime"] = s.u8(17)*100 + s.u8(18)
	return nil
}

// packingTypes names the data representation templates of code table 5.0.
var packingTypes = map[int]string{
	0:  "grid_simple",
	2:  "grid_complex",
	3:  "grid_complex_spatial_differencing",
	40: "grid_jpeg",
	41: "grid_png",
	42: "grid_ccsds",
}

func representation(a *gribref.AttributeSet, s section) error {
	if err := s.need(11, "data representation section"); err != nil {
		return err
	}
	tmpl := s.u16(10)
	a.Extra["numberOfValues"] = int(s.u32(6))
	a.Extra["dataRepresentationTemplateNumber"] = tmpl
	if p, ok := packingTypes[tmpl]; ok {
		a.Extra["packingType"] = p
	}
	return nil
}
