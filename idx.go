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
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// IdxRecord is one line of a GRIB2 sidecar index (".idx" inventory), as
// written by wgrib2:
//
//	160:0:d=2022080408:REFC:entire atmosphere:1 hour fcst:
type IdxRecord struct {
	// MessageIndex is the message number. SubIndex is the field number
	// within a multi-field message ("12.2"), or 0.
	MessageIndex int
	SubIndex     int

	Offset int64
	// Length is the message length in bytes, or -1 if unknown.
	Length int64

	ReferenceTime time.Time
	ShortName     string
	Level         string
	Step          string

	// Extra holds any fields after the step description.
	Extra []string
}

// HasLength reports whether the record's length is known.
func (r IdxRecord) HasLength() bool { return r.Length >= 0 }

// key is the attribute mapping that identifies a record within a file.
func (r IdxRecord) key() string {
	return fmt.Sprintf("%s:%s:%s:d=%s", r.ShortName, r.Level, r.Step,
		r.ReferenceTime.Format(idxDateLayouts[12]))
}

// IdxTable holds the records of one sidecar index in file order.
type IdxTable struct {
	// GribURL is the GRIB file the index describes.
	GribURL string
	Records []IdxRecord
}

// IdxColumns are the column names of an IdxTable, in the order written by
// WriteCSV.
var IdxColumns = []string{
	"message_index", "sub_index", "offset", "length",
	"reference_time", "short_name", "level", "step",
}

// idxDateLayouts are the reference date layouts accepted after "d=",
// by length.
var idxDateLayouts = map[int]string{
	8:  "20060102",
	10: "2006010215",
	12: "200601021504",
}

// IdxOptions control sidecar index parsing.
type IdxOptions struct {
	// Suffix is appended to the GRIB URL, after a ".", to locate the
	// index. The default is "idx".
	Suffix string

	// Validate requires every (short name, level, step, date) mapping to
	// be unique.
	Validate bool

	// Exempt lists short names that are not checked by Validate.
	Exempt []string

	// ResolveLength sets the length of the last record from the size of
	// the GRIB file instead of leaving it unknown.
	ResolveLength bool
}

// IdxURL returns the location of the sidecar index of gribURL.
func IdxURL(gribURL, suffix string) string {
	if suffix == "" {
		suffix = "idx"
	}
	return gribURL + "." + strings.TrimPrefix(suffix, ".")
}

// ParseIdx reads and parses the sidecar index of the GRIB file at gribURL.
// Unsupported URL schemes fail with *InvalidResourceError before store is
// used; a missing index is reported with the storage's *NotFoundError.
func ParseIdx(ctx context.Context, store Storage, gribURL string, opts *IdxOptions) (*IdxTable, error) {
	if err := CheckURL(gribURL); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &IdxOptions{}
	}
	idxURL := IdxURL(gribURL, opts.Suffix)
	r, err := store.Open(ctx, idxURL)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	t, err := ReadIdx(r, gribURL)
	if err != nil {
		return nil, errors.Wrapf(err, "gribref: parsing %s", idxURL)
	}
	if opts.Validate {
		if err := t.Validate(opts.Exempt); err != nil {
			return nil, err
		}
	}
	if opts.ResolveLength && len(t.Records) > 0 {
		size, err := store.Size(ctx, gribURL)
		if err != nil {
			return nil, err
		}
		t.resolveLast(size)
	}
	return t, nil
}

// ReadIdx parses index text from r. Blank lines and surrounding white
// space are ignored. gribURL names the GRIB file the index describes.
func ReadIdx(r io.Reader, gribURL string) (*IdxTable, error) {
	t := &IdxTable{GribURL: gribURL}
	s := bufio.NewScanner(r)
	line := 0
	for s.Scan() {
		line++
		text := strings.TrimSpace(s.Text())
		if text == "" {
			continue
		}
		rec, err := parseIdxLine(text)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		t.Records = append(t.Records, rec)
	}
	if err := s.Err(); err != nil {
		return nil, errors.Wrap(err, "gribref: reading index")
	}
	t.computeLengths()
	return t, nil
}

func parseIdxLine(text string) (IdxRecord, error) {
	fields := strings.Split(text, ":")
	if len(fields) < 6 {
		return IdxRecord{}, fmt.Errorf("gribref: index record %q has %d fields, want at least 6", text, len(fields))
	}
	rec := IdxRecord{Length: -1}
	var err error
	num := strings.TrimSpace(fields[0])
	if i := strings.Index(num, "."); i >= 0 {
		if rec.SubIndex, err = strconv.Atoi(num[i+1:]); err != nil {
			return rec, fmt.Errorf("gribref: invalid message number %q", num)
		}
		num = num[:i]
	}
	if rec.MessageIndex, err = strconv.Atoi(num); err != nil {
		return rec, fmt.Errorf("gribref: invalid message number %q", num)
	}
	if rec.Offset, err = strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64); err != nil || rec.Offset < 0 {
		return rec, fmt.Errorf("gribref: invalid offset %q", fields[1])
	}
	date := strings.TrimPrefix(strings.TrimSpace(fields[2]), "d=")
	layout, ok := idxDateLayouts[len(date)]
	if !ok {
		return rec, fmt.Errorf("gribref: invalid reference date %q", fields[2])
	}
	if rec.ReferenceTime, err = time.Parse(layout, date); err != nil {
		return rec, fmt.Errorf("gribref: invalid reference date %q", fields[2])
	}
	rec.ShortName = strings.TrimSpace(fields[3])
	rec.Level = strings.TrimSpace(fields[4])
	rec.Step = strings.TrimSpace(fields[5])
	extra := fields[6:]
	for len(extra) > 0 && extra[len(extra)-1] == "" {
		extra = extra[:len(extra)-1]
	}
	if len(extra) > 0 {
		rec.Extra = append([]string{}, extra...)
	}
	return rec, nil
}

// computeLengths sets each record's length to the distance to the next
// larger offset. Fields of one message share its offset and length.
func (t *IdxTable) computeLengths() {
	for i := range t.Records {
		t.Records[i].Length = -1
		for j := i + 1; j < len(t.Records); j++ {
			if t.Records[j].Offset > t.Records[i].Offset {
				t.Records[i].Length = t.Records[j].Offset - t.Records[i].Offset
				break
			}
		}
	}
}

func (t *IdxTable) resolveLast(size int64) {
	for i := range t.Records {
		if !t.Records[i].HasLength() && size > t.Records[i].Offset {
			t.Records[i].Length = size - t.Records[i].Offset
		}
	}
}

// Validate returns a *UniquenessError if two records share the same
// (short name, level, step, reference date) mapping. Records whose short
// name is in exempt are not checked.
func (t *IdxTable) Validate(exempt []string) error {
	skip := make(map[string]bool, len(exempt))
	for _, e := range exempt {
		skip[e] = true
	}
	seen := make(map[string]int)
	var dups []string
	for _, r := range t.Records {
		if skip[r.ShortName] {
			continue
		}
		k := r.key()
		seen[k]++
		if seen[k] == 2 {
			dups = append(dups, k)
		}
	}
	if len(dups) > 0 {
		return &UniquenessError{Resource: t.GribURL, Duplicates: dups}
	}
	return nil
}

// Lookup returns the records starting at offset.
func (t *IdxTable) Lookup(offset int64) []IdxRecord {
	var out []IdxRecord
	for _, r := range t.Records {
		if r.Offset == offset {
			out = append(out, r)
		}
	}
	return out
}

// CheckSpans verifies that every record starts at one of spans and,
// where its length is known, covers that span exactly.
func (t *IdxTable) CheckSpans(spans []Span) error {
	byOffset := make(map[int64]Span, len(spans))
	for _, s := range spans {
		byOffset[s.Offset] = s
	}
	var problems []string
	for _, r := range t.Records {
		s, ok := byOffset[r.Offset]
		switch {
		case !ok:
			problems = append(problems, fmt.Sprintf("record %d: no message at offset %d", r.MessageIndex, r.Offset))
		case r.HasLength() && r.Length != s.Length:
			problems = append(problems, fmt.Sprintf("record %d: length %d, message length %d", r.MessageIndex, r.Length, s.Length))
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("gribref: index of %s does not match its messages: %s",
			t.GribURL, strings.Join(problems, "; "))
	}
	return nil
}

// WriteCSV writes the table with a header row of IdxColumns. Unknown
// lengths are written as empty cells.
func (t *IdxTable) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(IdxColumns); err != nil {
		return err
	}
	for _, r := range t.Records {
		length := ""
		if r.HasLength() {
			length = strconv.FormatInt(r.Length, 10)
		}
		if err := cw.Write([]string{
			strconv.Itoa(r.MessageIndex),
			strconv.Itoa(r.SubIndex),
			strconv.FormatInt(r.Offset, 10),
			length,
			r.ReferenceTime.Format(time.RFC3339),
			r.ShortName,
			r.Level,
			r.Step,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
