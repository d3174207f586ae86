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
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"gonum.org/v1/gonum/floats"
)

// subHourlyFile returns a file of ten messages: vbdsf and refc at five
// sub-hourly steps, and a decoder for it.
func subHourlyFile() ([]byte, indexDecoder) {
	var dec indexDecoder
	var msgs [][]byte
	for _, minutes := range []float64{0, 15, 30, 45, 60} {
		avg := testAttrs("vbdsf", "avg", "surface", 0, UnitMinute, minutes)
		dec = append(dec, avg)
		msgs = append(msgs, testMessage(byte(len(dec)-1), 8))
		dec = append(dec, testAttrs("refc", "instant", "atmosphere", 0, UnitMinute, minutes))
		msgs = append(msgs, testMessage(byte(len(dec)-1), 8))
	}
	return concat(msgs...), dec
}

func TestScanGrib(t *testing.T) {
	data, dec := subHourlyFile()
	store := newMemStorage()
	store.files["s3://bucket/subh.grib2"] = data
	log, hook := test.NewNullLogger()

	r, err := ScanGrib(context.Background(), "s3://bucket/subh.grib2", &ScanOptions{
		Storage: store,
		Decoder: dec,
		Log:     log,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Groups) != 10 || len(r.Spans) != 10 || len(r.Skipped) != 0 {
		t.Fatalf("groups %d, spans %d, skipped %d", len(r.Groups), len(r.Spans), len(r.Skipped))
	}
	if r.Bytes != int64(len(data)) {
		t.Errorf("bytes: %d", r.Bytes)
	}
	e := r.Groups[3].Array("refc").Data["0.0"]
	if e.URL != "s3://bucket/subh.grib2" || e.Offset != r.Spans[3].Offset || e.Length != r.Spans[3].Length {
		t.Errorf("reference: %v, span %v", e, r.Spans[3])
	}
	// Every message was corrected, so the 15 minute step is present.
	if v, err := r.Groups[3].Array("step").Values(); err != nil || !floats.Equal(v, []float64{0.25}) {
		t.Errorf("step: %v, %v", v, err)
	}
	if last := hook.LastEntry(); last == nil || last.Level != logrus.InfoLevel {
		t.Errorf("expected a summary log entry, have %v", last)
	}
}

func TestScanGribDecodeErrors(t *testing.T) {
	data, dec := subHourlyFile()
	dec[2] = nil
	dec[7] = nil
	store := newMemStorage()
	store.files["local.grib2"] = data
	log, hook := test.NewNullLogger()

	r, err := ScanGrib(context.Background(), "local.grib2", &ScanOptions{
		Storage: store,
		Decoder: dec,
		Log:     log,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Groups) != 8 {
		t.Errorf("have %d groups, want 8", len(r.Groups))
	}
	if len(r.Skipped) != 2 || r.Skipped[0].Index != 2 || r.Skipped[1].Index != 7 {
		t.Fatalf("skipped: %v", r.Skipped)
	}
	if r.Skipped[1].Span != r.Spans[7] {
		t.Errorf("skipped span %v, want %v", r.Skipped[1].Span, r.Spans[7])
	}
	warnings := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warnings++
		}
	}
	if warnings != 2 {
		t.Errorf("have %d warnings, want 2", warnings)
	}
}

func TestScanGribOptions(t *testing.T) {
	data, dec := subHourlyFile()
	header := []byte("0123456789")
	store := newMemStorage()
	store.files["f.grib2"] = concat(header, data)
	log, _ := test.NewNullLogger()

	r, err := ScanGrib(context.Background(), "f.grib2", &ScanOptions{
		Storage:     store,
		Decoder:     dec,
		Skip:        int64(len(header)),
		MaxMessages: 6,
		Filter:      map[string][]string{"shortName": {"refc"}},
		Log:         log,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(r.Spans) != 6 {
		t.Errorf("have %d spans, want 6", len(r.Spans))
	}
	if r.Spans[0].Offset != int64(len(header)) {
		t.Errorf("first offset %d", r.Spans[0].Offset)
	}
	if len(r.Groups) != 3 {
		t.Errorf("have %d groups, want 3", len(r.Groups))
	}
	for _, g := range r.Groups {
		if g.Array("refc") == nil {
			t.Error("filter kept a message that does not match")
		}
	}
}

func TestScanGribErrors(t *testing.T) {
	ctx := context.Background()
	data, dec := subHourlyFile()
	store := newMemStorage()
	store.files["bad.grib2"] = concat(data, []byte("not a grib message at all"))
	log, _ := test.NewNullLogger()
	opts := &ScanOptions{Storage: store, Decoder: dec, Log: log}

	if _, err := ScanGrib(ctx, "bad.grib2", opts); !IsMalformed(err) {
		t.Errorf("have %v, want malformed input", err)
	}
	if _, err := ScanGrib(ctx, "missing.grib2", opts); !IsNotFound(err) {
		t.Errorf("have %v, want not found", err)
	}
	if _, err := ScanGrib(ctx, "ftp://host/f.grib2", opts); !IsInvalidResource(err) {
		t.Errorf("have %v, want invalid resource", err)
	}
}

func TestGribToZarr(t *testing.T) {
	data, dec := subHourlyFile()
	store := newMemStorage()
	// The same file under three names, one listed twice.
	for _, u := range []string{"a.grib2", "b.grib2", "c.grib2"} {
		store.files[u] = data
	}
	log, _ := test.NewNullLogger()
	opts := &ScanOptions{Storage: store, Decoder: dec, Log: log}

	results, err := ScanFiles(context.Background(), []string{"a.grib2", "b.grib2", "a.grib2", "c.grib2"}, opts, 2)
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []string{"a.grib2", "b.grib2", "a.grib2", "c.grib2"} {
		if results[i].URL != want {
			t.Errorf("result %d: %s, want %s", i, results[i].URL, want)
		}
	}

	m, skipped, err := GribToZarr(context.Background(), []string{"a.grib2"}, opts, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(skipped) != 0 {
		t.Errorf("skipped: %v", skipped)
	}
	tree, err := m.Group()
	if err != nil {
		t.Fatal(err)
	}
	step, err := tree.Lookup("vbdsf/avg/surface").Array("step").Values()
	if err != nil {
		t.Fatal(err)
	}
	if want := []float64{0, 0.25, 0.5, 0.75, 1}; !floats.Equal(step, want) {
		t.Errorf("step: have %v, want %v", step, want)
	}
}
