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


package gributil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/gribref"
	"github.com/spatialmodel/gribref/cloud"
	"github.com/spatialmodel/gribref/grib2"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Manifest encodings.
const (
	formatJSON    = "json"
	formatMsgpack = "msgpack"
)

// setLogger sets the minimum level of log and the format of its messages.
func setLogger(log *logrus.Logger, level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("gribref: invalid LogLevel: %v", err)
	}
	log.SetLevel(lvl)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339Nano,
	})
	return nil
}

// Scan scans the GRIB2 files at urls using the settings in cfg and writes
// either one manifest per message or, if the Tree option is set, a single
// merged manifest.
func Scan(ctx context.Context, cfg *viper.Viper, urls []string) error {
	format, err := checkFormat(cfg.GetString("Format"))
	if err != nil {
		return err
	}
	filter, err := getStringMapStringSlice("Filter", cfg)
	if err != nil {
		return errors.Wrap(err, "gribref: parsing Filter")
	}
	tables, err := grib2.LoadTables(expandStringSlice(cfg.GetStringSlice("Tables"))...)
	if err != nil {
		return err
	}
	store := newStorage(cfg)
	defer store.Close()

	opts := &gribref.ScanOptions{
		Storage:     store,
		Decoder:     grib2.NewDecoder(tables),
		Skip:        cast.ToInt64(cfg.Get("Skip")),
		MaxMessages: cfg.GetInt("MaxMessages"),
		Filter:      filter,
		Log:         logrus.StandardLogger(),
	}
	urls = expandStringSlice(urls)

	out, err := createOutput(cfg.GetString("Output"))
	if err != nil {
		return err
	}
	defer out.Close()

	if cfg.GetBool("Tree") {
		m, skipped, err := gribref.GribToZarr(ctx, urls, opts, cfg.GetInt("Parallel"))
		if err != nil {
			return err
		}
		if len(skipped) > 0 {
			logrus.WithField("messages", len(skipped)).Warn("some messages could not be decoded")
		}
		if err := writeManifest(out, m, format); err != nil {
			return err
		}
		return out.Close()
	}

	results, err := gribref.ScanFiles(ctx, urls, opts, cfg.GetInt("Parallel"))
	if err != nil {
		return err
	}
	for _, r := range results {
		ms, err := r.Manifests()
		if err != nil {
			return errors.Wrapf(err, "gribref: %s", r.URL)
		}
		for _, m := range ms {
			if err := writeManifest(out, m, format); err != nil {
				return err
			}
		}
	}
	return out.Close()
}

// Tree merges the messages of the manifests in files, which were written
// by Scan without the Tree option, and writes the merged manifest.
func Tree(cfg *viper.Viper, files []string) error {
	format, err := checkFormat(cfg.GetString("Format"))
	if err != nil {
		return err
	}
	var groups []*gribref.Group
	for _, f := range expandStringSlice(files) {
		ms, err := readManifests(f)
		if err != nil {
			return err
		}
		for _, m := range ms {
			g, err := m.Group()
			if err != nil {
				return errors.Wrapf(err, "gribref: %s", f)
			}
			groups = append(groups, g)
		}
	}
	tree, err := gribref.GribTree(groups, logrus.StandardLogger())
	if err != nil {
		return err
	}
	m, err := gribref.NewManifest(tree)
	if err != nil {
		return err
	}
	out, err := createOutput(cfg.GetString("Output"))
	if err != nil {
		return err
	}
	defer out.Close()
	if err := writeManifest(out, m, format); err != nil {
		return err
	}
	return out.Close()
}

// Idx parses the index file of the GRIB2 file at gribURL and writes its
// records as CSV.
func Idx(ctx context.Context, cfg *viper.Viper, gribURL string) error {
	store := newStorage(cfg)
	defer store.Close()
	t, err := gribref.ParseIdx(ctx, store, os.ExpandEnv(gribURL), &gribref.IdxOptions{
		Suffix:        cfg.GetString("Idx.Suffix"),
		Validate:      cfg.GetBool("Idx.Validate"),
		Exempt:        cfg.GetStringSlice("Idx.Exempt"),
		ResolveLength: cfg.GetBool("Idx.ResolveLength"),
	})
	if err != nil {
		return err
	}
	out, err := createOutput(cfg.GetString("Output"))
	if err != nil {
		return err
	}
	defer out.Close()
	if err := t.WriteCSV(out); err != nil {
		return err
	}
	return out.Close()
}

func newStorage(cfg *viper.Viper) *cloud.Storage {
	return cloud.NewStorage(&cloud.Options{
		Anonymous: cfg.GetBool("Storage.Anonymous"),
		Region:    cfg.GetString("Storage.Region"),
		Endpoint:  cfg.GetString("Storage.Endpoint"),
		Retries:   cfg.GetInt("Storage.Retries"),
	})
}

func checkFormat(f string) (string, error) {
	switch f = strings.ToLower(f); f {
	case formatJSON, formatMsgpack:
		return f, nil
	default:
		return "", fmt.Errorf("gribref: invalid Format %q; valid options are %q and %q", f, formatJSON, formatMsgpack)
	}
}

// writeManifest writes m to w. JSON manifests are followed by a newline,
// so a sequence of them forms a JSON Lines stream.
func writeManifest(w io.Writer, m *gribref.Manifest, format string) error {
	if format == formatMsgpack {
		return m.WriteMsgpack(w)
	}
	return m.WriteJSON(w)
}

// readManifests reads every manifest in file f, guessing the encoding from
// the first byte.
func readManifests(f string) ([]*gribref.Manifest, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, errors.Wrap(err, "gribref: reading manifest")
	}
	var ms []*gribref.Manifest
	if t := bytes.TrimSpace(b); len(t) > 0 && t[0] == '{' {
		ms, err = gribref.ReadJSONStream(bytes.NewReader(b))
	} else {
		ms, err = gribref.ReadMsgpackStream(bytes.NewReader(b))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "gribref: reading manifest %s", f)
	}
	return ms, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// onceCloser allows Close to be called both explicitly and deferred.
type onceCloser struct {
	*os.File
	closed bool
}

func (c *onceCloser) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.File.Close()
}

// createOutput returns a writer for the file at f, or standard output if
// f is empty or "-".
func createOutput(f string) (io.WriteCloser, error) {
	f, err := checkOutputFile(f)
	if err != nil {
		return nil, err
	}
	if f == "" {
		return nopCloser{os.Stdout}, nil
	}
	w, err := os.Create(f)
	if err != nil {
		return nil, errors.Wrap(err, "gribref: creating output file")
	}
	return &onceCloser{File: w}, nil
}

func checkOutputFile(f string) (string, error) {
	if f == "" || f == "-" {
		return "", nil
	}
	f = os.ExpandEnv(f)
	outdir := filepath.Dir(f)
	if _, err := os.Stat(outdir); err != nil {
		return f, fmt.Errorf("gribref: the Output directory doesn't exist: %v", err)
	}
	return f, nil
}

// expandStringSlice expands environment variables in each member of s.
func expandStringSlice(s []string) []string {
	o := make([]string, len(s))
	for i, v := range s {
		o[i] = os.ExpandEnv(v)
	}
	return o
}

// getStringMapStringSlice returns a map[string][]string variable from
// the configuration, which may be stored as a map or as a JSON string.
func getStringMapStringSlice(varName string, cfg *viper.Viper) (map[string][]string, error) {
	i := cfg.Get(varName)
	switch v := i.(type) {
	case nil:
		return make(map[string][]string), nil
	case map[string][]string:
		return v, nil
	case map[string]interface{}:
		return cast.ToStringMapStringSliceE(v)
	case string:
		if v == "" {
			return make(map[string][]string), nil
		}
		o := make(map[string][]string)
		if err := json.NewDecoder(strings.NewReader(v)).Decode(&o); err != nil {
			return nil, err
		}
		return o, nil
	default:
		return nil, fmt.Errorf("invalid type for %s: %#v", varName, i)
	}
}
