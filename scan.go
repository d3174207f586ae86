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
	"fmt"
	"runtime"
	"sync"

	"github.com/ctessum/requestcache"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ScanOptions configure how GRIB2 files are scanned.
type ScanOptions struct {
	// Storage reads the files. It is required.
	Storage Storage
	// Decoder decodes individual messages. It is required.
	Decoder Decoder

	// Skip is the number of leading bytes of each file that are not part
	// of any message.
	Skip int64
	// MaxMessages, if > 0, limits the number of messages read per file.
	MaxMessages int

	// Filter, if not empty, keeps only messages whose attributes match.
	// See AttributeSet.Match.
	Filter map[string][]string

	// Log receives warnings about skipped messages and a summary of each
	// file. The default is logrus.StandardLogger().
	Log logrus.FieldLogger
}

func (o *ScanOptions) log() logrus.FieldLogger {
	if o.Log == nil {
		return logrus.StandardLogger()
	}
	return o.Log
}

// ScanResult holds the descriptors of the messages in one file.
type ScanResult struct {
	URL string
	// Groups holds one single-message group per kept message, in file
	// order.
	Groups []*Group
	// Spans holds the extent of every message read, including messages
	// that were filtered out or could not be decoded.
	Spans []Span
	// Skipped holds the messages that could not be decoded.
	Skipped []*DecodeError
	// Bytes is the number of bytes read from the file.
	Bytes int64
}

// Manifests returns one manifest per message group.
func (r *ScanResult) Manifests() ([]*Manifest, error) {
	out := make([]*Manifest, len(r.Groups))
	for i, g := range r.Groups {
		m, err := NewManifest(g)
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}

// ScanGrib splits the GRIB2 file at url into messages and returns a
// descriptor group for each. Messages that cannot be decoded are recorded
// in the result and skipped; framing errors abort the scan. Every
// descriptor passes through CorrectStep.
func ScanGrib(ctx context.Context, url string, opts *ScanOptions) (*ScanResult, error) {
	if err := CheckURL(url); err != nil {
		return nil, err
	}
	if opts == nil || opts.Storage == nil || opts.Decoder == nil {
		return nil, fmt.Errorf("gribref: scanning %s: storage and decoder are required", url)
	}
	log := opts.log().WithFields(logrus.Fields{"url": url})

	r, err := opts.Storage.Open(ctx, url)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	result := &ScanResult{URL: url}
	s := NewSplitter(r, opts.Skip)
	s.MaxMessages = opts.MaxMessages
	for i := 0; s.Next(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		span := s.Span()
		result.Spans = append(result.Spans, span)
		result.Bytes = span.End()

		g, err := describe(opts.Decoder, s.Bytes(), url, span, opts.Filter, log)
		if err != nil {
			de := &DecodeError{URL: url, Index: i, Span: span, Err: err}
			log.WithFields(logrus.Fields{
				"message": i,
				"offset":  span.Offset,
			}).WithError(err).Warn("gribref: skipping message")
			result.Skipped = append(result.Skipped, de)
			continue
		}
		if g != nil {
			result.Groups = append(result.Groups, g)
		}
	}
	if err := s.Err(); err != nil {
		return nil, errors.Wrapf(err, "gribref: scanning %s", url)
	}
	log.WithFields(logrus.Fields{
		"messages": len(result.Spans),
		"kept":     len(result.Groups),
		"skipped":  len(result.Skipped),
		"size":     humanize.Bytes(uint64(result.Bytes)),
	}).Info("gribref: scanned file")
	return result, nil
}

// describe decodes one message and builds its corrected descriptor. It
// returns a nil group for messages excluded by filter.
func describe(dec Decoder, msg []byte, url string, span Span, filter map[string][]string, log logrus.FieldLogger) (*Group, error) {
	attrs, err := dec.Decode(msg)
	if err != nil {
		return nil, err
	}
	if len(filter) > 0 && !attrs.Match(filter) {
		return nil, nil
	}
	g, err := BuildDescriptor(attrs, url, span, log)
	if err != nil {
		return nil, err
	}
	return CorrectStep(g)
}

// Scanner scans files concurrently. Results are kept in memory, so a
// file requested more than once, including by concurrent callers, is only
// scanned once.
type Scanner struct {
	opts  *ScanOptions
	cache *requestcache.Cache
}

// NewScanner returns a Scanner using up to parallel workers (all CPUs if
// parallel <= 0) and remembering the results of up to cacheSize files.
func NewScanner(opts *ScanOptions, parallel, cacheSize int) *Scanner {
	if parallel <= 0 {
		parallel = runtime.GOMAXPROCS(-1)
	}
	if cacheSize <= 0 {
		cacheSize = parallel
	}
	s := &Scanner{opts: opts}
	s.cache = requestcache.NewCache(func(ctx context.Context, request interface{}) (interface{}, error) {
		return ScanGrib(ctx, request.(string), s.opts)
	}, parallel, requestcache.Deduplicate(), requestcache.Memory(cacheSize))
	return s
}

// Scan scans urls and returns their results in the same order. The first
// error encountered is returned.
func (s *Scanner) Scan(ctx context.Context, urls []string) ([]*ScanResult, error) {
	for _, u := range urls {
		if err := CheckURL(u); err != nil {
			return nil, err
		}
	}
	results := make([]*ScanResult, len(urls))
	errs := make([]error, len(urls))
	var wg sync.WaitGroup
	wg.Add(len(urls))
	for i, u := range urls {
		go func(i int, u string) {
			defer wg.Done()
			r, err := s.cache.NewRequest(ctx, u, u).Result()
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = r.(*ScanResult)
		}(i, u)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// ScanFiles scans urls concurrently with a new Scanner.
func ScanFiles(ctx context.Context, urls []string, opts *ScanOptions, parallel int) ([]*ScanResult, error) {
	return NewScanner(opts, parallel, len(urls)).Scan(ctx, urls)
}

// GribToZarr scans urls and merges every kept message into one dataset
// with GribTree. Decode failures are returned alongside the manifest.
func GribToZarr(ctx context.Context, urls []string, opts *ScanOptions, parallel int) (*Manifest, []*DecodeError, error) {
	results, err := ScanFiles(ctx, urls, opts, parallel)
	if err != nil {
		return nil, nil, err
	}
	var groups []*Group
	var skipped []*DecodeError
	for _, r := range results {
		groups = append(groups, r.Groups...)
		skipped = append(skipped, r.Skipped...)
	}
	var log logrus.FieldLogger
	if opts != nil {
		log = opts.log()
	}
	tree, err := GribTree(groups, log)
	if err != nil {
		return nil, skipped, err
	}
	m, err := NewManifest(tree)
	if err != nil {
		return nil, skipped, err
	}
	return m, skipped, nil
}
