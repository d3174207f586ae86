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


// Package cloud provides access to GRIB files in local directories, cloud
// object stores and on web servers.
package cloud

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	"github.com/spatialmodel/gribref"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// Options configure remote storage access.
type Options struct {
	// Anonymous accesses public buckets without credentials.
	Anonymous bool
	// Region is the AWS region of S3 buckets.
	Region string
	// Endpoint overrides the S3 endpoint, for S3-compatible stores.
	Endpoint string
	// Retries is the number of times failed HTTP requests are retried.
	Retries int
	// HTTPClient is used for http and https resources. The default is
	// http.DefaultClient.
	HTTPClient *http.Client
}

// Storage implements gribref.Storage. Buckets are opened on first use and
// kept open until Close is called.
type Storage struct {
	opts Options

	mu      sync.Mutex
	buckets map[string]*blob.Bucket
}

// NewStorage returns a new Storage.
func NewStorage(opts *Options) *Storage {
	s := &Storage{buckets: make(map[string]*blob.Bucket)}
	if opts != nil {
		s.opts = *opts
	}
	if s.opts.HTTPClient == nil {
		s.opts.HTTPClient = http.DefaultClient
	}
	return s
}

var _ gribref.Storage = (*Storage)(nil)

// Close closes all open buckets.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for name, b := range s.buckets {
		if err := b.Close(); err != nil && first == nil {
			first = err
		}
		delete(s.buckets, name)
	}
	return first
}

func isHTTP(resource string) bool {
	s := gribref.Scheme(resource)
	return s == "http" || s == "https"
}

// bucket returns the open bucket holding resource and the resource's key.
func (s *Storage) bucket(ctx context.Context, resource string) (*blob.Bucket, string, error) {
	if err := gribref.CheckURL(resource); err != nil {
		return nil, "", err
	}
	loc, err := locate(resource)
	if err != nil {
		return nil, "", &gribref.InvalidResourceError{URL: resource, Reason: err.Error()}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buckets[loc.bucket]; ok {
		return b, loc.key, nil
	}
	if !strings.Contains(loc.bucket, "://") {
		if _, err := os.Stat(loc.bucket); os.IsNotExist(err) {
			return nil, "", &gribref.NotFoundError{URL: resource, Err: err}
		}
	}
	b, err := OpenBucket(ctx, loc.bucket, &s.opts)
	if err != nil {
		return nil, "", errors.Wrapf(err, "cloud: opening bucket for %s", resource)
	}
	s.buckets[loc.bucket] = b
	return b, loc.key, nil
}

// blobError converts a bucket error into the gribref error taxonomy.
func blobError(resource string, err error) error {
	if gcerrors.Code(err) == gcerrors.NotFound {
		return &gribref.NotFoundError{URL: resource, Err: err}
	}
	return errors.Wrapf(err, "cloud: reading %s", resource)
}

// Open implements gribref.Storage.
func (s *Storage) Open(ctx context.Context, resource string) (io.ReadCloser, error) {
	if isHTTP(resource) {
		return s.httpGet(ctx, resource, 0, -1)
	}
	b, key, err := s.bucket(ctx, resource)
	if err != nil {
		return nil, err
	}
	r, err := b.NewReader(ctx, key, nil)
	if err != nil {
		return nil, blobError(resource, err)
	}
	return r, nil
}

// ReadRange implements gribref.Storage.
func (s *Storage) ReadRange(ctx context.Context, resource string, offset, length int64) ([]byte, error) {
	var r io.ReadCloser
	var err error
	if isHTTP(resource) {
		r, err = s.httpGet(ctx, resource, offset, length)
	} else {
		var b *blob.Bucket
		var key string
		if b, key, err = s.bucket(ctx, resource); err != nil {
			return nil, err
		}
		r, err = b.NewRangeReader(ctx, key, offset, length, nil)
		if err != nil {
			err = blobError(resource, err)
		}
	}
	if err != nil {
		return nil, err
	}
	defer r.Close()
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "cloud: reading %s", resource)
	}
	if length >= 0 && int64(len(data)) != length {
		return nil, fmt.Errorf("cloud: read %d bytes of %s at offset %d, want %d", len(data), resource, offset, length)
	}
	return data, nil
}

// Size implements gribref.Storage.
func (s *Storage) Size(ctx context.Context, resource string) (int64, error) {
	if isHTTP(resource) {
		return s.httpSize(ctx, resource)
	}
	b, key, err := s.bucket(ctx, resource)
	if err != nil {
		return 0, err
	}
	a, err := b.Attributes(ctx, key)
	if err != nil {
		return 0, blobError(resource, err)
	}
	return a.Size, nil
}

// retry runs op, retrying failures with exponential backoff. Errors
// wrapped with backoff.Permanent are not retried.
func (s *Storage) retry(ctx context.Context, op func() error) error {
	var b backoff.BackOff = backoff.NewExponentialBackOff()
	b = backoff.WithMaxRetries(b, uint64(s.opts.Retries))
	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	if p, ok := err.(*backoff.PermanentError); ok {
		return p.Err
	}
	return err
}

// httpGet requests length bytes of resource starting at offset, or the
// whole resource if offset is 0 and length is negative.
func (s *Storage) httpGet(ctx context.Context, resource string, offset, length int64) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := s.retry(ctx, func() error {
		req, err := http.NewRequest(http.MethodGet, resource, nil)
		if err != nil {
			return backoff.Permanent(&gribref.InvalidResourceError{URL: resource, Reason: err.Error()})
		}
		req = req.WithContext(ctx)
		if length >= 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
		} else if offset > 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		}
		resp, err := s.opts.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		if err := checkResponse(resource, resp); err != nil {
			resp.Body.Close()
			return err
		}
		body = resp.Body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (s *Storage) httpSize(ctx context.Context, resource string) (int64, error) {
	var size int64
	err := s.retry(ctx, func() error {
		req, err := http.NewRequest(http.MethodHead, resource, nil)
		if err != nil {
			return backoff.Permanent(&gribref.InvalidResourceError{URL: resource, Reason: err.Error()})
		}
		resp, err := s.opts.HTTPClient.Do(req.WithContext(ctx))
		if err != nil {
			return err
		}
		resp.Body.Close()
		if err := checkResponse(resource, resp); err != nil {
			return err
		}
		if resp.ContentLength < 0 {
			return backoff.Permanent(fmt.Errorf("cloud: %s did not report its size", resource))
		}
		size = resp.ContentLength
		return nil
	})
	return size, err
}

// checkResponse returns nil for successful responses. Client errors are
// permanent; server errors may be retried.
func checkResponse(resource string, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return backoff.Permanent(&gribref.NotFoundError{URL: resource, Err: fmt.Errorf("%s", resp.Status)})
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return backoff.Permanent(fmt.Errorf("cloud: requesting %s: %s", resource, strings.TrimSpace(resp.Status)))
	default:
		return fmt.Errorf("cloud: requesting %s: %s", resource, resp.Status)
	}
}
