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
	"io"
	"net/url"
	"strings"
)

// Storage provides byte access to local files and remote objects
// addressed by URL. Implementations report missing resources with
// *NotFoundError and are responsible for any retry or timeout policy.
type Storage interface {
	// Open returns a sequential reader over the whole resource.
	Open(ctx context.Context, url string) (io.ReadCloser, error)

	// ReadRange returns length bytes of the resource starting at offset.
	// A negative length reads to the end.
	ReadRange(ctx context.Context, url string, offset, length int64) ([]byte, error)

	// Size returns the length of the resource in bytes.
	Size(ctx context.Context, url string) (int64, error)
}

// Schemes lists the URL schemes that storage implementations must accept.
// A URL without a scheme is a local path.
var Schemes = []string{"file", "s3", "gs", "gcs", "http", "https"}

// CheckURL returns an *InvalidResourceError if u does not name a
// recognized storage protocol. It does not access the resource.
func CheckURL(u string) error {
	if u == "" {
		return &InvalidResourceError{URL: u, Reason: "empty location"}
	}
	scheme := Scheme(u)
	if scheme == "" {
		return nil
	}
	for _, s := range Schemes {
		if scheme == s {
			return nil
		}
	}
	return &InvalidResourceError{URL: u, Reason: "unsupported protocol " + scheme}
}

// Scheme returns the lower-case URL scheme of u, or "" for local paths,
// including Windows paths with a drive letter.
func Scheme(u string) string {
	i := strings.Index(u, "://")
	if i <= 1 {
		return ""
	}
	p, err := url.Parse(u)
	if err != nil {
		return strings.ToLower(u[:i])
	}
	return strings.ToLower(p.Scheme)
}
