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
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// MalformedInputError is returned when a byte stream does not follow
// GRIB2 message framing. It is fatal for the file being read.
type MalformedInputError struct {
	// Offset is the position in the stream where the problem was found.
	Offset int64
	Reason string
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("gribref: malformed input at offset %d: %s", e.Offset, e.Reason)
}

// DecodeError records a single message that could not be turned into a
// descriptor. Decode errors are collected per file rather than aborting
// the scan.
type DecodeError struct {
	URL string
	// Index is the zero-based position of the message in the file.
	Index int
	Span  Span
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("gribref: message %d of %s (offset %d, length %d): %v",
		e.Index, e.URL, e.Span.Offset, e.Span.Length, e.Err)
}

// Unwrap returns the underlying decoder error.
func (e *DecodeError) Unwrap() error { return e.Err }

// MergeError is returned when message descriptors cannot be folded into
// one tree because their structure conflicts.
type MergeError struct {
	Path   string
	Reason string
}

func (e *MergeError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("gribref: merging messages: %s", e.Reason)
	}
	return fmt.Sprintf("gribref: merging group %s: %s", e.Path, e.Reason)
}

// InvalidResourceError is returned for URLs whose scheme is not a
// recognized storage protocol.
type InvalidResourceError struct {
	URL    string
	Reason string
}

func (e *InvalidResourceError) Error() string {
	return fmt.Sprintf("gribref: invalid resource %q: %s", e.URL, e.Reason)
}

// NotFoundError is returned when a resource does not exist.
type NotFoundError struct {
	URL string
	Err error
}

func (e *NotFoundError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("gribref: %s: no such file or object", e.URL)
	}
	return fmt.Sprintf("gribref: %s: no such file or object: %v", e.URL, e.Err)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// UniquenessError is returned by validated idx parsing when more than one
// record shares the same attribute mapping.
type UniquenessError struct {
	// Resource is the GRIB file the index describes.
	Resource string
	// Duplicates lists the offending attribute mappings.
	Duplicates []string
}

func (e *UniquenessError) Error() string {
	return fmt.Sprintf("gribref: attribute mapping for grib file %s is not unique: %s",
		e.Resource, strings.Join(e.Duplicates, "; "))
}

// IsNotFound reports whether err, or any error it wraps, is a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsInvalidResource reports whether err, or any error it wraps, is an
// InvalidResourceError.
func IsInvalidResource(err error) bool {
	var e *InvalidResourceError
	return errors.As(err, &e)
}

// IsMalformed reports whether err, or any error it wraps, is a
// MalformedInputError.
func IsMalformed(err error) bool {
	var e *MalformedInputError
	return errors.As(err, &e)
}
