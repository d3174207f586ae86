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
	"encoding/binary"
	"fmt"
	"io"
	"io/ioutil"

	"github.com/pkg/errors"
)

const (
	// indicatorLength is the length of GRIB2 section 0 in bytes.
	indicatorLength = 16
	// endLength is the length of the "7777" end section.
	endLength = 4
)

var (
	indicatorMarker = []byte("GRIB")
	endMarker       = []byte("7777")
)

// Span is the byte extent of one GRIB2 message within a source.
type Span struct {
	Offset int64
	Length int64
}

// End returns the offset of the first byte after the span.
func (s Span) End() int64 { return s.Offset + s.Length }

// Splitter reads consecutive GRIB2 messages from a stream. It only needs
// sequential reads, so it works on network bodies as well as files.
// A Splitter is used like a bufio.Scanner:
//
//	s := NewSplitter(r, 0)
//	for s.Next() {
//		span, msg := s.Span(), s.Bytes()
//		...
//	}
//	if err := s.Err(); err != nil {
//		...
//	}
//
// To restart a sequence, create a new Splitter over a fresh reader.
type Splitter struct {
	r    io.Reader
	skip int64

	// MaxMessages, if > 0, stops the sequence after that many messages.
	MaxMessages int

	offset  int64
	count   int
	started bool
	done    bool

	span Span
	data []byte
	err  error
}

// NewSplitter returns a Splitter reading from r. The first skip bytes of r
// are discarded before looking for the first message; offsets reported by
// the Splitter are relative to the start of r, including the skipped bytes.
func NewSplitter(r io.Reader, skip int64) *Splitter {
	return &Splitter{r: r, skip: skip}
}

// Next advances to the next message. It returns false at the end of the
// stream or after an error; Err distinguishes the two.
func (s *Splitter) Next() bool {
	if s.done || s.err != nil {
		return false
	}
	if !s.started {
		s.started = true
		if s.skip > 0 {
			n, err := io.CopyN(ioutil.Discard, s.r, s.skip)
			s.offset = n
			if err == io.EOF {
				s.done = true
				return false
			} else if err != nil {
				s.err = errors.Wrap(err, "gribref: skipping leading bytes")
				return false
			}
		}
	}
	if s.MaxMessages > 0 && s.count >= s.MaxMessages {
		s.done = true
		return false
	}

	head := make([]byte, indicatorLength)
	n, err := io.ReadFull(s.r, head)
	switch {
	case err == io.EOF:
		s.done = true
		return false
	case err == io.ErrUnexpectedEOF:
		return s.malformed(fmt.Sprintf("truncated indicator section (%d of %d bytes)", n, indicatorLength))
	case err != nil:
		s.err = errors.Wrapf(err, "gribref: reading message at offset %d", s.offset)
		return false
	}
	if !bytes.Equal(head[:4], indicatorMarker) {
		return s.malformed(fmt.Sprintf("expected GRIB indicator, found %q", head[:4]))
	}
	if edition := head[7]; edition != 2 {
		return s.malformed(fmt.Sprintf("unsupported GRIB edition %d", edition))
	}
	length := binary.BigEndian.Uint64(head[8:16])
	if length < indicatorLength+endLength || length > 1<<62 {
		return s.malformed(fmt.Sprintf("invalid message length %d", length))
	}

	// The buffer grows as data arrives so a corrupt length cannot force a
	// huge allocation up front.
	buf := bytes.NewBuffer(make([]byte, 0, indicatorLength))
	buf.Write(head)
	remaining := int64(length) - indicatorLength
	copied, err := io.CopyN(buf, s.r, remaining)
	if err == io.EOF {
		return s.malformed(fmt.Sprintf("declared length %d overruns end of input by %d bytes",
			length, remaining-copied))
	} else if err != nil {
		s.err = errors.Wrapf(err, "gribref: reading message at offset %d", s.offset)
		return false
	}
	data := buf.Bytes()
	if !bytes.Equal(data[len(data)-endLength:], endMarker) {
		return s.malformed(fmt.Sprintf("message of length %d does not end with 7777", length))
	}

	s.span = Span{Offset: s.offset, Length: int64(length)}
	s.data = data
	s.offset += int64(length)
	s.count++
	return true
}

func (s *Splitter) malformed(reason string) bool {
	s.err = &MalformedInputError{Offset: s.offset, Reason: reason}
	return false
}

// Span returns the extent of the current message.
func (s *Splitter) Span() Span { return s.span }

// Bytes returns the raw bytes of the current message. The slice is not
// reused by later calls to Next.
func (s *Splitter) Bytes() []byte { return s.data }

// Err returns the first error encountered, or nil if the stream ended
// cleanly.
func (s *Splitter) Err() error { return s.err }

// SplitFile returns the spans of all messages in r after skipping the
// first skip bytes.
func SplitFile(r io.Reader, skip int64) ([]Span, error) {
	var spans []Span
	s := NewSplitter(r, skip)
	for s.Next() {
		spans = append(spans, s.Span())
	}
	return spans, s.Err()
}
