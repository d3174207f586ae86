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
	"io"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// ManifestVersion is the reference format version written to
// manifests.
const ManifestVersion = 1

// Manifest is a serializable reference set describing a zarr dataset.
type Manifest struct {
	Version int              `json:"version" msgpack:"version"`
	Refs    map[string]Entry `json:"refs" msgpack:"refs"`
}

// NewManifest flattens g into a Manifest.
func NewManifest(g *Group) (*Manifest, error) {
	refs, err := g.Refs()
	if err != nil {
		return nil, err
	}
	return &Manifest{Version: ManifestVersion, Refs: refs}, nil
}

// Group rebuilds the group tree described by m.
func (m *Manifest) Group() (*Group, error) {
	if m.Version != ManifestVersion {
		return nil, fmt.Errorf("gribref: unsupported manifest version %d", m.Version)
	}
	return ParseRefs(m.Refs)
}

// WriteJSON writes m to w as JSON.
func (m *Manifest) WriteJSON(w io.Writer) error {
	e := json.NewEncoder(w)
	if err := e.Encode(m); err != nil {
		return errors.Wrap(err, "gribref: writing manifest")
	}
	return nil
}

// ReadJSON reads a JSON manifest from r.
func ReadJSON(r io.Reader) (*Manifest, error) {
	m := new(Manifest)
	if err := json.NewDecoder(r).Decode(m); err != nil {
		return nil, errors.Wrap(err, "gribref: reading manifest")
	}
	return m, nil
}

// ReadJSONStream reads a sequence of JSON manifests, such as the output of
// repeated calls to WriteJSON.
func ReadJSONStream(r io.Reader) ([]*Manifest, error) {
	dec := json.NewDecoder(r)
	var out []*Manifest
	for dec.More() {
		m := new(Manifest)
		if err := dec.Decode(m); err != nil {
			return nil, errors.Wrapf(err, "gribref: reading manifest %d", len(out))
		}
		out = append(out, m)
	}
	return out, nil
}

// WriteMsgpack writes m to w in MessagePack format.
func (m *Manifest) WriteMsgpack(w io.Writer) error {
	enc := msgpack.NewEncoder(w)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(m); err != nil {
		return errors.Wrap(err, "gribref: writing manifest")
	}
	return nil
}

// ReadMsgpack reads a MessagePack manifest from r.
func ReadMsgpack(r io.Reader) (*Manifest, error) {
	m := new(Manifest)
	if err := msgpack.NewDecoder(r).Decode(m); err != nil {
		return nil, errors.Wrap(err, "gribref: reading manifest")
	}
	return m, nil
}

// ReadMsgpackStream reads a sequence of MessagePack manifests.
func ReadMsgpackStream(r io.Reader) ([]*Manifest, error) {
	dec := msgpack.NewDecoder(r)
	var out []*Manifest
	for {
		m := new(Manifest)
		err := dec.Decode(m)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, errors.Wrapf(err, "gribref: reading manifest %d", len(out))
		}
		out = append(out, m)
	}
}

// EncodeMsgpack implements msgpack.CustomEncoder. Inline values are
// written as binary and references as [url, offset, length].
func (e Entry) EncodeMsgpack(enc *msgpack.Encoder) error {
	if !e.IsRef() {
		return enc.EncodeBytes(e.Inline)
	}
	if e.Length < 0 {
		if err := enc.EncodeArrayLen(1); err != nil {
			return err
		}
		return enc.EncodeString(e.URL)
	}
	if err := enc.EncodeArrayLen(3); err != nil {
		return err
	}
	if err := enc.EncodeString(e.URL); err != nil {
		return err
	}
	if err := enc.EncodeInt(e.Offset); err != nil {
		return err
	}
	return enc.EncodeInt(e.Length)
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (e *Entry) DecodeMsgpack(dec *msgpack.Decoder) error {
	v, err := dec.DecodeInterface()
	if err != nil {
		return errors.Wrap(err, "gribref: decoding reference")
	}
	return e.fromInterface(v)
}
