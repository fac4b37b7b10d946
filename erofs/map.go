// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package erofs

import (
	"bytes"
	"encoding/binary"
	"os"

	"golang.org/x/xerrors"
)

// Map owns a read-only memory mapping of a bootstrap file. It never parses
// the file into owned structures; every accessor returns a bounds-checked
// view directly into the mapping. A Map must be closed exactly once, via
// Close, after the last reader relying on it has dropped its snapshot.
type Map struct {
	f    *os.File
	data []byte
}

// MapFile maps f read-only for its full length and advises the kernel to
// pre-populate the pages, since most bootstrap metadata is touched within
// the first few milliseconds of use.
func MapFile(f *os.File) (*Map, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, xerrors.Errorf("stat bootstrap file: %w", err)
	}

	if st.Size() == 0 {
		return nil, xerrors.Errorf("bootstrap file is empty: %w", ErrInvalidData)
	}

	data, err := mmapReadOnly(f, st.Size())
	if err != nil {
		return nil, xerrors.Errorf("mmap bootstrap file: %w", err)
	}

	adviseWillNeed(data)

	return &Map{f: f, data: data}, nil
}

// Close unmaps the file. It does not close the underlying *os.File; the
// caller retains ownership of that handle.
func (m *Map) Close() error {
	return munmap(m.data)
}

// Len returns the length of the mapping in bytes.
func (m *Map) Len() int64 {
	return int64(len(m.data))
}

// ValidateRange asserts that [off, off+n) is contained in the mapping,
// without producing a reference to it.
func (m *Map) ValidateRange(off, n int64) error {
	if off < 0 || n < 0 || off+n < off || off+n > int64(len(m.data)) {
		return xerrors.Errorf("range [%d, %d) exceeds mapping of length %d: %w", off, off+n, len(m.data), ErrInvalidData)
	}
	return nil
}

// Slice returns a byte slice of length n at offset off. The returned slice
// aliases the mapping; it must not be retained past the lifetime of the
// snapshot that produced it.
func (m *Map) Slice(off, n int64) ([]byte, error) {
	if err := m.ValidateRange(off, n); err != nil {
		return nil, err
	}
	return m.data[off : off+n], nil
}

// TypedAt decodes a fixed-size, little-endian record of type T at offset
// off. Decoding reads directly out of the mapping (no file I/O); it is
// performed field-wise so naturally-aligned on-disk records never pay an
// unaligned-access penalty.
func TypedAt[T any](m *Map, off int64) (T, error) {
	var v T
	n := int64(binary.Size(v))
	if n < 0 {
		return v, xerrors.Errorf("type %T has no fixed binary size: %w", v, ErrInvalidData)
	}
	buf, err := m.Slice(off, n)
	if err != nil {
		return v, err
	}
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &v); err != nil {
		return v, xerrors.Errorf("decode %T at offset %d: %w", v, off, err)
	}
	return v, nil
}
