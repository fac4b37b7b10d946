// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package blobtable parses the list of blob descriptors referenced by a
// RAFS v6 bootstrap. Unlike the rest of the driver it is read from a
// streaming reader rather than the memory map: the table carries
// variable-length blob-id strings, which are simpler to own as parsed Go
// values than to re-slice out of the mapping on every lookup.
package blobtable

import (
	"encoding/binary"
	"io"

	"golang.org/x/xerrors"

	"github.com/rafsv6/rafsv6/erofs"
)

// BlobInfo describes one blob backing this image's file content.
type BlobInfo struct {
	Index              uint32
	ID                 string
	CompressedSize     uint64
	UncompressedSize   uint64
	ChunkSize          uint32
	Features           uint32
	CompressionAlgo    uint8
	DigestAlgo         uint8
}

const (
	// FeatureCompressed marks a blob whose chunks may be compressed.
	FeatureCompressed = 1 << iota
)

// entryHeader is the fixed-size portion of one on-disk blob table entry.
// The blob id string (idLen bytes) immediately follows it.
type entryHeader struct {
	IDLen            uint16
	CompressionAlgo  uint8
	DigestAlgo       uint8
	Features         uint32
	ChunkSize        uint32
	CompressedSize   uint64
	UncompressedSize uint64
}

// Table is the parsed, indexed list of blob descriptors.
type Table struct {
	blobs []BlobInfo
}

// Load parses the blob table at [offset, offset+size) of r.
func Load(r io.ReaderAt, offset int64, size uint32) (*Table, error) {
	sr := io.NewSectionReader(r, offset, int64(size))

	var blobs []BlobInfo
	var consumed int64
	for idx := uint32(0); consumed < int64(size); idx++ {
		var hdr entryHeader
		if err := binary.Read(sr, binary.LittleEndian, &hdr); err != nil {
			return nil, xerrors.Errorf("blob table entry %d: read header: %w", idx, erofs.ErrInvalidData)
		}

		idBuf := make([]byte, hdr.IDLen)
		if _, err := io.ReadFull(sr, idBuf); err != nil {
			return nil, xerrors.Errorf("blob table entry %d: read id: %w", idx, erofs.ErrInvalidData)
		}

		blobs = append(blobs, BlobInfo{
			Index:            idx,
			ID:               string(idBuf),
			CompressedSize:   hdr.CompressedSize,
			UncompressedSize: hdr.UncompressedSize,
			ChunkSize:        hdr.ChunkSize,
			Features:         hdr.Features,
			CompressionAlgo:  hdr.CompressionAlgo,
			DigestAlgo:       hdr.DigestAlgo,
		})

		consumed += int64(binary.Size(hdr)) + int64(hdr.IDLen)
	}

	return &Table{blobs: blobs}, nil
}

// Get returns the blob descriptor at index.
func (t *Table) Get(index uint32) (BlobInfo, error) {
	if int(index) >= len(t.blobs) {
		return BlobInfo{}, xerrors.Errorf("blob index %d out of range (have %d): %w", index, len(t.blobs), erofs.ErrNotFound)
	}
	return t.blobs[index], nil
}

// All returns every blob descriptor, in index order.
func (t *Table) All() []BlobInfo {
	out := make([]BlobInfo, len(t.blobs))
	copy(out, t.blobs)
	return out
}
