// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package chunk resolves regular-file byte ranges into backend chunk I/O
// descriptors, joining the on-inode chunk-address array against the
// chunk-info sidecar table via a lazily-built index.
package chunk

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/google/btree"
	"golang.org/x/xerrors"

	"github.com/rafsv6/rafsv6/erofs"
)

// InfoRow is one row of the chunk-info sidecar table: the full physical
// description of a chunk.
type InfoRow struct {
	BlobIndex          uint32
	Flags              uint32
	CompressedOffset   uint64
	CompressedSize     uint32
	UncompressedOffset uint64
	UncompressedSize   uint32
	FileOffset         uint64
	Index              uint32
	Digest             [32]byte
}

const (
	// FlagCompressed marks a chunk whose backend bytes must be decompressed
	// before use.
	FlagCompressed = 1 << iota
)

const infoRowSize = 4 + 4 + 8 + 4 + 8 + 4 + 8 + 4 + 32

// Table gives access to the chunk-info sidecar table, whose rows are read
// from the source on demand, together with its lazily built chunk-address
// index.
type Table struct {
	src       io.ReaderAt
	offset    int64
	rowCount  uint32
	blockSize uint32

	mu      sync.Mutex
	built   bool
	index   *btree.BTree // of *addrIndexEntry
}

// Load validates the chunk table's bounds (its size must be a multiple of
// the row size) without reading it; rows are read on demand.
func Load(src io.ReaderAt, offset int64, size uint64, blockSize uint32) (*Table, error) {
	if size%infoRowSize != 0 {
		return nil, xerrors.Errorf("chunk table size %d is not a multiple of row size %d: %w", size, infoRowSize, erofs.ErrInvalidData)
	}
	return &Table{
		src:       src,
		offset:    offset,
		rowCount:  uint32(size / infoRowSize),
		blockSize: blockSize,
	}, nil
}

// RowCount returns the number of rows in the sidecar table.
func (t *Table) RowCount() uint32 {
	return t.rowCount
}

// Row reads the sidecar row at index i.
func (t *Table) Row(i uint32) (InfoRow, error) {
	if i >= t.rowCount {
		return InfoRow{}, xerrors.Errorf("chunk row %d out of range (have %d): %w", i, t.rowCount, erofs.ErrNotFound)
	}
	var row InfoRow
	sr := io.NewSectionReader(t.src, t.offset+int64(i)*infoRowSize, infoRowSize)
	if err := binary.Read(sr, binary.LittleEndian, &row); err != nil {
		return InfoRow{}, xerrors.Errorf("read chunk row %d: %w", i, erofs.ErrInvalidData)
	}
	return row, nil
}

// addrIndexEntry is the btree.Item stored in the lazy chunk-address index:
// key is the synthesized on-inode address, value is the sidecar row index.
type addrIndexEntry struct {
	addr erofs.ChunkAddr
	row  uint32
}

func addrLess(a, b erofs.ChunkAddr) bool {
	if a.BlobIndex != b.BlobIndex {
		return a.BlobIndex < b.BlobIndex
	}
	if a.BlobCiIndex != b.BlobCiIndex {
		return a.BlobCiIndex < b.BlobCiIndex
	}
	return a.BlockAddr < b.BlockAddr
}

func (e *addrIndexEntry) Less(than btree.Item) bool {
	return addrLess(e.addr, than.(*addrIndexEntry).addr)
}

// ensureIndex builds the lazy chunk-address index on first use. Build is
// idempotent and guarded by a mutex: the first caller fills it, later
// callers reuse it, and it is never mutated again for the lifetime of this
// Table.
func (t *Table) ensureIndex() (*btree.BTree, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.built {
		return t.index, nil
	}

	idx := btree.New(32)
	for i := uint32(0); i < t.rowCount; i++ {
		row, err := t.Row(i)
		if err != nil {
			return nil, err
		}
		addr := erofs.ChunkAddr{
			BlobIndex:   row.BlobIndex,
			BlobCiIndex: i,
			BlockAddr:   uint32(row.UncompressedOffset / uint64(t.blockSize)),
		}
		idx.ReplaceOrInsert(&addrIndexEntry{addr: addr, row: i})
	}

	t.index = idx
	t.built = true
	return idx, nil
}

// Lookup resolves an on-inode chunk address to its sidecar row.
func (t *Table) Lookup(addr erofs.ChunkAddr) (InfoRow, error) {
	idx, err := t.ensureIndex()
	if err != nil {
		return InfoRow{}, err
	}

	item := idx.Get(&addrIndexEntry{addr: addr})
	if item == nil {
		return InfoRow{}, xerrors.Errorf("chunk address %+v: %w", addr, erofs.ErrNotFound)
	}
	return t.Row(item.(*addrIndexEntry).row)
}

// IoChunk is the opaque backend chunk handle a BlobDevice resolves a chunk
// address into. Its meaning is entirely owned by the blob storage layer.
type IoChunk interface{}

// BlobDevice is the external collaborator that turns a logical chunk
// address into a concrete backend chunk handle. The chunk resolver treats
// it as an opaque resolver; it never interprets the returned handle.
type BlobDevice interface {
	CreateIoChunk(blobIndex, blobCiIndex uint32) (IoChunk, error)
}

// IoDescriptor is one piece of a read request: content_offset/content_len
// within the resolved chunk, plus the user-supplied I/O context forwarded
// unchanged to the blob device.
type IoDescriptor struct {
	BlobIndex     uint32
	Chunk         IoChunk
	ContentOffset uint32
	ContentLen    uint32
	UserIO        any
}

// IoVec groups consecutive descriptors that share a blob index.
type IoVec struct {
	BlobIndex   uint32
	Descriptors []IoDescriptor
}

// Resolver ties an inode's on-inode chunk addresses to a chunk-info table
// and a blob device, implementing alloc_io and get_chunk_info.
type Resolver struct {
	table  *Table
	device BlobDevice
}

// NewResolver constructs a Resolver over table, resolving backend chunk
// handles through device.
func NewResolver(table *Table, device BlobDevice) *Resolver {
	return &Resolver{table: table, device: device}
}

// chunkInode is the minimal view AllocIO/GetChunkInfo need from an inode,
// kept narrow so this package does not import the root package (which
// would create an import cycle, since the root package imports chunk).
type chunkInode interface {
	Size() uint64
	ChunkCount() uint32
	ChunkAddrAt(idx uint32) (erofs.ChunkAddr, error)
}

// AllocIO implements §4.F alloc_io: given a byte range of ino's content,
// produce the list of per-blob chunk I/O vectors covering it.
func (r *Resolver) AllocIO(ino chunkInode, chunkSize uint32, offset, length uint64, userIO any) ([]IoVec, error) {
	if chunkSize == 0 {
		return nil, xerrors.Errorf("chunk size is zero: %w", erofs.ErrInvalidArgument)
	}
	size := ino.Size()
	if offset > size {
		return nil, nil
	}
	if offset+length > size {
		length = size - offset
	}
	if length == 0 {
		return nil, nil
	}

	head := uint32(offset / uint64(chunkSize))
	remaining := length
	firstContentOffset := uint32(offset % uint64(chunkSize))

	var vecs []IoVec
	for i := head; remaining > 0; i++ {
		if i >= ino.ChunkCount() {
			return nil, xerrors.Errorf("read window extends past chunk array (chunk %d, have %d): %w", i, ino.ChunkCount(), erofs.ErrInvalidData)
		}

		addr, err := ino.ChunkAddrAt(i)
		if err != nil {
			return nil, err
		}

		var contentOffset uint32
		if i == head {
			contentOffset = firstContentOffset
		}

		avail := uint64(chunkSize) - uint64(contentOffset)
		contentLen := avail
		if remaining < contentLen {
			contentLen = remaining
		}

		chunkHandle, err := r.device.CreateIoChunk(addr.BlobIndex, addr.BlobCiIndex)
		if err != nil {
			return nil, xerrors.Errorf("resolve chunk (blob %d, ci %d): %w", addr.BlobIndex, addr.BlobCiIndex, erofs.ErrInvalidData)
		}

		desc := IoDescriptor{
			BlobIndex:     addr.BlobIndex,
			Chunk:         chunkHandle,
			ContentOffset: contentOffset,
			ContentLen:    uint32(contentLen),
			UserIO:        userIO,
		}

		if len(vecs) == 0 || vecs[len(vecs)-1].BlobIndex != addr.BlobIndex {
			vecs = append(vecs, IoVec{BlobIndex: addr.BlobIndex})
		}
		last := &vecs[len(vecs)-1]
		last.Descriptors = append(last.Descriptors, desc)

		remaining -= contentLen
	}

	return vecs, nil
}

// GetChunkInfo resolves chunk index idx of ino to its full sidecar
// description.
func (r *Resolver) GetChunkInfo(ino chunkInode, idx uint32) (InfoRow, error) {
	addr, err := ino.ChunkAddrAt(idx)
	if err != nil {
		return InfoRow{}, err
	}
	return r.table.Lookup(addr)
}
