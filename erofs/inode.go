// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 *
 * Portions of this file are based on code originally from: github.com/google/gvisor
 *
 * Copyright 2023 The gVisor Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package erofs

import (
	"encoding/binary"
	"io/fs"

	"golang.org/x/xerrors"
)

// Bit definitions for Inode*.Format.
const (
	InodeLayoutBit  = 0
	InodeLayoutBits = 1

	InodeDataLayoutBit  = 1
	InodeDataLayoutBits = 3
)

// Inode version (Format bit 0).
const (
	InodeLayoutCompact  = 0
	InodeLayoutExtended = 1
)

// Inode data layouts (Format bits 1..3).
const (
	InodeDataLayoutFlatPlain = iota
	InodeDataLayoutFlatCompressionLegacy
	InodeDataLayoutFlatInline
	InodeDataLayoutFlatCompression
	InodeDataLayoutChunkBased
	InodeDataLayoutMax
)

// InodeCompact represents the 32-byte reduced on-disk inode.
type InodeCompact struct {
	Format     uint16
	XattrCount uint16
	Mode       uint16
	Nlink      uint16
	Size       uint32
	Union      uint32 // block addr, device number, or chunk-format word
	Reserved   uint32
	Ino        uint32
	UID        uint16
	GID        uint16
	Reserved2  uint32
}

// InodeExtended represents the 64-byte complete on-disk inode.
type InodeExtended struct {
	Format    uint16
	XattrCount uint16
	Mode      uint16
	Reserved  uint16
	Size      uint64
	Union     uint32
	Ino       uint32
	UID       uint32
	GID       uint32
	Mtime     uint64
	MtimeNsec uint32
	Nlink     uint32
	Reserved2 [16]uint8
}

// Inode is a uniform view over a compact or extended on-disk inode. It
// holds no reference into the mapping beyond the offsets needed to
// re-derive fields on demand; all field access already happened during
// ReadInode, which is itself bounds-checked.
type Inode struct {
	nid    uint64
	offset int64

	format     uint16
	xattrCount uint16
	mode       uint16
	nlink      uint32
	size       uint64
	union      uint32
	uid        uint32
	gid        uint32
	mtime      uint64
	mtimeNsec  uint32

	inodeSize     int64 // 32 or 64
	xattrSize     int64
	inodeXattrSize int64 // round_up(inodeSize+xattrSize, 8)

	blocks   int64 // ceil(size / blockSize), meaningful for plain/inline layouts
	dataOff  int64 // base offset of block-addressed data
	idataOff int64 // offset of tail-packed inline data, 0 if none

	sb *SuperBlock
	m  *Map
}

func bitRange(value, bit, bits uint16) uint16 {
	return (value >> bit) & ((1 << bits) - 1)
}

// Layout returns the inode version (compact or extended).
func (ino *Inode) Layout() uint16 { return bitRange(ino.format, InodeLayoutBit, InodeLayoutBits) }

// DataLayout returns the inode data layout.
func (ino *Inode) DataLayout() uint16 {
	return bitRange(ino.format, InodeDataLayoutBit, InodeDataLayoutBits)
}

func (ino *Inode) Nid() uint64         { return ino.nid }
func (ino *Inode) Offset() int64       { return ino.offset }
func (ino *Inode) Size() uint64        { return ino.size }
func (ino *Inode) Nlink() uint32       { return ino.nlink }
func (ino *Inode) UID() uint32         { return ino.uid }
func (ino *Inode) GID() uint32         { return ino.gid }
func (ino *Inode) Mtime() uint64       { return ino.mtime }
func (ino *Inode) MtimeNsec() uint32   { return ino.mtimeNsec }
func (ino *Inode) XattrCount() uint16  { return ino.xattrCount }
func (ino *Inode) InodeSize() int64    { return ino.inodeSize }
func (ino *Inode) InodeXattrSize() int64 { return ino.inodeXattrSize }
func (ino *Inode) StatMode() uint16    { return ino.mode }

// Rdev returns the device number for character/block special files.
func (ino *Inode) Rdev() uint32 { return ino.union }

func (ino *Inode) IsRegular() bool { return ino.mode&S_IFMT == S_IFREG }
func (ino *Inode) IsDir() bool     { return ino.mode&S_IFMT == S_IFDIR }
func (ino *Inode) IsCharDev() bool { return ino.mode&S_IFMT == S_IFCHR }
func (ino *Inode) IsBlockDev() bool { return ino.mode&S_IFMT == S_IFBLK }
func (ino *Inode) IsFIFO() bool    { return ino.mode&S_IFMT == S_IFIFO }
func (ino *Inode) IsSocket() bool  { return ino.mode&S_IFMT == S_IFSOCK }
func (ino *Inode) IsSymlink() bool { return ino.mode&S_IFMT == S_IFLNK }

// Mode returns the POSIX type+permission bits as a fs.FileMode.
func (ino *Inode) Mode() fs.FileMode {
	return fileModeFromStatMode(ino.mode)
}

// IsChunkBased reports whether this regular file addresses its data through
// the on-inode chunk-address array rather than data blocks.
func (ino *Inode) IsChunkBased() bool {
	return ino.DataLayout() == InodeDataLayoutChunkBased
}

// ChunkArrayOffset returns the byte offset of the on-inode chunk-address
// array. Only meaningful when IsChunkBased is true.
func (ino *Inode) ChunkArrayOffset() int64 {
	return ino.offset + ino.inodeXattrSize
}

// ChunkCount returns ceil(size / chunk_size), the number of chunk-address
// records in the on-inode array.
func (ino *Inode) ChunkCount() uint32 {
	chunkSize := uint64(ino.sb.ChunkSize())
	return uint32((ino.size + chunkSize - 1) / chunkSize)
}

// XattrHeaderOffset returns the byte offset of the inline xattr header.
// Only meaningful when XattrCount() != 0.
func (ino *Inode) XattrHeaderOffset() int64 {
	return ino.offset + ino.inodeSize
}

// blockData describes where the data for one block of a directory or
// symlink's content lives.
type blockData struct {
	base int64
	size uint32
}

// blocksCount returns ceil(size / blockSize) for block-addressed content.
func (ino *Inode) blocksCount() int64 {
	return ino.blocks
}

// getBlockDataInfo returns the location of block blockIdx of this inode's
// content. Precondition: blockIdx < blocksCount().
func (ino *Inode) getBlockDataInfo(blockIdx uint64) blockData {
	blockSize := ino.sb.BlockSize()
	lastBlock := int64(blockIdx) == ino.blocks-1
	base := ino.idataOff
	if !lastBlock || base == 0 {
		base = ino.dataOff + int64(blockIdx)*int64(blockSize)
	}
	size := blockSize
	if lastBlock {
		if tail := uint32(ino.size) & (blockSize - 1); tail != 0 {
			size = tail
		}
	}
	return blockData{base, size}
}

func checkInodeAlignment(off int64) bool {
	return off&((1<<InodeSlotBits)-1) == 0
}

// computeXattrSize measures the total byte length of the inline xattr blob
// starting at headerOff: the 8-byte header plus every entry, each padded
// out to a 4-byte boundary together with its name and value bytes. Unlike
// a fixed per-entry size this must actually walk the entries, since names
// and values are variable-length and tail-packed immediately after their
// header.
func computeXattrSize(m *Map, headerOff int64, count uint16) (int64, error) {
	if count == 0 {
		return 0, nil
	}

	off := headerOff + xattrHeaderSize
	for i := 0; i < int(count)-1; i++ {
		entry, err := TypedAt[xattrEntryRaw](m, off)
		if err != nil {
			return 0, xerrors.Errorf("measure xattr entry %d: %w", i, err)
		}
		consumed := int64(xattrEntrySize) + int64(entry.NameLen) + int64(entry.ValueSize)
		off += roundUpTo(consumed, xattrEntrySize)
	}

	return off - headerOff, nil
}

func roundUp8(n int64) int64 {
	return (n + 7) &^ 7
}

// ReadInode decodes the inode identified by nid.
func ReadInode(m *Map, sb *SuperBlock, nid uint64) (Inode, error) {
	off := sb.NidToOffset(nid)

	if !checkInodeAlignment(off) {
		return Inode{}, xerrors.Errorf("inode %d misaligned at offset %d: %w", nid, off, ErrInvalidData)
	}

	formatBuf, err := m.Slice(off, 2)
	if err != nil {
		return Inode{}, xerrors.Errorf("read inode %d format: %w", nid, err)
	}
	format := binary.LittleEndian.Uint16(formatBuf)

	ino := Inode{
		nid:    nid,
		offset: off,
		format: format,
		sb:     sb,
		m:      m,
	}

	// Reserved bits (everything above the data-layout field) must be zero.
	if bitRange(format, InodeDataLayoutBit+InodeDataLayoutBits, 16-(InodeDataLayoutBit+InodeDataLayoutBits)) != 0 {
		return Inode{}, xerrors.Errorf("inode %d has reserved format bits set: %w", nid, ErrInvalidData)
	}

	switch ino.Layout() {
	case InodeLayoutCompact:
		raw, err := TypedAt[InodeCompact](m, off)
		if err != nil {
			return Inode{}, xerrors.Errorf("read compact inode %d: %w", nid, err)
		}
		ino.inodeSize = int64(binary.Size(raw))
		ino.xattrCount = raw.XattrCount
		ino.mode = raw.Mode
		ino.nlink = uint32(raw.Nlink)
		ino.size = uint64(raw.Size)
		ino.union = raw.Union
		ino.uid = uint32(raw.UID)
		ino.gid = uint32(raw.GID)
		ino.mtime = sb.BuildTime
		ino.mtimeNsec = sb.BuildTimeNsec

	case InodeLayoutExtended:
		raw, err := TypedAt[InodeExtended](m, off)
		if err != nil {
			return Inode{}, xerrors.Errorf("read extended inode %d: %w", nid, err)
		}
		ino.inodeSize = int64(binary.Size(raw))
		ino.xattrCount = raw.XattrCount
		ino.mode = raw.Mode
		ino.nlink = raw.Nlink
		ino.size = raw.Size
		ino.union = raw.Union
		ino.uid = raw.UID
		ino.gid = raw.GID
		ino.mtime = raw.Mtime
		ino.mtimeNsec = raw.MtimeNsec

	default:
		return Inode{}, xerrors.Errorf("inode %d has unknown layout: %w", nid, ErrInvalidData)
	}

	xattrSize, err := computeXattrSize(m, off+ino.inodeSize, ino.xattrCount)
	if err != nil {
		return Inode{}, xerrors.Errorf("inode %d: %w", nid, err)
	}
	ino.xattrSize = xattrSize
	ino.inodeXattrSize = roundUp8(ino.inodeSize + ino.xattrSize)

	blockSize := int64(sb.BlockSize())
	ino.blocks = (int64(ino.size) + blockSize - 1) / blockSize

	switch dataLayout := ino.DataLayout(); dataLayout {
	case InodeDataLayoutFlatInline:
		tailSize := int64(ino.size) & (blockSize - 1)
		if tailSize == 0 || tailSize > blockSize-ino.inodeXattrSize {
			return Inode{}, xerrors.Errorf("inode %d: inline tail does not fit metadata block (tail=%d): %w", nid, tailSize, ErrInvalidData)
		}
		ino.idataOff = off + ino.inodeXattrSize
		ino.dataOff = sb.BlockAddrToOffset(ino.union)

	case InodeDataLayoutFlatPlain:
		ino.dataOff = sb.BlockAddrToOffset(ino.union)

	case InodeDataLayoutChunkBased:
		if ino.IsDir() {
			return Inode{}, xerrors.Errorf("inode %d: directories cannot be chunk-based: %w", nid, ErrIncompatible)
		}
		if sb.ChunkDict() {
			return Inode{}, xerrors.Errorf("inode %d: chunk-dict bootstrap carries no chunk structure: %w", nid, ErrUnsupported)
		}

	case InodeDataLayoutFlatCompressionLegacy, InodeDataLayoutFlatCompression:
		return Inode{}, xerrors.Errorf("inode %d: compressed data layout %d is not implemented: %w", nid, dataLayout, ErrIncompatible)

	default:
		return Inode{}, xerrors.Errorf("inode %d: unknown data layout %d: %w", nid, dataLayout, ErrIncompatible)
	}

	return ino, nil
}

// Validate checks structural invariants that ReadInode alone cannot (it
// needs maxInode and the inode's name, which the caller supplies).
// It must be called, and must succeed, before any other accessor is trusted
// with adversarial input.
func (ino *Inode) Validate(maxInode uint64, name string) error {
	if ino.nlink == 0 {
		return xerrors.Errorf("inode %d: nlink is zero: %w", ino.nid, ErrInvalidData)
	}
	if ino.nid > maxInode {
		return xerrors.Errorf("inode %d exceeds max inode %d: %w", ino.nid, maxInode, ErrInvalidData)
	}
	if len(name) > MaxNameLen {
		return xerrors.Errorf("inode %d: name %q exceeds %d bytes: %w", ino.nid, name, MaxNameLen, ErrInvalidData)
	}
	if ino.IsSymlink() && ino.size == 0 {
		return xerrors.Errorf("inode %d: symlink has zero size: %w", ino.nid, ErrInvalidData)
	}
	if ino.sb.ChunkDict() && ino.IsRegular() {
		return xerrors.Errorf("inode %d: chunk-dict bootstrap carries no regular file content: %w", ino.nid, ErrUnsupported)
	}

	var regionEnd int64
	switch {
	case ino.IsRegular() && ino.IsChunkBased():
		regionEnd = ino.ChunkArrayOffset() + int64(ino.ChunkCount())*chunkAddrSize
	case ino.IsDir():
		regionEnd = ino.offset + ino.inodeSize + ino.xattrSize
	default:
		regionEnd = ino.offset + ino.inodeXattrSize
	}

	if err := ino.m.ValidateRange(ino.offset, regionEnd-ino.offset); err != nil {
		return xerrors.Errorf("inode %d: %w", ino.nid, err)
	}

	if ino.IsDir() {
		if err := ino.validateDotEntries(); err != nil {
			return err
		}
	}

	return nil
}
