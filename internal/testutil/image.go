// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package testutil

import (
	"bytes"
	"encoding/binary"

	"github.com/rafsv6/rafsv6/chunk"
	"github.com/rafsv6/rafsv6/erofs"
)

// Layout constants for BuildMinimalImage's synthetic bootstrap. Exported so
// tests that assert on specific nids/offsets don't have to guess them.
const (
	RootNid = 0
	FileNid = 1

	FileSize    = 10
	FileXattrNS = "user.foo"
	FileXattrV  = "bar"
)

const (
	metaBlockOffset  = 4096
	dirBlockOffset   = 8192
	blobTableOffset  = 12288
	chunkTableOffset = 16384
	imageSize        = 20480

	rootInodeOffset = metaBlockOffset
	fileInodeOffset = metaBlockOffset + 32
)

// blobTableEntryHeader mirrors blobtable's unexported on-disk entry
// header: same field order and sizes, so a binary.Write of this type
// produces bytes blobtable.Load can parse.
type blobTableEntryHeader struct {
	IDLen            uint16
	CompressionAlgo  uint8
	DigestAlgo       uint8
	Features         uint32
	ChunkSize        uint32
	CompressedSize   uint64
	UncompressedSize uint64
}

// xattrHeader/xattrEntry mirror erofs's unexported inline xattr records.
type xattrHeader struct {
	SharedCount uint8
	Reserved    [7]uint8
}

type xattrEntry struct {
	NameIndex uint8
	NameLen   uint8
	ValueSize uint16
}

// chunkAddr mirrors erofs's unexported on-inode chunk address record.
type chunkAddr struct {
	IndexWord uint32
	BlockAddr uint32
}

func put(buf []byte, off int, v any) {
	var b bytes.Buffer
	if err := binary.Write(&b, binary.LittleEndian, v); err != nil {
		panic(err)
	}
	copy(buf[off:], b.Bytes())
}

// BuildMinimalImage returns the bytes of a synthetic RAFS v6 bootstrap: a
// root directory containing "." and ".." and a single chunk-based regular
// file "file" (nid FileNid, size FileSize, one chunk in blob index 0,
// carrying one inline xattr "user.foo"="bar"). It exercises the full
// superblock → inode → dirent → xattr → chunk-address → blob/chunk table
// chain with the minimum structure needed to do so.
func BuildMinimalImage() []byte {
	buf := make([]byte, imageSize)

	sb := erofs.SuperBlock{
		Magic:            erofs.SuperBlockMagic,
		BlockSizeBits:    12,
		ChunkSizeBits:    12,
		Inodes:           2,
		RootNid:          RootNid,
		MetaBlockAddr:    1,
		Blocks:           imageSize / 4096,
		AttrTimeoutMs:    1000,
		EntryTimeoutMs:   1000,
		BlobTableOffset:  blobTableOffset,
		BlobTableSize:    33,
		ChunkTableOffset: chunkTableOffset,
		ChunkTableSize:   76,
	}
	put(buf, erofs.SuperBlockOffset, sb)

	// Root directory inode: compact, flat-plain, content in block 2.
	rootFormat := uint16(erofs.InodeDataLayoutFlatPlain)<<erofs.InodeDataLayoutBit | erofs.InodeLayoutCompact
	put(buf, rootInodeOffset, erofs.InodeCompact{
		Format: rootFormat,
		Mode:   erofs.S_IFDIR | 0o755,
		Nlink:  2,
		Size:   43,
		Union:  2, // data block index
	})

	// Regular file inode: compact, chunk-based, one inline xattr.
	fileFormat := uint16(erofs.InodeDataLayoutChunkBased)<<erofs.InodeDataLayoutBit | erofs.InodeLayoutCompact
	put(buf, fileInodeOffset, erofs.InodeCompact{
		Format:     fileFormat,
		XattrCount: 2,
		Mode:       erofs.S_IFREG | 0o644,
		Nlink:      1,
		Size:       FileSize,
	})

	// Inline xattr: header + one entry ("user.foo" = "bar").
	xattrOff := fileInodeOffset + 32
	put(buf, xattrOff, xattrHeader{})
	put(buf, xattrOff+8, xattrEntry{NameIndex: 1 /* user */, NameLen: 3, ValueSize: uint16(len(FileXattrV))})
	copy(buf[xattrOff+12:], "foo")
	copy(buf[xattrOff+15:], FileXattrV)

	// Chunk address array: one record, blob 0, sidecar row 0, block 0.
	put(buf, fileInodeOffset+56, chunkAddr{IndexWord: 0, BlockAddr: 0})

	// Root directory content block: ".", "..", "file".
	put(buf, dirBlockOffset+0, erofs.Dirent{Nid: RootNid, NameOff: 36, FileType: erofs.FT_DIR})
	put(buf, dirBlockOffset+12, erofs.Dirent{Nid: RootNid, NameOff: 37, FileType: erofs.FT_DIR})
	put(buf, dirBlockOffset+24, erofs.Dirent{Nid: FileNid, NameOff: 39, FileType: erofs.FT_REG_FILE})
	copy(buf[dirBlockOffset+36:], ".")
	copy(buf[dirBlockOffset+37:], "..")
	copy(buf[dirBlockOffset+39:], "file")

	// Blob table: one blob, id "blob0".
	put(buf, blobTableOffset, blobTableEntryHeader{
		IDLen:            5,
		ChunkSize:        4096,
		CompressedSize:   FileSize,
		UncompressedSize: FileSize,
	})
	copy(buf[blobTableOffset+28:], "blob0")

	// Chunk table: one sidecar row describing that single chunk.
	put(buf, chunkTableOffset, chunk.InfoRow{
		BlobIndex:        0,
		CompressedSize:   FileSize,
		UncompressedSize: FileSize,
	})

	return buf
}
