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
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"golang.org/x/xerrors"
)

const (
	// SuperBlockMagic identifies a RAFS v6 bootstrap.
	SuperBlockMagic = 0xe0f5e1e2

	// SuperBlockOffset is the fixed byte offset of the superblock.
	SuperBlockOffset = 1024

	// InodeSlotBits is the inode slot size in bit-shift form (32 bytes).
	InodeSlotBits = 5

	// MaxNameLen is the maximum directory entry / xattr name length.
	MaxNameLen = 255

	// MaxChunkSize is the largest permitted chunk size (spec.md §3).
	MaxChunkSize = 16 << 20
)

// Compression algorithm identifiers, stored in SuperBlock.CompressionAlgo.
// Named after the real codecs; this driver only names them (see
// CompressionAlgoString) and does not reject unknown values, since
// decompression itself happens in the blob device, not here.
const (
	CompressionNone = iota
	CompressionLZ4
	CompressionZstd
)

func (sb *SuperBlock) CompressionAlgoString() string {
	switch sb.CompressionAlgo {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// Digest algorithm identifiers, stored in SuperBlock.DigestAlgo.
const (
	DigestSHA256 = iota
	DigestBlake3
)

// Feature flags (SuperBlock.Flags bits).
const (
	FeatureExplicitUidGid = 1 << iota
	FeatureHasXattr
	FeatureChunkDict
)

// SuperBlock represents the on-disk bootstrap superblock. It is decoded
// field-by-field via encoding/binary, little-endian, straight out of the
// mapping -- no unsafe pointer casting, so struct layout need not match Go's
// in-memory alignment.
type SuperBlock struct {
	Magic            uint32
	Checksum         uint32
	FeatureCompat    uint32
	FeatureIncompat  uint32
	BlockSizeBits    uint8
	ChunkSizeBits    uint8
	CompressionAlgo  uint8
	DigestAlgo       uint8
	Flags            uint8
	ExtSlots         uint8
	Reserved0        [2]uint8
	Inodes           uint64
	RootNid          uint64
	MetaBlockAddr    uint32
	XattrBlockAddr   uint32
	Blocks           uint32
	BuildTime        uint64
	BuildTimeNsec    uint32
	AttrTimeoutMs    uint32
	EntryTimeoutMs   uint32
	BlobTableOffset  uint32
	BlobTableSize    uint32
	ChunkTableOffset uint64
	ChunkTableSize   uint64
	UUID             [16]uint8
	VolumeName       [16]uint8
	Reserved1        [24]uint8
}

// Feature flags that this driver knows how to tolerate if set. Any
// incompatible bit outside this set fails to load (mirrors the teacher's
// FeatureIncompatSupported check).
const featureCompatSuperBlockChecksum = 0x00000001

const featureIncompatSupported = 0x0

// BlockSize returns the block size in bytes.
func (sb *SuperBlock) BlockSize() uint32 {
	return 1 << sb.BlockSizeBits
}

// ChunkSize returns the fixed chunk size in bytes.
func (sb *SuperBlock) ChunkSize() uint32 {
	return 1 << sb.ChunkSizeBits
}

// BlockAddrToOffset converts a block address to a byte offset in the image.
func (sb *SuperBlock) BlockAddrToOffset(addr uint32) int64 {
	return int64(addr) << sb.BlockSizeBits
}

// MetaOffset returns the byte offset of the inode metadata region.
func (sb *SuperBlock) MetaOffset() int64 {
	return sb.BlockAddrToOffset(sb.MetaBlockAddr)
}

// NidToOffset converts an inode number to a byte offset in the image.
func (sb *SuperBlock) NidToOffset(nid uint64) int64 {
	return sb.MetaOffset() + (int64(nid) << InodeSlotBits)
}

// HasXattr reports whether the bootstrap carries inline xattrs.
func (sb *SuperBlock) HasXattr() bool {
	return sb.Flags&FeatureHasXattr != 0
}

// ExplicitUidGid reports whether inodes carry explicit uid/gid.
func (sb *SuperBlock) ExplicitUidGid() bool {
	return sb.Flags&FeatureExplicitUidGid != 0
}

// ChunkDict reports whether this is a chunk-dict bootstrap (carries no
// chunk structure on regular files).
func (sb *SuperBlock) ChunkDict() bool {
	return sb.Flags&FeatureChunkDict != 0
}

// ReadSuperBlock decodes and validates the superblock out of m.
func ReadSuperBlock(m *Map) (SuperBlock, error) {
	sb, err := TypedAt[SuperBlock](m, SuperBlockOffset)
	if err != nil {
		return SuperBlock{}, xerrors.Errorf("read superblock: %w", err)
	}

	if sb.Magic != SuperBlockMagic {
		return SuperBlock{}, xerrors.Errorf("bad magic 0x%x: %w", sb.Magic, ErrInvalidData)
	}

	if sb.BlockSizeBits != 12 {
		return SuperBlock{}, xerrors.Errorf("unsupported block size bits %d: %w", sb.BlockSizeBits, ErrIncompatible)
	}

	if sb.ChunkSizeBits == 0 || sb.ChunkSize() > MaxChunkSize {
		return SuperBlock{}, xerrors.Errorf("invalid chunk size bits %d: %w", sb.ChunkSizeBits, ErrInvalidData)
	}

	if featureIncompat := sb.FeatureIncompat &^ uint32(featureIncompatSupported); featureIncompat != 0 {
		return SuperBlock{}, xerrors.Errorf("unsupported incompatible features 0x%x: %w", featureIncompat, ErrIncompatible)
	}

	if err := verifyChecksum(m, sb); err != nil {
		return SuperBlock{}, err
	}

	return sb, nil
}

func verifyChecksum(m *Map, sb SuperBlock) error {
	if sb.FeatureCompat&featureCompatSuperBlockChecksum == 0 {
		return nil
	}

	want := sb.Checksum
	sb.Checksum = 0

	var marshalled bytes.Buffer
	if err := binary.Write(&marshalled, binary.LittleEndian, sb); err != nil {
		return xerrors.Errorf("marshal superblock for checksum: %w", err)
	}

	table := crc32.MakeTable(crc32.Castagnoli)
	checksum := crc32.Checksum(marshalled.Bytes(), table)

	tailOff := int64(SuperBlockOffset) + int64(binary.Size(sb))
	// tail runs to the end of the block that holds the superblock.
	blockEnd := ((tailOff / int64(sb.BlockSize())) + 1) * int64(sb.BlockSize())
	tailLen := blockEnd - tailOff

	tail, err := m.Slice(tailOff, tailLen)
	if err != nil {
		return xerrors.Errorf("read superblock tail: %w", err)
	}
	checksum = ^crc32.Update(checksum, table, tail)

	if checksum != want {
		return xerrors.Errorf("superblock checksum mismatch: got 0x%x, want 0x%x: %w", checksum, want, ErrInvalidData)
	}

	return nil
}
