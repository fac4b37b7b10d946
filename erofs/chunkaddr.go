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
	"golang.org/x/xerrors"
)

// chunkAddrRaw is the 8-byte on-disk chunk-address record: a format word
// packing the blob index in its low 12 bits and the blob-local chunk-info
// index in the remaining bits, followed by a 4-byte block address.
type chunkAddrRaw struct {
	IndexWord uint32
	BlockAddr uint32
}

const chunkAddrSize = 8

const (
	chunkAddrBlobIndexBits = 12
	chunkAddrBlobIndexMask = 1<<chunkAddrBlobIndexBits - 1
)

// ChunkAddr is the decoded form of an on-inode chunk-address record. It
// identifies a chunk logically (which blob, which row in that blob's
// chunk-info table, which block it starts at) but carries none of its
// physical description -- that lives in the chunk-info sidecar table.
type ChunkAddr struct {
	BlobIndex   uint32
	BlobCiIndex uint32
	BlockAddr   uint32
}

func decodeChunkAddr(raw chunkAddrRaw) ChunkAddr {
	return ChunkAddr{
		BlobIndex:   raw.IndexWord & chunkAddrBlobIndexMask,
		BlobCiIndex: raw.IndexWord >> chunkAddrBlobIndexBits,
		BlockAddr:   raw.BlockAddr,
	}
}

// ChunkAddrAt returns the chunk-address record at index idx of this inode's
// on-inode chunk-address array. Precondition: the inode is a chunk-based
// regular file and idx < ChunkCount().
func (ino *Inode) ChunkAddrAt(idx uint32) (ChunkAddr, error) {
	if idx >= ino.ChunkCount() {
		return ChunkAddr{}, xerrors.Errorf("chunk index %d exceeds count %d: %w", idx, ino.ChunkCount(), ErrInvalidArgument)
	}
	off := ino.ChunkArrayOffset() + int64(idx)*chunkAddrSize
	raw, err := TypedAt[chunkAddrRaw](ino.m, off)
	if err != nil {
		return ChunkAddr{}, xerrors.Errorf("inode %d: read chunk address %d: %w", ino.nid, idx, err)
	}
	return decodeChunkAddr(raw), nil
}
