// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package rafsv6

import (
	"os"
	"runtime"

	"golang.org/x/xerrors"

	"github.com/rafsv6/rafsv6/blobtable"
	"github.com/rafsv6/rafsv6/chunk"
	"github.com/rafsv6/rafsv6/erofs"
)

// metaAlignment is the minimum distance a blob table must keep from both
// ends of the bootstrap file (spec.md §4.G: "validate meta.blob_table_range
// ⊂ [4096, len − 4096)").
const metaAlignment = 4096

// state is one immutable snapshot of everything a read needs: the mapping,
// the parsed blob table, the chunk-info table, and the superblock that
// describes how they fit together. A Superblock publishes a new state with
// a single atomic store; readers snapshot the pointer once per operation
// and never observe a torn mix of old and new components.
type state struct {
	m      *erofs.Map
	sb     erofs.SuperBlock
	blobs  *blobtable.Table
	chunks *chunk.Table
}

// buildState maps f, validates and loads the superblock, and parses the
// blob and chunk tables, returning a fully formed (but not yet published)
// state.
func buildState(f *os.File) (*state, error) {
	m, err := erofs.MapFile(f)
	if err != nil {
		return nil, xerrors.Errorf("map bootstrap: %w", err)
	}

	// Finalize the mapping's unmap once nothing reachable still references
	// it. This is what lets a hot-swapped-out state release its mapping
	// exactly when the last reader snapshot holding it drops, without
	// manual reference counting.
	runtime.SetFinalizer(m, func(m *erofs.Map) { _ = m.Close() })

	sb, err := erofs.ReadSuperBlock(m)
	if err != nil {
		return nil, xerrors.Errorf("load superblock: %w", err)
	}

	blobRangeEnd := int64(sb.BlobTableOffset) + int64(sb.BlobTableSize)
	if int64(sb.BlobTableOffset) < metaAlignment || blobRangeEnd > m.Len()-metaAlignment {
		return nil, xerrors.Errorf("blob table range [%d, %d) not contained in [%d, %d): %w",
			sb.BlobTableOffset, blobRangeEnd, metaAlignment, m.Len()-metaAlignment, erofs.ErrInvalidData)
	}

	blobs, err := blobtable.Load(f, int64(sb.BlobTableOffset), sb.BlobTableSize)
	if err != nil {
		return nil, xerrors.Errorf("load blob table: %w", err)
	}

	chunks, err := chunk.Load(f, int64(sb.ChunkTableOffset), sb.ChunkTableSize, sb.BlockSize())
	if err != nil {
		return nil, xerrors.Errorf("load chunk table: %w", err)
	}

	return &state{m: m, sb: sb, blobs: blobs, chunks: chunks}, nil
}
