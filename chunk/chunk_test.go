// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package chunk_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rafsv6/rafsv6/chunk"
	"github.com/rafsv6/rafsv6/erofs"
	"github.com/rafsv6/rafsv6/internal/testutil"
)

func openTestTable(t *testing.T) (*erofs.Map, erofs.SuperBlock, *chunk.Table) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "bootstrap.img")
	require.NoError(t, os.WriteFile(path, testutil.BuildMinimalImage(), 0o644))

	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, f.Close()) })

	m, err := erofs.MapFile(f)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, m.Close()) })

	sb, err := erofs.ReadSuperBlock(m)
	require.NoError(t, err)

	table, err := chunk.Load(f, int64(sb.ChunkTableOffset), sb.ChunkTableSize, sb.BlockSize())
	require.NoError(t, err)

	return m, sb, table
}

func TestRowAndLookup(t *testing.T) {
	_, _, table := openTestTable(t)

	require.EqualValues(t, 1, table.RowCount())

	row, err := table.Row(0)
	require.NoError(t, err)
	require.EqualValues(t, 0, row.BlobIndex)
	require.EqualValues(t, 10, row.UncompressedSize)

	got, err := table.Lookup(erofs.ChunkAddr{BlobIndex: 0, BlobCiIndex: 0, BlockAddr: 0})
	require.NoError(t, err)
	require.Equal(t, row, got)

	_, err = table.Lookup(erofs.ChunkAddr{BlobIndex: 1, BlobCiIndex: 0, BlockAddr: 0})
	require.ErrorIs(t, err, erofs.ErrNotFound)
}

func TestLoadRejectsMisalignedSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bootstrap.img")
	require.NoError(t, os.WriteFile(path, testutil.BuildMinimalImage(), 0o644))

	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, f.Close()) })

	_, err = chunk.Load(f, 16384, 75, 4096)
	require.ErrorIs(t, err, erofs.ErrInvalidData)
}

type stubDevice struct {
	calls [][2]uint32
	err   error
}

func (d *stubDevice) CreateIoChunk(blobIndex, blobCiIndex uint32) (chunk.IoChunk, error) {
	d.calls = append(d.calls, [2]uint32{blobIndex, blobCiIndex})
	if d.err != nil {
		return nil, d.err
	}
	return blobIndex, nil
}

func TestAllocIOSingleChunk(t *testing.T) {
	m, sb, table := openTestTable(t)

	file, err := erofs.ReadInode(m, &sb, testutil.FileNid)
	require.NoError(t, err)

	device := &stubDevice{}
	resolver := chunk.NewResolver(table, device)

	vecs, err := resolver.AllocIO(&file, sb.ChunkSize(), 2, 5, "user-io")
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	require.EqualValues(t, 0, vecs[0].BlobIndex)
	require.Len(t, vecs[0].Descriptors, 1)

	desc := vecs[0].Descriptors[0]
	require.EqualValues(t, 2, desc.ContentOffset)
	require.EqualValues(t, 5, desc.ContentLen)
	require.Equal(t, "user-io", desc.UserIO)

	require.Len(t, device.calls, 1)
	require.Equal(t, [2]uint32{0, 0}, device.calls[0])
}

func TestAllocIODeviceFailure(t *testing.T) {
	m, sb, table := openTestTable(t)

	file, err := erofs.ReadInode(m, &sb, testutil.FileNid)
	require.NoError(t, err)

	device := &stubDevice{err: errors.New("backend unavailable")}
	resolver := chunk.NewResolver(table, device)

	_, err = resolver.AllocIO(&file, sb.ChunkSize(), 0, 1, nil)
	require.ErrorIs(t, err, erofs.ErrInvalidData)
}

func TestGetChunkInfo(t *testing.T) {
	m, sb, table := openTestTable(t)

	file, err := erofs.ReadInode(m, &sb, testutil.FileNid)
	require.NoError(t, err)

	resolver := chunk.NewResolver(table, nil)
	info, err := resolver.GetChunkInfo(&file, 0)
	require.NoError(t, err)
	require.EqualValues(t, 10, info.UncompressedSize)

	_, err = resolver.GetChunkInfo(&file, 1)
	require.Error(t, err)
}
