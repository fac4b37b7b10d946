// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package erofs_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rafsv6/rafsv6/erofs"
	"github.com/rafsv6/rafsv6/internal/testutil"
)

func openTestImage(t *testing.T) (*erofs.Map, erofs.SuperBlock) {
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

	return m, sb
}

func TestReadSuperBlock(t *testing.T) {
	_, sb := openTestImage(t)

	require.EqualValues(t, testutil.RootNid, sb.RootNid)
	require.Equal(t, uint32(4096), sb.BlockSize())
	require.Equal(t, uint32(4096), sb.ChunkSize())
	require.False(t, sb.HasXattr())
	require.False(t, sb.ChunkDict())
}

func TestRootDirectory(t *testing.T) {
	m, sb := openTestImage(t)

	root, err := erofs.ReadInode(m, &sb, testutil.RootNid)
	require.NoError(t, err)
	require.NoError(t, root.Validate(uint64(1<<56-2), "/"))

	require.True(t, root.IsDir())
	require.EqualValues(t, 2, root.Nlink())

	var names []string
	err = root.IterDirents(func(name string, d erofs.Dirent) (erofs.DirWalkDecision, error) {
		names = append(names, name)
		return erofs.DirContinue, nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{".", "..", "file"}, names)

	count, err := root.GetChildCount()
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	nid, fileType, err := root.GetChildByName("file")
	require.NoError(t, err)
	require.EqualValues(t, testutil.FileNid, nid)
	require.EqualValues(t, erofs.FT_REG_FILE, fileType)

	_, _, err = root.GetChildByName("missing")
	require.ErrorIs(t, err, erofs.ErrNotFound)

	nid, _, err = root.GetChildByIndex(0)
	require.NoError(t, err)
	require.EqualValues(t, testutil.FileNid, nid)
}

func TestFileInode(t *testing.T) {
	m, sb := openTestImage(t)

	file, err := erofs.ReadInode(m, &sb, testutil.FileNid)
	require.NoError(t, err)
	require.NoError(t, file.Validate(uint64(1<<56-2), "file"))

	require.True(t, file.IsRegular())
	require.True(t, file.IsChunkBased())
	require.EqualValues(t, testutil.FileSize, file.Size())
	require.EqualValues(t, 1, file.ChunkCount())

	require.True(t, file.HasXattr())

	names, err := file.ListXattrs()
	require.NoError(t, err)
	require.Equal(t, []string{testutil.FileXattrNS}, names)

	value, err := file.GetXattr(testutil.FileXattrNS)
	require.NoError(t, err)
	require.Equal(t, testutil.FileXattrV, string(value))

	_, err = file.GetXattr("user.nope")
	require.ErrorIs(t, err, erofs.ErrNotFound)

	addr, err := file.ChunkAddrAt(0)
	require.NoError(t, err)
	require.EqualValues(t, 0, addr.BlobIndex)
	require.EqualValues(t, 0, addr.BlobCiIndex)
	require.EqualValues(t, 0, addr.BlockAddr)

	_, err = file.ChunkAddrAt(1)
	require.Error(t, err)
}

func TestReaddirResume(t *testing.T) {
	m, sb := openTestImage(t)

	root, err := erofs.ReadInode(m, &sb, testutil.RootNid)
	require.NoError(t, err)

	var firstTwo []string
	offset, err := root.Readdir(0, func(name string, d erofs.Dirent) (erofs.DirWalkDecision, error) {
		firstTwo = append(firstTwo, name)
		if len(firstTwo) == 2 {
			return erofs.DirBreak, nil
		}
		return erofs.DirContinue, nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{".", ".."}, firstTwo)

	var rest []string
	_, err = root.Readdir(offset, func(name string, d erofs.Dirent) (erofs.DirWalkDecision, error) {
		rest = append(rest, name)
		return erofs.DirContinue, nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"file"}, rest)
}
