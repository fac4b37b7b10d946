// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package rafsv6_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	rafsv6 "github.com/rafsv6/rafsv6"
	"github.com/rafsv6/rafsv6/chunk"
	"github.com/rafsv6/rafsv6/erofs"
	"github.com/rafsv6/rafsv6/internal/testutil"
)

func loadHandle(t *testing.T) (*rafsv6.Superblock, *rafsv6.Handle) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "bootstrap.img")
	require.NoError(t, os.WriteFile(path, testutil.BuildMinimalImage(), 0o644))

	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, f.Close()) })

	sb, err := rafsv6.Load(f)
	require.NoError(t, err)

	root, err := sb.GetInode(sb.RootIno())
	require.NoError(t, err)

	return sb, root
}

func TestHandleGetAttrAndEntry(t *testing.T) {
	_, root := loadHandle(t)

	attr := root.GetAttr()
	require.EqualValues(t, testutil.RootNid, attr.Ino)
	require.EqualValues(t, 2, attr.Nlink)
	require.True(t, attr.Mode.IsDir())

	entry, err := root.GetEntry()
	require.NoError(t, err)
	require.Equal(t, uint8(erofs.FT_DIR), entry.FileType)
}

func TestHandleWalkChildrenIncludesDotEntries(t *testing.T) {
	_, root := loadHandle(t)

	var names []string
	offset, err := root.WalkChildren(0, func(name string, child *rafsv6.Handle) (erofs.DirWalkDecision, error) {
		names = append(names, name)
		return erofs.DirContinue, nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{".", "..", "file"}, names)
	require.EqualValues(t, 3, offset)
}

func TestHandleWalkChildrenFabricatesParent(t *testing.T) {
	_, root := loadHandle(t)

	var file *rafsv6.Handle
	_, err := root.WalkChildren(0, func(name string, child *rafsv6.Handle) (erofs.DirWalkDecision, error) {
		if name == "file" {
			file = child
			return erofs.DirBreak, nil
		}
		return erofs.DirContinue, nil
	})
	require.NoError(t, err)
	require.NotNil(t, file)

	parentNid, name, ok := file.Parent()
	require.True(t, ok)
	require.EqualValues(t, testutil.RootNid, parentNid)
	require.Equal(t, "file", name)
}

func TestHandleGetChildByNameAndIndex(t *testing.T) {
	_, root := loadHandle(t)

	byName, err := root.GetChildByName("file")
	require.NoError(t, err)
	require.True(t, byName.IsRegular())

	_, err = root.GetChildByName("missing")
	require.ErrorIs(t, err, erofs.ErrNotFound)

	byIndex, err := root.GetChildByIndex(0)
	require.NoError(t, err)
	require.Equal(t, byName.Ino(), byIndex.Ino())

	count, err := root.GetChildCount()
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestHandleXattrs(t *testing.T) {
	_, root := loadHandle(t)

	file, err := root.GetChildByName("file")
	require.NoError(t, err)

	require.True(t, file.HasXattr())

	names, err := file.ListXattrs()
	require.NoError(t, err)
	require.Equal(t, []string{testutil.FileXattrNS}, names)

	value, err := file.GetXattr(testutil.FileXattrNS)
	require.NoError(t, err)
	require.Equal(t, testutil.FileXattrV, string(value))
}

func TestHandleChunkCountAndInfo(t *testing.T) {
	_, root := loadHandle(t)

	file, err := root.GetChildByName("file")
	require.NoError(t, err)

	count, err := file.GetChunkCount()
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	info, err := file.GetChunkInfo(0)
	require.NoError(t, err)
	require.EqualValues(t, 10, info.UncompressedSize)

	_, err = root.GetChunkCount()
	require.ErrorIs(t, err, erofs.ErrInvalidArgument)
}

type recordingDevice struct {
	calls [][2]uint32
}

func (d *recordingDevice) CreateIoChunk(blobIndex, blobCiIndex uint32) (chunk.IoChunk, error) {
	d.calls = append(d.calls, [2]uint32{blobIndex, blobCiIndex})
	return blobIndex, nil
}

func TestHandleAllocIO(t *testing.T) {
	_, root := loadHandle(t)

	file, err := root.GetChildByName("file")
	require.NoError(t, err)

	device := &recordingDevice{}
	vecs, err := file.AllocIO(device, 0, testutil.FileSize, nil)
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	require.EqualValues(t, testutil.FileSize, vecs[0].Descriptors[0].ContentLen)
	require.Len(t, device.calls, 1)

	_, err = root.AllocIO(device, 0, 1, nil)
	require.ErrorIs(t, err, erofs.ErrInvalidArgument)
}
