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
	"github.com/rafsv6/rafsv6/internal/testutil"
)

func openTestBootstrap(t *testing.T, opts ...rafsv6.Option) (*os.File, *rafsv6.Superblock) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "bootstrap.img")
	require.NoError(t, os.WriteFile(path, testutil.BuildMinimalImage(), 0o644))

	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, f.Close()) })

	sb, err := rafsv6.Load(f, opts...)
	require.NoError(t, err)

	return f, sb
}

func TestLoadAndRootIno(t *testing.T) {
	_, sb := openTestBootstrap(t)
	require.EqualValues(t, testutil.RootNid, sb.RootIno())
}

func TestLoadWithValidateRoot(t *testing.T) {
	_, sb := openTestBootstrap(t, rafsv6.WithValidateRoot())
	require.EqualValues(t, testutil.RootNid, sb.RootIno())
}

func TestGetBlobInfosAndChunkInfo(t *testing.T) {
	_, sb := openTestBootstrap(t)

	blobs := sb.GetBlobInfos()
	require.Len(t, blobs, 1)
	require.Equal(t, "blob0", blobs[0].ID)

	row, err := sb.GetChunkInfo(0)
	require.NoError(t, err)
	require.EqualValues(t, 10, row.UncompressedSize)
}

func TestGetInode(t *testing.T) {
	_, sb := openTestBootstrap(t)

	root, err := sb.GetInode(sb.RootIno())
	require.NoError(t, err)
	require.True(t, root.IsDir())

	_, _, ok := root.Parent()
	require.False(t, ok)
}

func TestGetExtendedInodeRoot(t *testing.T) {
	_, sb := openTestBootstrap(t)

	root, err := sb.GetExtendedInode(sb.RootIno())
	require.NoError(t, err)

	nid, name, ok := root.Parent()
	require.True(t, ok)
	require.EqualValues(t, sb.RootIno(), nid)
	require.Equal(t, "/", name)
}

func TestGetExtendedInodeFile(t *testing.T) {
	_, sb := openTestBootstrap(t)

	root, err := sb.GetExtendedInode(sb.RootIno())
	require.NoError(t, err)

	child, err := root.GetChildByName("file")
	require.NoError(t, err)

	file, err := sb.GetExtendedInode(child.Ino())
	require.NoError(t, err)
	require.False(t, file.IsDir())

	// Regular files carry no on-disk parent back-reference; a cold
	// GetExtendedInode call leaves it unresolved.
	_, _, ok := file.Parent()
	require.False(t, ok)
}

func TestUpdateRepublishesState(t *testing.T) {
	f, sb := openTestBootstrap(t)

	before, err := sb.GetInode(sb.RootIno())
	require.NoError(t, err)
	require.True(t, before.IsDir())

	require.NoError(t, sb.Update(f))

	after, err := sb.GetInode(sb.RootIno())
	require.NoError(t, err)
	require.True(t, after.IsDir())
	require.Equal(t, before.Size(), after.Size())
}

func TestUpdatePreservesTreeHash(t *testing.T) {
	f, sb := openTestBootstrap(t)

	before, err := testutil.HashTree(sb, sb.RootIno())
	require.NoError(t, err)

	require.NoError(t, sb.Update(f))

	after, err := testutil.HashTree(sb, sb.RootIno())
	require.NoError(t, err)

	require.Equal(t, before, after)
}

func TestTimeoutOptions(t *testing.T) {
	_, sb := openTestBootstrap(t)
	require.EqualValues(t, 1000, sb.AttrTimeoutMs())
	require.EqualValues(t, 1000, sb.EntryTimeoutMs())

	_, overridden := openTestBootstrap(t, rafsv6.WithAttrTimeout(50), rafsv6.WithEntryTimeout(75))
	require.EqualValues(t, 50, overridden.AttrTimeoutMs())
	require.EqualValues(t, 75, overridden.EntryTimeoutMs())
}
