// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package blobtable_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rafsv6/rafsv6/blobtable"
	"github.com/rafsv6/rafsv6/erofs"
	"github.com/rafsv6/rafsv6/internal/testutil"
)

func TestLoad(t *testing.T) {
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

	table, err := blobtable.Load(f, int64(sb.BlobTableOffset), sb.BlobTableSize)
	require.NoError(t, err)

	all := table.All()
	require.Len(t, all, 1)
	require.Equal(t, "blob0", all[0].ID)
	require.EqualValues(t, 0, all[0].Index)
	require.EqualValues(t, 4096, all[0].ChunkSize)
	require.EqualValues(t, 10, all[0].UncompressedSize)

	got, err := table.Get(0)
	require.NoError(t, err)
	require.Equal(t, all[0], got)

	_, err = table.Get(1)
	require.ErrorIs(t, err, erofs.ErrNotFound)
}

func TestLoadRejectsMisalignedSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bootstrap.img")
	require.NoError(t, os.WriteFile(path, testutil.BuildMinimalImage(), 0o644))

	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, f.Close()) })

	// Truncate the table mid-entry: the header read will fail before the
	// loop's size bound is reached.
	_, err = blobtable.Load(f, 12288, 4)
	require.ErrorIs(t, err, erofs.ErrInvalidData)
}
