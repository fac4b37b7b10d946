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
	"fmt"
	"io"
	"sort"

	"github.com/rogpeppe/go-internal/dirhash"

	"github.com/rafsv6/rafsv6"
	"github.com/rafsv6/rafsv6/erofs"
)

// HashTree walks the directory tree rooted at rootNid and returns a
// dirhash.Hash1 digest over every entry's path plus its attributes. This
// driver never resolves chunk bytes into file content on its own (that is
// the blob device's job), so unlike the teacher's HashFS -- which hashes
// an fs.FS's file bytes -- this hashes the metadata tree: two snapshots
// hash equal exactly when their directory structure, inode numbers, modes,
// sizes, and link counts are identical.
func HashTree(sb *rafsv6.Superblock, rootNid uint64) (string, error) {
	var paths []string
	contents := map[string][]byte{}

	var walk func(nid uint64, prefix string) error
	walk = func(nid uint64, prefix string) error {
		h, err := sb.GetInode(nid)
		if err != nil {
			return err
		}
		if !h.IsDir() {
			return nil
		}

		var walkErr error
		_, err = h.WalkChildren(0, func(name string, child *rafsv6.Handle) (erofs.DirWalkDecision, error) {
			if name == "." || name == ".." {
				return erofs.DirContinue, nil
			}

			path := prefix + "/" + name
			attr := child.GetAttr()
			paths = append(paths, path)
			contents[path] = []byte(fmt.Sprintf("%d %s %d %d", attr.Ino, attr.Mode, attr.Size, attr.Nlink))

			if child.IsDir() {
				if err := walk(attr.Ino, path); err != nil {
					walkErr = err
					return erofs.DirBreak, nil
				}
			}
			return erofs.DirContinue, nil
		})
		if err != nil {
			return err
		}
		return walkErr
	}

	if err := walk(rootNid, ""); err != nil {
		return "", err
	}

	sort.Strings(paths)

	return dirhash.Hash1(paths, func(name string) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(contents[name])), nil
	})
}
