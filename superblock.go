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
	"sync/atomic"

	"golang.org/x/xerrors"

	"github.com/rafsv6/rafsv6/blobtable"
	"github.com/rafsv6/rafsv6/chunk"
	"github.com/rafsv6/rafsv6/erofs"
)

// MaxIno is the largest inode number this driver will hand a handle for.
const MaxIno = 1<<56 - 2

// Superblock is the top-level driver: it owns the current state tuple and
// serves the public inode/blob/chunk APIs against whichever snapshot is
// current at the time of the call. The zero value is not usable; construct
// one with Load.
type Superblock struct {
	current atomic.Pointer[state]

	attrTimeoutMsOverride  *uint32
	entryTimeoutMsOverride *uint32
}

// Load maps f, validates its superblock, parses the blob and chunk tables,
// and publishes the resulting state. f's lifetime is owned by the caller;
// Superblock never closes it.
func Load(f *os.File, opts ...Option) (*Superblock, error) {
	st, err := buildState(f)
	if err != nil {
		return nil, err
	}
	sb := &Superblock{}
	sb.current.Store(st)
	if err := applyOptions(sb, opts); err != nil {
		return nil, err
	}
	return sb, nil
}

// Update re-parses f (expected to be a new bootstrap, or the same one
// after an in-place rebuild) and publishes it in place of the current
// state with a single atomic store. Handles obtained before the call keep
// referencing the snapshot they were built from; they are unaffected.
func (sb *Superblock) Update(f *os.File, opts ...Option) error {
	st, err := buildState(f)
	if err != nil {
		return err
	}
	sb.current.Store(st)
	return applyOptions(sb, opts)
}

// snapshot returns the currently published state.
func (sb *Superblock) snapshot() *state {
	st := sb.current.Load()
	if st == nil {
		panic("rafsv6: Superblock used before Load")
	}
	return st
}

// RootIno returns the inode number of the bootstrap's root directory.
func (sb *Superblock) RootIno() uint64 {
	return sb.snapshot().sb.RootNid
}

// GetBlobInfos returns every blob descriptor referenced by this bootstrap.
func (sb *Superblock) GetBlobInfos() []blobtable.BlobInfo {
	return sb.snapshot().blobs.All()
}

// GetChunkInfo resolves sidecar row sidecarIndex to its full physical
// description.
func (sb *Superblock) GetChunkInfo(sidecarIndex uint32) (chunk.InfoRow, error) {
	return sb.snapshot().chunks.Row(sidecarIndex)
}

// GetInode materializes a handle for nid without resolving its parent or
// name.
func (sb *Superblock) GetInode(nid uint64) (*Handle, error) {
	st := sb.snapshot()
	return newHandle(st, nid, "", 0, false)
}

// GetExtendedInode materializes a handle for nid and additionally resolves
// its parent nid and name. For a directory this is cheap (the parent nid
// is its own ".." entry; the name is found by walking the parent's
// children). For a non-directory inode reached cold (not via traversal),
// the on-disk format carries no parent back-reference, so parent/name are
// left unresolved -- callers that need them for arbitrary files should
// reach the inode via WalkChildren instead.
func (sb *Superblock) GetExtendedInode(nid uint64) (*Handle, error) {
	st := sb.snapshot()

	h, err := newHandle(st, nid, "", 0, false)
	if err != nil {
		return nil, err
	}

	if nid == st.sb.RootNid {
		h.setParent(nid, "/")
		return h, nil
	}

	if !h.IsDir() {
		return h, nil
	}

	dotdot, _, err := h.ino.GetChildByName("..")
	if err != nil {
		return nil, xerrors.Errorf("resolve parent of inode %d: %w", nid, err)
	}

	parent, err := erofs.ReadInode(st.m, &st.sb, dotdot)
	if err != nil {
		return nil, xerrors.Errorf("read parent inode %d: %w", dotdot, err)
	}

	var name string
	err = (&parent).IterDirents(func(childName string, d erofs.Dirent) (erofs.DirWalkDecision, error) {
		if d.Nid == nid {
			name = childName
			return erofs.DirBreak, nil
		}
		return erofs.DirContinue, nil
	})
	if err != nil {
		return nil, xerrors.Errorf("resolve name of inode %d: %w", nid, err)
	}
	if name == "" {
		return nil, xerrors.Errorf("inode %d not found among parent %d's children: %w", nid, dotdot, erofs.ErrInvalidData)
	}

	h.setParent(dotdot, name)
	return h, nil
}
