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
	"io/fs"

	"golang.org/x/xerrors"

	"github.com/rafsv6/rafsv6/chunk"
	"github.com/rafsv6/rafsv6/erofs"
)

// Attr is the POSIX-ish attribute set returned by GetAttr.
type Attr struct {
	Ino   uint64
	Mode  fs.FileMode
	Size  uint64
	Nlink uint32
	UID   uint32
	GID   uint32
	Rdev  uint32
	Mtime uint64
	MtimeNsec uint32
}

// Entry names a directory entry the way a front-end needs to answer a
// lookup: the child's inode number, its own attributes, and the file type
// bits already carried by the dirent (cheaper than decoding Mode for
// callers that only need the type).
type Entry struct {
	Nid      uint64
	FileType uint8
	Attr     Attr
}

// Handle is a thin per-inode view into a state snapshot: an inode's byte
// offset, its superblock, and optionally its parent nid and name (which
// on-disk regular files never store, so they are backfilled by whoever
// constructed this handle -- GetExtendedInode via a directory walk, or
// WalkChildren fabricating a child handle).
type Handle struct {
	st  *state
	ino erofs.Inode

	hasParent bool
	parentNid uint64
	name      string
}

func newHandle(st *state, nid uint64, name string, parentNid uint64, hasParent bool) (*Handle, error) {
	ino, err := erofs.ReadInode(st.m, &st.sb, nid)
	if err != nil {
		return nil, xerrors.Errorf("get inode %d: %w", nid, err)
	}
	return &Handle{st: st, ino: ino, hasParent: hasParent, parentNid: parentNid, name: name}, nil
}

// setParent idempotently fills in the cached parent nid and name. Later
// calls are no-ops once the cache is populated, matching the one-shot
// setter semantics of a handle's mutable fields.
func (h *Handle) setParent(parentNid uint64, name string) {
	if h.hasParent {
		return
	}
	h.hasParent = true
	h.parentNid = parentNid
	h.name = name
}

// Parent returns the cached parent nid and this inode's own name within
// that parent, if known.
func (h *Handle) Parent() (nid uint64, name string, ok bool) {
	return h.parentNid, h.name, h.hasParent
}

// Validate checks this handle's structural invariants against the
// superblock's max inode number.
func (h *Handle) Validate() error {
	return h.ino.Validate(MaxIno, h.name)
}

func (h *Handle) Ino() uint64    { return h.ino.Nid() }
func (h *Handle) Rdev() uint32   { return h.ino.Rdev() }
func (h *Handle) Size() uint64   { return h.ino.Size() }
func (h *Handle) Mode() fs.FileMode { return h.ino.Mode() }

func (h *Handle) IsDir() bool      { return h.ino.IsDir() }
func (h *Handle) IsRegular() bool  { return h.ino.IsRegular() }
func (h *Handle) IsSymlink() bool  { return h.ino.IsSymlink() }
func (h *Handle) IsHardlink() bool { return h.ino.Nlink() > 1 && !h.ino.IsDir() }

// GetAttr returns this inode's POSIX-ish attributes.
func (h *Handle) GetAttr() Attr {
	return Attr{
		Ino:       h.ino.Nid(),
		Mode:      h.ino.Mode(),
		Size:      h.ino.Size(),
		Nlink:     h.ino.Nlink(),
		UID:       h.ino.UID(),
		GID:       h.ino.GID(),
		Rdev:      h.ino.Rdev(),
		Mtime:     h.ino.Mtime(),
		MtimeNsec: h.ino.MtimeNsec(),
	}
}

// GetEntry returns the directory-entry view of this handle, as it would
// appear in its parent's directory listing.
func (h *Handle) GetEntry() (Entry, error) {
	fileType, err := direntFileType(&h.ino)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Nid: h.ino.Nid(), FileType: fileType, Attr: h.GetAttr()}, nil
}

func direntFileType(ino *erofs.Inode) (uint8, error) {
	switch {
	case ino.IsRegular():
		return erofs.FT_REG_FILE, nil
	case ino.IsDir():
		return erofs.FT_DIR, nil
	case ino.IsSymlink():
		return erofs.FT_SYMLINK, nil
	case ino.IsCharDev():
		return erofs.FT_CHRDEV, nil
	case ino.IsBlockDev():
		return erofs.FT_BLKDEV, nil
	case ino.IsFIFO():
		return erofs.FT_FIFO, nil
	case ino.IsSocket():
		return erofs.FT_SOCK, nil
	default:
		return erofs.FT_UNKNOWN, xerrors.Errorf("inode %d: unrecognized mode: %w", ino.Nid(), erofs.ErrInvalidData)
	}
}

// GetSymlink returns the symlink target.
func (h *Handle) GetSymlink() (string, error) {
	return h.ino.Readlink()
}

func (h *Handle) HasXattr() bool { return h.ino.HasXattr() }

func (h *Handle) GetXattr(name string) ([]byte, error) { return h.ino.GetXattr(name) }

func (h *Handle) ListXattrs() ([]string, error) { return h.ino.ListXattrs() }

// ChildHandler is invoked once per entry during WalkChildren. Unlike the
// erofs-level iterator this already carries a fabricated child Handle with
// its parent backfilled, since that's the shape a front-end wants when
// materializing children during a readdir.
type ChildHandler func(name string, child *Handle) (erofs.DirWalkDecision, error)

// WalkChildren enumerates this directory's entries starting after the
// first `offset` entries (including "." and ".." -- they are ordinary
// entries of the first block), fabricating a child Handle with its parent
// already set for each. It returns the offset to resume from.
func (h *Handle) WalkChildren(offset uint32, handler ChildHandler) (uint32, error) {
	if !h.IsDir() {
		return offset, erofs.ErrNotDirectory
	}
	return h.ino.Readdir(offset, func(name string, d erofs.Dirent) (erofs.DirWalkDecision, error) {
		child, err := newHandle(h.st, d.Nid, name, h.ino.Nid(), true)
		if err != nil {
			return erofs.DirBreak, err
		}
		return handler(name, child)
	})
}

// GetChildByName looks up name and fabricates a Handle for it with its
// parent already set.
func (h *Handle) GetChildByName(name string) (*Handle, error) {
	if !h.IsDir() {
		return nil, erofs.ErrNotDirectory
	}
	nid, _, err := h.ino.GetChildByName(name)
	if err != nil {
		return nil, err
	}
	return newHandle(h.st, nid, name, h.ino.Nid(), true)
}

// GetChildByIndex enumerates to the idx-th child (0-based, excluding "."
// and "..") and fabricates a Handle for it.
func (h *Handle) GetChildByIndex(idx uint32) (*Handle, error) {
	if !h.IsDir() {
		return nil, erofs.ErrNotDirectory
	}
	nid, _, err := h.ino.GetChildByIndex(idx)
	if err != nil {
		return nil, err
	}
	return newHandle(h.st, nid, "", h.ino.Nid(), true)
}

// GetChildCount returns the number of entries in this directory, excluding
// "." and "..".
func (h *Handle) GetChildCount() (uint32, error) {
	if !h.IsDir() {
		return 0, erofs.ErrNotDirectory
	}
	return h.ino.GetChildCount()
}

// GetChunkCount returns the number of chunk-address records on this
// regular file.
func (h *Handle) GetChunkCount() (uint32, error) {
	if !h.IsRegular() || !h.ino.IsChunkBased() {
		return 0, erofs.ErrInvalidArgument
	}
	return h.ino.ChunkCount(), nil
}

// GetChunkInfo resolves chunk index idx of this file to its sidecar
// description.
func (h *Handle) GetChunkInfo(idx uint32) (chunk.InfoRow, error) {
	if !h.IsRegular() || !h.ino.IsChunkBased() {
		return chunk.InfoRow{}, erofs.ErrInvalidArgument
	}
	resolver := chunk.NewResolver(h.st.chunks, nil)
	return resolver.GetChunkInfo(&h.ino, idx)
}

// AllocIO translates the byte range [offset, offset+length) of this file's
// content into a sequence of per-blob I/O vectors, resolving each chunk
// address to a backend handle through device.
func (h *Handle) AllocIO(device chunk.BlobDevice, offset, length uint64, userIO any) ([]chunk.IoVec, error) {
	if !h.IsRegular() || !h.ino.IsChunkBased() {
		return nil, erofs.ErrInvalidArgument
	}
	resolver := chunk.NewResolver(h.st.chunks, device)
	return resolver.AllocIO(&h.ino, h.st.sb.ChunkSize(), offset, length, userIO)
}
