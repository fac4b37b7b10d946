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
	"bytes"

	"golang.org/x/xerrors"
)

// Dirent represents an on-disk directory entry.
type Dirent struct {
	Nid      uint64
	NameOff  uint16
	FileType uint8
	Reserved uint8
}

const DirentSize = 12

// DirWalkDecision tells IterDirents/Readdir whether to keep going.
type DirWalkDecision int

const (
	DirContinue DirWalkDecision = iota
	DirBreak
)

func (ino *Inode) direntAt(off int64) (Dirent, error) {
	if off&3 != 0 {
		return Dirent{}, xerrors.Errorf("inode %d: dirent misaligned at offset %d: %w", ino.nid, off, ErrInvalidData)
	}
	buf, err := ino.m.Slice(off, DirentSize)
	if err != nil {
		return Dirent{}, xerrors.Errorf("inode %d: read dirent at %d: %w", ino.nid, off, err)
	}
	return Dirent{
		Nid:      leUint64(buf[0:8]),
		NameOff:  leUint16(buf[8:10]),
		FileType: buf[10],
		Reserved: buf[11],
	}, nil
}

func leUint16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// getDirentName resolves the name of dirent d, which sits at direntOff
// within block. lastDirent indicates d is the final entry of its block
// (enabling the NUL-trim rule for tail-padding).
func (ino *Inode) getDirentName(d Dirent, direntOff int64, block blockData, lastDirent bool) ([]byte, error) {
	var nameLen uint32
	if lastDirent {
		nameLen = block.size - uint32(d.NameOff)
	} else {
		next, err := ino.direntAt(direntOff + DirentSize)
		if err != nil {
			return nil, err
		}
		nameLen = uint32(next.NameOff - d.NameOff)
	}

	if uint32(d.NameOff)+nameLen > block.size || nameLen > MaxNameLen || nameLen == 0 {
		return nil, xerrors.Errorf("inode %d: corrupt dirent name bounds: %w", ino.nid, ErrInvalidData)
	}

	name, err := ino.m.Slice(block.base+int64(d.NameOff), int64(nameLen))
	if err != nil {
		return nil, xerrors.Errorf("inode %d: read dirent name: %w", ino.nid, err)
	}

	if lastDirent {
		if n := bytes.IndexByte(name, 0); n != -1 {
			if n == 0 {
				return nil, xerrors.Errorf("inode %d: corrupt dirent, empty name: %w", ino.nid, ErrInvalidData)
			}
			name = name[:n]
		}
	}

	return name, nil
}

func (ino *Inode) getDirent0(block blockData) (Dirent, error) {
	d0, err := ino.direntAt(block.base)
	if err != nil {
		return Dirent{}, err
	}
	if d0.NameOff < DirentSize || uint32(d0.NameOff) >= block.size {
		return Dirent{}, xerrors.Errorf("inode %d: invalid first dirent name offset %d: %w", ino.nid, d0.NameOff, ErrInvalidData)
	}
	return d0, nil
}

// validateDotEntries ensures the first block's first two entries are "."
// and "..". Required before get_child_count can safely subtract 2
// (spec.md's open question on that subtraction).
func (ino *Inode) validateDotEntries() error {
	if ino.size == 0 {
		return xerrors.Errorf("inode %d: empty directory has no \".\"/\"..\": %w", ino.nid, ErrInvalidData)
	}
	block := ino.getBlockDataInfo(0)
	d0, err := ino.getDirent0(block)
	if err != nil {
		return err
	}
	numDirents := d0.NameOff / DirentSize
	if numDirents < 2 {
		return xerrors.Errorf("inode %d: directory missing \".\"/\"..\": %w", ino.nid, ErrInvalidData)
	}
	name0, err := ino.getDirentName(d0, block.base, block, numDirents == 1)
	if err != nil {
		return err
	}
	if string(name0) != "." {
		return xerrors.Errorf("inode %d: first entry is %q, not \".\": %w", ino.nid, name0, ErrInvalidData)
	}
	d1, err := ino.direntAt(block.base + DirentSize)
	if err != nil {
		return err
	}
	name1, err := ino.getDirentName(d1, block.base+DirentSize, block, numDirents == 2)
	if err != nil {
		return err
	}
	if string(name1) != ".." {
		return xerrors.Errorf("inode %d: second entry is %q, not \"..\": %w", ino.nid, name1, ErrInvalidData)
	}
	return nil
}

// Lookup performs a binary search for name among this directory's entries.
// Blocks are sorted, and entries within a block are sorted, so the search
// is O(log blocks + log entries).
func (ino *Inode) Lookup(name string) (Dirent, error) {
	if !ino.IsDir() {
		return Dirent{}, ErrNotDirectory
	}
	if ino.size == 0 {
		return Dirent{}, ErrNotFound
	}

	nameBytes := []byte(name)

	var (
		targetBlock      blockData
		targetNumDirents uint16
		found            bool
	)

	bLeft, bRight := int64(0), ino.blocksCount()-1
	for bLeft <= bRight {
		mid := uint64(bLeft+bRight) >> 1
		block := ino.getBlockDataInfo(mid)
		d0, err := ino.getDirent0(block)
		if err != nil {
			return Dirent{}, err
		}
		numDirents := d0.NameOff / DirentSize
		d0Name, err := ino.getDirentName(d0, block.base, block, numDirents == 1)
		if err != nil {
			return Dirent{}, err
		}
		switch bytes.Compare(nameBytes, d0Name) {
		case 0:
			return d0, nil
		case 1:
			targetBlock = block
			targetNumDirents = numDirents
			found = true
			bLeft = int64(mid) + 1
		case -1:
			bRight = int64(mid) - 1
		}
	}

	if !found {
		return Dirent{}, ErrNotFound
	}

	dLeft, dRight := uint16(1), targetNumDirents-1
	for dLeft <= dRight {
		mid := (dLeft + dRight) >> 1
		direntOff := targetBlock.base + int64(mid)*DirentSize
		d, err := ino.direntAt(direntOff)
		if err != nil {
			return Dirent{}, err
		}
		dName, err := ino.getDirentName(d, direntOff, targetBlock, mid == targetNumDirents-1)
		if err != nil {
			return Dirent{}, err
		}
		switch bytes.Compare(nameBytes, dName) {
		case 0:
			return d, nil
		case 1:
			dLeft = mid + 1
		case -1:
			dRight = mid - 1
		}
	}

	return Dirent{}, ErrNotFound
}

// DirentHandler is invoked once per entry during IterDirents/Readdir.
type DirentHandler func(name string, d Dirent) (DirWalkDecision, error)

// IterDirents enumerates every entry (including "." and "..") in block
// order, then name order within each block.
func (ino *Inode) IterDirents(handler DirentHandler) error {
	if !ino.IsDir() {
		return ErrNotDirectory
	}
	if ino.size == 0 {
		return nil
	}

	for blockIdx := uint64(0); blockIdx < uint64(ino.blocksCount()); blockIdx++ {
		block := ino.getBlockDataInfo(blockIdx)
		d, err := ino.getDirent0(block)
		if err != nil {
			return err
		}
		numDirents := d.NameOff / DirentSize
		direntOff := block.base
		for {
			name, err := ino.getDirentName(d, direntOff, block, numDirents == 1)
			if err != nil {
				return err
			}
			decision, err := handler(string(name), d)
			if err != nil {
				return err
			}
			if decision == DirBreak {
				return nil
			}
			if numDirents--; numDirents == 0 {
				break
			}
			direntOff += DirentSize
			d, err = ino.direntAt(direntOff)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// Readdir enumerates entries starting after the first `offset` entries,
// including "." and "..": they are ordinary entries of the first block and
// a resume cursor must count them like any other. It returns the offset the
// caller should pass to resume after a DirBreak, or after reaching the end.
func (ino *Inode) Readdir(offset uint32, handler DirentHandler) (uint32, error) {
	if !ino.IsDir() {
		return offset, ErrNotDirectory
	}

	var (
		pos     uint32
		skipped uint32
	)

	err := ino.IterDirents(func(name string, d Dirent) (DirWalkDecision, error) {
		if skipped < offset {
			skipped++
			return DirContinue, nil
		}
		pos++
		return handler(name, d)
	})
	if err != nil {
		return offset, err
	}

	return offset + pos, nil
}

// GetChildByName looks up name and returns its nid and file type.
func (ino *Inode) GetChildByName(name string) (nid uint64, fileType uint8, err error) {
	d, err := ino.Lookup(name)
	if err != nil {
		return 0, 0, err
	}
	return d.Nid, d.FileType, nil
}

// GetChildByIndex enumerates to the idx-th child (0-based, skipping "."/"..")
// and returns its nid and file type.
func (ino *Inode) GetChildByIndex(idx uint32) (nid uint64, fileType uint8, err error) {
	var (
		i    uint32
		outN uint64
		outT uint8
		hit  bool
	)
	err = ino.IterDirents(func(name string, d Dirent) (DirWalkDecision, error) {
		if name == "." || name == ".." {
			return DirContinue, nil
		}
		if i == idx {
			outN, outT, hit = d.Nid, d.FileType, true
			return DirBreak, nil
		}
		i++
		return DirContinue, nil
	})
	if err != nil {
		return 0, 0, err
	}
	if !hit {
		return 0, 0, ErrNotFound
	}
	return outN, outT, nil
}

// GetChildCount returns the number of children, excluding "." and "..".
// A directory with fewer than two entries in total fails with
// ErrInvalidData, so the subtraction cannot underflow; only Validate checks
// that those two entries are actually "." and "..".
func (ino *Inode) GetChildCount() (uint32, error) {
	var count uint32
	for blockIdx := uint64(0); blockIdx < uint64(ino.blocksCount()); blockIdx++ {
		block := ino.getBlockDataInfo(blockIdx)
		d0, err := ino.getDirent0(block)
		if err != nil {
			return 0, err
		}
		count += uint32(d0.NameOff / DirentSize)
	}
	if count < 2 {
		return 0, xerrors.Errorf("inode %d: directory missing \".\"/\"..\": %w", ino.nid, ErrInvalidData)
	}
	return count - 2, nil
}

// Readlink returns the symlink target.
func (ino *Inode) Readlink() (string, error) {
	if !ino.IsSymlink() {
		return "", xerrors.Errorf("inode %d: not a symlink: %w", ino.nid, ErrInvalidArgument)
	}

	off := ino.dataOff
	size := int64(ino.size)
	if ino.idataOff != 0 {
		if ino.blocks > 1 {
			return "", xerrors.Errorf("inode %d: inline symlink spans multiple blocks: %w", ino.nid, ErrInvalidData)
		}
		off = ino.idataOff
	} else if size > int64(ino.sb.BlockSize())-1 {
		size = int64(ino.sb.BlockSize()) - 1
	}

	target, err := ino.m.Slice(off, size)
	if err != nil {
		return "", xerrors.Errorf("inode %d: read symlink target: %w", ino.nid, err)
	}
	return string(target), nil
}
