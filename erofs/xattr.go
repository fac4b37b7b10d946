// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package erofs

import (
	"golang.org/x/xerrors"
)

// xattrHeaderRaw is the 8-byte header preceding an inode's inline xattr
// entries. SharedCount/Reserved carry shared-xattr indirection metadata
// this driver does not resolve (bootstraps produced by builders that never
// share xattrs always leave it zero).
type xattrHeaderRaw struct {
	SharedCount uint8
	Reserved    [7]uint8
}

const xattrHeaderSize = 8

// xattrEntryRaw is the fixed-size portion of one inline xattr entry; the
// name and value bytes immediately follow it.
type xattrEntryRaw struct {
	NameIndex uint8
	NameLen   uint8
	ValueSize uint16
}

const xattrEntrySize = 4

// Namespace prefix codes (xattrEntryRaw.NameIndex).
const (
	XattrIndexNone = iota
	XattrIndexUser
	XattrIndexTrusted
	XattrIndexSecurity
	XattrIndexSystem
)

var xattrPrefixes = map[uint8]string{
	XattrIndexNone:     "",
	XattrIndexUser:     "user.",
	XattrIndexTrusted:  "trusted.",
	XattrIndexSecurity: "security.",
	XattrIndexSystem:   "system.",
}

func xattrPrefix(nameIndex uint8) (string, error) {
	prefix, ok := xattrPrefixes[nameIndex]
	if !ok {
		return "", xerrors.Errorf("unknown xattr namespace code %d: %w", nameIndex, ErrInvalidData)
	}
	return prefix, nil
}

// walkXattrs invokes cb for each inline xattr entry, passing the entry's
// full name (namespace prefix + suffix), its value offset, and its value
// size. cb returns DirBreak to stop early.
func (ino *Inode) walkXattrs(cb func(fullName string, valueOff int64, valueSize uint16) (DirWalkDecision, error)) error {
	if ino.xattrCount == 0 {
		return nil
	}

	entryCount := int(ino.xattrCount) - 1
	off := ino.XattrHeaderOffset() + xattrHeaderSize

	for i := 0; i < entryCount; i++ {
		entry, err := TypedAt[xattrEntryRaw](ino.m, off)
		if err != nil {
			return xerrors.Errorf("inode %d: read xattr entry %d: %w", ino.nid, i, err)
		}

		prefix, err := xattrPrefix(entry.NameIndex)
		if err != nil {
			return xerrors.Errorf("inode %d: xattr entry %d: %w", ino.nid, i, err)
		}

		suffixOff := off + xattrEntrySize
		suffix, err := ino.m.Slice(suffixOff, int64(entry.NameLen))
		if err != nil {
			return xerrors.Errorf("inode %d: read xattr suffix %d: %w", ino.nid, i, err)
		}

		valueOff := suffixOff + int64(entry.NameLen)
		if err := ino.m.ValidateRange(valueOff, int64(entry.ValueSize)); err != nil {
			return xerrors.Errorf("inode %d: xattr value %d out of range: %w", ino.nid, i, err)
		}

		decision, err := cb(prefix+string(suffix), valueOff, entry.ValueSize)
		if err != nil {
			return err
		}
		if decision == DirBreak {
			return nil
		}

		consumed := int64(xattrEntrySize) + int64(entry.NameLen) + int64(entry.ValueSize)
		off += roundUpTo(consumed, xattrEntrySize)
	}

	return nil
}

func roundUpTo(n, align int64) int64 {
	return (n + align - 1) &^ (align - 1)
}

// HasXattr reports whether this inode carries any inline xattrs.
func (ino *Inode) HasXattr() bool {
	return ino.xattrCount != 0
}

// GetXattr returns a copy of the value stored under name, or ErrNotFound.
func (ino *Inode) GetXattr(name string) ([]byte, error) {
	var (
		value []byte
		found bool
	)

	err := ino.walkXattrs(func(fullName string, valueOff int64, valueSize uint16) (DirWalkDecision, error) {
		if fullName != name {
			return DirContinue, nil
		}
		buf, err := ino.m.Slice(valueOff, int64(valueSize))
		if err != nil {
			return DirBreak, err
		}
		value = append([]byte(nil), buf...)
		found = true
		return DirBreak, nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return value, nil
}

// ListXattrs returns the full name (namespace prefix + suffix) of every
// inline xattr carried by this inode.
func (ino *Inode) ListXattrs() ([]string, error) {
	var names []string
	err := ino.walkXattrs(func(fullName string, _ int64, _ uint16) (DirWalkDecision, error) {
		names = append(names, fullName)
		return DirContinue, nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}
