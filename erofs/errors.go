// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package erofs

import "errors"

// Package-specific error kinds, usable with errors.Is. These are the
// driver-wide failure kinds; the rafsv6, blobtable and chunk packages all
// wrap one of these rather than minting their own, so a caller can do a
// single errors.Is check regardless of which layer failed.
var (
	// ErrInvalidData is returned for any out-of-bounds mapping access or
	// malformed on-disk header.
	ErrInvalidData = errors.New("rafsv6: invalid data")

	// ErrIncompatible is returned when an inode uses a reserved or
	// compressed layout this driver does not implement.
	ErrIncompatible = errors.New("rafsv6: incompatible layout")

	// ErrNotFound is returned for an unknown child, xattr, or chunk address.
	ErrNotFound = errors.New("rafsv6: not found")

	// ErrNotDirectory is returned when a directory-only operation is
	// attempted on a non-directory inode.
	ErrNotDirectory = errors.New("rafsv6: not a directory")

	// ErrInvalidArgument is returned for caller misuse (overflowing
	// arithmetic, negative offsets, and the like).
	ErrInvalidArgument = errors.New("rafsv6: invalid argument")

	// ErrUnsupported is returned when an operation is requested that a
	// chunk-dict bootstrap cannot service.
	ErrUnsupported = errors.New("rafsv6: unsupported")

	// ErrIO is returned for underlying file or mmap failures.
	ErrIO = errors.New("rafsv6: i/o failure")
)
