// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package rafsv6

import "github.com/rafsv6/rafsv6/erofs"

// Error kinds, re-exported from the erofs package so callers of this
// module's public API never need to import erofs directly to do an
// errors.Is check.
var (
	ErrInvalidData     = erofs.ErrInvalidData
	ErrIncompatible    = erofs.ErrIncompatible
	ErrNotFound        = erofs.ErrNotFound
	ErrNotDirectory    = erofs.ErrNotDirectory
	ErrInvalidArgument = erofs.ErrInvalidArgument
	ErrUnsupported     = erofs.ErrUnsupported
	ErrIO              = erofs.ErrIO
)
