//go:build windows
// +build windows

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
	"os"

	"golang.org/x/xerrors"
)

// The daemon this driver serves only ever runs against Linux/Darwin
// container hosts; Windows is unsupported rather than half-implemented.
func mmapReadOnly(f *os.File, size int64) ([]byte, error) {
	return nil, xerrors.Errorf("mmap: %w", ErrUnsupported)
}

func munmap(data []byte) error {
	return nil
}

func adviseWillNeed(data []byte) {}
