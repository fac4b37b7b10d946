// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package rafsv6

import "golang.org/x/xerrors"

type loadOptions struct {
	validateRoot    bool
	attrTimeoutMs   *uint32
	entryTimeoutMs  *uint32
}

// Option configures a Load or Update call.
type Option func(*loadOptions)

// WithValidateRoot makes Load/Update call Validate on the root inode
// immediately, surfacing a corrupt bootstrap at load time rather than on
// the first request against it.
func WithValidateRoot() Option {
	return func(o *loadOptions) { o.validateRoot = true }
}

// WithAttrTimeout overrides the attribute cache timeout a front-end should
// honor, in place of the bootstrap's own AttrTimeoutMs field.
func WithAttrTimeout(ms uint32) Option {
	return func(o *loadOptions) { o.attrTimeoutMs = &ms }
}

// WithEntryTimeout overrides the directory entry cache timeout a
// front-end should honor, in place of the bootstrap's own
// EntryTimeoutMs field.
func WithEntryTimeout(ms uint32) Option {
	return func(o *loadOptions) { o.entryTimeoutMs = &ms }
}

func applyOptions(sb *Superblock, opts []Option) error {
	var lo loadOptions
	for _, opt := range opts {
		opt(&lo)
	}

	sb.attrTimeoutMsOverride = lo.attrTimeoutMs
	sb.entryTimeoutMsOverride = lo.entryTimeoutMs

	if lo.validateRoot {
		root, err := sb.GetInode(sb.RootIno())
		if err != nil {
			return xerrors.Errorf("validate root: %w", err)
		}
		if err := root.Validate(); err != nil {
			return xerrors.Errorf("validate root: %w", err)
		}
	}

	return nil
}

// AttrTimeoutMs returns the attribute cache timeout a front-end should
// honor: the caller-supplied override if one was set via WithAttrTimeout,
// otherwise the value baked into the bootstrap.
func (sb *Superblock) AttrTimeoutMs() uint32 {
	if sb.attrTimeoutMsOverride != nil {
		return *sb.attrTimeoutMsOverride
	}
	return sb.snapshot().sb.AttrTimeoutMs
}

// EntryTimeoutMs returns the directory entry cache timeout a front-end
// should honor, following the same override rule as AttrTimeoutMs.
func (sb *Superblock) EntryTimeoutMs() uint32 {
	if sb.entryTimeoutMsOverride != nil {
		return *sb.entryTimeoutMsOverride
	}
	return sb.snapshot().sb.EntryTimeoutMs
}
