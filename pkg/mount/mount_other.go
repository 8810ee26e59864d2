// This file is part of PaV
// Copyright (c) 2022 The PaV Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

//go:build !linux
// +build !linux

package mount

import "errors"

var errNotSupported = errors.New("operation not supported on this platform")

// BindMount bind-mounts source onto target.
func BindMount(_, _ string, _ bool) error {
	return errNotSupported
}

// Unmount unmounts target.
func Unmount(_ string, _, _ bool) error {
	return errNotSupported
}

// MountPoints returns all mount points known to this mount namespace.
func MountPoints() ([]string, error) {
	return nil, errNotSupported
}

// IsMountPoint reports whether target is a mount point.
func IsMountPoint(_ string) (bool, error) {
	return false, errNotSupported
}

// UnmountAll unmounts everything mounted under dir.
func UnmountAll(_ string) error {
	return errNotSupported
}

// BlockDeviceSize returns the size of the block special file at path.
func BlockDeviceSize(_ string) (int64, error) {
	return 0, errNotSupported
}

// MakeBlockDeviceNode creates a block special file at path.
func MakeBlockDeviceNode(_, _ string) error {
	return errNotSupported
}
