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

package node

import "github.com/pav-storage/pav/pkg/mount"

// Host-side operations, indirected so tests can stub them out.
var (
	bindMount    = mount.BindMount
	isMountPoint = mount.IsMountPoint
	unmount      = func(target string) error {
		return mount.Unmount(target, true, true)
	}
	blockDeviceSize     = mount.BlockDeviceSize
	makeBlockDeviceNode = mount.MakeBlockDeviceNode
)
