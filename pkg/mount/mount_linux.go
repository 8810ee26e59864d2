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

//go:build linux
// +build linux

package mount

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

const mountInfoPath = "/proc/self/mountinfo"

// BindMount bind-mounts source onto target.
func BindMount(source, target string, readOnly bool) error {
	if err := unix.Mount(source, target, "", unix.MS_BIND, ""); err != nil {
		return err
	}
	if readOnly {
		return unix.Mount("", target, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY, "")
	}
	return nil
}

// Unmount unmounts target. Unmounting a path that is not a mount point is
// not an error.
func Unmount(target string, force, detach bool) error {
	var flags int
	if force {
		flags |= unix.MNT_FORCE
	}
	if detach {
		flags |= unix.MNT_DETACH
	}

	err := unix.Unmount(target, flags)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.EINVAL), errors.Is(err, unix.ENOENT):
		return nil
	default:
		return err
	}
}

// MountPoints returns all mount points known to this mount namespace.
func MountPoints() ([]string, error) {
	data, err := os.ReadFile(mountInfoPath)
	if err != nil {
		return nil, err
	}

	var mountPoints []string
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		mountPoints = append(mountPoints, decodeMountPath(fields[4]))
	}
	return mountPoints, nil
}

// decodeMountPath decodes the octal escapes of /proc/self/mountinfo paths.
func decodeMountPath(encoded string) string {
	var builder strings.Builder
	for i := 0; i < len(encoded); {
		if encoded[i] == '\\' && i+3 < len(encoded) {
			if code, err := strconv.ParseUint(encoded[i+1:i+4], 8, 8); err == nil {
				builder.WriteByte(byte(code))
				i += 4
				continue
			}
		}
		builder.WriteByte(encoded[i])
		i++
	}
	return builder.String()
}

// IsMountPoint reports whether target is a mount point.
func IsMountPoint(target string) (bool, error) {
	mountPoints, err := MountPoints()
	if err != nil {
		return false, err
	}
	for _, mountPoint := range mountPoints {
		if mountPoint == target {
			return true, nil
		}
	}
	return false, nil
}

func isUnder(dir, path string) bool {
	return strings.HasPrefix(path, strings.TrimSuffix(dir, "/")+"/")
}

// topLevelMounts returns all mount points strictly under dir that are not
// themselves under another mount point below dir.
func topLevelMounts(dir string) ([]string, error) {
	mountPoints, err := MountPoints()
	if err != nil {
		return nil, err
	}

	var under []string
	for _, mountPoint := range mountPoints {
		if isUnder(dir, mountPoint) {
			under = append(under, mountPoint)
		}
	}

	var topLevel []string
	for _, mountPoint := range under {
		top := true
		for _, other := range under {
			if other != mountPoint && isUnder(other, mountPoint) {
				top = false
				break
			}
		}
		if top {
			topLevel = append(topLevel, mountPoint)
		}
	}
	return topLevel, nil
}

// UnmountAll unmounts everything mounted under dir. Mounts are found and
// unmounted repeatedly because of layered mounts that hide other mounts.
// Forced and detached unmounts abort requests that may never get served,
// for instance when the backing FUSE process is gone.
func UnmountAll(dir string) error {
	for {
		mountPoints, err := topLevelMounts(dir)
		if err != nil {
			return err
		}
		if len(mountPoints) == 0 {
			return nil
		}

		for _, mountPoint := range mountPoints {
			klog.V(5).InfoS("Unmounting leftover mount point", "mountPoint", mountPoint)
			if err := Unmount(mountPoint, true, true); err != nil {
				return err
			}
		}
	}
}

// BlockDeviceSize returns the size of the block special file at path, in
// bytes.
func BlockDeviceSize(path string) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	var size uint64
	_, _, errno := unix.Syscall(
		unix.SYS_IOCTL,
		file.Fd(),
		unix.BLKGETSIZE64,
		uintptr(unsafe.Pointer(&size)),
	)
	if errno != 0 {
		return 0, errno
	}
	return int64(size), nil
}

// MakeBlockDeviceNode creates a block special file at path addressing the
// same device as the block special file at source.
func MakeBlockDeviceNode(source, target string) error {
	var stat unix.Stat_t
	if err := unix.Stat(source, &stat); err != nil {
		return err
	}
	if stat.Mode&unix.S_IFMT != unix.S_IFBLK {
		return errors.New("source is not a block special file")
	}
	return unix.Mknod(target, unix.S_IFBLK|0o600, int(stat.Rdev))
}
