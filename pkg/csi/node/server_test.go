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

import (
	"os"
	"path/filepath"
	"testing"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func TestIsUnderDir(t *testing.T) {
	testCases := []struct {
		dir      string
		path     string
		expected bool
	}{
		{"/var/lib/pav/p/v", "/var/lib/pav/p/v/volume", true},
		{"/var/lib/pav/p/v", "/var/lib/pav/p/v/a/b", true},
		{"/var/lib/pav/p/v", "/var/lib/pav/p/v", false},
		{"/var/lib/pav/p/v", "/var/lib/pav/p", false},
		{"/var/lib/pav/p/v", "/etc/passwd", false},
		{"/var/lib/pav/p/v", "/var/lib/pav/p/v2/volume", false},
	}

	for _, testCase := range testCases {
		if result := isUnderDir(testCase.dir, testCase.path); result != testCase.expected {
			t.Errorf("isUnderDir(%q, %q) = %v, expected %v",
				testCase.dir, testCase.path, result, testCase.expected)
		}
	}
}

func filesystemVolume(handle string) *corev1.PersistentVolume {
	volumeMode := corev1.PersistentVolumeFilesystem
	return &corev1.PersistentVolume{
		ObjectMeta: metav1.ObjectMeta{Name: "pv-" + handle},
		Spec: corev1.PersistentVolumeSpec{
			VolumeMode: &volumeMode,
			Capacity: corev1.ResourceList{
				corev1.ResourceStorage: resource.MustParse("1Gi"),
			},
			PersistentVolumeSource: corev1.PersistentVolumeSource{
				CSI: &corev1.CSIPersistentVolumeSource{
					Driver:       "my-provisioner",
					VolumeHandle: handle,
				},
			},
		},
	}
}

func TestResolveArtifact(t *testing.T) {
	dir := t.TempDir()
	pv := filesystemVolume("vol-1")

	// missing /pav/volume
	if _, err := resolveArtifact(dir, pv); err == nil {
		t.Fatal("expected error for missing volume artifact")
	}

	// /pav/volume as a plain directory
	if err := os.Mkdir(filepath.Join(dir, "volume"), 0o755); err != nil {
		t.Fatal(err)
	}
	volumePath, err := resolveArtifact(dir, pv)
	if err != nil {
		t.Fatal(err)
	}
	resolvedDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatal(err)
	}
	if volumePath != filepath.Join(resolvedDir, "volume") {
		t.Fatalf("unexpected volume path %q", volumePath)
	}
}

func TestResolveArtifactSymlinkInside(t *testing.T) {
	dir := t.TempDir()
	pv := filesystemVolume("vol-1")

	if err := os.Mkdir(filepath.Join(dir, "data"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("data", filepath.Join(dir, "volume")); err != nil {
		t.Fatal(err)
	}

	volumePath, err := resolveArtifact(dir, pv)
	if err != nil {
		t.Fatal(err)
	}
	resolvedDir, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatal(err)
	}
	if volumePath != filepath.Join(resolvedDir, "data") {
		t.Fatalf("unexpected volume path %q", volumePath)
	}
}

func TestResolveArtifactEscapeRejected(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	pv := filesystemVolume("vol-1")

	if err := os.Symlink(outside, filepath.Join(dir, "volume")); err != nil {
		t.Fatal(err)
	}

	if _, err := resolveArtifact(dir, pv); err == nil {
		t.Fatal("expected error for artifact escaping the volume directory")
	}
}

func TestResolveArtifactFileRejectedForFilesystem(t *testing.T) {
	dir := t.TempDir()
	pv := filesystemVolume("vol-1")

	if err := os.WriteFile(filepath.Join(dir, "volume"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := resolveArtifact(dir, pv); err == nil {
		t.Fatal("expected error for non-directory filesystem artifact")
	}
}

func TestResolveArtifactBlockRequiresDevice(t *testing.T) {
	dir := t.TempDir()
	pv := filesystemVolume("vol-1")
	volumeMode := corev1.PersistentVolumeBlock
	pv.Spec.VolumeMode = &volumeMode

	if err := os.Mkdir(filepath.Join(dir, "volume"), 0o755); err != nil {
		t.Fatal(err)
	}

	if _, err := resolveArtifact(dir, pv); err == nil {
		t.Fatal("expected error for non-device block artifact")
	}
}

func TestUnpublishTargetIsIdempotent(t *testing.T) {
	savedUnmount := unmount
	unmount = func(string) error { return nil }
	defer func() { unmount = savedUnmount }()

	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	if err := os.Mkdir(target, 0o755); err != nil {
		t.Fatal(err)
	}

	if err := unpublishTarget(target); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Fatal("target still exists")
	}

	// repeated unpublish is a no-op
	if err := unpublishTarget(target); err != nil {
		t.Fatal(err)
	}
}
