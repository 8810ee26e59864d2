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

package controller

import (
	"testing"

	"github.com/container-storage-interface/spec/lib/go/csi"
	"github.com/pav-storage/pav/pkg/provisioner"
	"github.com/pav-storage/pav/pkg/worker"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func testClaim() *corev1.PersistentVolumeClaim {
	return &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "claim1",
			Namespace: "default",
			UID:       "11111111-2222-3333-4444-555555555555",
		},
	}
}

func stringPtr(s string) *string { return &s }

func int64Ptr(v int64) *int64 { return &v }

func sideChannel(handle *string, capacity *int64) *worker.Verdict {
	return &worker.Verdict{
		Succeeded:   true,
		SideChannel: worker.SideChannel{Handle: handle, Capacity: capacity},
	}
}

func TestResolveHandleAndCapacity(t *testing.T) {
	defaultHandle := "pvc-11111111-2222-3333-4444-555555555555"

	testCases := []struct {
		name           string
		config         provisioner.CreationConfig
		verdict        *worker.Verdict
		expectedHandle string
		expectedBytes  int64
		wantErr        bool
	}{
		{
			name:           "field wins over file",
			config:         provisioner.CreationConfig{Handle: "from-field", Capacity: int64Ptr(10)},
			verdict:        sideChannel(stringPtr("from-file"), int64Ptr(20)),
			expectedHandle: "from-field",
			expectedBytes:  10,
		},
		{
			name:           "file fallback",
			config:         provisioner.CreationConfig{},
			verdict:        sideChannel(stringPtr("from-file"), int64Ptr(20)),
			expectedHandle: "from-file",
			expectedBytes:  20,
		},
		{
			name:           "default handle",
			config:         provisioner.CreationConfig{Capacity: int64Ptr(10)},
			verdict:        nil,
			expectedHandle: defaultHandle,
			expectedBytes:  10,
		},
		{
			name:    "capacity must be determinable",
			config:  provisioner.CreationConfig{Handle: "h"},
			verdict: sideChannel(nil, nil),
			wantErr: true,
		},
		{
			name:    "empty handle file",
			config:  provisioner.CreationConfig{Capacity: int64Ptr(10)},
			verdict: sideChannel(stringPtr("  "), nil),
			wantErr: true,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			handle, capacity, err := resolveHandleAndCapacity(&testCase.config, testCase.verdict, testClaim())
			if testCase.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q/%v", handle, capacity)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if handle != testCase.expectedHandle {
				t.Fatalf("expected handle %q, got %q", testCase.expectedHandle, handle)
			}
			if capacity != testCase.expectedBytes {
				t.Fatalf("expected capacity %v, got %v", testCase.expectedBytes, capacity)
			}
		})
	}
}

func TestRequestedAccessModes(t *testing.T) {
	capabilities := []*csi.VolumeCapability{
		{
			AccessMode: &csi.VolumeCapability_AccessMode{
				Mode: csi.VolumeCapability_AccessMode_SINGLE_NODE_WRITER,
			},
		},
		{
			AccessMode: &csi.VolumeCapability_AccessMode{
				Mode: csi.VolumeCapability_AccessMode_MULTI_NODE_READER_ONLY,
			},
		},
	}

	modes, err := requestedAccessModes(capabilities)
	if err != nil {
		t.Fatal(err)
	}
	if len(modes) != 2 || modes[0] != "ReadWriteOnce" || modes[1] != "ReadOnlyMany" {
		t.Fatalf("unexpected modes %v", modes)
	}

	_, err = requestedAccessModes([]*csi.VolumeCapability{
		{
			AccessMode: &csi.VolumeCapability_AccessMode{
				Mode: csi.VolumeCapability_AccessMode_SINGLE_NODE_READER_ONLY,
			},
		},
	})
	if err == nil {
		t.Fatal("expected error for unsupported access mode")
	}
}

func TestValidateCapabilities(t *testing.T) {
	if err := validateCapabilities([]*csi.VolumeCapability{
		{AccessType: &csi.VolumeCapability_Mount{Mount: &csi.VolumeCapability_MountVolume{}}},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := validateCapabilities([]*csi.VolumeCapability{
		{AccessType: &csi.VolumeCapability_Mount{Mount: &csi.VolumeCapability_MountVolume{FsType: "ext4"}}},
	}); err == nil {
		t.Fatal("expected error for fsType")
	}

	if err := validateCapabilities([]*csi.VolumeCapability{
		{AccessType: &csi.VolumeCapability_Mount{Mount: &csi.VolumeCapability_MountVolume{MountFlags: []string{"noatime"}}}},
	}); err == nil {
		t.Fatal("expected error for mount flags")
	}
}

func TestRequestedVolumeMode(t *testing.T) {
	if mode := requestedVolumeMode([]*csi.VolumeCapability{
		{AccessType: &csi.VolumeCapability_Mount{Mount: &csi.VolumeCapability_MountVolume{}}},
	}); mode != "Filesystem" {
		t.Fatalf("expected Filesystem, got %v", mode)
	}

	if mode := requestedVolumeMode([]*csi.VolumeCapability{
		{AccessType: &csi.VolumeCapability_Block{Block: &csi.VolumeCapability_BlockVolume{}}},
	}); mode != "Block" {
		t.Fatalf("expected Block, got %v", mode)
	}
}
