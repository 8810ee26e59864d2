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

package installer

import (
	"context"

	storagev1 "k8s.io/api/storage/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// newCSIDriver builds the driver registration object. Pod info on mount is
// enabled, so publish requests carry the client pod's identity in their
// volume context; the node plugin does not read it and builds the staging
// context from the claim, the volume, and the node.
func newCSIDriver(args Args) *storagev1.CSIDriver {
	podInfoOnMount := true
	attachRequired := false

	return &storagev1.CSIDriver{
		TypeMeta: metav1.TypeMeta{APIVersion: "storage.k8s.io/v1", Kind: "CSIDriver"},
		ObjectMeta: metav1.ObjectMeta{
			Name:   args.Name,
			Labels: defaultLabels(args),
		},
		Spec: storagev1.CSIDriverSpec{
			PodInfoOnMount: &podInfoOnMount,
			AttachRequired: &attachRequired,
			VolumeLifecycleModes: []storagev1.VolumeLifecycleMode{
				storagev1.VolumeLifecyclePersistent,
			},
		},
	}
}

func installCSIDriver(ctx context.Context, kubeClient kubernetes.Interface, args Args) error {
	_, err := kubeClient.StorageV1().CSIDrivers().Create(ctx, newCSIDriver(args), metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		return nil
	}
	return err
}

func uninstallCSIDriver(ctx context.Context, kubeClient kubernetes.Interface, args Args) error {
	err := kubeClient.StorageV1().CSIDrivers().Delete(ctx, args.Name, metav1.DeleteOptions{})
	if apierrors.IsNotFound(err) {
		return nil
	}
	return err
}
