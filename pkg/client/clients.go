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

package client

import (
	"context"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/pav-storage/pav/pkg/k8s"
)

var currentProvisionerClient ProvisionerInterface

// ProvisionerClient gets the latest versioned provisioner interface.
func ProvisionerClient() ProvisionerInterface {
	return currentProvisionerClient
}

// SetProvisionerClient overrides the provisioner interface, for tests.
func SetProvisionerClient(client ProvisionerInterface) {
	currentProvisionerClient = client
}

// KubeClient gets the kubernetes client.
func KubeClient() kubernetes.Interface {
	return k8s.KubeClient()
}

// ListVolumes returns all persistent volumes provisioned by the named
// provisioner. An empty name matches every CSI-backed volume.
func ListVolumes(ctx context.Context, provisionerName string) ([]corev1.PersistentVolume, error) {
	result, err := KubeClient().CoreV1().PersistentVolumes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}

	var volumes []corev1.PersistentVolume
	for _, pv := range result.Items {
		if pv.Spec.CSI == nil {
			continue
		}
		if provisionerName != "" && pv.Spec.CSI.Driver != provisionerName {
			continue
		}
		volumes = append(volumes, pv)
	}
	return volumes, nil
}

// ListPendingClaims returns all claims bound to storage classes of the
// named provisioner that have not reached a terminal provisioning state.
func ListPendingClaims(ctx context.Context, provisionerName string) ([]corev1.PersistentVolumeClaim, error) {
	classes, err := KubeClient().StorageV1().StorageClasses().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}

	classNames := map[string]struct{}{}
	for _, class := range classes.Items {
		if class.Provisioner == provisionerName {
			classNames[class.Name] = struct{}{}
		}
	}
	if len(classNames) == 0 {
		return nil, nil
	}

	claims, err := KubeClient().CoreV1().PersistentVolumeClaims(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}

	var pending []corev1.PersistentVolumeClaim
	for _, claim := range claims.Items {
		if claim.Spec.StorageClassName == nil {
			continue
		}
		if _, found := classNames[*claim.Spec.StorageClassName]; !found {
			continue
		}
		if claim.Status.Phase != corev1.ClaimBound {
			pending = append(pending, claim)
		}
	}
	return pending, nil
}
