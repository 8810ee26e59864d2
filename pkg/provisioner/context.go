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

package provisioner

import (
	"fmt"
	"strings"

	"github.com/pav-storage/pav/pkg/consts"
	"github.com/pav-storage/pav/pkg/utils"
	corev1 "k8s.io/api/core/v1"
	storagev1 "k8s.io/api/storage/v1"
	"k8s.io/apimachinery/pkg/runtime"
)

func toObjectMap(obj interface{}) (map[string]interface{}, error) {
	return runtime.DefaultUnstructuredConverter.ToUnstructured(obj)
}

func accessModeStrings(modes []corev1.PersistentVolumeAccessMode) []interface{} {
	result := make([]interface{}, len(modes))
	for i, mode := range modes {
		result[i] = string(mode)
	}
	return result
}

func claimVolumeMode(pvc *corev1.PersistentVolumeClaim) string {
	if pvc.Spec.VolumeMode == nil {
		return string(corev1.PersistentVolumeFilesystem)
	}
	return string(*pvc.Spec.VolumeMode)
}

func volumeVolumeMode(pv *corev1.PersistentVolume) string {
	if pv.Spec.VolumeMode == nil {
		return string(corev1.PersistentVolumeFilesystem)
	}
	return string(*pv.Spec.VolumeMode)
}

func stringMap(values map[string]string) map[string]interface{} {
	result := make(map[string]interface{}, len(values))
	for key, value := range values {
		result[key] = value
	}
	return result
}

// filteredParams drops keys reserved by this application or by kubernetes
// from a volume attribute map before exposing it to templates.
func filteredParams(values map[string]string) map[string]interface{} {
	result := make(map[string]interface{}, len(values))
	for key, value := range values {
		if strings.HasPrefix(key, consts.GroupName+"/") || strings.HasPrefix(key, "csi.storage.k8s.io/") {
			continue
		}
		result[key] = value
	}
	return result
}

// RequestedCapacityRange extracts the requested capacity bounds of a claim.
// The maximum is nil when the claim sets no storage limit.
func RequestedCapacityRange(pvc *corev1.PersistentVolumeClaim) (min int64, max *int64, err error) {
	request, found := pvc.Spec.Resources.Requests[corev1.ResourceStorage]
	if !found {
		return 0, nil, fmt.Errorf("claim %s/%s requests no storage", pvc.Namespace, pvc.Name)
	}
	min = request.Value()
	if min <= 0 {
		return 0, nil, fmt.Errorf("claim %s/%s requests non-positive storage", pvc.Namespace, pvc.Name)
	}

	if limit, found := pvc.Spec.Resources.Limits[corev1.ResourceStorage]; found {
		value := limit.Value()
		max = &value
	}
	return min, max, nil
}

// DefaultHandle returns the handle a dynamically provisioned volume gets
// when neither the provisioner nor its creation worker assigns one.
func DefaultHandle(pvc *corev1.PersistentVolumeClaim) string {
	return "pvc-" + string(pvc.UID)
}

// DynamicValidationContext builds the evaluation context of the validation
// phase for dynamic provisioning.
func DynamicValidationContext(sc *storagev1.StorageClass, pvc *corev1.PersistentVolumeClaim) (map[string]interface{}, error) {
	minCapacity, maxCapacity, err := RequestedCapacityRange(pvc)
	if err != nil {
		return nil, err
	}

	scMap, err := toObjectMap(sc)
	if err != nil {
		return nil, err
	}
	pvcMap, err := toObjectMap(pvc)
	if err != nil {
		return nil, err
	}

	context := map[string]interface{}{
		"requestedVolumeMode":  claimVolumeMode(pvc),
		"requestedAccessModes": accessModeStrings(pvc.Spec.AccessModes),
		"requestedMinCapacity": minCapacity,
		"requestedMaxCapacity": nil,
		"params":               stringMap(sc.Parameters),
		"sc":                   scMap,
		"pvc":                  pvcMap,
	}
	if maxCapacity != nil {
		context["requestedMaxCapacity"] = *maxCapacity
	}
	return context, nil
}

// StaticValidationContext builds the evaluation context of the validation
// phase for pre-provisioned volumes.
func StaticValidationContext(pv *corev1.PersistentVolume) (map[string]interface{}, error) {
	if pv.Spec.CSI == nil {
		return nil, fmt.Errorf("volume %s carries no CSI source", pv.Name)
	}

	capacity, found := pv.Spec.Capacity[corev1.ResourceStorage]
	if !found {
		return nil, fmt.Errorf("volume %s declares no storage capacity", pv.Name)
	}

	pvMap, err := toObjectMap(pv)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"requestedVolumeMode":  volumeVolumeMode(pv),
		"requestedAccessModes": accessModeStrings(pv.Spec.AccessModes),
		"requestedMinCapacity": capacity.Value(),
		"requestedMaxCapacity": capacity.Value(),
		"params":               filteredParams(pv.Spec.CSI.VolumeAttributes),
		"handle":               pv.Spec.CSI.VolumeHandle,
		"pv":                   pvMap,
	}, nil
}

// CreationDeletionContext builds the evaluation context of the creation and
// deletion phases.
func CreationDeletionContext(sc *storagev1.StorageClass, pvc *corev1.PersistentVolumeClaim) (map[string]interface{}, error) {
	context, err := DynamicValidationContext(sc, pvc)
	if err != nil {
		return nil, err
	}
	context["defaultHandle"] = DefaultHandle(pvc)
	return context, nil
}

// StagingUnstagingContext builds the evaluation context of the staging and
// unstaging phases. Access modes come from the claim, not the volume, since
// mounts can only use the modes the claim requested.
func StagingUnstagingContext(
	pvc *corev1.PersistentVolumeClaim,
	pv *corev1.PersistentVolume,
	node *corev1.Node,
	readOnly bool,
) (map[string]interface{}, error) {
	if pv.Spec.CSI == nil {
		return nil, fmt.Errorf("volume %s carries no CSI source", pv.Name)
	}

	capacity, found := pv.Spec.Capacity[corev1.ResourceStorage]
	if !found {
		return nil, fmt.Errorf("volume %s declares no storage capacity", pv.Name)
	}
	if !utils.IsValidHandle(pv.Spec.CSI.VolumeHandle) {
		return nil, fmt.Errorf("volume %s carries an invalid handle", pv.Name)
	}

	pvcMap, err := toObjectMap(pvc)
	if err != nil {
		return nil, err
	}
	pvMap, err := toObjectMap(pv)
	if err != nil {
		return nil, err
	}
	nodeMap, err := toObjectMap(node)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"volumeMode":  volumeVolumeMode(pv),
		"accessModes": accessModeStrings(pvc.Spec.AccessModes),
		"capacity":    capacity.Value(),
		"params":      filteredParams(pv.Spec.CSI.VolumeAttributes),
		"handle":      pv.Spec.CSI.VolumeHandle,
		"readOnly":    readOnly,
		"pvc":         pvcMap,
		"pv":          pvMap,
		"node":        nodeMap,
	}, nil
}

// DeletionContextFromVolume rebuilds the deletion context from the
// persisted volume attributes, the storage class snapshot taken at
// creation time, and the possibly already deleted original claim.
func DeletionContextFromVolume(
	pv *corev1.PersistentVolume,
	scSnapshot map[string]interface{},
	pvc *corev1.PersistentVolumeClaim,
) (map[string]interface{}, error) {
	if pv.Spec.CSI == nil {
		return nil, fmt.Errorf("volume %s carries no CSI source", pv.Name)
	}

	capacity, found := pv.Spec.Capacity[corev1.ResourceStorage]
	if !found {
		return nil, fmt.Errorf("volume %s declares no storage capacity", pv.Name)
	}

	pvMap, err := toObjectMap(pv)
	if err != nil {
		return nil, err
	}

	context := map[string]interface{}{
		"requestedVolumeMode":  volumeVolumeMode(pv),
		"requestedAccessModes": accessModeStrings(pv.Spec.AccessModes),
		"requestedMinCapacity": capacity.Value(),
		"requestedMaxCapacity": capacity.Value(),
		"params":               filteredParams(pv.Spec.CSI.VolumeAttributes),
		"sc":                   scSnapshot,
		"pvc":                  nil,
		"pv":                   pvMap,
		"defaultHandle":        pv.Spec.CSI.VolumeHandle,
	}

	if pv.Spec.ClaimRef != nil {
		context["defaultHandle"] = "pvc-" + string(pv.Spec.ClaimRef.UID)
	}

	if pvc != nil {
		pvcMap, err := toObjectMap(pvc)
		if err != nil {
			return nil, err
		}
		context["pvc"] = pvcMap
	}

	return context, nil
}
