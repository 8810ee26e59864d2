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
	"context"
	"testing"

	pavtypes "github.com/pav-storage/pav/pkg/apis/pav.storage.io/v1alpha1"
	"github.com/pav-storage/pav/pkg/template"
	corev1 "k8s.io/api/core/v1"
	storagev1 "k8s.io/api/storage/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func newClaim(name string, capacity string) *corev1.PersistentVolumeClaim {
	volumeMode := corev1.PersistentVolumeFilesystem
	className := "test-class"
	return &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "default",
			UID:       "11111111-2222-3333-4444-555555555555",
		},
		Spec: corev1.PersistentVolumeClaimSpec{
			VolumeMode:       &volumeMode,
			AccessModes:      []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			StorageClassName: &className,
			Resources: corev1.ResourceRequirements{
				Requests: corev1.ResourceList{
					corev1.ResourceStorage: resource.MustParse(capacity),
				},
			},
		},
	}
}

func newStorageClass(provisionerName string, params map[string]string) *storagev1.StorageClass {
	return &storagev1.StorageClass{
		ObjectMeta:  metav1.ObjectMeta{Name: "test-class"},
		Provisioner: provisionerName,
		Parameters:  params,
	}
}

func newVolume(handle string, capacity string) *corev1.PersistentVolume {
	volumeMode := corev1.PersistentVolumeFilesystem
	return &corev1.PersistentVolume{
		ObjectMeta: metav1.ObjectMeta{Name: "pv-" + handle},
		Spec: corev1.PersistentVolumeSpec{
			VolumeMode:  &volumeMode,
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			Capacity: corev1.ResourceList{
				corev1.ResourceStorage: resource.MustParse(capacity),
			},
			PersistentVolumeSource: corev1.PersistentVolumeSource{
				CSI: &corev1.CSIPersistentVolumeSource{
					Driver:       "my-provisioner",
					VolumeHandle: handle,
					VolumeAttributes: map[string]string{
						"bucket": "b1",
					},
				},
			},
		},
	}
}

func newTestProvisioner(spec pavtypes.PavProvisionerSpec) *Provisioner {
	return New(&pavtypes.PavProvisioner{
		ObjectMeta: metav1.ObjectMeta{Name: "my-provisioner", UID: "aaaa-bbbb"},
		Spec:       spec,
	}, template.Hooks{})
}

func TestEvalCreationConfig(t *testing.T) {
	prov := newTestProvisioner(pavtypes.PavProvisionerSpec{
		ProvisioningModes: []pavtypes.ProvisioningMode{pavtypes.ProvisioningModeDynamic},
		VolumeCreation: &pavtypes.VolumeCreation{
			Capacity: "{{ .requestedMinCapacity }}",
		},
		VolumeStaging: stagingSection(),
	})

	config, err := prov.EvalCreationConfig(
		context.Background(),
		newStorageClass("my-provisioner", map[string]string{"x": "1"}),
		newClaim("claim1", "1Gi"),
	)
	if err != nil {
		t.Fatal(err)
	}

	if config.Capacity == nil || *config.Capacity != 1<<30 {
		t.Fatalf("expected capacity %d, got %v", 1<<30, config.Capacity)
	}
	if config.Handle != "" {
		t.Fatalf("expected no handle, got %q", config.Handle)
	}
	if config.PodTemplate != nil {
		t.Fatalf("expected no pod template, got %v", config.PodTemplate)
	}
}

func TestEvalCreationConfigHandleTemplate(t *testing.T) {
	prov := newTestProvisioner(pavtypes.PavProvisionerSpec{
		ProvisioningModes: []pavtypes.ProvisioningMode{pavtypes.ProvisioningModeDynamic},
		VolumeCreation: &pavtypes.VolumeCreation{
			Handle:   "{{ .params.bucket }}-{{ .defaultHandle }}",
			Capacity: "1Gi",
		},
		VolumeStaging: stagingSection(),
	})

	config, err := prov.EvalCreationConfig(
		context.Background(),
		newStorageClass("my-provisioner", map[string]string{"bucket": "b1"}),
		newClaim("claim1", "1Gi"),
	)
	if err != nil {
		t.Fatal(err)
	}

	expected := "b1-pvc-11111111-2222-3333-4444-555555555555"
	if config.Handle != expected {
		t.Fatalf("expected handle %q, got %q", expected, config.Handle)
	}
}

func TestEvalValidationConfigDefaults(t *testing.T) {
	prov := newTestProvisioner(pavtypes.PavProvisionerSpec{
		ProvisioningModes: []pavtypes.ProvisioningMode{pavtypes.ProvisioningModeDynamic},
		VolumeCreation:    &pavtypes.VolumeCreation{Capacity: "1Gi"},
		VolumeStaging:     stagingSection(),
	})

	config, err := prov.EvalDynamicValidationConfig(
		context.Background(),
		newStorageClass("my-provisioner", nil),
		newClaim("claim1", "1Gi"),
	)
	if err != nil {
		t.Fatal(err)
	}

	if len(config.VolumeModes) != 1 || config.VolumeModes[0] != "Filesystem" {
		t.Fatalf("unexpected default volume modes %v", config.VolumeModes)
	}
	if len(config.AccessModes) != 3 {
		t.Fatalf("unexpected default access modes %v", config.AccessModes)
	}
	if config.MinCapacity != 1 || config.MaxCapacity != nil {
		t.Fatalf("unexpected default capacities %v/%v", config.MinCapacity, config.MaxCapacity)
	}
}

func TestEvalValidationConfigCapacityBounds(t *testing.T) {
	prov := newTestProvisioner(pavtypes.PavProvisionerSpec{
		ProvisioningModes: []pavtypes.ProvisioningMode{pavtypes.ProvisioningModeDynamic},
		VolumeValidation: &pavtypes.VolumeValidation{
			MinCapacity: "2Gi",
			MaxCapacity: "1Gi",
		},
		VolumeCreation: &pavtypes.VolumeCreation{Capacity: "1Gi"},
		VolumeStaging:  stagingSection(),
	})

	_, err := prov.EvalDynamicValidationConfig(
		context.Background(),
		newStorageClass("my-provisioner", nil),
		newClaim("claim1", "1Gi"),
	)
	if err == nil {
		t.Fatal("expected error for min above max")
	}
}

func TestEvalStagingConfig(t *testing.T) {
	prov := newTestProvisioner(pavtypes.PavProvisionerSpec{
		ProvisioningModes: []pavtypes.ProvisioningMode{pavtypes.ProvisioningModeStatic},
		VolumeStaging: pavtypes.VolumeStaging{
			PodTemplate: pavtypes.PodTemplate{
				"spec": map[string]interface{}{
					"containers": []interface{}{
						map[string]interface{}{
							"name":    "stage",
							"image":   "docker.io/library/busybox:1.35",
							"command": []interface{}{"sh", "-c", "echo {{ .handle }} > /pav/volume/id"},
						},
					},
				},
			},
		},
	})

	node := &corev1.Node{ObjectMeta: metav1.ObjectMeta{Name: "node-1"}}
	pv := newVolume("vol-1", "1Gi")
	pvc := newClaim("claim1", "1Gi")

	config, err := prov.EvalStagingConfig(context.Background(), pvc, pv, node, false)
	if err != nil {
		t.Fatal(err)
	}

	spec := config.PodTemplate["spec"].(map[string]interface{})
	containers := spec["containers"].([]interface{})
	command := containers[0].(map[string]interface{})["command"].([]interface{})
	if command[2] != "echo vol-1 > /pav/volume/id" {
		t.Fatalf("unexpected evaluated command %v", command[2])
	}
}

func TestEvalStagingConfigMissingTemplate(t *testing.T) {
	prov := newTestProvisioner(pavtypes.PavProvisionerSpec{
		ProvisioningModes: []pavtypes.ProvisioningMode{pavtypes.ProvisioningModeStatic},
	})

	node := &corev1.Node{ObjectMeta: metav1.ObjectMeta{Name: "node-1"}}
	_, err := prov.EvalStagingConfig(context.Background(), newClaim("c", "1Gi"), newVolume("vol-1", "1Gi"), node, false)
	if err == nil {
		t.Fatal("expected error for missing staging pod template")
	}
}

func TestDeletionContextFromVolume(t *testing.T) {
	pv := newVolume("vol-1", "1Gi")
	pv.Spec.ClaimRef = &corev1.ObjectReference{
		Kind:      "PersistentVolumeClaim",
		Namespace: "default",
		Name:      "claim1",
		UID:       "uid-1",
	}

	evalContext, err := DeletionContextFromVolume(pv, map[string]interface{}{"metadata": map[string]interface{}{"name": "test-class"}}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if evalContext["defaultHandle"] != "pvc-uid-1" {
		t.Fatalf("unexpected default handle %v", evalContext["defaultHandle"])
	}
	if evalContext["requestedMinCapacity"] != int64(1<<30) {
		t.Fatalf("unexpected capacity %v", evalContext["requestedMinCapacity"])
	}
	if evalContext["pvc"] != nil {
		t.Fatalf("expected nil pvc, got %v", evalContext["pvc"])
	}

	params := evalContext["params"].(map[string]interface{})
	if params["bucket"] != "b1" {
		t.Fatalf("unexpected params %v", params)
	}
}
