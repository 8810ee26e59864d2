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

package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// ProvisioningMode denotes how volumes of a provisioner come to exist.
type ProvisioningMode string

// Enum values of ProvisioningMode type.
const (
	ProvisioningModeDynamic ProvisioningMode = "Dynamic"
	ProvisioningModeStatic  ProvisioningMode = "Static"
)

// PodTemplate is a free-form pod template carried in a provisioner spec.
// Every string leaf is a template; it is only given structure after
// evaluation. Not the same as Kubernetes' PodTemplate.
type PodTemplate map[string]interface{}

// VolumeValidation carries admission filters and the optional validation
// worker pod template. All scalar fields are template strings.
type VolumeValidation struct {
	VolumeModes []string    `json:"volumeModes,omitempty"`
	AccessModes []string    `json:"accessModes,omitempty"`
	MinCapacity string      `json:"minCapacity,omitempty"`
	MaxCapacity string      `json:"maxCapacity,omitempty"`
	PodTemplate PodTemplate `json:"podTemplate,omitempty"`
}

// VolumeCreation configures the creation phase of dynamic provisioning.
type VolumeCreation struct {
	Handle      string      `json:"handle,omitempty"`
	Capacity    string      `json:"capacity,omitempty"`
	PodTemplate PodTemplate `json:"podTemplate,omitempty"`
}

// VolumeDeletion configures the deletion phase of dynamic provisioning.
type VolumeDeletion struct {
	PodTemplate PodTemplate `json:"podTemplate,omitempty"`
}

// VolumeStaging configures the staging phase.
type VolumeStaging struct {
	PodTemplate PodTemplate `json:"podTemplate"`
}

// VolumeUnstaging configures the unstaging phase.
type VolumeUnstaging struct {
	PodTemplate PodTemplate `json:"podTemplate,omitempty"`
}

// PavProvisionerSpec defines a provisioner in terms of per-phase pod
// templates.
type PavProvisionerSpec struct {
	ProvisioningModes []ProvisioningMode `json:"provisioningModes"`

	VolumeValidation *VolumeValidation `json:"volumeValidation,omitempty"`
	VolumeCreation   *VolumeCreation   `json:"volumeCreation,omitempty"`
	VolumeDeletion   *VolumeDeletion   `json:"volumeDeletion,omitempty"`
	VolumeStaging    VolumeStaging     `json:"volumeStaging"`
	VolumeUnstaging  *VolumeUnstaging  `json:"volumeUnstaging,omitempty"`
}

// +genclient
// +genclient:nonNamespaced
// +kubebuilder:resource:scope=Cluster
// +kubebuilder:storageversion
// +k8s:deepcopy-gen:interfaces=k8s.io/apimachinery/pkg/runtime.Object

// PavProvisioner denotes the provisioner CRD object.
type PavProvisioner struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata"`

	Spec PavProvisionerSpec `json:"spec"`
}

// HasMode reports whether the provisioner carries the given mode.
func (p PavProvisioner) HasMode(mode ProvisioningMode) bool {
	for _, m := range p.Spec.ProvisioningModes {
		if m == mode {
			return true
		}
	}
	return false
}

// IsBeingDeleted reports whether deletion of the CR was requested.
func (p PavProvisioner) IsBeingDeleted() bool {
	return p.DeletionTimestamp != nil && !p.DeletionTimestamp.IsZero()
}

// +k8s:deepcopy-gen:interfaces=k8s.io/apimachinery/pkg/runtime.Object

// PavProvisionerList denotes a list of provisioners.
type PavProvisionerList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata"`

	Items []PavProvisioner `json:"items"`
}
