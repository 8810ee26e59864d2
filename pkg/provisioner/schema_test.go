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
	"strings"
	"testing"

	pavtypes "github.com/pav-storage/pav/pkg/apis/pav.storage.io/v1alpha1"
)

func stagingSection() pavtypes.VolumeStaging {
	return pavtypes.VolumeStaging{
		PodTemplate: pavtypes.PodTemplate{
			"spec": map[string]interface{}{
				"containers": []interface{}{
					map[string]interface{}{
						"name":  "stage",
						"image": "docker.io/library/busybox:1.35",
					},
				},
			},
		},
	}
}

func TestValidateName(t *testing.T) {
	for _, name := range []string{"a", "my-provisioner", "p1", "a-b-c"} {
		if err := ValidateName(name); err != nil {
			t.Errorf("name %q: unexpected error: %v", name, err)
		}
	}
	for _, name := range []string{"", "-abc", "abc-", "ABC", "a_b", strings.Repeat("x", 64)} {
		if err := ValidateName(name); err == nil {
			t.Errorf("name %q: expected error", name)
		}
	}
}

func TestValidateSpec(t *testing.T) {
	testCases := []struct {
		name    string
		spec    pavtypes.PavProvisionerSpec
		mode    Mode
		wantErr bool
	}{
		{
			name: "minimal static",
			spec: pavtypes.PavProvisionerSpec{
				ProvisioningModes: []pavtypes.ProvisioningMode{pavtypes.ProvisioningModeStatic},
				VolumeStaging:     stagingSection(),
			},
			mode: TemplatePermissive,
		},
		{
			name: "minimal dynamic",
			spec: pavtypes.PavProvisionerSpec{
				ProvisioningModes: []pavtypes.ProvisioningMode{pavtypes.ProvisioningModeDynamic},
				VolumeCreation:    &pavtypes.VolumeCreation{Capacity: "{{ .requestedMinCapacity }}"},
				VolumeStaging:     stagingSection(),
			},
			mode: TemplatePermissive,
		},
		{
			name: "empty modes",
			spec: pavtypes.PavProvisionerSpec{
				VolumeStaging: stagingSection(),
			},
			mode:    TemplatePermissive,
			wantErr: true,
		},
		{
			name: "unknown mode",
			spec: pavtypes.PavProvisionerSpec{
				ProvisioningModes: []pavtypes.ProvisioningMode{"OnDemand"},
				VolumeStaging:     stagingSection(),
			},
			mode:    TemplatePermissive,
			wantErr: true,
		},
		{
			name: "duplicate modes",
			spec: pavtypes.PavProvisionerSpec{
				ProvisioningModes: []pavtypes.ProvisioningMode{
					pavtypes.ProvisioningModeStatic,
					pavtypes.ProvisioningModeStatic,
				},
				VolumeStaging: stagingSection(),
			},
			mode:    TemplatePermissive,
			wantErr: true,
		},
		{
			name: "static only forbids creation",
			spec: pavtypes.PavProvisionerSpec{
				ProvisioningModes: []pavtypes.ProvisioningMode{pavtypes.ProvisioningModeStatic},
				VolumeCreation:    &pavtypes.VolumeCreation{Capacity: "1Gi"},
				VolumeStaging:     stagingSection(),
			},
			mode:    TemplatePermissive,
			wantErr: true,
		},
		{
			name: "static forbids validation pod template",
			spec: pavtypes.PavProvisionerSpec{
				ProvisioningModes: []pavtypes.ProvisioningMode{pavtypes.ProvisioningModeStatic},
				VolumeValidation: &pavtypes.VolumeValidation{
					PodTemplate: pavtypes.PodTemplate{"spec": map[string]interface{}{}},
				},
				VolumeStaging: stagingSection(),
			},
			mode:    TemplatePermissive,
			wantErr: true,
		},
		{
			name: "dynamic requires capacity or creation pod template",
			spec: pavtypes.PavProvisionerSpec{
				ProvisioningModes: []pavtypes.ProvisioningMode{pavtypes.ProvisioningModeDynamic},
				VolumeStaging:     stagingSection(),
			},
			mode:    TemplatePermissive,
			wantErr: true,
		},
		{
			name: "missing staging pod template",
			spec: pavtypes.PavProvisionerSpec{
				ProvisioningModes: []pavtypes.ProvisioningMode{pavtypes.ProvisioningModeStatic},
			},
			mode:    TemplatePermissive,
			wantErr: true,
		},
		{
			name: "template in capacity accepted permissively",
			spec: pavtypes.PavProvisionerSpec{
				ProvisioningModes: []pavtypes.ProvisioningMode{pavtypes.ProvisioningModeDynamic},
				VolumeValidation: &pavtypes.VolumeValidation{
					MinCapacity: "{{ .params.min }}",
				},
				VolumeCreation: &pavtypes.VolumeCreation{Capacity: "1Gi"},
				VolumeStaging:  stagingSection(),
			},
			mode: TemplatePermissive,
		},
		{
			name: "template in capacity rejected strictly",
			spec: pavtypes.PavProvisionerSpec{
				ProvisioningModes: []pavtypes.ProvisioningMode{pavtypes.ProvisioningModeDynamic},
				VolumeValidation: &pavtypes.VolumeValidation{
					MinCapacity: "{{ .params.min }}",
				},
				VolumeCreation: &pavtypes.VolumeCreation{Capacity: "1Gi"},
				VolumeStaging:  stagingSection(),
			},
			mode:    ShapeStrict,
			wantErr: true,
		},
		{
			name: "literal min above max",
			spec: pavtypes.PavProvisionerSpec{
				ProvisioningModes: []pavtypes.ProvisioningMode{pavtypes.ProvisioningModeDynamic},
				VolumeValidation: &pavtypes.VolumeValidation{
					MinCapacity: "2Gi",
					MaxCapacity: "1Gi",
				},
				VolumeCreation: &pavtypes.VolumeCreation{Capacity: "1Gi"},
				VolumeStaging:  stagingSection(),
			},
			mode:    TemplatePermissive,
			wantErr: true,
		},
		{
			name: "unknown access mode",
			spec: pavtypes.PavProvisionerSpec{
				ProvisioningModes: []pavtypes.ProvisioningMode{pavtypes.ProvisioningModeDynamic},
				VolumeValidation: &pavtypes.VolumeValidation{
					AccessModes: []string{"ReadWriteOncePod"},
				},
				VolumeCreation: &pavtypes.VolumeCreation{Capacity: "1Gi"},
				VolumeStaging:  stagingSection(),
			},
			mode:    TemplatePermissive,
			wantErr: true,
		},
		{
			name: "pod template with stray field",
			spec: pavtypes.PavProvisionerSpec{
				ProvisioningModes: []pavtypes.ProvisioningMode{pavtypes.ProvisioningModeStatic},
				VolumeStaging: pavtypes.VolumeStaging{
					PodTemplate: pavtypes.PodTemplate{
						"spec":   map[string]interface{}{},
						"status": map[string]interface{}{},
					},
				},
			},
			mode:    TemplatePermissive,
			wantErr: true,
		},
		{
			name: "invalid container image",
			spec: pavtypes.PavProvisionerSpec{
				ProvisioningModes: []pavtypes.ProvisioningMode{pavtypes.ProvisioningModeStatic},
				VolumeStaging: pavtypes.VolumeStaging{
					PodTemplate: pavtypes.PodTemplate{
						"spec": map[string]interface{}{
							"containers": []interface{}{
								map[string]interface{}{
									"name":  "stage",
									"image": "UPPERCASE/not valid!!",
								},
							},
						},
					},
				},
			},
			mode:    TemplatePermissive,
			wantErr: true,
		},
		{
			name: "templated container image accepted permissively",
			spec: pavtypes.PavProvisionerSpec{
				ProvisioningModes: []pavtypes.ProvisioningMode{pavtypes.ProvisioningModeStatic},
				VolumeStaging: pavtypes.VolumeStaging{
					PodTemplate: pavtypes.PodTemplate{
						"spec": map[string]interface{}{
							"containers": []interface{}{
								map[string]interface{}{
									"name":  "stage",
									"image": "{{ .params.image }}",
								},
							},
						},
					},
				},
			},
			mode: TemplatePermissive,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			err := ValidateSpec(&testCase.spec, testCase.mode)
			if testCase.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !testCase.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
