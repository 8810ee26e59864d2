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
	"regexp"

	"github.com/docker/distribution/reference"
	pavtypes "github.com/pav-storage/pav/pkg/apis/pav.storage.io/v1alpha1"
	"github.com/pav-storage/pav/pkg/template"
	"github.com/pav-storage/pav/pkg/utils"
)

// Mode selects the schema realisation.
type Mode int

// Schema modes. ShapeStrict requires every string to match its intrinsic
// shape and is applied to evaluated phase sections; TemplatePermissive also
// accepts any string carrying a template opening token and is applied to
// raw provisioner objects at admission.
const (
	ShapeStrict Mode = iota
	TemplatePermissive
)

var (
	volumeModes = []string{"Filesystem", "Block"}
	accessModes = []string{"ReadWriteOnce", "ReadOnlyMany", "ReadWriteMany"}

	dnsLabelRegexp = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)
)

func (mode Mode) check(path, value string, intrinsic func(string) error) error {
	if mode == TemplatePermissive && template.ContainsTemplate(value) {
		return template.Validate(path, value)
	}
	if err := intrinsic(value); err != nil {
		return fmt.Errorf("%s: %v", path, err)
	}
	return nil
}

func checkEnum(allowed []string) func(string) error {
	return func(value string) error {
		if !utils.Contains(allowed, value) {
			return fmt.Errorf("must be one of %v", allowed)
		}
		return nil
	}
}

func checkCapacity(value string) error {
	_, err := utils.ParseCapacity(value)
	return err
}

func checkHandle(value string) error {
	if !utils.IsValidHandle(value) {
		return fmt.Errorf("invalid volume handle %q", value)
	}
	return nil
}

// ValidateName checks that the provisioner name is a DNS label usable as a
// CSI driver name.
func ValidateName(name string) error {
	if !dnsLabelRegexp.MatchString(name) {
		return fmt.Errorf(
			"provisioner name %q must be a lowercase DNS label of at most 63 characters",
			name,
		)
	}
	return nil
}

// ValidateSpec validates a provisioner spec against the declarative schema
// in the given mode, including the cross-field rules.
func ValidateSpec(spec *pavtypes.PavProvisionerSpec, mode Mode) error {
	// provisioningModes is never a template

	if len(spec.ProvisioningModes) == 0 {
		return fmt.Errorf("spec.provisioningModes: must not be empty")
	}
	seen := map[pavtypes.ProvisioningMode]struct{}{}
	for i, m := range spec.ProvisioningModes {
		if m != pavtypes.ProvisioningModeDynamic && m != pavtypes.ProvisioningModeStatic {
			return fmt.Errorf("spec.provisioningModes[%d]: unknown mode %q", i, m)
		}
		if _, found := seen[m]; found {
			return fmt.Errorf("spec.provisioningModes[%d]: duplicate mode %q", i, m)
		}
		seen[m] = struct{}{}
	}

	dynamic := false
	static := false
	for _, m := range spec.ProvisioningModes {
		switch m {
		case pavtypes.ProvisioningModeDynamic:
			dynamic = true
		case pavtypes.ProvisioningModeStatic:
			static = true
		}
	}

	if err := validateValidation(spec.VolumeValidation, mode); err != nil {
		return err
	}
	if err := validateCreation(spec.VolumeCreation, mode); err != nil {
		return err
	}
	if spec.VolumeDeletion != nil {
		if err := validatePodTemplate("spec.volumeDeletion.podTemplate", spec.VolumeDeletion.PodTemplate, mode, false); err != nil {
			return err
		}
	}
	if err := validatePodTemplate("spec.volumeStaging.podTemplate", spec.VolumeStaging.PodTemplate, mode, true); err != nil {
		return err
	}
	if spec.VolumeUnstaging != nil {
		if err := validatePodTemplate("spec.volumeUnstaging.podTemplate", spec.VolumeUnstaging.PodTemplate, mode, false); err != nil {
			return err
		}
	}

	// cross-field rules

	if !dynamic {
		if spec.VolumeCreation != nil {
			return fmt.Errorf("spec.volumeCreation: not allowed unless 'spec.provisioningModes' contains 'Dynamic'")
		}
		if spec.VolumeDeletion != nil {
			return fmt.Errorf("spec.volumeDeletion: not allowed unless 'spec.provisioningModes' contains 'Dynamic'")
		}
	}

	if static && spec.VolumeValidation != nil && spec.VolumeValidation.PodTemplate != nil {
		return fmt.Errorf(
			"spec.volumeValidation.podTemplate: not supported when 'spec.provisioningModes' contains 'Static'",
		)
	}

	if dynamic {
		if spec.VolumeCreation == nil || (spec.VolumeCreation.Capacity == "" && spec.VolumeCreation.PodTemplate == nil) {
			return fmt.Errorf(
				"at least one of 'spec.volumeCreation.capacity' or 'spec.volumeCreation.podTemplate'" +
					" must be specified when 'spec.provisioningModes' contains 'Dynamic'",
			)
		}
	}

	return nil
}

func validateValidation(validation *pavtypes.VolumeValidation, mode Mode) error {
	if validation == nil {
		return nil
	}

	for i, value := range validation.VolumeModes {
		path := fmt.Sprintf("spec.volumeValidation.volumeModes[%d]", i)
		if err := mode.check(path, value, checkEnum(volumeModes)); err != nil {
			return err
		}
	}
	for i, value := range validation.AccessModes {
		path := fmt.Sprintf("spec.volumeValidation.accessModes[%d]", i)
		if err := mode.check(path, value, checkEnum(accessModes)); err != nil {
			return err
		}
	}
	if validation.MinCapacity != "" {
		if err := mode.check("spec.volumeValidation.minCapacity", validation.MinCapacity, checkCapacity); err != nil {
			return err
		}
	}
	if validation.MaxCapacity != "" {
		if err := mode.check("spec.volumeValidation.maxCapacity", validation.MaxCapacity, checkCapacity); err != nil {
			return err
		}
	}

	// minCapacity must not exceed maxCapacity when both are literal
	if validation.MinCapacity != "" && validation.MaxCapacity != "" &&
		!template.ContainsTemplate(validation.MinCapacity) &&
		!template.ContainsTemplate(validation.MaxCapacity) {
		min, err1 := utils.ParseCapacity(validation.MinCapacity)
		max, err2 := utils.ParseCapacity(validation.MaxCapacity)
		if err1 == nil && err2 == nil && min > max {
			return fmt.Errorf(
				"'spec.volumeValidation.minCapacity' must not be greater than" +
					" 'spec.volumeValidation.maxCapacity'",
			)
		}
	}

	return validatePodTemplate("spec.volumeValidation.podTemplate", validation.PodTemplate, mode, false)
}

func validateCreation(creation *pavtypes.VolumeCreation, mode Mode) error {
	if creation == nil {
		return nil
	}

	if creation.Handle != "" {
		if err := mode.check("spec.volumeCreation.handle", creation.Handle, checkHandle); err != nil {
			return err
		}
	}
	if creation.Capacity != "" {
		if err := mode.check("spec.volumeCreation.capacity", creation.Capacity, checkCapacity); err != nil {
			return err
		}
	}

	return validatePodTemplate("spec.volumeCreation.podTemplate", creation.PodTemplate, mode, false)
}

func validatePodTemplate(path string, podTemplate pavtypes.PodTemplate, mode Mode, required bool) error {
	if podTemplate == nil {
		if required {
			return fmt.Errorf("%s: required", path)
		}
		return nil
	}

	for key := range podTemplate {
		if key != "metadata" && key != "spec" {
			return fmt.Errorf("%s: may only specify fields 'metadata' and 'spec'", path)
		}
	}

	if mode == TemplatePermissive {
		if err := template.Validate(path, map[string]interface{}(podTemplate)); err != nil {
			return err
		}
	}

	return validateContainerImages(path, podTemplate, mode)
}

// validateContainerImages checks that every container image that is not a
// template parses as a docker image reference.
func validateContainerImages(path string, podTemplate map[string]interface{}, mode Mode) error {
	spec, ok := podTemplate["spec"].(map[string]interface{})
	if !ok {
		return nil
	}

	check := func(listPath string, list interface{}) error {
		containers, ok := list.([]interface{})
		if !ok {
			return nil
		}
		for i, item := range containers {
			container, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			image, ok := container["image"].(string)
			if !ok {
				continue
			}
			if mode == TemplatePermissive && template.ContainsTemplate(image) {
				continue
			}
			if _, err := reference.ParseNormalizedNamed(image); err != nil {
				return fmt.Errorf("%s[%d].image: invalid image reference %q; %v", listPath, i, image, err)
			}
		}
		return nil
	}

	if err := check(path+".spec.initContainers", spec["initContainers"]); err != nil {
		return err
	}
	return check(path+".spec.containers", spec["containers"])
}
