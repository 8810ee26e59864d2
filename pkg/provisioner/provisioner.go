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
	"fmt"

	pavtypes "github.com/pav-storage/pav/pkg/apis/pav.storage.io/v1alpha1"
	"github.com/pav-storage/pav/pkg/consts"
	"github.com/pav-storage/pav/pkg/template"
	"github.com/pav-storage/pav/pkg/utils"
	corev1 "k8s.io/api/core/v1"
	storagev1 "k8s.io/api/storage/v1"
	"k8s.io/apimachinery/pkg/runtime"
)

// ValidationConfig is the evaluated volumeValidation section.
type ValidationConfig struct {
	VolumeModes []string
	AccessModes []string
	MinCapacity int64
	MaxCapacity *int64
	PodTemplate map[string]interface{}
}

// CreationConfig is the evaluated volumeCreation section.
type CreationConfig struct {
	Handle      string
	Capacity    *int64
	PodTemplate map[string]interface{}
}

// DeletionConfig is the evaluated volumeDeletion section.
type DeletionConfig struct {
	PodTemplate map[string]interface{}
}

// StagingConfig is the evaluated volumeStaging section.
type StagingConfig struct {
	PodTemplate map[string]interface{}
}

// UnstagingConfig is the evaluated volumeUnstaging section.
type UnstagingConfig struct {
	PodTemplate map[string]interface{}
}

// Provisioner wraps a provisioner object with per-phase template
// evaluation.
type Provisioner struct {
	*pavtypes.PavProvisioner

	hooks template.Hooks
}

// New wraps the given provisioner object. The hooks are handed to every
// template evaluation.
func New(obj *pavtypes.PavProvisioner, hooks template.Hooks) *Provisioner {
	return &Provisioner{PavProvisioner: obj, hooks: hooks}
}

// Namespace returns the namespace of the provisioner's infrastructure
// bundle and worker pods.
func (p *Provisioner) Namespace() string {
	return consts.AppName + "-" + p.Name
}

// EvalDynamicValidationConfig evaluates spec.volumeValidation under the
// dynamic validation context.
func (p *Provisioner) EvalDynamicValidationConfig(
	ctx context.Context, sc *storagev1.StorageClass, pvc *corev1.PersistentVolumeClaim,
) (*ValidationConfig, error) {
	evalContext, err := DynamicValidationContext(sc, pvc)
	if err != nil {
		return nil, err
	}
	return p.evalValidationConfig(ctx, evalContext)
}

// EvalStaticValidationConfig evaluates spec.volumeValidation under the
// static validation context.
func (p *Provisioner) EvalStaticValidationConfig(
	ctx context.Context, pv *corev1.PersistentVolume,
) (*ValidationConfig, error) {
	evalContext, err := StaticValidationContext(pv)
	if err != nil {
		return nil, err
	}
	return p.evalValidationConfig(ctx, evalContext)
}

func (p *Provisioner) evalValidationConfig(
	ctx context.Context, evalContext map[string]interface{},
) (*ValidationConfig, error) {
	evaluated, err := p.evalSection(ctx, "spec.volumeValidation", p.Spec.VolumeValidation, evalContext)
	if err != nil {
		return nil, err
	}

	config := &ValidationConfig{
		VolumeModes: []string{"Filesystem"},
		AccessModes: []string{"ReadWriteOnce", "ReadOnlyMany", "ReadWriteMany"},
		MinCapacity: 1,
	}

	if value, found := evaluated["volumeModes"]; found {
		if config.VolumeModes, err = enumSlice("spec.volumeValidation.volumeModes", value, volumeModes); err != nil {
			return nil, err
		}
	}
	if value, found := evaluated["accessModes"]; found {
		if config.AccessModes, err = enumSlice("spec.volumeValidation.accessModes", value, accessModes); err != nil {
			return nil, err
		}
	}
	if value, found := evaluated["minCapacity"]; found {
		if config.MinCapacity, err = capacityValue("spec.volumeValidation.minCapacity", value); err != nil {
			return nil, err
		}
	}
	if value, found := evaluated["maxCapacity"]; found {
		capacity, err := capacityValue("spec.volumeValidation.maxCapacity", value)
		if err != nil {
			return nil, err
		}
		config.MaxCapacity = &capacity
	}

	if config.MaxCapacity != nil && config.MinCapacity > *config.MaxCapacity {
		return nil, fmt.Errorf(
			"'spec.volumeValidation.minCapacity' must not be greater than" +
				" 'spec.volumeValidation.maxCapacity'",
		)
	}

	if config.PodTemplate, err = podTemplateValue("spec.volumeValidation.podTemplate", evaluated["podTemplate"], false); err != nil {
		return nil, err
	}

	return config, nil
}

// EvalCreationConfig evaluates spec.volumeCreation under the creation
// context.
func (p *Provisioner) EvalCreationConfig(
	ctx context.Context, sc *storagev1.StorageClass, pvc *corev1.PersistentVolumeClaim,
) (*CreationConfig, error) {
	evalContext, err := CreationDeletionContext(sc, pvc)
	if err != nil {
		return nil, err
	}

	evaluated, err := p.evalSection(ctx, "spec.volumeCreation", p.Spec.VolumeCreation, evalContext)
	if err != nil {
		return nil, err
	}

	config := &CreationConfig{}

	if value, found := evaluated["handle"]; found {
		handle, ok := value.(string)
		if !ok || !utils.IsValidHandle(handle) {
			return nil, fmt.Errorf("spec.volumeCreation.handle: invalid volume handle %v", value)
		}
		config.Handle = handle
	}
	if value, found := evaluated["capacity"]; found {
		capacity, err := capacityValue("spec.volumeCreation.capacity", value)
		if err != nil {
			return nil, err
		}
		config.Capacity = &capacity
	}

	if p.HasMode(pavtypes.ProvisioningModeDynamic) && config.Capacity == nil {
		if _, found := evaluated["podTemplate"]; !found {
			return nil, fmt.Errorf(
				"at least one of 'spec.volumeCreation.capacity' or 'spec.volumeCreation.podTemplate'" +
					" must be specified when 'spec.provisioningModes' contains 'Dynamic'",
			)
		}
	}

	if config.PodTemplate, err = podTemplateValue("spec.volumeCreation.podTemplate", evaluated["podTemplate"], false); err != nil {
		return nil, err
	}

	return config, nil
}

// EvalDeletionConfig evaluates spec.volumeDeletion under the deletion
// context.
func (p *Provisioner) EvalDeletionConfig(
	ctx context.Context, sc *storagev1.StorageClass, pvc *corev1.PersistentVolumeClaim,
) (*DeletionConfig, error) {
	evalContext, err := CreationDeletionContext(sc, pvc)
	if err != nil {
		return nil, err
	}

	evaluated, err := p.evalSection(ctx, "spec.volumeDeletion", p.Spec.VolumeDeletion, evalContext)
	if err != nil {
		return nil, err
	}

	podTemplate, err := podTemplateValue("spec.volumeDeletion.podTemplate", evaluated["podTemplate"], false)
	if err != nil {
		return nil, err
	}
	return &DeletionConfig{PodTemplate: podTemplate}, nil
}

// EvalDeletionConfigWith evaluates spec.volumeDeletion under an already
// built deletion context, as used when the original claim is gone.
func (p *Provisioner) EvalDeletionConfigWith(
	ctx context.Context, evalContext map[string]interface{},
) (*DeletionConfig, error) {
	evaluated, err := p.evalSection(ctx, "spec.volumeDeletion", p.Spec.VolumeDeletion, evalContext)
	if err != nil {
		return nil, err
	}

	podTemplate, err := podTemplateValue("spec.volumeDeletion.podTemplate", evaluated["podTemplate"], false)
	if err != nil {
		return nil, err
	}
	return &DeletionConfig{PodTemplate: podTemplate}, nil
}

// EvalStagingConfig evaluates spec.volumeStaging under the staging context.
func (p *Provisioner) EvalStagingConfig(
	ctx context.Context,
	pvc *corev1.PersistentVolumeClaim,
	pv *corev1.PersistentVolume,
	node *corev1.Node,
	readOnly bool,
) (*StagingConfig, error) {
	evalContext, err := StagingUnstagingContext(pvc, pv, node, readOnly)
	if err != nil {
		return nil, err
	}

	evaluated, err := p.evalSection(ctx, "spec.volumeStaging", &p.Spec.VolumeStaging, evalContext)
	if err != nil {
		return nil, err
	}

	podTemplate, err := podTemplateValue("spec.volumeStaging.podTemplate", evaluated["podTemplate"], true)
	if err != nil {
		return nil, err
	}
	return &StagingConfig{PodTemplate: podTemplate}, nil
}

// EvalUnstagingConfig evaluates spec.volumeUnstaging under the unstaging
// context.
func (p *Provisioner) EvalUnstagingConfig(
	ctx context.Context,
	pvc *corev1.PersistentVolumeClaim,
	pv *corev1.PersistentVolume,
	node *corev1.Node,
	readOnly bool,
) (*UnstagingConfig, error) {
	evalContext, err := StagingUnstagingContext(pvc, pv, node, readOnly)
	if err != nil {
		return nil, err
	}

	evaluated, err := p.evalSection(ctx, "spec.volumeUnstaging", p.Spec.VolumeUnstaging, evalContext)
	if err != nil {
		return nil, err
	}

	podTemplate, err := podTemplateValue("spec.volumeUnstaging.podTemplate", evaluated["podTemplate"], false)
	if err != nil {
		return nil, err
	}
	return &UnstagingConfig{PodTemplate: podTemplate}, nil
}

// evalSection evaluates all templates under one spec section and returns
// the resulting object. A nil section evaluates to an empty object.
func (p *Provisioner) evalSection(
	ctx context.Context, path string, section interface{}, evalContext map[string]interface{},
) (map[string]interface{}, error) {
	sectionMap := map[string]interface{}{}

	if section != nil && !isNilPointer(section) {
		converted, err := runtime.DefaultUnstructuredConverter.ToUnstructured(section)
		if err != nil {
			return nil, fmt.Errorf("%s: %v", path, err)
		}
		sectionMap = converted
	}

	engine := template.NewEngine(evalContext, p.hooks)
	evaluated, err := engine.EvaluateObject(ctx, path, sectionMap)
	if err != nil {
		return nil, err
	}

	result, ok := evaluated.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%s: evaluated to a non-object value", path)
	}
	return result, nil
}

func isNilPointer(value interface{}) bool {
	switch v := value.(type) {
	case *pavtypes.VolumeValidation:
		return v == nil
	case *pavtypes.VolumeCreation:
		return v == nil
	case *pavtypes.VolumeDeletion:
		return v == nil
	case *pavtypes.VolumeStaging:
		return v == nil
	case *pavtypes.VolumeUnstaging:
		return v == nil
	}
	return false
}

func enumSlice(path string, value interface{}, allowed []string) ([]string, error) {
	list, ok := value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%s: must be a list", path)
	}
	result := make([]string, 0, len(list))
	for i, item := range list {
		str, ok := item.(string)
		if !ok || !utils.Contains(allowed, str) {
			return nil, fmt.Errorf("%s[%d]: must be one of %v", path, i, allowed)
		}
		result = append(result, str)
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("%s: must not be empty", path)
	}
	return result, nil
}

func capacityValue(path string, value interface{}) (int64, error) {
	switch v := value.(type) {
	case string:
		capacity, err := utils.ParseCapacity(v)
		if err != nil {
			return 0, fmt.Errorf("%s: %v", path, err)
		}
		return capacity, nil
	case int64:
		if v <= 0 {
			return 0, fmt.Errorf("%s: capacity must be positive", path)
		}
		return v, nil
	case float64:
		if v <= 0 || v != float64(int64(v)) {
			return 0, fmt.Errorf("%s: capacity must be a positive integer", path)
		}
		return int64(v), nil
	default:
		return 0, fmt.Errorf("%s: invalid capacity value of type %T", path, value)
	}
}

func podTemplateValue(path string, value interface{}, required bool) (map[string]interface{}, error) {
	if value == nil {
		if required {
			return nil, fmt.Errorf("%s: required", path)
		}
		return nil, nil
	}

	podTemplate, ok := value.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%s: must be an object", path)
	}
	for key := range podTemplate {
		if key != "metadata" && key != "spec" {
			return nil, fmt.Errorf("%s: may only specify fields 'metadata' and 'spec'", path)
		}
	}
	if err := validateContainerImages(path, podTemplate, ShapeStrict); err != nil {
		return nil, err
	}
	return podTemplate, nil
}
