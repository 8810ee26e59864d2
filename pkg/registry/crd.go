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

package registry

import (
	"context"

	"github.com/pav-storage/pav/pkg/consts"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	apiextensions "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset/typed/apiextensions/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func anyObjectSchema() apiextensionsv1.JSONSchemaProps {
	preserveUnknownFields := true
	return apiextensionsv1.JSONSchemaProps{
		Type:                   "object",
		XPreserveUnknownFields: &preserveUnknownFields,
	}
}

func templateStringSchema() apiextensionsv1.JSONSchemaProps {
	// template strings cannot be shape-checked structurally; the
	// admission webhook validates them
	return apiextensionsv1.JSONSchemaProps{Type: "string"}
}

func templateStringListSchema() apiextensionsv1.JSONSchemaProps {
	itemSchema := templateStringSchema()
	return apiextensionsv1.JSONSchemaProps{
		Type:  "array",
		Items: &apiextensionsv1.JSONSchemaPropsOrArray{Schema: &itemSchema},
	}
}

func newProvisionerCRD() *apiextensionsv1.CustomResourceDefinition {
	specSchema := apiextensionsv1.JSONSchemaProps{
		Type:     "object",
		Required: []string{"provisioningModes", "volumeStaging"},
		Properties: map[string]apiextensionsv1.JSONSchemaProps{
			"provisioningModes": {
				Type: "array",
				Items: &apiextensionsv1.JSONSchemaPropsOrArray{
					Schema: &apiextensionsv1.JSONSchemaProps{
						Type: "string",
						Enum: []apiextensionsv1.JSON{
							{Raw: []byte(`"Dynamic"`)},
							{Raw: []byte(`"Static"`)},
						},
					},
				},
			},
			"volumeValidation": {
				Type: "object",
				Properties: map[string]apiextensionsv1.JSONSchemaProps{
					"volumeModes": templateStringListSchema(),
					"accessModes": templateStringListSchema(),
					"minCapacity": templateStringSchema(),
					"maxCapacity": templateStringSchema(),
					"podTemplate": anyObjectSchema(),
				},
			},
			"volumeCreation": {
				Type: "object",
				Properties: map[string]apiextensionsv1.JSONSchemaProps{
					"handle":      templateStringSchema(),
					"capacity":    templateStringSchema(),
					"podTemplate": anyObjectSchema(),
				},
			},
			"volumeDeletion": {
				Type: "object",
				Properties: map[string]apiextensionsv1.JSONSchemaProps{
					"podTemplate": anyObjectSchema(),
				},
			},
			"volumeStaging": {
				Type:     "object",
				Required: []string{"podTemplate"},
				Properties: map[string]apiextensionsv1.JSONSchemaProps{
					"podTemplate": anyObjectSchema(),
				},
			},
			"volumeUnstaging": {
				Type: "object",
				Properties: map[string]apiextensionsv1.JSONSchemaProps{
					"podTemplate": anyObjectSchema(),
				},
			},
		},
	}

	return &apiextensionsv1.CustomResourceDefinition{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "apiextensions.k8s.io/v1",
			Kind:       "CustomResourceDefinition",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name: consts.ProvisionerResource + "." + consts.GroupName,
		},
		Spec: apiextensionsv1.CustomResourceDefinitionSpec{
			Group: consts.GroupName,
			Scope: apiextensionsv1.ClusterScoped,
			Names: apiextensionsv1.CustomResourceDefinitionNames{
				Plural:   consts.ProvisionerResource,
				Singular: consts.AppName + "provisioner",
				Kind:     consts.ProvisionerKind,
			},
			Versions: []apiextensionsv1.CustomResourceDefinitionVersion{
				{
					Name:    consts.LatestAPIVersion,
					Served:  true,
					Storage: true,
					Schema: &apiextensionsv1.CustomResourceValidation{
						OpenAPIV3Schema: &apiextensionsv1.JSONSchemaProps{
							Type:     "object",
							Required: []string{"spec"},
							Properties: map[string]apiextensionsv1.JSONSchemaProps{
								"spec": specSchema,
							},
						},
					},
				},
			},
		},
	}
}

// RegisterCRD installs or updates the provisioner CRD.
func RegisterCRD(ctx context.Context, crdClient apiextensions.ApiextensionsV1Interface) error {
	crd := newProvisionerCRD()

	existing, err := crdClient.CustomResourceDefinitions().Get(ctx, crd.Name, metav1.GetOptions{})
	if err != nil {
		if !apierrors.IsNotFound(err) {
			return err
		}
		_, err = crdClient.CustomResourceDefinitions().Create(ctx, crd, metav1.CreateOptions{})
		return err
	}

	existing.Spec = crd.Spec
	_, err = crdClient.CustomResourceDefinitions().Update(ctx, existing, metav1.UpdateOptions{})
	return err
}
