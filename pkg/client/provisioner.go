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

	pavtypes "github.com/pav-storage/pav/pkg/apis/pav.storage.io/v1alpha1"
	"github.com/pav-storage/pav/pkg/consts"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"
)

// ProvisionerInterface is the typed interface over the provisioner CR.
type ProvisionerInterface interface {
	Create(ctx context.Context, provisioner *pavtypes.PavProvisioner, opts metav1.CreateOptions) (*pavtypes.PavProvisioner, error)
	Update(ctx context.Context, provisioner *pavtypes.PavProvisioner, opts metav1.UpdateOptions) (*pavtypes.PavProvisioner, error)
	Delete(ctx context.Context, name string, opts metav1.DeleteOptions) error
	Get(ctx context.Context, name string, opts metav1.GetOptions) (*pavtypes.PavProvisioner, error)
	List(ctx context.Context, opts metav1.ListOptions) (*pavtypes.PavProvisionerList, error)
	Watch(ctx context.Context, opts metav1.ListOptions) (watch.Interface, error)
}

// provisionerClient is a dynamic-client-backed provisioner interface.
type provisionerClient struct {
	resourceInterface dynamic.ResourceInterface
}

func provisionerClientFor(client dynamic.Interface) *provisionerClient {
	return &provisionerClient{
		resourceInterface: client.Resource(
			schema.GroupVersionResource{
				Group:    consts.GroupName,
				Version:  consts.LatestAPIVersion,
				Resource: consts.ProvisionerResource,
			},
		),
	}
}

func toProvisioner(object map[string]interface{}) (*pavtypes.PavProvisioner, error) {
	var provisioner pavtypes.PavProvisioner
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(object, &provisioner); err != nil {
		return nil, err
	}
	return &provisioner, nil
}

// Create creates a provisioner and returns the server's representation of
// it or an error on failure.
func (p *provisionerClient) Create(ctx context.Context, provisioner *pavtypes.PavProvisioner, opts metav1.CreateOptions) (*pavtypes.PavProvisioner, error) {
	provisioner.TypeMeta = pavtypes.NewProvisionerTypeMeta()
	object, err := runtime.DefaultUnstructuredConverter.ToUnstructured(provisioner)
	if err != nil {
		return nil, err
	}

	result, err := p.resourceInterface.Create(ctx, &unstructured.Unstructured{Object: object}, opts)
	if err != nil {
		return nil, err
	}
	return toProvisioner(result.Object)
}

// Update updates a provisioner and returns the server's representation of
// it or an error on failure.
func (p *provisionerClient) Update(ctx context.Context, provisioner *pavtypes.PavProvisioner, opts metav1.UpdateOptions) (*pavtypes.PavProvisioner, error) {
	provisioner.TypeMeta = pavtypes.NewProvisionerTypeMeta()
	object, err := runtime.DefaultUnstructuredConverter.ToUnstructured(provisioner)
	if err != nil {
		return nil, err
	}

	result, err := p.resourceInterface.Update(ctx, &unstructured.Unstructured{Object: object}, opts)
	if err != nil {
		return nil, err
	}
	return toProvisioner(result.Object)
}

// Delete deletes a provisioner by name.
func (p *provisionerClient) Delete(ctx context.Context, name string, opts metav1.DeleteOptions) error {
	return p.resourceInterface.Delete(ctx, name, opts)
}

// Get returns a provisioner by name or an error on failure.
func (p *provisionerClient) Get(ctx context.Context, name string, opts metav1.GetOptions) (*pavtypes.PavProvisioner, error) {
	result, err := p.resourceInterface.Get(ctx, name, opts)
	if err != nil {
		return nil, err
	}
	return toProvisioner(result.Object)
}

// List returns the list of provisioners or an error on failure.
func (p *provisionerClient) List(ctx context.Context, opts metav1.ListOptions) (*pavtypes.PavProvisionerList, error) {
	result, err := p.resourceInterface.List(ctx, opts)
	if err != nil {
		return nil, err
	}

	var list pavtypes.PavProvisionerList
	if err = runtime.DefaultUnstructuredConverter.FromUnstructured(result.UnstructuredContent(), &list); err != nil {
		return nil, err
	}

	items := []pavtypes.PavProvisioner{}
	for i := range result.Items {
		provisioner, err := toProvisioner(result.Items[i].Object)
		if err != nil {
			return nil, err
		}
		items = append(items, *provisioner)
	}
	list.Items = items
	return &list, nil
}

// Watch returns a watch interface or an error on failure.
func (p *provisionerClient) Watch(ctx context.Context, opts metav1.ListOptions) (watch.Interface, error) {
	opts.Watch = true
	return p.resourceInterface.Watch(ctx, opts)
}
