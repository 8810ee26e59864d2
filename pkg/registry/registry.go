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
	"fmt"

	pavtypes "github.com/pav-storage/pav/pkg/apis/pav.storage.io/v1alpha1"
	"github.com/pav-storage/pav/pkg/client"
	"github.com/pav-storage/pav/pkg/consts"
	"github.com/pav-storage/pav/pkg/installer"
	"github.com/pav-storage/pav/pkg/listener"
	"github.com/pav-storage/pav/pkg/utils"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/tools/cache"
	"k8s.io/klog/v2"
)

const threadiness = 10

// Registry reconciles provisioner objects with their infrastructure
// bundles. It is single-writer per provisioner: concurrent events are
// serialised through the listener's per-key work queue.
type Registry struct {
	dynamicClient dynamic.Interface
	image         string
}

// StartController runs the registry controller until the context is
// cancelled. The image is the agent image handed to bundle workloads.
func StartController(ctx context.Context, dynamicClient dynamic.Interface, image string) {
	registry := &Registry{dynamicClient: dynamicClient, image: image}
	listener.New("provisioner-registry", registry, threadiness).Run(ctx)
}

func provisionerGVR() schema.GroupVersionResource {
	return schema.GroupVersionResource{
		Group:    consts.GroupName,
		Version:  consts.LatestAPIVersion,
		Resource: consts.ProvisionerResource,
	}
}

// ObjectType is required by the listener.EventHandler interface.
func (r *Registry) ObjectType() runtime.Object {
	object := &unstructured.Unstructured{}
	object.SetGroupVersionKind(schema.GroupVersionKind{
		Group:   consts.GroupName,
		Version: consts.LatestAPIVersion,
		Kind:    consts.ProvisionerKind,
	})
	return object
}

// ListerWatcher is required by the listener.EventHandler interface.
func (r *Registry) ListerWatcher() cache.ListerWatcher {
	resourceInterface := r.dynamicClient.Resource(provisionerGVR())
	return &cache.ListWatch{
		ListFunc: func(options metav1.ListOptions) (runtime.Object, error) {
			return resourceInterface.List(context.Background(), options)
		},
		WatchFunc: func(options metav1.ListOptions) (watch.Interface, error) {
			options.Watch = true
			return resourceInterface.Watch(context.Background(), options)
		},
	}
}

// Handle is required by the listener.EventHandler interface.
func (r *Registry) Handle(ctx context.Context, event listener.Event) error {
	if event.Type == listener.DeleteEvent {
		// teardown already ran while the finalizer was held
		return nil
	}

	object, ok := event.Object.(*unstructured.Unstructured)
	if !ok {
		return fmt.Errorf("unexpected object type %T for key %v", event.Object, event.Key)
	}

	var provisioner pavtypes.PavProvisioner
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(object.Object, &provisioner); err != nil {
		return fmt.Errorf("unable to decode provisioner %v; %v", event.Key, err)
	}

	if provisioner.IsBeingDeleted() {
		return r.reconcileDeletion(ctx, &provisioner)
	}
	return r.reconcile(ctx, &provisioner)
}

// reconcile drives absent → bootstrapping → active. It attaches the
// protect finalizer, materialises the bundle, and requeues until both
// plugin workloads report ready.
func (r *Registry) reconcile(ctx context.Context, provisioner *pavtypes.PavProvisioner) error {
	if !utils.Contains(provisioner.Finalizers, consts.ProtectFinalizer) {
		provisioner.Finalizers = append(provisioner.Finalizers, consts.ProtectFinalizer)
		updated, err := client.ProvisionerClient().Update(ctx, provisioner, metav1.UpdateOptions{})
		if err != nil {
			return fmt.Errorf("unable to attach finalizer to provisioner %v; %v", provisioner.Name, err)
		}
		provisioner = updated
	}

	args := installer.NewArgs(provisioner, r.image)

	if err := installer.Install(ctx, client.KubeClient(), args); err != nil {
		return fmt.Errorf("unable to install bundle of provisioner %v; %v", provisioner.Name, err)
	}

	ready, err := installer.IsReady(ctx, client.KubeClient(), args)
	if err != nil {
		return err
	}
	if !ready {
		return fmt.Errorf("bundle of provisioner %v is not ready yet", provisioner.Name)
	}

	klog.V(2).InfoS("Provisioner is active", "name", provisioner.Name)
	return nil
}

// reconcileDeletion drives active → blocked → tombstoned. Progress is
// refused while any volume or pending claim references the provisioner;
// once none remain, the bundle is torn down in reverse order and the
// finalizer released.
func (r *Registry) reconcileDeletion(ctx context.Context, provisioner *pavtypes.PavProvisioner) error {
	if !utils.Contains(provisioner.Finalizers, consts.ProtectFinalizer) {
		return nil
	}

	volumes, err := client.ListVolumes(ctx, provisioner.Name)
	if err != nil {
		return err
	}
	if len(volumes) > 0 {
		return fmt.Errorf(
			"provisioner %v is blocked: %d volume(s) still exist", provisioner.Name, len(volumes),
		)
	}

	claims, err := client.ListPendingClaims(ctx, provisioner.Name)
	if err != nil {
		return err
	}
	if len(claims) > 0 {
		return fmt.Errorf(
			"provisioner %v is blocked: %d pending claim(s) still reference it", provisioner.Name, len(claims),
		)
	}

	args := installer.NewArgs(provisioner, r.image)
	if err := installer.Uninstall(ctx, client.KubeClient(), args); err != nil {
		return fmt.Errorf("unable to delete bundle of provisioner %v; %v", provisioner.Name, err)
	}

	finalizers := provisioner.Finalizers[:0]
	for _, finalizer := range provisioner.Finalizers {
		if finalizer != consts.ProtectFinalizer {
			finalizers = append(finalizers, finalizer)
		}
	}
	provisioner.Finalizers = finalizers

	if _, err := client.ProvisionerClient().Update(ctx, provisioner, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("unable to release finalizer of provisioner %v; %v", provisioner.Name, err)
	}

	klog.V(2).InfoS("Provisioner tombstoned", "name", provisioner.Name)
	return nil
}
