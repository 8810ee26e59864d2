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
	"testing"

	pavtypes "github.com/pav-storage/pav/pkg/apis/pav.storage.io/v1alpha1"
	"github.com/pav-storage/pav/pkg/client"
	"github.com/pav-storage/pav/pkg/consts"
	"github.com/pav-storage/pav/pkg/k8s"
	"github.com/pav-storage/pav/pkg/listener"
	"github.com/pav-storage/pav/pkg/utils"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/watch"
)

// fakeProvisionerClient is an in-memory client.ProvisionerInterface.
type fakeProvisionerClient struct {
	objects map[string]*pavtypes.PavProvisioner
}

func newFakeProvisionerClient(objects ...*pavtypes.PavProvisioner) *fakeProvisionerClient {
	c := &fakeProvisionerClient{objects: map[string]*pavtypes.PavProvisioner{}}
	for _, object := range objects {
		c.objects[object.Name] = object.DeepCopy()
	}
	return c
}

func (c *fakeProvisionerClient) Create(_ context.Context, provisioner *pavtypes.PavProvisioner, _ metav1.CreateOptions) (*pavtypes.PavProvisioner, error) {
	c.objects[provisioner.Name] = provisioner.DeepCopy()
	return provisioner, nil
}

func (c *fakeProvisionerClient) Update(_ context.Context, provisioner *pavtypes.PavProvisioner, _ metav1.UpdateOptions) (*pavtypes.PavProvisioner, error) {
	if _, found := c.objects[provisioner.Name]; !found {
		return nil, apierrors.NewNotFound(schema.GroupResource{Group: consts.GroupName, Resource: consts.ProvisionerResource}, provisioner.Name)
	}
	c.objects[provisioner.Name] = provisioner.DeepCopy()
	return provisioner, nil
}

func (c *fakeProvisionerClient) Delete(_ context.Context, name string, _ metav1.DeleteOptions) error {
	delete(c.objects, name)
	return nil
}

func (c *fakeProvisionerClient) Get(_ context.Context, name string, _ metav1.GetOptions) (*pavtypes.PavProvisioner, error) {
	object, found := c.objects[name]
	if !found {
		return nil, apierrors.NewNotFound(schema.GroupResource{Group: consts.GroupName, Resource: consts.ProvisionerResource}, name)
	}
	return object.DeepCopy(), nil
}

func (c *fakeProvisionerClient) List(_ context.Context, _ metav1.ListOptions) (*pavtypes.PavProvisionerList, error) {
	list := &pavtypes.PavProvisionerList{}
	for _, object := range c.objects {
		list.Items = append(list.Items, *object.DeepCopy())
	}
	return list, nil
}

func (c *fakeProvisionerClient) Watch(_ context.Context, _ metav1.ListOptions) (watch.Interface, error) {
	return nil, fmt.Errorf("not supported")
}

func newTestProvisioner(deleting bool) *pavtypes.PavProvisioner {
	object := &pavtypes.PavProvisioner{
		TypeMeta:   pavtypes.NewProvisionerTypeMeta(),
		ObjectMeta: metav1.ObjectMeta{Name: "my-provisioner", UID: "uid-1"},
		Spec: pavtypes.PavProvisionerSpec{
			ProvisioningModes: []pavtypes.ProvisioningMode{pavtypes.ProvisioningModeStatic},
			VolumeStaging: pavtypes.VolumeStaging{
				PodTemplate: pavtypes.PodTemplate{"spec": map[string]interface{}{}},
			},
		},
	}
	if deleting {
		now := metav1.Now()
		object.DeletionTimestamp = &now
		object.Finalizers = []string{consts.ProtectFinalizer}
	}
	return object
}

func handleEvent(t *testing.T, registry *Registry, object *pavtypes.PavProvisioner) error {
	t.Helper()

	content, err := runtime.DefaultUnstructuredConverter.ToUnstructured(object)
	if err != nil {
		t.Fatal(err)
	}

	return registry.Handle(context.Background(), listener.Event{
		Type:   listener.UpdateEvent,
		Key:    object.Name,
		Object: &unstructured.Unstructured{Object: content},
	})
}

func TestReconcileInstallsBundle(t *testing.T) {
	k8s.FakeInit()
	provisionerClient := newFakeProvisionerClient(newTestProvisioner(false))
	client.SetProvisionerClient(provisionerClient)

	registry := &Registry{dynamicClient: k8s.DynamicClient(), image: "example.org/pav/pav:test"}

	// bundle workloads are not ready yet, so the event requeues
	if err := handleEvent(t, registry, newTestProvisioner(false)); err == nil {
		t.Fatal("expected requeue while bundle is not ready")
	}

	// the finalizer was attached
	object, err := provisionerClient.Get(context.Background(), "my-provisioner", metav1.GetOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !utils.Contains(object.Finalizers, consts.ProtectFinalizer) {
		t.Fatal("protect finalizer not attached")
	}

	// the bundle was materialised
	ctx := context.Background()
	if _, err := k8s.KubeClient().CoreV1().Namespaces().Get(ctx, "pav-my-provisioner", metav1.GetOptions{}); err != nil {
		t.Fatalf("bundle namespace missing: %v", err)
	}
	if _, err := k8s.KubeClient().AppsV1().Deployments("pav-my-provisioner").Get(ctx, "controller-plugin", metav1.GetOptions{}); err != nil {
		t.Fatalf("controller plugin deployment missing: %v", err)
	}
	if _, err := k8s.KubeClient().StorageV1().CSIDrivers().Get(ctx, "my-provisioner", metav1.GetOptions{}); err != nil {
		t.Fatalf("driver registration missing: %v", err)
	}
}

func TestReconcileDeletionBlockedByVolumes(t *testing.T) {
	volumeMode := corev1.PersistentVolumeFilesystem
	pv := &corev1.PersistentVolume{
		ObjectMeta: metav1.ObjectMeta{Name: "pv-1"},
		Spec: corev1.PersistentVolumeSpec{
			VolumeMode: &volumeMode,
			PersistentVolumeSource: corev1.PersistentVolumeSource{
				CSI: &corev1.CSIPersistentVolumeSource{
					Driver:       "my-provisioner",
					VolumeHandle: "vol-1",
				},
			},
		},
	}

	k8s.FakeInit(pv)
	provisionerClient := newFakeProvisionerClient(newTestProvisioner(true))
	client.SetProvisionerClient(provisionerClient)

	registry := &Registry{dynamicClient: k8s.DynamicClient(), image: "example.org/pav/pav:test"}

	// a volume still exists: deletion must be blocked
	if err := handleEvent(t, registry, newTestProvisioner(true)); err == nil {
		t.Fatal("expected deletion to be blocked while a volume exists")
	}

	object, err := provisionerClient.Get(context.Background(), "my-provisioner", metav1.GetOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !utils.Contains(object.Finalizers, consts.ProtectFinalizer) {
		t.Fatal("finalizer must be held while volumes exist")
	}

	// remove the volume: deletion proceeds and releases the finalizer
	if err := k8s.KubeClient().CoreV1().PersistentVolumes().Delete(context.Background(), "pv-1", metav1.DeleteOptions{}); err != nil {
		t.Fatal(err)
	}

	if err := handleEvent(t, registry, newTestProvisioner(true)); err != nil {
		t.Fatal(err)
	}

	object, err = provisionerClient.Get(context.Background(), "my-provisioner", metav1.GetOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if utils.Contains(object.Finalizers, consts.ProtectFinalizer) {
		t.Fatal("finalizer must be released once no volumes remain")
	}
}
