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

package installer

import (
	"context"
	"testing"

	pavtypes "github.com/pav-storage/pav/pkg/apis/pav.storage.io/v1alpha1"
	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	kubernetesfake "k8s.io/client-go/kubernetes/fake"
)

func testArgs() Args {
	return NewArgs(&pavtypes.PavProvisioner{
		ObjectMeta: metav1.ObjectMeta{Name: "my-provisioner", UID: "uid-1"},
	}, "example.org/pav/pav:test")
}

func TestInstall(t *testing.T) {
	args := testArgs()
	kubeClient := kubernetesfake.NewSimpleClientset()
	ctx := context.Background()

	if err := Install(ctx, kubeClient, args); err != nil {
		t.Fatal(err)
	}

	if args.Namespace != "pav-my-provisioner" {
		t.Fatalf("unexpected bundle namespace %q", args.Namespace)
	}

	if _, err := kubeClient.CoreV1().Namespaces().Get(ctx, args.Namespace, metav1.GetOptions{}); err != nil {
		t.Fatalf("namespace missing: %v", err)
	}

	for _, name := range pluginServiceAccounts {
		if _, err := kubeClient.CoreV1().ServiceAccounts(args.Namespace).Get(ctx, name, metav1.GetOptions{}); err != nil {
			t.Fatalf("service account %v missing: %v", name, err)
		}
		if _, err := kubeClient.RbacV1().ClusterRoleBindings().Get(ctx, roleBindingName(args, name), metav1.GetOptions{}); err != nil {
			t.Fatalf("cluster role binding of %v missing: %v", name, err)
		}
	}

	deployment, err := kubeClient.AppsV1().Deployments(args.Namespace).Get(ctx, controllerPluginName, metav1.GetOptions{})
	if err != nil {
		t.Fatalf("controller plugin deployment missing: %v", err)
	}
	if deployment.Spec.Strategy.Type != appsv1.RecreateDeploymentStrategyType {
		t.Fatalf("controller plugin must roll out with Recreate, got %v", deployment.Spec.Strategy.Type)
	}
	if *deployment.Spec.Replicas != 1 {
		t.Fatalf("controller plugin must run a single replica, got %v", *deployment.Spec.Replicas)
	}
	if deployment.Spec.Template.Spec.Containers[0].Image != args.Image {
		t.Fatalf("unexpected agent image %v", deployment.Spec.Template.Spec.Containers[0].Image)
	}

	if _, err := kubeClient.AppsV1().DaemonSets(args.Namespace).Get(ctx, nodePluginName, metav1.GetOptions{}); err != nil {
		t.Fatalf("node plugin daemonset missing: %v", err)
	}

	csiDriver, err := kubeClient.StorageV1().CSIDrivers().Get(ctx, args.Name, metav1.GetOptions{})
	if err != nil {
		t.Fatalf("driver registration missing: %v", err)
	}
	if csiDriver.Spec.PodInfoOnMount == nil || !*csiDriver.Spec.PodInfoOnMount {
		t.Fatal("driver registration must request pod info on mount")
	}

	// installation is idempotent
	if err := Install(ctx, kubeClient, args); err != nil {
		t.Fatalf("reinstall failed: %v", err)
	}
}

func TestUninstall(t *testing.T) {
	args := testArgs()
	kubeClient := kubernetesfake.NewSimpleClientset()
	ctx := context.Background()

	if err := Install(ctx, kubeClient, args); err != nil {
		t.Fatal(err)
	}
	if err := Uninstall(ctx, kubeClient, args); err != nil {
		t.Fatal(err)
	}

	if _, err := kubeClient.StorageV1().CSIDrivers().Get(ctx, args.Name, metav1.GetOptions{}); err == nil {
		t.Fatal("driver registration not deleted")
	}
	if _, err := kubeClient.AppsV1().Deployments(args.Namespace).Get(ctx, controllerPluginName, metav1.GetOptions{}); err == nil {
		t.Fatal("controller plugin deployment not deleted")
	}

	// uninstalling an absent bundle is not an error
	if err := Uninstall(ctx, kubeClient, args); err != nil {
		t.Fatalf("repeated uninstall failed: %v", err)
	}
}

func TestIsReady(t *testing.T) {
	args := testArgs()
	kubeClient := kubernetesfake.NewSimpleClientset()
	ctx := context.Background()

	if err := Install(ctx, kubeClient, args); err != nil {
		t.Fatal(err)
	}

	ready, err := IsReady(ctx, kubeClient, args)
	if err != nil {
		t.Fatal(err)
	}
	if ready {
		t.Fatal("bundle must not report ready before workloads do")
	}

	deployment, err := kubeClient.AppsV1().Deployments(args.Namespace).Get(ctx, controllerPluginName, metav1.GetOptions{})
	if err != nil {
		t.Fatal(err)
	}
	deployment.Status.ReadyReplicas = 1
	if _, err := kubeClient.AppsV1().Deployments(args.Namespace).Update(ctx, deployment, metav1.UpdateOptions{}); err != nil {
		t.Fatal(err)
	}

	daemonSet, err := kubeClient.AppsV1().DaemonSets(args.Namespace).Get(ctx, nodePluginName, metav1.GetOptions{})
	if err != nil {
		t.Fatal(err)
	}
	daemonSet.Status.DesiredNumberScheduled = 2
	daemonSet.Status.NumberReady = 2
	if _, err := kubeClient.AppsV1().DaemonSets(args.Namespace).Update(ctx, daemonSet, metav1.UpdateOptions{}); err != nil {
		t.Fatal(err)
	}

	ready, err = IsReady(ctx, kubeClient, args)
	if err != nil {
		t.Fatal(err)
	}
	if !ready {
		t.Fatal("bundle must report ready once both workloads do")
	}
}
