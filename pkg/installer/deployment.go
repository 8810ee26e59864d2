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

	"github.com/pav-storage/pav/pkg/consts"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

const controllerPluginName = "controller-plugin"

func controllerPluginSelector(args Args) map[string]string {
	return map[string]string{
		"app.kubernetes.io/name":      consts.AppName,
		"app.kubernetes.io/component": controllerPluginName,
		"app.kubernetes.io/part-of":   args.Name,
	}
}

// newDeployment builds the controller-plugin deployment. It runs a single
// replica with a Recreate rollout strategy: the provisioning state machine
// is idempotent under optimistic-concurrency updates, so no leader election
// is needed, but two replicas must never run at once.
func newDeployment(args Args) *appsv1.Deployment {
	replicas := int32(1)
	selector := controllerPluginSelector(args)

	socketDirVolume := corev1.Volume{
		Name:         "socket-dir",
		VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}},
	}
	workersDirType := corev1.HostPathDirectoryOrCreate
	workersDirVolume := corev1.Volume{
		Name: "workers-dir",
		VolumeSource: corev1.VolumeSource{
			HostPath: &corev1.HostPathVolumeSource{
				Path: consts.AppRootDir,
				Type: &workersDirType,
			},
		},
	}

	privileged := true
	mountPropagation := corev1.MountPropagationBidirectional

	return &appsv1.Deployment{
		TypeMeta: metav1.TypeMeta{APIVersion: "apps/v1", Kind: "Deployment"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      controllerPluginName,
			Namespace: args.Namespace,
			Labels:    defaultLabels(args),
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Strategy: appsv1.DeploymentStrategy{Type: appsv1.RecreateDeploymentStrategyType},
			Selector: &metav1.LabelSelector{MatchLabels: selector},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: selector},
				Spec: corev1.PodSpec{
					ServiceAccountName: controllerPluginServiceAccount,
					Containers: []corev1.Container{
						{
							Name:  "csi-controller",
							Image: args.Image,
							Args: []string{
								"csi-controller",
								"--csi-endpoint=unix:///csi/csi.sock",
								"--provisioner-name=" + args.Name,
								"--provisioner-uid=" + string(args.UID),
								"--kube-node-name=$(KUBE_NODE_NAME)",
							},
							Env: []corev1.EnvVar{
								{
									Name: "KUBE_NODE_NAME",
									ValueFrom: &corev1.EnvVarSource{
										FieldRef: &corev1.ObjectFieldSelector{FieldPath: "spec.nodeName"},
									},
								},
							},
							SecurityContext: &corev1.SecurityContext{Privileged: &privileged},
							VolumeMounts: []corev1.VolumeMount{
								{Name: "socket-dir", MountPath: "/csi"},
								{
									Name:             "workers-dir",
									MountPath:        consts.AppRootDir,
									MountPropagation: &mountPropagation,
								},
							},
						},
						{
							Name:  "csi-provisioner",
							Image: csiProvisionerImage,
							Args: []string{
								"--csi-address=/csi/csi.sock",
								"--extra-create-metadata",
							},
							VolumeMounts: []corev1.VolumeMount{
								{Name: "socket-dir", MountPath: "/csi"},
							},
						},
					},
					Volumes: []corev1.Volume{socketDirVolume, workersDirVolume},
				},
			},
		},
	}
}

func installDeployment(ctx context.Context, kubeClient kubernetes.Interface, args Args) error {
	deployment := newDeployment(args)

	_, err := kubeClient.AppsV1().Deployments(args.Namespace).Create(ctx, deployment, metav1.CreateOptions{})
	if !apierrors.IsAlreadyExists(err) {
		return err
	}

	existing, err := kubeClient.AppsV1().Deployments(args.Namespace).Get(ctx, deployment.Name, metav1.GetOptions{})
	if err != nil {
		return err
	}
	existing.Spec = deployment.Spec
	_, err = kubeClient.AppsV1().Deployments(args.Namespace).Update(ctx, existing, metav1.UpdateOptions{})
	return err
}

func uninstallDeployment(ctx context.Context, kubeClient kubernetes.Interface, args Args) error {
	err := kubeClient.AppsV1().Deployments(args.Namespace).Delete(ctx, controllerPluginName, metav1.DeleteOptions{})
	if apierrors.IsNotFound(err) {
		return nil
	}
	return err
}

func isDeploymentReady(ctx context.Context, kubeClient kubernetes.Interface, args Args) (bool, error) {
	deployment, err := kubeClient.AppsV1().Deployments(args.Namespace).Get(ctx, controllerPluginName, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return deployment.Status.ReadyReplicas > 0, nil
}
