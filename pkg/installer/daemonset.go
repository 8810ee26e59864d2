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

const nodePluginName = "node-plugin"

func nodePluginSelector(args Args) map[string]string {
	return map[string]string{
		"app.kubernetes.io/name":      consts.AppName,
		"app.kubernetes.io/component": nodePluginName,
		"app.kubernetes.io/part-of":   args.Name,
	}
}

func newDaemonSet(args Args) *appsv1.DaemonSet {
	selector := nodePluginSelector(args)

	hostPathDirectory := corev1.HostPathDirectory
	hostPathDirectoryOrCreate := corev1.HostPathDirectoryOrCreate

	newHostPathVolume := func(name, path string, pathType *corev1.HostPathType) corev1.Volume {
		return corev1.Volume{
			Name: name,
			VolumeSource: corev1.VolumeSource{
				HostPath: &corev1.HostPathVolumeSource{Path: path, Type: pathType},
			},
		}
	}

	pluginDir := "/var/lib/kubelet/plugins/" + args.Name
	privileged := true
	mountPropagation := corev1.MountPropagationBidirectional

	return &appsv1.DaemonSet{
		TypeMeta: metav1.TypeMeta{APIVersion: "apps/v1", Kind: "DaemonSet"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      nodePluginName,
			Namespace: args.Namespace,
			Labels:    defaultLabels(args),
		},
		Spec: appsv1.DaemonSetSpec{
			Selector: &metav1.LabelSelector{MatchLabels: selector},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: selector},
				Spec: corev1.PodSpec{
					ServiceAccountName: nodePluginServiceAccount,
					HostPID:            false,
					Containers: []corev1.Container{
						{
							Name:  "csi-node",
							Image: args.Image,
							Args: []string{
								"csi-node",
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
									Name:             "volumes-dir",
									MountPath:        consts.AppRootDir,
									MountPropagation: &mountPropagation,
								},
								{
									Name:             "kubelet-dir",
									MountPath:        "/var/lib/kubelet",
									MountPropagation: &mountPropagation,
								},
							},
						},
						{
							Name:  "node-driver-registrar",
							Image: nodeDriverRegistrarImage,
							Args: []string{
								"--csi-address=/csi/csi.sock",
								"--kubelet-registration-path=" + pluginDir + "/csi.sock",
							},
							VolumeMounts: []corev1.VolumeMount{
								{Name: "socket-dir", MountPath: "/csi"},
								{Name: "registration-dir", MountPath: "/registration"},
							},
						},
					},
					Volumes: []corev1.Volume{
						newHostPathVolume("socket-dir", pluginDir, &hostPathDirectoryOrCreate),
						newHostPathVolume("registration-dir", "/var/lib/kubelet/plugins_registry", &hostPathDirectory),
						newHostPathVolume("kubelet-dir", "/var/lib/kubelet", &hostPathDirectory),
						newHostPathVolume("volumes-dir", consts.AppRootDir, &hostPathDirectoryOrCreate),
					},
				},
			},
		},
	}
}

func installDaemonSet(ctx context.Context, kubeClient kubernetes.Interface, args Args) error {
	daemonSet := newDaemonSet(args)

	_, err := kubeClient.AppsV1().DaemonSets(args.Namespace).Create(ctx, daemonSet, metav1.CreateOptions{})
	if !apierrors.IsAlreadyExists(err) {
		return err
	}

	existing, err := kubeClient.AppsV1().DaemonSets(args.Namespace).Get(ctx, daemonSet.Name, metav1.GetOptions{})
	if err != nil {
		return err
	}
	existing.Spec = daemonSet.Spec
	_, err = kubeClient.AppsV1().DaemonSets(args.Namespace).Update(ctx, existing, metav1.UpdateOptions{})
	return err
}

func uninstallDaemonSet(ctx context.Context, kubeClient kubernetes.Interface, args Args) error {
	err := kubeClient.AppsV1().DaemonSets(args.Namespace).Delete(ctx, nodePluginName, metav1.DeleteOptions{})
	if apierrors.IsNotFound(err) {
		return nil
	}
	return err
}

func isDaemonSetReady(ctx context.Context, kubeClient kubernetes.Interface, args Args) (bool, error) {
	daemonSet, err := kubeClient.AppsV1().DaemonSets(args.Namespace).Get(ctx, nodePluginName, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return daemonSet.Status.DesiredNumberScheduled > 0 &&
		daemonSet.Status.NumberReady == daemonSet.Status.DesiredNumberScheduled, nil
}
