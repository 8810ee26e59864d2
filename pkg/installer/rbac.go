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

	"go.uber.org/multierr"
	corev1 "k8s.io/api/core/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

var pluginServiceAccounts = []string{controllerPluginServiceAccount, nodePluginServiceAccount}

func installServiceAccounts(ctx context.Context, kubeClient kubernetes.Interface, args Args) error {
	for _, name := range pluginServiceAccounts {
		serviceAccount := &corev1.ServiceAccount{
			TypeMeta: metav1.TypeMeta{APIVersion: "v1", Kind: "ServiceAccount"},
			ObjectMeta: metav1.ObjectMeta{
				Name:      name,
				Namespace: args.Namespace,
				Labels:    defaultLabels(args),
			},
		}

		_, err := kubeClient.CoreV1().ServiceAccounts(args.Namespace).Create(ctx, serviceAccount, metav1.CreateOptions{})
		if err != nil && !apierrors.IsAlreadyExists(err) {
			return err
		}
	}
	return nil
}

func uninstallServiceAccounts(ctx context.Context, kubeClient kubernetes.Interface, args Args) error {
	var errs error
	for _, name := range pluginServiceAccounts {
		err := kubeClient.CoreV1().ServiceAccounts(args.Namespace).Delete(ctx, name, metav1.DeleteOptions{})
		if err != nil && !apierrors.IsNotFound(err) {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func roleBindingName(args Args, serviceAccount string) string {
	return args.Namespace + "-" + serviceAccount
}

func installRoleBindings(ctx context.Context, kubeClient kubernetes.Interface, args Args) error {
	bindings := []struct {
		serviceAccount string
		clusterRole    string
	}{
		{controllerPluginServiceAccount, controllerPluginClusterRole},
		{nodePluginServiceAccount, nodePluginClusterRole},
	}

	for _, binding := range bindings {
		roleBinding := &rbacv1.ClusterRoleBinding{
			TypeMeta: metav1.TypeMeta{APIVersion: "rbac.authorization.k8s.io/v1", Kind: "ClusterRoleBinding"},
			ObjectMeta: metav1.ObjectMeta{
				Name:   roleBindingName(args, binding.serviceAccount),
				Labels: defaultLabels(args),
			},
			Subjects: []rbacv1.Subject{
				{
					Kind:      rbacv1.ServiceAccountKind,
					Name:      binding.serviceAccount,
					Namespace: args.Namespace,
				},
			},
			RoleRef: rbacv1.RoleRef{
				APIGroup: rbacv1.GroupName,
				Kind:     "ClusterRole",
				Name:     binding.clusterRole,
			},
		}

		_, err := kubeClient.RbacV1().ClusterRoleBindings().Create(ctx, roleBinding, metav1.CreateOptions{})
		if err != nil && !apierrors.IsAlreadyExists(err) {
			return err
		}
	}
	return nil
}

func uninstallRoleBindings(ctx context.Context, kubeClient kubernetes.Interface, args Args) error {
	var errs error
	for _, serviceAccount := range pluginServiceAccounts {
		err := kubeClient.RbacV1().ClusterRoleBindings().Delete(ctx, roleBindingName(args, serviceAccount), metav1.DeleteOptions{})
		if err != nil && !apierrors.IsNotFound(err) {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
