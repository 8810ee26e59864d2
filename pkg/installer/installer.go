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

	pavtypes "github.com/pav-storage/pav/pkg/apis/pav.storage.io/v1alpha1"
	"github.com/pav-storage/pav/pkg/consts"
	"go.uber.org/multierr"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/klog/v2"
)

// Sidecar container images embedded unchanged into the bundle workloads.
const (
	csiProvisionerImage      = "k8s.gcr.io/sig-storage/csi-provisioner:v2.2.2"
	nodeDriverRegistrarImage = "k8s.gcr.io/sig-storage/csi-node-driver-registrar:v2.2.0"
)

// Fixed cluster roles the per-provisioner service accounts bind to. Both
// are shipped with the application manifests.
const (
	controllerPluginClusterRole = consts.AppName + "-controller-plugin"
	nodePluginClusterRole       = consts.AppName + "-node-plugin"
)

// Service account names inside each provisioner's namespace.
const (
	controllerPluginServiceAccount = "controller-plugin"
	nodePluginServiceAccount       = "node-plugin"
)

// Args carries everything needed to materialise a provisioner's
// infrastructure bundle.
type Args struct {
	// Name and UID identify the provisioner object.
	Name string
	UID  types.UID

	// Namespace is the bundle namespace.
	Namespace string

	// Image is the PaV agent image the plugin workloads run.
	Image string
}

// NewArgs builds installer args for a provisioner object.
func NewArgs(provisioner *pavtypes.PavProvisioner, image string) Args {
	return Args{
		Name:      provisioner.Name,
		UID:       provisioner.UID,
		Namespace: consts.AppName + "-" + provisioner.Name,
		Image:     image,
	}
}

func defaultLabels(args Args) map[string]string {
	return map[string]string{
		"app.kubernetes.io/name":    consts.AppName,
		"app.kubernetes.io/part-of": args.Name,
	}
}

type task struct {
	name      string
	install   func(context.Context, kubernetes.Interface, Args) error
	uninstall func(context.Context, kubernetes.Interface, Args) error
}

var tasks = []task{
	{"namespace", installNamespace, uninstallNamespace},
	{"service accounts", installServiceAccounts, uninstallServiceAccounts},
	{"role bindings", installRoleBindings, uninstallRoleBindings},
	{"controller plugin deployment", installDeployment, uninstallDeployment},
	{"node plugin daemonset", installDaemonSet, uninstallDaemonSet},
	{"driver registration", installCSIDriver, uninstallCSIDriver},
}

// Install materialises the bundle. Each object is created idempotently;
// objects that already exist are updated in place.
func Install(ctx context.Context, kubeClient kubernetes.Interface, args Args) error {
	for _, task := range tasks {
		klog.V(3).InfoS("Installing bundle component", "component", task.name, "provisioner", args.Name)
		if err := task.install(ctx, kubeClient, args); err != nil {
			return err
		}
	}
	return nil
}

// Uninstall deletes the bundle in reverse creation order. Missing objects
// are not errors.
func Uninstall(ctx context.Context, kubeClient kubernetes.Interface, args Args) error {
	var errs error
	for i := len(tasks) - 1; i >= 0; i-- {
		klog.V(3).InfoS("Deleting bundle component", "component", tasks[i].name, "provisioner", args.Name)
		errs = multierr.Append(errs, tasks[i].uninstall(ctx, kubeClient, args))
	}
	return errs
}

// IsReady reports whether both plugin workloads of the bundle report
// ready.
func IsReady(ctx context.Context, kubeClient kubernetes.Interface, args Args) (bool, error) {
	deploymentReady, err := isDeploymentReady(ctx, kubeClient, args)
	if err != nil {
		return false, err
	}
	daemonSetReady, err := isDaemonSetReady(ctx, kubeClient, args)
	if err != nil {
		return false, err
	}
	return deploymentReady && daemonSetReady, nil
}
