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

package main

import (
	"context"
	"errors"

	"github.com/pav-storage/pav/pkg/admission"
	"github.com/pav-storage/pav/pkg/consts"
	"github.com/pav-storage/pav/pkg/k8s"
	"github.com/pav-storage/pav/pkg/metrics"
	"github.com/pav-storage/pav/pkg/registry"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

var agentImage = ""

var controllerCmd = &cobra.Command{
	Use:           "controller",
	Short:         "Start the " + consts.AppPrettyName + " controller agent.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(c *cobra.Command, _ []string) error {
		if agentImage == "" {
			return errors.New("value to --image must be provided")
		}
		return startController(c.Context())
	},
}

func init() {
	controllerCmd.PersistentFlags().StringVar(&agentImage, "image", agentImage, "Agent image run by per-provisioner plugin workloads (MUST BE SET)")
	controllerCmd.PersistentFlags().IntVar(&metricsPort, "metrics-port", metricsPort, "Metrics port at which "+consts.AppPrettyName+" exports metrics data")
}

// startController runs the provisioner registry, the CRD registration, and
// the admission webhook in one single-replica process.
func startController(ctx context.Context) error {
	var cancel context.CancelFunc
	ctx, cancel = context.WithCancel(ctx)
	defer cancel()

	if err := registry.RegisterCRD(ctx, k8s.APIextensionsClient()); err != nil {
		return err
	}
	klog.V(3).Infof("Provisioner CRD registered")

	certs, err := admission.GenerateCerts()
	if err != nil {
		return err
	}
	if err := admission.Register(ctx, k8s.KubeClient(), certs); err != nil {
		return err
	}
	klog.V(3).Infof("Admission webhook registered")

	errCh := make(chan error)

	go func() {
		if err := metrics.ServeMetrics(ctx, metricsPort); err != nil {
			klog.ErrorS(err, "unable to serve metrics")
			errCh <- err
		}
	}()

	go func() {
		if err := admission.Serve(ctx, certs, consts.WebhookPort); err != nil {
			klog.ErrorS(err, "unable to serve admission webhook")
			errCh <- err
		}
	}()

	go func() {
		registry.StartController(ctx, k8s.DynamicClient(), agentImage)
		errCh <- errors.New("provisioner registry stopped")
	}()

	go func() {
		if err := serveReadinessEndpoint(ctx); err != nil {
			klog.ErrorS(err, "unable to start readiness endpoint")
			errCh <- err
		}
	}()

	return <-errCh
}
