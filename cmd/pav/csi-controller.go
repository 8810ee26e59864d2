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

	"github.com/pav-storage/pav/pkg/consts"
	"github.com/pav-storage/pav/pkg/csi/controller"
	pavgrpc "github.com/pav-storage/pav/pkg/csi/grpc"
	"github.com/pav-storage/pav/pkg/csi/identity"
	"github.com/pav-storage/pav/pkg/metrics"
	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/klog/v2"
)

var csiControllerCmd = &cobra.Command{
	Use:           consts.ControllerServerName,
	Short:         "Start the CSI controller plugin of one provisioner.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(c *cobra.Command, _ []string) error {
		if provisionerName == "" || provisionerUID == "" {
			return errors.New("values to --provisioner-name and --provisioner-uid must be provided")
		}
		if kubeNodeName == "" {
			return errors.New("value to --kube-node-name must be provided")
		}
		return startCSIController(c.Context())
	},
}

func init() {
	csiControllerCmd.PersistentFlags().IntVar(&metricsPort, "metrics-port", metricsPort, "Metrics port at which "+consts.AppPrettyName+" exports metrics data")
}

func startCSIController(ctx context.Context) error {
	var cancel context.CancelFunc
	ctx, cancel = context.WithCancel(ctx)
	defer cancel()

	idServer, err := identity.NewServer(provisionerName, Version, identity.GetDefaultPluginCapabilities())
	if err != nil {
		return err
	}
	klog.V(3).Infof("Identity server started")

	ctrlServer := controller.NewServer(provisionerName, types.UID(provisionerUID), kubeNodeName)
	klog.V(3).Infof("Controller server started")

	errCh := make(chan error)

	go func() {
		if err := metrics.ServeMetrics(ctx, metricsPort); err != nil {
			klog.ErrorS(err, "unable to serve metrics")
			errCh <- err
		}
	}()

	go func() {
		if err := pavgrpc.Run(ctx, csiEndpoint, idServer, ctrlServer, nil); err != nil {
			klog.ErrorS(err, "unable to start GRPC servers")
			errCh <- err
		}
	}()

	go func() {
		if err := serveReadinessEndpoint(ctx); err != nil {
			klog.ErrorS(err, "unable to start readiness endpoint")
			errCh <- err
		}
	}()

	return <-errCh
}
