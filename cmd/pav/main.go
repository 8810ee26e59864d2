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
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pav-storage/pav/pkg/client"
	"github.com/pav-storage/pav/pkg/consts"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"k8s.io/klog/v2"
)

// Version of this application populated by `go build`
// e.g. $ go build -ldflags="-X main.Version=v0.1.0"
var Version string

// flags
var (
	kubeconfig      = ""
	kubeNodeName    = ""
	csiEndpoint     = consts.UnixCSIEndpoint
	provisionerName = ""
	provisionerUID  = ""
	readinessPort   = consts.ReadinessPort
	metricsPort     = consts.MetricsPort
)

var mainCmd = &cobra.Command{
	Use:           consts.AppName,
	Short:         "Start " + consts.AppPrettyName + " agents and drivers. This binary is usually executed by Kubernetes.",
	SilenceUsage:  true,
	SilenceErrors: false,
	Version:       Version,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd:   true,
		DisableNoDescFlag:   true,
		DisableDescriptions: true,
		HiddenDefaultCmd:    true,
	},
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		client.Init()
		return nil
	},
}

func init() {
	if mainCmd.Version == "" {
		mainCmd.Version = "dev"
	}

	viper.AutomaticEnv()

	kflags := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(kflags)

	mainCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	mainCmd.PersistentFlags().AddGoFlagSet(kflags)

	flag.Set("logtostderr", "true")
	flag.Set("alsologtostderr", "true")

	mainCmd.PersistentFlags().StringVarP(&kubeconfig, "kubeconfig", "k", kubeconfig, "Path to the kubeconfig file to use for Kubernetes requests.")
	mainCmd.PersistentFlags().StringVar(&kubeNodeName, "kube-node-name", kubeNodeName, "Kubernetes node name this process runs on")
	mainCmd.PersistentFlags().StringVar(&csiEndpoint, "csi-endpoint", csiEndpoint, "CSI endpoint")
	mainCmd.PersistentFlags().StringVar(&provisionerName, "provisioner-name", provisionerName, "Name of the provisioner served by this process")
	mainCmd.PersistentFlags().StringVar(&provisionerUID, "provisioner-uid", provisionerUID, "UID of the provisioner served by this process")
	mainCmd.PersistentFlags().IntVar(&readinessPort, "readiness-port", readinessPort, "Readiness port at which "+consts.AppPrettyName+" exports readiness of services")

	mainCmd.PersistentFlags().MarkHidden("alsologtostderr")
	mainCmd.PersistentFlags().MarkHidden("add_dir_header")
	mainCmd.PersistentFlags().MarkHidden("log_file")
	mainCmd.PersistentFlags().MarkHidden("log_file_max_size")
	mainCmd.PersistentFlags().MarkHidden("one_output")
	mainCmd.PersistentFlags().MarkHidden("skip_headers")
	mainCmd.PersistentFlags().MarkHidden("skip_log_headers")
	mainCmd.PersistentFlags().MarkHidden("log_backtrace_at")
	mainCmd.PersistentFlags().MarkHidden("log_dir")
	mainCmd.PersistentFlags().MarkHidden("logtostderr")
	mainCmd.PersistentFlags().MarkHidden("stderrthreshold")
	mainCmd.PersistentFlags().MarkHidden("vmodule")

	// suppress the incorrect prefix in log output
	flag.CommandLine.Parse([]string{})
	viper.BindPFlags(mainCmd.PersistentFlags())

	mainCmd.AddCommand(controllerCmd)
	mainCmd.AddCommand(csiControllerCmd)
	mainCmd.AddCommand(csiNodeCmd)
}

func main() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		s := <-sigs
		klog.V(1).Infof("Exiting on signal %v", s.String())
		cancel()
		<-time.After(1 * time.Second)
		os.Exit(1)
	}()

	if err := mainCmd.ExecuteContext(ctx); err != nil {
		klog.ErrorS(err, "unable to execute command")
		os.Exit(1)
	}
}
