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
	"os"

	"github.com/pav-storage/pav/pkg/client"
	"github.com/pav-storage/pav/pkg/consts"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version of this application populated by `go build`
var Version string

var kubeconfig = ""

var mainCmd = &cobra.Command{
	Use:           "kubectl-" + consts.AppName,
	Short:         "Inspect " + consts.AppPrettyName + " provisioners and volumes.",
	SilenceUsage:  true,
	SilenceErrors: false,
	Version:       Version,
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

	mainCmd.PersistentFlags().StringVarP(&kubeconfig, "kubeconfig", "k", kubeconfig, "Path to the kubeconfig file to use for Kubernetes requests.")
	viper.BindPFlags(mainCmd.PersistentFlags())

	mainCmd.AddCommand(listCmd)
}

func main() {
	if err := mainCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
