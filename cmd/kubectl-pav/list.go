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
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pav-storage/pav/pkg/client"
	"github.com/pav-storage/pav/pkg/consts"
	"github.com/spf13/cobra"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

var listProvisioner = ""

var listCmd = &cobra.Command{
	Use:           "list",
	Short:         "List volumes managed by " + consts.AppPrettyName + " provisioners.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(c *cobra.Command, _ []string) error {
		return listVolumes(c)
	},
}

func init() {
	listCmd.PersistentFlags().StringVar(&listProvisioner, "provisioner", listProvisioner, "List only volumes of this provisioner")
}

func volumeState(pv *corev1.PersistentVolume) string {
	if reason, found := pv.Annotations[consts.UnrecoverableAnnotation]; found {
		state := pv.Annotations[consts.StateAnnotation]
		if state == "" {
			state = "unrecoverable"
		}
		return color.RedString("%s (%s)", state, reason)
	}
	return string(pv.Status.Phase)
}

func listVolumes(c *cobra.Command) error {
	provisioners := map[string]struct{}{}
	if listProvisioner != "" {
		provisioners[listProvisioner] = struct{}{}
	} else {
		result, err := client.ProvisionerClient().List(c.Context(), metav1.ListOptions{})
		if err != nil {
			return err
		}
		for _, provisioner := range result.Items {
			provisioners[provisioner.Name] = struct{}{}
		}
	}

	writer := table.NewWriter()
	writer.SetOutputMirror(os.Stdout)
	writer.AppendHeader(table.Row{"HANDLE", "PROVISIONER", "CLAIM", "CAPACITY", "STATE"})
	writer.SetStyle(table.StyleLight)
	writer.Style().Options.DrawBorder = false

	count := 0
	for provisionerName := range provisioners {
		volumes, err := client.ListVolumes(c.Context(), provisionerName)
		if err != nil {
			return err
		}

		for i := range volumes {
			pv := &volumes[i]

			claim := "-"
			if pv.Spec.ClaimRef != nil {
				claim = pv.Spec.ClaimRef.Namespace + "/" + pv.Spec.ClaimRef.Name
			}

			capacity := "-"
			if quantity, found := pv.Spec.Capacity[corev1.ResourceStorage]; found {
				capacity = humanize.IBytes(uint64(quantity.Value()))
			}

			writer.AppendRow(table.Row{
				pv.Spec.CSI.VolumeHandle,
				provisionerName,
				claim,
				capacity,
				volumeState(pv),
			})
			count++
		}
	}

	if count == 0 {
		fmt.Println("No volumes found")
		return nil
	}

	writer.Render()
	return nil
}
