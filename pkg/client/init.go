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

package client

import (
	"sync/atomic"

	pavtypes "github.com/pav-storage/pav/pkg/apis/pav.storage.io/v1alpha1"
	"github.com/pav-storage/pav/pkg/k8s"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/klog/v2"
)

var initialized int32

// Init initializes the process-wide clients.
func Init() {
	if atomic.AddInt32(&initialized, 1) != 1 {
		return
	}

	k8s.Init()

	if err := pavtypes.AddToScheme(scheme.Scheme); err != nil {
		klog.Fatalf("unable to register provisioner types to scheme; %v", err)
	}

	currentProvisionerClient = provisionerClientFor(k8s.DynamicClient())

	initEvent(k8s.KubeClient())
}
