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

package k8s

import (
	"github.com/pav-storage/pav/pkg/consts"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	kubernetesfake "k8s.io/client-go/kubernetes/fake"
)

// FakeInit initializes fake clients for tests. The given objects seed the
// kubernetes clientset.
func FakeInit(objects ...runtime.Object) {
	kubeConfig = nil
	kubeClient = kubernetesfake.NewSimpleClientset(objects...)
	apiextensionsClient = nil
	discoveryClient = nil

	scheme := runtime.NewScheme()
	dynamicClient = dynamicfake.NewSimpleDynamicClientWithCustomListKinds(
		scheme,
		map[schema.GroupVersionResource]string{
			{
				Group:    consts.GroupName,
				Version:  consts.LatestAPIVersion,
				Resource: consts.ProvisionerResource,
			}: consts.ProvisionerKind + "List",
		},
	)
}
