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
	"path/filepath"
	"sync/atomic"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	apiextensions "k8s.io/apiextensions-apiserver/pkg/client/clientset/clientset/typed/apiextensions/v1"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/klog/v2"
)

const maxThreadCount = 40

var (
	initialized int32

	kubeConfig          *rest.Config
	kubeClient          kubernetes.Interface
	apiextensionsClient apiextensions.ApiextensionsV1Interface
	discoveryClient     discovery.DiscoveryInterface
	dynamicClient       dynamic.Interface
)

// KubeConfig returns the process-wide kubernetes REST config.
func KubeConfig() *rest.Config {
	return kubeConfig
}

// KubeClient returns the process-wide kubernetes client.
func KubeClient() kubernetes.Interface {
	return kubeClient
}

// APIextensionsClient returns the process-wide API extensions client.
func APIextensionsClient() apiextensions.ApiextensionsV1Interface {
	return apiextensionsClient
}

// DiscoveryClient returns the process-wide discovery client.
func DiscoveryClient() discovery.DiscoveryInterface {
	return discoveryClient
}

// DynamicClient returns the process-wide dynamic client.
func DynamicClient() dynamic.Interface {
	return dynamicClient
}

// GetKubeConfig resolves kubernetes client configuration from the
// --kubeconfig flag, $HOME/.kube/config, or the in-cluster environment.
func GetKubeConfig() (*rest.Config, error) {
	path := viper.GetString("kubeconfig")
	if path == "" {
		home, err := homedir.Dir()
		if err != nil {
			klog.V(3).Infof("unable to find home directory; %v", err)
		}
		path = filepath.Join(home, ".kube", "config")
	}

	config, err := clientcmd.BuildConfigFromFlags("", path)
	if err != nil {
		if config, err = rest.InClusterConfig(); err != nil {
			return nil, err
		}
	}
	config.QPS = float32(maxThreadCount / 2)
	config.Burst = maxThreadCount
	return config, nil
}

// Init initializes the process-wide kubernetes clients.
func Init() {
	if atomic.AddInt32(&initialized, 1) != 1 {
		return
	}

	config, err := GetKubeConfig()
	if err != nil {
		klog.Fatalf("unable to get kubernetes configuration; %v", err)
	}
	kubeConfig = config

	if kubeClient, err = kubernetes.NewForConfig(config); err != nil {
		klog.Fatalf("unable to create new kubernetes client interface; %v", err)
	}
	if apiextensionsClient, err = apiextensions.NewForConfig(config); err != nil {
		klog.Fatalf("unable to create new API extensions client interface; %v", err)
	}
	if discoveryClient, err = discovery.NewDiscoveryClientForConfig(config); err != nil {
		klog.Fatalf("unable to create new discovery client interface; %v", err)
	}
	if dynamicClient, err = dynamic.NewForConfig(config); err != nil {
		klog.Fatalf("unable to create new dynamic client interface; %v", err)
	}
}
