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

package consts

import "time"

const (
	// AppName denotes application/library/plugin/tool name
	AppName = "pav"

	// AppPrettyName denotes application/library/plugin/tool pretty name
	AppPrettyName = "PaV"

	// GroupName denotes the provisioner CRD group and the prefix of all
	// labels, annotations, and finalizers owned by this application.
	GroupName = AppName + ".storage.io"

	// LatestAPIVersion denotes the latest provisioner CRD version.
	LatestAPIVersion = "v1alpha1"

	// ProvisionerKind is the provisioner CRD kind.
	ProvisionerKind = AppPrettyName + "Provisioner"

	// ProvisionerResource is the provisioner CRD resource (plural).
	ProvisionerResource = AppName + "provisioners"

	// AgentNamespace is the namespace the controller agent runs in.
	AgentNamespace = AppName

	// AppRootDir is the application root directory on every host.
	AppRootDir = "/var/lib/" + AppName

	// WorkersRootDir is the directory under which per-worker-pod /pav
	// volumes of validation, creation, and deletion pods live.
	WorkersRootDir = AppRootDir + "/workers"

	// UnixCSIEndpoint is the default CSI socket endpoint.
	UnixCSIEndpoint = "unix:///csi/csi.sock"

	// ReadinessPort is default readiness port.
	ReadinessPort = 30443

	// ReadinessPath is default readiness path.
	ReadinessPath = "/ready"

	// MetricsPort is default metrics port.
	MetricsPort = 10443

	// WebhookPort is the port the admission webhook server listens on.
	WebhookPort = 443

	// WebhookServiceName is the service fronting the admission webhook.
	WebhookServiceName = AppName + "-webhook"

	// WebhookConfigName is the validating webhook configuration object.
	WebhookConfigName = AppName + "-validate"

	// WebhookSecretName holds the webhook's serving certificate.
	WebhookSecretName = AppName + "-webhook-certs"

	// ControllerName is the controller agent component name.
	ControllerName = AppName + "-controller"

	// NodeServerName is the CSI node server component name.
	NodeServerName = "csi-node"

	// ControllerServerName is the CSI controller server component name.
	ControllerServerName = "csi-controller"

	// ProtectFinalizer blocks provisioner deletion while volumes exist.
	ProtectFinalizer = GroupName + "/protect"

	// StorageClassAnnotation stores the storage class snapshot on a claim,
	// as the class may be deleted before the claim.
	StorageClassAnnotation = GroupName + "/storage-class"

	// StateAnnotation records the volume state on its claim.
	StateAnnotation = GroupName + "/state"

	// UnrecoverableAnnotation flags a volume parked in a deleting or
	// unstaging state that needs operator intervention.
	UnrecoverableAnnotation = GroupName + "/unrecoverable"

	// WorkerPhaseLabel records the phase a worker pod belongs to.
	WorkerPhaseLabel = GroupName + "/phase"

	// WorkerProvisionerLabel records the owning provisioner UID.
	WorkerProvisionerLabel = GroupName + "/provisioner-uid"

	// WorkerHandleLabel records the volume handle, when known.
	WorkerHandleLabel = GroupName + "/volume-handle"

	// SideChannelDir is the directory inside worker pods holding the
	// side-channel files (handle, capacity, ready, volume, error).
	SideChannelDir = "/" + AppName

	// SideChannelVolumeName names the /pav volume added to worker pods.
	SideChannelVolumeName = AppName
)

const (
	// PhaseTimeout bounds validation, creation, deletion, and unstaging
	// worker pod lifetimes. Staging may outlive it once ready.
	PhaseTimeout = 10 * time.Minute

	// RetryBaseDelay is the base delay of transient-error backoff.
	RetryBaseDelay = 100 * time.Millisecond

	// RetryMaxDelay caps transient-error backoff.
	RetryMaxDelay = 30 * time.Second
)
