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

package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/container-storage-interface/spec/lib/go/csi"
	"github.com/dustin/go-humanize"
	pavtypes "github.com/pav-storage/pav/pkg/apis/pav.storage.io/v1alpha1"
	"github.com/pav-storage/pav/pkg/client"
	"github.com/pav-storage/pav/pkg/consts"
	"github.com/pav-storage/pav/pkg/provisioner"
	"github.com/pav-storage/pav/pkg/template"
	"github.com/pav-storage/pav/pkg/utils"
	"github.com/pav-storage/pav/pkg/worker"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	corev1 "k8s.io/api/core/v1"
	storagev1 "k8s.io/api/storage/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/klog/v2"
)

const (
	pvcNameKey      = "csi.storage.k8s.io/pvc/name"
	pvcNamespaceKey = "csi.storage.k8s.io/pvc/namespace"
)

// Server denotes controller server. It is stateless between RPCs: state
// lives in the orchestrator objects and in the worker pod names.
type Server struct {
	csi.UnimplementedControllerServer

	provisionerName string
	provisionerUID  types.UID
	nodeName        string

	driver *worker.Driver
	locks  *utils.KeyLocker
}

// NewServer creates new controller server. Worker pods are pinned to this
// server's node so their side channels can be read from the shared host
// directory.
func NewServer(provisionerName string, provisionerUID types.UID, nodeName string) *Server {
	return &Server{
		provisionerName: provisionerName,
		provisionerUID:  provisionerUID,
		nodeName:        nodeName,
		driver:          worker.NewDriver(client.KubeClient()),
		locks:           utils.NewKeyLocker(),
	}
}

// ControllerGetCapabilities constructs ControllerGetCapabilitiesResponse.
// Only create/delete is advertised; controller-publish and snapshots are
// not.
func (c *Server) ControllerGetCapabilities(_ context.Context, _ *csi.ControllerGetCapabilitiesRequest) (*csi.ControllerGetCapabilitiesResponse, error) {
	return &csi.ControllerGetCapabilitiesResponse{
		Capabilities: []*csi.ControllerServiceCapability{
			{
				Type: &csi.ControllerServiceCapability_Rpc{
					Rpc: &csi.ControllerServiceCapability_RPC{Type: csi.ControllerServiceCapability_RPC_CREATE_DELETE_VOLUME},
				},
			},
		},
	}, nil
}

func (c *Server) lookupClaimHooks() template.Hooks {
	return template.Hooks{
		LookupClaim: func(ctx context.Context, name, namespace string) (map[string]interface{}, error) {
			pvc, err := client.KubeClient().CoreV1().PersistentVolumeClaims(namespace).Get(ctx, name, metav1.GetOptions{})
			if err != nil {
				return nil, err
			}
			return runtime.DefaultUnstructuredConverter.ToUnstructured(pvc)
		},
	}
}

func (c *Server) getProvisioner(ctx context.Context) (*provisioner.Provisioner, error) {
	object, err := client.ProvisionerClient().Get(ctx, c.provisionerName, metav1.GetOptions{})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "unable to get provisioner %v; %v", c.provisionerName, err)
	}
	if object.IsBeingDeleted() {
		return nil, status.Errorf(codes.FailedPrecondition, "provisioner %v is under deletion", c.provisionerName)
	}
	return provisioner.New(object, c.lookupClaimHooks()), nil
}

// workerOwner references the controller-plugin deployment so orphaned
// worker pods are collected with it.
func (c *Server) workerOwner(ctx context.Context, namespace string) *metav1.OwnerReference {
	deployment, err := client.KubeClient().AppsV1().Deployments(namespace).Get(ctx, "controller-plugin", metav1.GetOptions{})
	if err != nil {
		klog.V(4).InfoS("Unable to get controller-plugin deployment for owner reference", "error", err)
		return nil
	}
	isController := false
	return &metav1.OwnerReference{
		APIVersion: "apps/v1",
		Kind:       "Deployment",
		Name:       deployment.Name,
		UID:        deployment.UID,
		Controller: &isController,
	}
}

func (c *Server) workerOptions(phase provisioner.Phase, namespace, key, epoch, handle string, owner *metav1.OwnerReference) worker.Options {
	podName := worker.PodName(c.provisionerUID, phase, key, epoch)
	return worker.Options{
		Phase:          phase,
		ProvisionerUID: c.provisionerUID,
		Namespace:      namespace,
		Key:            key,
		Epoch:          epoch,
		Handle:         handle,
		NodeName:       c.nodeName,
		HostDir:        filepath.Join(consts.WorkersRootDir, podName),
		Owner:          owner,
	}
}

// validateCapabilities rejects capability requests a pod-template-defined
// provisioner cannot honour.
func validateCapabilities(capabilities []*csi.VolumeCapability) error {
	for _, capability := range capabilities {
		if mountCap := capability.GetMount(); mountCap != nil {
			if mountCap.GetFsType() != "" {
				return status.Error(codes.InvalidArgument,
					`must not specify 'StorageClass.parameters["csi.storage.k8s.io/fstype"]'`)
			}
			if len(mountCap.GetMountFlags()) != 0 {
				return status.Error(codes.InvalidArgument, "must not specify 'StorageClass.mountOptions'")
			}
		}
	}
	return nil
}

func requestedVolumeMode(capabilities []*csi.VolumeCapability) string {
	for _, capability := range capabilities {
		if capability.GetBlock() != nil {
			return "Block"
		}
	}
	return "Filesystem"
}

var accessModeNames = map[csi.VolumeCapability_AccessMode_Mode]string{
	csi.VolumeCapability_AccessMode_SINGLE_NODE_WRITER:      "ReadWriteOnce",
	csi.VolumeCapability_AccessMode_MULTI_NODE_READER_ONLY:  "ReadOnlyMany",
	csi.VolumeCapability_AccessMode_MULTI_NODE_MULTI_WRITER: "ReadWriteMany",
}

func requestedAccessModes(capabilities []*csi.VolumeCapability) ([]string, error) {
	var modes []string
	for _, capability := range capabilities {
		if capability.GetAccessMode() == nil {
			continue
		}
		name, found := accessModeNames[capability.GetAccessMode().GetMode()]
		if !found {
			return nil, status.Errorf(codes.InvalidArgument,
				"unsupported access mode %v", capability.GetAccessMode().GetMode())
		}
		if !utils.Contains(modes, name) {
			modes = append(modes, name)
		}
	}
	return modes, nil
}

// CreateVolume creates a volume by driving the validation and creation
// phases of the claim's provisioner.
func (c *Server) CreateVolume(ctx context.Context, req *csi.CreateVolumeRequest) (*csi.CreateVolumeResponse, error) {
	pvcName := req.GetParameters()[pvcNameKey]
	pvcNamespace := req.GetParameters()[pvcNamespaceKey]
	if pvcName == "" || pvcNamespace == "" {
		return nil, status.Error(codes.InvalidArgument,
			"missing claim identity in request parameters; is --extra-create-metadata set?")
	}

	klog.V(3).InfoS("Create volume requested",
		"name", req.GetName(), "pvc", pvcNamespace+"/"+pvcName)

	pvc, err := client.KubeClient().CoreV1().PersistentVolumeClaims(pvcNamespace).Get(ctx, pvcName, metav1.GetOptions{})
	if err != nil {
		return nil, status.Errorf(codes.NotFound, "unable to get claim %v/%v; %v", pvcNamespace, pvcName, err)
	}

	// serialise with other create attempts for the same claim
	claimKey := string(pvc.UID)
	c.locks.Lock(claimKey)
	defer c.locks.Unlock(claimKey)

	prov, err := c.getProvisioner(ctx)
	if err != nil {
		return nil, err
	}
	if !prov.HasMode(pavtypes.ProvisioningModeDynamic) {
		return nil, status.Errorf(codes.InvalidArgument,
			"provisioner %v does not support dynamic provisioning", c.provisionerName)
	}

	if pvc.Spec.StorageClassName == nil {
		return nil, status.Errorf(codes.InvalidArgument, "claim %v/%v names no storage class", pvcNamespace, pvcName)
	}
	sc, err := client.KubeClient().StorageV1().StorageClasses().Get(ctx, *pvc.Spec.StorageClassName, metav1.GetOptions{})
	if err != nil {
		return nil, status.Errorf(codes.NotFound, "unable to get storage class %v; %v", *pvc.Spec.StorageClassName, err)
	}
	if sc.Provisioner != c.provisionerName {
		return nil, status.Errorf(codes.InvalidArgument,
			"storage class %v names provisioner %v, not %v", sc.Name, sc.Provisioner, c.provisionerName)
	}

	if err := validateCapabilities(req.GetVolumeCapabilities()); err != nil {
		return nil, err
	}

	// snapshot the storage class on the claim; deletion rebuilds its context
	// from the copy stored in the volume context below, not from this one
	if err := c.annotateClaim(ctx, pvc, sc); err != nil {
		return nil, status.Errorf(codes.Internal, "unable to annotate claim %v/%v; %v", pvcNamespace, pvcName, err)
	}

	if err := c.runValidationPhase(ctx, prov, sc, pvc, req); err != nil {
		return nil, err
	}

	handle, capacity, err := c.runCreationPhase(ctx, prov, sc, pvc)
	if err != nil {
		return nil, err
	}

	c.setClaimState(ctx, pvc, "created")

	volumeContext := map[string]string{}
	for key, value := range sc.Parameters {
		volumeContext[key] = value
	}
	if scJSON, err := json.Marshal(sc); err == nil {
		volumeContext[consts.StorageClassAnnotation] = string(scJSON)
	}

	klog.V(2).InfoS("Volume created",
		"handle", handle, "capacity", humanize.Comma(capacity), "pvc", pvcNamespace+"/"+pvcName)

	return &csi.CreateVolumeResponse{
		Volume: &csi.Volume{
			VolumeId:      handle,
			CapacityBytes: capacity,
			VolumeContext: volumeContext,
		},
	}, nil
}

func (c *Server) annotateClaim(ctx context.Context, pvc *corev1.PersistentVolumeClaim, sc *storagev1.StorageClass) error {
	scJSON, err := json.Marshal(sc)
	if err != nil {
		return err
	}

	if pvc.Annotations[consts.StorageClassAnnotation] == string(scJSON) {
		return nil
	}

	if pvc.Annotations == nil {
		pvc.Annotations = map[string]string{}
	}
	pvc.Annotations[consts.StorageClassAnnotation] = string(scJSON)
	pvc.Annotations[consts.StateAnnotation] = "creating"

	updated, err := client.KubeClient().CoreV1().PersistentVolumeClaims(pvc.Namespace).Update(ctx, pvc, metav1.UpdateOptions{})
	if err != nil {
		return err
	}
	*pvc = *updated
	return nil
}

// setClaimState records the volume state on its claim, best effort.
func (c *Server) setClaimState(ctx context.Context, pvc *corev1.PersistentVolumeClaim, state string) {
	current, err := client.KubeClient().CoreV1().PersistentVolumeClaims(pvc.Namespace).Get(ctx, pvc.Name, metav1.GetOptions{})
	if err != nil {
		klog.V(4).InfoS("Unable to record claim state", "pvc", pvc.Name, "error", err)
		return
	}
	if current.Annotations == nil {
		current.Annotations = map[string]string{}
	}
	current.Annotations[consts.StateAnnotation] = state

	if _, err := client.KubeClient().CoreV1().PersistentVolumeClaims(pvc.Namespace).Update(ctx, current, metav1.UpdateOptions{}); err != nil {
		klog.V(4).InfoS("Unable to record claim state", "pvc", pvc.Name, "error", err)
	}
}

// runValidationPhase performs the static schema checks and, when present,
// runs the validation worker pod. Failures surface as invalid-argument so
// the orchestrator retries.
func (c *Server) runValidationPhase(
	ctx context.Context,
	prov *provisioner.Provisioner,
	sc *storagev1.StorageClass,
	pvc *corev1.PersistentVolumeClaim,
	req *csi.CreateVolumeRequest,
) error {
	config, err := prov.EvalDynamicValidationConfig(ctx, sc, pvc)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	volumeMode := requestedVolumeMode(req.GetVolumeCapabilities())
	if !utils.Contains(config.VolumeModes, volumeMode) {
		return status.Errorf(codes.InvalidArgument,
			"volume mode %v is not allowed by provisioner %v", volumeMode, c.provisionerName)
	}

	modes, err := requestedAccessModes(req.GetVolumeCapabilities())
	if err != nil {
		return err
	}
	if !utils.IsSubset(config.AccessModes, modes) {
		return status.Errorf(codes.InvalidArgument,
			"access modes %v are not allowed by provisioner %v", modes, c.provisionerName)
	}

	minCapacity, maxCapacity, err := provisioner.RequestedCapacityRange(pvc)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if minCapacity < config.MinCapacity {
		return status.Errorf(codes.InvalidArgument,
			"requested capacity %v is below the provisioner minimum of %v",
			humanize.Comma(minCapacity), humanize.Comma(config.MinCapacity))
	}
	if config.MaxCapacity != nil && maxCapacity != nil && *maxCapacity > *config.MaxCapacity {
		return status.Errorf(codes.InvalidArgument,
			"requested capacity limit %v exceeds the provisioner maximum of %v",
			humanize.Comma(*maxCapacity), humanize.Comma(*config.MaxCapacity))
	}

	if config.PodTemplate == nil {
		return nil
	}

	opts := c.workerOptions(
		provisioner.PhaseValidation, prov.Namespace(), string(pvc.UID), "", "",
		c.workerOwner(ctx, prov.Namespace()),
	)

	pod, err := c.driver.Submit(ctx, config.PodTemplate, opts)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}

	verdict, err := c.driver.Await(ctx, pod, opts, consts.PhaseTimeout)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}

	if deleteErr := c.driver.Delete(ctx, opts); deleteErr != nil {
		klog.ErrorS(deleteErr, "unable to clean up validation worker", "pod", pod.Name)
	}

	if !verdict.Succeeded {
		client.Eventf(pvc, client.EventTypeWarning, client.EventReasonValidationFailed,
			"validation pod failed: %s", verdict.ErrorText)
		return status.Errorf(codes.InvalidArgument, "validation pod failed: %s", verdict.ErrorText)
	}
	return nil
}

// runCreationPhase runs the creation worker pod (when present) and
// resolves the volume handle and capacity. On failure past a worker run,
// a deletion phase is synthesised before the error is reported.
func (c *Server) runCreationPhase(
	ctx context.Context,
	prov *provisioner.Provisioner,
	sc *storagev1.StorageClass,
	pvc *corev1.PersistentVolumeClaim,
) (string, int64, error) {
	config, err := prov.EvalCreationConfig(ctx, sc, pvc)
	if err != nil {
		return "", 0, status.Error(codes.InvalidArgument, err.Error())
	}

	var verdict *worker.Verdict
	var creationPodUID types.UID

	if config.PodTemplate != nil {
		opts := c.workerOptions(
			provisioner.PhaseCreation, prov.Namespace(), string(pvc.UID), "", "",
			c.workerOwner(ctx, prov.Namespace()),
		)

		pod, err := c.driver.Submit(ctx, config.PodTemplate, opts)
		if err != nil {
			return "", 0, status.Error(codes.Internal, err.Error())
		}
		creationPodUID = pod.UID

		if verdict, err = c.driver.Await(ctx, pod, opts, consts.PhaseTimeout); err != nil {
			return "", 0, status.Error(codes.Internal, err.Error())
		}

		if !verdict.Succeeded {
			if deleteErr := c.driver.Delete(ctx, opts); deleteErr != nil {
				klog.ErrorS(deleteErr, "unable to clean up creation worker", "pod", pod.Name)
			}

			client.Eventf(pvc, client.EventTypeWarning, client.EventReasonCreationFailed,
				"creation pod failed: %s", verdict.ErrorText)

			c.rollbackCreation(ctx, prov, sc, pvc, creationPodUID)

			return "", 0, status.Errorf(codes.InvalidArgument, "creation pod failed: %s", verdict.ErrorText)
		}
	}

	handle, capacity, err := resolveHandleAndCapacity(config, verdict, pvc)
	if err != nil {
		if config.PodTemplate != nil {
			opts := c.workerOptions(provisioner.PhaseCreation, prov.Namespace(), string(pvc.UID), "", "", nil)
			if deleteErr := c.driver.Delete(ctx, opts); deleteErr != nil {
				klog.ErrorS(deleteErr, "unable to clean up creation worker")
			}
			c.rollbackCreation(ctx, prov, sc, pvc, creationPodUID)
		}
		return "", 0, status.Error(codes.InvalidArgument, err.Error())
	}

	if config.PodTemplate != nil {
		opts := c.workerOptions(provisioner.PhaseCreation, prov.Namespace(), string(pvc.UID), "", "", nil)
		if err := c.driver.Delete(ctx, opts); err != nil {
			klog.ErrorS(err, "unable to clean up creation worker")
		}
	}

	client.Eventf(pvc, client.EventTypeNormal, client.EventReasonVolumeCreated,
		"volume %s with capacity %s is created", handle, humanize.Comma(capacity))

	return handle, capacity, nil
}

// resolveHandleAndCapacity applies the resolution order: the evaluated
// field wins, then the worker's side-channel file, then the default
// handle. The capacity must be determinable.
func resolveHandleAndCapacity(
	config *provisioner.CreationConfig,
	verdict *worker.Verdict,
	pvc *corev1.PersistentVolumeClaim,
) (string, int64, error) {
	handle := config.Handle
	if handle == "" && verdict != nil && verdict.SideChannel.Handle != nil {
		handle = strings.TrimSpace(*verdict.SideChannel.Handle)
		if !utils.IsValidHandle(handle) {
			return "", 0, fmt.Errorf("creation pod specified an invalid handle in file %s/handle", consts.SideChannelDir)
		}
	}
	if handle == "" {
		handle = provisioner.DefaultHandle(pvc)
	}

	var capacity int64
	switch {
	case config.Capacity != nil:
		capacity = *config.Capacity
	case verdict != nil && verdict.SideChannel.Capacity != nil:
		capacity = *verdict.SideChannel.Capacity
	default:
		return "", 0, fmt.Errorf(
			"creation pod didn't specify volume capacity in file %s/capacity", consts.SideChannelDir,
		)
	}

	return handle, capacity, nil
}

// rollbackCreation synthesises a deletion phase after a failed creation.
// The creation pod's UID serves as the retry epoch, so each creation
// attempt gets exactly one rollback attempt.
func (c *Server) rollbackCreation(
	ctx context.Context,
	prov *provisioner.Provisioner,
	sc *storagev1.StorageClass,
	pvc *corev1.PersistentVolumeClaim,
	epoch types.UID,
) {
	config, err := prov.EvalDeletionConfig(ctx, sc, pvc)
	if err != nil {
		klog.ErrorS(err, "unable to evaluate rollback deletion config", "pvc", pvc.Name)
		return
	}
	if config.PodTemplate == nil {
		return
	}

	opts := c.workerOptions(
		provisioner.PhaseDeletion, prov.Namespace(), string(pvc.UID), string(epoch), "",
		c.workerOwner(ctx, prov.Namespace()),
	)

	pod, err := c.driver.Submit(ctx, config.PodTemplate, opts)
	if err != nil {
		klog.ErrorS(err, "unable to submit rollback deletion worker", "pvc", pvc.Name)
		return
	}

	verdict, err := c.driver.Await(ctx, pod, opts, consts.PhaseTimeout)
	if err != nil {
		klog.ErrorS(err, "error awaiting rollback deletion worker", "pod", pod.Name)
		return
	}
	if !verdict.Succeeded {
		klog.ErrorS(nil, "rollback deletion worker failed", "pod", pod.Name, "error", verdict.ErrorText)
	}

	if err := c.driver.Delete(ctx, opts); err != nil {
		klog.ErrorS(err, "unable to clean up rollback deletion worker", "pod", pod.Name)
	}
}

// DeleteVolume deletes a volume by driving the deletion phase of its
// provisioner. A deletion worker failure parks the volume in a deleting
// state that requires operator intervention.
func (c *Server) DeleteVolume(ctx context.Context, req *csi.DeleteVolumeRequest) (*csi.DeleteVolumeResponse, error) {
	volumeID := req.GetVolumeId()
	if volumeID == "" {
		return nil, status.Error(codes.InvalidArgument, "empty volume ID in the request")
	}
	klog.V(3).InfoS("Delete volume requested", "handle", volumeID)

	c.locks.Lock(volumeID)
	defer c.locks.Unlock(volumeID)

	pv, err := c.findVolume(ctx, volumeID)
	if err != nil {
		return nil, err
	}
	if pv == nil {
		// the backing volume is already gone
		return &csi.DeleteVolumeResponse{}, nil
	}

	object, err := client.ProvisionerClient().Get(ctx, c.provisionerName, metav1.GetOptions{})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "unable to get provisioner %v; %v", c.provisionerName, err)
	}
	prov := provisioner.New(object, c.lookupClaimHooks())

	if prov.Spec.VolumeDeletion == nil || prov.Spec.VolumeDeletion.PodTemplate == nil {
		return &csi.DeleteVolumeResponse{}, nil
	}

	evalContext, err := c.deletionContext(ctx, pv)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	config, err := prov.EvalDeletionConfigWith(ctx, evalContext)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if config.PodTemplate == nil {
		return &csi.DeleteVolumeResponse{}, nil
	}

	key := volumeID
	opts := c.workerOptions(
		provisioner.PhaseDeletion, prov.Namespace(), key, "", volumeID,
		c.workerOwner(ctx, prov.Namespace()),
	)

	pod, err := c.driver.Submit(ctx, config.PodTemplate, opts)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	verdict, err := c.driver.Await(ctx, pod, opts, consts.PhaseTimeout)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	if !verdict.Succeeded {
		// unrecoverable: park the volume and keep the pod for diagnostics
		if retainErr := c.driver.Retain(ctx, opts, verdict.ErrorText); retainErr != nil {
			klog.ErrorS(retainErr, "unable to annotate failed deletion worker", "pod", pod.Name)
		}
		c.parkVolume(ctx, pv, verdict.ErrorText)
		client.Eventf(pv, client.EventTypeWarning, client.EventReasonDeletionFailed,
			"deletion pod failed: %s", verdict.ErrorText)
		return nil, status.Errorf(codes.Internal, "deletion pod failed: %s", verdict.ErrorText)
	}

	if err := c.driver.Delete(ctx, opts); err != nil {
		klog.ErrorS(err, "unable to clean up deletion worker", "pod", pod.Name)
	}

	client.Eventf(pv, client.EventTypeNormal, client.EventReasonVolumeDeleted, "volume %s is deleted", volumeID)
	return &csi.DeleteVolumeResponse{}, nil
}

// findVolume locates the persistent volume addressed by the handle, or nil
// when none exists.
func (c *Server) findVolume(ctx context.Context, volumeID string) (*corev1.PersistentVolume, error) {
	volumes, err := client.ListVolumes(ctx, c.provisionerName)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "unable to list volumes; %v", err)
	}
	for i := range volumes {
		if volumes[i].Spec.CSI.VolumeHandle == volumeID {
			return &volumes[i], nil
		}
	}
	return nil, nil
}

// deletionContext rebuilds the deletion context from the persisted volume
// attributes and the (possibly absent) original claim.
func (c *Server) deletionContext(ctx context.Context, pv *corev1.PersistentVolume) (map[string]interface{}, error) {
	var scSnapshot map[string]interface{}
	if snapshot, found := pv.Spec.CSI.VolumeAttributes[consts.StorageClassAnnotation]; found {
		if err := json.Unmarshal([]byte(snapshot), &scSnapshot); err != nil {
			return nil, fmt.Errorf("invalid storage class snapshot on volume %v; %v", pv.Name, err)
		}
	}

	var pvc *corev1.PersistentVolumeClaim
	if claimRef := pv.Spec.ClaimRef; claimRef != nil {
		object, err := client.KubeClient().CoreV1().PersistentVolumeClaims(claimRef.Namespace).Get(ctx, claimRef.Name, metav1.GetOptions{})
		switch {
		case err == nil && object.UID == claimRef.UID:
			pvc = object
		case err != nil && !apierrors.IsNotFound(err):
			return nil, err
		}
	}

	return provisioner.DeletionContextFromVolume(pv, scSnapshot, pvc)
}

// parkVolume flags a volume whose deletion failed unrecoverably.
func (c *Server) parkVolume(ctx context.Context, pv *corev1.PersistentVolume, reason string) {
	if pv.Annotations == nil {
		pv.Annotations = map[string]string{}
	}
	pv.Annotations[consts.UnrecoverableAnnotation] = reason
	pv.Annotations[consts.StateAnnotation] = "deleting"

	if _, err := client.KubeClient().CoreV1().PersistentVolumes().Update(ctx, pv, metav1.UpdateOptions{}); err != nil {
		klog.ErrorS(err, "unable to park volume", "pv", pv.Name)
	}
}

// ValidateVolumeCapabilities is not called by kubernetes.
func (c *Server) ValidateVolumeCapabilities(_ context.Context, _ *csi.ValidateVolumeCapabilitiesRequest) (*csi.ValidateVolumeCapabilitiesResponse, error) {
	return nil, status.Error(codes.Unimplemented, "unimplemented")
}
