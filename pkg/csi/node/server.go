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

package node

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/container-storage-interface/spec/lib/go/csi"
	"github.com/pav-storage/pav/pkg/client"
	"github.com/pav-storage/pav/pkg/consts"
	"github.com/pav-storage/pav/pkg/mount"
	"github.com/pav-storage/pav/pkg/provisioner"
	"github.com/pav-storage/pav/pkg/template"
	"github.com/pav-storage/pav/pkg/utils"
	"github.com/pav-storage/pav/pkg/worker"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/klog/v2"
)

// Server denotes node server. It owns the staging and unstaging state of
// every volume of its provisioner on its node, and the per-volume host
// directories.
type Server struct {
	csi.UnimplementedNodeServer

	provisionerName string
	provisionerUID  types.UID
	nodeName        string

	driver *worker.Driver
	locks  *utils.KeyLocker
}

// NewServer creates node server.
func NewServer(provisionerName string, provisionerUID types.UID, nodeName string) *Server {
	return &Server{
		provisionerName: provisionerName,
		provisionerUID:  provisionerUID,
		nodeName:        nodeName,
		driver:          worker.NewDriver(client.KubeClient()),
		locks:           utils.NewKeyLocker(),
	}
}

// NodeGetInfo gets node information.
func (server *Server) NodeGetInfo(_ context.Context, _ *csi.NodeGetInfoRequest) (*csi.NodeGetInfoResponse, error) {
	return &csi.NodeGetInfoResponse{NodeId: server.nodeName}, nil
}

// NodeGetCapabilities gets node capabilities. Staging runs under publish,
// so no STAGE_UNSTAGE capability is advertised.
func (server *Server) NodeGetCapabilities(_ context.Context, _ *csi.NodeGetCapabilitiesRequest) (*csi.NodeGetCapabilitiesResponse, error) {
	return &csi.NodeGetCapabilitiesResponse{Capabilities: []*csi.NodeServiceCapability{}}, nil
}

// volumeDir computes the stable per-volume host directory.
func (server *Server) volumeDir(handle string) string {
	return filepath.Join(consts.AppRootDir, server.provisionerName, handle)
}

// stagingKey identifies the staging slot of a volume on this node.
func (server *Server) stagingKey(handle string) string {
	return server.nodeName + "\x00" + handle
}

func (server *Server) lookupClaimHooks() template.Hooks {
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

func (server *Server) workerOptions(phase provisioner.Phase, namespace, handle, epoch string) worker.Options {
	return worker.Options{
		Phase:          phase,
		ProvisionerUID: server.provisionerUID,
		Namespace:      namespace,
		Key:            server.stagingKey(handle),
		Epoch:          epoch,
		Handle:         handle,
		NodeName:       server.nodeName,
		HostDir:        server.volumeDir(handle),
		Bidirectional:  true,
	}
}

// findVolume locates the persistent volume addressed by the handle, or nil
// when none exists.
func (server *Server) findVolume(ctx context.Context, volumeID string) (*corev1.PersistentVolume, error) {
	volumes, err := client.ListVolumes(ctx, server.provisionerName)
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

// NodePublishVolume makes a volume available at the target path by running
// the staging phase and bind-mounting the produced artifact.
func (server *Server) NodePublishVolume(ctx context.Context, req *csi.NodePublishVolumeRequest) (*csi.NodePublishVolumeResponse, error) {
	volumeID := req.GetVolumeId()
	targetPath := req.GetTargetPath()
	if volumeID == "" {
		return nil, status.Error(codes.InvalidArgument, "volume ID must not be empty")
	}
	if targetPath == "" {
		return nil, status.Error(codes.InvalidArgument, "target path must not be empty")
	}

	klog.V(3).InfoS("Publish volume requested",
		"volumeID", volumeID, "targetPath", targetPath, "node", server.nodeName)

	server.locks.Lock(volumeID)
	defer server.locks.Unlock(volumeID)

	if err := validateCapability(req.GetVolumeCapability()); err != nil {
		return nil, err
	}

	pv, err := server.findVolume(ctx, volumeID)
	if err != nil {
		return nil, err
	}
	if pv == nil {
		return nil, status.Errorf(codes.NotFound, "no volume with handle %v exists", volumeID)
	}

	volumeMode := string(corev1.PersistentVolumeFilesystem)
	if pv.Spec.VolumeMode != nil {
		volumeMode = string(*pv.Spec.VolumeMode)
	}

	// completed publishes are no-ops
	published, err := isPublished(targetPath, volumeMode)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	if published {
		return &csi.NodePublishVolumeResponse{}, nil
	}

	object, err := client.ProvisionerClient().Get(ctx, server.provisionerName, metav1.GetOptions{})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "unable to get provisioner %v; %v", server.provisionerName, err)
	}
	if object.IsBeingDeleted() {
		return nil, status.Errorf(codes.FailedPrecondition, "provisioner %v is under deletion", server.provisionerName)
	}
	prov := provisioner.New(object, server.lookupClaimHooks())

	if pv.Spec.ClaimRef == nil {
		return nil, status.Errorf(codes.FailedPrecondition, "volume %v is not bound to a claim", pv.Name)
	}
	pvc, err := client.KubeClient().CoreV1().PersistentVolumeClaims(pv.Spec.ClaimRef.Namespace).Get(
		ctx, pv.Spec.ClaimRef.Name, metav1.GetOptions{},
	)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "unable to get claim of volume %v; %v", pv.Name, err)
	}

	node, err := client.KubeClient().CoreV1().Nodes().Get(ctx, server.nodeName, metav1.GetOptions{})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "unable to get node %v; %v", server.nodeName, err)
	}

	volumePath, err := server.runStagingPhase(ctx, prov, pvc, pv, node, req.GetReadonly())
	if err != nil {
		return nil, err
	}

	if err := publishArtifact(volumePath, targetPath, volumeMode, req.GetReadonly()); err != nil {
		server.rollbackStaging(ctx, prov, pvc, pv, node, req.GetReadonly())
		return nil, status.Error(codes.Internal, err.Error())
	}

	return &csi.NodePublishVolumeResponse{}, nil
}

func validateCapability(capability *csi.VolumeCapability) error {
	if capability == nil {
		return status.Error(codes.InvalidArgument, "volume capability must be provided")
	}
	if mountCap := capability.GetMount(); mountCap != nil {
		// for dynamically-provisioned volumes these would already have
		// failed during creation, so the messages talk about the PV
		if mountCap.GetFsType() != "" {
			return status.Error(codes.InvalidArgument, "must not specify 'PersistentVolume.spec.csi.fsType'")
		}
		if len(mountCap.GetMountFlags()) != 0 {
			return status.Error(codes.InvalidArgument, "must not specify 'PersistentVolume.spec.mountOptions'")
		}
	}
	return nil
}

func isPublished(targetPath, volumeMode string) (bool, error) {
	if volumeMode == string(corev1.PersistentVolumeBlock) {
		if _, err := os.Stat(targetPath); err == nil {
			return true, nil
		}
		return false, nil
	}
	return isMountPoint(targetPath)
}

// runStagingPhase launches the staging worker and waits until it either
// terminates successfully or signals readiness through /pav/ready while
// remaining live. It returns the host path of the produced artifact.
func (server *Server) runStagingPhase(
	ctx context.Context,
	prov *provisioner.Provisioner,
	pvc *corev1.PersistentVolumeClaim,
	pv *corev1.PersistentVolume,
	node *corev1.Node,
	readOnly bool,
) (string, error) {
	handle := pv.Spec.CSI.VolumeHandle

	config, err := prov.EvalStagingConfig(ctx, pvc, pv, node, readOnly)
	if err != nil {
		return "", status.Error(codes.InvalidArgument, err.Error())
	}

	hostDir := server.volumeDir(handle)
	if err := os.MkdirAll(hostDir, 0o755); err != nil {
		return "", status.Errorf(codes.Internal, "unable to create volume directory %v; %v", hostDir, err)
	}

	opts := server.workerOptions(provisioner.PhaseStaging, prov.Namespace(), handle, "")

	pod, err := server.driver.Submit(ctx, config.PodTemplate, opts)
	if err != nil {
		return "", status.Error(codes.Internal, err.Error())
	}

	verdict, err := server.driver.Await(ctx, pod, opts, consts.PhaseTimeout)
	if err != nil {
		return "", status.Error(codes.Internal, err.Error())
	}

	if !verdict.Succeeded {
		client.Eventf(pvc, client.EventTypeWarning, client.EventReasonStagingFailed,
			"staging pod failed: %s", verdict.ErrorText)
		server.rollbackStaging(ctx, prov, pvc, pv, node, readOnly)
		return "", status.Errorf(codes.InvalidArgument, "staging pod failed: %s", verdict.ErrorText)
	}

	volumePath, err := resolveArtifact(hostDir, pv)
	if err != nil {
		client.Eventf(pvc, client.EventTypeWarning, client.EventReasonStagingFailed, "%s", err.Error())
		server.rollbackStaging(ctx, prov, pvc, pv, node, readOnly)
		return "", status.Error(codes.InvalidArgument, err.Error())
	}

	return volumePath, nil
}

// resolveArtifact validates /pav/volume: it must resolve to a path inside
// the per-volume directory, be a directory for Filesystem volumes, and be
// a block special file of exactly the declared capacity for Block volumes.
func resolveArtifact(hostDir string, pv *corev1.PersistentVolume) (string, error) {
	resolvedDir, err := filepath.EvalSymlinks(hostDir)
	if err != nil {
		return "", err
	}

	volumePath, err := filepath.EvalSymlinks(filepath.Join(hostDir, "volume"))
	if err != nil {
		return "", fmt.Errorf("error resolving %s/volume: %v", consts.SideChannelDir, err)
	}

	if !isUnderDir(resolvedDir, volumePath) {
		return "", fmt.Errorf("%s/volume resolves to a path outside %s", consts.SideChannelDir, consts.SideChannelDir)
	}

	info, err := os.Stat(volumePath)
	if err != nil {
		return "", err
	}

	volumeMode := string(corev1.PersistentVolumeFilesystem)
	if pv.Spec.VolumeMode != nil {
		volumeMode = string(*pv.Spec.VolumeMode)
	}

	switch volumeMode {
	case string(corev1.PersistentVolumeFilesystem):
		if !info.IsDir() {
			return "", fmt.Errorf("%s/volume must resolve to a directory", consts.SideChannelDir)
		}

	case string(corev1.PersistentVolumeBlock):
		if info.Mode()&os.ModeDevice == 0 || info.Mode()&os.ModeCharDevice != 0 {
			return "", fmt.Errorf("%s/volume must resolve to a block special file", consts.SideChannelDir)
		}

		if capacity, found := pv.Spec.Capacity[corev1.ResourceStorage]; found {
			size, err := blockDeviceSize(volumePath)
			if err != nil {
				return "", err
			}
			if size != capacity.Value() {
				return "", fmt.Errorf("block device at %s/volume has size %d, should be %d",
					consts.SideChannelDir, size, capacity.Value())
			}
		}
	}

	return volumePath, nil
}

func isUnderDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// rollbackStaging synthesises an unstaging phase to release partial state
// after a staging failure. Errors are logged only: the publish error that
// triggered the rollback is the one reported.
func (server *Server) rollbackStaging(
	ctx context.Context,
	prov *provisioner.Provisioner,
	pvc *corev1.PersistentVolumeClaim,
	pv *corev1.PersistentVolume,
	node *corev1.Node,
	readOnly bool,
) {
	handle := pv.Spec.CSI.VolumeHandle

	stagingOpts := server.workerOptions(provisioner.PhaseStaging, prov.Namespace(), handle, "")
	stagingOpts.HostDir = "" // the unstaging worker still needs the directory
	if err := server.driver.Terminate(ctx, stagingOpts); err != nil {
		klog.ErrorS(err, "unable to terminate staging worker", "handle", handle)
		return
	}

	config, err := prov.EvalUnstagingConfig(ctx, pvc, pv, node, readOnly)
	if err != nil {
		klog.ErrorS(err, "unable to evaluate rollback unstaging config", "handle", handle)
		return
	}

	if config.PodTemplate != nil {
		opts := server.workerOptions(provisioner.PhaseUnstaging, prov.Namespace(), handle, "rollback")

		pod, err := server.driver.Submit(ctx, config.PodTemplate, opts)
		if err != nil {
			klog.ErrorS(err, "unable to submit rollback unstaging worker", "handle", handle)
			return
		}
		verdict, err := server.driver.Await(ctx, pod, opts, consts.PhaseTimeout)
		if err != nil {
			klog.ErrorS(err, "error awaiting rollback unstaging worker", "pod", pod.Name)
			return
		}
		if !verdict.Succeeded {
			klog.ErrorS(nil, "rollback unstaging worker failed", "pod", pod.Name, "error", verdict.ErrorText)
			return
		}
		if err := server.driver.Delete(ctx, opts); err != nil {
			klog.ErrorS(err, "unable to clean up rollback unstaging worker", "pod", pod.Name)
			return
		}
	}

	cleanupOpts := server.workerOptions(provisioner.PhaseStaging, prov.Namespace(), handle, "")
	if err := server.driver.Delete(ctx, cleanupOpts); err != nil {
		klog.ErrorS(err, "unable to clean up staging leftovers", "handle", handle)
	}
}

// publishArtifact exposes the staged artifact at the orchestrator's
// expected publish target: a bind mount for filesystem volumes, a device
// node for block volumes.
func publishArtifact(volumePath, targetPath, volumeMode string, readOnly bool) error {
	if volumeMode == string(corev1.PersistentVolumeBlock) {
		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return err
		}
		return makeBlockDeviceNode(volumePath, targetPath)
	}

	if err := os.MkdirAll(targetPath, 0o755); err != nil {
		return err
	}
	return bindMount(volumePath, targetPath, readOnly)
}

// NodeUnpublishVolume reverts a publish: it undoes the bind mount or
// device node, terminates a still-live staging worker, and runs the
// unstaging phase.
func (server *Server) NodeUnpublishVolume(ctx context.Context, req *csi.NodeUnpublishVolumeRequest) (*csi.NodeUnpublishVolumeResponse, error) {
	volumeID := req.GetVolumeId()
	targetPath := req.GetTargetPath()
	if volumeID == "" {
		return nil, status.Error(codes.InvalidArgument, "volume ID missing in request")
	}
	if targetPath == "" {
		return nil, status.Error(codes.InvalidArgument, "targetPath missing in request")
	}

	klog.V(3).InfoS("Unpublish volume requested",
		"volumeID", volumeID, "targetPath", targetPath, "node", server.nodeName)

	server.locks.Lock(volumeID)
	defer server.locks.Unlock(volumeID)

	if err := unpublishTarget(targetPath); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	pv, err := server.findVolume(ctx, volumeID)
	if err != nil {
		return nil, err
	}

	object, err := client.ProvisionerClient().Get(ctx, server.provisionerName, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			// the provisioner is gone; only local state can be released
			if err := mount.UnmountAll(server.volumeDir(volumeID)); err != nil {
				return nil, status.Error(codes.Internal, err.Error())
			}
			if err := os.RemoveAll(server.volumeDir(volumeID)); err != nil {
				return nil, status.Error(codes.Internal, err.Error())
			}
			return &csi.NodeUnpublishVolumeResponse{}, nil
		}
		return nil, status.Errorf(codes.Internal, "unable to get provisioner %v; %v", server.provisionerName, err)
	}
	prov := provisioner.New(object, server.lookupClaimHooks())

	// terminate the staging worker if it is still live
	stagingOpts := server.workerOptions(provisioner.PhaseStaging, prov.Namespace(), volumeID, "")
	stagingOpts.HostDir = ""
	if err := server.driver.Terminate(ctx, stagingOpts); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	if err := server.runUnstagingPhase(ctx, prov, pv, volumeID); err != nil {
		return nil, err
	}

	// release the per-volume directory
	cleanupOpts := server.workerOptions(provisioner.PhaseStaging, prov.Namespace(), volumeID, "")
	if err := server.driver.Delete(ctx, cleanupOpts); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	return &csi.NodeUnpublishVolumeResponse{}, nil
}

func unpublishTarget(targetPath string) error {
	if err := unmount(targetPath); err != nil {
		return err
	}
	if err := os.Remove(targetPath); err != nil && !os.IsNotExist(err) {
		// a filesystem target is a non-empty directory only if still
		// mounted; a block target is a plain device node
		if err := unmount(targetPath); err != nil {
			return err
		}
		if err := os.Remove(targetPath); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// runUnstagingPhase runs the unstaging worker when the provisioner defines
// one and the volume still exists. A failure parks the volume in an
// unstaging state for operator repair.
func (server *Server) runUnstagingPhase(
	ctx context.Context,
	prov *provisioner.Provisioner,
	pv *corev1.PersistentVolume,
	handle string,
) error {
	if pv == nil || prov.Spec.VolumeUnstaging == nil || prov.Spec.VolumeUnstaging.PodTemplate == nil {
		return nil
	}

	if pv.Spec.ClaimRef == nil {
		return nil
	}
	pvc, err := client.KubeClient().CoreV1().PersistentVolumeClaims(pv.Spec.ClaimRef.Namespace).Get(
		ctx, pv.Spec.ClaimRef.Name, metav1.GetOptions{},
	)
	if err != nil {
		klog.V(3).InfoS("Claim of volume is gone, skipping unstaging worker", "handle", handle)
		return nil
	}

	node, err := client.KubeClient().CoreV1().Nodes().Get(ctx, server.nodeName, metav1.GetOptions{})
	if err != nil {
		return status.Errorf(codes.Internal, "unable to get node %v; %v", server.nodeName, err)
	}

	config, err := prov.EvalUnstagingConfig(ctx, pvc, pv, node, false)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if config.PodTemplate == nil {
		return nil
	}

	opts := server.workerOptions(provisioner.PhaseUnstaging, prov.Namespace(), handle, "")

	pod, err := server.driver.Submit(ctx, config.PodTemplate, opts)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}

	verdict, err := server.driver.Await(ctx, pod, opts, consts.PhaseTimeout)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}

	if !verdict.Succeeded {
		// unrecoverable: park the volume and keep the pod for diagnostics
		if retainErr := server.driver.Retain(ctx, opts, verdict.ErrorText); retainErr != nil {
			klog.ErrorS(retainErr, "unable to annotate failed unstaging worker", "pod", pod.Name)
		}
		server.parkVolume(ctx, pv, verdict.ErrorText)
		client.Eventf(pv, client.EventTypeWarning, client.EventReasonUnstagingFailed,
			"unstaging pod failed: %s", verdict.ErrorText)
		return status.Errorf(codes.Internal, "unstaging pod failed: %s", verdict.ErrorText)
	}

	return server.driver.Delete(ctx, opts)
}

// parkVolume flags a volume whose unstaging failed unrecoverably.
func (server *Server) parkVolume(ctx context.Context, pv *corev1.PersistentVolume, reason string) {
	if pv.Annotations == nil {
		pv.Annotations = map[string]string{}
	}
	pv.Annotations[consts.UnrecoverableAnnotation] = reason
	pv.Annotations[consts.StateAnnotation] = "unstaging"

	if _, err := client.KubeClient().CoreV1().PersistentVolumes().Update(ctx, pv, metav1.UpdateOptions{}); err != nil {
		klog.ErrorS(err, "unable to park volume", "pv", pv.Name)
	}
}
