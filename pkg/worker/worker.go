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

package worker

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sha256 "github.com/minio/sha256-simd"
	"github.com/pav-storage/pav/pkg/consts"
	"github.com/pav-storage/pav/pkg/metrics"
	"github.com/pav-storage/pav/pkg/mount"
	"github.com/pav-storage/pav/pkg/provisioner"
	"github.com/pav-storage/pav/pkg/utils"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/klog/v2"
)

const pollInterval = time.Second

// Options describes one worker pod invocation.
type Options struct {
	Phase          provisioner.Phase
	ProvisionerUID types.UID
	Namespace      string

	// Key identifies the resource the phase works on: the claim UID for
	// validation, creation, and deletion, or node-name∥handle for staging
	// and unstaging.
	Key string

	// Epoch distinguishes synthesised rollback runs from regular runs of
	// the same phase. Empty for regular runs.
	Epoch string

	// Handle is recorded as a label when already known.
	Handle string

	// NodeName pins the worker to the node whose agent reads its side
	// channel.
	NodeName string

	// HostDir is the host directory backing the worker's /pav volume.
	HostDir string

	// Bidirectional propagates mounts made under /pav by privileged
	// containers back to the host.
	Bidirectional bool

	Owner *metav1.OwnerReference
}

// SideChannel holds the values exported by a worker through the well-known
// files under /pav.
type SideChannel struct {
	Handle        *string
	Capacity      *int64
	ErrorText     string
	ReadyAppeared bool
}

// Verdict is the terminal outcome of a worker pod.
type Verdict struct {
	Succeeded   bool
	TimedOut    bool
	ExitCode    int32
	ErrorText   string
	SideChannel SideChannel
}

// PodName computes the deterministic name of a worker pod from its
// identity. At most one live pod per (phase, key) can exist because the
// name is stable.
func PodName(provisionerUID types.UID, phase provisioner.Phase, key, epoch string) string {
	sum := sha256.Sum256([]byte(string(provisionerUID) + "\x00" + string(phase) + "\x00" + key + "\x00" + epoch))
	return fmt.Sprintf("%s-%s-%s", consts.AppName, phase, hex.EncodeToString(sum[:])[:16])
}

// Driver submits worker pods, observes their status, extracts the side
// channel, and reports terminal verdicts. Shared by the controller and node
// plugins.
type Driver struct {
	kubeClient kubernetes.Interface
}

// NewDriver creates a worker pod driver.
func NewDriver(kubeClient kubernetes.Interface) *Driver {
	return &Driver{kubeClient: kubeClient}
}

// Submit instantiates the evaluated pod template as a worker pod, or
// adopts an existing live pod with the computed name.
func (driver *Driver) Submit(ctx context.Context, podTemplate map[string]interface{}, opts Options) (*corev1.Pod, error) {
	pod, err := buildPod(podTemplate, opts)
	if err != nil {
		return nil, err
	}

	created, err := driver.kubeClient.CoreV1().Pods(opts.Namespace).Create(ctx, pod, metav1.CreateOptions{})
	if err == nil {
		klog.V(3).InfoS("Worker pod created",
			"phase", opts.Phase, "pod", pod.Name, "namespace", opts.Namespace)
		return created, nil
	}
	if !apierrors.IsAlreadyExists(err) {
		return nil, fmt.Errorf("unable to create %s worker pod %v; %v", opts.Phase, pod.Name, err)
	}

	existing, err := driver.kubeClient.CoreV1().Pods(opts.Namespace).Get(ctx, pod.Name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("unable to adopt %s worker pod %v; %v", opts.Phase, pod.Name, err)
	}
	klog.V(3).InfoS("Worker pod adopted",
		"phase", opts.Phase, "pod", existing.Name, "namespace", opts.Namespace)
	return existing, nil
}

// buildPod instantiates a pod definition from the evaluated template. The
// template is not mutated.
func buildPod(podTemplate map[string]interface{}, opts Options) (*corev1.Pod, error) {
	object := runtime.DeepCopyJSON(podTemplate)
	object["apiVersion"] = "v1"
	object["kind"] = "Pod"

	var pod corev1.Pod
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(object, &pod); err != nil {
		return nil, fmt.Errorf("invalid %s pod template; %v", opts.Phase, err)
	}

	pod.Name = PodName(opts.ProvisionerUID, opts.Phase, opts.Key, opts.Epoch)
	pod.GenerateName = ""
	pod.Namespace = opts.Namespace

	if pod.Labels == nil {
		pod.Labels = map[string]string{}
	}
	pod.Labels[consts.WorkerPhaseLabel] = string(opts.Phase)
	pod.Labels[consts.WorkerProvisionerLabel] = string(opts.ProvisionerUID)
	if opts.Handle != "" {
		pod.Labels[consts.WorkerHandleLabel] = opts.Handle
	}

	if opts.Owner != nil {
		pod.OwnerReferences = []metav1.OwnerReference{*opts.Owner}
	}

	pod.Spec.RestartPolicy = corev1.RestartPolicyNever
	pod.Spec.NodeName = opts.NodeName

	hostPathType := corev1.HostPathDirectoryOrCreate
	pod.Spec.Volumes = append([]corev1.Volume{{
		Name: consts.SideChannelVolumeName,
		VolumeSource: corev1.VolumeSource{
			HostPath: &corev1.HostPathVolumeSource{
				Path: opts.HostDir,
				Type: &hostPathType,
			},
		},
	}}, pod.Spec.Volumes...)

	mountInto := func(containers []corev1.Container) {
		for i := range containers {
			volumeMount := corev1.VolumeMount{
				Name:      consts.SideChannelVolumeName,
				MountPath: consts.SideChannelDir,
			}

			privileged := containers[i].SecurityContext != nil &&
				containers[i].SecurityContext.Privileged != nil &&
				*containers[i].SecurityContext.Privileged

			if opts.Bidirectional && privileged {
				propagation := corev1.MountPropagationBidirectional
				volumeMount.MountPropagation = &propagation
			}

			containers[i].VolumeMounts = append([]corev1.VolumeMount{volumeMount}, containers[i].VolumeMounts...)
		}
	}
	mountInto(pod.Spec.InitContainers)
	mountInto(pod.Spec.Containers)

	return &pod, nil
}

// Await waits until the pod reaches a terminal state, or, for phases whose
// descriptor allows it, until /pav/ready appears while the pod stays live.
// A zero timeout means no bound.
func (driver *Driver) Await(ctx context.Context, pod *corev1.Pod, opts Options, timeout time.Duration) (*Verdict, error) {
	descriptor := provisioner.DescriptorOf(opts.Phase)
	readyFilePath := filepath.Join(opts.HostDir, "ready")
	started := time.Now()

	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	var verdict *Verdict

	err := wait.PollImmediateUntil(pollInterval, func() (bool, error) {
		current, err := driver.kubeClient.CoreV1().Pods(pod.Namespace).Get(ctx, pod.Name, metav1.GetOptions{})
		if err != nil {
			if apierrors.IsNotFound(err) {
				return false, fmt.Errorf("%s worker pod %v disappeared", opts.Phase, pod.Name)
			}
			klog.V(4).InfoS("Transient error polling worker pod",
				"pod", pod.Name, "namespace", pod.Namespace, "error", err)
			return false, nil
		}

		switch current.Status.Phase {
		case corev1.PodSucceeded:
			verdict = driver.verdictFor(current, opts, true)
			return true, nil
		case corev1.PodFailed:
			verdict = driver.verdictFor(current, opts, false)
			return true, nil
		}

		if descriptor.ReadyFileEndsWait {
			if _, err := os.Stat(readyFilePath); err == nil {
				verdict = driver.verdictFor(current, opts, true)
				verdict.SideChannel.ReadyAppeared = true
				return true, nil
			}
		}

		if !deadline.IsZero() && time.Now().After(deadline) {
			verdict = &Verdict{
				TimedOut:    true,
				ErrorText:   fmt.Sprintf("%s phase timed out after %v", opts.Phase, timeout),
				SideChannel: readSideChannel(opts.HostDir),
			}
			return true, nil
		}

		return false, nil
	}, ctx.Done())
	if err != nil {
		return nil, err
	}

	metrics.RecordPhase(string(opts.Phase), verdict.Succeeded, time.Since(started))
	return verdict, nil
}

func (driver *Driver) verdictFor(pod *corev1.Pod, opts Options, succeeded bool) *Verdict {
	verdict := &Verdict{
		Succeeded:   succeeded,
		SideChannel: readSideChannel(opts.HostDir),
	}

	for _, status := range append(append([]corev1.ContainerStatus{}, pod.Status.InitContainerStatuses...), pod.Status.ContainerStatuses...) {
		if status.State.Terminated != nil && status.State.Terminated.ExitCode != 0 {
			verdict.ExitCode = status.State.Terminated.ExitCode
			break
		}
	}

	if !succeeded {
		errorText := strings.TrimSpace(verdict.SideChannel.ErrorText)
		if errorText == "" {
			errorText = fmt.Sprintf("worker pod %v exited with code %d", pod.Name, verdict.ExitCode)
		}
		verdict.ErrorText = errorText
	}

	return verdict
}

// readSideChannel reads the well-known files out of the worker's /pav host
// directory. Missing or unreadable files simply leave their entries unset;
// the worker may have disappeared between write and read.
func readSideChannel(hostDir string) SideChannel {
	sideChannel := SideChannel{}

	if data, err := os.ReadFile(filepath.Join(hostDir, "handle")); err == nil {
		handle := strings.TrimSpace(string(data))
		sideChannel.Handle = &handle
	}

	if data, err := os.ReadFile(filepath.Join(hostDir, "capacity")); err == nil {
		if capacity, err := utils.ParseCapacity(strings.TrimSpace(string(data))); err == nil {
			sideChannel.Capacity = &capacity
		}
	}

	if data, err := os.ReadFile(filepath.Join(hostDir, "error")); err == nil {
		sideChannel.ErrorText = string(data)
	}

	if _, err := os.Stat(filepath.Join(hostDir, "ready")); err == nil {
		sideChannel.ReadyAppeared = true
	}

	return sideChannel
}

// Delete removes the worker pod and its /pav host directory, first
// unmounting anything the worker left mounted under it. Used on success
// and on retryable failure.
func (driver *Driver) Delete(ctx context.Context, opts Options) error {
	name := PodName(opts.ProvisionerUID, opts.Phase, opts.Key, opts.Epoch)

	err := driver.kubeClient.CoreV1().Pods(opts.Namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("unable to delete %s worker pod %v; %v", opts.Phase, name, err)
	}

	if err := driver.awaitGone(ctx, opts.Namespace, name); err != nil {
		return err
	}

	if opts.HostDir != "" {
		if err := mount.UnmountAll(opts.HostDir); err != nil {
			return fmt.Errorf("unable to unmount leftovers under %v; %v", opts.HostDir, err)
		}
		if err := os.RemoveAll(opts.HostDir); err != nil {
			return fmt.Errorf("unable to remove %v; %v", opts.HostDir, err)
		}
	}

	return nil
}

// Retain annotates the worker pod as needing operator attention. Used on
// unrecoverable failure, where the pod is kept for diagnostics.
func (driver *Driver) Retain(ctx context.Context, opts Options, reason string) error {
	name := PodName(opts.ProvisionerUID, opts.Phase, opts.Key, opts.Epoch)

	pod, err := driver.kubeClient.CoreV1().Pods(opts.Namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return err
	}

	if pod.Annotations == nil {
		pod.Annotations = map[string]string{}
	}
	pod.Annotations[consts.UnrecoverableAnnotation] = reason

	_, err = driver.kubeClient.CoreV1().Pods(opts.Namespace).Update(ctx, pod, metav1.UpdateOptions{})
	return err
}

// Terminate requests deletion of a live worker pod and waits until it is
// terminal or gone. Used when unpublish finds the staging worker alive.
func (driver *Driver) Terminate(ctx context.Context, opts Options) error {
	name := PodName(opts.ProvisionerUID, opts.Phase, opts.Key, opts.Epoch)

	err := driver.kubeClient.CoreV1().Pods(opts.Namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !apierrors.IsNotFound(err) {
		return err
	}
	return driver.awaitGone(ctx, opts.Namespace, name)
}

func (driver *Driver) awaitGone(ctx context.Context, namespace, name string) error {
	return wait.PollImmediateUntil(pollInterval, func() (bool, error) {
		_, err := driver.kubeClient.CoreV1().Pods(namespace).Get(ctx, name, metav1.GetOptions{})
		if apierrors.IsNotFound(err) {
			return true, nil
		}
		if err != nil {
			klog.V(4).InfoS("Transient error polling worker pod deletion",
				"pod", name, "namespace", namespace, "error", err)
		}
		return false, nil
	}, ctx.Done())
}
