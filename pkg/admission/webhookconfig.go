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

package admission

import (
	"context"

	"github.com/pav-storage/pav/pkg/consts"
	admissionregistrationv1 "k8s.io/api/admissionregistration/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"
)

// Register points the pre-installed validating webhook configuration at
// this controller's service and CA bundle, and publishes the webhook
// service endpoint. Until this runs, the bootstrap configuration rejects
// every request.
func Register(ctx context.Context, kubeClient kubernetes.Interface, certs *Certs) error {
	if err := registerService(ctx, kubeClient); err != nil {
		return err
	}
	return registerWebhookConfig(ctx, kubeClient, certs)
}

func registerService(ctx context.Context, kubeClient kubernetes.Interface) error {
	service := &corev1.Service{
		TypeMeta: metav1.TypeMeta{APIVersion: "v1", Kind: "Service"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      consts.WebhookServiceName,
			Namespace: consts.AgentNamespace,
		},
		Spec: corev1.ServiceSpec{
			Selector: map[string]string{
				"app.kubernetes.io/name":      consts.AppName,
				"app.kubernetes.io/component": consts.ControllerName,
			},
			Ports: []corev1.ServicePort{
				{
					Port:       consts.WebhookPort,
					TargetPort: intstr.FromInt(consts.WebhookPort),
				},
			},
		},
	}

	_, err := kubeClient.CoreV1().Services(consts.AgentNamespace).Create(ctx, service, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		return nil
	}
	return err
}

func registerWebhookConfig(ctx context.Context, kubeClient kubernetes.Interface, certs *Certs) error {
	path := ValidatePath
	failurePolicy := admissionregistrationv1.Fail
	sideEffects := admissionregistrationv1.SideEffectClassNone

	config := &admissionregistrationv1.ValidatingWebhookConfiguration{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "admissionregistration.k8s.io/v1",
			Kind:       "ValidatingWebhookConfiguration",
		},
		ObjectMeta: metav1.ObjectMeta{Name: consts.WebhookConfigName},
		Webhooks: []admissionregistrationv1.ValidatingWebhook{
			{
				Name: consts.WebhookServiceName + "." + consts.GroupName,
				ClientConfig: admissionregistrationv1.WebhookClientConfig{
					Service: &admissionregistrationv1.ServiceReference{
						Namespace: consts.AgentNamespace,
						Name:      consts.WebhookServiceName,
						Path:      &path,
					},
					CABundle: certs.CertPEM,
				},
				Rules: []admissionregistrationv1.RuleWithOperations{
					{
						Operations: []admissionregistrationv1.OperationType{
							admissionregistrationv1.OperationAll,
						},
						Rule: admissionregistrationv1.Rule{
							APIGroups:   []string{consts.GroupName},
							APIVersions: []string{consts.LatestAPIVersion},
							Resources:   []string{consts.ProvisionerResource},
						},
					},
				},
				FailurePolicy:           &failurePolicy,
				SideEffects:             &sideEffects,
				AdmissionReviewVersions: []string{"v1"},
			},
		},
	}

	existing, err := kubeClient.AdmissionregistrationV1().ValidatingWebhookConfigurations().Get(
		ctx, consts.WebhookConfigName, metav1.GetOptions{},
	)
	if err != nil {
		if !apierrors.IsNotFound(err) {
			return err
		}
		_, err = kubeClient.AdmissionregistrationV1().ValidatingWebhookConfigurations().Create(
			ctx, config, metav1.CreateOptions{},
		)
		return err
	}

	existing.Webhooks = config.Webhooks
	_, err = kubeClient.AdmissionregistrationV1().ValidatingWebhookConfigurations().Update(
		ctx, existing, metav1.UpdateOptions{},
	)
	return err
}
