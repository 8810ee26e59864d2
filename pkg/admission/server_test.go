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
	"encoding/json"
	"strings"
	"testing"

	admissionv1 "k8s.io/api/admission/v1"
	"k8s.io/apimachinery/pkg/runtime"
)

func newRequest(t *testing.T, operation admissionv1.Operation, object string) *admissionv1.AdmissionRequest {
	t.Helper()
	return &admissionv1.AdmissionRequest{
		UID:       "review-1",
		Operation: operation,
		Object:    runtime.RawExtension{Raw: []byte(object)},
	}
}

const validObject = `{
	"apiVersion": "pav.storage.io/v1alpha1",
	"kind": "PavProvisioner",
	"metadata": {"name": "hello-world"},
	"spec": {
		"provisioningModes": ["Dynamic"],
		"volumeCreation": {"capacity": "{{ .requestedMinCapacity }}"},
		"volumeStaging": {
			"podTemplate": {
				"spec": {
					"containers": [
						{
							"name": "stage",
							"image": "docker.io/library/busybox:1.35",
							"command": ["sh", "-c", "mkdir -p /pav/volume"]
						}
					]
				}
			}
		}
	}
}`

func TestReviewAllowsValidObject(t *testing.T) {
	response := Review(newRequest(t, admissionv1.Create, validObject))
	if !response.Allowed {
		t.Fatalf("expected allowed, got %v", response.Result)
	}
	if response.UID != "review-1" {
		t.Fatalf("response UID %v does not echo the request", response.UID)
	}
}

func TestReviewRejectsInvalidName(t *testing.T) {
	object := strings.Replace(validObject, `"hello-world"`, `"Hello_World"`, 1)
	response := Review(newRequest(t, admissionv1.Create, object))
	if response.Allowed {
		t.Fatal("expected rejection for invalid name")
	}
	if response.Result == nil || response.Result.Message == "" {
		t.Fatal("expected a human-readable reason")
	}
}

func TestReviewRejectsStaticWithCreation(t *testing.T) {
	object := strings.Replace(validObject, `["Dynamic"]`, `["Static"]`, 1)
	response := Review(newRequest(t, admissionv1.Update, object))
	if response.Allowed {
		t.Fatal("expected rejection of static-only provisioner with creation section")
	}
}

func TestReviewRejectsBadTemplate(t *testing.T) {
	object := strings.Replace(validObject, "{{ .requestedMinCapacity }}", "{{", 1)
	response := Review(newRequest(t, admissionv1.Create, object))
	if response.Allowed {
		t.Fatal("expected rejection of template syntax error")
	}
}

func TestReviewAllowsDelete(t *testing.T) {
	response := Review(&admissionv1.AdmissionRequest{UID: "review-2", Operation: admissionv1.Delete})
	if !response.Allowed {
		t.Fatal("expected deletes to be allowed")
	}
}

func TestReviewRejectsGarbage(t *testing.T) {
	response := Review(newRequest(t, admissionv1.Create, `{"spec": 42}`))
	if response.Allowed {
		t.Fatal("expected rejection of undecodable object")
	}
}

func TestReviewResponseIsSerializable(t *testing.T) {
	response := Review(newRequest(t, admissionv1.Create, validObject))
	if _, err := json.Marshal(response); err != nil {
		t.Fatal(err)
	}
}
