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
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"

	pavtypes "github.com/pav-storage/pav/pkg/apis/pav.storage.io/v1alpha1"
	"github.com/pav-storage/pav/pkg/consts"
	"github.com/pav-storage/pav/pkg/provisioner"
	admissionv1 "k8s.io/api/admission/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/klog/v2"
)

const (
	// ValidatePath is the HTTP path answering provisioner admission
	// reviews.
	ValidatePath = "/validate-provisioner"

	healthzPath = "/healthz"
)

// Serve runs the admission webhook HTTPS server until the context is
// cancelled. The cluster has functioning validation the moment the socket
// accepts connections, since the webhook configuration is registered
// beforehand.
func Serve(ctx context.Context, certs *Certs, port int) error {
	tlsConfig, err := certs.TLSConfig()
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc(ValidatePath, serveValidate)
	mux.HandleFunc(healthzPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		TLSConfig: tlsConfig,
		Handler:   mux,
	}

	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%v", port))
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		server.Close()
	}()

	klog.Infof("Serving admission webhook on port %v", port)
	if err := server.ServeTLS(listener, "", ""); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func serveValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var review admissionv1.AdmissionReview
	if err := json.Unmarshal(body, &review); err != nil || review.Request == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	review.Response = Review(review.Request)
	review.Request = nil

	data, err := json.Marshal(review)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// Review answers a single admission request for a provisioner object.
func Review(request *admissionv1.AdmissionRequest) *admissionv1.AdmissionResponse {
	response := &admissionv1.AdmissionResponse{UID: request.UID}

	switch request.Operation {
	case admissionv1.Create, admissionv1.Update:
	default:
		// deletes and connects carry no object to validate
		response.Allowed = true
		return response
	}

	var object pavtypes.PavProvisioner
	if err := json.Unmarshal(request.Object.Raw, &object); err != nil {
		response.Result = &metav1.Status{
			Status:  metav1.StatusFailure,
			Message: fmt.Sprintf("unable to decode %s object; %v", consts.ProvisionerKind, err),
		}
		return response
	}

	if err := validateObject(&object); err != nil {
		klog.V(3).InfoS("Rejecting provisioner", "name", object.Name, "reason", err.Error())
		response.Result = &metav1.Status{
			Status:  metav1.StatusFailure,
			Message: err.Error(),
		}
		return response
	}

	response.Allowed = true
	return response
}

func validateObject(object *pavtypes.PavProvisioner) error {
	if err := provisioner.ValidateName(object.Name); err != nil {
		return err
	}
	return provisioner.ValidateSpec(&object.Spec, provisioner.TemplatePermissive)
}
