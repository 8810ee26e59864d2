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
	"crypto/tls"
	"fmt"

	"github.com/pav-storage/pav/pkg/consts"
	"k8s.io/client-go/util/cert"
)

// Certs is the process-wide webhook TLS material. A fresh self-signed
// certificate is generated on every controller start; the CA bundle is
// published through the validating webhook configuration.
type Certs struct {
	CertPEM []byte
	KeyPEM  []byte
}

// GenerateCerts creates a self-signed serving certificate for the webhook
// service.
func GenerateCerts() (*Certs, error) {
	host := fmt.Sprintf("%s.%s.svc", consts.WebhookServiceName, consts.AgentNamespace)

	certPEM, keyPEM, err := cert.GenerateSelfSignedCertKey(host, nil, []string{
		consts.WebhookServiceName,
		fmt.Sprintf("%s.%s", consts.WebhookServiceName, consts.AgentNamespace),
		host,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to generate webhook certificate; %v", err)
	}

	return &Certs{CertPEM: certPEM, KeyPEM: keyPEM}, nil
}

// TLSConfig builds the server TLS configuration.
func (certs *Certs) TLSConfig() (*tls.Config, error) {
	certificate, err := tls.X509KeyPair(certs.CertPEM, certs.KeyPEM)
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{certificate}}, nil
}
