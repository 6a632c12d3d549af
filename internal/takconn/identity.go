// SPDX-License-Identifier: GPL-3.0-or-later

package takconn

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"software.sslmate.com/src/go-pkcs12"

	"github.com/emfoursolutions/trakbridge-core/internal/model"
)

// buildTLSConfig parses cfg's PKCS#12 client identity and builds the
// [*tls.Config] a [*Connection] hands to [netpipe.NewTLSHandshakeFunc].
// The password is decoded directly from cfg.P12Password with no
// intermediate string concatenation, so it never appears in a formatted
// log line by accident.
func buildTLSConfig(cfg model.TakServerConfig) (*tls.Config, error) {
	privateKey, leaf, caCerts, err := pkcs12.DecodeChain(cfg.P12Bytes, cfg.P12Password)
	if err != nil {
		return nil, fmt.Errorf("parsing PKCS#12 identity: %w", err)
	}

	rawChain := [][]byte{leaf.Raw}
	for _, ca := range caCerts {
		rawChain = append(rawChain, ca.Raw)
	}

	tlsCert := tls.Certificate{
		Certificate: rawChain,
		PrivateKey:  privateKey,
		Leaf:        leaf,
	}

	tlsConfig := &tls.Config{
		Certificates:       []tls.Certificate{tlsCert},
		ServerName:         cfg.Host,
		InsecureSkipVerify: !cfg.ShouldVerifyPeer(),
	}

	if len(caCerts) > 0 {
		pool := x509.NewCertPool()
		for _, ca := range caCerts {
			pool.AddCert(ca)
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}
