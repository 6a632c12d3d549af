// SPDX-License-Identifier: GPL-3.0-or-later

package takconn

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/emfoursolutions/trakbridge-core/internal/model"
)

// makeP12 builds a PKCS#12 blob holding a freshly generated self-signed
// client identity protected by password.
func makeP12(t *testing.T, password string) []byte {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "trakbridge-client"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	blob, err := pkcs12.Modern.Encode(key, cert, nil, password)
	require.NoError(t, err)
	return blob
}

func boolPtr(v bool) *bool { return &v }

func TestBuildTLSConfigParsesIdentity(t *testing.T) {
	// Passwords are opaque bytes: shell metacharacters must survive.
	password := `p%$` + `{weird}100%`
	cfg := model.TakServerConfig{
		ID:          1,
		Host:        "tak.example.org",
		Port:        8089,
		Protocol:    "tls",
		P12Bytes:    makeP12(t, password),
		P12Password: password,
		VerifyPeer:  boolPtr(true),
	}

	tlsConfig, err := buildTLSConfig(cfg)
	require.NoError(t, err)

	require.Len(t, tlsConfig.Certificates, 1)
	assert.NotNil(t, tlsConfig.Certificates[0].PrivateKey)
	assert.Equal(t, "tak.example.org", tlsConfig.ServerName)
	assert.False(t, tlsConfig.InsecureSkipVerify)
	// No CA chain in the blob: the system trust store applies.
	assert.Nil(t, tlsConfig.RootCAs)
}

func TestBuildTLSConfigVerifyPeerDisabled(t *testing.T) {
	cfg := model.TakServerConfig{
		ID:          2,
		Host:        "tak.example.org",
		Protocol:    "tls",
		P12Bytes:    makeP12(t, "secret"),
		P12Password: "secret",
		VerifyPeer:  boolPtr(false),
	}

	tlsConfig, err := buildTLSConfig(cfg)
	require.NoError(t, err)
	assert.True(t, tlsConfig.InsecureSkipVerify)
}

// A snapshot that omits VerifyPeer verifies the peer: the permissive
// mode must always be an explicit choice.
func TestBuildTLSConfigVerifyPeerDefaultsOn(t *testing.T) {
	cfg := model.TakServerConfig{
		ID:          4,
		Host:        "tak.example.org",
		Protocol:    "tls",
		P12Bytes:    makeP12(t, "secret"),
		P12Password: "secret",
	}

	tlsConfig, err := buildTLSConfig(cfg)
	require.NoError(t, err)
	assert.False(t, tlsConfig.InsecureSkipVerify)
}

func TestBuildTLSConfigWrongPassword(t *testing.T) {
	cfg := model.TakServerConfig{
		ID:          3,
		Host:        "tak.example.org",
		Protocol:    "tls",
		P12Bytes:    makeP12(t, "right"),
		P12Password: "wrong",
	}

	_, err := buildTLSConfig(cfg)
	require.Error(t, err)
}
