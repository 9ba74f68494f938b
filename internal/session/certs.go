// File: internal/session/certs.go
// Author: momentics <momentics@gmail.com>
//
// CertificateProvider implementations: PEM files on disk, a fixed config,
// and a throwaway self-signed certificate for development and tests.

package session

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"time"

	"github.com/momentics/hioload-rpc/api"
)

// FileCertificates loads a certificate chain and key from PEM files.
type FileCertificates struct {
	CertFile string
	KeyFile  string
}

func (f FileCertificates) Load() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(f.CertFile, f.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load certificate %s / %s: %w", f.CertFile, f.KeyFile, err)
	}
	return serverConfig(cert), nil
}

// StaticCertificates hands out a prepared configuration.
type StaticCertificates struct {
	Config *tls.Config
}

func (s StaticCertificates) Load() (*tls.Config, error) {
	if s.Config == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "no TLS configuration")
	}
	return s.Config, nil
}

// SelfSigned generates an in-memory ECDSA certificate valid for hosts.
// The returned pool trusts it, for use by clients.
func SelfSigned(hosts ...string) (*tls.Config, *x509.CertPool, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, nil, err
	}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "hioload-rpc"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("create certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, err
	}
	roots := x509.NewCertPool()
	roots.AddCert(leaf)
	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}
	return serverConfig(cert), roots, nil
}

func serverConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
}

var (
	_ api.CertificateProvider = FileCertificates{}
	_ api.CertificateProvider = StaticCertificates{}
)
