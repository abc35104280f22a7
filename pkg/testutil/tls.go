package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

// CertPEM contains a PEM encoded root CA and a server certificate signed by
// that CA.
type CertPEM struct {
	RootCA []byte
	Cert   []byte
	Key    []byte
}

// LocalTLSServerCert creates a root CA and server TLS certificate for
// 127.0.0.1.
func LocalTLSServerCert() (*x509.CertPool, tls.Certificate, error) {
	certPEM, err := LocalTLSServerCertPEM()
	if err != nil {
		return nil, tls.Certificate{}, err
	}

	rootCACertPool := x509.NewCertPool()
	if !rootCACertPool.AppendCertsFromPEM(certPEM.RootCA) {
		return nil, tls.Certificate{}, fmt.Errorf("parse root ca")
	}

	serverTLSCert, err := tls.X509KeyPair(certPEM.Cert, certPEM.Key)
	if err != nil {
		return nil, tls.Certificate{}, fmt.Errorf("server key pair: %w", err)
	}

	return rootCACertPool, serverTLSCert, nil
}

// LocalTLSServerCertFiles writes a root CA and server certificate for
// 127.0.0.1 to dir, and returns the paths of the root CA, certificate and key
// files.
func LocalTLSServerCertFiles(dir string) (string, string, string, error) {
	certPEM, err := LocalTLSServerCertPEM()
	if err != nil {
		return "", "", "", err
	}

	rootCAPath := filepath.Join(dir, "ca.pem")
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")
	for path, b := range map[string][]byte{
		rootCAPath: certPEM.RootCA,
		certPath:   certPEM.Cert,
		keyPath:    certPEM.Key,
	} {
		if err := os.WriteFile(path, b, 0o600); err != nil {
			return "", "", "", fmt.Errorf("write: %s: %w", path, err)
		}
	}
	return rootCAPath, certPath, keyPath, nil
}

// LocalTLSServerCertPEM creates a PEM encoded root CA and server certificate
// for 127.0.0.1.
func LocalTLSServerCertPEM() (CertPEM, error) {
	rootKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return CertPEM{}, fmt.Errorf("generate key: %w", err)
	}
	rootTemplate, err := certTemplate()
	if err != nil {
		return CertPEM{}, fmt.Errorf("root cert template: %w", err)
	}
	rootTemplate.IsCA = true
	rootTemplate.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature
	rootTemplate.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}

	rootCertDER, rootCert, err := cert(
		rootTemplate, rootTemplate, &rootKey.PublicKey, rootKey,
	)
	if err != nil {
		return CertPEM{}, fmt.Errorf("root cert: %w", err)
	}

	serverKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return CertPEM{}, fmt.Errorf("generate key: %w", err)
	}
	serverTemplate, err := certTemplate()
	if err != nil {
		return CertPEM{}, fmt.Errorf("server cert template: %w", err)
	}
	serverTemplate.KeyUsage = x509.KeyUsageDigitalSignature
	serverTemplate.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
	serverTemplate.IPAddresses = []net.IP{net.IPv4(127, 0, 0, 1)}

	// Sign the server cert using the root CA.
	serverCertDER, _, err := cert(
		serverTemplate, rootCert, &serverKey.PublicKey, rootKey,
	)
	if err != nil {
		return CertPEM{}, fmt.Errorf("server cert: %w", err)
	}

	return CertPEM{
		RootCA: pem.EncodeToMemory(&pem.Block{
			Type: "CERTIFICATE", Bytes: rootCertDER,
		}),
		Cert: pem.EncodeToMemory(&pem.Block{
			Type: "CERTIFICATE", Bytes: serverCertDER,
		}),
		Key: pem.EncodeToMemory(&pem.Block{
			Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(serverKey),
		}),
	}, nil
}

func cert(
	template *x509.Certificate,
	parent *x509.Certificate,
	publicKey interface{},
	parentPrivateKey interface{},
) ([]byte, *x509.Certificate, error) {
	certDER, err := x509.CreateCertificate(
		rand.Reader, template, parent, publicKey, parentPrivateKey,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create cert: %w", err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, nil, fmt.Errorf("parse cert: %w", err)
	}
	return certDER, cert, nil
}

func certTemplate() (*x509.Certificate, error) {
	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	return &x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{Organization: []string{"gossipd"}},
		SignatureAlgorithm:    x509.SHA256WithRSA,
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(time.Hour * 24 * 30),
		BasicConstraintsValid: true,
	}, nil
}
