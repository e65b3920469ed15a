package cryptoutils

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
)

// KeyAlgorithm selects the asymmetric key type for new device identities.
type KeyAlgorithm string

const (
	// KeyRSA4096 is the default algorithm for device keys.
	KeyRSA4096 KeyAlgorithm = "rsa4096"
	// KeyRSA2048 trades security margin for generation speed.
	KeyRSA2048 KeyAlgorithm = "rsa2048"
	// KeyECDSAP256 generates a NIST P-256 key.
	KeyECDSAP256 KeyAlgorithm = "ecdsa-p256"
)

// KeyOptions configures key material generation. The zero value selects the
// default RSA-4096 algorithm.
type KeyOptions struct {
	Algorithm KeyAlgorithm
}

// GenerateKeyMaterial generates a fresh keypair and a Certificate Signing
// Request whose subject common name is the given client identifier. Each call
// yields a distinct, never-reused key.
//
// Returns:
//   - Private key in PKCS#8 PEM format
//   - CSR in PEM format
//   - Error if key generation or CSR creation fails
func GenerateKeyMaterial(clientID string, opts KeyOptions) ([]byte, []byte, error) {
	algorithm := opts.Algorithm
	if algorithm == "" {
		algorithm = KeyRSA4096
	}

	var signer crypto.Signer
	var sigAlg x509.SignatureAlgorithm
	var err error

	switch algorithm {
	case KeyRSA4096:
		signer, err = rsa.GenerateKey(rand.Reader, 4096)
		sigAlg = x509.SHA256WithRSA
	case KeyRSA2048:
		signer, err = rsa.GenerateKey(rand.Reader, 2048)
		sigAlg = x509.SHA256WithRSA
	case KeyECDSAP256:
		signer, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		sigAlg = x509.ECDSAWithSHA256
	default:
		return nil, nil, fmt.Errorf("unsupported key algorithm: %s", algorithm)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate %s key: %w", algorithm, err)
	}

	csrTemplate := x509.CertificateRequest{
		Subject: pkix.Name{
			CommonName: clientID,
		},
		SignatureAlgorithm: sigAlg,
	}

	csrDER, err := x509.CreateCertificateRequest(rand.Reader, &csrTemplate, signer)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create CSR: %w", err)
	}

	csrPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: csrDER})

	privateKeyBytes, err := x509.MarshalPKCS8PrivateKey(signer)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privateKeyBytes})
	return keyPEM, csrPEM, nil
}
