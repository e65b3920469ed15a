package cryptoutils

import (
	"crypto/x509"
	"encoding/pem"
	"time"
)

// FreshnessMargin is the minimum remaining validity below which a certificate
// is treated as unusable and re-requested preemptively.
const FreshnessMargin = 7 * 24 * time.Hour

// CertificateUsable reports whether a PEM-encoded certificate still has more
// than FreshnessMargin of validity left at the given instant. Malformed input
// is unusable; decoding problems are never surfaced as errors because an
// unreadable certificate is indistinguishable from a missing one to callers.
func CertificateUsable(certPEM []byte, now time.Time) bool {
	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil || certBlock.Type != "CERTIFICATE" {
		return false
	}

	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return false
	}

	return cert.NotAfter.Sub(now) > FreshnessMargin
}
