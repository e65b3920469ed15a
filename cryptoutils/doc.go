// Package cryptoutils implements the cryptographic primitives of device
// identity bootstrap: keypair and CSR generation, the certificate freshness
// decision rule, and a small in-process CA used by the development pairing
// server and tests.
//
// Key generation defaults to RSA-4096 but is configurable through KeyOptions;
// the validity rule treats any certificate within FreshnessMargin of expiry
// (or one that cannot be decoded at all) as unusable, so callers fold both
// cases into the "no certificate" path.
package cryptoutils
