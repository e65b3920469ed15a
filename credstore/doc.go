// Package credstore provides credential store backends implementing the
// interfaces.CredentialStore capability.
//
// Backends are selected by location URI through the Factory:
//
//   - mem:// - in-memory, for tests and ephemeral deployments
//   - file:// - local filesystem with optional at-rest encryption
//     (NaCl secretbox, key derived from a passphrase via HKDF-SHA256)
//   - vault:// - HashiCorp Vault KV v2
//   - s3:// - Amazon S3 or compatible object storage
//
// All backends share the same handle semantics: every successful save returns
// a fresh handle with an incremented revision, and the caller replaces its
// held handle with the returned value. Saves are atomic; a failed save leaves
// the previously stored material untouched.
package credstore
