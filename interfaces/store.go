package interfaces

import "context"

// Handle is an opaque token representing the last known good state of a
// credential store. The provisioning session holds exactly one handle at a
// time; every successful Save returns a replacement handle which the caller
// adopts, discarding the previous value. Handles are never mutated in place.
type Handle interface {
	// Revision is a monotonically increasing counter, bumped on every
	// successful save through this handle's lineage.
	Revision() uint64
}

// CredentialStore is the durable storage capability for device credential
// material. Host applications plug in any backend (file, Vault, S3,
// in-memory for tests) by implementing this contract.
//
// Save must be atomic: on success the material is fully written and visible
// to subsequent Fetch calls, on failure the store is unchanged. Fetch returns
// ErrMaterialNotFound for slots that were never saved. All failures of Fetch
// and Save are recoverable from the caller's perspective; only constructing
// the store (and its initial handle) may fail fatally.
type CredentialStore interface {
	// HasKeypair reports whether both a private key and a CSR are present.
	HasKeypair(ctx context.Context, handle Handle) (bool, error)

	// Fetch retrieves the material stored in the given slot.
	Fetch(ctx context.Context, kind MaterialKind, handle Handle) ([]byte, error)

	// Save durably writes the material and returns the replacement handle.
	Save(ctx context.Context, kind MaterialKind, data []byte, handle Handle) (Handle, error)
}
