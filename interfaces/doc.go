// Package interfaces defines the capability contracts consumed by the device
// provisioning session, separating interface definitions from implementations.
//
// # Capability Interfaces
//
// CredentialStore: Durable, atomic storage of device credential material
// (private key, CSR, signed certificate), addressed by MaterialKind. The
// session interacts with the store through an opaque Handle that is replaced,
// never mutated, on every successful save.
//
// PairingAPI: The remote pairing service operations the session depends on:
// exchanging a CSR for a signed client certificate and fetching per-protocol
// connection info.
//
// # Identity Types
//
// DeviceID is the 16-byte device identifier with a URL-safe base64 canonical
// form; ClientID is the "realm/deviceID" pair used as certificate subject and
// log correlation key.
package interfaces
