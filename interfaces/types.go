package interfaces

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// DeviceID is the 16-byte device identifier assigned at registration.
// Its canonical textual form is URL-safe base64 without padding.
type DeviceID [16]byte

// NewDeviceIDFromString parses the canonical textual form of a device
// identifier. The input must decode to exactly 16 bytes.
func NewDeviceIDFromString(source string) (DeviceID, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(source)
	if err != nil {
		return DeviceID{}, fmt.Errorf("invalid device ID encoding: %w", err)
	}
	if len(decoded) != 16 {
		return DeviceID{}, fmt.Errorf("invalid device ID length: got %d bytes, expected 16", len(decoded))
	}

	var id DeviceID
	copy(id[:], decoded)
	return id, nil
}

// NewRandomDeviceID generates a fresh device identifier from random UUID bytes.
func NewRandomDeviceID() DeviceID {
	return DeviceID(uuid.Must(uuid.NewRandom()))
}

// String returns the canonical URL-safe base64 form.
func (id DeviceID) String() string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// Bytes returns the raw 16-byte identifier.
func (id DeviceID) Bytes() []byte {
	return id[:]
}

// Equal compares two device identifiers.
func (id DeviceID) Equal(other DeviceID) bool {
	return bytes.Equal(id[:], other[:])
}

// ClientID identifies a device within a realm, formatted "realm/deviceID".
// It is used for diagnostics and as the certificate subject common name,
// never for addressing decisions.
type ClientID string

// NewClientID derives the client identifier for a device in a realm.
func NewClientID(realm string, device DeviceID) ClientID {
	return ClientID(realm + "/" + device.String())
}

// MaterialKind selects a credential material slot in a CredentialStore.
type MaterialKind int

const (
	// PrivateKeyMaterial is the device's PEM-encoded private key.
	PrivateKeyMaterial MaterialKind = iota
	// CSRMaterial is the PEM-encoded certificate signing request.
	CSRMaterial
	// CertificateMaterial is the PEM-encoded signed client certificate.
	CertificateMaterial
)

// String returns the material slot name.
func (k MaterialKind) String() string {
	switch k {
	case PrivateKeyMaterial:
		return "private_key"
	case CSRMaterial:
		return "csr"
	case CertificateMaterial:
		return "certificate"
	default:
		return "unknown"
	}
}

var (
	// ErrMaterialNotFound indicates the requested material kind has never
	// been saved to the store.
	ErrMaterialNotFound = errors.New("credential material not found")

	// ErrInvalidLocationURI indicates a malformed credential store location.
	ErrInvalidLocationURI = errors.New("invalid credential store location URI")

	// ErrUnknownMaterialKind indicates a material kind the store does not manage.
	ErrUnknownMaterialKind = errors.New("unknown credential material kind")
)
