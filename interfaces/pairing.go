package interfaces

import "context"

// PairingResponse carries the status code and raw body of a pairing service
// reply. Status codes other than the expected success code are retryable
// conditions for the caller, not errors at this boundary; an error is
// returned only when the request could not be completed at all.
type PairingResponse struct {
	Status int
	Body   []byte
}

// PairingAPI is the remote pairing service capability. Both operations are
// bounded by the supplied context; implementations must not hang past its
// deadline.
type PairingAPI interface {
	// ExchangeCSR submits a PEM-encoded CSR for signing. A 201 status with a
	// client certificate in the body indicates success.
	ExchangeCSR(ctx context.Context, device DeviceID, csrPEM []byte) (PairingResponse, error)

	// FetchInfo retrieves device connection info. A 200 status with the
	// per-protocol broker endpoints in the body indicates success.
	FetchInfo(ctx context.Context, device DeviceID) (PairingResponse, error)
}
