package api

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultProtocol is the transport protocol devices request connection info
// for when none is configured.
const DefaultProtocol = "astarte_mqtt_v1"

// CredentialsRequest is the body of the certificate exchange call:
//
//	POST /v1/{realm}/devices/{device_id}/protocols/{protocol}/credentials
type CredentialsRequest struct {
	Data CredentialsRequestData `json:"data"`
}

// CredentialsRequestData wraps the PEM-encoded CSR.
type CredentialsRequestData struct {
	CSR string `json:"csr"`
}

// CredentialsResponse is the 201 reply to a certificate exchange.
type CredentialsResponse struct {
	Data CredentialsResponseData `json:"data"`
}

// CredentialsResponseData carries the signed client certificate.
type CredentialsResponseData struct {
	ClientCrt string `json:"client_crt"`
}

// InfoResponse is the 200 reply to a device info fetch:
//
//	GET /v1/{realm}/devices/{device_id}
type InfoResponse struct {
	Data DeviceInfo `json:"data"`
}

// DeviceInfo lists the transport protocols the backend offers this device.
type DeviceInfo struct {
	Version   string                  `json:"version,omitempty"`
	Status    string                  `json:"status,omitempty"`
	Protocols map[string]ProtocolInfo `json:"protocols"`
}

// ProtocolInfo holds per-protocol connection parameters.
type ProtocolInfo struct {
	BrokerURL string `json:"broker_url"`
}

var (
	// ErrNoClientCertificate indicates a credentials reply without the
	// client_crt field.
	ErrNoClientCertificate = errors.New("credentials response carries no client certificate")

	// ErrNoBrokerURL indicates an info reply that does not name a broker
	// endpoint for the requested protocol.
	ErrNoBrokerURL = errors.New("info response carries no broker URL")
)

// ClientCrtFromResponse extracts the PEM client certificate from a raw
// credentials response body.
func ClientCrtFromResponse(body []byte) ([]byte, error) {
	var parsed CredentialsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("could not parse credentials response: %w", err)
	}
	if parsed.Data.ClientCrt == "" {
		return nil, ErrNoClientCertificate
	}
	return []byte(parsed.Data.ClientCrt), nil
}

// BrokerURLFromResponse extracts the broker endpoint for the given protocol
// from a raw info response body.
func BrokerURLFromResponse(body []byte, protocol string) (string, error) {
	var parsed InfoResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("could not parse info response: %w", err)
	}
	info, ok := parsed.Data.Protocols[protocol]
	if !ok || info.BrokerURL == "" {
		return "", fmt.Errorf("%w for protocol %s", ErrNoBrokerURL, protocol)
	}
	return info.BrokerURL, nil
}
