package pairing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/attelo-iot/device-pairing-agent/api"
	"github.com/attelo-iot/device-pairing-agent/interfaces"
	"github.com/stretchr/testify/mock"
)

// Client implements interfaces.PairingAPI against a remote pairing service.
// Requests are authenticated with the device's long-lived credentials secret
// as a bearer token.
type Client struct {
	// BaseURL is the base URL of the pairing service, without trailing slash.
	BaseURL string

	// Realm is the realm the device was registered in.
	Realm string

	// Secret is the credentials secret issued at device registration.
	Secret string

	// Protocol selects which transport protocol credentials are requested
	// for. Defaults to api.DefaultProtocol.
	Protocol string

	// HTTPClient overrides the HTTP client; a 30 second timeout is applied
	// when unset.
	HTTPClient *http.Client
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (c *Client) protocol() string {
	if c.Protocol != "" {
		return c.Protocol
	}
	return api.DefaultProtocol
}

// ExchangeCSR submits the CSR for signing. The status code and raw body are
// returned as-is; interpreting anything other than 201 is the caller's
// responsibility.
func (c *Client) ExchangeCSR(ctx context.Context, device interfaces.DeviceID, csrPEM []byte) (interfaces.PairingResponse, error) {
	url := fmt.Sprintf("%s/v1/%s/devices/%s/protocols/%s/credentials", c.BaseURL, c.Realm, device, c.protocol())

	reqBody, err := json.Marshal(api.CredentialsRequest{Data: api.CredentialsRequestData{CSR: string(csrPEM)}})
	if err != nil {
		return interfaces.PairingResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return interfaces.PairingResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Secret)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return interfaces.PairingResponse{}, fmt.Errorf("could not request credentials endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return interfaces.PairingResponse{}, fmt.Errorf("could not read credentials response: %w", err)
	}

	return interfaces.PairingResponse{Status: resp.StatusCode, Body: body}, nil
}

// FetchInfo retrieves the device's connection info, including per-protocol
// broker endpoints.
func (c *Client) FetchInfo(ctx context.Context, device interfaces.DeviceID) (interfaces.PairingResponse, error) {
	url := fmt.Sprintf("%s/v1/%s/devices/%s", c.BaseURL, c.Realm, device)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return interfaces.PairingResponse{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Secret)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return interfaces.PairingResponse{}, fmt.Errorf("could not request info endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return interfaces.PairingResponse{}, fmt.Errorf("could not read info response: %w", err)
	}

	return interfaces.PairingResponse{Status: resp.StatusCode, Body: body}, nil
}

// MockPairingAPI implements a mock interfaces.PairingAPI for testing.
type MockPairingAPI struct {
	mock.Mock
}

// ExchangeCSR implements the PairingAPI interface for testing.
// The behavior is determined by how the mock is configured in tests.
func (m *MockPairingAPI) ExchangeCSR(ctx context.Context, device interfaces.DeviceID, csrPEM []byte) (interfaces.PairingResponse, error) {
	args := m.Called(ctx, device, csrPEM)
	return args.Get(0).(interfaces.PairingResponse), args.Error(1)
}

// FetchInfo implements the PairingAPI interface for testing.
// The behavior is determined by how the mock is configured in tests.
func (m *MockPairingAPI) FetchInfo(ctx context.Context, device interfaces.DeviceID) (interfaces.PairingResponse, error) {
	args := m.Called(ctx, device)
	return args.Get(0).(interfaces.PairingResponse), args.Error(1)
}
