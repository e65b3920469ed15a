package pairing

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/attelo-iot/device-pairing-agent/api"
	"github.com/attelo-iot/device-pairing-agent/cryptoutils"
	"github.com/attelo-iot/device-pairing-agent/interfaces"
	"github.com/go-chi/chi/v5"
)

// HandlerConfig configures the development pairing service handler.
type HandlerConfig struct {
	// Realm the handler serves; requests for other realms are rejected.
	Realm string

	// Secret is the credentials secret devices must present as bearer token.
	Secret string

	// BrokerURL is returned as the connection endpoint for every device.
	BrokerURL string

	// Protocol is the protocol name devices may request credentials for.
	// Defaults to api.DefaultProtocol.
	Protocol string

	// CertValidity bounds issued certificate lifetimes. Defaults to one year.
	CertValidity time.Duration

	// Log is the structured logger for operational insights.
	Log *slog.Logger
}

// Handler implements the two pairing service endpoints with an in-process CA.
// It backs local development setups and integration tests; it is not a
// production certificate authority.
type Handler struct {
	cfg HandlerConfig
	ca  *cryptoutils.CA

	mu     sync.Mutex
	issued map[interfaces.DeviceID]int
}

// NewHandler creates a pairing service handler with a freshly generated CA.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Protocol == "" {
		cfg.Protocol = api.DefaultProtocol
	}
	if cfg.CertValidity == 0 {
		cfg.CertValidity = 365 * 24 * time.Hour
	}

	ca, err := cryptoutils.NewCA("pairing-dev-ca")
	if err != nil {
		return nil, err
	}

	return &Handler{
		cfg:    cfg,
		ca:     ca,
		issued: make(map[interfaces.DeviceID]int),
	}, nil
}

// CACertPEM exposes the signing CA certificate so tests and local transports
// can verify issued client certificates.
func (h *Handler) CACertPEM() []byte {
	return h.ca.CertPEM()
}

// IssuedCount reports how many certificates were issued to a device.
func (h *Handler) IssuedCount(device interfaces.DeviceID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.issued[device]
}

// RegisterRoutes configures the router with the pairing service endpoints:
//   - POST /v1/{realm}/devices/{device_id}/protocols/{protocol}/credentials
//   - GET  /v1/{realm}/devices/{device_id}
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/v1/{realm}/devices/{device_id}/protocols/{protocol}/credentials", h.HandleCredentials)
	r.Get("/v1/{realm}/devices/{device_id}", h.HandleInfo)
}

// HandleCredentials signs the submitted CSR and returns the client
// certificate with status 201.
func (h *Handler) HandleCredentials(w http.ResponseWriter, r *http.Request) {
	device, ok := h.authorize(w, r)
	if !ok {
		return
	}

	if protocol := r.PathValue("protocol"); protocol != h.cfg.Protocol {
		h.cfg.Log.Warn("Unknown protocol requested", "protocol", protocol, "device", device.String())
		http.Error(w, "unknown protocol", http.StatusNotFound)
		return
	}

	var parsedRequest api.CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&parsedRequest); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	certPEM, err := h.ca.SignCSR([]byte(parsedRequest.Data.CSR), h.cfg.CertValidity)
	if err != nil {
		h.cfg.Log.Error("Failed to sign CSR", "err", err, "device", device.String())
		http.Error(w, "could not sign CSR", http.StatusInternalServerError)
		return
	}

	h.mu.Lock()
	h.issued[device]++
	h.mu.Unlock()

	h.cfg.Log.Info("Issued client certificate", "device", device.String())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(api.CredentialsResponse{
		Data: api.CredentialsResponseData{ClientCrt: string(certPEM)},
	})
}

// HandleInfo returns the device's connection info with status 200.
func (h *Handler) HandleInfo(w http.ResponseWriter, r *http.Request) {
	device, ok := h.authorize(w, r)
	if !ok {
		return
	}

	h.cfg.Log.Debug("Serving device info", "device", device.String())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(api.InfoResponse{
		Data: api.DeviceInfo{
			Version: "1.1",
			Status:  "confirmed",
			Protocols: map[string]api.ProtocolInfo{
				h.cfg.Protocol: {BrokerURL: h.cfg.BrokerURL},
			},
		},
	})
}

// authorize validates realm, bearer secret, and device ID. It writes the
// error response itself when validation fails.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) (interfaces.DeviceID, bool) {
	if realm := r.PathValue("realm"); realm != h.cfg.Realm {
		http.Error(w, "unknown realm", http.StatusNotFound)
		return interfaces.DeviceID{}, false
	}

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" || token != h.cfg.Secret {
		http.Error(w, "invalid credentials secret", http.StatusUnauthorized)
		return interfaces.DeviceID{}, false
	}

	device, err := interfaces.NewDeviceIDFromString(r.PathValue("device_id"))
	if err != nil {
		h.cfg.Log.Warn("Invalid device ID", "err", err, "deviceID", r.PathValue("device_id"))
		http.Error(w, "invalid device ID", http.StatusBadRequest)
		return interfaces.DeviceID{}, false
	}

	return device, true
}
