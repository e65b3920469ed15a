package httpserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/attelo-iot/device-pairing-agent/interfaces"
	"github.com/attelo-iot/device-pairing-agent/provisioning"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSession implements StatusSource with fixed values.
type fakeSession struct {
	state     provisioning.State
	brokerURL string
}

func (f *fakeSession) State() provisioning.State { return f.state }

func (f *fakeSession) BrokerURL() (string, bool) { return f.brokerURL, f.brokerURL != "" }

func (f *fakeSession) ClientID() interfaces.ClientID { return "test/device" }

func newTestServer(session StatusSource) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(&HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      logger,
		DrainDuration:            time.Millisecond,
		GracefulShutdownDuration: time.Second,
	}, session)
}

func TestLiveness(t *testing.T) {
	srv := newTestServer(&fakeSession{state: provisioning.StateNoKeypair})

	w := httptest.NewRecorder()
	srv.getRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/livez", nil))

	assert.Equal(t, http.StatusOK, w.Result().StatusCode)
}

func TestReadinessFollowsSessionState(t *testing.T) {
	session := &fakeSession{state: provisioning.StateNoCertificate}
	srv := newTestServer(session)
	router := srv.getRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Result().StatusCode)

	session.state = provisioning.StateDisconnected
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Result().StatusCode)
}

func TestDrainOverridesReadiness(t *testing.T) {
	session := &fakeSession{state: provisioning.StateDisconnected}
	srv := newTestServer(session)
	router := srv.getRouter()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/drain", nil))
	assert.Equal(t, http.StatusOK, w.Result().StatusCode)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Result().StatusCode)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/undrain", nil))
	assert.Equal(t, http.StatusOK, w.Result().StatusCode)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Result().StatusCode)
}

func TestStatusEndpoint(t *testing.T) {
	session := &fakeSession{
		state:     provisioning.StateDisconnected,
		brokerURL: "mqtts://broker.example.com:8883",
	}
	srv := newTestServer(session)

	w := httptest.NewRecorder()
	srv.getRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	resp := w.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "test/device", status.ClientID)
	assert.Equal(t, "disconnected", status.State)
	assert.Equal(t, "mqtts://broker.example.com:8883", status.BrokerURL)
}

func TestStatusEndpointOmitsBrokerURLBeforeDiscovery(t *testing.T) {
	srv := newTestServer(&fakeSession{state: provisioning.StateWaitingForInfo})

	w := httptest.NewRecorder()
	srv.getRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	var status StatusResponse
	require.NoError(t, json.NewDecoder(w.Result().Body).Decode(&status))
	assert.Equal(t, "waiting_for_info", status.State)
	assert.Empty(t, status.BrokerURL)
}
