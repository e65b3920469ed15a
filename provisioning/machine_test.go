package provisioning

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/attelo-iot/device-pairing-agent/api/pairing"
	"github.com/attelo-iot/device-pairing-agent/credstore"
	"github.com/attelo-iot/device-pairing-agent/cryptoutils"
	"github.com/attelo-iot/device-pairing-agent/interfaces"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastRetries() FixedDelays {
	return FixedDelays{
		Keypair:     5 * time.Millisecond,
		Credentials: 5 * time.Millisecond,
		Info:        5 * time.Millisecond,
	}
}

// transitionRecorder captures (from, to) pairs in order.
type transitionRecorder struct {
	mu    sync.Mutex
	pairs [][2]State
}

func (r *transitionRecorder) record(from, to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pairs = append(r.pairs, [2]State{from, to})
}

func (r *transitionRecorder) snapshot() [][2]State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][2]State, len(r.pairs))
	copy(out, r.pairs)
	return out
}

// flakyStore wraps a real store and fails selected operations a limited
// number of times.
type flakyStore struct {
	inner interfaces.CredentialStore

	mu             sync.Mutex
	failHasKeypair bool
	failSaves      map[interfaces.MaterialKind]int
	saveCounts     map[interfaces.MaterialKind]int
}

func newFlakyStore(inner interfaces.CredentialStore) *flakyStore {
	return &flakyStore{
		inner:      inner,
		failSaves:  make(map[interfaces.MaterialKind]int),
		saveCounts: make(map[interfaces.MaterialKind]int),
	}
}

func (f *flakyStore) HasKeypair(ctx context.Context, h interfaces.Handle) (bool, error) {
	f.mu.Lock()
	fail := f.failHasKeypair
	f.mu.Unlock()
	if fail {
		return false, errors.New("storage unavailable")
	}
	return f.inner.HasKeypair(ctx, h)
}

func (f *flakyStore) Fetch(ctx context.Context, kind interfaces.MaterialKind, h interfaces.Handle) ([]byte, error) {
	return f.inner.Fetch(ctx, kind, h)
}

func (f *flakyStore) Save(ctx context.Context, kind interfaces.MaterialKind, data []byte, h interfaces.Handle) (interfaces.Handle, error) {
	f.mu.Lock()
	f.saveCounts[kind]++
	if f.failSaves[kind] > 0 {
		f.failSaves[kind]--
		f.mu.Unlock()
		return nil, errors.New("save failed")
	}
	f.mu.Unlock()
	return f.inner.Save(ctx, kind, data, h)
}

func (f *flakyStore) saveCount(kind interfaces.MaterialKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saveCounts[kind]
}

func pairingResp(status int, body string) interfaces.PairingResponse {
	return interfaces.PairingResponse{Status: status, Body: []byte(body)}
}

func testConfig(store interfaces.CredentialStore, handle interfaces.Handle, pairingAPI interfaces.PairingAPI) Config {
	return Config{
		PairingURL:        "https://pairing.example.com",
		Realm:             "test",
		DeviceID:          interfaces.NewRandomDeviceID().String(),
		CredentialsSecret: "secret",
		KeyOptions:        cryptoutils.KeyOptions{Algorithm: cryptoutils.KeyECDSAP256},
		Retry:             fastRetries(),
		Store:             store,
		Handle:            handle,
		Pairing:           pairingAPI,
		Log:               discardLogger(),
	}
}

func runSession(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		// Run only returns the cancellation error here; fatal startup
		// errors are exercised in dedicated tests.
		_ = s.Run(ctx)
	}()
}

const goodCredentialsBody = `{"data":{"client_crt":"-----BEGIN CERTIFICATE-----\nfake\n-----END CERTIFICATE-----"}}`
const goodInfoBody = `{"data":{"protocols":{"astarte_mqtt_v1":{"broker_url":"mqtts://broker.example.com:8883"}}}}`

func TestFreshDeviceStartsInNoKeypair(t *testing.T) {
	store, handle := credstore.NewMemoryStore(discardLogger())
	pairingAPI := &pairing.MockPairingAPI{}
	pairingAPI.On("ExchangeCSR", mock.Anything, mock.Anything, mock.Anything).Return(pairingResp(500, ""), nil)

	recorder := &transitionRecorder{}
	cfg := testConfig(store, handle, pairingAPI)
	cfg.OnTransition = recorder.record

	s, err := NewSession(cfg)
	require.NoError(t, err)
	runSession(t, s)

	// First transition must leave NoKeypair; the machine never skips it on
	// an empty store.
	assert.Eventually(t, func() bool {
		pairs := recorder.snapshot()
		return len(pairs) > 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, [2]State{StateNoKeypair, StateNoCertificate}, recorder.snapshot()[0])
}

func TestFatalKeypairCheckFailure(t *testing.T) {
	inner, handle := credstore.NewMemoryStore(discardLogger())
	store := newFlakyStore(inner)
	store.failHasKeypair = true

	s, err := NewSession(testConfig(store, handle, &pairing.MockPairingAPI{}))
	require.NoError(t, err)

	err = s.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keypair presence check failed")
}

func TestFailingCSRSaveRegeneratesKeyMaterial(t *testing.T) {
	inner, handle := credstore.NewMemoryStore(discardLogger())
	store := newFlakyStore(inner)
	// Private key save succeeds, CSR save fails once.
	store.failSaves[interfaces.CSRMaterial] = 1

	pairingAPI := &pairing.MockPairingAPI{}
	pairingAPI.On("ExchangeCSR", mock.Anything, mock.Anything, mock.Anything).Return(pairingResp(201, goodCredentialsBody), nil)
	pairingAPI.On("FetchInfo", mock.Anything, mock.Anything).Return(pairingResp(200, goodInfoBody), nil)

	s, err := NewSession(testConfig(store, handle, pairingAPI))
	require.NoError(t, err)
	runSession(t, s)

	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("session never became ready")
	}

	// The retry regenerated both materials instead of reusing the
	// half-saved key: two key saves, two CSR save attempts.
	assert.Equal(t, 2, store.saveCount(interfaces.PrivateKeyMaterial))
	assert.Equal(t, 2, store.saveCount(interfaces.CSRMaterial))
}

func TestNon201KeepsNoCertificate(t *testing.T) {
	store, handle := credstore.NewMemoryStore(discardLogger())

	pairingAPI := &pairing.MockPairingAPI{}
	pairingAPI.On("ExchangeCSR", mock.Anything, mock.Anything, mock.Anything).Return(pairingResp(503, "overloaded"), nil).Twice()
	pairingAPI.On("ExchangeCSR", mock.Anything, mock.Anything, mock.Anything).Return(pairingResp(201, goodCredentialsBody), nil).Once()
	pairingAPI.On("FetchInfo", mock.Anything, mock.Anything).Return(pairingResp(200, goodInfoBody), nil)

	s, err := NewSession(testConfig(store, handle, pairingAPI))
	require.NoError(t, err)
	runSession(t, s)

	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("session never became ready")
	}

	pairingAPI.AssertNumberOfCalls(t, "ExchangeCSR", 3)
}

func TestTransportErrorKeepsNoCertificate(t *testing.T) {
	store, handle := credstore.NewMemoryStore(discardLogger())

	pairingAPI := &pairing.MockPairingAPI{}
	pairingAPI.On("ExchangeCSR", mock.Anything, mock.Anything, mock.Anything).Return(interfaces.PairingResponse{}, errors.New("connection refused")).Once()
	pairingAPI.On("ExchangeCSR", mock.Anything, mock.Anything, mock.Anything).Return(pairingResp(201, goodCredentialsBody), nil).Once()
	pairingAPI.On("FetchInfo", mock.Anything, mock.Anything).Return(pairingResp(200, goodInfoBody), nil)

	s, err := NewSession(testConfig(store, handle, pairingAPI))
	require.NoError(t, err)
	runSession(t, s)

	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("session never became ready")
	}

	pairingAPI.AssertNumberOfCalls(t, "ExchangeCSR", 2)
}

func TestInfoWithoutBrokerURLRetries(t *testing.T) {
	store, handle := credstore.NewMemoryStore(discardLogger())

	pairingAPI := &pairing.MockPairingAPI{}
	pairingAPI.On("ExchangeCSR", mock.Anything, mock.Anything, mock.Anything).Return(pairingResp(201, goodCredentialsBody), nil)
	// A 200 without the endpoint field is not success.
	pairingAPI.On("FetchInfo", mock.Anything, mock.Anything).Return(pairingResp(200, `{"data":{"protocols":{}}}`), nil).Once()
	pairingAPI.On("FetchInfo", mock.Anything, mock.Anything).Return(pairingResp(200, goodInfoBody), nil).Once()

	s, err := NewSession(testConfig(store, handle, pairingAPI))
	require.NoError(t, err)
	runSession(t, s)

	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("session never became ready")
	}

	pairingAPI.AssertNumberOfCalls(t, "FetchInfo", 2)
	brokerURL, ok := s.BrokerURL()
	assert.True(t, ok)
	assert.Equal(t, "mqtts://broker.example.com:8883", brokerURL)
}

func TestHappyPathVisitsStatesInOrder(t *testing.T) {
	store, handle := credstore.NewMemoryStore(discardLogger())

	pairingAPI := &pairing.MockPairingAPI{}
	pairingAPI.On("ExchangeCSR", mock.Anything, mock.Anything, mock.Anything).Return(pairingResp(201, goodCredentialsBody), nil).Once()
	pairingAPI.On("FetchInfo", mock.Anything, mock.Anything).Return(pairingResp(200, goodInfoBody), nil).Once()

	recorder := &transitionRecorder{}
	cfg := testConfig(store, handle, pairingAPI)
	cfg.OnTransition = recorder.record

	s, err := NewSession(cfg)
	require.NoError(t, err)
	runSession(t, s)

	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("session never became ready")
	}

	assert.Equal(t, [][2]State{
		{StateNoKeypair, StateNoCertificate},
		{StateNoCertificate, StateWaitingForInfo},
		{StateWaitingForInfo, StateDisconnected},
	}, recorder.snapshot())

	assert.Equal(t, StateDisconnected, s.State())
	brokerURL, ok := s.BrokerURL()
	assert.True(t, ok)
	assert.Equal(t, "mqtts://broker.example.com:8883", brokerURL)

	// All three materials ended up in the store.
	ctx := context.Background()
	for _, kind := range []interfaces.MaterialKind{interfaces.PrivateKeyMaterial, interfaces.CSRMaterial, interfaces.CertificateMaterial} {
		_, err := store.Fetch(ctx, kind, handle)
		assert.NoError(t, err, kind.String())
	}
}

func TestValidStoredCertificateSkipsToDisconnected(t *testing.T) {
	ctx := context.Background()
	store, handle := credstore.NewMemoryStore(discardLogger())

	// Pre-populate a complete, fresh credential set.
	keyPEM, csrPEM, err := cryptoutils.GenerateKeyMaterial("test/preloaded", cryptoutils.KeyOptions{Algorithm: cryptoutils.KeyECDSAP256})
	require.NoError(t, err)
	ca, err := cryptoutils.NewCA("test-ca")
	require.NoError(t, err)
	certPEM, err := ca.SignCSR(csrPEM, 30*24*time.Hour)
	require.NoError(t, err)

	handle, err = store.Save(ctx, interfaces.PrivateKeyMaterial, keyPEM, handle)
	require.NoError(t, err)
	handle, err = store.Save(ctx, interfaces.CSRMaterial, csrPEM, handle)
	require.NoError(t, err)
	handle, err = store.Save(ctx, interfaces.CertificateMaterial, certPEM, handle)
	require.NoError(t, err)

	pairingAPI := &pairing.MockPairingAPI{}

	s, err := NewSession(testConfig(store, handle, pairingAPI))
	require.NoError(t, err)
	runSession(t, s)

	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("session never became ready")
	}

	assert.Equal(t, StateDisconnected, s.State())
	pairingAPI.AssertNotCalled(t, "ExchangeCSR", mock.Anything, mock.Anything, mock.Anything)
	pairingAPI.AssertNotCalled(t, "FetchInfo", mock.Anything, mock.Anything)
}

func TestExpiringStoredCertificateStartsInNoCertificate(t *testing.T) {
	ctx := context.Background()
	store, handle := credstore.NewMemoryStore(discardLogger())

	keyPEM, csrPEM, err := cryptoutils.GenerateKeyMaterial("test/expiring", cryptoutils.KeyOptions{Algorithm: cryptoutils.KeyECDSAP256})
	require.NoError(t, err)
	ca, err := cryptoutils.NewCA("test-ca")
	require.NoError(t, err)
	// Within the freshness margin: treated as missing.
	certPEM, err := ca.SignCSR(csrPEM, 24*time.Hour)
	require.NoError(t, err)

	handle, err = store.Save(ctx, interfaces.PrivateKeyMaterial, keyPEM, handle)
	require.NoError(t, err)
	handle, err = store.Save(ctx, interfaces.CSRMaterial, csrPEM, handle)
	require.NoError(t, err)
	handle, err = store.Save(ctx, interfaces.CertificateMaterial, certPEM, handle)
	require.NoError(t, err)

	pairingAPI := &pairing.MockPairingAPI{}
	pairingAPI.On("ExchangeCSR", mock.Anything, mock.Anything, mock.Anything).Return(pairingResp(201, goodCredentialsBody), nil).Once()
	pairingAPI.On("FetchInfo", mock.Anything, mock.Anything).Return(pairingResp(200, goodInfoBody), nil).Once()

	recorder := &transitionRecorder{}
	cfg := testConfig(store, handle, pairingAPI)
	cfg.OnTransition = recorder.record

	s, err := NewSession(cfg)
	require.NoError(t, err)
	runSession(t, s)

	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("session never became ready")
	}

	// Started in NoCertificate: no keypair regeneration happened.
	pairs := recorder.snapshot()
	require.NotEmpty(t, pairs)
	assert.Equal(t, [2]State{StateNoCertificate, StateWaitingForInfo}, pairs[0])
}

func TestEndToEndAgainstDevPairingServer(t *testing.T) {
	logger := discardLogger()
	handler, err := pairing.NewHandler(pairing.HandlerConfig{
		Realm:     "test",
		Secret:    "e2e-secret",
		BrokerURL: "mqtts://broker.example.com:8883",
		Log:       logger,
	})
	require.NoError(t, err)

	mux := chi.NewRouter()
	handler.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	store, handle := credstore.NewMemoryStore(logger)
	device := interfaces.NewRandomDeviceID()

	client := &pairing.Client{BaseURL: srv.URL, Realm: "test", Secret: "e2e-secret"}

	cfg := testConfig(store, handle, client)
	cfg.DeviceID = device.String()
	cfg.PairingURL = srv.URL

	s, err := NewSession(cfg)
	require.NoError(t, err)
	runSession(t, s)

	select {
	case <-s.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("session never became ready")
	}

	brokerURL, ok := s.BrokerURL()
	assert.True(t, ok)
	assert.Equal(t, "mqtts://broker.example.com:8883", brokerURL)
	assert.Equal(t, 1, handler.IssuedCount(device))

	// The issued certificate is durable and passes the freshness check.
	certPEM, err := store.Fetch(context.Background(), interfaces.CertificateMaterial, handle)
	require.NoError(t, err)
	assert.True(t, cryptoutils.CertificateUsable(certPEM, time.Now()))
}
