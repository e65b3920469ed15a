package provisioning

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/attelo-iot/device-pairing-agent/api"
	"github.com/attelo-iot/device-pairing-agent/cryptoutils"
	"github.com/attelo-iot/device-pairing-agent/interfaces"
)

// State is a provisioning lifecycle state.
type State int32

const (
	// StateNoKeypair means no private key and CSR exist yet.
	StateNoKeypair State = iota

	// StateNoCertificate means a keypair exists but no usable certificate.
	StateNoCertificate

	// StateWaitingForInfo means credentials are complete and connection
	// info is being fetched.
	StateWaitingForInfo

	// StateDisconnected is the terminal ready state of this engine: the
	// credential set is complete and the caller may connect.
	StateDisconnected
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateNoKeypair:
		return "no_keypair"
	case StateNoCertificate:
		return "no_certificate"
	case StateWaitingForInfo:
		return "waiting_for_info"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// event triggers a step re-run. Retry timers tag events with the state they
// were scheduled in; an event arriving after the machine has advanced is
// stale and ignored.
type event struct {
	state State
}

// Run executes the session until the context is cancelled. It selects the
// initial state from the stored credentials, then advances through the
// lifecycle, retrying failed steps per the retry policy. The session never
// gives up on transient failures; the only fatal condition after
// construction is a failing keypair-presence check at startup.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)

	initial, err := s.initialState(ctx)
	if err != nil {
		s.log.Error("Session startup failed", "err", err)
		return err
	}

	s.state.Store(int32(initial))
	s.log.Info("Session starting", "state", initial.String())

	if initial == StateDisconnected {
		s.markReady()
	} else {
		s.enter(ctx, initial)
	}

	for {
		select {
		case <-ctx.Done():
			s.stopTimer()
			return ctx.Err()
		case ev := <-s.events:
			if ev.state != s.State() {
				s.log.Debug("Ignoring stale retry timer",
					"scheduledIn", ev.state.String(),
					"current", s.State().String())
				continue
			}
			s.log.Info("Retrying provisioning step", "state", ev.state.String())
			s.enter(ctx, ev.state)
		}
	}
}

// initialState evaluates the stored credentials once at startup. A failing
// keypair-presence check is the one unrecoverable condition; everything else
// degrades to an earlier state.
func (s *Session) initialState(ctx context.Context) (State, error) {
	opctx, cancel := s.opCtx(ctx)
	defer cancel()

	hasKeypair, err := s.store.HasKeypair(opctx, s.handle)
	if err != nil {
		return 0, fmt.Errorf("keypair presence check failed: %w", err)
	}
	if !hasKeypair {
		return StateNoKeypair, nil
	}

	certPEM, err := s.store.Fetch(opctx, interfaces.CertificateMaterial, s.handle)
	if err != nil {
		if !errors.Is(err, interfaces.ErrMaterialNotFound) {
			s.log.Warn("Could not fetch stored certificate, treating as missing", "err", err)
		}
		return StateNoCertificate, nil
	}

	// An expired or soon-to-expire certificate is indistinguishable from a
	// missing one.
	if !cryptoutils.CertificateUsable(certPEM, time.Now()) {
		s.log.Info("Stored certificate expired or within freshness margin, requesting a new one")
		return StateNoCertificate, nil
	}

	return StateDisconnected, nil
}

// enter runs the action of a state. Success transitions forward; failure
// schedules a single retry of the same state.
func (s *Session) enter(ctx context.Context, state State) {
	switch state {
	case StateNoKeypair:
		s.enterNoKeypair(ctx)
	case StateNoCertificate:
		s.enterNoCertificate(ctx)
	case StateWaitingForInfo:
		s.enterWaitingForInfo(ctx)
	case StateDisconnected:
		// Reserved for the transport layer.
	}
}

// enterNoKeypair generates fresh key material and saves private key then CSR
// sequentially; the CSR save only runs once the key save is durable. A
// failure anywhere schedules a full regeneration, never a reuse of a
// half-saved key.
func (s *Session) enterNoKeypair(ctx context.Context) {
	keyPEM, csrPEM, err := cryptoutils.GenerateKeyMaterial(string(s.clientID), s.cfg.KeyOptions)
	if err != nil {
		s.log.Error("Key material generation failed", "err", err)
		s.scheduleRetry(StateNoKeypair)
		return
	}

	opctx, cancel := s.opCtx(ctx)
	defer cancel()

	handle, err := s.store.Save(opctx, interfaces.PrivateKeyMaterial, keyPEM, s.handle)
	if err != nil {
		s.log.Error("Failed to save private key", "err", err)
		s.scheduleRetry(StateNoKeypair)
		return
	}
	s.handle = handle

	handle, err = s.store.Save(opctx, interfaces.CSRMaterial, csrPEM, s.handle)
	if err != nil {
		s.log.Error("Failed to save CSR", "err", err)
		s.scheduleRetry(StateNoKeypair)
		return
	}
	s.handle = handle

	s.log.Info("Key material generated and saved")
	s.transition(ctx, StateNoCertificate)
}

// enterNoCertificate re-fetches the CSR from the store and exchanges it for a
// signed certificate. Transport errors, unexpected status codes, and store
// failures are logged with distinct causes but share one retry policy.
func (s *Session) enterNoCertificate(ctx context.Context) {
	opctx, cancel := s.opCtx(ctx)
	defer cancel()

	csrPEM, err := s.store.Fetch(opctx, interfaces.CSRMaterial, s.handle)
	if err != nil {
		s.log.Error("Failed to fetch CSR from store", "err", err)
		s.scheduleRetry(StateNoCertificate)
		return
	}

	resp, err := s.pairing.ExchangeCSR(opctx, s.device, csrPEM)
	if err != nil {
		s.log.Error("Credentials request failed", "err", err)
		s.scheduleRetry(StateNoCertificate)
		return
	}
	if resp.Status != http.StatusCreated {
		s.log.Error("Credentials endpoint returned unexpected status", "status", resp.Status)
		s.scheduleRetry(StateNoCertificate)
		return
	}

	certPEM, err := api.ClientCrtFromResponse(resp.Body)
	if err != nil {
		s.log.Error("Invalid credentials response", "err", err)
		s.scheduleRetry(StateNoCertificate)
		return
	}

	handle, err := s.store.Save(opctx, interfaces.CertificateMaterial, certPEM, s.handle)
	if err != nil {
		s.log.Error("Failed to save certificate", "err", err)
		s.scheduleRetry(StateNoCertificate)
		return
	}
	s.handle = handle

	s.log.Info("Client certificate obtained and saved")
	s.transition(ctx, StateWaitingForInfo)
}

// enterWaitingForInfo fetches connection info and extracts the broker
// endpoint for the configured protocol. A reply without the endpoint is
// treated identically to a transport error.
func (s *Session) enterWaitingForInfo(ctx context.Context) {
	opctx, cancel := s.opCtx(ctx)
	defer cancel()

	resp, err := s.pairing.FetchInfo(opctx, s.device)
	if err != nil {
		s.log.Error("Info request failed", "err", err)
		s.scheduleRetry(StateWaitingForInfo)
		return
	}
	if resp.Status != http.StatusOK {
		s.log.Error("Info endpoint returned unexpected status", "status", resp.Status)
		s.scheduleRetry(StateWaitingForInfo)
		return
	}

	brokerURL, err := api.BrokerURLFromResponse(resp.Body, s.cfg.Protocol)
	if err != nil {
		s.log.Error("Invalid info response", "err", err)
		s.scheduleRetry(StateWaitingForInfo)
		return
	}

	s.brokerURL.Store(brokerURL)
	s.transition(ctx, StateDisconnected)
}

// transition advances the machine. Any pending retry timer belongs to the
// state being left and is cancelled; the new state's action runs immediately
// on the same goroutine.
func (s *Session) transition(ctx context.Context, to State) {
	from := s.State()
	s.stopTimer()
	s.state.Store(int32(to))
	s.log.Info("State transition", "from", from.String(), "to", to.String())

	if s.cfg.OnTransition != nil {
		s.cfg.OnTransition(from, to)
	}

	if to == StateDisconnected {
		s.markReady()
		return
	}
	s.enter(ctx, to)
}

// scheduleRetry arms a single-shot timer that re-runs the given state's
// action. The timer event carries the state so it becomes a no-op if the
// machine has advanced by the time it fires.
func (s *Session) scheduleRetry(state State) {
	delay := s.retry.NextDelay(state)
	s.log.Info("Scheduling retry", "state", state.String(), "delay", delay)

	s.timer = time.AfterFunc(delay, func() {
		select {
		case s.events <- event{state: state}:
		case <-s.done:
		}
	})
}

// stopTimer cancels a pending retry timer, if any. Only called from the
// session goroutine.
func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// markReady signals the caller that the credential set is complete and a
// transport connection may be opened.
func (s *Session) markReady() {
	select {
	case <-s.ready:
		return
	default:
	}
	close(s.ready)

	brokerURL, _ := s.BrokerURL()
	s.log.Info("Ready to connect", "brokerURL", brokerURL)
}
